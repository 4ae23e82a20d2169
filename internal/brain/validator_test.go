// v0
// internal/brain/validator_test.go
package brain

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func TestValidateIsIdempotent(t *testing.T) {
	reg := house()
	v := NewValidator(chainResolver(reg), discardLogger())
	m := entrywayMappings()
	d := Decision{Location: "entryway", Capability: "light.turn_on", Parameters: map[string]any{}}

	a1, err1 := v.Validate(context.Background(), d, m)
	a2, err2 := v.Validate(context.Background(), d, m)
	if err1 != nil || err2 != nil {
		t.Fatalf("unexpected errors %v / %v", err1, err2)
	}
	if !reflect.DeepEqual(a1, a2) {
		t.Fatalf("validation not idempotent: %+v vs %+v", a1, a2)
	}

	bad := Decision{Location: "entryway", Capability: "light.turn_off"}
	_, e1 := v.Validate(context.Background(), bad, m)
	_, e2 := v.Validate(context.Background(), bad, m)
	if e1 == nil || e2 == nil || e1.Error() != e2.Error() {
		t.Fatalf("rejections differ: %v / %v", e1, e2)
	}
}

func TestValidateUsesStateAtDecisionTime(t *testing.T) {
	reg := house()
	store := NewMappingStore(entrywayMappings(), nil)
	v := NewValidator(chainResolver(reg), discardLogger())
	b := NewSnapshotBuilder(reg, chainResolver(reg), discardLogger())

	snap := b.Build(context.Background(), store.Current())
	if !reflect.DeepEqual(snap.At(0).Capabilities, []string{"light.turn_on"}) {
		t.Fatalf("snapshot capabilities: %v", snap.At(0).Capabilities)
	}

	// The mapping changes after the snapshot was taken.
	if _, err := store.UpdateCapabilities(context.Background(), "entryway", []string{"light.turn_off"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	_, err := v.Validate(context.Background(), Decision{Location: "entryway", Capability: "light.turn_on"}, store.Current())
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected rejection after mapping change, got %v", err)
	}
	if _, err := v.Validate(context.Background(), Decision{Location: "entryway", Capability: "light.turn_off"}, store.Current()); err != nil {
		t.Fatalf("new capability must validate, got %v", err)
	}

	// The platform loses the light after the snapshot was taken.
	reg.Remove("light.entryway_ceiling")
	reg.SetArea("entryway", "binary_sensor.front_door")
	_, err = v.Validate(context.Background(), Decision{Location: "entryway", Capability: "light.turn_off"}, store.Current())
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected rejection after entity removal, got %v", err)
	}
}

func TestValidateRejectionDetails(t *testing.T) {
	v := NewValidator(chainResolver(house()), discardLogger())
	_, err := v.Validate(context.Background(), Decision{Location: "entryway", Capability: "cover.open_cover"}, entrywayMappings())
	var rej *RejectionError
	if !errors.As(err, &rej) {
		t.Fatalf("expected *RejectionError, got %T", err)
	}
	if rej.Capability != "cover.open_cover" || !reflect.DeepEqual(rej.Valid, []string{"light.turn_on"}) {
		t.Fatalf("unexpected rejection %+v", rej)
	}
}

func TestValidateRequiresLocationAndAction(t *testing.T) {
	v := NewValidator(chainResolver(house()), discardLogger())
	for _, d := range []Decision{{Capability: "announce"}, {Location: "entryway"}} {
		if _, err := v.Validate(context.Background(), d, entrywayMappings()); !errors.Is(err, ErrRejected) {
			t.Fatalf("%+v: expected rejection, got %v", d, err)
		}
	}
}

func TestValidateCustomActionAlwaysRealizable(t *testing.T) {
	m, _ := NewMappings(nil, nil, map[string][]string{"attic": {"notify_owner"}})
	v := NewValidator(chainResolver(house()), discardLogger())
	if _, err := v.Validate(context.Background(), Decision{Location: "attic", Capability: "notify_owner"}, m); err != nil {
		t.Fatalf("custom action must validate, got %v", err)
	}
}
