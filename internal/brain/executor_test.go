// v0
// internal/brain/executor_test.go
package brain

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func TestExecuteTargetsLocationMembers(t *testing.T) {
	reg := house()
	caller := &recordingCaller{}
	e := NewExecutor(caller, chainResolver(reg), nil, discardLogger())

	err := e.Execute(context.Background(), ValidatedAction{Decision: Decision{
		Location: "entryway", Capability: "light.turn_on", Parameters: map[string]any{},
	}})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	calls := caller.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected one call, got %d", len(calls))
	}
	c := calls[0]
	if c.Domain != "light" || c.Service != "turn_on" {
		t.Fatalf("unexpected call %+v", c)
	}
	if !reflect.DeepEqual(c.Target, []string{"light.entryway_ceiling"}) {
		t.Fatalf("targets: %v", c.Target)
	}
	if c.Data != nil {
		t.Fatalf("expected no data, got %v", c.Data)
	}
}

func TestExecuteExplicitTargetOverridesMembers(t *testing.T) {
	caller := &recordingCaller{}
	e := NewExecutor(caller, chainResolver(house()), nil, discardLogger())
	params := map[string]any{"entity_id": []any{"light.porch", "light.hall"}, "brightness": float64(120)}

	if err := e.Execute(context.Background(), ValidatedAction{Decision: Decision{
		Location: "entryway", Capability: "light.turn_on", Parameters: params,
	}}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	c := caller.Calls()[0]
	if !reflect.DeepEqual(c.Target, []string{"light.porch", "light.hall"}) {
		t.Fatalf("targets: %v", c.Target)
	}
	if _, ok := c.Data["entity_id"]; ok {
		t.Fatalf("entity_id must be removed from data: %v", c.Data)
	}
	if c.Data["brightness"] != float64(120) {
		t.Fatalf("data: %v", c.Data)
	}
	if _, ok := params["entity_id"]; !ok {
		t.Fatalf("caller's parameters must not be mutated")
	}
}

func TestExecuteWithoutTarget(t *testing.T) {
	caller := &recordingCaller{}
	e := NewExecutor(caller, chainResolver(house()), nil, discardLogger())
	if err := e.Execute(context.Background(), ValidatedAction{Decision: Decision{
		Location: "entryway", Capability: "script.goodnight",
	}}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if c := caller.Calls()[0]; len(c.Target) != 0 || c.Name() != "script.goodnight" {
		t.Fatalf("unexpected call %+v", c)
	}
}

func TestExecuteRejectsBadEntityID(t *testing.T) {
	caller := &recordingCaller{}
	e := NewExecutor(caller, nil, nil, discardLogger())
	err := e.Execute(context.Background(), ValidatedAction{Decision: Decision{
		Location: "entryway", Capability: "light.turn_on", Parameters: map[string]any{"entity_id": 42.0},
	}})
	if err == nil {
		t.Fatalf("expected error for numeric entity_id")
	}
	if len(caller.Calls()) != 0 {
		t.Fatalf("no call must be made")
	}
}

func TestExecutePropagatesPlatformError(t *testing.T) {
	caller := &recordingCaller{err: errors.New("service not found")}
	e := NewExecutor(caller, chainResolver(house()), nil, discardLogger())
	err := e.Execute(context.Background(), ValidatedAction{Decision: Decision{Location: "entryway", Capability: "light.turn_on"}})
	if err == nil || !errors.Is(err, caller.err) {
		t.Fatalf("expected wrapped platform error, got %v", err)
	}
}

func TestExecuteCustomAction(t *testing.T) {
	caller := &recordingCaller{}
	e := NewExecutor(caller, nil, nil, discardLogger())
	if err := e.Execute(context.Background(), ValidatedAction{Decision: Decision{Location: "attic", Capability: "notify_owner"}}); err != nil {
		t.Fatalf("custom action without hook must only log, got %v", err)
	}
	if len(caller.Calls()) != 0 {
		t.Fatalf("custom actions never reach the service caller")
	}

	var seen string
	e = NewExecutor(caller, nil, func(_ context.Context, a ValidatedAction) error {
		seen = a.Decision.Capability
		return nil
	}, discardLogger())
	if err := e.Execute(context.Background(), ValidatedAction{Decision: Decision{Location: "attic", Capability: "notify_owner"}}); err != nil {
		t.Fatalf("hook: %v", err)
	}
	if seen != "notify_owner" {
		t.Fatalf("hook not invoked, seen=%q", seen)
	}
}
