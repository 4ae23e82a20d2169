// v0
// internal/brain/resolver.go
package brain

import (
	"context"
	"log/slog"
	"slices"
	"sort"
	"strings"

	"nrgchamp/housebrain/internal/platform"
)

// DefaultSupportedDomains are the domains whose services can be validated
// against live entities.
var DefaultSupportedDomains = []string{
	"light", "switch", "climate", "cover", "media_player", "fan", "automation", "script", "binary_sensor",
}

// DefaultAlwaysValidDomains have no direct entity and are never dropped.
var DefaultAlwaysValidDomains = []string{"script", "automation"}

// LocationStrategy enumerates the entity ids associated with a location tag.
type LocationStrategy interface {
	Name() string
	Members(ctx context.Context, tag string) ([]string, error)
}

// RegistryStrategy uses the platform's own area membership.
type RegistryStrategy struct {
	Areas platform.AreaDirectory
}

func (RegistryStrategy) Name() string { return "registry" }

func (s RegistryStrategy) Members(ctx context.Context, tag string) ([]string, error) {
	if s.Areas == nil {
		return nil, nil
	}
	return s.Areas.AreaEntities(ctx, tag)
}

// NameMatchStrategy matches the location's human name against entity ids and
// friendly names.
type NameMatchStrategy struct {
	States  platform.StateReader
	Domains []string
}

func (NameMatchStrategy) Name() string { return "name_match" }

func (s NameMatchStrategy) Members(_ context.Context, tag string) ([]string, error) {
	if s.States == nil {
		return nil, nil
	}
	name := strings.ToLower(LocationName(tag))
	if name == "" {
		return nil, nil
	}
	compact := strings.ReplaceAll(name, "_", "")
	spaced := strings.ReplaceAll(name, "_", " ")
	domains := toSet(s.Domains)
	var out []string
	for _, st := range s.States.States() {
		if len(domains) > 0 {
			if _, ok := domains[st.Domain()]; !ok {
				continue
			}
		}
		id := strings.ToLower(st.EntityID)
		friendly := strings.ToLower(st.FriendlyName())
		if strings.Contains(strings.ReplaceAll(id, "_", ""), compact) ||
			(friendly != "" && strings.Contains(friendly, spaced)) {
			out = append(out, st.EntityID)
		}
	}
	return out, nil
}

// ChainStrategy asks Primary first and falls back when it errors or has no
// members for the tag.
type ChainStrategy struct {
	Primary  LocationStrategy
	Fallback LocationStrategy
	Logger   *slog.Logger
}

func (c ChainStrategy) Name() string {
	return c.Primary.Name() + "+" + c.Fallback.Name()
}

func (c ChainStrategy) Members(ctx context.Context, tag string) ([]string, error) {
	members, err := c.Primary.Members(ctx, tag)
	if err == nil && len(members) > 0 {
		return members, nil
	}
	if err != nil && c.Logger != nil {
		c.Logger.Debug("location_primary_failed", "strategy", c.Primary.Name(), "tag", tag, "error", err)
	}
	return c.Fallback.Members(ctx, tag)
}

// LocationName strips the zone./room. prefix from a tag.
func LocationName(tag string) string {
	for _, p := range []string{"zone.", "room."} {
		if strings.HasPrefix(tag, p) {
			return strings.TrimPrefix(tag, p)
		}
	}
	return tag
}

// Resolver derives the capabilities that are both configured and realizable
// for a location.
type Resolver struct {
	strategy    LocationStrategy
	supported   map[string]struct{}
	alwaysValid map[string]struct{}
	lg          *slog.Logger
}

// ResolverOption customises a Resolver.
type ResolverOption func(*Resolver)

// WithSupportedDomains replaces the supported-domain allow-list.
func WithSupportedDomains(domains ...string) ResolverOption {
	return func(r *Resolver) { r.supported = toSet(domains) }
}

// WithAlwaysValidDomains replaces the list of domains exempt from membership checks.
func WithAlwaysValidDomains(domains ...string) ResolverOption {
	return func(r *Resolver) { r.alwaysValid = toSet(domains) }
}

func NewResolver(strategy LocationStrategy, lg *slog.Logger, opts ...ResolverOption) *Resolver {
	if lg == nil {
		lg = slog.Default()
	}
	r := &Resolver{
		strategy:    strategy,
		supported:   toSet(DefaultSupportedDomains),
		alwaysValid: toSet(DefaultAlwaysValidDomains),
		lg:          lg.With("component", "resolver", "strategy", strategy.Name()),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Members returns the entities associated with tag. Lookup errors yield no members.
func (r *Resolver) Members(ctx context.Context, tag string) []string {
	if tag == "" {
		return nil
	}
	members, err := r.strategy.Members(ctx, tag)
	if err != nil {
		r.lg.Debug("location_members_failed", "tag", tag, "error", err)
		return nil
	}
	return members
}

// Resolve filters configured down to the identifiers realizable in tag,
// preserving order and dropping duplicates.
func (r *Resolver) Resolve(ctx context.Context, tag string, configured []string) []string {
	out := make([]string, 0, len(configured))
	seen := make(map[string]struct{}, len(configured))
	var domains map[string]struct{}
	loaded := false
	for _, id := range configured {
		if _, dup := seen[id]; dup || id == "" {
			continue
		}
		domain, _, dotted := splitCapability(id)
		if !dotted {
			if strings.Contains(id, ".") {
				r.lg.Debug("capability_dropped", "tag", tag, "action", id, "reason", "malformed identifier")
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
			continue
		}
		if _, ok := r.supported[domain]; !ok {
			r.lg.Debug("capability_dropped", "tag", tag, "action", id, "reason", "unsupported domain")
			continue
		}
		if _, ok := r.alwaysValid[domain]; ok {
			seen[id] = struct{}{}
			out = append(out, id)
			continue
		}
		if !loaded {
			domains = memberDomains(r.Members(ctx, tag))
			loaded = true
		}
		if _, ok := domains[domain]; !ok {
			r.lg.Debug("capability_dropped", "tag", tag, "action", id, "reason", "no entity in location")
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

var (
	categoryToggle  = []string{"light", "switch", "fan", "input_boolean"}
	toggleServices  = []string{"turn_on", "turn_off", "toggle"}
	coverServices   = []string{"open_cover", "close_cover", "set_cover_position"}
	climateServices = []string{"set_temperature", "set_hvac_mode"}
	mediaServices   = []string{"play_media", "media_play", "media_pause", "media_stop", "volume_set"}

	defaultSuggestions = []string{"light.turn_on", "light.turn_off", "switch.turn_on", "switch.turn_off"}
)

// Suggest proposes capability identifiers for the entities found in tag. When
// nothing matches, basic light and switch toggles are returned.
func (r *Resolver) Suggest(ctx context.Context, tag string) []string {
	domains := memberDomains(r.Members(ctx, tag))
	set := make(map[string]struct{})
	add := func(domain string, services []string) {
		for _, svc := range services {
			set[domain+"."+svc] = struct{}{}
		}
	}
	for domain := range domains {
		switch {
		case slices.Contains(categoryToggle, domain):
			add(domain, toggleServices)
		case domain == "cover":
			add(domain, coverServices)
		case domain == "climate":
			add(domain, climateServices)
		case domain == "media_player":
			add(domain, mediaServices)
		}
	}
	if len(set) == 0 {
		return append([]string(nil), defaultSuggestions...)
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func memberDomains(ids []string) map[string]struct{} {
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if d, _, ok := strings.Cut(id, "."); ok && d != "" {
			out[d] = struct{}{}
		}
	}
	return out
}

func toSet(values []string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		out[v] = struct{}{}
	}
	return out
}
