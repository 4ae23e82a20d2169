// v0
// internal/brain/executor.go
package brain

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"nrgchamp/housebrain/internal/platform"
)

const targetParam = "entity_id"

// CustomActionHook runs actions whose identifier has no domain.
type CustomActionHook func(ctx context.Context, action ValidatedAction) error

// Executor dispatches validated actions to the platform.
type Executor struct {
	caller   platform.ServiceCaller
	resolver *Resolver
	custom   CustomActionHook
	lg       *slog.Logger
}

func NewExecutor(caller platform.ServiceCaller, resolver *Resolver, custom CustomActionHook, lg *slog.Logger) *Executor {
	if lg == nil {
		lg = slog.Default()
	}
	return &Executor{caller: caller, resolver: resolver, custom: custom, lg: lg.With("component", "executor")}
}

// Execute builds the service call for a and dispatches it.
func (e *Executor) Execute(ctx context.Context, a ValidatedAction) error {
	d := a.Decision
	domain, service, ok := d.Domain()
	if !ok {
		if e.custom == nil {
			e.lg.Info("custom_action_intent", "zone", d.Location, "action", d.Capability, "parameters", d.Parameters)
			return nil
		}
		if err := e.custom(ctx, a); err != nil {
			return fmt.Errorf("custom action %s: %w", d.Capability, err)
		}
		return nil
	}
	call, err := e.BuildCall(ctx, domain, service, d)
	if err != nil {
		return err
	}
	if e.caller == nil {
		return fmt.Errorf("call %s: no service caller", call.Name())
	}
	e.lg.Info("service_call", "service", call.Name(), "targets", call.Target, "zone", d.Location)
	if err := e.caller.CallService(ctx, call); err != nil {
		return fmt.Errorf("call %s: %w", call.Name(), err)
	}
	return nil
}

// BuildCall resolves the target: an explicit entity_id parameter wins, then
// the location's members of the same domain, else no target.
func (e *Executor) BuildCall(ctx context.Context, domain, service string, d Decision) (platform.ServiceCall, error) {
	data := make(map[string]any, len(d.Parameters))
	for k, v := range d.Parameters {
		data[k] = v
	}
	call := platform.ServiceCall{Domain: domain, Service: service}
	if raw, ok := data[targetParam]; ok {
		delete(data, targetParam)
		targets, err := entityIDs(raw)
		if err != nil {
			return platform.ServiceCall{}, err
		}
		call.Target = targets
	}
	if len(call.Target) == 0 && e.resolver != nil {
		prefix := domain + "."
		for _, id := range e.resolver.Members(ctx, d.Location) {
			if strings.HasPrefix(id, prefix) {
				call.Target = append(call.Target, id)
			}
		}
	}
	if len(data) > 0 {
		call.Data = data
	}
	return call, nil
}

func entityIDs(raw any) ([]string, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case string:
		if v == "" {
			return nil, nil
		}
		return []string{v}, nil
	case []string:
		return append([]string(nil), v...), nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("entity_id entries must be strings, got %T", item)
			}
			if s != "" {
				out = append(out, s)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("entity_id must be a string or list, got %T", raw)
	}
}
