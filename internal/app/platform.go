// v0
// internal/app/platform.go
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"nrgchamp/housebrain/internal/breaker"
	"nrgchamp/housebrain/internal/config"
	"nrgchamp/housebrain/internal/metrics"
	"nrgchamp/housebrain/internal/platform"
)

// Platform bundles the host platform views shared by every instance.
type Platform struct {
	Mode   string
	States platform.StateReader
	Areas  platform.AreaDirectory
	Caller platform.ServiceCaller
	// Refresher is nil for push-fed platforms.
	Refresher platform.Refresher

	close func()
}

// Close releases platform connections.
func (p *Platform) Close() {
	if p != nil && p.close != nil {
		p.close()
	}
}

// RegistryPlatform serves everything from reg. Used by tests and by the
// MQTT mode once the bridge is connected.
func RegistryPlatform(reg *platform.Registry, caller platform.ServiceCaller) *Platform {
	return &Platform{Mode: "registry", States: reg, Areas: reg, Caller: caller}
}

// newBreaker returns nil when breakers are disabled.
func newBreaker(name string, cfg config.BreakerConfig, m *metrics.Metrics, lg *slog.Logger, probe func(ctx context.Context) error) *breaker.Breaker {
	if !cfg.Enabled {
		return nil
	}
	brk := breaker.New(name, breaker.Config{
		MaxFailures:      cfg.FailureThreshold,
		ResetTimeout:     cfg.OpenFor,
		SuccessesToClose: cfg.SuccessThreshold,
	}, lg, probe)
	brk.OnStateChange(m.SetCircuitBreakerState)
	m.SetCircuitBreakerState(name, breaker.Closed)
	return brk
}

// OpenPlatform connects the adapter selected by cfg.PlatformMode.
func OpenPlatform(ctx context.Context, cfg config.Config, m *metrics.Metrics, lg *slog.Logger) (*Platform, error) {
	switch cfg.PlatformMode {
	case config.PlatformHass:
		httpClient := &http.Client{Timeout: 15 * time.Second}
		brk := newBreaker("hass", cfg.Breaker, m, lg, breaker.ProbeURL(httpClient, cfg.HassURL+"/api/"))
		ha := platform.NewHomeAssistant(cfg.HassURL, cfg.HassToken, breaker.NewHTTPClient(httpClient, brk), lg)
		if err := ha.Refresh(ctx); err != nil {
			lg.Warn("hass_initial_refresh_failed", "url", cfg.HassURL, "error", err)
		}
		return &Platform{Mode: cfg.PlatformMode, States: ha, Areas: ha, Caller: ha, Refresher: ha}, nil
	case config.PlatformMQTT:
		bridge := platform.NewMQTTBridge(platform.MQTTConfig{
			Broker:        cfg.MQTTBroker,
			ClientID:      cfg.MQTTClientID,
			StateBase:     cfg.MQTTStateBase,
			CommandPrefix: cfg.MQTTCommandPrefix,
			QoS:           1,
		}, platform.NewRegistry(), lg)
		connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := bridge.Connect(connectCtx); err != nil {
			return nil, err
		}
		p := RegistryPlatform(bridge.Registry(), bridge)
		p.Mode = cfg.PlatformMode
		p.close = bridge.Close
		return p, nil
	default:
		return nil, fmt.Errorf("unknown platform mode %q", cfg.PlatformMode)
	}
}
