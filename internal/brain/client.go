// v0
// internal/brain/client.go
package brain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Dialect selects the request shape sent to the reasoning endpoint.
type Dialect string

const (
	// DialectStructured posts {system_prompt, sensor_data, instructions}.
	DialectStructured Dialect = "structured"
	// DialectOllama posts an Ollama /api/generate request with format=json.
	DialectOllama Dialect = "ollama"
)

// ParseDialect maps a configured name to a Dialect; "" means structured.
func ParseDialect(s string) (Dialect, error) {
	switch Dialect(s) {
	case "", DialectStructured:
		return DialectStructured, nil
	case DialectOllama:
		return DialectOllama, nil
	default:
		return "", fmt.Errorf("unknown dialect %q", s)
	}
}

const (
	DefaultDecisionTimeout = 30 * time.Second
	maxResponseBytes       = 1 << 20

	systemPrompt = "You are the house brain. Analyze the sensor data from different zones and decide if any actions should be taken."
	instructions = "For each zone, decide if an action should be taken based on the sensor data. " +
		"Only choose an action listed in that zone's available_actions. " +
		"If an action is needed, respond with a JSON object of the form " +
		`{"zone": "<zone>", "action": "<action>", "parameters": {}}. ` +
		"If no action is needed, respond with an empty JSON object {}."
)

// Doer sends HTTP requests. *http.Client and *breaker.HTTPClient satisfy it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientConfig describes one reasoning endpoint.
type ClientConfig struct {
	URL     string
	Dialect Dialect
	Model   string
	Timeout time.Duration
}

// DecisionClient asks the reasoning endpoint for one decision per snapshot.
type DecisionClient struct {
	cfg  ClientConfig
	http Doer
	lg   *slog.Logger
}

func NewDecisionClient(cfg ClientConfig, doer Doer, lg *slog.Logger) *DecisionClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultDecisionTimeout
	}
	if cfg.Dialect == "" {
		cfg.Dialect = DialectStructured
	}
	if doer == nil {
		doer = &http.Client{}
	}
	if lg == nil {
		lg = slog.Default()
	}
	return &DecisionClient{cfg: cfg, http: doer, lg: lg.With("component", "decision_client", "dialect", string(cfg.Dialect))}
}

type structuredRequest struct {
	SystemPrompt string   `json:"system_prompt"`
	SensorData   Snapshot `json:"sensor_data"`
	Instructions string   `json:"instructions"`
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
	Format string `json:"format"`
}

// Decide never returns an error: every failure is an OutcomeFailure with a
// logged reason. There are no retries.
func (c *DecisionClient) Decide(ctx context.Context, snap Snapshot) Outcome {
	out := c.decide(ctx, snap)
	switch out.Kind {
	case OutcomeFailure:
		c.lg.Warn("decision_failed", "reason", out.Reason)
	case OutcomeNone:
		c.lg.Info("decision_none", "reason", out.Reason)
	default:
		c.lg.Info("decision_received", "zone", out.Decision.Location, "action", out.Decision.Capability)
	}
	return out
}

func (c *DecisionClient) decide(ctx context.Context, snap Snapshot) Outcome {
	if c.cfg.URL == "" {
		return failure("endpoint url not configured")
	}
	payload, err := c.encode(snap)
	if err != nil {
		return failure("encode request: %v", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return failure("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return failure("timeout after %s", c.cfg.Timeout)
		}
		return failure("transport: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return failure("timeout after %s", c.cfg.Timeout)
		}
		return failure("read body: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		return failure("unexpected status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}
	c.lg.Debug("decision_response", "status", resp.StatusCode, "bytes", len(body), "elapsed_ms", time.Since(start).Milliseconds())
	return ParseDecision(body)
}

func (c *DecisionClient) encode(snap Snapshot) ([]byte, error) {
	switch c.cfg.Dialect {
	case DialectOllama:
		data, err := json.Marshal(snap)
		if err != nil {
			return nil, err
		}
		prompt := systemPrompt + "\n\nSensor data:\n" + string(data) + "\n\n" + instructions
		return json.Marshal(ollamaRequest{Model: c.cfg.Model, Prompt: prompt, Stream: false, Format: "json"})
	default:
		return json.Marshal(structuredRequest{SystemPrompt: systemPrompt, SensorData: snap, Instructions: instructions})
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
