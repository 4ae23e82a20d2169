// v2
// internal/breaker/breaker.go
package breaker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

type State int

const (
	Closed State = iota
	HalfOpen
	Open
)

// ErrOpen is returned without calling the operation while the breaker is open.
var ErrOpen = errors.New("circuit breaker is open; fast-fail")

// Config holds the breaker tunables.
type Config struct {
	MaxFailures      int           // consecutive failures before opening
	ResetTimeout     time.Duration // how long to stay open before probing again
	SuccessesToClose int           // successes required in HalfOpen before closing
}

func (c Config) normalized() Config {
	if c.MaxFailures < 1 {
		c.MaxFailures = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.SuccessesToClose < 1 {
		c.SuccessesToClose = 1
	}
	return c
}

// Breaker is a consecutive-failure circuit breaker. The optional probe runs
// before the first operation after the reset timeout elapses.
type Breaker struct {
	name   string
	cfg    Config
	logger *slog.Logger
	probe  func(ctx context.Context) error
	now    func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	openedAt  time.Time
	onChange  func(name string, s State)
}

func New(name string, cfg Config, lg *slog.Logger, probe func(ctx context.Context) error) *Breaker {
	if lg == nil {
		lg = slog.Default()
	}
	cfg = cfg.normalized()
	b := &Breaker{
		name:   name,
		cfg:    cfg,
		logger: lg.With("component", "breaker", "name", name),
		probe:  probe,
		now:    time.Now,
		state:  Closed,
	}
	b.logger.Info("breaker_created", "maxFailures", cfg.MaxFailures, "resetTimeout", cfg.ResetTimeout.String(), "successesToClose", cfg.SuccessesToClose)
	return b
}

// OnStateChange registers fn to be called after every transition.
func (b *Breaker) OnStateChange(fn func(name string, s State)) {
	b.mu.Lock()
	b.onChange = fn
	b.mu.Unlock()
}

// Name returns the breaker's label.
func (b *Breaker) Name() string { return b.name }

// Execute runs op under breaker protection.
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	b.mu.Lock()
	if b.state == Open {
		if b.now().Sub(b.openedAt) < b.cfg.ResetTimeout {
			b.mu.Unlock()
			b.logger.Warn("breaker_fast_fail")
			return ErrOpen
		}
		b.transition(HalfOpen)
		b.successes = 0
		b.mu.Unlock()
		if b.probe != nil {
			if err := b.probe(ctx); err != nil {
				b.logger.Warn("breaker_probe_failed", "error", err)
				b.mu.Lock()
				b.trip()
				b.mu.Unlock()
				return ErrOpen
			}
			b.logger.Info("breaker_probe_ok")
		}
	} else {
		b.mu.Unlock()
	}

	err := op(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		b.onSuccess()
		return nil
	}
	// A caller giving up says nothing about the dependency's health.
	if errors.Is(err, context.Canceled) {
		return err
	}
	b.onFailure(err)
	return err
}

func (b *Breaker) onSuccess() {
	b.failures = 0
	if b.state != HalfOpen {
		return
	}
	b.successes++
	if b.successes >= b.cfg.SuccessesToClose {
		b.successes = 0
		b.transition(Closed)
	}
}

func (b *Breaker) onFailure(err error) {
	if b.state == HalfOpen {
		b.logger.Warn("breaker_halfopen_op_failed", "error", err)
		b.trip()
		return
	}
	b.failures++
	b.logger.Warn("operation_failure", "failures", b.failures, "error", err)
	if b.failures >= b.cfg.MaxFailures {
		b.trip()
	}
}

func (b *Breaker) trip() {
	b.openedAt = b.now()
	b.failures = 0
	b.successes = 0
	b.transition(Open)
}

// transition must be called with mu held.
func (b *Breaker) transition(to State) {
	if b.state == to {
		if to == Open {
			b.logger.Error("breaker_reopened")
		}
		return
	}
	from := b.state
	b.state = to
	b.logger.Info("breaker_state_change", "from", from.String(), "to", to.String())
	if b.onChange != nil {
		b.onChange(b.name, to)
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (s State) String() string {
	switch s {
	case Closed:
		return "Closed"
	case HalfOpen:
		return "HalfOpen"
	case Open:
		return "Open"
	default:
		return "Unknown"
	}
}
