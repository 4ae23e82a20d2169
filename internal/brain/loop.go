// v0
// internal/brain/loop.go
package brain

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"nrgchamp/housebrain/internal/platform"
)

// DefaultPollInterval is used when an instance does not configure one.
const DefaultPollInterval = 60 * time.Second

// LoopState is the stage a cycle is currently in.
type LoopState int32

const (
	StateIdle LoopState = iota
	StateCollecting
	StateDeciding
	StateValidating
	StateExecuting
)

func (s LoopState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCollecting:
		return "collecting"
	case StateDeciding:
		return "deciding"
	case StateValidating:
		return "validating"
	case StateExecuting:
		return "executing"
	default:
		return "unknown"
	}
}

// Result labels how a cycle ended.
type Result string

const (
	ResultEmpty      Result = "empty_snapshot"
	ResultNone       Result = "no_decision"
	ResultFailure    Result = "failure"
	ResultRejected   Result = "rejected"
	ResultExecuted   Result = "executed"
	ResultExecFailed Result = "execution_failed"
	ResultAbandoned  Result = "abandoned"
	ResultPanic      Result = "panic"
	ResultClosed     Result = "closed"
	// ResultDetached is returned to a caller that stopped waiting; the cycle
	// itself keeps running and is reported to observers as usual.
	ResultDetached Result = "detached"
)

// CycleReport summarises one cycle.
type CycleReport struct {
	ID           string        `json:"id"`
	InstanceID   string        `json:"instanceId"`
	StartedAt    time.Time     `json:"startedAt"`
	Duration     time.Duration `json:"durationNs"`
	Observations int           `json:"observations"`
	// DecideDuration is the reasoning round trip; zero when no request was made.
	DecideDuration time.Duration `json:"decideNs,omitempty"`
	Outcome        OutcomeKind   `json:"outcome"`
	Decision       Decision      `json:"decision"`
	Result         Result        `json:"result"`
	Reason         string        `json:"reason,omitempty"`
	Coalesced      bool          `json:"coalesced,omitempty"`
}

// Decider produces a decision for a snapshot. *DecisionClient implements it.
type Decider interface {
	Decide(ctx context.Context, snap Snapshot) Outcome
}

// Actuator executes validated actions. *Executor implements it.
type Actuator interface {
	Execute(ctx context.Context, a ValidatedAction) error
}

// LoopDeps are the collaborators of a Loop.
type LoopDeps struct {
	Builder   *SnapshotBuilder
	Decider   Decider
	Validator *Validator
	Actuator  Actuator
	Mappings  *MappingStore
	// Refresher, when set, runs before each snapshot.
	Refresher platform.Refresher
	// OnCycle receives every completed report, once per executed cycle.
	OnCycle func(CycleReport)
}

// LoopStats is a point-in-time view for status endpoints.
type LoopStats struct {
	InstanceID     string       `json:"instanceId"`
	State          string       `json:"state"`
	Cycles         int64        `json:"cycles"`
	Executed       int64        `json:"executed"`
	Rejected       int64        `json:"rejected"`
	MappingVersion uint64       `json:"mappingVersion"`
	LastCycle      *CycleReport `json:"lastCycle,omitempty"`
}

// Loop runs decision cycles for one instance. Concurrent triggers share the
// in-flight cycle.
type Loop struct {
	id       string
	interval time.Duration
	deps     LoopDeps
	lg       *slog.Logger

	state  atomic.Int32
	flight singleflight.Group
	now    func() time.Time

	// cycleCtx bounds every cycle; only Close cancels it.
	cycleCtx  context.Context
	stopCycle context.CancelFunc

	mu       sync.Mutex
	cancel   context.CancelFunc
	closed   bool
	ticker   sync.WaitGroup
	inflight sync.WaitGroup

	statsMu  sync.Mutex
	cycles   int64
	executed int64
	rejected int64
	last     *CycleReport
}

func NewLoop(instanceID string, interval time.Duration, deps LoopDeps, lg *slog.Logger) *Loop {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if lg == nil {
		lg = slog.Default()
	}
	cycleCtx, stopCycle := context.WithCancel(context.Background())
	return &Loop{
		id:        instanceID,
		interval:  interval,
		deps:      deps,
		lg:        lg.With("component", "loop", "instance", instanceID),
		now:       time.Now,
		cycleCtx:  cycleCtx,
		stopCycle: stopCycle,
	}
}

func (l *Loop) ID() string { return l.id }

func (l *Loop) Interval() time.Duration { return l.interval }

func (l *Loop) State() LoopState { return LoopState(l.state.Load()) }

// Mappings returns the current mapping value.
func (l *Loop) Mappings() Mappings { return l.deps.Mappings.Current() }

// UpdateLocationMapping assigns a sensor to a location and persists.
func (l *Loop) UpdateLocationMapping(ctx context.Context, sensor, tag string) (Mappings, error) {
	m, err := l.deps.Mappings.UpdateLocation(ctx, sensor, tag)
	if err != nil {
		return Mappings{}, err
	}
	l.lg.Info("location_mapping_updated", "sensor", sensor, "zone", tag, "version", m.Version)
	return m, nil
}

// UpdateCapabilityMapping replaces the capabilities of a location and persists.
func (l *Loop) UpdateCapabilityMapping(ctx context.Context, tag string, capabilities []string) (Mappings, error) {
	m, err := l.deps.Mappings.UpdateCapabilities(ctx, tag, capabilities)
	if err != nil {
		return Mappings{}, err
	}
	l.lg.Info("capability_mapping_updated", "zone", tag, "actions", m.Capabilities[tag], "version", m.Version)
	return m, nil
}

// Start runs one cycle immediately and then one per interval until ctx is
// cancelled or Close is called. Calling Start twice is a no-op.
func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	if l.closed || l.cancel != nil {
		l.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.ticker.Add(1)
	l.mu.Unlock()

	l.lg.Info("loop_start", "interval", l.interval.String())
	go func() {
		defer l.ticker.Done()
		l.Update(runCtx)
		t := time.NewTicker(l.interval)
		defer t.Stop()
		for {
			select {
			case <-runCtx.Done():
				l.lg.Info("loop_stop")
				return
			case <-t.C:
				l.Update(runCtx)
			}
		}
	}()
}

// Close stops the ticker and waits for any in-flight cycle.
func (l *Loop) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	cancel := l.cancel
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	l.stopCycle()
	l.ticker.Wait()
	l.inflight.Wait()
}

// Update runs one cycle, or joins the one already in flight. The cycle runs
// on the loop's own context: ctx only bounds how long the caller waits, and a
// caller that stops waiting gets a detached report while the cycle goes on.
func (l *Loop) Update(ctx context.Context) CycleReport {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return l.closedReport()
	}

	ch := l.flight.DoChan("cycle", func() (any, error) {
		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			return l.closedReport(), nil
		}
		l.inflight.Add(1)
		l.mu.Unlock()
		defer l.inflight.Done()

		rep := l.runCycle(l.cycleCtx)
		l.record(rep)
		return rep, nil
	})
	select {
	case res := <-ch:
		rep := res.Val.(CycleReport)
		rep.Coalesced = res.Shared
		return rep
	case <-ctx.Done():
		return CycleReport{InstanceID: l.id, Result: ResultDetached, Reason: "stopped waiting: " + ctx.Err().Error()}
	}
}

func (l *Loop) closedReport() CycleReport {
	return CycleReport{InstanceID: l.id, Result: ResultClosed, Reason: "loop closed"}
}

func (l *Loop) runCycle(ctx context.Context) (rep CycleReport) {
	rep = CycleReport{ID: uuid.NewString(), InstanceID: l.id, StartedAt: l.now()}
	lg := l.lg.With("cycle", rep.ID)
	defer func() {
		if r := recover(); r != nil {
			rep.Result = ResultPanic
			rep.Reason = fmt.Sprint(r)
			lg.Error("cycle_panic", "panic", rep.Reason, "stack", string(debug.Stack()))
		}
		l.setState(StateIdle)
		rep.Duration = l.now().Sub(rep.StartedAt)
		lg.Info("cycle_end", "result", string(rep.Result), "duration_ms", rep.Duration.Milliseconds())
	}()
	lg.Debug("cycle_start")

	l.setState(StateCollecting)
	if l.deps.Refresher != nil {
		if err := l.deps.Refresher.Refresh(ctx); err != nil {
			lg.Warn("platform_refresh_failed", "error", err)
		}
	}
	snap := l.deps.Builder.Build(ctx, l.deps.Mappings.Current())
	rep.Observations = snap.Len()
	if snap.Empty() {
		rep.Result = ResultEmpty
		rep.Reason = "no sensor produced an observation"
		lg.Info("snapshot_empty")
		return rep
	}

	l.setState(StateDeciding)
	decideStart := l.now()
	out := l.deps.Decider.Decide(ctx, snap)
	rep.DecideDuration = l.now().Sub(decideStart)
	rep.Outcome = out.Kind
	rep.Reason = out.Reason
	switch out.Kind {
	case OutcomeNone:
		rep.Result = ResultNone
		return rep
	case OutcomeFailure:
		rep.Result = ResultFailure
		return rep
	}
	rep.Decision = out.Decision

	l.setState(StateValidating)
	action, err := l.deps.Validator.Validate(ctx, out.Decision, l.deps.Mappings.Current())
	if err != nil {
		rep.Result = ResultRejected
		rep.Reason = err.Error()
		lg.Warn("decision_rejected", "zone", out.Decision.Location, "action", out.Decision.Capability, "error", err)
		return rep
	}

	if err := ctx.Err(); err != nil {
		rep.Result = ResultAbandoned
		rep.Reason = err.Error()
		lg.Warn("cycle_abandoned", "error", err)
		return rep
	}

	l.setState(StateExecuting)
	if err := l.deps.Actuator.Execute(ctx, action); err != nil {
		rep.Result = ResultExecFailed
		rep.Reason = err.Error()
		lg.Error("execution_failed", "action", out.Decision.Capability, "error", err)
		return rep
	}
	rep.Result = ResultExecuted
	rep.Reason = ""
	lg.Info("action_executed", "zone", out.Decision.Location, "action", out.Decision.Capability)
	return rep
}

func (l *Loop) setState(s LoopState) { l.state.Store(int32(s)) }

func (l *Loop) record(rep CycleReport) {
	l.statsMu.Lock()
	l.cycles++
	switch rep.Result {
	case ResultExecuted:
		l.executed++
	case ResultRejected:
		l.rejected++
	}
	cp := rep
	l.last = &cp
	l.statsMu.Unlock()

	if l.deps.OnCycle == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			l.lg.Error("cycle_observer_panic", "panic", fmt.Sprint(r))
		}
	}()
	l.deps.OnCycle(rep)
}

// Stats returns counters and the last report.
func (l *Loop) Stats() LoopStats {
	l.statsMu.Lock()
	defer l.statsMu.Unlock()
	st := LoopStats{
		InstanceID:     l.id,
		State:          l.State().String(),
		Cycles:         l.cycles,
		Executed:       l.executed,
		Rejected:       l.rejected,
		MappingVersion: l.deps.Mappings.Current().Version,
	}
	if l.last != nil {
		cp := *l.last
		st.LastCycle = &cp
	}
	return st
}
