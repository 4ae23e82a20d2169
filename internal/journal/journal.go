// v0
// internal/journal/journal.go
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"nrgchamp/housebrain/internal/brain"
	"nrgchamp/housebrain/internal/breaker"
)

// Event is the journal record of one decision cycle.
type Event struct {
	CycleID      string         `json:"cycleId"`
	InstanceID   string         `json:"instanceId"`
	Outcome      string         `json:"outcome"`
	Result       string         `json:"result"`
	Zone         string         `json:"zone,omitempty"`
	Action       string         `json:"action,omitempty"`
	Parameters   map[string]any `json:"parameters,omitempty"`
	Reason       string         `json:"reason,omitempty"`
	Observations int            `json:"observations"`
	StartedAt    time.Time      `json:"startedAt"`
	DurationMs   int64          `json:"durationMs"`
}

// FromReport converts a cycle report into an Event.
func FromReport(r brain.CycleReport) Event {
	return Event{
		CycleID:      r.ID,
		InstanceID:   r.InstanceID,
		Outcome:      r.Outcome.String(),
		Result:       string(r.Result),
		Zone:         r.Decision.Location,
		Action:       r.Decision.Capability,
		Parameters:   r.Decision.Parameters,
		Reason:       r.Reason,
		Observations: r.Observations,
		StartedAt:    r.StartedAt.UTC(),
		DurationMs:   r.Duration.Milliseconds(),
	}
}

// Journal records cycle reports.
type Journal interface {
	Record(r brain.CycleReport)
	Close(ctx context.Context) error
}

// Nop discards every report.
type Nop struct{}

func (Nop) Record(brain.CycleReport) {}

func (Nop) Close(context.Context) error { return nil }

// Config configures the Kafka journal.
type Config struct {
	Brokers      []string
	Topic        string
	Buffer       int
	WriteTimeout time.Duration
	Partitions   int
	Replication  int
}

// Kafka publishes events keyed by instance id from a single background writer.
// Record never blocks; events are dropped when the buffer is full.
type Kafka struct {
	cfg    Config
	writer breaker.MessageWriter
	closer func() error
	lg     *slog.Logger

	events chan Event
	done   chan struct{}
	once   sync.Once

	mu      sync.Mutex
	closed  bool
	dropped int64
	failed  int64
}

// NewKafka builds the writer for cfg.Topic and wraps it with brk.
func NewKafka(cfg Config, brk *breaker.Breaker, retry breaker.Retry, lg *slog.Logger) *Kafka {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
	return newKafka(cfg, breaker.NewKafkaWriter(w, brk, retry), w.Close, lg)
}

func newKafka(cfg Config, writer breaker.MessageWriter, closer func() error, lg *slog.Logger) *Kafka {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if lg == nil {
		lg = slog.Default()
	}
	j := &Kafka{
		cfg:    cfg,
		writer: writer,
		closer: closer,
		lg:     lg.With("component", "journal", "topic", cfg.Topic),
		events: make(chan Event, cfg.Buffer),
		done:   make(chan struct{}),
	}
	go j.run()
	return j
}

func (j *Kafka) Record(r brain.CycleReport) {
	ev := FromReport(r)
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		j.dropped++
		j.lg.Debug("journal_event_after_close", "cycle", ev.CycleID, "instance", ev.InstanceID)
		return
	}
	select {
	case j.events <- ev:
	default:
		j.dropped++
		j.lg.Warn("journal_event_dropped", "cycle", ev.CycleID, "instance", ev.InstanceID)
	}
}

// Stats returns the number of dropped and failed events.
func (j *Kafka) Stats() (dropped, failed int64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.dropped, j.failed
}

func (j *Kafka) run() {
	defer close(j.done)
	for ev := range j.events {
		j.publish(ev)
	}
}

func (j *Kafka) publish(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		j.lg.Error("journal_encode_failed", "cycle", ev.CycleID, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), j.cfg.WriteTimeout)
	defer cancel()
	msg := kafka.Message{
		Key:   []byte(ev.InstanceID),
		Value: payload,
		Time:  ev.StartedAt,
		Headers: []kafka.Header{
			{Key: "result", Value: []byte(ev.Result)},
		},
	}
	if err := j.writer.WriteMessages(ctx, msg); err != nil {
		j.mu.Lock()
		j.failed++
		j.mu.Unlock()
		j.lg.Error("journal_write_failed", "cycle", ev.CycleID, "instance", ev.InstanceID, "error", err)
		return
	}
	j.lg.Debug("journal_written", "cycle", ev.CycleID, "bytes", len(payload))
}

// Close stops accepting events, drains the buffer and closes the writer.
func (j *Kafka) Close(ctx context.Context) error {
	var err error
	j.once.Do(func() {
		j.mu.Lock()
		j.closed = true
		close(j.events)
		j.mu.Unlock()
		select {
		case <-j.done:
		case <-ctx.Done():
			err = fmt.Errorf("journal drain: %w", ctx.Err())
		}
		if j.closer != nil {
			if cerr := j.closer(); cerr != nil && err == nil {
				err = cerr
			}
		}
	})
	return err
}

// EnsureTopic creates the journal topic through the cluster controller. It is
// best effort: existing topics are not an error.
func EnsureTopic(ctx context.Context, cfg Config) error {
	if len(cfg.Brokers) == 0 {
		return fmt.Errorf("no brokers configured")
	}
	conn, err := kafka.DialContext(ctx, "tcp", cfg.Brokers[0])
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	defer conn.Close()
	ctrl, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("controller: %w", err)
	}
	c, err := kafka.DialContext(ctx, "tcp", net.JoinHostPort(ctrl.Host, strconv.Itoa(ctrl.Port)))
	if err != nil {
		return fmt.Errorf("dial controller: %w", err)
	}
	defer c.Close()
	partitions, replication := cfg.Partitions, cfg.Replication
	if partitions <= 0 {
		partitions = 1
	}
	if replication <= 0 {
		replication = 1
	}
	return c.CreateTopics(kafka.TopicConfig{Topic: cfg.Topic, NumPartitions: partitions, ReplicationFactor: replication})
}
