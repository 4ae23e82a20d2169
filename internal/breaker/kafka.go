// v2
// internal/breaker/kafka.go
package breaker

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
)

// MessageWriter mirrors the subset of kafka.Writer used by the wrappers.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Retry bounds the attempts made by KafkaWriter.
type Retry struct {
	Attempts       int
	AttemptTimeout time.Duration
	Backoff        time.Duration
}

// KafkaWriter wraps a kafka writer with breaker-driven retry and back-off.
type KafkaWriter struct {
	writer MessageWriter
	brk    *Breaker
	retry  Retry
}

// NewKafkaWriter wires brk around writer. A nil brk writes straight through.
func NewKafkaWriter(writer MessageWriter, brk *Breaker, retry Retry) *KafkaWriter {
	if retry.Attempts < 1 {
		retry.Attempts = 1
	}
	return &KafkaWriter{writer: writer, brk: brk, retry: retry}
}

func (w *KafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w == nil || w.writer == nil {
		return errors.New("nil kafka writer")
	}
	if w.brk == nil {
		return w.writer.WriteMessages(ctx, msgs...)
	}
	attempts := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		attempts++
		attemptCtx, cancel := w.attemptContext(ctx)
		err := w.brk.Execute(attemptCtx, func(execCtx context.Context) error {
			return w.writer.WriteMessages(execCtx, msgs...)
		})
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrOpen) || attempts >= w.retry.Attempts {
			return err
		}
		if waitErr := w.waitBackoff(ctx); waitErr != nil {
			return waitErr
		}
	}
}

func (w *KafkaWriter) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if w.retry.AttemptTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, w.retry.AttemptTimeout)
}

func (w *KafkaWriter) waitBackoff(ctx context.Context) error {
	if w.retry.Backoff <= 0 {
		return nil
	}
	timer := time.NewTimer(w.retry.Backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
