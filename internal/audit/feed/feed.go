// Package feed delivers the append-only agent log to live observers. The
// recorder fans each entry out to registered sinks on a background goroutine;
// delivery is best-effort and must never block or fail pipeline progress.
package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"verity/internal/audit/models"
)

// Event is one published log entry with its originating audit run.
type Event struct {
	AuditID string               `json:"audit_id"`
	Entry   models.AgentLogEntry `json:"entry"`
}

// Sink receives feed events. Implementations must be safe for concurrent
// use; errors are logged and dropped, never propagated to the pipeline.
type Sink interface {
	Emit(ctx context.Context, event Event) error
}

const (
	bufferSize  = 256
	emitTimeout = 2 * time.Second
)

// Recorder is the fan-out point between the pipeline and its observers.
type Recorder struct {
	logger *slog.Logger
	sinks  []Sink

	events chan Event
	done   chan struct{}
	once   sync.Once
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithSink registers an additional observer sink.
func WithSink(sink Sink) Option {
	return func(r *Recorder) {
		if sink != nil {
			r.sinks = append(r.sinks, sink)
		}
	}
}

// New starts a recorder with the given options. Close must be called to
// drain the buffer and stop the delivery goroutine.
func New(logger *slog.Logger, opts ...Option) *Recorder {
	r := &Recorder{
		logger: logger,
		events: make(chan Event, bufferSize),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	go r.deliver()
	return r
}

// Publish enqueues entries for delivery in append order. It never blocks:
// when the buffer is full the entry is dropped for observers (the state's
// own log is unaffected) and a warning is logged.
func (r *Recorder) Publish(auditID string, entries ...models.AgentLogEntry) {
	for _, entry := range entries {
		select {
		case r.events <- Event{AuditID: auditID, Entry: entry}:
		default:
			if r.logger != nil {
				r.logger.Warn("feed buffer full, dropping entry for observers",
					"audit_id", auditID,
					"action", entry.Action,
				)
			}
		}
	}
}

// Close drains pending events and stops delivery. Safe to call twice.
func (r *Recorder) Close() {
	r.once.Do(func() {
		close(r.events)
		<-r.done
	})
}

func (r *Recorder) deliver() {
	defer close(r.done)
	for event := range r.events {
		if r.logger != nil {
			r.logger.Info("agent log entry",
				"audit_id", event.AuditID,
				"agent", event.Entry.Stage,
				"action", event.Entry.Action,
				"severity", event.Entry.Severity,
				"details", event.Entry.Details,
			)
		}
		for _, sink := range r.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), emitTimeout)
			if err := sink.Emit(ctx, event); err != nil && r.logger != nil {
				r.logger.Warn("feed sink emit failed",
					"audit_id", event.AuditID,
					"action", event.Entry.Action,
					"error", err,
				)
			}
			cancel()
		}
	}
}
