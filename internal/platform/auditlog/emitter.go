package auditlog

import (
	"context"
	"log/slog"
	"time"
)

// Emitter makes every audit append fire-and-forget: the caller gets its
// decision back before (and independent of) the append completing. A
// failed append is logged, never raised.
type Emitter struct {
	logger  *slog.Logger
	sink    Sink
	timeout time.Duration
}

func NewEmitter(logger *slog.Logger, sink Sink, timeout time.Duration) *Emitter {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Emitter{logger: logger, sink: sink, timeout: timeout}
}

func (e *Emitter) Emit(rec Record) {
	if e == nil || e.sink == nil {
		return
	}
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = time.Now().UTC()
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
		defer cancel()
		if err := e.sink.Append(ctx, rec); err != nil && e.logger != nil {
			e.logger.Error("audit append failed",
				"action", rec.Action,
				"resource_id", rec.ResourceID,
				"correlation_id", rec.CorrelationID,
				"error", err,
			)
		}
	}()
}

// EmitSync appends on the caller's goroutine, still swallowing failure.
// Used where the caller already runs off the request path.
func (e *Emitter) EmitSync(ctx context.Context, rec Record) {
	if e == nil || e.sink == nil {
		return
	}
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = time.Now().UTC()
	}
	appendCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	if err := e.sink.Append(appendCtx, rec); err != nil && e.logger != nil {
		e.logger.Error("audit append failed",
			"action", rec.Action,
			"resource_id", rec.ResourceID,
			"correlation_id", rec.CorrelationID,
			"error", err,
		)
	}
}

// Fanout appends to every sink, returning the first failure after all
// sinks were attempted.
type Fanout []Sink

func (f Fanout) Append(ctx context.Context, rec Record) error {
	var firstErr error
	for _, sink := range f {
		if sink == nil {
			continue
		}
		if err := sink.Append(ctx, rec); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// NopSink discards records; used in tests and CLI runs.
type NopSink struct{}

func (NopSink) Append(ctx context.Context, rec Record) error { return nil }
