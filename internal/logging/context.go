// Package logging carries run correlation IDs through context so every log
// record emitted during a phase identifies its run, subject, and phase.
package logging

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	runIDKey ctxKey = iota
	subjectIDKey
	phaseKey
)

// WithRunID returns a context with the run ID set.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey, id)
}

// WithSubjectID returns a context with the block or hook ID set.
func WithSubjectID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, subjectIDKey, id)
}

// WithPhase returns a context with the trigger phase set.
func WithPhase(ctx context.Context, phase string) context.Context {
	return context.WithValue(ctx, phaseKey, phase)
}

// RunID extracts the run ID from the context, or "" if absent.
func RunID(ctx context.Context) string {
	v, _ := ctx.Value(runIDKey).(string)
	return v
}

// SubjectID extracts the block or hook ID from the context, or "" if absent.
func SubjectID(ctx context.Context) string {
	v, _ := ctx.Value(subjectIDKey).(string)
	return v
}

// PhaseName extracts the trigger phase from the context, or "" if absent.
func PhaseName(ctx context.Context) string {
	v, _ := ctx.Value(phaseKey).(string)
	return v
}

// CorrelationHandler wraps an slog.Handler, injecting run correlation IDs
// from the context into every record. Use with slog.New so callers can use
// logger.InfoContext(ctx, ...) and the IDs appear automatically.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps the given handler with correlation ID injection.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	if v := RunID(ctx); v != "" {
		r.AddAttrs(slog.String("run_id", v))
	}
	if v := SubjectID(ctx); v != "" {
		r.AddAttrs(slog.String("subject_id", v))
	}
	if v := PhaseName(ctx); v != "" {
		r.AddAttrs(slog.String("phase", v))
	}
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}
