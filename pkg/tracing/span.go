// Package tracing times the stages of a request as a tree of spans carried in
// the context. The tree is written through slog when the root finishes.
//
// A nil *Span is valid and does nothing, so stages can open spans whether or
// not the request is being traced.
package tracing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type spanKey struct{}

// Span is one timed stage.
type Span struct {
	name    string
	traceID string
	start   time.Time

	mu       sync.Mutex
	duration time.Duration
	ended    bool
	err      error
	attrs    []any
	children []*Span
}

// Begin opens the root span of a trace. An empty traceID gets a fresh one;
// callers usually pass the request id.
func Begin(ctx context.Context, name, traceID string) (context.Context, *Span) {
	if traceID == "" {
		traceID = uuid.NewString()
	}
	s := &Span{name: name, traceID: traceID, start: time.Now()}
	return context.WithValue(ctx, spanKey{}, s), s
}

// Start opens a child of the span in ctx. Without an active trace it returns
// ctx unchanged and a nil span.
func Start(ctx context.Context, name string) (context.Context, *Span) {
	parent := FromContext(ctx)
	if parent == nil {
		return ctx, nil
	}
	s := &Span{name: name, traceID: parent.traceID, start: time.Now()}
	parent.mu.Lock()
	parent.children = append(parent.children, s)
	parent.mu.Unlock()
	return context.WithValue(ctx, spanKey{}, s), s
}

// FromContext returns the innermost span in ctx, or nil.
func FromContext(ctx context.Context) *Span {
	s, _ := ctx.Value(spanKey{}).(*Span)
	return s
}

// Set attaches an attribute.
func (s *Span) Set(key string, value any) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.attrs = append(s.attrs, key, value)
	s.mu.Unlock()
}

// Fail records err on the span. A nil err is ignored.
func (s *Span) Fail(err error) {
	if s == nil || err == nil {
		return
	}
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// End stops the clock. Only the first call counts.
func (s *Span) End() {
	if s == nil {
		return
	}
	s.mu.Lock()
	if !s.ended {
		s.ended = true
		s.duration = time.Since(s.start)
	}
	s.mu.Unlock()
}

// Finish ends the span and logs its whole tree at debug level.
func (s *Span) Finish(ctx context.Context) {
	if s == nil {
		return
	}
	s.End()
	s.log(ctx, slog.Default().With("component", "tracing"), 0)
}

func (s *Span) TraceID() string {
	if s == nil {
		return ""
	}
	return s.traceID
}

func (s *Span) Duration() time.Duration {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.duration
}

// Children returns a snapshot of the direct children.
func (s *Span) Children() []*Span {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Span(nil), s.children...)
}

func (s *Span) log(ctx context.Context, logger *slog.Logger, depth int) {
	s.mu.Lock()
	args := make([]any, 0, 10+len(s.attrs))
	args = append(args,
		"trace_id", s.traceID,
		"span", s.name,
		"duration_ms", s.duration.Milliseconds(),
		"depth", depth,
	)
	if !s.ended {
		args = append(args, "unfinished", true)
	}
	if s.err != nil {
		args = append(args, "error", s.err)
	}
	args = append(args, s.attrs...)
	children := append([]*Span(nil), s.children...)
	s.mu.Unlock()

	logger.DebugContext(ctx, "span", args...)
	for _, c := range children {
		c.log(ctx, logger, depth+1)
	}
}
