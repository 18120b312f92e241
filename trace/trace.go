// Package trace implements the per-execution trace/span stack that every
// emitted event inherits from (spec §4.1). IDs reuse OpenTelemetry's
// TraceID/SpanID wire types so their String() form is already the
// lowercase-hex 32/16 char format the rest of the pipeline requires.
package trace

import (
	"context"
	"crypto/rand"
	"errors"
	"sync"

	otrace "go.opentelemetry.io/otel/trace"
)

// ErrAlreadyInitialized is returned by InitializeTrace when the caller asked
// for a fresh trace but one is already active for this execution.
var ErrAlreadyInitialized = errors.New("trace: already initialized for this execution")

// Span is the information returned by StartSpan.
type Span struct {
	SpanID       otrace.SpanID
	ParentSpanID otrace.SpanID // zero value if this is a trace root
	TraceID      otrace.TraceID
	Name         string
}

// Context is the read-only snapshot returned by CurrentContext.
type Context struct {
	TraceID otrace.TraceID
	SpanID  otrace.SpanID
	AgentID string
}

// Tracer is a per-logical-execution register of {trace_id, current_span_id,
// ancestor stack, agent_id}. Nesting calls within one execution share a
// single *Tracer (threaded via context.Context, see WithTracer/FromContext);
// unrelated concurrent executions must use distinct Tracers. All methods are
// safe for concurrent use by multiple goroutines cooperating on the same
// logical execution.
type Tracer struct {
	mu      sync.Mutex
	agentID string
	traceID otrace.TraceID
	stack   []otrace.SpanID
	current otrace.SpanID
}

// NewTracer creates an uninitialized tracer (no active trace or span).
func NewTracer() *Tracer {
	return &Tracer{}
}

// InitializeTrace generates a fresh trace_id and resets the span stack. If
// fresh is true and a trace is already active, it returns
// ErrAlreadyInitialized instead of silently reinitializing.
func (t *Tracer) InitializeTrace(agentID string, fresh bool) (otrace.TraceID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if fresh && t.traceID.IsValid() {
		return t.traceID, ErrAlreadyInitialized
	}

	id, err := newTraceID()
	if err != nil {
		return otrace.TraceID{}, err
	}
	t.agentID = agentID
	t.traceID = id
	t.stack = nil
	t.current = otrace.SpanID{}
	return id, nil
}

// StartSpan generates a fresh span_id, pushes the previous current span (if
// any) onto the ancestor stack, and makes the new span current. If no trace
// has been initialized yet, a trace_id is generated ad-hoc (a detached
// span) so callers never have to initialize a trace before logging.
func (t *Tracer) StartSpan(name string) (Span, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.traceID.IsValid() {
		id, err := newTraceID()
		if err != nil {
			return Span{}, err
		}
		t.traceID = id
	}

	id, err := newSpanID()
	if err != nil {
		return Span{}, err
	}

	parent := t.current
	if t.current.IsValid() {
		t.stack = append(t.stack, t.current)
	}
	t.current = id

	return Span{
		SpanID:       id,
		ParentSpanID: parent,
		TraceID:      t.traceID,
		Name:         name,
	}, nil
}

// EndSpan pops the ancestor stack into current_span_id. Ending with no
// active span is a no-op that returns the zero SpanID and ended=false.
func (t *Tracer) EndSpan() (ended otrace.SpanID, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.current.IsValid() {
		return otrace.SpanID{}, false
	}
	ended = t.current
	n := len(t.stack)
	if n == 0 {
		t.current = otrace.SpanID{}
		return ended, true
	}
	t.current = t.stack[n-1]
	t.stack = t.stack[:n-1]
	return ended, true
}

// CurrentContext returns the execution's current trace/span/agent identity.
// Fields are zero when not yet initialized.
func (t *Tracer) CurrentContext() Context {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Context{TraceID: t.traceID, SpanID: t.current, AgentID: t.agentID}
}

// Reset clears all state: trace, stack, current span, and agent id.
func (t *Tracer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.agentID = ""
	t.traceID = otrace.TraceID{}
	t.stack = nil
	t.current = otrace.SpanID{}
}

func newTraceID() (otrace.TraceID, error) {
	var id otrace.TraceID
	if _, err := rand.Read(id[:]); err != nil {
		return otrace.TraceID{}, err
	}
	return id, nil
}

func newSpanID() (otrace.SpanID, error) {
	var id otrace.SpanID
	if _, err := rand.Read(id[:]); err != nil {
		return otrace.SpanID{}, err
	}
	return id, nil
}

// NewAdHocSpanID generates a fresh, unlinked span_id for a log call made
// with no open span (spec §4.1: a detached event still gets a
// well-formed span_id, never an all-zero one, and carries no
// parent_span_id). Returns the empty string only if the system's
// entropy source fails.
func NewAdHocSpanID() string {
	id, err := newSpanID()
	if err != nil {
		return ""
	}
	return id.String()
}

type tracerKey struct{}

// WithTracer attaches a Tracer to ctx so it is inherited by every downstream
// call in this execution's call graph.
func WithTracer(ctx context.Context, t *Tracer) context.Context {
	return context.WithValue(ctx, tracerKey{}, t)
}

// FromContext returns the Tracer attached to ctx, or a fresh detached Tracer
// if none is attached (an execution that never called WithTracer still gets
// well-formed, if unlinked, trace/span ids — see §4.1 edge case).
func FromContext(ctx context.Context) *Tracer {
	if t, ok := ctx.Value(tracerKey{}).(*Tracer); ok && t != nil {
		return t
	}
	return NewTracer()
}
