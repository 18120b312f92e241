package event

import (
	"time"

	"github.com/nextlevelbuilder/sentryflect/trace"
)

// Sink is anything that can accept a finished Event (spec §4.5); the
// Builder fans out to every configured sink.
type Sink interface {
	Accept(ev Event)
}

// Builder fills in trace/span/agent identity and timestamps (spec
// §4.4) and ships the result to every registered Sink. Mirrors the
// teacher's loop_tracing.go pattern of a small struct wrapping a
// *store.Stores/span emitter, generalized to a pluggable Sink set.
type Builder struct {
	Tracer *trace.Tracer
	Sinks  []Sink
}

// NewBuilder constructs a Builder bound to tr, fanning out to sinks.
func NewBuilder(tr *trace.Tracer, sinks ...Sink) *Builder {
	return &Builder{Tracer: tr, Sinks: sinks}
}

// Options supplies the optional overrides LogEvent accepts; any ID left
// empty is filled from the current Trace Context (spec §4.4).
type Options struct {
	Level        Level
	SpanID       string
	TraceID      string
	ParentSpanID string
	Channel      Channel
	Direction    Direction
	SessionID    string
	ConversationID string
}

// LogEvent constructs and dispatches an event named name with the given
// attributes, filling missing identity fields from the Trace Context.
func (b *Builder) LogEvent(name string, attributes map[string]any, opts Options) Event {
	cur := b.Tracer.CurrentContext()

	level := opts.Level
	if level == "" {
		level = LevelInfo
	}

	traceID := opts.TraceID
	if traceID == "" {
		traceID = cur.TraceID.String()
	}
	spanID := opts.SpanID
	if spanID == "" {
		if cur.SpanID.IsValid() {
			spanID = cur.SpanID.String()
		} else {
			// No span is open (a detached/ad-hoc log call): mint a fresh
			// span_id rather than emitting an all-zero one, and leave
			// parent_span_id null (spec §4.1).
			spanID = trace.NewAdHocSpanID()
		}
	}
	parentSpanID := opts.ParentSpanID

	safeAttrs, _ := Safe(attributes).(map[string]any)
	if safeAttrs == nil {
		safeAttrs = map[string]any{}
	}

	ev := Event{
		AgentID:        cur.AgentID,
		SessionID:      opts.SessionID,
		ConversationID: opts.ConversationID,
		EventType:      name,
		Channel:        opts.Channel,
		Level:          level,
		Direction:      opts.Direction,
		Timestamp:      time.Now().UTC(),
		TraceID:        traceID,
		SpanID:         spanID,
		ParentSpanID:   parentSpanID,
		Attributes:     safeAttrs,
	}

	for _, s := range b.Sinks {
		s.Accept(ev)
	}
	return ev
}

// LogError is a convenience wrapper that adds error.type/error.message
// and forces level=ERROR (spec §4.4).
func (b *Builder) LogError(name string, err error, attributes map[string]any, opts Options) Event {
	attrs := make(map[string]any, len(attributes)+2)
	for k, v := range attributes {
		attrs[k] = v
	}
	attrs["error.type"] = errorType(err)
	attrs["error.message"] = err.Error()
	opts.Level = LevelError
	return b.LogEvent(name, attrs, opts)
}

func errorType(err error) string {
	if err == nil {
		return ""
	}
	t := fmtType(err)
	return t
}
