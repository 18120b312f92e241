// Package intercept implements the uniform instrument-around pattern
// (spec §4.7) and its vendor-specific adapters. "Patching
// already-constructed instances" (the Python original's monkey-patch
// style) becomes, in Go, "the wrapped constructor is the only public
// way to build a client" — see design note in SPEC_FULL.md §9 carried
// from spec.md. Grounded in the teacher's internal/agent/loop_tracing.go
// span-emission pattern (emitLLMSpan/emitToolSpan), generalized from a
// fixed agent-loop shape to an arbitrary wrapped callable.
package intercept

import (
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/nextlevelbuilder/sentryflect/event"
	"github.com/nextlevelbuilder/sentryflect/security"
	"github.com/nextlevelbuilder/sentryflect/trace"
)

// Instrumentable is implemented by anything that can report whether it
// applies to a given target, supporting auto-detection (spec SPEC_FULL
// §4 "Auto-detection of wrapped libraries").
type Instrumentable interface {
	Applies(target any) bool
}

// DetectTargets filters candidates to the ones that report they apply,
// mirroring the original's auto_detect.py: only instrument what's
// actually present rather than failing hard on absent vendor packages.
func DetectTargets(candidates []Instrumentable, target any) []Instrumentable {
	var out []Instrumentable
	for _, c := range candidates {
		if c.Applies(target) {
			out = append(out, c)
		}
	}
	return out
}

// Call is the context every wrap-in/wrap-out pair shares (spec §4.7
// steps 1-7).
type Call struct {
	Category string // "llm", "tool", "process", "net", "http"
	Op       string // e.g. "create_message", tool name
	Tracer   *trace.Tracer
	Builder  *event.Builder
	Scanner  *security.Scanner
}

// Span wraps one instrumented call's lifecycle: start span + start
// event, then either Finish or Fail exactly once. Callers must not
// alter the wrapped callable's return value or error (spec §4.7
// invariant).
type Span struct {
	call      Call
	span      trace.Span
	startedAt time.Time
	name      string
}

// Start opens a span named "<category>.<op>" and logs "<name>.start"
// with requestAttrs (spec §4.7 steps 1-3).
func (c Call) Start(requestAttrs map[string]any) *Span {
	name := c.Category + "." + c.Op
	sp, err := c.Tracer.StartSpan(name)
	if err != nil {
		c.Builder.LogError(name+".error", err, nil, event.Options{Channel: channelFor(c.Category), Level: event.LevelError})
		return &Span{call: c, startedAt: time.Now(), name: name}
	}
	c.Builder.LogEvent(name+".start", requestAttrs, event.Options{
		Channel: channelFor(c.Category), SpanID: sp.SpanID.String(),
		TraceID: sp.TraceID.String(), ParentSpanID: sp.ParentSpanID.String(),
	})
	return &Span{call: c, span: sp, startedAt: time.Now(), name: name}
}

// Finish records wall time and logs "<name>.finish" with responseAttrs,
// then ends the span (spec §4.7 steps 5, 7).
func (s *Span) Finish(responseAttrs map[string]any) {
	durationMS := time.Since(s.startedAt).Milliseconds()
	attrs := cloneAttrs(responseAttrs)
	attrs["duration_ms"] = durationMS
	attrs[string(statusCodeKey)] = codes.Ok.String()
	s.call.Builder.LogEvent(s.name+".finish", attrs, event.Options{
		Channel: channelFor(s.call.Category), SpanID: s.span.SpanID.String(),
		TraceID: s.span.TraceID.String(), ParentSpanID: s.span.ParentSpanID.String(),
	})
	s.call.Tracer.EndSpan()
}

// Fail logs "<name>.error" with error.type/error.message and ends the
// span, without altering the error the caller will re-raise (spec
// §4.7 step 6).
func (s *Span) Fail(err error) {
	s.call.Builder.LogError(s.name+".error", err, map[string]any{
		string(statusCodeKey): codes.Error.String(),
	}, event.Options{
		Channel: channelFor(s.call.Category), SpanID: s.span.SpanID.String(),
		TraceID: s.span.TraceID.String(), ParentSpanID: s.span.ParentSpanID.String(),
	})
	s.call.Tracer.EndSpan()
}

// statusCodeKey names the otel span-status attribute recorded on every
// finished/failed span, mirroring the real otel/trace SDK's
// Span.SetStatus(codes.Ok|codes.Error, ...) without depending on the SDK
// itself (the teacher's own otel/sdk dependency exports an exporter
// pipeline this package does not need).
var statusCodeKey = attribute.Key("otel.status_code")

// ScanAndAnnotate runs the scanner over text and, if flagged, returns
// the attributes to merge onto the request/response event plus a
// separate security.content.<level> event to emit (spec §4.7.1
// "Pre-call security scan...emit a separate security.content.<level>
// event").
func ScanAndAnnotate(scanner *security.Scanner, text string) (attrs map[string]any, alertName string, alertLevel event.Level) {
	result := scanner.ScanText(text)
	if result.AlertLevel == security.AlertNone {
		return nil, "", ""
	}
	attrs = map[string]any{
		"security.alert_level": string(result.AlertLevel),
		"security.keywords":    result.Keywords,
	}
	level := event.LevelWarning
	if result.AlertLevel == security.AlertDangerous {
		level = event.LevelCritical
	}
	if result.Category != "" {
		attrs["security.category"] = string(result.Category)
	}
	return attrs, "security.content." + string(result.AlertLevel), level
}

func channelFor(category string) event.Channel {
	switch category {
	case "llm":
		return event.ChannelLLM
	case "tool":
		return event.ChannelTool
	case "net":
		return event.ChannelNetwork
	case "process":
		return event.ChannelProcess
	default:
		return event.ChannelSystem
	}
}

func cloneAttrs(m map[string]any) map[string]any {
	out := make(map[string]any, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}
