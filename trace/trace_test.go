package trace

import (
	"context"
	"regexp"
	"testing"
)

var hex32 = regexp.MustCompile(`^[0-9a-f]{32}$`)
var hex16 = regexp.MustCompile(`^[0-9a-f]{16}$`)

func TestInitializeTrace_IDFormat(t *testing.T) {
	tr := NewTracer()
	id, err := tr.InitializeTrace("agent-1", false)
	if err != nil {
		t.Fatalf("InitializeTrace: %v", err)
	}
	if !hex32.MatchString(id.String()) {
		t.Errorf("trace id %q does not match /%s/", id.String(), hex32)
	}
}

func TestInitializeTrace_FreshConflict(t *testing.T) {
	tr := NewTracer()
	if _, err := tr.InitializeTrace("agent-1", false); err != nil {
		t.Fatalf("first init: %v", err)
	}
	if _, err := tr.InitializeTrace("agent-1", true); err != ErrAlreadyInitialized {
		t.Errorf("expected ErrAlreadyInitialized, got %v", err)
	}
}

func TestStartSpan_NestingIsLIFO(t *testing.T) {
	tr := NewTracer()
	if _, err := tr.InitializeTrace("agent-1", false); err != nil {
		t.Fatalf("init: %v", err)
	}

	root, err := tr.StartSpan("root")
	if err != nil {
		t.Fatalf("start root: %v", err)
	}
	if root.ParentSpanID.IsValid() {
		t.Errorf("root span should have no parent, got %v", root.ParentSpanID)
	}
	if !hex16.MatchString(root.SpanID.String()) {
		t.Errorf("span id %q does not match /%s/", root.SpanID.String(), hex16)
	}

	child, err := tr.StartSpan("child")
	if err != nil {
		t.Fatalf("start child: %v", err)
	}
	if child.ParentSpanID != root.SpanID {
		t.Errorf("child parent = %v, want %v", child.ParentSpanID, root.SpanID)
	}

	endedChild, ok := tr.EndSpan()
	if !ok || endedChild != child.SpanID {
		t.Errorf("EndSpan() = %v, %v; want %v, true", endedChild, ok, child.SpanID)
	}
	if cur := tr.CurrentContext(); cur.SpanID != root.SpanID {
		t.Errorf("after ending child, current span = %v, want %v", cur.SpanID, root.SpanID)
	}

	endedRoot, ok := tr.EndSpan()
	if !ok || endedRoot != root.SpanID {
		t.Errorf("EndSpan() = %v, %v; want %v, true", endedRoot, ok, root.SpanID)
	}
	if cur := tr.CurrentContext(); cur.SpanID.IsValid() {
		t.Errorf("current span should be empty after ending all spans, got %v", cur.SpanID)
	}
}

func TestEndSpan_NoActiveSpanIsNoop(t *testing.T) {
	tr := NewTracer()
	ended, ok := tr.EndSpan()
	if ok || ended.IsValid() {
		t.Errorf("EndSpan() on empty stack = %v, %v; want zero, false", ended, ok)
	}
}

func TestStartSpan_DetachedBeforeInitialize(t *testing.T) {
	tr := NewTracer()
	span, err := tr.StartSpan("detached")
	if err != nil {
		t.Fatalf("StartSpan: %v", err)
	}
	if !span.TraceID.IsValid() {
		t.Error("detached span should still get an ad-hoc trace id")
	}
	if span.ParentSpanID.IsValid() {
		t.Error("detached root span should have no parent")
	}
}

func TestReset_ClearsAllState(t *testing.T) {
	tr := NewTracer()
	tr.InitializeTrace("agent-1", false)
	tr.StartSpan("x")

	tr.Reset()

	cur := tr.CurrentContext()
	if cur.TraceID.IsValid() || cur.SpanID.IsValid() || cur.AgentID != "" {
		t.Errorf("Reset() left state: %+v", cur)
	}
	ended, ok := tr.EndSpan()
	if ok || ended.IsValid() {
		t.Error("EndSpan() after Reset() should be a no-op")
	}
}

func TestFromContext_DetachedWhenMissing(t *testing.T) {
	tr := FromContext(context.Background())
	if tr == nil {
		t.Fatal("FromContext should never return nil")
	}
}
