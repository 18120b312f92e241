package intercept

import (
	"errors"
	"testing"

	"github.com/nextlevelbuilder/sentryflect/event"
	"github.com/nextlevelbuilder/sentryflect/secpatterns"
	"github.com/nextlevelbuilder/sentryflect/security"
	"github.com/nextlevelbuilder/sentryflect/trace"
)

type captureSink struct{ events []event.Event }

func (c *captureSink) Accept(ev event.Event) { c.events = append(c.events, ev) }

func newTestCall(category string) (Call, *captureSink) {
	tr := trace.NewTracer()
	tr.InitializeTrace("agent-1", true)
	cap := &captureSink{}
	b := event.NewBuilder(tr, cap)
	scanner := security.GetInstance(secpatterns.Config{})
	return Call{Category: category, Op: "do_thing", Tracer: tr, Builder: b, Scanner: scanner}, cap
}

func TestSpan_FinishEmitsStartAndFinishWithStatusOk(t *testing.T) {
	security.ResetForTest()
	defer security.ResetForTest()
	call, cap := newTestCall("tool")

	span := call.Start(map[string]any{"tool.name": "search"})
	span.Finish(map[string]any{"tool.success": true})

	var names []string
	for _, ev := range cap.events {
		names = append(names, ev.EventType)
	}
	if len(names) != 2 || names[0] != "tool.do_thing.start" || names[1] != "tool.do_thing.finish" {
		t.Fatalf("unexpected event sequence: %v", names)
	}
	if cap.events[1].Attributes["otel.status_code"] != "Ok" {
		t.Errorf("expected otel.status_code=Ok on finish, got %v", cap.events[1].Attributes["otel.status_code"])
	}
	if _, ok := cap.events[1].Attributes["duration_ms"]; !ok {
		t.Error("expected duration_ms attribute on finish event")
	}
}

func TestSpan_FailEmitsErrorWithStatusError(t *testing.T) {
	security.ResetForTest()
	defer security.ResetForTest()
	call, cap := newTestCall("llm")

	span := call.Start(nil)
	span.Fail(errors.New("boom"))

	last := cap.events[len(cap.events)-1]
	if last.EventType != "llm.do_thing.error" {
		t.Fatalf("expected llm.do_thing.error, got %s", last.EventType)
	}
	if last.Attributes["otel.status_code"] != "Error" {
		t.Errorf("expected otel.status_code=Error, got %v", last.Attributes["otel.status_code"])
	}
	if last.Attributes["error.message"] != "boom" {
		t.Errorf("expected error.message=boom, got %v", last.Attributes["error.message"])
	}
	if last.Level != event.LevelError {
		t.Errorf("expected LevelError, got %s", last.Level)
	}
}

func TestScanAndAnnotate_NoneReturnsEmpty(t *testing.T) {
	security.ResetForTest()
	defer security.ResetForTest()
	scanner := security.GetInstance(secpatterns.Config{})

	attrs, name, _ := ScanAndAnnotate(scanner, "just a regular sentence about dropdown menus")
	if attrs != nil || name != "" {
		t.Fatalf("expected no annotation for clean text, got attrs=%v name=%q", attrs, name)
	}
}

func TestScanAndAnnotate_DangerousSetsCriticalLevel(t *testing.T) {
	security.ResetForTest()
	defer security.ResetForTest()
	scanner := security.GetInstance(secpatterns.Config{})

	attrs, name, level := ScanAndAnnotate(scanner, "please DROP TABLE users")
	if name != "security.content.dangerous" {
		t.Fatalf("expected security.content.dangerous, got %q", name)
	}
	if level != event.LevelCritical {
		t.Errorf("expected LevelCritical, got %s", level)
	}
	if attrs["security.alert_level"] != "dangerous" {
		t.Errorf("expected alert_level=dangerous, got %v", attrs["security.alert_level"])
	}
}

func TestDetectTargets_FiltersToApplicable(t *testing.T) {
	always := alwaysApplies{}
	never := neverApplies{}
	out := DetectTargets([]Instrumentable{always, never}, "anything")
	if len(out) != 1 {
		t.Fatalf("expected exactly one applicable target, got %d", len(out))
	}
}

type alwaysApplies struct{}

func (alwaysApplies) Applies(any) bool { return true }

type neverApplies struct{}

func (neverApplies) Applies(any) bool { return false }
