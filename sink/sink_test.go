package sink

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nextlevelbuilder/sentryflect/event"
)

func TestResolveEndpoint_Precedence(t *testing.T) {
	if got := ResolveEndpoint("https://explicit.example/collect"); got != "https://explicit.example/collect" {
		t.Errorf("ResolveEndpoint(explicit) = %q", got)
	}

	t.Setenv("CYLESTIO_API_ENDPOINT", "https://api-env.example/collect")
	t.Setenv("CYLESTIO_TELEMETRY_ENDPOINT", "https://telemetry-env.example/collect")
	if got := ResolveEndpoint(""); got != "https://api-env.example/collect" {
		t.Errorf("ResolveEndpoint() with both env vars set = %q, want CYLESTIO_API_ENDPOINT to win", got)
	}

	t.Setenv("CYLESTIO_API_ENDPOINT", "")
	if got := ResolveEndpoint(""); got != "https://telemetry-env.example/collect" {
		t.Errorf("ResolveEndpoint() fallback to CYLESTIO_TELEMETRY_ENDPOINT = %q", got)
	}

	t.Setenv("CYLESTIO_TELEMETRY_ENDPOINT", "")
	if got := ResolveEndpoint(""); got != DefaultEndpoint {
		t.Errorf("ResolveEndpoint() default = %q, want %q", got, DefaultEndpoint)
	}
}

func TestFileSink_AppendsOneJSONPerLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.json")

	s, err := NewFileSink(path)
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}
	defer s.Close()

	s.Accept(event.Event{EventType: "a.start", Level: event.LevelInfo})
	s.Accept(event.Event{EventType: "a.finish", Level: event.LevelInfo})

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	var ev event.Event
	if err := json.Unmarshal([]byte(lines[0]), &ev); err != nil {
		t.Fatalf("unmarshal line: %v", err)
	}
	if ev.EventType != "a.start" {
		t.Errorf("name = %q, want a.start", ev.EventType)
	}
}

func TestResolveLogFilePath_DirectoryGetsDefaultName(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	got, err := ResolveLogFilePath(dir, "agent-1", now)
	if err != nil {
		t.Fatalf("ResolveLogFilePath: %v", err)
	}
	want := filepath.Join(dir, "agent-1_monitoring_20260102_030405.json")
	if got != want {
		t.Errorf("ResolveLogFilePath() = %q, want %q", got, want)
	}
}

func TestResolveLogFilePath_MissingExtensionGetsJSON(t *testing.T) {
	got, err := ResolveLogFilePath("/tmp/does-not-exist-xyz", "agent-1", time.Now())
	if err != nil {
		t.Fatalf("ResolveLogFilePath: %v", err)
	}
	if got != "/tmp/does-not-exist-xyz.json" {
		t.Errorf("ResolveLogFilePath() = %q, want .json appended", got)
	}
}

func TestCollectorSink_PostsJSONBody(t *testing.T) {
	received := make(chan event.Event, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		var ev event.Event
		json.NewDecoder(r.Body).Decode(&ev)
		received <- ev
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewCollectorSink(CollectorConfig{Endpoint: srv.URL})
	s.Accept(event.Event{EventType: "llm.call.start"})

	select {
	case ev := <-received:
		if ev.EventType != "llm.call.start" {
			t.Errorf("received name = %q, want llm.call.start", ev.EventType)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for collector POST")
	}
	s.Close()
}

func TestCollectorSink_OverflowDropsNewest(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	defer close(block)

	s := NewCollectorSink(CollectorConfig{Endpoint: srv.URL, QueueSize: 1, RequestsPerSecond: 1000})
	for i := 0; i < 10; i++ {
		s.Accept(event.Event{EventType: "x"})
	}
	// Should not block or panic even though the queue is tiny and the
	// server is stalled; overflow is dropped with a local WARN.
}
