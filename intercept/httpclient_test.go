package intercept

import (
	"testing"
	"time"

	"github.com/nextlevelbuilder/sentryflect/rce"
)

func newTestHTTPInterceptor() (*HTTPClientInterceptor, *captureSink) {
	call, cap := newTestCall("http")
	correlator := rce.NewCorrelator(call.Builder)
	return &HTTPClientInterceptor{Call: call, Patterns: newTestPatterns(), Correlator: correlator}, cap
}

func TestInspectRequest_DangerousHTTPAlerts(t *testing.T) {
	h, cap := newTestHTTPInterceptor()
	h.InspectRequest("https://api.example.com/run", "POST", "os.system('rm -rf /')")

	var sawAlert bool
	for _, ev := range cap.events {
		if ev.EventType == "security.alert" && ev.Attributes["security.alert_type"] == "dangerous_http_pattern" {
			sawAlert = true
		}
	}
	if !sawAlert {
		t.Fatal("expected a dangerous_http_pattern alert")
	}
}

func TestInspectRequest_CleanBodyNoAlert(t *testing.T) {
	h, cap := newTestHTTPInterceptor()
	h.InspectRequest("https://api.example.com/run", "POST", `{"query": "what's the weather"}`)

	for _, ev := range cap.events {
		if ev.EventType == "security.alert" {
			t.Fatalf("expected no alert for a clean request body, got %+v", ev)
		}
	}
}

func TestInspectRequest_Excluded(t *testing.T) {
	h, cap := newTestHTTPInterceptor()
	h.Excluded = map[string]bool{"https://collector.example.com/ingest": true}

	h.InspectRequest("https://collector.example.com/ingest", "POST", "os.system('rm -rf /')")

	if len(cap.events) != 0 {
		t.Fatalf("expected excluded endpoint traffic to be skipped entirely, got %+v", cap.events)
	}
}

func TestIsPlausibleCommand(t *testing.T) {
	cases := map[string]bool{
		"id":                             false,
		"name":                           false,
		"short":                          false,
		"systemctl stop firewalld now": true,
	}
	for in, want := range cases {
		if got := isPlausibleCommand(in); got != want {
			t.Errorf("isPlausibleCommand(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestInspectRequest_SuspiciousSQLSelectFromWhereAlerts(t *testing.T) {
	h, cap := newTestHTTPInterceptor()
	h.InspectRequest("https://api.example.com/mcp/query", "POST", "SELECT * FROM users WHERE name='enable-shell'")

	var sawAlert bool
	for _, ev := range cap.events {
		if ev.EventType == "security.alert" && ev.Attributes["security.alert_type"] == "suspicious_sql_pattern_in_http_traffic" {
			sawAlert = true
		}
	}
	if !sawAlert {
		t.Fatal("expected a suspicious_sql_pattern_in_http_traffic alert for a SELECT...FROM...WHERE body")
	}
}

func TestInspectRequest_MCPExtractionGatedOnHighRiskNotOnSuspiciousSQLMatch(t *testing.T) {
	h, _ := newTestHTTPInterceptor()

	// A body that trips MatchSuspiciousSQL (SELECT...FROM) but carries no
	// high-risk indicator must not attempt command extraction.
	h.InspectRequest("https://api.example.com/mcp/query", "POST", "SELECT * FROM users WHERE id=1")

	if len(h.Correlator.RecentShellProcesses(15, time.Now())) != 0 {
		t.Fatal("expected no virtual shell registration for a body with no high-risk indicator")
	}
}

func TestIsSelfTraffic(t *testing.T) {
	if !IsSelfTraffic("https://collector.example.com/ingest", "https://collector.example.com") {
		t.Error("expected matching hosts to be self-traffic")
	}
	if IsSelfTraffic("https://other.example.com/ingest", "https://collector.example.com") {
		t.Error("expected different hosts to not be self-traffic")
	}
}

func TestInspectResponse_DangerousHTTPAlerts(t *testing.T) {
	h, cap := newTestHTTPInterceptor()
	h.InspectResponse("https://api.example.com/run", "os.system('whoami')")

	var sawAlert bool
	for _, ev := range cap.events {
		if ev.EventType == "security.alert" {
			sawAlert = true
		}
	}
	if !sawAlert {
		t.Fatal("expected a dangerous_http_pattern alert on response inspection")
	}
}
