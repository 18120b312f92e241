package intercept

import (
	"net"
	"strconv"
	"strings"

	"github.com/nextlevelbuilder/sentryflect/event"
	"github.com/nextlevelbuilder/sentryflect/secpatterns"
	"github.com/nextlevelbuilder/sentryflect/store"
)

// ConnCategory classifies an outbound connection (spec §4.7.4).
type ConnCategory string

const (
	CategoryPotentialC2            ConnCategory = "potential_c2"
	CategoryPotentialExfiltration  ConnCategory = "potential_exfiltration"
	CategoryDirectIP               ConnCategory = "direct_ip"
	CategoryOutboundConnection     ConnCategory = "outbound_connection"
)

var c2Ports = map[int]bool{4444: true, 4445: true, 1337: true, 6667: true, 6668: true, 6669: true, 31337: true}
var exfilPorts = map[int]bool{21: true, 22: true, 2222: true, 23: true}
var lowSeverityPorts = map[int]bool{80: true, 443: true, 8080: true, 8443: true}

// SocketInterceptor wraps connect/send/recv on the OS socket (spec
// §4.7.4). Excluded carries the telemetry endpoint's own host:port pairs
// so the collector sink's own traffic is never self-observed.
type SocketInterceptor struct {
	Call     Call
	Patterns *secpatterns.Registry
	Excluded map[string]bool
}

// NewSocketInterceptor builds the exclusion set from the configured
// collector endpoint host, expanded with ports 80 and 443 (spec §4.7.4).
func NewSocketInterceptor(call Call, patterns *secpatterns.Registry, endpointHost string) *SocketInterceptor {
	excluded := map[string]bool{}
	if endpointHost != "" {
		host, port, err := net.SplitHostPort(endpointHost)
		if err == nil {
			excluded[host+":"+port] = true
			excluded[host+":80"] = true
			excluded[host+":443"] = true
		} else {
			excluded[endpointHost+":80"] = true
			excluded[endpointHost+":443"] = true
		}
	}
	if len(excluded) == 0 {
		excluded["127.0.0.1:8000"] = true
		excluded["127.0.0.1:80"] = true
		excluded["127.0.0.1:443"] = true
	}
	return &SocketInterceptor{Call: call, Patterns: patterns, Excluded: excluded}
}

// Categorize implements spec §4.7.4's category/severity decision table.
func Categorize(host string, port int) (ConnCategory, store.Severity) {
	switch {
	case c2Ports[port]:
		return CategoryPotentialC2, severityFor(host, port, store.SeverityCritical)
	case exfilPorts[port]:
		return CategoryPotentialExfiltration, severityFor(host, port, store.SeverityHigh)
	case isDottedQuad(host):
		return CategoryDirectIP, severityFor(host, port, store.SeverityMedium)
	default:
		return CategoryOutboundConnection, severityFor(host, port, store.SeverityLow)
	}
}

func severityFor(host string, port int, nonLocal store.Severity) store.Severity {
	if host == "127.0.0.1" || host == "localhost" || host == "::1" || lowSeverityPorts[port] {
		return store.SeverityLow
	}
	return nonLocal
}

func isDottedQuad(host string) bool {
	ip := net.ParseIP(host)
	return ip != nil && ip.To4() != nil && strings.Count(host, ".") == 3
}

// ConnOpen wraps a connect() call: emits net.conn_open, and when
// severity is high/critical also emits security.alert (spec §4.7.4).
func (s *SocketInterceptor) ConnOpen(host string, port int) (skip bool) {
	key := host + ":" + strconv.Itoa(port)
	if s.Excluded[key] {
		return true
	}

	category, severity := Categorize(host, port)
	attrs := map[string]any{
		"net.host":     host,
		"net.port":     port,
		"net.category": string(category),
		"net.severity": string(severity),
	}
	s.Call.Builder.LogEvent("net.conn_open", attrs, event.Options{Channel: event.ChannelNetwork, Level: event.LevelInfo})

	if severity == store.SeverityHigh || severity == store.SeverityCritical {
		s.Call.Builder.LogEvent("security.alert", attrs, event.Options{Channel: event.ChannelSecurity, Level: event.LevelWarning})
	}
	return false
}

// ScanPayload inspects send/recv payloads against the shell_access_network
// pattern family; a match emits a CRITICAL security.alert with category
// remote_code_execution (spec §4.7.4).
func (s *SocketInterceptor) ScanPayload(host string, port int, payload string) {
	key := host + ":" + strconv.Itoa(port)
	if s.Excluded[key] {
		return
	}
	matches := s.Patterns.MatchShellAccessNetwork(payload)
	if len(matches) == 0 {
		return
	}
	s.Call.Builder.LogEvent("security.alert", map[string]any{
		"security.alert_type": "remote_code_execution",
		"security.severity":   string(store.SeverityCritical),
		"security.description": matches[0].Description,
		"net.host":            host,
		"net.port":            port,
	}, event.Options{Channel: event.ChannelSecurity, Level: event.LevelCritical})
}
