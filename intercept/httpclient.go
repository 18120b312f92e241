package intercept

import (
	"net/url"

	"github.com/nextlevelbuilder/sentryflect/event"
	"github.com/nextlevelbuilder/sentryflect/rce"
	"github.com/nextlevelbuilder/sentryflect/secpatterns"
	"github.com/nextlevelbuilder/sentryflect/store"
)

// HTTPClientInterceptor wraps an HTTP client's send path (spec §4.7.5).
type HTTPClientInterceptor struct {
	Call       Call
	Patterns   *secpatterns.Registry
	Correlator *rce.Correlator
	Excluded   map[string]bool // endpoint strings excluded from scanning
}

// InspectRequest scans method/body for dangerous HTTP, suspicious SQL,
// and MCP SQL-to-shell extraction, and hands the request to the RCE
// Correlator's registry (spec §4.7.5).
func (h *HTTPClientInterceptor) InspectRequest(rawURL, method, body string) {
	if h.Excluded[rawURL] {
		return
	}

	if matches := h.Patterns.MatchDangerousHTTP(body); len(matches) > 0 {
		h.alert("dangerous_http_pattern", store.SeverityHigh, matches[0].Excerpt, rawURL)
	}
	if matches := h.Patterns.MatchSuspiciousSQL(body); len(matches) > 0 {
		h.alert("suspicious_sql_pattern_in_http_traffic", store.SeverityMedium, matches[0].Excerpt, rawURL)
	}

	// MCP command extraction is gated independently on the high-risk
	// indicators, not on whether a classic-SQLi pattern also matched
	// (spec §4.8 "Gate first on high-risk indicators...if none present,
	// skip"; http_patcher.py's _extract_commands_from_sql gates the same
	// way).
	if rce.IsHighRiskSQL(body) {
		if cmd, ok := h.Patterns.ExtractMCPCommand(body); ok && isPlausibleCommand(cmd) {
			h.Correlator.RegisterVirtualShellExecution(cmd, rawURL, method, h.Patterns)
		}
	}

	h.Correlator.RegisterHTTPRequest(rawURL, method)
}

// InspectResponse scans a response body the same way as a request body.
func (h *HTTPClientInterceptor) InspectResponse(rawURL, body string) {
	if h.Excluded[rawURL] {
		return
	}
	if matches := h.Patterns.MatchDangerousHTTP(body); len(matches) > 0 {
		h.alert("dangerous_http_pattern", store.SeverityHigh, matches[0].Excerpt, rawURL)
	}
}

func (h *HTTPClientInterceptor) alert(alertType string, severity store.Severity, excerpt, rawURL string) {
	h.Call.Builder.LogEvent("security.alert", map[string]any{
		"security.alert_type": alertType,
		"security.severity":   string(severity),
		"security.excerpt":    excerpt,
		"http.url":            rawURL,
	}, event.Options{Channel: event.ChannelSecurity, Level: event.LevelWarning})
}

// isPlausibleCommand rejects common legitimate short identifiers (spec
// §4.8 "Reject extracted tokens...length < 15").
func isPlausibleCommand(token string) bool {
	if len(token) < 15 {
		return false
	}
	switch token {
	case "id", "name", "type":
		return false
	}
	return true
}

// IsSelfTraffic reports whether rawURL targets the configured collector
// endpoint (spec §4.5/§4.7.5 self-traffic exclusion).
func IsSelfTraffic(rawURL string, endpoint string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	e, err := url.Parse(endpoint)
	if err != nil {
		return false
	}
	return u.Host == e.Host
}
