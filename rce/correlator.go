// Package rce implements the HTTP↔process correlation layer (spec
// §4.8): it joins shell-process sightings to HTTP request timings to
// detect SQL-parameter-to-shell-command pivots. State is process-global
// and guarded by a single lock, per SPEC_FULL.md's "Global mutable
// state...keep it as a single structure with explicit lock; do not
// scatter" design note.
package rce

import (
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/sentryflect/event"
	"github.com/nextlevelbuilder/sentryflect/secpatterns"
	"github.com/nextlevelbuilder/sentryflect/store"
)

const correlationWindow = 15 * time.Second

// ShellProcess is one entry in the shell-process registry.
type ShellProcess struct {
	PID            int
	ParentPID      int
	Executable     string
	Timestamp      time.Time
	HTTPCorrelated bool
	HTTPRequests   []HTTPRequest
	Virtual        bool
}

// HTTPRequest is one entry in the bounded request history. The history is
// one process-wide list shared by all executions, not kept per execution.
type HTTPRequest struct {
	URL       string
	Method    string
	Timestamp time.Time
}

const maxHTTPHistory = 20

// Correlator holds the shell-process and HTTP-request registries
// (spec §4.8 "State"). Safe for concurrent use.
type Correlator struct {
	mu        sync.Mutex
	shells    map[int]*ShellProcess
	httpByKey map[string][]HTTPRequest

	Builder *event.Builder
}

// NewCorrelator constructs a Correlator that emits alerts via b.
func NewCorrelator(b *event.Builder) *Correlator {
	return &Correlator{
		shells:    map[int]*ShellProcess{},
		httpByKey: map[string][]HTTPRequest{},
		Builder:   b,
	}
}

// RegisterShellProcess records an observed (non-virtual) shell spawn
// and immediately checks it against recent HTTP requests.
func (c *Correlator) RegisterShellProcess(pid, parentPID int, executable string, ts time.Time) {
	c.mu.Lock()
	c.shells[pid] = &ShellProcess{PID: pid, ParentPID: parentPID, Executable: executable, Timestamp: ts}
	c.mu.Unlock()

	c.correlate(pid, ts)
}

// RecentShellProcesses returns every shell process observed within
// windowSeconds of now.
func (c *Correlator) RecentShellProcesses(windowSeconds int, now time.Time) []ShellProcess {
	window := time.Duration(windowSeconds) * time.Second
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []ShellProcess
	for _, sp := range c.shells {
		if absDuration(now.Sub(sp.Timestamp)) <= window {
			out = append(out, *sp)
		}
	}
	return out
}

// RegisterHTTPRequest appends url/method to the global request history
// (bounded to the last 20 entries, spec §4.8) and returns the recorded
// context for the caller's own bookkeeping.
func (c *Correlator) RegisterHTTPRequest(url, method string) HTTPRequest {
	ctx := HTTPRequest{URL: url, Method: method, Timestamp: time.Now().UTC()}

	c.mu.Lock()
	hist := append(c.httpByKey["global"], ctx)
	if len(hist) > maxHTTPHistory {
		hist = hist[len(hist)-maxHTTPHistory:]
	}
	c.httpByKey["global"] = hist
	c.mu.Unlock()

	c.correlateRequest(ctx)
	return ctx
}

// correlate checks one shell-process sighting against the HTTP history
// (used by RegisterShellProcess: a shell observed after a request).
func (c *Correlator) correlate(pid int, ts time.Time) {
	c.mu.Lock()
	hist := append([]HTTPRequest(nil), c.httpByKey["global"]...)
	sp := c.shells[pid]
	c.mu.Unlock()
	if sp == nil {
		return
	}

	for _, req := range hist {
		if absDuration(ts.Sub(req.Timestamp)) <= correlationWindow {
			c.emitCorrelation(sp, req)
			return
		}
	}
}

// correlateRequest checks one HTTP request against the shell-process
// registry (used by RegisterHTTPRequest: a request observed before a
// shell spawns).
func (c *Correlator) correlateRequest(req HTTPRequest) {
	c.mu.Lock()
	var candidates []*ShellProcess
	for _, sp := range c.shells {
		if absDuration(req.Timestamp.Sub(sp.Timestamp)) <= correlationWindow {
			candidates = append(candidates, sp)
		}
	}
	c.mu.Unlock()

	for _, sp := range candidates {
		c.emitCorrelation(sp, req)
	}
}

func (c *Correlator) emitCorrelation(sp *ShellProcess, req HTTPRequest) {
	c.mu.Lock()
	if sp.HTTPCorrelated {
		c.mu.Unlock()
		return
	}
	sp.HTTPCorrelated = true
	sp.HTTPRequests = append(sp.HTTPRequests, req)
	c.mu.Unlock()

	if c.Builder == nil {
		return
	}
	c.Builder.LogEvent("security.alert", map[string]any{
		"security.alert_type": "Shell Process Execution via HTTP",
		"security.severity":   string(store.SeverityCritical),
		"http.url":            req.URL,
		"process.pid":         sp.PID,
		"process.executable":  sp.Executable,
	}, event.Options{Channel: event.ChannelSecurity, Level: event.LevelCritical})
}

// highRiskIndicators gate SQL extraction (spec §4.8): if none of these
// substrings are present in the SQL text, extraction is skipped
// entirely to avoid false positives on normal application SQL.
var highRiskIndicators = []string{
	"enable-shell", "/bin/", "cmd.exe", "|", ";", "`", "unsafe", "exec(", "system(",
}

func isHighRisk(text string) bool {
	lower := strings.ToLower(text)
	for _, ind := range highRiskIndicators {
		if strings.Contains(lower, strings.ToLower(ind)) {
			return true
		}
	}
	return false
}

// IsHighRiskSQL reports whether sql contains any high-risk indicator,
// the gate intercept.HTTPClientInterceptor consults before attempting
// mcp_command_extraction (spec §4.8 "Gate first on high-risk
// indicators...If none present, skip").
func IsHighRiskSQL(sql string) bool {
	return isHighRisk(sql)
}

// RegisterVirtualShellExecution registers a pseudo-PID shell process
// inferred from a SQL statement (not observed directly) and emits a
// security.alert: severity "critical" if the command itself contains a
// high-risk indicator, "medium" otherwise (spec §4.8).
func (c *Correlator) RegisterVirtualShellExecution(cmd, url, method string, patterns *secpatterns.Registry) {
	now := time.Now().UTC()
	pid := pseudoPID(now)

	c.mu.Lock()
	c.shells[pid] = &ShellProcess{PID: pid, Executable: cmd, Timestamp: now, Virtual: true}
	c.mu.Unlock()

	severity := store.SeverityMedium
	if isHighRisk(cmd) {
		severity = store.SeverityCritical
	}

	if c.Builder != nil {
		c.Builder.LogEvent("security.alert", map[string]any{
			"security.alert_type": "virtual_shell_execution",
			"security.severity":   string(severity),
			"http.url":            url,
			"http.method":         method,
			"process.command":     cmd,
			"process.pid":         pid,
			"process.virtual":     true,
		}, event.Options{Channel: event.ChannelSecurity, Level: severityToLevel(severity)})
	}

	c.RegisterHTTPRequest(url, method)
	c.correlate(pid, now)
}

func severityToLevel(s store.Severity) event.Level {
	if s == store.SeverityCritical {
		return event.LevelCritical
	}
	return event.LevelWarning
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// pseudoPID generates a negative, timestamp-derived pseudo-PID for a
// virtual shell spawn the correlator infers rather than observes (spec
// §4.8 "Pseudo-PIDs...used when the shell is virtual").
func pseudoPID(now time.Time) int {
	n := now.UnixNano() % 1_000_000_000
	if n > 0 {
		n = -n
	}
	return int(n)
}
