// Package monitor is the public control surface (spec §6): it wires
// trace, secpatterns, security, event, sink, store, intercept, and rce
// together behind StartMonitoring/StopMonitoring, mirroring the
// teacher's cmd/bootstrap split between "assemble the dependency graph"
// and "hand callers a few entry points" — generalized here from the
// teacher's single gateway process to an embeddable library surface, the
// shape the original's monitor.py exposes (start_monitoring/
// stop_monitoring/get_api_endpoint module functions backed by a single
// global MonitoringState).
package monitor

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/nextlevelbuilder/sentryflect/event"
	"github.com/nextlevelbuilder/sentryflect/intercept"
	"github.com/nextlevelbuilder/sentryflect/rce"
	"github.com/nextlevelbuilder/sentryflect/secpatterns"
	"github.com/nextlevelbuilder/sentryflect/security"
	"github.com/nextlevelbuilder/sentryflect/sink"
	"github.com/nextlevelbuilder/sentryflect/store"
	"github.com/nextlevelbuilder/sentryflect/trace"
)

// Config configures one call to StartMonitoring (spec §6's cylestio.start_monitoring kwargs).
type Config struct {
	AgentID string

	// LogFilePath selects the file sink's path. The file sink is enabled
	// when LogFilePath is non-empty or when no Collector is configured;
	// left empty, a directory, or missing its extension it is resolved per
	// sink.ResolveLogFilePath (spec §6).
	LogFilePath string
	// DBPath, when empty, resolves per store.ResolveDBPath.
	DBPath string
	// DisableDB skips the relational event store entirely (spec §6
	// "telemetry_only" mode for hosts with no local disk budget).
	DisableDB bool

	// Collector, when non-nil, enables the HTTP collector sink.
	Collector *sink.CollectorConfig

	// Patterns overrides/extends the default security pattern registry.
	Patterns secpatterns.Config

	// SafeToolPatching forwards to intercept.ToolInterceptor (spec §6).
	SafeToolPatching bool

	// DebugLevel sets the host logger's level (spec §6 debug_level). Empty
	// defaults to INFO, or DEBUG when DevelopmentMode is set.
	DebugLevel event.Level
	// DevelopmentMode enables verbose serialization and schema-change
	// logging (spec §6 development_mode), also read from
	// CYLESTIO_DEVELOPMENT_MODE when false here.
	DevelopmentMode bool
}

func (c Config) developmentMode() bool {
	if c.DevelopmentMode {
		return true
	}
	return os.Getenv("CYLESTIO_DEVELOPMENT_MODE") == "true" || os.Getenv("CYLESTIO_DEVELOPMENT_MODE") == "1"
}

func (c Config) logLevel() slog.Level {
	if c.developmentMode() {
		return slog.LevelDebug
	}
	switch c.DebugLevel {
	case event.LevelDebug:
		return slog.LevelDebug
	case event.LevelWarning:
		return slog.LevelWarn
	case event.LevelError, event.LevelCritical:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Handle is the live set of components StartMonitoring assembled; it is
// what StopMonitoring tears down and what a host threads through its own
// wrapped clients/tools.
type Handle struct {
	AgentID string

	Tracer   *trace.Tracer
	Builder  *event.Builder
	Scanner  *security.Scanner
	Patterns *secpatterns.Registry
	Store    *store.Store // nil if Config.DisableDB

	FileSink      *sink.FileSink      // nil if not configured
	CollectorSink *sink.CollectorSink // nil if not configured

	LLM     *intercept.LLMInterceptor
	Tool    *intercept.ToolInterceptor
	Process *intercept.ProcessInterceptor
	Socket  *intercept.SocketInterceptor
	HTTP    *intercept.HTTPClientInterceptor
	RCE     *rce.Correlator

	apiEndpoint string
}

var (
	mu      sync.Mutex
	current *Handle
)

// StartMonitoring assembles the full pipeline and makes it the active
// global monitor (spec §6 "a process hosts exactly one active monitor at
// a time"). Calling it again before StopMonitoring replaces the prior
// handle after stopping it.
func StartMonitoring(cfg Config) (*Handle, error) {
	mu.Lock()
	defer mu.Unlock()

	if current != nil {
		stopLocked(current)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.logLevel(),
	})))

	tr := trace.NewTracer()
	if _, err := tr.InitializeTrace(cfg.AgentID, true); err != nil {
		return nil, fmt.Errorf("monitor: initialize trace: %w", err)
	}

	patterns := secpatterns.Load(cfg.Patterns)
	scanner := security.GetInstance(cfg.Patterns)

	var sinks []event.Sink
	h := &Handle{AgentID: cfg.AgentID, Tracer: tr, Scanner: scanner, Patterns: patterns}

	if cfg.LogFilePath != "" || cfg.Collector == nil {
		path, err := sink.ResolveLogFilePath(cfg.LogFilePath, cfg.AgentID, time.Now().UTC())
		if err != nil {
			return nil, fmt.Errorf("monitor: resolve log file path: %w", err)
		}
		fs, err := sink.NewFileSink(path)
		if err != nil {
			return nil, fmt.Errorf("monitor: open file sink: %w", err)
		}
		h.FileSink = fs
		sinks = append(sinks, fs)
	}

	// api.endpoint resolves unconditionally (spec §6 precedence), not only
	// when a collector sink is configured: get_api_endpoint in the
	// original reads cylestio_monitor.config.CONFIG regardless of
	// whether telemetry is actually being shipped, and callers use it for
	// self-traffic exclusion even with the collector sink disabled.
	h.apiEndpoint = sink.ResolveEndpoint("")
	if cfg.Collector != nil {
		cfg.Collector.Endpoint = sink.ResolveEndpoint(cfg.Collector.Endpoint)
		h.apiEndpoint = cfg.Collector.Endpoint
		cs := sink.NewCollectorSink(*cfg.Collector)
		h.CollectorSink = cs
		sinks = append(sinks, cs)
	}

	if !cfg.DisableDB {
		initResult := store.InitializeDatabase(cfg.DBPath)
		if !initResult.Success {
			closeSinks(h)
			return nil, fmt.Errorf("monitor: initialize database: %w", initResult.Error)
		}
		st, err := store.Open(initResult.Path)
		if err != nil {
			closeSinks(h)
			return nil, fmt.Errorf("monitor: open database: %w", err)
		}
		h.Store = st
	}

	b := event.NewBuilder(tr, sinks...)
	h.Builder = b

	call := func(category string) intercept.Call {
		return intercept.Call{Category: category, Tracer: tr, Builder: b, Scanner: scanner}
	}

	h.RCE = rce.NewCorrelator(b)
	h.LLM = &intercept.LLMInterceptor{Call: call("llm"), Scanner: scanner}
	h.Tool = &intercept.ToolInterceptor{Call: call("tool"), Patterns: patterns, SafeToolPatching: cfg.SafeToolPatching}
	h.Process = &intercept.ProcessInterceptor{
		Call:     call("process"),
		Patterns: patterns,
		OnShell: func(spawn intercept.ProcessSpawn, ts time.Time) {
			h.RCE.RegisterShellProcess(spawn.ChildPID, spawn.ParentPID, spawn.Executable, ts)
		},
	}
	socketHost := h.apiEndpoint
	if u, err := url.Parse(h.apiEndpoint); err == nil && u.Host != "" {
		socketHost = u.Host
	}
	h.Socket = intercept.NewSocketInterceptor(call("net"), patterns, socketHost)
	h.HTTP = &intercept.HTTPClientInterceptor{
		Call:       call("http"),
		Patterns:   patterns,
		Correlator: h.RCE,
		Excluded:   map[string]bool{h.apiEndpoint: true},
	}

	b.LogEvent("monitoring.start", map[string]any{
		"agent_id":    cfg.AgentID,
		"db_enabled":  !cfg.DisableDB,
		"file_sink":   h.FileSink != nil,
		"api_enabled": h.CollectorSink != nil,
	}, event.Options{Level: event.LevelInfo})

	current = h
	return h, nil
}

// StopMonitoring flushes and closes every sink, ends any open span, and
// clears the active global monitor (spec §6). Calling it when nothing is
// active is a no-op.
func StopMonitoring() {
	mu.Lock()
	defer mu.Unlock()
	if current == nil {
		return
	}
	stopLocked(current)
	current = nil
}

func stopLocked(h *Handle) {
	h.Builder.LogEvent("monitoring.stop", map[string]any{"agent_id": h.AgentID}, event.Options{Level: event.LevelInfo})
	closeSinks(h)
	if h.Store != nil {
		h.Store.DB.Close()
	}
	h.Tracer.Reset()
	security.Reset()
}

func closeSinks(h *Handle) {
	if h.FileSink != nil {
		h.FileSink.Close()
	}
	if h.CollectorSink != nil {
		h.CollectorSink.Close()
	}
}

// GetAPIEndpoint returns the active monitor's resolved api.endpoint
// (spec §6), resolved regardless of whether a collector sink is
// enabled. Returns "" only when no monitor is active at all.
func GetAPIEndpoint() string {
	mu.Lock()
	defer mu.Unlock()
	if current == nil {
		return ""
	}
	return current.apiEndpoint
}

// Current returns the active Handle, or nil if monitoring is not
// started. Hosts that need direct access to the wrapped interceptors
// (e.g. to call h.LLM.WrapLLMClient) use this instead of threading the
// Handle returned by StartMonitoring through their own state.
func Current() *Handle {
	mu.Lock()
	defer mu.Unlock()
	return current
}
