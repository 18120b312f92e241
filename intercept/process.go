package intercept

import (
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/sentryflect/event"
	"github.com/nextlevelbuilder/sentryflect/secpatterns"
)

// ProcessSpawn is the information captured around a subprocess spawn or
// os.system-equivalent call (spec §4.7.3).
type ProcessSpawn struct {
	Executable string
	Argv       []string
	Shell      bool
	ParentPID  int
	ChildPID   int
	User       string
	UID, EUID  int
	GID, EGID  int
	CWD        string
	CallerFrames []string // last three frames, "basename:line:func"
}

// envVarPresence reports presence only, never values (spec §4.7.3
// "selected env-var presence...never env-var values").
var envVarPresenceKeys = []string{"PATH", "PYTHONPATH", "PYTHONHOME", "LD_LIBRARY_PATH", "LD_PRELOAD", "DYLD_LIBRARY_PATH", "DYLD_INSERT_LIBRARIES", "HOME", "TEMP", "TMP"}

func envVarPresence() map[string]bool {
	out := make(map[string]bool, len(envVarPresenceKeys))
	for _, k := range envVarPresenceKeys {
		out[k] = os.Getenv(k) != ""
	}
	return out
}

// knownRuntimeSubprocessNames is the original's process_detection.py
// allowlist of common language-runtime-launched subprocess basenames
// (SPEC_FULL.md §4 "Network sensor allow/deny by process ancestry"),
// used to downgrade routine child processes from WARNING to info.
var knownRuntimeSubprocessNames = map[string]bool{
	"node": true, "npm": true, "npx": true,
	"python": true, "python3": true, "pip": true, "pytest": true,
	"go": true, "gofmt": true, "gotestsum": true,
	"java": true, "mvn": true, "gradle": true,
	"ruby": true, "bundle": true, "rspec": true,
}

// ShellAlertCallback is invoked for every detected shell process (spec
// §4.7.3 "invoke a registered callback (default: the RCE Correlator)").
type ShellAlertCallback func(spawn ProcessSpawn, ts time.Time)

// shellExecutablePaths are the binaries process_detection.py's
// check_suspicious_shell_usage/check_context_transition treat as "this
// spawn is a shell", independent of whether any detection rule also fired.
var shellExecutablePaths = []string{"/bin/sh", "/bin/bash", "/bin/zsh", "/bin/dash", "cmd.exe", "powershell.exe"}

func isShellExecutable(executable string) bool {
	lower := strings.ToLower(executable)
	for _, shell := range shellExecutablePaths {
		if strings.Contains(lower, shell) {
			return true
		}
	}
	return false
}

// dbContextIndicators are the substrings process_detection.py's
// check_context_transition uses to decide a calling context was
// database-related.
var dbContextIndicators = []string{"sql", "sqlite", "database", "query", "db"}

func isDBRelatedContext(context string) bool {
	lower := strings.ToLower(context)
	for _, ind := range dbContextIndicators {
		if strings.Contains(lower, ind) {
			return true
		}
	}
	return false
}

// ProcessInterceptor wraps subprocess spawn/os.system-equivalent call
// sites (spec §4.7.3).
type ProcessInterceptor struct {
	Call     Call
	Patterns *secpatterns.Registry
	OnShell  ShellAlertCallback

	mu       sync.Mutex
	callers  map[string]map[string]bool // executable -> calling contexts seen
}

// RecordSpawn emits process.exec (and process.started on success) and
// runs the detection rules. OnShell fires for every spawn of a shell
// binary (spec §4.7.3 "for every shell process detected"), not only
// ones that also tripped a pattern-matching rule — a bare `/bin/sh -c
// 'id'` is itself the detection.
func (p *ProcessInterceptor) RecordSpawn(spawn ProcessSpawn, err error, now time.Time) {
	cmdline := strings.Join(spawn.Argv, " ")
	isShell := spawn.Shell || isShellExecutable(spawn.Executable)

	level := event.LevelWarning
	alerts := p.detect(spawn, cmdline, isShell)
	if len(alerts) == 0 && !isShell && isKnownRuntimeSubprocess(spawn.Executable) {
		level = event.LevelInfo
	}

	attrs := map[string]any{
		"process.executable":  spawn.Executable,
		"process.argv":        cmdline,
		"process.shell":       spawn.Shell,
		"process.parent_pid":  spawn.ParentPID,
		"process.user":        spawn.User,
		"process.uid":         spawn.UID,
		"process.euid":        spawn.EUID,
		"process.gid":         spawn.GID,
		"process.egid":        spawn.EGID,
		"process.privileged":  spawn.EUID == 0,
		"process.cwd":         spawn.CWD,
		"process.caller":      spawn.CallerFrames,
		"process.env_present": envVarPresence(),
		"process.os":          runtime.GOOS,
	}
	if len(alerts) > 0 {
		attrs["security.detections"] = alerts
	}

	p.Call.Builder.LogEvent("process.exec", attrs, event.Options{Channel: event.ChannelProcess, Level: level})

	if err == nil {
		p.Call.Builder.LogEvent("process.started", map[string]any{
			"process.child_pid": spawn.ChildPID,
		}, event.Options{Channel: event.ChannelProcess, Level: event.LevelInfo})
	}

	if isShell && p.OnShell != nil {
		p.OnShell(spawn, now)
	}
}

// detect runs every rule from spec §4.7.3 and returns the names of the
// ones that fired.
func (p *ProcessInterceptor) detect(spawn ProcessSpawn, cmdline string, isShell bool) []string {
	var hits []string

	if len(p.Patterns.MatchSuspiciousShell(cmdline)) > 0 {
		hits = append(hits, "suspicious_shell")
	}
	for _, kw := range p.Patterns.DangerousCommands {
		if strings.Contains(strings.ToLower(cmdline), strings.ToLower(kw)) {
			hits = append(hits, "dangerous_command")
			break
		}
	}
	if p.checkContextTransition(spawn, isShell) {
		hits = append(hits, "mcp_shell_transition")
	}
	for _, dir := range p.Patterns.SuspiciousDirectories {
		if strings.Contains(spawn.CWD, dir) || strings.Contains(cmdline, dir) {
			hits = append(hits, "suspicious_directory")
			break
		}
	}
	for _, kw := range p.Patterns.PrivilegeEscalationCommands {
		if strings.Contains(strings.ToLower(cmdline), strings.ToLower(kw)) {
			hits = append(hits, "privilege_escalation")
			break
		}
	}
	if spawn.EUID == 0 {
		hits = append(hits, "privilege_escalation")
	}

	return hits
}

// checkContextTransition reproduces process_detection.py's
// check_context_transition: a shell executable previously invoked from
// a database-related calling context and now invoked from a different
// context (or vice versa) is flagged as a possible MCP-to-shell pivot.
// Non-shell executables are tracked but never flagged, matching the
// original's "known shell executables are suspicious" gate.
func (p *ProcessInterceptor) checkContextTransition(spawn ProcessSpawn, isShell bool) bool {
	context := strings.Join(spawn.CallerFrames, "|")
	if context == "" {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.callers == nil {
		p.callers = map[string]map[string]bool{}
	}

	seen, ok := p.callers[spawn.Executable]
	flagged := false
	if ok && !seen[context] && isShell {
		for prior := range seen {
			if isDBRelatedContext(prior) != isDBRelatedContext(context) {
				flagged = true
				break
			}
		}
	}

	if !ok {
		seen = map[string]bool{}
		p.callers[spawn.Executable] = seen
	}
	seen[context] = true

	return flagged
}

func isKnownRuntimeSubprocess(executable string) bool {
	base := executable
	if i := strings.LastIndexByte(base, '/'); i >= 0 {
		base = base[i+1:]
	}
	if i := strings.LastIndexByte(base, '\\'); i >= 0 {
		base = base[i+1:]
	}
	return knownRuntimeSubprocessNames[base]
}
