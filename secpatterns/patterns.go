// Package secpatterns holds the compiled regex families and keyword sets
// used by the security scanner (spec §4.2), the RCE correlator (§4.8), and
// the process/socket/http interceptors (§4.7.3-4.7.5). Centralizing them
// here is what prevents drift between those consumers (spec §4.2
// Rationale) — the same denylist that grounds the scanner's
// dangerous_commands set here is adapted from the teacher's
// internal/tools/shell.go defaultDenyPatterns, and the SQL/shell regex
// families are adapted from cylestio-monitor's
// utils/security_patterns.py (see _examples/original_source).
package secpatterns

import "regexp"

// MatchedKeyword pairs a keyword with the category it was found under.
type MatchedKeyword struct {
	Keyword  string
	Category string
}

// Registry holds the frozen (post-Load) keyword sets and regex families.
// It is safe for concurrent read-only use once Load returns (spec §4.2,
// §5: "read-only after initialization — no lock on the hot path").
type Registry struct {
	// Keyword sets. Keys preserve original casing for output; matching is
	// done case-insensitively by the scanner/masker.
	SensitiveData       []string
	DangerousCommands    []string
	PromptManipulation   []string

	// Regex families, compiled once at Load time.
	SuspiciousShell             []*regexp.Regexp
	ShellAccessNetwork          []descriptedPattern
	MCPShellTransition          []descriptedPattern
	ContextSwitching            []*regexp.Regexp
	DangerousHTTP               []*regexp.Regexp
	SuspiciousSQL               []*regexp.Regexp
	SQLInjection                []*regexp.Regexp
	MCPCommandExtraction        []*regexp.Regexp
	PrivilegeEscalationCommands []string
	SuspiciousDirectories       []string

	// masking patterns are kept separate because they carry a mask string.
	maskRules []maskRule
}

type descriptedPattern struct {
	Regexp      *regexp.Regexp
	Description string
}

type maskRule struct {
	Regexp *regexp.Regexp
	Mask   string
}

// Config supplies overrides for the default keyword sets (spec §6
// "security.keywords.{...}"). A nil or empty slice in any field means
// "use the built-in defaults" for that field.
type Config struct {
	SensitiveData      []string
	DangerousCommands  []string
	PromptManipulation []string
}

// Load builds a Registry from cfg, filling in defaults for anything left
// unset. Load is idempotent: calling it twice with the same cfg produces
// byte-for-byte equal keyword sets (though a fresh Registry value).
func Load(cfg Config) *Registry {
	r := &Registry{}

	r.SensitiveData = normalizeOrDefault(cfg.SensitiveData, defaultSensitiveData)
	r.PromptManipulation = normalizeOrDefault(cfg.PromptManipulation, defaultPromptManipulation)
	r.DangerousCommands = mergeDangerousCommands(cfg.DangerousCommands)

	r.PrivilegeEscalationCommands = append([]string(nil), defaultPrivilegeEscalation...)
	r.SuspiciousDirectories = append([]string(nil), defaultSuspiciousDirectories...)

	r.SuspiciousShell = compileAll(suspiciousShellSources)
	r.ContextSwitching = compileAll(contextSwitchingSources)
	r.DangerousHTTP = compileAll(dangerousHTTPSources)
	r.SuspiciousSQL = compileAll(suspiciousSQLSources)
	r.SQLInjection = compileAll(sqlInjectionSources)
	r.MCPCommandExtraction = compileAll(mcpCommandExtractionSources)

	r.ShellAccessNetwork = compileDescribed(shellAccessNetworkSources)
	r.MCPShellTransition = compileDescribed(mcpShellTransitionSources)

	r.maskRules = buildMaskRules()

	return r
}

func normalizeOrDefault(cfg, def []string) []string {
	if len(cfg) == 0 {
		return append([]string(nil), def...)
	}
	return append([]string(nil), cfg...)
}

// mergeDangerousCommands mirrors the original's _load_keywords: the core
// SQL verbs are always present (for the scanner's context-sensitive SQL
// matching, see security package) regardless of what config supplies;
// config-supplied commands replace the default command list and are
// added on top of the SQL verbs.
func mergeDangerousCommands(cfg []string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(s string) {
		if s == "" || seen[s] {
			return
		}
		seen[s] = true
		out = append(out, s)
	}
	for _, v := range sqlVerbs {
		add(v)
	}
	base := cfg
	if len(base) == 0 {
		base = defaultDangerousCommands
	}
	for _, v := range base {
		add(v)
	}
	return out
}

func compileAll(sources []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(sources))
	for _, s := range sources {
		out = append(out, regexp.MustCompile(s))
	}
	return out
}

func compileDescribed(sources []descSource) []descriptedPattern {
	out := make([]descriptedPattern, 0, len(sources))
	for _, s := range sources {
		out = append(out, descriptedPattern{Regexp: regexp.MustCompile(s.pattern), Description: s.description})
	}
	return out
}

type descSource struct {
	pattern     string
	description string
}

// sqlVerbs are the SQL-like tokens that require context-sensitive
// matching (spec §4.3). Always present in DangerousCommands so the
// scanner can apply its context rules to them even if the caller
// supplies no config at all.
var sqlVerbs = []string{
	"drop", "delete", "truncate", "alter", "create", "insert",
	"update", "select", "exec", "shutdown", "format", "eval",
}

var defaultDangerousCommands = []string{
	"drop table", "delete from", "rm -rf", "exec(", "system(", "eval(",
	"curl", "wget", "nc", "netcat", "ncat", "telnet", "scp", "sftp", "ftp",
	"chmod", "chown", "chattr", "usermod", "visudo", "mkfs", "dd",
	"ssh", "ssh-keygen", "sshd", "rsh", "rexec",
	"shred", "rmdir", "srm",
	"nohup", "xargs", "crontab",
	"perl -e", "python -c", "ruby -e", "php -r", "node -e", "bash -c",
	"bash -i", "/dev/tcp/",
	"strace", "ltrace", "ptrace",
	"iptables", "systemctl", "netsh",
	"nmap", "masscan", "nikto", "gobuster",
	"mimikatz", "metasploit", "msfvenom",
}

var defaultSensitiveData = []string{
	"password", "api_key", "token", "secret", "ssn", "credit card",
	"social security", "private key", "access key",
}

var defaultPromptManipulation = []string{
	"ignore previous", "disregard", "bypass", "jailbreak", "hack", "exploit",
	"ignore previous instructions", "act as", "pretend you are",
}

var defaultPrivilegeEscalation = []string{
	"sudo", "su ", "pkexec", "doas", "gksudo", "kdesudo", "setuid", "setgid",
	"chown root", "chmod u+s", "chmod +s", "polkit",
	"runas", "psexec", "schtasks", "reg add",
}

var defaultSuspiciousDirectories = []string{
	"/tmp", "/dev/shm", "/var/tmp", "/run/user", "/run/shm", "/var/run",
	"/proc/self/fd", "/proc/self/maps", "/proc/self/mem",
	"/var/www/html/uploads", "/var/www/tmp",
	"\\temp", "\\appdata\\local\\temp", "\\users\\public", "\\windows\\temp",
	"/.git", "/.ssh", "/.gnupg", "/.aws",
}

// suspiciousShellSources: command chaining, redirection, substitution,
// exfil-shaped tool invocations. Adapted from security_patterns.py
// get_suspicious_shell_patterns and shell.go's defaultDenyPatterns.
var suspiciousShellSources = []string{
	`(;|\|\||&&|\|)\s*\w+`,
	`(>\s*[\w/.]+|>>\s*[\w/.]+|<\s*[\w/.]+)`,
	"`.*`|\\$\\(.*\\)",
	`\b(curl|wget|nc|ncat|netcat)\b.*\b(download|http|ftp|tcp)\b`,
	`\b(touch|cat|echo)\b.*(/etc/|/tmp/|/var/|C:\\Windows\\|%TEMP%)`,
	`\b(curl|wget|nc)\b.*([0-9]{1,3}\.[0-9]{1,3}\.[0-9]{1,3}\.[0-9]{1,3}|http://|https://)`,
	`(\$[A-Za-z0-9_]+\s*=.*;\s*\$[A-Za-z0-9_]+)`,
	`(?i)(base64|hex|eval|exec)\b`,
	`\brm\s+-[rf]{1,2}\b`,
	`:\(\)\s*\{.*\};\s*:`,
}

var contextSwitchingSources = []string{
	`(?i)enable[_\s]*(shell|command|exec|system)`,
	`(?i)(activate|trigger|switch[_\s]*to)[_\s]*(shell|command|exec|system)`,
	`(?i)(mode|context)[_\s]*=[_\s]*(shell|command|exec|true|1)`,
	`(?i)(set|change|modify)[_\s]*(mode|context|environment|privilege)`,
	`(?i)([a-z_]+_){2,}(mode|shell|command|exec|context)`,
	`(?i)(exec|system|shell)[_\s]*(command|call|function)`,
	`(?i)(cmd|shell|os|sys|exec)[_\s]*(access|enabled|mode)`,
	`(?i)(is|allow|enable)[_\s]*(shell|command|exec)[_\s]*(access|mode)`,
}

// dangerousHTTPSources: reverse shells / encoded exec over HTTP bodies
// (spec §4.7.5 "dangerous HTTP patterns").
var dangerousHTTPSources = []string{
	`(?i)\bcurl\b.*\|\s*(ba)?sh\b`,
	`(?i)\bwget\b.*-O\s*-\s*\|\s*(ba)?sh\b`,
	`(?i)\bbase64\s+-d\b.*\|\s*(ba)?sh\b`,
	`(?i)(bash|sh|cmd|powershell)\s+(-[ec]|--exec|-i)\s`,
	`(?i)/bin/(sh|bash)\b`,
	`(?i)\bexec\s*\(`,
	`(?i)\bsystem\s*\(`,
}

// suspiciousSQLSources matches the classic-SQLi shapes plus, per
// http_patcher.py's `_scan_http_body_for_sql` gate (`("SELECT" in content
// and "FROM" in content) or "WHERE" in content`), any ordinary
// SELECT...FROM/WHERE-clause query — the traffic shape a SQL-to-shell
// pivot rides in on (spec §4.7.5, scenario 5) — and the
// enable-shell/mode-switching family http_patcher.py's
// SUSPICIOUS_SQL_PATTERNS lists under "Mode switching attempts".
var suspiciousSQLSources = []string{
	`(?i)('|")\s*(OR|AND)\s*('|")\s*=\s*('|")`,
	`(?i);\s*(DROP|DELETE|UPDATE|INSERT|ALTER)`,
	`(?i)UNION\s+(ALL\s+)?SELECT`,
	`--\s`,
	`/\*.*\*/`,
	`(?i)\bSELECT\b.*\bFROM\b`,
	`(?i)\bWHERE\b\s+\w+\s*=`,
	`(?i)enable[-_\s]*shell`,
	`(?i)ENABLE.*SHELL`,
	`(?i)SWITCH.*MODE.*SHELL`,
	`(?i)SET.*MODE.*UNSAFE`,
}

var sqlInjectionSources = []string{
	`(?i)('|")\s*(OR|AND)\s*('|")\s*=\s*('|")`,
	`(?i);\s*(DROP|DELETE|UPDATE|INSERT|ALTER)`,
	`(?i)UNION\s+(ALL\s+)?SELECT`,
	`--\s`,
	`#\s*$`,
	`/\*.*\*/`,
	`(?i)SLEEP\s*\(\s*\d+\s*\)`,
	`(?i)BENCHMARK\s*\(`,
	`(?i)WAITFOR\s+DELAY`,
	`(?i)INFORMATION_SCHEMA`,
	`(?i)LOAD_FILE\s*\(`,
	`(?i)INTO\s+OUTFILE`,
	`(?i)DUMPFILE`,
	`(?i)(EXEC|EXECUTE|CALL|SYSTEM_EXEC|XP_CMDSHELL)(\s*\(|\s+)`,
	`(?i)(os\.|sys\.|dbms_).*\.(exec|shell|command|system)`,
	`\{\s*\$where\s*:\s*`,
	`\$ne\s*:`,
	`\$gt\s*:`,
	`\$or\s*:`,
}

// mcpCommandExtractionSources pull a candidate shell token out of a SQL
// statement that has already passed the high-risk gate (spec §4.8).
var mcpCommandExtractionSources = []string{
	`(?i)enable-shell['"]?\s*,?\s*['"]([^'"]{3,80})['"]`,
	`'([^']*(?:/bin/|cmd\.exe|;|\||`+"`"+`)[^']{0,80})'`,
	`"([^"]*(?:/bin/|cmd\.exe|;|\||`+"`"+`)[^"]{0,80})"`,
	`(?i)mode\s*[:=]\s*['"]?(shell|exec|system)['"]?`,
}

var shellAccessNetworkSources = []descSource{
	{`(\$|#|>)\s+(ls|pwd|whoami|id|echo|cat|ps|mkdir|cd)\s`, "shell command prompt detected in traffic"},
	{`uid=\d+\(\w+\)\s+gid=\d+\(\w+\)`, "shell id/whoami command response detected"},
	{`total\s+\d+\s*\n[-d][-rwx]{9}\s+\d+\s+\w+\s+\w+`, "directory listing response detected"},
	{"\x1b" + `\[\d+[mABCDHJKhu]`, "terminal control sequences detected in traffic"},
	{`(python\s+-c\s+['"](import pty; pty\.spawn\(|import tty|exec pty\.spawn)|stty raw -echo|script -q|socat)`, "interactive shell/tty upgrade attempt detected"},
	{`(uname -a|cat /etc/(passwd|shadow|issue|os-release)|cat /proc/version|hostnamectl|systeminfo|ver\b)`, "system information gathering commands detected"},
	{`(base64 -d|xxd|hexdump|openssl|dd if=)`, "binary data transfer/encoding detected"},
	{`(sh|bash|cmd|powershell|python|perl|ruby|php)\s+(-[ec]|--exec|-i)\s`, "reverse shell execution pattern detected"},
	{`(sh-\d+\.\d+[$#>]|bash-\d+\.\d+[$#>]|Microsoft Windows \[.*\]|Copyright \(c\) \d+ Microsoft Corporation)`, "shell session banner detected"},
	{`(Special username trigger detected|Switching to Shell Command mode|ATTACK MODE ACTIVATED)`, "mcp to shell transition pattern detected"},
	{`(All queries are now being executed as shell commands|/bin/sh: [^:]+: command not found)`, "shell command execution after mcp transition detected"},
}

var mcpShellTransitionSources = []descSource{
	{`SWITCH_TO_SHELL_MODE|enable-shell|SHELL_ACCESS_REQUEST`, "mcp shell mode activation trigger detected"},
	{`(Switching|Switched) to [Ss]hell [Cc]ommand mode`, "shell command mode transition detected"},
	{`ATTACK MODE ACTIVATED|VICTIM HAS BEEN COMPROMISED`, "successful attack mode activation detected"},
	{`Format: "[^"]+"\?|All queries are now being executed as|executed as shell commands`, "shell command execution instructions detected"},
	{`/bin/sh: [^:]+: command not found`, "shell command error response detected"},
}
