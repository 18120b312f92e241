// Package security implements the process-wide content scanner (spec
// §4.3). It classifies event payloads into none/suspicious/dangerous
// using the keyword sets from secpatterns, reproducing the
// context-sensitive SQL-verb matching of cylestio-monitor's
// security_detection/scanner.py so that common English words that
// happen to collide with SQL verbs (e.g. "dropdown menu") don't trip a
// false positive.
package security

import (
	"regexp"
	"strings"
	"sync"

	"github.com/nextlevelbuilder/sentryflect/secpatterns"
)

// AlertLevel is the three-bucket severity a scan resolves to.
type AlertLevel string

const (
	AlertNone       AlertLevel = "none"
	AlertSuspicious AlertLevel = "suspicious"
	AlertDangerous  AlertLevel = "dangerous"
)

// Category further qualifies an alert: suspicious results carry
// prompt_manipulation or sensitive_data, dangerous results carry
// dangerous_commands. Empty for none.
type Category string

const (
	CategoryNone               Category = ""
	CategoryPromptManipulation Category = "prompt_manipulation"
	CategorySensitiveData      Category = "sensitive_data"
	CategoryDangerousCommands  Category = "dangerous_commands"
)

// Result is the outcome of a scan.
type Result struct {
	AlertLevel AlertLevel
	Category   Category
	Keywords   []string
}

var noneResult = Result{AlertLevel: AlertNone, Keywords: []string{}}

// Scanner is the singleton content scanner. Obtain it via GetInstance.
type Scanner struct {
	patterns *secpatterns.Registry
}

var (
	instanceMu   sync.Mutex
	instance     *Scanner
	initialized  bool
)

// GetInstance returns the process-wide Scanner, constructing it on first
// call from cfg. Subsequent calls ignore cfg and return the existing
// instance — mirrors the teacher's lazily-initialized singleton idiom
// (a mutex-guarded lazy init), matching cylestio-monitor's
// SecurityScanner.__new__/_initialize.
func GetInstance(cfg secpatterns.Config) *Scanner {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	if initialized {
		return instance
	}
	instance = &Scanner{patterns: secpatterns.Load(cfg)}
	initialized = true
	return instance
}

// Reset clears the singleton so the next GetInstance call reconstructs
// it from a fresh Config. monitor.StopMonitoring calls this so a
// following StartMonitoring can apply new pattern overrides.
func Reset() {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	instance = nil
	initialized = false
}

// ResetForTest is Reset, named for call sites in _test.go files.
func ResetForTest() {
	Reset()
}

// ScanText classifies a raw string. An empty string always scans clean.
func (s *Scanner) ScanText(text string) Result {
	if strings.TrimSpace(text) == "" {
		return noneResult
	}

	if kw, ok := s.firstDangerousMatch(text); ok {
		return Result{AlertLevel: AlertDangerous, Category: CategoryDangerousCommands, Keywords: []string{kw}}
	}
	if kws := s.wordBoundaryMatches(s.patterns.PromptManipulation, text); len(kws) > 0 {
		return Result{AlertLevel: AlertSuspicious, Category: CategoryPromptManipulation, Keywords: kws}
	}
	if kws := s.wordBoundaryMatches(s.patterns.SensitiveData, text); len(kws) > 0 {
		return Result{AlertLevel: AlertSuspicious, Category: CategorySensitiveData, Keywords: kws}
	}
	return noneResult
}

// Event is the minimal shape ScanEvent needs; it mirrors the duck-typed
// attribute precedence of the original's _extract_text_from_event.
type Event struct {
	Content    string
	Prompt     string
	Command    string
	Attributes map[string]any
}

// ScanEventWith extracts the most relevant text from ev and scans it. A nil
// or entirely empty Event always scans clean.
func ScanEventWith(s *Scanner, ev *Event) Result {
	if ev == nil {
		return noneResult
	}
	return s.ScanText(extractText(ev))
}

// ScanEvent is the method form of ScanEventWith for convenience.
func (s *Scanner) ScanEvent(ev *Event) Result {
	return ScanEventWith(s, ev)
}

func extractText(ev *Event) string {
	if ev.Content != "" {
		return ev.Content
	}
	if ev.Prompt != "" {
		return ev.Prompt
	}
	if ev.Command != "" {
		return ev.Command
	}
	if ev.Attributes == nil {
		return ""
	}
	if v, ok := ev.Attributes["llm.response.content"]; ok {
		if s, ok := stringify(v); ok {
			return s
		}
	}
	if v, ok := ev.Attributes["llm.request.data.messages"]; ok {
		if s, ok := stringify(v); ok {
			return s
		}
	}
	if v, ok := ev.Attributes["llm.request.data.prompt"]; ok {
		if s, ok := stringify(v); ok {
			return s
		}
	}
	var b strings.Builder
	for k, v := range ev.Attributes {
		b.WriteString(k)
		b.WriteString("=")
		if s, ok := stringify(v); ok {
			b.WriteString(s)
		}
		b.WriteString(" ")
	}
	return b.String()
}

func stringify(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case []any:
		var parts []string
		for _, e := range t {
			if m, ok := e.(map[string]any); ok {
				if txt, ok := m["text"].(string); ok {
					parts = append(parts, txt)
					continue
				}
			}
			if s, ok := stringify(e); ok {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, " "), len(parts) > 0
	default:
		return "", false
	}
}

// sqlContextTerms / sqlSyntaxTokens / executionIntentTerms co-occurrence
// requirements for the 12 SQL-like verbs (spec §4.3 context rules).
var (
	sqlContextTerms = []string{
		"table", "database", "schema", "column", "index", "view",
		"function", "procedure", "trigger", "sql", "query", "db",
		"command", "statement",
	}
	sqlSyntaxTokens     = []string{"select", "from", "where", "alter", "create", "insert", "update", "delete", ";", "--", "/*", "*/"}
	executionIntentTerms = []string{"command", "run", "execute", "shell", "terminal", "bash", "cmd", "powershell", "executing"}

	sqlVerbSet = map[string]bool{
		"drop": true, "delete": true, "truncate": true, "alter": true, "create": true,
		"insert": true, "update": true, "select": true, "exec": true, "shutdown": true,
		"format": true, "eval": true,
	}
)

// firstDangerousMatch applies the simple_text_match rules from
// cylestio-monitor's scanner.py: SQL-shaped verbs require context;
// everything else in DangerousCommands is a plain substring match.
func (s *Scanner) firstDangerousMatch(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, kw := range s.patterns.DangerousCommands {
		if simpleTextMatch(kw, lower, text) {
			return matchedSpan(kw, lower, text), true
		}
	}
	return "", false
}

// matchedSpan returns the original-case substring of origText that
// matched keyword, falling back to keyword itself if the span can't be
// located (spec §8.3 expects the matched text verbatim, e.g. "DROP").
func matchedSpan(keyword, lowerText, origText string) string {
	lowerKw := strings.ToLower(keyword)
	if idx := strings.Index(lowerText, lowerKw); idx >= 0 && idx+len(lowerKw) <= len(origText) {
		return origText[idx : idx+len(lowerKw)]
	}
	return keyword
}

func simpleTextMatch(keyword, lowerText, origText string) bool {
	lowerKw := strings.ToLower(keyword)

	if strings.ContainsAny(keyword, " (-") {
		return strings.Contains(lowerText, lowerKw)
	}

	if !sqlVerbSet[lowerKw] {
		return strings.Contains(lowerText, lowerKw)
	}

	if lowerText == lowerKw {
		return true
	}

	// An uppercase occurrence of the exact token (e.g. "DROP") always
	// matches, whatever the surrounding context.
	if wordBoundaryFind(strings.ToUpper(lowerKw), origText) {
		return true
	}

	if !wordBoundaryFind(lowerKw, lowerText) {
		if isUpperWord(keyword) && strings.Contains(origText, keyword) {
			return true
		}
		return false
	}

	switch lowerKw {
	case "drop":
		if containsAny(lowerText, "table", "database", "db", "index", "column") {
			return true
		}
		return regexp.MustCompile(`drop.*table|drop.*database`).MatchString(lowerText)
	case "format":
		return containsAny(lowerText, "disk", "drive", "hard", "partition", "memory")
	case "exec", "eval":
		return containsAny(lowerText, "code", "script", "function", "command")
	case "shutdown":
		return containsAny(lowerText, "server", "system", "computer", "machine")
	default:
		// Context must come from text other than the verb itself ("select"
		// is one of the syntax tokens, "truncate" contains "run").
		ctx := strings.ReplaceAll(lowerText, lowerKw, " ")
		if containsAny(ctx, sqlContextTerms...) || containsAny(ctx, sqlSyntaxTokens...) || containsAny(ctx, executionIntentTerms...) {
			return true
		}
		if isUpperWord(keyword) && strings.Contains(origText, keyword) {
			return true
		}
		return false
	}
}

func (s *Scanner) wordBoundaryMatches(keywords []string, text string) []string {
	lower := strings.ToLower(text)
	var out []string
	for _, kw := range keywords {
		lkw := strings.ToLower(kw)
		if strings.Contains(kw, " ") {
			if strings.Contains(lower, lkw) {
				out = append(out, kw)
			}
			continue
		}
		if wordBoundaryFind(lkw, lower) {
			out = append(out, kw)
		}
	}
	return out
}

func wordBoundaryFind(word, text string) bool {
	re, err := regexp.Compile(`\b` + regexp.QuoteMeta(word) + `\b`)
	if err != nil {
		return strings.Contains(text, word)
	}
	return re.MatchString(text)
}

func containsAny(text string, terms ...string) bool {
	for _, t := range terms {
		if strings.Contains(text, t) {
			return true
		}
	}
	return false
}

func isUpperWord(s string) bool {
	return s == strings.ToUpper(s) && s != strings.ToLower(s)
}
