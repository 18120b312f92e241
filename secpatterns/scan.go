package secpatterns

import "regexp"

// FamilyMatch is a hit against one of the named regex families, used by
// the RCE correlator and interceptors that need more than a yes/no
// keyword hit (spec §4.7.3-4.7.5, §4.8).
type FamilyMatch struct {
	Family      string
	Description string
	Excerpt     string
}

// MatchSuspiciousShell reports every suspicious-shell-pattern hit in text.
func (r *Registry) MatchSuspiciousShell(text string) []FamilyMatch {
	return matchPlain(r.SuspiciousShell, "suspicious_shell", text)
}

// MatchContextSwitching reports context-switching-pattern hits.
func (r *Registry) MatchContextSwitching(text string) []FamilyMatch {
	return matchPlain(r.ContextSwitching, "context_switching", text)
}

// MatchDangerousHTTP reports dangerous-HTTP-pattern hits.
func (r *Registry) MatchDangerousHTTP(text string) []FamilyMatch {
	return matchPlain(r.DangerousHTTP, "dangerous_http", text)
}

// MatchSuspiciousSQL reports suspicious-SQL-pattern hits (lighter weight
// than MatchSQLInjection; drives the §4.7.5 "Suspicious SQL Pattern in
// HTTP Traffic" alert). It is independent of the §4.8 MCP-extraction gate,
// which runs off rce.IsHighRiskSQL instead.
func (r *Registry) MatchSuspiciousSQL(text string) []FamilyMatch {
	return matchPlain(r.SuspiciousSQL, "suspicious_sql", text)
}

// MatchSQLInjection reports the full SQL-injection family.
func (r *Registry) MatchSQLInjection(text string) []FamilyMatch {
	return matchPlain(r.SQLInjection, "sql_injection", text)
}

// MatchShellAccessNetwork reports shell-access-over-network hits, each
// carrying the human description from the source pattern.
func (r *Registry) MatchShellAccessNetwork(text string) []FamilyMatch {
	return matchDescribed(r.ShellAccessNetwork, "shell_access_network", text)
}

// MatchMCPShellTransition reports MCP-to-shell transition hits.
func (r *Registry) MatchMCPShellTransition(text string) []FamilyMatch {
	return matchDescribed(r.MCPShellTransition, "mcp_shell_transition", text)
}

// ExtractMCPCommand returns the first plausible shell command substring
// pulled out of a SQL statement. Callers gate this on rce.IsHighRiskSQL
// first (spec §4.8: "Gate first on high-risk indicators...if none
// present, skip"); ExtractMCPCommand itself applies no gate. ok is false
// if nothing was extracted.
func (r *Registry) ExtractMCPCommand(text string) (cmd string, ok bool) {
	for _, re := range r.MCPCommandExtraction {
		if m := re.FindStringSubmatch(text); len(m) > 1 {
			for _, g := range m[1:] {
				if g != "" {
					return g, true
				}
			}
		}
	}
	return "", false
}

func matchPlain(res []*regexp.Regexp, family, text string) []FamilyMatch {
	var out []FamilyMatch
	for _, re := range res {
		if loc := re.FindStringIndex(text); loc != nil {
			out = append(out, FamilyMatch{Family: family, Excerpt: excerpt(text, loc[0], loc[1])})
		}
	}
	return out
}

func matchDescribed(ps []descriptedPattern, family, text string) []FamilyMatch {
	var out []FamilyMatch
	for _, p := range ps {
		if loc := p.Regexp.FindStringIndex(text); loc != nil {
			out = append(out, FamilyMatch{Family: family, Description: p.Description, Excerpt: excerpt(text, loc[0], loc[1])})
		}
	}
	return out
}

func excerpt(text string, start, end int) string {
	const pad = 20
	lo := start - pad
	if lo < 0 {
		lo = 0
	}
	hi := end + pad
	if hi > len(text) {
		hi = len(text)
	}
	return text[lo:hi]
}
