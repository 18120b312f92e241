package secpatterns

import "testing"

func TestLoad_DefaultsIncludeSQLVerbs(t *testing.T) {
	r := Load(Config{})
	has := make(map[string]bool)
	for _, k := range r.DangerousCommands {
		has[k] = true
	}
	for _, v := range sqlVerbs {
		if !has[v] {
			t.Errorf("DangerousCommands missing core sql verb %q", v)
		}
	}
}

func TestLoad_ConfigAddsOnTopOfSQLVerbs(t *testing.T) {
	r := Load(Config{DangerousCommands: []string{"launch-missiles"}})
	has := make(map[string]bool)
	for _, k := range r.DangerousCommands {
		has[k] = true
	}
	if !has["launch-missiles"] {
		t.Error("custom dangerous command not merged in")
	}
	if !has["drop"] {
		t.Error("core sql verbs must survive even with custom config")
	}
}

func TestMaskTextInPlace_CreditCard(t *testing.T) {
	r := Load(Config{})
	out := r.MaskTextInPlace("card: 4111-1111-1111-1111 exp 12/30")
	if got, want := out, "card: ****-****-****-**** exp 12/30"; got != want {
		t.Errorf("MaskTextInPlace() = %q, want %q", got, want)
	}
}

func TestMaskTextInPlace_SSN(t *testing.T) {
	r := Load(Config{})
	out := r.MaskTextInPlace("ssn 123-45-6789 on file")
	if got, want := out, "ssn ***-**-**** on file"; got != want {
		t.Errorf("MaskTextInPlace() = %q, want %q", got, want)
	}
}

func TestMaskTextInPlace_Idempotent(t *testing.T) {
	r := Load(Config{})
	once := r.MaskTextInPlace("ssn 123-45-6789")
	twice := r.MaskTextInPlace(once)
	if once != twice {
		t.Errorf("masking not idempotent: %q != %q", once, twice)
	}
}

func TestMatchSuspiciousShell_Chaining(t *testing.T) {
	r := Load(Config{})
	got := r.MatchSuspiciousShell("echo hi; rm -rf /tmp/x")
	if len(got) == 0 {
		t.Error("expected a suspicious_shell match on command chaining")
	}
}

func TestExtractMCPCommand(t *testing.T) {
	r := Load(Config{})
	cmd, ok := r.ExtractMCPCommand(`INSERT INTO t VALUES ('enable-shell', '/bin/sh -c id')`)
	if !ok || cmd == "" {
		t.Errorf("ExtractMCPCommand() = %q, %v; want a non-empty extraction", cmd, ok)
	}
}

func TestMatchMCPShellTransition(t *testing.T) {
	r := Load(Config{})
	got := r.MatchMCPShellTransition("ATTACK MODE ACTIVATED: VICTIM HAS BEEN COMPROMISED")
	if len(got) == 0 {
		t.Error("expected an mcp_shell_transition match")
	}
}
