package secpatterns

import "regexp"

// buildMaskRules defines the in-place masking applied to event payloads
// before they reach any sink (spec §4.2, §8 invariant 6: masking is
// idempotent and a masked credit-card pattern renders as
// "****-****-****-****", a masked SSN as "***-**-****").
func buildMaskRules() []maskRule {
	return []maskRule{
		{regexp.MustCompile(`\b\d{4}[- ]\d{4}[- ]\d{4}[- ]\d{4}\b`), "****-****-****-****"},
		{regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "***-**-****"},
		{regexp.MustCompile(`(?i)\b(api[_-]?key|access[_-]?key)["']?\s*[:=]\s*["']?[A-Za-z0-9_\-]{12,}["']?`), "$1=****"},
		{regexp.MustCompile(`(?i)\b(password|passwd|pwd)["']?\s*[:=]\s*["']?\S+`), "$1=****"},
		{regexp.MustCompile(`(?i)\b(token|secret)["']?\s*[:=]\s*["']?[A-Za-z0-9_\-\.]{8,}["']?`), "$1=****"},
		{regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`), "****PRIVATE KEY REDACTED****"},
	}
}

// MaskTextInPlace returns text with every recognized sensitive-data
// pattern replaced by its mask. Masking is idempotent: re-masking already
// masked text is a no-op since the masks themselves never match the
// source patterns again.
func (r *Registry) MaskTextInPlace(text string) string {
	out := text
	for _, rule := range r.maskRules {
		out = rule.Regexp.ReplaceAllString(out, rule.Mask)
	}
	return out
}
