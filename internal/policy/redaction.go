package policy

import "regexp"

type redactionRule struct {
	pattern *regexp.Regexp
	marker  string
}

// Card runs before phone so long digit runs are not reported as phone numbers.
var redactionRules = []redactionRule{
	{pattern: regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), marker: "[REDACTED_EMAIL]"},
	{pattern: regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`), marker: "[REDACTED_CARD]"},
	{pattern: regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`), marker: "[REDACTED_PHONE]"},
}

// RedactPII masks common high-risk PII patterns.
func RedactPII(input string) (redacted string, changed bool) {
	out := input
	for _, rule := range redactionRules {
		next := rule.pattern.ReplaceAllString(out, rule.marker)
		changed = changed || next != out
		out = next
	}
	return out, changed
}

// Redact is RedactPII without the change flag, for use as a plain text filter
// on query logs and persisted metrics.
func Redact(input string) string {
	out, _ := RedactPII(input)
	return out
}
