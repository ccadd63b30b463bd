package policy

import "regexp"

// PII kinds reported by Redact.
const (
	KindEmail = "email"
	KindCard  = "card"
	KindPhone = "phone"
)

type redactionRule struct {
	kind        string
	pattern     *regexp.Regexp
	replacement string
}

// Order matters: card numbers are matched before phone numbers so a long
// digit run is not reported as a phone.
var redactionRules = []redactionRule{
	{KindEmail, regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[REDACTED_EMAIL]"},
	{KindCard, regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`), "[REDACTED_CARD]"},
	{KindPhone, regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`), "[REDACTED_PHONE]"},
}

// Redact masks emails, card numbers and phone numbers in a message before it
// is stored. kinds lists what was masked, in rule order; it is empty when the
// input is returned unchanged.
func Redact(content string) (redacted string, kinds []string) {
	out := content
	for _, rule := range redactionRules {
		next := rule.pattern.ReplaceAllString(out, rule.replacement)
		if next != out {
			kinds = append(kinds, rule.kind)
			out = next
		}
	}
	return out, kinds
}
