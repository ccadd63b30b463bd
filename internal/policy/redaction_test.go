package policy

import (
	"strings"
	"testing"
)

func TestRedact(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		markers []string
		kinds   []string
	}{
		{
			name:    "all kinds",
			input:   "Email me at sam@example.com or +1 (555) 123-9876 and use 4242 4242 4242 4242.",
			markers: []string{"[REDACTED_EMAIL]", "[REDACTED_PHONE]", "[REDACTED_CARD]"},
			kinds:   []string{KindEmail, KindCard, KindPhone},
		},
		{
			name:    "card is not a phone",
			input:   "card 4111-1111-1111-1111 please",
			markers: []string{"[REDACTED_CARD]"},
			kinds:   []string{KindCard},
		},
		{
			name:  "clean",
			input: "what's the weather tomorrow?",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out, kinds := Redact(tc.input)
			for _, marker := range tc.markers {
				if !strings.Contains(out, marker) {
					t.Fatalf("output missing marker %q: %q", marker, out)
				}
			}
			if strings.Join(kinds, ",") != strings.Join(tc.kinds, ",") {
				t.Fatalf("kinds = %v, want %v", kinds, tc.kinds)
			}
			if len(tc.kinds) == 0 && out != tc.input {
				t.Fatalf("clean input changed: %q", out)
			}
		})
	}
}
