package memory

import (
	"strings"
	"testing"
)

func TestSystemPrompt(t *testing.T) {
	base := SystemPrompt(UserMemory{})

	tests := []struct {
		name     string
		mem      UserMemory
		contains string
		differs  bool
	}{
		{name: "default", mem: UserMemory{TotalMessages: 10}, differs: false},
		{name: "formal", mem: UserMemory{Preferences: map[string]string{PreferenceLanguage: "formal"}}, contains: "formal", differs: true},
		{name: "casual", mem: UserMemory{Preferences: map[string]string{PreferenceLanguage: " Casual "}}, contains: "casual", differs: true},
		{name: "unknown tone ignored", mem: UserMemory{Preferences: map[string]string{PreferenceLanguage: "pirate"}}, differs: false},
		{name: "long history", mem: UserMemory{TotalMessages: 42}, contains: "42 messages", differs: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := SystemPrompt(tc.mem)
			if !strings.HasPrefix(got, base) {
				t.Fatalf("SystemPrompt() = %q, want base prefix", got)
			}
			if tc.contains != "" && !strings.Contains(got, tc.contains) {
				t.Fatalf("SystemPrompt() = %q, want it to contain %q", got, tc.contains)
			}
			if (got != base) != tc.differs {
				t.Fatalf("SystemPrompt() = %q, differs from base = %v, want %v", got, got != base, tc.differs)
			}
		})
	}
}
