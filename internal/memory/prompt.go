package memory

import (
	"fmt"
	"strings"
)

// PreferenceLanguage selects the reply tone: "formal" or "casual".
const PreferenceLanguage = "language"

const (
	basePrompt = "You are a friendly and helpful AI assistant. " +
		"You remember what we talked about earlier and keep your replies consistent with it."
	formalTone = " Please reply in a formal tone."
	casualTone = " Please reply in a relaxed, casual tone."

	// Conversations shorter than this get no running-length line.
	historyMentionThreshold = 10
)

// SystemPrompt derives the personalized system instruction for m. It is
// recomputed on every call, so preference changes apply immediately.
func SystemPrompt(m UserMemory) string {
	var b strings.Builder
	b.WriteString(basePrompt)

	switch strings.ToLower(strings.TrimSpace(m.Preferences[PreferenceLanguage])) {
	case "formal":
		b.WriteString(formalTone)
	case "casual":
		b.WriteString(casualTone)
	}

	if m.TotalMessages > historyMentionThreshold {
		fmt.Fprintf(&b, " We have exchanged %d messages so far.", m.TotalMessages)
	}
	return b.String()
}
