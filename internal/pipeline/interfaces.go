// Package pipeline runs one conversational turn (speech to text, reply
// generation, text to speech) with the memory service supplying history.
package pipeline

import (
	"context"

	"github.com/shaobai0824/model-api/internal/memory"
)

// Transcriber converts recorded audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// Generator produces the assistant reply for a role-tagged conversation.
// The last element is the user's newest message.
type Generator interface {
	Generate(ctx context.Context, messages []memory.ContextMessage) (string, error)
}

// Synthesizer renders reply text as audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}
