package pipeline

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/shaobai0824/model-api/internal/memory"
)

const (
	mockSampleRate = 16000
	// Silence per character of reply text, in 16-bit samples.
	mockSamplesPerRune = 160
)

// MockProvider is a local stand-in for real speech and language providers.
type MockProvider struct{}

var (
	_ Transcriber = MockProvider{}
	_ Generator   = MockProvider{}
	_ Synthesizer = MockProvider{}
)

func NewMockProvider() MockProvider { return MockProvider{} }

// Transcribe reports a fixed utterance for any non-empty input.
func (MockProvider) Transcribe(_ context.Context, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", nil
	}
	return "simulated voice input", nil
}

// Generate echoes the newest user message.
func (MockProvider) Generate(_ context.Context, msgs []memory.ContextMessage) (string, error) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == memory.RoleUser {
			return "You said: " + strings.TrimSpace(msgs[i].Content), nil
		}
	}
	return "Hello! How can I help?", nil
}

// Synthesize returns a silent mono WAV clip whose length tracks the text.
func (MockProvider) Synthesize(_ context.Context, text string) ([]byte, error) {
	pcm := make([]byte, 2*mockSamplesPerRune*len([]rune(text)))
	return encodeWAV(pcm, mockSampleRate)
}

type wavHeader struct {
	RIFF          [4]byte
	ChunkSize     uint32
	WAVE          [4]byte
	Fmt           [4]byte
	FmtSize       uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Data          [4]byte
	DataSize      uint32
}

// encodeWAV wraps PCM16LE mono samples in a WAV container.
func encodeWAV(pcm []byte, sampleRate int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	h := wavHeader{
		RIFF:          [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + uint32(len(pcm)),
		WAVE:          [4]byte{'W', 'A', 'V', 'E'},
		Fmt:           [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   1,
		NumChannels:   1,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * 2),
		BlockAlign:    2,
		BitsPerSample: 16,
		Data:          [4]byte{'d', 'a', 't', 'a'},
		DataSize:      uint32(len(pcm)),
	}
	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))
	if err := binary.Write(&buf, binary.LittleEndian, h); err != nil {
		return nil, err
	}
	buf.Write(pcm)
	return buf.Bytes(), nil
}
