package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shaobai0824/model-api/internal/memory"
	"github.com/shaobai0824/model-api/internal/service"
)

// ErrEmptyTranscript is returned when speech recognition yields no text.
var ErrEmptyTranscript = errors.New("pipeline: empty transcript")

const (
	defaultGenerateAttempts = 3
	defaultRetryBase        = 200 * time.Millisecond
	defaultRetryMax         = 2 * time.Second
)

type Config struct {
	// GenerateAttempts bounds reply generation tries; <= 0 uses 3.
	GenerateAttempts int
	RetryBase        time.Duration
	RetryMax         time.Duration
	Logger           *slog.Logger
}

// Turn is the outcome of one handled utterance.
type Turn struct {
	UserID     string        `json:"user_id"`
	Transcript string        `json:"transcript"`
	Reply      string        `json:"reply"`
	Audio      []byte        `json:"-"`
	Elapsed    time.Duration `json:"elapsed"`
}

type Pipeline struct {
	memory      *service.Service
	transcriber Transcriber
	generator   Generator
	synthesizer Synthesizer

	attempts  int
	retryBase time.Duration
	retryMax  time.Duration
	logger    *slog.Logger
	sleep     func(context.Context, time.Duration) error
}

func New(svc *service.Service, stt Transcriber, llm Generator, tts Synthesizer, cfg Config) *Pipeline {
	p := &Pipeline{
		memory:      svc,
		transcriber: stt,
		generator:   llm,
		synthesizer: tts,
		attempts:    cfg.GenerateAttempts,
		retryBase:   cfg.RetryBase,
		retryMax:    cfg.RetryMax,
		logger:      cfg.Logger,
		sleep:       sleepCtx,
	}
	if p.attempts <= 0 {
		p.attempts = defaultGenerateAttempts
	}
	if p.retryBase <= 0 {
		p.retryBase = defaultRetryBase
	}
	if p.retryMax < p.retryBase {
		p.retryMax = defaultRetryMax
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	p.logger = p.logger.With("component", "pipeline")
	return p
}

// HandleVoice transcribes audio, records it as the user's voice message,
// generates a reply from the stored context and synthesizes it.
func (p *Pipeline) HandleVoice(ctx context.Context, userID string, audio []byte) (Turn, error) {
	if p.transcriber == nil || p.synthesizer == nil {
		return Turn{}, errors.New("pipeline: voice turn requires a transcriber and a synthesizer")
	}
	start := time.Now()

	text, err := p.transcriber.Transcribe(ctx, audio)
	if err != nil {
		return Turn{}, fmt.Errorf("transcribe: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Turn{}, ErrEmptyTranscript
	}

	turn, err := p.respond(ctx, userID, text, memory.MessageTypeVoice)
	if err != nil {
		return Turn{}, err
	}

	turn.Audio, err = p.synthesizer.Synthesize(ctx, turn.Reply)
	if err != nil {
		return turn, fmt.Errorf("synthesize: %w", err)
	}
	turn.Elapsed = time.Since(start)
	p.logger.Info("voice turn complete", "user_id", userID, "elapsed_ms", turn.Elapsed.Milliseconds(), "audio_bytes", len(turn.Audio))
	return turn, nil
}

// HandleText runs a turn for typed input; no speech recognition or synthesis.
func (p *Pipeline) HandleText(ctx context.Context, userID, text string) (Turn, error) {
	start := time.Now()
	turn, err := p.respond(ctx, userID, text, memory.MessageTypeText)
	if err != nil {
		return Turn{}, err
	}
	turn.Elapsed = time.Since(start)
	return turn, nil
}

func (p *Pipeline) respond(ctx context.Context, userID, text, msgType string) (Turn, error) {
	if p.generator == nil {
		return Turn{}, errors.New("pipeline: no generator configured")
	}
	if err := p.memory.AddMessage(ctx, service.AddMessageRequest{
		UserID:      userID,
		Role:        string(memory.RoleUser),
		Content:     text,
		MessageType: msgType,
	}); err != nil {
		return Turn{}, fmt.Errorf("record user message: %w", err)
	}

	window, err := p.memory.GetContext(ctx, service.GetContextRequest{UserID: userID, IncludeSystemPrompt: true})
	if err != nil {
		return Turn{}, fmt.Errorf("load context: %w", err)
	}

	reply, err := p.generate(ctx, window.Context)
	if err != nil {
		return Turn{}, err
	}

	if err := p.memory.AddMessage(ctx, service.AddMessageRequest{
		UserID:      userID,
		Role:        string(memory.RoleAssistant),
		Content:     reply,
		MessageType: memory.MessageTypeText,
	}); err != nil {
		return Turn{}, fmt.Errorf("record assistant reply: %w", err)
	}

	return Turn{UserID: strings.TrimSpace(userID), Transcript: text, Reply: reply}, nil
}

func (p *Pipeline) generate(ctx context.Context, msgs []memory.ContextMessage) (string, error) {
	var lastErr error
	for attempt := 0; attempt < p.attempts; attempt++ {
		if attempt > 0 {
			wait := backoff(attempt-1, p.retryBase, p.retryMax)
			p.logger.Warn("retrying reply generation", "attempt", attempt+1, "wait_ms", wait.Milliseconds(), "error", lastErr)
			if err := p.sleep(ctx, wait); err != nil {
				return "", err
			}
		}
		reply, err := p.generator.Generate(ctx, msgs)
		if err == nil {
			if reply = strings.TrimSpace(reply); reply == "" {
				return "", errors.New("generate: empty reply")
			}
			return reply, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		lastErr = err
	}
	return "", fmt.Errorf("generate: %w", lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
