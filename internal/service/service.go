// Package service is the request/response façade over the memory store.
// Every method validates its input, calls the store and reports failures as
// *Error values; it holds no state of its own.
package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/shaobai0824/model-api/internal/memory"
	"github.com/shaobai0824/model-api/internal/observability"
	"github.com/shaobai0824/model-api/internal/policy"
)

// Operation names, shared by metrics and transports.
const (
	OpAddMessage     = "add_message"
	OpGetContext     = "get_context"
	OpGetStats       = "get_stats"
	OpClearMemory    = "clear_memory"
	OpSetPreference  = "set_preference"
	OpCleanupExpired = "cleanup_expired"
	OpListUsers      = "list_users"
)

type AddMessageRequest struct {
	UserID      string `json:"user_id"`
	Role        string `json:"role"`
	Content     string `json:"content"`
	MessageType string `json:"message_type,omitempty"`
}

type GetContextRequest struct {
	UserID              string `json:"user_id"`
	IncludeSystemPrompt bool   `json:"include_system_prompt"`
}

type SetPreferenceRequest struct {
	UserID string `json:"user_id"`
	Key    string `json:"key"`
	Value  string `json:"value"`
}

type ContextResult struct {
	UserID       string                  `json:"user_id"`
	Context      []memory.ContextMessage `json:"context"`
	MessageCount int                     `json:"message_count"`
}

type Options struct {
	// RedactPII masks emails, card and phone numbers in message content
	// before it is stored.
	RedactPII bool
	Metrics   *observability.Metrics
	Logger    *slog.Logger
}

type Service struct {
	store   *memory.Store
	redact  bool
	metrics *observability.Metrics
	log     *slog.Logger
}

func New(store *memory.Store, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   store,
		redact:  opts.RedactPII,
		metrics: opts.Metrics,
		log:     logger.With("component", "service"),
	}
}

func (s *Service) AddMessage(ctx context.Context, req AddMessageRequest) (err error) {
	defer s.observe(OpAddMessage, time.Now(), &err)

	userID, err := requireUserID(req.UserID)
	if err != nil {
		return err
	}
	role := memory.Role(strings.ToLower(strings.TrimSpace(req.Role)))
	if !role.Valid() {
		return invalid(CodeInvalidRole, "role must be user or assistant")
	}
	if strings.TrimSpace(req.Content) == "" {
		return invalid(CodeInvalidContent, "content is required")
	}
	msgType := strings.TrimSpace(req.MessageType)
	if msgType == "" {
		msgType = memory.MessageTypeText
	}

	content := req.Content
	if s.redact {
		var kinds []string
		if content, kinds = policy.Redact(content); len(kinds) > 0 {
			s.log.Info("redacted message content", "user_id", userID, "kinds", kinds)
		}
	}

	if err := s.store.AddMessage(ctx, userID, role, content, msgType); err != nil {
		return persistence("failed to store message", err)
	}
	return nil
}

func (s *Service) GetContext(ctx context.Context, req GetContextRequest) (_ ContextResult, err error) {
	defer s.observe(OpGetContext, time.Now(), &err)

	userID, err := requireUserID(req.UserID)
	if err != nil {
		return ContextResult{}, err
	}
	msgs, err := s.store.ConversationContext(ctx, userID, req.IncludeSystemPrompt)
	if err != nil {
		return ContextResult{}, persistence("failed to load conversation", err)
	}
	return ContextResult{UserID: userID, Context: msgs, MessageCount: len(msgs)}, nil
}

func (s *Service) GetStats(ctx context.Context, userID string) (_ memory.Stats, err error) {
	defer s.observe(OpGetStats, time.Now(), &err)

	userID, err = requireUserID(userID)
	if err != nil {
		return memory.Stats{}, err
	}
	st, err := s.store.UserStats(ctx, userID)
	if err != nil {
		return memory.Stats{}, persistence("failed to load user stats", err)
	}
	return st, nil
}

func (s *Service) ClearMemory(ctx context.Context, userID string) (err error) {
	defer s.observe(OpClearMemory, time.Now(), &err)

	userID, err = requireUserID(userID)
	if err != nil {
		return err
	}
	if err := s.store.ClearUserMemory(ctx, userID); err != nil {
		return persistence("failed to clear memory", err)
	}
	return nil
}

func (s *Service) SetPreference(ctx context.Context, req SetPreferenceRequest) (err error) {
	defer s.observe(OpSetPreference, time.Now(), &err)

	userID, err := requireUserID(req.UserID)
	if err != nil {
		return err
	}
	key := strings.TrimSpace(req.Key)
	if key == "" {
		return invalid(CodeInvalidKey, "preference key is required")
	}
	if err := s.store.SetPreference(ctx, userID, key, req.Value); err != nil {
		return persistence("failed to store preference", err)
	}
	return nil
}

func (s *Service) CleanupExpired(ctx context.Context) (_ int, err error) {
	defer s.observe(OpCleanupExpired, time.Now(), &err)

	n, err := s.store.CleanupExpiredMemories(ctx)
	if err != nil {
		return n, persistence("expiry sweep failed", err)
	}
	return n, nil
}

func (s *Service) ListUsers(ctx context.Context) (_ []string, err error) {
	defer s.observe(OpListUsers, time.Now(), &err)

	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, persistence("failed to list users", err)
	}
	if users == nil {
		users = []string{}
	}
	return users, nil
}

// CachedUsers reports the store's cache size.
func (s *Service) CachedUsers() int {
	return s.store.CachedUsers()
}

func (s *Service) Limits() memory.Config {
	return s.store.Config()
}

func (s *Service) observe(op string, start time.Time, errp *error) {
	result := "ok"
	if *errp != nil {
		result = string(CodeOf(*errp))
		if result == "" {
			result = "error"
		}
	}
	s.metrics.ObserveOperation(op, result, time.Since(start))
}

func requireUserID(raw string) (string, error) {
	userID := strings.TrimSpace(raw)
	if userID == "" {
		return "", invalid(CodeInvalidUserID, "user_id is required")
	}
	return userID, nil
}
