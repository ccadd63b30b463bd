package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultMaxMessagesPerUser = 50
	DefaultMaxContextMessages = 10
	DefaultExpireDays         = 30
)

// Config bounds retained history, the context window and the sweep TTL.
// The two message limits are independent.
type Config struct {
	MaxMessagesPerUser int
	MaxContextMessages int
	ExpireDays         int
}

func DefaultConfig() Config {
	return Config{
		MaxMessagesPerUser: DefaultMaxMessagesPerUser,
		MaxContextMessages: DefaultMaxContextMessages,
		ExpireDays:         DefaultExpireDays,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxMessagesPerUser <= 0 {
		c.MaxMessagesPerUser = DefaultMaxMessagesPerUser
	}
	if c.MaxContextMessages <= 0 {
		c.MaxContextMessages = DefaultMaxContextMessages
	}
	if c.ExpireDays <= 0 {
		c.ExpireDays = DefaultExpireDays
	}
	return c
}

// Observer receives store events. observability.Metrics implements it.
type Observer interface {
	ObserveCacheLookup(hit bool)
	ObservePersistFailure(op string)
	ObserveExpired(count int)
	SetCachedUsers(n int)
}

type noopObserver struct{}

func (noopObserver) ObserveCacheLookup(bool)      {}
func (noopObserver) ObservePersistFailure(string) {}
func (noopObserver) ObserveExpired(int)           {}
func (noopObserver) SetCachedUsers(int)           {}

type Option func(*Store)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.log = logger
		}
	}
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func WithObserver(obs Observer) Option {
	return func(s *Store) {
		if obs != nil {
			s.obs = obs
		}
	}
}

// Store is a write-through cache of user memories over a Backend.
//
// Every operation on a user runs under that user's lock, so a read-modify-write
// never interleaves with another operation on the same user. The cache map has
// its own lock, held only while an entry is looked up, swapped or evicted.
// Cached records are never modified in place: mutations build a copy and
// publish it, and readers receive copies.
type Store struct {
	backend Backend
	cfg     Config
	log     *slog.Logger
	now     func() time.Time
	obs     Observer

	locks *userLocks

	mu    sync.RWMutex
	cache map[string]*UserMemory
}

func NewStore(backend Backend, cfg Config, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		cfg:     cfg.withDefaults(),
		log:     slog.Default(),
		now:     defaultClock,
		obs:     noopObserver{},
		locks:   newUserLocks(),
		cache:   make(map[string]*UserMemory),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "memory")
	return s
}

// defaultClock truncates to microseconds, the finest precision every backend
// stores, so a cached record equals its reloaded copy.
func defaultClock() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func (s *Store) Config() Config { return s.cfg }

// AddMessage appends a message to the user's history, trims the history to
// MaxMessagesPerUser and persists the record. The returned error reports a
// persistence failure only; the cached record keeps the new message either way.
func (s *Store) AddMessage(ctx context.Context, userID string, role Role, content, messageType string) error {
	return s.mutate(ctx, "add_message", userID, func(m *UserMemory, now time.Time) {
		ts := now
		if n := len(m.Messages); n > 0 && ts.Before(m.Messages[n-1].Timestamp) {
			ts = m.Messages[n-1].Timestamp
		}
		m.Messages = append(m.Messages, ChatMessage{
			ID:          uuid.NewString(),
			Role:        role,
			Content:     content,
			Timestamp:   ts,
			MessageType: messageType,
		})
		m.TotalMessages++
		m.LastInteraction = now
		m.trim(s.cfg.MaxMessagesPerUser)
	})
}

// SetPreference stores value under key, replacing any previous value.
func (s *Store) SetPreference(ctx context.Context, userID, key, value string) error {
	return s.mutate(ctx, "set_preference", userID, func(m *UserMemory, now time.Time) {
		m.Preferences[key] = value
		m.LastInteraction = now
	})
}

// ConversationContext returns the messages to hand to a language model: an
// optional system entry followed by the most recent MaxContextMessages
// messages, oldest first. It does not modify the record.
func (s *Store) ConversationContext(ctx context.Context, userID string, includeSystemPrompt bool) ([]ContextMessage, error) {
	unlock := s.locks.lock(userID)
	defer unlock()

	m, err := s.loadLocked(ctx, userID)
	if err != nil {
		return nil, err
	}

	window := m.Messages
	if over := len(window) - s.cfg.MaxContextMessages; over > 0 {
		window = window[over:]
	}

	out := make([]ContextMessage, 0, len(window)+1)
	if includeSystemPrompt {
		out = append(out, ContextMessage{Role: RoleSystem, Content: SystemPrompt(*m)})
	}
	for _, msg := range window {
		out = append(out, ContextMessage{Role: msg.Role, Content: msg.Content})
	}
	return out, nil
}

// UserStats summarizes the retained messages. Counts other than TotalMessages
// cover only what is still held after trimming.
func (s *Store) UserStats(ctx context.Context, userID string) (Stats, error) {
	unlock := s.locks.lock(userID)
	defer unlock()

	m, err := s.loadLocked(ctx, userID)
	if err != nil {
		return Stats{}, err
	}

	st := Stats{
		UserID:                 m.UserID,
		TotalMessages:          m.TotalMessages,
		CurrentSessionMessages: len(m.Messages),
		LastInteraction:        m.LastInteraction,
		Preferences:            make(map[string]string, len(m.Preferences)),
	}
	for k, v := range m.Preferences {
		st.Preferences[k] = v
	}
	for _, msg := range m.Messages {
		switch msg.MessageType {
		case MessageTypeVoice:
			st.VoiceMessages++
		case MessageTypeText:
			st.TextMessages++
		}
		switch msg.Role {
		case RoleUser:
			st.UserMessages++
		case RoleAssistant:
			st.AssistantMessages++
		}
	}
	return st, nil
}

// ClearUserMemory drops the cached record and deletes the durable one.
// History and preferences are both removed.
func (s *Store) ClearUserMemory(ctx context.Context, userID string) error {
	unlock := s.locks.lock(userID)
	defer unlock()

	s.evict(userID)
	if err := s.backend.Delete(context.WithoutCancel(ctx), userID); err != nil {
		s.obs.ObservePersistFailure("clear_memory")
		s.log.Error("delete failed", "op", "clear_memory", "user_id", userID, "error", err)
		return fmt.Errorf("memory: delete %q: %w", userID, err)
	}
	return nil
}

// CleanupExpiredMemories removes every user whose durable lastInteraction is
// older than ExpireDays and returns how many were removed. Each user is
// checked under its own lock; a failure on one user is logged and the sweep
// moves on. Cached records that never reached the backend are evicted when
// expired but not counted.
func (s *Store) CleanupExpiredMemories(ctx context.Context) (int, error) {
	users, err := s.backend.ListUsers(ctx)
	if err != nil {
		return 0, fmt.Errorf("memory: list users: %w", err)
	}

	cutoff := s.now().Add(-time.Duration(s.cfg.ExpireDays) * 24 * time.Hour)
	durable := make(map[string]struct{}, len(users))
	removed, failed := 0, 0

	for _, userID := range users {
		if err := ctx.Err(); err != nil {
			s.obs.ObserveExpired(removed)
			return removed, err
		}
		durable[userID] = struct{}{}

		expired, err := s.expireDurable(ctx, userID, cutoff)
		if err != nil {
			failed++
			s.obs.ObservePersistFailure("cleanup_expired")
			s.log.Warn("expire user failed", "user_id", userID, "error", err)
			continue
		}
		if expired {
			removed++
		}
	}

	for _, userID := range s.cachedUserIDs() {
		if _, ok := durable[userID]; ok {
			continue
		}
		s.expireCached(userID, cutoff)
	}

	s.obs.ObserveExpired(removed)
	s.log.Info("expired memories swept",
		"scanned", len(users),
		"removed", removed,
		"failed", failed,
		"cutoff", cutoff,
	)
	return removed, nil
}

// ListUsers returns every durably stored user id.
func (s *Store) ListUsers(ctx context.Context) ([]string, error) {
	users, err := s.backend.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("memory: list users: %w", err)
	}
	return users, nil
}

// CachedUsers reports how many records are held in the cache.
func (s *Store) CachedUsers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cache)
}

func (s *Store) mutate(ctx context.Context, op, userID string, apply func(m *UserMemory, now time.Time)) error {
	unlock := s.locks.lock(userID)
	defer unlock()

	current, err := s.loadLocked(ctx, userID)
	if err != nil {
		return err
	}

	next := current.Clone()
	apply(&next, s.now())
	s.publish(&next)

	// Once the cache holds the mutation the save must run even if the caller
	// has gone away.
	if err := s.backend.Save(context.WithoutCancel(ctx), next); err != nil {
		s.obs.ObservePersistFailure(op)
		s.log.Error("persist failed", "op", op, "user_id", userID, "error", err)
		return fmt.Errorf("memory: save %q: %w", userID, err)
	}
	return nil
}

// loadLocked returns the cached record for userID, loading it from the
// backend or creating an empty one on a miss. The caller holds the user lock.
// The returned pointer is shared with the cache and must not be modified.
func (s *Store) loadLocked(ctx context.Context, userID string) (*UserMemory, error) {
	if m, ok := s.cached(userID); ok {
		s.obs.ObserveCacheLookup(true)
		return m, nil
	}
	s.obs.ObserveCacheLookup(false)

	var m *UserMemory
	loaded, err := s.backend.Load(ctx, userID)
	switch {
	case err == nil:
		loaded.UserID = userID
		loaded.normalize()
		m = &loaded
	case errors.Is(err, ErrNotFound):
		s.log.Debug("creating user memory", "user_id", userID)
		m = newUserMemory(userID, s.now())
	default:
		s.log.Error("load failed", "user_id", userID, "error", err)
		return nil, fmt.Errorf("memory: load %q: %w", userID, err)
	}

	s.publish(m)
	return m, nil
}

func (s *Store) expireDurable(ctx context.Context, userID string, cutoff time.Time) (bool, error) {
	unlock := s.locks.lock(userID)
	defer unlock()

	m, err := s.backend.Load(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load: %w", err)
	}
	if !m.LastInteraction.Before(cutoff) {
		return false, nil
	}

	if err := s.backend.Delete(context.WithoutCancel(ctx), userID); err != nil {
		return false, fmt.Errorf("delete: %w", err)
	}
	s.evict(userID)
	s.log.Debug("expired user memory", "user_id", userID, "last_interaction", m.LastInteraction)
	return true, nil
}

func (s *Store) expireCached(userID string, cutoff time.Time) {
	unlock := s.locks.lock(userID)
	defer unlock()

	if m, ok := s.cached(userID); ok && m.LastInteraction.Before(cutoff) {
		s.evict(userID)
	}
}

func (s *Store) cached(userID string) (*UserMemory, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.cache[userID]
	return m, ok
}

func (s *Store) cachedUserIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.cache))
	for id := range s.cache {
		ids = append(ids, id)
	}
	return ids
}

func (s *Store) publish(m *UserMemory) {
	s.mu.Lock()
	s.cache[m.UserID] = m
	n := len(s.cache)
	s.mu.Unlock()
	s.obs.SetCachedUsers(n)
}

func (s *Store) evict(userID string) {
	s.mu.Lock()
	delete(s.cache, userID)
	n := len(s.cache)
	s.mu.Unlock()
	s.obs.SetCachedUsers(n)
}
