package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/shaobai0824/model-api/internal/config"
	"github.com/shaobai0824/model-api/internal/memory"
	"github.com/shaobai0824/model-api/internal/observability"
	"github.com/shaobai0824/model-api/internal/service"
)

type Server struct {
	cfg      config.Config
	svc      *service.Service
	metrics  *observability.Metrics
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func New(cfg config.Config, svc *service.Service, metrics *observability.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		svc:     svc,
		metrics: metrics,
		log:     logger.With("component", "httpapi"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Browsers may only connect from the same origin unless
				// APP_ALLOW_ANY_ORIGIN is set.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Route("/v1/memory", func(r chi.Router) {
		r.Post("/messages", s.handleAddMessage)
		r.Get("/users", s.handleListUsers)
		r.Get("/users/{id}/context", s.handleGetContext)
		r.Get("/users/{id}/stats", s.handleGetStats)
		r.Delete("/users/{id}", s.handleClearMemory)
		r.Put("/users/{id}/preferences/{key}", s.handleSetPreference)
		r.Post("/cleanup", s.handleCleanup)
		r.Get("/perf", s.handlePerfLatency)
		r.Get("/ws", s.handleMemoryWS)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.healthPayload("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if _, err := s.svc.ListUsers(ctx); err != nil {
		s.log.Warn("readiness check failed", "error", err)
		payload := s.healthPayload("unavailable")
		payload["error"] = "backend unavailable"
		respondJSON(w, http.StatusServiceUnavailable, payload)
		return
	}
	respondJSON(w, http.StatusOK, s.healthPayload("ready"))
}

func (s *Server) healthPayload(status string) map[string]any {
	limits := s.svc.Limits()
	return map[string]any{
		"status":                status,
		"backend":               s.backendKind(),
		"max_messages_per_user": limits.MaxMessagesPerUser,
		"max_context_messages":  limits.MaxContextMessages,
		"memory_expire_days":    limits.ExpireDays,
		"cached_users":          s.svc.CachedUsers(),
	}
}

func (s *Server) backendKind() string {
	return memory.BackendConfig{Kind: s.cfg.MemoryBackend, DatabaseURL: s.cfg.DatabaseURL}.ResolveKind()
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// respondServiceError maps façade failures onto HTTP: validation problems are
// 400, persistence failures 500. Underlying causes are logged, not returned.
func (s *Server) respondServiceError(w http.ResponseWriter, op string, err error) {
	var se *service.Error
	if !errors.As(err, &se) {
		s.log.Error("unexpected service error", "op", op, "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}
	status := http.StatusBadRequest
	if !se.Validation() {
		status = http.StatusInternalServerError
		s.log.Error("operation failed", "op", op, "code", se.Code, "error", se.Err)
	}
	respondError(w, status, string(se.Code), se.Message)
}
