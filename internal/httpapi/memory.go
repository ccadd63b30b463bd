package httpapi

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/shaobai0824/model-api/internal/service"
)

type successResponse struct {
	Success bool `json:"success"`
}

type setPreferenceBody struct {
	Value string `json:"value"`
}

func (s *Server) handleAddMessage(w http.ResponseWriter, r *http.Request) {
	var req service.AddMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		if errors.Is(err, errEmptyBody) {
			respondError(w, http.StatusBadRequest, "invalid_request", "request body is required")
			return
		}
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := s.svc.AddMessage(r.Context(), req); err != nil {
		s.respondServiceError(w, service.OpAddMessage, err)
		return
	}
	respondJSON(w, http.StatusOK, successResponse{Success: true})
}

func (s *Server) handleGetContext(w http.ResponseWriter, r *http.Request) {
	include := true
	if raw := strings.TrimSpace(r.URL.Query().Get("include_system_prompt")); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_request", "include_system_prompt must be a boolean")
			return
		}
		include = v
	}

	res, err := s.svc.GetContext(r.Context(), service.GetContextRequest{
		UserID:              pathParam(r, "id"),
		IncludeSystemPrompt: include,
	})
	if err != nil {
		s.respondServiceError(w, service.OpGetContext, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.GetStats(r.Context(), pathParam(r, "id"))
	if err != nil {
		s.respondServiceError(w, service.OpGetStats, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"stats": st})
}

func (s *Server) handleClearMemory(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.ClearMemory(r.Context(), pathParam(r, "id")); err != nil {
		s.respondServiceError(w, service.OpClearMemory, err)
		return
	}
	respondJSON(w, http.StatusOK, successResponse{Success: true})
}

func (s *Server) handleSetPreference(w http.ResponseWriter, r *http.Request) {
	var body setPreferenceBody
	if err := decodeJSON(r, &body); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	err := s.svc.SetPreference(r.Context(), service.SetPreferenceRequest{
		UserID: pathParam(r, "id"),
		Key:    pathParam(r, "key"),
		Value:  body.Value,
	})
	if err != nil {
		s.respondServiceError(w, service.OpSetPreference, err)
		return
	}
	respondJSON(w, http.StatusOK, successResponse{Success: true})
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	n, err := s.svc.CleanupExpired(r.Context())
	if err != nil {
		s.respondServiceError(w, service.OpCleanupExpired, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"expired_count": n})
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.svc.ListUsers(r.Context())
	if err != nil {
		s.respondServiceError(w, service.OpListUsers, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"users": users, "user_count": len(users)})
}

// pathParam returns a decoded route parameter. chi matches on the escaped
// path when one is present, so "%2F" in an id would otherwise reach the
// service still encoded.
func pathParam(r *http.Request, name string) string {
	raw := chi.URLParam(r, name)
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}
