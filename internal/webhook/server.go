// internal/webhook/server.go
package webhook

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/HatmanStack/pixel-prompt-complete-sub000/internal/gateway"
	"github.com/HatmanStack/pixel-prompt-complete-sub000/internal/types"
)

// Server is a lightweight HTTP handler for the session API.
type Server struct {
	gateway *gateway.Gateway
	mux     *http.ServeMux
}

// NewServer creates a Server routing the session API onto the gateway.
func NewServer(gw *gateway.Gateway) *Server {
	s := &Server{
		gateway: gw,
		mux:     http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	s.mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	s.mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	s.mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)
	s.mux.HandleFunc("POST /api/sessions/{id}/iterations", s.handleIterate)
	s.mux.HandleFunc("POST /api/enhance", s.handleEnhance)
	s.mux.HandleFunc("GET /api/images/{key...}", s.handleGetImage)
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// callerID identifies the requester for rate limiting. Proxied requests
// carry the original address in X-Forwarded-For.
func callerID(r *http.Request) types.CallerID {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return types.CallerID(strings.TrimSpace(first))
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return types.CallerID(r.RemoteAddr)
	}
	return types.CallerID(host)
}

// writeError maps domain errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, types.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, types.ErrPromptRejected):
		status = http.StatusBadRequest
	case errors.Is(err, types.ErrIterationLimit):
		status = http.StatusConflict
	case errors.Is(err, types.ErrGlobalLimit), errors.Is(err, types.ErrCallerLimit):
		status = http.StatusTooManyRequests
	case errors.Is(err, types.ErrConcurrencyConflict):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
		// Internal detail stays out of responses.
		http.Error(w, `{"error":"internal server error"}`, status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// createSessionRequest is the JSON body for POST /api/sessions.
type createSessionRequest struct {
	Prompt string `json:"prompt"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.Prompt == "" {
		http.Error(w, `{"error":"prompt is required"}`, http.StatusBadRequest)
		return
	}

	sess, err := s.gateway.CreateSession(r.Context(), callerID(r), req.Prompt)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, sess)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.gateway.ListSessions(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.gateway.GetSession(r.Context(), types.SessionID(r.PathValue("id")))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.gateway.DeleteSession(r.Context(), types.SessionID(r.PathValue("id"))); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// iterateRequest is the JSON body for POST /api/sessions/{id}/iterations.
type iterateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

func (s *Server) handleIterate(w http.ResponseWriter, r *http.Request) {
	var req iterateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.Model == "" || req.Prompt == "" {
		http.Error(w, `{"error":"model and prompt are required"}`, http.StatusBadRequest)
		return
	}

	index, err := s.gateway.Iterate(r.Context(), callerID(r), types.SessionID(r.PathValue("id")), types.ModelName(req.Model), req.Prompt)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"iteration": index})
}

// enhanceRequest is the JSON body for POST /api/enhance.
type enhanceRequest struct {
	Prompt string `json:"prompt"`
}

func (s *Server) handleEnhance(w http.ResponseWriter, r *http.Request) {
	var req enhanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.Prompt == "" {
		http.Error(w, `{"error":"prompt is required"}`, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"prompt": s.gateway.Enhance(r.Context(), req.Prompt)})
}

func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request) {
	rec, err := s.gateway.GetImage(r.Context(), r.PathValue("key"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(rec.Output)
}
