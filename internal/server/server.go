// Package server exposes the chat pipeline over HTTP. Three routes: POST
// /chat runs a message, POST /confirm answers a confirmation by id, GET
// /confirmations/{id} reports one. All requests carry a bearer token.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"taskchat/internal/command"
	"taskchat/internal/orchestrator"
)

// requestTimeout bounds one pipeline run, external NLU calls included.
const requestTimeout = 30 * time.Second

// Server is the HTTP front of the agent.
type Server struct {
	agent  *orchestrator.Agent
	logger *zap.Logger
	http   *http.Server
}

// New creates a server for the given listen address.
func New(addr string, agent *orchestrator.Agent, logger *zap.Logger) *Server {
	s := &Server{
		agent:  agent,
		logger: logger.Named("server"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Post("/chat", s.handleChat)
	r.Post("/confirm", s.handleConfirm)
	r.Get("/confirmations/{id}", s.handleConfirmationStatus)
	r.Get("/healthz", s.handleHealth)

	s.http = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: requestTimeout + 5*time.Second,
	}
	return s
}

// Handler returns the router, for tests driving the server in-process.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// ListenAndServe blocks serving requests until Shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Info("listening", zap.String("addr", s.http.Addr))
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

type chatResponse struct {
	Response         string            `json:"response"`
	Intent           string            `json:"intent"`
	Entities         map[string]string `json:"entities,omitempty"`
	Suggestions      []string          `json:"suggestions,omitempty"`
	FollowUpRequired bool              `json:"follow_up_required"`
	ConversationID   string            `json:"conversation_id"`
	Success          bool              `json:"success"`
	ConfirmationID   string            `json:"confirmation_id,omitempty"`
}

type confirmRequest struct {
	ConfirmationID string `json:"confirmation_id"`
	Action         string `json:"action"`
}

type confirmationStatusResponse struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Message     string `json:"message"`
	CreatedAt   string `json:"created_at"`
	ExpiresAt   string `json:"expires_at"`
	IsConfirmed bool   `json:"is_confirmed"`
	IsRejected  bool   `json:"is_rejected"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	reply, err := s.agent.ProcessMessage(r.Context(), orchestrator.Request{
		Message:        req.Message,
		AuthToken:      token,
		ConversationID: req.ConversationID,
	})
	if err != nil {
		s.writeAgentError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, replyToResponse(reply))
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return
	}

	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.ConfirmationID == "" {
		writeError(w, http.StatusBadRequest, "confirmation_id is required")
		return
	}
	if req.Action != "confirm" && req.Action != "reject" {
		writeError(w, http.StatusBadRequest, `action must be "confirm" or "reject"`)
		return
	}

	reply, err := s.agent.Resolve(r.Context(), token, req.ConfirmationID, req.Action)
	if err != nil {
		s.writeAgentError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, replyToResponse(reply))
}

func (s *Server) handleConfirmationStatus(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return
	}

	status, err := s.agent.ConfirmationStatus(r.Context(), token, chi.URLParam(r, "id"))
	if err != nil {
		s.writeAgentError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, confirmationStatusResponse{
		ID:          status.ID,
		Kind:        string(status.Kind),
		Message:     status.Message,
		CreatedAt:   status.CreatedAt.Format(time.RFC3339),
		ExpiresAt:   status.ExpiresAt.Format(time.RFC3339),
		IsConfirmed: status.IsConfirmed,
		IsRejected:  status.IsRejected,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeAgentError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, command.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "invalid auth token")
	case errors.Is(err, command.ErrConfirmationNotFound),
		errors.Is(err, command.ErrConfirmationExpired):
		writeError(w, http.StatusNotFound, "confirmation not found or expired")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		s.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func replyToResponse(reply *orchestrator.Reply) chatResponse {
	return chatResponse{
		Response:         reply.ResponseText,
		Intent:           string(reply.Intent),
		Entities:         reply.Entities,
		Suggestions:      reply.Suggestions,
		FollowUpRequired: reply.FollowUpRequired,
		ConversationID:   reply.ConversationID,
		Success:          reply.Success,
		ConfirmationID:   reply.ConfirmationID,
	}
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || token == "" {
		return "", false
	}
	return token, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
