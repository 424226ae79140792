// Package server exposes the turn pipeline over a JSON HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kletsmajoor/klets/pkg/config"
	"github.com/kletsmajoor/klets/pkg/faq"
	"github.com/kletsmajoor/klets/pkg/pipeline"
	"github.com/kletsmajoor/klets/pkg/session"
)

const (
	invalidRequestMsg = "Ongeldig verzoek. Controleer je invoer."
	internalErrorMsg  = "Er ging iets mis bij het verwerken van je bericht. Probeer het opnieuw."
)

// TurnProcessor runs one conversation turn.
type TurnProcessor interface {
	Process(ctx context.Context, req pipeline.Request) (*pipeline.Response, error)
}

// Server is the HTTP front of the assistant.
type Server struct {
	cfg       config.ServerConfig
	processor TurnProcessor
	store     session.Store
	faqIndex  *faq.Index

	httpServer *http.Server
}

// Option configures the server.
type Option func(*Server)

// WithFAQIndex enables the FAQ reload endpoint.
func WithFAQIndex(index *faq.Index) Option {
	return func(s *Server) {
		s.faqIndex = index
	}
}

func New(cfg config.ServerConfig, processor TurnProcessor, store session.Store, opts ...Option) *Server {
	s := &Server{
		cfg:       cfg,
		processor: processor,
		store:     store,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      s.Routes(),
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
	}
	return s
}

// Routes builds the router. Exposed for tests.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Post("/api/chat/memory", s.handleChat)
	r.Get("/api/sessions/{id}", s.handleGetSession)
	r.Delete("/api/sessions/{id}", s.handleDeleteSession)
	r.Post("/api/faq/reload", s.handleFAQReload)

	return r
}

// Start runs the server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", s.cfg.Address())
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	slog.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req pipeline.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, invalidRequestMsg, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeErrorResponse(w, http.StatusBadRequest, invalidRequestMsg, "message is required")
		return
	}

	resp, err := s.processor.Process(r.Context(), req)
	if err != nil {
		slog.Error("turn processing failed", "error", err)
		writeErrorResponse(w, http.StatusInternalServerError, internalErrorMsg, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// sessionSummary is the read view of a stored session.
type sessionSummary struct {
	SessionID    string    `json:"session_id"`
	MessageCount int       `json:"message_count"`
	QAEntries    int       `json:"qa_entries"`
	Summary      string    `json:"summary,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	mem, err := s.store.Load(id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"status":  "not_found",
				"message": "Sessie niet gevonden.",
			})
			return
		}
		slog.Error("session load failed", "session", id, "error", err)
		writeErrorResponse(w, http.StatusInternalServerError, internalErrorMsg, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, sessionSummary{
		SessionID:    mem.SessionID,
		MessageCount: mem.MessageCount,
		QAEntries:    len(mem.QAIndex),
		Summary:      mem.Summary,
		UpdatedAt:    mem.UpdatedAt,
	})
}

// handleDeleteSession is idempotent: deleting an unknown session is not
// an error, the body just says so.
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	deleted, err := s.store.Delete(id)
	if err != nil {
		slog.Error("session delete failed", "session", id, "error", err)
		writeErrorResponse(w, http.StatusInternalServerError, internalErrorMsg, err.Error())
		return
	}

	if deleted {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"message": "Sessie verwijderd.",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "not_found",
		"message": "Sessie bestond niet (of was al verwijderd).",
	})
}

func (s *Server) handleFAQReload(w http.ResponseWriter, r *http.Request) {
	if s.faqIndex == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":  "unavailable",
			"message": "FAQ-service is niet geconfigureerd.",
		})
		return
	}

	if err := s.faqIndex.Reload(r.Context()); err != nil {
		slog.Error("FAQ reload failed", "error", err)
		writeErrorResponse(w, http.StatusInternalServerError, internalErrorMsg, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"entries": s.faqIndex.Size(),
	})
}

// writeErrorResponse emits a low-confidence turn response so chat
// clients can render failures like any other answer.
func writeErrorResponse(w http.ResponseWriter, status int, userMsg, detail string) {
	writeJSON(w, status, pipeline.Response{
		MainAnswer:      userMsg,
		ResponseType:    "error",
		ConfidenceLevel: "low",
		Error:           detail,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("response encoding failed", "error", err)
	}
}

// requestLogger logs every request with its duration and status.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
