// Package api exposes the manual check trigger, the in-app inbox and audio clips over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rewired-gh/stockpulse/internal/logger"
	"github.com/rewired-gh/stockpulse/internal/metrics"
	"github.com/rewired-gh/stockpulse/internal/models"
	"github.com/rewired-gh/stockpulse/internal/pipeline"
	"github.com/rewired-gh/stockpulse/internal/storage"
)

const (
	defaultInboxLimit = 20
	maxInboxLimit     = 100
)

// Checker runs the pipeline on demand.
type Checker interface {
	ProcessUser(ctx context.Context, userID string, trigger pipeline.Trigger) (pipeline.Result, error)
}

// Store serves inbox rows and audio clips.
type Store interface {
	ListInbox(ctx context.Context, userID string, limit int) ([]models.InboxNotification, error)
	GetAudioClip(ctx context.Context, id string) (*models.AudioClip, error)
}

// Config holds server settings.
type Config struct {
	ListenAddr   string
	CheckTimeout time.Duration
}

// Server is the HTTP front end.
type Server struct {
	router  *chi.Mux
	server  *http.Server
	checker Checker
	store   Store
	cfg     Config
}

// New builds the router. The server is not listening until Start.
func New(checker Checker, store Store, cfg Config) *Server {
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = 2 * time.Minute
	}
	s := &Server{
		router:  chi.NewRouter(),
		checker: checker,
		store:   store,
		cfg:     cfg,
	}
	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		// A manual check paces multi-segment sends, so writes may take a while.
		WriteTimeout: cfg.CheckTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the root handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", metrics.Handler())

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/users/{userID}", func(r chi.Router) {
			r.Post("/check", s.handleCheck)
			r.Get("/inbox", s.handleInbox)
		})
		r.Get("/audio/{clipID}", s.handleAudio)
	})
}

// Start serves until Shutdown. http.ErrServerClosed is not an error.
func (s *Server) Start() error {
	logger.Info("Starting HTTP API on %s", s.cfg.ListenAddr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info("Shutting down HTTP API")
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.CheckTimeout)
	defer cancel()

	res, err := s.checker.ProcessUser(ctx, userID, pipeline.TriggerManual)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "user has no notification settings")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "check timed out")
	case err != nil:
		logger.With("user_id", userID).Errorf("manual check failed: %v", err)
		writeError(w, http.StatusInternalServerError, "check failed")
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) handleInbox(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	limit := defaultInboxLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxInboxLimit)
	}

	items, err := s.store.ListInbox(r.Context(), userID, limit)
	if err != nil {
		logger.With("user_id", userID).Errorf("failed to list inbox: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to load inbox")
		return
	}
	if items == nil {
		items = []models.InboxNotification{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"notifications": items})
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	clip, err := s.store.GetAudioClip(r.Context(), chi.URLParam(r, "clipID"))
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "clip not found")
		return
	}
	if err != nil {
		logger.Error("failed to load audio clip: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to load clip")
		return
	}
	w.Header().Set("Content-Type", clip.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(clip.Data)))
	w.Header().Set("Cache-Control", "private, max-age=86400")
	_, _ = w.Write(clip.Data)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logger.With(
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		).Debug("HTTP request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
