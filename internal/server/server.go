// Package server exposes the engine's message boundary over local HTTP:
// request/response messages, a server-sent event stream of progress updates,
// and feed and credential management.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"feedwatcher/internal/broadcast"
	"feedwatcher/internal/model"
	"feedwatcher/internal/watcher"
)

const maxBodyBytes = 1 << 20

// Server is the HTTP transport of the engine.
type Server struct {
	engine *watcher.Engine
	repo   *watcher.Repository
	hub    *broadcast.Hub
	logger watcher.Logger
	router chi.Router
}

// New creates a Server. hub may be nil, in which case the event stream is unavailable.
func New(engine *watcher.Engine, repo *watcher.Repository, hub *broadcast.Hub, logger watcher.Logger) *Server {
	s := &Server{
		engine: engine,
		repo:   repo,
		hub:    hub,
		logger: logger,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Post("/messages", s.handleMessage)
		r.Get("/status", s.handleStatus)
		r.Get("/events", s.handleEvents)

		r.Get("/feeds", s.handleListFeeds)
		r.Post("/feeds", s.handleCreateFeed)
		r.Patch("/feeds/{feedID}", s.handleUpdateFeed)
		r.Delete("/feeds/{feedID}", s.handleDeleteFeed)
		r.Post("/feeds/{feedID}/toggle-active", s.handleToggleActive)
		r.Post("/feeds/{feedID}/toggle-backup", s.handleToggleBackup)

		r.Get("/credential", s.handleGetCredential)
		r.Put("/credential", s.handleSetCredential)
		r.Delete("/credential", s.handleClearCredential)
	})

	s.router = r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving on %s: %w", addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start).String(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, watcher.ErrFeedNotFound):
		return http.StatusNotFound
	case errors.Is(err, watcher.ErrInvalidFeed):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// --- Message boundary ---

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, watcher.Response{Error: err.Error()})
		return
	}
	req, err := watcher.DecodeRequest(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, watcher.Response{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Handle(r.Context(), req))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Status())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeError(w, http.StatusNotImplemented, errors.New("event stream is not enabled"))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	events, unsubscribe := s.hub.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.logger.Warn("encoding event", "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// --- Feeds ---

func (s *Server) handleListFeeds(w http.ResponseWriter, r *http.Request) {
	feeds, err := s.repo.Feeds(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if feeds == nil {
		feeds = []model.Feed{}
	}
	writeJSON(w, http.StatusOK, feeds)
}

func (s *Server) handleCreateFeed(w http.ResponseWriter, r *http.Request) {
	var in watcher.FeedInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	feed, err := s.repo.CreateFeed(r.Context(), in)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	s.logger.Info("feed created", "feed_id", feed.ID, "name", feed.Name)
	writeJSON(w, http.StatusCreated, feed)
}

func (s *Server) handleUpdateFeed(w http.ResponseWriter, r *http.Request) {
	var upd watcher.FeedUpdate
	if err := decodeBody(r, &upd); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	feed, err := s.repo.UpdateFeed(r.Context(), chi.URLParam(r, "feedID"), upd)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, feed)
}

func (s *Server) handleDeleteFeed(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "feedID")
	if err := s.repo.DeleteFeed(r.Context(), id); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	s.logger.Info("feed deleted", "feed_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleToggleActive(w http.ResponseWriter, r *http.Request) {
	feed, err := s.repo.ToggleActive(r.Context(), chi.URLParam(r, "feedID"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, feed)
}

func (s *Server) handleToggleBackup(w http.ResponseWriter, r *http.Request) {
	feed, err := s.repo.ToggleBackup(r.Context(), chi.URLParam(r, "feedID"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, feed)
}

// --- Archive credential ---

func (s *Server) handleGetCredential(w http.ResponseWriter, r *http.Request) {
	credential, err := s.repo.ArchiveCredential(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"configured": credential != ""})
}

func (s *Server) handleSetCredential(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.repo.SetArchiveCredential(r.Context(), req.Token); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearCredential(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.ClearArchiveCredential(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
