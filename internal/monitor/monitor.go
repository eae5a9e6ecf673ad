// Package monitor serves read-only progress JSON while a deduplication pass
// is active. It never exposes anything that mutates the corpus or the
// working directory.
package monitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pretrainer/deduplicator-master/internal/dedup"
)

// Source yields the current progress snapshot, or nil when no pass is
// running.
type Source func() *dedup.Snapshot

// Server is the progress HTTP server.
type Server struct {
	addr string
	srv  *http.Server
}

// New wires the routes and returns a Server ready to Run.
func New(addr, version string, source Source) *Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/api/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]string{"status": "ok", "version": version})
	})
	r.Get("/api/progress", func(w http.ResponseWriter, _ *http.Request) {
		snap := source()
		if snap == nil {
			writeJSON(w, map[string]any{"active": false})
			return
		}
		writeJSON(w, map[string]any{"active": true, "progress": snap})
	})

	return &Server{
		addr: addr,
		srv:  &http.Server{Addr: addr, Handler: r},
	}
}

// Run starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("monitor listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down monitor")
		return s.srv.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("monitor: encode response", "error", err)
	}
}
