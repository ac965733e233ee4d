// Package health serves the liveness and readiness endpoints of the bot process.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/m3rciful/copperxbot/core/logger"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Check is a named readiness probe.
type Check struct {
	Name   string
	Pinger Pinger
}

// Server is a small HTTP server exposing "/", "/healthz" and "/ping".
type Server struct {
	srv    *http.Server
	checks []Check
}

// NewServer builds the router. addr follows net/http conventions, e.g. ":4000".
func NewServer(addr string, checks ...Check) *Server {
	s := &Server{checks: checks}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Router returns the chi router serving the endpoints.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(chimw.Heartbeat("/ping"))
	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/healthz", s.healthz)
	return r
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := "healthy"
	code := http.StatusOK
	results := make(map[string]string, len(s.checks))
	for _, c := range s.checks {
		if err := c.Pinger.Ping(ctx); err != nil {
			results[c.Name] = "unreachable"
			status = "degraded"
			code = http.StatusServiceUnavailable
			logger.Warn(ctx, "health", "check.fail",
				slog.String("check", c.Name),
				slog.String("err", err.Error()),
			)
			continue
		}
		results[c.Name] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"status": status, "checks": results})
}

// Start listens in the background. Listen errors other than a clean shutdown are logged.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("health: listen %s: %w", s.srv.Addr, err)
	}
	logger.LogEvent(logger.Background(), logger.HTTP, slog.LevelInfo, "server.listen", slog.String("addr", ln.Addr().String()))
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.LogEvent(logger.Background(), logger.HTTP, slog.LevelError, "server.fail", slog.String("err", err.Error()))
		}
	}()
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
