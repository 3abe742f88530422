package health

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mingtsay/openclaw/pkg/logger"
)

// RouteHandler serves requests it recognizes and declines the rest so the
// next handler on the listener can try.
type RouteHandler interface {
	Handle(w http.ResponseWriter, r *http.Request) bool
}

// Check reports the readiness of one dependency.
type Check func() (ok bool, detail string)

// ReadTimeout bounds reading a whole request, body included. A stalled
// upload surfaces to the handler as a read error.
const ReadTimeout = 30 * time.Second

type Server struct {
	server    *http.Server
	startTime time.Time
	ready     atomic.Bool

	mu     sync.RWMutex
	routes []RouteHandler
	checks map[string]Check
}

func NewServer(host string, port int) *Server {
	s := &Server{
		startTime: time.Now(),
		checks:    make(map[string]Check),
	}
	s.server = &http.Server{
		Addr:              net.JoinHostPort(host, strconv.Itoa(port)),
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       ReadTimeout,
	}
	return s
}

// AddRoute appends h to the handlers tried, in order, for non-health paths.
func (s *Server) AddRoute(h RouteHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes = append(s.routes, h)
}

func (s *Server) RegisterCheck(name string, c Check) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = c
}

func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

func (s *Server) Addr() string {
	return s.server.Addr
}

func (s *Server) Start() error {
	logger.InfoCF("health", "HTTP listener starting", map[string]any{"addr": s.server.Addr})
	return s.server.ListenAndServe()
}

// Serve runs the server on an existing listener.
func (s *Server) Serve(l net.Listener) error {
	return s.server.Serve(l)
}

func (s *Server) Stop(ctx context.Context) error {
	s.ready.Store(false)
	return s.server.Shutdown(ctx)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/health":
		s.healthHandler(w, r)
		return
	case "/ready":
		s.readyHandler(w, r)
		return
	}

	s.mu.RLock()
	routes := s.routes
	s.mu.RUnlock()
	for _, h := range routes {
		if h.Handle(w, r) {
			return
		}
	}
	http.NotFound(w, r)
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.startTime).Round(time.Second).String(),
	})
}

func (s *Server) readyHandler(w http.ResponseWriter, _ *http.Request) {
	if !s.ready.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not ready"})
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	status := http.StatusOK
	results := make(map[string]any, len(s.checks))
	for name, check := range s.checks {
		ok, detail := check()
		results[name] = map[string]any{"ok": ok, "detail": detail}
		if !ok {
			status = http.StatusServiceUnavailable
		}
	}

	state := "ready"
	if status != http.StatusOK {
		state = "not ready"
	}
	writeJSON(w, status, map[string]any{"status": state, "checks": results})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
