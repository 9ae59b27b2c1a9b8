package notify

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Store combines the scanner and dispatcher views of the remote store.
type Store interface {
	Source
	Backend
}

// ServerConfig holds job server configuration.
type ServerConfig struct {
	// Addr to listen on, e.g. ":8090".
	Addr string

	// Secret authorizes external job triggers. Requests are rejected
	// before any side effect when it doesn't match.
	Secret string

	// WindowMinutes is the default scan look-ahead.
	WindowMinutes int

	// Logger for server activity.
	Logger *log.Logger
}

// Server exposes the scheduled-job trigger over HTTP and optionally
// drives an internal scheduler. The internal scheduler calls the job
// directly, which is the trusted scheduler-origin path; HTTP callers
// must present the shared secret.
type Server struct {
	store      Store
	dispatcher *Dispatcher
	cfg        ServerConfig

	mux      *http.ServeMux
	listener net.Listener
	server   *http.Server
	wg       sync.WaitGroup
}

// NewServer creates a job server.
func NewServer(store Store, dispatcher *Dispatcher, cfg ServerConfig) *Server {
	if cfg.WindowMinutes <= 0 {
		cfg.WindowMinutes = DefaultWindowMinutes
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}

	s := &Server{
		store:      store,
		dispatcher: dispatcher,
		cfg:        cfg,
		mux:        http.NewServeMux(),
	}
	s.mux.HandleFunc("/jobs/notify-due", s.handleNotifyDue)
	s.mux.HandleFunc("/health", s.handleHealth)
	return s
}

// Mux returns the server's mux so additional handlers (the feed hub)
// can be mounted before Start.
func (s *Server) Mux() *http.ServeMux {
	return s.mux
}

// Start begins serving. Non-blocking; use Stop to shut down.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:      s.mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.cfg.Logger.Printf("Job server listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.cfg.Logger.Printf("Server error: %v", err)
		}
	}()
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	s.wg.Wait()
	return nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Addr
}

// RunJob executes one scan-and-dispatch pass with the given window.
// This is the scheduler-origin entry point; it performs no
// authorization of its own.
func (s *Server) RunJob(ctx context.Context, windowMinutes int) (*Result, error) {
	if windowMinutes <= 0 {
		windowMinutes = s.cfg.WindowMinutes
	}
	window := time.Duration(windowMinutes) * time.Minute

	due, err := Scan(ctx, s.store, time.Now(), window)
	if err != nil {
		return nil, err
	}
	return s.dispatcher.Dispatch(ctx, due)
}

// RunScheduler fires the job on a fixed interval until ctx is
// cancelled. Overlapping firings are tolerated by design: the scan
// re-checks last_notified_at, and double delivery within one window is
// an accepted at-least-once outcome.
func (s *Server) RunScheduler(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			result, err := s.RunJob(ctx, s.cfg.WindowMinutes)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.cfg.Logger.Printf("Scheduled notify job failed: %v", err)
				continue
			}
			if result.Scanned > 0 {
				s.cfg.Logger.Printf("Notify job: scanned=%d delivered=%d pruned=%d marked=%d",
					result.Scanned, result.Delivered, result.Pruned, result.Marked)
			}
		}
	}
}

// handleNotifyDue triggers one job run. Authorization is checked before
// anything else touches data.
func (s *Server) handleNotifyDue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	windowMinutes := s.cfg.WindowMinutes
	if v := r.URL.Query().Get("window_minutes"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid window_minutes", http.StatusBadRequest)
			return
		}
		windowMinutes = n
	}

	result, err := s.RunJob(r.Context(), windowMinutes)
	if err != nil {
		s.cfg.Logger.Printf("Notify job failed: %v", err)
		http.Error(w, "job failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}

func (s *Server) authorized(r *http.Request) bool {
	if s.cfg.Secret == "" {
		return false
	}
	got := r.Header.Get("X-Job-Secret")
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.Secret)) == 1
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
}
