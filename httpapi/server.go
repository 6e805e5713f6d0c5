// Package httpapi exposes the orchestrator's health, readiness, status
// and live-update surface over HTTP: a /health, /ready, /status route
// set plus a gorilla/websocket broadcast channel that pushes the
// current action schedule whenever a replan lands.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cepro-home/energy-planner/planner"
)

// State is the orchestrator's run state.
type State string

const (
	StateIdle    State = "idle"
	StateTicking State = "ticking"
	StatePaused  State = "paused"
	StateFailed  State = "failed"
)

// Status is what GetStatus must return for the /health, /ready and
// /status handlers.
type Status struct {
	State     State     `json:"state"`
	LastTick  time.Time `json:"last_tick"`
	NextTick  time.Time `json:"next_tick"`
	LastError string    `json:"last_error,omitempty"`
}

// StatusProvider decouples httpapi from the orchestrator package (which
// in turn depends on httpapi to broadcast schedule changes); the
// orchestrator implements this interface.
type StatusProvider interface {
	GetStatus() Status
	GetSchedule(ctx context.Context) (planner.ActionSchedule, error)
}

// Server is an HTTP+WebSocket status surface for one orchestrator.
type Server struct {
	provider StatusProvider
	server   *http.Server
	port     int
	upgrader websocket.Upgrader
	clients  sync.Map
	broadcast chan []byte
	done      chan struct{}
	logger    *log.Logger
}

// New builds a Server bound to port. Passing port<=0 disables the server
// (New returns nil).
func New(provider StatusProvider, port int, logger *log.Logger) *Server {
	if port <= 0 {
		return nil
	}
	if logger == nil {
		logger = log.Default()
	}

	mux := http.NewServeMux()
	s := &Server{
		provider: provider,
		port:     port,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		broadcast: make(chan []byte, 256),
		done:      make(chan struct{}),
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}

	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/ready", s.readinessHandler)
	mux.HandleFunc("/status", s.statusHandler)
	mux.HandleFunc("/ws", s.wsHandler)
	mux.HandleFunc("/", s.rootHandler)

	return s
}

// Start launches the HTTP listener and the broadcast pump in background
// goroutines.
func (s *Server) Start() error {
	if s == nil {
		return nil
	}
	go s.pumpBroadcasts()
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("httpapi: server error: %v", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the listener and closes every open
// WebSocket connection.
func (s *Server) Stop(ctx context.Context) error {
	if s == nil {
		return nil
	}
	close(s.done)
	s.clients.Range(func(key, _ any) bool {
		if conn, ok := key.(*websocket.Conn); ok {
			conn.Close()
		}
		return true
	})
	return s.server.Shutdown(ctx)
}

// NotifyScheduleChanged marshals sched and queues it for broadcast to
// every connected WebSocket client; it never blocks the caller (the
// orchestrator tick), dropping the update if the broadcast channel is
// saturated.
func (s *Server) NotifyScheduleChanged(sched planner.ActionSchedule) {
	if s == nil {
		return
	}
	data, err := json.Marshal(sched)
	if err != nil {
		s.logger.Printf("httpapi: failed to marshal schedule for broadcast: %v", err)
		return
	}
	select {
	case s.broadcast <- data:
	default:
		s.logger.Printf("httpapi: broadcast channel full, dropping schedule update")
	}
}

func (s *Server) pumpBroadcasts() {
	for {
		select {
		case msg := <-s.broadcast:
			s.clients.Range(func(key, _ any) bool {
				conn, ok := key.(*websocket.Conn)
				if !ok {
					return true
				}
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					s.clients.Delete(conn)
					conn.Close()
				}
				return true
			})
		case <-s.done:
			return
		}
	}
}

func (s *Server) wsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("httpapi: websocket upgrade error: %v", err)
		return
	}
	s.clients.Store(conn, true)

	if sched, err := s.provider.GetSchedule(r.Context()); err == nil {
		if data, merr := json.Marshal(sched); merr == nil {
			conn.WriteMessage(websocket.TextMessage, data)
		}
	}

	defer func() {
		s.clients.Delete(conn)
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	status := s.provider.GetStatus()

	resp := map[string]any{
		"status":     healthString(status),
		"state":      status.State,
		"last_tick":  status.LastTick.UTC().Format(time.RFC3339),
		"last_error": status.LastError,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	}
	if status.State == StateFailed {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	status := s.provider.GetStatus()
	ready := status.State != StateFailed

	resp := map[string]any{"ready": ready, "timestamp": time.Now().UTC().Format(time.RFC3339)}
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sched, err := s.provider.GetSchedule(r.Context())
	resp := map[string]any{
		"scheduler_status": s.provider.GetStatus(),
		"timestamp":        time.Now().UTC().Format(time.RFC3339),
	}
	if err == nil {
		resp["schedule"] = sched
	} else {
		resp["schedule_error"] = err.Error()
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) rootHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	resp := map[string]any{
		"service": "energy-planner",
		"endpoints": map[string]string{
			"health": "Health check endpoint",
			"ready":  "Readiness check endpoint",
			"status": "Detailed status endpoint",
			"ws":     "WebSocket schedule-update stream",
		},
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func healthString(status Status) string {
	if status.State == StateFailed {
		return "unhealthy"
	}
	return "healthy"
}
