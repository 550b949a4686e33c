package api

import (
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/keeperlabs/orderkeeper/pkg/keeper"
)

// Server exposes keeper status over REST, Prometheus and WebSocket. It is a
// read-only window: the keeper's only write path is the ledger gateway.
type Server struct {
	engine    *keeper.Engine
	router    *mux.Router
	hub       *Hub
	startedAt int64
}

// NewServer creates the status server for a running engine.
func NewServer(engine *keeper.Engine, startedAt int64) *Server {
	s := &Server{
		engine:    engine,
		router:    mux.NewRouter(),
		hub:       NewHub(),
		startedAt: startedAt,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/status", s.handleStatus).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// Handler returns the route tree, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start starts the status server.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	})

	log.Printf("[api] status server starting on %s", addr)
	return http.ListenAndServe(addr, c.Handler(s.router))
}

// BroadcastCycle pushes a completed cycle summary to websocket subscribers.
// Wired to the engine's OnCycle hook.
func (s *Server) BroadcastCycle(summary keeper.CycleSummary) {
	s.hub.Broadcast(CycleEvent{Type: "cycle", Cycle: summary})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, StatusResponse{
		StartedAt:    s.startedAt,
		TicksDropped: s.engine.TicksDropped(),
		LastCycle:    s.engine.LastCycle(),
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.hub.ServeWS(w, r)
}
