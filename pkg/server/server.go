package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// debugLog is silent until EnableDebugLogging is called.
var debugLog = log.New(io.Discard, "DEBUG: ", log.LstdFlags|log.Lmicroseconds)

// Server owns all shared relay state: the session registry, the game state
// store, the stats counters, and the admin control plane all hang off one
// instance so there are no process-wide singletons.
type Server struct {
	config Config

	registry *SessionRegistry
	state    *GameState
	stats    *StatsCollector
	metrics  *Metrics
	promReg  *prometheus.Registry

	authenticator Authenticator
	adminAuth     AdminAuthorizer

	// conns tracks every open connection, authenticated or not. Removal
	// from this map is the single source of truth for terminal disconnect
	// accounting.
	connMu sync.Mutex
	conns  map[Conn]struct{}

	httpServer *http.Server
	shutdown   chan struct{}
	wg         sync.WaitGroup
}

// NewServer creates a new relay server instance.
func NewServer(config Config) *Server {
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector())
	metrics := NewMetrics(promReg)

	registry := NewSessionRegistry()
	registry.SetMetrics(metrics)

	state := NewGameState()
	state.SetMetrics(metrics)

	stats := NewStatsCollector()
	stats.SetMetrics(metrics)

	return &Server{
		config:        config,
		registry:      registry,
		state:         state,
		stats:         stats,
		metrics:       metrics,
		promReg:       promReg,
		authenticator: MinLengthAuthenticator{MinLength: config.MinTokenLength},
		adminAuth:     NewStaticTokenSet(config.AdminTokens),
		conns:         make(map[Conn]struct{}),
		shutdown:      make(chan struct{}),
	}
}

// SetAuthenticator replaces the client token policy. Must be called before
// Start.
func (s *Server) SetAuthenticator(a Authenticator) {
	s.authenticator = a
}

// SetAdminAuthorizer replaces the admin credential check. Must be called
// before Start.
func (s *Server) SetAdminAuthorizer(a AdminAuthorizer) {
	s.adminAuth = a
}

// EnableDebugLogging turns on verbose per-message logging.
func (s *Server) EnableDebugLogging() {
	debugLog.SetOutput(os.Stderr)
}

// Handler returns the HTTP handler serving the WebSocket endpoint, the
// health/admin surface, and the metrics endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.HandleWebSocket)
	mux.HandleFunc("/health", s.HealthHandler)
	mux.HandleFunc("/admin/players", s.AdminPlayersHandler)
	mux.HandleFunc("/admin/kick", s.AdminKickHandler)
	mux.HandleFunc("/admin/broadcast", s.AdminBroadcastHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(s.promReg, promhttp.HandlerOpts{}))
	return mux
}

// Start binds the HTTP listener and starts the background loops.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.HTTPPort)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	s.wg.Add(1)
	go s.sweepLoop()

	s.wg.Add(1)
	go s.statsLogLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		log.Printf("Relay server listening on %s", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("HTTP server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop() error {
	close(s.shutdown)

	var err error
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = s.httpServer.Shutdown(ctx)
	}

	s.registry.CloseAll()
	s.state.Close()
	s.wg.Wait()

	return err
}

// trackConn registers a newly accepted connection for disconnect accounting.
func (s *Server) trackConn(conn Conn) {
	s.connMu.Lock()
	s.conns[conn] = struct{}{}
	s.connMu.Unlock()

	s.stats.RecordConnect()
}

// finalizeDisconnect runs the terminal accounting for a connection exactly
// once, no matter how many termination signals arrive (transport error,
// close, admin kick). Removal from the connection map is the gate: the
// second caller gets nothing to do. Connections that never authenticated
// are decremented here too; they just have no session to clean up.
func (s *Server) finalizeDisconnect(conn Conn) {
	s.connMu.Lock()
	_, live := s.conns[conn]
	if live {
		delete(s.conns, conn)
	}
	s.connMu.Unlock()

	if !live {
		conn.Close()
		return
	}

	s.stats.RecordDisconnect()

	if sess, ok := s.registry.Unregister(conn); ok {
		if playerUUID := sess.PlayerUUID(); playerUUID != "" {
			s.state.RemovePlayer(playerUUID)
		}
		s.registry.BroadcastPlayerDisconnected(sess.ID)
		debugLog.Printf("Session %s disconnected", sess.ID)
	}

	conn.Close()
}

// sweepLoop periodically removes player states that have gone stale.
func (s *Server) sweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
			if removed := s.state.SweepStalePlayers(s.config.PlayerTimeout); removed > 0 {
				log.Printf("Cleaned up %d offline players", removed)
			}
		}
	}
}

// statsLogLoop periodically logs a one-line summary of the counters.
func (s *Server) statsLogLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.StatsLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
			stats := s.stats.Snapshot()
			log.Printf("Server stats - Active: %d, Total: %d, Messages: %d, Players: %d",
				stats.ActiveConnections, stats.TotalConnections, stats.MessagesProcessed, s.state.PlayerCount())
		}
	}
}
