// Package web provides a read-only status dashboard for navtest
package web

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-navtest/pkg/docking"
	"github.com/teslashibe/go-navtest/pkg/hub"
	"github.com/teslashibe/go-navtest/pkg/tour"
)

// Status is what the dashboard shows.
type Status struct {
	Mode            string             `json:"mode"`
	BridgeConnected bool               `json:"bridge_connected"`
	Phase           string             `json:"phase,omitempty"`
	Tour            *tour.Summary      `json:"tour,omitempty"`
	Docking         *docking.Status    `json:"docking,omitempty"`
	Metrics         map[string]float64 `json:"metrics,omitempty"`
	Updated         time.Time          `json:"updated"`
}

// DefaultDockingInterval throttles docking broadcasts below the loop rate.
const DefaultDockingInterval = 200 * time.Millisecond

// Server is the web dashboard server
type Server struct {
	app    *fiber.App
	addr   string
	logger *slog.Logger

	// State
	status   Status
	statusMu sync.RWMutex

	lastDockingBroadcast time.Time
	dockingInterval      time.Duration

	// Hub for websocket broadcast
	statusHub *hub.Hub
	cancelHub context.CancelFunc

	// BridgeConnected, if set, is polled for each status read.
	BridgeConnected func() bool

	// Metrics, if set, supplies counter totals for each status read.
	Metrics func(ctx context.Context) (map[string]float64, error)
}

// NewServer creates a dashboard for mode listening on addr (":8080").
func NewServer(addr, mode string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		addr:            addr,
		logger:          logger.With("component", "web"),
		status:          Status{Mode: mode, Updated: time.Now()},
		dockingInterval: DefaultDockingInterval,
		statusHub:       hub.New("status", logger),
	}

	app := fiber.New(fiber.Config{
		AppName:               "navtest dashboard",
		DisableStartupMessage: true,
	})

	// CORS for local development
	app.Use(cors.New())

	// API routes
	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/health", s.handleHealth)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/status", websocket.New(s.handleStatusWS))

	s.app = app
	return s
}

// App returns the Fiber app, for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start starts the hub and serves on the configured address. Blocks.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve starts the hub and serves on ln. Blocks.
func (s *Server) Serve(ln net.Listener) error {
	ctx, cancel := context.WithCancel(context.Background())
	s.statusMu.Lock()
	s.cancelHub = cancel
	s.statusMu.Unlock()

	go s.statusHub.Run(ctx)

	s.logger.Info("web dashboard listening", "url", "http://"+ln.Addr().String())
	return s.app.Listener(ln)
}

// StartAsync starts the web server in a goroutine
func (s *Server) StartAsync() {
	go func() {
		if err := s.Start(); err != nil {
			s.logger.Warn("web server error", "error", err)
		}
	}()
}

// Snapshot returns the current status.
func (s *Server) Snapshot() Status {
	s.statusMu.RLock()
	st := s.status
	poll := s.BridgeConnected
	metrics := s.Metrics
	s.statusMu.RUnlock()

	if poll != nil {
		st.BridgeConnected = poll()
	}
	if metrics != nil {
		totals, err := metrics(context.Background())
		if err != nil {
			s.logger.Debug("metrics read failed", "error", err)
		} else {
			st.Metrics = totals
		}
	}
	return st
}

// UpdateTour records a tour summary and broadcasts it.
func (s *Server) UpdateTour(sum tour.Summary, phase tour.Phase) {
	s.statusMu.Lock()
	s.status.Tour = &sum
	s.status.Phase = phase.String()
	s.status.Updated = time.Now()
	s.statusMu.Unlock()

	s.broadcast()
}

// UpdateDocking records a docking status. Broadcasts are throttled to
// one per docking interval.
func (s *Server) UpdateDocking(st docking.Status) {
	now := time.Now()

	s.statusMu.Lock()
	s.status.Docking = &st
	s.status.Phase = st.Band
	s.status.Updated = now
	due := now.Sub(s.lastDockingBroadcast) >= s.dockingInterval
	if due {
		s.lastDockingBroadcast = now
	}
	s.statusMu.Unlock()

	if due {
		s.broadcast()
	}
}

func (s *Server) broadcast() {
	if err := s.statusHub.BroadcastJSON(s.Snapshot()); err != nil {
		s.logger.Warn("status broadcast failed", "error", err)
	}
}

// GetStatusHub returns the status hub for external use
func (s *Server) GetStatusHub() *hub.Hub {
	return s.statusHub
}

// Shutdown gracefully stops the web server
func (s *Server) Shutdown() error {
	s.statusMu.Lock()
	cancel := s.cancelHub
	s.statusMu.Unlock()
	if cancel != nil {
		cancel()
	}
	return s.app.Shutdown()
}
