// Package sim provides an in-process rosbridge endpoint with a simulated
// move_base action server, initial pose source and marker camera, for
// running navtest without a robot.
package sim

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-navtest/pkg/protocol"
	"github.com/teslashibe/go-navtest/pkg/robot"
)

// Config controls the simulated world.
type Config struct {
	// MoveDuration is how long a goal stays ACTIVE before its outcome.
	MoveDuration time.Duration

	// StatusRate is the /move_base/status publish period.
	StatusRate time.Duration

	// MarkerRate is the /aruco_single/pose publish period. Zero disables
	// the marker camera.
	MarkerRate time.Duration

	// InitialPose is sent to every /initialpose subscriber.
	InitialPose robot.Point

	// AutoInitialPose publishes InitialPose on a client's first
	// /initialpose subscription.
	AutoInitialPose bool

	// MarkerStart is the marker position in the camera frame at startup.
	MarkerStart robot.Point
}

// DefaultConfig returns a fast simulation.
func DefaultConfig() Config {
	return Config{
		MoveDuration:    500 * time.Millisecond,
		StatusRate:      200 * time.Millisecond,
		MarkerRate:      100 * time.Millisecond,
		AutoInitialPose: true,
		MarkerStart:     robot.Point{X: 0.2, Z: 1.5},
	}
}

// peer is a connected bridge client.
type peer struct {
	id   uint64
	conn *websocket.Conn

	// posed is set once the auto initial pose went out
	posed atomic.Bool

	mu sync.Mutex
}

// send writes one envelope to the peer.
func (p *peer) send(msg *protocol.Message) error {
	data, err := msg.Bytes()
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

// Server is the simulated bridge.
type Server struct {
	cfg    Config
	logger *slog.Logger
	app    *fiber.App

	mu         sync.RWMutex
	peers      map[uint64]*peer
	subs       map[string]map[uint64]bool
	advertised map[string]string
	nextPeer   uint64

	world *world

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Stats
	messagesReceived atomic.Uint64
	messagesSent     atomic.Uint64
}

// NewServer creates a simulated bridge.
func NewServer(cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:        cfg,
		logger:     logger.With("component", "sim"),
		peers:      make(map[uint64]*peer),
		subs:       make(map[string]map[uint64]bool),
		advertised: make(map[string]string),
		stop:       make(chan struct{}),
	}
	s.world = newWorld(cfg, s.publish)
	return s
}

// RegisterRoutes registers the bridge endpoint at / on a Fiber app.
func (s *Server) RegisterRoutes(app *fiber.App) {
	app.Use("/", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/", websocket.New(s.handlePeer))
}

// Start listens on addr (for example "127.0.0.1:0"), starts the world and
// returns the websocket URL to dial.
func (s *Server) Start(ctx context.Context, addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("sim listen: %w", err)
	}

	s.app = fiber.New(fiber.Config{DisableStartupMessage: true})
	s.RegisterRoutes(s.app)

	go func() {
		if err := s.app.Listener(ln); err != nil {
			s.logger.Warn("sim server stopped", "error", err)
		}
	}()

	s.wg.Add(1)
	go s.run(ctx)

	url := "ws://" + ln.Addr().String()
	s.logger.Info("simulated rosbridge listening", "url", url)
	return url, nil
}

// Close stops the world, drops every bridge client and stops the HTTP
// server.
func (s *Server) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
	s.world.close()

	s.mu.RLock()
	peers := make([]*peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.RUnlock()
	for _, p := range peers {
		p.conn.Close()
	}
	if s.app != nil {
		return s.app.Shutdown()
	}
	return nil
}

// run drives the periodic status and marker publishers.
func (s *Server) run(ctx context.Context) {
	defer s.wg.Done()

	status := time.NewTicker(s.cfg.StatusRate)
	defer status.Stop()

	var markerC <-chan time.Time
	if s.cfg.MarkerRate > 0 {
		marker := time.NewTicker(s.cfg.MarkerRate)
		defer marker.Stop()
		markerC = marker.C
	}

	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-status.C:
			s.publish(protocol.TopicMoveBaseStat, s.world.statusArray())
		case <-markerC:
			s.publish(protocol.TopicMarkerPose, s.world.stepMarker(s.cfg.MarkerRate))
		}
	}
}

// handlePeer handles one bridge client connection.
func (s *Server) handlePeer(c *websocket.Conn) {
	s.mu.Lock()
	s.nextPeer++
	p := &peer{id: s.nextPeer, conn: c}
	s.peers[p.id] = p
	count := len(s.peers)
	s.mu.Unlock()

	s.logger.Debug("bridge client connected", "peer", p.id, "total", count)

	defer func() {
		s.mu.Lock()
		delete(s.peers, p.id)
		for _, subs := range s.subs {
			delete(subs, p.id)
		}
		s.mu.Unlock()
		s.logger.Debug("bridge client disconnected", "peer", p.id)
	}()

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			return
		}
		s.messagesReceived.Add(1)
		s.handleMessage(p, data)
	}
}

// handleMessage processes one rosbridge op from a peer.
func (s *Server) handleMessage(p *peer, data []byte) {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		s.sendStatus(p, "error", err.Error())
		return
	}

	switch msg.Op {
	case protocol.OpSubscribe:
		s.mu.Lock()
		if s.subs[msg.Topic] == nil {
			s.subs[msg.Topic] = make(map[uint64]bool)
		}
		s.subs[msg.Topic][p.id] = true
		s.mu.Unlock()

		if msg.Topic == protocol.TopicInitialPose && s.cfg.AutoInitialPose && p.posed.CompareAndSwap(false, true) {
			s.sendInitialPose(p)
		}

	case protocol.OpUnsubscribe:
		s.mu.Lock()
		delete(s.subs[msg.Topic], p.id)
		s.mu.Unlock()

	case protocol.OpAdvertise:
		s.mu.Lock()
		s.advertised[msg.Topic] = msg.Type
		s.mu.Unlock()

	case protocol.OpUnadvertise:
		s.mu.Lock()
		delete(s.advertised, msg.Topic)
		s.mu.Unlock()

	case protocol.OpPublish:
		s.handlePublish(p, msg)

	default:
		s.sendStatus(p, "warning", "unsupported op "+string(msg.Op))
	}
}

// handlePublish feeds the simulated world and relays msg to the other
// subscribers of its topic.
func (s *Server) handlePublish(from *peer, msg *protocol.Message) {
	switch msg.Topic {
	case protocol.TopicMoveBaseGoal:
		goal, err := msg.GetMoveBaseActionGoal()
		if err != nil {
			s.sendStatus(from, "error", err.Error())
			return
		}
		s.world.acceptGoal(goal)

	case protocol.TopicMoveBaseCanc:
		id, err := msg.GetGoalID()
		if err != nil {
			s.sendStatus(from, "error", err.Error())
			return
		}
		s.world.cancelGoal(id.ID)

	case protocol.TopicCmdVel:
		tw, err := msg.GetTwist()
		if err != nil {
			s.sendStatus(from, "error", err.Error())
			return
		}
		s.world.applyVelocity(robot.TwistFromMsg(*tw))
	}

	s.relay(from.id, msg)
}

func (s *Server) sendInitialPose(p *peer) {
	pose := protocol.PoseWithCovarianceStamped{
		Header: protocol.Header{Stamp: protocol.Stamp(time.Now()), FrameID: "map"},
		Pose: protocol.PoseWithCovariance{Pose: robot.Pose{
			Position:    s.cfg.InitialPose,
			Orientation: robot.Quaternion{W: 1},
		}.Msg()},
	}
	msg, err := protocol.NewPublish(protocol.TopicInitialPose, pose)
	if err != nil {
		return
	}
	if err := p.send(msg); err == nil {
		s.messagesSent.Add(1)
	}
}

func (s *Server) sendStatus(p *peer, level, text string) {
	p.send(protocol.NewStatus(level, text))
}

// publish sends v on topic to every subscriber.
func (s *Server) publish(topic string, v interface{}) {
	msg, err := protocol.NewPublish(topic, v)
	if err != nil {
		s.logger.Warn("sim encode failed", "topic", topic, "error", err)
		return
	}
	s.relay(0, msg)
}

// relay sends msg to all subscribers of its topic except the peer skip.
func (s *Server) relay(skip uint64, msg *protocol.Message) {
	s.mu.RLock()
	targets := make([]*peer, 0, len(s.subs[msg.Topic]))
	for id := range s.subs[msg.Topic] {
		if id == skip {
			continue
		}
		if p, ok := s.peers[id]; ok {
			targets = append(targets, p)
		}
	}
	s.mu.RUnlock()

	for _, p := range targets {
		if err := p.send(msg); err != nil {
			s.logger.Debug("sim send failed", "peer", p.id, "error", err)
			continue
		}
		s.messagesSent.Add(1)
	}
}

// Script queues outcomes for the next goals, in order. A non-terminal state
// leaves the goal in that state until it is cancelled.
func (s *Server) Script(states ...robot.GoalState) {
	s.world.script(states...)
}

// SetMarker moves the marker in the camera frame.
func (s *Server) SetMarker(p robot.Point) {
	s.world.setMarker(p)
}

// Marker returns the marker position in the camera frame.
func (s *Server) Marker() robot.Point {
	return s.world.markerPosition()
}

// CmdVel returns every velocity command received on /cmd_vel.
func (s *Server) CmdVel() []robot.Twist {
	return s.world.velocities()
}

// Goals returns the goals received so far.
func (s *Server) Goals() []GoalRecord {
	return s.world.goalRecords()
}

// Advertised returns the type advertised for topic.
func (s *Server) Advertised(topic string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.advertised[topic]
	return t, ok
}

// PeerCount returns the number of connected bridge clients.
func (s *Server) PeerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.peers)
}

// Stats contains server statistics.
type Stats struct {
	Peers            int    `json:"peers"`
	MessagesReceived uint64 `json:"messages_received"`
	MessagesSent     uint64 `json:"messages_sent"`
	Goals            int    `json:"goals"`
}

// GetStats returns server statistics.
func (s *Server) GetStats() Stats {
	return Stats{
		Peers:            s.PeerCount(),
		MessagesReceived: s.messagesReceived.Load(),
		MessagesSent:     s.messagesSent.Load(),
		Goals:            len(s.Goals()),
	}
}
