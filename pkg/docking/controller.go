package docking

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/teslashibe/go-navtest/pkg/protocol"
	"github.com/teslashibe/go-navtest/pkg/robot"
)

const instrumentationName = "github.com/teslashibe/go-navtest/pkg/docking"

// DefaultRate is the control period (20 Hz).
const DefaultRate = 50 * time.Millisecond

// Observation is the latest marker pose seen by the camera. Position.Z is
// the depth to the marker and Position.X its lateral offset.
type Observation struct {
	Seq      uint32
	Position robot.Point
}

// Status is a snapshot of the controller for display.
type Status struct {
	HasObservation bool        `json:"has_observation"`
	Sequence       uint32      `json:"sequence"`
	LastSeen       uint32      `json:"last_seen"`
	Distance       float64     `json:"distance"`
	Direction      string      `json:"direction"`
	Band           string      `json:"band"`
	Linear         float64     `json:"linear"`
	Angular        float64     `json:"angular"`
	Ticks          uint64      `json:"ticks"`
	Command        robot.Twist `json:"-"`
}

// Controller runs the docking loop. The observation handler and the loop
// share the marker fields under obsMu; everything else belongs to the loop.
type Controller struct {
	pub    robot.VelocityPublisher
	rate   time.Duration
	logger *slog.Logger

	obsMu     sync.Mutex
	obs       Observation
	direction Direction
	hasObs    bool

	// Loop-owned. lastSeen starts at 0, so an observation carrying seq 0
	// is stale from the first tick.
	lastSeen      uint32
	lastCommand   robot.Twist
	tickCount     uint64
	errorCount    uint64
	lastErrorTime time.Time

	statusMu sync.RWMutex
	status   Status

	stop     chan struct{}
	stopOnce sync.Once
	runMu    sync.Mutex // held while Run is looping

	// OnTick, if set, receives the status after every tick.
	OnTick func(Status)

	ticks        metric.Int64Counter
	observations metric.Int64Counter
}

// Option configures a Controller.
type Option func(*controllerOptions)

type controllerOptions struct {
	meterProvider metric.MeterProvider
}

// WithMeterProvider creates the tick and observation counters from mp
// instead of the otel global.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *controllerOptions) { o.meterProvider = mp }
}

// NewController creates a docking controller publishing to pub every rate
// (DefaultRate when zero).
func NewController(pub robot.VelocityPublisher, rate time.Duration, logger *slog.Logger, opts ...Option) *Controller {
	if rate <= 0 {
		rate = DefaultRate
	}
	if logger == nil {
		logger = slog.Default()
	}

	var o controllerOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.meterProvider == nil {
		o.meterProvider = otel.GetMeterProvider()
	}

	c := &Controller{
		pub:    pub,
		rate:   rate,
		logger: logger.With("component", "docking"),
		stop:   make(chan struct{}),
	}

	m := o.meterProvider.Meter(instrumentationName)
	var err error
	c.ticks, err = m.Int64Counter(
		"navtest.docking.ticks",
		metric.WithDescription("Control loop ticks by band"),
	)
	if err != nil {
		c.logger.Warn("failed to create tick counter", "error", err)
	}
	c.observations, err = m.Int64Counter(
		"navtest.docking.observations",
		metric.WithDescription("Marker observations received"),
	)
	if err != nil {
		c.logger.Warn("failed to create observation counter", "error", err)
	}

	return c
}

// Observe records a marker observation, replacing the previous one.
func (c *Controller) Observe(o Observation) {
	dir := Classify(o.Position.X)

	c.obsMu.Lock()
	c.obs = o
	c.direction = dir
	c.hasObs = true
	c.obsMu.Unlock()

	if c.observations != nil {
		c.observations.Add(context.Background(), 1)
	}
	c.logger.Debug("marker observed", "seq", o.Seq, "x", o.Position.X, "distance", o.Position.Z, "direction", dir.String())
}

// OnMarkerPose is a bridge handler for geometry_msgs/PoseStamped.
func (c *Controller) OnMarkerPose(msg *protocol.Message) {
	ps, err := msg.GetPoseStamped()
	if err != nil {
		c.logger.Debug("bad marker pose", "error", err)
		return
	}
	p := ps.Pose.Position
	c.Observe(Observation{Seq: ps.Header.Seq, Position: robot.Point{X: p.X, Y: p.Y, Z: p.Z}})
}

// Run starts the control loop. Blocks until ctx ends or Shutdown is called.
func (c *Controller) Run(ctx context.Context) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	select {
	case <-c.stop:
		return nil
	default:
	}

	c.logger.Info("starting parking", "rate", c.rate)

	ticker := time.NewTicker(c.rate)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return nil
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.tick()
		}
	}
}

// tick executes one control cycle: snapshot the observation, apply the
// policy and publish the result.
func (c *Controller) tick() {
	c.obsMu.Lock()
	obs, dir, has := c.obs, c.direction, c.hasObs
	c.obsMu.Unlock()

	cmd := robot.Stop
	band := Docked
	if has {
		band = BandFor(obs.Position.Z)
		fresh := obs.Seq != c.lastSeen
		cmd = Policy(obs.Position.Z, dir, fresh)
		if fresh && band != Docked {
			c.lastSeen = obs.Seq
		}
	}

	c.tickCount++
	c.lastCommand = cmd

	if err := c.pub.PublishVelocity(cmd); err != nil {
		c.errorCount++
		if c.lastErrorTime.IsZero() || time.Since(c.lastErrorTime) > 5*time.Second {
			c.logger.Warn("velocity publish failed", "error", err, "errors", c.errorCount)
			c.lastErrorTime = time.Now()
		}
	}

	if c.ticks != nil {
		c.ticks.Add(context.Background(), 1, metric.WithAttributes(attribute.String("band", band.String())))
	}

	st := Status{
		HasObservation: has,
		Sequence:       obs.Seq,
		LastSeen:       c.lastSeen,
		Distance:       obs.Position.Z,
		Direction:      dir.String(),
		Band:           band.String(),
		Linear:         cmd.Linear,
		Angular:        cmd.Angular,
		Ticks:          c.tickCount,
		Command:        cmd,
	}
	if !has {
		st.Direction = ""
		st.Band = ""
	}

	c.statusMu.Lock()
	c.status = st
	c.statusMu.Unlock()

	// Heartbeat every ~5 seconds at 20 Hz
	if c.tickCount%100 == 0 {
		c.logger.Info("parking", "ticks", c.tickCount, "band", st.Band, "distance", st.Distance, "cmd", cmd.String())
	}

	if c.OnTick != nil {
		c.OnTick(st)
	}
}

// Status returns the status after the last tick.
func (c *Controller) Status() Status {
	c.statusMu.RLock()
	defer c.statusMu.RUnlock()
	return c.status
}

// Shutdown stops the loop and waits for the current tick to finish, so no
// command is published after it returns. Safe to call more than once.
func (c *Controller) Shutdown() {
	c.stopOnce.Do(func() { close(c.stop) })
	c.runMu.Lock()
	c.runMu.Unlock()
}
