// Package tour drives the robot through an ordered list of waypoints via
// the goal-execution service, retrying aborted goals and reporting success
// rate, running time and distance.
package tour

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/teslashibe/go-navtest/pkg/protocol"
	"github.com/teslashibe/go-navtest/pkg/robot"
)

// Config holds tour timing.
type Config struct {
	RestTime      time.Duration // pause after every goal
	GoalTimeout   time.Duration // wait for a terminal state
	ServerTimeout time.Duration // wait for the action server at startup
	FrameID       string

	// MeterProvider receives the goal and distance counters. Nil uses the
	// otel global.
	MeterProvider metric.MeterProvider
}

// DefaultConfig returns the stock timings.
func DefaultConfig() Config {
	return Config{
		RestTime:      time.Second,
		GoalTimeout:   300 * time.Second,
		ServerTimeout: 60 * time.Second,
		FrameID:       "map",
	}
}

// PoseSource delivers geometry_msgs/PoseWithCovarianceStamped messages.
// *rosbridge.Client satisfies it.
type PoseSource interface {
	WaitForMessage(ctx context.Context, topic, rosType string) (*protocol.Message, error)
	Subscribe(topic, rosType string, queueLength int, h func(*protocol.Message)) (func(), error)
}

// Tour runs a waypoint tour. Run owns the state; the pose handler and
// Summary readers go through mu.
type Tour struct {
	exec   robot.GoalExecutor
	vel    robot.VelocityPublisher
	cfg    Config
	logger *slog.Logger

	mu    sync.RWMutex
	state *State

	gotPose  chan struct{}
	poseOnce sync.Once
	shutOnce sync.Once

	poses         PoseSource
	stopListening func()

	metrics tourMetrics

	// OnUpdate, if set, receives the summary after every goal.
	OnUpdate func(Summary)

	// Overridable for tests
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// New creates a tour over waypoints.
func New(exec robot.GoalExecutor, vel robot.VelocityPublisher, waypoints []Waypoint, cfg Config, logger *slog.Logger) (*Tour, error) {
	if len(waypoints) == 0 {
		return nil, ErrNoWaypoints
	}
	if cfg.FrameID == "" {
		cfg.FrameID = "map"
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "tour")

	return &Tour{
		exec:    exec,
		vel:     vel,
		cfg:     cfg,
		logger:  logger,
		state:   NewState(waypoints),
		gotPose: make(chan struct{}),
		metrics: newTourMetrics(cfg.MeterProvider, logger),
		sleep:   sleepCtx,
		now:     time.Now,
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetInitialPose records an initial pose. The first one opens the start
// gate; every one becomes the reference for the next distance computation.
func (t *Tour) SetInitialPose(p robot.Point) {
	t.mu.Lock()
	t.state.SetReference(p)
	t.mu.Unlock()

	t.poseOnce.Do(func() { close(t.gotPose) })
	t.logger.Debug("initial pose received", "x", p.X, "y", p.Y)
}

// OnInitialPose is a bridge handler for geometry_msgs/PoseWithCovarianceStamped.
func (t *Tour) OnInitialPose(msg *protocol.Message) {
	pose, err := msg.GetPoseWithCovarianceStamped()
	if err != nil {
		t.logger.Debug("bad initial pose", "error", err)
		return
	}
	p := pose.Pose.Pose.Position
	t.SetInitialPose(robot.Point{X: p.X, Y: p.Y, Z: p.Z})
}

// ListenInitialPose makes Run take its initial poses from src: one blocking
// wait opens the start gate, then a subscription picks up later poses
// until Shutdown. Call before Run.
func (t *Tour) ListenInitialPose(src PoseSource) {
	t.poses = src
}

// awaitInitialPose blocks until the start gate is open.
func (t *Tour) awaitInitialPose(ctx context.Context) error {
	if t.poses == nil {
		select {
		case <-t.gotPose:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	// A malformed pose leaves the gate shut; wait for the next one
	for !t.hasPose() {
		msg, err := t.poses.WaitForMessage(ctx, protocol.TopicInitialPose, protocol.TypePoseWithCovStmp)
		if err != nil {
			return err
		}
		t.OnInitialPose(msg)
	}

	unsubscribe, err := t.poses.Subscribe(protocol.TopicInitialPose, protocol.TypePoseWithCovStmp, 1, t.OnInitialPose)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.stopListening = unsubscribe
	t.mu.Unlock()
	return nil
}

func (t *Tour) hasPose() bool {
	select {
	case <-t.gotPose:
		return true
	default:
		return false
	}
}

// Summary returns the running report.
func (t *Tour) Summary() Summary {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state.Summary(t.now())
}

// Phase returns the current phase.
func (t *Tour) Phase() Phase {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state.Phase
}

// Run waits for the action server and the first initial pose, then visits
// every waypoint. It returns nil on completion or when ctx ends, and an
// error wrapping ErrTransportUnavailable if the server never shows up.
func (t *Tour) Run(ctx context.Context) error {
	t.logger.Info("Waiting for move_base action server...")
	if err := t.exec.WaitForServer(ctx, t.cfg.ServerTimeout); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("%w: %w", ErrTransportUnavailable, err)
	}
	t.logger.Info("Connected to move base server")

	t.logger.Info("*** Click the 2D Pose Estimate button in RViz to set the robot's initial pose...")
	if err := t.awaitInitialPose(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("waiting for initial pose: %w", err)
	}

	t.mu.Lock()
	t.state.Start = t.now()
	t.mu.Unlock()
	t.logger.Info("Starting navigation test", "waypoints", len(t.state.Sequence))

	for {
		if ctx.Err() != nil {
			return nil
		}

		t.mu.Lock()
		leg, ok := t.state.Begin()
		t.mu.Unlock()
		if !ok {
			break
		}

		if !t.visit(ctx, leg) {
			return nil
		}

		if err := t.sleep(ctx, t.cfg.RestTime); err != nil {
			return nil
		}
	}

	s := t.Summary()
	t.logger.Info("Tour complete", "succeeded", s.Succeeded, "attempted", s.Attempted, "distance", s.Distance)
	return nil
}

// visit dispatches one leg, classifies the result and reports. It returns
// false if ctx ended while the goal was in flight.
func (t *Tour) visit(ctx context.Context, leg Leg) bool {
	if leg.FromPose {
		t.logger.Info("Updating current pose.")
	}
	t.logger.Info("Going to: "+leg.Waypoint.ID, "location", leg.Waypoint.ID, "distance", leg.Distance)

	if err := t.exec.SendGoal(ctx, leg.Waypoint.Pose, t.cfg.FrameID); err != nil {
		t.logger.Warn("goal dispatch failed", "location", leg.Waypoint.ID, "error", err)
	}

	finished := t.exec.WaitForResult(ctx, t.cfg.GoalTimeout)
	if ctx.Err() != nil {
		return false
	}

	outcome := Classify(finished, t.exec.State())
	switch outcome.Kind {
	case TimedOut:
		if err := t.exec.CancelGoal(); err != nil {
			t.logger.Warn("cancel failed", "error", err)
		}
		t.logger.Info("Timed out achieving goal", "location", leg.Waypoint.ID)
	case Succeeded:
		t.logger.Info("Goal succeeded!", "location", leg.Waypoint.ID, "state", outcome.Code.String())
	case Aborted:
		t.logger.Info("Goal aborted", "location", leg.Waypoint.ID)
	default:
		var gf *GoalFailedError
		if errors.As(outcome.Err(), &gf) {
			t.logger.Info("Goal failed with error code: "+gf.Code.String(), "location", leg.Waypoint.ID)
		}
	}

	t.mu.Lock()
	t.state.Apply(leg, outcome)
	summary := t.state.Summary(t.now())
	t.mu.Unlock()

	t.metrics.record(context.Background(), leg, outcome)

	t.logger.Info(fmt.Sprintf("Success so far: %d/%d = %.1f%%", summary.Succeeded, summary.Attempted, summary.SuccessRate),
		"succeeded", summary.Succeeded, "attempted", summary.Attempted, "success_rate", summary.SuccessRate)
	t.logger.Info(fmt.Sprintf("Running time: %.1f min Distance: %.1f m", summary.RunningMinutes, summary.Distance),
		"running_minutes", summary.RunningMinutes, "distance", summary.Distance)

	// Hold the base still between goals
	if err := t.vel.PublishVelocity(robot.Stop); err != nil {
		t.logger.Warn("velocity publish failed", "error", err)
	}

	if t.OnUpdate != nil {
		t.OnUpdate(summary)
	}
	return true
}

// Shutdown cancels the in-flight goal, if any, and stops listening for
// initial poses. Safe to call more than once.
func (t *Tour) Shutdown() {
	t.shutOnce.Do(func() {
		t.mu.Lock()
		stop := t.stopListening
		t.mu.Unlock()
		if stop != nil {
			stop()
		}
		if err := t.exec.CancelGoal(); err != nil {
			t.logger.Warn("cancel on shutdown failed", "error", err)
		}
	})
}
