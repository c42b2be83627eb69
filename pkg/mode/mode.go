// Package mode selects the operating mode at startup and runs it inside a
// stop sequence that always leaves the robot commanded to zero velocity.
package mode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-navtest/pkg/robot"
)

// ErrUnknownMode is returned by ParseKind and Select for an unknown mode.
var ErrUnknownMode = errors.New("mode: unknown mode")

// Kind is the operating mode.
type Kind int

const (
	Tour Kind = iota
	Dock
)

func (k Kind) String() string {
	switch k {
	case Tour:
		return "tour"
	case Dock:
		return "dock"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind parses "tour" or "dock".
func ParseKind(s string) (Kind, error) {
	switch s {
	case "tour":
		return Tour, nil
	case "dock":
		return Dock, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// Runner is one operating mode.
type Runner interface {
	// Run blocks until the mode finishes or ctx ends.
	Run(ctx context.Context) error
	// Shutdown stops the mode's own activity: cancel a goal, stop a loop.
	Shutdown()
}

// Factory builds a Runner.
type Factory func() (Runner, error)

// Select builds the runner for k. Only the selected factory is called.
func Select(k Kind, tour, dock Factory) (Runner, error) {
	switch k {
	case Tour:
		return tour()
	case Dock:
		return dock()
	}
	return nil, fmt.Errorf("%w: %v", ErrUnknownMode, k)
}

// Stop sequence pauses.
const (
	DefaultPreStopPause  = 2 * time.Second
	DefaultPostStopPause = time.Second
)

// Session runs a Runner and guarantees the stop sequence on every exit
// path: Shutdown, pause, zero velocity, pause.
type Session struct {
	vel    robot.VelocityPublisher
	r      Runner
	logger *slog.Logger

	PreStopPause  time.Duration
	PostStopPause time.Duration

	stopOnce sync.Once

	// Overridable for tests
	sleep func(time.Duration)
}

// NewSession wraps r; vel receives the final zero command. A nil r gives a
// session that only stops the robot, for startup paths that fail before a
// mode exists.
func NewSession(r Runner, vel robot.VelocityPublisher, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		vel:           vel,
		r:             r,
		logger:        logger,
		PreStopPause:  DefaultPreStopPause,
		PostStopPause: DefaultPostStopPause,
		sleep:         time.Sleep,
	}
}

// Execute runs the mode and then the stop sequence. A panic in the mode is
// recovered and returned as an error after the robot is stopped.
func (s *Session) Execute(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("mode: panic: %v", r)
		}
		s.Stop()
	}()
	if s.r == nil {
		return errors.New("mode: no runner")
	}
	return s.r.Run(ctx)
}

// Stop runs the stop sequence once.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("Stopping the robot...")
		if s.r != nil {
			s.r.Shutdown()
		}
		s.sleep(s.PreStopPause)
		if err := s.vel.PublishVelocity(robot.Stop); err != nil {
			s.logger.Warn("failed to publish stop command", "error", err)
		}
		s.sleep(s.PostStopPause)
	})
}
