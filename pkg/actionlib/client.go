// Package actionlib implements the client side of the ROS actionlib
// protocol for move_base over a rosbridge session: send a goal, track its
// status, wait for the result, cancel.
package actionlib

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/teslashibe/go-navtest/pkg/protocol"
	"github.com/teslashibe/go-navtest/pkg/robot"
	"github.com/teslashibe/go-navtest/pkg/rosbridge"
)

// Sentinel errors for common error conditions.
var (
	// ErrServerUnavailable is returned when the action server does not show
	// up within the wait timeout.
	ErrServerUnavailable = errors.New("actionlib: action server not available")

	// ErrNoGoal is returned when an operation needs a dispatched goal.
	ErrNoGoal = errors.New("actionlib: no goal dispatched")
)

// DefaultNamespace is the move_base action namespace.
const DefaultNamespace = "/move_base"

// Bridge is the subset of the rosbridge client used here.
type Bridge interface {
	Advertise(topic, rosType string) error
	Publish(topic string, msg interface{}) error
	Subscribe(topic, rosType string, queueLength int, h rosbridge.Handler) (func(), error)
}

// SimpleClient tracks a single goal at a time, like actionlib's
// SimpleActionClient.
type SimpleClient struct {
	bridge Bridge
	ns     string
	logger *slog.Logger

	serverSeen chan struct{}
	serverOnce sync.Once

	mu       sync.Mutex
	goalID   string
	state    robot.GoalState
	result   chan struct{} // closed when the current goal reaches a result
	resulted bool
	unsub    []func()

	// Overridable for tests
	newID func() string
	now   func() time.Time
}

// NewSimpleClient advertises the goal/cancel topics and subscribes to
// status/result under ns (DefaultNamespace when empty).
func NewSimpleClient(b Bridge, ns string, logger *slog.Logger) (*SimpleClient, error) {
	if ns == "" {
		ns = DefaultNamespace
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &SimpleClient{
		bridge:     b,
		ns:         ns,
		logger:     logger.With("action", ns),
		serverSeen: make(chan struct{}),
		newID:      func() string { return "navtest-" + uuid.NewString() },
		now:        time.Now,
	}

	if err := b.Advertise(c.topic("goal"), protocol.TypeMoveBaseGoal); err != nil {
		return nil, fmt.Errorf("failed to advertise goal topic: %w", err)
	}
	if err := b.Advertise(c.topic("cancel"), protocol.TypeGoalID); err != nil {
		return nil, fmt.Errorf("failed to advertise cancel topic: %w", err)
	}

	unsubStatus, err := b.Subscribe(c.topic("status"), protocol.TypeGoalStatusArray, 1, c.handleStatus)
	if err != nil {
		return nil, err
	}
	unsubResult, err := b.Subscribe(c.topic("result"), protocol.TypeMoveBaseResult, 0, c.handleResult)
	if err != nil {
		unsubStatus()
		return nil, err
	}
	c.unsub = []func(){unsubStatus, unsubResult}

	return c, nil
}

func (c *SimpleClient) topic(name string) string {
	return c.ns + "/" + name
}

// WaitForServer blocks until the first status message from the server
// arrives, the timeout elapses, or ctx ends.
func (c *SimpleClient) WaitForServer(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-c.serverSeen:
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: no status on %s within %v", ErrServerUnavailable, c.topic("status"), timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendGoal publishes a new goal for target, replacing any tracked goal.
func (c *SimpleClient) SendGoal(ctx context.Context, target robot.Pose, frameID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	now := protocol.Stamp(c.now())
	id := c.newID()

	c.mu.Lock()
	c.goalID = id
	c.state = robot.StatePending
	c.result = make(chan struct{})
	c.resulted = false
	c.mu.Unlock()

	goal := protocol.MoveBaseActionGoal{
		Header: protocol.Header{Stamp: now},
		GoalID: protocol.GoalID{Stamp: now, ID: id},
		Goal: protocol.MoveBaseGoal{TargetPose: protocol.PoseStamped{
			Header: protocol.Header{Stamp: now, FrameID: frameID},
			Pose:   target.Msg(),
		}},
	}

	if err := c.bridge.Publish(c.topic("goal"), goal); err != nil {
		return fmt.Errorf("failed to send goal %s: %w", id, err)
	}
	c.logger.Debug("goal sent", "goal_id", id)
	return nil
}

// WaitForResult blocks until the current goal has a result (true), or the
// timeout elapses or ctx ends (false).
func (c *SimpleClient) WaitForResult(ctx context.Context, timeout time.Duration) bool {
	c.mu.Lock()
	result := c.result
	c.mu.Unlock()

	if result == nil {
		return false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-result:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// State returns the tracked goal's state.
func (c *SimpleClient) State() robot.GoalState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// GoalID returns the tracked goal's id, or "" before the first goal.
func (c *SimpleClient) GoalID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.goalID
}

// CancelGoal asks the server to cancel the tracked goal. With no goal it is
// a no-op.
func (c *SimpleClient) CancelGoal() error {
	c.mu.Lock()
	id := c.goalID
	c.mu.Unlock()

	if id == "" {
		return nil
	}
	if err := c.bridge.Publish(c.topic("cancel"), protocol.GoalID{Stamp: protocol.Stamp(c.now()), ID: id}); err != nil {
		return fmt.Errorf("failed to cancel goal %s: %w", id, err)
	}
	c.logger.Debug("goal cancel requested", "goal_id", id)
	return nil
}

// Close drops the status and result subscriptions.
func (c *SimpleClient) Close() {
	c.mu.Lock()
	unsub := c.unsub
	c.unsub = nil
	c.mu.Unlock()

	for _, fn := range unsub {
		fn()
	}
}

// handleStatus marks the server as present and follows non-terminal status
// changes of the tracked goal. Terminal states come from the result topic.
func (c *SimpleClient) handleStatus(msg *protocol.Message) {
	c.serverOnce.Do(func() { close(c.serverSeen) })

	arr, err := msg.GetGoalStatusArray()
	if err != nil {
		c.logger.Debug("bad status message", "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.goalID == "" || c.resulted {
		return
	}
	for _, st := range arr.StatusList {
		if st.GoalID.ID != c.goalID {
			continue
		}
		if s := robot.GoalState(st.Status); !s.Terminal() {
			c.state = s
		}
	}
}

func (c *SimpleClient) handleResult(msg *protocol.Message) {
	res, err := msg.GetMoveBaseActionResult()
	if err != nil {
		c.logger.Debug("bad result message", "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.goalID == "" || res.Status.GoalID.ID != c.goalID || c.resulted {
		return
	}
	c.state = robot.GoalState(res.Status.Status)
	c.resulted = true
	close(c.result)
}

// Ensure SimpleClient implements GoalExecutor
var _ robot.GoalExecutor = (*SimpleClient)(nil)
