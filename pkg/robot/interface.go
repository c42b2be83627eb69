// Package robot provides the domain types and capability interfaces shared
// by the tour and docking modes.
//
// Interfaces are small and focused; consumers depend only on what they use.
package robot

import (
	"context"
	"time"
)

// VelocityPublisher sends base velocity commands to the actuator transport.
// Delivery is fire-and-forget.
type VelocityPublisher interface {
	PublishVelocity(cmd Twist) error
}

// GoalCanceler cancels the in-flight navigation goal, if any.
type GoalCanceler interface {
	CancelGoal() error
}

// GoalExecutor is the contract of the external goal-execution service
// (move_base). At most one goal is in flight at a time.
type GoalExecutor interface {
	GoalCanceler

	// WaitForServer blocks until the server is reachable or timeout elapses.
	WaitForServer(ctx context.Context, timeout time.Duration) error

	// SendGoal dispatches target in frameID, replacing any previous goal.
	SendGoal(ctx context.Context, target Pose, frameID string) error

	// WaitForResult blocks until the current goal reaches a terminal state
	// (true) or timeout elapses (false).
	WaitForResult(ctx context.Context, timeout time.Duration) bool

	// State reports the current goal's state.
	State() GoalState
}
