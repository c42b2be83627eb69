package robot

import (
	"fmt"
	"math"

	"github.com/teslashibe/go-navtest/pkg/protocol"
)

// Point is a position in metres.
type Point struct {
	X, Y, Z float64
}

// Quaternion is an orientation.
type Quaternion struct {
	X, Y, Z, W float64
}

// Pose is a position plus orientation in the map frame.
type Pose struct {
	Position    Point
	Orientation Quaternion
}

// PlanarDistance returns the Euclidean distance between p and q using x and
// y only.
func (p Point) PlanarDistance(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// Twist is a base velocity command: forward linear speed (m/s) and yaw rate
// (rad/s).
type Twist struct {
	Linear  float64
	Angular float64
}

// Stop is the zero-velocity command.
var Stop = Twist{}

// IsZero reports whether t commands no motion.
func (t Twist) IsZero() bool {
	return t.Linear == 0 && t.Angular == 0
}

func (t Twist) String() string {
	return fmt.Sprintf("(%.2f, %.2f)", t.Linear, t.Angular)
}

// GoalState is the actionlib goal status.
type GoalState uint8

// actionlib_msgs/GoalStatus values.
const (
	StatePending GoalState = iota
	StateActive
	StatePreempted
	StateSucceeded
	StateAborted
	StateRejected
	StatePreempting
	StateRecalling
	StateRecalled
	StateLost
)

var goalStateNames = [...]string{
	"PENDING", "ACTIVE", "PREEMPTED",
	"SUCCEEDED", "ABORTED", "REJECTED",
	"PREEMPTING", "RECALLING", "RECALLED",
	"LOST",
}

func (s GoalState) String() string {
	if int(s) < len(goalStateNames) {
		return goalStateNames[s]
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(s))
}

// Terminal reports whether no further progress happens on a goal in state s.
func (s GoalState) Terminal() bool {
	switch s {
	case StatePreempted, StateSucceeded, StateAborted, StateRejected, StateRecalled, StateLost:
		return true
	}
	return false
}

// =============================================================================
// Wire conversions
// =============================================================================

// PoseFromMsg converts a wire pose.
func PoseFromMsg(p protocol.Pose) Pose {
	return Pose{
		Position:    Point{X: p.Position.X, Y: p.Position.Y, Z: p.Position.Z},
		Orientation: Quaternion{X: p.Orientation.X, Y: p.Orientation.Y, Z: p.Orientation.Z, W: p.Orientation.W},
	}
}

// Msg converts p to its wire form.
func (p Pose) Msg() protocol.Pose {
	return protocol.Pose{
		Position:    protocol.Vector3{X: p.Position.X, Y: p.Position.Y, Z: p.Position.Z},
		Orientation: protocol.Quaternion{X: p.Orientation.X, Y: p.Orientation.Y, Z: p.Orientation.Z, W: p.Orientation.W},
	}
}

// Msg converts t to geometry_msgs/Twist (linear.x, angular.z).
func (t Twist) Msg() protocol.Twist {
	return protocol.Twist{
		Linear:  protocol.Vector3{X: t.Linear},
		Angular: protocol.Vector3{Z: t.Angular},
	}
}

// TwistFromMsg converts a wire twist, keeping linear.x and angular.z.
func TwistFromMsg(m protocol.Twist) Twist {
	return Twist{Linear: m.Linear.X, Angular: m.Angular.Z}
}
