package tour

import (
	"time"

	"github.com/teslashibe/go-navtest/pkg/robot"
)

// Phase is the tour's top-level state.
type Phase int

const (
	// AwaitingPose is the gate before the first initial pose arrives.
	AwaitingPose Phase = iota
	// Navigating means a goal is in flight or about to be dispatched.
	Navigating
	// Resting is the pause between goals.
	Resting
	// Done means every waypoint has been visited.
	Done
)

func (p Phase) String() string {
	switch p {
	case AwaitingPose:
		return "awaiting_pose"
	case Navigating:
		return "navigating"
	case Resting:
		return "resting"
	default:
		return "done"
	}
}

// Leg is one dispatched goal: the target and the distance credited if it
// succeeds.
type Leg struct {
	Index    int
	Waypoint Waypoint
	Distance float64
	FromPose bool // distance measured from an initial pose
}

// State is the tour bookkeeping. It is owned by a single goroutine; Tour
// guards it for readers.
type State struct {
	Sequence     []Waypoint
	Cursor       int
	Attempted    int
	Succeeded    int
	Distance     float64
	Start        time.Time
	LastLocation string
	Phase        Phase

	// lastTarget is the index of the previous target, -1 before the first.
	lastTarget int
	// pending is a one-shot distance reference from an initial pose.
	pending *robot.Point
}

// NewState creates a state at the head of seq.
func NewState(seq []Waypoint) *State {
	return &State{Sequence: seq, lastTarget: -1}
}

// Done reports whether every waypoint has been dispatched.
func (s *State) Done() bool {
	return s.Cursor >= len(s.Sequence)
}

// SetReference makes p the reference for the next distance computation only.
func (s *State) SetReference(p robot.Point) {
	s.pending = &p
}

// reference returns the point distances are measured from and consumes a
// pending reference.
func (s *State) reference() (robot.Point, bool) {
	if s.pending != nil {
		p := *s.pending
		s.pending = nil
		return p, true
	}
	if s.lastTarget >= 0 {
		return s.Sequence[s.lastTarget].Pose.Position, false
	}
	return robot.Point{}, false
}

// Begin starts the next leg: it measures the distance to the target, then
// advances the cursor and attempt counter. It returns false when the tour
// is done.
func (s *State) Begin() (Leg, bool) {
	if s.Done() {
		s.Phase = Done
		return Leg{}, false
	}

	target := s.Sequence[s.Cursor]
	ref, fromPose := s.reference()
	leg := Leg{
		Index:    s.Cursor,
		Waypoint: target,
		Distance: ref.PlanarDistance(target.Pose.Position),
		FromPose: fromPose,
	}

	s.LastLocation = target.ID
	s.lastTarget = s.Cursor
	s.Cursor++
	s.Attempted++
	s.Phase = Navigating
	return leg, true
}

// Apply records the outcome of leg.
//
//	Succeeded: count it and credit the leg distance.
//	Aborted:   rewind to the same waypoint; attempts reset to its index.
//	otherwise: move on.
func (s *State) Apply(leg Leg, o Outcome) {
	switch o.Kind {
	case Succeeded:
		s.Succeeded++
		s.Distance += leg.Distance
	case Aborted:
		s.Cursor = leg.Index
		s.Attempted = leg.Index
	}

	if s.Done() {
		s.Phase = Done
	} else {
		s.Phase = Resting
	}
}
