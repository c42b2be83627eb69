package sim

import (
	"math"
	"sync"
	"time"

	"github.com/teslashibe/go-navtest/pkg/protocol"
	"github.com/teslashibe/go-navtest/pkg/robot"
)

// GoalRecord is a goal the simulated move_base received.
type GoalRecord struct {
	ID     string
	Target robot.Pose
	State  robot.GoalState
}

type simGoal struct {
	GoalRecord
	stamp protocol.Time
	timer *time.Timer
}

// world is the simulated move_base and marker camera.
type world struct {
	cfg     Config
	publish func(topic string, v interface{})

	mu      sync.Mutex
	goals   []*simGoal
	queue   []robot.GoalState
	marker  robot.Point
	seq     uint32
	cmd     robot.Twist
	cmdLog  []robot.Twist
	stopped bool
}

func newWorld(cfg Config, publish func(topic string, v interface{})) *world {
	return &world{
		cfg:     cfg,
		publish: publish,
		marker:  cfg.MarkerStart,
	}
}

func (w *world) script(states ...robot.GoalState) {
	w.mu.Lock()
	w.queue = append(w.queue, states...)
	w.mu.Unlock()
}

// acceptGoal starts a goal, preempting any goal still in progress.
func (w *world) acceptGoal(g *protocol.MoveBaseActionGoal) {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}

	var preempted []*simGoal
	for _, old := range w.goals {
		if !old.State.Terminal() {
			preempted = append(preempted, old)
		}
	}

	outcome := robot.StateSucceeded
	if len(w.queue) > 0 {
		outcome = w.queue[0]
		w.queue = w.queue[1:]
	}

	sg := &simGoal{
		GoalRecord: GoalRecord{
			ID:     g.GoalID.ID,
			Target: robot.PoseFromMsg(g.Goal.TargetPose.Pose),
			State:  robot.StateActive,
		},
		stamp: g.GoalID.Stamp,
	}
	if outcome.Terminal() {
		id := sg.ID
		sg.timer = time.AfterFunc(w.cfg.MoveDuration, func() { w.finish(id, outcome) })
	} else {
		sg.State = outcome
	}
	w.goals = append(w.goals, sg)
	w.mu.Unlock()

	for _, old := range preempted {
		w.finish(old.ID, robot.StatePreempted)
	}
}

// cancelGoal preempts the goal with id, or every goal when id is empty.
func (w *world) cancelGoal(id string) {
	w.mu.Lock()
	var ids []string
	for _, g := range w.goals {
		if (id == "" || g.ID == id) && !g.State.Terminal() {
			ids = append(ids, g.ID)
		}
	}
	w.mu.Unlock()

	for _, gid := range ids {
		w.finish(gid, robot.StatePreempted)
	}
}

// finish moves a goal to a terminal state and publishes its result.
func (w *world) finish(id string, state robot.GoalState) {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	var g *simGoal
	for _, candidate := range w.goals {
		if candidate.ID == id {
			g = candidate
		}
	}
	if g == nil || g.State.Terminal() {
		w.mu.Unlock()
		return
	}
	if g.timer != nil {
		g.timer.Stop()
	}
	g.State = state
	status := g.status()
	w.mu.Unlock()

	w.publish(protocol.TopicMoveBaseRes, protocol.MoveBaseActionResult{
		Header: protocol.Header{Stamp: protocol.Stamp(time.Now())},
		Status: status,
	})
}

func (g *simGoal) status() protocol.GoalStatus {
	return protocol.GoalStatus{
		GoalID: protocol.GoalID{Stamp: g.stamp, ID: g.ID},
		Status: uint8(g.State),
		Text:   g.State.String(),
	}
}

// statusArray is the current /move_base/status message.
func (w *world) statusArray() protocol.GoalStatusArray {
	w.mu.Lock()
	defer w.mu.Unlock()

	arr := protocol.GoalStatusArray{
		Header:     protocol.Header{Stamp: protocol.Stamp(time.Now())},
		StatusList: make([]protocol.GoalStatus, 0, len(w.goals)),
	}
	for _, g := range w.goals {
		arr.StatusList = append(arr.StatusList, g.status())
	}
	return arr
}

// applyVelocity sets the command integrated by the marker camera.
func (w *world) applyVelocity(t robot.Twist) {
	w.mu.Lock()
	w.cmd = t
	w.cmdLog = append(w.cmdLog, t)
	w.mu.Unlock()
}

// stepMarker advances the marker by the current command over dt and
// returns the next camera observation. Forward motion closes the depth;
// turning left shifts the marker right in the image.
func (w *world) stepMarker(dt time.Duration) protocol.PoseStamped {
	w.mu.Lock()
	defer w.mu.Unlock()

	sec := dt.Seconds()
	w.marker.Z = math.Max(0, w.marker.Z-w.cmd.Linear*sec)
	w.marker.X += w.cmd.Angular * math.Max(w.marker.Z, DockedDepth) * sec
	w.seq++

	return protocol.PoseStamped{
		Header: protocol.Header{Seq: w.seq, Stamp: protocol.Stamp(time.Now()), FrameID: "camera"},
		Pose: robot.Pose{
			Position:    w.marker,
			Orientation: robot.Quaternion{W: 1},
		}.Msg(),
	}
}

// DockedDepth is the smallest lever arm used for lateral marker motion.
const DockedDepth = 0.1

func (w *world) setMarker(p robot.Point) {
	w.mu.Lock()
	w.marker = p
	w.mu.Unlock()
}

func (w *world) markerPosition() robot.Point {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.marker
}

func (w *world) velocities() []robot.Twist {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]robot.Twist, len(w.cmdLog))
	copy(out, w.cmdLog)
	return out
}

func (w *world) goalRecords() []GoalRecord {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]GoalRecord, len(w.goals))
	for i, g := range w.goals {
		out[i] = g.GoalRecord
	}
	return out
}

// close stops pending goal timers.
func (w *world) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	for _, g := range w.goals {
		if g.timer != nil {
			g.timer.Stop()
		}
	}
}
