package protocol

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestNewPublish(t *testing.T) {
	tw := Twist{Linear: Vector3{X: 0.08}, Angular: Vector3{Z: -0.1}}

	msg, err := NewPublish(TopicCmdVel, tw)
	if err != nil {
		t.Fatalf("NewPublish() error = %v", err)
	}
	if msg.Op != OpPublish {
		t.Errorf("Op = %v, want %v", msg.Op, OpPublish)
	}
	if msg.Topic != TopicCmdVel {
		t.Errorf("Topic = %v, want %v", msg.Topic, TopicCmdVel)
	}

	data, err := msg.Bytes()
	if err != nil {
		t.Fatalf("Bytes() error = %v", err)
	}
	parsed, err := ParseMessage(data)
	if err != nil {
		t.Fatalf("ParseMessage() error = %v", err)
	}
	got, err := parsed.GetTwist()
	if err != nil {
		t.Fatalf("GetTwist() error = %v", err)
	}
	if got.Linear.X != 0.08 || got.Angular.Z != -0.1 {
		t.Errorf("Twist = %+v, want linear.x=0.08 angular.z=-0.1", got)
	}
}

func TestSubscribeWireFormat(t *testing.T) {
	data, err := NewSubscribe(TopicMarkerPose, TypePoseStamped, 1).Bytes()
	if err != nil {
		t.Fatalf("Bytes() error = %v", err)
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if fields["op"] != "subscribe" {
		t.Errorf("op = %v, want subscribe", fields["op"])
	}
	if fields["queue_length"] != float64(1) {
		t.Errorf("queue_length = %v, want 1", fields["queue_length"])
	}
	if _, ok := fields["msg"]; ok {
		t.Error("subscribe op should not carry msg")
	}
}

func TestParseMessage_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"invalid json", `{"op":`},
		{"missing op", `{"topic":"/cmd_vel"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseMessage([]byte(tt.data)); err == nil {
				t.Error("ParseMessage() should fail")
			}
		})
	}
}

func TestParseData_NoPayload(t *testing.T) {
	msg := NewAdvertise(TopicCmdVel, TypeTwist)
	if _, err := msg.GetTwist(); err == nil {
		t.Error("GetTwist() on advertise op should fail")
	}
}

func TestStatusText(t *testing.T) {
	msg, err := ParseMessage([]byte(`{"op":"status","level":"error","msg":"Unknown topic /foo"}`))
	if err != nil {
		t.Fatalf("ParseMessage() error = %v", err)
	}
	if msg.Level != "error" {
		t.Errorf("Level = %q, want error", msg.Level)
	}
	if !strings.Contains(msg.StatusText(), "Unknown topic") {
		t.Errorf("StatusText() = %q", msg.StatusText())
	}

	pub, _ := NewPublish(TopicCmdVel, Twist{})
	if pub.StatusText() != "" {
		t.Error("StatusText() should be empty for publish ops")
	}
}

func TestMoveBaseGoalShape(t *testing.T) {
	goal := MoveBaseActionGoal{
		GoalID: GoalID{ID: "goal-1"},
		Goal: MoveBaseGoal{TargetPose: PoseStamped{
			Header: Header{FrameID: "map"},
			Pose:   Pose{Position: Vector3{X: 1.353, Y: 0.793}, Orientation: Quaternion{Z: 0.9517, W: 0.3069}},
		}},
	}
	data, err := json.Marshal(goal)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	for _, want := range []string{`"goal_id":{"stamp"`, `"target_pose"`, `"frame_id":"map"`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("goal JSON missing %s: %s", want, data)
		}
	}
}

func TestStamp(t *testing.T) {
	if got := Stamp(time.Time{}); got != (Time{}) {
		t.Errorf("Stamp(zero) = %+v, want zero", got)
	}

	ts := time.Unix(1700000000, 250)
	got := Stamp(ts)
	if got.Secs != 1700000000 || got.Nsecs != 250 {
		t.Errorf("Stamp() = %+v", got)
	}
}
