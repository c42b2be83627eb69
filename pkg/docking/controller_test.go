package docking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/teslashibe/go-navtest/internal/telemetry"
	"github.com/teslashibe/go-navtest/pkg/protocol"
	"github.com/teslashibe/go-navtest/pkg/robot"
)

func newTestController() (*Controller, *robot.MockVelocity) {
	mock := &robot.MockVelocity{}
	return NewController(mock, 5*time.Millisecond, nil), mock
}

func observe(c *Controller, seq uint32, x, z float64) {
	c.Observe(Observation{Seq: seq, Position: robot.Point{X: x, Z: z}})
}

func lastCmd(t *testing.T, m *robot.MockVelocity) robot.Twist {
	t.Helper()
	cmd, ok := m.Last()
	if !ok {
		t.Fatal("no command published")
	}
	return cmd
}

func TestController_StopsWithoutObservation(t *testing.T) {
	c, mock := newTestController()

	c.tick()
	c.tick()

	if mock.Count() != 2 {
		t.Errorf("published %d commands, want one per tick", mock.Count())
	}
	if cmd := lastCmd(t, mock); !cmd.IsZero() {
		t.Errorf("command without observation = %v, want zero", cmd)
	}
	if c.Status().HasObservation {
		t.Error("Status().HasObservation should be false")
	}
}

func TestController_FreshThenStaleFar(t *testing.T) {
	c, mock := newTestController()

	observe(c, 1, 0.2, 2.0)
	c.tick()
	if cmd := lastCmd(t, mock); cmd != (robot.Twist{Linear: 0.08, Angular: -0.1}) {
		t.Errorf("fresh far right = %v", cmd)
	}

	// Same sequence number: stale, hold straight
	for i := 0; i < 3; i++ {
		c.tick()
		if cmd := lastCmd(t, mock); cmd != (robot.Twist{Linear: 0.08}) {
			t.Errorf("stale far tick %d = %v, want (0.08, 0)", i, cmd)
		}
	}

	observe(c, 2, -0.1, 1.5)
	c.tick()
	if cmd := lastCmd(t, mock); cmd != (robot.Twist{Linear: 0.08, Angular: 0.3}) {
		t.Errorf("fresh far left = %v", cmd)
	}
	if st := c.Status(); st.LastSeen != 2 || st.Band != "far" || st.Direction != "left" {
		t.Errorf("Status() = %+v", st)
	}
}

func TestController_FirstObservationWithSeqZeroIsStale(t *testing.T) {
	c, mock := newTestController()

	// lastSeen starts at 0, so seq 0 is never new
	observe(c, 0, 0.2, 2.0)
	c.tick()
	if cmd := lastCmd(t, mock); cmd != (robot.Twist{Linear: 0.08}) {
		t.Errorf("first far right with seq 0 = %v, want stale hold (0.08, 0)", cmd)
	}

	observe(c, 0, 0.01, 0.3)
	c.tick()
	if cmd := lastCmd(t, mock); !cmd.IsZero() {
		t.Errorf("near with seq 0 = %v, want stop", cmd)
	}

	observe(c, 1, 0.01, 0.3)
	c.tick()
	if cmd := lastCmd(t, mock); cmd != (robot.Twist{Linear: 0.05}) {
		t.Errorf("near center seq 1 = %v, want (0.05, 0)", cmd)
	}
	c.tick()
	if cmd := lastCmd(t, mock); !cmd.IsZero() {
		t.Errorf("stale near = %v, want stop", cmd)
	}
}

func TestController_DockedHoldsZero(t *testing.T) {
	c, mock := newTestController()

	observe(c, 7, 0.3, 0.05)
	for i := 0; i < 5; i++ {
		c.tick()
		if cmd := lastCmd(t, mock); !cmd.IsZero() {
			t.Fatalf("docked tick %d = %v, want zero", i, cmd)
		}
	}
	if c.Status().Band != "docked" {
		t.Errorf("Band = %q, want docked", c.Status().Band)
	}
}

func TestController_OnMarkerPose(t *testing.T) {
	c, mock := newTestController()

	msg, err := protocol.NewPublish(protocol.TopicMarkerPose, protocol.PoseStamped{
		Header: protocol.Header{Seq: 12},
		Pose:   protocol.Pose{Position: protocol.Vector3{X: 0.03, Z: 0.8}},
	})
	if err != nil {
		t.Fatalf("NewPublish() error = %v", err)
	}
	c.OnMarkerPose(msg)
	c.tick()

	if cmd := lastCmd(t, mock); cmd != (robot.Twist{Linear: 0.1}) {
		t.Errorf("far center = %v, want (0.1, 0)", cmd)
	}
	if st := c.Status(); st.Sequence != 12 || st.Distance != 0.8 {
		t.Errorf("Status() = %+v", st)
	}
}

func TestController_PublishErrorKeepsTicking(t *testing.T) {
	mock := &robot.MockVelocity{PublishFunc: func(robot.Twist) error { return errors.New("bridge down") }}
	c := NewController(mock, time.Millisecond, nil)

	c.tick()
	c.tick()
	if c.Status().Ticks != 2 {
		t.Errorf("Ticks = %d, want 2", c.Status().Ticks)
	}
}

func TestController_OnTick(t *testing.T) {
	c, _ := newTestController()
	var got []Status
	c.OnTick = func(s Status) { got = append(got, s) }

	c.tick()
	if len(got) != 1 || got[0].Ticks != 1 {
		t.Errorf("OnTick calls = %+v", got)
	}
}

func TestController_RunAndShutdown(t *testing.T) {
	c, mock := newTestController()
	observe(c, 1, 0, 2.0)

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()

	time.Sleep(50 * time.Millisecond)
	c.Shutdown()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Shutdown")
	}

	n := mock.Count()
	if n < 2 {
		t.Errorf("published %d commands, want steady stream", n)
	}
	time.Sleep(20 * time.Millisecond)
	if mock.Count() != n {
		t.Error("commands published after Shutdown returned")
	}

	// Idempotent
	c.Shutdown()
}

func TestController_RunStopsOnContext(t *testing.T) {
	c, _ := newTestController()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancel")
	}
}

func TestController_ShutdownBeforeRun(t *testing.T) {
	c, mock := newTestController()
	c.Shutdown()

	if err := c.Run(context.Background()); err != nil {
		t.Errorf("Run() error = %v", err)
	}
	if mock.Count() != 0 {
		t.Errorf("Run after Shutdown published %d commands", mock.Count())
	}
}

func TestController_CountsTicksAndObservations(t *testing.T) {
	tel, err := telemetry.New(telemetry.Config{Enabled: true})
	if err != nil {
		t.Fatalf("telemetry.New() error = %v", err)
	}
	t.Cleanup(func() { tel.Shutdown(context.Background()) })

	mock := &robot.MockVelocity{}
	c := NewController(mock, time.Millisecond, nil, WithMeterProvider(tel.MeterProvider()))

	c.tick()
	observe(c, 1, 0.2, 2.0)
	c.tick()
	c.tick()
	observe(c, 2, 0.2, 0.05)
	c.tick()

	totals, err := tel.Totals(context.Background())
	if err != nil {
		t.Fatalf("Totals() error = %v", err)
	}
	if totals["navtest.docking.ticks"] != 4 {
		t.Errorf("ticks = %v, want 4", totals["navtest.docking.ticks"])
	}
	if totals["navtest.docking.observations"] != 2 {
		t.Errorf("observations = %v, want 2", totals["navtest.docking.observations"])
	}

	bands, err := tel.Breakdown(context.Background(), "navtest.docking.ticks", "band")
	if err != nil {
		t.Fatalf("Breakdown() error = %v", err)
	}
	// The tick before any observation reports the docked band
	if bands["far"] != 2 || bands["docked"] != 2 {
		t.Errorf("ticks by band = %v, want far=2 docked=2", bands)
	}
}
