package actionlib

import (
	"context"
	"testing"
	"time"

	"github.com/teslashibe/go-navtest/pkg/robot"
	"github.com/teslashibe/go-navtest/pkg/rosbridge"
	"github.com/teslashibe/go-navtest/pkg/sim"
)

func newSimClient(t *testing.T) (*SimpleClient, *sim.Server) {
	t.Helper()
	cfg := sim.DefaultConfig()
	cfg.MoveDuration = 20 * time.Millisecond
	cfg.StatusRate = 10 * time.Millisecond
	cfg.MarkerRate = 0

	srv := sim.NewServer(cfg, nil)
	url, err := srv.Start(context.Background(), "127.0.0.1:0")
	if err != nil {
		t.Fatalf("sim Start() error = %v", err)
	}
	t.Cleanup(func() { srv.Close() })

	bcfg := rosbridge.DefaultConfig()
	bcfg.URL = url
	bcfg.ReconnectInterval = 10 * time.Millisecond
	bcfg.MaxReconnectAttempts = 100
	bridge, err := rosbridge.New(bcfg, nil)
	if err != nil {
		t.Fatalf("rosbridge.New() error = %v", err)
	}
	if err := bridge.ConnectWithRetry(context.Background()); err != nil {
		t.Fatalf("ConnectWithRetry() error = %v", err)
	}
	t.Cleanup(func() { bridge.Close() })

	c, err := NewSimpleClient(bridge, "", nil)
	if err != nil {
		t.Fatalf("NewSimpleClient() error = %v", err)
	}
	t.Cleanup(c.Close)
	return c, srv
}

func TestSimpleClient_AgainstSim(t *testing.T) {
	c, srv := newSimClient(t)
	ctx := context.Background()

	if err := c.WaitForServer(ctx, 2*time.Second); err != nil {
		t.Fatalf("WaitForServer() error = %v", err)
	}

	target := robot.Pose{Position: robot.Point{X: 0.329, Y: 4.858}, Orientation: robot.Quaternion{Z: -0.670, W: 0.743}}
	if err := c.SendGoal(ctx, target, "map"); err != nil {
		t.Fatalf("SendGoal() error = %v", err)
	}
	if !c.WaitForResult(ctx, 2*time.Second) {
		t.Fatal("WaitForResult() timed out")
	}
	if c.State() != robot.StateSucceeded {
		t.Errorf("State() = %v, want SUCCEEDED", c.State())
	}

	goals := srv.Goals()
	if len(goals) != 1 || goals[0].ID != c.GoalID() || goals[0].Target != target {
		t.Errorf("server goals = %+v", goals)
	}
}

func TestSimpleClient_TimeoutThenCancel(t *testing.T) {
	c, srv := newSimClient(t)
	ctx := context.Background()
	srv.Script(robot.StateActive)

	if err := c.WaitForServer(ctx, 2*time.Second); err != nil {
		t.Fatalf("WaitForServer() error = %v", err)
	}
	if err := c.SendGoal(ctx, robot.Pose{Orientation: robot.Quaternion{W: 1}}, "map"); err != nil {
		t.Fatalf("SendGoal() error = %v", err)
	}
	if c.WaitForResult(ctx, 100*time.Millisecond) {
		t.Fatal("WaitForResult() should time out on a hanging goal")
	}
	if c.State() != robot.StateActive {
		t.Errorf("State() = %v, want ACTIVE from status", c.State())
	}

	if err := c.CancelGoal(); err != nil {
		t.Fatalf("CancelGoal() error = %v", err)
	}
	if !c.WaitForResult(ctx, 2*time.Second) {
		t.Fatal("no result after cancel")
	}
	if c.State() != robot.StatePreempted {
		t.Errorf("State() = %v, want PREEMPTED", c.State())
	}
}
