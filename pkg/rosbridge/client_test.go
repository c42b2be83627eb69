package rosbridge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/teslashibe/go-navtest/pkg/protocol"
	"github.com/teslashibe/go-navtest/pkg/robot"
	"github.com/teslashibe/go-navtest/pkg/sim"
)

func startSim(t *testing.T) (*sim.Server, string) {
	t.Helper()
	cfg := sim.DefaultConfig()
	cfg.MoveDuration = 20 * time.Millisecond
	cfg.StatusRate = 10 * time.Millisecond
	cfg.MarkerRate = 10 * time.Millisecond

	srv := sim.NewServer(cfg, nil)
	url, err := srv.Start(context.Background(), "127.0.0.1:0")
	if err != nil {
		t.Fatalf("sim Start() error = %v", err)
	}
	t.Cleanup(func() { srv.Close() })
	return srv, url
}

func connect(t *testing.T, url string) *Client {
	t.Helper()
	cfg := DefaultConfig()
	cfg.URL = url
	cfg.ReconnectInterval = 10 * time.Millisecond
	cfg.MaxReconnectAttempts = 100

	c, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.ConnectWithRetry(ctx); err != nil {
		t.Fatalf("ConnectWithRetry() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"default", func(c *Config) {}, false},
		{"wss", func(c *Config) { c.URL = "wss://robot:9090" }, false},
		{"http scheme", func(c *Config) { c.URL = "http://robot:9090" }, true},
		{"empty url", func(c *Config) { c.URL = "" }, true},
		{"zero write timeout", func(c *Config) { c.WriteTimeout = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	if _, err := New(Config{}, nil); err == nil {
		t.Error("New() should reject an empty config")
	}
}

func TestClient_NotConnected(t *testing.T) {
	c, err := New(DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if c.IsConnected() {
		t.Error("IsConnected() should be false before Connect")
	}
	if err := c.Publish("/cmd_vel", robot.Stop.Msg()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
}

func TestClient_PublishReachesServer(t *testing.T) {
	srv, url := startSim(t)
	c := connect(t, url)

	if !c.IsConnected() {
		t.Fatal("IsConnected() = false after connect")
	}
	if err := c.Advertise(protocol.TopicCmdVel, protocol.TypeTwist); err != nil {
		t.Fatalf("Advertise() error = %v", err)
	}
	// Second advertise is deduplicated
	if err := c.Advertise(protocol.TopicCmdVel, protocol.TypeTwist); err != nil {
		t.Fatalf("Advertise() error = %v", err)
	}
	if err := c.Publish(protocol.TopicCmdVel, robot.Twist{Linear: 0.05, Angular: -0.2}.Msg()); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(srv.CmdVel()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cmds := srv.CmdVel()
	if len(cmds) != 1 || cmds[0] != (robot.Twist{Linear: 0.05, Angular: -0.2}) {
		t.Errorf("server received %v", cmds)
	}
	if typ, ok := srv.Advertised(protocol.TopicCmdVel); !ok || typ != protocol.TypeTwist {
		t.Errorf("Advertised() = %q, %v", typ, ok)
	}

	if stats := c.Stats(); !stats.Connected || stats.MessagesSent < 2 {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestClient_SubscribeFanOut(t *testing.T) {
	_, url := startSim(t)
	c := connect(t, url)

	a := make(chan *protocol.Message, 10)
	b := make(chan *protocol.Message, 10)
	unsubA, err := c.Subscribe(protocol.TopicMarkerPose, protocol.TypePoseStamped, 1, func(m *protocol.Message) {
		select {
		case a <- m:
		default:
		}
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	unsubB, err := c.Subscribe(protocol.TopicMarkerPose, protocol.TypePoseStamped, 1, func(m *protocol.Message) {
		select {
		case b <- m:
		default:
		}
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	for _, ch := range []chan *protocol.Message{a, b} {
		select {
		case m := <-ch:
			if _, err := m.GetPoseStamped(); err != nil {
				t.Errorf("GetPoseStamped() error = %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("no marker pose delivered")
		}
	}

	unsubA()
	unsubA()
	unsubB()
}

func TestClient_WaitForMessage(t *testing.T) {
	_, url := startSim(t)
	c := connect(t, url)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := c.WaitForMessage(ctx, protocol.TopicInitialPose, protocol.TypePoseWithCovStmp)
	if err != nil {
		t.Fatalf("WaitForMessage() error = %v", err)
	}
	if _, err := msg.GetPoseWithCovarianceStamped(); err != nil {
		t.Errorf("GetPoseWithCovarianceStamped() error = %v", err)
	}
}

func TestClient_WaitForMessage_ContextTimeout(t *testing.T) {
	_, url := startSim(t)
	c := connect(t, url)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := c.WaitForMessage(ctx, "/nobody_publishes", "std_msgs/String"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitForMessage() error = %v, want DeadlineExceeded", err)
	}
}

func TestClient_Close(t *testing.T) {
	_, url := startSim(t)
	c := connect(t, url)

	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("Done() not closed after Close")
	}
	if err := c.Publish(protocol.TopicCmdVel, robot.Stop.Msg()); !errors.Is(err, ErrClosed) {
		t.Errorf("Publish() after Close error = %v, want ErrClosed", err)
	}
	if err := c.Connect(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Connect() after Close error = %v, want ErrClosed", err)
	}
	// Idempotent
	c.Close()
}

func TestClient_ConnectWithRetry_GivesUp(t *testing.T) {
	cfg := DefaultConfig()
	cfg.URL = "ws://127.0.0.1:1"
	cfg.ReconnectInterval = time.Millisecond
	cfg.MaxReconnectAttempts = 2

	c, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := c.ConnectWithRetry(context.Background()); err == nil {
		t.Error("ConnectWithRetry() should fail with nothing listening")
	}
	if c.Stats().ReconnectCount != 2 {
		t.Errorf("ReconnectCount = %d, want 2", c.Stats().ReconnectCount)
	}
}

func TestClient_WithSession_ServerGone(t *testing.T) {
	srv, url := startSim(t)
	c := connect(t, url)

	ctx, cancel := c.WithSession(context.Background())
	defer cancel()

	srv.Close()

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session context not cancelled after the server went away")
	}
	if cause := context.Cause(ctx); !errors.Is(cause, ErrNotConnected) {
		t.Errorf("Cause() = %v, want ErrNotConnected", cause)
	}
	if err := c.Publish(protocol.TopicCmdVel, robot.Stop.Msg()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() after session loss error = %v, want ErrNotConnected", err)
	}
}

func TestClient_WithSession_ParentCancel(t *testing.T) {
	_, url := startSim(t)
	c := connect(t, url)

	parent, cancelParent := context.WithCancel(context.Background())
	ctx, cancel := c.WithSession(parent)
	defer cancel()

	cancelParent()
	<-ctx.Done()
	if cause := context.Cause(ctx); errors.Is(cause, ErrNotConnected) {
		t.Errorf("Cause() = %v, parent cancel is not a lost session", cause)
	}
	if !c.IsConnected() {
		t.Error("cancelling the session context must not close the client")
	}
}
