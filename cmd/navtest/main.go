// navtest drives a ROS mobile base through a waypoint tour, or docks it in
// front of a visual marker, over rosbridge.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/teslashibe/go-navtest/internal/config"
	navlog "github.com/teslashibe/go-navtest/internal/log"
	"github.com/teslashibe/go-navtest/internal/telemetry"
	"github.com/teslashibe/go-navtest/pkg/actionlib"
	"github.com/teslashibe/go-navtest/pkg/docking"
	"github.com/teslashibe/go-navtest/pkg/mode"
	"github.com/teslashibe/go-navtest/pkg/protocol"
	"github.com/teslashibe/go-navtest/pkg/robot"
	"github.com/teslashibe/go-navtest/pkg/rosbridge"
	"github.com/teslashibe/go-navtest/pkg/sim"
	"github.com/teslashibe/go-navtest/pkg/tour"
	"github.com/teslashibe/go-navtest/pkg/web"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	navlog.Init(cfg.LogLevel)
	logger := navlog.L()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("navtest failed", "error", err)
		cancel()
		os.Exit(1)
	}
}

// parseFlags builds the configuration from defaults, NAVTEST_* variables
// and then flags, so an explicit flag always wins.
func parseFlags(args []string, output io.Writer) (config.Config, error) {
	cfg := config.DefaultConfig()
	if err := cfg.LoadEnvConfig(); err != nil {
		return cfg, err
	}

	fs := flag.NewFlagSet("navtest", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&cfg.Mode, "mode", cfg.Mode, "Mode: tour or dock")
	fs.StringVar(&cfg.BridgeURL, "bridge", cfg.BridgeURL, "rosbridge websocket URL")
	fs.DurationVar(&cfg.RestTime, "rest-time", cfg.RestTime, "Pause between tour goals")
	fs.BoolVar(&cfg.Simulation, "fake", cfg.Simulation, "Run against the in-process simulated robot")
	fs.DurationVar(&cfg.GoalTimeout, "goal-timeout", cfg.GoalTimeout, "Maximum time to reach one waypoint")
	fs.DurationVar(&cfg.ServerTimeout, "server-timeout", cfg.ServerTimeout, "Maximum wait for move_base at startup")
	fs.IntVar(&cfg.LoopRate, "rate", cfg.LoopRate, "Docking control loop rate in Hz")
	fs.StringVar(&cfg.WaypointsFile, "waypoints", cfg.WaypointsFile, "YAML waypoint file (default: built-in tour)")
	fs.StringVar(&cfg.DashboardPort, "dashboard", cfg.DashboardPort, "Status dashboard port (empty disables)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	fs.BoolVar(&cfg.Metrics, "metrics", cfg.Metrics, "Collect tour and docking counters")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Stop sequence pauses; tests shorten them.
var (
	preStopPause  = mode.DefaultPreStopPause
	postStopPause = mode.DefaultPostStopPause
)

func newSession(r mode.Runner, vel robot.VelocityPublisher, logger *slog.Logger) *mode.Session {
	s := mode.NewSession(r, vel, logger)
	s.PreStopPause = preStopPause
	s.PostStopPause = postStopPause
	return s
}

// run connects to the bridge, builds the selected mode and executes it
// inside a stop session. It returns once the mode finishes, ctx ends or the
// bridge session is lost; the last case is an error wrapping
// rosbridge.ErrNotConnected.
func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	kind, err := mode.ParseKind(cfg.Mode)
	if err != nil {
		return err
	}

	tel, err := telemetry.New(telemetry.Config{Enabled: cfg.Metrics, ServiceName: "navtest"})
	if err != nil {
		return err
	}
	tel.InstallGlobal()
	defer closeTelemetry(tel, logger)

	bridgeURL := cfg.BridgeURL
	if cfg.Simulation {
		simSrv := sim.NewServer(sim.DefaultConfig(), logger)
		bridgeURL, err = simSrv.Start(ctx, "127.0.0.1:0")
		if err != nil {
			return err
		}
		defer simSrv.Close()
		logger.Info("simulated robot running", "url", bridgeURL)
	}

	bcfg := rosbridge.DefaultConfig()
	bcfg.URL = bridgeURL
	bridge, err := rosbridge.New(bcfg, logger)
	if err != nil {
		return err
	}
	defer bridge.Close()

	if err := bridge.ConnectWithRetry(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("%w: %w", tour.ErrTransportUnavailable, err)
	}

	vel, err := robot.NewBridgeVelocity(bridge, protocol.TopicCmdVel)
	if err != nil {
		return err
	}

	var dash *web.Server
	if cfg.DashboardPort != "" {
		dash = web.NewServer(":"+cfg.DashboardPort, cfg.Mode, logger)
		dash.BridgeConnected = bridge.IsConnected
		if tel.Enabled() {
			dash.Metrics = tel.Totals
		}
		dash.StartAsync()
		defer dash.Shutdown()
	}

	mp := tel.MeterProvider()
	runner, err := mode.Select(kind,
		func() (mode.Runner, error) { return newTour(cfg, bridge, vel, dash, mp, logger) },
		func() (mode.Runner, error) { return newDocking(cfg, bridge, vel, dash, mp, logger) },
	)
	if err != nil {
		newSession(nil, vel, logger).Stop()
		return err
	}

	sessCtx, endSession := bridge.WithSession(ctx)
	defer endSession()

	logger.Info("navtest starting", "mode", kind.String(), "bridge", bridgeURL)
	err = newSession(runner, vel, logger).Execute(sessCtx)
	if err == nil && ctx.Err() == nil {
		if cause := context.Cause(sessCtx); errors.Is(cause, rosbridge.ErrNotConnected) {
			return cause
		}
	}
	return err
}

// closeTelemetry logs the final counter totals and shuts the provider down.
func closeTelemetry(tel *telemetry.Provider, logger *slog.Logger) {
	if !tel.Enabled() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	totals, err := tel.Totals(ctx)
	if err != nil {
		logger.Warn("failed to collect metrics", "error", err)
	} else {
		args := make([]any, 0, 2*len(totals))
		for _, name := range telemetry.Names(totals) {
			args = append(args, name, totals[name])
		}
		logger.Info("metrics", args...)
	}

	if err := tel.Shutdown(ctx); err != nil {
		logger.Warn("failed to shut down metrics", "error", err)
	}
}

func newTour(cfg config.Config, bridge *rosbridge.Client, vel robot.VelocityPublisher, dash *web.Server, mp metric.MeterProvider, logger *slog.Logger) (*tour.Tour, error) {
	waypoints := tour.DefaultWaypoints()
	if cfg.WaypointsFile != "" {
		var err error
		if waypoints, err = tour.LoadWaypoints(cfg.WaypointsFile); err != nil {
			return nil, err
		}
	}

	exec, err := actionlib.NewSimpleClient(bridge, actionlib.DefaultNamespace, logger)
	if err != nil {
		return nil, err
	}

	tcfg := tour.DefaultConfig()
	tcfg.RestTime = cfg.RestTime
	tcfg.GoalTimeout = cfg.GoalTimeout
	tcfg.ServerTimeout = cfg.ServerTimeout
	tcfg.MeterProvider = mp

	t, err := tour.New(exec, vel, waypoints, tcfg, logger)
	if err != nil {
		return nil, err
	}
	if dash != nil {
		t.OnUpdate = func(s tour.Summary) { dash.UpdateTour(s, t.Phase()) }
	}
	t.ListenInitialPose(bridge)
	return t, nil
}

func newDocking(cfg config.Config, bridge *rosbridge.Client, vel robot.VelocityPublisher, dash *web.Server, mp metric.MeterProvider, logger *slog.Logger) (*docking.Controller, error) {
	c := docking.NewController(vel, time.Second/time.Duration(cfg.LoopRate), logger, docking.WithMeterProvider(mp))
	if dash != nil {
		c.OnTick = dash.UpdateDocking
	}

	if _, err := bridge.Subscribe(protocol.TopicMarkerPose, protocol.TypePoseStamped, 1, c.OnMarkerPose); err != nil {
		return nil, err
	}
	return c, nil
}
