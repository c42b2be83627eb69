// Package config holds the navtest process configuration.
// Flag parsing is done in cmd/navtest; this package is data plus
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Mode names accepted on the command line.
const (
	ModeTour = "tour"
	ModeDock = "dock"
)

// Defaults.
const (
	DefaultBridgeURL     = "ws://localhost:9090"
	DefaultRestTime      = 1 * time.Second
	DefaultGoalTimeout   = 300 * time.Second
	DefaultServerTimeout = 60 * time.Second
	DefaultLoopRate      = 20
)

// Config holds all configuration for a navtest process.
type Config struct {
	// Mode selects the tour or the docking controller. Fixed for the
	// lifetime of the process.
	Mode string

	// BridgeURL is the rosbridge websocket endpoint.
	BridgeURL string

	// RestTime is the pause between tour iterations.
	RestTime time.Duration

	// Simulation runs against the in-process simulated bridge.
	Simulation bool

	// GoalTimeout bounds the wait for a single goal's terminal state.
	GoalTimeout time.Duration

	// ServerTimeout bounds the startup wait for move_base.
	ServerTimeout time.Duration

	// LoopRate is the docking control loop frequency in Hz.
	LoopRate int

	// WaypointsFile is an optional YAML waypoint list. Empty uses the
	// built-in tour.
	WaypointsFile string

	// DashboardPort enables the status dashboard when non-empty.
	DashboardPort string

	// LogLevel is one of debug, info, warn, error.
	LogLevel string

	// Metrics collects the tour and docking counters and serves their
	// totals on the dashboard.
	Metrics bool
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		Mode:          ModeTour,
		BridgeURL:     DefaultBridgeURL,
		RestTime:      DefaultRestTime,
		GoalTimeout:   DefaultGoalTimeout,
		ServerTimeout: DefaultServerTimeout,
		LoopRate:      DefaultLoopRate,
		LogLevel:      "info",
	}
}

// LoadDotEnv loads variables from the given .env files into the process
// environment. Missing files are ignored; existing variables win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("config: loading %s: %w", f, err)
		}
	}
	return nil
}

// LoadEnvConfig applies NAVTEST_* environment overrides.
// Call it before flag parsing so explicit flags override environment values.
func (c *Config) LoadEnvConfig() error {
	if v := os.Getenv("NAVTEST_MODE"); v != "" {
		c.Mode = v
	}
	if v := os.Getenv("NAVTEST_BRIDGE_URL"); v != "" {
		c.BridgeURL = v
	}
	if v := os.Getenv("NAVTEST_WAYPOINTS"); v != "" {
		c.WaypointsFile = v
	}
	if v := os.Getenv("NAVTEST_DASHBOARD_PORT"); v != "" {
		c.DashboardPort = v
	}
	if v := os.Getenv("NAVTEST_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("NAVTEST_REST_TIME"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return fmt.Errorf("config: NAVTEST_REST_TIME: %w", err)
		}
		c.RestTime = d
	}
	if v := os.Getenv("NAVTEST_FAKE_TEST"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: NAVTEST_FAKE_TEST: %w", err)
		}
		c.Simulation = b
	}
	if v := os.Getenv("NAVTEST_METRICS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: NAVTEST_METRICS: %w", err)
		}
		c.Metrics = b
	}
	return nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Mode != ModeTour && c.Mode != ModeDock {
		return fmt.Errorf("config: mode must be %q or %q, got %q", ModeTour, ModeDock, c.Mode)
	}
	if c.BridgeURL == "" && !c.Simulation {
		return errors.New("config: bridge URL is required")
	}
	if c.RestTime < 0 {
		return fmt.Errorf("config: rest time must not be negative, got %v", c.RestTime)
	}
	if c.GoalTimeout <= 0 {
		return fmt.Errorf("config: goal timeout must be positive, got %v", c.GoalTimeout)
	}
	if c.ServerTimeout <= 0 {
		return fmt.Errorf("config: server timeout must be positive, got %v", c.ServerTimeout)
	}
	if c.LoopRate <= 0 {
		return fmt.Errorf("config: loop rate must be positive, got %d", c.LoopRate)
	}
	return nil
}

// parseSeconds accepts either a Go duration ("1.5s") or a bare number of
// seconds ("1"), the way rest_time was given as a ROS parameter.
func parseSeconds(v string) (time.Duration, error) {
	if d, err := time.ParseDuration(v); err == nil {
		return d, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	return time.Duration(f * float64(time.Second)), nil
}
