package tour

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-navtest/pkg/robot"
)

// ErrNoWaypoints is returned for an empty waypoint list.
var ErrNoWaypoints = errors.New("tour: no waypoints")

// Waypoint is a named target pose in the map frame.
type Waypoint struct {
	ID   string
	Pose robot.Pose
}

// DefaultWaypoints returns the built-in five-point tour.
func DefaultWaypoints() []Waypoint {
	return []Waypoint{
		wp("point1", 1.353, 0.793, 0.9517, 0.3069),
		wp("point2", 0.329, 4.858, -0.670, 0.743),
		wp("point3", -3.641, 3.844, 0.786, 0.618),
		wp("point4", -2.809, -0.310, 0.733, 0.680),
		wp("point5", -2.339, 0.113, 0.250, 0.968),
	}
}

func wp(id string, x, y, qz, qw float64) Waypoint {
	return Waypoint{ID: id, Pose: robot.Pose{
		Position:    robot.Point{X: x, Y: y},
		Orientation: robot.Quaternion{Z: qz, W: qw},
	}}
}

type waypointFile struct {
	Waypoints []waypointEntry `yaml:"waypoints"`
}

type waypointEntry struct {
	ID          string            `yaml:"id"`
	Position    robot.Point       `yaml:"position"`
	Orientation *robot.Quaternion `yaml:"orientation"`
}

// LoadWaypoints reads an ordered waypoint list from a YAML file:
//
//	waypoints:
//	  - id: dock
//	    position: {x: 1.0, y: 2.0}
//	    orientation: {z: 0.707, w: 0.707}
//
// A missing orientation is the identity.
func LoadWaypoints(path string) ([]Waypoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading waypoints: %w", err)
	}
	return ParseWaypoints(data)
}

// ParseWaypoints decodes the LoadWaypoints YAML format.
func ParseWaypoints(data []byte) ([]Waypoint, error) {
	var f waypointFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing waypoints: %w", err)
	}
	if len(f.Waypoints) == 0 {
		return nil, ErrNoWaypoints
	}

	seen := make(map[string]bool, len(f.Waypoints))
	out := make([]Waypoint, 0, len(f.Waypoints))
	for i, e := range f.Waypoints {
		if e.ID == "" {
			return nil, fmt.Errorf("waypoint %d: missing id", i)
		}
		if seen[e.ID] {
			return nil, fmt.Errorf("waypoint %d: duplicate id %q", i, e.ID)
		}
		seen[e.ID] = true

		q := robot.Quaternion{W: 1}
		if e.Orientation != nil {
			q = *e.Orientation
		}
		out = append(out, Waypoint{ID: e.ID, Pose: robot.Pose{Position: e.Position, Orientation: q}})
	}
	return out, nil
}
