// Package docking parks the robot against a fiducial marker by turning
// marker-pose observations into velocity commands at a fixed rate.
package docking

import "github.com/teslashibe/go-navtest/pkg/robot"

// Direction is the marker's lateral side relative to the camera axis.
type Direction int

const (
	Right Direction = iota
	Left
	Center
)

func (d Direction) String() string {
	switch d {
	case Right:
		return "right"
	case Left:
		return "left"
	default:
		return "center"
	}
}

// Lateral offset above which the marker counts as being on the right.
const CenterTolerance = 0.05

// Classify maps a lateral offset x to a Direction. [0, CenterTolerance] is
// Center; negative offsets are Left.
func Classify(x float64) Direction {
	switch {
	case x > CenterTolerance:
		return Right
	case x < 0:
		return Left
	default:
		return Center
	}
}

// Band is the distance range that selects the velocity table.
type Band int

const (
	Far Band = iota
	Near
	Docked
)

func (b Band) String() string {
	switch b {
	case Far:
		return "far"
	case Near:
		return "near"
	default:
		return "docked"
	}
}

// Band boundaries in metres.
const (
	FarThreshold    = 0.4
	DockedThreshold = 0.1
)

// BandFor returns the band for a marker depth.
func BandFor(distance float64) Band {
	switch {
	case distance > FarThreshold:
		return Far
	case distance > DockedThreshold:
		return Near
	default:
		return Docked
	}
}

// Policy returns the velocity command for one control tick. fresh reports
// whether the tick sees a marker sequence number it has not consumed yet.
func Policy(distance float64, dir Direction, fresh bool) robot.Twist {
	switch BandFor(distance) {
	case Far:
		if !fresh {
			return robot.Twist{Linear: 0.08}
		}
		switch dir {
		case Right:
			return robot.Twist{Linear: 0.08, Angular: -0.1}
		case Left:
			return robot.Twist{Linear: 0.08, Angular: 0.3}
		default:
			return robot.Twist{Linear: 0.1}
		}

	case Near:
		if !fresh {
			// A marker has always been seen by the time this band is
			// reached, so the (0.05, 0) creep for "never seen" cannot
			// happen here. Stale means stop.
			return robot.Stop
		}
		switch dir {
		case Right:
			return robot.Twist{Linear: 0.05, Angular: -0.2}
		case Left:
			return robot.Twist{Linear: 0.05, Angular: 0.2}
		default:
			return robot.Twist{Linear: 0.05}
		}
	}

	return robot.Stop
}
