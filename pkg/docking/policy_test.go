package docking

import (
	"testing"

	"github.com/teslashibe/go-navtest/pkg/robot"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		x    float64
		want Direction
	}{
		{0.2, Right},
		{0.0501, Right},
		{0.05, Center},
		{0.01, Center},
		{0, Center},
		{-0.001, Left},
		{-1, Left},
	}

	for _, tt := range tests {
		if got := Classify(tt.x); got != tt.want {
			t.Errorf("Classify(%v) = %v, want %v", tt.x, got, tt.want)
		}
	}
}

func TestBandFor(t *testing.T) {
	tests := []struct {
		distance float64
		want     Band
	}{
		{10, Far},
		{0.41, Far},
		{0.4, Near},
		{0.3, Near},
		{0.11, Near},
		{0.1, Docked},
		{0.05, Docked},
		{-1, Docked},
	}

	for _, tt := range tests {
		if got := BandFor(tt.distance); got != tt.want {
			t.Errorf("BandFor(%v) = %v, want %v", tt.distance, got, tt.want)
		}
	}
}

func TestPolicy(t *testing.T) {
	tests := []struct {
		name     string
		distance float64
		dir      Direction
		fresh    bool
		want     robot.Twist
	}{
		{"far right fresh", 10, Right, true, robot.Twist{Linear: 0.08, Angular: -0.1}},
		{"far left fresh", 1.0, Left, true, robot.Twist{Linear: 0.08, Angular: 0.3}},
		{"far center fresh", 0.5, Center, true, robot.Twist{Linear: 0.1}},
		{"far right stale", 10, Right, false, robot.Twist{Linear: 0.08}},
		{"far left stale", 0.5, Left, false, robot.Twist{Linear: 0.08}},
		{"near right fresh", 0.3, Right, true, robot.Twist{Linear: 0.05, Angular: -0.2}},
		{"near left fresh", 0.3, Left, true, robot.Twist{Linear: 0.05, Angular: 0.2}},
		{"near center fresh", 0.4, Center, true, robot.Twist{Linear: 0.05}},
		{"near stale stops", 0.3, Left, false, robot.Stop},
		{"docked fresh", 0.05, Right, true, robot.Stop},
		{"docked stale", 0.05, Left, false, robot.Stop},
		{"docked boundary", 0.1, Center, true, robot.Stop},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Policy(tt.distance, tt.dir, tt.fresh)
			if got != tt.want {
				t.Errorf("Policy(%v, %v, %v) = %v, want %v", tt.distance, tt.dir, tt.fresh, got, tt.want)
			}
		})
	}
}

func TestPolicy_DistanceTenIsNotStop(t *testing.T) {
	if Policy(10, Right, true).IsZero() {
		t.Error("distance 10 is in the far band and must move")
	}
}

func TestPolicy_FarStaleIdempotent(t *testing.T) {
	for i := 0; i < 50; i++ {
		if got := Policy(2.0, Right, false); got != (robot.Twist{Linear: 0.08}) {
			t.Fatalf("tick %d: Policy = %v, want (0.08, 0)", i, got)
		}
	}
}
