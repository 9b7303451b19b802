// Copyright (C) 2026  Gcodepost Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package printtime

import (
	"math"
	"testing"

	"gcodepost/pkg/gcode"
	"gcodepost/pkg/machine"
)

// feed runs a script through a fresh state and estimator and returns
// the accumulated seconds.
func feed(t *testing.T, limits Limits, lines []string) float64 {
	t.Helper()
	st := machine.NewState()
	est := NewEstimator(limits)
	for _, line := range lines {
		cmd := gcode.ParseLine(line)
		mv := st.Apply(cmd)
		est.Observe(st, mv)
	}
	return est.Seconds()
}

func approx(t *testing.T, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 1e-6 {
		t.Fatalf("estimate = %.6fs, want %.6fs", got, want)
	}
}

func TestEstimatorCruiseMove(t *testing.T) {
	// 100 mm at 100 mm/s with 3000 mm/s^2: 3.333 mm spent accelerating,
	// the rest at cruise.
	got := feed(t, Limits{}, []string{
		"G1 F6000",
		"G1 X100",
	})
	v, a := 100.0, 3000.0
	accelDist := v * v / a
	approx(t, got, (100-accelDist)/v+2*v/a)
}

func TestEstimatorShortMoveNeverCruises(t *testing.T) {
	got := feed(t, Limits{}, []string{
		"G1 F6000",
		"G1 X1",
	})
	approx(t, got, 2*math.Sqrt(1/3000.0))
}

func TestEstimatorVelocityCap(t *testing.T) {
	// F60000 asks for 1000 mm/s; the limit caps it at 150.
	got := feed(t, Limits{MaxVelocity: 150}, []string{
		"G1 F60000",
		"G1 X300",
	})
	v, a := 150.0, 3000.0
	accelDist := v * v / a
	approx(t, got, (300-accelDist)/v+2*v/a)
}

func TestEstimatorRetractDefaultVelocity(t *testing.T) {
	// No feedrate has been commanded, so a pure extruder move falls
	// back to the retract velocity.
	got := feed(t, Limits{}, []string{
		"M83",
		"G1 E-1",
	})
	v, a := 40.0, 3000.0
	accelDist := v * v / a
	approx(t, got, (1-accelDist)/v+2*v/a)
}

func TestEstimatorDiagonalUsesPathLength(t *testing.T) {
	got := feed(t, Limits{}, []string{
		"G1 F6000",
		"G1 X30 Y40", // 50 mm path
	})
	v, a := 100.0, 3000.0
	accelDist := v * v / a
	approx(t, got, (50-accelDist)/v+2*v/a)
}

func TestEstimatorIgnoresNonMoves(t *testing.T) {
	got := feed(t, Limits{}, []string{
		"M104 S200",
		"G90",
		"; comment",
		"G1 F6000",
	})
	approx(t, got, 0)
}

func TestEstimatorAccumulates(t *testing.T) {
	st := machine.NewState()
	est := NewEstimator(Limits{})
	for _, line := range []string{"G1 F6000", "G1 X100", "G1 X200"} {
		cmd := gcode.ParseLine(line)
		mv := st.Apply(cmd)
		est.Observe(st, mv)
	}
	v, a := 100.0, 3000.0
	accelDist := v * v / a
	one := (100-accelDist)/v + 2*v/a
	if math.Abs(est.Seconds()-2*one) > 1e-6 {
		t.Fatalf("two equal moves: got %.6fs, want %.6fs", est.Seconds(), 2*one)
	}
	if est.Total() <= 0 {
		t.Fatalf("Total() = %v, want positive duration", est.Total())
	}
}
