// Package printtime estimates wall-clock print duration from the move
// stream: commanded feedrates capped by a velocity limit, plus a
// trapezoidal acceleration allowance per move. The estimate mirrors
// what slicers report and is good to a few percent on typical prints.
//
// Copyright (C) 2026  Gcodepost Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package printtime

import (
	"math"
	"time"

	"gcodepost/pkg/machine"
)

// Limits bound the estimator's velocity model. Zero fields fall back to
// conservative defaults for a bed slinger.
type Limits struct {
	MaxVelocity float64 // mm/s
	MaxAccel    float64 // mm/s^2

	// RetractVelocity caps pure extruder moves when the command gives
	// no feedrate.
	RetractVelocity float64 // mm/s
}

const (
	defaultMaxVelocity     = 300
	defaultMaxAccel        = 3000
	defaultRetractVelocity = 40
)

// Estimator accumulates time over a stream of moves.
type Estimator struct {
	limits Limits
	total  float64 // seconds
}

// NewEstimator creates an estimator with the given limits.
func NewEstimator(limits Limits) *Estimator {
	if limits.MaxVelocity <= 0 {
		limits.MaxVelocity = defaultMaxVelocity
	}
	if limits.MaxAccel <= 0 {
		limits.MaxAccel = defaultMaxAccel
	}
	if limits.RetractVelocity <= 0 {
		limits.RetractVelocity = defaultRetractVelocity
	}
	return &Estimator{limits: limits}
}

// Observe adds one move's duration to the running total. Non-move
// commands contribute nothing.
func (e *Estimator) Observe(st *machine.State, mv machine.Move) {
	dist := math.Sqrt(mv.Dist*mv.Dist + mv.DZ*mv.DZ)
	if dist == 0 {
		// Pure extruder move: retract or prime.
		dist = math.Abs(mv.DE)
	}
	if dist == 0 {
		return
	}

	v := e.limits.MaxVelocity
	if st.Feedrate > 0 {
		v = math.Min(v, st.Feedrate/60)
	} else if mv.Dist == 0 && mv.DZ == 0 {
		v = e.limits.RetractVelocity
	}
	if v <= 0 {
		return
	}

	// Trapezoidal profile: short moves never reach cruise speed.
	accelDist := v * v / e.limits.MaxAccel
	if dist <= accelDist {
		e.total += 2 * math.Sqrt(dist/e.limits.MaxAccel)
	} else {
		e.total += (dist-accelDist)/v + 2*v/e.limits.MaxAccel
	}
}

// Total returns the accumulated estimate.
func (e *Estimator) Total() time.Duration {
	return time.Duration(e.total * float64(time.Second))
}

// Seconds returns the accumulated estimate in seconds.
func (e *Estimator) Seconds() float64 {
	return e.total
}
