// Temp-ramp pass: walks the nozzle temperature from a start to an end
// setpoint across a span of layers or print height, one adjustment per
// layer change.
//
// Copyright (C) 2026  Gcodepost Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package transform

import (
	"math"

	"gcodepost/pkg/config"
	"gcodepost/pkg/errors"
	"gcodepost/pkg/gcode"
	"gcodepost/pkg/machine"
)

const (
	CurveLinear   = "linear"
	CurveStepwise = "stepwise"

	ExplicitOverride = "override"
	ExplicitRebase   = "rebase"
)

// TempRampConfig holds the temp-ramp options.
type TempRampConfig struct {
	StartTemp float64
	EndTemp   float64

	// Exactly one of SpanLayers and SpanHeight must be positive.
	SpanLayers int
	SpanHeight float64

	// Curve selects the interpolation: linear evaluates the exact
	// fraction of the span, stepwise moves in TempStep increments.
	Curve    string
	TempStep float64

	// Epsilon is the rounding slack below which no setpoint command is
	// synthesized.
	Epsilon float64

	// OnExplicit decides what happens to slicer-authored temperature
	// commands inside the ramp span: override rewrites their value to
	// the ramp target, rebase keeps them and shifts the ramp so the
	// authored value becomes the new reference.
	OnExplicit string
}

// Validate reports contradictory or out-of-range options.
func (c *TempRampConfig) Validate() error {
	if c.StartTemp <= 0 {
		return errors.ConfigOptionError("start_temp", "must be positive")
	}
	if c.EndTemp <= 0 {
		return errors.ConfigOptionError("end_temp", "must be positive")
	}
	hasLayers := c.SpanLayers > 0
	hasHeight := c.SpanHeight > 0
	if hasLayers == hasHeight {
		return errors.ConfigValidationError("exactly one of span_layers and span_height must be set")
	}
	switch c.Curve {
	case CurveLinear:
	case CurveStepwise:
		if c.TempStep <= 0 {
			return errors.ConfigOptionError("temp_step", "must be positive for the stepwise curve")
		}
	default:
		return errors.ConfigOptionError("curve", "must be linear or stepwise")
	}
	if c.OnExplicit != ExplicitOverride && c.OnExplicit != ExplicitRebase {
		return errors.ConfigOptionError("on_explicit", "must be override or rebase")
	}
	if c.Epsilon < 0 {
		return errors.ConfigOptionError("epsilon", "must not be negative")
	}
	return nil
}

// TempRamp implements the temp-ramp transform.
type TempRamp struct {
	warner
	cfg TempRampConfig

	lastLayer   int
	baseline    float64 // shift accumulated from user overrides in rebase mode
	lastEmitted float64 // last setpoint seen or synthesized, -1 before any
	pending     *gcode.Command
	pendingVal  float64
}

// NewTempRamp builds the transform from a config section.
func NewTempRamp(sec *config.Section) (Transform, error) {
	var cfg TempRampConfig
	var err error
	read := func(get func() error) {
		if err == nil {
			err = get()
		}
	}
	read(func() (e error) { cfg.StartTemp, e = sec.GetFloat("start_temp"); return })
	read(func() (e error) { cfg.EndTemp, e = sec.GetFloat("end_temp"); return })
	read(func() (e error) { cfg.SpanLayers, e = sec.GetInt("span_layers", 0); return })
	read(func() (e error) { cfg.SpanHeight, e = sec.GetFloat("span_height", 0); return })
	read(func() (e error) {
		cfg.Curve, e = sec.GetChoice("curve", []string{CurveLinear, CurveStepwise}, CurveLinear)
		return
	})
	read(func() (e error) { cfg.TempStep, e = sec.GetFloat("temp_step", 1.0); return })
	read(func() (e error) { cfg.Epsilon, e = sec.GetFloat("epsilon", 0.5); return })
	read(func() (e error) {
		cfg.OnExplicit, e = sec.GetChoice("on_explicit",
			[]string{ExplicitOverride, ExplicitRebase}, ExplicitRebase)
		return
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrConfigOption, "temp ramp configuration")
	}
	return NewTempRampFromConfig(cfg)
}

// NewTempRampFromConfig builds the transform from an explicit config.
func NewTempRampFromConfig(cfg TempRampConfig) (Transform, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &TempRamp{cfg: cfg, lastEmitted: -1}, nil
}

func (t *TempRamp) Name() string { return "tempramp" }

func (t *TempRamp) Process(cmd *gcode.Command, st *machine.State, mv machine.Move) []*gcode.Command {
	var out []*gcode.Command

	// A synthesized setpoint waits one line so a slicer line that
	// already sets the same temperature is not duplicated. This is
	// what makes a second pass over our own output a no-op.
	if t.pending != nil {
		if s, ok := nozzleTemp(cmd); ok && s > 0 && math.Abs(s-t.pendingVal) <= t.cfg.Epsilon {
			t.pending = nil
			t.lastEmitted = s
			return append(out, cmd)
		}
		out = append(out, t.pending)
		t.lastEmitted = t.pendingVal
		t.pending = nil
	}

	if s, ok := nozzleTemp(cmd); ok {
		if s <= 0 {
			// Cooldown commands are never the ramp's business.
			return append(out, cmd)
		}
		switch t.cfg.OnExplicit {
		case ExplicitOverride:
			if t.progress(st) < 1 {
				target := t.target(st)
				if math.Abs(target-s) > t.cfg.Epsilon {
					cmd.Set('S', target)
				}
				t.lastEmitted = t.setpoint(cmd, s)
			} else {
				t.lastEmitted = s
			}
		case ExplicitRebase:
			t.baseline += s - t.target(st)
			t.lastEmitted = s
		}
		return append(out, cmd)
	}

	if st.Layer != t.lastLayer {
		t.lastLayer = st.Layer
		target := t.target(st)
		if t.lastEmitted < 0 || math.Abs(target-t.lastEmitted) > t.cfg.Epsilon {
			m := gcode.New("M104")
			m.Set('S', target)
			t.pending = m
			t.pendingVal = target
		}
	}
	return append(out, cmd)
}

func (t *TempRamp) Flush(st *machine.State) []*gcode.Command {
	if t.pending == nil {
		return nil
	}
	out := []*gcode.Command{t.pending}
	t.lastEmitted = t.pendingVal
	t.pending = nil
	return out
}

// progress is the fraction of the ramp span completed, clamped to [0,1].
func (t *TempRamp) progress(st *machine.State) float64 {
	var p float64
	if t.cfg.SpanLayers > 0 {
		p = float64(st.Layer) / float64(t.cfg.SpanLayers)
	} else {
		p = st.Z / t.cfg.SpanHeight
	}
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// target is the ramp temperature for the current state.
func (t *TempRamp) target(st *machine.State) float64 {
	delta := t.cfg.EndTemp - t.cfg.StartTemp
	p := t.progress(st)
	var v float64
	if t.cfg.Curve == CurveStepwise {
		steps := math.Trunc(delta * p / t.cfg.TempStep)
		v = t.cfg.StartTemp + steps*t.cfg.TempStep
	} else {
		v = t.cfg.StartTemp + delta*p
	}
	return v + t.baseline
}

// setpoint reads back the S value of cmd, falling back to prev when the
// command was not rewritten.
func (t *TempRamp) setpoint(cmd *gcode.Command, prev float64) float64 {
	if s, ok := cmd.Float('S'); ok {
		return s
	}
	return prev
}

// nozzleTemp reports the S value of a nozzle temperature command.
func nozzleTemp(cmd *gcode.Command) (float64, bool) {
	if cmd.Code != "M104" && cmd.Code != "M109" {
		return 0, false
	}
	return cmd.Float('S')
}

func init() {
	Register("tempramp", NewTempRamp)
}
