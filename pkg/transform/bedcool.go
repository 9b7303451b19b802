// Bed-cool pass: steps the bed temperature down over the final layers
// of a print so the part releases from the plate without waiting for a
// full cooldown.
//
// Copyright (C) 2026  Gcodepost Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package transform

import (
	"gcodepost/pkg/config"
	"gcodepost/pkg/errors"
	"gcodepost/pkg/gcode"
	"gcodepost/pkg/machine"
)

// BedCoolConfig holds the bed-cool options.
type BedCoolConfig struct {
	// TotalLayers is the layer count of the whole file. The transform
	// is single-pass, so the caller counts layers up front.
	TotalLayers int

	// FinalLayers is how many layers from the end the cooldown spans.
	FinalLayers int

	// ReduceBy is the temperature drop per layer in degrees.
	ReduceBy float64

	// Floor is the lowest bed temperature the cooldown may command.
	Floor float64
}

// Validate reports contradictory or out-of-range options.
func (c *BedCoolConfig) Validate() error {
	if c.TotalLayers <= 0 {
		return errors.ConfigOptionError("total_layers", "must be positive")
	}
	if c.FinalLayers <= 0 {
		return errors.ConfigOptionError("final_layers", "must be positive")
	}
	if c.FinalLayers > c.TotalLayers {
		return errors.ConfigValidationError("final_layers exceeds total_layers")
	}
	if c.ReduceBy <= 0 {
		return errors.ConfigOptionError("reduce_by", "must be positive")
	}
	if c.Floor < 0 {
		return errors.ConfigOptionError("floor", "must not be negative")
	}
	return nil
}

// BedCool implements the bed-cool transform.
type BedCool struct {
	warner
	cfg BedCoolConfig

	lastLayer   int
	base        float64 // bed setpoint frozen at span entry
	lastEmitted float64
	warned      bool
}

// NewBedCool builds the transform from a config section.
func NewBedCool(sec *config.Section) (Transform, error) {
	var cfg BedCoolConfig
	var err error
	zero := 0.0
	read := func(get func() error) {
		if err == nil {
			err = get()
		}
	}
	read(func() (e error) { cfg.TotalLayers, e = sec.GetInt("total_layers"); return })
	read(func() (e error) { cfg.FinalLayers, e = sec.GetInt("final_layers", 5); return })
	read(func() (e error) {
		cfg.ReduceBy, e = sec.GetFloatWithBounds("reduce_by", config.FloatBounds{Above: &zero}, 1.0)
		return
	})
	read(func() (e error) {
		cfg.Floor, e = sec.GetFloatWithBounds("floor", config.FloatBounds{MinVal: &zero}, 0)
		return
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrConfigOption, "bed cool configuration")
	}
	return NewBedCoolFromConfig(cfg)
}

// NewBedCoolFromConfig builds the transform from an explicit config.
func NewBedCoolFromConfig(cfg BedCoolConfig) (Transform, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &BedCool{cfg: cfg, lastEmitted: -1}, nil
}

func (t *BedCool) Name() string { return "bedcool" }

func (t *BedCool) Process(cmd *gcode.Command, st *machine.State, mv machine.Move) []*gcode.Command {
	out := []*gcode.Command{cmd}
	if st.Layer == t.lastLayer {
		return out
	}
	t.lastLayer = st.Layer

	start := t.cfg.TotalLayers - t.cfg.FinalLayers
	if st.Layer <= start {
		return out
	}
	if t.base == 0 {
		if st.BedTarget <= 0 {
			if !t.warned {
				t.warned = true
				t.warnf(errors.InvariantWarning(0,
					"no bed temperature set before the final layers, cooldown skipped"))
			}
			return out
		}
		t.base = st.BedTarget
	}

	target := t.base - float64(st.Layer-start)*t.cfg.ReduceBy
	if target < t.cfg.Floor {
		target = t.cfg.Floor
	}
	if target == t.lastEmitted {
		return out
	}
	t.lastEmitted = target

	m := gcode.New("M140")
	m.Set('S', target)
	return append(out, m)
}

func (t *BedCool) Flush(st *machine.State) []*gcode.Command {
	return nil
}

func init() {
	Register("bedcool", NewBedCool)
}
