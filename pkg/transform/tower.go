// Tower pass: steps one tuning parameter every few layers so a single
// calibration print sweeps a value range. The active value is shown on
// the printer LCD at each step.
//
// Copyright (C) 2026  Gcodepost Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package transform

import (
	"fmt"

	"gcodepost/pkg/config"
	"gcodepost/pkg/errors"
	"gcodepost/pkg/gcode"
	"gcodepost/pkg/machine"
)

// TowerCommands lists the tunable parameters. The first group emits a
// setting command at each step, the retract and prime entries instead
// rewrite the slicer's own retraction and prime moves.
var TowerCommands = []string{
	"speed",
	"acceleration",
	"printaccel",
	"travelaccel",
	"retractaccel",
	"jerk",
	"zjerk",
	"ejerk",
	"junction",
	"linadvance",
	"nozzletemp",
	"bedtemp",
	"retractspeed",
	"retractdistance",
	"primespeed",
	"extraprime",
}

// TowerConfig holds the tower options.
type TowerConfig struct {
	Command     string
	StartValue  float64
	ValueChange float64

	// ChangeLayers is how many layers each step holds for.
	ChangeLayers int

	// SkipLayers is the layer the first step starts on. Layers below
	// it stay at slicer settings, and the step holding StartValue
	// begins there.
	SkipLayers int
}

// Validate reports contradictory or out-of-range options.
func (c *TowerConfig) Validate() error {
	known := false
	for _, name := range TowerCommands {
		if c.Command == name {
			known = true
			break
		}
	}
	if !known {
		return errors.ConfigOptionError("command", "unknown tower command "+c.Command)
	}
	if c.ChangeLayers <= 0 {
		return errors.ConfigOptionError("change_layers", "must be positive")
	}
	if c.SkipLayers < 0 {
		return errors.ConfigOptionError("skip_layers", "must not be negative")
	}
	return nil
}

// Tower implements the tuning tower transform.
type Tower struct {
	warner
	cfg TowerConfig

	lastLayer int
	step      int
	value     float64
	active    bool
	backedUp  bool
	absWarned bool
}

// NewTower builds the transform from a config section.
func NewTower(sec *config.Section) (Transform, error) {
	var cfg TowerConfig
	var err error
	read := func(get func() error) {
		if err == nil {
			err = get()
		}
	}
	read(func() (e error) { cfg.Command, e = sec.GetChoice("command", TowerCommands); return })
	read(func() (e error) { cfg.StartValue, e = sec.GetFloat("start_value"); return })
	read(func() (e error) { cfg.ValueChange, e = sec.GetFloat("value_change"); return })
	read(func() (e error) { cfg.ChangeLayers, e = sec.GetInt("change_layers", 1); return })
	read(func() (e error) { cfg.SkipLayers, e = sec.GetInt("skip_layers", 1); return })
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrConfigOption, "tower configuration")
	}
	return NewTowerFromConfig(cfg)
}

// NewTowerFromConfig builds the transform from an explicit config.
func NewTowerFromConfig(cfg TowerConfig) (Transform, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Tower{cfg: cfg, step: -1}, nil
}

func (t *Tower) Name() string { return "tower" }

func (t *Tower) Process(cmd *gcode.Command, st *machine.State, mv machine.Move) []*gcode.Command {
	if t.active {
		t.rewriteMove(cmd, st, mv)
	}

	out := []*gcode.Command{cmd}
	if st.Layer == t.lastLayer {
		return out
	}
	t.lastLayer = st.Layer

	if st.Layer < t.cfg.SkipLayers {
		return out
	}
	step := (st.Layer - t.cfg.SkipLayers) / t.cfg.ChangeLayers
	if t.active && step == t.step {
		return out
	}
	t.step = step
	t.active = true
	t.value = t.cfg.StartValue + float64(step)*t.cfg.ValueChange
	return append(out, t.emitStep()...)
}

// Flush restores the feedrate factor if a speed tower changed it.
func (t *Tower) Flush(st *machine.State) []*gcode.Command {
	if !t.backedUp {
		return nil
	}
	return []*gcode.Command{gcode.ParseLine("M220 R")}
}

// rewriteMove applies move-target commands to the slicer's own
// retraction and prime moves.
func (t *Tower) rewriteMove(cmd *gcode.Command, st *machine.State, mv machine.Move) {
	switch t.cfg.Command {
	case "retractspeed":
		if mv.IsRetract() {
			cmd.Set('F', t.value*60)
		}
	case "retractdistance":
		if mv.IsRetract() && t.requireRelative(st) {
			cmd.Set('E', -t.value)
		}
	case "primespeed":
		if mv.IsPrime() {
			cmd.Set('F', t.value*60)
		}
	case "extraprime":
		if mv.IsPrime() && t.requireRelative(st) {
			if e, ok := cmd.Float('E'); ok {
				cmd.Set('E', e+t.value)
			}
		}
	}
}

func (t *Tower) requireRelative(st *machine.State) bool {
	if !st.AbsExtrude {
		return true
	}
	if !t.absWarned {
		t.absWarned = true
		t.warnf(errors.ConfigValidationError(
			"retract and prime rewrites require relative extrusion (M83); disabled for this file"))
	}
	return false
}

// emitStep produces the setting command for the current value plus an
// LCD status line.
func (t *Tower) emitStep() []*gcode.Command {
	var out []*gcode.Command
	set := func(code string, letters ...byte) {
		c := gcode.New(code)
		for _, l := range letters {
			c.Set(l, t.value)
		}
		out = append(out, c)
	}
	switch t.cfg.Command {
	case "speed":
		if !t.backedUp {
			t.backedUp = true
			out = append(out, gcode.ParseLine("M220 B"))
		}
		set("M220", 'S')
	case "acceleration":
		set("M204", 'S')
	case "printaccel":
		set("M204", 'P')
	case "travelaccel":
		set("M204", 'T')
	case "retractaccel":
		set("M204", 'R')
	case "jerk":
		set("M205", 'X', 'Y')
	case "zjerk":
		set("M205", 'Z')
	case "ejerk":
		set("M205", 'E')
	case "junction":
		set("M205", 'J')
	case "linadvance":
		set("M900", 'K')
	case "nozzletemp":
		set("M104", 'S')
	case "bedtemp":
		set("M140", 'S')
	}
	out = append(out, gcode.ParseLine(
		fmt.Sprintf("M117 %s %s", t.cfg.Command, gcode.FormatFloat(t.value))))
	return out
}

func init() {
	Register("tower", NewTower)
}
