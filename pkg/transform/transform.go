// Package transform implements the post-processing passes that rewrite
// selected G-code command sequences: coast-retract, temp-ramp,
// bed-cool, and test-tower. A single transform is selected at
// configuration time and consumes the stream one command at a time,
// together with the tracked machine state.
//
// Copyright (C) 2026  Gcodepost Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package transform

import (
	"sort"

	"gcodepost/pkg/config"
	"gcodepost/pkg/errors"
	"gcodepost/pkg/gcode"
	"gcodepost/pkg/machine"
)

// Transform rewrites a command stream. Process is called once per input
// command, in file order, with the state snapshot st already updated
// for cmd and mv describing cmd's physical effect. It returns the
// commands to emit now, possibly none (buffered) or several
// (insertions). Flush returns whatever is still buffered at end of
// stream.
//
// Transforms never reorder surviving commands relative to each other.
type Transform interface {
	Name() string
	Process(cmd *gcode.Command, st *machine.State, mv machine.Move) []*gcode.Command
	Flush(st *machine.State) []*gcode.Command

	// SetWarn installs the sink for recoverable invariant warnings.
	SetWarn(WarnFunc)
}

// WarnFunc receives non-fatal warnings from a transform.
type WarnFunc func(err error)

// warner is embedded by every transform to satisfy SetWarn.
type warner struct {
	warn WarnFunc
}

func (w *warner) SetWarn(f WarnFunc) {
	w.warn = f
}

func (w *warner) warnf(err error) {
	if w.warn != nil {
		w.warn(err)
	}
}

// Factory builds a transform from its config section. Configuration
// errors are fatal and reported before any input line is processed.
type Factory func(sec *config.Section) (Transform, error)

var registry = map[string]Factory{}

// Register adds a transform factory under the given name. Called from
// init functions; the set of transforms is closed at program start.
func Register(name string, f Factory) {
	registry[name] = f
}

// Names returns the registered transform names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Create builds the named transform from sec.
func Create(name string, sec *config.Section) (Transform, error) {
	f, ok := registry[name]
	if !ok {
		return nil, errors.UnknownTransformError(name, Names())
	}
	return f(sec)
}
