// Coast-retract pass: tapers extrusion to zero over the tail of an
// extruding segment and combines wipe moves with the retract that
// follows them, so the retract happens while the head is still moving.
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
	// maxHeldLines bounds the lines held back while waiting for a
	// retract to combine with a travel move.
	maxHeldLines = 8

	// maxSegmentAfter bounds non-move lines attached to one buffered
	// move before the segment is flushed unmodified.
	maxSegmentAfter = 128

	lengthEps = 1e-6
)

// CoastConfig holds the coast-retract options.
type CoastConfig struct {
	// CoastDistance is the path length in mm over which extrusion is
	// tapered to zero before a travel move or retraction.
	CoastDistance float64

	// MinSegmentLength exempts short segments: anything shorter passes
	// through unmodified to avoid degenerate splits.
	MinSegmentLength float64

	// RetractEnabled synthesizes a retraction after each tapered
	// segment (and a matching prime before the next one). Requires
	// relative extrusion mode.
	RetractEnabled  bool
	RetractLength   float64
	RetractFeedrate float64 // mm/min

	// CombineRetract merges a slicer-authored retraction into the
	// travel (wipe) move immediately preceding it, producing a single
	// combined move.
	CombineRetract bool
}

// Validate reports contradictory or out-of-range options.
func (c *CoastConfig) Validate() error {
	if c.CoastDistance <= 0 {
		return errors.ConfigOptionError("coast_distance", "must be positive")
	}
	if c.MinSegmentLength < 0 {
		return errors.ConfigOptionError("min_segment_length", "must not be negative")
	}
	if c.RetractEnabled {
		if c.RetractLength <= 0 {
			return errors.ConfigOptionError("retract_length", "must be positive when retract is enabled")
		}
		if c.RetractFeedrate <= 0 {
			return errors.ConfigOptionError("retract_feedrate", "must be positive when retract is enabled")
		}
	}
	return nil
}

// coastEntry is one extruding move buffered while its segment is open,
// plus any non-move lines authored directly after it.
type coastEntry struct {
	cmd        *gcode.Command
	sx, sy, sz float64
	ex, ey, ez float64
	startE     float64
	endE       float64
	de         float64
	length     float64
	start, end float64 // cumulative path length within the segment
	after      []*gcode.Command
}

// Coast implements the coast-retract transform.
type Coast struct {
	warner
	cfg CoastConfig

	entries []coastEntry
	segLen  float64

	px, py, pz float64 // position before the current command

	pendingTravel *gcode.Command
	held          []*gcode.Command

	needPrime     bool
	retractWarned bool
	lastLayer     int
	boundary      bool
}

// NewCoast builds the transform from a config section.
func NewCoast(sec *config.Section) (Transform, error) {
	var cfg CoastConfig
	var err error
	read := func(get func() error) {
		if err == nil {
			err = get()
		}
	}
	read(func() (e error) { cfg.CoastDistance, e = sec.GetFloat("coast_distance", 0.15); return })
	read(func() (e error) { cfg.MinSegmentLength, e = sec.GetFloat("min_segment_length", 1.0); return })
	read(func() (e error) { cfg.RetractEnabled, e = sec.GetBool("retract_enabled", false); return })
	read(func() (e error) { cfg.RetractLength, e = sec.GetFloat("retract_length", 0.8); return })
	read(func() (e error) { cfg.RetractFeedrate, e = sec.GetFloat("retract_feedrate", 2400); return })
	read(func() (e error) { cfg.CombineRetract, e = sec.GetBool("combine_retract", true); return })
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrConfigOption, "coast configuration")
	}
	return NewCoastFromConfig(cfg)
}

// NewCoastFromConfig builds the transform from an explicit config.
func NewCoastFromConfig(cfg CoastConfig) (Transform, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Coast{cfg: cfg}, nil
}

func (t *Coast) Name() string { return "coast" }

func (t *Coast) Process(cmd *gcode.Command, st *machine.State, mv machine.Move) []*gcode.Command {
	defer func() { t.px, t.py, t.pz = st.X, st.Y, st.Z }()

	var out []*gcode.Command

	// A travel move may be held back waiting for the retract that
	// slicers author right after a wipe. Comments and other non-move
	// lines in between stay put.
	if t.pendingTravel != nil {
		switch {
		case mv.IsRetract():
			out = append(out, t.combine(t.pendingTravel, cmd, st))
			out = append(out, t.held...)
			t.pendingTravel, t.held = nil, nil
			t.lastLayer = st.Layer
			return out
		case !cmd.IsMove() && len(t.held) < maxHeldLines:
			t.held = append(t.held, cmd)
			t.lastLayer = st.Layer
			return nil
		default:
			out = append(out, t.pendingTravel)
			out = append(out, t.held...)
			t.pendingTravel, t.held = nil, nil
		}
	}

	// Prime back a synthesized retract before printing resumes, unless
	// the slicer primes on its own.
	if t.needPrime {
		if mv.IsPrime() {
			t.needPrime = false
		} else if mv.IsExtruding() {
			out = append(out, t.synthRetractMove(t.cfg.RetractLength))
			t.needPrime = false
		}
	}

	if st.Layer != t.lastLayer {
		t.lastLayer = st.Layer
		if len(t.entries) > 0 {
			t.boundary = true
		}
	}

	switch {
	case mv.IsExtruding():
		// The taper never spans a layer boundary: a segment crossing
		// one (spiral-style prints) is flushed untouched.
		if t.boundary {
			out = append(out, t.flushPlain()...)
		}
		t.push(cmd, st, mv)
		out = append(out, t.emitSettled()...)

	case mv.IsRetract():
		out = append(out, t.finalize(st, false)...)
		out = append(out, cmd)

	case cmd.IsMove() && mv.DE <= 0 && (mv.Dist > 0 || mv.DZ != 0):
		// Travel move (including Z lifts and wipes) ends the segment.
		out = append(out, t.finalize(st, t.cfg.RetractEnabled)...)
		if t.cfg.CombineRetract && !t.cfg.RetractEnabled && !cmd.Has('E') {
			t.pendingTravel = cmd
		} else {
			out = append(out, cmd)
		}

	default:
		// Comments, M-codes, mode switches, F-only moves: pass through,
		// or ride along inside an open segment to keep output order.
		if len(t.entries) == 0 {
			out = append(out, cmd)
		} else {
			last := &t.entries[len(t.entries)-1]
			last.after = append(last.after, cmd)
			if len(last.after) > maxSegmentAfter {
				out = append(out, t.flushPlain()...)
			}
		}
	}
	return out
}

// Flush drains held lines at end of stream. A segment still open here
// has no travel after it, so it is emitted untouched.
func (t *Coast) Flush(st *machine.State) []*gcode.Command {
	var out []*gcode.Command
	if t.pendingTravel != nil {
		out = append(out, t.pendingTravel)
		out = append(out, t.held...)
		t.pendingTravel, t.held = nil, nil
	}
	out = append(out, t.flushPlain()...)
	t.needPrime = false
	return out
}

// push appends an extruding move to the open segment buffer.
func (t *Coast) push(cmd *gcode.Command, st *machine.State, mv machine.Move) {
	e := coastEntry{
		cmd:    cmd,
		sx:     t.px,
		sy:     t.py,
		sz:     t.pz,
		ex:     st.X,
		ey:     st.Y,
		ez:     st.Z,
		startE: st.E - mv.DE,
		endE:   st.E,
		de:     mv.DE,
		length: mv.Dist,
		start:  t.segLen,
		end:    t.segLen + mv.Dist,
	}
	t.segLen = e.end
	t.entries = append(t.entries, e)
}

// emitSettled streams out buffered moves that can no longer fall inside
// the taper window, keeping memory bounded for arbitrarily long
// segments.
func (t *Coast) emitSettled() []*gcode.Command {
	var out []*gcode.Command
	for len(t.entries) > 1 {
		e := t.entries[0]
		if t.segLen-e.end <= t.cfg.CoastDistance {
			break
		}
		out = append(out, e.cmd)
		out = append(out, e.after...)
		t.entries = t.entries[1:]
	}
	return out
}

// flushPlain empties the segment buffer without modification.
func (t *Coast) flushPlain() []*gcode.Command {
	var out []*gcode.Command
	for i := range t.entries {
		out = append(out, t.entries[i].cmd)
		out = append(out, t.entries[i].after...)
	}
	t.entries = nil
	t.segLen = 0
	t.boundary = false
	return out
}

// finalize closes the open segment: applies the taper to its tail when
// long enough, rebases the extruder counter in absolute mode, and
// optionally synthesizes a retraction.
func (t *Coast) finalize(st *machine.State, withRetract bool) []*gcode.Command {
	if len(t.entries) == 0 {
		t.segLen = 0
		t.boundary = false
		return nil
	}

	total := t.segLen
	if total < t.cfg.MinSegmentLength || total <= lengthEps {
		return t.flushPlain()
	}

	coastLen := math.Min(t.cfg.CoastDistance, total)
	taperStart := total - coastLen
	endE := t.entries[len(t.entries)-1].endE

	var out []*gcode.Command
	runningE := t.entries[0].startE
	for i := range t.entries {
		e := &t.entries[i]
		if e.end <= taperStart+lengthEps {
			out = append(out, e.cmd)
			runningE = e.endE
		} else {
			out = append(out, t.splitEntry(e, taperStart, coastLen, st, &runningE)...)
		}
		out = append(out, e.after...)
	}
	t.entries = nil
	t.segLen = 0
	t.boundary = false

	// In absolute extrusion mode the slicer's next E value assumes the
	// full segment was extruded; rebase so the deficit is not primed
	// back by the following command.
	if st.AbsExtrude {
		rebase := gcode.New("G92")
		rebase.Set('E', endE)
		out = append(out, rebase)
	}

	if withRetract {
		if st.AbsExtrude {
			if !t.retractWarned {
				t.retractWarned = true
				t.warnf(errors.ConfigValidationError(
					"retract synthesis requires relative extrusion (M83); disabled for this file"))
			}
		} else {
			out = append(out, t.synthRetractMove(-t.cfg.RetractLength))
			t.needPrime = true
		}
	}
	return out
}

// splitEntry renders the part of a buffered move that overlaps the
// taper window as synthesized sub-moves with decreasing extrusion.
func (t *Coast) splitEntry(e *coastEntry, taperStart, coastLen float64, st *machine.State, runningE *float64) []*gcode.Command {
	rate := e.de / e.length

	var out []*gcode.Command
	emit := func(from, to, amount float64, carryF bool) {
		if to-from < lengthEps {
			*runningE += amount
			return
		}
		out = append(out, t.synthSubMove(e, from, to, amount, st, runningE, carryF))
	}

	a := e.start
	if a < taperStart {
		emit(a, taperStart, rate*(taperStart-a), true)
		a = taperStart
	}

	// Subdivide the tapered tail so the extrusion visibly ramps down
	// rather than dropping in one step.
	step := coastLen / 4
	if step < 0.1 {
		step = 0.1
	}
	n := int(math.Ceil((e.end - a) / step))
	if n < 1 {
		n = 1
	}
	for i := 0; i < n; i++ {
		b0 := a + (e.end-a)*float64(i)/float64(n)
		b1 := a + (e.end-a)*float64(i+1)/float64(n)
		factor := 1 - ((b0+b1)/2-taperStart)/coastLen
		if factor < 0 {
			t.warnf(errors.InvariantWarning(0, "negative taper extrusion clamped to zero"))
			factor = 0
		}
		emit(b0, b1, rate*(b1-b0)*factor, i == 0 && a == e.start)
	}
	return out
}

// synthSubMove builds one synthesized G1 covering [from, to] of e.
func (t *Coast) synthSubMove(e *coastEntry, from, to, amount float64, st *machine.State, runningE *float64, carryF bool) *gcode.Command {
	t0 := (from - e.start) / e.length
	t1 := (to - e.start) / e.length

	cmd := gcode.New("G1")
	if carryF {
		if f, ok := e.cmd.Float('F'); ok {
			cmd.Set('F', f)
		}
	}
	interp := func(letter byte, s, d float64) {
		if !e.cmd.Has(letter) {
			return
		}
		if st.AbsCoords {
			cmd.Set(letter, s+d*t1)
		} else {
			cmd.Set(letter, d*(t1-t0))
		}
	}
	interp('X', e.sx, e.ex-e.sx)
	interp('Y', e.sy, e.ey-e.sy)
	interp('Z', e.sz, e.ez-e.sz)

	if st.AbsExtrude {
		*runningE += amount
		cmd.Set('E', *runningE)
	} else {
		*runningE += amount
		cmd.Set('E', amount)
	}
	return cmd
}

// synthRetractMove builds a pure E move: negative amount retracts,
// positive primes.
func (t *Coast) synthRetractMove(amount float64) *gcode.Command {
	cmd := gcode.New("G1")
	cmd.Set('F', t.cfg.RetractFeedrate)
	cmd.Set('E', amount)
	return cmd
}

// combine merges a slicer retraction into the travel move before it,
// producing one combined coast-retract move at the retract's feedrate.
func (t *Coast) combine(travel, retract *gcode.Command, st *machine.State) *gcode.Command {
	cmd := gcode.New("G1")
	if f, ok := retract.Float('F'); ok {
		cmd.Set('F', f)
	} else if st.Feedrate > 0 {
		cmd.Set('F', st.Feedrate)
	}
	for _, p := range travel.Params {
		if p.Valid && (p.Letter == 'X' || p.Letter == 'Y' || p.Letter == 'Z') {
			cmd.Set(p.Letter, p.Value)
		}
	}
	if eVal, ok := retract.Float('E'); ok {
		cmd.Set('E', eVal)
	}
	return cmd
}

func init() {
	Register("coast", NewCoast)
}
