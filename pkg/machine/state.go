// Package machine tracks the printer state implied by a G-code stream:
// position, cumulative extrusion, feedrate, temperature setpoints, and
// the current layer. One State instance is created per stream and
// mutated in place, command by command, in file order.
package machine

import (
	"math"
	"strconv"
	"strings"

	"gcodepost/pkg/gcode"
)

// DefaultZEpsilon is the minimum Z increase treated as a layer change
// when no explicit layer marker is present in the file.
const DefaultZEpsilon = 0.01

// Move describes the physical effect of a single G0/G1 command.
type Move struct {
	DX, DY, DZ float64

	// DE is the extrusion delta in mm of filament. Negative on retract.
	DE float64

	// Dist is the XY travel distance of the move.
	Dist float64

	// LayerChanged is set when this command triggered the Z-height
	// layer heuristic.
	LayerChanged bool
}

// IsTravel reports a move with XY motion and no forward extrusion.
func (m Move) IsTravel() bool {
	return m.Dist > 0 && m.DE <= 0
}

// IsExtruding reports a move laying down material along a path.
func (m Move) IsExtruding() bool {
	return m.Dist > 0 && m.DE > 0
}

// IsRetract reports a pure filament pull-back with no XY motion.
func (m Move) IsRetract() bool {
	return m.Dist == 0 && m.DE < 0
}

// IsPrime reports a pure filament push with no XY motion.
func (m Move) IsPrime() bool {
	return m.Dist == 0 && m.DE > 0
}

// State is the tracked machine snapshot. After processing commands
// 1..i the fields equal the state a real printer would be in.
type State struct {
	X, Y, Z float64

	// E is the cumulative commanded extrusion in mm of filament.
	E float64

	// Feedrate is the last commanded feedrate in mm/min.
	Feedrate float64

	AbsCoords  bool // G90 (true) / G91
	AbsExtrude bool // M82 (true) / M83

	NozzleTarget float64 // last M104/M109 S value
	BedTarget    float64 // last M140/M190 S value

	// Layer is the current layer index, starting at 0.
	Layer int

	// ZEpsilon is the minimum Z increase counted as a layer change by
	// the height heuristic.
	ZEpsilon float64

	// markerSeen disables the Z heuristic once an explicit layer
	// marker comment has been observed.
	markerSeen bool
	anyLayer   bool
}

// NewState returns a stream-start snapshot: origin position, absolute
// coordinate and extrusion modes, layer 0.
func NewState() *State {
	return &State{
		AbsCoords:  true,
		AbsExtrude: true,
		ZEpsilon:   DefaultZEpsilon,
	}
}

// Tracked reports whether a command code affects the state snapshot.
// Callers use it to tell malformed parameters on meaningful commands
// apart from free-text commands like M117.
func Tracked(code string) bool {
	switch code {
	case "G0", "G1", "G90", "G91", "G92", "M82", "M83",
		"M104", "M109", "M140", "M190":
		return true
	}
	return false
}

// Apply updates the state for one command and returns the physical
// effect when the command was a move. Malformed parameters are skipped;
// state tracking degrades rather than aborts.
func (s *State) Apply(cmd *gcode.Command) Move {
	if cmd.IsComment() {
		s.applyMarker(cmd.Comment)
		return Move{}
	}

	// Slicers sometimes append the layer marker to the move that
	// starts the layer, so the trailing comment applies before the
	// move is resolved.
	if cmd.HasComment {
		s.applyMarker(cmd.Comment)
	}

	switch cmd.Code {
	case "G0", "G1":
		return s.applyMove(cmd)
	case "G90":
		s.AbsCoords = true
	case "G91":
		s.AbsCoords = false
	case "M82":
		s.AbsExtrude = true
	case "M83":
		s.AbsExtrude = false
	case "G92":
		s.applySetPosition(cmd)
	case "M104", "M109":
		if v, ok := cmd.Float('S'); ok {
			s.NozzleTarget = v
		}
	case "M140", "M190":
		if v, ok := cmd.Float('S'); ok {
			s.BedTarget = v
		}
	}
	return Move{}
}

func (s *State) applyMove(cmd *gcode.Command) Move {
	newX, newY, newZ, newE := s.X, s.Y, s.Z, s.E

	if v, ok := cmd.Float('X'); ok {
		if s.AbsCoords {
			newX = v
		} else {
			newX += v
		}
	}
	if v, ok := cmd.Float('Y'); ok {
		if s.AbsCoords {
			newY = v
		} else {
			newY += v
		}
	}
	if v, ok := cmd.Float('Z'); ok {
		if s.AbsCoords {
			newZ = v
		} else {
			newZ += v
		}
	}
	if v, ok := cmd.Float('E'); ok {
		if s.AbsExtrude {
			newE = v
		} else {
			newE += v
		}
	}
	if v, ok := cmd.Float('F'); ok {
		s.Feedrate = v
	}

	m := Move{
		DX: newX - s.X,
		DY: newY - s.Y,
		DZ: newZ - s.Z,
		DE: newE - s.E,
	}
	m.Dist = hypot2(m.DX, m.DY)

	// Height heuristic: a Z hop during a print move does not count, a
	// climb past the epsilon on a non-retract move does. An explicit
	// marker convention, once seen, wins over the heuristic.
	if !s.markerSeen && m.DZ > s.ZEpsilon && !(m.Dist == 0 && m.DE < 0) {
		s.Layer++
		s.anyLayer = true
		m.LayerChanged = true
	}

	s.X, s.Y, s.Z, s.E = newX, newY, newZ, newE
	return m
}

func (s *State) applySetPosition(cmd *gcode.Command) {
	if v, ok := cmd.Float('X'); ok {
		s.X = v
	}
	if v, ok := cmd.Float('Y'); ok {
		s.Y = v
	}
	if v, ok := cmd.Float('Z'); ok {
		s.Z = v
	}
	if v, ok := cmd.Float('E'); ok {
		s.E = v
	}
}

// applyMarker recognizes the slicer layer marker conventions:
// ";LAYER:<n>" (Cura) carries the index, ";LAYER_CHANGE" (PrusaSlicer
// family) marks the boundary without one.
func (s *State) applyMarker(comment string) bool {
	text := strings.TrimSpace(comment)
	switch {
	case strings.HasPrefix(text, "LAYER:"):
		n, err := strconv.Atoi(strings.TrimSpace(text[len("LAYER:"):]))
		if err != nil {
			return false
		}
		s.Layer = n
		s.markerSeen = true
		s.anyLayer = true
		return true
	case text == "LAYER_CHANGE":
		if s.anyLayer || s.markerSeen {
			s.Layer++
		}
		s.markerSeen = true
		s.anyLayer = true
		return true
	}
	return false
}

// LayerMarker reports whether cmd is an explicit layer-change marker
// without mutating the state.
func LayerMarker(cmd *gcode.Command) bool {
	if !cmd.HasComment {
		return false
	}
	text := strings.TrimSpace(cmd.Comment)
	return strings.HasPrefix(text, "LAYER:") || text == "LAYER_CHANGE"
}

func hypot2(dx, dy float64) float64 {
	if dx == 0 && dy == 0 {
		return 0
	}
	return math.Sqrt(dx*dx + dy*dy)
}
