package machine

import (
	"math"
	"testing"

	"gcodepost/pkg/gcode"
)

func apply(t *testing.T, s *State, lines ...string) Move {
	t.Helper()
	var m Move
	for _, line := range lines {
		m = s.Apply(gcode.ParseLine(line))
	}
	return m
}

func TestAbsoluteExtrusionDelta(t *testing.T) {
	s := NewState()
	apply(t, s, "G1 X10 E5")
	m := apply(t, s, "G1 X20 E9")

	if s.X != 20 {
		t.Errorf("X = %v, want 20", s.X)
	}
	if m.DE != 4 {
		t.Errorf("DE = %v, want 4", m.DE)
	}
	if s.E != 9 {
		t.Errorf("E = %v, want 9", s.E)
	}
}

func TestRelativeExtrusion(t *testing.T) {
	s := NewState()
	apply(t, s, "M83", "G1 X10 E0.5", "G1 X20 E0.5")
	if s.E != 1.0 {
		t.Errorf("E = %v, want 1.0", s.E)
	}
	m := apply(t, s, "G1 E-0.8 F2400")
	if m.DE != -0.8 || !m.IsRetract() {
		t.Errorf("retract delta = %v, IsRetract = %v", m.DE, m.IsRetract())
	}
	if s.Feedrate != 2400 {
		t.Errorf("feedrate = %v, want 2400", s.Feedrate)
	}
}

func TestRelativePositioning(t *testing.T) {
	s := NewState()
	apply(t, s, "G1 X10 Y10", "G91", "G1 X5 Y-2", "G90")
	if s.X != 15 || s.Y != 8 {
		t.Errorf("position = (%v, %v), want (15, 8)", s.X, s.Y)
	}
}

func TestG92ResetsExtruder(t *testing.T) {
	s := NewState()
	apply(t, s, "G1 E100", "G92 E0")
	m := apply(t, s, "G1 X5 E2")
	if m.DE != 2 {
		t.Errorf("DE after G92 = %v, want 2", m.DE)
	}
}

func TestMoveDistance(t *testing.T) {
	s := NewState()
	m := apply(t, s, "G1 X3 Y4 E1")
	if math.Abs(m.Dist-5) > 1e-9 {
		t.Errorf("dist = %v, want 5", m.Dist)
	}
	if !m.IsExtruding() {
		t.Error("expected extruding move")
	}
}

func TestTemperatureSetpoints(t *testing.T) {
	s := NewState()
	apply(t, s, "M104 S210", "M140 S60", "M190 S65")
	if s.NozzleTarget != 210 {
		t.Errorf("nozzle = %v, want 210", s.NozzleTarget)
	}
	if s.BedTarget != 65 {
		t.Errorf("bed = %v, want 65", s.BedTarget)
	}
}

func TestLayerMarkerCura(t *testing.T) {
	s := NewState()
	apply(t, s, ";LAYER:0", "G1 X1 E1", ";LAYER:1")
	if s.Layer != 1 {
		t.Errorf("layer = %d, want 1", s.Layer)
	}
	// Marker convention wins: Z moves no longer bump the layer.
	apply(t, s, "G1 Z5")
	if s.Layer != 1 {
		t.Errorf("layer after Z move = %d, want 1", s.Layer)
	}
}

func TestLayerMarkerOnMoveLine(t *testing.T) {
	s := NewState()
	apply(t, s, ";LAYER:0", "G1 Z0.2 ;LAYER:1")
	if s.Layer != 1 {
		t.Errorf("layer = %d, want 1", s.Layer)
	}
	// The marker sets the layer once; the Z climb on the same line
	// must not bump it again through the heuristic.
	apply(t, s, "G1 Z5.0 ;LAYER:3")
	if s.Layer != 3 {
		t.Errorf("layer = %d, want 3", s.Layer)
	}
}

func TestLayerMarkerPrusa(t *testing.T) {
	s := NewState()
	apply(t, s, ";LAYER_CHANGE")
	if s.Layer != 0 {
		t.Errorf("layer after first marker = %d, want 0", s.Layer)
	}
	apply(t, s, ";LAYER_CHANGE", ";LAYER_CHANGE")
	if s.Layer != 2 {
		t.Errorf("layer = %d, want 2", s.Layer)
	}
}

func TestLayerHeightHeuristic(t *testing.T) {
	s := NewState()
	apply(t, s, "G1 Z0.2", "G1 X10 E1")
	m := apply(t, s, "G1 Z0.4")
	if !m.LayerChanged || s.Layer != 2 {
		t.Errorf("layer = %d (changed=%v), want 2", s.Layer, m.LayerChanged)
	}
	// Equal or lower Z does not change the layer.
	apply(t, s, "G1 Z0.4", "G1 Z0.1")
	if s.Layer != 2 {
		t.Errorf("layer = %d, want 2", s.Layer)
	}
}

func TestMalformedParamDegradesGracefully(t *testing.T) {
	s := NewState()
	apply(t, s, "G1 X10 E5", "G1 Xbroken E7")
	if s.X != 10 {
		t.Errorf("X = %v, want 10 (broken token ignored)", s.X)
	}
	if s.E != 7 {
		t.Errorf("E = %v, want 7", s.E)
	}
}
