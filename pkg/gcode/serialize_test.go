package gcode

import "testing"

func TestRenderModified(t *testing.T) {
	cmd := ParseLine("G1 X10 Y20 E1.5 ; wall")
	cmd.Set('E', 0.75)
	if got := Render(cmd); got != "G1 X10 Y20 E0.75 ; wall" {
		t.Errorf("render = %q", got)
	}
}

func TestRenderSynthesized(t *testing.T) {
	cmd := New("G1")
	cmd.Set('F', 2400.4)
	cmd.Set('X', 12.3456)
	cmd.Set('E', -0.85)
	if got := Render(cmd); got != "G1 F2400 X12.346 E-0.85" {
		t.Errorf("render = %q", got)
	}
}

func TestFormatFloat(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{10, "10"},
		{10.5, "10.5"},
		{0.042, "0.042"},
		{-0.8500, "-0.85"},
		{1.23456, "1.235"},
		{0, "0"},
		{-0.0001, "0"},
	}
	for _, tt := range tests {
		if got := FormatFloat(tt.in); got != tt.want {
			t.Errorf("FormatFloat(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSetAppendsMissingParam(t *testing.T) {
	cmd := ParseLine("G1 X1 Y2")
	cmd.Set('E', 0.1)
	if got := Render(cmd); got != "G1 X1 Y2 E0.1" {
		t.Errorf("render = %q", got)
	}
}

func TestDrop(t *testing.T) {
	cmd := ParseLine("G1 X1 E0.5 F1200")
	cmd.Drop('E')
	if got := Render(cmd); got != "G1 X1 F1200" {
		t.Errorf("render = %q", got)
	}
}
