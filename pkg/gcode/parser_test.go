package gcode

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		code    string
		params  map[byte]float64
		comment string
	}{
		{
			name:   "simple move",
			line:   "G1 X10.5 Y-3 E0.042",
			code:   "G1",
			params: map[byte]float64{'X': 10.5, 'Y': -3, 'E': 0.042},
		},
		{
			name:   "lowercase command letters",
			line:   "g1 x5 f1200",
			code:   "G1",
			params: map[byte]float64{'X': 5, 'F': 1200},
		},
		{
			name:    "trailing comment",
			line:    "M104 S210 ; set nozzle",
			code:    "M104",
			params:  map[byte]float64{'S': 210},
			comment: " set nozzle",
		},
		{
			name:    "comment only",
			line:    ";LAYER:4",
			code:    "",
			comment: "LAYER:4",
		},
		{
			name: "blank line",
			line: "",
			code: "",
		},
		{
			name: "unknown text passes through",
			line: "START_PRINT BED=60",
			code: "",
		},
		{
			name:   "fractional code",
			line:   "G38.2 Z-5",
			code:   "G38.2",
			params: map[byte]float64{'Z': -5},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := ParseLine(tt.line)
			if cmd.Code != tt.code {
				t.Errorf("code = %q, want %q", cmd.Code, tt.code)
			}
			if cmd.Comment != tt.comment {
				t.Errorf("comment = %q, want %q", cmd.Comment, tt.comment)
			}
			got := map[byte]float64{}
			for _, p := range cmd.Params {
				if p.Valid {
					got[p.Letter] = p.Value
				}
			}
			want := tt.params
			if want == nil {
				want = map[byte]float64{}
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("params mismatch (-want +got):\n%s", diff)
			}
			if cmd.Raw != tt.line {
				t.Errorf("raw = %q, want %q", cmd.Raw, tt.line)
			}
		})
	}
}

func TestParseLineBadToken(t *testing.T) {
	cmd := ParseLine("G1 X10 Ebad F1200")
	if cmd.Code != "G1" {
		t.Fatalf("code = %q, want G1", cmd.Code)
	}
	if _, ok := cmd.Float('E'); ok {
		t.Error("E should not parse")
	}
	if v, ok := cmd.Float('F'); !ok || v != 1200 {
		t.Errorf("F = %v,%v, want 1200,true", v, ok)
	}
	// The broken token survives untouched in the raw line.
	if cmd.Raw != "G1 X10 Ebad F1200" {
		t.Errorf("raw = %q", cmd.Raw)
	}
}

func TestRoundTripIdentity(t *testing.T) {
	lines := []string{
		"G1 X10.5 Y-3 E0.042",
		"G1 X10.50 Y-3.0 E0.0420 ; padded numbers kept",
		"  G1   X1\tY2  ",
		";LAYER_CHANGE",
		"; plain comment",
		"",
		"M104 S210",
		"START_PRINT BED=60 NOZZLE=210",
		"G1 Xoops E5",
		"M117 Hello World;",
	}
	for _, line := range lines {
		if got := Render(ParseLine(line)); got != line {
			t.Errorf("round trip of %q = %q", line, got)
		}
	}
}
