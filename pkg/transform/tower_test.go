// Copyright (C) 2026  Gcodepost Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package transform

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func mustTower(t *testing.T, cfg TowerConfig) Transform {
	t.Helper()
	tr, err := NewTowerFromConfig(cfg)
	if err != nil {
		t.Fatalf("NewTowerFromConfig: %v", err)
	}
	return tr
}

func towerScript(layers int) []string {
	lines := []string{"M83"}
	for n := 1; n <= layers; n++ {
		lines = append(lines,
			fmt.Sprintf(";LAYER:%d", n),
			fmt.Sprintf("G1 X10 Y%d E2", n),
		)
	}
	return lines
}

func TestTowerSpeedBackupRestore(t *testing.T) {
	tr := mustTower(t, TowerConfig{
		Command:      "speed",
		StartValue:   100,
		ValueChange:  10,
		ChangeLayers: 2,
		SkipLayers:   1,
	})
	got := runTransform(t, tr, towerScript(5))

	var steps []string
	for _, ln := range got {
		if strings.HasPrefix(ln, "M220") || strings.HasPrefix(ln, "M117") {
			steps = append(steps, ln)
		}
	}
	want := []string{
		"M220 B",
		"M220 S100",
		"M117 speed 100",
		"M220 S110",
		"M117 speed 110",
		"M220 S120",
		"M117 speed 120",
		"M220 R",
	}
	if diff := cmp.Diff(want, steps); diff != "" {
		t.Errorf("speed tower mismatch (-want +got):\n%s", diff)
	}
	if got[len(got)-1] != "M220 R" {
		t.Errorf("feedrate factor not restored at end, last = %q", got[len(got)-1])
	}
}

func TestTowerLinAdvance(t *testing.T) {
	tr := mustTower(t, TowerConfig{
		Command:      "linadvance",
		StartValue:   0,
		ValueChange:  0.02,
		ChangeLayers: 1,
		SkipLayers:   1,
	})
	got := runTransform(t, tr, towerScript(3))

	var steps []string
	for _, ln := range got {
		if strings.HasPrefix(ln, "M900") {
			steps = append(steps, ln)
		}
	}
	want := []string{"M900 K0", "M900 K0.02", "M900 K0.04"}
	if diff := cmp.Diff(want, steps); diff != "" {
		t.Errorf("lin advance steps mismatch (-want +got):\n%s", diff)
	}
}

func TestTowerBedTempUsesBedCommand(t *testing.T) {
	tr := mustTower(t, TowerConfig{
		Command:      "bedtemp",
		StartValue:   55,
		ValueChange:  5,
		ChangeLayers: 1,
		SkipLayers:   1,
	})
	got := runTransform(t, tr, towerScript(2))
	found := false
	for _, ln := range got {
		if strings.HasPrefix(ln, "M104") {
			t.Errorf("bed tower emitted a nozzle command: %q", ln)
		}
		if ln == "M140 S55" {
			found = true
		}
	}
	if !found {
		t.Errorf("no M140 step in %v", got)
	}
}

func TestTowerRetractDistanceRewrite(t *testing.T) {
	tr := mustTower(t, TowerConfig{
		Command:      "retractdistance",
		StartValue:   1.5,
		ValueChange:  0.5,
		ChangeLayers: 1,
		SkipLayers:   1,
	})
	got := runTransform(t, tr, []string{
		"M83",
		";LAYER:1",
		"G1 X10 E5",
		"G1 F2400 E-2",
		"G1 X20 Y5",
		"G1 F2400 E2",
	})
	wantRetract := "G1 F2400 E-1.5"
	found := false
	for _, ln := range got {
		if ln == wantRetract {
			found = true
		}
		if ln == "G1 F2400 E-2" {
			t.Errorf("retract not rewritten: %v", got)
		}
	}
	if !found {
		t.Errorf("no rewritten retract in %v", got)
	}
	// The prime keeps its authored length.
	if got[len(got)-1] != "G1 F2400 E2" {
		t.Errorf("prime altered: %q", got[len(got)-1])
	}
}

func TestTowerRetractSpeedRewrite(t *testing.T) {
	tr := mustTower(t, TowerConfig{
		Command:      "retractspeed",
		StartValue:   45,
		ValueChange:  5,
		ChangeLayers: 1,
		SkipLayers:   1,
	})
	got := runTransform(t, tr, []string{
		"M83",
		";LAYER:1",
		"G1 X10 E5",
		"G1 F2400 E-2",
	})
	found := false
	for _, ln := range got {
		if ln == "G1 F2700 E-2" {
			found = true
		}
	}
	if !found {
		t.Errorf("retract feedrate not rewritten to mm/min in %v", got)
	}
}

func TestTowerExtraPrimeRewrite(t *testing.T) {
	tr := mustTower(t, TowerConfig{
		Command:      "extraprime",
		StartValue:   0.5,
		ValueChange:  0.25,
		ChangeLayers: 1,
		SkipLayers:   1,
	})
	got := runTransform(t, tr, []string{
		"M83",
		";LAYER:1",
		"G1 X10 E5",
		"G1 F2400 E-2",
		"G1 X20 Y5",
		"G1 F2400 E2",
	})
	if got[len(got)-1] != "G1 F2400 E2.5" {
		t.Errorf("prime not extended, last = %q", got[len(got)-1])
	}
}

func TestTowerRewriteRequiresRelative(t *testing.T) {
	tr := mustTower(t, TowerConfig{
		Command:      "retractdistance",
		StartValue:   1.5,
		ValueChange:  0.5,
		ChangeLayers: 1,
		SkipLayers:   1,
	})
	var warns []error
	tr.SetWarn(func(err error) { warns = append(warns, err) })
	got := runTransform(t, tr, []string{
		";LAYER:1",
		"G1 X10 E5",
		"G92 E0",
		"G1 F2400 E-2", // absolute extrusion retract
	})
	if len(warns) != 1 {
		t.Fatalf("warnings = %d, want 1", len(warns))
	}
	if got[len(got)-1] != "G1 F2400 E-2" {
		t.Errorf("retract rewritten in absolute mode: %q", got[len(got)-1])
	}
}

func TestTowerConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     TowerConfig
		wantErr bool
	}{
		{"valid", TowerConfig{Command: "speed", StartValue: 100, ValueChange: 10, ChangeLayers: 1}, false},
		{"unknown command", TowerConfig{Command: "wobble", ChangeLayers: 1}, true},
		{"zero change layers", TowerConfig{Command: "speed"}, true},
		{"negative skip", TowerConfig{Command: "speed", ChangeLayers: 1, SkipLayers: -1}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}
