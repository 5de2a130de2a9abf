package config

import (
	"path/filepath"
	"testing"
)

func TestPlotCSVPathUsesScriptStem(t *testing.T) {
	d := Dirs{OutputDir: "workdir/output"}
	cases := map[string]string{
		"sma_cross.pyne": "sma_cross.csv",
		"sma_cross":      "sma_cross.csv",
		"demo.py":        "demo.csv",
	}
	for script, want := range cases {
		if got := d.PlotCSVPath(script); got != filepath.Join("workdir/output", want) {
			t.Errorf("PlotCSVPath(%q): got %q", script, got)
		}
	}
}
