package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/cwi-dis/vrt-sync/internal/regulator"
)

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(Default(), c); diff != "" {
		t.Errorf("defaults (-want +got):\n%s", diff)
	}
	if got := c.Settings(); got != regulator.DefaultSettings() {
		t.Errorf("Settings: got %+v", got)
	}
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	if err := os.WriteFile(path, []byte("syncsource: 2\ndivider: 4\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := regulator.Settings{Mode: regulator.ModeGenlock, FPSFree: 29.97, Divider: 4}
	if got := c.Settings(); got != want {
		t.Errorf("Settings: got %+v, want %+v", got, want)
	}
	if len(c.Outputs) != 2 || c.Chip != "gpiochip0" {
		t.Errorf("hardware defaults lost: %+v", c)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want error
	}{
		{"mode", "syncsource: 5\n", regulator.ErrInvalidMode},
		{"fps", "fps_free: -1\n", regulator.ErrInvalidFPS},
		{"divider", "divider: 0\n", regulator.ErrInvalidDivider},
		{"width", "outputs:\n  - name: x\n    pin: 4\n    width: half\n", regulator.ErrInvalidWidth},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "cfg.yaml")
			os.WriteFile(path, []byte(tt.yaml), 0o644)
			if _, err := Load(path); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	os.WriteFile(path, []byte("divider: [1, 2\n"), 0o644)
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestSaveThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "cfg.yaml")
	c := Default()
	c.SetSettings(regulator.Settings{Mode: regulator.ModeRealSense, FPSFree: 25, Divider: 2})
	c.Outputs[1].Width = "fraction:1/2"

	if err := c.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(c, got); diff != "" {
		t.Errorf("reloaded config (-want +got):\n%s", diff)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %d entries", len(entries))
	}
}

func TestLinesAndPins(t *testing.T) {
	c := Default()
	lines, err := c.Lines()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(regulator.DefaultLines(), lines); diff != "" {
		t.Errorf("lines (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{22, 27}, c.OutputPins()); diff != "" {
		t.Errorf("pins (-want +got):\n%s", diff)
	}
}
