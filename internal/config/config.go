// Package config loads and saves the persisted settings of the sync tools.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/cwi-dis/vrt-sync/internal/gpio"
	"github.com/cwi-dis/vrt-sync/internal/regulator"
)

// DefaultPath is where the converter keeps its settings.
const DefaultPath = "/var/lib/vrt-sync/rssynctool.yaml"

// Config is the persisted configuration file.
type Config struct {
	// SyncSource is the regulator mode: 0 free, 1 RealSense, 2 genlock.
	SyncSource int     `yaml:"syncsource"`
	FPSFree    float64 `yaml:"fps_free"`
	Divider    int     `yaml:"divider"`

	Chip     string   `yaml:"chip"`
	InputPin int      `yaml:"input_pin"`
	Outputs  []Output `yaml:"outputs"`
}

// Output is one output line and its pulse width policy.
type Output struct {
	Name  string `yaml:"name"`
	Pin   int    `yaml:"pin"`
	Width string `yaml:"width"` // "fixed:<us>" or "fraction:<num>/<den>"
}

// Default returns the factory configuration.
func Default() *Config {
	s := regulator.DefaultSettings()
	var outputs []Output
	pins := []int{gpio.DefaultPinSyncRealSense, gpio.DefaultPinSyncGenlock}
	for i, l := range regulator.DefaultLines() {
		outputs = append(outputs, Output{Name: l.Name, Pin: pins[i], Width: l.Width.String()})
	}
	return &Config{
		SyncSource: int(s.Mode),
		FPSFree:    s.FPSFree,
		Divider:    s.Divider,
		Chip:       gpio.DefaultChip,
		InputPin:   gpio.DefaultPinSyncIn,
		Outputs:    outputs,
	}
}

// Load reads the config at path. Keys absent from the file keep their
// defaults; a missing file yields the defaults.
func Load(path string) (*Config, error) {
	c := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(c)
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return c, nil
}

func applyDefaults(c *Config) {
	d := Default()
	if c.Chip == "" {
		c.Chip = d.Chip
	}
	if len(c.Outputs) == 0 {
		c.Outputs = d.Outputs
	}
}

// Validate checks the regulator settings and every output line.
func (c *Config) Validate() error {
	if err := c.Settings().Validate(); err != nil {
		return err
	}
	if _, err := c.Lines(); err != nil {
		return err
	}
	return nil
}

// Settings returns the regulator part of the configuration.
func (c *Config) Settings() regulator.Settings {
	return regulator.Settings{
		Mode:    regulator.Mode(c.SyncSource),
		FPSFree: c.FPSFree,
		Divider: c.Divider,
	}
}

// SetSettings replaces the regulator part of the configuration.
func (c *Config) SetSettings(s regulator.Settings) {
	c.SyncSource = int(s.Mode)
	c.FPSFree = s.FPSFree
	c.Divider = s.Divider
}

// Lines parses the output width policies.
func (c *Config) Lines() ([]regulator.LineSpec, error) {
	lines := make([]regulator.LineSpec, 0, len(c.Outputs))
	for _, o := range c.Outputs {
		w, err := regulator.ParseWidth(o.Width)
		if err != nil {
			return nil, fmt.Errorf("output %s: %w", o.Name, err)
		}
		lines = append(lines, regulator.LineSpec{Name: o.Name, Width: w})
	}
	return lines, nil
}

// OutputPins returns the output line offsets in order.
func (c *Config) OutputPins() []int {
	pins := make([]int, len(c.Outputs))
	for i, o := range c.Outputs {
		pins[i] = o.Pin
	}
	return pins
}

// Save writes the config to path through a temporary file and rename, so a
// power cut never leaves a truncated file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".rssynctool-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write config: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close config: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}
