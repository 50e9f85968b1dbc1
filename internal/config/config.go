// internal/config/config.go
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	PLC     PLCConfig     `yaml:"plc"`
	Poll    PollConfig    `yaml:"poll"`
	Tasks   []TaskConfig  `yaml:"tasks"`
	Metrics MetricsConfig `yaml:"metrics"`
	API     APIConfig     `yaml:"api"`
	Log     LogConfig     `yaml:"log"`
}

// ---- LINK ----

type PLCConfig struct {
	Address   string `yaml:"address"`
	Port      int    `yaml:"port"`
	UnitID    *uint8 `yaml:"unit_id"`
	TimeoutMs int    `yaml:"timeout_ms"`

	ProbeIntervalMs int     `yaml:"probe_interval_ms"`
	ProbeAddress    *uint16 `yaml:"probe_address"`

	// Reconnect supervisor. 0 disables automatic reconnects.
	ReconnectIntervalMs    *int `yaml:"reconnect_interval_ms"`
	ReconnectMaxIntervalMs int  `yaml:"reconnect_max_interval_ms"`
}

// ---- POLL ----

type PollConfig struct {
	// Start polling as soon as the process is up. Defaults to true.
	Autostart *bool `yaml:"autostart"`
}

// ---- TASK GEOMETRY ----

type TaskConfig struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name"`
	Register   string `yaml:"register"`
	Address    uint16 `yaml:"address"`
	Length     uint16 `yaml:"length"`
	IntervalMs int    `yaml:"interval_ms"`
	Enabled    *bool  `yaml:"enabled"`
	Priority   int    `yaml:"priority"`
}

// ---- AMBIENT ----

type MetricsConfig struct {
	Addr string `yaml:"addr"` // empty disables the metrics listener
}

type APIConfig struct {
	Addr string `yaml:"addr"` // empty disables the control API
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console | json
}

// Load reads, validates and normalizes the file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML strictly: unknown keys are errors.
func Parse(raw []byte) (*Config, error) {
	var cfg Config

	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	Normalize(&cfg)
	return &cfg, nil
}
