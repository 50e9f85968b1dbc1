// internal/config/normalize.go
package config

import (
	"strings"

	"github.com/google/uuid"

	"github.com/tamzrod/plcmon/internal/plc"
)

// Defaults applied by Normalize.
const (
	DefaultTimeoutMs              = 3000
	DefaultProbeIntervalMs        = 5000
	DefaultReconnectIntervalMs    = 2000
	DefaultReconnectMaxIntervalMs = 30000
	DefaultTaskIntervalMs         = 1000
)

// DefaultTasks is the task set installed when none is configured.
func DefaultTasks() []TaskConfig {
	on := func() *bool { v := true; return &v }
	return []TaskConfig{
		{ID: "discrete-inputs", Name: "Discrete inputs", Register: "discrete_input", Address: 0, Length: 8, IntervalMs: 1000, Enabled: on()},
		{ID: "input-registers", Name: "Input registers", Register: "input_register", Address: 0, Length: 10, IntervalMs: 2000, Enabled: on()},
		{ID: "holding-registers", Name: "Holding registers", Register: "holding_register", Address: 0, Length: 5, IntervalMs: 3000, Enabled: on()},
	}
}

// Normalize applies post-validation normalization.
// It is allowed to mutate configuration.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	// ------------------------------------------------------------
	// LINK
	// ------------------------------------------------------------

	p := &cfg.PLC
	p.Address = strings.TrimSpace(p.Address)
	if p.Port == 0 {
		p.Port = plc.DefaultPort
	}
	if p.UnitID == nil {
		v := uint8(1)
		p.UnitID = &v
	}
	if p.TimeoutMs == 0 {
		p.TimeoutMs = DefaultTimeoutMs
	}
	if p.ProbeIntervalMs == 0 {
		p.ProbeIntervalMs = DefaultProbeIntervalMs
	}
	if p.ProbeAddress == nil {
		v := uint16(plc.DefaultProbeAddress)
		p.ProbeAddress = &v
	}
	if p.ReconnectIntervalMs == nil {
		v := DefaultReconnectIntervalMs
		p.ReconnectIntervalMs = &v
	}
	if p.ReconnectMaxIntervalMs == 0 {
		p.ReconnectMaxIntervalMs = DefaultReconnectMaxIntervalMs
	}
	if p.ReconnectMaxIntervalMs < *p.ReconnectIntervalMs {
		p.ReconnectMaxIntervalMs = *p.ReconnectIntervalMs
	}

	// ------------------------------------------------------------
	// POLL
	// ------------------------------------------------------------

	if cfg.Poll.Autostart == nil {
		v := true
		cfg.Poll.Autostart = &v
	}

	if len(cfg.Tasks) == 0 {
		cfg.Tasks = DefaultTasks()
	}
	for i := range cfg.Tasks {
		t := &cfg.Tasks[i]
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		if t.Name == "" {
			t.Name = t.ID
		}
		if t.IntervalMs == 0 {
			t.IntervalMs = DefaultTaskIntervalMs
		}
		if t.Enabled == nil {
			v := true
			t.Enabled = &v
		}
		t.Register = strings.ToLower(strings.TrimSpace(t.Register))
	}

	// ------------------------------------------------------------
	// AMBIENT
	// ------------------------------------------------------------

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	cfg.Log.Format = strings.ToLower(cfg.Log.Format)
}
