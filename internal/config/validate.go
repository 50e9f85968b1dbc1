// internal/config/validate.go
package config

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tamzrod/plcmon/internal/plc"
)

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil")
	}

	// ------------------------------------------------------------
	// LINK
	// ------------------------------------------------------------

	p := cfg.PLC
	if strings.TrimSpace(p.Address) == "" {
		return fmt.Errorf("plc.address is required")
	}
	if p.Port < 0 || p.Port > 65535 {
		return fmt.Errorf("plc.port %d out of range", p.Port)
	}
	if p.TimeoutMs < 0 {
		return fmt.Errorf("plc.timeout_ms must be >= 0")
	}
	if p.ProbeIntervalMs < 0 {
		return fmt.Errorf("plc.probe_interval_ms must be >= 0")
	}
	if p.ReconnectIntervalMs != nil && *p.ReconnectIntervalMs < 0 {
		return fmt.Errorf("plc.reconnect_interval_ms must be >= 0")
	}
	if p.ReconnectMaxIntervalMs < 0 {
		return fmt.Errorf("plc.reconnect_max_interval_ms must be >= 0")
	}

	// ------------------------------------------------------------
	// TASK GEOMETRY
	// ------------------------------------------------------------

	seen := make(map[string]int)

	for i, t := range cfg.Tasks {
		label := fmt.Sprintf("tasks[%d]", i)
		if t.ID != "" {
			label = fmt.Sprintf("task %q", t.ID)

			if prev, ok := seen[t.ID]; ok {
				return fmt.Errorf("duplicate task id %q (tasks[%d] and tasks[%d])", t.ID, prev, i)
			}
			seen[t.ID] = i
		}

		class, err := plc.ParseRegisterClass(t.Register)
		if err != nil {
			return fmt.Errorf("%s: %w", label, err)
		}

		limit := plc.MaxReadRegisters
		if class.IsBit() {
			limit = plc.MaxReadBits
		}
		if t.Length == 0 || int(t.Length) > limit {
			return fmt.Errorf("%s: length %d outside 1..%d for %s", label, t.Length, limit, class)
		}
		if int(t.Address)+int(t.Length) > 1<<16 {
			return fmt.Errorf("%s: range %d+%d exceeds the address space", label, t.Address, t.Length)
		}
		if t.IntervalMs < 0 {
			return fmt.Errorf("%s: interval_ms must be >= 0", label)
		}
	}

	// ------------------------------------------------------------
	// AMBIENT
	// ------------------------------------------------------------

	if cfg.Log.Level != "" {
		if _, err := zerolog.ParseLevel(strings.ToLower(cfg.Log.Level)); err != nil {
			return fmt.Errorf("log.level: %w", err)
		}
	}
	switch strings.ToLower(cfg.Log.Format) {
	case "", "console", "json":
	default:
		return fmt.Errorf("log.format %q: want console or json", cfg.Log.Format)
	}

	return nil
}
