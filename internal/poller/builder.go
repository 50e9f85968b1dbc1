// internal/poller/builder.go
package poller

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tamzrod/plcmon/internal/config"
	"github.com/tamzrod/plcmon/internal/plc"
)

// TasksFromConfig converts normalized task configs.
func TasksFromConfig(tcs []config.TaskConfig) ([]Task, error) {
	out := make([]Task, 0, len(tcs))
	for _, tc := range tcs {
		class, err := plc.ParseRegisterClass(tc.Register)
		if err != nil {
			return nil, fmt.Errorf("task %q: %w", tc.ID, err)
		}

		enabled := true
		if tc.Enabled != nil {
			enabled = *tc.Enabled
		}

		out = append(out, Task{
			ID:       tc.ID,
			Name:     tc.Name,
			Class:    class,
			Address:  tc.Address,
			Length:   tc.Length,
			Interval: time.Duration(tc.IntervalMs) * time.Millisecond,
			Enabled:  enabled,
			Priority: tc.Priority,
		})
	}
	return out, nil
}

// Build constructs a Scheduler for client and loads the configured tasks.
// Polling is not started.
func Build(client Client, tcs []config.TaskConfig, logger zerolog.Logger) (*Scheduler, error) {
	tasks, err := TasksFromConfig(tcs)
	if err != nil {
		return nil, err
	}

	s := New(client, logger)
	for _, t := range tasks {
		if err := s.AddTask(t); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}
