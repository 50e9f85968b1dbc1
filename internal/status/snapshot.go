// internal/status/snapshot.go
package status

import "time"

// Snapshot is the folded device-level state at one instant.
// It contains no logic and no memory of the past beyond current state.
type Snapshot struct {
	Health         uint16
	LastErrorCode  uint16
	LastError      string
	SecondsInError uint16

	Connected    bool
	FailingTasks []string // sorted task ids whose last execution failed

	UpdatedAt time.Time
}
