// internal/poller/types.go
package poller

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tamzrod/plcmon/internal/plc"
)

// DefaultInterval applies to tasks created without an interval.
const DefaultInterval = 1000 * time.Millisecond

var (
	ErrDuplicateTask = errors.New("poller: duplicate task id")
	ErrInvalidTask   = errors.New("poller: invalid task")
	ErrTaskNotFound  = errors.New("poller: task not found")
)

// Task describes one periodic read.
// Geometry only: values are never interpreted.
type Task struct {
	ID       string
	Name     string
	Class    plc.RegisterClass
	Address  uint16
	Length   uint16
	Interval time.Duration
	Enabled  bool
	Priority int // advisory, not used for ordering

	// Set by the scheduler after every execution attempt.
	LastExecutionTime    time.Time
	LastExecutionSuccess bool
}

// NewTask returns an enabled task with a fresh id and the default interval.
func NewTask(name string, class plc.RegisterClass, addr, length uint16) Task {
	return Task{
		ID:       uuid.NewString(),
		Name:     name,
		Class:    class,
		Address:  addr,
		Length:   length,
		Interval: DefaultInterval,
		Enabled:  true,
	}
}

// validate checks the caller-owned fields. A zero interval is defaulted
// by the scheduler, not rejected.
func (t Task) validate() error {
	switch {
	case t.ID == "":
		return fmt.Errorf("%w: id required", ErrInvalidTask)
	case !t.Class.Valid():
		return fmt.Errorf("%w: unknown register class", ErrInvalidTask)
	case t.Length == 0:
		return fmt.Errorf("%w: length must be >= 1", ErrInvalidTask)
	case t.Class.IsBit() && t.Length > plc.MaxReadBits,
		!t.Class.IsBit() && t.Length > plc.MaxReadRegisters:
		return fmt.Errorf("%w: length %d exceeds the %s read limit", ErrInvalidTask, t.Length, t.Class)
	case int(t.Address)+int(t.Length) > 1<<16:
		return fmt.Errorf("%w: register window exceeds address space", ErrInvalidTask)
	case t.Interval < 0:
		return fmt.Errorf("%w: interval must be > 0", ErrInvalidTask)
	}
	return nil
}

// Result is the outcome of one task execution.
type Result struct {
	Task      Task // snapshot after the execution fields were updated
	Success   bool
	Payload   plc.Payload // Kind is PayloadNone on failure
	Err       error
	Timestamp time.Time
	Duration  time.Duration
}
