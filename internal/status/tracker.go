// internal/status/tracker.go
package status

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tamzrod/plcmon/internal/plc"
	"github.com/tamzrod/plcmon/internal/poller"
)

// Tracker folds connection events and task results into a Snapshot.
// Seconds in error advance only on Tick.
type Tracker struct {
	logger zerolog.Logger

	mu      sync.Mutex
	snap    Snapshot
	failing map[string]struct{}
}

func NewTracker(logger zerolog.Logger) *Tracker {
	return &Tracker{
		logger: logger.With().Str("component", "status").Logger(),
		snap: Snapshot{
			Health:    HealthUnknown,
			UpdatedAt: time.Now(),
		},
		failing: make(map[string]struct{}),
	}
}

// Snapshot returns a copy of the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.snap
	s.FailingTasks = append([]string(nil), t.snap.FailingTasks...)
	return s
}

// OnConnection applies a link event.
func (t *Tracker) OnConnection(ev plc.ConnectionEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.snap.Connected = ev.Connected
	switch {
	case ev.Connected:
		// Link up, data not yet confirmed.
		t.setLocked(HealthStale)
	case ev.Err == nil:
		t.setLocked(HealthDisabled)
	default:
		t.setLocked(HealthError)
		t.snap.LastErrorCode = errorCode(ev.Err)
		t.snap.LastError = ev.Err.Error()
	}
	t.touchLocked(ev.Timestamp)
}

// OnResult applies one task execution outcome.
func (t *Tracker) OnResult(r poller.Result) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if r.Success {
		delete(t.failing, r.Task.ID)
	} else {
		t.failing[r.Task.ID] = struct{}{}
		if r.Err != nil {
			t.snap.LastErrorCode = errorCode(r.Err)
			t.snap.LastError = r.Err.Error()
		} else {
			t.snap.LastErrorCode = ErrorCodeGeneric
			t.snap.LastError = "empty result"
		}
	}
	t.snap.FailingTasks = t.failingLocked()

	if !t.snap.Connected {
		t.touchLocked(r.Timestamp)
		return
	}

	if len(t.failing) == 0 {
		// Recovery: reset error state.
		t.setLocked(HealthOK)
		t.snap.LastErrorCode = 0
		t.snap.LastError = ""
		t.snap.SecondsInError = 0
	} else {
		t.setLocked(HealthError)
	}
	t.touchLocked(r.Timestamp)
}

// Forget drops a task that no longer exists from the failing set.
func (t *Tracker) Forget(taskID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.failing, taskID)
	t.snap.FailingTasks = t.failingLocked()
}

// Tick advances SecondsInError by one while not OK. It saturates.
func (t *Tracker) Tick() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.snap.Health == HealthOK {
		return
	}
	if t.snap.SecondsInError < MaxSecondsInError {
		t.snap.SecondsInError++
	}
}

// Run ticks at 1 Hz until ctx is done.
func (t *Tracker) Run(ctx context.Context) {
	secTicker := time.NewTicker(time.Second)
	defer secTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-secTicker.C:
			t.Tick()
		}
	}
}

// ConnectionSource publishes link events. *plc.Client satisfies it.
type ConnectionSource interface {
	SubscribeConnection(fn func(plc.ConnectionEvent)) (unsubscribe func())
}

// Attach subscribes the tracker to a client and a scheduler.
func (t *Tracker) Attach(c ConnectionSource, s *poller.Scheduler) (detach func()) {
	offConn := c.SubscribeConnection(t.OnConnection)
	offRes := s.SubscribeResults(t.OnResult)
	return func() {
		offRes()
		offConn()
	}
}

func (t *Tracker) setLocked(h uint16) {
	if t.snap.Health == h {
		return
	}
	t.logger.Info().
		Str("from", HealthName(t.snap.Health)).
		Str("to", HealthName(h)).
		Msg("health changed")
	t.snap.Health = h
}

func (t *Tracker) touchLocked(at time.Time) {
	if at.IsZero() {
		at = time.Now()
	}
	t.snap.UpdatedAt = at
}

func (t *Tracker) failingLocked() []string {
	if len(t.failing) == 0 {
		return nil
	}
	out := make([]string, 0, len(t.failing))
	for id := range t.failing {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// errorCode extracts a best-effort uint16 code from an error without assuming concrete types.
// If the error does not expose a code, returns ErrorCodeGeneric.
func errorCode(err error) uint16 {
	if err == nil {
		return 0
	}

	type coder interface{ ModbusCode() uint16 }

	var c coder
	if errors.As(err, &c) {
		return c.ModbusCode()
	}
	return ErrorCodeGeneric
}
