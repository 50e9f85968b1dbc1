// internal/status/tracker_test.go
package status

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamzrod/plcmon/internal/plc"
	"github.com/tamzrod/plcmon/internal/poller"
)

func result(id string, ok bool, err error) poller.Result {
	return poller.Result{
		Task:      poller.Task{ID: id},
		Success:   ok,
		Err:       err,
		Timestamp: time.Now(),
	}
}

func TestTracker_BootState(t *testing.T) {
	tr := NewTracker(zerolog.Nop())
	s := tr.Snapshot()

	assert.Equal(t, HealthUnknown, s.Health)
	assert.False(t, s.Connected)
	assert.Zero(t, s.SecondsInError)
}

func TestTracker_ConnectThenData(t *testing.T) {
	tr := NewTracker(zerolog.Nop())

	tr.OnConnection(plc.ConnectionEvent{Connected: true})
	assert.Equal(t, HealthStale, tr.Snapshot().Health)

	tr.OnResult(result("a", true, nil))
	s := tr.Snapshot()
	assert.Equal(t, HealthOK, s.Health)
	assert.True(t, s.Connected)
	assert.Empty(t, s.FailingTasks)
}

func TestTracker_FailingTaskAndRecovery(t *testing.T) {
	tr := NewTracker(zerolog.Nop())
	tr.OnConnection(plc.ConnectionEvent{Connected: true})
	tr.OnResult(result("a", true, nil))

	ex := fmt.Errorf("plc: read: %w", &plc.ExceptionError{Function: 3, Code: 2})
	tr.OnResult(result("b", false, ex))
	tr.OnResult(result("a", true, nil))

	s := tr.Snapshot()
	assert.Equal(t, HealthError, s.Health)
	assert.Equal(t, uint16(2), s.LastErrorCode)
	assert.Contains(t, s.LastError, "code=2")
	assert.Equal(t, []string{"b"}, s.FailingTasks)

	tr.Tick()
	tr.Tick()
	assert.Equal(t, uint16(2), tr.Snapshot().SecondsInError)

	tr.OnResult(result("b", true, nil))
	s = tr.Snapshot()
	assert.Equal(t, HealthOK, s.Health)
	assert.Zero(t, s.LastErrorCode)
	assert.Empty(t, s.LastError)
	assert.Zero(t, s.SecondsInError)
}

func TestTracker_LinkLoss(t *testing.T) {
	tr := NewTracker(zerolog.Nop())
	tr.OnConnection(plc.ConnectionEvent{Connected: true})
	tr.OnResult(result("a", true, nil))

	tr.OnConnection(plc.ConnectionEvent{Err: fmt.Errorf("%w: reset", plc.ErrConnectionLost)})
	s := tr.Snapshot()
	assert.Equal(t, HealthError, s.Health)
	assert.False(t, s.Connected)
	assert.Equal(t, ErrorCodeGeneric, s.LastErrorCode)

	// A late result from an in-flight read does not flip health back.
	tr.OnResult(result("a", true, nil))
	assert.Equal(t, HealthError, tr.Snapshot().Health)
}

func TestTracker_ExplicitDisconnect(t *testing.T) {
	tr := NewTracker(zerolog.Nop())
	tr.OnConnection(plc.ConnectionEvent{Connected: true})
	tr.OnConnection(plc.ConnectionEvent{})

	assert.Equal(t, HealthDisabled, tr.Snapshot().Health)
}

func TestTracker_TickSaturates(t *testing.T) {
	tr := NewTracker(zerolog.Nop())
	tr.snap.SecondsInError = MaxSecondsInError - 1

	tr.Tick()
	tr.Tick()
	assert.Equal(t, uint16(MaxSecondsInError), tr.Snapshot().SecondsInError)
}

func TestTracker_TickIdleWhileOK(t *testing.T) {
	tr := NewTracker(zerolog.Nop())
	tr.OnConnection(plc.ConnectionEvent{Connected: true})
	tr.OnResult(result("a", true, nil))

	tr.Tick()
	assert.Zero(t, tr.Snapshot().SecondsInError)
}

func TestTracker_Forget(t *testing.T) {
	tr := NewTracker(zerolog.Nop())
	tr.OnConnection(plc.ConnectionEvent{Connected: true})
	tr.OnResult(result("gone", false, errors.New("boom")))
	require.Equal(t, []string{"gone"}, tr.Snapshot().FailingTasks)

	tr.Forget("gone")
	assert.Empty(t, tr.Snapshot().FailingTasks)
}

func TestTracker_SnapshotIsACopy(t *testing.T) {
	tr := NewTracker(zerolog.Nop())
	tr.OnConnection(plc.ConnectionEvent{Connected: true})
	tr.OnResult(result("a", false, errors.New("boom")))

	s := tr.Snapshot()
	s.FailingTasks[0] = "mutated"
	assert.Equal(t, []string{"a"}, tr.Snapshot().FailingTasks)
}

func TestErrorCode(t *testing.T) {
	assert.Zero(t, errorCode(nil))
	assert.Equal(t, ErrorCodeGeneric, errorCode(errors.New("x")))
	assert.Equal(t, uint16(4), errorCode(fmt.Errorf("wrap: %w", &plc.ExceptionError{Code: 4})))
}

func TestHealthName(t *testing.T) {
	assert.Equal(t, "ok", HealthName(HealthOK))
	assert.Equal(t, "stale", HealthName(HealthStale))
	assert.Equal(t, "invalid", HealthName(42))
}
