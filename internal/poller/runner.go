// internal/poller/runner.go
package poller

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/tamzrod/plcmon/internal/plc"
)

// timer is one armed per-task ticker. Once cancelled it never fires again;
// done closes after any in-flight fire has returned.
type timer struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// armLocked starts a timer for e unless one is already armed.
func (s *Scheduler) armLocked(e *entry) {
	if e.timer != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &timer{cancel: cancel, done: make(chan struct{})}
	e.timer = t
	go s.run(ctx, e, t, e.task.Interval)
}

// disarmLocked cancels e's timer and parks it in the stopping set until
// its goroutine exits. The caller waits after releasing s.mu.
func (s *Scheduler) disarmLocked(e *entry) *timer {
	t := e.timer
	if t == nil {
		return nil
	}
	t.cancel()
	e.timer = nil
	s.stopping[t] = struct{}{}
	return t
}

func (s *Scheduler) disarmAllLocked() {
	for _, e := range s.tasks {
		s.disarmLocked(e)
	}
}

// stoppingLocked snapshots every cancelled timer still running.
func (s *Scheduler) stoppingLocked() []*timer {
	out := make([]*timer, 0, len(s.stopping))
	for t := range s.stopping {
		out = append(out, t)
	}
	return out
}

func waitTimers(ts ...*timer) {
	for _, t := range ts {
		if t != nil {
			<-t.done
		}
	}
}

// run drives one task. One goroutine per armed timer. No overlap.
func (s *Scheduler) run(ctx context.Context, e *entry, t *timer, every time.Duration) {
	defer func() {
		s.mu.Lock()
		delete(s.stopping, t)
		s.mu.Unlock()
		close(t.done)
	}()

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			s.fire(ctx, e)
		}
	}
}

// fire executes e unless the timer was cancelled, the scheduler is paused
// or the link is down. Those cases are silent.
func (s *Scheduler) fire(ctx context.Context, e *entry) {
	defer func() {
		if r := recover(); r != nil {
			s.logPanic("timer fire", e, r)
		}
	}()

	e.exec.Lock()
	defer e.exec.Unlock()

	s.mu.Lock()
	ok := ctx.Err() == nil && s.active
	s.mu.Unlock()
	if !ok || !s.client.IsConnected() {
		return
	}

	s.executeLocked(e)
}

// executeLocked performs the read and publishes the result. The caller
// holds e.exec. It reports false when nothing ran because the link was
// down by the time the read was issued.
func (s *Scheduler) executeLocked(e *entry) (Result, bool) {
	s.mu.Lock()
	task := e.task
	s.mu.Unlock()

	start := time.Now()
	payload, err := s.read(task)
	if errors.Is(err, plc.ErrNotConnected) {
		return Result{}, false
	}
	end := time.Now()

	res := Result{
		Success:   err == nil && payload.Len() > 0,
		Err:       err,
		Timestamp: end,
		Duration:  end.Sub(start),
	}
	if err == nil {
		res.Payload = payload
	}

	s.mu.Lock()
	e.task.LastExecutionTime = end
	e.task.LastExecutionSuccess = res.Success
	res.Task = e.task
	s.mu.Unlock()

	if err != nil {
		s.logger.Debug().Err(err).Str("task", task.ID).Msg("task failed")
	}

	s.results.Send(res)
	return res, true
}

// read issues the task's read. A panic in the read path becomes an error.
func (s *Scheduler) read(t Task) (p plc.Payload, err error) {
	defer func() {
		if r := recover(); r != nil {
			id := s.logPanic("read", nil, r)
			p = plc.Payload{}
			err = fmt.Errorf("poller: read panic (correlation_id: %s)", id)
		}
	}()

	switch t.Class {
	case plc.Coil:
		bits, err := s.client.ReadCoils(t.Address, t.Length)
		return plc.BitsPayload(bits), err
	case plc.DiscreteInput:
		bits, err := s.client.ReadDiscreteInputs(t.Address, t.Length)
		return plc.BitsPayload(bits), err
	case plc.HoldingRegister:
		regs, err := s.client.ReadHoldingRegisters(t.Address, t.Length)
		return plc.RegistersPayload(regs), err
	case plc.InputRegister:
		regs, err := s.client.ReadInputRegisters(t.Address, t.Length)
		return plc.RegistersPayload(regs), err
	default:
		return plc.Payload{}, fmt.Errorf("%w: register class %d", ErrInvalidTask, t.Class)
	}
}

func (s *Scheduler) logPanic(where string, e *entry, r any) string {
	id := uuid.NewString()
	ev := s.logger.Error().
		Str("correlation_id", id).
		Str("panic", fmt.Sprintf("%v", r)).
		Bytes("stack", debug.Stack())
	if e != nil {
		ev = ev.Str("task", e.id)
	}
	ev.Msg(where + " panic")
	return id
}
