// internal/poller/poller.go
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tamzrod/plcmon/internal/notify"
	"github.com/tamzrod/plcmon/internal/plc"
)

// ErrClosed is returned by commands issued after Close.
var ErrClosed = errors.New("poller: scheduler closed")

// Client abstracts the link operations the scheduler needs.
// *plc.Client satisfies it.
type Client interface {
	IsConnected() bool
	Connect(ctx context.Context) error
	SubscribeConnection(fn func(plc.ConnectionEvent)) (unsubscribe func())

	ReadCoils(addr, qty uint16) ([]bool, error)              // FC 1
	ReadDiscreteInputs(addr, qty uint16) ([]bool, error)     // FC 2
	ReadHoldingRegisters(addr, qty uint16) ([]uint16, error) // FC 3
	ReadInputRegisters(addr, qty uint16) ([]uint16, error)   // FC 4
}

type entry struct {
	id    string
	task  Task   // guarded by Scheduler.mu
	timer *timer // guarded by Scheduler.mu

	exec sync.Mutex // at most one execution of this task at a time
}

// Scheduler runs a live set of tasks, one timer per enabled task, and
// keeps the timers in step with the link state.
//
// Task set and timer table are guarded by mu, disjoint from the link's own
// lock. Disarming cancels a timer under mu and waits for its goroutine
// after releasing mu, so a fire that already started completes before the
// disarming call returns.
//
// Result handlers run on timer goroutines. They must not call Pause,
// RemoveTask, ClearTasks, SetTaskEnabled, SetTaskInterval or Close.
type Scheduler struct {
	client Client
	logger zerolog.Logger

	mu       sync.Mutex
	active   bool
	closed   bool
	tasks    map[string]*entry
	order    []string
	stopping map[*timer]struct{}

	results     notify.Feed[Result]
	unsubscribe func()

	ctx    context.Context // bounds connect attempts started by Start
	cancel context.CancelFunc
	bg     sync.WaitGroup
}

// New creates an inactive scheduler attached to client's connection events.
func New(client Client, logger zerolog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		client:   client,
		logger:   logger.With().Str("component", "poller").Logger(),
		tasks:    make(map[string]*entry),
		stopping: make(map[*timer]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	s.results.OnPanic(notify.LogPanic(s.logger, "results"))
	s.unsubscribe = client.SubscribeConnection(s.onConnection)
	return s
}

// SubscribeResults registers fn for execution results.
func (s *Scheduler) SubscribeResults(fn func(Result)) (unsubscribe func()) {
	return s.results.Subscribe(fn)
}

// Start activates polling. Timers are armed now if the link is up;
// otherwise a connection attempt is started in the background and timers
// are armed when it succeeds. Idempotent.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.active {
		s.mu.Unlock()
		return nil
	}
	s.active = true
	connected := s.client.IsConnected()
	if connected {
		s.armEnabledLocked()
	}
	if !connected {
		s.bg.Add(1)
	}
	s.mu.Unlock()

	s.logger.Info().Bool("connected", connected).Msg("polling started")

	if !connected {
		go func() {
			defer s.bg.Done()
			if err := s.client.Connect(s.ctx); err != nil {
				s.logger.Warn().Err(err).Msg("connect on start failed")
			}
		}()
	}
	return nil
}

// Pause deactivates polling and disarms every timer. When Pause returns no
// result from a timer fire is emitted until Start. Idempotent.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	wasActive := s.active
	s.active = false
	s.disarmAllLocked()
	stopping := s.stoppingLocked()
	s.mu.Unlock()

	waitTimers(stopping...)

	if wasActive {
		s.logger.Info().Msg("polling paused")
	}
}

// IsActive reports whether Start is in effect.
func (s *Scheduler) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// AddTask inserts t. It is armed at once when the scheduler is active, the
// link is up and t is enabled.
func (s *Scheduler) AddTask(t Task) error {
	if err := t.validate(); err != nil {
		return err
	}
	if t.Interval == 0 {
		t.Interval = DefaultInterval
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if _, ok := s.tasks[t.ID]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateTask, t.ID)
	}

	e := &entry{id: t.ID, task: t}
	s.tasks[t.ID] = e
	s.order = append(s.order, t.ID)

	if s.shouldArmLocked(e) {
		s.armLocked(e)
	}

	s.logger.Debug().
		Str("task", t.ID).
		Stringer("class", t.Class).
		Uint16("address", t.Address).
		Uint16("length", t.Length).
		Dur("interval", t.Interval).
		Msg("task added")
	return nil
}

// RemoveTask disarms and removes the task, then waits for a fire already
// in flight. It reports whether the task existed; an unknown id changes
// nothing.
func (s *Scheduler) RemoveTask(id string) bool {
	s.mu.Lock()
	e, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	t := s.disarmLocked(e)
	s.removeLocked(id)
	s.mu.Unlock()

	waitTimers(t)

	s.logger.Debug().Str("task", id).Msg("task removed")
	return true
}

// ClearTasks disarms every timer, empties the task set and waits for
// in-flight fires.
func (s *Scheduler) ClearTasks() {
	s.mu.Lock()
	n := len(s.tasks)
	s.disarmAllLocked()
	stopping := s.stoppingLocked()
	s.tasks = make(map[string]*entry)
	s.order = nil
	s.mu.Unlock()

	waitTimers(stopping...)

	s.logger.Debug().Int("tasks", n).Msg("tasks cleared")
}

// ExecuteNow runs the task's read once, out of band from its timer. It
// reports the success flag. A down link runs nothing and emits nothing.
func (s *Scheduler) ExecuteNow(id string) (bool, error) {
	s.mu.Lock()
	e, ok := s.tasks[id]
	closed := s.closed
	s.mu.Unlock()

	if closed {
		return false, ErrClosed
	}
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrTaskNotFound, id)
	}
	if !s.client.IsConnected() {
		return false, nil
	}

	e.exec.Lock()
	defer e.exec.Unlock()

	res, _ := s.executeLocked(e)
	return res.Success, nil
}

// Tasks returns a snapshot in insertion order.
func (s *Scheduler) Tasks() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Task, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.tasks[id].task)
	}
	return out
}

// Task returns a snapshot of one task.
func (s *Scheduler) Task(id string) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.tasks[id]
	if !ok {
		return Task{}, false
	}
	return e.task, true
}

// SetTaskEnabled arms or disarms the task accordingly.
func (s *Scheduler) SetTaskEnabled(id string, enabled bool) error {
	s.mu.Lock()
	e, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrTaskNotFound, id)
	}
	e.task.Enabled = enabled

	var t *timer
	if enabled {
		if s.shouldArmLocked(e) {
			s.armLocked(e)
		}
	} else {
		t = s.disarmLocked(e)
	}
	s.mu.Unlock()

	waitTimers(t)
	return nil
}

// SetTaskInterval changes the period. An armed task is rearmed so the new
// period takes effect at once.
func (s *Scheduler) SetTaskInterval(id string, d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%w: interval must be > 0", ErrInvalidTask)
	}

	s.mu.Lock()
	e, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrTaskNotFound, id)
	}
	e.task.Interval = d
	t := s.disarmLocked(e)
	s.mu.Unlock()

	if t == nil {
		return nil
	}
	waitTimers(t)

	s.mu.Lock()
	if s.tasks[id] == e && s.shouldArmLocked(e) {
		s.armLocked(e)
	}
	s.mu.Unlock()
	return nil
}

// ArmedTimers is the number of tasks that currently own a timer.
func (s *Scheduler) ArmedTimers() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, e := range s.tasks {
		if e.timer != nil {
			n++
		}
	}
	return n
}

// Close disarms everything and detaches from the client. Fires already in
// flight complete; nothing is armed afterwards.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.active = false
	s.disarmAllLocked()
	stopping := s.stoppingLocked()
	s.mu.Unlock()

	s.unsubscribe()
	s.cancel()
	waitTimers(stopping...)
	s.bg.Wait()

	s.logger.Debug().Msg("scheduler closed")
}

// ---- connection reaction ----

// onConnection runs on the client's dispatch goroutine. A loss disarms
// every timer before returning; a connect resynchronizes all timers.
func (s *Scheduler) onConnection(ev plc.ConnectionEvent) {
	if ev.Connected {
		s.resync()
		return
	}

	s.mu.Lock()
	armed := 0
	for _, e := range s.tasks {
		if e.timer != nil {
			armed++
		}
	}
	s.disarmAllLocked()
	stopping := s.stoppingLocked()
	s.mu.Unlock()

	waitTimers(stopping...)

	if armed > 0 {
		s.logger.Info().Int("timers", armed).Msg("link down, timers disarmed")
	}
}

func (s *Scheduler) resync() {
	s.mu.Lock()
	if s.closed || !s.active {
		s.mu.Unlock()
		return
	}
	s.disarmAllLocked()
	stopping := s.stoppingLocked()
	s.mu.Unlock()

	waitTimers(stopping...)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.active || !s.client.IsConnected() {
		return
	}
	n := s.armEnabledLocked()
	s.logger.Info().Int("timers", n).Msg("link up, timers armed")
}

func (s *Scheduler) shouldArmLocked(e *entry) bool {
	return s.active && !s.closed && e.task.Enabled && s.client.IsConnected()
}

func (s *Scheduler) armEnabledLocked() int {
	n := 0
	for _, id := range s.order {
		e := s.tasks[id]
		if e.task.Enabled {
			s.armLocked(e)
			n++
		}
	}
	return n
}

func (s *Scheduler) removeLocked(id string) {
	delete(s.tasks, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}
