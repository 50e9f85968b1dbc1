// internal/api/api_test.go
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamzrod/plcmon/internal/plc"
	"github.com/tamzrod/plcmon/internal/poller"
	"github.com/tamzrod/plcmon/internal/status"
)

type fakeScheduler struct {
	mu       sync.Mutex
	active   bool
	tasks    []poller.Task
	executed []string
	execOK   bool
	startErr error
}

func (f *fakeScheduler) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.active = true
	return nil
}

func (f *fakeScheduler) Pause() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = false
}

func (f *fakeScheduler) IsActive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *fakeScheduler) Tasks() []poller.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]poller.Task(nil), f.tasks...)
}

func (f *fakeScheduler) Task(id string) (poller.Task, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tasks {
		if t.ID == id {
			return t, true
		}
	}
	return poller.Task{}, false
}

func (f *fakeScheduler) AddTask(t poller.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t.Length == 0 {
		return fmt.Errorf("%w: length must be > 0", poller.ErrInvalidTask)
	}
	for _, have := range f.tasks {
		if have.ID == t.ID {
			return fmt.Errorf("%w: %q", poller.ErrDuplicateTask, t.ID)
		}
	}
	f.tasks = append(f.tasks, t)
	return nil
}

func (f *fakeScheduler) RemoveTask(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, t := range f.tasks {
		if t.ID == id {
			f.tasks = append(f.tasks[:i], f.tasks[i+1:]...)
			return true
		}
	}
	return false
}

func (f *fakeScheduler) ClearTasks() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = nil
}

func (f *fakeScheduler) ExecuteNow(id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed = append(f.executed, id)
	return f.execOK, nil
}

func (f *fakeScheduler) executedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.executed...)
}

func (f *fakeScheduler) failStart(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startErr = err
}

func (f *fakeScheduler) update(id string, fn func(*poller.Task)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.tasks {
		if f.tasks[i].ID == id {
			fn(&f.tasks[i])
			return nil
		}
	}
	return fmt.Errorf("%w: %q", poller.ErrTaskNotFound, id)
}

func (f *fakeScheduler) SetTaskEnabled(id string, enabled bool) error {
	return f.update(id, func(t *poller.Task) { t.Enabled = enabled })
}

func (f *fakeScheduler) SetTaskInterval(id string, d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%w: interval must be > 0", poller.ErrInvalidTask)
	}
	return f.update(id, func(t *poller.Task) { t.Interval = d })
}

type fakeLink struct {
	mu         sync.Mutex
	up         bool
	ep         plc.Endpoint
	connectErr error
}

func (l *fakeLink) IsConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.up
}

func (l *fakeLink) Endpoint() plc.Endpoint {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ep
}

func (l *fakeLink) Connect(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.connectErr != nil {
		return l.connectErr
	}
	l.up = true
	return nil
}

func (l *fakeLink) Disconnect() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.up = false
}

func (l *fakeLink) UpdateEndpoint(ep plc.Endpoint) error {
	if ep.Address == "" {
		return fmt.Errorf("%w: endpoint address required", plc.ErrInvalidRequest)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.up {
		return plc.ErrConnected
	}
	l.ep = ep
	return nil
}

func (l *fakeLink) failConnect(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connectErr = err
}

type harness struct {
	sched   *fakeScheduler
	link    *fakeLink
	tracker *status.Tracker
	srv     *httptest.Server
}

func newHarness(t *testing.T, connected bool) *harness {
	t.Helper()
	sched := &fakeScheduler{
		execOK: true,
		tasks: []poller.Task{
			{ID: "hr", Name: "Holding", Class: plc.HoldingRegister, Address: 100, Length: 10, Interval: 500 * time.Millisecond, Enabled: true},
			{ID: "di", Name: "Inputs", Class: plc.DiscreteInput, Length: 8, Interval: time.Second},
		},
	}
	tracker := status.NewTracker(zerolog.Nop())
	link := &fakeLink{up: connected, ep: plc.Endpoint{Address: "10.0.0.5", Port: plc.DefaultPort}}
	h := NewREST(sched, tracker, link, zerolog.Nop())

	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)
	return &harness{sched: sched, link: link, tracker: tracker, srv: srv}
}

func (h *harness) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, h.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, raw
}

func TestHealthz(t *testing.T) {
	h := newHarness(t, true)
	resp, body := h.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestGetStatus(t *testing.T) {
	h := newHarness(t, true)
	require.NoError(t, h.sched.Start())
	h.tracker.OnConnection(plc.ConnectionEvent{Connected: true})

	resp, body := h.do(t, http.MethodGet, "/api/v1/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var got StatusResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "stale", got.Health)
	assert.Equal(t, status.HealthStale, got.HealthCode)
	assert.True(t, got.Connected)
	assert.True(t, got.Polling)
}

func TestListAndGetTasks(t *testing.T) {
	h := newHarness(t, true)

	resp, body := h.do(t, http.MethodGet, "/api/v1/tasks", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []TaskResponse
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list, 2)
	assert.Equal(t, "hr", list[0].ID)
	assert.Equal(t, "holding_register", list[0].Register)
	assert.Equal(t, int64(500), list[0].IntervalMs)
	assert.Nil(t, list[0].LastExecutionTime)

	resp, body = h.do(t, http.MethodGet, "/api/v1/tasks/di", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var one TaskResponse
	require.NoError(t, json.Unmarshal(body, &one))
	assert.Equal(t, "discrete_input", one.Register)
	assert.False(t, one.Enabled)

	resp, _ = h.do(t, http.MethodGet, "/api/v1/tasks/nope", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestExecuteTask(t *testing.T) {
	h := newHarness(t, true)

	resp, body := h.do(t, http.MethodPost, "/api/v1/tasks/hr/execute", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"task_id":"hr","success":true}`, string(body))
	assert.Equal(t, []string{"hr"}, h.sched.executedIDs())

	resp, _ = h.do(t, http.MethodPost, "/api/v1/tasks/nope/execute", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestExecuteTask_Disconnected(t *testing.T) {
	h := newHarness(t, false)

	resp, body := h.do(t, http.MethodPost, "/api/v1/tasks/hr/execute", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, string(body), "not connected")
	assert.Empty(t, h.sched.executedIDs())
}

func TestSetEnabled(t *testing.T) {
	h := newHarness(t, true)

	resp, body := h.do(t, http.MethodPut, "/api/v1/tasks/di/enabled", `{"enabled":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got TaskResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.True(t, got.Enabled)

	resp, _ = h.do(t, http.MethodPut, "/api/v1/tasks/di/enabled", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = h.do(t, http.MethodPut, "/api/v1/tasks/nope/enabled", `{"enabled":false}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSetInterval(t *testing.T) {
	h := newHarness(t, true)

	resp, body := h.do(t, http.MethodPut, "/api/v1/tasks/hr/interval", `{"interval_ms":250}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got TaskResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, int64(250), got.IntervalMs)

	resp, _ = h.do(t, http.MethodPut, "/api/v1/tasks/hr/interval", `{"interval_ms":0}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = h.do(t, http.MethodPut, "/api/v1/tasks/hr/interval", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPolling(t *testing.T) {
	h := newHarness(t, true)

	resp, _ := h.do(t, http.MethodPost, "/api/v1/polling/start", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, h.sched.IsActive())

	resp, _ = h.do(t, http.MethodPost, "/api/v1/polling/pause", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, h.sched.IsActive())

	h.sched.failStart(poller.ErrClosed)
	resp, _ = h.do(t, http.MethodPost, "/api/v1/polling/start", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestAddTask(t *testing.T) {
	h := newHarness(t, true)

	resp, body := h.do(t, http.MethodPost, "/api/v1/tasks",
		`{"id":"ir","register":"input_register","address":7,"length":2,"interval_ms":250,"priority":3}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var got TaskResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "ir", got.ID)
	assert.Equal(t, "ir", got.Name)
	assert.Equal(t, "input_register", got.Register)
	assert.Equal(t, uint16(7), got.Address)
	assert.Equal(t, int64(250), got.IntervalMs)
	assert.Equal(t, 3, got.Priority)
	assert.True(t, got.Enabled)

	_, ok := h.sched.Task("ir")
	assert.True(t, ok)
}

func TestAddTask_GeneratesID(t *testing.T) {
	h := newHarness(t, true)

	resp, body := h.do(t, http.MethodPost, "/api/v1/tasks",
		`{"name":"Coils","register":"coil","length":16,"enabled":false}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var got TaskResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, "Coils", got.Name)
	assert.False(t, got.Enabled)
	assert.Equal(t, poller.DefaultInterval.Milliseconds(), got.IntervalMs)
}

func TestAddTask_Rejected(t *testing.T) {
	h := newHarness(t, true)

	resp, body := h.do(t, http.MethodPost, "/api/v1/tasks", `{"id":"hr","register":"holding_register","length":1}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, string(body), "duplicate")

	resp, _ = h.do(t, http.MethodPost, "/api/v1/tasks", `{"id":"x","register":"bogus","length":1}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = h.do(t, http.MethodPost, "/api/v1/tasks", `{"id":"x","register":"coil","length":0}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = h.do(t, http.MethodPost, "/api/v1/tasks", `{"id":"x","register":"coil","length":1,"interval_ms":-5}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = h.do(t, http.MethodPost, "/api/v1/tasks", `{`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	assert.Len(t, h.sched.Tasks(), 2)
}

func TestRemoveTask_ForgetsFailure(t *testing.T) {
	h := newHarness(t, true)
	h.tracker.OnConnection(plc.ConnectionEvent{Connected: true})
	h.tracker.OnResult(poller.Result{Task: poller.Task{ID: "hr"}, Err: plc.ErrConnectionLost})
	require.Equal(t, []string{"hr"}, h.tracker.Snapshot().FailingTasks)

	resp, _ := h.do(t, http.MethodDelete, "/api/v1/tasks/hr", "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, h.tracker.Snapshot().FailingTasks)

	_, ok := h.sched.Task("hr")
	assert.False(t, ok)

	resp, _ = h.do(t, http.MethodDelete, "/api/v1/tasks/hr", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestClearTasks_ForgetsFailures(t *testing.T) {
	h := newHarness(t, true)
	h.tracker.OnConnection(plc.ConnectionEvent{Connected: true})
	h.tracker.OnResult(poller.Result{Task: poller.Task{ID: "hr"}, Err: plc.ErrConnectionLost})
	h.tracker.OnResult(poller.Result{Task: poller.Task{ID: "di"}})
	require.Len(t, h.tracker.Snapshot().FailingTasks, 2)

	resp, _ := h.do(t, http.MethodDelete, "/api/v1/tasks", "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, h.sched.Tasks())
	assert.Empty(t, h.tracker.Snapshot().FailingTasks)
}

func TestLink_ConnectDisconnect(t *testing.T) {
	h := newHarness(t, false)

	resp, body := h.do(t, http.MethodGet, "/api/v1/link", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"connected":false,"address":"10.0.0.5","port":502}`, string(body))

	resp, body = h.do(t, http.MethodPost, "/api/v1/link/connect", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"connected":true`)
	assert.True(t, h.link.IsConnected())

	resp, body = h.do(t, http.MethodPost, "/api/v1/link/disconnect", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"connected":false`)
	assert.False(t, h.link.IsConnected())
}

func TestLink_ConnectErrors(t *testing.T) {
	h := newHarness(t, false)

	h.link.failConnect(fmt.Errorf("%w: refused", plc.ErrConnectFailed))
	resp, body := h.do(t, http.MethodPost, "/api/v1/link/connect", "")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, string(body), "refused")

	h.link.failConnect(plc.ErrClosed)
	resp, _ = h.do(t, http.MethodPost, "/api/v1/link/connect", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestLink_SetEndpoint(t *testing.T) {
	h := newHarness(t, false)

	resp, body := h.do(t, http.MethodPut, "/api/v1/link/endpoint", `{"address":"192.168.1.20"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"connected":false,"address":"192.168.1.20","port":502}`, string(body))

	resp, _ = h.do(t, http.MethodPut, "/api/v1/link/endpoint", `{"address":""}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = h.do(t, http.MethodPut, "/api/v1/link/endpoint", `nope`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	require.NoError(t, h.link.Connect(context.Background()))
	resp, _ = h.do(t, http.MethodPut, "/api/v1/link/endpoint", `{"address":"192.168.1.21","port":1502}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "192.168.1.20", h.link.Endpoint().Address)
}
