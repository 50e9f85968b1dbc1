// internal/api/api.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/tamzrod/plcmon/internal/plc"
	"github.com/tamzrod/plcmon/internal/poller"
	"github.com/tamzrod/plcmon/internal/status"
)

// Scheduler is the command surface the API drives.
// *poller.Scheduler satisfies it.
type Scheduler interface {
	Start() error
	Pause()
	IsActive() bool
	Tasks() []poller.Task
	Task(id string) (poller.Task, bool)
	AddTask(t poller.Task) error
	RemoveTask(id string) bool
	ClearTasks()
	ExecuteNow(id string) (bool, error)
	SetTaskEnabled(id string, enabled bool) error
	SetTaskInterval(id string, d time.Duration) error
}

// StatusSource provides the health snapshot and drops removed tasks from
// it. *status.Tracker satisfies it.
type StatusSource interface {
	Snapshot() status.Snapshot
	Forget(taskID string)
}

// Link is the client command surface. *plc.Client satisfies it.
type Link interface {
	IsConnected() bool
	Endpoint() plc.Endpoint
	Connect(ctx context.Context) error
	Disconnect()
	UpdateEndpoint(ep plc.Endpoint) error
}

// connectTimeout bounds a Connect issued through the API.
const connectTimeout = 10 * time.Second

// REST serves the control API.
type REST struct {
	sched  Scheduler
	health StatusSource
	link   Link
	logger zerolog.Logger
}

func NewREST(sched Scheduler, health StatusSource, link Link, logger zerolog.Logger) *REST {
	return &REST{
		sched:  sched,
		health: health,
		link:   link,
		logger: logger.With().Str("component", "api").Logger(),
	}
}

// Router mounts every route on a chi router.
func (h *REST) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(requestLogger(h.logger))
	r.Use(chimw.RequestSize(1 << 16))

	r.Get("/healthz", h.Healthz)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", h.GetStatus)
		r.Post("/polling/start", h.StartPolling)
		r.Post("/polling/pause", h.PausePolling)

		r.Get("/link", h.GetLink)
		r.Post("/link/connect", h.ConnectLink)
		r.Post("/link/disconnect", h.DisconnectLink)
		r.Put("/link/endpoint", h.SetEndpoint)

		r.Get("/tasks", h.ListTasks)
		r.Post("/tasks", h.AddTask)
		r.Delete("/tasks", h.ClearTasks)
		r.Route("/tasks/{id}", func(r chi.Router) {
			r.Get("/", h.GetTask)
			r.Delete("/", h.RemoveTask)
			r.Post("/execute", h.ExecuteTask)
			r.Put("/enabled", h.SetEnabled)
			r.Put("/interval", h.SetInterval)
		})
	})
	return r
}

// ---- responses ----

type StatusResponse struct {
	Health         string    `json:"health"`
	HealthCode     uint16    `json:"health_code"`
	Connected      bool      `json:"connected"`
	Polling        bool      `json:"polling"`
	LastErrorCode  uint16    `json:"last_error_code,omitempty"`
	LastError      string    `json:"last_error,omitempty"`
	SecondsInError uint16    `json:"seconds_in_error"`
	FailingTasks   []string  `json:"failing_tasks,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type TaskResponse struct {
	ID                   string     `json:"id"`
	Name                 string     `json:"name"`
	Register             string     `json:"register"`
	Address              uint16     `json:"address"`
	Length               uint16     `json:"length"`
	IntervalMs           int64      `json:"interval_ms"`
	Enabled              bool       `json:"enabled"`
	Priority             int        `json:"priority"`
	LastExecutionTime    *time.Time `json:"last_execution_time,omitempty"`
	LastExecutionSuccess bool       `json:"last_execution_success"`
}

type ExecuteResponse struct {
	TaskID  string `json:"task_id"`
	Success bool   `json:"success"`
}

type LinkResponse struct {
	Connected bool   `json:"connected"`
	Address   string `json:"address"`
	Port      int    `json:"port"`
}

type endpointRequest struct {
	Address string `json:"address"`
	Port    int    `json:"port"`
}

// AddTaskRequest is the JSON body for POST /api/v1/tasks. An empty id is
// generated; an absent enabled flag means enabled.
type AddTaskRequest struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Register   string `json:"register"`
	Address    uint16 `json:"address"`
	Length     uint16 `json:"length"`
	IntervalMs int64  `json:"interval_ms"`
	Enabled    *bool  `json:"enabled"`
	Priority   int    `json:"priority"`
}

type enabledRequest struct {
	Enabled *bool `json:"enabled"`
}

type intervalRequest struct {
	IntervalMs int64 `json:"interval_ms"`
}

func taskResponse(t poller.Task) TaskResponse {
	out := TaskResponse{
		ID:                   t.ID,
		Name:                 t.Name,
		Register:             t.Class.String(),
		Address:              t.Address,
		Length:               t.Length,
		IntervalMs:           t.Interval.Milliseconds(),
		Enabled:              t.Enabled,
		Priority:             t.Priority,
		LastExecutionSuccess: t.LastExecutionSuccess,
	}
	if !t.LastExecutionTime.IsZero() {
		at := t.LastExecutionTime
		out.LastExecutionTime = &at
	}
	return out
}

// ---- handlers ----

// Healthz handles GET /healthz.
func (h *REST) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetStatus handles GET /api/v1/status.
func (h *REST) GetStatus(w http.ResponseWriter, r *http.Request) {
	s := h.health.Snapshot()
	writeJSON(w, http.StatusOK, StatusResponse{
		Health:         status.HealthName(s.Health),
		HealthCode:     s.Health,
		Connected:      h.link.IsConnected(),
		Polling:        h.sched.IsActive(),
		LastErrorCode:  s.LastErrorCode,
		LastError:      s.LastError,
		SecondsInError: s.SecondsInError,
		FailingTasks:   s.FailingTasks,
		UpdatedAt:      s.UpdatedAt,
	})
}

// StartPolling handles POST /api/v1/polling/start.
func (h *REST) StartPolling(w http.ResponseWriter, r *http.Request) {
	if err := h.sched.Start(); err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"polling": true})
}

// PausePolling handles POST /api/v1/polling/pause.
func (h *REST) PausePolling(w http.ResponseWriter, r *http.Request) {
	h.sched.Pause()
	writeJSON(w, http.StatusOK, map[string]bool{"polling": false})
}

// GetLink handles GET /api/v1/link.
func (h *REST) GetLink(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.linkResponse())
}

// ConnectLink handles POST /api/v1/link/connect.
func (h *REST) ConnectLink(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), connectTimeout)
	defer cancel()

	if err := h.link.Connect(ctx); err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.linkResponse())
}

// DisconnectLink handles POST /api/v1/link/disconnect.
func (h *REST) DisconnectLink(w http.ResponseWriter, r *http.Request) {
	h.link.Disconnect()
	writeJSON(w, http.StatusOK, h.linkResponse())
}

// SetEndpoint handles PUT /api/v1/link/endpoint. Rejected while connected.
func (h *REST) SetEndpoint(w http.ResponseWriter, r *http.Request) {
	var req endpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Port == 0 {
		req.Port = plc.DefaultPort
	}

	if err := h.link.UpdateEndpoint(plc.Endpoint{Address: req.Address, Port: req.Port}); err != nil {
		h.writeErr(w, err)
		return
	}
	h.logger.Info().Str("endpoint", h.link.Endpoint().String()).Msg("endpoint updated")
	writeJSON(w, http.StatusOK, h.linkResponse())
}

func (h *REST) linkResponse() LinkResponse {
	ep := h.link.Endpoint()
	return LinkResponse{Connected: h.link.IsConnected(), Address: ep.Address, Port: ep.Port}
}

// ListTasks handles GET /api/v1/tasks.
func (h *REST) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks := h.sched.Tasks()
	out := make([]TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, taskResponse(t))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetTask handles GET /api/v1/tasks/{id}.
func (h *REST) GetTask(w http.ResponseWriter, r *http.Request) {
	t, ok := h.sched.Task(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, taskResponse(t))
}

// AddTask handles POST /api/v1/tasks.
func (h *REST) AddTask(w http.ResponseWriter, r *http.Request) {
	var req AddTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	class, err := plc.ParseRegisterClass(req.Register)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.IntervalMs < 0 {
		writeError(w, http.StatusBadRequest, "field 'interval_ms' must be >= 0")
		return
	}

	t := poller.NewTask(req.Name, class, req.Address, req.Length)
	if req.ID != "" {
		t.ID = req.ID
	}
	if t.Name == "" {
		t.Name = t.ID
	}
	if req.IntervalMs > 0 {
		t.Interval = time.Duration(req.IntervalMs) * time.Millisecond
	}
	if req.Enabled != nil {
		t.Enabled = *req.Enabled
	}
	t.Priority = req.Priority

	if err := h.sched.AddTask(t); err != nil {
		h.writeErr(w, err)
		return
	}
	h.logger.Info().Str("task", t.ID).Stringer("class", class).Msg("task added")

	added, _ := h.sched.Task(t.ID)
	writeJSON(w, http.StatusCreated, taskResponse(added))
}

// RemoveTask handles DELETE /api/v1/tasks/{id}.
func (h *REST) RemoveTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.sched.RemoveTask(id) {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	h.health.Forget(id)
	h.logger.Info().Str("task", id).Msg("task removed")
	w.WriteHeader(http.StatusNoContent)
}

// ClearTasks handles DELETE /api/v1/tasks.
func (h *REST) ClearTasks(w http.ResponseWriter, r *http.Request) {
	tasks := h.sched.Tasks()
	h.sched.ClearTasks()
	for _, t := range tasks {
		h.health.Forget(t.ID)
	}
	h.logger.Info().Int("tasks", len(tasks)).Msg("tasks cleared")
	w.WriteHeader(http.StatusNoContent)
}

// ExecuteTask handles POST /api/v1/tasks/{id}/execute.
func (h *REST) ExecuteTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := h.sched.Task(id); !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if !h.link.IsConnected() {
		writeError(w, http.StatusServiceUnavailable, "link not connected")
		return
	}

	ok, err := h.sched.ExecuteNow(id)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ExecuteResponse{TaskID: id, Success: ok})
}

// SetEnabled handles PUT /api/v1/tasks/{id}/enabled.
func (h *REST) SetEnabled(w http.ResponseWriter, r *http.Request) {
	var req enabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "field 'enabled' is required")
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.sched.SetTaskEnabled(id, *req.Enabled); err != nil {
		h.writeErr(w, err)
		return
	}
	h.logger.Info().Str("task", id).Bool("enabled", *req.Enabled).Msg("task toggled")
	h.GetTask(w, r)
}

// SetInterval handles PUT /api/v1/tasks/{id}/interval.
func (h *REST) SetInterval(w http.ResponseWriter, r *http.Request) {
	var req intervalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.sched.SetTaskInterval(id, time.Duration(req.IntervalMs)*time.Millisecond); err != nil {
		h.writeErr(w, err)
		return
	}
	h.logger.Info().Str("task", id).Int64("interval_ms", req.IntervalMs).Msg("task interval changed")
	h.GetTask(w, r)
}

// ---- helpers ----

func (h *REST) writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, poller.ErrTaskNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, poller.ErrInvalidTask), errors.Is(err, plc.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, poller.ErrDuplicateTask), errors.Is(err, plc.ErrConnected):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, plc.ErrConnectFailed):
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, poller.ErrClosed), errors.Is(err, plc.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.logger.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
