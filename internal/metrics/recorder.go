// internal/metrics/recorder.go
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tamzrod/plcmon/internal/plc"
	"github.com/tamzrod/plcmon/internal/poller"
)

// Recorder turns link, data and result events into Prometheus series.
type Recorder struct {
	connected   prometheus.Gauge
	transitions *prometheus.CounterVec
	received    *prometheus.CounterVec
	executions  *prometheus.CounterVec
	latency     *prometheus.HistogramVec
}

// Source is the client surface the recorder listens to.
// *plc.Client satisfies it.
type Source interface {
	SubscribeConnection(fn func(plc.ConnectionEvent)) (unsubscribe func())
	SubscribeData(fn func(plc.DataEvent)) (unsubscribe func())
}

// NewRecorder registers the plcmon series on reg. health, when non-nil,
// is sampled at scrape time for plcmon_health.
func NewRecorder(reg prometheus.Registerer, health func() uint16) (*Recorder, error) {
	r := &Recorder{
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "plcmon_link_connected",
			Help: "1 while the Modbus TCP link is up.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "plcmon_link_transitions_total",
			Help: "Link events by resulting state (connected, disconnected, lost, connect_failed).",
		}, []string{"state"}),
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "plcmon_data_received_total",
			Help: "Successful reads by register class.",
		}, []string{"class"}),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "plcmon_task_executions_total",
			Help: "Task executions by outcome.",
		}, []string{"task", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "plcmon_task_execution_seconds",
			Help:    "Duration of one task read.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"task"}),
	}

	cs := []prometheus.Collector{r.connected, r.transitions, r.received, r.executions, r.latency}
	if health != nil {
		cs = append(cs, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "plcmon_health",
			Help: "Device health code (0 unknown, 1 ok, 2 error, 3 stale, 4 disabled).",
		}, func() float64 { return float64(health()) }))
	}
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Attach subscribes to src and s. Either may be nil.
func (r *Recorder) Attach(src Source, s *poller.Scheduler) (detach func()) {
	var offs []func()
	if src != nil {
		offs = append(offs,
			src.SubscribeConnection(r.OnConnection),
			src.SubscribeData(r.OnData),
		)
	}
	if s != nil {
		offs = append(offs, s.SubscribeResults(r.OnResult))
	}
	return func() {
		for i := len(offs) - 1; i >= 0; i-- {
			offs[i]()
		}
	}
}

func (r *Recorder) OnConnection(ev plc.ConnectionEvent) {
	switch {
	case ev.Connected:
		r.connected.Set(1)
		r.transitions.WithLabelValues("connected").Inc()
	case ev.Err == nil:
		r.connected.Set(0)
		r.transitions.WithLabelValues("disconnected").Inc()
	case errors.Is(ev.Err, plc.ErrConnectionLost):
		r.connected.Set(0)
		r.transitions.WithLabelValues("lost").Inc()
	default:
		r.connected.Set(0)
		r.transitions.WithLabelValues("connect_failed").Inc()
	}
}

func (r *Recorder) OnData(ev plc.DataEvent) {
	r.received.WithLabelValues(ev.Class.String()).Inc()
}

func (r *Recorder) OnResult(res poller.Result) {
	outcome := "failure"
	if res.Success {
		outcome = "success"
	}
	r.executions.WithLabelValues(res.Task.ID, outcome).Inc()
	r.latency.WithLabelValues(res.Task.ID).Observe(res.Duration.Seconds())
}
