package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "fileretrieval"

// Prometheus implements Sink on top of a prometheus registerer.
type Prometheus struct {
	tickDuration      prometheus.Histogram
	dueConfigurations prometheus.Counter
	capacityExceeded  prometheus.Counter
	gateInFlight      prometheus.Gauge
	executions        *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	filesDiscovered   prometheus.Counter
	notifications     *prometheus.CounterVec
	dispatchRetries   prometheus.Counter
}

var _ Sink = (*Prometheus)(nil)

// NewPrometheus creates and registers all collectors with reg.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	p := &Prometheus{
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "tick_duration_seconds",
			Help:      "Time spent evaluating one scheduler tick.",
			Buckets:   prometheus.DefBuckets,
		}),
		dueConfigurations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "due_configurations_total",
			Help:      "Configurations found due by the scheduler.",
		}),
		capacityExceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "rejections_total",
			Help:      "Executions skipped because the concurrency gate was full.",
		}),
		gateInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "in_flight",
			Help:      "Executions currently holding a gate slot.",
		}),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "executions_total",
			Help:      "Finished executions by status.",
		}, []string{"status"}),
		executionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "execution_duration_seconds",
			Help:      "Execution wall time by status.",
			Buckets:   []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"status"}),
		filesDiscovered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "files_discovered_total",
			Help:      "Files newly committed to the discovery ledger.",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "messages_total",
			Help:      "Per-file notifications by kind and outcome.",
		}, []string{"kind", "outcome"}),
		dispatchRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "retries_total",
			Help:      "Dispatch attempts retried after a transient failure.",
		}),
	}

	reg.MustRegister(
		p.tickDuration,
		p.dueConfigurations,
		p.capacityExceeded,
		p.gateInFlight,
		p.executions,
		p.executionDuration,
		p.filesDiscovered,
		p.notifications,
		p.dispatchRetries,
	)
	return p
}

func (p *Prometheus) TickCompleted(duration time.Duration, due int) {
	p.tickDuration.Observe(duration.Seconds())
	p.dueConfigurations.Add(float64(due))
}

func (p *Prometheus) CapacityExceeded() {
	p.capacityExceeded.Inc()
}

func (p *Prometheus) GateInFlight(n int) {
	p.gateInFlight.Set(float64(n))
}

func (p *Prometheus) ExecutionFinished(status string, duration time.Duration) {
	p.executions.WithLabelValues(status).Inc()
	p.executionDuration.WithLabelValues(status).Observe(duration.Seconds())
}

func (p *Prometheus) FilesDiscovered(n int) {
	p.filesDiscovered.Add(float64(n))
}

func (p *Prometheus) NotificationOutcome(kind, outcome string) {
	p.notifications.WithLabelValues(kind, outcome).Inc()
}

func (p *Prometheus) DispatchRetry() {
	p.dispatchRetries.Inc()
}
