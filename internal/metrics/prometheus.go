package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus implements Collector on a dedicated registry.
type Prometheus struct {
	reg *prometheus.Registry

	leaderAttempts     *prometheus.CounterVec
	tickDuration       prometheus.Histogram
	slotsDue           prometheus.Counter
	slotsEnqueued      prometheus.Counter
	slotsFailed        prometheus.Counter
	commandsEnqueued   *prometheus.CounterVec
	commandTransitions *prometheus.CounterVec
	dispenseDuration   *prometheus.HistogramVec
}

var _ Collector = (*Prometheus)(nil)

// NewPrometheus builds the collectors under namespace (default "petfeeder").
func NewPrometheus(namespace string) *Prometheus {
	if namespace == "" {
		namespace = "petfeeder"
	}
	p := &Prometheus{
		reg: prometheus.NewRegistry(),
		leaderAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "leader",
			Name:      "attempts_total",
			Help:      "Leadership attempts by result (acquired, busy, error).",
		}, []string{"result"}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "tick_duration_seconds",
			Help:      "Duration of one schedule evaluation tick.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}),
		slotsDue: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "slots_due_total",
			Help:      "Slots found inside their catch-up window and not yet fired.",
		}),
		slotsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "slots_enqueued_total",
			Help:      "Slots that produced a FEED command.",
		}),
		slotsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "slots_failed_total",
			Help:      "Slots whose enqueue failed and will be retried.",
		}),
		commandsEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "commands_enqueued_total",
			Help:      "Commands written to the queue by kind.",
		}, []string{"kind"}),
		commandTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "command_transitions_total",
			Help:      "Command status transitions by target status.",
		}, []string{"status"}),
		dispenseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "dispense_duration_seconds",
			Help:      "Time from serial write to completion line, by result.",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60},
		}, []string{"result"}),
	}

	p.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		p.leaderAttempts,
		p.tickDuration,
		p.slotsDue,
		p.slotsEnqueued,
		p.slotsFailed,
		p.commandsEnqueued,
		p.commandTransitions,
		p.dispenseDuration,
	)
	return p
}

// Registry exposes the underlying registry.
func (p *Prometheus) Registry() *prometheus.Registry { return p.reg }

// Handler serves the registry in the text exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{Registry: p.reg})
}

func (p *Prometheus) LeaderAttempt(result string) {
	p.leaderAttempts.WithLabelValues(result).Inc()
}

func (p *Prometheus) TickCompleted(d time.Duration, due, enqueued, failed int) {
	p.tickDuration.Observe(d.Seconds())
	p.slotsDue.Add(float64(due))
	p.slotsEnqueued.Add(float64(enqueued))
	p.slotsFailed.Add(float64(failed))
}

func (p *Prometheus) CommandEnqueued(kind string) {
	p.commandsEnqueued.WithLabelValues(kind).Inc()
}

func (p *Prometheus) CommandTransition(status string) {
	p.commandTransitions.WithLabelValues(status).Inc()
}

func (p *Prometheus) Dispense(result string, d time.Duration) {
	p.dispenseDuration.WithLabelValues(result).Observe(d.Seconds())
}
