package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rickgao/eve-market/internal/events"
)

const namespace = "eve_market"

// BusStats is the live state of the event bus.
type BusStats interface {
	Dropped() int64
	Subscribers() int
}

// Collector turns events into metric updates. It is an events.Sink and is
// meant to be attached to the bus as an observer.
type Collector struct {
	jobsTotal       *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
	queueDepth      *prometheus.GaugeVec
	tickEntities    *prometheus.CounterVec
	tickWorkers     prometheus.Gauge
	tickDuration    prometheus.Histogram
	budgetRemaining prometheus.Gauge
	budgetReset     prometheus.Gauge
	valuations      prometheus.Gauge
}

var _ events.Sink = (*Collector)(nil)

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		jobsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Finished job executions",
		}, []string{"job", "ok"}),
		jobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall time of job executions",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		}, []string{"job"}),
		queueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Pending jobs by priority class",
		}, []string{"priority"}),
		tickEntities: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tick",
			Name:      "entities_total",
			Help:      "Entity refreshes attempted by ticks",
		}, []string{"result"}),
		tickWorkers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tick",
			Name:      "workers",
			Help:      "Pool size chosen for the latest tick",
		}),
		tickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tick",
			Name:      "duration_seconds",
			Help:      "Wall time of ticks",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		budgetRemaining: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "esi",
			Name:      "error_budget_remaining",
			Help:      "Last observed X-ESI-Error-Limit-Remain",
		}),
		budgetReset: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "esi",
			Name:      "error_budget_reset_seconds",
			Help:      "Last observed X-ESI-Error-Limit-Reset",
		}),
		valuations: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "valuations",
			Help:      "Valuations written by the latest refresh",
		}),
	}
}

// RegisterBus adds gauge funcs reading the bus state at scrape time.
func RegisterBus(reg prometheus.Registerer, bus BusStats) {
	f := promauto.With(reg)
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "dropped_total",
		Help:      "Events dropped because the bus buffer was full",
	}, func() float64 { return float64(bus.Dropped()) })
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "subscribers",
		Help:      "Live websocket subscribers",
	}, func() float64 { return float64(bus.Subscribers()) })
}

// Emit implements events.Sink.
func (c *Collector) Emit(e events.Event) {
	switch p := e.Data.(type) {
	case events.JobFinished:
		c.jobsTotal.WithLabelValues(p.Job, strconv.FormatBool(p.OK)).Inc()
		c.jobDuration.WithLabelValues(p.Job).Observe(float64(p.MS) / 1000)

	case events.Queue:
		for prio, n := range p.Depth {
			c.queueDepth.WithLabelValues(prio).Set(float64(n))
		}

	case events.TickStart:
		c.tickWorkers.Set(float64(p.Workers))

	case events.TickFinish:
		c.tickEntities.WithLabelValues("ok").Add(float64(p.Succeeded))
		c.tickEntities.WithLabelValues("error").Add(float64(p.Errors))
		c.tickDuration.Observe(float64(p.DurationMS) / 1000)

	case events.ESI:
		c.budgetRemaining.Set(float64(p.Remain))
		c.budgetReset.Set(float64(p.Reset))

	case events.ValuationsUpdated:
		c.valuations.Set(float64(p.Count))
	}
}

// Handler serves the metrics in g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
