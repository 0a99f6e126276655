package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the daemon's collectors on a private registry, so several
// instances (tests) never collide on the global one.
type Metrics struct {
	Registry *prometheus.Registry

	// Poll cycles
	PollsTotal    *prometheus.CounterVec // result: ok, fetch_failed, skipped
	PollDuration  prometheus.Histogram
	FetchFailures *prometheus.CounterVec // metric ("" = whole feed)

	// Per-metric state
	Value     *prometheus.GaugeVec
	Threshold *prometheus.GaugeVec
	Alerting  *prometheus.GaugeVec

	// Notifications
	NotificationsTotal *prometheus.CounterVec // metric, kind, result
	SendsTotal         *prometheus.CounterVec // result: ok, failed
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		PollsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "thingwatch_polls_total",
				Help: "Poll cycles by result",
			},
			[]string{"result"},
		),
		PollDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "thingwatch_poll_duration_seconds",
				Help:    "Duration of a poll cycle including notifications",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),
		FetchFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "thingwatch_fetch_failures_total",
				Help: "Feed fetch or field parse failures",
			},
			[]string{"metric"},
		),

		Value: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "thingwatch_metric_value",
				Help: "Last reading per metric",
			},
			[]string{"metric"},
		),
		Threshold: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "thingwatch_metric_threshold",
				Help: "Threshold applied at the last evaluation",
			},
			[]string{"metric"},
		),
		Alerting: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "thingwatch_metric_alerting",
				Help: "1 while the metric is above its threshold",
			},
			[]string{"metric"},
		),

		NotificationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "thingwatch_notifications_total",
				Help: "Alert notifications by metric, kind and result",
			},
			[]string{"metric", "kind", "result"},
		),
		SendsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "thingwatch_telegram_sends_total",
				Help: "Telegram send attempts by result",
			},
			[]string{"result"},
		),
	}
}

// Result maps an error to a "ok"/"failed" label.
func Result(err error) string {
	if err != nil {
		return "failed"
	}
	return "ok"
}

// Bool converts a flag to a gauge value.
func Bool(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
