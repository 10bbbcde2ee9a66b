package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Commands      *prometheus.CounterVec
	Moves         prometheus.Counter
	ApplyDuration prometheus.Histogram
	Saves         *prometheus.CounterVec
	Subscribers   prometheus.Gauge
}

// NewMetrics registers session metrics on reg. A nil reg gives unregistered
// collectors, which tests use.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Commands: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gadgetgrid_commands_total",
				Help: "Commands handled by the session loop",
			},
			[]string{"kind", "result"},
		),
		Moves: f.NewCounter(prometheus.CounterOpts{
			Name: "gadgetgrid_agent_moves_total",
			Help: "Inputs that moved the agent through a gadget",
		}),
		ApplyDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "gadgetgrid_apply_duration_seconds",
			Help:    "Time to apply one command",
			Buckets: []float64{.00001, .00005, .0001, .0005, .001, .005, .01},
		}),
		Saves: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gadgetgrid_saves_total",
				Help: "Snapshot writes",
			},
			[]string{"reason", "result"},
		),
		Subscribers: f.NewGauge(prometheus.GaugeOpts{
			Name: "gadgetgrid_state_subscribers",
			Help: "Connections receiving state broadcasts",
		}),
	}
}
