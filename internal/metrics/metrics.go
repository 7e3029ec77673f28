package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ClicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracktg_clicks_total",
			Help: "Tracking-link hits by outcome",
		},
		[]string{"outcome"}, // allowed|quota_denied|funnel_missing|funnel_disabled|internal_error
	)

	ForwardsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracktg_forwards_total",
			Help: "Conversion forward attempts by terminal state",
		},
		[]string{"state"}, // sent|failed|suppressed|auth_rejected
	)

	EventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tracktg_events_dropped_total",
			Help: "Attribution events rejected by a full logging queue",
		},
	)

	EventsDeadLettered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tracktg_events_dead_lettered_total",
			Help: "Attribution events parked in the dead-letter list after retry exhaustion",
		},
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		ClicksTotal,
		ForwardsTotal,
		EventsDropped,
		EventsDeadLettered,
	)
}
