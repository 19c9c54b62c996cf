// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Utterances = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lcarsvoice_utterances_total",
			Help: "Final recognizer results received by the command loop",
		},
	)

	CommandsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lcarsvoice_commands_dispatched_total",
			Help: "Voice actions triggered, by kind",
		},
		[]string{"kind"},
	)

	SpeakCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lcarsvoice_speak_total",
			Help: "Text-to-speech invocations, by result",
		},
		[]string{"result"},
	)

	CalendarSyncs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lcarsvoice_calendar_syncs_total",
			Help: "Calendar sync attempts, by source kind and result",
		},
		[]string{"kind", "result"},
	)

	LastCalendarSync = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lcarsvoice_calendar_last_success_timestamp_seconds",
			Help: "Unix time of the last successful calendar sync",
		},
	)
)

// Result maps an error to the "result" label value.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordCalendarSync counts a sync attempt and stamps LastCalendarSync on
// success.
func RecordCalendarSync(kind string, err error) {
	CalendarSyncs.WithLabelValues(kind, Result(err)).Inc()
	if err == nil {
		LastCalendarSync.SetToCurrentTime()
	}
}
