package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "calliope_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "calliope_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// Turn metrics
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "calliope_turns_total",
			Help: "Conversation turns by modality and outcome",
		},
		[]string{"modality", "outcome"}, // modality "text"/"audio", outcome "ok"/"error"
	)

	TurnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "calliope_turn_duration_seconds",
			Help:    "End-to-end turn duration including model calls",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"modality"},
	)

	UsersRegistered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "calliope_users_registered_total",
			Help: "Total users registered",
		},
	)

	AudioUploads = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "calliope_audio_uploads_total",
			Help: "Total accepted audio uploads",
		},
	)
)
