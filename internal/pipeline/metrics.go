package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	framesSubmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pathsense_frames_submitted_total",
			Help: "Total number of frames offered to the runner",
		},
	)

	framesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pathsense_frames_dropped_total",
			Help: "Frames dropped because an analysis was already in flight",
		},
	)

	framesAnalyzed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pathsense_frames_analyzed_total",
			Help: "Frames that produced a directive",
		},
	)

	framesFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pathsense_frames_failed_total",
			Help: "Frames that produced no directive",
		},
		[]string{"reason"}, // segmentation, depth, degenerate_depth, input, config, other
	)

	analysisDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pathsense_analysis_duration_seconds",
			Help:    "Wall time of one frame analysis",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	directivesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pathsense_directives_total",
			Help: "Directives emitted by kind",
		},
		[]string{"kind"},
	)
)
