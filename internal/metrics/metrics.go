package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	linesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "authwatch",
			Name:      "lines_total",
			Help:      "Raw log lines processed, partitioned by ingest source.",
		},
		[]string{"source"},
	)

	extractionFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "authwatch",
			Name:      "extraction_failures_total",
			Help:      "Lines skipped because nothing could be extracted from them.",
		},
	)

	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "authwatch",
			Name:      "events_total",
			Help:      "Extracted login lines, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	droppedLinesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "authwatch",
			Name:      "dropped_lines_total",
			Help:      "Lines dropped because the ingest queue was full.",
		},
		[]string{"source"},
	)

	incidentsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "authwatch",
			Name:      "incidents_total",
			Help:      "Brute-force incidents reported for the first time.",
		},
	)

	evaluationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "authwatch",
			Name:      "evaluation_seconds",
			Help:      "Time spent running detection over a snapshot.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)
)

// Register attaches authwatch collectors to reg. Collectors that are already
// registered are skipped.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		linesTotal,
		extractionFailuresTotal,
		eventsTotal,
		droppedLinesTotal,
		incidentsTotal,
		evaluationSeconds,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

func ObserveLine(source string) {
	if source == "" {
		source = "unknown"
	}
	linesTotal.WithLabelValues(source).Inc()
}

func ObserveExtractionFailure() {
	extractionFailuresTotal.Inc()
}

func ObserveEvent(outcome string) {
	eventsTotal.WithLabelValues(outcome).Inc()
}

func ObserveDropped(source string) {
	droppedLinesTotal.WithLabelValues(source).Inc()
}

func ObserveIncidents(n int) {
	if n > 0 {
		incidentsTotal.Add(float64(n))
	}
}

func ObserveEvaluation(duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	evaluationSeconds.Observe(duration.Seconds())
}
