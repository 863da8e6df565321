// Package metrics exposes Prometheus collectors for review sessions,
// playback streaming and artifact extraction.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Artifact kinds.
const (
	KindClip   = "clip"
	KindFrame  = "frame"
	KindReport = "report"
	KindUpload = "upload"
)

// Collector methods are safe to call on a nil receiver.
type Collector struct {
	sessionsStarted   *prometheus.CounterVec
	sessionsFinalized *prometheus.CounterVec
	eventsMarked      prometheus.Counter
	framesStreamed    prometheus.Counter
	artifactsWritten  *prometheus.CounterVec
	artifactsFailed   *prometheus.CounterVec
	finalizeDuration  prometheus.Histogram
	extractionDone    prometheus.Gauge
	extractionTotal   prometheus.Gauge

	gatherer prometheus.Gatherer
}

// NewCollector registers the collectors on reg. A nil reg uses a fresh
// registry, which keeps tests independent of the global default.
func NewCollector(reg *prometheus.Registry) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	c := &Collector{
		sessionsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "review_sessions_started_total",
			Help: "Review sessions started or resumed, by mode",
		}, []string{"mode"}),
		sessionsFinalized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "review_sessions_finalized_total",
			Help: "Review sessions finalized, by kind (partial or full) and outcome",
		}, []string{"kind", "outcome"}),
		eventsMarked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "review_events_marked_total",
			Help: "Discrete events marked by the operator",
		}),
		framesStreamed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "review_frames_streamed_total",
			Help: "Frames written to MJPEG stream clients",
		}),
		artifactsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "review_artifacts_written_total",
			Help: "Derived artifacts written, by kind",
		}, []string{"kind"}),
		artifactsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "review_artifacts_failed_total",
			Help: "Derived artifacts that failed to write, by kind",
		}, []string{"kind"}),
		finalizeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "review_finalize_duration_seconds",
			Help:    "Wall time of full finalize passes",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		extractionDone: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "review_extraction_units_done",
			Help: "Units of work completed by the running extraction",
		}),
		extractionTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "review_extraction_units_total",
			Help: "Units of work planned for the running extraction",
		}),
		gatherer: reg,
	}

	reg.MustRegister(
		c.sessionsStarted,
		c.sessionsFinalized,
		c.eventsMarked,
		c.framesStreamed,
		c.artifactsWritten,
		c.artifactsFailed,
		c.finalizeDuration,
		c.extractionDone,
		c.extractionTotal,
	)
	return c
}

func (c *Collector) SessionStarted(mode string) {
	if c == nil {
		return
	}
	c.sessionsStarted.WithLabelValues(mode).Inc()
}

func (c *Collector) SessionFinalized(kind, outcome string) {
	if c == nil {
		return
	}
	c.sessionsFinalized.WithLabelValues(kind, outcome).Inc()
}

func (c *Collector) EventMarked() {
	if c == nil {
		return
	}
	c.eventsMarked.Inc()
}

func (c *Collector) FramesStreamed(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.framesStreamed.Add(float64(n))
}

func (c *Collector) ArtifactWritten(kind string) {
	if c == nil {
		return
	}
	c.artifactsWritten.WithLabelValues(kind).Inc()
}

func (c *Collector) ArtifactFailed(kind string) {
	if c == nil {
		return
	}
	c.artifactsFailed.WithLabelValues(kind).Inc()
}

func (c *Collector) ObserveFinalize(d time.Duration) {
	if c == nil {
		return
	}
	c.finalizeDuration.Observe(d.Seconds())
}

func (c *Collector) SetExtractionProgress(done, total int64) {
	if c == nil {
		return
	}
	c.extractionDone.Set(float64(done))
	c.extractionTotal.Set(float64(total))
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
