package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Counts(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	c.SessionStarted("events")
	c.SessionStarted("events")
	c.EventMarked()
	c.ArtifactWritten(KindClip)
	c.ArtifactFailed(KindFrame)
	c.FramesStreamed(12)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.sessionsStarted.WithLabelValues("events")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.eventsMarked))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.artifactsWritten.WithLabelValues(KindClip)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.artifactsFailed.WithLabelValues(KindFrame)))
	assert.Equal(t, 12.0, testutil.ToFloat64(c.framesStreamed))
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector

	assert.NotPanics(t, func() {
		c.SessionStarted("labels")
		c.SessionFinalized("full", "ok")
		c.EventMarked()
		c.FramesStreamed(3)
		c.ArtifactWritten(KindClip)
		c.ArtifactFailed(KindClip)
		c.ObserveFinalize(time.Second)
		c.SetExtractionProgress(1, 2)
	})
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector(nil)
	c.SetExtractionProgress(3, 10)
	c.ObserveFinalize(2 * time.Second)

	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	body, _ := io.ReadAll(rr.Body)
	assert.True(t, strings.Contains(string(body), "review_extraction_units_total 10"))
	assert.True(t, strings.Contains(string(body), "review_finalize_duration_seconds_count 1"))
}
