package api

import (
	"context"
	"encoding/csv"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/droneai/review-agent/internal/session"
)

// seedFinal stores a finalized session with two report rows.
func seedFinal(t *testing.T, h *apiHarness, mode session.Mode, status session.Status) string {
	t.Helper()
	ctx := context.Background()
	key := session.Key{Subject: "alice", Scenario: "highway", SourceRef: h.video}

	video, err := h.repo.GetOrCreateVideo(ctx, key)
	require.NoError(t, err)

	s := &session.Session{
		ID:        session.NewID(),
		Key:       key,
		VideoID:   video.ID,
		VideoPath: h.video,
		Mode:      mode,
		Status:    status,
	}
	require.NoError(t, h.repo.UpsertSession(ctx, s))
	require.NoError(t, h.repo.ReplaceReport(ctx, s.ID, []session.ReportRow{
		{Index: 1, Type: "crash", Time: 10, StartFrame: 270, EndFrame: 330, StartSec: 9, EndSec: 11, ClipFile: "crash_01.mp4"},
		{Index: 2, Type: "near miss", Time: 20, StartFrame: 570, EndFrame: 630, StartSec: 19, EndSec: 21, Error: "encoder exited"},
	}))
	return s.ID
}

func TestReport_Formats(t *testing.T) {
	h := newAPIHarness(t, nil)
	id := seedFinal(t, h, session.ModeEvents, session.StatusFinal)

	rr := h.do(http.MethodGet, "/sessions/"+id+"/report", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Body.String(), `"clip_file":"crash_01.mp4"`)

	rr = h.do(http.MethodGet, "/sessions/"+id+"/report?format=csv", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.HasPrefix(rr.Header().Get("Content-Type"), "text/csv"))
	records, err := csv.NewReader(rr.Body).ReadAll()
	require.NoError(t, err)
	assert.Len(t, records, 3, "header plus two rows")

	rr = h.do(http.MethodGet, "/sessions/"+id+"/report?format=edl", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	edl := rr.Body.String()
	assert.Contains(t, edl, "TITLE: alice highway")
	assert.Contains(t, edl, "00:00:09:00 00:00:11:00")
	assert.NotContains(t, edl, "near miss #2", "failed clips are left out of the EDL")

	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/sessions/"+id+"/report?format=xml", nil).Code)
}

func TestReport_Rejections(t *testing.T) {
	h := newAPIHarness(t, nil)
	paused := seedFinal(t, h, session.ModeEvents, session.StatusPaused)
	labeled := seedFinal(t, h, session.ModeLabels, session.StatusFinal)

	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/sessions/missing/report", nil).Code)
	assert.Equal(t, http.StatusUnprocessableEntity, h.do(http.MethodGet, "/sessions/"+paused+"/report", nil).Code)
	assert.Equal(t, http.StatusUnprocessableEntity, h.do(http.MethodGet, "/sessions/"+labeled+"/report", nil).Code)
}

func TestExportReport_WritesFile(t *testing.T) {
	h := newAPIHarness(t, nil)
	id := seedFinal(t, h, session.ModeEvents, session.StatusFinal)
	out := t.TempDir()

	rr := h.do(http.MethodPost, "/sessions/"+id+"/export", ExportReportRequest{Format: "edl", OutputDir: out})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	body := decodeJSONBody(t, rr)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(2), body["row_count"])
	path := body["output_path"].(string)
	assert.Equal(t, filepath.Join(out, "alice_highway.edl"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "FCM: NON-DROP FRAME")
}

func TestExportReport_CustomName(t *testing.T) {
	h := newAPIHarness(t, nil)
	id := seedFinal(t, h, session.ModeEvents, session.StatusFinal)
	out := t.TempDir()

	rr := h.do(http.MethodPost, "/sessions/"+id+"/export", ExportReportRequest{Format: "csv", OutputDir: out, Name: "run/1"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	_, err := os.Stat(filepath.Join(out, "run_1.csv"))
	assert.NoError(t, err)
}

func TestExportReport_Validation(t *testing.T) {
	h := newAPIHarness(t, nil)
	id := seedFinal(t, h, session.ModeEvents, session.StatusFinal)
	out := t.TempDir()

	tests := []struct {
		name string
		req  ExportReportRequest
		want int
	}{
		{"bad format", ExportReportRequest{Format: "xml", OutputDir: out}, http.StatusBadRequest},
		{"missing dir", ExportReportRequest{Format: "csv", OutputDir: filepath.Join(out, "nope")}, http.StatusBadRequest},
		{"traversal", ExportReportRequest{Format: "csv", OutputDir: "/tmp/../etc"}, http.StatusBadRequest},
		{"empty dir", ExportReportRequest{Format: "csv"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := h.do(http.MethodPost, "/sessions/"+id+"/export", tt.req)
			assert.Equal(t, tt.want, rr.Code, rr.Body.String())
		})
	}

	rr := h.do(http.MethodPost, "/sessions/missing/export", ExportReportRequest{Format: "csv", OutputDir: out})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestExportReport_PreflightAllowsPost(t *testing.T) {
	h := newAPIHarness(t, nil)

	req := newPreflight("/sessions/x/export", "http://localhost:3000")
	rr := serve(h, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Contains(t, rr.Header().Get("Access-Control-Allow-Methods"), "POST")
}
