package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/droneai/review-agent/internal/export"
	"github.com/droneai/review-agent/internal/metrics"
	"github.com/droneai/review-agent/internal/session"
	"github.com/go-chi/chi/v5"
)

const defaultFrameRate = 30.0

// loadReport returns the session and its stored rows, writing the error
// response itself when either is unavailable.
func loadReport(w http.ResponseWriter, r *http.Request, cfg ServerConfig) (*session.Session, []session.ReportRow, bool) {
	id := chi.URLParam(r, "id")

	s, err := cfg.Repository.GetSession(r.Context(), id)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
		return nil, nil, false
	}
	if s == nil {
		WriteError(w, http.StatusNotFound, "session not found", "NOT_FOUND")
		return nil, nil, false
	}
	if !s.Mode.Discrete() {
		WriteError(w, http.StatusUnprocessableEntity, "labels sessions have no event report", "INVALID_STATE")
		return nil, nil, false
	}
	if s.Status != session.StatusFinal {
		WriteError(w, http.StatusUnprocessableEntity, "session has not been finalized", "INVALID_STATE")
		return nil, nil, false
	}

	rows, err := cfg.Repository.ListReport(r.Context(), s.ID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to load report", "INTERNAL_ERROR")
		return nil, nil, false
	}
	return s, rows, true
}

// frameRate probes the reviewed video for EDL timecodes. A missing source
// falls back to 30 fps.
func frameRate(ctx context.Context, cfg ServerConfig, s *session.Session) float64 {
	if cfg.FFmpeg == nil || s.VideoPath == "" {
		return defaultFrameRate
	}
	info, err := cfg.FFmpeg.Probe(ctx, s.VideoPath)
	if err != nil || info.FPS <= 0 {
		return defaultFrameRate
	}
	return info.FPS
}

func reportTitle(s *session.Session) string {
	t := strings.TrimSpace(s.Key.Subject + " " + s.Key.Scenario)
	if t == "" {
		return s.ID
	}
	return t
}

func renderReport(ctx context.Context, cfg ServerConfig, format export.Format, s *session.Session, rows []session.ReportRow) func(io.Writer) error {
	return func(w io.Writer) error {
		switch format {
		case export.FormatCSV:
			return export.WriteCSV(w, rows)
		case export.FormatEDL:
			_, err := io.WriteString(w, export.GenerateEDL(rows, reportTitle(s), s.VideoPath, frameRate(ctx, cfg, s)))
			return err
		default:
			return json.NewEncoder(w).Encode(ReportResponse{SessionID: s.ID, Rows: rows})
		}
	}
}

func reportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		format, err := export.ParseFormat(r.URL.Query().Get("format"))
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		s, rows, ok := loadReport(w, r, cfg)
		if !ok {
			return
		}
		if rows == nil {
			rows = []session.ReportRow{}
		}

		w.Header().Set("Content-Type", format.ContentType())
		w.WriteHeader(http.StatusOK)
		if err := renderReport(r.Context(), cfg, format, s, rows)(w); err != nil {
			cfg.Logger.Error("report write failed", "error", err, "session_id", s.ID)
		}
	}
}

func exportReportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ExportReportRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		format, err := export.ParseFormat(req.Format)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}
		if err := export.ValidateOutputDir(req.OutputDir); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		s, rows, ok := loadReport(w, r, cfg)
		if !ok {
			return
		}
		if len(rows) == 0 {
			WriteError(w, http.StatusUnprocessableEntity, "report has no rows", "EMPTY_REPORT")
			return
		}

		name := export.SanitizeName(req.Name, 120)
		if name == "" {
			name = export.SafeName(reportTitle(s), "report")
		}
		name += "." + string(format)

		path, err := export.WriteFile(req.OutputDir, name, renderReport(r.Context(), cfg, format, s, rows))
		if err != nil {
			cfg.Metrics.ArtifactFailed(metrics.KindReport)
			WriteError(w, http.StatusInternalServerError, "failed to write export file", "INTERNAL_ERROR")
			return
		}
		cfg.Metrics.ArtifactWritten(metrics.KindReport)

		WriteJSON(w, http.StatusOK, ExportReportResponse{
			Status:     "ok",
			Format:     string(format),
			OutputPath: path,
			RowCount:   len(rows),
		})
	}
}
