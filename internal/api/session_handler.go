package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/droneai/review-agent/internal/acquire"
	"github.com/droneai/review-agent/internal/logging"
	"github.com/droneai/review-agent/internal/playback"
	"github.com/droneai/review-agent/internal/review"
	"github.com/droneai/review-agent/internal/session"
	"github.com/droneai/review-agent/internal/store"
	"github.com/go-chi/chi/v5"
)

const defaultPreviewSeconds = 10

// writeReviewError maps review and store errors onto HTTP statuses.
func writeReviewError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, review.ErrSessionActive),
		errors.Is(err, review.ErrAlreadyRunning),
		errors.Is(err, review.ErrFinalizing):
		WriteError(w, http.StatusConflict, err.Error(), "CONFLICT")
	case errors.Is(err, review.ErrNoActiveSession):
		WriteError(w, http.StatusNotFound, err.Error(), "NO_ACTIVE_SESSION")
	case errors.Is(err, store.ErrNotFound):
		WriteError(w, http.StatusNotFound, err.Error(), "NOT_FOUND")
	case errors.Is(err, review.ErrSessionTerminal),
		errors.Is(err, review.ErrSessionClosed),
		errors.Is(err, review.ErrNoSnapshot),
		errors.Is(err, review.ErrUnsupported):
		WriteError(w, http.StatusUnprocessableEntity, err.Error(), "INVALID_STATE")
	case errors.Is(err, acquire.ErrAcquisition):
		WriteError(w, http.StatusUnprocessableEntity, err.Error(), "ACQUISITION_FAILED")
	case errors.Is(err, review.ErrInvalidRequest),
		errors.Is(err, review.ErrUnknownLabel):
		WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
	default:
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
		return false
	}
	return true
}

// activeOr404 writes the error response and returns nil when no session is
// active.
func activeOr404(w http.ResponseWriter, cfg ServerConfig) *review.Active {
	a, err := cfg.Manager.Active()
	if err != nil {
		writeReviewError(w, err)
		return nil
	}
	return a
}

func startSessionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req StartSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		start, err := buildStartRequest(cfg, req)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		a, err := cfg.Manager.Start(r.Context(), start)
		if err != nil {
			writeReviewError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, a.Status())
	}
}

func buildStartRequest(cfg ServerConfig, req StartSessionRequest) (review.StartRequest, error) {
	mode, err := session.ParseMode(req.Mode)
	if err != nil {
		return review.StartRequest{}, err
	}

	start := review.StartRequest{
		SourceRef:    req.Source,
		Subject:      req.Subject,
		Scenario:     req.Scenario,
		Mode:         mode,
		DeleteSource: req.DeleteSource,
		KeepMetadata: req.KeepMetadata,
		StartPaused:  req.StartPaused,
		Force:        req.Force,
	}

	switch {
	case len(req.Labels) > 0:
		start.Labels = LabelsFromRequest(req.Labels)
	case req.LabelGroup != "":
		if cfg.Labels == nil {
			return start, errors.New("label groups are not configured")
		}
		g, ok := cfg.Labels.Get(req.LabelGroup)
		if !ok {
			return start, errors.New("unknown label group " + req.LabelGroup)
		}
		start.Labels = append([]session.Label{}, g.Labels...)
	}

	if req.CaptureMode != "" {
		capture, err := session.ParseCapture(req.CaptureMode, req.CaptureRate)
		if err != nil {
			return start, err
		}
		start.Capture = &capture
	}

	if req.WindowBeforeS != nil || req.WindowAfterS != nil {
		window, _ := cfg.Manager.Defaults()
		if req.WindowBeforeS != nil {
			if *req.WindowBeforeS < 0 {
				return start, errors.New("window_before_s must not be negative")
			}
			window.Before = seconds(*req.WindowBeforeS)
		}
		if req.WindowAfterS != nil {
			if *req.WindowAfterS < 0 {
				return start, errors.New("window_after_s must not be negative")
			}
			window.After = seconds(*req.WindowAfterS)
		}
		start.Window = &window
	}
	return start, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func listSessionsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessions, err := cfg.Repository.ListSessions(r.Context(), 100)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list sessions", "INTERNAL_ERROR")
			return
		}

		resp := SessionsResponse{Sessions: make([]SessionResponse, len(sessions))}
		for i, s := range sessions {
			resp.Sessions[i] = SessionToResponse(s)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getSessionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		s, err := cfg.Repository.GetSession(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if s == nil {
			WriteError(w, http.StatusNotFound, "session not found", "NOT_FOUND")
			return
		}

		WriteJSON(w, http.StatusOK, SessionToResponse(s))
	}
}

func resumeSessionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ResumeSessionRequest
		if !decodeBody(w, r, &req) {
			return
		}

		a, err := cfg.Manager.Resume(r.Context(), chi.URLParam(r, "id"), review.ResumeRequest{
			Force:       req.Force,
			StartPaused: req.StartPaused,
		})
		if err != nil {
			writeReviewError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, a.Status())
	}
}

func resumeFileHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ResumeFileRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if strings.TrimSpace(req.Path) == "" {
			WriteError(w, http.StatusBadRequest, "path is required", "BAD_REQUEST")
			return
		}

		a, err := cfg.Manager.ResumeFile(r.Context(), req.Path, review.ResumeRequest{
			Force:       req.Force,
			StartPaused: req.StartPaused,
		})
		if err != nil {
			writeReviewError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, a.Status())
	}
}

func activeStatusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a := activeOr404(w, cfg)
		if a == nil {
			return
		}
		WriteJSON(w, http.StatusOK, a.Status())
	}
}

func abandonHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Manager.Abandon(r.Context()); err != nil {
			writeReviewError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func markEventHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a := activeOr404(w, cfg)
		if a == nil {
			return
		}
		var req MarkEventRequest
		if !decodeBody(w, r, &req) {
			return
		}

		ev, err := a.MarkEvent(r.Context(), req.Type)
		if err != nil {
			writeReviewError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, EventToResponse(ev))
	}
}

func undoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a := activeOr404(w, cfg)
		if a == nil {
			return
		}

		ev, ok, err := a.Undo(r.Context())
		if err != nil {
			writeReviewError(w, err)
			return
		}
		var resp UndoResponse
		if ok {
			removed := EventToResponse(ev)
			resp.Removed = &removed
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func setLabelHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a := activeOr404(w, cfg)
		if a == nil {
			return
		}
		var req SetLabelRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		if err := a.SetActiveLabel(r.Context(), req.Label); err != nil {
			writeReviewError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, a.Status())
	}
}

func pauseHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a := activeOr404(w, cfg)
		if a == nil {
			return
		}
		var req PauseRequest
		if !decodeBody(w, r, &req) {
			return
		}

		var paused bool
		var err error
		if req.Paused != nil {
			paused = *req.Paused
			err = a.SetPaused(r.Context(), paused)
		} else {
			paused, err = a.TogglePause(r.Context())
		}
		if err != nil {
			writeReviewError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, PauseResponse{Paused: paused})
	}
}

func seekHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a := activeOr404(w, cfg)
		if a == nil {
			return
		}
		var req SeekRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		if err := a.RequestSeek(r.Context(), req.DeltaS); err != nil {
			writeReviewError(w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func finalizeHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a := activeOr404(w, cfg)
		if a == nil {
			return
		}
		var req FinalizeRequest
		if !decodeBody(w, r, &req) {
			return
		}

		if req.Partial {
			res, err := a.Finalize(r.Context(), review.Partial)
			if err != nil {
				writeReviewError(w, err)
				return
			}
			WriteJSON(w, http.StatusOK, res)
			return
		}

		if a.Status().Finalizing {
			writeReviewError(w, review.ErrFinalizing)
			return
		}

		// The extraction pass outlives the request.
		logger := logging.WithSessionID(cfg.Logger, a.ID())
		go func() {
			if _, err := a.Finalize(context.Background(), review.Full); err != nil {
				logger.Error("finalize failed", "error", err)
			}
		}()
		WriteJSON(w, http.StatusAccepted, FinalizeAcceptedResponse{SessionID: a.ID(), Status: "finalizing"})
	}
}

func streamHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a := activeOr404(w, cfg)
		if a == nil {
			return
		}

		sent, err := playback.WriteMJPEG(w, r, cfg.JPEGQuality, a.Frames())
		cfg.Metrics.FramesStreamed(sent)
		if err != nil {
			cfg.Logger.Debug("stream ended", "error", err, "frames", sent)
		}
	}
}

// previewHandler streams the first seconds of the active video from a
// separate decoder, without touching the review timeline.
func previewHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a := activeOr404(w, cfg)
		if a == nil {
			return
		}
		if cfg.FFmpeg == nil {
			WriteError(w, http.StatusServiceUnavailable, "preview decoder not configured", "UNAVAILABLE")
			return
		}

		src, err := cfg.FFmpeg.Open(r.Context(), a.VideoPath())
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		defer src.Close()

		secs := cfg.PreviewSeconds
		if secs <= 0 {
			secs = defaultPreviewSeconds
		}
		maxFrames := int(secs * src.Info().FPS)
		if maxFrames < 1 {
			maxFrames = 1
		}

		sent, err := playback.WriteMJPEG(w, r, cfg.JPEGQuality, playback.PreviewFrames(src, maxFrames))
		cfg.Metrics.FramesStreamed(sent)
		if err != nil {
			cfg.Logger.Debug("preview ended", "error", err, "frames", sent)
		}
	}
}
