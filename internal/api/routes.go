package api

import (
	"net/http"
	"time"

	"github.com/droneai/review-agent/internal/session"
	"github.com/go-chi/chi/v5"
)

const Version = "0.3.0"

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(CORSAllowlist())

	r.Get("/health", healthHandler(cfg))
	r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Repository, cfg.Logger))

		r.Get("/status", statusHandler(cfg))

		r.Get("/sessions", listSessionsHandler(cfg))
		r.Post("/sessions", startSessionHandler(cfg))
		r.Post("/sessions/resume-file", resumeFileHandler(cfg))
		r.Get("/sessions/{id}", getSessionHandler(cfg))
		r.Post("/sessions/{id}/resume", resumeSessionHandler(cfg))
		r.Get("/sessions/{id}/report", reportHandler(cfg))
		r.Post("/sessions/{id}/export", exportReportHandler(cfg))

		r.Route("/session", func(r chi.Router) {
			r.Get("/", activeStatusHandler(cfg))
			r.Delete("/", abandonHandler(cfg))
			r.Post("/events", markEventHandler(cfg))
			r.Post("/undo", undoHandler(cfg))
			r.Post("/label", setLabelHandler(cfg))
			r.Post("/pause", pauseHandler(cfg))
			r.Post("/seek", seekHandler(cfg))
			r.Post("/finalize", finalizeHandler(cfg))

			r.Group(func(r chi.Router) {
				r.Use(LoopbackGuard())
				r.Get("/stream", streamHandler(cfg))
				r.Get("/preview", previewHandler(cfg))
			})
		})

		r.Get("/label-groups", listLabelGroupsHandler(cfg))
		r.Put("/label-groups/{name}", putLabelGroupHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:   "ok",
			Version:  Version,
			UptimeS:  uptime,
			DeviceID: cfg.DeviceID,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		sessions, _ := cfg.Repository.ListSessions(ctx, 50)

		state := "idle"
		lastError := ""
		var active *SessionResponse

		if a, err := cfg.Manager.Active(); err == nil {
			st := a.Status()
			switch {
			case st.Finalizing:
				state = "finalizing"
			case st.Paused:
				state = "paused"
			default:
				state = "reviewing"
			}
			if s, err := cfg.Repository.GetSession(ctx, a.ID()); err == nil && s != nil {
				resp := SessionToResponse(s)
				active = &resp
			}
		}

		for _, s := range sessions {
			if s.Status == session.StatusFailed && lastError == "" {
				lastError = s.Error
			}
		}

		if lastError != "" && state == "idle" {
			state = "error"
		}

		resp := StatusResponse{
			State:         state,
			LastError:     lastError,
			ActiveSession: active,
			Sessions:      len(sessions),
		}
		if cfg.Labels != nil {
			resp.LabelGroups = len(cfg.Labels.List())
		}

		if cfg.Doctor != nil {
			if caps := cfg.Doctor.Peek(); caps != nil {
				resp.Classifier = &ClassifierStatusResponse{
					Available:    caps.Available,
					ModelVersion: caps.ModelVersion,
					Labels:       caps.Labels,
					GPU:          caps.GPU,
					LastProbeAt:  caps.ProbedAt.Format(time.RFC3339),
				}
			}
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}
