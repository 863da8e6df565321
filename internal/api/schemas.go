package api

import (
	"time"

	"github.com/droneai/review-agent/internal/session"
	"github.com/droneai/review-agent/internal/store"
)

type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	UptimeS  int64  `json:"uptime_s"`
	DeviceID string `json:"device_id"`
}

type StatusResponse struct {
	State         string                    `json:"state"`
	LastError     string                    `json:"last_error,omitempty"`
	ActiveSession *SessionResponse          `json:"active_session,omitempty"`
	Sessions      int                       `json:"sessions"`
	LabelGroups   int                       `json:"label_groups"`
	Classifier    *ClassifierStatusResponse `json:"classifier,omitempty"`
}

type ClassifierStatusResponse struct {
	Available    bool     `json:"available"`
	ModelVersion string   `json:"model_version,omitempty"`
	Labels       []string `json:"labels,omitempty"`
	GPU          bool     `json:"gpu"`
	LastProbeAt  string   `json:"last_probe_at,omitempty"`
}

type LabelInput struct {
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

type StartSessionRequest struct {
	Source   string `json:"source"`
	Subject  string `json:"subject"`
	Scenario string `json:"scenario"`
	Mode     string `json:"mode,omitempty"`
	// LabelGroup names a saved group; Labels takes precedence when both are set.
	LabelGroup    string       `json:"label_group,omitempty"`
	Labels        []LabelInput `json:"labels,omitempty"`
	CaptureMode   string       `json:"capture_mode,omitempty"`
	CaptureRate   float64      `json:"capture_rate,omitempty"`
	WindowBeforeS *float64     `json:"window_before_s,omitempty"`
	WindowAfterS  *float64     `json:"window_after_s,omitempty"`
	DeleteSource  bool         `json:"delete_source,omitempty"`
	KeepMetadata  bool         `json:"keep_metadata,omitempty"`
	StartPaused   bool         `json:"start_paused,omitempty"`
	Force         bool         `json:"force,omitempty"`
}

type ResumeSessionRequest struct {
	Force       bool `json:"force,omitempty"`
	StartPaused bool `json:"start_paused,omitempty"`
}

type ResumeFileRequest struct {
	Path        string `json:"path"`
	Force       bool   `json:"force,omitempty"`
	StartPaused bool   `json:"start_paused,omitempty"`
}

type MarkEventRequest struct {
	Type string `json:"type"`
}

type SetLabelRequest struct {
	Label string `json:"label"`
}

type PauseRequest struct {
	// Paused sets the state explicitly; omitted toggles it.
	Paused *bool `json:"paused,omitempty"`
}

type PauseResponse struct {
	Paused bool `json:"paused"`
}

type SeekRequest struct {
	DeltaS float64 `json:"delta_s"`
}

type FinalizeRequest struct {
	Partial bool `json:"partial"`
}

type FinalizeAcceptedResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

type EventResponse struct {
	Index int     `json:"index"`
	Type  string  `json:"type"`
	Time  float64 `json:"time"`
}

type UndoResponse struct {
	Removed *EventResponse `json:"removed,omitempty"`
}

type ChunkResponse struct {
	StartFrame int    `json:"start_frame"`
	EndFrame   int    `json:"end_frame"`
	Label      string `json:"label"`
}

type SessionResponse struct {
	ID          string          `json:"id"`
	Subject     string          `json:"subject"`
	Scenario    string          `json:"scenario"`
	Source      string          `json:"source"`
	VideoPath   string          `json:"video_path,omitempty"`
	Mode        string          `json:"mode"`
	Status      string          `json:"status"`
	LastFrame   int             `json:"last_frame"`
	PositionS   float64         `json:"position_s"`
	ActiveLabel string          `json:"active_label,omitempty"`
	Labels      []LabelInput    `json:"labels,omitempty"`
	Events      []EventResponse `json:"events,omitempty"`
	Chunks      []ChunkResponse `json:"chunks,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   string          `json:"created_at"`
	UpdatedAt   string          `json:"updated_at"`
}

type SessionsResponse struct {
	Sessions []SessionResponse `json:"sessions"`
}

type ReportResponse struct {
	SessionID string              `json:"session_id"`
	Rows      []session.ReportRow `json:"rows"`
}

type ExportReportRequest struct {
	Format    string `json:"format"`
	OutputDir string `json:"output_dir"`
	Name      string `json:"name,omitempty"`
}

type ExportReportResponse struct {
	Status     string `json:"status"`
	Format     string `json:"format"`
	OutputPath string `json:"output_path"`
	RowCount   int    `json:"row_count"`
}

type LabelGroupResponse struct {
	Name   string       `json:"name"`
	Labels []LabelInput `json:"labels"`
}

type LabelGroupsResponse struct {
	Groups []LabelGroupResponse `json:"groups"`
}

type PutLabelGroupRequest struct {
	Labels []LabelInput `json:"labels"`
}

type InferenceResponse struct {
	EventCount   int     `json:"event_count"`
	EventsPerMin float64 `json:"events_per_min"`
	ModelWeights string  `json:"model_weights,omitempty"`
	Confidence   float64 `json:"confidence"`
	CreatedAt    string  `json:"created_at"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func SessionToResponse(s *session.Session) SessionResponse {
	resp := SessionResponse{
		ID:          s.ID,
		Subject:     s.Key.Subject,
		Scenario:    s.Key.Scenario,
		Source:      s.Key.SourceRef,
		VideoPath:   s.VideoPath,
		Mode:        string(s.Mode),
		Status:      string(s.Status),
		LastFrame:   s.LastFrame,
		PositionS:   s.Position,
		ActiveLabel: s.ActiveLabel,
		Labels:      LabelsToResponse(s.Labels),
		Error:       s.Error,
		CreatedAt:   s.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   s.UpdatedAt.Format(time.RFC3339),
	}
	for _, e := range s.Events {
		resp.Events = append(resp.Events, EventToResponse(e))
	}
	for _, c := range s.Chunks {
		resp.Chunks = append(resp.Chunks, ChunkResponse{StartFrame: c.Start, EndFrame: c.End, Label: c.Label})
	}
	return resp
}

func EventToResponse(e session.Event) EventResponse {
	return EventResponse{Index: e.Index, Type: e.Type, Time: e.Time}
}

func LabelsToResponse(labels []session.Label) []LabelInput {
	out := make([]LabelInput, len(labels))
	for i, l := range labels {
		out[i] = LabelInput{Name: l.Name, Color: l.Color}
	}
	return out
}

func LabelsFromRequest(in []LabelInput) []session.Label {
	out := make([]session.Label, len(in))
	for i, l := range in {
		out[i] = session.Label{Name: l.Name, Color: l.Color}
	}
	return out
}

func InferenceToResponse(inf *store.Inference) InferenceResponse {
	return InferenceResponse{
		EventCount:   inf.EventCount,
		EventsPerMin: inf.EventsPerMin,
		ModelWeights: inf.ModelWeights,
		Confidence:   inf.Confidence,
		CreatedAt:    inf.CreatedAt.Format(time.RFC3339),
	}
}
