package review

import (
	"github.com/droneai/review-agent/internal/extract"
	"github.com/droneai/review-agent/internal/session"
)

// Verification compares the operator's marks with the stored model
// prediction for the same video.
type Verification struct {
	Predicted       int     `json:"predicted"`
	PredictedPerMin float64 `json:"predicted_per_min"`
	Verified        int     `json:"verified"`
	VerifiedPerMin  float64 `json:"verified_per_min"`
	ModelWeights    string  `json:"model_weights,omitempty"`
}

type Status struct {
	SessionID   string         `json:"session_id"`
	Mode        session.Mode   `json:"mode"`
	Status      session.Status `json:"status"`
	Subject     string         `json:"subject"`
	Scenario    string         `json:"scenario"`
	VideoPath   string         `json:"video_path"`
	Position    float64        `json:"position"`
	Duration    float64        `json:"duration"`
	Paused      bool           `json:"paused"`
	Frame       int            `json:"frame"`
	TotalFrames int            `json:"total_frames"`
	// Progress is the playback position as a percentage of the video.
	Progress      float64                  `json:"progress"`
	Ended         bool                     `json:"ended"`
	EndReason     string                   `json:"end_reason,omitempty"`
	Finalizing    bool                     `json:"finalizing"`
	ActiveLabel   string                   `json:"active_label,omitempty"`
	Labels        []session.Label          `json:"labels"`
	Events        int                      `json:"events"`
	Chunks        int                      `json:"chunks"`
	LabeledFrames int                      `json:"labeled_frames"`
	Extraction    extract.ProgressSnapshot `json:"extraction"`
	Verification  *Verification            `json:"verification,omitempty"`
}

// Status reads the last applied state without waiting for the playback loop.
func (a *Active) Status() Status {
	clock := a.clock.State()

	a.mu.Lock()
	st := Status{
		SessionID:     a.sess.ID,
		Mode:          a.sess.Mode,
		Status:        a.sess.Status,
		Subject:       a.sess.Key.Subject,
		Scenario:      a.sess.Key.Scenario,
		VideoPath:     a.sess.VideoPath,
		Position:      clock.Position,
		Duration:      clock.Duration,
		Paused:        clock.Paused,
		Frame:         a.sess.LastFrame,
		TotalFrames:   a.info.FrameCount,
		EndReason:     string(a.endReason),
		Finalizing:    a.state == stateFinalizing,
		ActiveLabel:   a.tracker.Active(),
		Labels:        append([]session.Label{}, a.sess.Labels...),
		Events:        a.rec.Len(),
		Chunks:        len(a.tracker.Chunks()),
		LabeledFrames: a.tracker.TotalFrames(),
	}
	inf := a.inference
	a.mu.Unlock()

	if st.Duration == 0 {
		st.Duration = a.info.Duration()
	}
	select {
	case <-a.ctrl.Done():
		st.Ended = true
	default:
	}
	if st.TotalFrames > 1 {
		st.Progress = 100 * float64(st.Frame) / float64(st.TotalFrames-1)
	}
	if st.Finalizing {
		st.Extraction = a.m.opts.Extractor.Progress()
	}

	if a.sess.Mode == session.ModeVerify {
		v := &Verification{Verified: st.Events}
		if st.Duration > 0 {
			v.VerifiedPerMin = float64(st.Events) / (st.Duration / 60)
		}
		if inf != nil {
			v.Predicted = inf.EventCount
			v.PredictedPerMin = inf.EventsPerMin
			v.ModelWeights = inf.ModelWeights
		}
		st.Verification = v
	}
	return st
}
