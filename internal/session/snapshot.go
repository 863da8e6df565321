package session

import (
	"encoding/json"
	"fmt"
)

// Snapshot is the reconstructable state of a session. It carries no wall-clock
// timestamps so saving an unchanged session twice yields identical bytes.
type Snapshot struct {
	SessionID    string        `json:"session_id"`
	Key          Key           `json:"key"`
	VideoID      string        `json:"video_id,omitempty"`
	VideoPath    string        `json:"video_path"`
	Mode         Mode          `json:"mode"`
	Labels       []Label       `json:"labels"`
	Capture      CaptureConfig `json:"capture"`
	Window       Window        `json:"window"`
	DeleteSource bool          `json:"delete_source"`
	KeepMetadata bool          `json:"keep_metadata"`
	ActiveLabel  string        `json:"active_label"`
	LastFrame    int           `json:"last_frame"`
	Position     float64       `json:"position"`
	Events       []Event       `json:"events"`
	Chunks       []LabelChunk  `json:"chunks"`
}

func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		SessionID:    s.ID,
		Key:          s.Key,
		VideoID:      s.VideoID,
		VideoPath:    s.VideoPath,
		Mode:         s.Mode,
		Labels:       append([]Label{}, s.Labels...),
		Capture:      s.Capture,
		Window:       s.Window,
		DeleteSource: s.DeleteSource,
		KeepMetadata: s.KeepMetadata,
		ActiveLabel:  s.ActiveLabel,
		LastFrame:    s.LastFrame,
		Position:     s.Position,
		Events:       append([]Event{}, s.Events...),
		Chunks:       append([]LabelChunk{}, s.Chunks...),
	}
	return snap
}

// Restore rebuilds a session from a snapshot. Timestamps and status are left
// for the caller to fill in.
func (snap Snapshot) Restore() *Session {
	return &Session{
		ID:           snap.SessionID,
		Key:          snap.Key,
		VideoID:      snap.VideoID,
		VideoPath:    snap.VideoPath,
		Mode:         snap.Mode,
		Labels:       append([]Label{}, snap.Labels...),
		Capture:      snap.Capture,
		Window:       snap.Window,
		DeleteSource: snap.DeleteSource,
		KeepMetadata: snap.KeepMetadata,
		ActiveLabel:  snap.ActiveLabel,
		LastFrame:    snap.LastFrame,
		Position:     snap.Position,
		Events:       append([]Event{}, snap.Events...),
		Chunks:       append([]LabelChunk{}, snap.Chunks...),
	}
}

func (snap Snapshot) Marshal() ([]byte, error) {
	return json.Marshal(snap)
}

func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.SessionID == "" {
		return nil, fmt.Errorf("decode snapshot: missing session_id")
	}
	return &snap, nil
}
