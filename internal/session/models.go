// Package session holds the review session data model and the pure
// bookkeeping that turns operator marks into events and frame-range chunks.
package session

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Mode string

const (
	// ModeEvents marks discrete events and produces one clip per event.
	ModeEvents Mode = "events"
	// ModeLabels paints continuous label intervals and samples frames per label.
	ModeLabels Mode = "labels"
	// ModeVerify counts discrete marks with undo, compared against a model prediction.
	ModeVerify Mode = "verify"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeEvents, ModeLabels, ModeVerify:
		return m, nil
	case "":
		return ModeEvents, nil
	default:
		return "", fmt.Errorf("unknown review mode %q", s)
	}
}

// Discrete reports whether the mode records events rather than label chunks.
func (m Mode) Discrete() bool {
	return m == ModeEvents || m == ModeVerify
}

type Status string

const (
	StatusRunning Status = "running"
	StatusPaused  Status = "paused"
	StatusFinal   Status = "final"
	StatusFailed  Status = "failed"
)

func (s Status) Terminal() bool {
	return s == StatusFinal || s == StatusFailed
}

type Event struct {
	Index int     `json:"index"`
	Type  string  `json:"type"`
	Time  float64 `json:"time"`
}

// LabelChunk is an inclusive frame range tagged with one label.
type LabelChunk struct {
	Start int    `json:"start_frame"`
	End   int    `json:"end_frame"`
	Label string `json:"label"`
}

func (c LabelChunk) Len() int {
	return c.End - c.Start + 1
}

func (c LabelChunk) Contains(frame int) bool {
	return frame >= c.Start && frame <= c.End
}

type Label struct {
	Name  string `json:"name" yaml:"name"`
	Color string `json:"color" yaml:"color"`
}

// Key is the natural key of a reviewed video.
type Key struct {
	Subject   string `json:"subject"`
	Scenario  string `json:"scenario"`
	SourceRef string `json:"source_ref"`
}

// Window is the clip span taken around each discrete event.
type Window struct {
	Before time.Duration `json:"before"`
	After  time.Duration `json:"after"`
}

func DefaultWindow() Window {
	return Window{Before: 2 * time.Second, After: 3 * time.Second}
}

// Frames converts the window to frame counts at fps.
func (w Window) Frames(fps float64) (before, after int) {
	before = int(math.Round(w.Before.Seconds() * fps))
	after = int(math.Round(w.After.Seconds() * fps))
	if before < 0 {
		before = 0
	}
	if after < 0 {
		after = 0
	}
	return before, after
}

type Session struct {
	ID           string
	Key          Key
	VideoID      string
	VideoPath    string
	Mode         Mode
	Status       Status
	Labels       []Label
	Capture      CaptureConfig
	Window       Window
	DeleteSource bool
	KeepMetadata bool
	ActiveLabel  string
	LastFrame    int
	Position     float64
	Events       []Event
	Chunks       []LabelChunk
	Error        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func NewID() string {
	return uuid.NewString()
}

func (s *Session) LabelColor(name string) string {
	for _, l := range s.Labels {
		if l.Name == name {
			return l.Color
		}
	}
	return ""
}

func (s *Session) HasLabel(name string) bool {
	for _, l := range s.Labels {
		if l.Name == name {
			return true
		}
	}
	return false
}

// ReportRow is one exported line per discrete event produced by a full finalize.
type ReportRow struct {
	SessionID   string  `json:"session_id"`
	Index       int     `json:"index"`
	Type        string  `json:"type"`
	Time        float64 `json:"time"`
	StartFrame  int     `json:"start_frame"`
	EndFrame    int     `json:"end_frame"`
	StartSec    float64 `json:"start_sec"`
	EndSec      float64 `json:"end_sec"`
	ClipFile    string  `json:"clip_file"`
	Error       string  `json:"error,omitempty"`
	ModelLabel  string  `json:"model_label,omitempty"`
	Confidence  float64 `json:"confidence,omitempty"`
	Significant bool    `json:"significant"`
}
