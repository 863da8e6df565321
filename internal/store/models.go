// Package store persists review sessions, their snapshots and reports in
// SQLite, and mirrors snapshots to JSON sidecar files.
package store

import (
	"errors"
	"time"

	"github.com/droneai/review-agent/internal/session"
)

// ErrNotFound is returned by mutations that address a missing row.
// Lookups return (nil, nil) instead.
var ErrNotFound = errors.New("not found")

type Video struct {
	ID        string      `json:"id"`
	Key       session.Key `json:"key"`
	CreatedAt time.Time   `json:"created_at"`
}

// Inference is a stored model prediction for a video.
type Inference struct {
	ID           int64     `json:"id"`
	VideoID      string    `json:"video_id"`
	EventCount   int       `json:"event_count"`
	EventsPerMin float64   `json:"events_per_min"`
	DurationSec  float64   `json:"duration_sec"`
	VideoPath    string    `json:"video_path"`
	ModelWeights string    `json:"model_weights"`
	SampleFPS    float64   `json:"sample_fps"`
	Confidence   float64   `json:"confidence"`
	CreatedAt    time.Time `json:"created_at"`
}
