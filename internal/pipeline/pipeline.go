// Package pipeline wraps the video decoding and encoding capability used by
// playback and extraction. The production implementation shells out to
// ffprobe and ffmpeg; pipelinetest provides an in-memory fake.
package pipeline

import (
	"context"
	"errors"
	"image"
	"math"
)

// ErrNotOpen is returned by a frame source used after Close.
var ErrNotOpen = errors.New("frame source is closed")

// VideoInfo describes a probed video stream.
type VideoInfo struct {
	FPS        float64 `json:"fps"`
	FrameCount int     `json:"frame_count"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
}

// Duration is frame_count / fps in seconds.
func (v VideoInfo) Duration() float64 {
	if v.FPS <= 0 {
		return 0
	}
	return float64(v.FrameCount) / v.FPS
}

// FrameAt returns the frame nearest to position seconds, clamped to the stream.
func (v VideoInfo) FrameAt(position float64) int {
	f := int(math.Round(position * v.FPS))
	if f < 0 {
		f = 0
	}
	if v.FrameCount > 0 && f > v.FrameCount-1 {
		f = v.FrameCount - 1
	}
	return f
}

// FrameSource yields decoded frames in order. Next returns io.EOF at the end
// of the stream; any other error is a decode failure.
type FrameSource interface {
	Info() VideoInfo
	Seek(frame int) error
	Next() (*image.RGBA, int, error)
	Close() error
}

// ClipWriter encodes frames into a derivative clip file.
type ClipWriter interface {
	WriteFrame(img image.Image) error
	Close() error
}

type FFmpeg interface {
	Probe(ctx context.Context, path string) (*VideoInfo, error)
	Open(ctx context.Context, path string) (FrameSource, error)
	CreateClip(ctx context.Context, outPath string, info VideoInfo) (ClipWriter, error)
}
