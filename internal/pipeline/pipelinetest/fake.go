// Package pipelinetest provides an in-memory FFmpeg for tests.
package pipelinetest

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/droneai/review-agent/internal/pipeline"
)

// ErrDecode is returned by a FakeSource when it reaches DecodeErrAt.
var ErrDecode = errors.New("fake decode failure")

// FakeFFmpeg produces synthetic frames. Each frame's bottom-right pixel encodes its
// index in the red and green channels.
type FakeFFmpeg struct {
	Info pipeline.VideoInfo

	OpenErr  error
	ProbeErr error
	// DecodeErrAt makes Next fail when it reaches this frame; negative disables.
	DecodeErrAt int
	// FailClips lists clip base names whose encoder fails on Close.
	FailClips map[string]bool

	mu    sync.Mutex
	opens int
	clips map[string]*FakeClip
}

func New(fps float64, frames int) *FakeFFmpeg {
	return &FakeFFmpeg{
		Info:        pipeline.VideoInfo{FPS: fps, FrameCount: frames, Width: 64, Height: 48},
		DecodeErrAt: -1,
		clips:       make(map[string]*FakeClip),
	}
}

func (f *FakeFFmpeg) Probe(ctx context.Context, path string) (*pipeline.VideoInfo, error) {
	if f.ProbeErr != nil {
		return nil, f.ProbeErr
	}
	info := f.Info
	return &info, nil
}

func (f *FakeFFmpeg) Open(ctx context.Context, path string) (pipeline.FrameSource, error) {
	if f.OpenErr != nil {
		return nil, f.OpenErr
	}
	f.mu.Lock()
	f.opens++
	f.mu.Unlock()
	return &FakeSource{info: f.Info, decodeErrAt: f.DecodeErrAt}, nil
}

// Opens reports how many sources were opened.
func (f *FakeFFmpeg) Opens() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

func (f *FakeFFmpeg) CreateClip(ctx context.Context, outPath string, info pipeline.VideoInfo) (pipeline.ClipWriter, error) {
	c := &FakeClip{Path: outPath, fail: f.FailClips[filepath.Base(outPath)]}
	f.mu.Lock()
	if f.clips == nil {
		f.clips = make(map[string]*FakeClip)
	}
	f.clips[outPath] = c
	f.mu.Unlock()
	return c, nil
}

// Clip returns the clip recorded for outPath.
func (f *FakeFFmpeg) Clip(outPath string) *FakeClip {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clips[outPath]
}

// FrameIndex decodes the index stamped into a fake frame.
func FrameIndex(img image.Image) int {
	c := color.RGBAModel.Convert(img.At(img.Bounds().Max.X-1, img.Bounds().Max.Y-1)).(color.RGBA)
	return int(c.R) | int(c.G)<<8
}

type FakeSource struct {
	info        pipeline.VideoInfo
	decodeErrAt int
	next        int
	closed      bool
	Seeks       []int
}

func (s *FakeSource) Info() pipeline.VideoInfo {
	return s.info
}

func (s *FakeSource) Seek(frame int) error {
	if s.closed {
		return pipeline.ErrNotOpen
	}
	if frame < 0 {
		frame = 0
	}
	s.Seeks = append(s.Seeks, frame)
	s.next = frame
	return nil
}

func (s *FakeSource) Next() (*image.RGBA, int, error) {
	if s.closed {
		return nil, 0, pipeline.ErrNotOpen
	}
	if s.next >= s.info.FrameCount {
		return nil, 0, io.EOF
	}
	if s.decodeErrAt >= 0 && s.next >= s.decodeErrAt {
		return nil, 0, ErrDecode
	}
	idx := s.next
	s.next++

	img := image.NewRGBA(image.Rect(0, 0, s.info.Width, s.info.Height))
	img.Set(s.info.Width-1, s.info.Height-1, color.RGBA{R: uint8(idx), G: uint8(idx >> 8), A: 255})
	return img, idx, nil
}

func (s *FakeSource) Close() error {
	s.closed = true
	return nil
}

// FakeClip records the frames written to it and creates the output file on a
// successful Close.
type FakeClip struct {
	Path   string
	fail   bool
	mu     sync.Mutex
	frames []int
	closed bool
}

func (c *FakeClip) WriteFrame(img image.Image) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, FrameIndex(img))
	return nil
}

func (c *FakeClip) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.fail {
		return fmt.Errorf("fake encoder failure for %s", filepath.Base(c.Path))
	}
	if err := os.MkdirAll(filepath.Dir(c.Path), 0755); err != nil {
		return err
	}
	return os.WriteFile(c.Path, []byte(fmt.Sprintf("frames=%d\n", len(c.frames))), 0644)
}

// Frames returns the stamped indices of the written frames.
func (c *FakeClip) Frames() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.frames...)
}
