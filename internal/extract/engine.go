// Package extract runs the finalize pass: it re-decodes the source video and
// turns recorded events into clips and label chunks into sampled frames.
package extract

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/droneai/review-agent/internal/classify"
	"github.com/droneai/review-agent/internal/export"
	"github.com/droneai/review-agent/internal/logging"
	"github.com/droneai/review-agent/internal/metrics"
	"github.com/droneai/review-agent/internal/overlay"
	"github.com/droneai/review-agent/internal/pipeline"
	"github.com/droneai/review-agent/internal/session"
)

var ErrBusy = errors.New("extraction already running")

type Config struct {
	FFmpeg pipeline.FFmpeg
	// WriteImage stores one sampled frame; defaults to pipeline.SaveJPEG.
	WriteImage  func(path string, img image.Image, quality int) error
	JPEGQuality int
	Classifier  classify.Classifier
	Threshold   float64
	Metrics     *metrics.Collector
	Logger      *slog.Logger
}

type Job struct {
	SessionID string
	Title     string
	VideoPath string
	OutputDir string
	Mode      session.Mode
	Events    []session.Event
	Chunks    []session.LabelChunk
	Labels    []session.Label
	Window    session.Window
	Capture   session.CaptureConfig
}

type Result struct {
	OutputDir string              `json:"output_dir"`
	Rows      []session.ReportRow `json:"rows"`
	Clips     int                 `json:"clips"`
	Frames    int                 `json:"frames"`
	Failures  int                 `json:"failures"`
	Reports   []string            `json:"reports,omitempty"`
	// Significant counts rows whose classifier prediction cleared the threshold.
	Significant int `json:"significant"`
}

// Engine runs one extraction at a time.
type Engine struct {
	cfg      Config
	logger   *slog.Logger
	progress Progress
	mu       sync.Mutex
}

func New(cfg Config) *Engine {
	if cfg.WriteImage == nil {
		cfg.WriteImage = pipeline.SaveJPEG
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = pipeline.DefaultJPEGQuality
	}
	if cfg.Classifier == nil {
		cfg.Classifier = classify.Noop{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Engine{cfg: cfg, logger: logging.WithComponent(logger, "extract")}
}

func (e *Engine) Progress() ProgressSnapshot {
	return e.progress.Snapshot()
}

// Run performs the full pass for job. Per-artifact failures are recorded on
// the result and never abort the pass; only failing to open or probe the
// source returns an error.
func (e *Engine) Run(ctx context.Context, job Job) (*Result, error) {
	if !e.mu.TryLock() {
		return nil, ErrBusy
	}
	defer e.mu.Unlock()

	if err := os.MkdirAll(job.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	src, err := e.cfg.FFmpeg.Open(ctx, job.VideoPath)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	defer src.Close()

	logger := logging.WithSessionID(e.logger, job.SessionID)
	res := &Result{OutputDir: job.OutputDir}

	if job.Mode.Discrete() {
		e.runEvents(ctx, logger, src, job, res)
	} else {
		e.runLabels(logger, src, job, res)
	}

	logger.Info("extraction finished",
		"mode", job.Mode,
		"clips", res.Clips,
		"frames", res.Frames,
		"failures", res.Failures,
	)
	return res, nil
}

func (e *Engine) runEvents(ctx context.Context, logger *slog.Logger, src pipeline.FrameSource, job Job, res *Result) {
	info := src.Info()
	before, after := job.Window.Frames(info.FPS)

	e.progress.start(int64(len(job.Events)))
	defer e.progress.finish()

	for _, ev := range job.Events {
		frame := info.FrameAt(ev.Time)
		start := max(0, frame-before)
		end := frame + after
		if info.FrameCount > 0 {
			end = min(end, info.FrameCount-1)
		}

		name := fmt.Sprintf("%s_%02d.mp4", export.SafeName(ev.Type, "event"), ev.Index)
		row := session.ReportRow{
			SessionID:  job.SessionID,
			Index:      ev.Index,
			Type:       ev.Type,
			Time:       ev.Time,
			StartFrame: start,
			EndFrame:   end,
			StartSec:   float64(start) / info.FPS,
			EndSec:     float64(end) / info.FPS,
			ClipFile:   name,
		}

		keyFrame, err := e.writeClip(ctx, src, info, filepath.Join(job.OutputDir, name), start, end, frame,
			overlay.EventCaption(ev.Type, ev.Index, ev.Time))
		if err != nil {
			row.ClipFile = ""
			row.Error = err.Error()
			res.Failures++
			e.cfg.Metrics.ArtifactFailed(metrics.KindClip)
			logger.Warn("clip extraction failed", "event", ev.Index, "error", err)
		} else {
			res.Clips++
			e.cfg.Metrics.ArtifactWritten(metrics.KindClip)
		}

		if keyFrame != nil {
			e.classify(ctx, logger, keyFrame, &row)
			if row.Significant {
				res.Significant++
			}
		}

		res.Rows = append(res.Rows, row)
		done := e.progress.add(1)
		e.cfg.Metrics.SetExtractionProgress(done, int64(len(job.Events)))
	}

	e.writeReports(logger, job, info, res)
}

// writeClip encodes frames [start, end] with the caption burned in and
// returns the undecorated event frame for classification.
func (e *Engine) writeClip(ctx context.Context, src pipeline.FrameSource, info pipeline.VideoInfo, path string, start, end, eventFrame int, caption string) (image.Image, error) {
	if err := src.Seek(start); err != nil {
		return nil, fmt.Errorf("seek to frame %d: %w", start, err)
	}
	w, err := e.cfg.FFmpeg.CreateClip(ctx, path, info)
	if err != nil {
		return nil, fmt.Errorf("create clip: %w", err)
	}

	var keyFrame image.Image
	written := 0
	for f := start; f <= end; f++ {
		img, idx, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			w.Close()
			os.Remove(path)
			return keyFrame, fmt.Errorf("decode frame %d: %w", f, err)
		}
		if idx == eventFrame {
			keyFrame = img
		}
		if err := w.WriteFrame(overlay.Draw(img, []string{caption}, color.RGBA{R: 255, G: 64, B: 64, A: 255})); err != nil {
			w.Close()
			os.Remove(path)
			return keyFrame, fmt.Errorf("write frame %d: %w", idx, err)
		}
		written++
	}

	if err := w.Close(); err != nil {
		os.Remove(path)
		return keyFrame, fmt.Errorf("finish clip: %w", err)
	}
	if written == 0 {
		os.Remove(path)
		return nil, fmt.Errorf("no frames in window [%d, %d]", start, end)
	}
	return keyFrame, nil
}

func (e *Engine) classify(ctx context.Context, logger *slog.Logger, img image.Image, row *session.ReportRow) {
	p, err := e.cfg.Classifier.Classify(ctx, img)
	if err != nil {
		logger.Warn("classification failed", "event", row.Index, "error", err)
		return
	}
	if p == nil {
		return
	}
	row.ModelLabel = p.Label
	row.Confidence = p.Confidence
	row.Significant = classify.Significant(p, e.cfg.Threshold)
}

func (e *Engine) writeReports(logger *slog.Logger, job Job, info pipeline.VideoInfo, res *Result) {
	title := job.Title
	if title == "" {
		title = job.SessionID
	}

	writers := []struct {
		name  string
		write func(io.Writer) error
	}{
		{export.ReportCSVName, func(w io.Writer) error { return export.WriteCSV(w, res.Rows) }},
		{export.ReportEDLName, func(w io.Writer) error {
			_, err := io.WriteString(w, export.GenerateEDL(res.Rows, title, job.VideoPath, info.FPS))
			return err
		}},
	}
	for _, rw := range writers {
		path, err := export.WriteFile(job.OutputDir, rw.name, rw.write)
		if err != nil {
			res.Failures++
			e.cfg.Metrics.ArtifactFailed(metrics.KindReport)
			logger.Warn("report write failed", "file", rw.name, "error", err)
			continue
		}
		res.Reports = append(res.Reports, path)
		e.cfg.Metrics.ArtifactWritten(metrics.KindReport)
	}
}

// runLabels decodes from frame 0 once and samples frames inside chunks.
func (e *Engine) runLabels(logger *slog.Logger, src pipeline.FrameSource, job Job, res *Result) {
	info := src.Info()
	step := job.Capture.Step(info.FPS)
	total := int64(session.TotalFrames(job.Chunks))

	e.progress.start(total)
	defer e.progress.finish()

	if len(job.Chunks) == 0 {
		return
	}
	lastEnd := 0
	for _, c := range job.Chunks {
		lastEnd = max(lastEnd, c.End)
	}

	if err := src.Seek(0); err != nil {
		res.Failures++
		logger.Warn("seek to start failed", "error", err)
		return
	}

	seq := make(map[string]int)
	for {
		img, idx, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Treat as end of stream: frames written so far are kept.
			logger.Warn("decode failed during label pass", "error", err)
			break
		}
		if idx > lastEnd {
			break
		}

		label := session.LabelAt(job.Chunks, idx)
		if label == "" {
			continue
		}
		done := e.progress.add(1)
		if done%256 == 0 {
			e.cfg.Metrics.SetExtractionProgress(done, total)
		}

		if idx%step != 0 {
			continue
		}
		safe := export.SafeName(label, "label")
		seq[safe]++
		dir := filepath.Join(job.OutputDir, safe)
		if err := os.MkdirAll(dir, 0755); err != nil {
			res.Failures++
			e.cfg.Metrics.ArtifactFailed(metrics.KindFrame)
			logger.Warn("create label dir failed", "label", label, "error", err)
			continue
		}
		path := export.UniqueName(dir, fmt.Sprintf("%s_%06d.jpg", safe, seq[safe]))
		if err := e.cfg.WriteImage(path, img, e.cfg.JPEGQuality); err != nil {
			res.Failures++
			e.cfg.Metrics.ArtifactFailed(metrics.KindFrame)
			logger.Warn("frame write failed", "frame", idx, "label", label, "error", err)
			continue
		}
		res.Frames++
		e.cfg.Metrics.ArtifactWritten(metrics.KindFrame)
	}

	e.cfg.Metrics.SetExtractionProgress(e.progress.current.Load(), total)
}
