package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/droneai/review-agent/internal/overlay"
	"github.com/droneai/review-agent/internal/pipeline"
)

// ErrStopped is returned by Do once the playback loop has ended.
var ErrStopped = errors.New("playback stopped")

type EndReason string

const (
	EndEOF         EndReason = "eof"
	EndDecodeError EndReason = "decode_error"
	EndOpenFailed  EndReason = "open_failed"
	EndStopped     EndReason = "stopped"
	EndCancelled   EndReason = "cancelled"
)

// Natural reports whether playback ended on its own rather than on request.
func (r EndReason) Natural() bool {
	return r == EndEOF || r == EndDecodeError
}

type ControllerConfig struct {
	Open  func(ctx context.Context) (pipeline.FrameSource, error)
	Clock *Clock
	Hub   *Hub
	// StartFrame is decoded first; the source is seeked there before any frame is served.
	StartFrame int
	// Realtime paces frame production to the source frame rate.
	Realtime bool
	Overlay  overlay.Func
	// OnFrame runs inside the loop after each produced frame.
	OnFrame func(frame int, position float64)
	// OnSeek runs inside the loop after the source is repositioned. from is
	// the next frame that would have been decoded.
	OnSeek func(from, to int)
	Logger *slog.Logger
}

type command struct {
	fn   func()
	done chan struct{}
}

// Controller is a single-writer loop over a frame source. Commands submitted
// with Do run between frame-production steps, never concurrently with one.
type Controller struct {
	cfg    ControllerConfig
	clock  *Clock
	logger *slog.Logger

	cmds     chan command
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	src  pipeline.FrameSource
	info atomic.Pointer[pipeline.VideoInfo]
	next atomic.Int64

	reason EndReason
	err    error
}

func NewController(cfg ControllerConfig) *Controller {
	if cfg.Clock == nil {
		cfg.Clock = NewClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	c := &Controller{
		cfg:    cfg,
		clock:  cfg.Clock,
		logger: cfg.Logger,
		cmds:   make(chan command),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	c.next.Store(int64(cfg.StartFrame))
	return c
}

func (c *Controller) Clock() *Clock {
	return c.clock
}

// Info is the opened stream's description; ok is false until the source opens.
func (c *Controller) Info() (pipeline.VideoInfo, bool) {
	if p := c.info.Load(); p != nil {
		return *p, true
	}
	return pipeline.VideoInfo{}, false
}

// NextFrame is the index of the frame that will be decoded next. Inside the
// loop it is stable; once Done is closed it is the final playback boundary.
func (c *Controller) NextFrame() int {
	return int(c.next.Load())
}

func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Result returns why playback ended. Valid after Done is closed.
func (c *Controller) Result() (EndReason, error) {
	<-c.done
	return c.reason, c.err
}

// Stop asks the loop to end after the current step.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Do runs fn inside the loop and waits for it to finish.
func (c *Controller) Do(ctx context.Context, fn func()) error {
	cmd := command{fn: fn, done: make(chan struct{})}
	select {
	case c.cmds <- cmd:
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-cmd.done
	return nil
}

// Run opens the source and produces frames until the stream ends, Stop is
// called or ctx is cancelled. It always closes Done before returning.
func (c *Controller) Run(ctx context.Context) {
	defer close(c.done)
	if c.cfg.Hub != nil {
		defer c.cfg.Hub.Close()
	}

	src, err := c.cfg.Open(ctx)
	if err != nil {
		c.reason, c.err = EndOpenFailed, fmt.Errorf("open frame source: %w", err)
		c.logger.Error("failed to open frame source", "error", err)
		return
	}
	c.src = src
	defer src.Close()

	info := src.Info()
	c.info.Store(&info)

	start := c.cfg.StartFrame
	if start > 0 {
		if info.FrameCount > 0 && start > info.FrameCount-1 {
			start = info.FrameCount - 1
		}
		if err := src.Seek(start); err != nil {
			c.reason, c.err = EndDecodeError, fmt.Errorf("seek to resume frame %d: %w", start, err)
			return
		}
	}
	c.next.Store(int64(start))
	c.clock.Reset(float64(start)/info.FPS, info.Duration())

	c.logger.Info("playback started",
		"fps", info.FPS,
		"frames", info.FrameCount,
		"start_frame", start,
		"realtime", c.cfg.Realtime,
	)

	c.reason, c.err = c.loop(ctx, info)

	c.logger.Info("playback ended", "reason", c.reason, "next_frame", c.NextFrame(), "error", c.err)
}

var closedTick = func() chan time.Time {
	ch := make(chan time.Time)
	close(ch)
	return ch
}()

func (c *Controller) loop(ctx context.Context, info pipeline.VideoInfo) (EndReason, error) {
	interval := time.Second / 30
	if info.FPS > 0 {
		interval = time.Duration(float64(time.Second) / info.FPS)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		var tick <-chan time.Time = closedTick
		if c.cfg.Realtime || c.clock.Paused() {
			tick = ticker.C
		}

		select {
		case <-ctx.Done():
			return EndCancelled, nil
		case <-c.stop:
			return EndStopped, nil
		case cmd := <-c.cmds:
			c.run(cmd)
			continue
		case <-tick:
		}

		ended, err := c.step(info)
		if err != nil {
			c.logger.Warn("decode failed, ending stream", "error", err, "frame", c.NextFrame())
			return EndDecodeError, err
		}
		if ended {
			return EndEOF, nil
		}
	}
}

func (c *Controller) run(cmd command) {
	defer close(cmd.done)
	cmd.fn()
}

// drain applies every command already waiting so it lands before this step.
func (c *Controller) drain() {
	for {
		select {
		case cmd := <-c.cmds:
			c.run(cmd)
		default:
			return
		}
	}
}

func (c *Controller) step(info pipeline.VideoInfo) (bool, error) {
	c.drain()

	if pos, ok := c.clock.TakeSeek(); ok {
		target := info.FrameAt(pos)
		from := c.NextFrame()
		if err := c.src.Seek(target); err != nil {
			return true, fmt.Errorf("seek to frame %d: %w", target, err)
		}
		c.next.Store(int64(target))
		if c.cfg.OnSeek != nil {
			c.cfg.OnSeek(from, target)
		}
	}

	if c.clock.Paused() {
		return false, nil
	}

	img, idx, err := c.src.Next()
	if errors.Is(err, io.EOF) {
		return true, nil
	}
	if err != nil {
		return true, err
	}

	c.clock.Advance(idx, info.FPS)
	c.next.Store(int64(idx + 1))
	pos := c.clock.Position()

	if c.cfg.OnFrame != nil {
		c.cfg.OnFrame(idx, pos)
	}
	if c.cfg.Hub != nil {
		var out = img
		if c.cfg.Overlay != nil {
			out = c.cfg.Overlay(img, idx, pos)
		}
		c.cfg.Hub.Publish(idx, pos, out)
	}
	return false, nil
}
