package review

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/droneai/review-agent/internal/logging"
	"github.com/droneai/review-agent/internal/overlay"
	"github.com/droneai/review-agent/internal/pipeline"
	"github.com/droneai/review-agent/internal/playback"
	"github.com/droneai/review-agent/internal/session"
	"github.com/droneai/review-agent/internal/store"
)

type state int

const (
	stateLive state = iota
	stateSaved
	stateFinalizing
	stateFinal
	stateAbandoned
	stateFailed
)

// Active is a session with an open playback loop. Commands are applied by
// the loop between frames; once the loop has ended they run under mu.
type Active struct {
	m      *Manager
	logger *slog.Logger

	info  pipeline.VideoInfo
	clock *playback.Clock
	hub   *playback.Hub
	ctrl  *playback.Controller

	cancel    context.CancelFunc
	finalDone chan struct{}

	mu        sync.Mutex
	sess      *session.Session
	rec       *session.Recorder
	tracker   *session.Tracker
	state     state
	endReason playback.EndReason
	inference *store.Inference
	lastSaved time.Time
}

func newActive(m *Manager, sess *session.Session, info pipeline.VideoInfo, paused bool) *Active {
	a := &Active{
		m:         m,
		logger:    logging.WithSessionID(m.logger, sess.ID),
		info:      info,
		clock:     playback.NewClock(),
		hub:       playback.NewHub(),
		finalDone: make(chan struct{}),
		sess:      sess,
		rec:       session.NewRecorder(sess.Events),
		tracker:   session.NewTracker(sess.Chunks, sess.ActiveLabel, sess.LastFrame),
	}
	a.clock.SetPaused(paused)

	path := sess.VideoPath
	ffmpeg := m.opts.FFmpeg
	a.ctrl = playback.NewController(playback.ControllerConfig{
		Open: func(ctx context.Context) (pipeline.FrameSource, error) {
			return ffmpeg.Open(ctx, path)
		},
		Clock:      a.clock,
		Hub:        a.hub,
		StartFrame: sess.LastFrame,
		Realtime:   m.opts.Realtime,
		Overlay:    a.overlay,
		OnFrame:    a.onFrame,
		OnSeek:     a.onSeek,
		Logger:     logging.WithComponent(a.logger, "playback"),
	})
	return a
}

func (a *Active) run() {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	go a.ctrl.Run(ctx)
	go a.watch()
	a.logger.Info("review session started",
		"mode", a.sess.Mode,
		"video", logging.SanitizePath(a.sess.VideoPath),
		"start_frame", a.sess.LastFrame,
	)
}

func (a *Active) ID() string {
	return a.sess.ID
}

func (a *Active) Mode() session.Mode {
	return a.sess.Mode
}

func (a *Active) VideoPath() string {
	return a.sess.VideoPath
}

// Frames returns a pull function over the live stream for MJPEG clients.
func (a *Active) Frames() playback.FrameFunc {
	return playback.HubFrames(a.hub)
}

// exec applies fn to the session state. While playback runs fn executes in
// the loop before the next frame is produced.
func (a *Active) exec(ctx context.Context, fn func() error) error {
	var ferr error
	locked := func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.state != stateLive {
			ferr = a.closedErr()
			return
		}
		ferr = fn()
	}
	err := a.ctrl.Do(ctx, locked)
	if errors.Is(err, playback.ErrStopped) {
		locked()
		return ferr
	}
	if err != nil {
		return err
	}
	return ferr
}

func (a *Active) closedErr() error {
	switch a.state {
	case stateFinalizing:
		return ErrFinalizing
	case stateFinal, stateFailed:
		return ErrSessionTerminal
	default:
		return ErrSessionClosed
	}
}

// boundary is the first frame not yet shown; intervals close just before it.
func (a *Active) boundary() int {
	return a.ctrl.NextFrame()
}

func (a *Active) onFrame(frame int, position float64) {
	a.mu.Lock()
	a.sess.LastFrame = frame
	a.sess.Position = position
	a.mu.Unlock()
}

func (a *Active) onSeek(from, to int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sess.Mode == session.ModeLabels {
		a.tracker.Seeked(from, to)
	}
	a.sess.LastFrame = to
	a.sess.Position = a.clock.Position()
}

func (a *Active) overlay(src *image.RGBA, frame int, position float64) *image.RGBA {
	a.mu.Lock()
	mode := a.sess.Mode
	label := a.tracker.Active()
	color := a.sess.LabelColor(label)
	marks := a.rec.Len()
	a.mu.Unlock()

	lines := []string{overlay.Clock(position) + " / " + overlay.Clock(a.info.Duration())}
	fg := overlay.DefaultColor
	switch mode {
	case session.ModeLabels:
		if label == "" {
			label = "(none)"
		}
		lines = append(lines, "label: "+label)
		fg = overlay.ColorOr(color, overlay.DefaultColor)
	default:
		lines = append(lines, fmt.Sprintf("%s: %d", mode, marks))
	}
	return overlay.Draw(src, lines, fg)
}

func (a *Active) MarkEvent(ctx context.Context, eventType string) (session.Event, error) {
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		eventType = "event"
	}
	var ev session.Event
	err := a.exec(ctx, func() error {
		if !a.sess.Mode.Discrete() {
			return ErrUnsupported
		}
		ev = a.rec.Mark(eventType, a.clock.Position())
		a.sess.Events = a.rec.Events()
		return nil
	})
	if err != nil {
		return session.Event{}, err
	}
	a.m.opts.Metrics.EventMarked()
	a.logger.Info("event marked", "index", ev.Index, "type", ev.Type, "time", ev.Time)
	return ev, nil
}

// Undo removes the last mark of a verify session.
func (a *Active) Undo(ctx context.Context) (session.Event, bool, error) {
	var ev session.Event
	var ok bool
	err := a.exec(ctx, func() error {
		if a.sess.Mode != session.ModeVerify {
			return ErrUnsupported
		}
		ev, ok = a.rec.Undo()
		a.sess.Events = a.rec.Events()
		return nil
	})
	return ev, ok, err
}

// SetActiveLabel closes the interval painted under the previous label and
// starts one for label. An empty label stops painting.
func (a *Active) SetActiveLabel(ctx context.Context, label string) error {
	label = strings.TrimSpace(label)
	return a.exec(ctx, func() error {
		if a.sess.Mode != session.ModeLabels {
			return ErrUnsupported
		}
		if label != "" && !a.sess.HasLabel(label) {
			return fmt.Errorf("%w: %q", ErrUnknownLabel, label)
		}
		a.tracker.SetActive(label, a.boundary())
		a.sess.ActiveLabel = label
		a.sess.Chunks = a.tracker.Chunks()
		return nil
	})
}

func (a *Active) TogglePause(ctx context.Context) (bool, error) {
	var paused bool
	err := a.exec(ctx, func() error {
		paused = a.clock.TogglePause()
		return nil
	})
	return paused, err
}

func (a *Active) SetPaused(ctx context.Context, paused bool) error {
	return a.exec(ctx, func() error {
		a.clock.SetPaused(paused)
		return nil
	})
}

// RequestSeek queues delta seconds onto the pending seek. Seeks queued
// before the next frame compose.
func (a *Active) RequestSeek(ctx context.Context, delta float64) error {
	return a.exec(ctx, func() error {
		a.clock.RequestSeek(delta)
		return nil
	})
}

// snapshot syncs the working copies into the session and returns its
// reconstructable state. Callers hold mu.
func (a *Active) snapshot() session.Snapshot {
	a.sess.Events = a.rec.Events()
	a.sess.Chunks = a.tracker.Chunks()
	a.sess.ActiveLabel = a.tracker.Active()
	a.sess.Position = a.clock.Position()
	return a.sess.Snapshot()
}

// save persists the snapshot to the store and the sidecar file. Callers
// hold mu.
func (a *Active) save(ctx context.Context, status session.Status) (session.Snapshot, string, error) {
	snap := a.snapshot()
	if err := a.m.opts.Store.SaveSnapshot(ctx, snap, status); err != nil {
		return snap, "", fmt.Errorf("save snapshot: %w", err)
	}
	a.sess.Status = status
	a.lastSaved = time.Now()

	var path string
	if a.m.opts.Metadata != nil {
		p, err := a.m.opts.Metadata.Write(snap)
		if err != nil {
			a.logger.Warn("failed to write metadata file", "error", err)
		} else {
			path = p
		}
	}
	return snap, path, nil
}

// stopPlayback ends the loop and waits for it, then closes the interval at
// the final boundary.
func (a *Active) stopPlayback() {
	a.ctrl.Stop()
	<-a.ctrl.Done()
	a.mu.Lock()
	if a.sess.Mode == session.ModeLabels {
		a.tracker.CloseCurrentInterval(a.boundary())
	}
	a.mu.Unlock()
}

// Abandon ends the session without finalizing. Unsaved marks are dropped; a
// session with an earlier save stays resumable from it.
func (a *Active) Abandon(ctx context.Context) error {
	a.mu.Lock()
	switch a.state {
	case stateLive:
	case stateFinalizing:
		a.mu.Unlock()
		return ErrFinalizing
	default:
		a.mu.Unlock()
		a.m.release(a)
		return ErrSessionClosed
	}
	a.state = stateAbandoned
	a.mu.Unlock()

	a.ctrl.Stop()
	if a.cancel != nil {
		a.cancel()
	}
	<-a.ctrl.Done()

	snap, err := a.m.opts.Store.LoadSnapshot(ctx, a.ID())
	if err != nil {
		a.logger.Warn("failed to check for saved snapshot", "error", err)
	}
	status, msg := session.StatusFailed, "abandoned before save"
	if snap != nil {
		status, msg = session.StatusPaused, ""
	}
	if err := a.m.opts.Store.UpdateSessionStatus(ctx, a.ID(), status, msg); err != nil {
		a.logger.Error("failed to record abandoned session", "error", err)
	}

	a.m.release(a)
	a.m.opts.Metrics.SessionFinalized("abandon", string(status))
	a.logger.Info("session abandoned", "status", status)
	return nil
}

// watch checkpoints playback progress and reacts to the end of the stream.
func (a *Active) watch() {
	var tick <-chan time.Time
	if every := a.m.opts.CheckpointEvery; every > 0 {
		t := time.NewTicker(every)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-a.ctrl.Done():
			a.ended()
			return
		case <-tick:
			a.checkpoint()
		}
	}
}

func (a *Active) checkpoint() {
	a.mu.Lock()
	live := a.state == stateLive
	frame, pos, id := a.sess.LastFrame, a.clock.Position(), a.sess.ID
	a.mu.Unlock()
	if !live {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.m.opts.Store.UpdateProgress(ctx, id, frame, pos); err != nil {
		a.logger.Warn("progress checkpoint failed", "error", err)
	}
}

func (a *Active) ended() {
	reason, err := a.ctrl.Result()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a.mu.Lock()
	a.endReason = reason
	if a.state != stateLive {
		a.mu.Unlock()
		return
	}

	switch {
	case reason == playback.EndOpenFailed:
		a.state = stateFailed
		a.sess.Status = session.StatusFailed
		a.mu.Unlock()
		msg := "open video failed"
		if err != nil {
			msg = err.Error()
		}
		if uerr := a.m.opts.Store.UpdateSessionStatus(ctx, a.ID(), session.StatusFailed, msg); uerr != nil {
			a.logger.Error("failed to record session failure", "error", uerr)
		}
		a.m.release(a)
		a.m.opts.Metrics.SessionFinalized("playback", "failed")
		return

	case reason.Natural():
		if a.sess.Mode == session.ModeLabels {
			a.tracker.CloseCurrentInterval(a.boundary())
		}
		if _, _, serr := a.save(ctx, session.StatusPaused); serr != nil {
			a.logger.Error("failed to save session at end of stream", "error", serr)
		}
		a.mu.Unlock()
		a.logger.Info("stream ended", "reason", reason, "error", err)
		if a.m.opts.AutoFinalize {
			go func() {
				if _, ferr := a.Finalize(context.Background(), Full); ferr != nil {
					a.logger.Error("auto finalize failed", "error", ferr)
				}
			}()
		}
		return
	}
	a.mu.Unlock()
}

func (a *Active) waitFinalized(ctx context.Context) error {
	select {
	case <-a.finalDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
