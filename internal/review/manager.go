// Package review owns review sessions. A Manager keeps at most one session
// active and exposes the operator commands the HTTP surface and the tray call.
package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/droneai/review-agent/internal/acquire"
	"github.com/droneai/review-agent/internal/cloud"
	"github.com/droneai/review-agent/internal/extract"
	"github.com/droneai/review-agent/internal/logging"
	"github.com/droneai/review-agent/internal/metrics"
	"github.com/droneai/review-agent/internal/pipeline"
	"github.com/droneai/review-agent/internal/session"
	"github.com/droneai/review-agent/internal/store"
)

type Options struct {
	Store     store.Repository
	Metadata  *store.MetadataStore
	FFmpeg    pipeline.FFmpeg
	Acquirer  acquire.Acquirer
	Extractor *extract.Engine
	// Uploader receives the artifacts of a full finalize; nil skips uploads.
	Uploader cloud.Uploader
	Metrics  *metrics.Collector

	ResultsDir string
	// ModelName is recorded on inference rows derived from classified events.
	ModelName string
	Window    session.Window
	Capture   session.CaptureConfig

	Realtime        bool
	AutoFinalize    bool
	CheckpointEvery time.Duration
	Logger          *slog.Logger
}

type StartRequest struct {
	SourceRef    string
	Subject      string
	Scenario     string
	Mode         session.Mode
	Labels       []session.Label
	Capture      *session.CaptureConfig
	Window       *session.Window
	DeleteSource bool
	KeepMetadata bool
	// StartPaused opens the video with playback paused on the first frame.
	StartPaused bool
	// Force terminates the active session instead of rejecting the start.
	Force bool
}

type Manager struct {
	opts   Options
	logger *slog.Logger

	mu       sync.Mutex
	active   *Active
	starting bool
}

func NewManager(opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Acquirer == nil {
		opts.Acquirer = acquire.Local{}
	}
	if opts.Window == (session.Window{}) {
		opts.Window = session.DefaultWindow()
	}
	if opts.Capture.Mode == "" {
		opts.Capture = session.CaptureConfig{Mode: session.Capture10FPS}
	}
	return &Manager{opts: opts, logger: logging.WithComponent(opts.Logger, "review")}
}

// Active returns the current session.
func (m *Manager) Active() (*Active, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return nil, ErrNoActiveSession
	}
	return m.active, nil
}

func (m *Manager) Defaults() (session.Window, session.CaptureConfig) {
	return m.opts.Window, m.opts.Capture
}

// Start creates a session for req, acquires its video and begins playback.
func (m *Manager) Start(ctx context.Context, req StartRequest) (*Active, error) {
	sess, err := m.newSession(req)
	if err != nil {
		return nil, err
	}
	if err := m.claim(ctx, req.Force); err != nil {
		return nil, err
	}

	a, err := m.prepareStart(ctx, sess, req.StartPaused)
	if err != nil {
		m.unclaim()
		return nil, err
	}
	m.install(a)
	a.run()
	return a, nil
}

func (m *Manager) newSession(req StartRequest) (*session.Session, error) {
	if strings.TrimSpace(req.SourceRef) == "" {
		return nil, fmt.Errorf("%w: source is required", ErrInvalidRequest)
	}
	mode := req.Mode
	if mode == "" {
		mode = session.ModeEvents
	}
	if mode == session.ModeLabels && len(req.Labels) == 0 {
		return nil, fmt.Errorf("%w: labels mode needs at least one label", ErrInvalidRequest)
	}
	seen := make(map[string]bool, len(req.Labels))
	for _, l := range req.Labels {
		if strings.TrimSpace(l.Name) == "" {
			return nil, fmt.Errorf("%w: empty label name", ErrInvalidRequest)
		}
		if seen[l.Name] {
			return nil, fmt.Errorf("%w: duplicate label %q", ErrInvalidRequest, l.Name)
		}
		seen[l.Name] = true
	}

	sess := &session.Session{
		ID:           session.NewID(),
		Key:          session.Key{Subject: req.Subject, Scenario: req.Scenario, SourceRef: strings.TrimSpace(req.SourceRef)},
		Mode:         mode,
		Status:       session.StatusRunning,
		Labels:       append([]session.Label{}, req.Labels...),
		Capture:      m.opts.Capture,
		Window:       m.opts.Window,
		DeleteSource: req.DeleteSource,
		KeepMetadata: req.KeepMetadata,
	}
	if req.Capture != nil {
		sess.Capture = *req.Capture
	}
	if req.Window != nil {
		sess.Window = *req.Window
	}
	return sess, nil
}

func (m *Manager) prepareStart(ctx context.Context, sess *session.Session, paused bool) (*Active, error) {
	video, err := m.opts.Store.GetOrCreateVideo(ctx, sess.Key)
	if err != nil {
		return nil, fmt.Errorf("register video: %w", err)
	}
	sess.VideoID = video.ID
	if err := m.opts.Store.UpsertSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	logger := logging.WithSessionID(m.logger, sess.ID)
	path, err := m.opts.Acquirer.Acquire(ctx, sess.Key.SourceRef)
	if err != nil {
		if !errors.Is(err, acquire.ErrAcquisition) {
			err = fmt.Errorf("%w: %v", acquire.ErrAcquisition, err)
		}
		m.fail(ctx, sess, err)
		return nil, err
	}
	sess.VideoPath = path
	logger.Info("video acquired", "path", logging.SanitizePath(path))

	return m.prepare(ctx, sess, paused)
}

// prepare probes the video and builds the in-memory session. It does not
// start playback.
func (m *Manager) prepare(ctx context.Context, sess *session.Session, paused bool) (*Active, error) {
	info, err := m.opts.FFmpeg.Probe(ctx, sess.VideoPath)
	if err != nil {
		err = fmt.Errorf("%w: probe %s: %v", acquire.ErrAcquisition, logging.SanitizePath(sess.VideoPath), err)
		m.fail(ctx, sess, err)
		return nil, err
	}

	sess.Status = session.StatusRunning
	sess.Error = ""
	if err := m.opts.Store.UpsertSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}

	a := newActive(m, sess, *info, paused)
	if sess.Mode == session.ModeVerify && sess.VideoID != "" {
		inf, err := m.opts.Store.LatestInference(ctx, sess.VideoID)
		if err != nil {
			a.logger.Warn("failed to load model prediction", "error", err)
		}
		a.inference = inf
	}
	return a, nil
}

func (m *Manager) fail(ctx context.Context, sess *session.Session, cause error) {
	sess.Status = session.StatusFailed
	sess.Error = cause.Error()
	if err := m.opts.Store.UpdateSessionStatus(ctx, sess.ID, session.StatusFailed, sess.Error); err != nil {
		m.logger.Error("failed to record session failure", "session_id", sess.ID, "error", err)
	}
	m.opts.Metrics.SessionFinalized("start", "failed")
	m.logger.Warn("session failed", "session_id", sess.ID, "error", cause)
}

type ResumeRequest struct {
	Force       bool
	StartPaused bool
}

// Resume rehydrates a saved session and continues playback from its last
// frame. Resuming the session that is already active is rejected.
func (m *Manager) Resume(ctx context.Context, id string, req ResumeRequest) (*Active, error) {
	m.mu.Lock()
	if m.active != nil && m.active.ID() == id {
		m.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	m.mu.Unlock()

	stored, err := m.opts.Store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, fmt.Errorf("session %s: %w", id, store.ErrNotFound)
	}
	if stored.Status.Terminal() {
		return nil, ErrSessionTerminal
	}
	snap, err := m.opts.Store.LoadSnapshot(ctx, id)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, ErrNoSnapshot
	}
	return m.resume(ctx, snap, stored.CreatedAt, req)
}

// ResumeFile resumes from a sidecar metadata file. A session unknown to the
// store is registered first.
func (m *Manager) ResumeFile(ctx context.Context, path string, req ResumeRequest) (*Active, error) {
	if m.opts.Metadata == nil {
		return nil, fmt.Errorf("%w: metadata files are disabled", ErrUnsupported)
	}
	snap, err := m.opts.Metadata.Read(path)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.active != nil && m.active.ID() == snap.SessionID {
		m.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	m.mu.Unlock()

	stored, err := m.opts.Store.GetSession(ctx, snap.SessionID)
	if err != nil {
		return nil, err
	}
	var createdAt time.Time
	if stored != nil {
		if stored.Status.Terminal() {
			return nil, ErrSessionTerminal
		}
		createdAt = stored.CreatedAt
	} else {
		video, err := m.opts.Store.GetOrCreateVideo(ctx, snap.Key)
		if err != nil {
			return nil, fmt.Errorf("register video: %w", err)
		}
		snap.VideoID = video.ID
		sess := snap.Restore()
		sess.Status = session.StatusPaused
		if err := m.opts.Store.UpsertSession(ctx, sess); err != nil {
			return nil, fmt.Errorf("register session: %w", err)
		}
		createdAt = sess.CreatedAt
	}
	return m.resume(ctx, snap, createdAt, req)
}

func (m *Manager) resume(ctx context.Context, snap *session.Snapshot, createdAt time.Time, req ResumeRequest) (*Active, error) {
	if err := m.claim(ctx, req.Force); err != nil {
		return nil, err
	}
	sess := snap.Restore()
	sess.CreatedAt = createdAt

	a, err := m.prepare(ctx, sess, req.StartPaused)
	if err != nil {
		m.unclaim()
		return nil, err
	}
	m.install(a)
	a.logger.Info("session resumed", "frame", sess.LastFrame, "events", len(sess.Events), "chunks", len(sess.Chunks))
	a.run()
	return a, nil
}

// Abandon ends the active session without finalizing.
func (m *Manager) Abandon(ctx context.Context) error {
	a, err := m.Active()
	if err != nil {
		return err
	}
	return a.Abandon(ctx)
}

// Shutdown saves the active session for later so it can be resumed after
// the process restarts. A running full finalize is waited for.
func (m *Manager) Shutdown(ctx context.Context) error {
	a, err := m.Active()
	if errors.Is(err, ErrNoActiveSession) {
		return nil
	}
	if _, err := a.Finalize(ctx, Partial); err != nil {
		if errors.Is(err, ErrFinalizing) {
			return a.waitFinalized(ctx)
		}
		if errors.Is(err, ErrSessionClosed) {
			return nil
		}
		return err
	}
	return nil
}

// claim reserves the active slot. With force, the current session is
// abandoned first.
func (m *Manager) claim(ctx context.Context, force bool) error {
	m.mu.Lock()
	if m.starting {
		m.mu.Unlock()
		return ErrSessionActive
	}
	prev := m.active
	if prev != nil && !force {
		m.mu.Unlock()
		return ErrSessionActive
	}
	m.starting = true
	m.mu.Unlock()

	if prev != nil {
		m.logger.Info("force-terminating active session", "session_id", prev.ID())
		if err := prev.Abandon(ctx); err != nil && !errors.Is(err, ErrSessionClosed) {
			m.unclaim()
			return fmt.Errorf("terminate active session: %w", err)
		}
	}
	return nil
}

func (m *Manager) unclaim() {
	m.mu.Lock()
	m.starting = false
	m.mu.Unlock()
}

func (m *Manager) install(a *Active) {
	m.mu.Lock()
	m.active = a
	m.starting = false
	m.mu.Unlock()
	m.opts.Metrics.SessionStarted(string(a.sess.Mode))
}

func (m *Manager) release(a *Active) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == a {
		m.active = nil
	}
}
