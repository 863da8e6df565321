package review

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/droneai/review-agent/internal/cloud"
	"github.com/droneai/review-agent/internal/export"
	"github.com/droneai/review-agent/internal/extract"
	"github.com/droneai/review-agent/internal/logging"
	"github.com/droneai/review-agent/internal/metrics"
	"github.com/droneai/review-agent/internal/session"
	"github.com/droneai/review-agent/internal/store"
)

type FinalizeMode int

const (
	// Partial saves the session for later without writing artifacts.
	Partial FinalizeMode = iota
	// Full runs the extraction pass and makes the session final.
	Full
)

func (f FinalizeMode) String() string {
	if f == Full {
		return "full"
	}
	return "partial"
}

type FinalizeResult struct {
	SessionID     string               `json:"session_id"`
	Mode          string               `json:"mode"`
	Status        session.Status       `json:"status"`
	MetadataPath  string               `json:"metadata_path,omitempty"`
	Extraction    *extract.Result      `json:"extraction,omitempty"`
	Upload        *cloud.UploadSummary `json:"upload,omitempty"`
	SourceDeleted bool                 `json:"source_deleted"`
	Duration      time.Duration        `json:"duration_ns"`
}

// Finalize stops playback and either saves the session for later or turns
// its marks into artifacts. A partial save may be repeated on the same
// session and yields the same snapshot.
func (a *Active) Finalize(ctx context.Context, mode FinalizeMode) (*FinalizeResult, error) {
	if mode == Full {
		return a.finalizeFull(ctx)
	}
	return a.savePartial(ctx)
}

func (a *Active) savePartial(ctx context.Context) (*FinalizeResult, error) {
	a.mu.Lock()
	switch a.state {
	case stateLive, stateSaved:
	default:
		err := a.closedErr()
		a.mu.Unlock()
		return nil, err
	}
	wasLive := a.state == stateLive
	a.state = stateSaved
	a.mu.Unlock()

	if wasLive {
		a.stopPlayback()
	}

	a.mu.Lock()
	_, path, err := a.save(ctx, session.StatusPaused)
	a.mu.Unlock()
	if err != nil {
		a.m.opts.Metrics.SessionFinalized(Partial.String(), "failed")
		return nil, err
	}

	a.cancel()
	a.m.release(a)
	a.m.opts.Metrics.SessionFinalized(Partial.String(), "ok")
	a.logger.Info("session saved for later", "frame", a.sess.LastFrame, "metadata", logging.SanitizePath(path))
	return &FinalizeResult{
		SessionID:    a.ID(),
		Mode:         Partial.String(),
		Status:       session.StatusPaused,
		MetadataPath: path,
	}, nil
}

func (a *Active) finalizeFull(ctx context.Context) (*FinalizeResult, error) {
	a.mu.Lock()
	if a.state != stateLive {
		err := a.closedErr()
		a.mu.Unlock()
		return nil, err
	}
	a.state = stateFinalizing
	a.mu.Unlock()
	defer close(a.finalDone)

	started := time.Now()
	a.stopPlayback()

	a.mu.Lock()
	snap, metaPath, err := a.save(ctx, session.StatusPaused)
	a.mu.Unlock()
	if err != nil {
		a.abortFinalize(err)
		return nil, err
	}

	outDir, err := export.UniqueDir(a.m.opts.ResultsDir, outputName(snap))
	if err != nil {
		a.abortFinalize(err)
		return nil, err
	}

	a.logger.Info("full finalize started", "output_dir", logging.SanitizePath(outDir),
		"events", len(snap.Events), "chunks", len(snap.Chunks))

	res, err := a.m.opts.Extractor.Run(ctx, extract.Job{
		SessionID: snap.SessionID,
		Title:     title(snap),
		VideoPath: snap.VideoPath,
		OutputDir: outDir,
		Mode:      snap.Mode,
		Events:    snap.Events,
		Chunks:    snap.Chunks,
		Labels:    snap.Labels,
		Window:    snap.Window,
		Capture:   snap.Capture,
	})
	if err != nil {
		err = fmt.Errorf("extract: %w", err)
		if uerr := a.m.opts.Store.UpdateSessionStatus(ctx, snap.SessionID, session.StatusPaused, err.Error()); uerr != nil {
			a.logger.Error("failed to record finalize error", "error", uerr)
		}
		a.abortFinalize(err)
		return nil, err
	}

	if snap.Mode.Discrete() {
		if err := a.m.opts.Store.ReplaceReport(ctx, snap.SessionID, res.Rows); err != nil {
			a.logger.Error("failed to store report rows", "error", err)
		}
	}
	if err := a.m.opts.Store.UpdateSessionStatus(ctx, snap.SessionID, session.StatusFinal, ""); err != nil {
		a.logger.Error("failed to mark session final", "error", err)
	}
	a.recordInference(ctx, snap, res)

	result := &FinalizeResult{
		SessionID:    snap.SessionID,
		Mode:         Full.String(),
		Status:       session.StatusFinal,
		MetadataPath: metaPath,
		Extraction:   res,
	}
	a.cleanup(snap, res, result)

	if u := a.m.opts.Uploader; u != nil {
		summary, err := cloud.UploadDir(ctx, u, snap.SessionID, outDir, a.logger)
		if err != nil {
			a.logger.Warn("artifact upload failed", "error", err)
		}
		for i := 0; i < summary.Uploaded; i++ {
			a.m.opts.Metrics.ArtifactWritten(metrics.KindUpload)
		}
		for i := 0; i < summary.Failed; i++ {
			a.m.opts.Metrics.ArtifactFailed(metrics.KindUpload)
		}
		result.Upload = &summary
	}

	a.mu.Lock()
	a.state = stateFinal
	a.sess.Status = session.StatusFinal
	a.mu.Unlock()
	a.cancel()
	a.m.release(a)

	result.Duration = time.Since(started)
	a.m.opts.Metrics.ObserveFinalize(result.Duration)
	a.m.opts.Metrics.SessionFinalized(Full.String(), "ok")
	a.logger.Info("session finalized",
		"clips", res.Clips,
		"frames", res.Frames,
		"failures", res.Failures,
		"duration_ms", result.Duration.Milliseconds(),
	)
	return result, nil
}

// abortFinalize leaves the session resumable from its last save.
func (a *Active) abortFinalize(cause error) {
	a.mu.Lock()
	a.state = stateSaved
	a.mu.Unlock()
	a.cancel()
	a.m.release(a)
	a.m.opts.Metrics.SessionFinalized(Full.String(), "failed")
	a.logger.Error("full finalize failed", "error", cause)
}

// cleanup removes the source video and the sidecar file when configured.
// Both are kept if any artifact failed.
func (a *Active) cleanup(snap session.Snapshot, res *extract.Result, result *FinalizeResult) {
	if res.Failures > 0 {
		if snap.DeleteSource || !snap.KeepMetadata {
			a.logger.Warn("keeping source and metadata after failed artifacts", "failures", res.Failures)
		}
		return
	}
	if snap.DeleteSource {
		if err := os.Remove(snap.VideoPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			a.logger.Warn("failed to delete source video", "error", err)
		} else {
			result.SourceDeleted = true
		}
	}
	if !snap.KeepMetadata && a.m.opts.Metadata != nil {
		if err := a.m.opts.Metadata.Remove(snap.SessionID); err != nil {
			a.logger.Warn("failed to remove metadata file", "error", err)
		} else {
			result.MetadataPath = ""
		}
	}
}

// recordInference stores the classifier's view of a discrete session so
// later verify sessions can compare against it.
func (a *Active) recordInference(ctx context.Context, snap session.Snapshot, res *extract.Result) {
	if !snap.Mode.Discrete() || snap.VideoID == "" {
		return
	}
	classified := 0
	var confidence float64
	for _, r := range res.Rows {
		if r.ModelLabel == "" {
			continue
		}
		classified++
		confidence += r.Confidence
	}
	if classified == 0 {
		return
	}

	dur := a.info.Duration()
	inf := &store.Inference{
		VideoID:      snap.VideoID,
		EventCount:   res.Significant,
		DurationSec:  dur,
		VideoPath:    snap.VideoPath,
		ModelWeights: a.m.opts.ModelName,
		Confidence:   confidence / float64(classified),
	}
	if dur > 0 {
		inf.EventsPerMin = float64(res.Significant) / (dur / 60)
	}
	if err := a.m.opts.Store.AddInference(ctx, inf); err != nil {
		a.logger.Warn("failed to store inference", "error", err)
	}
}

func outputName(snap session.Snapshot) string {
	var parts []string
	for _, p := range []string{snap.Key.Subject, snap.Key.Scenario} {
		if s := export.SafeName(p, ""); s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return export.SafeName(snap.SessionID, "session")
	}
	return strings.Join(parts, "_")
}

func title(snap session.Snapshot) string {
	t := strings.TrimSpace(snap.Key.Subject + " " + snap.Key.Scenario)
	if t == "" {
		return snap.SessionID
	}
	return t
}
