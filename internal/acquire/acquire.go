// Package acquire resolves a session's source reference to a readable local
// video file. Local paths are validated in place; http(s) URLs are fetched
// with yt-dlp.
package acquire

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/droneai/review-agent/internal/logging"
	"github.com/droneai/review-agent/internal/pipeline"
)

// ErrAcquisition wraps every failure to produce a readable local file.
var ErrAcquisition = errors.New("video acquisition failed")

// Acquirer turns a source reference into a local file path.
type Acquirer interface {
	Acquire(ctx context.Context, ref string) (string, error)
}

// VideoExtensions is the set of containers the agent accepts for local files.
var VideoExtensions = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".mkv":  true,
	".avi":  true,
	".webm": true,
	".m4v":  true,
}

func IsVideoFile(filename string) bool {
	return VideoExtensions[strings.ToLower(filepath.Ext(filename))]
}

// IsRemote reports whether ref should be downloaded rather than opened.
func IsRemote(ref string) bool {
	lower := strings.ToLower(strings.TrimSpace(ref))
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// Local accepts existing video files on disk.
type Local struct{}

func (Local) Acquire(ctx context.Context, ref string) (string, error) {
	path := filepath.Clean(strings.TrimSpace(ref))
	if path == "." || path == "" {
		return "", fmt.Errorf("%w: empty source reference", ErrAcquisition)
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAcquisition, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", ErrAcquisition, filepath.Base(path))
	}
	if !IsVideoFile(path) {
		return "", fmt.Errorf("%w: unsupported file type %q", ErrAcquisition, filepath.Ext(path))
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAcquisition, err)
	}
	return abs, nil
}

// YTDLP downloads a URL into Dir with the yt-dlp CLI.
type YTDLP struct {
	Binary     string // default "yt-dlp"
	FFmpegPath string // passed as --ffmpeg-location when set
	Dir        string
	Timeout    time.Duration
	Logger     *slog.Logger
}

func (y *YTDLP) Acquire(ctx context.Context, ref string) (string, error) {
	logger := y.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	if err := os.MkdirAll(y.Dir, 0755); err != nil {
		return "", fmt.Errorf("%w: create downloads dir: %v", ErrAcquisition, err)
	}
	if y.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, y.Timeout)
		defer cancel()
	}

	bin := y.Binary
	if bin == "" {
		bin = "yt-dlp"
	}
	args := []string{
		"--format", "bv*+ba/bestvideo*+bestaudio",
		"--merge-output-format", "mp4",
		"--no-playlist",
		"--quiet",
		"--no-warnings",
		"--retries", "5",
		"--concurrent-fragments", "4",
		"--output", filepath.Join(y.Dir, "%(title).50s-%(id)s.%(ext)s"),
		"--print", "after_move:filepath",
	}
	if y.FFmpegPath != "" {
		args = append(args, "--ffmpeg-location", y.FFmpegPath)
	}
	args = append(args, ref)

	cmd := exec.CommandContext(ctx, bin, args...)
	stderr := pipeline.NewTailBuffer(4 * 1024)
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAcquisition, err)
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("%w: start %s: %v", ErrAcquisition, bin, err)
	}
	path := lastLine(stdout)
	if err := cmd.Wait(); err != nil {
		logger.Warn("yt-dlp failed",
			"error", err,
			"stderr_tail", pipeline.Truncate(stderr.String(), 512),
		)
		return "", fmt.Errorf("%w: yt-dlp: %v: %s", ErrAcquisition, err, pipeline.Truncate(stderr.String(), 256))
	}
	if path == "" {
		return "", fmt.Errorf("%w: yt-dlp reported no output file", ErrAcquisition)
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%w: downloaded file missing: %v", ErrAcquisition, err)
	}

	logger.Info("video downloaded",
		"path", logging.SanitizePath(path),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return path, nil
}

func lastLine(r io.Reader) string {
	var last string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			last = line
		}
	}
	return last
}

// Auto dispatches remote references to Remote and everything else to Local.
type Auto struct {
	Local  Acquirer
	Remote Acquirer
}

func (a Auto) Acquire(ctx context.Context, ref string) (string, error) {
	if IsRemote(ref) {
		if a.Remote == nil {
			return "", fmt.Errorf("%w: remote sources are not configured", ErrAcquisition)
		}
		return a.Remote.Acquire(ctx, ref)
	}
	local := a.Local
	if local == nil {
		local = Local{}
	}
	return local.Acquire(ctx, ref)
}
