// Package cloud uploads finalized session artifacts to object storage.
package cloud

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"path/filepath"
	"strings"

	"github.com/droneai/review-agent/internal/logging"
)

type Uploader interface {
	Upload(ctx context.Context, key, localPath string) error
}

// StubUpload logs requests and uploads nothing. Used when no object store
// is configured.
type StubUpload struct {
	logger *slog.Logger
}

func NewStubUpload(logger *slog.Logger) *StubUpload {
	if logger == nil {
		logger = logging.Discard()
	}
	return &StubUpload{logger: logger}
}

func (s *StubUpload) Upload(ctx context.Context, key, localPath string) error {
	s.logger.Debug("cloud upload stub: upload requested", "key", key)
	return nil
}

// UploadSummary counts the outcome of UploadDir.
type UploadSummary struct {
	Uploaded int      `json:"uploaded"`
	Failed   int      `json:"failed"`
	Errors   []string `json:"errors,omitempty"`
}

// ObjectKey joins prefix and a path relative to the artifact root using
// forward slashes.
func ObjectKey(prefix, rel string) string {
	rel = filepath.ToSlash(rel)
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return rel
	}
	return path.Join(prefix, rel)
}

// UploadDir uploads every regular file below dir under prefix. A failed file
// is recorded and the walk continues; only a walk error is returned.
func UploadDir(ctx context.Context, u Uploader, prefix, dir string, logger *slog.Logger) (UploadSummary, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	var sum UploadSummary
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		key := ObjectKey(prefix, rel)
		if err := u.Upload(ctx, key, p); err != nil {
			sum.Failed++
			sum.Errors = append(sum.Errors, fmt.Sprintf("%s: %v", key, err))
			logger.Warn("artifact upload failed", "key", key, "error", err)
			return nil
		}
		sum.Uploaded++
		return nil
	})
	if err != nil {
		return sum, fmt.Errorf("walk artifacts: %w", err)
	}
	return sum, nil
}
