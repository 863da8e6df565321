package cloud

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"path/filepath"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/droneai/review-agent/internal/logging"
)

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

// MinioUploader puts files into one bucket of an S3-compatible store.
type MinioUploader struct {
	client *miniogo.Client
	bucket string
	logger *slog.Logger
}

func NewMinioUploader(cfg MinioConfig, logger *slog.Logger) (*MinioUploader, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("minio bucket is required")
	}
	if logger == nil {
		logger = logging.Discard()
	}
	client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &MinioUploader{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

func (m *MinioUploader) Bucket() string { return m.bucket }

func (m *MinioUploader) EnsureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", m.bucket, err)
	}
	if !exists {
		if err := m.client.MakeBucket(ctx, m.bucket, miniogo.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket %s: %w", m.bucket, err)
		}
		m.logger.Info("created bucket", "bucket", m.bucket)
	}
	return nil
}

func (m *MinioUploader) Upload(ctx context.Context, key, localPath string) error {
	info, err := m.client.FPutObject(ctx, m.bucket, key, localPath, miniogo.PutObjectOptions{
		ContentType: ContentType(localPath),
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	m.logger.Debug("artifact uploaded", "key", key, "bytes", info.Size)
	return nil
}

// ContentType guesses the MIME type of an artifact from its extension.
func ContentType(p string) string {
	switch ext := filepath.Ext(p); ext {
	case ".mp4":
		return "video/mp4"
	case ".edl":
		return "text/plain"
	case ".csv":
		return "text/csv"
	default:
		if t := mime.TypeByExtension(ext); t != "" {
			return t
		}
		return "application/octet-stream"
	}
}
