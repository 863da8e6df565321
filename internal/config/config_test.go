package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/droneai/review-agent/internal/session"
)

func TestNew_Defaults(t *testing.T) {
	t.Setenv("REVIEW_DATA_DIR", "/data")

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port() != DefaultPort {
		t.Errorf("Port() = %d, want %d", cfg.Port(), DefaultPort)
	}
	if cfg.LogLevel() != DefaultLogLevel {
		t.Errorf("LogLevel() = %q", cfg.LogLevel())
	}
	if got := cfg.Window(); got != session.DefaultWindow() {
		t.Errorf("Window() = %+v, want %+v", got, session.DefaultWindow())
	}
	if got := cfg.Capture(); got.Mode != session.Capture10FPS {
		t.Errorf("Capture() = %+v", got)
	}
	if !cfg.Realtime() || cfg.AutoFinalize() || cfg.Headless() {
		t.Errorf("flags: realtime=%v auto=%v headless=%v", cfg.Realtime(), cfg.AutoFinalize(), cfg.Headless())
	}
	if cfg.JPEGQuality() != DefaultJPEGQuality {
		t.Errorf("JPEGQuality() = %d", cfg.JPEGQuality())
	}
	if cfg.ClassifierModule() != DefaultClassifierModule || cfg.ClassifierThreshold() != DefaultClassifierThreshold {
		t.Errorf("classifier = %q %v", cfg.ClassifierModule(), cfg.ClassifierThreshold())
	}
	if cfg.UploadEnabled() {
		t.Error("upload should be disabled without credentials")
	}
}

func TestNew_DerivedPaths(t *testing.T) {
	t.Setenv("REVIEW_DATA_DIR", "/data")

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	paths := map[string]string{
		cfg.DBPath():       filepath.Join("/data", DBFilename),
		cfg.DownloadsDir(): filepath.Join("/data", "downloads"),
		cfg.ResultsDir():   filepath.Join("/data", "results"),
		cfg.LabelsDir():    filepath.Join("/data", "labels"),
		cfg.MetadataDir():  filepath.Join("/data", "metadata"),
	}
	for got, want := range paths {
		if got != want {
			t.Errorf("path = %q, want %q", got, want)
		}
	}
}

func TestNew_FromEnv(t *testing.T) {
	t.Setenv("REVIEW_PORT", "9000")
	t.Setenv("REVIEW_HEADLESS", "true")
	t.Setenv("REVIEW_AUTO_FINALIZE", "true")
	t.Setenv("REVIEW_WINDOW_BEFORE", "1500ms")
	t.Setenv("REVIEW_WINDOW_AFTER", "4s")
	t.Setenv("REVIEW_CAPTURE_MODE", "custom")
	t.Setenv("REVIEW_CAPTURE_RATE", "2.5")
	t.Setenv("REVIEW_S3_ENDPOINT", "localhost:9000")
	t.Setenv("REVIEW_S3_ACCESS_KEY", "minio")
	t.Setenv("REVIEW_S3_SECRET_KEY", "secret")

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port() != 9000 {
		t.Errorf("Port() = %d", cfg.Port())
	}
	if !cfg.Headless() || !cfg.AutoFinalize() {
		t.Error("boolean overrides not applied")
	}
	want := session.Window{Before: 1500 * time.Millisecond, After: 4 * time.Second}
	if cfg.Window() != want {
		t.Errorf("Window() = %+v, want %+v", cfg.Window(), want)
	}
	if c := cfg.Capture(); c.Mode != session.CaptureCustom || c.Rate != 2.5 {
		t.Errorf("Capture() = %+v", c)
	}
	if !cfg.UploadEnabled() || cfg.S3().Bucket != "review-artifacts" {
		t.Errorf("S3() = %+v", cfg.S3())
	}
}

func TestNew_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"port not a number", "REVIEW_PORT", "abc"},
		{"port out of range", "REVIEW_PORT", "70000"},
		{"jpeg quality", "REVIEW_JPEG_QUALITY", "0"},
		{"capture mode", "REVIEW_CAPTURE_MODE", "sometimes"},
		{"custom without rate", "REVIEW_CAPTURE_MODE", "custom"},
		{"negative window", "REVIEW_WINDOW_BEFORE", "-1s"},
		{"threshold", "REVIEW_CLASSIFIER_THRESHOLD", "1.5"},
		{"bad duration", "REVIEW_WINDOW_AFTER", "soon"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := New(); err == nil {
				t.Fatalf("expected error for %s=%q", tt.key, tt.value)
			}
		})
	}
}
