// Package config provides configuration management for the review agent.
// Configuration is loaded from REVIEW_* environment variables with sensible
// defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/droneai/review-agent/internal/session"
)

const (
	// EnvPrefix is prepended to every variable name below.
	EnvPrefix = "REVIEW_"

	DefaultPort        = 8787
	DefaultLogLevel    = "info"
	DefaultDataDir     = ".review-agent"
	DefaultJPEGQuality = 80

	DBFilename = "review.db"

	DefaultClassifierModule    = "drone_classifier"
	DefaultClassifierThreshold = 0.5
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	DownloadsDir() string
	ResultsDir() string
	LabelsDir() string
	MetadataDir() string
	Headless() bool
	AutoFinalize() bool
	Realtime() bool
	Window() session.Window
	Capture() session.CaptureConfig
	JPEGQuality() int
	FFmpegPath() string
	FFprobePath() string
	YTDLPPath() string
	ClassifierPython() string
	ClassifierModule() string
	ClassifierThreshold() float64
	UploadEnabled() bool
	S3() S3Config
}

type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type values struct {
	Port     int    `env:"PORT"      envDefault:"8787"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	DataDir  string `env:"DATA_DIR"`
	Headless bool   `env:"HEADLESS"  envDefault:"false"`

	AutoFinalize bool          `env:"AUTO_FINALIZE" envDefault:"false"`
	Realtime     bool          `env:"REALTIME"      envDefault:"true"`
	WindowBefore time.Duration `env:"WINDOW_BEFORE" envDefault:"2s"`
	WindowAfter  time.Duration `env:"WINDOW_AFTER"  envDefault:"3s"`
	CaptureMode  string        `env:"CAPTURE_MODE"  envDefault:"10fps"`
	CaptureRate  float64       `env:"CAPTURE_RATE"`
	JPEGQuality  int           `env:"JPEG_QUALITY"  envDefault:"80"`

	FFmpegPath  string `env:"FFMPEG_PATH"  envDefault:"ffmpeg"`
	FFprobePath string `env:"FFPROBE_PATH" envDefault:"ffprobe"`
	YTDLPPath   string `env:"YTDLP_PATH"   envDefault:"yt-dlp"`

	ClassifierPython    string  `env:"CLASSIFIER_PYTHON"`
	ClassifierModule    string  `env:"CLASSIFIER_MODULE"    envDefault:"drone_classifier"`
	ClassifierThreshold float64 `env:"CLASSIFIER_THRESHOLD" envDefault:"0.5"`

	S3Endpoint  string `env:"S3_ENDPOINT"`
	S3AccessKey string `env:"S3_ACCESS_KEY"`
	S3SecretKey string `env:"S3_SECRET_KEY"`
	S3Bucket    string `env:"S3_BUCKET"  envDefault:"review-artifacts"`
	S3UseSSL    bool   `env:"S3_USE_SSL" envDefault:"false"`
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	v       values
	capture session.CaptureConfig
}

// New creates a new EnvConfig with defaults and environment variable overrides
func New() (*EnvConfig, error) {
	var v values
	if err := env.ParseWithOptions(&v, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if v.Port < 1 || v.Port > 65535 {
		return nil, fmt.Errorf("invalid %sPORT: port must be between 1 and 65535", EnvPrefix)
	}
	if v.JPEGQuality < 1 || v.JPEGQuality > 100 {
		return nil, fmt.Errorf("invalid %sJPEG_QUALITY: must be between 1 and 100", EnvPrefix)
	}
	if v.WindowBefore < 0 || v.WindowAfter < 0 {
		return nil, fmt.Errorf("invalid event window: durations must not be negative")
	}
	if v.ClassifierThreshold < 0 || v.ClassifierThreshold > 1 {
		return nil, fmt.Errorf("invalid %sCLASSIFIER_THRESHOLD: must be between 0 and 1", EnvPrefix)
	}
	capture, err := session.ParseCapture(v.CaptureMode, v.CaptureRate)
	if err != nil {
		return nil, fmt.Errorf("invalid %sCAPTURE_MODE: %w", EnvPrefix, err)
	}
	if v.DataDir == "" {
		v.DataDir = defaultDataDir()
	}

	return &EnvConfig{v: v, capture: capture}, nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.v.Port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.v.LogLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.v.DataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.v.DataDir, DBFilename)
}

func (c *EnvConfig) DownloadsDir() string {
	return filepath.Join(c.v.DataDir, "downloads")
}

func (c *EnvConfig) ResultsDir() string {
	return filepath.Join(c.v.DataDir, "results")
}

func (c *EnvConfig) LabelsDir() string {
	return filepath.Join(c.v.DataDir, "labels")
}

func (c *EnvConfig) MetadataDir() string {
	return filepath.Join(c.v.DataDir, "metadata")
}

// Headless disables the system tray.
func (c *EnvConfig) Headless() bool {
	return c.v.Headless
}

// AutoFinalize runs a full finalize when playback reaches the end.
func (c *EnvConfig) AutoFinalize() bool {
	return c.v.AutoFinalize
}

// Realtime paces playback at the source frame rate.
func (c *EnvConfig) Realtime() bool {
	return c.v.Realtime
}

func (c *EnvConfig) Window() session.Window {
	return session.Window{Before: c.v.WindowBefore, After: c.v.WindowAfter}
}

func (c *EnvConfig) Capture() session.CaptureConfig {
	return c.capture
}

func (c *EnvConfig) JPEGQuality() int {
	return c.v.JPEGQuality
}

func (c *EnvConfig) FFmpegPath() string {
	return c.v.FFmpegPath
}

func (c *EnvConfig) FFprobePath() string {
	return c.v.FFprobePath
}

func (c *EnvConfig) YTDLPPath() string {
	return c.v.YTDLPPath
}

func (c *EnvConfig) ClassifierPython() string {
	return c.v.ClassifierPython
}

func (c *EnvConfig) ClassifierModule() string {
	if c.v.ClassifierModule != "" {
		return c.v.ClassifierModule
	}
	return DefaultClassifierModule
}

func (c *EnvConfig) ClassifierThreshold() float64 {
	return c.v.ClassifierThreshold
}

// UploadEnabled reports whether an object store is configured for artifacts.
func (c *EnvConfig) UploadEnabled() bool {
	return c.v.S3Endpoint != "" && c.v.S3AccessKey != "" && c.v.S3SecretKey != ""
}

func (c *EnvConfig) S3() S3Config {
	return S3Config{
		Endpoint:  c.v.S3Endpoint,
		AccessKey: c.v.S3AccessKey,
		SecretKey: c.v.S3SecretKey,
		Bucket:    c.v.S3Bucket,
		UseSSL:    c.v.S3UseSSL,
	}
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.3.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
