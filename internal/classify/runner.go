package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
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

const maxStderrBytes = 8 * 1024

// Config holds the subprocess classifier's configuration.
type Config struct {
	PythonPath      string // empty = auto-detect
	ModuleName      string
	WorkDir         string // scratch dir for frame images and JSON outputs
	ClassifyTimeout time.Duration
	DoctorTimeout   time.Duration
	Logger          *slog.Logger
}

// DefaultConfig returns production defaults rooted at dataDir.
func DefaultConfig(dataDir, module string, logger *slog.Logger) Config {
	return Config{
		ModuleName:      module,
		WorkDir:         filepath.Join(dataDir, "classify"),
		ClassifyTimeout: 30 * time.Second,
		DoctorTimeout:   30 * time.Second,
		Logger:          logger,
	}
}

// SubprocessClassifier executes `python -m <module> classify` per frame.
type SubprocessClassifier struct {
	cfg    Config
	python string
}

// NewSubprocessClassifier resolves the Python binary and prepares the work dir.
func NewSubprocessClassifier(cfg Config) (*SubprocessClassifier, error) {
	if cfg.ModuleName == "" {
		return nil, errors.New("classifier module name is required")
	}
	python, err := resolvePython(cfg.PythonPath)
	if err != nil {
		return nil, fmt.Errorf("cannot locate python: %w", err)
	}
	if err := os.MkdirAll(cfg.WorkDir, 0755); err != nil {
		return nil, fmt.Errorf("cannot create classifier work dir: %w", err)
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}

	cfg.Logger.Info("classifier initialised",
		"python", python,
		"module", cfg.ModuleName,
		"work_dir", logging.SanitizePath(cfg.WorkDir),
	)
	return &SubprocessClassifier{cfg: cfg, python: python}, nil
}

// Classify writes img to a scratch JPEG and runs the classify command on it.
func (c *SubprocessClassifier) Classify(ctx context.Context, img image.Image) (*Prediction, error) {
	dir, err := os.MkdirTemp(c.cfg.WorkDir, "frame-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	imgPath := filepath.Join(dir, "frame.jpg")
	if err := pipeline.SaveJPEG(imgPath, img, pipeline.DefaultJPEGQuality); err != nil {
		return nil, err
	}
	outPath := filepath.Join(dir, "prediction.json")

	ctx, cancel := context.WithTimeout(ctx, c.cfg.ClassifyTimeout)
	defer cancel()

	result := c.exec(ctx, outPath, "classify", "--image", imgPath, "--json", "--out", outPath)
	if !result.IsSuccess() {
		return nil, fmt.Errorf("classify exited %d: %s", result.ExitCode, pipeline.Truncate(result.StderrTail, 512))
	}
	return readPrediction(outPath)
}

// RunDoctor probes the installed classifier environment.
func (c *SubprocessClassifier) RunDoctor(ctx context.Context) (*Capabilities, error) {
	outPath := filepath.Join(c.cfg.WorkDir, ".doctor.json")

	ctx, cancel := context.WithTimeout(ctx, c.cfg.DoctorTimeout)
	defer cancel()

	result := c.exec(ctx, outPath, "doctor", "--json", "--out", outPath)
	if !result.IsSuccess() {
		return nil, fmt.Errorf("doctor exited %d: %s", result.ExitCode, result.StderrTail)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("cannot read doctor output: %w", err)
	}
	var caps Capabilities
	if err := json.Unmarshal(data, &caps); err != nil {
		return nil, fmt.Errorf("cannot parse doctor JSON: %w", err)
	}
	caps.Available = caps.ModelVersion != ""
	caps.ProbedAt = time.Now()

	c.cfg.Logger.Info("classifier doctor probe complete",
		"model_version", caps.ModelVersion,
		"labels", len(caps.Labels),
		"gpu", caps.GPU,
	)
	return &caps, nil
}

func readPrediction(path string) (*Prediction, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read prediction: %w", err)
	}
	var out output
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("cannot parse prediction JSON: %w", err)
	}
	if !out.requiredFieldsPresent() {
		missing := []string{}
		if out.SchemaVersion == "" {
			missing = append(missing, "schema_version")
		}
		if out.ModelVersion == "" {
			missing = append(missing, "model_version")
		}
		return nil, fmt.Errorf("prediction missing required fields: %s", strings.Join(missing, ", "))
	}
	if out.Label == "" {
		return nil, nil
	}
	return &Prediction{Label: out.Label, Confidence: out.Confidence, ModelVersion: out.ModelVersion}, nil
}

func (c *SubprocessClassifier) exec(ctx context.Context, outPath string, args ...string) RunResult {
	start := time.Now()

	if outPath != "" {
		if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
			return RunResult{ExitCode: -1, StderrTail: err.Error(), Duration: time.Since(start)}
		}
	}

	cmdArgs := append([]string{"-m", c.cfg.ModuleName}, args...)
	cmd := exec.CommandContext(ctx, c.python, cmdArgs...)

	stderr := pipeline.NewTailBuffer(maxStderrBytes)
	cmd.Stderr = stderr
	cmd.Stdout = io.Discard // CLI writes to --out file, not stdout

	c.cfg.Logger.Debug("executing classifier command", "args", args[0])

	err := cmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	if exitCode != 0 {
		c.cfg.Logger.Warn("classifier command failed",
			"exit_code", exitCode,
			"duration_ms", elapsed.Milliseconds(),
			"stderr_tail", pipeline.Truncate(stderr.String(), 512),
		)
	}

	return RunResult{
		ExitCode:   exitCode,
		OutputPath: outPath,
		StderrTail: stderr.String(),
		Duration:   elapsed,
	}
}

// resolvePython finds a usable python binary.
func resolvePython(preferred string) (string, error) {
	if preferred != "" {
		if p, err := exec.LookPath(preferred); err == nil {
			return p, nil
		}
		return "", fmt.Errorf("configured python %q not found", preferred)
	}
	for _, name := range []string{"python3", "python"} {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no python binary found on PATH (tried python3, python)")
}
