// Package classify runs an optional frame classifier over extracted frames.
// The production classifier is a Python CLI executed as a subprocess; it
// reads one JPEG and writes a JSON prediction to an --out file.
package classify

import (
	"context"
	"image"
	"time"
)

// Prediction is the top-1 label a classifier assigned to a frame.
type Prediction struct {
	Label        string  `json:"label"`
	Confidence   float64 `json:"confidence"`
	ModelVersion string  `json:"model_version,omitempty"`
}

type Classifier interface {
	Classify(ctx context.Context, img image.Image) (*Prediction, error)
}

// Significant reports whether p clears threshold. A nil prediction is never
// significant.
func Significant(p *Prediction, threshold float64) bool {
	return p != nil && p.Label != "" && p.Confidence >= threshold
}

// Noop never produces a prediction.
type Noop struct{}

func (Noop) Classify(context.Context, image.Image) (*Prediction, error) {
	return nil, nil
}

// Capabilities is what `doctor --json` reports about the classifier
// environment.
type Capabilities struct {
	PackageVersion string   `json:"package_version"`
	ModelVersion   string   `json:"model_version"`
	Labels         []string `json:"labels"`
	GPU            bool     `json:"gpu"`

	Available bool      `json:"-"`
	ProbedAt  time.Time `json:"-"`
}

// RunResult is the structured outcome of executing a classifier subprocess.
type RunResult struct {
	ExitCode   int           `json:"exit_code"`
	OutputPath string        `json:"output_path,omitempty"`
	StderrTail string        `json:"stderr_tail,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// IsSuccess returns true when the subprocess exited cleanly.
func (r RunResult) IsSuccess() bool { return r.ExitCode == 0 }

// output is the JSON document the classify command writes.
type output struct {
	SchemaVersion string  `json:"schema_version"`
	ModelVersion  string  `json:"model_version"`
	Label         string  `json:"label"`
	Confidence    float64 `json:"confidence"`
}

func (o output) requiredFieldsPresent() bool {
	return o.SchemaVersion != "" && o.ModelVersion != ""
}
