package session

import (
	"fmt"
	"math"
	"strings"
)

type CaptureMode string

const (
	CaptureEvery  CaptureMode = "every"
	Capture1FPS   CaptureMode = "1fps"
	Capture10FPS  CaptureMode = "10fps"
	CaptureCustom CaptureMode = "custom"
)

// CaptureConfig is the sampling policy for labeled frames.
type CaptureConfig struct {
	Mode CaptureMode `json:"mode"`
	Rate float64     `json:"rate,omitempty"`
}

func ParseCapture(mode string, rate float64) (CaptureConfig, error) {
	m := CaptureMode(strings.ToLower(strings.TrimSpace(mode)))
	switch m {
	case "":
		return CaptureConfig{Mode: Capture10FPS}, nil
	case CaptureEvery, Capture1FPS, Capture10FPS:
		return CaptureConfig{Mode: m}, nil
	case CaptureCustom:
		if rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
			return CaptureConfig{}, fmt.Errorf("custom capture rate must be positive, got %v", rate)
		}
		return CaptureConfig{Mode: m, Rate: rate}, nil
	default:
		return CaptureConfig{}, fmt.Errorf("unknown capture mode %q", mode)
	}
}

// TargetRate is frames per second to keep; zero means every frame.
func (c CaptureConfig) TargetRate() float64 {
	switch c.Mode {
	case Capture1FPS:
		return 1
	case Capture10FPS:
		return 10
	case CaptureCustom:
		return c.Rate
	default:
		return 0
	}
}

// Step returns the frame stride: a frame is sampled when index%step == 0.
func (c CaptureConfig) Step(fps float64) int {
	rate := c.TargetRate()
	if rate <= 0 || fps <= 0 {
		return 1
	}
	step := int(math.Round(fps / rate))
	if step < 1 {
		return 1
	}
	return step
}
