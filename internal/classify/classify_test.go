package classify

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/droneai/review-agent/internal/logging"
)

func TestRunResult_IsSuccess(t *testing.T) {
	tests := []struct {
		exitCode int
		want     bool
	}{
		{0, true},
		{1, false},
		{-1, false},
		{127, false},
	}
	for _, tt := range tests {
		r := RunResult{ExitCode: tt.exitCode}
		if got := r.IsSuccess(); got != tt.want {
			t.Errorf("RunResult{ExitCode: %d}.IsSuccess() = %v, want %v", tt.exitCode, got, tt.want)
		}
	}
}

func TestSignificant(t *testing.T) {
	assert.False(t, Significant(nil, 0.5))
	assert.False(t, Significant(&Prediction{Label: "", Confidence: 0.9}, 0.5))
	assert.False(t, Significant(&Prediction{Label: "crash", Confidence: 0.49}, 0.5))
	assert.True(t, Significant(&Prediction{Label: "crash", Confidence: 0.5}, 0.5))
}

func TestNoop(t *testing.T) {
	p, err := Noop{}.Classify(context.Background(), image.NewRGBA(image.Rect(0, 0, 1, 1)))
	assert.NoError(t, err)
	assert.Nil(t, p)
}

func TestReadPrediction(t *testing.T) {
	dir := t.TempDir()
	write := func(name string, v any) string {
		b, _ := json.Marshal(v)
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, b, 0644))
		return p
	}

	t.Run("valid", func(t *testing.T) {
		p, err := readPrediction(write("ok.json", output{SchemaVersion: "1.0", ModelVersion: "m1", Label: "crash", Confidence: 0.8}))
		require.NoError(t, err)
		assert.Equal(t, &Prediction{Label: "crash", Confidence: 0.8, ModelVersion: "m1"}, p)
	})

	t.Run("no label", func(t *testing.T) {
		p, err := readPrediction(write("none.json", output{SchemaVersion: "1.0", ModelVersion: "m1"}))
		require.NoError(t, err)
		assert.Nil(t, p)
	})

	t.Run("missing fields", func(t *testing.T) {
		_, err := readPrediction(write("bad.json", map[string]string{"schema_version": "1.0"}))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "model_version")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := readPrediction(filepath.Join(dir, "nope.json"))
		assert.Error(t, err)
	})
}

func TestResolvePython_PreferredNotFound(t *testing.T) {
	_, err := resolvePython("/nonexistent/python999")
	if err == nil {
		t.Fatal("expected error for nonexistent python")
	}
}

// fakePython writes a shell script that copies fixture JSON to the --out
// argument, standing in for `python -m module ...`.
func fakePython(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script stand-in requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "python")
	script := "#!/bin/sh\n" +
		"out=\"\"\n" +
		"while [ $# -gt 0 ]; do\n" +
		"  if [ \"$1\" = \"--out\" ]; then out=\"$2\"; fi\n" +
		"  shift\n" +
		"done\n" +
		body
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path
}

func TestSubprocessClassifier_Classify(t *testing.T) {
	python := fakePython(t, `echo '{"schema_version":"1.0","model_version":"m2","label":"crash","confidence":0.91}' > "$out"`+"\n")

	c, err := NewSubprocessClassifier(Config{
		PythonPath:      python,
		ModuleName:      "frame_classifier",
		WorkDir:         t.TempDir(),
		ClassifyTimeout: 10 * time.Second,
		DoctorTimeout:   10 * time.Second,
		Logger:          logging.Discard(),
	})
	require.NoError(t, err)

	p, err := c.Classify(context.Background(), image.NewRGBA(image.Rect(0, 0, 8, 8)))
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "crash", p.Label)
	assert.InDelta(t, 0.91, p.Confidence, 1e-9)

	entries, _ := os.ReadDir(c.cfg.WorkDir)
	assert.Empty(t, entries, "scratch dirs should be removed")
}

func TestSubprocessClassifier_ExitFailure(t *testing.T) {
	python := fakePython(t, "echo 'model not found' >&2\nexit 3\n")

	c, err := NewSubprocessClassifier(Config{
		PythonPath:      python,
		ModuleName:      "frame_classifier",
		WorkDir:         t.TempDir(),
		ClassifyTimeout: 10 * time.Second,
	})
	require.NoError(t, err)

	_, err = c.Classify(context.Background(), image.NewRGBA(image.Rect(0, 0, 8, 8)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exited 3")
	assert.Contains(t, err.Error(), "model not found")
}

func TestSubprocessClassifier_RunDoctor(t *testing.T) {
	python := fakePython(t, `echo '{"package_version":"0.3.0","model_version":"m2","labels":["crash","near_miss"]}' > "$out"`+"\n")

	c, err := NewSubprocessClassifier(Config{
		PythonPath:    python,
		ModuleName:    "frame_classifier",
		WorkDir:       t.TempDir(),
		DoctorTimeout: 10 * time.Second,
	})
	require.NoError(t, err)

	caps, err := c.RunDoctor(context.Background())
	require.NoError(t, err)
	assert.True(t, caps.Available)
	assert.Equal(t, []string{"crash", "near_miss"}, caps.Labels)
	assert.False(t, caps.ProbedAt.IsZero())
}

func TestNewSubprocessClassifier_RequiresModule(t *testing.T) {
	_, err := NewSubprocessClassifier(Config{WorkDir: t.TempDir()})
	assert.Error(t, err)
}

type fakeProber struct {
	calls int
	err   error
}

func (f *fakeProber) RunDoctor(ctx context.Context) (*Capabilities, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &Capabilities{Available: true, ProbedAt: time.Now()}, nil
}

func TestCachedDoctor_TTL(t *testing.T) {
	fake := &fakeProber{}
	doc := NewCachedDoctor(fake, nil)
	doc.ttl = 100 * time.Millisecond
	ctx := context.Background()

	caps1, err := doc.Get(ctx)
	require.NoError(t, err)
	caps2, err := doc.Get(ctx)
	require.NoError(t, err)
	assert.Same(t, caps1, caps2)
	assert.Equal(t, 1, fake.calls)

	time.Sleep(150 * time.Millisecond)

	_, err = doc.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, fake.calls)
}

func TestCachedDoctor_StaleOnFailure(t *testing.T) {
	fake := &fakeProber{}
	doc := NewCachedDoctor(fake, nil)
	ctx := context.Background()

	first, err := doc.Refresh(ctx)
	require.NoError(t, err)

	fake.err = errors.New("boom")
	again, err := doc.Refresh(ctx)
	require.NoError(t, err)
	assert.Same(t, first, again)

	doc.Invalidate()
	assert.Nil(t, doc.Peek())
	_, err = doc.Refresh(ctx)
	assert.Error(t, err)
}
