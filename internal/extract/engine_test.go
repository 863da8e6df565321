package extract

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/droneai/review-agent/internal/classify"
	"github.com/droneai/review-agent/internal/pipeline/pipelinetest"
	"github.com/droneai/review-agent/internal/session"
)

type recordedImage struct {
	path  string
	frame int
}

type imageRecorder struct {
	mu     sync.Mutex
	images []recordedImage
	failOn map[int]bool
}

func (r *imageRecorder) write(path string, img image.Image, quality int) error {
	idx := pipelinetest.FrameIndex(img)
	if r.failOn[idx] {
		return errors.New("disk full")
	}
	if err := os.WriteFile(path, []byte("jpg"), 0644); err != nil {
		return err
	}
	r.mu.Lock()
	r.images = append(r.images, recordedImage{path: path, frame: idx})
	r.mu.Unlock()
	return nil
}

func (r *imageRecorder) framesIn(dir string) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []int
	for _, im := range r.images {
		if filepath.Dir(im.path) == dir {
			out = append(out, im.frame)
		}
	}
	return out
}

func eventsJob(out string) Job {
	return Job{
		SessionID: "s-1",
		VideoPath: "/videos/drive.mp4",
		OutputDir: out,
		Mode:      session.ModeEvents,
		Events:    []session.Event{{Index: 1, Type: "crash", Time: 10}, {Index: 2, Type: "crash", Time: 50}},
		Window:    session.Window{Before: 2 * time.Second, After: 2 * time.Second},
	}
}

func TestRun_EventClipsAroundMarks(t *testing.T) {
	ff := pipelinetest.New(30, 3000)
	out := t.TempDir()
	e := New(Config{FFmpeg: ff})

	res, err := e.Run(context.Background(), eventsJob(out))
	require.NoError(t, err)

	assert.Equal(t, 2, res.Clips)
	assert.Equal(t, 0, res.Failures)
	require.Len(t, res.Rows, 2)

	first, second := res.Rows[0], res.Rows[1]
	assert.Equal(t, 240, first.StartFrame)
	assert.Equal(t, 360, first.EndFrame)
	assert.InDelta(t, 8.0, first.StartSec, 1e-9)
	assert.InDelta(t, 12.0, first.EndSec, 1e-9)
	assert.Equal(t, "crash_01.mp4", first.ClipFile)
	assert.Equal(t, 1440, second.StartFrame)
	assert.Equal(t, 1560, second.EndFrame)
	assert.Equal(t, "crash_02.mp4", second.ClipFile)

	clip := ff.Clip(filepath.Join(out, "crash_01.mp4"))
	require.NotNil(t, clip)
	frames := clip.Frames()
	require.Len(t, frames, 121)
	assert.Equal(t, 240, frames[0])
	assert.Equal(t, 360, frames[len(frames)-1])

	for _, name := range []string{"crash_01.mp4", "crash_02.mp4", "report.csv", "report.edl"} {
		_, err := os.Stat(filepath.Join(out, name))
		assert.NoError(t, err, name)
	}
	assert.Equal(t, 1, ff.Opens(), "one decode pass for all events")

	p := e.Progress()
	assert.False(t, p.InProgress)
	assert.Equal(t, int64(2), p.Current)
	assert.Equal(t, int64(2), p.Total)
}

func TestRun_WindowClampedToVideo(t *testing.T) {
	ff := pipelinetest.New(30, 300)
	out := t.TempDir()
	job := eventsJob(out)
	job.Events = []session.Event{{Index: 1, Type: "start", Time: 0.5}, {Index: 2, Type: "end", Time: 9.9}}

	res, err := New(Config{FFmpeg: ff}).Run(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, 0, res.Rows[0].StartFrame)
	assert.Equal(t, 75, res.Rows[0].EndFrame)
	assert.Equal(t, 237, res.Rows[1].StartFrame)
	assert.Equal(t, 299, res.Rows[1].EndFrame)
}

func TestRun_FailedClipDoesNotAbort(t *testing.T) {
	ff := pipelinetest.New(30, 3000)
	ff.FailClips = map[string]bool{"crash_01.mp4": true}
	out := t.TempDir()

	res, err := New(Config{FFmpeg: ff}).Run(context.Background(), eventsJob(out))
	require.NoError(t, err)

	assert.Equal(t, 1, res.Clips)
	assert.Equal(t, 1, res.Failures)
	assert.NotEmpty(t, res.Rows[0].Error)
	assert.Empty(t, res.Rows[0].ClipFile)
	assert.Equal(t, "crash_02.mp4", res.Rows[1].ClipFile)

	_, err = os.Stat(filepath.Join(out, "crash_01.mp4"))
	assert.True(t, os.IsNotExist(err))

	edl, err := os.ReadFile(filepath.Join(out, "report.edl"))
	require.NoError(t, err)
	assert.NotContains(t, string(edl), "crash_01.mp4")
	assert.Contains(t, string(edl), "crash_02.mp4")
}

func TestRun_OpenFailure(t *testing.T) {
	ff := pipelinetest.New(30, 3000)
	ff.OpenErr = errors.New("no such file")

	_, err := New(Config{FFmpeg: ff}).Run(context.Background(), eventsJob(t.TempDir()))
	assert.Error(t, err)
}

type fixedClassifier struct {
	mu     sync.Mutex
	frames []int
	conf   float64
}

func (f *fixedClassifier) Classify(ctx context.Context, img image.Image) (*classify.Prediction, error) {
	f.mu.Lock()
	f.frames = append(f.frames, pipelinetest.FrameIndex(img))
	f.mu.Unlock()
	return &classify.Prediction{Label: "crash", Confidence: f.conf}, nil
}

func TestRun_ClassifiesEventFrame(t *testing.T) {
	ff := pipelinetest.New(30, 3000)
	cls := &fixedClassifier{conf: 0.7}

	res, err := New(Config{FFmpeg: ff, Classifier: cls, Threshold: 0.5}).Run(context.Background(), eventsJob(t.TempDir()))
	require.NoError(t, err)

	assert.Equal(t, []int{300, 1500}, cls.frames, "the undecorated event frame is classified")
	assert.Equal(t, "crash", res.Rows[0].ModelLabel)
	assert.True(t, res.Rows[0].Significant)
	assert.Equal(t, 2, res.Significant)
}

func labelsJob(out string, capture session.CaptureConfig) Job {
	return Job{
		SessionID: "s-2",
		VideoPath: "/videos/drive.mp4",
		OutputDir: out,
		Mode:      session.ModeLabels,
		Chunks: []session.LabelChunk{
			{Start: 0, End: 149, Label: "A"},
			{Start: 150, End: 179, Label: "B"},
			{Start: 180, End: 269, Label: "A"},
		},
		Capture: capture,
	}
}

func TestRun_LabelSampling(t *testing.T) {
	ff := pipelinetest.New(30, 900)
	out := t.TempDir()
	rec := &imageRecorder{}
	e := New(Config{FFmpeg: ff, WriteImage: rec.write})

	res, err := e.Run(context.Background(), labelsJob(out, session.CaptureConfig{Mode: session.Capture10FPS}))
	require.NoError(t, err)

	// step = 3: A holds 0..149 and 180..269, B holds 150..179.
	aFrames := rec.framesIn(filepath.Join(out, "A"))
	bFrames := rec.framesIn(filepath.Join(out, "B"))
	assert.Len(t, aFrames, 50+30)
	assert.Len(t, bFrames, 10)
	for _, f := range append(aFrames, bFrames...) {
		assert.Zero(t, f%3, "frame %d is off the sampling grid", f)
	}
	assert.Equal(t, 90, res.Frames)
	assert.Equal(t, 0, res.Failures)

	_, err = os.Stat(filepath.Join(out, "A", "A_000001.jpg"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(out, "A", "A_000080.jpg"))
	assert.NoError(t, err)

	p := e.Progress()
	assert.Equal(t, int64(270), p.Total)
	assert.Equal(t, int64(270), p.Current)
}

func TestRun_LabelFrameFailureContinues(t *testing.T) {
	ff := pipelinetest.New(30, 300)
	out := t.TempDir()
	rec := &imageRecorder{failOn: map[int]bool{0: true, 150: true}}

	res, err := New(Config{FFmpeg: ff, WriteImage: rec.write}).Run(context.Background(),
		labelsJob(out, session.CaptureConfig{Mode: session.Capture1FPS}))
	require.NoError(t, err)

	// 1fps at 30fps: frames 0,30,...,240 are in chunks (9 frames).
	assert.Equal(t, 2, res.Failures)
	assert.Equal(t, 7, res.Frames)
}

func TestRun_LabelNameCollision(t *testing.T) {
	ff := pipelinetest.New(30, 60)
	out := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(out, "A"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(out, "A", "A_000001.jpg"), []byte("old"), 0644))

	rec := &imageRecorder{}
	job := labelsJob(out, session.CaptureConfig{Mode: session.Capture1FPS})
	job.Chunks = []session.LabelChunk{{Start: 0, End: 59, Label: "A"}}

	_, err := New(Config{FFmpeg: ff, WriteImage: rec.write}).Run(context.Background(), job)
	require.NoError(t, err)

	var names []string
	for _, im := range rec.images {
		names = append(names, filepath.Base(im.path))
	}
	sort.Strings(names)
	assert.Equal(t, []string{"A_000001_1.jpg", "A_000002.jpg"}, names)
}

func TestRun_LabelDecodeErrorKeepsFrames(t *testing.T) {
	ff := pipelinetest.New(30, 300)
	ff.DecodeErrAt = 100
	rec := &imageRecorder{}

	res, err := New(Config{FFmpeg: ff, WriteImage: rec.write}).Run(context.Background(),
		labelsJob(t.TempDir(), session.CaptureConfig{Mode: session.CaptureEvery}))
	require.NoError(t, err)
	assert.Equal(t, 100, res.Frames)
}

func TestRun_UnsafeLabelNames(t *testing.T) {
	ff := pipelinetest.New(30, 30)
	out := t.TempDir()
	rec := &imageRecorder{}
	job := labelsJob(out, session.CaptureConfig{Mode: session.Capture1FPS})
	job.Chunks = []session.LabelChunk{{Start: 0, End: 29, Label: "../near miss"}}

	_, err := New(Config{FFmpeg: ff, WriteImage: rec.write}).Run(context.Background(), job)
	require.NoError(t, err)

	require.Len(t, rec.images, 1)
	assert.True(t, strings.HasPrefix(rec.images[0].path, out))
	assert.Equal(t, "near_miss", filepath.Base(filepath.Dir(rec.images[0].path)))
}

func TestRun_RejectsConcurrentRuns(t *testing.T) {
	e := New(Config{FFmpeg: pipelinetest.New(30, 30)})
	e.mu.Lock()
	defer e.mu.Unlock()

	_, err := e.Run(context.Background(), eventsJob(t.TempDir()))
	assert.ErrorIs(t, err, ErrBusy)
}
