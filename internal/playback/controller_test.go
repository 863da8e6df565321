package playback

import (
	"context"
	"errors"
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/droneai/review-agent/internal/pipeline"
	"github.com/droneai/review-agent/internal/pipeline/pipelinetest"
)

func fakeOpen(ff *pipelinetest.FakeFFmpeg) func(ctx context.Context) (pipeline.FrameSource, error) {
	return func(ctx context.Context) (pipeline.FrameSource, error) {
		return ff.Open(ctx, "fake.mp4")
	}
}

func waitDone(t *testing.T, c *Controller) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("controller did not finish")
	}
}

func TestController_PlaysToEOF(t *testing.T) {
	ff := pipelinetest.New(30, 90)
	var frames []int
	c := NewController(ControllerConfig{
		Open:    fakeOpen(ff),
		OnFrame: func(frame int, _ float64) { frames = append(frames, frame) },
	})

	go c.Run(context.Background())
	waitDone(t, c)

	reason, err := c.Result()
	require.NoError(t, err)
	assert.Equal(t, EndEOF, reason)
	assert.Len(t, frames, 90)
	assert.Equal(t, 90, c.NextFrame())
	assert.InDelta(t, 89.0/30.0, c.Clock().Position(), 1e-9)
}

func TestController_OpenFailureEndsImmediately(t *testing.T) {
	ff := pipelinetest.New(30, 90)
	ff.OpenErr = errors.New("no such file")
	c := NewController(ControllerConfig{Open: fakeOpen(ff)})

	go c.Run(context.Background())
	waitDone(t, c)

	reason, err := c.Result()
	assert.Equal(t, EndOpenFailed, reason)
	assert.Error(t, err)

	assert.ErrorIs(t, c.Do(context.Background(), func() {}), ErrStopped)
}

func TestController_DecodeErrorEndsStream(t *testing.T) {
	ff := pipelinetest.New(30, 90)
	ff.DecodeErrAt = 40
	c := NewController(ControllerConfig{Open: fakeOpen(ff)})

	go c.Run(context.Background())
	waitDone(t, c)

	reason, err := c.Result()
	assert.Equal(t, EndDecodeError, reason)
	assert.ErrorIs(t, err, pipelinetest.ErrDecode)
	assert.Equal(t, 40, c.NextFrame())
}

func TestController_ResumeSeeksBeforeFirstFrame(t *testing.T) {
	ff := pipelinetest.New(30, 300)
	first := -1
	c := NewController(ControllerConfig{
		Open:       fakeOpen(ff),
		StartFrame: 120,
		OnFrame: func(frame int, _ float64) {
			if first < 0 {
				first = frame
			}
		},
	})

	go c.Run(context.Background())
	waitDone(t, c)

	assert.Equal(t, 120, first)
}

func TestController_PauseStopsAdvancing(t *testing.T) {
	ff := pipelinetest.New(30, 100000)
	clock := NewClock()
	clock.SetPaused(true)

	produced := 0
	c := NewController(ControllerConfig{
		Open:     fakeOpen(ff),
		Clock:    clock,
		Realtime: true,
		OnFrame:  func(int, float64) { produced++ },
	})
	go c.Run(context.Background())

	time.Sleep(100 * time.Millisecond)

	var seen int
	require.NoError(t, c.Do(context.Background(), func() { seen = produced }))
	assert.Equal(t, 0, seen)
	assert.Equal(t, 0.0, clock.Position())

	clock.SetPaused(false)
	require.Eventually(t, func() bool {
		var n int
		if err := c.Do(context.Background(), func() { n = produced }); err != nil {
			return true
		}
		return n > 0
	}, 2*time.Second, 10*time.Millisecond)

	c.Stop()
	waitDone(t, c)
	reason, _ := c.Result()
	assert.Equal(t, EndStopped, reason)
}

func TestController_SeekRepositionsSource(t *testing.T) {
	ff := pipelinetest.New(30, 3000)
	clock := NewClock()
	clock.SetPaused(true)

	type seek struct{ from, to int }
	var seeks []seek
	var frames []int
	c := NewController(ControllerConfig{
		Open:       fakeOpen(ff),
		Clock:      clock,
		StartFrame: 600,
		Realtime:   true,
		OnSeek:     func(from, to int) { seeks = append(seeks, seek{from, to}) },
		OnFrame: func(frame int, _ float64) {
			frames = append(frames, frame)
		},
	})
	go c.Run(context.Background())

	require.Eventually(t, func() bool {
		_, ok := c.Info()
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, c.Do(context.Background(), func() {
		clock.RequestSeek(-5)
		clock.RequestSeek(2)
	}))

	require.Eventually(t, func() bool {
		var n int
		c.Do(context.Background(), func() { n = len(seeks) })
		return n == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, c.Do(context.Background(), func() {
		assert.Equal(t, seek{from: 600, to: 510}, seeks[0])
		assert.Empty(t, frames)
		assert.Equal(t, 17.0, clock.Position())
		clock.SetPaused(false)
	}))

	require.Eventually(t, func() bool {
		var n int
		c.Do(context.Background(), func() { n = len(frames) })
		return n > 0
	}, 2*time.Second, 5*time.Millisecond)

	c.Stop()
	waitDone(t, c)
	assert.Equal(t, 510, frames[0])
}

func TestController_PublishesOverlaidFrames(t *testing.T) {
	ff := pipelinetest.New(30, 5)
	hub := NewHub()
	overlaid := 0
	c := NewController(ControllerConfig{
		Open: fakeOpen(ff),
		Hub:  hub,
		Overlay: func(src *image.RGBA, frame int, position float64) *image.RGBA {
			overlaid++
			return src
		},
	})

	go c.Run(context.Background())
	waitDone(t, c)

	f, ok := hub.Latest()
	require.True(t, ok)
	assert.Equal(t, 4, f.Index)
	assert.Equal(t, 5, overlaid)

	_, err := hub.Next(context.Background(), f.Seq)
	assert.ErrorIs(t, err, ErrStreamClosed)
}

func TestController_RealtimePacing(t *testing.T) {
	ff := pipelinetest.New(100, 20)
	c := NewController(ControllerConfig{Open: fakeOpen(ff), Realtime: true})

	start := time.Now()
	go c.Run(context.Background())
	waitDone(t, c)

	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestController_ContextCancel(t *testing.T) {
	ff := pipelinetest.New(30, 100000)
	ctx, cancel := context.WithCancel(context.Background())
	c := NewController(ControllerConfig{Open: fakeOpen(ff), Realtime: true})

	go c.Run(ctx)
	cancel()
	waitDone(t, c)

	reason, _ := c.Result()
	assert.Equal(t, EndCancelled, reason)
}
