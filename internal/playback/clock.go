// Package playback drives a frame source along a shared timeline, applying
// pause and seek requests between frame-production steps, and fans frames out
// to pull-based stream consumers.
package playback

import (
	"sync"
)

// Clock is the session timeline: play position, duration, pause flag and an
// additive pending seek. Only the controller advances it; pause and seek may
// be requested from any goroutine.
type Clock struct {
	mu          sync.Mutex
	position    float64
	duration    float64
	paused      bool
	pendingSeek float64
	seekQueued  bool
}

type ClockState struct {
	Position    float64 `json:"position"`
	Duration    float64 `json:"duration"`
	Paused      bool    `json:"paused"`
	PendingSeek float64 `json:"pending_seek"`
}

func NewClock() *Clock {
	return &Clock{}
}

// Reset sets the position and duration for a new playback pass and clears any
// pending seek. The pause flag is kept.
func (c *Clock) Reset(position, duration float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.duration = duration
	c.position = c.clamp(position)
	c.pendingSeek = 0
	c.seekQueued = false
}

func (c *Clock) SetDuration(duration float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.duration = duration
	c.position = c.clamp(c.position)
}

// Advance sets position to frameIndex / fps.
func (c *Clock) Advance(frameIndex int, fps float64) {
	if fps <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.position = c.clamp(float64(frameIndex) / fps)
}

// RequestSeek adds delta seconds to the pending seek.
func (c *Clock) RequestSeek(delta float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingSeek += delta
	c.seekQueued = true
}

// TakeSeek consumes the pending seek. When one was queued it moves the
// position to clamp(position + delta) and returns it.
func (c *Clock) TakeSeek() (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.seekQueued {
		return c.position, false
	}
	c.position = c.clamp(c.position + c.pendingSeek)
	c.pendingSeek = 0
	c.seekQueued = false
	return c.position, true
}

// TogglePause flips the pause flag and returns the new value.
func (c *Clock) TogglePause() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = !c.paused
	return c.paused
}

func (c *Clock) SetPaused(paused bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = paused
}

func (c *Clock) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

func (c *Clock) Position() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.position
}

func (c *Clock) State() ClockState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ClockState{
		Position:    c.position,
		Duration:    c.duration,
		Paused:      c.paused,
		PendingSeek: c.pendingSeek,
	}
}

// clamp keeps p within [0, duration]. An unknown duration only bounds below.
func (c *Clock) clamp(p float64) float64 {
	if p < 0 {
		return 0
	}
	if c.duration > 0 && p > c.duration {
		return c.duration
	}
	return p
}
