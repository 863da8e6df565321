package playback

import (
	"context"
	"errors"
	"image"
	"sync"
)

// ErrStreamClosed is returned by Hub.Next once the stream has ended and the
// latest frame has already been consumed.
var ErrStreamClosed = errors.New("frame stream closed")

type Frame struct {
	Seq      uint64
	Index    int
	Position float64
	Image    image.Image
}

// Hub holds the most recent frame. Consumers pull frames newer than the last
// sequence number they saw; a slow consumer skips frames instead of blocking
// the producer.
type Hub struct {
	mu     sync.Mutex
	latest Frame
	closed bool
	notify chan struct{}
}

func NewHub() *Hub {
	return &Hub{notify: make(chan struct{})}
}

func (h *Hub) Publish(index int, position float64, img image.Image) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.latest = Frame{Seq: h.latest.Seq + 1, Index: index, Position: position, Image: img}
	close(h.notify)
	h.notify = make(chan struct{})
}

func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	close(h.notify)
}

func (h *Hub) Latest() (Frame, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.latest, h.latest.Seq > 0
}

// Next blocks until a frame with Seq > after is available.
func (h *Hub) Next(ctx context.Context, after uint64) (Frame, error) {
	for {
		h.mu.Lock()
		if h.latest.Seq > after {
			f := h.latest
			h.mu.Unlock()
			return f, nil
		}
		if h.closed {
			h.mu.Unlock()
			return Frame{}, ErrStreamClosed
		}
		ch := h.notify
		h.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		}
	}
}
