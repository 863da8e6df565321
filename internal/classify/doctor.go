package classify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/droneai/review-agent/internal/logging"
)

const defaultCacheTTL = 5 * time.Minute

// Prober runs a classifier environment probe.
type Prober interface {
	RunDoctor(ctx context.Context) (*Capabilities, error)
}

// CachedDoctor caches doctor probe results so /status does not spawn a
// subprocess per request.
type CachedDoctor struct {
	prober Prober
	ttl    time.Duration
	logger *slog.Logger

	mu     sync.RWMutex
	cached *Capabilities
}

func NewCachedDoctor(prober Prober, logger *slog.Logger) *CachedDoctor {
	if logger == nil {
		logger = logging.Discard()
	}
	return &CachedDoctor{prober: prober, ttl: defaultCacheTTL, logger: logger}
}

// Get returns cached capabilities if fresh, otherwise re-probes.
func (d *CachedDoctor) Get(ctx context.Context) (*Capabilities, error) {
	d.mu.RLock()
	if d.cached != nil && time.Since(d.cached.ProbedAt) < d.ttl {
		caps := d.cached
		d.mu.RUnlock()
		return caps, nil
	}
	d.mu.RUnlock()

	return d.Refresh(ctx)
}

// Peek returns the cached capabilities without probing.
func (d *CachedDoctor) Peek() *Capabilities {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cached
}

// Refresh forces a new probe. A failed probe returns the stale cache if
// there is one.
func (d *CachedDoctor) Refresh(ctx context.Context) (*Capabilities, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	caps, err := d.prober.RunDoctor(ctx)
	if err != nil {
		d.logger.Warn("classifier doctor probe failed", "error", err)
		if d.cached != nil {
			return d.cached, nil
		}
		return nil, err
	}
	d.cached = caps
	return caps, nil
}

func (d *CachedDoctor) Invalidate() {
	d.mu.Lock()
	d.cached = nil
	d.mu.Unlock()
}
