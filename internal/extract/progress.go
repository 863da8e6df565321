package extract

import "sync/atomic"

// Progress counts units of work for the running extraction. Readers never
// block the extraction loop.
type Progress struct {
	inProgress atomic.Bool
	current    atomic.Int64
	total      atomic.Int64
}

type ProgressSnapshot struct {
	InProgress bool  `json:"in_progress"`
	Current    int64 `json:"current"`
	Total      int64 `json:"total"`
}

func (p *Progress) start(total int64) {
	p.current.Store(0)
	p.total.Store(total)
	p.inProgress.Store(true)
}

func (p *Progress) add(n int64) int64 {
	return p.current.Add(n)
}

func (p *Progress) finish() {
	p.inProgress.Store(false)
}

func (p *Progress) Snapshot() ProgressSnapshot {
	return ProgressSnapshot{
		InProgress: p.inProgress.Load(),
		Current:    p.current.Load(),
		Total:      p.total.Load(),
	}
}
