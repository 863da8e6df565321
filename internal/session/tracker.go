package session

import "sort"

// Tracker folds playback time spent under the active label into chunks.
//
// The open interval starts at anchor (the frame being shown when the label
// was set, or the landing frame of the last seek) and ends just before the
// frame passed to CloseCurrentInterval.
type Tracker struct {
	chunks []LabelChunk
	active string
	anchor int
}

func NewTracker(chunks []LabelChunk, active string, anchor int) *Tracker {
	t := &Tracker{active: active, anchor: anchor}
	t.chunks = append(t.chunks, chunks...)
	return t
}

func (t *Tracker) Active() string {
	return t.active
}

// SetActive closes the interval accrued under the previous label at frame
// and starts a new one for label. An empty label stops accruing.
func (t *Tracker) SetActive(label string, frame int) {
	t.CloseCurrentInterval(frame)
	t.active = label
	t.anchor = frame
}

// CloseCurrentInterval records [anchor, frame-1] under the active label and
// moves the anchor to frame. Calling it twice at the same frame is a no-op.
func (t *Tracker) CloseCurrentInterval(frame int) {
	if t.active != "" && frame > t.anchor {
		t.AddOrUpdate(t.active, t.anchor, frame-1)
	}
	t.anchor = frame
}

// Seeked closes the interval at the pre-seek frame and re-anchors at the
// landing frame so a jump never paints the skipped range.
func (t *Tracker) Seeked(from, to int) {
	t.CloseCurrentInterval(from)
	t.anchor = to
}

// AddOrUpdate stores [start, end] under label. An in-order range that touches
// the last chunk with the same label extends it; anything that lands before
// or over existing chunks overwrites that span and re-coalesces the list so
// it stays sorted and non-overlapping.
func (t *Tracker) AddOrUpdate(label string, start, end int) {
	if start > end {
		start, end = end, start
	}
	if start < 0 {
		start = 0
	}
	if end < start {
		return
	}

	n := len(t.chunks)
	if n == 0 {
		t.chunks = append(t.chunks, LabelChunk{Start: start, End: end, Label: label})
		return
	}

	last := &t.chunks[n-1]
	if last.Label == label && start >= last.Start && start <= last.End+1 {
		if end > last.End {
			last.End = end
		}
		return
	}
	if start > last.End {
		t.chunks = append(t.chunks, LabelChunk{Start: start, End: end, Label: label})
		return
	}

	t.splice(LabelChunk{Start: start, End: end, Label: label})
}

func (t *Tracker) splice(c LabelChunk) {
	out := make([]LabelChunk, 0, len(t.chunks)+2)
	for _, e := range t.chunks {
		if e.End < c.Start || e.Start > c.End {
			out = append(out, e)
			continue
		}
		if e.Start < c.Start {
			out = append(out, LabelChunk{Start: e.Start, End: c.Start - 1, Label: e.Label})
		}
		if e.End > c.End {
			out = append(out, LabelChunk{Start: c.End + 1, End: e.End, Label: e.Label})
		}
	}
	out = append(out, c)
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })

	merged := out[:0]
	for _, e := range out {
		if k := len(merged); k > 0 {
			prev := &merged[k-1]
			if prev.Label == e.Label && e.Start <= prev.End+1 {
				if e.End > prev.End {
					prev.End = e.End
				}
				continue
			}
		}
		merged = append(merged, e)
	}
	t.chunks = merged
}

func (t *Tracker) Chunks() []LabelChunk {
	out := make([]LabelChunk, len(t.chunks))
	copy(out, t.chunks)
	return out
}

// TotalFrames is the sum of all chunk lengths.
func (t *Tracker) TotalFrames() int {
	return TotalFrames(t.chunks)
}

func TotalFrames(chunks []LabelChunk) int {
	total := 0
	for _, c := range chunks {
		total += c.Len()
	}
	return total
}

// LabelAt returns the label of the first chunk containing frame.
func LabelAt(chunks []LabelChunk, frame int) string {
	for _, c := range chunks {
		if c.Contains(frame) {
			return c.Label
		}
	}
	return ""
}
