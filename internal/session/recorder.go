package session

// Recorder appends discrete marks with 1-based sequence indices.
// It is not safe for concurrent use; the playback loop owns it.
type Recorder struct {
	events []Event
	next   int
}

func NewRecorder(existing []Event) *Recorder {
	r := &Recorder{next: 1}
	for _, e := range existing {
		r.events = append(r.events, e)
		if e.Index >= r.next {
			r.next = e.Index + 1
		}
	}
	return r
}

func (r *Recorder) Mark(eventType string, at float64) Event {
	e := Event{Index: r.next, Type: eventType, Time: at}
	r.events = append(r.events, e)
	r.next++
	return e
}

// Undo pops the most recent mark and gives its index back.
func (r *Recorder) Undo() (Event, bool) {
	if len(r.events) == 0 {
		return Event{}, false
	}
	last := r.events[len(r.events)-1]
	r.events = r.events[:len(r.events)-1]
	r.next = last.Index
	return last, true
}

func (r *Recorder) Len() int {
	return len(r.events)
}

func (r *Recorder) Events() []Event {
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}
