package recorder

// The highlight tracker keeps at most one element marked with
// HighlightClass. It is purely cosmetic and never talks to the backend.

func (r *Recorder) handlePointerEnter(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.hovered != nil {
		r.unmark(r.hovered)
	}
	r.hovered = ev.Target()
	if err := r.surface.AddClass(r.hovered, HighlightClass); err != nil {
		r.report(StageHighlight, RecordedEvent{}, err)
	}
}

func (r *Recorder) handlePointerLeave(Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.hovered != nil {
		r.unmark(r.hovered)
		r.hovered = nil
	}
}

// Hovered returns the element currently carrying the highlight, if any.
func (r *Recorder) Hovered() Element {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hovered
}

func (r *Recorder) unmark(el Element) {
	if err := r.surface.RemoveClass(el, HighlightClass); err != nil {
		r.report(StageHighlight, RecordedEvent{}, err)
	}
	r.surface.Release(el)
}
