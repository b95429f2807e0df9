package recorder

import (
	"context"
	"fmt"

	"phantomrecorder/backend/internal/recorder/selector"
)

// handleClick runs the capture chain for one click:
// detected -> suppressed -> synthesized -> forwarded -> replayed.
// Only trusted clicks enter the chain. Replay dispatches are untrusted, so
// a replayed click reaches the page without being captured again.
func (r *Recorder) handleClick(ev Event) {
	if !ev.Trusted() {
		return
	}
	ev.PreventDefault()
	ev.StopPropagation()

	target := ev.Target()
	rec := RecordedEvent{Kind: KindClick}
	sel, err := r.synthesize(target)
	if err != nil {
		// Nothing reached the backend, so the click goes back to the page
		// whatever the failure policy says.
		r.report(StageResolve, rec, err)
		r.replay(target, rec)
		return
	}
	rec.Selector = sel

	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		if err := r.forward(rec); err != nil {
			r.settle(target, rec, StageForward, err)
			return
		}
		r.replay(target, rec)
	}()
}

// handleChange forwards an input commit. The page's own handling of the
// change is left untouched and nothing is replayed.
func (r *Recorder) handleChange(ev Event) {
	if !ev.Trusted() {
		return
	}
	target := ev.Target()
	value := ev.Value()
	rec := RecordedEvent{Kind: KindType, Value: &value}

	sel, err := r.synthesize(target)
	r.surface.Release(target)
	if err != nil {
		r.report(StageResolve, rec, err)
		return
	}
	rec.Selector = sel

	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		if err := r.forward(rec); err != nil {
			r.report(StageForward, rec, err)
		}
	}()
}

func (r *Recorder) synthesize(el Element) (string, error) {
	node, err := r.surface.Resolve(el)
	if err != nil {
		return "", err
	}
	if node == nil {
		return "", errNothingToResolve
	}
	return selector.Synthesize(node, selector.IgnoreClasses(HighlightClass)), nil
}

// forward waits for the backend's acknowledgment, bounded by ackTimeout
// and by Close. A forwarder that ignores its context is abandoned, not
// awaited.
func (r *Recorder) forward(rec RecordedEvent) error {
	ctx, cancel := r.ctx, context.CancelFunc(func() {})
	if r.ackTimeout > 0 {
		ctx, cancel = context.WithTimeout(r.ctx, r.ackTimeout)
	}
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- r.forwarder.Forward(ctx, rec) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("waiting for acknowledgment: %w", ctx.Err())
	}
}

func (r *Recorder) replay(target Element, rec RecordedEvent) {
	defer r.surface.Release(target)
	if err := r.surface.Replay(target); err != nil {
		r.report(StageReplay, rec, err)
	}
}

// settle ends a click chain whose acknowledgment never came.
func (r *Recorder) settle(target Element, rec RecordedEvent, stage Stage, err error) {
	r.report(stage, rec, err)
	if r.policy == ReplayOnFailure {
		r.replay(target, rec)
		return
	}
	r.surface.Release(target)
}
