// Package recorder turns live user input on a controlled page into
// recorded events and replays the original action once the backend has
// acknowledged it.
//
// The page itself is reached through a Surface, the interception layer the
// host platform provides (a CDP-driven browser tab in production, an
// in-memory document in tests). Surfaces deliver events to the recorder
// ahead of every page-level handler.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/html"
)

const (
	// HighlightClass marks the element currently under the pointer.
	HighlightClass = "phantom-recording-highlight"

	// HighlightCSS is the only stylesheet rule the recorder installs.
	HighlightCSS = `.` + HighlightClass + ` { outline: 2px solid red !important; cursor: crosshair !important; }`

	DefaultAckTimeout = 10 * time.Second
)

var (
	ErrElementDetached  = errors.New("element is no longer attached to the page")
	ErrUnknownPolicy    = errors.New("unknown failure policy")
	errNothingToResolve = errors.New("surface resolved no element")
)

type EventType string

const (
	EventPointerEnter EventType = "mouseover"
	EventPointerLeave EventType = "mouseout"
	EventClick        EventType = "click"
	EventChange       EventType = "change"
)

// Kind is the action a RecordedEvent describes.
type Kind string

const (
	KindClick Kind = "click"
	KindType  Kind = "type"
)

// RecordedEvent is the payload handed to the backend for every qualifying
// user action. Value is only set for KindType.
type RecordedEvent struct {
	Kind     Kind    `json:"event_type"`
	Selector string  `json:"selector"`
	Value    *string `json:"value,omitempty"`
}

func (e RecordedEvent) String() string {
	if e.Value != nil {
		return fmt.Sprintf("%s %s = %q", e.Kind, e.Selector, *e.Value)
	}
	return fmt.Sprintf("%s %s", e.Kind, e.Selector)
}

// Element is an opaque, non-owning reference to a node of the page.
type Element interface{}

// Event is a DOM event as seen by the interception layer.
type Event interface {
	Type() EventType
	Target() Element
	// Trusted reports whether the event comes from a genuine user action.
	// Programmatic dispatches, including Replay, are never trusted.
	Trusted() bool
	// Value is the target control's value at dispatch time.
	Value() string
	PreventDefault()
	StopPropagation()
}

type Handler func(Event)

// Surface is the injected capability the recorder is installed into.
type Surface interface {
	// Mark sets the page's install marker and reports whether it was
	// already set. Check and set happen atomically on the page.
	Mark() (bool, error)
	InstallStyle(css string) error
	// Listen registers h ahead of every page-level handler for t.
	Listen(t EventType, h Handler) error
	// Reset clears the marker, the stylesheet and every listener an
	// incomplete install left behind.
	Reset() error
	AddClass(el Element, class string) error
	RemoveClass(el Element, class string) error
	// Resolve returns the parsed DOM node of el, rooted in its document.
	Resolve(el Element) (*html.Node, error)
	// Replay dispatches an untrusted activation on el.
	Replay(el Element) error
	// Release drops the surface's reference to el.
	Release(el Element)
}

// Forwarder delivers recorded events to the backend. A nil error is the
// acknowledgment that gates click replay.
type Forwarder interface {
	Forward(ctx context.Context, ev RecordedEvent) error
}

type ForwarderFunc func(ctx context.Context, ev RecordedEvent) error

func (f ForwarderFunc) Forward(ctx context.Context, ev RecordedEvent) error {
	return f(ctx, ev)
}

// FailurePolicy decides what happens to a suppressed click the backend did
// not acknowledge.
type FailurePolicy int

const (
	// DropOnFailure leaves the click swallowed.
	DropOnFailure FailurePolicy = iota
	// ReplayOnFailure replays the click without a recorded step.
	ReplayOnFailure
)

func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch s {
	case "", "drop":
		return DropOnFailure, nil
	case "replay":
		return ReplayOnFailure, nil
	}
	return DropOnFailure, fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
}

func (p FailurePolicy) String() string {
	if p == ReplayOnFailure {
		return "replay"
	}
	return "drop"
}

type Stage string

const (
	StageResolve   Stage = "resolve"
	StageForward   Stage = "forward"
	StageReplay    Stage = "replay"
	StageHighlight Stage = "highlight"
)

// Failure describes a step of an event chain that did not complete.
type Failure struct {
	Stage Stage
	Event RecordedEvent
	Err   error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s %s: %v", f.Stage, f.Event.Kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

type Option func(*Recorder)

// WithAckTimeout bounds how long a click waits for its acknowledgment.
// Zero disables the bound.
func WithAckTimeout(d time.Duration) Option {
	return func(r *Recorder) { r.ackTimeout = d }
}

func WithFailurePolicy(p FailurePolicy) Option {
	return func(r *Recorder) { r.policy = p }
}

// WithErrorHandler receives every Failure. It may be called from any
// goroutine.
func WithErrorHandler(fn func(*Failure)) Option {
	return func(r *Recorder) { r.onError = fn }
}

// Recorder owns the install guard, the hover state and the in-flight event
// chains of one page context.
type Recorder struct {
	forwarder  Forwarder
	ackTimeout time.Duration
	policy     FailurePolicy
	onError    func(*Failure)

	installed atomic.Bool
	surface   Surface

	mu      sync.Mutex
	hovered Element

	inflight sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

func New(fwd Forwarder, opts ...Option) *Recorder {
	r := &Recorder{
		forwarder:  fwd,
		ackTimeout: DefaultAckTimeout,
		onError:    func(*Failure) {},
	}
	for _, opt := range opts {
		opt(r)
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())
	return r
}

// Install wires the recorder into s: page marker, stylesheet, highlight
// listeners, then interceptor listeners. It reports false without error
// when the recorder or the page was already set up.
func (r *Recorder) Install(s Surface) (bool, error) {
	if !r.installed.CompareAndSwap(false, true) {
		return false, nil
	}
	already, err := s.Mark()
	if err != nil {
		r.installed.Store(false)
		return false, fmt.Errorf("marking page: %w", err)
	}
	if already {
		r.installed.Store(false)
		return false, nil
	}
	r.surface = s

	if err := s.InstallStyle(HighlightCSS); err != nil {
		return false, r.abort(s, fmt.Errorf("installing highlight style: %w", err))
	}
	listeners := []struct {
		t EventType
		h Handler
	}{
		{EventPointerEnter, r.handlePointerEnter},
		{EventPointerLeave, r.handlePointerLeave},
		{EventClick, r.handleClick},
		{EventChange, r.handleChange},
	}
	for _, l := range listeners {
		if err := s.Listen(l.t, l.h); err != nil {
			return false, r.abort(s, fmt.Errorf("listening for %s: %w", l.t, err))
		}
	}
	return true, nil
}

// abort undoes a partial install so the page can be set up again.
func (r *Recorder) abort(s Surface, err error) error {
	r.surface = nil
	if rerr := s.Reset(); rerr != nil {
		err = fmt.Errorf("%w (reset: %v)", err, rerr)
	}
	r.installed.Store(false)
	return err
}

func (r *Recorder) Installed() bool {
	return r.installed.Load()
}

// Wait blocks until every in-flight event chain has finished.
func (r *Recorder) Wait() {
	r.inflight.Wait()
}

// Close abandons pending acknowledgments and waits for their chains to
// settle according to the failure policy.
func (r *Recorder) Close() {
	r.cancel()
	r.inflight.Wait()
}

func (r *Recorder) report(stage Stage, ev RecordedEvent, err error) {
	r.onError(&Failure{Stage: stage, Event: ev, Err: err})
}
