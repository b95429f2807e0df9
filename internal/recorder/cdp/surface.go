// Package cdp implements recorder.Surface on top of a chromedp browser tab.
//
// A small page shim (shim.js) is evaluated in every document of the tab. It
// registers capture listeners on request, suppresses trusted clicks while
// they are still being dispatched, and reports events back through a CDP
// binding. Targets of click and change reports are looked up in the live DOM
// over the DevTools protocol and converted to html nodes for synthesis.
package cdp

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"golang.org/x/net/html"

	"phantomrecorder/backend/internal/recorder"
)

//go:embed shim.js
var shim string

const (
	BindingName = "__phantomRecorderEvent"
	shimObject  = "window.__phantomRecorder"
	queueSize   = 256
)

type payload struct {
	Doc     string             `json:"doc"`
	Type    recorder.EventType `json:"type"`
	Handle  int64              `json:"handle"`
	Trusted bool               `json:"trusted"`
	Value   string             `json:"value"`
}

// Tab owns the binding, the event queue and the dispatch goroutine of one
// browser tab. A fresh Surface is handed to install for every document the
// tab loads.
type Tab struct {
	ctx     context.Context
	install func(*Surface)
	events  chan payload

	mu       sync.Mutex
	surfaces map[string]*Surface
}

// Attach prepares the tab behind ctx (a chromedp context) and calls install
// with a Surface for the current document, then again for every new
// document. Events are dispatched until ctx is done.
func Attach(ctx context.Context, install func(*Surface)) (*Tab, error) {
	t := &Tab{
		ctx:      ctx,
		install:  install,
		events:   make(chan payload, queueSize),
		surfaces: make(map[string]*Surface),
	}

	chromedp.ListenTarget(ctx, t.onTargetEvent)

	err := chromedp.Run(ctx,
		runtime.AddBinding(BindingName),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(shim).Do(ctx)
			return err
		}),
		chromedp.Evaluate(shim, nil),
	)
	if err != nil {
		return nil, fmt.Errorf("attaching recorder shim: %w", err)
	}

	go t.dispatch()
	install(t.newSurface())
	return t, nil
}

// onTargetEvent runs on chromedp's event goroutine and must not block.
func (t *Tab) onTargetEvent(ev interface{}) {
	switch e := ev.(type) {
	case *runtime.EventBindingCalled:
		if e.Name != BindingName {
			return
		}
		var p payload
		if err := json.Unmarshal([]byte(e.Payload), &p); err != nil {
			log.Printf("recorder: malformed event payload: %v", err)
			return
		}
		select {
		case t.events <- p:
		default:
			log.Printf("recorder: event queue full, dropping %s", p.Type)
		}
	case *page.EventDomContentEventFired:
		go t.install(t.newSurface())
	}
}

func (t *Tab) dispatch() {
	for {
		select {
		case <-t.ctx.Done():
			return
		case p := <-t.events:
			t.mu.Lock()
			s := t.surfaces[p.Doc]
			t.mu.Unlock()
			if s == nil {
				continue
			}
			s.deliver(p)
		}
	}
}

func (t *Tab) newSurface() *Surface {
	return &Surface{tab: t, listeners: make(map[recorder.EventType][]recorder.Handler)}
}

func (t *Tab) register(doc string, s *Surface) {
	t.mu.Lock()
	defer t.mu.Unlock()
	// Only the latest document of the tab is live.
	t.surfaces = map[string]*Surface{doc: s}
}

// Surface is one document of a Tab.
type Surface struct {
	tab *Tab

	mu        sync.Mutex
	doc       string
	listeners map[recorder.EventType][]recorder.Handler
}

var _ recorder.Surface = (*Surface)(nil)

// Node is the recorder.Element handed out by a Surface. It refers to a live
// page element through a shim handle and, for click and change events, to
// the matching node of the converted live document.
type Node struct {
	handle int64
	node   *html.Node
	err    error
}

type event struct {
	typ     recorder.EventType
	target  *Node
	trusted bool
	value   string
}

func (e *event) Type() recorder.EventType { return e.typ }
func (e *event) Target() recorder.Element { return e.target }
func (e *event) Trusted() bool            { return e.trusted }
func (e *event) Value() string            { return e.value }

// Suppression already happened inside the page.
func (e *event) PreventDefault()  {}
func (e *event) StopPropagation() {}

func (s *Surface) deliver(p payload) {
	n := &Node{handle: p.Handle}
	if p.Type == recorder.EventClick || p.Type == recorder.EventChange {
		n.node, n.err = s.resolveLive(p.Handle)
	}

	s.mu.Lock()
	handlers := append([]recorder.Handler(nil), s.listeners[p.Type]...)
	s.mu.Unlock()

	ev := &event{typ: p.Type, target: n, trusted: p.Trusted, value: p.Value}
	for _, h := range handlers {
		h(ev)
	}
	if len(handlers) == 0 {
		s.Release(n)
	}
}

func (s *Surface) Mark() (bool, error) {
	var res struct {
		Already bool   `json:"already"`
		Doc     string `json:"doc"`
	}
	if err := s.eval(shimObject+".mark()", &res); err != nil {
		return false, err
	}
	if res.Already {
		return true, nil
	}
	s.mu.Lock()
	s.doc = res.Doc
	s.mu.Unlock()
	s.tab.register(res.Doc, s)
	return false, nil
}

func (s *Surface) InstallStyle(css string) error {
	_, err := s.call("style", css)
	return err
}

func (s *Surface) Listen(t recorder.EventType, h recorder.Handler) error {
	s.mu.Lock()
	s.listeners[t] = append(s.listeners[t], h)
	s.mu.Unlock()
	_, err := s.call("listen", string(t))
	return err
}

func (s *Surface) Reset() error {
	s.mu.Lock()
	s.listeners = make(map[recorder.EventType][]recorder.Handler)
	s.mu.Unlock()
	_, err := s.call("reset")
	return err
}

func (s *Surface) AddClass(el recorder.Element, class string) error {
	n, err := node(el)
	if err != nil {
		return err
	}
	_, err = s.call("addClass", n.handle, class)
	return err
}

func (s *Surface) RemoveClass(el recorder.Element, class string) error {
	n, err := node(el)
	if err != nil {
		return err
	}
	_, err = s.call("removeClass", n.handle, class)
	return err
}

func (s *Surface) Resolve(el recorder.Element) (*html.Node, error) {
	n, err := node(el)
	if err != nil {
		return nil, err
	}
	return n.node, n.err
}

func (s *Surface) Replay(el recorder.Element) error {
	n, err := node(el)
	if err != nil {
		return err
	}
	ok, err := s.call("replay", n.handle)
	if err != nil {
		return err
	}
	if !ok {
		return recorder.ErrElementDetached
	}
	return nil
}

func (s *Surface) Release(el recorder.Element) {
	n, err := node(el)
	if err != nil || n.handle == 0 {
		return
	}
	if _, err := s.call("release", n.handle); err != nil && s.tab.ctx.Err() == nil {
		log.Printf("recorder: releasing handle %d: %v", n.handle, err)
	}
}

// resolveLive finds the element behind handle in a full DOM.getDocument
// tree of the page.
func (s *Surface) resolveLive(handle int64) (*html.Node, error) {
	if handle == 0 {
		return nil, recorder.ErrElementDetached
	}
	s.mu.Lock()
	doc := s.doc
	s.mu.Unlock()
	docJSON, _ := json.Marshal(doc)
	expr := fmt.Sprintf("(function(r){ return r && r.doc === %s ? r.node(%d) : null; })(%s)",
		docJSON, handle, shimObject)

	var found *html.Node
	err := chromedp.Run(s.tab.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		obj, exc, err := runtime.Evaluate(expr).Do(ctx)
		if err != nil {
			return err
		}
		if exc != nil {
			return fmt.Errorf("looking up handle %d: %s", handle, exc.Text)
		}
		if obj.ObjectID == "" {
			return recorder.ErrElementDetached
		}
		defer runtime.ReleaseObject(obj.ObjectID).Do(ctx)

		target, err := dom.DescribeNode().WithObjectID(obj.ObjectID).Do(ctx)
		if err != nil {
			return fmt.Errorf("describing handle %d: %w", handle, err)
		}
		root, err := dom.GetDocument().WithDepth(-1).Do(ctx)
		if err != nil {
			return fmt.Errorf("reading document: %w", err)
		}
		_, index := liveTree(root)
		found = index[target.BackendNodeID]
		if found == nil {
			return ErrNodeNotFound
		}
		return nil
	}))
	return found, err
}

// call invokes a shim method for this surface's document. It reports false
// when the page has moved on to another document or the method did.
func (s *Surface) call(method string, args ...interface{}) (bool, error) {
	s.mu.Lock()
	doc := s.doc
	s.mu.Unlock()

	encoded := make([]string, len(args))
	for i, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return false, fmt.Errorf("encoding %s argument: %w", method, err)
		}
		encoded[i] = string(b)
	}
	docJSON, _ := json.Marshal(doc)
	expr := fmt.Sprintf("(function(r){ if (!r || r.doc !== %s) return false; var v = r.%s(%s); return v === undefined ? true : !!v; })(%s)",
		docJSON, method, strings.Join(encoded, ", "), shimObject)

	var ok bool
	if err := s.eval(expr, &ok); err != nil {
		return false, err
	}
	return ok, nil
}

func (s *Surface) eval(expr string, res interface{}) error {
	if err := chromedp.Run(s.tab.ctx, chromedp.Evaluate(expr, res)); err != nil {
		return fmt.Errorf("evaluating in page: %w", err)
	}
	return nil
}

func node(el recorder.Element) (*Node, error) {
	n, ok := el.(*Node)
	if !ok || n == nil {
		return nil, fmt.Errorf("element %T does not belong to a cdp surface", el)
	}
	return n, nil
}
