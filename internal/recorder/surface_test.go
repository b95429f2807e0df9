package recorder

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// fakePage is an in-memory Surface over a parsed document. Recorder
// listeners run first; the page only observes events that were neither
// prevented nor stopped.
type fakePage struct {
	doc *goquery.Document

	mu        sync.Mutex
	marked    bool
	styles    []string
	listeners map[EventType][]Handler
	seen      []pageEvent
	replays   []*html.Node
	released  int
	log       *callLog
	replayErr error
	// resolveErr and listenErr make Resolve and Listen fail; listenErr
	// only hits listeners for failListen.
	resolveErr error
	listenErr  error
	failListen EventType
}

type pageEvent struct {
	typ     EventType
	target  *html.Node
	trusted bool
}

type fakeEvent struct {
	typ       EventType
	target    *html.Node
	trusted   bool
	value     string
	prevented bool
	stopped   bool
}

func (e *fakeEvent) Type() EventType { return e.typ }
func (e *fakeEvent) Target() Element { return e.target }
func (e *fakeEvent) Trusted() bool { return e.trusted }
func (e *fakeEvent) Value() string { return e.value }
func (e *fakeEvent) PreventDefault() { e.prevented = true }
func (e *fakeEvent) StopPropagation() { e.stopped = true }

func newFakePage(t *testing.T, src string) *fakePage {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	if err != nil {
		t.Fatalf("parsing page: %v", err)
	}
	return &fakePage{doc: doc, listeners: map[EventType][]Handler{}}
}

func (p *fakePage) find(t *testing.T, sel string) *html.Node {
	t.Helper()
	s := p.doc.Find(sel)
	if s.Length() != 1 {
		t.Fatalf("page selector %q matched %d elements", sel, s.Length())
	}
	return s.Get(0)
}

// user simulates a genuine user action.
func (p *fakePage) user(typ EventType, el *html.Node) *fakeEvent {
	return p.dispatch(&fakeEvent{typ: typ, target: el, trusted: true})
}

func (p *fakePage) commit(el *html.Node, value string) *fakeEvent {
	return p.dispatch(&fakeEvent{typ: EventChange, target: el, trusted: true, value: value})
}

func (p *fakePage) dispatch(ev *fakeEvent) *fakeEvent {
	p.mu.Lock()
	handlers := append([]Handler(nil), p.listeners[ev.typ]...)
	p.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
	if !ev.prevented && !ev.stopped {
		p.mu.Lock()
		p.seen = append(p.seen, pageEvent{typ: ev.typ, target: ev.target, trusted: ev.trusted})
		p.mu.Unlock()
	}
	return ev
}

func (p *fakePage) pageSaw(typ EventType) []pageEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []pageEvent
	for _, e := range p.seen {
		if e.typ == typ {
			out = append(out, e)
		}
	}
	return out
}

func (p *fakePage) replayed() []*html.Node {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*html.Node(nil), p.replays...)
}

func (p *fakePage) highlighted() []*html.Node {
	return p.doc.Find("." + HighlightClass).Nodes
}

func (p *fakePage) Mark() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	already := p.marked
	p.marked = true
	return already, nil
}

func (p *fakePage) InstallStyle(css string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.styles = append(p.styles, css)
	return nil
}

func (p *fakePage) Listen(t EventType, h Handler) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listenErr != nil && t == p.failListen {
		return p.listenErr
	}
	p.listeners[t] = append(p.listeners[t], h)
	return nil
}

func (p *fakePage) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.marked = false
	p.styles = nil
	p.listeners = map[EventType][]Handler{}
	return nil
}

func (p *fakePage) AddClass(el Element, class string) error {
	goquery.NewDocumentFromNode(el.(*html.Node)).Selection.AddClass(class)
	return nil
}

func (p *fakePage) RemoveClass(el Element, class string) error {
	goquery.NewDocumentFromNode(el.(*html.Node)).Selection.RemoveClass(class)
	return nil
}

func (p *fakePage) Resolve(el Element) (*html.Node, error) {
	if p.resolveErr != nil {
		return nil, p.resolveErr
	}
	n, ok := el.(*html.Node)
	if !ok {
		return nil, errors.New("not a node")
	}
	return n, nil
}

func (p *fakePage) Replay(el Element) error {
	if p.replayErr != nil {
		return p.replayErr
	}
	n := el.(*html.Node)
	p.mu.Lock()
	p.replays = append(p.replays, n)
	if p.log != nil {
		p.log.add("replay " + n.Data)
	}
	p.mu.Unlock()
	p.dispatch(&fakeEvent{typ: EventClick, target: n, trusted: false})
	return nil
}

func (p *fakePage) Release(Element) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.released++
}

type callLog struct {
	mu    sync.Mutex
	lines []string
}

func (l *callLog) add(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, s)
}

func (l *callLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines...)
}
