package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"golang.org/x/net/html"
)

type fakeBackend struct {
	mu     sync.Mutex
	events []RecordedEvent
	err    error
	block  chan struct{}
	log    *callLog
}

func (b *fakeBackend) Forward(ctx context.Context, ev RecordedEvent) error {
	if b.block != nil {
		<-b.block
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	if b.log != nil {
		b.log.add("forward " + ev.Selector)
	}
	return b.err
}

func (b *fakeBackend) received() []RecordedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]RecordedEvent(nil), b.events...)
}

type failures struct {
	mu  sync.Mutex
	all []*Failure
}

func (f *failures) handle(fl *Failure) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.all = append(f.all, fl)
}

func (f *failures) list() []*Failure {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Failure(nil), f.all...)
}

func install(t *testing.T, page *fakePage, fwd Forwarder, opts ...Option) *Recorder {
	t.Helper()
	rec := New(fwd, opts...)
	ok, err := rec.Install(page)
	if err != nil {
		t.Fatalf("installing recorder: %v", err)
	}
	if !ok {
		t.Fatal("expected the first install to set the recorder up")
	}
	return rec
}

func TestInstallIsIdempotent(t *testing.T) {
	page := newFakePage(t, `<button id="submit">Go</button>`)
	rec := install(t, page, &fakeBackend{})

	ok, err := rec.Install(page)
	if err != nil || ok {
		t.Fatalf("second install on the same recorder: ok=%v err=%v", ok, err)
	}

	other := New(&fakeBackend{})
	ok, err = other.Install(page)
	if err != nil || ok {
		t.Fatalf("install on an already marked page: ok=%v err=%v", ok, err)
	}
	if other.Installed() {
		t.Fatal("a recorder refused by the page marker must not report itself installed")
	}

	if len(page.styles) != 1 || page.styles[0] != HighlightCSS {
		t.Fatalf("expected exactly one highlight rule, got %v", page.styles)
	}
	for _, typ := range []EventType{EventPointerEnter, EventPointerLeave, EventClick, EventChange} {
		if n := len(page.listeners[typ]); n != 1 {
			t.Fatalf("expected one %s listener, got %d", typ, n)
		}
	}
}

func TestClickIsForwardedThenReplayed(t *testing.T) {
	page := newFakePage(t, `<form><button id="submit" class="btn">Go</button></form>`)
	backend := &fakeBackend{}
	rec := install(t, page, backend)
	button := page.find(t, "#submit")

	ev := page.user(EventClick, button)
	if !ev.prevented || !ev.stopped {
		t.Fatal("trusted click must be suppressed before it reaches the page")
	}
	rec.Wait()

	got := backend.received()
	if len(got) != 1 || got[0].Kind != KindClick || got[0].Selector != "#submit" || got[0].Value != nil {
		t.Fatalf("unexpected forwarded events: %v", got)
	}
	replays := page.replayed()
	if len(replays) != 1 || replays[0] != button {
		t.Fatalf("expected one replay on the button, got %d", len(replays))
	}
	clicks := page.pageSaw(EventClick)
	if len(clicks) != 1 || clicks[0].trusted || clicks[0].target != button {
		t.Fatalf("page should see exactly the untrusted replay, got %+v", clicks)
	}
}

func TestClicksOnDistinctElementsReplayOnce(t *testing.T) {
	page := newFakePage(t, `
		<ul>
			<li><a id="a1">1</a></li><li><a data-testid="foo bar">2</a></li>
			<li><a aria-label="three">3</a></li><li><a class="four">4</a></li><li><a>5</a></li>
		</ul>`)
	backend := &fakeBackend{}
	rec := install(t, page, backend)

	anchors := page.doc.Find("a").Nodes
	for _, a := range anchors {
		page.user(EventClick, a)
	}
	rec.Wait()

	want := []string{
		"#a1",
		`[data-testid="foo bar"]`,
		`[aria-label="three"]`,
		".four",
		"html > body > ul > li:nth-of-type(5) > a",
	}
	got := backend.received()
	if len(got) != len(anchors) {
		t.Fatalf("expected %d forwarded clicks, got %d", len(anchors), len(got))
	}
	seen := map[string]bool{}
	for _, ev := range got {
		seen[ev.Selector] = true
	}
	for _, sel := range want {
		if !seen[sel] {
			t.Errorf("missing forwarded selector %q in %v", sel, got)
		}
	}
	if n := len(page.replayed()); n != len(anchors) {
		t.Fatalf("expected %d replays, got %d", len(anchors), n)
	}
	if n := len(page.pageSaw(EventClick)); n != len(anchors) {
		t.Fatalf("expected the page to see %d clicks, got %d", len(anchors), n)
	}
}

func TestUntrustedClickIsIgnored(t *testing.T) {
	page := newFakePage(t, `<button id="b">x</button>`)
	backend := &fakeBackend{}
	rec := install(t, page, backend)

	ev := page.dispatch(&fakeEvent{typ: EventClick, target: page.find(t, "#b")})
	rec.Wait()

	if ev.prevented || ev.stopped {
		t.Fatal("untrusted click must not be suppressed")
	}
	if len(backend.received()) != 0 || len(page.replayed()) != 0 {
		t.Fatal("untrusted click must not be forwarded or replayed")
	}
	if len(page.pageSaw(EventClick)) != 1 {
		t.Fatal("untrusted click should reach the page untouched")
	}
}

func TestChangeIsForwardedWithoutReplay(t *testing.T) {
	page := newFakePage(t, `<form><input class="q"><input class="other"></form>`)
	backend := &fakeBackend{}
	rec := install(t, page, backend)

	ev := page.commit(page.find(t, ".q"), "hello")
	rec.Wait()

	if ev.prevented || ev.stopped {
		t.Fatal("change events must not be suppressed")
	}
	got := backend.received()
	if len(got) != 1 {
		t.Fatalf("expected one forwarded event, got %v", got)
	}
	if got[0].Kind != KindType || got[0].Selector != ".q" || got[0].Value == nil || *got[0].Value != "hello" {
		t.Fatalf("unexpected forwarded event: %v", got[0])
	}
	if len(page.replayed()) != 0 {
		t.Fatal("change events must never be replayed")
	}
	if len(page.pageSaw(EventChange)) != 1 {
		t.Fatal("the page should handle the change itself")
	}
}

func TestChangeCarriesValueAtCommitTime(t *testing.T) {
	page := newFakePage(t, `<input id="name">`)
	backend := &fakeBackend{block: make(chan struct{})}
	rec := install(t, page, backend)
	input := page.find(t, "#name")

	page.commit(input, "first")
	page.commit(input, "second")
	close(backend.block)
	rec.Wait()

	values := map[string]bool{}
	for _, ev := range backend.received() {
		values[*ev.Value] = true
	}
	if !values["first"] || !values["second"] || len(values) != 2 {
		t.Fatalf("expected both committed values, got %v", values)
	}
}

func TestUntrustedChangeIsIgnored(t *testing.T) {
	page := newFakePage(t, `<input id="name">`)
	backend := &fakeBackend{}
	rec := install(t, page, backend)

	page.dispatch(&fakeEvent{typ: EventChange, target: page.find(t, "#name"), value: "x"})
	rec.Wait()

	if len(backend.received()) != 0 {
		t.Fatal("untrusted change must not be forwarded")
	}
}

func TestForwardOrdering(t *testing.T) {
	page := newFakePage(t, `<button id="go">x</button>`)
	log := &callLog{}
	page.log = log
	backend := &fakeBackend{log: log}
	rec := install(t, page, backend)

	page.user(EventClick, page.find(t, "#go"))
	rec.Wait()

	got := log.all()
	if len(got) != 2 || got[0] != "forward #go" || got[1] != "replay button" {
		t.Fatalf("forward must precede replay, got %v", got)
	}
}

func TestForwardFailure(t *testing.T) {
	tests := []struct {
		name        string
		policy      FailurePolicy
		wantReplays int
	}{
		{name: "drop leaves the click swallowed", policy: DropOnFailure, wantReplays: 0},
		{name: "replay still activates the element", policy: ReplayOnFailure, wantReplays: 1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			page := newFakePage(t, `<button id="go">x</button>`)
			backend := &fakeBackend{err: errors.New("backend unreachable")}
			fails := &failures{}
			rec := install(t, page, backend, WithFailurePolicy(tc.policy), WithErrorHandler(fails.handle))

			page.user(EventClick, page.find(t, "#go"))
			rec.Wait()

			if n := len(page.replayed()); n != tc.wantReplays {
				t.Fatalf("expected %d replays, got %d", tc.wantReplays, n)
			}
			got := fails.list()
			if len(got) != 1 || got[0].Stage != StageForward || got[0].Event.Selector != "#go" {
				t.Fatalf("expected one surfaced forward failure, got %v", got)
			}
		})
	}
}

func TestAckTimeout(t *testing.T) {
	page := newFakePage(t, `<button id="go">x</button>`)
	backend := &fakeBackend{block: make(chan struct{})}
	defer close(backend.block)
	fails := &failures{}
	rec := install(t, page, backend, WithAckTimeout(20*time.Millisecond), WithErrorHandler(fails.handle))

	page.user(EventClick, page.find(t, "#go"))
	rec.Wait()

	got := fails.list()
	if len(got) != 1 || !errors.Is(got[0], context.DeadlineExceeded) {
		t.Fatalf("expected an acknowledgment timeout, got %v", got)
	}
	if len(page.replayed()) != 0 {
		t.Fatal("a timed out click must not be replayed under the drop policy")
	}
}

func TestCloseAbandonsPendingAcknowledgments(t *testing.T) {
	page := newFakePage(t, `<button id="go">x</button>`)
	backend := &fakeBackend{block: make(chan struct{})}
	defer close(backend.block)
	fails := &failures{}
	rec := install(t, page, backend, WithAckTimeout(0), WithErrorHandler(fails.handle))

	page.user(EventClick, page.find(t, "#go"))
	rec.Close()

	got := fails.list()
	if len(got) != 1 || !errors.Is(got[0], context.Canceled) {
		t.Fatalf("expected a cancelled acknowledgment, got %v", got)
	}
}

func TestReplayFailureIsReported(t *testing.T) {
	page := newFakePage(t, `<button id="go">x</button>`)
	page.replayErr = ErrElementDetached
	fails := &failures{}
	rec := install(t, page, &fakeBackend{}, WithErrorHandler(fails.handle))

	page.user(EventClick, page.find(t, "#go"))
	rec.Wait()

	got := fails.list()
	if len(got) != 1 || got[0].Stage != StageReplay || !errors.Is(got[0], ErrElementDetached) {
		t.Fatalf("expected a replay failure, got %v", got)
	}
}

func TestUnresolvableClickIsReplayed(t *testing.T) {
	for _, policy := range []FailurePolicy{DropOnFailure, ReplayOnFailure} {
		t.Run(policy.String(), func(t *testing.T) {
			page := newFakePage(t, `<table><tr><td>x</td></tr></table>`)
			page.resolveErr = errors.New("target left the document")
			backend := &fakeBackend{}
			fails := &failures{}
			rec := install(t, page, backend, WithFailurePolicy(policy), WithErrorHandler(fails.handle))
			cell := page.find(t, "td")

			page.user(EventClick, cell)
			rec.Wait()

			if got := backend.received(); len(got) != 0 {
				t.Fatalf("nothing should be forwarded, got %v", got)
			}
			replays := page.replayed()
			if len(replays) != 1 || replays[0] != cell {
				t.Fatalf("the click must be handed back to the page, got %d replays", len(replays))
			}
			got := fails.list()
			if len(got) != 1 || got[0].Stage != StageResolve {
				t.Fatalf("expected one resolve failure, got %v", got)
			}
		})
	}
}

func TestFailedInstallCanBeRetried(t *testing.T) {
	page := newFakePage(t, `<button id="go">x</button>`)
	page.listenErr = errors.New("page navigated away")
	page.failListen = EventClick

	rec := New(&fakeBackend{})
	if ok, err := rec.Install(page); err == nil || ok {
		t.Fatalf("expected the install to fail, got ok=%v err=%v", ok, err)
	}
	if rec.Installed() {
		t.Fatal("a failed install must release the recorder guard")
	}
	if page.marked || len(page.styles) != 0 || len(page.listeners) != 0 {
		t.Fatalf("partial install left state behind: marked=%v styles=%d listeners=%d",
			page.marked, len(page.styles), len(page.listeners))
	}

	page.listenErr = nil
	backend := &fakeBackend{}
	rec = New(backend)
	if ok, err := rec.Install(page); err != nil || !ok {
		t.Fatalf("retrying the install: ok=%v err=%v", ok, err)
	}
	page.user(EventClick, page.find(t, "#go"))
	rec.Wait()
	if got := backend.received(); len(got) != 1 || got[0].Selector != "#go" {
		t.Fatalf("unexpected forwarded events after retry: %v", got)
	}
}

func TestHoverKeepsASingleHighlight(t *testing.T) {
	page := newFakePage(t, `<p id="a">a</p><p id="b">b</p><p id="c">c</p>`)
	rec := install(t, page, &fakeBackend{})
	a, b, c := page.find(t, "#a"), page.find(t, "#b"), page.find(t, "#c")

	steps := []struct {
		typ  EventType
		el   *html.Node
		want *html.Node
	}{
		{EventPointerEnter, a, a},
		{EventPointerEnter, b, b},
		{EventPointerEnter, c, c},
		{EventPointerLeave, c, nil},
		{EventPointerLeave, c, nil},
		{EventPointerEnter, a, a},
	}
	for i, s := range steps {
		page.dispatch(&fakeEvent{typ: s.typ, target: s.el, trusted: true})

		marked := page.highlighted()
		if s.want == nil {
			if len(marked) != 0 || rec.Hovered() != nil {
				t.Fatalf("step %d: expected no highlight, got %d", i, len(marked))
			}
			continue
		}
		if len(marked) != 1 || marked[0] != s.want {
			t.Fatalf("step %d: expected exactly one highlighted element, got %d", i, len(marked))
		}
		if rec.Hovered() != Element(s.want) {
			t.Fatalf("step %d: hover state does not point at the highlighted element", i)
		}
	}
}

func TestHighlightNeverLeaksIntoSelectors(t *testing.T) {
	page := newFakePage(t, `<a class="link">1</a><a class="other">2</a>`)
	backend := &fakeBackend{}
	rec := install(t, page, backend)
	link := page.find(t, ".link")

	page.user(EventPointerEnter, link)
	page.user(EventClick, link)
	rec.Wait()

	got := backend.received()
	if len(got) != 1 || got[0].Selector != ".link" {
		t.Fatalf("expected the highlight class to be ignored, got %v", got)
	}
}

func TestParseFailurePolicy(t *testing.T) {
	tests := []struct {
		input    string
		expected FailurePolicy
		wantErr  bool
	}{
		{"", DropOnFailure, false},
		{"drop", DropOnFailure, false},
		{"replay", ReplayOnFailure, false},
		{"retry", DropOnFailure, true},
	}
	for _, tt := range tests {
		got, err := ParseFailurePolicy(tt.input)
		if (err != nil) != tt.wantErr || got != tt.expected {
			t.Errorf("ParseFailurePolicy(%q) = %v, %v", tt.input, got, err)
		}
		if err != nil && !errors.Is(err, ErrUnknownPolicy) {
			t.Errorf("ParseFailurePolicy(%q) error should wrap ErrUnknownPolicy", tt.input)
		}
	}
}

func ExampleRecordedEvent_String() {
	value := "hello"
	fmt.Println(RecordedEvent{Kind: KindClick, Selector: "#submit"})
	fmt.Println(RecordedEvent{Kind: KindType, Selector: ".q", Value: &value})
	// Output:
	// click #submit
	// type .q = "hello"
}
