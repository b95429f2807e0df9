// Package selector derives stable, minimal CSS locators for elements of a
// parsed HTML document.
//
// Rules are tried in priority order and the first one that applies wins:
// unique id, data-testid, aria-label, a document-unique class list and
// finally a structural nth-of-type path from the closest id anchor (or the
// document root). Structural paths are best-effort: they re-resolve to the
// original element only as long as its ancestors' siblings are not
// reordered.
package selector

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

const (
	TestIDAttr    = "data-testid"
	AriaLabelAttr = "aria-label"
)

type options struct {
	ignore map[string]bool
}

// Option tunes Synthesize.
type Option func(*options)

// IgnoreClasses drops the given class names before the class rule is
// evaluated. The recorder uses it for the classes it adds itself.
func IgnoreClasses(classes ...string) Option {
	return func(o *options) {
		for _, c := range classes {
			o.ignore[c] = true
		}
	}
}

// Synthesize returns a locator for el. It only returns "" when el is nil
// or not an element.
func Synthesize(el *html.Node, opts ...Option) string {
	if el == nil || el.Type != html.ElementNode {
		return ""
	}
	o := options{ignore: map[string]bool{}}
	for _, opt := range opts {
		opt(&o)
	}
	root := Root(el)

	if id, ok := uniqueID(root, el); ok {
		return "#" + EscapeIdent(id)
	}
	if v, ok := attr(el, TestIDAttr); ok {
		return attrSelector(TestIDAttr, v)
	}
	if v, ok := attr(el, AriaLabelAttr); ok {
		return attrSelector(AriaLabelAttr, v)
	}
	if classes := classList(el, o.ignore); len(classes) > 0 {
		sel := classSelector(classes)
		if n, err := Count(root, sel); err == nil && n == 1 {
			return sel
		}
	}
	return structuralPath(root, el)
}

// Count returns the number of elements under root matching sel.
func Count(root *html.Node, sel string) (int, error) {
	found, err := Match(root, sel)
	return len(found), err
}

// Match returns the elements under root matching sel. cascadia folds type
// selectors to lower case, so documents holding camelCase foreign elements
// (foreignObject, clipPath) are matched through a folded copy and the
// original nodes are returned.
func Match(root *html.Node, sel string) ([]*html.Node, error) {
	m, err := cascadia.Compile(sel)
	if err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", sel, err)
	}
	if !hasCamelCaseForeign(root) {
		return goquery.NewDocumentFromNode(root).FindMatcher(m).Nodes, nil
	}
	orig := make(map[*html.Node]*html.Node)
	folded := goquery.NewDocumentFromNode(foldClone(root, orig)).FindMatcher(m).Nodes
	found := make([]*html.Node, len(folded))
	for i, n := range folded {
		found[i] = orig[n]
	}
	return found, nil
}

func hasCamelCaseForeign(n *html.Node) bool {
	if n.Type == html.ElementNode && n.Namespace != "" && n.Data != strings.ToLower(n.Data) {
		return true
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if hasCamelCaseForeign(c) {
			return true
		}
	}
	return false
}

func foldClone(n *html.Node, orig map[*html.Node]*html.Node) *html.Node {
	c := &html.Node{Type: n.Type, DataAtom: n.DataAtom, Data: n.Data, Namespace: n.Namespace, Attr: n.Attr}
	if n.Type == html.ElementNode && n.Namespace != "" {
		c.Data = strings.ToLower(n.Data)
	}
	orig[c] = n
	for k := n.FirstChild; k != nil; k = k.NextSibling {
		c.AppendChild(foldClone(k, orig))
	}
	return c
}

// Root returns the topmost ancestor of n.
func Root(n *html.Node) *html.Node {
	for n.Parent != nil {
		n = n.Parent
	}
	return n
}

type segment struct {
	tag    string
	anchor string
	nth    int
}

func (s segment) render(explicit bool) string {
	if s.anchor != "" {
		return s.tag + "#" + EscapeIdent(s.anchor)
	}
	if s.nth != 1 || explicit {
		return fmt.Sprintf("%s:nth-of-type(%d)", s.tag, s.nth)
	}
	return s.tag
}

// structuralPath walks from el towards the root, stopping at the first
// ancestor with a unique id. Ordinals are only written when they are not 1.
// When that short form matches more than one element, explicit
// :nth-of-type(1) qualifiers are added from the target upwards until the
// path is unique again; a fully qualified path always is.
func structuralPath(root, el *html.Node) string {
	var segs []segment
	for cur := el; cur != nil && cur.Type == html.ElementNode; cur = cur.Parent {
		seg := segment{tag: tagName(cur)}
		if id, ok := uniqueID(root, cur); ok {
			seg.anchor = id
			segs = append([]segment{seg}, segs...)
			break
		}
		seg.nth = ordinalOfType(cur)
		segs = append([]segment{seg}, segs...)
	}

	explicit := make([]bool, len(segs))
	path := joinSegments(segs, explicit)
	for i := len(segs) - 1; i >= 0; i-- {
		if n, err := Count(root, path); err == nil && n <= 1 {
			break
		}
		if segs[i].anchor != "" || segs[i].nth != 1 {
			continue
		}
		explicit[i] = true
		path = joinSegments(segs, explicit)
	}
	return path
}

func joinSegments(segs []segment, explicit []bool) string {
	parts := make([]string, len(segs))
	for i, s := range segs {
		parts[i] = s.render(explicit[i])
	}
	return strings.Join(parts, " > ")
}

// tagName is the type selector for n. Browsers match type selectors of
// foreign (svg, math) elements case-sensitively, so their names keep the
// document's casing.
func tagName(n *html.Node) string {
	if n.Namespace != "" {
		return n.Data
	}
	return strings.ToLower(n.Data)
}

// ordinalOfType is the 1-based position of n among its preceding element
// siblings that share its tag name.
func ordinalOfType(n *html.Node) int {
	nth := 1
	for sib := n.PrevSibling; sib != nil; sib = sib.PrevSibling {
		if sib.Type == html.ElementNode && strings.EqualFold(sib.Data, n.Data) {
			nth++
		}
	}
	return nth
}

// uniqueID reports the id of n when it is non-empty and no other element of
// the document carries it. Duplicated ids are treated as absent.
func uniqueID(root, n *html.Node) (string, bool) {
	id, ok := attr(n, "id")
	if !ok || id == "" {
		return "", false
	}
	count, err := Count(root, attrSelector("id", id))
	if err != nil || count != 1 {
		return "", false
	}
	return id, true
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func attrSelector(key, val string) string {
	return "[" + key + "=" + QuoteString(val) + "]"
}

func classList(n *html.Node, ignore map[string]bool) []string {
	v, _ := attr(n, "class")
	var classes []string
	for _, c := range strings.Fields(v) {
		if !ignore[c] {
			classes = append(classes, c)
		}
	}
	return classes
}

func classSelector(classes []string) string {
	var b strings.Builder
	for _, c := range classes {
		b.WriteByte('.')
		b.WriteString(EscapeIdent(c))
	}
	return b.String()
}
