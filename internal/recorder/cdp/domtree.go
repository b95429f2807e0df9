package cdp

import (
	"errors"

	"github.com/chromedp/cdproto/cdp"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var ErrNodeNotFound = errors.New("event target is not part of the document")

// liveTree converts a DOM.getDocument tree into html nodes and indexes the
// elements by backend node id. The tree mirrors the live DOM exactly, so
// script-built structure the HTML parser would rewrite (a <tr> directly in
// a <table>, a <div> inside a <p>) survives as is. Frame documents, shadow
// roots and template contents are not part of the result.
func liveTree(root *cdp.Node) (*html.Node, map[cdp.BackendNodeID]*html.Node) {
	index := make(map[cdp.BackendNodeID]*html.Node)
	return convertNode(root, index), index
}

func convertNode(n *cdp.Node, index map[cdp.BackendNodeID]*html.Node) *html.Node {
	var out *html.Node
	switch n.NodeType {
	case cdp.NodeTypeDocument:
		out = &html.Node{Type: html.DocumentNode}
	case cdp.NodeTypeDocumentType:
		return &html.Node{Type: html.DoctypeNode, Data: n.NodeName}
	case cdp.NodeTypeText:
		return &html.Node{Type: html.TextNode, Data: n.NodeValue}
	case cdp.NodeTypeElement:
		out = &html.Node{
			Type:     html.ElementNode,
			Data:     n.LocalName,
			DataAtom: atom.Lookup([]byte(n.LocalName)),
		}
		if n.IsSVG {
			out.Namespace = "svg"
		}
		for i := 0; i+1 < len(n.Attributes); i += 2 {
			out.Attr = append(out.Attr, html.Attribute{Key: n.Attributes[i], Val: n.Attributes[i+1]})
		}
		index[n.BackendNodeID] = out
	default:
		return nil
	}

	for _, c := range n.Children {
		if k := convertNode(c, index); k != nil {
			out.AppendChild(k)
		}
	}
	return out
}
