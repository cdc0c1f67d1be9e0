// Package scrape holds the HTML helpers shared by the portfolio importer and
// the JavaScript bot runtime.
package scrape

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/xpath"
	"golang.org/x/net/html"
)

// Parse parses an HTML string into a goquery document.
func Parse(htmlStr string) (*goquery.Document, error) {
	return ParseReader(strings.NewReader(htmlStr))
}

// ParseReader parses HTML from r into a goquery document.
func ParseReader(r io.Reader) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return doc, nil
}

// XPath evaluates expr against htmlStr and returns the matching nodes.
// Attribute matches are returned as their owning element.
func XPath(htmlStr, expr string) ([]*html.Node, error) {
	root, err := html.Parse(strings.NewReader(htmlStr))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return XPathNode(root, expr)
}

// XPathNode evaluates expr starting at root.
func XPathNode(root *html.Node, expr string) ([]*html.Node, error) {
	compiled, err := xpath.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("failed to compile XPath expression '%s': %w", expr, err)
	}

	var nodes []*html.Node
	iter := compiled.Select(newNavigator(root))
	for iter.MoveNext() {
		if nav, ok := iter.Current().(*nodeNav); ok {
			nodes = append(nodes, nav.cur)
		}
	}
	return nodes, nil
}

// Selection wraps a node so callers can keep using the goquery API.
func Selection(n *html.Node) *goquery.Selection {
	return goquery.NewDocumentFromNode(n).Selection
}

// CleanText trims s and replaces non-breaking spaces with regular ones.
func CleanText(s string) string {
	s = strings.ReplaceAll(s, "\u00a0", " ")
	return strings.TrimSpace(s)
}

// nodeNav walks an html.Node tree for antchfx/xpath. attr is the index of
// the current attribute of cur, or -1 when on the node itself.
type nodeNav struct {
	root, cur *html.Node
	attr      int
}

func newNavigator(root *html.Node) *nodeNav {
	return &nodeNav{root: root, cur: root, attr: -1}
}

func (n *nodeNav) onAttr() bool { return n.attr >= 0 }

// step moves to next if it exists and is not reached from an attribute.
func (n *nodeNav) step(next *html.Node) bool {
	if next == nil || n.onAttr() {
		return false
	}
	n.cur, n.attr = next, -1
	return true
}

func (n *nodeNav) NodeType() xpath.NodeType {
	switch {
	case n.onAttr():
		return xpath.AttributeNode
	case n.cur.Type == html.DocumentNode:
		return xpath.RootNode
	case n.cur.Type == html.TextNode:
		return xpath.TextNode
	case n.cur.Type == html.CommentNode:
		return xpath.CommentNode
	}
	return xpath.ElementNode
}

func (n *nodeNav) LocalName() string {
	if n.onAttr() {
		return n.cur.Attr[n.attr].Key
	}
	if n.cur.Type == html.ElementNode {
		return n.cur.Data
	}
	return ""
}

func (n *nodeNav) Prefix() string { return "" }

// Value is the attribute value, the node's own text, or for elements and
// the document the text of every descendant.
func (n *nodeNav) Value() string {
	if n.onAttr() {
		return n.cur.Attr[n.attr].Val
	}
	switch n.cur.Type {
	case html.TextNode, html.CommentNode:
		return n.cur.Data
	case html.ElementNode, html.DocumentNode:
		return descendantText(n.cur)
	}
	return ""
}

func (n *nodeNav) String() string { return n.Value() }

func descendantText(node *html.Node) string {
	var sb strings.Builder
	for c := node.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		} else {
			sb.WriteString(descendantText(c))
		}
	}
	return sb.String()
}

func (n *nodeNav) Copy() xpath.NodeNavigator {
	c := *n
	return &c
}

func (n *nodeNav) MoveToRoot() {
	n.cur, n.attr = n.root, -1
}

func (n *nodeNav) MoveToParent() bool {
	if n.onAttr() {
		n.attr = -1
		return true
	}
	if n.cur == n.root || n.cur.Parent == nil {
		return false
	}
	n.cur = n.cur.Parent
	return true
}

func (n *nodeNav) MoveToNextAttribute() bool {
	if n.cur.Type != html.ElementNode || n.attr+1 >= len(n.cur.Attr) {
		return false
	}
	n.attr++
	return true
}

func (n *nodeNav) MoveToChild() bool { return n.step(n.cur.FirstChild) }

func (n *nodeNav) MoveToFirst() bool {
	if n.cur.Parent == nil || n.cur == n.root {
		return false
	}
	return n.step(n.cur.Parent.FirstChild)
}

func (n *nodeNav) MoveToNext() bool {
	if n.cur == n.root {
		return false
	}
	return n.step(n.cur.NextSibling)
}

func (n *nodeNav) MoveToPrevious() bool {
	if n.cur == n.root {
		return false
	}
	return n.step(n.cur.PrevSibling)
}

func (n *nodeNav) MoveTo(other xpath.NodeNavigator) bool {
	o, ok := other.(*nodeNav)
	if !ok || o.root != n.root {
		return false
	}
	n.cur, n.attr = o.cur, o.attr
	return true
}
