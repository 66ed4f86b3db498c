package fetch

import (
	"bytes"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// Node wraps a parsed HTML node with selector helpers.
type Node struct {
	*html.Node
}

type NodeList []*Node

func NewNode(b []byte) (*Node, error) {
	doc, err := html.Parse(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	return &Node{doc}, nil
}

// Find returns every descendant matching the CSS selector. An invalid
// selector matches nothing.
func (n *Node) Find(selector string) NodeList {
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return nil
	}
	matches := sel.MatchAll(n.Node)
	nodes := make(NodeList, len(matches))
	for i, m := range matches {
		nodes[i] = &Node{m}
	}
	return nodes
}

// First is Find limited to the first match, nil when there is none.
func (n *Node) First(selector string) *Node {
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return nil
	}
	m := sel.MatchFirst(n.Node)
	if m == nil {
		return nil
	}
	return &Node{m}
}

func (list NodeList) Each(callback func(i int, n *Node)) {
	for i, node := range list {
		callback(i, node)
	}
}

func (n *Node) Attr(key string) string {
	if n == nil {
		return ""
	}
	for _, attr := range n.Node.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

// Text concatenates all text below n, trimmed.
func (n *Node) Text() string {
	if n == nil {
		return ""
	}
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(h *html.Node) {
		if h.Type == html.TextNode {
			sb.WriteString(h.Data)
		}
		for c := h.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n.Node)
	return strings.TrimSpace(sb.String())
}
