package parse

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/text/unicode/norm"
)

// normalize decomposes compatibility characters and trims the result. The
// portal pads cells with &nbsp;.
func normalize(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(norm.NFKD.String(s), " ", " "))
}

// preorder returns every node under n in document order, n included.
func preorder(n *html.Node) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		out = append(out, n)
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

// find returns the first element under n (n excluded) matching fn.
func find(n *html.Node, fn func(*html.Node) bool) *html.Node {
	for _, c := range preorder(n)[1:] {
		if c.Type == html.ElementNode && fn(c) {
			return c
		}
	}
	return nil
}

// findAfter returns the first element matching fn that follows mark in
// document order, descendants of mark included.
func findAfter(root, mark *html.Node, fn func(*html.Node) bool) *html.Node {
	nodes := preorder(root)
	i := 0
	for i < len(nodes) && nodes[i] != mark {
		i++
	}
	if i == len(nodes) {
		return nil
	}
	for _, c := range nodes[i+1:] {
		if c.Type == html.ElementNode && fn(c) {
			return c
		}
	}
	return nil
}

// ancestor returns the nearest ancestor of n with the given tag.
func ancestor(n *html.Node, a atom.Atom) *html.Node {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && p.DataAtom == a {
			return p
		}
	}
	return nil
}

func isAtom(a atom.Atom) func(*html.Node) bool {
	return func(n *html.Node) bool { return n.DataAtom == a }
}

// children returns the element children of n with the given tag.
func children(n *html.Node, a atom.Atom) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == a {
			out = append(out, c)
		}
	}
	return out
}

// text returns the normalized text content of n.
func text(n *html.Node) string {
	var b strings.Builder
	for _, c := range preorder(n) {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return normalize(b.String())
}

// lines splits the text of n at <br> elements. Empty lines are dropped, so
// cells that pad meetings with blank lines stay aligned.
func lines(n *html.Node) []string {
	var out []string
	var cur strings.Builder
	flush := func() {
		if s := normalize(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}
	for _, c := range preorder(n) {
		switch {
		case c.Type == html.TextNode:
			cur.WriteString(c.Data)
		case c.Type == html.ElementNode && c.DataAtom == atom.Br:
			flush()
		}
	}
	flush()
	return out
}

// tableRows returns the data rows of the first tbody under n, without the
// header row.
func tableRows(n *html.Node) ([]*html.Node, bool) {
	tbody := n
	if n.DataAtom != atom.Tbody {
		tbody = find(n, isAtom(atom.Tbody))
	}
	if tbody == nil {
		return nil, false
	}
	rows := children(tbody, atom.Tr)
	if len(rows) == 0 {
		return nil, false
	}
	return rows[1:], true
}
