package adapter

import (
	"strings"

	pkgerrors "ojkit/pkg/errors"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Matcher selects element nodes.
type Matcher func(n *html.Node) bool

// ByTag matches elements with the given tag.
func ByTag(a atom.Atom) Matcher {
	return func(n *html.Node) bool { return n.Type == html.ElementNode && n.DataAtom == a }
}

// ByID matches the element with the given id.
func ByID(id string) Matcher {
	return func(n *html.Node) bool { return n.Type == html.ElementNode && Attr(n, "id") == id }
}

// ByClass matches elements carrying class among their classes.
func ByClass(class string) Matcher {
	return func(n *html.Node) bool { return n.Type == html.ElementNode && HasClass(n, class) }
}

// ByAttr matches elements whose attribute key equals value.
func ByAttr(key, value string) Matcher {
	return func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return false
		}
		for _, a := range n.Attr {
			if a.Key == key && a.Val == value {
				return true
			}
		}
		return false
	}
}

// HasAttr matches elements carrying attribute key with any value.
func HasAttr(key string) Matcher {
	return func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return false
		}
		for _, a := range n.Attr {
			if a.Key == key {
				return true
			}
		}
		return false
	}
}

// And matches nodes matched by every m.
func And(ms ...Matcher) Matcher {
	return func(n *html.Node) bool {
		for _, m := range ms {
			if !m(n) {
				return false
			}
		}
		return true
	}
}

// Find returns the first node below root, in document order, matched by m.
func Find(root *html.Node, m Matcher) *html.Node {
	if root == nil {
		return nil
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if m(c) {
			return c
		}
		if found := Find(c, m); found != nil {
			return found
		}
	}
	return nil
}

// FindAll returns every node below root matched by m, in document order.
func FindAll(root *html.Node, m Matcher) []*html.Node {
	var out []*html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if m(c) {
				out = append(out, c)
			}
			walk(c)
		}
	}
	if root != nil {
		walk(root)
	}
	return out
}

// Children returns the element children of n matched by m.
func Children(n *html.Node, m Matcher) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if m(c) {
			out = append(out, c)
		}
	}
	return out
}

// NextElement returns the next element sibling of n.
func NextElement(n *html.Node) *html.Node {
	for c := n.NextSibling; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			return c
		}
	}
	return nil
}

// Attr returns the value of attribute key on n.
func Attr(n *html.Node, key string) string {
	if n == nil {
		return ""
	}
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// HasClass reports whether class is among n's classes.
func HasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(Attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

// Text returns the concatenated text below n. <br> elements become newlines.
func Text(n *html.Node) string {
	if n == nil {
		return ""
	}
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch {
		case n.Type == html.TextNode:
			b.WriteString(n.Data)
		case n.Type == html.ElementNode && n.DataAtom == atom.Br:
			b.WriteByte('\n')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

// TrimmedText returns Text with surrounding whitespace removed.
func TrimmedText(n *html.Node) string {
	return strings.TrimSpace(Text(n))
}

// HiddenInput returns the value of <input name=name>.
func HiddenInput(doc *html.Node, name string) (string, bool) {
	n := Find(doc, And(ByTag(atom.Input), ByAttr("name", name)))
	if n == nil {
		return "", false
	}
	return Attr(n, "value"), true
}

// Scraper ties scrape failures to a judge and phase so that a missing marker is reported as
// format drift instead of an empty result.
type Scraper struct {
	Judge string
	Phase string
}

// Missing returns the error for a marker that was not found.
func (s Scraper) Missing(marker string) *pkgerrors.Error {
	return pkgerrors.Scrape(s.Judge, s.Phase, marker)
}

// Require returns n or the missing marker error.
func (s Scraper) Require(root *html.Node, m Matcher, marker string) (*html.Node, error) {
	n := Find(root, m)
	if n == nil {
		return nil, s.Missing(marker)
	}
	return n, nil
}

// RequireAll returns at least one matching node or the missing marker error.
func (s Scraper) RequireAll(root *html.Node, m Matcher, marker string) ([]*html.Node, error) {
	nodes := FindAll(root, m)
	if len(nodes) == 0 {
		return nil, s.Missing(marker)
	}
	return nodes, nil
}

// NormalizeSample converts sample text copied from a page into test data: CRLF becomes LF,
// leading blank lines are dropped and the text ends with exactly one newline.
func NormalizeSample(s string) []byte {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.TrimLeft(s, "\n")
	s = strings.TrimRight(s, " \t\n")
	if s == "" {
		return []byte{}
	}
	return []byte(s + "\n")
}
