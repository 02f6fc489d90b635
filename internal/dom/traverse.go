package dom

import (
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// The helpers in this file operate on raw nodes. Call them from inside
// View or Update, or on nodes no other goroutine can reach.

// Selector matches elements.
type Selector = cascadia.Matcher

// Compile parses a CSS selector group.
func Compile(sel string) (Selector, error) {
	return cascadia.Compile(sel)
}

// MustCompile is Compile for selectors known to be valid.
func MustCompile(sel string) Selector {
	return cascadia.MustCompile(sel)
}

// IsShadowRoot reports whether n is a declarative shadow root.
func IsShadowRoot(n *html.Node) bool {
	if n == nil || n.Type != html.ElementNode || n.DataAtom != atom.Template {
		return false
	}
	_, ok := Attr(n, ShadowRootAttr)
	return ok && n.Parent != nil
}

// ShadowRoot returns the open shadow root hosted by n, if any.
func ShadowRoot(host *html.Node) *html.Node {
	if host == nil || host.Type != html.ElementNode {
		return nil
	}
	for c := host.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || c.DataAtom != atom.Template {
			continue
		}
		if mode, ok := Attr(c, ShadowRootAttr); ok && strings.EqualFold(mode, "open") {
			return c
		}
	}
	return nil
}

// CollectShadowRoots returns start plus every open shadow root nested
// anywhere beneath it, at any depth. Each root appears once.
func CollectShadowRoots(start *html.Node) []*html.Node {
	if start == nil {
		return nil
	}
	roots := []*html.Node{start}
	seen := map[*html.Node]struct{}{start: {}}
	visited := map[*html.Node]struct{}{}
	stack := []*html.Node{start}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := visited[n]; ok {
			continue
		}
		visited[n] = struct{}{}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			stack = append(stack, c)
			if sr := ShadowRoot(c); sr != nil {
				if _, ok := seen[sr]; !ok {
					seen[sr] = struct{}{}
					roots = append(roots, sr)
				}
				stack = append(stack, sr)
			}
		}
	}
	return roots
}

// QueryAll returns the descendants of root matching sel in document order.
// Like a scoped querySelectorAll it stays within root's tree and never
// enters a shadow root nested below it.
func QueryAll(root *html.Node, sel Selector) []*html.Node {
	var out []*html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode || IsShadowRoot(c) {
				continue
			}
			if sel.Match(c) {
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

// QueryFirst returns the first descendant of root matching sel.
func QueryFirst(root *html.Node, sel Selector) *html.Node {
	var found *html.Node
	var walk func(n *html.Node) bool
	walk = func(n *html.Node) bool {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode || IsShadowRoot(c) {
				continue
			}
			if sel.Match(c) {
				found = c
				return true
			}
			if walk(c) {
				return true
			}
		}
		return false
	}
	if root != nil {
		walk(root)
	}
	return found
}

// Closest returns the nearest ancestor-or-self of n matching sel without
// crossing a shadow boundary.
func Closest(n *html.Node, sel Selector) *html.Node {
	for x := n; x != nil; x = x.Parent {
		if IsShadowRoot(x) {
			return nil
		}
		if x.Type == html.ElementNode && sel.Match(x) {
			return x
		}
	}
	return nil
}

// TextContent concatenates the text beneath n, skipping nested shadow roots.
func TextContent(n *html.Node) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch {
		case n.Type == html.TextNode:
			b.WriteString(n.Data)
			return
		case IsShadowRoot(n):
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

// Attr returns the value of the named attribute.
func Attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// SetAttr sets an attribute without recording a mutation. Use it on
// detached nodes only.
func SetAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

// HasClass reports whether the class attribute of n lists class.
func HasClass(n *html.Node, class string) bool {
	v, ok := Attr(n, "class")
	if !ok {
		return false
	}
	for _, c := range strings.Fields(v) {
		if c == class {
			return true
		}
	}
	return false
}
