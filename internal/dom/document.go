package dom

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ShadowRootAttr marks a template element as the declarative shadow root of
// its parent element.
const ShadowRootAttr = "shadowrootmode"

// Document is a live HTML document that can be read and mutated from many
// goroutines. Reads go through View, writes through Update (or the
// convenience mutators built on it). Every write produces MutationRecords
// that are handed to the observers registered on the affected nodes.
type Document struct {
	mu   sync.RWMutex
	root *html.Node
	regs map[*html.Node][]*Observer
}

// Parse reads a full HTML document.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parsing document: %w", err)
	}
	return &Document{root: root, regs: make(map[*html.Node][]*Observer)}, nil
}

// ParseString is Parse for an in-memory string.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// Blank returns an empty document with a head and a body.
func Blank() *Document {
	d, err := ParseString("<!DOCTYPE html><html><head></head><body></body></html>")
	if err != nil {
		panic(err)
	}
	return d
}

// View runs fn with the document read-locked. fn must not call any
// Document method.
func (d *Document) View(fn func(root *html.Node)) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	fn(d.root)
}

// Update runs fn with the document write-locked. All mutations made through
// tx are recorded and delivered to observers once fn returns. fn must not
// call any Document method.
func (d *Document) Update(fn func(tx *Tx)) {
	d.mu.Lock()
	tx := &Tx{doc: d}
	fn(tx)
	records := tx.records
	for _, rec := range records {
		d.dispatch(rec)
	}
	d.mu.Unlock()
}

// dispatch queues rec on every observer interested in it. Subtree
// propagation stops at a shadow root: observers outside it never see
// mutations inside it. Callers hold d.mu.
func (d *Document) dispatch(rec MutationRecord) {
	seen := make(map[*Observer]struct{})
	for n := rec.Target; n != nil; n = n.Parent {
		for _, o := range d.regs[n] {
			if _, ok := seen[o]; ok {
				continue
			}
			if n != rec.Target && !o.opts.Subtree {
				continue
			}
			if !o.opts.wants(rec.Type) {
				continue
			}
			seen[o] = struct{}{}
			o.enqueue(rec)
		}
		if IsShadowRoot(n) {
			break
		}
	}
}

// Head returns the <head> element.
func (d *Document) Head() *html.Node {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return findAtom(d.root, atom.Head)
}

// Body returns the <body> element.
func (d *Document) Body() *html.Node {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return findAtom(d.root, atom.Body)
}

// HTML serializes the whole document.
func (d *Document) HTML() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return Render(d.root)
}

// Contains reports whether n is still attached to the document.
func (d *Document) Contains(n *html.Node) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return connected(d.root, n)
}

// AppendHTML parses fragment in the context of parent and appends the
// resulting nodes to it.
func (d *Document) AppendHTML(parent *html.Node, fragment string) (added []*html.Node, err error) {
	d.Update(func(tx *Tx) { added, err = tx.AppendHTML(parent, fragment) })
	return added, err
}

// AppendChild appends a detached node to parent.
func (d *Document) AppendChild(parent, child *html.Node) error {
	var err error
	d.Update(func(tx *Tx) { err = tx.AppendChild(parent, child) })
	return err
}

// Remove detaches n from its parent.
func (d *Document) Remove(n *html.Node) error {
	var err error
	d.Update(func(tx *Tx) { err = tx.Remove(n) })
	return err
}

// ReplaceWith swaps old for repl in the tree.
func (d *Document) ReplaceWith(old, repl *html.Node) error {
	var err error
	d.Update(func(tx *Tx) { err = tx.ReplaceWith(old, repl) })
	return err
}

// SetInnerHTML replaces all children of n with the parsed fragment.
func (d *Document) SetInnerHTML(n *html.Node, fragment string) error {
	var err error
	d.Update(func(tx *Tx) { err = tx.SetInnerHTML(n, fragment) })
	return err
}

// SetText replaces all children of n with a single text node.
func (d *Document) SetText(n *html.Node, text string) {
	d.Update(func(tx *Tx) { tx.SetText(n, text) })
}

// AppendText extends the trailing text node of n, the way streamed tokens
// arrive in a chat transcript.
func (d *Document) AppendText(n *html.Node, text string) {
	d.Update(func(tx *Tx) { tx.AppendText(n, text) })
}

// SetAttr sets an attribute on an element.
func (d *Document) SetAttr(n *html.Node, key, val string) {
	d.Update(func(tx *Tx) { tx.SetAttr(n, key, val) })
}

// AttachShadow gives host an open shadow root and returns it.
func (d *Document) AttachShadow(host *html.Node) (root *html.Node, err error) {
	d.Update(func(tx *Tx) { root, err = tx.AttachShadow(host) })
	return root, err
}

// EnsureScript makes sure exactly one <script> carrying the marker
// attribute exists in the head. It reports whether a new element was
// inserted.
func (d *Document) EnsureScript(marker, src string) (script *html.Node, inserted bool) {
	d.Update(func(tx *Tx) { script, inserted = tx.EnsureScript(marker, src) })
	return script, inserted
}

// Tx is the write handle passed to Update.
type Tx struct {
	doc     *Document
	records []MutationRecord
}

// Root returns the document node.
func (tx *Tx) Root() *html.Node { return tx.doc.root }

// Contains reports whether n is attached to the document.
func (tx *Tx) Contains(n *html.Node) bool { return connected(tx.doc.root, n) }

func (tx *Tx) record(rec MutationRecord) {
	tx.records = append(tx.records, rec)
}

// AppendHTML parses fragment in the context of parent and appends the
// resulting nodes.
func (tx *Tx) AppendHTML(parent *html.Node, fragment string) ([]*html.Node, error) {
	nodes, err := ParseFragment(parent, fragment)
	if err != nil {
		return nil, err
	}
	for _, n := range nodes {
		parent.AppendChild(n)
	}
	if len(nodes) > 0 {
		tx.record(MutationRecord{Type: ChildList, Target: parent, Added: nodes})
	}
	return nodes, nil
}

// InsertHTMLAfter parses fragment in the context of parent and inserts the
// nodes right after ref, a child of parent. A nil ref inserts them before
// the first child that is not a shadow root.
func (tx *Tx) InsertHTMLAfter(parent, ref *html.Node, fragment string) ([]*html.Node, error) {
	if ref != nil && ref.Parent != parent {
		return nil, fmt.Errorf("inserting html: reference is not a child of <%s>", parent.Data)
	}
	nodes, err := ParseFragment(parent, fragment)
	if err != nil {
		return nil, err
	}
	var next *html.Node
	if ref != nil {
		next = ref.NextSibling
	} else {
		next = parent.FirstChild
		for next != nil && IsShadowRoot(next) {
			next = next.NextSibling
		}
	}
	for _, n := range nodes {
		parent.InsertBefore(n, next)
	}
	if len(nodes) > 0 {
		tx.record(MutationRecord{Type: ChildList, Target: parent, Added: nodes})
	}
	return nodes, nil
}

// ReplaceTextRuns rewrites the text between the element children of
// parent. runs[0] is the text before the first element, runs[i] the text
// after the i-th; a shadow root does not count as an element. Runs that
// already match are left alone, and runs beyond the last element are
// ignored. It reports whether anything changed.
func (tx *Tx) ReplaceTextRuns(parent *html.Node, runs []string) bool {
	type run struct {
		texts  []*html.Node
		before *html.Node
	}
	groups := []run{{}}
	for c := parent.FirstChild; c != nil; c = c.NextSibling {
		switch {
		case c.Type == html.TextNode:
			g := &groups[len(groups)-1]
			g.texts = append(g.texts, c)
		case c.Type == html.ElementNode && !IsShadowRoot(c):
			groups[len(groups)-1].before = c
			groups = append(groups, run{})
		}
	}

	changed := false
	for i := 0; i < len(runs) && i < len(groups); i++ {
		g := groups[i]
		var cur strings.Builder
		for _, t := range g.texts {
			cur.WriteString(t.Data)
		}
		if cur.String() == runs[i] {
			continue
		}
		changed = true
		var removed, added []*html.Node
		keep := 0
		if len(g.texts) > 0 && runs[i] != "" {
			g.texts[0].Data = runs[i]
			tx.record(MutationRecord{Type: CharacterData, Target: g.texts[0]})
			keep = 1
		} else if runs[i] != "" {
			t := &html.Node{Type: html.TextNode, Data: runs[i]}
			parent.InsertBefore(t, g.before)
			added = append(added, t)
		}
		for _, t := range g.texts[keep:] {
			parent.RemoveChild(t)
			removed = append(removed, t)
		}
		if len(added) > 0 || len(removed) > 0 {
			tx.record(MutationRecord{Type: ChildList, Target: parent, Added: added, Removed: removed})
		}
	}
	return changed
}

// AppendChild appends a detached node to parent.
func (tx *Tx) AppendChild(parent, child *html.Node) error {
	if child.Parent != nil {
		return fmt.Errorf("appending child: node already has a parent")
	}
	parent.AppendChild(child)
	tx.record(MutationRecord{Type: ChildList, Target: parent, Added: []*html.Node{child}})
	return nil
}

// Remove detaches n from its parent.
func (tx *Tx) Remove(n *html.Node) error {
	parent := n.Parent
	if parent == nil {
		return fmt.Errorf("removing node: node is detached")
	}
	parent.RemoveChild(n)
	tx.record(MutationRecord{Type: ChildList, Target: parent, Removed: []*html.Node{n}})
	return nil
}

// ReplaceWith swaps old for the detached node repl.
func (tx *Tx) ReplaceWith(old, repl *html.Node) error {
	parent := old.Parent
	if parent == nil {
		return fmt.Errorf("replacing node: node is detached")
	}
	if repl.Parent != nil {
		return fmt.Errorf("replacing node: replacement already has a parent")
	}
	parent.InsertBefore(repl, old)
	parent.RemoveChild(old)
	tx.record(MutationRecord{
		Type:    ChildList,
		Target:  parent,
		Added:   []*html.Node{repl},
		Removed: []*html.Node{old},
	})
	return nil
}

// SetInnerHTML replaces all children of n with the parsed fragment.
func (tx *Tx) SetInnerHTML(n *html.Node, fragment string) error {
	nodes, err := ParseFragment(n, fragment)
	if err != nil {
		return err
	}
	removed := detachChildren(n)
	for _, c := range nodes {
		n.AppendChild(c)
	}
	if len(removed) > 0 || len(nodes) > 0 {
		tx.record(MutationRecord{Type: ChildList, Target: n, Added: nodes, Removed: removed})
	}
	return nil
}

// SetText replaces all children of n with a single text node.
func (tx *Tx) SetText(n *html.Node, text string) {
	removed := detachChildren(n)
	var added []*html.Node
	if text != "" {
		t := &html.Node{Type: html.TextNode, Data: text}
		n.AppendChild(t)
		added = append(added, t)
	}
	tx.record(MutationRecord{Type: ChildList, Target: n, Added: added, Removed: removed})
}

// AppendText extends the trailing text node of n or creates one.
func (tx *Tx) AppendText(n *html.Node, text string) {
	if last := n.LastChild; last != nil && last.Type == html.TextNode {
		last.Data += text
		tx.record(MutationRecord{Type: CharacterData, Target: last})
		return
	}
	t := &html.Node{Type: html.TextNode, Data: text}
	n.AppendChild(t)
	tx.record(MutationRecord{Type: ChildList, Target: n, Added: []*html.Node{t}})
}

// SetAttr sets an attribute on an element.
func (tx *Tx) SetAttr(n *html.Node, key, val string) {
	SetAttr(n, key, val)
	tx.record(MutationRecord{Type: Attributes, Target: n, AttributeName: key})
}

// RemoveAttr deletes an attribute from an element.
func (tx *Tx) RemoveAttr(n *html.Node, key string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			tx.record(MutationRecord{Type: Attributes, Target: n, AttributeName: key})
			return
		}
	}
}

// AttachShadow gives host an open shadow root and returns it.
func (tx *Tx) AttachShadow(host *html.Node) (*html.Node, error) {
	if host.Type != html.ElementNode {
		return nil, fmt.Errorf("attaching shadow: not an element")
	}
	if ShadowRoot(host) != nil {
		return nil, fmt.Errorf("attaching shadow: %s already hosts a shadow root", host.Data)
	}
	root := NewElement("template", html.Attribute{Key: ShadowRootAttr, Val: "open"})
	host.InsertBefore(root, host.FirstChild)
	tx.record(MutationRecord{Type: ChildList, Target: host, Added: []*html.Node{root}})
	return root, nil
}

// EnsureScript makes sure exactly one marked <script> exists in the head.
func (tx *Tx) EnsureScript(marker, src string) (*html.Node, bool) {
	head := findAtom(tx.doc.root, atom.Head)
	if head == nil {
		return nil, false
	}
	for c := head.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == atom.Script {
			if _, ok := Attr(c, marker); ok {
				return c, false
			}
		}
	}
	script := NewElement("script",
		html.Attribute{Key: "src", Val: src},
		html.Attribute{Key: "async", Val: ""},
		html.Attribute{Key: marker, Val: "true"},
	)
	head.AppendChild(script)
	tx.record(MutationRecord{Type: ChildList, Target: head, Added: []*html.Node{script}})
	return script, true
}

// ParseFragment parses s as the children of an element like context.
// The live context node is never touched.
func ParseFragment(context *html.Node, s string) ([]*html.Node, error) {
	ctx := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	if context != nil && context.Type == html.ElementNode {
		ctx.Data = context.Data
		ctx.DataAtom = context.DataAtom
		ctx.Namespace = context.Namespace
	}
	nodes, err := html.ParseFragment(strings.NewReader(s), ctx)
	if err != nil {
		return nil, fmt.Errorf("parsing fragment: %w", err)
	}
	return nodes, nil
}

// NewElement builds a detached element.
func NewElement(tag string, attrs ...html.Attribute) *html.Node {
	return &html.Node{
		Type:     html.ElementNode,
		Data:     tag,
		DataAtom: atom.Lookup([]byte(tag)),
		Attr:     attrs,
	}
}

// Render serializes n and its descendants.
func Render(n *html.Node) string {
	var buf bytes.Buffer
	if err := html.Render(&buf, n); err != nil {
		return ""
	}
	return buf.String()
}

func detachChildren(n *html.Node) []*html.Node {
	var removed []*html.Node
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		removed = append(removed, c)
		c = next
	}
	return removed
}

func connected(root, n *html.Node) bool {
	for x := n; x != nil; x = x.Parent {
		if x == root {
			return true
		}
	}
	return false
}

func findAtom(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findAtom(c, a); found != nil {
			return found
		}
	}
	return nil
}
