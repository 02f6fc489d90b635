package pipeline

import (
	"sync"
	"weak"

	"golang.org/x/net/html"
)

// processedSet remembers containers that already have a mount. It holds
// weak references so removed subtrees can still be collected.
type processedSet struct {
	mu    sync.Mutex
	nodes map[weak.Pointer[html.Node]]struct{}
}

func newProcessedSet() *processedSet {
	return &processedSet{nodes: make(map[weak.Pointer[html.Node]]struct{})}
}

func (s *processedSet) mark(n *html.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[weak.Make(n)] = struct{}{}
	if len(s.nodes)%256 == 0 {
		s.sweepLocked()
	}
}

func (s *processedSet) has(n *html.Node) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.nodes[weak.Make(n)]
	return ok
}

// within reports whether n or any ancestor is processed. The caller must
// hold the document lock.
func (s *processedSet) within(n *html.Node) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for x := n; x != nil; x = x.Parent {
		if _, ok := s.nodes[weak.Make(x)]; ok {
			return true
		}
	}
	return false
}

func (s *processedSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.nodes)
}

func (s *processedSet) sweepLocked() {
	for p := range s.nodes {
		if p.Value() == nil {
			delete(s.nodes, p)
		}
	}
}
