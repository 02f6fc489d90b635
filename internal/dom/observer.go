package dom

import (
	"log"
	"sync"

	"golang.org/x/net/html"
)

// MutationType classifies a MutationRecord.
type MutationType string

const (
	ChildList     MutationType = "childList"
	CharacterData MutationType = "characterData"
	Attributes    MutationType = "attributes"
)

// MutationRecord describes one change to the tree.
type MutationRecord struct {
	Type          MutationType
	Target        *html.Node
	Added         []*html.Node
	Removed       []*html.Node
	AttributeName string
}

// ObserveOptions selects which mutations an observer receives.
type ObserveOptions struct {
	ChildList     bool
	CharacterData bool
	Attributes    bool
	Subtree       bool
}

func (o ObserveOptions) wants(t MutationType) bool {
	switch t {
	case ChildList:
		return o.ChildList
	case CharacterData:
		return o.CharacterData
	case Attributes:
		return o.Attributes
	}
	return false
}

// Observer receives batches of mutation records for one target node.
// Batches are delivered on a dedicated goroutine, in order, never
// concurrently with each other.
type Observer struct {
	doc      *Document
	target   *html.Node
	opts     ObserveOptions
	callback func([]MutationRecord)

	mu      sync.Mutex
	pending []MutationRecord
	closed  bool

	wake chan struct{}
	done chan struct{}
}

// Observe registers callback for mutations on target (and its subtree when
// opts.Subtree is set) and starts delivering.
func (d *Document) Observe(target *html.Node, opts ObserveOptions, callback func([]MutationRecord)) *Observer {
	o := &Observer{
		doc:      d,
		target:   target,
		opts:     opts,
		callback: callback,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	d.mu.Lock()
	d.regs[target] = append(d.regs[target], o)
	d.mu.Unlock()
	go o.run()
	return o
}

// ObserverCount returns the number of live observer registrations.
func (d *Document) ObserverCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n := 0
	for _, obs := range d.regs {
		n += len(obs)
	}
	return n
}

// Target returns the observed node.
func (o *Observer) Target() *html.Node { return o.target }

// Disconnect stops delivery and drops any queued records. It is safe to
// call from inside the callback and more than once.
func (o *Observer) Disconnect() {
	d := o.doc
	d.mu.Lock()
	regs := d.regs[o.target]
	for i, r := range regs {
		if r == o {
			regs = append(regs[:i], regs[i+1:]...)
			break
		}
	}
	if len(regs) == 0 {
		delete(d.regs, o.target)
	} else {
		d.regs[o.target] = regs
	}
	d.mu.Unlock()

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	o.pending = nil
	close(o.done)
}

func (o *Observer) enqueue(rec MutationRecord) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.pending = append(o.pending, rec)
	o.mu.Unlock()
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *Observer) run() {
	for {
		select {
		case <-o.done:
			return
		case <-o.wake:
		}
		o.mu.Lock()
		batch := o.pending
		o.pending = nil
		closed := o.closed
		o.mu.Unlock()
		if closed {
			return
		}
		if len(batch) > 0 {
			o.deliver(batch)
		}
	}
}

func (o *Observer) deliver(batch []MutationRecord) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("dom: observer callback panicked: %v", r)
		}
	}()
	o.callback(batch)
}
