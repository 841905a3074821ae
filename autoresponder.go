package mongomock

import (
	"sync"
	"sync/atomic"

	"github.com/mongodb-labs/mongo-mockup-db/match"
)

// ResponderHandle identifies a registered autoresponder so it can later be
// removed with RemoveResponder.
type ResponderHandle uint64

// ResponderFunc handles a request intercepted by the autoresponder chain.
// It returns true if it replied (or otherwise fully handled the request,
// e.g. by hanging up), which stops the chain from walking any further and
// keeps the request out of the inbox. Returning false lets the chain
// continue to the next (older) entry.
type ResponderFunc func(req *Request) bool

var nextHandle uint64

func newResponderHandle() ResponderHandle {
	return ResponderHandle(atomic.AddUint64(&nextHandle, 1))
}

type responderEntry struct {
	handle  ResponderHandle
	pattern match.Pattern
	fn      ResponderFunc
}

// autoresponderChain is the ordered list of registered responders. Entries
// are stored oldest-first; dispatch walks the slice in reverse so the most
// recently added entry is tried first (last-registered-first precedence),
// except for entries installed via appendLowPrecedence, which are always
// inserted at index 0 so they are the last thing tried regardless of when
// they were registered.
type autoresponderChain struct {
	mu    sync.Mutex
	chain []responderEntry
}

func newAutoresponderChain() *autoresponderChain {
	return &autoresponderChain{}
}

// add registers a new highest-precedence responder.
func (a *autoresponderChain) add(pattern match.Pattern, fn ResponderFunc) ResponderHandle {
	h := newResponderHandle()
	a.mu.Lock()
	a.chain = append(a.chain, responderEntry{handle: h, pattern: pattern, fn: fn})
	a.mu.Unlock()
	return h
}

// appendLowPrecedence registers a new lowest-precedence responder (a
// "responder of last resort"), always tried after every entry added via
// add, no matter the registration order between the two.
func (a *autoresponderChain) appendLowPrecedence(pattern match.Pattern, fn ResponderFunc) ResponderHandle {
	h := newResponderHandle()
	a.mu.Lock()
	a.chain = append([]responderEntry{{handle: h, pattern: pattern, fn: fn}}, a.chain...)
	a.mu.Unlock()
	return h
}

// remove unregisters the responder identified by h.
func (a *autoresponderChain) remove(h ResponderHandle) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, e := range a.chain {
		if e.handle == h {
			a.chain = append(a.chain[:i], a.chain[i+1:]...)
			return nil
		}
	}
	return ErrUnknownResponderHandle
}

// dispatch walks the chain most-recently-added-first, invoking the fn of
// the first entry whose pattern matches req. It reports whether some entry
// handled the request.
func (a *autoresponderChain) dispatch(req *Request) bool {
	a.mu.Lock()
	entries := make([]responderEntry, len(a.chain))
	copy(entries, a.chain)
	a.mu.Unlock()

	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if !match.Matches(e.pattern, req.proto) {
			continue
		}
		if e.fn(req) {
			return true
		}
	}
	return false
}
