package callback

import (
	"reflect"
	"sync"
)

// CompositeHandler offers callbacks to its children in order. Without
// greedy the first child that handles wins; with greedy every child is
// offered the callback. The first child error stops the traversal.
type CompositeHandler struct {
	mu       sync.RWMutex
	handlers []Handler
}

var _ Handler = (*CompositeHandler)(nil)

// NewChain ...
func NewChain(handlers ...Handler) *CompositeHandler {
	c := &CompositeHandler{}
	return c.AddHandlers(handlers...)
}

// Handlers returns a snapshot of the children.
func (c *CompositeHandler) Handlers() []Handler {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Handler(nil), c.handlers...)
}

// AddHandlers appends children not already present.
func (c *CompositeHandler) AddHandlers(handlers ...Handler) *CompositeHandler {
	return c.InsertHandlers(-1, handlers...)
}

// InsertHandlers inserts children at index; a negative or out of range
// index appends.
func (c *CompositeHandler) InsertHandlers(index int, handlers ...Handler) *CompositeHandler {
	c.mu.Lock()
	defer c.mu.Unlock()
	var fresh []Handler
	for _, h := range handlers {
		if h == nil || c.indexOf(h) >= 0 || contains(fresh, h) {
			continue
		}
		fresh = append(fresh, h)
	}
	if index < 0 || index > len(c.handlers) {
		index = len(c.handlers)
	}
	merged := make([]Handler, 0, len(c.handlers)+len(fresh))
	merged = append(merged, c.handlers[:index]...)
	merged = append(merged, fresh...)
	merged = append(merged, c.handlers[index:]...)
	c.handlers = merged
	return c
}

// RemoveHandlers removes children, matching either the node or the object
// it wraps.
func (c *CompositeHandler) RemoveHandlers(handlers ...Handler) *CompositeHandler {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.handlers[:0:0]
	for _, h := range c.handlers {
		if !removed(h, handlers) {
			kept = append(kept, h)
		}
	}
	c.handlers = kept
	return c
}

// Handle ...
func (c *CompositeHandler) Handle(callback any, greedy bool, composer Handler) HandleResult {
	if composer == nil {
		composer = newCompositionScope(c)
	}
	if g := guardOf(composer); g != nil {
		id, guarded := instanceID(callback)
		release, ok := g.enter(c, id, guarded)
		if !ok {
			return NotHandled
		}
		defer release()
	}
	result := NotHandled
	for _, h := range c.Handlers() {
		result = result.Or(h.Handle(callback, greedy, composer))
		if result.Failed() || (result.IsHandled() && !greedy) {
			return result
		}
	}
	return result
}

func (c *CompositeHandler) indexOf(h Handler) int {
	for i, existing := range c.handlers {
		if same(existing, h) {
			return i
		}
	}
	return -1
}

func contains(handlers []Handler, h Handler) bool {
	for _, existing := range handlers {
		if same(existing, h) {
			return true
		}
	}
	return false
}

func removed(h Handler, targets []Handler) bool {
	for _, t := range targets {
		if same(h, t) || sameTarget(Unwrap(h), Unwrap(t)) {
			return true
		}
	}
	return false
}

func same(a, b Handler) bool {
	return isComparable(a) && isComparable(b) && a == b
}

func sameTarget(a, b any) bool {
	return isComparable(a) && isComparable(b) && a == b
}

func isComparable(v any) bool {
	return v != nil && reflect.TypeOf(v).Comparable()
}
