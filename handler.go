package callback

import (
	"reflect"
	"sync"
)

type (
	// Handler is a node in a dispatch tree. Handle offers callback to the
	// node; greedy asks for every match instead of the first, and composer
	// is the root to use for nested dispatches.
	Handler interface {
		Handle(callback any, greedy bool, composer Handler) HandleResult
	}

	// HandlerFunc adapts a function to Handler. Callbacks may arrive wrapped;
	// use CallbackOf to reach the original value.
	HandlerFunc func(callback any, greedy bool, composer Handler) HandleResult

	// Decorator is a handler that forwards to another one.
	Decorator interface {
		Handler
		Decoratee() Handler
	}
)

// Handle ...
func (f HandlerFunc) Handle(callback any, greedy bool, composer Handler) HandleResult {
	return f(callback, greedy, composer)
}

// HandleResult is the outcome of offering a callback to a node.
type HandleResult struct {
	handled bool
	err     error
}

var (
	// NotHandled ...
	NotHandled = HandleResult{}
	// Handled ...
	Handled = HandleResult{handled: true}
)

// HandledIf ...
func HandledIf(handled bool) HandleResult {
	return HandleResult{handled: handled}
}

// IsHandled ...
func (r HandleResult) IsHandled() bool { return r.handled }

// Err is the failure raised while handling, if any.
func (r HandleResult) Err() error { return r.err }

// Failed ...
func (r HandleResult) Failed() bool { return r.err != nil }

// WithError ...
func (r HandleResult) WithError(err error) HandleResult {
	r.err = err
	return r
}

// Or merges two outcomes: handled if either is, keeping the first error.
func (r HandleResult) Or(other HandleResult) HandleResult {
	if r.err == nil {
		r.err = other.err
	}
	r.handled = r.handled || other.handled
	return r
}

// Composition marks a callback dispatched through a composer.
type Composition struct {
	Callback any
}

// semanticCallback carries per-call options from a semantics decorator
// down to the nodes below it.
type semanticCallback struct {
	callback any
	options  CallbackOptions
}

// CallbackOf strips the wrappers a callback picks up while traversing.
func CallbackOf(callback any) any {
	cb, _, _ := unwrapCallback(callback)
	return cb
}

func unwrapCallback(callback any) (cb any, options CallbackOptions, composed bool) {
	cb = callback
	for {
		switch w := cb.(type) {
		case *Composition:
			cb, composed = w.Callback, true
		case *semanticCallback:
			cb, options = w.callback, options|w.options
		default:
			return cb, options, composed
		}
	}
}

// CompositionScope is the composer handed to members. Callbacks dispatched
// through it are marked as compositions and share its re-entrancy guard.
type CompositionScope struct {
	handler Handler
	guard   *reentrancyGuard
}

var _ Decorator = (*CompositionScope)(nil)

func newCompositionScope(handler Handler) *CompositionScope {
	return &CompositionScope{handler: handler, guard: &reentrancyGuard{}}
}

// Handle ...
func (c *CompositionScope) Handle(callback any, greedy bool, _ Handler) HandleResult {
	if _, ok := callback.(*Composition); !ok {
		callback = &Composition{Callback: callback}
	}
	return c.handler.Handle(callback, greedy, c)
}

// Decoratee ...
func (c *CompositionScope) Decoratee() Handler {
	return c.handler
}

type guardKey struct {
	node Handler
	id   any
}

// reentrancyGuard stops a node from taking the same callback twice within
// one dispatch, which would otherwise loop forever in cyclic trees.
type reentrancyGuard struct {
	mu     sync.Mutex
	active map[guardKey]struct{}
}

func guardOf(composer Handler) *reentrancyGuard {
	if scope, ok := composer.(*CompositionScope); ok {
		return scope.guard
	}
	return nil
}

// enter returns false when node is already handling the callback
// identified by id. The returned release must be called on exit.
func (g *reentrancyGuard) enter(node Handler, id any, ok bool) (func(), bool) {
	if g == nil || node == nil || !reflect.TypeOf(node).Comparable() || !ok {
		return func() {}, true
	}
	key := guardKey{node: node, id: id}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.active[key]; busy {
		return nil, false
	}
	if g.active == nil {
		g.active = make(map[guardKey]struct{})
	}
	g.active[key] = struct{}{}
	return func() {
		g.mu.Lock()
		delete(g.active, key)
		g.mu.Unlock()
	}, true
}

type pointerID struct {
	t reflect.Type
	p uintptr
}

// identity names what a callback is about, so a member is not offered the
// same subject again while still handling it.
func identity(callback any) (any, bool) {
	switch cb := callback.(type) {
	case *Command:
		if id, ok := identity(cb.Callback()); ok {
			return id, true
		}
		return cb, true
	case *Inquiry:
		return "inquiry:" + cb.Key().cacheKey(), true
	case nil:
		return nil, false
	}
	return instanceID(callback)
}

// instanceID names a callback value by address.
func instanceID(callback any) (any, bool) {
	if callback == nil {
		return nil, false
	}
	v := reflect.ValueOf(callback)
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Chan, reflect.Slice, reflect.Func, reflect.UnsafePointer:
		if v.IsNil() {
			return nil, false
		}
		return pointerID{t: v.Type(), p: v.Pointer()}, true
	}
	return nil, false
}

// Unwrap returns the object behind a chain of decorators.
func Unwrap(handler Handler) any {
	for {
		switch h := handler.(type) {
		case *targetHandler:
			return h.target
		case *staticHandler:
			return h.handlerType
		case Decorator:
			handler = h.Decoratee()
		default:
			return handler
		}
	}
}

// targetHandler dispatches to the bindings registered for an object.
type targetHandler struct {
	target   any
	registry *Registry
}

// Handle ...
func (h *targetHandler) Handle(callback any, greedy bool, composer Handler) HandleResult {
	if composer == nil {
		composer = newCompositionScope(h)
	}
	return h.registry.dispatch(h, h.target, nil, callback, greedy, composer)
}

// Target ...
func (h *targetHandler) Target() any {
	return h.target
}

// staticHandler dispatches to the static bindings of a handler type.
type staticHandler struct {
	handlerType reflect.Type
	registry    *Registry
}

// Handle ...
func (h *staticHandler) Handle(callback any, greedy bool, composer Handler) HandleResult {
	if composer == nil {
		composer = newCompositionScope(h)
	}
	return h.registry.dispatch(h, nil, h.handlerType, callback, greedy, composer)
}

// NewHandler wraps target in a node that dispatches through the default
// registry. Handlers are returned unchanged.
func NewHandler(target any) Handler {
	return DefaultRegistry.NewHandler(target)
}

// NewStaticHandler exposes the static bindings of handlerType through the
// default registry.
func NewStaticHandler(handlerType reflect.Type) Handler {
	return DefaultRegistry.NewStaticHandler(handlerType)
}
