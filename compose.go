package callback

import (
	"context"
	"reflect"
	"sync/atomic"

	"github.com/liujh2010/callback/promise"
)

// ProviderFunc answers an inquiry by calling inquiry.Respond.
type ProviderFunc func(inquiry *Inquiry, composer Handler) bool

type providerHandler struct {
	provide ProviderFunc
}

// Handle ...
func (p *providerHandler) Handle(callback any, _ bool, composer Handler) HandleResult {
	inquiry, ok := CallbackOf(callback).(*Inquiry)
	if !ok {
		return NotHandled
	}
	return HandledIf(p.provide(inquiry, composer))
}

// ProvideWith puts provider ahead of handler. A nil handler yields the
// provider alone.
func ProvideWith(handler Handler, provider ProviderFunc) Handler {
	node := &providerHandler{provide: provider}
	if handler == nil {
		return node
	}
	return NewChain(node, handler)
}

// Provide answers inquiries for any key R is assignable to with value.
func Provide[R any](handler Handler, value R) Handler {
	rt := reflect.TypeOf((*R)(nil)).Elem()
	return ProvideWith(handler, func(inquiry *Inquiry, _ Handler) bool {
		key := inquiry.Key()
		if key.Type == nil || !rt.AssignableTo(key.Type) {
			return false
		}
		return inquiry.Respond(value)
	})
}

// CascadeHandler offers a callback to first and then to second. Greedy
// offers it to both; otherwise second only sees what first left unhandled.
type CascadeHandler struct {
	first, second Handler
}

var _ Handler = (*CascadeHandler)(nil)

// Cascade ...
func Cascade(first, second Handler) *CascadeHandler {
	return &CascadeHandler{first: first, second: second}
}

// Handle ...
func (c *CascadeHandler) Handle(callback any, greedy bool, composer Handler) HandleResult {
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
	result := c.first.Handle(callback, greedy, composer)
	if result.Failed() || (result.IsHandled() && !greedy) {
		return result
	}
	return result.Or(c.second.Handle(callback, greedy, composer))
}

// Chain joins handler with rest: one more handler cascades, several build a
// CompositeHandler.
func Chain(handler Handler, rest ...Handler) Handler {
	switch len(rest) {
	case 0:
		return handler
	case 1:
		return Cascade(handler, rest[0])
	}
	return NewChain(append([]Handler{handler}, rest...)...)
}

// CallbackFilter intercepts a callback on its way to a handler; proceed
// hands it on.
type CallbackFilter func(callback any, composer Handler, proceed func() HandleResult) HandleResult

// HandlerFilter runs a CallbackFilter around every callback offered to the
// handler it decorates. Unless reentrant, callbacks arriving through a
// composer skip the filter.
type HandlerFilter struct {
	handler   Handler
	filter    CallbackFilter
	reentrant bool
}

var _ Decorator = (*HandlerFilter)(nil)

// NewHandlerFilter ...
func NewHandlerFilter(handler Handler, filter CallbackFilter, reentrant bool) *HandlerFilter {
	return &HandlerFilter{handler: handler, filter: filter, reentrant: reentrant}
}

// Intercept filters the top level callbacks reaching handler.
func Intercept(handler Handler, filter CallbackFilter) *HandlerFilter {
	return NewHandlerFilter(handler, filter, false)
}

// Handle ...
func (f *HandlerFilter) Handle(callback any, greedy bool, composer Handler) HandleResult {
	proceed := func() HandleResult {
		return f.handler.Handle(callback, greedy, composer)
	}
	cb, _, composed := unwrapCallback(callback)
	if _, internal := cb.(internalCallback); internal || f.filter == nil || (composed && !f.reentrant) {
		return proceed()
	}
	return f.filter(callback, composer, proceed)
}

// Decoratee ...
func (f *HandlerFilter) Decoratee() Handler {
	return f.handler
}

// BeforeFunc runs ahead of the handler. Returning false rejects the
// callback as not handled. Returning a *promise.Promise waits for it, and a
// promise fulfilled with false rejects too.
type BeforeFunc func(callback any, composer Handler) any

// AfterFunc runs once the handler returns, or once the promises it answered
// with settle. state is what the BeforeFunc returned.
type AfterFunc func(callback any, composer Handler, state any)

// Aspect wraps handler with before and after hooks. Callbacks are passed to
// the hooks unwrapped.
func Aspect(handler Handler, before BeforeFunc, after AfterFunc, reentrant bool) *HandlerFilter {
	return NewHandlerFilter(handler, func(callback any, composer Handler, proceed func() HandleResult) HandleResult {
		cb := CallbackOf(callback)
		var state any
		if before != nil {
			var err error
			if state, err = awaitBefore(cb, before(cb, composer)); err != nil {
				return NotHandled.WithError(err)
			}
			if accepted, ok := state.(bool); ok && !accepted {
				return NotHandled.WithError(notHandled(cb))
			}
		}
		if after == nil {
			return proceed()
		}
		return proceedThenAfter(cb, proceed, func() { after(cb, composer, state) })
	}, reentrant)
}

func awaitBefore(callback any, state any) (any, error) {
	p, ok := state.(*promise.Promise)
	if !ok {
		return state, nil
	}
	ctx := context.Background()
	if c, ok := callback.(Contextual); ok && c.Context() != nil {
		ctx = c.Context()
	}
	return p.Await(ctx)
}

// proceedThenAfter runs after once proceed returns, or once every promise
// the handler answered with during proceed has settled.
func proceedThenAfter(callback any, proceed func() HandleResult, after func()) HandleResult {
	res := resultsOf(callback)
	from := 0
	if res != nil {
		from = len(res.values)
	}
	deferred := false
	defer func() {
		if !deferred {
			after()
		}
	}()

	result := proceed()
	if res == nil || len(res.values) < from {
		return result
	}
	var pending []*promise.Promise
	for _, v := range res.values[from:] {
		if p, ok := v.(*promise.Promise); ok {
			pending = append(pending, p)
		}
	}
	if len(pending) == 0 {
		return result
	}
	deferred = true
	remaining := int32(len(pending))
	for _, p := range pending {
		p.Finally(func() {
			if atomic.AddInt32(&remaining, -1) == 0 {
				after()
			}
		})
	}
	return result
}

func resultsOf(callback any) *results {
	switch cb := callback.(type) {
	case *Command:
		return &cb.results
	case *Inquiry:
		return &cb.results
	}
	return nil
}
