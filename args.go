package callback

import (
	"context"
	"reflect"
)

// ArgContext is what a resolver may draw on for one member invocation.
type ArgContext struct {
	Callback any
	Subject  any
	Binding  *Binding
	Composer Handler
	TypeArgs TypeArgs
	registry *Registry
}

// Contextual is implemented by callbacks that carry a context.
type Contextual interface {
	Context() context.Context
}

// Context returns the context carried by the callback, or Background.
func (c *ArgContext) Context() context.Context {
	if cb, ok := c.Callback.(Contextual); ok {
		if ctx := cb.Context(); ctx != nil {
			return ctx
		}
	}
	return context.Background()
}

// ArgResolver supplies values for extra member parameters.
type ArgResolver interface {
	ResolveArg(param reflect.Type, call *ArgContext) (reflect.Value, bool)
}

// ArgResolverFunc ...
type ArgResolverFunc func(param reflect.Type, call *ArgContext) (reflect.Value, bool)

// ResolveArg ...
func (f ArgResolverFunc) ResolveArg(param reflect.Type, call *ArgContext) (reflect.Value, bool) {
	return f(param, call)
}

// resolve looks up a parameter value: the composer, the binding, the bound
// type arguments, the context, the callback itself, custom resolvers and
// last a provides inquiry through the composer.
func (c *ArgContext) resolve(param reflect.Type) (reflect.Value, bool) {
	switch param {
	case handlerIface:
		if c.Composer == nil {
			return reflect.Value{}, false
		}
		return reflect.ValueOf(&c.Composer).Elem(), true
	case bindingType:
		return reflect.ValueOf(c.Binding), true
	case typeArgsType:
		return reflect.ValueOf(c.TypeArgs), true
	case contextType:
		ctx := c.Context()
		return reflect.ValueOf(&ctx).Elem(), true
	}
	if c.Callback != nil && reflect.TypeOf(c.Callback).AssignableTo(param) {
		return valueFor(c.Callback, param), true
	}
	for _, resolver := range c.registry.argResolvers() {
		if v, ok := resolver.ResolveArg(param, c); ok {
			return v, true
		}
	}
	if c.Composer == nil {
		return reflect.Value{}, false
	}
	inquiry := NewInquiry(param, InquiryContext(c.Context()))
	if !c.Composer.Handle(inquiry, false, nil).IsHandled() {
		return reflect.Value{}, false
	}
	value, err := inquiry.Result()
	if err != nil || value == nil || !reflect.TypeOf(value).AssignableTo(param) {
		return reflect.Value{}, false
	}
	return valueFor(value, param), true
}
