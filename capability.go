package callback

import (
	"reflect"

	"github.com/pkg/errors"
)

// HandleMethod is a method call offered to handlers. A target takes it when
// it implements the capability interface, or in duck mode when it merely
// has a method of that name and shape.
type HandleMethod struct {
	capability reflect.Type
	method     string
	args       []any
	results    []any
	err        error
}

// NewHandleMethod ...
func NewHandleMethod(capability reflect.Type, method string, args ...any) *HandleMethod {
	return &HandleMethod{capability: capability, method: method, args: args}
}

// Method ...
func (m *HandleMethod) Method() string { return m.method }

// Results holds the return values of the last target that took the call.
func (m *HandleMethod) Results() []any { return m.results }

// Err ...
func (m *HandleMethod) Err() error { return m.err }

func (m *HandleMethod) String() string {
	return m.capability.String() + "." + m.method
}

func (m *HandleMethod) invoke(target any, opts DispatchOptions) HandleResult {
	if target == nil {
		return NotHandled
	}
	tv := reflect.ValueOf(target)
	if !opts.Duck && !tv.Type().Implements(m.capability) {
		return NotHandled
	}
	method := tv.MethodByName(m.method)
	if !method.IsValid() {
		return NotHandled
	}
	mt := method.Type()
	if mt.IsVariadic() || mt.NumIn() != len(m.args) {
		return NotHandled
	}
	args := make([]reflect.Value, len(m.args))
	for i, arg := range m.args {
		param := mt.In(i)
		if arg != nil && !reflect.TypeOf(arg).AssignableTo(param) {
			return NotHandled
		}
		args[i] = valueFor(arg, param)
	}

	out := method.Call(args)
	m.results, m.err = nil, nil
	for i, v := range out {
		if i == len(out)-1 && mt.Out(i) == errorType {
			if !v.IsNil() {
				m.err = v.Interface().(error)
			}
			continue
		}
		m.results = append(m.results, valueOf(v))
	}
	if m.err != nil {
		return Handled.WithError(m.err)
	}
	return Handled
}

// Capability forwards the methods of interface P through a handler tree.
type Capability[P any] struct {
	handler    Handler
	capability reflect.Type
}

// AsCapability returns a forwarder for P. It fails when P is not an
// interface type.
func AsCapability[P any](handler Handler) (*Capability[P], bool) {
	t := reflect.TypeOf((*P)(nil)).Elem()
	if handler == nil || t.Kind() != reflect.Interface {
		return nil, false
	}
	return &Capability[P]{handler: handler, capability: t}, true
}

// Call invokes method on whichever node of the tree takes it and returns
// the method results without a trailing error.
func (c *Capability[P]) Call(method string, args ...any) ([]any, error) {
	if _, ok := c.capability.MethodByName(method); !ok {
		return nil, errors.Wrapf(ErrInvalidArgument, "%s has no method %s", c.capability, method)
	}
	call := NewHandleMethod(c.capability, method, args...)
	handled, err := Dispatch(c.handler, call, None)
	if err != nil {
		return call.Results(), err
	}
	if !handled {
		if bestEffort(c.handler, None) {
			return nil, nil
		}
		return nil, notHandled(call)
	}
	return call.Results(), nil
}

// CallAs is Call returning the first result as R.
func CallAs[R any, P any](c *Capability[P], method string, args ...any) (R, error) {
	var zero R
	results, err := c.Call(method, args...)
	if err != nil || len(results) == 0 || results[0] == nil {
		return zero, err
	}
	typed, ok := results[0].(R)
	if !ok {
		return zero, errors.Errorf("callback: %s returned %T, not %T", method, results[0], zero)
	}
	return typed, nil
}
