package callback

import (
	"context"
	"reflect"
	"runtime"
	"strings"

	"github.com/pkg/errors"
)

var (
	errorType    = reflect.TypeOf((*error)(nil)).Elem()
	handlerIface = reflect.TypeOf((*Handler)(nil)).Elem()
	contextType  = reflect.TypeOf((*context.Context)(nil)).Elem()
	bindingType  = reflect.TypeOf((*Binding)(nil))
	typeArgsType = reflect.TypeOf(TypeArgs(nil))
)

// Binding is a member registered under a policy: a function whose first
// parameter is the handler (unless static), followed for contravariant
// policies by the callback parameter and then by extra parameters resolved
// at dispatch. It may return nothing, a value, an error, or a value and an
// error. Bindings are immutable once registered.
type Binding struct {
	policy      *Policy
	handlerType reflect.Type
	key         Key
	fn          reflect.Value
	name        string
	static      bool
	callbackIdx int
	extras      []int
	hasValue    bool
	hasError    bool
	arity       int
	metadata    *Metadata
	filters     []FilterProvider
	skipFilters bool
	order       int
}

// BindingOption ...
type BindingOption func(*bindingOptions)

type bindingOptions struct {
	key         *Key
	name        string
	static      bool
	constraints []Constraint
	filters     []FilterProvider
	skipFilters bool
}

// WithKey overrides the key derived from the member signature, e.g. to
// bind an open generic spec or a string key.
func WithKey(key any) BindingOption {
	return func(o *bindingOptions) {
		k := AsKey(key)
		o.key = &k
	}
}

// WithName names the binding in logs.
func WithName(name string) BindingOption {
	return func(o *bindingOptions) { o.name = name }
}

// Static binds a member that takes no handler instance.
func Static() BindingOption {
	return func(o *bindingOptions) { o.static = true }
}

// WithConstraints tags the binding metadata.
func WithConstraints(constraints ...Constraint) BindingOption {
	return func(o *bindingOptions) { o.constraints = append(o.constraints, constraints...) }
}

// WithMemberFilters attaches filter providers to this member only.
func WithMemberFilters(providers ...FilterProvider) BindingOption {
	return func(o *bindingOptions) { o.filters = append(o.filters, providers...) }
}

// WithoutFilters limits the member to required filter providers.
func WithoutFilters() BindingOption {
	return func(o *bindingOptions) { o.skipFilters = true }
}

func newBinding(policy *Policy, owner reflect.Type, member any, opts ...BindingOption) (*Binding, error) {
	var o bindingOptions
	for _, opt := range opts {
		opt(&o)
	}
	fn := reflect.ValueOf(member)
	if fn.Kind() != reflect.Func || fn.IsNil() {
		return nil, errors.Wrapf(ErrInvalidMember, "%T is not a function", member)
	}
	ft := fn.Type()
	if ft.IsVariadic() {
		return nil, errors.Wrapf(ErrInvalidMember, "%s is variadic", ft)
	}

	b := &Binding{
		policy:      policy,
		handlerType: owner,
		fn:          fn,
		name:        o.name,
		static:      o.static,
		callbackIdx: -1,
		metadata:    NewMetadata(o.constraints...),
		filters:     o.filters,
		skipFilters: o.skipFilters,
	}
	if b.name == "" {
		b.name = memberName(fn)
	}

	first := 0
	if !b.static {
		if ft.NumIn() == 0 {
			return nil, errors.Wrapf(ErrInvalidMember, "%s takes no handler", b.name)
		}
		receiver := ft.In(0)
		if b.handlerType == nil {
			b.handlerType = receiver
		} else if !b.handlerType.AssignableTo(receiver) {
			return nil, errors.Wrapf(ErrInvalidMember, "%s does not accept %s", b.name, b.handlerType)
		}
		first = 1
	} else if b.handlerType == nil {
		return nil, errors.Wrapf(ErrInvalidMember, "static %s needs a handler type", b.name)
	}
	b.arity = ft.NumIn() - first

	switch ft.NumOut() {
	case 0:
	case 1:
		if ft.Out(0) == errorType {
			b.hasError = true
		} else {
			b.hasValue = true
		}
	case 2:
		if ft.Out(1) != errorType {
			return nil, errors.Wrapf(ErrInvalidMember, "%s second result must be error", b.name)
		}
		b.hasValue, b.hasError = true, true
	default:
		return nil, errors.Wrapf(ErrInvalidMember, "%s returns too many values", b.name)
	}

	switch policy.variance {
	case Contravariant:
		if ft.NumIn() <= first {
			return nil, errors.Wrapf(ErrInvalidMember, "%s takes no callback", b.name)
		}
		b.callbackIdx = first
		b.key = Key{Type: ft.In(first)}
		first++
	case Covariant:
		if !b.hasValue {
			return nil, errors.Wrapf(ErrInvalidMember, "%s returns no value", b.name)
		}
		b.key = Key{Type: ft.Out(0)}
	}
	if o.key != nil {
		b.key = *o.key
	}
	if b.key.IsZero() {
		return nil, errors.Wrapf(ErrInvalidMember, "%s has no key", b.name)
	}
	for i := first; i < ft.NumIn(); i++ {
		b.extras = append(b.extras, i)
	}
	return b, nil
}

func memberName(fn reflect.Value) string {
	f := runtime.FuncForPC(fn.Pointer())
	if f == nil {
		return fn.Type().String()
	}
	name := f.Name()
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return strings.TrimSuffix(name, "-fm")
}

// Policy ...
func (b *Binding) Policy() *Policy { return b.policy }

// HandlerType ...
func (b *Binding) HandlerType() reflect.Type { return b.handlerType }

// Key ...
func (b *Binding) Key() Key { return b.key }

// Name ...
func (b *Binding) Name() string { return b.name }

// Arity is the number of parameters besides the handler.
func (b *Binding) Arity() int { return b.arity }

// IsStatic ...
func (b *Binding) IsStatic() bool { return b.static }

// IsVoid reports a member without a return value.
func (b *Binding) IsVoid() bool { return !b.hasValue }

// Metadata ...
func (b *Binding) Metadata() *Metadata { return b.metadata }

// Filters are the providers attached to this member at registration.
func (b *Binding) Filters() []FilterProvider { return b.filters }

// SkipsFilters ...
func (b *Binding) SkipsFilters() bool { return b.skipFilters }

func (b *Binding) String() string {
	return b.policy.name + " " + b.name
}

func (b *Binding) acceptsSubject(subject any) bool {
	if b.callbackIdx < 0 {
		return true
	}
	param := b.fn.Type().In(b.callbackIdx)
	if subject == nil {
		return param.Kind() == reflect.Interface || param.Kind() == reflect.Ptr
	}
	return reflect.TypeOf(subject).AssignableTo(param)
}

// invoke calls the member. ok is false when an argument could not be
// resolved, which makes the member a non-match.
func (b *Binding) invoke(target any, subject any, call *ArgContext) (result any, ok bool, err error) {
	ft := b.fn.Type()
	args := make([]reflect.Value, ft.NumIn())
	if !b.static {
		args[0] = valueFor(target, ft.In(0))
	}
	if b.callbackIdx >= 0 {
		args[b.callbackIdx] = valueFor(subject, ft.In(b.callbackIdx))
	}
	for _, i := range b.extras {
		v, resolved := call.resolve(ft.In(i))
		if !resolved {
			call.registry.logger.WithField("binding", b.String()).
				WithField("param", ft.In(i).String()).
				Debug("argument not resolved")
			return nil, false, nil
		}
		args[i] = v
	}

	out := b.fn.Call(args)
	if b.hasError {
		if e := out[len(out)-1]; !e.IsNil() {
			err = e.Interface().(error)
		}
	}
	if b.hasValue {
		result = valueOf(out[0])
	}
	return result, true, err
}

// valueFor adapts v to a parameter of type t, using the zero value for nil.
func valueFor(v any, t reflect.Type) reflect.Value {
	if v == nil {
		return reflect.Zero(t)
	}
	rv := reflect.ValueOf(v)
	if rv.Type() != t && rv.Type().ConvertibleTo(t) {
		return rv.Convert(t)
	}
	return rv
}

// valueOf unboxes a result, turning typed nils into nil.
func valueOf(v reflect.Value) any {
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func:
		if v.IsNil() {
			return nil
		}
	}
	return v.Interface()
}
