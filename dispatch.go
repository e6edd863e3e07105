package callback

import (
	"github.com/pkg/errors"

	"github.com/liujh2010/callback/promise"
)

// Dispatch offers callback to handler under options and reports whether
// anything handled it. Called with the composer a member received, it
// continues the enclosing dispatch instead of starting a new one.
func Dispatch(handler Handler, callback any, options CallbackOptions) (bool, error) {
	if handler == nil || callback == nil {
		return false, errors.Wrap(ErrInvalidArgument, "Dispatch")
	}
	if options.Has(Resolving) {
		if _, ok := callback.(*Inquiry); !ok {
			var opts []InquiryOption
			if options.Has(Broadcast) {
				opts = append(opts, ResolveMany())
			}
			callback = NewInquiry(callback, opts...)
		}
		options &^= Resolving
	}
	h := handler
	if options != None {
		h = Semantics(handler, options)
	}
	var composer Handler
	if _, nested := handler.(*CompositionScope); !nested {
		composer = newCompositionScope(h)
	}
	result := h.Handle(callback, false, composer)
	return result.IsHandled(), result.Err()
}

func bestEffort(handler Handler, options CallbackOptions) bool {
	return options.Has(BestEffort) || GetSemantics(handler).HasOption(BestEffort)
}

func execute(handler Handler, callback DispatchCallback, subject any, options CallbackOptions, result func() (any, error)) (any, error) {
	handled, err := Dispatch(handler, callback, options)
	if err != nil {
		return nil, err
	}
	if !handled && !bestEffort(handler, options) {
		return nil, notHandled(subject)
	}
	return result()
}

// Execute dispatches callback as a command and returns its result.
func Execute(handler Handler, callback any, opts ...CommandOption) (any, error) {
	cmd := NewCommand(callback, opts...)
	options := None
	if cmd.many {
		options = Broadcast
	}
	return execute(handler, cmd, callback, options, cmd.Result)
}

// ExecuteAll dispatches callback to every matching member and returns the
// non-nil results.
func ExecuteAll(handler Handler, callback any, opts ...CommandOption) ([]any, error) {
	v, err := Execute(handler, callback, append(opts, Many())...)
	if err != nil || v == nil {
		return nil, err
	}
	return asSlice(v)
}

// Submit dispatches callback as a command and returns a promise of its
// result. A callback nobody handles yields a promise rejected with a
// NotHandledError unless handler is best-effort.
func Submit(handler Handler, callback any, opts ...CommandOption) *promise.Promise {
	v, err := Execute(handler, callback, append(opts, WantsAsync())...)
	if err != nil {
		return promise.Rejected(err)
	}
	return promise.Resolved(v)
}

// SubmitAll is Submit to every matching member; the promise fulfills with
// the non-nil results once all of them settle.
func SubmitAll(handler Handler, callback any, opts ...CommandOption) *promise.Promise {
	return Submit(handler, callback, append(opts, Many())...)
}

func inquire(handler Handler, key any, opts ...InquiryOption) (any, error) {
	inquiry := NewInquiry(key, opts...)
	options := None
	if inquiry.many {
		options = Broadcast
	}
	return execute(handler, inquiry, inquiry, options, inquiry.Result)
}

// Resolve asks handler for a value of key: a reflect.Type, TypeSpec,
// string or Key.
func Resolve(handler Handler, key any, opts ...InquiryOption) (any, error) {
	return inquire(handler, key, opts...)
}

// ResolveAll collects every value handler provides for key.
func ResolveAll(handler Handler, key any, opts ...InquiryOption) ([]any, error) {
	v, err := inquire(handler, key, append(opts, ResolveMany())...)
	if err != nil || v == nil {
		return nil, err
	}
	return asSlice(v)
}

// ResolveAsync is Resolve returning a promise.
func ResolveAsync(handler Handler, key any, opts ...InquiryOption) *promise.Promise {
	v, err := inquire(handler, key, append(opts, ResolveAsyncResult())...)
	if err != nil {
		return promise.Rejected(err)
	}
	return promise.Resolved(v)
}

// ResolveOf resolves a value of type T.
func ResolveOf[T any](handler Handler, constraints ...Constraint) (T, error) {
	var zero T
	v, err := Resolve(handler, TypeKey[T](), WithInquiryConstraints(constraints...))
	if err != nil || v == nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, errors.Errorf("callback: resolved %T is not %T", v, zero)
	}
	return typed, nil
}

func asSlice(v any) ([]any, error) {
	values, ok := v.([]any)
	if !ok {
		return nil, errors.Errorf("callback: expected results, got %T", v)
	}
	return values, nil
}
