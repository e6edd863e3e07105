package callback

import (
	"reflect"
	"strings"
	"sync"
)

// Variance decides which side of a member signature carries its key.
type Variance int

const (
	// Contravariant members are keyed by the callback parameter they accept.
	Contravariant Variance = iota
	// Covariant members are keyed by the value they return.
	Covariant
)

type (
	// KeyFunc extracts the matchable subject of a callback and its key.
	KeyFunc func(callback any) (subject any, key Key)

	// AcceptFunc decides whether a member's return value counts as handled.
	AcceptFunc func(result any, binding *Binding) bool

	// MatchStrategy compares a binding key with a callback key. Accuracy
	// orders compatible matches, lower first; args carries type variables
	// bound by generic keys.
	MatchStrategy interface {
		Invariant() bool
		Match(binding, callback Key) (accuracy int, args TypeArgs, ok bool)
	}
)

// Policy is a named rule for matching callbacks to members. Its key
// function, strategies and acceptance predicate are fixed when registered.
type Policy struct {
	name       string
	variance   Variance
	key        KeyFunc
	strategies []MatchStrategy
	accept     AcceptFunc
	registry   *Registry

	mu      sync.RWMutex
	filters []FilterProvider
}

// PolicyOption ...
type PolicyOption func(*Policy)

// WithVariance ...
func WithVariance(variance Variance) PolicyOption {
	return func(p *Policy) { p.variance = variance }
}

// WithPolicyFilters ...
func WithPolicyFilters(providers ...FilterProvider) PolicyOption {
	return func(p *Policy) { p.filters = append(p.filters, providers...) }
}

// Name ...
func (p *Policy) Name() string { return p.name }

// Variance ...
func (p *Policy) Variance() Variance { return p.variance }

// Filters returns the policy wide filter providers.
func (p *Policy) Filters() []FilterProvider {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]FilterProvider(nil), p.filters...)
}

func (p *Policy) addFilters(providers ...FilterProvider) {
	p.mu.Lock()
	p.filters = append(p.filters, providers...)
	p.mu.Unlock()
}

// Subject applies the key function.
func (p *Policy) Subject(callback any) (any, Key) {
	return p.key(callback)
}

// Accepts ...
func (p *Policy) Accepts(result any, binding *Binding) bool {
	return p.accept(result, binding)
}

// Dispatch offers callback to the members of target registered under p.
// A nil target dispatches to the static members of opts.StaticType.
// results receives every accepted non-nil value; it may refuse a value by
// returning false.
func (p *Policy) Dispatch(target any, callback any, opts DispatchOptions, results func(result any) bool) HandleResult {
	handlerType := opts.StaticType
	static := target == nil
	if !static {
		handlerType = reflect.TypeOf(target)
	}
	if handlerType == nil {
		return NotHandled
	}
	descriptor, err := p.registry.Descriptor(handlerType)
	if err != nil {
		return NotHandled.WithError(err)
	}
	return descriptor.dispatch(p, target, static, callback, opts, results)
}

func (p *Policy) match(binding, callback Key, strict bool) (candidateMatch, bool) {
	for _, strategy := range p.strategies {
		if strict && !strategy.Invariant() {
			continue
		}
		if accuracy, args, ok := strategy.Match(binding, callback); ok {
			return candidateMatch{invariant: strategy.Invariant(), accuracy: accuracy, args: args}, true
		}
	}
	return candidateMatch{}, false
}

type candidateMatch struct {
	invariant bool
	accuracy  int
	args      TypeArgs
}

// DispatchOptions is the per-call state handed from a node to callbacks
// and policies.
type DispatchOptions struct {
	Registry   *Registry
	Greedy     bool
	Strict     bool
	Duck       bool
	Composer   Handler
	StaticType reflect.Type
}

// DispatchCallback is implemented by callbacks that pick their own policy.
type DispatchCallback interface {
	Policy() string
	Dispatch(target any, opts DispatchOptions) HandleResult
}

type invariantMatch struct{}

// InvariantMatch matches equal keys only.
var InvariantMatch MatchStrategy = invariantMatch{}

func (invariantMatch) Invariant() bool { return true }

func (invariantMatch) Match(binding, callback Key) (int, TypeArgs, bool) {
	switch {
	case binding.Name != "":
		return 0, nil, strings.EqualFold(binding.Name, callback.Name)
	case binding.Spec != nil:
		if binding.Spec.IsOpen() || callback.Spec == nil {
			return 0, nil, false
		}
		return 0, nil, binding.Spec.Equal(*callback.Spec)
	case binding.Type != nil:
		return 0, nil, binding.Type == callback.Type
	}
	return 0, nil, false
}

type contravariantMatch struct{}

// ContravariantMatch lets a member accepting an interface or an open
// generic shape take more specific callbacks.
var ContravariantMatch MatchStrategy = contravariantMatch{}

func (contravariantMatch) Invariant() bool { return false }

func (contravariantMatch) Match(binding, callback Key) (int, TypeArgs, bool) {
	if binding.Spec != nil {
		return matchOpen(binding, callback)
	}
	if binding.Type == nil || callback.Type == nil || binding.Type == callback.Type {
		return 0, nil, false
	}
	if !callback.Type.AssignableTo(binding.Type) {
		return 0, nil, false
	}
	return interfaceAccuracy(binding.Type), nil, true
}

type covariantMatch struct{}

// CovariantMatch lets a member returning a concrete type satisfy requests
// for an interface it implements.
var CovariantMatch MatchStrategy = covariantMatch{}

func (covariantMatch) Invariant() bool { return false }

func (covariantMatch) Match(binding, callback Key) (int, TypeArgs, bool) {
	if binding.Spec != nil {
		return matchOpen(binding, callback)
	}
	if binding.Type == nil || callback.Type == nil || binding.Type == callback.Type {
		return 0, nil, false
	}
	if !binding.Type.AssignableTo(callback.Type) {
		return 0, nil, false
	}
	if binding.Type.Kind() == reflect.Interface {
		return interfaceAccuracy(binding.Type), nil, true
	}
	return 1, nil, true
}

func matchOpen(binding, callback Key) (int, TypeArgs, bool) {
	if !binding.Spec.IsOpen() || callback.Spec == nil || callback.Spec.IsOpen() {
		return 0, nil, false
	}
	args, ok := Unify(*binding.Spec, *callback.Spec)
	if !ok {
		return 0, nil, false
	}
	return 1000 - len(args), args, true
}

// interfaceAccuracy ranks wider interfaces after narrower ones; any ranks last.
func interfaceAccuracy(t reflect.Type) int {
	if t.Kind() != reflect.Interface {
		return 1
	}
	if t.NumMethod() == 0 {
		return 500
	}
	if n := t.NumMethod(); n < 99 {
		return 100 - n
	}
	return 1
}

func handlesKey(callback any) (any, Key) {
	switch cb := callback.(type) {
	case *Command:
		return cb.Callback(), KeyOf(cb.Callback())
	}
	return callback, KeyOf(callback)
}

func providesKey(callback any) (any, Key) {
	if inquiry, ok := callback.(*Inquiry); ok {
		return inquiry, inquiry.Key()
	}
	return callback, AsKey(callback)
}

func acceptNonNilOrVoid(result any, binding *Binding) bool {
	return result != nil || binding.IsVoid()
}

func acceptNonNil(result any, _ *Binding) bool {
	return result != nil
}

// Built-in policy names.
const (
	HandlesPolicy  = "handles"
	ProvidesPolicy = "provides"
)
