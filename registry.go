package callback

import (
	"reflect"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const defaultCandidateCacheSize = 256

// Registry holds policies, member bindings and filter providers, and
// builds handler descriptors from them on first use.
type Registry struct {
	mu             sync.RWMutex
	policies       map[string]*Policy
	bindings       map[reflect.Type][]*Binding
	handlerFilters map[reflect.Type][]FilterProvider
	memberFilters  map[*Binding][]FilterProvider
	global         []FilterProvider
	resolvers      []ArgResolver
	described      map[reflect.Type]error
	order          int
	generation     uint64

	descriptors sync.Map
	group       singleflight.Group

	logger    logrus.FieldLogger
	cacheSize int
}

// RegistryOption ...
type RegistryOption func(*Registry)

// WithLogger ...
func WithLogger(logger logrus.FieldLogger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithCandidateCacheSize bounds the memoized candidate lists per handler type.
func WithCandidateCacheSize(size int) RegistryOption {
	return func(r *Registry) {
		if size > 0 {
			r.cacheSize = size
		}
	}
}

// NewRegistry returns a registry with the handles and provides policies.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		policies:       make(map[string]*Policy),
		bindings:       make(map[reflect.Type][]*Binding),
		handlerFilters: make(map[reflect.Type][]FilterProvider),
		memberFilters:  make(map[*Binding][]FilterProvider),
		described:      make(map[reflect.Type]error),
		logger:         newLogger(),
		cacheSize:      defaultCandidateCacheSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.mustRegisterPolicy(HandlesPolicy, handlesKey, nil, acceptNonNilOrVoid)
	r.mustRegisterPolicy(ProvidesPolicy, providesKey, nil, acceptNonNil, WithVariance(Covariant))
	return r
}

// DefaultRegistry is the process wide registry used by NewHandler and the
// package level Register functions.
var DefaultRegistry = NewRegistry()

// Logger ...
func (r *Registry) Logger() logrus.FieldLogger {
	return r.logger
}

// RegisterPolicy adds a named policy. Nil arguments take the defaults of
// the policy variance: the handles key function, invariant then variance
// compatible matching, and accepting non-nil results or void members.
func (r *Registry) RegisterPolicy(name string, key KeyFunc, strategies []MatchStrategy, accept AcceptFunc, opts ...PolicyOption) (*Policy, error) {
	if name == "" {
		return nil, errors.Wrap(ErrInvalidArgument, "policy name is empty")
	}
	p := &Policy{name: name, key: key, accept: accept, registry: r}
	for _, opt := range opts {
		opt(p)
	}
	if p.key == nil {
		p.key = handlesKey
	}
	if p.accept == nil {
		p.accept = acceptNonNilOrVoid
	}
	if len(strategies) == 0 {
		strategies = []MatchStrategy{InvariantMatch, ContravariantMatch}
		if p.variance == Covariant {
			strategies = []MatchStrategy{InvariantMatch, CovariantMatch}
		}
	}
	p.strategies = append([]MatchStrategy(nil), strategies...)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.policies[name]; exists {
		return nil, errors.Wrapf(ErrInvalidArgument, "policy %q already registered", name)
	}
	r.policies[name] = p
	return p, nil
}

func (r *Registry) mustRegisterPolicy(name string, key KeyFunc, strategies []MatchStrategy, accept AcceptFunc, opts ...PolicyOption) {
	if _, err := r.RegisterPolicy(name, key, strategies, accept, opts...); err != nil {
		panic(err)
	}
}

// Policy ...
func (r *Registry) Policy(name string) (*Policy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.policies[name]
	return p, ok
}

// RegisterBinding binds member under the named policy. A nil handlerType
// is taken from the member's first parameter.
func (r *Registry) RegisterBinding(handlerType reflect.Type, policy string, member any, opts ...BindingOption) (*Binding, error) {
	p, ok := r.Policy(policy)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownPolicy, "%q", policy)
	}
	b, err := newBinding(p, handlerType, member, opts...)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.order++
	b.order = r.order
	r.bindings[b.handlerType] = append(r.bindings[b.handlerType], b)
	r.invalidateLocked(b.handlerType)
	r.mu.Unlock()
	return b, nil
}

// RegisterHandles binds member under the handles policy.
func (r *Registry) RegisterHandles(member any, opts ...BindingOption) (*Binding, error) {
	return r.RegisterBinding(nil, HandlesPolicy, member, opts...)
}

// RegisterProvides binds member under the provides policy.
func (r *Registry) RegisterProvides(member any, opts ...BindingOption) (*Binding, error) {
	return r.RegisterBinding(nil, ProvidesPolicy, member, opts...)
}

// FilterScope says where a filter provider applies.
type FilterScope struct {
	kind        scopeKind
	policy      string
	handlerType reflect.Type
	binding     *Binding
}

type scopeKind int

const (
	scopeGlobal scopeKind = iota
	scopePolicy
	scopeHandler
	scopeMember
)

// GlobalScope applies to every member.
func GlobalScope() FilterScope { return FilterScope{kind: scopeGlobal} }

// PolicyScope applies to members of one policy.
func PolicyScope(policy string) FilterScope { return FilterScope{kind: scopePolicy, policy: policy} }

// HandlerScope applies to members of one handler type.
func HandlerScope(handlerType reflect.Type) FilterScope {
	return FilterScope{kind: scopeHandler, handlerType: handlerType}
}

// MemberScope applies to one binding.
func MemberScope(binding *Binding) FilterScope {
	return FilterScope{kind: scopeMember, binding: binding}
}

// RegisterFilterProvider attaches provider at scope.
func (r *Registry) RegisterFilterProvider(scope FilterScope, provider FilterProvider) error {
	if provider == nil {
		return errors.Wrap(ErrInvalidArgument, "nil filter provider")
	}
	switch scope.kind {
	case scopePolicy:
		p, ok := r.Policy(scope.policy)
		if !ok {
			return errors.Wrapf(ErrUnknownPolicy, "%q", scope.policy)
		}
		p.addFilters(provider)
		return nil
	case scopeHandler:
		if scope.handlerType == nil {
			return errors.Wrap(ErrInvalidArgument, "nil handler type")
		}
		r.mu.Lock()
		r.handlerFilters[scope.handlerType] = append(r.handlerFilters[scope.handlerType], provider)
		r.invalidateLocked(scope.handlerType)
		r.mu.Unlock()
		return nil
	case scopeMember:
		if scope.binding == nil {
			return errors.Wrap(ErrInvalidArgument, "nil binding")
		}
		r.mu.Lock()
		r.memberFilters[scope.binding] = append(r.memberFilters[scope.binding], provider)
		r.invalidateLocked(scope.binding.handlerType)
		r.mu.Unlock()
		return nil
	}
	r.mu.Lock()
	r.global = append(r.global, provider)
	r.mu.Unlock()
	return nil
}

// RegisterResolver adds an argument resolver consulted before falling back
// to a provides inquiry.
func (r *Registry) RegisterResolver(resolver ArgResolver) {
	if resolver == nil {
		return
	}
	r.mu.Lock()
	r.resolvers = append(r.resolvers, resolver)
	r.mu.Unlock()
}

func (r *Registry) argResolvers() []ArgResolver {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resolvers
}

func (r *Registry) globalFilters() []FilterProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.global
}

// Describer is implemented by handler types that register their own
// members. Describe is called once, on a zero value, the first time the
// type is dispatched to. A failed Describe fails every later lookup of the
// type.
type Describer interface {
	Describe(b *DescriptorBuilder)
}

// DescriptorBuilder registers members for one handler type.
type DescriptorBuilder struct {
	registry    *Registry
	handlerType reflect.Type
	err         error
}

// Handles ...
func (b *DescriptorBuilder) Handles(member any, opts ...BindingOption) *DescriptorBuilder {
	return b.Bind(HandlesPolicy, member, opts...)
}

// Provides ...
func (b *DescriptorBuilder) Provides(member any, opts ...BindingOption) *DescriptorBuilder {
	return b.Bind(ProvidesPolicy, member, opts...)
}

// Bind registers member under any policy.
func (b *DescriptorBuilder) Bind(policy string, member any, opts ...BindingOption) *DescriptorBuilder {
	if b.err == nil {
		_, b.err = b.registry.RegisterBinding(b.handlerType, policy, member, opts...)
	}
	return b
}

// Filters attaches handler scoped filter providers.
func (b *DescriptorBuilder) Filters(providers ...FilterProvider) *DescriptorBuilder {
	for _, p := range providers {
		if b.err == nil {
			b.err = b.registry.RegisterFilterProvider(HandlerScope(b.handlerType), p)
		}
	}
	return b
}

// Descriptor returns the descriptor of handlerType, building it on first
// use. Concurrent first uses share one build.
func (r *Registry) Descriptor(handlerType reflect.Type) (*Descriptor, error) {
	if d, ok := r.descriptors.Load(handlerType); ok {
		return d.(*Descriptor), nil
	}
	v, err, _ := r.group.Do(typeID(handlerType), func() (any, error) {
		if d, ok := r.descriptors.Load(handlerType); ok {
			return d, nil
		}
		if err := r.describe(handlerType); err != nil {
			return nil, err
		}
		d, generation, err := r.buildDescriptor(handlerType)
		if err != nil {
			return nil, err
		}
		r.descriptors.Store(handlerType, d)
		r.mu.RLock()
		stale := r.generation != generation
		r.mu.RUnlock()
		if stale {
			r.descriptors.Delete(handlerType)
		}
		return d, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Descriptor), nil
}

func (r *Registry) describe(handlerType reflect.Type) error {
	r.mu.Lock()
	if err, done := r.described[handlerType]; done {
		r.mu.Unlock()
		return err
	}
	r.described[handlerType] = nil
	r.mu.Unlock()

	var zero any
	if handlerType.Kind() == reflect.Ptr {
		zero = reflect.New(handlerType.Elem()).Interface()
	} else {
		zero = reflect.Zero(handlerType).Interface()
	}
	describer, ok := zero.(Describer)
	if !ok {
		return nil
	}
	b := &DescriptorBuilder{registry: r, handlerType: handlerType}
	describer.Describe(b)
	if b.err == nil {
		return nil
	}
	err := errors.Wrapf(b.err, "describe %s", handlerType)
	r.mu.Lock()
	r.described[handlerType] = err
	r.mu.Unlock()
	return err
}

func (r *Registry) buildDescriptor(handlerType reflect.Type) (*Descriptor, uint64, error) {
	cache, err := lru.New[string, []candidate](r.cacheSize)
	if err != nil {
		return nil, 0, errors.Wrap(err, "candidate cache")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	d := &Descriptor{
		handlerType:    handlerType,
		registry:       r,
		instance:       make(map[*Policy][]*Binding),
		static:         make(map[*Policy][]*Binding),
		handlerFilters: append([]FilterProvider(nil), r.handlerFilters[handlerType]...),
		memberFilters:  make(map[*Binding][]FilterProvider),
		candidates:     cache,
	}
	for _, b := range r.bindings[handlerType] {
		if b.static {
			d.static[b.policy] = append(d.static[b.policy], b)
		} else {
			d.instance[b.policy] = append(d.instance[b.policy], b)
		}
		if fs := r.memberFilters[b]; len(fs) > 0 {
			d.memberFilters[b] = append([]FilterProvider(nil), fs...)
		}
	}
	r.logger.WithFields(logrus.Fields{
		"handler":  handlerType.String(),
		"bindings": len(r.bindings[handlerType]),
	}).Debug("descriptor built")
	return d, r.generation, nil
}

func (r *Registry) invalidateLocked(handlerType reflect.Type) {
	r.generation++
	r.descriptors.Delete(handlerType)
}

// Reset drops every cached descriptor so the next dispatch rebuilds them
// from the current registrations.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.generation++
	r.mu.Unlock()
	r.descriptors.Range(func(key, _ any) bool {
		r.descriptors.Delete(key)
		return true
	})
}

// NewHandler wraps target in a node dispatching through r. Handlers are
// returned unchanged and a reflect.Type yields a static handler.
func (r *Registry) NewHandler(target any) Handler {
	switch t := target.(type) {
	case nil:
		return nil
	case Handler:
		return t
	case reflect.Type:
		return r.NewStaticHandler(t)
	}
	return &targetHandler{target: target, registry: r}
}

// NewStaticHandler ...
func (r *Registry) NewStaticHandler(handlerType reflect.Type) Handler {
	return &staticHandler{handlerType: handlerType, registry: r}
}

func (r *Registry) dispatch(node Handler, target any, static reflect.Type, callback any, greedy bool, composer Handler) HandleResult {
	cb, options, _ := unwrapCallback(callback)
	if _, ok := cb.(internalCallback); ok {
		return NotHandled
	}
	if g := guardOf(composer); g != nil {
		id, guarded := identity(cb)
		release, ok := g.enter(node, id, guarded)
		if !ok {
			return NotHandled
		}
		defer release()
	}
	opts := DispatchOptions{
		Registry:   r,
		Greedy:     greedy,
		Strict:     options.Has(Strict),
		Duck:       options.Has(Duck),
		Composer:   composer,
		StaticType: static,
	}
	switch c := cb.(type) {
	case *HandleMethod:
		return c.invoke(target, opts)
	case DispatchCallback:
		return c.Dispatch(target, opts)
	}
	p, _ := r.Policy(HandlesPolicy)
	return p.Dispatch(target, cb, opts, nil)
}

// RegisterPolicy registers with DefaultRegistry.
func RegisterPolicy(name string, key KeyFunc, strategies []MatchStrategy, accept AcceptFunc, opts ...PolicyOption) (*Policy, error) {
	return DefaultRegistry.RegisterPolicy(name, key, strategies, accept, opts...)
}

// RegisterBinding registers with DefaultRegistry.
func RegisterBinding(handlerType reflect.Type, policy string, member any, opts ...BindingOption) (*Binding, error) {
	return DefaultRegistry.RegisterBinding(handlerType, policy, member, opts...)
}

// RegisterHandles registers with DefaultRegistry.
func RegisterHandles(member any, opts ...BindingOption) (*Binding, error) {
	return DefaultRegistry.RegisterHandles(member, opts...)
}

// RegisterProvides registers with DefaultRegistry.
func RegisterProvides(member any, opts ...BindingOption) (*Binding, error) {
	return DefaultRegistry.RegisterProvides(member, opts...)
}

// RegisterFilterProvider registers with DefaultRegistry.
func RegisterFilterProvider(scope FilterScope, provider FilterProvider) error {
	return DefaultRegistry.RegisterFilterProvider(scope, provider)
}
