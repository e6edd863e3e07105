package callback

import (
	"context"
	"reflect"

	"github.com/pkg/errors"
)

// Inquiry asks members registered under a covariant policy, provides by
// default, for values of a key.
type Inquiry struct {
	results
	key         Key
	policy      string
	ctx         context.Context
	constraints []Constraint
}

var (
	_ DispatchCallback = (*Inquiry)(nil)
	_ Constrained      = (*Inquiry)(nil)
)

// InquiryOption ...
type InquiryOption func(*Inquiry)

// ResolveMany collects every provided value.
func ResolveMany() InquiryOption {
	return func(i *Inquiry) { i.many = true }
}

// ResolveAsyncResult makes Result return a promise.
func ResolveAsyncResult() InquiryOption {
	return func(i *Inquiry) { i.wantsAsync = true }
}

// InquiryContext ...
func InquiryContext(ctx context.Context) InquiryOption {
	return func(i *Inquiry) { i.ctx = ctx }
}

// InquiryPolicy resolves under a policy other than provides.
func InquiryPolicy(policy string) InquiryOption {
	return func(i *Inquiry) { i.policy = policy }
}

// WithInquiryConstraints ...
func WithInquiryConstraints(constraints ...Constraint) InquiryOption {
	return func(i *Inquiry) { i.constraints = append(i.constraints, constraints...) }
}

// NewInquiry accepts any key AsKey understands.
func NewInquiry(key any, opts ...InquiryOption) *Inquiry {
	i := &Inquiry{key: AsKey(key), policy: ProvidesPolicy, ctx: context.Background()}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Key ...
func (i *Inquiry) Key() Key { return i.key }

// Policy ...
func (i *Inquiry) Policy() string { return i.policy }

// Context ...
func (i *Inquiry) Context() context.Context { return i.ctx }

// Constraints ...
func (i *Inquiry) Constraints() []Constraint { return i.constraints }

// IsMany ...
func (i *Inquiry) IsMany() bool { return i.many }

// Respond ...
func (i *Inquiry) Respond(value any) bool { return i.respond(value) }

// Result ...
func (i *Inquiry) Result() (any, error) { return i.result(i.ctx) }

// Dispatch answers with the target itself when it is an instance of the
// requested type, then asks its members.
func (i *Inquiry) Dispatch(target any, opts DispatchOptions) HandleResult {
	count := len(i.values)
	if target != nil && i.key.Type != nil && len(i.constraints) == 0 &&
		reflect.TypeOf(target).AssignableTo(i.key.Type) && i.respond(target) && !opts.Greedy {
		return Handled
	}
	p, ok := opts.Registry.Policy(i.policy)
	if !ok {
		return NotHandled.WithError(errors.Wrapf(ErrUnknownPolicy, "%q", i.policy))
	}
	result := p.Dispatch(target, i, opts, i.respond)
	if len(i.values) > count {
		result = result.Or(Handled)
	}
	return result
}

func (i *Inquiry) String() string {
	return "inquiry " + i.key.String()
}
