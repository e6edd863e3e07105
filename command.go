package callback

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/liujh2010/callback/promise"
)

// results collects the values members produce and coerces them to the
// shape the caller asked for.
type results struct {
	many       bool
	wantsAsync bool
	isAsync    bool
	values     []any
}

// respond stores value; a single-result callback refuses a second value.
func (r *results) respond(value any) bool {
	if value == nil {
		return false
	}
	if !r.many && len(r.values) > 0 {
		return false
	}
	if _, ok := value.(*promise.Promise); ok {
		r.isAsync = true
	}
	r.values = append(r.values, value)
	return true
}

// result returns a single value or, for many, a slice. Asynchronous values
// are awaited under ctx unless the caller wants a promise; synchronous
// values are wrapped when it does.
func (r *results) result(ctx context.Context) (any, error) {
	var value any
	if r.many {
		if r.isAsync {
			ps := make([]*promise.Promise, len(r.values))
			for i, v := range r.values {
				ps[i] = promise.Resolved(v)
			}
			value = promise.All(ps...).Then(func(v any) (any, error) {
				return dropNil(v.([]any)), nil
			})
		} else {
			value = append([]any{}, r.values...)
		}
	} else if len(r.values) > 0 {
		value = r.values[0]
	}

	if p, ok := value.(*promise.Promise); ok {
		if r.wantsAsync {
			return p, nil
		}
		return p.Await(ctx)
	}
	if r.wantsAsync {
		return promise.Resolved(value), nil
	}
	return value, nil
}

func dropNil(values []any) []any {
	kept := make([]any, 0, len(values))
	for _, v := range values {
		if v != nil {
			kept = append(kept, v)
		}
	}
	return kept
}

// Command asks members registered under a contravariant policy, handles by
// default, to act on a callback.
type Command struct {
	results
	id          uuid.UUID
	callback    any
	policy      string
	ctx         context.Context
	constraints []Constraint
}

var (
	_ DispatchCallback = (*Command)(nil)
	_ Constrained      = (*Command)(nil)
	_ Contextual       = (*Command)(nil)
)

// CommandOption ...
type CommandOption func(*Command)

// Many collects every result instead of the first.
func Many() CommandOption {
	return func(c *Command) { c.many = true }
}

// WantsAsync makes Result return a promise.
func WantsAsync() CommandOption {
	return func(c *Command) { c.wantsAsync = true }
}

// WithContext ...
func WithContext(ctx context.Context) CommandOption {
	return func(c *Command) { c.ctx = ctx }
}

// WithPolicy dispatches under a policy other than handles.
func WithPolicy(policy string) CommandOption {
	return func(c *Command) { c.policy = policy }
}

// WithCommandConstraints ...
func WithCommandConstraints(constraints ...Constraint) CommandOption {
	return func(c *Command) { c.constraints = append(c.constraints, constraints...) }
}

// NewCommand ...
func NewCommand(callback any, opts ...CommandOption) *Command {
	c := &Command{
		id:       uuid.New(),
		callback: callback,
		policy:   HandlesPolicy,
		ctx:      context.Background(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ID identifies the command in logs.
func (c *Command) ID() uuid.UUID { return c.id }

// Callback is the subject members receive.
func (c *Command) Callback() any { return c.callback }

// Policy ...
func (c *Command) Policy() string { return c.policy }

// Context ...
func (c *Command) Context() context.Context { return c.ctx }

// Constraints ...
func (c *Command) Constraints() []Constraint { return c.constraints }

// IsMany ...
func (c *Command) IsMany() bool { return c.many }

// WantsAsync ...
func (c *Command) WantsAsync() bool { return c.wantsAsync }

// IsAsync reports whether a member returned a promise.
func (c *Command) IsAsync() bool { return c.isAsync }

// Respond records a result as if a member had produced it.
func (c *Command) Respond(result any) bool {
	return c.respond(result)
}

// Result returns the coerced result.
func (c *Command) Result() (any, error) {
	return c.result(c.ctx)
}

// Dispatch ...
func (c *Command) Dispatch(target any, opts DispatchOptions) HandleResult {
	p, ok := opts.Registry.Policy(c.policy)
	if !ok {
		return NotHandled.WithError(errors.Wrapf(ErrUnknownPolicy, "%q", c.policy))
	}
	count := len(c.values)
	result := p.Dispatch(target, c, opts, c.respond)
	if len(c.values) > count {
		result = result.Or(Handled)
	}
	return result
}

func (c *Command) String() string {
	return "command " + describe(c.callback) + " " + c.id.String()
}
