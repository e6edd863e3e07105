package promise

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// All fulfills with the values of ps in input order once every input
// fulfills. The first rejection rejects the aggregate and any cancellation
// cancels it. A nil entry counts as fulfilled with nil.
func All(ps ...*Promise) *Promise {
	if len(ps) == 0 {
		return Resolved([]any{})
	}
	child := Deferred()
	values := make([]any, len(ps))
	remaining := int32(len(ps))
	for i, p := range ps {
		if p == nil {
			p = Empty
		}
		i, p := i, p
		p.subscribe(func() {
			state, value, err := p.outcome()
			switch state {
			case StateFulfilled:
				values[i] = value
				if atomic.AddInt32(&remaining, -1) == 0 {
					child.settle(StateFulfilled, values, nil)
				}
			default:
				child.settle(state, nil, err)
			}
		})
	}
	return child
}

// Race settles with the first input to settle.
func Race(ps ...*Promise) *Promise {
	child := Deferred()
	for _, p := range ps {
		if p == nil {
			continue
		}
		p := p
		p.subscribe(func() { child.adopt(p) })
	}
	return child
}

// Delay fulfills with nil after d.
func Delay(d time.Duration) *Promise {
	p := Deferred()
	timer := time.AfterFunc(d, func() { p.settle(StateFulfilled, nil, nil) })
	p.addCancelHook(func() { timer.Stop() })
	return p
}

// Try runs fn inline and captures its outcome, panics included.
func Try(fn func() (any, error)) *Promise {
	p := Deferred()
	p.complete(invoke(fn))
	return p
}

// Submitter runs tasks on another goroutine. *ants.Pool satisfies it.
type Submitter interface {
	Submit(task func()) error
}

// Go runs fn through pool and returns a promise of its outcome. A pool that
// refuses the task rejects the promise.
func Go(pool Submitter, fn func() (any, error)) *Promise {
	p := Deferred()
	if pool == nil {
		p.settle(StateRejected, nil, errors.New("promise: nil pool"))
		return p
	}
	if err := pool.Submit(func() { p.complete(invoke(fn)) }); err != nil {
		p.settle(StateRejected, nil, errors.Wrap(err, "promise: submit"))
	}
	return p
}

// Get awaits p and asserts its value to T. A nil value yields the zero T.
func Get[T any](ctx context.Context, p *Promise) (T, error) {
	var zero T
	value, err := p.Await(ctx)
	if err != nil {
		return zero, err
	}
	if value == nil {
		return zero, nil
	}
	typed, ok := value.(T)
	if !ok {
		return zero, errors.Errorf("promise: value %T is not %T", value, zero)
	}
	return typed, nil
}
