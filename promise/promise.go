// Package promise provides a single-assignment future with continuation
// chaining, cooperative cancellation and aggregation combinators.
//
// Continuations registered on a settled promise run inline on the calling
// goroutine. Continuations registered while pending run, in registration
// order, on the goroutine that settles the promise. Synchronous call chains
// therefore stay synchronous.
package promise

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// State of a promise.
type State int32

const (
	StatePending State = iota
	StateFulfilled
	StateRejected
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateFulfilled:
		return "fulfilled"
	case StateRejected:
		return "rejected"
	case StateCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// ErrTimeout rejects promises produced by Timeout when the deadline passes first.
var ErrTimeout = errors.New("promise: timeout")

// CancelledError is the settlement reason of a cancelled promise.
type CancelledError struct {
	Reason string
}

func (e *CancelledError) Error() string {
	if e.Reason == "" {
		return "promise: cancelled"
	}
	return "promise: cancelled: " + e.Reason
}

// IsCancelled reports whether err carries a *CancelledError.
func IsCancelled(err error) bool {
	var ce *CancelledError
	return errors.As(err, &ce)
}

type (
	// OnFulfilled maps a fulfilled value. Returning a *Promise flattens it.
	OnFulfilled func(value any) (any, error)

	// OnRejected recovers from a rejection. Returning a nil error fulfills
	// the derived promise.
	OnRejected func(err error) (any, error)
)

// Promise is a single-assignment container for a value or an error.
// Use Deferred, New or one of the settled constructors; the zero value is
// not usable.
type Promise struct {
	mu          sync.Mutex
	state       State
	value       any
	err         error
	observed    bool
	synchronous bool
	resolving   bool
	conts       []func()
	onCancel    []func()
	done        chan struct{}
}

// Deferred returns a pending promise settled through Resolve, Reject or Cancel.
func Deferred() *Promise {
	return &Promise{done: make(chan struct{})}
}

// New runs owner inline with the settle functions of a fresh promise.
// A panic in owner rejects the promise.
func New(owner func(resolve func(any), reject func(error))) *Promise {
	p := Deferred()
	if owner == nil {
		return p
	}
	func() {
		defer func() {
			if r := recover(); r != nil {
				p.Reject(panicError(r))
			}
		}()
		owner(p.Resolve, p.Reject)
	}()
	return p
}

// NewCancellable is New with an extra onCancel argument the owner uses to
// register cleanup run when the promise is cancelled.
func NewCancellable(owner func(resolve func(any), reject func(error), onCancel func(func()))) *Promise {
	p := Deferred()
	if owner == nil {
		return p
	}
	func() {
		defer func() {
			if r := recover(); r != nil {
				p.Reject(panicError(r))
			}
		}()
		owner(p.Resolve, p.Reject, p.addCancelHook)
	}()
	return p
}

// Resolved returns a promise fulfilled with value. A *Promise value is
// returned as is.
func Resolved(value any) *Promise {
	if p, ok := value.(*Promise); ok && p != nil {
		return p
	}
	p := Deferred()
	p.settle(StateFulfilled, value, nil)
	return p
}

// Rejected returns a promise rejected with err.
func Rejected(err error) *Promise {
	p := Deferred()
	p.settle(StateRejected, nil, err)
	return p
}

// Empty is a promise fulfilled with nil.
var Empty = Resolved(nil)

// Resolve fulfills the promise. Resolving with another promise adopts its
// eventual outcome. Only the first Resolve or Reject counts, even while an
// adopted promise is still pending.
func (p *Promise) Resolve(value any) {
	if !p.claim() {
		return
	}
	other, ok := value.(*Promise)
	if !ok || other == nil {
		p.settle(StateFulfilled, value, nil)
		return
	}
	if other == p {
		p.settle(StateRejected, nil, errors.New("promise: resolved with itself"))
		return
	}
	other.subscribe(func() { p.adopt(other) })
}

// Reject settles the promise with err.
func (p *Promise) Reject(err error) {
	if err == nil {
		err = errors.New("promise: rejected with nil error")
	}
	if p.claim() {
		p.settle(StateRejected, nil, err)
	}
}

// claim marks a pending promise as being resolved. It fails once the
// promise is settled or already claimed.
func (p *Promise) claim() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StatePending || p.resolving {
		return false
	}
	p.resolving = true
	return true
}

// Cancel settles a pending promise as cancelled and runs its cancel hooks.
func (p *Promise) Cancel() {
	p.CancelWithReason("")
}

// CancelWithReason is Cancel carrying a reason in the CancelledError.
func (p *Promise) CancelWithReason(reason string) {
	p.settle(StateCancelled, nil, &CancelledError{Reason: reason})
}

// State returns the current state.
func (p *Promise) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Synchronous reports whether the promise settled before any continuation
// was attached.
func (p *Promise) Synchronous() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state != StatePending && p.synchronous
}

// Done is closed when the promise settles.
func (p *Promise) Done() <-chan struct{} {
	return p.done
}

// Then derives a promise from the outcome of p. A nil onFulfilled passes
// the value through; when onRejected is omitted rejections pass through.
// Cancellation always passes through without invoking either callback.
func (p *Promise) Then(onFulfilled OnFulfilled, onRejected ...OnRejected) *Promise {
	var reject OnRejected
	if len(onRejected) > 0 {
		reject = onRejected[0]
	}
	child := Deferred()
	p.subscribe(func() {
		state, value, err := p.outcome()
		switch state {
		case StateFulfilled:
			if onFulfilled == nil {
				child.settle(StateFulfilled, value, nil)
				return
			}
			child.complete(invoke(func() (any, error) { return onFulfilled(value) }))
		case StateRejected:
			if reject == nil {
				child.settle(StateRejected, nil, err)
				return
			}
			child.complete(invoke(func() (any, error) { return reject(err) }))
		case StateCancelled:
			child.settle(StateCancelled, nil, err)
		}
	})
	return child
}

// Catch is Then with only a rejection handler.
func (p *Promise) Catch(onRejected OnRejected) *Promise {
	return p.Then(nil, onRejected)
}

// Cancelled registers fn to run if p is cancelled and returns p.
func (p *Promise) Cancelled(fn func(err *CancelledError)) *Promise {
	if fn == nil {
		return p
	}
	p.subscribe(func() {
		state, _, err := p.outcome()
		if state != StateCancelled {
			return
		}
		var ce *CancelledError
		errors.As(err, &ce)
		fn(ce)
	})
	return p
}

// Finally runs fn once p settles in any state. The derived promise carries
// the outcome of p unless fn panics.
func (p *Promise) Finally(fn func()) *Promise {
	child := Deferred()
	p.subscribe(func() {
		if fn != nil {
			if _, err := invoke(func() (any, error) { fn(); return nil, nil }); err != nil {
				child.settle(StateRejected, nil, err)
				return
			}
		}
		child.adopt(p)
	})
	return child
}

// Tap observes a fulfilled value without changing it.
func (p *Promise) Tap(fn func(value any)) *Promise {
	return p.Then(func(value any) (any, error) {
		if fn != nil {
			fn(value)
		}
		return value, nil
	})
}

// Timeout derives a promise rejected with ErrTimeout if p has not settled
// within d. p itself is left untouched.
func (p *Promise) Timeout(d time.Duration) *Promise {
	child := Deferred()
	timer := time.AfterFunc(d, func() {
		child.settle(StateRejected, nil, errors.Wrapf(ErrTimeout, "after %s", d))
	})
	p.subscribe(func() {
		timer.Stop()
		child.adopt(p)
	})
	return child
}

// Await blocks until p settles or ctx is done. A cancelled promise returns
// its *CancelledError.
func (p *Promise) Await(ctx context.Context) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-p.done:
		_, value, err := p.outcome()
		return value, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Wait blocks until p settles.
func (p *Promise) Wait() (any, error) {
	return p.Await(context.Background())
}

func (p *Promise) String() string {
	return "Promise(" + p.State().String() + ")"
}

func (p *Promise) settle(state State, value any, err error) {
	p.mu.Lock()
	if p.state != StatePending {
		p.mu.Unlock()
		return
	}
	p.state, p.value, p.err = state, value, err
	p.synchronous = !p.observed
	conts := p.conts
	p.conts = nil
	var hooks []func()
	if state == StateCancelled {
		hooks = p.onCancel
	}
	p.onCancel = nil
	close(p.done)
	p.mu.Unlock()

	for _, hook := range hooks {
		hook()
	}
	for _, cont := range conts {
		cont()
	}
}

func (p *Promise) subscribe(fn func()) {
	p.mu.Lock()
	if p.state == StatePending {
		p.observed = true
		p.conts = append(p.conts, fn)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	fn()
}

func (p *Promise) addCancelHook(fn func()) {
	if fn == nil {
		return
	}
	p.mu.Lock()
	if p.state == StatePending {
		p.onCancel = append(p.onCancel, fn)
		p.mu.Unlock()
		return
	}
	cancelled := p.state == StateCancelled
	p.mu.Unlock()
	if cancelled {
		fn()
	}
}

func (p *Promise) outcome() (State, any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state, p.value, p.err
}

// adopt copies the outcome of a settled source.
func (p *Promise) adopt(source *Promise) {
	state, value, err := source.outcome()
	p.settle(state, value, err)
}

func (p *Promise) complete(value any, err error) {
	if err != nil {
		p.Reject(err)
		return
	}
	p.Resolve(value)
}

func invoke(fn func() (any, error)) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			value, err = nil, panicError(r)
		}
	}()
	return fn()
}

func panicError(r any) error {
	if err, ok := r.(error); ok {
		return errors.Wrap(err, "promise: panic")
	}
	return errors.Errorf("promise: panic: %v", r)
}
