package callback

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/liujh2010/callback/promise"
)

var (
	_ IMediator        = (*Mediator)(nil)
	_ IMediatorBuilder = (*Mediator)(nil)
)

// Mediator runs commands and notifications against a chain of handlers on
// a routine pool.
type Mediator struct {
	chain       *CompositeHandler
	registry    *Registry
	pool        IRoutinePool
	logger      logrus.FieldLogger
	filters     []FilterProvider
	sendTimeout time.Duration
}

// Option ...
type Option func(*Mediator)

// WithRegistry resolves registered objects through r instead of
// DefaultRegistry.
func WithRegistry(r *Registry) Option {
	return func(m *Mediator) {
		if r != nil {
			m.registry = r
		}
	}
}

// WithMediatorLogger ...
func WithMediatorLogger(logger logrus.FieldLogger) Option {
	return func(m *Mediator) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMediatorFilters applies providers to every member the mediator reaches.
func WithMediatorFilters(providers ...FilterProvider) Option {
	return func(m *Mediator) { m.filters = append(m.filters, providers...) }
}

// WithSendTimeout bounds Send and SendAsync when the caller context has no
// earlier deadline.
func WithSendTimeout(d time.Duration) Option {
	return func(m *Mediator) { m.sendTimeout = d }
}

// New ...
func New(pool IRoutinePool, opts ...Option) IMediatorBuilder {
	m := &Mediator{
		chain:    NewChain(),
		registry: DefaultRegistry,
		pool:     pool,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = m.registry.Logger()
	}
	return m
}

// RegisterHandler adds an object or Handler to the chain.
func (m *Mediator) RegisterHandler(handler any) IMediatorBuilder {
	if handler == nil {
		panic(errors.Wrap(ErrInvalidArgument, "RegisterHandler: nil handler"))
	}
	m.chain.AddHandlers(m.registry.NewHandler(handler))
	return m
}

// RegisterHandlers ...
func (m *Mediator) RegisterHandlers(handlers ...any) IMediatorBuilder {
	for _, h := range handlers {
		m.RegisterHandler(h)
	}
	return m
}

// Build ...
func (m *Mediator) Build() IMediator {
	return m
}

// Registry ...
func (m *Mediator) Registry() *Registry {
	return m.registry
}

// Handler is the root of the chain with the mediator filters applied.
func (m *Mediator) Handler() Handler {
	return m.decorate(m.chain)
}

func (m *Mediator) decorate(h Handler) Handler {
	if len(m.filters) == 0 {
		return h
	}
	return WithFilters(h, m.filters...)
}

// Publish offers notification to every registered handler concurrently and
// waits for all of them, including promises they return. Handler errors
// are combined.
func (m *Mediator) Publish(ctx context.Context, notification any) error {
	if ctx == nil || notification == nil {
		return errors.Wrap(ErrInvalidArgument, "Publish")
	}

	var (
		handlers  = m.chain.Handlers()
		doneSlice = make([]chan struct{}, 0, len(handlers))
		errNoti   = newErrorNotification(len(handlers))
		handled   int32
	)
	for i, handler := range handlers {
		i, h := i, m.decorate(handler)
		done := make(chan struct{})
		doneSlice = append(doneSlice, done)
		err := m.pool.Publish(func() {
			defer close(done)
			cmd := NewCommand(notification, WithContext(ctx), Many())
			ok, err := Dispatch(h, cmd, Broadcast)
			if ok {
				atomic.AddInt32(&handled, 1)
			}
			if err == nil && ok {
				_, err = cmd.Result()
			}
			errNoti.set(i, err)
		})
		if err != nil {
			errNoti.set(i, errors.Wrap(err, "Publish: submit"))
			close(done)
		}
	}

	select {
	case <-waitAllDone(doneSlice):
		if errNoti.HasError() {
			return errNoti.ToSingleError()
		}
		if atomic.LoadInt32(&handled) == 0 {
			return errors.Wrap(notHandled(notification), "Publish: "+ErrorNotEventHandler)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send runs request on the pool and waits for the first handler result.
func (m *Mediator) Send(ctx context.Context, request any) (any, error) {
	if ctx == nil || request == nil {
		return nil, errors.Wrap(ErrInvalidArgument, "Send")
	}
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	return m.send(ctx, request).Await(ctx)
}

// SendAsync is Send returning a promise. The promise is rejected with a
// context error once the send timeout passes.
func (m *Mediator) SendAsync(ctx context.Context, request any) *promise.Promise {
	if ctx == nil || request == nil {
		return promise.Rejected(errors.Wrap(ErrInvalidArgument, "SendAsync"))
	}
	ctx, cancel := m.withTimeout(ctx)
	p := m.send(ctx, request)
	go func() {
		defer cancel()
		select {
		case <-p.Done():
		case <-ctx.Done():
			p.Reject(ctx.Err())
		}
	}()
	return p
}

func (m *Mediator) send(ctx context.Context, request any) *promise.Promise {
	root := m.Handler()
	return promise.Go(poolSubmitter{m.pool}, func() (any, error) {
		result, err := Execute(root, request, WithContext(ctx))
		if errors.Is(err, ErrNotHandled) {
			m.logger.WithField("request", describe(request)).Debug("no handler")
			return nil, errors.Wrap(err, "Send: "+ErrorNotCommandHandler)
		}
		return result, err
	})
}

func (m *Mediator) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.sendTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, m.sendTimeout)
}

// Resolve asks the chain for a value of key.
func (m *Mediator) Resolve(ctx context.Context, key any) (any, error) {
	if ctx == nil || key == nil {
		return nil, errors.Wrap(ErrInvalidArgument, "Resolve")
	}
	return Resolve(m.Handler(), key, InquiryContext(ctx))
}

// poolSubmitter adapts an IRoutinePool to promise.Submitter.
type poolSubmitter struct {
	pool IRoutinePool
}

func (s poolSubmitter) Submit(task func()) error {
	if s.pool == nil {
		return errors.New("callback: nil routine pool")
	}
	return s.pool.Publish(task)
}

func waitAllDone(doneSlice []chan struct{}) <-chan struct{} {
	allDone := make(chan struct{})
	go func() {
		for _, done := range doneSlice {
			<-done
		}
		close(allDone)
	}()
	return allDone
}

// ErrorNotification collects one error slot per published handler so the
// combined error lists failures in registration order.
type ErrorNotification struct {
	mut    sync.Mutex
	errors []error
}

func newErrorNotification(n int) *ErrorNotification {
	return &ErrorNotification{errors: make([]error, n)}
}

func (e *ErrorNotification) set(i int, err error) {
	if err == nil {
		return
	}
	e.mut.Lock()
	e.errors[i] = err
	e.mut.Unlock()
}

// HasError ...
func (e *ErrorNotification) HasError() bool {
	return len(e.Errors()) > 0
}

// Errors ...
func (e *ErrorNotification) Errors() []error {
	e.mut.Lock()
	defer e.mut.Unlock()
	var errs []error
	for _, err := range e.errors {
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// ToSingleError ...
func (e *ErrorNotification) ToSingleError() error {
	return multierr.Combine(e.Errors()...)
}

func (e *ErrorNotification) Error() string {
	if err := e.ToSingleError(); err != nil {
		return err.Error()
	}
	return ""
}
