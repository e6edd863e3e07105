package callback

import (
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var _ IRoutinePool = (*RoutinePool)(nil)

// RoutinePool is an IRoutinePool backed by an ants pool. It also satisfies
// promise.Submitter.
type RoutinePool struct {
	pool *ants.Pool
}

// PoolOption ...
type PoolOption func(*poolOptions)

type poolOptions struct {
	nonblocking bool
	expiry      time.Duration
	logger      logrus.FieldLogger
}

// Nonblocking makes Publish fail instead of waiting when every worker is busy.
func Nonblocking() PoolOption {
	return func(o *poolOptions) { o.nonblocking = true }
}

// WithExpiry sets how long idle workers live.
func WithExpiry(d time.Duration) PoolOption {
	return func(o *poolOptions) { o.expiry = d }
}

// WithPoolLogger logs task panics to logger.
func WithPoolLogger(logger logrus.FieldLogger) PoolOption {
	return func(o *poolOptions) { o.logger = logger }
}

// NewRoutinePool ...
func NewRoutinePool(size int, opts ...PoolOption) (*RoutinePool, error) {
	o := poolOptions{logger: newLogger()}
	for _, opt := range opts {
		opt(&o)
	}
	antsOpts := []ants.Option{
		ants.WithNonblocking(o.nonblocking),
		ants.WithPanicHandler(func(r interface{}) {
			o.logger.WithField("panic", r).Error("task panicked")
		}),
	}
	if o.expiry > 0 {
		antsOpts = append(antsOpts, ants.WithExpiryDuration(o.expiry))
	}
	pool, err := ants.NewPool(size, antsOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "routine pool")
	}
	return &RoutinePool{pool: pool}, nil
}

// Publish ...
func (p *RoutinePool) Publish(t ITask) error {
	return p.pool.Submit(t)
}

// Submit ...
func (p *RoutinePool) Submit(task func()) error {
	return p.pool.Submit(task)
}

// Running ...
func (p *RoutinePool) Running() int {
	return p.pool.Running()
}

// Release stops the workers.
func (p *RoutinePool) Release() {
	p.pool.Release()
}
