package callback

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Stages of the built-in filters; lower runs outermost.
const (
	StageLogging   = -1000
	StageRecover   = -900
	StageRateLimit = -500
	StageRetry     = -100
)

func callContext(call *Call) context.Context {
	if c, ok := call.Callback.(Contextual); ok && c.Context() != nil {
		return c.Context()
	}
	return context.Background()
}

type logFilter struct {
	logger logrus.FieldLogger
}

// LogFilter logs each invocation with its outcome and duration.
func LogFilter(logger logrus.FieldLogger) Filter {
	if logger == nil {
		logger = newLogger()
	}
	return &logFilter{logger: logger}
}

func (f *logFilter) Stage() int { return StageLogging }

func (f *logFilter) Next(call *Call, next Next) (any, error) {
	fields := logrus.Fields{
		"binding":  call.Binding.String(),
		"callback": describe(call.Callback),
	}
	if cmd, ok := call.Callback.(*Command); ok {
		fields["id"] = cmd.ID().String()
	}
	start := time.Now()
	result, err := next.Pipe()
	entry := f.logger.WithFields(fields).WithField("elapsed", time.Since(start))
	if err != nil {
		entry.WithError(err).Warn("handler failed")
	} else {
		entry.Debug("handled")
	}
	return result, err
}

type recoverFilter struct{}

// RecoverFilter turns a panic below it into an ErrPanic error.
func RecoverFilter() Filter {
	return recoverFilter{}
}

func (recoverFilter) Stage() int { return StageRecover }

func (recoverFilter) Next(call *Call, next Next) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, errors.Wrapf(ErrPanic, "%s: %v", call.Binding, r)
		}
	}()
	return next.Pipe()
}

// RetryOptions configures RetryFilter.
type RetryOptions struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// Retryable limits retries to matching errors; nil retries all.
	Retryable func(error) bool
}

type retryFilter struct {
	opts RetryOptions
}

// RetryFilter re-runs the rest of the pipeline with exponential backoff
// while it fails. Not-handled errors are never retried.
func RetryFilter(opts RetryOptions) Filter {
	if opts.MaxTries == 0 {
		opts.MaxTries = 3
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 50 * time.Millisecond
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = 2 * time.Second
	}
	return &retryFilter{opts: opts}
}

func (f *retryFilter) Stage() int { return StageRetry }

func (f *retryFilter) Next(call *Call, next Next) (any, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.opts.InitialInterval
	b.MaxInterval = f.opts.MaxInterval
	b.Multiplier = 2.0

	return backoff.Retry(callContext(call), func() (any, error) {
		result, err := next.Pipe()
		if err == nil {
			return result, nil
		}
		if errors.Is(err, ErrNotHandled) || (f.opts.Retryable != nil && !f.opts.Retryable(err)) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(f.opts.MaxTries),
		backoff.WithMaxElapsedTime(0),
	)
}

type rateLimitFilter struct {
	limiter *rate.Limiter
	wait    bool
}

// RateLimitFilter vetoes the member, leaving the callback to other
// handlers, when limiter has no token available.
func RateLimitFilter(limiter *rate.Limiter) Filter {
	return &rateLimitFilter{limiter: limiter}
}

// ThrottleFilter waits for a token from limiter, failing with
// ErrRateLimited when the callback context ends first.
func ThrottleFilter(limiter *rate.Limiter) Filter {
	return &rateLimitFilter{limiter: limiter, wait: true}
}

func (f *rateLimitFilter) Stage() int { return StageRateLimit }

func (f *rateLimitFilter) Next(call *Call, next Next) (any, error) {
	if !f.wait {
		if !f.limiter.Allow() {
			return next.Abort()
		}
		return next.Pipe()
	}
	if err := f.limiter.Wait(callContext(call)); err != nil {
		return nil, errors.Wrapf(ErrRateLimited, "%s: %v", call.Binding, err)
	}
	return next.Pipe()
}
