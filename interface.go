package callback

import (
	"context"

	"github.com/liujh2010/callback/promise"
)

type (
	// IMediator is a context aware front end over a handler tree.
	IMediator interface {
		Publish(ctx context.Context, notification any) error
		Send(ctx context.Context, request any) (any, error)
		SendAsync(ctx context.Context, request any) *promise.Promise
		Resolve(ctx context.Context, key any) (any, error)
		Handler() Handler
	}

	// IMediatorBuilder ...
	IMediatorBuilder interface {
		RegisterHandler(handler any) IMediatorBuilder
		RegisterHandlers(handlers ...any) IMediatorBuilder
		Build() IMediator
	}

	// ITask ...
	ITask func()

	// IRoutinePool ...
	IRoutinePool interface {
		Publish(t ITask) error
	}
)
