package callback

import (
	"fmt"

	"github.com/pkg/errors"
)

const (
	// ErrorNotEventHandler ...
	ErrorNotEventHandler = "not found handler for this event"

	// ErrorNotCommandHandler ...
	ErrorNotCommandHandler = "not found handler for this command"

	// ErrorInvalidArgument ...
	ErrorInvalidArgument = "invalid argument"
)

var (
	// ErrNotHandled is matched by every NotHandledError.
	ErrNotHandled = errors.New("callback: not handled")

	// ErrInvalidArgument ...
	ErrInvalidArgument = errors.New("callback: " + ErrorInvalidArgument)

	// ErrInvalidMember is returned when a member cannot be bound to a policy.
	ErrInvalidMember = errors.New("callback: invalid member")

	// ErrUnknownPolicy ...
	ErrUnknownPolicy = errors.New("callback: unknown policy")

	// ErrRateLimited is returned by filters that refuse work over a limit.
	ErrRateLimited = errors.New("callback: rate limited")

	// ErrPanic wraps a recovered panic.
	ErrPanic = errors.New("callback: panic")
)

// NotHandledError reports a callback no handler accepted.
type NotHandledError struct {
	Callback any
}

func (e *NotHandledError) Error() string {
	return fmt.Sprintf("callback: %s not handled", describe(e.Callback))
}

// Is makes errors.Is(err, ErrNotHandled) hold.
func (e *NotHandledError) Is(target error) bool {
	return target == ErrNotHandled
}

func notHandled(callback any) error {
	return &NotHandledError{Callback: callback}
}

// describe names a callback for messages and logs.
func describe(callback any) string {
	switch cb := callback.(type) {
	case nil:
		return "<nil>"
	case *Command:
		return describe(cb.Callback())
	case *Inquiry:
		return "inquiry " + cb.Key().String()
	case fmt.Stringer:
		return fmt.Sprintf("%T(%s)", callback, cb.String())
	}
	return fmt.Sprintf("%T", callback)
}
