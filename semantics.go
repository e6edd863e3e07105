package callback

import "github.com/pkg/errors"

// CallbackOptions select how a callback traverses a tree.
type CallbackOptions uint8

const (
	// None ...
	None CallbackOptions = 0
	// Duck lets capability calls match by method name alone.
	Duck CallbackOptions = 1 << (iota - 1)
	// Strict restricts matching to exact keys.
	Strict
	// Broadcast offers the callback to every matching member.
	Broadcast
	// BestEffort suppresses not-handled failures.
	BestEffort
	// Resolving treats the callback as a key to resolve.
	Resolving

	// Notify ...
	Notify = Broadcast | BestEffort
)

// Has ...
func (o CallbackOptions) Has(option CallbackOptions) bool {
	return o&option == option
}

// CallbackSemantics is the query callback answered by semantics decorators.
type CallbackSemantics struct {
	options   CallbackOptions
	specified CallbackOptions
}

// NewCallbackSemantics ...
func NewCallbackSemantics(options CallbackOptions) *CallbackSemantics {
	return &CallbackSemantics{options: options, specified: options}
}

// Options ...
func (s *CallbackSemantics) Options() CallbackOptions { return s.options }

// HasOption ...
func (s *CallbackSemantics) HasOption(option CallbackOptions) bool {
	return s.options.Has(option)
}

// SetOption sets or clears option and marks it specified.
func (s *CallbackSemantics) SetOption(option CallbackOptions, enabled bool) {
	if enabled {
		s.options |= option
	} else {
		s.options &^= option
	}
	s.specified |= option
}

// IsSpecified ...
func (s *CallbackSemantics) IsSpecified(option CallbackOptions) bool {
	return s.specified&option == option
}

// MergeInto copies into other every option other has not specified yet.
func (s *CallbackSemantics) MergeInto(other *CallbackSemantics) {
	for _, option := range []CallbackOptions{Duck, Strict, Broadcast, BestEffort, Resolving} {
		if s.IsSpecified(option) && !other.IsSpecified(option) {
			other.SetOption(option, s.HasOption(option))
		}
	}
}

func (*CallbackSemantics) internal() {}

// internalCallback marks query callbacks that never reach member bindings.
type internalCallback interface {
	internal()
}

// GetSemantics collects the options of the semantics decorators wrapping
// handler. Outer decorators take precedence.
func GetSemantics(handler Handler) *CallbackSemantics {
	semantics := &CallbackSemantics{}
	if handler != nil {
		handler.Handle(semantics, true, nil)
	}
	return semantics
}

type semanticsDecorator struct {
	handler   Handler
	semantics *CallbackSemantics
}

var _ Decorator = (*semanticsDecorator)(nil)

// Semantics decorates handler with options applied to every callback
// passing through it.
func Semantics(handler Handler, options CallbackOptions) Handler {
	return &semanticsDecorator{handler: handler, semantics: NewCallbackSemantics(options)}
}

// WithBroadcast ...
func WithBroadcast(handler Handler) Handler { return Semantics(handler, Broadcast) }

// WithBestEffort ...
func WithBestEffort(handler Handler) Handler { return Semantics(handler, BestEffort) }

// WithNotify ...
func WithNotify(handler Handler) Handler { return Semantics(handler, Notify) }

// WithStrict ...
func WithStrict(handler Handler) Handler { return Semantics(handler, Strict) }

// WithDuck ...
func WithDuck(handler Handler) Handler { return Semantics(handler, Duck) }

// Decoratee ...
func (d *semanticsDecorator) Decoratee() Handler {
	return d.handler
}

// Handle applies broadcast, best-effort, strict and duck options. Nested
// dispatches arriving through a composer pass through untouched.
func (d *semanticsDecorator) Handle(callback any, greedy bool, composer Handler) HandleResult {
	if _, ok := callback.(*Composition); ok {
		return d.handler.Handle(callback, greedy, composer)
	}
	if query, ok := callback.(*CallbackSemantics); ok {
		d.semantics.MergeInto(query)
		if greedy {
			d.handler.Handle(query, greedy, composer)
		}
		return Handled
	}

	options := d.semantics.Options()
	if options.Has(Broadcast) {
		greedy = true
	}
	if carried := options & (Strict | Duck); carried != None {
		callback = &semanticCallback{callback: callback, options: carried}
	}
	result := d.handler.Handle(callback, greedy, composer)
	if options.Has(BestEffort) && errors.Is(result.Err(), ErrNotHandled) {
		result = result.WithError(nil)
	}
	return result
}
