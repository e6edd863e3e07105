package callback

import (
	"sort"
)

type (
	// Call is the state of one filtered member invocation.
	Call struct {
		Callback any
		Subject  any
		Target   any
		Binding  *Binding
		Composer Handler
	}

	// Next continues a filter pipeline. A nil composer keeps the current
	// one; proceed false aborts the invocation as not handled.
	Next func(composer Handler, proceed bool) (any, error)

	// Filter wraps member invocations. Filters run by ascending Stage.
	Filter interface {
		Stage() int
		Next(call *Call, next Next) (any, error)
	}

	// FilterProvider yields the filters for an invocation. A required
	// provider that yields none vetoes the member.
	FilterProvider interface {
		Required() bool
		Filters(binding *Binding, callback any, composer Handler) []Filter
	}
)

// Pipe continues with the current composer.
func (n Next) Pipe() (any, error) { return n(nil, true) }

// PipeComposer continues with a different composer.
func (n Next) PipeComposer(composer Handler) (any, error) { return n(composer, true) }

// Abort stops the pipeline and reports the member as not handled.
func (n Next) Abort() (any, error) { return n(nil, false) }

// FilterFunc is the body of a filter built by NewFilter.
type FilterFunc func(call *Call, next Next) (any, error)

type funcFilter struct {
	stage int
	fn    FilterFunc
}

// NewFilter ...
func NewFilter(stage int, fn FilterFunc) Filter {
	return &funcFilter{stage: stage, fn: fn}
}

func (f *funcFilter) Stage() int { return f.stage }

func (f *funcFilter) Next(call *Call, next Next) (any, error) {
	return f.fn(call, next)
}

type instanceProvider struct {
	filters []Filter
}

// FilterInstances provides a fixed set of filters.
func FilterInstances(filters ...Filter) FilterProvider {
	return &instanceProvider{filters: filters}
}

func (p *instanceProvider) Required() bool { return false }

func (p *instanceProvider) Filters(*Binding, any, Handler) []Filter {
	return p.filters
}

type requiredProvider struct {
	FilterProvider
}

// Required makes provider mandatory: it survives SkipFilters and vetoes the
// member when it yields nothing.
func Required(provider FilterProvider) FilterProvider {
	return requiredProvider{provider}
}

func (requiredProvider) Required() bool { return true }

// FilterProviderFunc is a non-required provider computed per invocation.
type FilterProviderFunc func(binding *Binding, callback any, composer Handler) []Filter

// Required ...
func (f FilterProviderFunc) Required() bool { return false }

// Filters ...
func (f FilterProviderFunc) Filters(binding *Binding, callback any, composer Handler) []Filter {
	return f(binding, callback, composer)
}

type stagedFilter struct {
	filter Filter
	seq    int
}

// orderFilters collects the filters of every provider, drops repeated
// instances and sorts by stage, then discovery order. ok is false when a
// required provider vetoes.
func orderFilters(binding *Binding, callback any, composer Handler, skip bool, providers []FilterProvider) ([]Filter, bool) {
	var (
		staged []stagedFilter
		seen   = make(map[any]struct{})
	)
	for _, provider := range providers {
		if provider == nil {
			continue
		}
		required := provider.Required()
		if skip && !required {
			continue
		}
		filters := provider.Filters(binding, callback, composer)
		if len(filters) == 0 {
			if required {
				return nil, false
			}
			continue
		}
		for _, f := range filters {
			if f == nil {
				continue
			}
			if isComparable(f) {
				if _, dup := seen[f]; dup {
					continue
				}
				seen[f] = struct{}{}
			}
			staged = append(staged, stagedFilter{filter: f, seq: len(staged)})
		}
	}
	sort.SliceStable(staged, func(i, j int) bool {
		return staged[i].filter.Stage() < staged[j].filter.Stage()
	})
	ordered := make([]Filter, len(staged))
	for i, s := range staged {
		ordered[i] = s.filter
	}
	return ordered, true
}

// pipeline threads one invocation through its filters. State lives here,
// never in package variables, so concurrent dispatches stay independent.
type pipeline struct {
	filters  []Filter
	call     Call
	complete func(composer Handler) (any, bool, error)
	// aborted reflects the latest pass, so a retried pass can recover.
	aborted bool
}

func (p *pipeline) run() (result any, completed bool, err error) {
	result, err = p.next(0, p.call.Composer)(nil, true)
	return result, !p.aborted, err
}

func (p *pipeline) next(index int, composer Handler) Next {
	return func(override Handler, proceed bool) (any, error) {
		if !proceed {
			p.aborted = true
			return nil, nil
		}
		if override != nil {
			composer = override
		}
		if index < len(p.filters) {
			call := p.call
			call.Composer = composer
			return p.filters[index].Next(&call, p.next(index+1, composer))
		}
		result, ok, err := p.complete(composer)
		p.aborted = !ok
		return result, err
	}
}

// FilterOptions is the query callback answered by filter option decorators.
type FilterOptions struct {
	SkipFilters  *bool
	ExtraFilters []FilterProvider
}

func (*FilterOptions) internal() {}

// MergeInto copies unset options into other.
func (o *FilterOptions) MergeInto(other *FilterOptions) {
	if o.SkipFilters != nil && other.SkipFilters == nil {
		skip := *o.SkipFilters
		other.SkipFilters = &skip
	}
	other.ExtraFilters = append(other.ExtraFilters, o.ExtraFilters...)
}

func filterOptionsOf(composer Handler) *FilterOptions {
	options := &FilterOptions{}
	if composer != nil {
		composer.Handle(options, true, nil)
	}
	return options
}

type filterOptionsDecorator struct {
	handler Handler
	options FilterOptions
}

var _ Decorator = (*filterOptionsDecorator)(nil)

// WithFilters adds filter providers to every member reached through handler.
func WithFilters(handler Handler, providers ...FilterProvider) Handler {
	return &filterOptionsDecorator{handler: handler, options: FilterOptions{ExtraFilters: providers}}
}

// SkipFilters limits members reached through handler to required filters.
func SkipFilters(handler Handler) Handler {
	skip := true
	return &filterOptionsDecorator{handler: handler, options: FilterOptions{SkipFilters: &skip}}
}

// EnableFilters undoes an inner SkipFilters.
func EnableFilters(handler Handler) Handler {
	skip := false
	return &filterOptionsDecorator{handler: handler, options: FilterOptions{SkipFilters: &skip}}
}

// Decoratee ...
func (d *filterOptionsDecorator) Decoratee() Handler {
	return d.handler
}

// Handle ...
func (d *filterOptionsDecorator) Handle(callback any, greedy bool, composer Handler) HandleResult {
	if options, ok := CallbackOf(callback).(*FilterOptions); ok {
		d.options.MergeInto(options)
		d.handler.Handle(callback, greedy, composer)
		return Handled
	}
	return d.handler.Handle(callback, greedy, composer)
}
