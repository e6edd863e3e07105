package callback

import (
	"reflect"
	"sort"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Descriptor is the immutable view of every member registered for one
// handler type, grouped by policy. Candidate lists are memoized per
// (policy, key, strictness).
type Descriptor struct {
	handlerType    reflect.Type
	registry       *Registry
	instance       map[*Policy][]*Binding
	static         map[*Policy][]*Binding
	handlerFilters []FilterProvider
	memberFilters  map[*Binding][]FilterProvider
	candidates     *lru.Cache[string, []candidate]
}

type candidate struct {
	binding *Binding
	match   candidateMatch
}

// HandlerType ...
func (d *Descriptor) HandlerType() reflect.Type {
	return d.handlerType
}

// Bindings lists the instance and static members registered under policy.
func (d *Descriptor) Bindings(policy string) []*Binding {
	var bindings []*Binding
	for p, bs := range d.instance {
		if p.name == policy {
			bindings = append(bindings, bs...)
		}
	}
	for p, bs := range d.static {
		if p.name == policy {
			bindings = append(bindings, bs...)
		}
	}
	sort.Slice(bindings, func(i, j int) bool { return bindings[i].order < bindings[j].order })
	return bindings
}

// candidatesFor orders matching members: invariant matches first, then
// compatible ones by accuracy. Ties go to the member with more parameters,
// then to the earlier registration.
func (d *Descriptor) candidatesFor(p *Policy, static bool, key Key, strict bool) []candidate {
	cacheKey := p.name + "|" + strconv.FormatBool(static) + "|" + strconv.FormatBool(strict) + "|" + key.cacheKey()
	if cached, ok := d.candidates.Get(cacheKey); ok {
		return cached
	}
	bindings := d.instance[p]
	if static {
		bindings = d.static[p]
	}
	var invariant, compatible []candidate
	for _, b := range bindings {
		match, ok := p.match(b.key, key, strict)
		if !ok {
			continue
		}
		if match.invariant {
			invariant = append(invariant, candidate{binding: b, match: match})
		} else {
			compatible = append(compatible, candidate{binding: b, match: match})
		}
	}
	sort.SliceStable(invariant, func(i, j int) bool {
		return byArity(invariant[i], invariant[j])
	})
	sort.SliceStable(compatible, func(i, j int) bool {
		a, b := compatible[i], compatible[j]
		if a.match.accuracy != b.match.accuracy {
			return a.match.accuracy < b.match.accuracy
		}
		return byArity(a, b)
	})
	ordered := append(invariant, compatible...)
	d.candidates.Add(cacheKey, ordered)
	return ordered
}

func byArity(a, b candidate) bool {
	if a.binding.arity != b.binding.arity {
		return a.binding.arity > b.binding.arity
	}
	return a.binding.order < b.binding.order
}

// dispatch offers callback to the candidates of policy p. Compatible
// candidates are only tried when no invariant candidate handled it.
func (d *Descriptor) dispatch(p *Policy, target any, static bool, callback any, opts DispatchOptions, results func(any) bool) HandleResult {
	subject, key := p.Subject(callback)
	if key.IsZero() {
		return NotHandled
	}
	dispatched, invariantHandled := false, false
	for _, c := range d.candidatesFor(p, static, key, opts.Strict) {
		if invariantHandled && !c.match.invariant {
			break
		}
		result := d.invoke(c, p, target, callback, subject, opts, results)
		if result.Failed() {
			return result.Or(HandledIf(dispatched))
		}
		if result.IsHandled() {
			dispatched = true
			if c.match.invariant {
				invariantHandled = true
			}
			if !opts.Greedy {
				return Handled
			}
		}
	}
	return HandledIf(dispatched)
}

func (d *Descriptor) invoke(c candidate, p *Policy, target, callback, subject any, opts DispatchOptions, results func(any) bool) HandleResult {
	b := c.binding
	if !b.acceptsSubject(subject) || !satisfies(b.metadata, callback) {
		return NotHandled
	}
	log := d.registry.logger.WithField("binding", b.String())

	options := filterOptionsOf(opts.Composer)
	skip := b.skipFilters || (options.SkipFilters != nil && *options.SkipFilters)
	providers := make([]FilterProvider, 0, 8)
	providers = append(providers, b.filters...)
	providers = append(providers, d.memberFilters[b]...)
	providers = append(providers, d.handlerFilters...)
	if f, ok := target.(Filter); ok {
		providers = append(providers, FilterInstances(f))
	}
	providers = append(providers, p.Filters()...)
	providers = append(providers, d.registry.globalFilters()...)
	providers = append(providers, options.ExtraFilters...)

	filters, ok := orderFilters(b, callback, opts.Composer, skip, providers)
	if !ok {
		log.Debug("vetoed by required filter")
		return NotHandled
	}

	args := &ArgContext{
		Callback: callback,
		Subject:  subject,
		Binding:  b,
		TypeArgs: c.match.args,
		registry: d.registry,
	}
	complete := func(composer Handler) (any, bool, error) {
		args.Composer = composer
		return b.invoke(target, subject, args)
	}

	var (
		result    any
		completed bool
		err       error
	)
	if len(filters) == 0 {
		result, completed, err = complete(opts.Composer)
	} else {
		pl := &pipeline{
			filters: filters,
			call: Call{
				Callback: callback,
				Subject:  subject,
				Target:   target,
				Binding:  b,
				Composer: opts.Composer,
			},
			complete: complete,
		}
		result, completed, err = pl.run()
	}
	if !completed {
		return NotHandled
	}
	if err != nil {
		return Handled.WithError(err)
	}
	if !p.Accepts(result, b) {
		return NotHandled
	}
	if result != nil && results != nil && !results(result) {
		return NotHandled
	}
	return Handled
}
