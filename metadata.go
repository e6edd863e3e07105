package callback

import "reflect"

// Metadata tags a binding with a name and key/value pairs that callback
// constraints are checked against. It is filled while the binding is
// built and read-only afterwards.
type Metadata struct {
	name   string
	values map[any]any
}

// NewMetadata applies each constraint's requirements to a fresh bag.
func NewMetadata(constraints ...Constraint) *Metadata {
	m := &Metadata{}
	for _, c := range constraints {
		if c != nil {
			c.Require(m)
		}
	}
	return m
}

// Name ...
func (m *Metadata) Name() string {
	if m == nil {
		return ""
	}
	return m.name
}

// SetName ...
func (m *Metadata) SetName(name string) {
	m.name = name
}

// Set ...
func (m *Metadata) Set(key, value any) {
	if m.values == nil {
		m.values = make(map[any]any)
	}
	m.values[key] = value
}

// Get ...
func (m *Metadata) Get(key any) (any, bool) {
	if m == nil {
		return nil, false
	}
	v, ok := m.values[key]
	return v, ok
}

// Has ...
func (m *Metadata) Has(key any) bool {
	_, ok := m.Get(key)
	return ok
}

// IsEmpty reports a bag with neither name nor values.
func (m *Metadata) IsEmpty() bool {
	return m == nil || (m.name == "" && len(m.values) == 0)
}

// GetAs is Get with a typed result.
func GetAs[V any](m *Metadata, key any) (V, bool) {
	var zero V
	v, ok := m.Get(key)
	if !ok {
		return zero, false
	}
	typed, ok := v.(V)
	return typed, ok
}

// Constraint narrows the bindings a callback may reach. Require tags a
// binding at registration; Matches decides at dispatch.
type Constraint interface {
	Require(m *Metadata)
	Matches(m *Metadata) bool
}

// Constrained is implemented by callbacks carrying constraints.
type Constrained interface {
	Constraints() []Constraint
}

type named string

// Named constrains dispatch to bindings with the given name.
func Named(name string) Constraint {
	return named(name)
}

func (n named) Require(m *Metadata)      { m.SetName(string(n)) }
func (n named) Matches(m *Metadata) bool { return m.Name() == string(n) }

type qualifier struct{ key any }

// Qualifier matches bindings tagged with key, and untagged bindings.
func Qualifier(key any) Constraint {
	return qualifier{key}
}

func (q qualifier) Require(m *Metadata) { m.Set(q.key, nil) }

func (q qualifier) Matches(m *Metadata) bool {
	return m.IsEmpty() || m.Has(q.key)
}

type keyValue struct{ key, value any }

// KeyValue requires the binding to carry key with an equal value.
func KeyValue(key, value any) Constraint {
	return keyValue{key, value}
}

func (kv keyValue) Require(m *Metadata) { m.Set(kv.key, kv.value) }

func (kv keyValue) Matches(m *Metadata) bool {
	v, ok := m.Get(kv.key)
	return ok && reflect.DeepEqual(v, kv.value)
}

type metadataConstraint map[any]any

// MetadataConstraint requires every pair of values on the binding.
func MetadataConstraint(values map[any]any) Constraint {
	return metadataConstraint(values)
}

func (mc metadataConstraint) Require(m *Metadata) {
	for k, v := range mc {
		m.Set(k, v)
	}
}

func (mc metadataConstraint) Matches(m *Metadata) bool {
	for k, v := range mc {
		if !(keyValue{k, v}).Matches(m) {
			return false
		}
	}
	return true
}

func satisfies(m *Metadata, callback any) bool {
	c, ok := callback.(Constrained)
	if !ok {
		return true
	}
	for _, constraint := range c.Constraints() {
		if constraint != nil && !constraint.Matches(m) {
			return false
		}
	}
	return true
}
