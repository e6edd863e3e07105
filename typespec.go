package callback

import (
	"reflect"
	"strings"
)

// TypeSpec describes a generic shape such as Get[T] that Go reflection
// cannot express for uninstantiated types. A spec is either a type
// variable (Var set), a leaf bound to a runtime type (Type set), or a
// named constructor applied to Args.
type TypeSpec struct {
	Name       string
	Args       []TypeSpec
	Var        string
	Constraint reflect.Type
	Type       reflect.Type
}

// TypeArgs binds type variable names to closed specs.
type TypeArgs map[string]TypeSpec

// Spec builds a named spec.
func Spec(name string, args ...TypeSpec) TypeSpec {
	return TypeSpec{Name: name, Args: args}
}

// Var builds a type variable. An optional constraint requires the bound
// type to be assignable to it.
func Var(name string, constraint ...reflect.Type) TypeSpec {
	spec := TypeSpec{Var: name}
	if len(constraint) > 0 {
		spec.Constraint = constraint[0]
	}
	return spec
}

// SpecOf returns the leaf spec of T.
func SpecOf[T any]() TypeSpec {
	return SpecFor(reflect.TypeOf((*T)(nil)).Elem())
}

// SpecFor returns the leaf spec of t.
func SpecFor(t reflect.Type) TypeSpec {
	return TypeSpec{Name: typeName(t), Type: t}
}

// IsOpen reports whether s contains type variables.
func (s TypeSpec) IsOpen() bool {
	if s.Var != "" {
		return true
	}
	for _, arg := range s.Args {
		if arg.IsOpen() {
			return true
		}
	}
	return false
}

// Equal compares two specs structurally.
func (s TypeSpec) Equal(other TypeSpec) bool {
	if s.Var != "" || other.Var != "" {
		return s.Var == other.Var
	}
	if s.Type != nil || other.Type != nil {
		return s.Type == other.Type
	}
	if s.Name != other.Name || len(s.Args) != len(other.Args) {
		return false
	}
	for i := range s.Args {
		if !s.Args[i].Equal(other.Args[i]) {
			return false
		}
	}
	return true
}

// Close substitutes bound variables.
func (s TypeSpec) Close(args TypeArgs) TypeSpec {
	if s.Var != "" {
		if bound, ok := args[s.Var]; ok {
			return bound
		}
		return s
	}
	if len(s.Args) == 0 {
		return s
	}
	closed := s
	closed.Args = make([]TypeSpec, len(s.Args))
	for i, arg := range s.Args {
		closed.Args[i] = arg.Close(args)
	}
	return closed
}

func (s TypeSpec) String() string {
	if s.Var != "" {
		return s.Var
	}
	name := s.Name
	if name == "" && s.Type != nil {
		name = s.Type.String()
	}
	if len(s.Args) == 0 {
		return name
	}
	parts := make([]string, len(s.Args))
	for i, arg := range s.Args {
		parts[i] = arg.String()
	}
	return name + "[" + strings.Join(parts, ",") + "]"
}

func (s TypeSpec) id() string {
	if s.Var != "" {
		return "$" + s.Var
	}
	if s.Type != nil {
		return typeID(s.Type)
	}
	if len(s.Args) == 0 {
		return s.Name
	}
	parts := make([]string, len(s.Args))
	for i, arg := range s.Args {
		parts[i] = arg.id()
	}
	return s.Name + "[" + strings.Join(parts, ",") + "]"
}

// Unify matches an open spec against a closed one and returns the variable
// bindings. It fails on shape mismatch, on a variable bound twice to
// different specs, or when a bound leaf violates the variable constraint.
func Unify(open, closed TypeSpec) (TypeArgs, bool) {
	args := TypeArgs{}
	if !unify(open, closed, args) {
		return nil, false
	}
	return args, true
}

func unify(open, closed TypeSpec, args TypeArgs) bool {
	if open.Var != "" {
		if bound, ok := args[open.Var]; ok {
			return bound.Equal(closed)
		}
		if open.Constraint != nil {
			if closed.Type == nil || !closed.Type.AssignableTo(open.Constraint) {
				return false
			}
		}
		args[open.Var] = closed
		return true
	}
	if closed.Var != "" {
		return false
	}
	if open.Type != nil || closed.Type != nil {
		return open.Type == closed.Type
	}
	if open.Name != closed.Name || len(open.Args) != len(closed.Args) {
		return false
	}
	for i := range open.Args {
		if !unify(open.Args[i], closed.Args[i], args) {
			return false
		}
	}
	return true
}
