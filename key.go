package callback

import (
	"reflect"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// Key identifies what a callback is about or what a binding serves.
// Exactly one of Type, Spec or Name is normally set; a callback value that
// describes itself with a TypeSpec carries both Type and Spec.
type Key struct {
	Type reflect.Type
	Spec *TypeSpec
	Name string
}

// Generic is implemented by callbacks that describe their generic shape.
type Generic interface {
	TypeSpec() TypeSpec
}

// KeyOf returns the key of a callback value.
func KeyOf(value any) Key {
	if value == nil {
		return Key{}
	}
	key := Key{Type: reflect.TypeOf(value)}
	if g, ok := value.(Generic); ok {
		spec := g.TypeSpec()
		key.Spec = &spec
	}
	return key
}

// AsKey converts a requested key (a reflect.Type, TypeSpec, string or Key)
// into a Key. Any other value is treated as an instance of the requested type.
func AsKey(key any) Key {
	switch k := key.(type) {
	case Key:
		return k
	case *Key:
		return *k
	case reflect.Type:
		return Key{Type: k}
	case TypeSpec:
		return specKey(k)
	case *TypeSpec:
		return specKey(*k)
	case string:
		return Key{Name: k}
	}
	return Key{Type: reflect.TypeOf(key)}
}

// TypeKey returns the key for values of type T.
func TypeKey[T any]() Key {
	return Key{Type: reflect.TypeOf((*T)(nil)).Elem()}
}

// NameKey returns a string key.
func NameKey(name string) Key {
	return Key{Name: name}
}

func specKey(spec TypeSpec) Key {
	if spec.Type != nil && len(spec.Args) == 0 && spec.Var == "" {
		return Key{Type: spec.Type}
	}
	return Key{Spec: &spec}
}

// IsZero reports an empty key.
func (k Key) IsZero() bool {
	return k.Type == nil && k.Spec == nil && k.Name == ""
}

func (k Key) String() string {
	switch {
	case k.Spec != nil:
		return k.Spec.String()
	case k.Type != nil:
		return typeName(k.Type)
	case k.Name != "":
		return `"` + k.Name + `"`
	}
	return "<none>"
}

// cacheKey is unique per distinct key.
func (k Key) cacheKey() string {
	var b strings.Builder
	if k.Type != nil {
		b.WriteString("t:")
		b.WriteString(typeID(k.Type))
	}
	if k.Spec != nil {
		b.WriteString("|s:")
		b.WriteString(k.Spec.id())
	}
	if k.Name != "" {
		b.WriteString("|n:")
		b.WriteString(strings.ToLower(k.Name))
	}
	return b.String()
}

func typeName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	return t.String()
}

var (
	typeIDs   sync.Map
	typeIDSeq atomic.Uint64
)

// typeID is a process unique id per reflect.Type, so types that print the
// same never share a cache entry.
func typeID(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	if id, ok := typeIDs.Load(t); ok {
		return id.(string)
	}
	id := strconv.FormatUint(typeIDSeq.Add(1), 36) + ":" + t.String()
	actual, _ := typeIDs.LoadOrStore(t, id)
	return actual.(string)
}
