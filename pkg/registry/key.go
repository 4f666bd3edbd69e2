package registry

import (
	"path"
	"reflect"
	"strings"
)

// TypeKey identifies a service by the Go type it is registered under.
//
// Two keys are equal iff they refer to the same reflect.Type, so a TypeKey is
// usable as a map key and is stable for the lifetime of the process.
type TypeKey struct {
	t reflect.Type
}

// KeyOf returns the key for type T. T may be an interface type, in which
// case the registry stores whatever concrete value implements it.
func KeyOf[T any]() TypeKey {
	return TypeKey{t: reflect.TypeFor[T]()}
}

// KeyFor returns the key for an already-known reflect.Type.
func KeyFor(t reflect.Type) TypeKey {
	return TypeKey{t: t}
}

// Type returns the underlying reflect.Type (nil for the zero key).
func (k TypeKey) Type() reflect.Type {
	return k.t
}

// IsZero reports whether k was never initialized.
func (k TypeKey) IsZero() bool {
	return k.t == nil
}

// String renders the key as "pkg.Type", keeping pointer and container
// markers so that *Foo and Foo stay distinguishable in logs.
func (k TypeKey) String() string {
	if k.t == nil {
		return "<nil>"
	}
	return typeName(k.t)
}

func typeName(t reflect.Type) string {
	switch t.Kind() {
	case reflect.Pointer:
		return "*" + typeName(t.Elem())
	case reflect.Slice:
		if t.Name() == "" {
			return "[]" + typeName(t.Elem())
		}
	case reflect.Map:
		if t.Name() == "" {
			return "map[" + typeName(t.Key()) + "]" + typeName(t.Elem())
		}
	}

	name := t.Name()
	if name == "" {
		return t.String()
	}

	// Generic instantiations carry full import paths inside the brackets.
	if i := strings.IndexByte(name, '['); i >= 0 {
		name = name[:i]
	}
	if pkg := t.PkgPath(); pkg != "" {
		return path.Base(pkg) + "." + name
	}
	return name
}
