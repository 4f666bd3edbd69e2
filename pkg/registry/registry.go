package registry

import (
	"errors"
	"fmt"
	"reflect"
)

var (
	// ErrNotFound is returned when no instance is stored under a key.
	ErrNotFound = errors.New("registry: service not found")

	// ErrDuplicateKey is returned by Insert when the key is already populated.
	ErrDuplicateKey = errors.New("registry: key already populated")

	// ErrFrozen is returned by Insert after Build has been called.
	ErrFrozen = errors.New("registry: builder already built")
)

// LookupError reports a failed typed lookup.
type LookupError struct {
	Key TypeKey
	Err error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("lookup %s: %v", e.Key, e.Err)
}

func (e *LookupError) Unwrap() error {
	return e.Err
}

// TypeMismatchError is returned by Get when the stored instance cannot be
// converted to the requested type.
type TypeMismatchError struct {
	Key  TypeKey
	Want reflect.Type
	Got  reflect.Type
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("registry: %s holds %v, not %v", e.Key, e.Got, e.Want)
}

// View is read access to a registry, either one still being assembled or a
// frozen one. Factories receive a View of the builder so they can pull the
// dependencies that were created before them.
type View interface {
	Lookup(key TypeKey) (any, bool)
	Contains(key TypeKey) bool
}

// Builder is the mutable assembly phase of a registry. It is owned by a
// single goroutine (the resolver) and is not safe for concurrent use.
type Builder struct {
	entries map[TypeKey]any
	order   []TypeKey
	built   bool
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{entries: make(map[TypeKey]any)}
}

// Insert stores instance under key. Entries are write-once.
func (b *Builder) Insert(key TypeKey, instance any) error {
	if b.built {
		return ErrFrozen
	}
	if key.IsZero() {
		return fmt.Errorf("registry: insert with zero key")
	}
	if _, exists := b.entries[key]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, key)
	}
	b.entries[key] = instance
	b.order = append(b.order, key)
	return nil
}

// Lookup implements View.
func (b *Builder) Lookup(key TypeKey) (any, bool) {
	v, ok := b.entries[key]
	return v, ok
}

// Contains implements View.
func (b *Builder) Contains(key TypeKey) bool {
	_, ok := b.entries[key]
	return ok
}

// Len returns the number of populated keys.
func (b *Builder) Len() int {
	return len(b.entries)
}

// Build freezes the builder and returns the immutable registry. The builder
// rejects further inserts afterwards.
func (b *Builder) Build() *Registry {
	b.built = true

	entries := make(map[TypeKey]any, len(b.entries))
	for k, v := range b.entries {
		entries[k] = v
	}
	order := make([]TypeKey, len(b.order))
	copy(order, b.order)

	return &Registry{entries: entries, order: order}
}

// Registry is a frozen set of resolved service instances. It is never
// mutated after construction, so concurrent readers need no locking.
type Registry struct {
	entries map[TypeKey]any
	order   []TypeKey
}

// Empty returns a registry with no entries.
func Empty() *Registry {
	return &Registry{entries: map[TypeKey]any{}}
}

// Lookup implements View.
func (r *Registry) Lookup(key TypeKey) (any, bool) {
	if r == nil {
		return nil, false
	}
	v, ok := r.entries[key]
	return v, ok
}

// Contains implements View.
func (r *Registry) Contains(key TypeKey) bool {
	_, ok := r.Lookup(key)
	return ok
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.entries)
}

// Keys returns the keys in the order their instances were created.
func (r *Registry) Keys() []TypeKey {
	if r == nil {
		return nil
	}
	keys := make([]TypeKey, len(r.order))
	copy(keys, r.order)
	return keys
}

// Get returns the instance stored under key converted to T.
//
// A missing key yields a *LookupError wrapping ErrNotFound; a stored value
// that is not a T yields a *TypeMismatchError. Get never panics.
func Get[T any](v View, key TypeKey) (T, error) {
	var zero T

	raw, ok := v.Lookup(key)
	if !ok {
		return zero, &LookupError{Key: key, Err: ErrNotFound}
	}

	typed, ok := raw.(T)
	if !ok {
		return zero, &TypeMismatchError{
			Key:  key,
			Want: reflect.TypeFor[T](),
			Got:  reflect.TypeOf(raw),
		}
	}
	return typed, nil
}

// Resolve is Get keyed by T itself.
func Resolve[T any](v View) (T, error) {
	return Get[T](v, KeyOf[T]())
}

// MustGet is Get that panics on failure. Only use it in wiring code where a
// missing dependency is a programming error.
func MustGet[T any](v View, key TypeKey) T {
	typed, err := Get[T](v, key)
	if err != nil {
		panic(err)
	}
	return typed
}
