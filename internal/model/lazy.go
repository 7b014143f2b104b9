package model

// Lazy is a field resolved from a backend collaborator on first explicit load.
// The zero value is unloaded.
type Lazy[T any] struct {
	loaded bool
	value  T
}

// Loaded reports whether the value has been resolved.
func (l *Lazy[T]) Loaded() bool { return l.loaded }

// Value returns the resolved value and whether it was loaded.
func (l *Lazy[T]) Value() (T, bool) { return l.value, l.loaded }

// Set stores a value directly, marking the field loaded.
func (l *Lazy[T]) Set(v T) {
	l.value = v
	l.loaded = true
}

// Load resolves the value through fn unless already loaded.
func (l *Lazy[T]) Load(fn func() (T, error)) (T, error) {
	if l.loaded {
		return l.value, nil
	}
	v, err := fn()
	if err != nil {
		return v, err
	}
	l.value = v
	l.loaded = true
	return v, nil
}

// Reset clears the field back to unloaded.
func (l *Lazy[T]) Reset() {
	var zero T
	l.value = zero
	l.loaded = false
}
