package testcase

import (
	"sync"

	"github.com/pkg/errors"
)

// Share holds values handed from one phase or worker to another within a
// single test. It is safe for concurrent use.
type Share struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewShare returns an empty store.
func NewShare() *Share {
	return &Share{values: make(map[string]any)}
}

// Put stores value under key, replacing any previous value.
func (s *Share) Put(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

// Delete removes key.
func (s *Share) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
}

// Len returns the number of stored values.
func (s *Share) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// Load returns the value stored under key as a T.
func Load[T any](s *Share, key string) (T, error) {
	var zero T
	s.mu.RLock()
	value, ok := s.values[key]
	s.mu.RUnlock()
	if !ok {
		return zero, errors.Errorf("share: no value for %q", key)
	}
	typed, ok := value.(T)
	if !ok {
		return zero, errors.Errorf("share: value for %q is %T, not %T", key, value, zero)
	}
	return typed, nil
}

// Update applies fn to the value under key atomically. A missing key is
// passed to fn as the zero T.
func Update[T any](s *Share, key string, fn func(T) T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var current T
	if value, ok := s.values[key]; ok {
		typed, ok := value.(T)
		if !ok {
			return errors.Errorf("share: value for %q is %T, not %T", key, value, current)
		}
		current = typed
	}
	s.values[key] = fn(current)
	return nil
}
