package executor

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

// Workers holds one instance per concurrent worker, addressed by index.
type Workers[T any] struct {
	items []T
}

// NewWorkers builds n instances with build(i).
func NewWorkers[T any](n int, build func(i int) (T, error)) (*Workers[T], error) {
	w := &Workers[T]{items: make([]T, 0, n)}
	for i := 0; i < n; i++ {
		item, err := build(i)
		if err != nil {
			return nil, errors.Wrapf(err, "build worker %d", i)
		}
		w.items = append(w.items, item)
	}
	return w, nil
}

// Len returns the number of instances.
func (w *Workers[T]) Len() int { return len(w.items) }

// At returns the instance at index i.
func (w *Workers[T]) At(i int) T { return w.items[i] }

// All returns the instances in index order.
func (w *Workers[T]) All() []T {
	out := make([]T, len(w.items))
	copy(out, w.items)
	return out
}

// FanOut registers fn once per instance on e, naming each worker name-i.
func FanOut[T any](e *Executor, name string, w *Workers[T], fn func(ctx context.Context, i int, item T) error) error {
	for i, item := range w.items {
		if err := e.AppendThreadByFunc(func(ctx context.Context) error {
			return fn(ctx, i, item)
		}, fmt.Sprintf("%s-%d", name, i)); err != nil {
			return err
		}
	}
	return nil
}
