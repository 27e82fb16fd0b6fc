package classloader

import (
	"context"
	"sync"
)

// Stack tracks the loader in effect for the current operation. Every
// Push must be paired with a call to the returned release function.
//
// A Stack is shared by every goroutine using it, so Current is only
// meaningful while the caller serialises the operations that push, as
// the plugin manager does with its operation lock. Code that may run
// concurrently should resolve the loader with FromContext instead.
type Stack struct {
	mu     sync.Mutex
	frames []frame
	nextID uint64
}

type frame struct {
	id     uint64
	loader Loader
}

// Push makes l current until release is called. Calling release more
// than once has no effect.
func (s *Stack) Push(l Loader) (release func()) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.frames = append(s.frames, frame{id: id, loader: l})
	s.mu.Unlock()

	return sync.OnceFunc(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i := len(s.frames) - 1; i >= 0; i-- {
			if s.frames[i].id == id {
				s.frames = append(s.frames[:i], s.frames[i+1:]...)
				return
			}
		}
	})
}

// Current returns the innermost pushed loader, or nil.
func (s *Stack) Current() Loader {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return nil
	}
	return s.frames[len(s.frames)-1].loader
}

// Depth returns the number of pushed loaders.
func (s *Stack) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

type loaderKey struct{}

// WithLoader returns a context carrying l as the current loader.
func WithLoader(ctx context.Context, l Loader) context.Context {
	return context.WithValue(ctx, loaderKey{}, l)
}

// FromContext returns the loader stored by WithLoader.
func FromContext(ctx context.Context) (Loader, bool) {
	l, ok := ctx.Value(loaderKey{}).(Loader)
	return l, ok && l != nil
}
