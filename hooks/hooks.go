// Package hooks provides a hook registration and execution system with
// priority support. A failing or panicking hook never stops the others.
package hooks

import (
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"slices"
	"sync"

	"go.uber.org/zap"
)

// Hook defines a generic hook function that returns an error if it fails
type Hook[T any] func(event T) error

// HookInfo stores information about a registered hook including its priority
type HookInfo[T any] struct {
	Name     string  // Name of the hook, used in logs and errors
	Hook     Hook[T] // The hook function itself
	Priority int64   // Priority value (lower values run first, like Unix nice)
}

// Registry manages hook registration and execution for one event type
type Registry[T any] struct {
	log *zap.Logger

	mu    sync.RWMutex
	hooks []HookInfo[T]
}

// NewRegistry creates an empty registry. log may be nil.
func NewRegistry[T any](log *zap.Logger) *Registry[T] {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry[T]{log: log}
}

// Register adds a hook with the default priority (0), named after its function.
func (r *Registry[T]) Register(hook Hook[T]) {
	r.RegisterWithPriority(hook, 0)
}

// RegisterWithPriority adds a hook named after its function.
// Hooks with lower priority values run first.
func (r *Registry[T]) RegisterWithPriority(hook Hook[T], priority int64) {
	r.RegisterNamed(FuncName(hook), hook, priority)
}

// FuncName returns the qualified name of the function fn.
func FuncName(fn any) string {
	return runtime.FuncForPC(reflect.ValueOf(fn).Pointer()).Name()
}

// RegisterNamed adds a hook under an explicit name.
func (r *Registry[T]) RegisterNamed(name string, hook Hook[T], priority int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.hooks = append(r.hooks, HookInfo[T]{
		Name:     name,
		Hook:     hook,
		Priority: priority,
	})
	// Stable, so equal priorities keep registration order.
	slices.SortStableFunc(r.hooks, func(a, b HookInfo[T]) int {
		switch {
		case a.Priority < b.Priority:
			return -1
		case a.Priority > b.Priority:
			return 1
		}
		return 0
	})
}

// RunHooks executes every hook in priority order. A panic is recovered and
// reported as an error of that hook. It returns the joined errors, or nil.
func (r *Registry[T]) RunHooks(event T) error {
	r.mu.RLock()
	hooks := slices.Clone(r.hooks)
	r.mu.RUnlock()

	var errs []error
	for _, info := range hooks {
		if err := r.run(info, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry[T]) run(info HookInfo[T], event T) (err error) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("panic in hook", zap.String("hook", info.Name), zap.Any("panic", p))
			err = fmt.Errorf("panic in hook %s: %v", info.Name, p)
		}
	}()

	if err := info.Hook(event); err != nil {
		r.log.Warn("hook failed", zap.String("hook", info.Name), zap.Error(err))
		return fmt.Errorf("hook %s: %w", info.Name, err)
	}
	return nil
}
