// Package discover maps names to implementations of a capability.
//
// Implementations register themselves from init functions. The first
// Discover (or Lookup) freezes the table; after that it is read without
// locking. Override replaces a single entry and exists for tests.
package discover

import (
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/dgnsrekt/pagerun/internal/faults"
)

// Registry is the name to factory table for one capability kind.
type Registry[F any] struct {
	kind string

	mu         sync.Mutex
	registered map[string]F

	once   sync.Once
	frozen map[string]F
	scans  atomic.Int32

	overrides atomic.Pointer[map[string]F]
}

func New[F any](kind string) *Registry[F] {
	return &Registry[F]{kind: kind, registered: make(map[string]F)}
}

// Kind names the capability, e.g. "actions".
func (r *Registry[F]) Kind() string { return r.kind }

// Register adds an implementation. It panics on an empty or duplicate name or
// when called after the table was frozen.
func (r *Registry[F]) Register(name string, f F) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if name == "" {
		panic(fmt.Sprintf("discover: %s: empty name", r.kind))
	}
	if r.frozen != nil {
		panic(fmt.Sprintf("discover: %s: register %q after discovery", r.kind, name))
	}
	if _, dup := r.registered[name]; dup {
		panic(fmt.Sprintf("discover: %s: duplicate name %q", r.kind, name))
	}
	r.registered[name] = f
}

// Discover returns the name to factory mapping, including overrides. The
// table is built once per process; later calls reuse it.
func (r *Registry[F]) Discover() map[string]F {
	r.once.Do(func() {
		r.mu.Lock()
		r.frozen = maps.Clone(r.registered)
		r.mu.Unlock()
		r.scans.Add(1)
	})
	out := maps.Clone(r.frozen)
	if ov := r.overrides.Load(); ov != nil {
		maps.Copy(out, *ov)
	}
	return out
}

// Lookup returns the implementation registered as name.
func (r *Registry[F]) Lookup(name string) (F, error) {
	if ov := r.overrides.Load(); ov != nil {
		if f, ok := (*ov)[name]; ok {
			return f, nil
		}
	}
	r.Discover()
	f, ok := r.frozen[name]
	if !ok {
		var zero F
		return zero, faults.NotFound(fmt.Sprintf("no %s named %q", r.kind, name))
	}
	return f, nil
}

// Names returns the registered names, sorted.
func (r *Registry[F]) Names() []string {
	return slices.Sorted(maps.Keys(r.Discover()))
}

// Override makes name resolve to f until restore is called. For tests.
func (r *Registry[F]) Override(name string, f F) (restore func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.overrides.Load()
	next := make(map[string]F)
	if prev != nil {
		maps.Copy(next, *prev)
	}
	next[name] = f
	r.overrides.Store(&next)

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		cur := r.overrides.Load()
		if cur == nil {
			return
		}
		restored := maps.Clone(*cur)
		delete(restored, name)
		if prev != nil {
			if f, ok := (*prev)[name]; ok {
				restored[name] = f
			}
		}
		r.overrides.Store(&restored)
	}
}
