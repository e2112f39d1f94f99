package component

import (
	"sort"
	"sync"
)

// Registry is the keyed container of every component the status pipeline
// has discovered. It is the sole owner of component instances; callers
// only ever hold URIs and look components up through it.
//
// Mutation is confined to the status pipeline; once Wire returns, the
// planner and executor treat a Registry as read-only and no further
// locking is required. The mutex below exists because the status pipeline
// itself fans probes out across goroutines that all insert into the same
// registry concurrently.
type Registry struct {
	mu         sync.RWMutex
	components map[string]Component
}

func NewRegistry() *Registry {
	return &Registry{components: map[string]Component{}}
}

// Set registers c under its own URI.
func (r *Registry) Set(c Component) {
	r.SetAt(c.URI(), c)
}

// SetAt registers c under an explicit key, used to index an Artefact under
// both its versioned URI and its revision-alias URI.
func (r *Registry) SetAt(key string, c Component) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.components[key] = c
}

// Get is the strict-mode lookup: unknown keys return ok=false.
func (r *Registry) Get(key string) (Component, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.components[key]
	return c, ok
}

// Delete removes a key, used when a MissingComponent is superseded by a
// freshly probed Host or a ReadonlyService.
func (r *Registry) Delete(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.components, key)
}

// All returns every registered component, in deterministic URI order. A
// component indexed under more than one key (an Artefact under both its
// versioned and revision-alias URIs) appears once.
func (r *Registry) All() []Component {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool, len(r.components))
	out := make([]Component, 0, len(r.components))
	for _, c := range r.components {
		if seen[c.URI()] {
			continue
		}
		seen[c.URI()] = true
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URI() < out[j].URI() })
	return out
}

// ByKind filters All() to components of the given kind.
func (r *Registry) ByKind(kind Kind) []Component {
	var out []Component
	for _, c := range r.All() {
		if c.Kind() == kind {
			out = append(out, c)
		}
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.components)
}

// WiringView is the auto-fill lookup surface the wiring phase uses.
// Insert-on-missing-lookup is a wiring-time construct, not a permanent
// mode on the registry; WireBegin hands out a view scoped to that one
// phase, and WireEnd releases it.
type WiringView struct {
	registry *Registry
}

// WireBegin returns a view that materializes MissingComponent placeholders
// on lookup misses.
func (r *Registry) WireBegin() *WiringView {
	return &WiringView{registry: r}
}

// Get resolves key, materializing and registering a MissingComponent if it
// isn't already present.
func (v *WiringView) Get(key string) (Component, error) {
	if c, ok := v.registry.Get(key); ok {
		return c, nil
	}
	m, err := NewMissingComponent(key)
	if err != nil {
		return nil, err
	}
	v.registry.Set(m)
	return m, nil
}

// WireEnd releases the view. There is no global flag to reset — the view
// itself was the only thing capable of auto-filling, and it goes out of
// scope here — kept as an explicit call so wiring code reads as the
// two-phase protocol the design notes describe.
func (v *WiringView) WireEnd() {}

// Wire runs the dependency-resolution phase in full: resolves every
// declared need against the registry (materializing placeholders via a
// WiringView), records the reverse needed_by edge, rewrites each
// component's needs to carry the resolved canonical URI, takes the needed_by
// closure, and computes dependency scores.
func Wire(r *Registry) error {
	view := r.WireBegin()
	defer view.WireEnd()

	for _, c := range r.All() {
		resolved := map[string]struct{}{}
		for needed := range c.Needs() {
			target, err := view.Get(needed)
			if err != nil {
				return err
			}
			target.AddNeededBy(c.URI())
			resolved[target.URI()] = struct{}{}
		}
		c.ReplaceNeeds(resolved)
	}

	// Closure: union each component's outgoing needs with the URIs of
	// anything that lists it in needed_by.
	for _, c := range r.All() {
		for dependent := range c.NeededBy() {
			dependentComponent, ok := r.Get(dependent)
			if !ok {
				continue
			}
			dependentComponent.AddNeed(c.URI())
		}
	}

	ComputeDependencyScores(r)
	return nil
}
