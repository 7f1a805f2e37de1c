package orchestrator

import (
	"github.com/akolesov/promptdeck/internal/observer"
	"github.com/akolesov/promptdeck/internal/surface"
)

// registry tracks the live resources behind provider sessions. It is a cache
// over the store, owned by one Orchestrator and guarded by its mutex; never
// shared as ambient state.
type registry struct {
	surfaces  map[string]surface.Surface
	observers map[string]*observer.Observer
	scopes    map[string]string
	activeID  string
}

func newRegistry() *registry {
	return &registry{
		surfaces:  make(map[string]surface.Surface),
		observers: make(map[string]*observer.Observer),
		scopes:    make(map[string]string),
	}
}

// bind records a provider session's live resources.
func (r *registry) bind(id, scope string, surf surface.Surface, obs *observer.Observer) {
	r.surfaces[id] = surf
	r.observers[id] = obs
	r.scopes[id] = scope
}

// unbind forgets a session and clears the active pointer if it held it.
func (r *registry) unbind(id string) {
	delete(r.surfaces, id)
	delete(r.observers, id)
	delete(r.scopes, id)
	if r.activeID == id {
		r.activeID = ""
	}
}

// known reports whether the id has live resources.
func (r *registry) known(id string) bool {
	_, ok := r.surfaces[id]
	return ok
}

// ids returns a snapshot of every bound session id.
func (r *registry) ids() []string {
	out := make([]string, 0, len(r.surfaces))
	for id := range r.surfaces {
		out = append(out, id)
	}
	return out
}
