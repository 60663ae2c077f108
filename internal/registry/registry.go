package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"routined/internal/routine"
	"routined/internal/storage"
	logx "routined/pkg/logx"
)

var (
	ErrNotFound      = errors.New("routine not found")
	ErrAmbiguousName = errors.New("routine name is ambiguous")
)

// Registry is the in-memory authoritative view of all routines, backed by the
// durable store. Mutations persist the full collection before the in-memory
// map is touched, so a store failure leaves both sides unchanged and the two
// can never disagree once a call returns.
type Registry struct {
	log   logx.Logger
	store storage.Store

	mu       sync.RWMutex
	routines map[string]routine.Routine
}

// Load builds a registry from the store's current contents.
func Load(ctx context.Context, store storage.Store, log logx.Logger) (*Registry, error) {
	if store == nil {
		return nil, storage.ErrDisabled
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	all, err := store.LoadRoutines(ctx)
	if err != nil {
		return nil, fmt.Errorf("load routines: %w", err)
	}
	m := make(map[string]routine.Routine, len(all))
	for _, r := range all {
		m[r.ID] = r
	}
	log.Info("registry loaded", logx.Int("routines", len(m)))
	return &Registry{log: log, store: store, routines: m}, nil
}

func (g *Registry) Get(id string) (routine.Routine, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.routines[id]
	if !ok {
		return routine.Routine{}, false
	}
	return r.Clone(), true
}

// ResolveName finds the routine with the given display name. Duplicate names
// are an explicit error rather than a silent first match.
func (g *Registry) ResolveName(name string) (routine.Routine, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var (
		found routine.Routine
		n     int
	)
	for _, r := range g.routines {
		if r.Name == name {
			found = r
			n++
		}
	}
	switch n {
	case 0:
		return routine.Routine{}, ErrNotFound
	case 1:
		return found.Clone(), nil
	default:
		return routine.Routine{}, fmt.Errorf("%w: %d routines named %q", ErrAmbiguousName, n, name)
	}
}

// All returns a snapshot of every routine, sorted by name then id for stable
// display.
func (g *Registry) All() []routine.Routine {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.snapshotLocked(func(routine.Routine) bool { return true })
}

// Active returns the routines currently participating in scheduling.
func (g *Registry) Active() []routine.Routine {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.snapshotLocked(func(r routine.Routine) bool { return r.Active })
}

// Inactive returns the routines excluded from scheduling.
func (g *Registry) Inactive() []routine.Routine {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.snapshotLocked(func(r routine.Routine) bool { return !r.Active })
}

func (g *Registry) snapshotLocked(keep func(routine.Routine) bool) []routine.Routine {
	out := make([]routine.Routine, 0, len(g.routines))
	for _, r := range g.routines {
		if keep(r) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Upsert inserts or replaces a routine and persists the result.
func (g *Registry) Upsert(ctx context.Context, r routine.Routine) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	next := g.copyLocked()
	next[r.ID] = r.Clone()
	if err := g.persistLocked(ctx, next); err != nil {
		return err
	}
	g.routines = next
	return nil
}

// Remove deletes a routine and persists the result. ErrNotFound for unknown ids.
func (g *Registry) Remove(ctx context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.routines[id]; !ok {
		return ErrNotFound
	}
	next := g.copyLocked()
	delete(next, id)
	if err := g.persistLocked(ctx, next); err != nil {
		return err
	}
	g.routines = next
	return nil
}

func (g *Registry) copyLocked() map[string]routine.Routine {
	next := make(map[string]routine.Routine, len(g.routines)+1)
	for id, r := range g.routines {
		next[id] = r
	}
	return next
}

func (g *Registry) persistLocked(ctx context.Context, m map[string]routine.Routine) error {
	all := make([]routine.Routine, 0, len(m))
	for _, r := range m {
		all = append(all, r)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	if err := g.store.SaveRoutines(ctx, all); err != nil {
		return fmt.Errorf("persist routines: %w", err)
	}
	return nil
}
