package routines

import (
	"context"
	"encoding/hex"
	"sync"

	"github.com/google/uuid"

	"routined/internal/registry"
	"routined/internal/routine"
	"routined/internal/trigger"
	logx "routined/pkg/logx"
)

// Errors surfaced to callers of the mutation API.
var (
	ErrNotFound      = registry.ErrNotFound
	ErrAmbiguousName = registry.ErrAmbiguousName
)

// Service is the mutation API: every add/activate/deactivate/edit/remove goes
// through here so registry, store, and trigger engine stay consistent.
//
// A single mutex serializes mutations. Routine counts are small (tens, not
// thousands), so a global lock is simpler than per-id serialization and rules
// out divergent armed state from concurrent edits of the same id.
type Service struct {
	log logx.Logger
	reg *registry.Registry
	eng *trigger.Engine

	mu sync.Mutex
}

func New(reg *registry.Registry, eng *trigger.Engine, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{log: log, reg: reg, eng: eng}
}

// Listing is a read-only snapshot for display.
type Listing struct {
	All      []routine.Routine
	Active   []routine.Routine
	Inactive []routine.Routine
}

// List returns a display snapshot of every routine, split by activation.
func (s *Service) List() Listing {
	return Listing{
		All:      s.reg.All(),
		Active:   s.reg.Active(),
		Inactive: s.reg.Inactive(),
	}
}

// Get returns the routine with the given id.
func (s *Service) Get(id string) (routine.Routine, error) {
	r, ok := s.reg.Get(id)
	if !ok {
		return routine.Routine{}, ErrNotFound
	}
	return r, nil
}

// Armed reports whether the routine currently has a pending trigger.
func (s *Service) Armed(id string) bool { return s.eng.Armed(id) }

// ArmedSnapshot lists pending triggers with their fire instants.
func (s *Service) ArmedSnapshot() []trigger.ArmedInfo { return s.eng.Snapshot() }

// Add validates the draft, assigns an id, persists the routine as active, and
// arms it immediately if it is eligible today.
func (s *Service) Add(ctx context.Context, d routine.Draft) (routine.Routine, error) {
	if err := routine.ValidateDraft(&d); err != nil {
		return routine.Routine{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r := routine.Routine{
		ID:          newID(),
		Name:        d.Name,
		Time:        d.Time,
		Days:        d.Days,
		Actions:     d.Actions,
		ActionDelay: d.ActionDelay,
		Active:      true,
	}
	if err := s.reg.Upsert(ctx, r); err != nil {
		return routine.Routine{}, err
	}
	s.eng.Arm(r)
	s.log.Info("routine added", logx.String("id", r.ID), logx.String("name", r.Name))
	return r.Clone(), nil
}

// Edit replaces the routine's fields wholesale (id and activation state are
// preserved) and, when active, disarms and re-arms so a changed time or day
// set takes effect immediately.
func (s *Service) Edit(ctx context.Context, id string, d routine.Draft) (routine.Routine, error) {
	if err := routine.ValidateDraft(&d); err != nil {
		return routine.Routine{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.reg.Get(id)
	if !ok {
		return routine.Routine{}, ErrNotFound
	}
	next := routine.Routine{
		ID:          cur.ID,
		Name:        d.Name,
		Time:        d.Time,
		Days:        d.Days,
		Actions:     d.Actions,
		ActionDelay: d.ActionDelay,
		Active:      cur.Active,
	}
	if err := s.reg.Upsert(ctx, next); err != nil {
		return routine.Routine{}, err
	}
	if next.Active {
		s.eng.Disarm(id)
		s.eng.Arm(next)
	}
	s.log.Info("routine edited", logx.String("id", id), logx.String("name", next.Name))
	return next.Clone(), nil
}

// Activate flips the routine into the active set and arms it.
func (s *Service) Activate(ctx context.Context, id string) error {
	return s.setActive(ctx, id, true)
}

// Deactivate flips the routine into the inactive set and disarms it. The id
// is guaranteed absent from the armed set afterward.
func (s *Service) Deactivate(ctx context.Context, id string) error {
	return s.setActive(ctx, id, false)
}

func (s *Service) setActive(ctx context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reg.Get(id)
	if !ok {
		return ErrNotFound
	}
	if r.Active != active {
		r.Active = active
		if err := s.reg.Upsert(ctx, r); err != nil {
			return err
		}
	}
	if active {
		s.eng.Arm(r)
		s.log.Info("routine activated", logx.String("id", id))
	} else {
		s.eng.Disarm(id)
		s.log.Info("routine deactivated", logx.String("id", id))
	}
	return nil
}

// Remove disarms and deletes the routine. ErrNotFound for unknown ids, so a
// repeated remove reports failure instead of crashing or silently succeeding.
func (s *Service) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.reg.Remove(ctx, id); err != nil {
		return err
	}
	s.eng.Forget(id)
	s.log.Info("routine removed", logx.String("id", id))
	return nil
}

// RemoveByName resolves a display name to exactly one routine and removes it.
// Duplicate names yield ErrAmbiguousName rather than deleting an arbitrary one.
func (s *Service) RemoveByName(ctx context.Context, name string) (string, error) {
	r, err := s.reg.ResolveName(name)
	if err != nil {
		return "", err
	}
	if err := s.Remove(ctx, r.ID); err != nil {
		return "", err
	}
	return r.ID, nil
}

// newID returns a fresh opaque routine id (a hex-flattened random UUID).
func newID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}
