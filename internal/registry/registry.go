// Package registry holds the in-memory, authoritative state of the dashboard:
// the service collection, the capped log sink, the alert feed and the
// workflow history. Every write goes through these types so that timestamps,
// caps and write-through persistence stay in one place.
package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vesaa/healdash/internal/feed"
	"github.com/vesaa/healdash/internal/models"
)

// ServiceStore is the persistence the Registry writes through to.
type ServiceStore interface {
	SaveService(ctx context.Context, s *models.Service) error
	DeleteService(ctx context.Context, id string) error
}

// Registry owns the Service records for the process lifetime.
//
// Reads return copies. All writes run under one lock, including the
// write-through, so a simulator tick and a remediation patch on the same
// service are applied one after the other, never interleaved.
type Registry struct {
	mu    sync.Mutex
	order []string
	byID  map[string]*models.Service
	store ServiceStore
	pub   feed.Publisher
	now   func() time.Time
}

// New returns an empty registry. store and pub may be nil.
func New(store ServiceStore, pub feed.Publisher) *Registry {
	if pub == nil {
		pub = feed.Discard
	}
	return &Registry{
		byID:  make(map[string]*models.Service),
		store: store,
		pub:   pub,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// GetAll returns every service in registration order.
func (r *Registry) GetAll() []models.Service {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Service, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.byID[id])
	}
	return out
}

// ByClient returns the services owned by clientID in registration order.
func (r *Registry) ByClient(clientID string) []models.Service {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Service
	for _, id := range r.order {
		if s := r.byID[id]; s.ClientID == clientID {
			out = append(out, *s)
		}
	}
	return out
}

// Get returns a copy of one service.
func (r *Registry) Get(id string) (models.Service, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return models.Service{}, false
	}
	return *s, true
}

// UpsertMany replaces the whole collection with services, keeping their order.
// Services of the previous collection that are absent from services are
// deleted from the store as well.
func (r *Registry) UpsertMany(ctx context.Context, services []models.Service) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.byID
	r.order = r.order[:0]
	r.byID = make(map[string]*models.Service, len(services))
	for i := range services {
		s := services[i]
		if _, dup := r.byID[s.ID]; !dup {
			r.order = append(r.order, s.ID)
		}
		r.byID[s.ID] = &s
		r.persist(ctx, &s)
	}
	if r.store == nil {
		return
	}
	for id := range prev {
		if _, kept := r.byID[id]; kept {
			continue
		}
		if err := r.store.DeleteService(ctx, id); err != nil {
			slog.Warn("service delete not persisted", "component", "registry", "service_id", id, "error", err)
		}
	}
}

// Add inserts s, or replaces the service with the same id in place.
func (r *Registry) Add(ctx context.Context, s models.Service) models.Service {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	if _, ok := r.byID[s.ID]; !ok {
		r.order = append(r.order, s.ID)
	}
	r.byID[s.ID] = &s
	r.persist(ctx, &s)
	r.pub.Publish(feed.KindService, s)
	return s
}

// Patch merges p into the service and stamps UpdatedAt. An unknown id is a
// no-op reported through the bool, not an error: ticks may race with deletion.
func (r *Registry) Patch(ctx context.Context, id string, p models.ServicePatch) (models.Service, bool) {
	return r.Mutate(ctx, id, p.Apply)
}

// Mutate runs fn on the stored service under the registry lock, so fn may
// read the current values and derive new ones atomically.
func (r *Registry) Mutate(ctx context.Context, id string, fn func(*models.Service)) (models.Service, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return models.Service{}, false
	}
	fn(s)
	s.ID = id
	s.UpdatedAt = r.now()
	r.persist(ctx, s)
	out := *s
	r.pub.Publish(feed.KindService, out)
	return out, true
}

// Remove deletes a service. It reports whether the id was known.
func (r *Registry) Remove(ctx context.Context, id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return false
	}
	delete(r.byID, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	if r.store != nil {
		if err := r.store.DeleteService(ctx, id); err != nil {
			slog.Warn("service delete not persisted", "component", "registry", "service_id", id, "error", err)
		}
	}
	return true
}

// Len reports the number of services.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// persist writes s through; failures are logged and otherwise ignored.
// Callers hold r.mu.
func (r *Registry) persist(ctx context.Context, s *models.Service) {
	if r.store == nil {
		return
	}
	cp := *s
	if err := r.store.SaveService(ctx, &cp); err != nil {
		slog.Warn("service write not persisted", "component", "registry", "service_id", s.ID, "error", err)
	}
}
