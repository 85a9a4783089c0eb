package tools

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/promptgate/promptgate/internal/errors"
)

// Registry is the in-memory MCP service registry. All methods are safe
// for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]*Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]*Provider)}
}

// List returns all providers ordered by creation time. When enabledOnly
// is set, disabled providers are filtered out.
func (r *Registry) List(enabledOnly bool) []*Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Provider, 0, len(r.providers))
	for _, p := range r.providers {
		if enabledOnly && !p.Enabled {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Enabled returns every enabled provider.
func (r *Registry) Enabled() []*Provider {
	return r.List(true)
}

// Get returns the provider with the given id.
func (r *Registry) Get(id string) (*Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[id]
	if !ok {
		return nil, apperrors.New(apperrors.ErrCodeNotFound,
			fmt.Sprintf("service not found: %s", id), nil)
	}
	cp := *p
	return &cp, nil
}

// Add registers a new provider. The URL must not collide with an
// existing registration.
func (r *Registry) Add(p *Provider) (*Provider, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if id := r.findByURLLocked(p.URL, ""); id != "" {
		return nil, apperrors.New(apperrors.ErrCodeConflict,
			fmt.Sprintf("a service with url %s already exists", p.URL), nil)
	}

	now := time.Now().UTC()
	stored := *p
	stored.ID = uuid.NewString()
	if stored.Type == "" {
		stored.Type = ProviderTypeHTTP
	}
	stored.CreatedAt = now
	stored.LastUpdated = now
	r.providers[stored.ID] = &stored

	cp := stored
	return &cp, nil
}

// Update replaces the mutable fields of an existing provider.
func (r *Registry) Update(id string, p *Provider) (*Provider, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.providers[id]
	if !ok {
		return nil, apperrors.New(apperrors.ErrCodeNotFound,
			fmt.Sprintf("service not found: %s", id), nil)
	}
	if other := r.findByURLLocked(p.URL, id); other != "" {
		return nil, apperrors.New(apperrors.ErrCodeConflict,
			fmt.Sprintf("a service with url %s already exists", p.URL), nil)
	}

	existing.Name = p.Name
	existing.URL = p.URL
	existing.Description = p.Description
	if p.Type != "" {
		existing.Type = p.Type
	}
	existing.Enabled = p.Enabled
	existing.LastUpdated = time.Now().UTC()

	cp := *existing
	return &cp, nil
}

// Delete removes a provider.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.providers[id]; !ok {
		return apperrors.New(apperrors.ErrCodeNotFound,
			fmt.Sprintf("service not found: %s", id), nil)
	}
	delete(r.providers, id)
	return nil
}

// Toggle flips or sets the enabled state of a provider.
func (r *Registry) Toggle(id string, enabled bool) (*Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.providers[id]
	if !ok {
		return nil, apperrors.New(apperrors.ErrCodeNotFound,
			fmt.Sprintf("service not found: %s", id), nil)
	}
	p.Enabled = enabled
	p.LastUpdated = time.Now().UTC()

	cp := *p
	return &cp, nil
}

// BulkToggle sets the enabled state of every registered provider and
// returns how many were changed.
func (r *Registry) BulkToggle(enabled bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	changed := 0
	now := time.Now().UTC()
	for _, p := range r.providers {
		if p.Enabled != enabled {
			p.Enabled = enabled
			p.LastUpdated = now
			changed++
		}
	}
	return changed
}

// findByURLLocked returns the id of the provider registered at url,
// excluding excludeID. Caller must hold the lock.
func (r *Registry) findByURLLocked(url, excludeID string) string {
	for id, p := range r.providers {
		if id != excludeID && p.URL == url {
			return id
		}
	}
	return ""
}
