package exchange

import (
	"strconv"
	"time"

	"github.com/xtrntr/venue/internal/models"
)

// Registry maps identities to users. Identities are decimal ordinals handed
// out in registration order. Users are never removed.
type Registry struct {
	users map[string]*models.User
	byAge []*models.User
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{users: make(map[string]*models.User)}
}

// Add creates a user with a fresh identity. The caller opens its balance.
func (r *Registry) Add(name string, now time.Time) *models.User {
	u := &models.User{
		ID:        strconv.Itoa(len(r.byAge)),
		Name:      name,
		Orders:    make(map[uint64]*models.Order),
		CreatedAt: now,
	}
	r.users[u.ID] = u
	r.byAge = append(r.byAge, u)
	return u
}

// Lookup resolves an identity
func (r *Registry) Lookup(id string) (*models.User, bool) {
	u, ok := r.users[id]
	return u, ok
}

// LookupByName returns the earliest registered user with the given name.
func (r *Registry) LookupByName(name string) (*models.User, bool) {
	for _, u := range r.byAge {
		if u.Name == name {
			return u, true
		}
	}
	return nil, false
}

// Len returns the number of registered users.
func (r *Registry) Len() int {
	return len(r.byAge)
}
