package memory

import (
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

// SessionOwnerRepository remembers which user owns a session so stream
// subscriptions and uploads can skip the database on repeat checks.
type SessionOwnerRepository struct {
	cache *cache.Cache
}

func NewSessionOwnerRepository(ttl time.Duration) *SessionOwnerRepository {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &SessionOwnerRepository{
		cache: cache.New(ttl, 2*ttl),
	}
}

func (r *SessionOwnerRepository) Save(sessionID, userID uuid.UUID) {
	r.cache.Set(sessionID.String(), userID, cache.DefaultExpiration)
}

func (r *SessionOwnerRepository) Get(sessionID uuid.UUID) (uuid.UUID, bool) {
	if x, found := r.cache.Get(sessionID.String()); found {
		return x.(uuid.UUID), true
	}
	return uuid.Nil, false
}

func (r *SessionOwnerRepository) Delete(sessionID uuid.UUID) {
	r.cache.Delete(sessionID.String())
}
