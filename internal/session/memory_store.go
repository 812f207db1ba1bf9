package session

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// MemoryStore keeps refresh sessions in process. Sessions do not survive a
// restart and are not shared between instances.
type MemoryStore struct {
	cache *cache.Cache
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cache: cache.New(defaultTTL, 10*time.Minute)}
}

func (s *MemoryStore) SaveRefreshSession(ctx context.Context, tokenHash string, data Data, expiresAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if data.CreatedAt.IsZero() {
		data.CreatedAt = time.Now().UTC()
	}
	s.cache.Set(tokenHash, data, ttlUntil(expiresAt))
	return nil
}

func (s *MemoryStore) LookupRefreshSession(ctx context.Context, tokenHash string) (Data, error) {
	if err := ctx.Err(); err != nil {
		return Data{}, err
	}
	value, found := s.cache.Get(tokenHash)
	if !found {
		return Data{}, ErrNotFound
	}
	return value.(Data), nil
}

func (s *MemoryStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.cache.Delete(tokenHash)
	return nil
}
