// Package session stores refresh sessions keyed by the hash of the opaque
// refresh token handed to the client.
package session

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("session not found or expired")

// Data is what a refresh token resolves to.
type Data struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

type Store interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, data Data, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (Data, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

const defaultTTL = 30 * 24 * time.Hour

func ttlUntil(expiresAt time.Time) time.Duration {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return defaultTTL
	}
	return ttl
}
