// Package profile provides a read-through cache over user profile rows.
//
// The conversational core only ever reads profiles; writes happen on the
// external profile-management surface, which must call Invalidate.
package profile

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/iqcalorie/caloriebot/internal/cache"
	"github.com/iqcalorie/caloriebot/internal/models"
)

// cacheKeyPrefix namespaces profile entries in the shared KV.
const cacheKeyPrefix = "profile:"

// Store is the narrow profile read interface the cache requires.
type Store interface {
	GetProfile(phone string) (*models.UserProfile, error)
}

// Cache is a read-through profile cache with a multi-hour TTL.
// Eventual consistency is acceptable: at worst one turn sees a stale profile
// after an external update.
type Cache struct {
	store Store
	kv    cache.KV
	ttl   time.Duration
}

// NewCache creates a profile cache over the given store and KV.
func NewCache(store Store, kv cache.KV) *Cache {
	return &Cache{store: store, kv: kv, ttl: models.ProfileCacheTTL}
}

// Get returns the profile for a phone, or nil when the sender is unknown or
// the backing store is unavailable. A nil profile means "unauthorized"
// upstream, so store failures degrade to rejection rather than an error.
func (c *Cache) Get(ctx context.Context, phone string) *models.UserProfile {
	if phone == "" {
		return nil
	}

	if raw, ok, err := c.kv.Get(ctx, cacheKeyPrefix+phone); err != nil {
		slog.Warn("ProfileCache get failed, falling through to store", "error", err, "phone", phone)
	} else if ok {
		var p models.UserProfile
		if err := json.Unmarshal([]byte(raw), &p); err == nil {
			slog.Debug("ProfileCache hit", "phone", phone)
			return &p
		}
		slog.Warn("ProfileCache entry corrupt, invalidating", "phone", phone)
		if err := c.kv.Delete(ctx, cacheKeyPrefix+phone); err != nil {
			slog.Warn("ProfileCache invalidate failed", "error", err, "phone", phone)
		}
	}

	p, err := c.store.GetProfile(phone)
	if err != nil {
		slog.Error("ProfileCache store load failed", "error", err, "phone", phone)
		return nil
	}
	if p == nil {
		slog.Debug("ProfileCache no profile for phone", "phone", phone)
		return nil
	}

	if raw, err := json.Marshal(p); err == nil {
		if err := c.kv.Set(ctx, cacheKeyPrefix+phone, string(raw), c.ttl); err != nil {
			slog.Warn("ProfileCache populate failed", "error", err, "phone", phone)
		}
	}
	slog.Debug("ProfileCache populated from store", "phone", phone)
	return p
}

// Invalidate drops the cached entry for a phone. Called by any external
// profile-write path.
func (c *Cache) Invalidate(ctx context.Context, phone string) {
	if err := c.kv.Delete(ctx, cacheKeyPrefix+phone); err != nil {
		slog.Warn("ProfileCache invalidate failed", "error", err, "phone", phone)
	}
}
