package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/p-n-ai/pai-mcq/internal/platform/cache"
)

const mirrorKeyPrefix = "mcq:job:"

// RedisMirror stores job views in Redis.
type RedisMirror struct {
	cache *cache.Cache
	ttl   time.Duration
}

// NewRedisMirror creates a mirror whose entries expire after ttl.
func NewRedisMirror(c *cache.Cache, ttl time.Duration) *RedisMirror {
	return &RedisMirror{cache: c, ttl: ttl}
}

func (m *RedisMirror) Save(ctx context.Context, v View) error {
	return m.cache.SetJSON(ctx, mirrorKeyPrefix+v.JobID, v, m.ttl)
}

func (m *RedisMirror) Load(ctx context.Context, id string) (View, error) {
	var v View
	if err := m.cache.GetJSON(ctx, mirrorKeyPrefix+id, &v); err != nil {
		if errors.Is(err, cache.ErrMiss) {
			return View{}, ErrNotFound
		}
		return View{}, err
	}
	return v, nil
}
