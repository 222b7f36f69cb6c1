package geo

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// FixCache keeps each client's last good fix until it exceeds the maximum age.
type FixCache struct {
	cache  *gocache.Cache
	maxAge time.Duration
}

func NewFixCache(maxAge time.Duration) *FixCache {
	// No janitor: expired fixes are dropped lazily on read.
	return &FixCache{
		cache:  gocache.New(maxAge, 0),
		maxAge: maxAge,
	}
}

// Put stores fix for key. Invalid fixes are ignored, and a timestamp in the
// future is clamped to now so the fix never outlives the maximum age.
func (c *FixCache) Put(key string, fix Fix) {
	if !fix.Location.InRange() || !fix.Location.Valid() {
		return
	}
	now := time.Now()
	if fix.Timestamp.IsZero() || fix.Timestamp.After(now) {
		fix.Timestamp = now
	}
	ttl := c.maxAge - now.Sub(fix.Timestamp)
	if ttl <= 0 {
		return
	}
	c.cache.Set(key, fix, ttl)
}

func (c *FixCache) Get(key string) (Fix, bool) {
	v, ok := c.cache.Get(key)
	if !ok {
		return Fix{}, false
	}
	return v.(Fix), true
}

// For serves key's cached fix, honouring the caller's maximum age.
func (c *FixCache) For(key string) Locator {
	return LocatorFunc(func(ctx context.Context, opts Options) (Fix, error) {
		fix, ok := c.Get(key)
		if !ok {
			return Fix{}, fmt.Errorf("%w: no cached fix", ErrUnavailable)
		}
		if err := checkFix(fix, opts, time.Now()); err != nil {
			return Fix{}, err
		}
		return fix, nil
	})
}

// Remember wraps l so its successful fixes are cached under key.
func (c *FixCache) Remember(key string, l Locator) Locator {
	return LocatorFunc(func(ctx context.Context, opts Options) (Fix, error) {
		fix, err := l.Locate(ctx, opts)
		if err == nil {
			c.Put(key, fix)
		}
		return fix, err
	})
}
