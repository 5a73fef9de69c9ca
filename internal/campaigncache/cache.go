package campaigncache

import (
	"context"
	"sync"
	"time"

	"voltrewards/internal/models"
)

// Source loads active campaigns from the backing store.
type Source interface {
	ActiveCampaigns(ctx context.Context) ([]models.Campaign, error)
}

// Cache serves active campaigns with a bounded staleness window. It is purely
// a read-path optimization: budget safety comes from the store's atomic
// decrement, never from cache freshness. A grant attempt against a campaign
// that exhausted since the last reload simply fails the decrement.
type Cache struct {
	src Source
	ttl time.Duration

	mu        sync.Mutex
	campaigns []models.Campaign
	loadedAt  time.Time
	clock     func() time.Time
}

// New wraps src with reloads at most every ttl.
func New(src Source, ttl time.Duration) *Cache {
	return &Cache{
		src:   src,
		ttl:   ttl,
		clock: func() time.Time { return time.Now().UTC() },
	}
}

// ActiveCampaigns returns the cached set, reloading when it is older than the
// staleness bound.
func (c *Cache) ActiveCampaigns(ctx context.Context) ([]models.Campaign, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock()
	if c.loadedAt.IsZero() || now.Sub(c.loadedAt) >= c.ttl {
		campaigns, err := c.src.ActiveCampaigns(ctx)
		if err != nil {
			if c.loadedAt.IsZero() {
				return nil, err
			}
			// Serve the stale set rather than fail the evaluation.
			return c.snapshotLocked(), nil
		}
		c.campaigns = campaigns
		c.loadedAt = now
	}

	return c.snapshotLocked(), nil
}

// Invalidate drops the cached set so the next read reloads.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loadedAt = time.Time{}
	c.campaigns = nil
}

func (c *Cache) snapshotLocked() []models.Campaign {
	out := make([]models.Campaign, len(c.campaigns))
	copy(out, c.campaigns)
	return out
}
