package campaigncache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"voltrewards/internal/models"
)

type countingSource struct {
	campaigns []models.Campaign
	err       error
	loads     int
}

func (s *countingSource) ActiveCampaigns(ctx context.Context) ([]models.Campaign, error) {
	s.loads++
	if s.err != nil {
		return nil, s.err
	}
	return s.campaigns, nil
}

func TestCacheServesWithinTTLWithoutReload(t *testing.T) {
	ctx := context.Background()
	src := &countingSource{campaigns: []models.Campaign{{ID: 1}}}
	cache := New(src, 30*time.Second)

	base := time.Now().UTC()
	cache.clock = func() time.Time { return base }

	campaigns, err := cache.ActiveCampaigns(ctx)
	require.NoError(t, err)
	require.Len(t, campaigns, 1)
	require.Equal(t, 1, src.loads)

	cache.clock = func() time.Time { return base.Add(10 * time.Second) }
	_, err = cache.ActiveCampaigns(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, src.loads, "fresh set served without a reload")
}

func TestCacheReloadsPastStalenessBound(t *testing.T) {
	ctx := context.Background()
	src := &countingSource{campaigns: []models.Campaign{{ID: 1}}}
	cache := New(src, 30*time.Second)

	base := time.Now().UTC()
	cache.clock = func() time.Time { return base }
	_, err := cache.ActiveCampaigns(ctx)
	require.NoError(t, err)

	src.campaigns = []models.Campaign{{ID: 1}, {ID: 2}}
	cache.clock = func() time.Time { return base.Add(31 * time.Second) }

	campaigns, err := cache.ActiveCampaigns(ctx)
	require.NoError(t, err)
	require.Len(t, campaigns, 2)
	require.Equal(t, 2, src.loads)
}

func TestCacheServesStaleSetOnReloadFailure(t *testing.T) {
	ctx := context.Background()
	src := &countingSource{campaigns: []models.Campaign{{ID: 1}}}
	cache := New(src, 30*time.Second)

	base := time.Now().UTC()
	cache.clock = func() time.Time { return base }
	_, err := cache.ActiveCampaigns(ctx)
	require.NoError(t, err)

	src.err = errors.New("db down")
	cache.clock = func() time.Time { return base.Add(time.Minute) }

	campaigns, err := cache.ActiveCampaigns(ctx)
	require.NoError(t, err)
	require.Len(t, campaigns, 1, "stale set beats a failed evaluation")
}

func TestCacheFirstLoadFailurePropagates(t *testing.T) {
	src := &countingSource{err: errors.New("db down")}
	cache := New(src, 30*time.Second)

	_, err := cache.ActiveCampaigns(context.Background())
	require.Error(t, err)
}

func TestCacheInvalidateForcesReload(t *testing.T) {
	ctx := context.Background()
	src := &countingSource{campaigns: []models.Campaign{{ID: 1}}}
	cache := New(src, time.Hour)

	_, err := cache.ActiveCampaigns(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, src.loads)

	cache.Invalidate()

	_, err = cache.ActiveCampaigns(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, src.loads)
}
