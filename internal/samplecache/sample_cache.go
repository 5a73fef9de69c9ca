package samplecache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"voltrewards/internal/telemetry"
)

// Store caches the last ChargeSample per vehicle in redis. The TTL is the
// polling debounce window: while an entry is live, callers short-circuit to
// the cached sample instead of hitting the upstream provider again.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStore returns a redis-backed sample cache.
func NewStore(client *redis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

func (s *Store) key(vehicleID string) string {
	return fmt.Sprintf("telemetry:last:%s", vehicleID)
}

// Save caches the sample for the debounce window.
func (s *Store) Save(ctx context.Context, sample telemetry.ChargeSample) error {
	data, err := json.Marshal(sample)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(sample.VehicleID), data, s.ttl).Err()
}

// Get returns the cached sample, or ok=false when none is live.
func (s *Store) Get(ctx context.Context, vehicleID string) (telemetry.ChargeSample, bool, error) {
	result, err := s.client.Get(ctx, s.key(vehicleID)).Result()
	if err == redis.Nil {
		return telemetry.ChargeSample{}, false, nil
	}
	if err != nil {
		return telemetry.ChargeSample{}, false, err
	}
	var sample telemetry.ChargeSample
	if err := json.Unmarshal([]byte(result), &sample); err != nil {
		return telemetry.ChargeSample{}, false, err
	}
	return sample, true, nil
}
