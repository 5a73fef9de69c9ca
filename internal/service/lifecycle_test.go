package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"voltrewards/internal/models"
	"voltrewards/internal/store"
	"voltrewards/internal/telemetry"
)

// queuedAdapter pops one scripted poll outcome per call.
type queuedAdapter struct {
	samples []telemetry.ChargeSample
	errs    []error
	calls   int
}

func (a *queuedAdapter) Poll(ctx context.Context, ref telemetry.VehicleRef) (telemetry.ChargeSample, error) {
	i := a.calls
	a.calls++
	if i >= len(a.samples) {
		i = len(a.samples) - 1
	}
	return a.samples[i], a.errs[i]
}

// mapSampleCache is an in-process stand-in for the Redis sample cache.
type mapSampleCache struct {
	samples map[string]telemetry.ChargeSample
}

func newMapSampleCache() *mapSampleCache {
	return &mapSampleCache{samples: map[string]telemetry.ChargeSample{}}
}

func (c *mapSampleCache) Save(ctx context.Context, sample telemetry.ChargeSample) error {
	c.samples[sample.VehicleID] = sample
	return nil
}

func (c *mapSampleCache) Get(ctx context.Context, vehicleID string) (telemetry.ChargeSample, bool, error) {
	sample, ok := c.samples[vehicleID]
	return sample, ok, nil
}

// recordingMatcher captures evaluation passes without granting.
type recordingMatcher struct {
	sessionIDs []int64
}

func (m *recordingMatcher) EvaluateSession(ctx context.Context, session *models.SessionEvent) ([]models.IncentiveGrant, error) {
	m.sessionIDs = append(m.sessionIDs, session.ID)
	return nil, nil
}

func chargingSample(vehicleID string, energy float64, at time.Time) telemetry.ChargeSample {
	return telemetry.ChargeSample{
		VehicleID:      vehicleID,
		Charging:       true,
		Definitive:     true,
		BatteryPercent: 40,
		EnergyAddedKWh: energy,
		PowerKW:        50,
		SampledAt:      at,
	}
}

func stoppedSample(vehicleID string, at time.Time) telemetry.ChargeSample {
	return telemetry.ChargeSample{
		VehicleID:  vehicleID,
		Charging:   false,
		Definitive: true,
		SampledAt:  at,
	}
}

func newLifecycle(mem *store.Memory, adapter telemetry.Adapter, samples SampleCache, matcher Matcher) *LifecycleService {
	return NewLifecycleService(mem, mem, mem, adapter, samples, matcher,
		LifecycleConfig{ChargerRadiusMeters: 500, StaleAfter: 15 * time.Minute},
		zap.NewNop(),
	)
}

func TestAdvanceSessionOpenUpdateClose(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	start := time.Now().UTC().Add(-20 * time.Minute)
	adapter := &queuedAdapter{
		samples: []telemetry.ChargeSample{
			chargingSample("v1", 2.0, start),
			chargingSample("v1", 8.5, start.Add(10*time.Minute)),
			stoppedSample("v1", start.Add(20*time.Minute)),
		},
		errs: []error{nil, nil, nil},
	}
	matcher := &recordingMatcher{}
	svc := newLifecycle(mem, adapter, nil, matcher)
	ref := telemetry.VehicleRef{DriverID: 10, VehicleID: "v1", Source: "provider"}

	// First charging sample opens a session and runs the start pass.
	result, err := svc.AdvanceSession(ctx, ref)
	require.NoError(t, err)
	require.True(t, result.SessionActive)
	require.NotZero(t, result.SessionID)
	require.Len(t, matcher.sessionIDs, 1)

	opened, err := mem.SessionByID(ctx, result.SessionID)
	require.NoError(t, err)
	require.True(t, opened.Verified)
	require.Equal(t, "provider", opened.Source)
	require.NotEmpty(t, opened.SourceSessionID, "synthetic id assigned when provider sends none")

	// Second sample updates telemetry without another matcher pass.
	result, err = svc.AdvanceSession(ctx, ref)
	require.NoError(t, err)
	require.True(t, result.SessionActive)
	require.Len(t, matcher.sessionIDs, 1)

	updated, err := mem.SessionByID(ctx, result.SessionID)
	require.NoError(t, err)
	require.Equal(t, 8.5, updated.EnergyKWh)

	// Definitive stop closes the session and runs the end pass.
	result, err = svc.AdvanceSession(ctx, ref)
	require.NoError(t, err)
	require.False(t, result.SessionActive)
	require.InDelta(t, 20, result.DurationMinutes, 0.01)
	require.Len(t, matcher.sessionIDs, 2)

	closed, err := mem.SessionByID(ctx, result.SessionID)
	require.NoError(t, err)
	require.Equal(t, models.SessionStatusClosed, closed.Status)
	require.NotNil(t, closed.EndTime)
}

func TestAdvanceSessionEnergyNeverDecreases(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	start := time.Now().UTC()
	adapter := &queuedAdapter{
		samples: []telemetry.ChargeSample{
			chargingSample("v1", 9.0, start),
			chargingSample("v1", 3.0, start.Add(time.Minute)), // provider counter reset
		},
		errs: []error{nil, nil},
	}
	svc := newLifecycle(mem, adapter, nil, &recordingMatcher{})
	ref := telemetry.VehicleRef{DriverID: 10, VehicleID: "v1", Source: "provider"}

	result, err := svc.AdvanceSession(ctx, ref)
	require.NoError(t, err)
	_, err = svc.AdvanceSession(ctx, ref)
	require.NoError(t, err)

	session, err := mem.SessionByID(ctx, result.SessionID)
	require.NoError(t, err)
	require.Equal(t, 9.0, session.EnergyKWh)
}

func TestAdvanceSessionIndeterminateNeverCloses(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	start := time.Now().UTC()
	adapter := &queuedAdapter{
		samples: []telemetry.ChargeSample{
			chargingSample("v1", 1.0, start),
			{VehicleID: "v1", SampledAt: start.Add(time.Minute)}, // not charging, not definitive
		},
		errs: []error{nil, nil},
	}
	svc := newLifecycle(mem, adapter, nil, &recordingMatcher{})
	ref := telemetry.VehicleRef{DriverID: 10, VehicleID: "v1", Source: "provider"}

	result, err := svc.AdvanceSession(ctx, ref)
	require.NoError(t, err)

	uncertain, err := svc.AdvanceSession(ctx, ref)
	require.NoError(t, err)
	require.True(t, uncertain.SessionActive)
	require.True(t, uncertain.StatusUnknown)

	session, err := mem.SessionByID(ctx, result.SessionID)
	require.NoError(t, err)
	require.Equal(t, models.SessionStatusActive, session.Status)
}

func TestAdvanceSessionUnknownStateLeavesSessionUntouched(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	start := time.Now().UTC()
	adapter := &queuedAdapter{
		samples: []telemetry.ChargeSample{chargingSample("v1", 1.0, start), {}},
		errs:    []error{nil, telemetry.ErrStateUnknown},
	}
	svc := newLifecycle(mem, adapter, nil, &recordingMatcher{})
	ref := telemetry.VehicleRef{DriverID: 10, VehicleID: "v1", Source: "provider"}

	result, err := svc.AdvanceSession(ctx, ref)
	require.NoError(t, err)

	unknown, err := svc.AdvanceSession(ctx, ref)
	require.NoError(t, err)
	require.True(t, unknown.StatusUnknown)
	require.True(t, unknown.SessionActive)

	session, err := mem.SessionByID(ctx, result.SessionID)
	require.NoError(t, err)
	require.Equal(t, models.SessionStatusActive, session.Status)
}

func TestAdvanceSessionAuthFailurePropagates(t *testing.T) {
	mem := store.NewMemory()
	adapter := &queuedAdapter{
		samples: []telemetry.ChargeSample{{}},
		errs:    []error{telemetry.ErrAuthorizationRevoked},
	}
	svc := newLifecycle(mem, adapter, nil, &recordingMatcher{})

	_, err := svc.AdvanceSession(context.Background(), telemetry.VehicleRef{DriverID: 10, VehicleID: "v1"})
	require.ErrorIs(t, err, telemetry.ErrAuthorizationRevoked)
}

func TestAdvanceSessionDebouncesThroughSampleCache(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	start := time.Now().UTC()
	adapter := &queuedAdapter{
		samples: []telemetry.ChargeSample{chargingSample("v1", 1.0, start)},
		errs:    []error{nil},
	}
	svc := newLifecycle(mem, adapter, newMapSampleCache(), &recordingMatcher{})
	ref := telemetry.VehicleRef{DriverID: 10, VehicleID: "v1", Source: "provider"}

	_, err := svc.AdvanceSession(ctx, ref)
	require.NoError(t, err)
	require.Equal(t, 1, adapter.calls)

	// Second poll inside the debounce window reuses the cached sample.
	_, err = svc.AdvanceSession(ctx, ref)
	require.NoError(t, err)
	require.Equal(t, 1, adapter.calls)
}

func TestAdvanceSessionResolvesNearbyCharger(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	mem.AddCharger(models.Charger{
		ID:            "chg-1",
		Network:       "voltnet",
		ConnectorType: "CCS",
		Latitude:      59.3300,
		Longitude:     18.0700,
	})

	sample := chargingSample("v1", 1.0, time.Now().UTC())
	lat, lon := 59.3301, 18.0701 // tens of meters away
	sample.Latitude = &lat
	sample.Longitude = &lon

	adapter := &queuedAdapter{samples: []telemetry.ChargeSample{sample}, errs: []error{nil}}
	svc := newLifecycle(mem, adapter, nil, &recordingMatcher{})

	result, err := svc.AdvanceSession(ctx, telemetry.VehicleRef{DriverID: 10, VehicleID: "v1", Source: "provider"})
	require.NoError(t, err)

	session, err := mem.SessionByID(ctx, result.SessionID)
	require.NoError(t, err)
	require.NotNil(t, session.ChargerID)
	require.Equal(t, "chg-1", *session.ChargerID)
	require.Equal(t, "voltnet", *session.Network)
	require.Equal(t, "CCS", *session.ConnectorType)
}

func TestReapStaleUsesLastUpdateAsEndTime(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	matcher := &recordingMatcher{}
	svc := newLifecycle(mem, &queuedAdapter{}, nil, matcher)

	session := &models.SessionEvent{
		DriverID:        10,
		Status:          models.SessionStatusActive,
		StartTime:       time.Now().UTC().Add(-30 * time.Minute),
		Source:          "provider",
		SourceSessionID: "stale-1",
	}
	require.NoError(t, mem.UpsertSession(ctx, session))

	// Advance the reaper clock past the inactivity threshold.
	svc.clock = func() time.Time { return time.Now().UTC().Add(time.Hour) }

	reaped, err := svc.ReapStale(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, reaped)
	require.Equal(t, []int64{session.ID}, matcher.sessionIDs)

	closed, err := mem.SessionByID(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, models.SessionStatusClosed, closed.Status)
	require.NotNil(t, closed.DurationMin)
	// Duration runs start -> last update, not start -> reap time.
	require.InDelta(t, 30, *closed.DurationMin, 0.1)

	// Nothing left to reap.
	reaped, err = svc.ReapStale(ctx)
	require.NoError(t, err)
	require.Zero(t, reaped)
}

func TestAdvanceSessionGrantsIncentivesOnClose(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()

	campaign := testCampaign(1, 1000, 250)
	campaign.Rules = []models.CampaignRule{{
		CampaignID: 1,
		Type:       models.RuleTypeDuration,
		Value:      &models.DurationValue{MinMinutes: f64(15)},
	}}
	mem.PutCampaign(campaign)

	start := time.Now().UTC().Add(-20 * time.Minute)
	adapter := &queuedAdapter{
		samples: []telemetry.ChargeSample{
			chargingSample("v1", 2.0, start),
			stoppedSample("v1", start.Add(20*time.Minute)),
		},
		errs: []error{nil, nil},
	}
	matcher := newTestMatcher(mem, PolicyAllowMultipleGrants)
	svc := newLifecycle(mem, adapter, nil, matcher)
	ref := telemetry.VehicleRef{DriverID: 10, VehicleID: "v1", Source: "provider"}

	opened, err := svc.AdvanceSession(ctx, ref)
	require.NoError(t, err)
	require.Zero(t, opened.IncentivesEarnedCents, "duration rule undecidable at start")

	closed, err := svc.AdvanceSession(ctx, ref)
	require.NoError(t, err)
	require.Equal(t, int64(250), closed.IncentivesEarnedCents)
}
