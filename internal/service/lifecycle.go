package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"voltrewards/internal/models"
	"voltrewards/internal/store"
	"voltrewards/internal/telemetry"
)

// SampleCache debounces upstream polling: while a cached sample is live,
// AdvanceSession uses it instead of calling the provider again.
type SampleCache interface {
	Save(ctx context.Context, sample telemetry.ChargeSample) error
	Get(ctx context.Context, vehicleID string) (telemetry.ChargeSample, bool, error)
}

// Matcher runs one incentive evaluation pass for a session snapshot.
type Matcher interface {
	EvaluateSession(ctx context.Context, session *models.SessionEvent) ([]models.IncentiveGrant, error)
}

// LifecycleConfig tunes the session state machine.
type LifecycleConfig struct {
	// ChargerRadiusMeters bounds charger proximity resolution at session open.
	ChargerRadiusMeters float64
	// StaleAfter is the inactivity threshold past which the reaper
	// force-closes an active session.
	StaleAfter time.Duration
}

// PollResult summarizes the driver's session state for the polling endpoint.
type PollResult struct {
	SessionActive         bool    `json:"session_active"`
	SessionID             int64   `json:"session_id,omitempty"`
	DurationMinutes       float64 `json:"duration_minutes"`
	IncentivesEarnedCents int64   `json:"incentives_earned_cents"`
	StatusUnknown         bool    `json:"status_unknown,omitempty"`
}

// LifecycleService owns the per-vehicle session state machine:
// NoSession -> Active on the first charging sample, Active -> Active telemetry
// updates, Active -> Closed on the first definitive non-charging sample or via
// the stale reaper. The matcher runs synchronously on open and on close.
type LifecycleService struct {
	sessions store.SessionStore
	chargers store.ChargerStore
	grants   store.GrantStore
	adapter  telemetry.Adapter
	samples  SampleCache
	matcher  Matcher
	cfg      LifecycleConfig
	logger   *zap.Logger
	clock    func() time.Time
}

// NewLifecycleService builds the service. samples may be nil to disable
// debouncing.
func NewLifecycleService(
	sessions store.SessionStore,
	chargers store.ChargerStore,
	grants store.GrantStore,
	adapter telemetry.Adapter,
	samples SampleCache,
	matcher Matcher,
	cfg LifecycleConfig,
	logger *zap.Logger,
) *LifecycleService {
	return &LifecycleService{
		sessions: sessions,
		chargers: chargers,
		grants:   grants,
		adapter:  adapter,
		samples:  samples,
		matcher:  matcher,
		cfg:      cfg,
		logger:   logger,
		clock:    func() time.Time { return time.Now().UTC() },
	}
}

// AdvanceSession polls (or reuses the debounced sample for) one vehicle and
// advances its session state machine. Authorization failures propagate
// untouched so the transport layer can prompt re-authentication; transient
// uncertainty reports the current state with StatusUnknown set and changes
// nothing.
func (s *LifecycleService) AdvanceSession(ctx context.Context, ref telemetry.VehicleRef) (*PollResult, error) {
	sample, fromCache, err := s.currentSample(ctx, ref)
	if err != nil {
		if errors.Is(err, telemetry.ErrStateUnknown) {
			return s.unknownStateResult(ctx, ref.DriverID)
		}
		return nil, err
	}

	if !fromCache && s.samples != nil {
		if cacheErr := s.samples.Save(ctx, sample); cacheErr != nil {
			s.logger.Warn("failed to cache charge sample",
				zap.String("vehicle_id", ref.VehicleID),
				zap.Error(cacheErr),
			)
		}
	}

	active, err := s.sessions.ActiveSessionForDriver(ctx, ref.DriverID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	switch {
	case active == nil && sample.Charging:
		return s.openSession(ctx, ref, sample)
	case active != nil && sample.Charging:
		return s.updateSession(ctx, active, sample)
	case active != nil && !sample.Charging && sample.Definitive:
		return s.closeSession(ctx, active, sample.SampledAt)
	case active != nil:
		// Indeterminate non-charging sample: never close on uncertainty.
		return s.resultFor(ctx, active, true)
	default:
		return &PollResult{SessionActive: false}, nil
	}
}

func (s *LifecycleService) currentSample(ctx context.Context, ref telemetry.VehicleRef) (telemetry.ChargeSample, bool, error) {
	if s.samples != nil {
		cached, ok, err := s.samples.Get(ctx, ref.VehicleID)
		if err != nil {
			s.logger.Warn("sample cache read failed",
				zap.String("vehicle_id", ref.VehicleID),
				zap.Error(err),
			)
		} else if ok {
			return cached, true, nil
		}
	}

	sample, err := s.adapter.Poll(ctx, ref)
	if err != nil {
		return telemetry.ChargeSample{}, false, err
	}
	return sample, false, nil
}

func (s *LifecycleService) openSession(ctx context.Context, ref telemetry.VehicleRef, sample telemetry.ChargeSample) (*PollResult, error) {
	startTime := sample.SampledAt
	if startTime.IsZero() {
		startTime = s.clock()
	}

	sourceSessionID := sample.ProviderSessionID
	if sourceSessionID == "" {
		// Providers without session ids get a synthetic one; the
		// (source, source_session_id) uniqueness still holds because one
		// vehicle has at most one session starting at a given instant.
		sourceSessionID = fmt.Sprintf("%s-%d", ref.VehicleID, startTime.Unix())
	}

	battery := sample.BatteryPercent
	session := &models.SessionEvent{
		DriverID:        ref.DriverID,
		Status:          models.SessionStatusActive,
		StartTime:       startTime,
		EnergyKWh:       sample.EnergyAddedKWh,
		BatteryPercent:  &battery,
		MaxPowerKW:      sample.PowerKW,
		Latitude:        sample.Latitude,
		Longitude:       sample.Longitude,
		Source:          ref.Source,
		SourceSessionID: sourceSessionID,
		Verified:        true,
	}

	s.resolveCharger(ctx, session)

	if err := s.sessions.UpsertSession(ctx, session); err != nil {
		return nil, fmt.Errorf("lifecycle: open session: %w", err)
	}

	s.logger.Info("charging session opened",
		zap.Int64("session_id", session.ID),
		zap.Int64("driver_id", ref.DriverID),
		zap.String("vehicle_id", ref.VehicleID),
	)

	if _, err := s.matcher.EvaluateSession(ctx, session); err != nil {
		return nil, err
	}
	return s.resultFor(ctx, session, false)
}

func (s *LifecycleService) updateSession(ctx context.Context, session *models.SessionEvent, sample telemetry.ChargeSample) (*PollResult, error) {
	if sample.EnergyAddedKWh > session.EnergyKWh {
		session.EnergyKWh = sample.EnergyAddedKWh
	}
	if sample.BatteryPercent > 0 {
		battery := sample.BatteryPercent
		session.BatteryPercent = &battery
	}
	if sample.PowerKW > session.MaxPowerKW {
		session.MaxPowerKW = sample.PowerKW
	}

	// Backfill location from a later sample and retry charger resolution.
	if !session.HasCoordinates() && sample.Latitude != nil && sample.Longitude != nil {
		session.Latitude = sample.Latitude
		session.Longitude = sample.Longitude
	}
	if session.ChargerID == nil {
		s.resolveCharger(ctx, session)
	}

	if err := s.sessions.UpdateTelemetry(ctx, session); err != nil {
		return nil, fmt.Errorf("lifecycle: update session: %w", err)
	}
	return s.resultFor(ctx, session, false)
}

func (s *LifecycleService) closeSession(ctx context.Context, session *models.SessionEvent, endTime time.Time) (*PollResult, error) {
	if endTime.IsZero() {
		endTime = s.clock()
	}
	durationMin := endTime.Sub(session.StartTime).Minutes()

	if err := s.sessions.CloseSession(ctx, session.ID, endTime, durationMin); err != nil {
		return nil, fmt.Errorf("lifecycle: close session: %w", err)
	}

	closed, err := s.sessions.SessionByID(ctx, session.ID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("charging session closed",
		zap.Int64("session_id", closed.ID),
		zap.Int64("driver_id", closed.DriverID),
		zap.Float64("duration_min", durationMin),
	)

	// Second pass: duration-dependent rules deferred at start are decidable now.
	if _, err := s.matcher.EvaluateSession(ctx, closed); err != nil {
		return nil, err
	}
	return s.resultFor(ctx, closed, false)
}

// ReapStale force-closes every active session whose last update is older than
// the inactivity threshold. The end time is the session's last known update,
// not the reaper's wall clock, so a silently dead polling loop cannot inflate
// durations. Returns the number of sessions reaped.
func (s *LifecycleService) ReapStale(ctx context.Context) (int, error) {
	cutoff := s.clock().Add(-s.cfg.StaleAfter)
	stale, err := s.sessions.StaleActiveSessions(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	reaped := 0
	for i := range stale {
		session := stale[i]
		endTime := session.UpdatedAt
		durationMin := endTime.Sub(session.StartTime).Minutes()

		if err := s.sessions.CloseSession(ctx, session.ID, endTime, durationMin); err != nil {
			s.logger.Error("failed to reap stale session",
				zap.Int64("session_id", session.ID),
				zap.Error(err),
			)
			continue
		}

		s.logger.Warn("stale session force-closed",
			zap.Int64("session_id", session.ID),
			zap.Int64("driver_id", session.DriverID),
			zap.Time("last_update", session.UpdatedAt),
		)

		closed, err := s.sessions.SessionByID(ctx, session.ID)
		if err != nil {
			s.logger.Error("failed to reload reaped session", zap.Int64("session_id", session.ID), zap.Error(err))
			continue
		}
		if _, err := s.matcher.EvaluateSession(ctx, closed); err != nil {
			s.logger.Error("incentive evaluation failed for reaped session",
				zap.Int64("session_id", session.ID),
				zap.Error(err),
			)
			continue
		}
		reaped++
	}
	return reaped, nil
}

// DriverSessions returns the driver's session history for reporting reads.
func (s *LifecycleService) DriverSessions(ctx context.Context, driverID int64, limit int) ([]models.SessionEvent, error) {
	return s.sessions.SessionsByDriver(ctx, driverID, limit)
}

// DriverGrants returns the driver's grant history for reporting reads.
func (s *LifecycleService) DriverGrants(ctx context.Context, driverID int64, limit int) ([]models.IncentiveGrant, error) {
	return s.grants.GrantsByDriver(ctx, driverID, limit)
}

func (s *LifecycleService) resolveCharger(ctx context.Context, session *models.SessionEvent) {
	if !session.HasCoordinates() || s.chargers == nil {
		return
	}
	charger, err := s.chargers.NearestWithin(ctx, *session.Latitude, *session.Longitude, s.cfg.ChargerRadiusMeters)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("charger resolution failed", zap.Error(err))
		}
		// Session proceeds without a charger link.
		return
	}
	session.ChargerID = &charger.ID
	session.Network = &charger.Network
	session.ConnectorType = &charger.ConnectorType
}

func (s *LifecycleService) unknownStateResult(ctx context.Context, driverID int64) (*PollResult, error) {
	active, err := s.sessions.ActiveSessionForDriver(ctx, driverID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &PollResult{StatusUnknown: true}, nil
		}
		return nil, err
	}
	return s.resultFor(ctx, active, true)
}

func (s *LifecycleService) resultFor(ctx context.Context, session *models.SessionEvent, unknown bool) (*PollResult, error) {
	result := &PollResult{
		SessionActive: session.Status == models.SessionStatusActive,
		SessionID:     session.ID,
		StatusUnknown: unknown,
	}

	if session.DurationMin != nil {
		result.DurationMinutes = *session.DurationMin
	} else if session.Status == models.SessionStatusActive {
		result.DurationMinutes = s.clock().Sub(session.StartTime).Minutes()
	}

	grants, err := s.grants.GrantsBySession(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	for _, g := range grants {
		if g.Status != models.GrantStatusClawedBack {
			result.IncentivesEarnedCents += g.AmountCents
		}
	}
	return result, nil
}
