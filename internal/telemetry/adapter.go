package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrAuthorizationRevoked is the hard failure returned when the provider
// rejects the vehicle's credentials. It is never retried; the caller must
// prompt re-authentication.
var ErrAuthorizationRevoked = errors.New("telemetry: provider authorization revoked")

// ErrStateUnknown is returned after the retry budget is exhausted without a
// definitive answer. Callers must not transition session state on it.
var ErrStateUnknown = errors.New("telemetry: charge state unknown")

// TransientError wraps a retryable provider failure (timeout, 5xx,
// indeterminate state).
type TransientError struct {
	Reason string
	Err    error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("telemetry: transient failure (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("telemetry: transient failure (%s)", e.Reason)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a retryable telemetry failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// VehicleRef identifies one vehicle at the upstream provider.
type VehicleRef struct {
	DriverID    int64  `json:"driver_id"`
	VehicleID   string `json:"vehicle_id"`
	Source      string `json:"source"`
	AccessToken string `json:"-"`
}

// ChargeSample is a normalized snapshot of one vehicle's charge state.
type ChargeSample struct {
	VehicleID         string    `json:"vehicle_id"`
	Charging          bool      `json:"charging"`
	Definitive        bool      `json:"definitive"`
	BatteryPercent    int       `json:"battery_percent"`
	EnergyAddedKWh    float64   `json:"energy_added_kwh"`
	PowerKW           float64   `json:"power_kw"`
	Latitude          *float64  `json:"latitude,omitempty"`
	Longitude         *float64  `json:"longitude,omitempty"`
	ProviderSessionID string    `json:"provider_session_id"`
	SampledAt         time.Time `json:"sampled_at"`
}

// Indeterminate reports whether the sample is neither definitively charging
// nor definitively not charging.
func (s ChargeSample) Indeterminate() bool {
	return !s.Charging && !s.Definitive
}

// Adapter polls the upstream telemetry provider for one vehicle's current
// charge state.
type Adapter interface {
	Poll(ctx context.Context, ref VehicleRef) (ChargeSample, error)
}
