package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"voltrewards/internal/clients"
)

// Provider state strings that mean the vehicle is actively charging.
var chargingStates = map[string]bool{
	"Charging": true,
	"Starting": true,
}

// Provider state strings that definitively mean the vehicle is not charging.
// Anything outside both sets is indeterminate (asleep, waking, unknown).
var notChargingStates = map[string]bool{
	"Complete":     true,
	"Disconnected": true,
	"Stopped":      true,
	"NoPower":      true,
}

type chargeStateResponse struct {
	State             string   `json:"charging_state"`
	BatteryLevel      int      `json:"battery_level"`
	ChargeEnergyAdded float64  `json:"charge_energy_added"`
	ChargerPowerKW    float64  `json:"charger_power"`
	Latitude          *float64 `json:"latitude"`
	Longitude         *float64 `json:"longitude"`
	SessionID         string   `json:"session_id"`
	Timestamp         int64    `json:"timestamp"`
}

// ProviderClient polls the vehicle telemetry provider's HTTP API and
// normalizes its state strings into ChargeSamples.
type ProviderClient struct {
	base  *clients.BaseClient
	clock func() time.Time
}

// NewProviderClient builds a client rooted at baseURL.
func NewProviderClient(baseURL string, httpClient clients.HTTPDoer) *ProviderClient {
	return &ProviderClient{
		base:  clients.NewBaseClient(baseURL, httpClient),
		clock: func() time.Time { return time.Now().UTC() },
	}
}

// Poll implements Adapter. A token that is already expired fails fast with
// ErrAuthorizationRevoked before any network round trip.
func (c *ProviderClient) Poll(ctx context.Context, ref VehicleRef) (ChargeSample, error) {
	if tokenExpired(ref.AccessToken, c.clock()) {
		return ChargeSample{}, ErrAuthorizationRevoked
	}

	path := fmt.Sprintf("/vehicles/%s/charge_state", ref.VehicleID)
	headers := map[string]string{"Authorization": "Bearer " + ref.AccessToken}

	status, body, err := c.base.Do(ctx, http.MethodGet, path, nil, headers)
	if err != nil {
		var reqErr *clients.RequestError
		if errors.As(err, &reqErr) && reqErr.Timeout() {
			return ChargeSample{}, &TransientError{Reason: "request timeout", Err: err}
		}
		return ChargeSample{}, &TransientError{Reason: "request failed", Err: err}
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ChargeSample{}, ErrAuthorizationRevoked
	case status == http.StatusRequestTimeout || status >= http.StatusInternalServerError:
		return ChargeSample{}, &TransientError{Reason: fmt.Sprintf("provider status %d", status)}
	case status != http.StatusOK:
		return ChargeSample{}, fmt.Errorf("telemetry: unexpected provider status %d", status)
	}

	var payload chargeStateResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return ChargeSample{}, &TransientError{Reason: "malformed provider response", Err: err}
	}

	sampledAt := c.clock()
	if payload.Timestamp > 0 {
		sampledAt = time.UnixMilli(payload.Timestamp).UTC()
	}

	return ChargeSample{
		VehicleID:         ref.VehicleID,
		Charging:          chargingStates[payload.State],
		Definitive:        chargingStates[payload.State] || notChargingStates[payload.State],
		BatteryPercent:    payload.BatteryLevel,
		EnergyAddedKWh:    payload.ChargeEnergyAdded,
		PowerKW:           payload.ChargerPowerKW,
		Latitude:          payload.Latitude,
		Longitude:         payload.Longitude,
		ProviderSessionID: payload.SessionID,
		SampledAt:         sampledAt,
	}, nil
}

// tokenExpired parses the provider access token as a JWT (unverified; the
// provider owns the signature) and reports whether its expiry has passed.
// Opaque tokens are left for the provider to judge.
func tokenExpired(token string, now time.Time) bool {
	if strings.Count(token, ".") != 2 {
		return false
	}
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return exp.Before(now)
}
