package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"voltrewards/internal/service"
	"voltrewards/internal/telemetry"
)

// PollHandler drives the session polling endpoint, called periodically (about
// every 60s) by a foregrounded client per driver.
type PollHandler struct {
	lifecycle *service.LifecycleService
	logger    *zap.Logger
}

// NewPollHandler builds the handler.
func NewPollHandler(lifecycle *service.LifecycleService, logger *zap.Logger) *PollHandler {
	return &PollHandler{lifecycle: lifecycle, logger: logger}
}

type pollRequest struct {
	DriverID    int64  `json:"driver_id"`
	VehicleID   string `json:"vehicle_id"`
	Source      string `json:"source"`
	AccessToken string `json:"access_token"`
}

type pollResponse struct {
	SessionActive         bool    `json:"session_active"`
	SessionID             int64   `json:"session_id,omitempty"`
	DurationMinutes       float64 `json:"duration_minutes"`
	IncentivesEarnedCents int64   `json:"incentives_earned_this_session"`
	Status                string  `json:"status"`
}

// Handle handles POST /internal/poll.
func (h *PollHandler) Handle(w http.ResponseWriter, r *http.Request) {
	var req pollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.DriverID == 0 || req.VehicleID == "" {
		writeError(w, http.StatusBadRequest, "driver_id and vehicle_id are required")
		return
	}

	result, err := h.lifecycle.AdvanceSession(r.Context(), telemetry.VehicleRef{
		DriverID:    req.DriverID,
		VehicleID:   req.VehicleID,
		Source:      req.Source,
		AccessToken: req.AccessToken,
	})
	if err != nil {
		if errors.Is(err, telemetry.ErrAuthorizationRevoked) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "provider authorization revoked",
				"code":  "reauthorization_required",
			})
			return
		}
		h.logger.Error("poll failed",
			zap.Int64("driver_id", req.DriverID),
			zap.String("vehicle_id", req.VehicleID),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "failed to advance session")
		return
	}

	status := "ok"
	if result.StatusUnknown {
		// Transient uncertainty presents as retry-later, never as an error.
		status = "unknown"
	}
	writeJSON(w, http.StatusOK, pollResponse{
		SessionActive:         result.SessionActive,
		SessionID:             result.SessionID,
		DurationMinutes:       result.DurationMinutes,
		IncentivesEarnedCents: result.IncentivesEarnedCents,
		Status:                status,
	})
}
