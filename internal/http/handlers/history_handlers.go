package handlers

import (
	"net/http"
	"strconv"

	"voltrewards/internal/service"
)

const driverIDHeader = "X-Driver-ID"

func driverIDFrom(r *http.Request) (int64, bool) {
	raw := r.Header.Get(driverIDHeader)
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// NewSessionsMeHandler returns GET /sessions/me handler.
func NewSessionsMeHandler(lifecycle *service.LifecycleService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		driverID, ok := driverIDFrom(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing or invalid driver id header")
			return
		}

		sessions, err := lifecycle.DriverSessions(r.Context(), driverID, 50)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to fetch sessions")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
	}
}

// NewGrantsMeHandler returns GET /grants/me handler.
func NewGrantsMeHandler(lifecycle *service.LifecycleService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		driverID, ok := driverIDFrom(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing or invalid driver id header")
			return
		}

		grants, err := lifecycle.DriverGrants(r.Context(), driverID, 50)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to fetch grants")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"grants": grants})
	}
}
