package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"voltrewards/internal/service"
)

// NewReapHandler returns POST /internal/reap, an ops hook that force-closes
// stale sessions on demand in addition to the background ticker.
func NewReapHandler(lifecycle *service.LifecycleService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reaped, err := lifecycle.ReapStale(r.Context())
		if err != nil {
			logger.Error("stale session reap failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "reap failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"reaped": reaped})
	}
}
