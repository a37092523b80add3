package handler

import (
	"net/http"
	"time"
)

// StatusHandler serves the ledger status for operators: run mode, keeper
// count, accrued fees, and uptime.
type StatusHandler struct {
	Mode      string
	keepers   KeeperService
	fees      FeeService
	startedAt time.Time
}

// NewStatusHandler creates a StatusHandler with the given mode and services.
func NewStatusHandler(mode string, keepers KeeperService, fees FeeService) *StatusHandler {
	return &StatusHandler{
		Mode:      mode,
		keepers:   keepers,
		fees:      fees,
		startedAt: time.Now().UTC(),
	}
}

// GetStatus responds with the current ledger status.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.Mode,
		"keepers":        len(h.keepers.Keepers()),
		"accrued_fees":   h.fees.AccruedFees(),
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	})
}
