package handler

import (
	"context"
	"log/slog"
	"net/http"
)

// FeeService defines the fee methods the fees handler requires from the
// service layer.
type FeeService interface {
	AccruedFees() uint64
	WithdrawFees(ctx context.Context) (uint64, error)
}

// FeesHandler serves the platform fee endpoints.
type FeesHandler struct {
	fees   FeeService
	logger *slog.Logger
}

// NewFeesHandler creates a FeesHandler with the given service and logger.
func NewFeesHandler(fees FeeService, logger *slog.Logger) *FeesHandler {
	return &FeesHandler{
		fees:   fees,
		logger: logger,
	}
}

// GetFees returns the accrued, not yet withdrawn platform fees.
// GET /api/fees
func (h *FeesHandler) GetFees(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]uint64{"accrued": h.fees.AccruedFees()})
}

// WithdrawFees transfers the accrued fees to the treasury.
// POST /api/fees/withdraw
func (h *FeesHandler) WithdrawFees(w http.ResponseWriter, r *http.Request) {
	amount, err := h.fees.WithdrawFees(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]uint64{"withdrawn": amount})
}
