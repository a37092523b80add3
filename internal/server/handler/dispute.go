package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/openwager/wagerd/internal/domain"
)

// DisputeService defines the arbitration methods the dispute handler
// requires from the service layer.
type DisputeService interface {
	RaiseDispute(ctx context.Context, id uuid.UUID, challenger domain.Address, stake uint64, reason string) (domain.Dispute, error)
	ResolveDispute(ctx context.Context, id uuid.UUID, resolver domain.Address, correctedScore int64, correctedCreatorWins, void bool) (domain.Dispute, error)
}

// DisputeHandler serves the dispute arbitration endpoints.
type DisputeHandler struct {
	disputes DisputeService
	logger   *slog.Logger
}

// NewDisputeHandler creates a DisputeHandler with the given service and logger.
func NewDisputeHandler(disputes DisputeService, logger *slog.Logger) *DisputeHandler {
	return &DisputeHandler{
		disputes: disputes,
		logger:   logger,
	}
}

// raiseDisputeRequest is the JSON body for challenging a consensus.
type raiseDisputeRequest struct {
	Stake  uint64 `json:"stake"`
	Reason string `json:"reason"`
}

// RaiseDispute stakes a challenge against a reached consensus on behalf of
// the X-Account caller.
// POST /api/wagers/{id}/dispute
func (h *DisputeHandler) RaiseDispute(w http.ResponseWriter, r *http.Request) {
	challenger, ok := callerAddress(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing or invalid X-Account header")
		return
	}

	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid wager id")
		return
	}

	var req raiseDisputeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	d, err := h.disputes.RaiseDispute(r.Context(), id, challenger, req.Stake, req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, d)
}

// resolveDisputeRequest is the JSON body for closing a dispute with the
// corrected outcome.
type resolveDisputeRequest struct {
	CorrectedScore       int64 `json:"corrected_score"`
	CorrectedCreatorWins bool  `json:"corrected_creator_wins"`
	Void                 bool  `json:"void"`
}

// ResolveDispute closes a dispute. Keeper-only.
// POST /api/wagers/{id}/dispute/resolve
func (h *DisputeHandler) ResolveDispute(w http.ResponseWriter, r *http.Request) {
	resolver, ok := callerAddress(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing or invalid X-Account header")
		return
	}

	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid wager id")
		return
	}

	var req resolveDisputeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	d, err := h.disputes.ResolveDispute(r.Context(), id, resolver, req.CorrectedScore, req.CorrectedCreatorWins, req.Void)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, d)
}
