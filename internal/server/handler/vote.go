package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/openwager/wagerd/internal/domain"
)

// VoteService defines the outcome-reporting methods the vote handler
// requires from the service layer.
type VoteService interface {
	ReportVote(ctx context.Context, id uuid.UUID, keeper domain.Address, score int64, creatorWins bool) (domain.ConsensusRecord, error)
}

// SnapshotReader provides read access to wager snapshots for the consensus
// endpoint.
type SnapshotReader interface {
	Get(ctx context.Context, id uuid.UUID) (domain.WagerSnapshot, error)
}

// VoteHandler serves outcome voting and consensus endpoints.
type VoteHandler struct {
	votes  VoteService
	wagers SnapshotReader
	logger *slog.Logger
}

// NewVoteHandler creates a VoteHandler with the given services and logger.
func NewVoteHandler(votes VoteService, wagers SnapshotReader, logger *slog.Logger) *VoteHandler {
	return &VoteHandler{
		votes:  votes,
		wagers: wagers,
		logger: logger,
	}
}

// reportVoteRequest is the JSON body for a keeper's outcome vote.
type reportVoteRequest struct {
	Score       int64 `json:"score"`
	CreatorWins bool  `json:"creator_wins"`
}

// ReportVote records the calling keeper's outcome vote on a wager.
// POST /api/wagers/{id}/votes
func (h *VoteHandler) ReportVote(w http.ResponseWriter, r *http.Request) {
	keeper, ok := callerAddress(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing or invalid X-Account header")
		return
	}

	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid wager id")
		return
	}

	var req reportVoteRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	rec, err := h.votes.ReportVote(r.Context(), id, keeper, req.Score, req.CreatorWins)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// GetConsensus returns the consensus record of a wager, when voting has
// started.
// GET /api/wagers/{id}/consensus
func (h *VoteHandler) GetConsensus(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid wager id")
		return
	}

	snap, err := h.wagers.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if snap.Consensus == nil {
		writeError(w, http.StatusNotFound, "no votes recorded")
		return
	}

	writeJSON(w, http.StatusOK, snap.Consensus)
}
