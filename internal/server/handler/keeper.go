package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/openwager/wagerd/internal/domain"
)

// KeeperService defines the governance methods the keeper handler requires
// from the service layer.
type KeeperService interface {
	Keepers() []domain.Keeper
	Proposals(opts domain.ListOpts) []domain.KeeperProposal
	ProposeKeeper(ctx context.Context, proposer, target domain.Address, contact string, add bool) (domain.KeeperProposal, error)
	VoteOnProposal(ctx context.Context, proposalID uuid.UUID, voter domain.Address, approve bool) (domain.KeeperProposal, error)
	ExecuteProposal(ctx context.Context, proposalID uuid.UUID, caller domain.Address) (domain.KeeperProposal, error)
}

// KeeperHandler serves the keeper governance endpoints.
type KeeperHandler struct {
	keepers KeeperService
	logger  *slog.Logger
}

// NewKeeperHandler creates a KeeperHandler with the given service and logger.
func NewKeeperHandler(keepers KeeperService, logger *slog.Logger) *KeeperHandler {
	return &KeeperHandler{
		keepers: keepers,
		logger:  logger,
	}
}

// ListKeepers returns the current keeper set.
// GET /api/keepers
func (h *KeeperHandler) ListKeepers(w http.ResponseWriter, r *http.Request) {
	keepers := h.keepers.Keepers()
	writeJSON(w, http.StatusOK, map[string]any{"keepers": keepers})
}

// ListProposals returns governance proposals, newest first.
// GET /api/keepers/proposals
func (h *KeeperHandler) ListProposals(w http.ResponseWriter, r *http.Request) {
	proposals := h.keepers.Proposals(parseListOpts(r))
	if proposals == nil {
		proposals = []domain.KeeperProposal{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"proposals": proposals})
}

// proposeKeeperRequest is the JSON body for opening a governance proposal.
type proposeKeeperRequest struct {
	Target  string `json:"target"`
	Contact string `json:"contact,omitempty"`
	Add     bool   `json:"add"`
}

// ProposeKeeper opens a proposal to add or remove a keeper. Keeper-only.
// POST /api/keepers/proposals
func (h *KeeperHandler) ProposeKeeper(w http.ResponseWriter, r *http.Request) {
	proposer, ok := callerAddress(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing or invalid X-Account header")
		return
	}

	var req proposeKeeperRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if !common.IsHexAddress(req.Target) {
		writeError(w, http.StatusBadRequest, "target is not a valid hex address")
		return
	}

	p, err := h.keepers.ProposeKeeper(r.Context(), proposer, common.HexToAddress(req.Target), req.Contact, req.Add)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, p)
}

// proposalVoteRequest is the JSON body for voting on a proposal.
type proposalVoteRequest struct {
	Approve bool `json:"approve"`
}

// VoteOnProposal records the caller's approval or rejection. Keeper-only.
// POST /api/keepers/proposals/{id}/votes
func (h *KeeperHandler) VoteOnProposal(w http.ResponseWriter, r *http.Request) {
	voter, ok := callerAddress(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing or invalid X-Account header")
		return
	}

	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid proposal id")
		return
	}

	var req proposalVoteRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	p, err := h.keepers.VoteOnProposal(r.Context(), id, voter, req.Approve)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, p)
}

// ExecuteProposal applies a unanimously approved proposal. Keeper-only.
// POST /api/keepers/proposals/{id}/execute
func (h *KeeperHandler) ExecuteProposal(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerAddress(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing or invalid X-Account header")
		return
	}

	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid proposal id")
		return
	}

	p, err := h.keepers.ExecuteProposal(r.Context(), id, caller)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, p)
}
