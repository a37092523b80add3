package handler

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/openwager/wagerd/internal/domain"
	"github.com/openwager/wagerd/internal/service"
)

// WagerService defines the methods the wager handler requires from the
// service layer.
type WagerService interface {
	Create(ctx context.Context, p service.CreateWagerParams) (domain.Wager, error)
	Fill(ctx context.Context, id uuid.UUID, filler domain.Address, amount uint64) (domain.Wager, error)
	Cancel(ctx context.Context, id uuid.UUID, caller domain.Address) (uint64, error)
	Settle(ctx context.Context, id uuid.UUID) (domain.WagerSnapshot, error)
	SettleBatch(ctx context.Context, ids []uuid.UUID, strict bool) (*domain.OutcomeBitVector, []uuid.UUID, error)
	SweepExpired(ctx context.Context) (int, error)
	Get(ctx context.Context, id uuid.UUID) (domain.WagerSnapshot, error)
	List(ctx context.Context, status domain.WagerStatus, opts domain.ListOpts) []domain.Wager
}

// WagerHandler serves the wager lifecycle endpoints.
type WagerHandler struct {
	wagers WagerService
	logger *slog.Logger
}

// NewWagerHandler creates a WagerHandler with the given service and logger.
func NewWagerHandler(wagers WagerService, logger *slog.Logger) *WagerHandler {
	return &WagerHandler{
		wagers: wagers,
		logger: logger,
	}
}

// createWagerRequest is the JSON body for wager creation. Raw content is
// base64; alternatively pre-stored refs may be passed directly.
type createWagerRequest struct {
	Content    string     `json:"content,omitempty"`
	Preview    string     `json:"preview,omitempty"`
	ContentRef string     `json:"content_ref,omitempty"`
	PreviewRef string     `json:"preview_ref,omitempty"`
	Stake      uint64     `json:"stake"`
	OddsBps    uint32     `json:"odds_bps"`
	Deadline   *time.Time `json:"deadline,omitempty"`
}

// CreateWager opens a new wager on behalf of the X-Account caller.
// POST /api/wagers
func (h *WagerHandler) CreateWager(w http.ResponseWriter, r *http.Request) {
	creator, ok := callerAddress(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing or invalid X-Account header")
		return
	}

	var req createWagerRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	params := service.CreateWagerParams{
		Creator:    creator,
		ContentRef: req.ContentRef,
		PreviewRef: req.PreviewRef,
		Stake:      req.Stake,
		OddsBps:    req.OddsBps,
		Deadline:   req.Deadline,
	}

	if req.Content != "" {
		content, err := base64.StdEncoding.DecodeString(req.Content)
		if err != nil {
			writeError(w, http.StatusBadRequest, "content is not valid base64")
			return
		}
		params.Content = content
	}
	if req.Preview != "" {
		preview, err := base64.StdEncoding.DecodeString(req.Preview)
		if err != nil {
			writeError(w, http.StatusBadRequest, "preview is not valid base64")
			return
		}
		params.Preview = preview
	}

	wager, err := h.wagers.Create(r.Context(), params)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: create wager failed",
			slog.String("creator", creator.Hex()),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, wager)
}

// listWagersResponse wraps the list endpoint output with metadata.
type listWagersResponse struct {
	Wagers []domain.Wager `json:"wagers"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// ListWagers returns wagers, optionally filtered by status.
// GET /api/wagers?status=pending&limit=50&offset=0
func (h *WagerHandler) ListWagers(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	status := domain.WagerStatus(r.URL.Query().Get("status"))

	wagers := h.wagers.List(r.Context(), status, opts)
	if wagers == nil {
		wagers = []domain.Wager{}
	}

	writeJSON(w, http.StatusOK, listWagersResponse{
		Wagers: wagers,
		Limit:  opts.Limit,
		Offset: opts.Offset,
	})
}

// GetWager returns the full snapshot of a single wager.
// GET /api/wagers/{id}
func (h *WagerHandler) GetWager(w http.ResponseWriter, r *http.Request) {
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

	writeJSON(w, http.StatusOK, snap)
}

// fillRequest is the JSON body for staking against a wager.
type fillRequest struct {
	Amount uint64 `json:"amount"`
}

// FillWager stakes the X-Account caller against a wager.
// POST /api/wagers/{id}/fills
func (h *WagerHandler) FillWager(w http.ResponseWriter, r *http.Request) {
	filler, ok := callerAddress(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing or invalid X-Account header")
		return
	}

	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid wager id")
		return
	}

	var req fillRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	wager, err := h.wagers.Fill(r.Context(), id, filler, req.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, wager)
}

// CancelWager withdraws the unmatched remainder of the caller's wager.
// DELETE /api/wagers/{id}
func (h *WagerHandler) CancelWager(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerAddress(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing or invalid X-Account header")
		return
	}

	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid wager id")
		return
	}

	refund, err := h.wagers.Cancel(r.Context(), id, caller)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]uint64{"refund": refund})
}

// SettleWager distributes a decided wager's pot.
// POST /api/wagers/{id}/settle
func (h *WagerHandler) SettleWager(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid wager id")
		return
	}

	snap, err := h.wagers.Settle(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

// settleBatchRequest is the JSON body for batch settlement.
type settleBatchRequest struct {
	IDs    []uuid.UUID `json:"ids"`
	Strict bool        `json:"strict"`
}

// settleBatchResponse reports per-position success and the settled IDs.
type settleBatchResponse struct {
	Outcomes []bool      `json:"outcomes"`
	Settled  []uuid.UUID `json:"settled"`
}

// SettleBatch settles many wagers in one call.
// POST /api/wagers/settle
func (h *WagerHandler) SettleBatch(w http.ResponseWriter, r *http.Request) {
	var req settleBatchRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "ids must not be empty")
		return
	}

	bits, settled, err := h.wagers.SettleBatch(r.Context(), req.IDs, req.Strict)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	outcomes := make([]bool, len(req.IDs))
	for i := range req.IDs {
		outcomes[i] = bits.Get(i)
	}
	if settled == nil {
		settled = []uuid.UUID{}
	}

	writeJSON(w, http.StatusOK, settleBatchResponse{
		Outcomes: outcomes,
		Settled:  settled,
	})
}

// SweepExpired applies deadline expiry to every open wager. Permissionless.
// POST /api/wagers/sweep
func (h *WagerHandler) SweepExpired(w http.ResponseWriter, r *http.Request) {
	swept, err := h.wagers.SweepExpired(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: sweep failed",
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"swept": swept})
}
