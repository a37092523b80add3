// Package handler contains the HTTP handlers for the wagering ledger API.
// Handlers declare the narrow service interfaces they need so the package
// never depends on concrete service implementations.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/openwager/wagerd/internal/domain"
)

// accountHeader carries the caller's account address. Transport-level
// identity proof is out of scope; the ledger only acts on the address it
// is handed.
const accountHeader = "X-Account"

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps ledger sentinels onto HTTP status codes and sends
// the error message as the response body.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrUnauthorized),
		errors.Is(err, domain.ErrNotKeeper):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrWrongStatus),
		errors.Is(err, domain.ErrAlreadySettled),
		errors.Is(err, domain.ErrNothingToCancel),
		errors.Is(err, domain.ErrAlreadyVoted),
		errors.Is(err, domain.ErrNoConsensus),
		errors.Is(err, domain.ErrDisputePending),
		errors.Is(err, domain.ErrDisputeExists),
		errors.Is(err, domain.ErrDisputeResolved),
		errors.Is(err, domain.ErrDisputeWindowClosed),
		errors.Is(err, domain.ErrProposalExpired),
		errors.Is(err, domain.ErrProposalExecuted),
		errors.Is(err, domain.ErrQuorumNotReached),
		errors.Is(err, domain.ErrKeeperExists),
		errors.Is(err, domain.ErrLastKeeper):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrLockHeld):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, domain.ErrZeroAmount),
		errors.Is(err, domain.ErrInvalidReference),
		errors.Is(err, domain.ErrInvalidOdds),
		errors.Is(err, domain.ErrDeadlineInPast),
		errors.Is(err, domain.ErrReasonLength),
		errors.Is(err, domain.ErrDustFill),
		errors.Is(err, domain.ErrSelfFill),
		errors.Is(err, domain.ErrInsufficientBalance),
		errors.Is(err, domain.ErrFillTooLarge),
		errors.Is(err, domain.ErrParticipantCap),
		errors.Is(err, domain.ErrStakeTooLow):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
}

// pathUUID extracts and parses a UUID path parameter using Go 1.22+ built-in
// routing (http.Request.PathValue).
func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	return uuid.Parse(r.PathValue(name))
}

// callerAddress reads the caller's hex address from the X-Account header.
func callerAddress(r *http.Request) (domain.Address, bool) {
	v := r.Header.Get(accountHeader)
	if !common.IsHexAddress(v) {
		return domain.Address{}, false
	}
	return common.HexToAddress(v), true
}

// decodeBody parses the request body as JSON into v.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// logHandler is a convenience to attach slog fields in handler code.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
