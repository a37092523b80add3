package engine

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openwager/wagerd/internal/domain"
	"github.com/openwager/wagerd/internal/hashing"
)

// Create validates and escrows a new wager. The full creator stake is
// pulled into the vault before the identifier is returned; on any failure
// no state changes. The content-hash commitment is recomputed here from the
// off-ledger reference pair and stored verbatim; whether the references
// resolve to meaningful content is an off-ledger concern.
func (e *Engine) Create(ctx context.Context, creator domain.Address, contentRef, previewRef string, stake uint64, oddsBps uint32, deadline *time.Time) (domain.Wager, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if stake == 0 {
		return domain.Wager{}, fmt.Errorf("engine: create: %w", domain.ErrZeroAmount)
	}
	if strings.TrimSpace(contentRef) == "" || strings.TrimSpace(previewRef) == "" {
		return domain.Wager{}, fmt.Errorf("engine: create: %w", domain.ErrInvalidReference)
	}
	if oddsBps == 0 {
		return domain.Wager{}, fmt.Errorf("engine: create: %w", domain.ErrInvalidOdds)
	}
	now := e.now()
	if deadline != nil && !deadline.After(now) {
		return domain.Wager{}, fmt.Errorf("engine: create: %w", domain.ErrDeadlineInPast)
	}

	required, ok := domain.RequiredMatchFor(stake, oddsBps)
	if !ok {
		return domain.Wager{}, fmt.Errorf("engine: create: required match overflows: %w", domain.ErrStakeOverflow)
	}
	if required == 0 {
		return domain.Wager{}, fmt.Errorf("engine: create: required match is zero: %w", domain.ErrDustFill)
	}
	// The pot is summed as stake+required throughout settlement; reject
	// combinations whose pot cannot be represented.
	if required > math.MaxUint64-stake {
		return domain.Wager{}, fmt.Errorf("engine: create: pot overflows: %w", domain.ErrStakeOverflow)
	}

	w := domain.Wager{
		ID:            uuid.New(),
		ContentHash:   hashing.Commit(contentRef, previewRef),
		ContentRef:    contentRef,
		PreviewRef:    previewRef,
		Creator:       creator,
		CreatorStake:  stake,
		RequiredMatch: required,
		OddsBps:       oddsBps,
		Status:        domain.WagerStatusPending,
		CreatedAt:     now,
		Deadline:      deadline,
	}

	e.wagers[w.ID] = &wagerState{wager: w}
	undo := func() { delete(e.wagers, w.ID) }

	if err := e.pullEscrow(ctx, creator, stake, undo); err != nil {
		return domain.Wager{}, err
	}

	e.emit(domain.EventWagerCreated, domain.WagerCreatedPayload{
		ID:            w.ID,
		Creator:       creator,
		ContentHash:   hex.EncodeToString(w.ContentHash[:]),
		ContentRef:    contentRef,
		PreviewRef:    previewRef,
		CreatorStake:  stake,
		RequiredMatch: required,
		OddsBps:       oddsBps,
		Deadline:      deadline,
	})
	e.logger.InfoContext(ctx, "engine: wager created",
		slog.String("wager_id", w.ID.String()),
		slog.String("creator", creator.Hex()),
		slog.Uint64("stake", stake),
		slog.Uint64("required_match", required),
	)
	return w, nil
}
