package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/openwager/wagerd/internal/domain"
	"github.com/openwager/wagerd/internal/engine"
)

// wagerLockTTL bounds how long a crashed instance can hold a wager lock.
const wagerLockTTL = 10 * time.Second

// CreateWagerParams carries everything needed to open a wager. Either raw
// Content/Preview bytes or pre-stored ContentRef/PreviewRef must be
// supplied; raw content is written to the content store first and the
// resulting refs feed the hash commitment.
type CreateWagerParams struct {
	Creator    domain.Address
	Content    []byte
	Preview    []byte
	ContentRef string
	PreviewRef string
	Stake      uint64
	OddsBps    uint32
	Deadline   *time.Time
}

// WagerService drives the wager lifecycle: create, fill, cancel, settle,
// and expiry sweeps. Every successful engine mutation is journaled to the
// wager store and reflected in the cache before the call returns. A Redis
// lock per wager serializes mutations across service instances; the engine
// mutex already serializes in-process.
type WagerService struct {
	engine  *engine.Engine
	wagers  domain.WagerStore
	state   domain.LedgerStateStore
	cache   domain.WagerCache
	content domain.ContentStore
	locks   domain.LockManager
	logger  *slog.Logger
}

// NewWagerService creates a WagerService with all required dependencies.
func NewWagerService(
	eng *engine.Engine,
	wagers domain.WagerStore,
	state domain.LedgerStateStore,
	cache domain.WagerCache,
	content domain.ContentStore,
	locks domain.LockManager,
	logger *slog.Logger,
) *WagerService {
	return &WagerService{
		engine:  eng,
		wagers:  wagers,
		state:   state,
		cache:   cache,
		content: content,
		locks:   locks,
		logger:  logger.With(slog.String("component", "wager_service")),
	}
}

// Create opens a new wager. When raw content is supplied it is stored
// off-ledger first; the engine then pulls the creator's stake into escrow
// and anchors the commitment over the refs.
func (s *WagerService) Create(ctx context.Context, p CreateWagerParams) (domain.Wager, error) {
	contentRef, previewRef := p.ContentRef, p.PreviewRef

	if len(p.Content) > 0 {
		key := uuid.NewString()
		ref, err := s.content.Put(ctx, key+"/content", p.Content)
		if err != nil {
			return domain.Wager{}, fmt.Errorf("wager_service: store content: %w", err)
		}
		contentRef = ref

		preview := p.Preview
		if len(preview) == 0 {
			preview = p.Content
		}
		ref, err = s.content.Put(ctx, key+"/preview", preview)
		if err != nil {
			return domain.Wager{}, fmt.Errorf("wager_service: store preview: %w", err)
		}
		previewRef = ref
	}

	w, err := s.engine.Create(ctx, p.Creator, contentRef, previewRef, p.Stake, p.OddsBps, p.Deadline)
	if err != nil {
		return domain.Wager{}, err
	}

	s.persist(ctx, w.ID)
	return w, nil
}

// Fill stakes against an open wager.
func (s *WagerService) Fill(ctx context.Context, id uuid.UUID, filler domain.Address, amount uint64) (domain.Wager, error) {
	unlock, err := s.lock(ctx, id)
	if err != nil {
		return domain.Wager{}, err
	}
	defer unlock()

	w, err := s.engine.Fill(ctx, id, filler, amount)
	if err != nil {
		s.persistIfExpired(ctx, id, err)
		return domain.Wager{}, err
	}

	s.persist(ctx, id)
	return w, nil
}

// Cancel withdraws the unmatched remainder of the caller's wager and
// returns the refunded amount.
func (s *WagerService) Cancel(ctx context.Context, id uuid.UUID, caller domain.Address) (uint64, error) {
	unlock, err := s.lock(ctx, id)
	if err != nil {
		return 0, err
	}
	defer unlock()

	refund, err := s.engine.Cancel(ctx, id, caller)
	if err != nil {
		s.persistIfExpired(ctx, id, err)
		return 0, err
	}

	s.persist(ctx, id)
	return refund, nil
}

// Settle distributes a decided wager's pot and journals the terminal
// snapshot together with the updated fee accrual.
func (s *WagerService) Settle(ctx context.Context, id uuid.UUID) (domain.WagerSnapshot, error) {
	unlock, err := s.lock(ctx, id)
	if err != nil {
		return domain.WagerSnapshot{}, err
	}
	defer unlock()

	snap, err := s.engine.Settle(ctx, id)
	if err != nil {
		return domain.WagerSnapshot{}, err
	}

	s.persist(ctx, id)
	s.persistFees(ctx)
	return snap, nil
}

// SettleBatch settles many wagers in one call. In strict mode any failure
// aborts the whole batch; in safe mode ineligible wagers are skipped. The
// bit vector records per-position success, and the settled IDs are
// journaled.
func (s *WagerService) SettleBatch(ctx context.Context, ids []uuid.UUID, strict bool) (*domain.OutcomeBitVector, []uuid.UUID, error) {
	bits, settled, err := s.engine.SettleBatch(ctx, ids, strict)
	if err != nil {
		return bits, settled, err
	}

	for _, id := range settled {
		s.persist(ctx, id)
	}
	if len(settled) > 0 {
		s.persistFees(ctx)
	}
	return bits, settled, nil
}

// SweepExpired applies deadline expiry to every open wager and journals
// each transition. Permissionless.
func (s *WagerService) SweepExpired(ctx context.Context) (int, error) {
	swept, err := s.engine.SweepExpired(ctx)
	for _, id := range swept {
		s.persist(ctx, id)
	}
	if err != nil {
		return len(swept), err
	}
	return len(swept), nil
}

// Get returns the full snapshot of a wager, checking the cache first and
// falling back to the engine on a miss.
func (s *WagerService) Get(ctx context.Context, id uuid.UUID) (domain.WagerSnapshot, error) {
	snap, err := s.cache.Get(ctx, id)
	if err == nil {
		return snap, nil
	}

	snap, err = s.engine.Snapshot(id)
	if err != nil {
		return domain.WagerSnapshot{}, err
	}

	// Back-fill cache; log but do not fail on cache write errors.
	if cacheErr := s.cache.Set(ctx, snap); cacheErr != nil {
		s.logger.WarnContext(ctx, "wager_service: cache set failed",
			slog.String("wager_id", id.String()),
			slog.String("error", cacheErr.Error()),
		)
	}
	return snap, nil
}

// List returns wagers from the engine, optionally filtered by status.
func (s *WagerService) List(ctx context.Context, status domain.WagerStatus, opts domain.ListOpts) []domain.Wager {
	return s.engine.List(status, opts)
}

// AccruedFees returns the platform fees accumulated and not yet withdrawn.
func (s *WagerService) AccruedFees() uint64 {
	return s.engine.AccruedFees()
}

// lock acquires the cross-instance wager lock.
func (s *WagerService) lock(ctx context.Context, id uuid.UUID) (func(), error) {
	unlock, err := s.locks.Acquire(ctx, "wager:"+id.String(), wagerLockTTL)
	if err != nil {
		return nil, fmt.Errorf("wager_service: lock wager %s: %w", id, err)
	}
	return unlock, nil
}

// persist journals the wager's current snapshot and refreshes the cache.
// Persistence failures are logged, not returned: the engine state already
// advanced and the journal will be repaired by the next successful save.
func (s *WagerService) persist(ctx context.Context, id uuid.UUID) {
	snap, err := s.engine.Snapshot(id)
	if err != nil {
		s.logger.ErrorContext(ctx, "wager_service: snapshot for persist",
			slog.String("wager_id", id.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := s.wagers.Save(ctx, snap); err != nil {
		s.logger.ErrorContext(ctx, "wager_service: journal save failed",
			slog.String("wager_id", id.String()),
			slog.String("error", err.Error()),
		)
	}

	if err := s.cache.Set(ctx, snap); err != nil {
		s.logger.WarnContext(ctx, "wager_service: cache set failed",
			slog.String("wager_id", id.String()),
			slog.String("error", err.Error()),
		)
	}
}

// persistIfExpired journals the wager when a failed operation still
// transitioned it through lazy deadline expiry.
func (s *WagerService) persistIfExpired(ctx context.Context, id uuid.UUID, opErr error) {
	if errors.Is(opErr, domain.ErrWrongStatus) {
		s.persist(ctx, id)
	}
}

// persistFees journals the engine's fee accrual.
func (s *WagerService) persistFees(ctx context.Context) {
	if err := s.state.SaveAccruedFees(ctx, s.engine.AccruedFees()); err != nil {
		s.logger.ErrorContext(ctx, "wager_service: save accrued fees failed",
			slog.String("error", err.Error()),
		)
	}
}
