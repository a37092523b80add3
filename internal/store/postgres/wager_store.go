package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openwager/wagerd/internal/domain"
)

// WagerStore implements domain.WagerStore using PostgreSQL. The engine holds
// the authoritative state; Save journals the full snapshot in one
// transaction so startup recovery always sees a consistent wager.
type WagerStore struct {
	pool *pgxpool.Pool
}

// NewWagerStore creates a new WagerStore backed by the given connection pool.
func NewWagerStore(pool *pgxpool.Pool) *WagerStore {
	return &WagerStore{pool: pool}
}

// Save upserts a wager snapshot: the wager row, its ordered fills, and the
// consensus and dispute records when present.
func (s *WagerStore) Save(ctx context.Context, snap domain.WagerSnapshot) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin save wager %s: %w", snap.Wager.ID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	w := snap.Wager
	const upsertWager = `
		INSERT INTO wagers (
			id, content_hash, content_ref, preview_ref, creator,
			creator_stake, required_match, matched, odds_bps, status,
			pot_debit, created_at, deadline, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			creator_stake  = EXCLUDED.creator_stake,
			required_match = EXCLUDED.required_match,
			matched        = EXCLUDED.matched,
			status         = EXCLUDED.status,
			pot_debit      = EXCLUDED.pot_debit,
			deadline       = EXCLUDED.deadline,
			updated_at     = NOW()`

	_, err = tx.Exec(ctx, upsertWager,
		w.ID, w.ContentHash[:], w.ContentRef, w.PreviewRef, w.Creator.Hex(),
		int64(w.CreatorStake), int64(w.RequiredMatch), int64(w.Matched), int32(w.OddsBps), string(w.Status),
		int64(snap.PotDebit), w.CreatedAt, w.Deadline,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert wager %s: %w", w.ID, err)
	}

	// Fills are append-only in the engine; replacing the journal wholesale
	// keeps the ordinals trivially correct.
	if _, err := tx.Exec(ctx, `DELETE FROM wager_fills WHERE wager_id = $1`, w.ID); err != nil {
		return fmt.Errorf("postgres: clear fills for %s: %w", w.ID, err)
	}
	for i, f := range snap.Fills {
		_, err := tx.Exec(ctx,
			`INSERT INTO wager_fills (wager_id, ordinal, filler, amount, created_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			w.ID, i, f.Filler.Hex(), int64(f.Amount), f.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("postgres: insert fill %d for %s: %w", i, w.ID, err)
		}
	}

	if snap.Consensus != nil {
		votes, err := json.Marshal(snap.Consensus.Votes)
		if err != nil {
			return fmt.Errorf("postgres: marshal votes for %s: %w", w.ID, err)
		}
		const upsertConsensus = `
			INSERT INTO wager_consensus (wager_id, decided, outcome, avg_score, divergent, decided_at, votes)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (wager_id) DO UPDATE SET
				decided    = EXCLUDED.decided,
				outcome    = EXCLUDED.outcome,
				avg_score  = EXCLUDED.avg_score,
				divergent  = EXCLUDED.divergent,
				decided_at = EXCLUDED.decided_at,
				votes      = EXCLUDED.votes`
		var decidedAt any
		if snap.Consensus.Decided {
			decidedAt = snap.Consensus.DecidedAt
		}
		_, err = tx.Exec(ctx, upsertConsensus,
			w.ID, snap.Consensus.Decided, string(snap.Consensus.Outcome),
			snap.Consensus.AvgScore, snap.Consensus.Divergent, decidedAt, votes,
		)
		if err != nil {
			return fmt.Errorf("postgres: upsert consensus for %s: %w", w.ID, err)
		}
	}

	if snap.Dispute != nil {
		d := snap.Dispute
		penalized, err := json.Marshal(d.PenalizedKeepers)
		if err != nil {
			return fmt.Errorf("postgres: marshal penalized keepers for %s: %w", w.ID, err)
		}
		const upsertDispute = `
			INSERT INTO wager_disputes (
				wager_id, challenger, stake, reason, raised_at,
				resolved_at, outcome_changed, original_outcome, penalized
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (wager_id) DO UPDATE SET
				resolved_at     = EXCLUDED.resolved_at,
				outcome_changed = EXCLUDED.outcome_changed,
				penalized       = EXCLUDED.penalized`
		_, err = tx.Exec(ctx, upsertDispute,
			w.ID, d.Challenger.Hex(), int64(d.Stake), d.Reason, d.RaisedAt,
			d.ResolvedAt, d.OutcomeChanged, string(d.OriginalOutcome), penalized,
		)
		if err != nil {
			return fmt.Errorf("postgres: upsert dispute for %s: %w", w.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit save wager %s: %w", w.ID, err)
	}
	return nil
}

// GetByID loads one wager snapshot.
func (s *WagerStore) GetByID(ctx context.Context, id uuid.UUID) (domain.WagerSnapshot, error) {
	const query = `
		SELECT id, content_hash, content_ref, preview_ref, creator,
		       creator_stake, required_match, matched, odds_bps, status,
		       pot_debit, created_at, deadline
		FROM wagers WHERE id = $1`

	snap, err := scanWagerSnapshot(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.WagerSnapshot{}, fmt.Errorf("postgres: wager %s: %w", id, domain.ErrNotFound)
		}
		return domain.WagerSnapshot{}, fmt.Errorf("postgres: get wager %s: %w", id, err)
	}

	if err := s.attachDependents(ctx, &snap); err != nil {
		return domain.WagerSnapshot{}, err
	}
	return snap, nil
}

// List returns wagers filtered by status (empty status means all), newest
// first.
func (s *WagerStore) List(ctx context.Context, status domain.WagerStatus, opts domain.ListOpts) ([]domain.Wager, error) {
	query := `
		SELECT id, content_hash, content_ref, preview_ref, creator,
		       creator_stake, required_match, matched, odds_bps, status,
		       pot_debit, created_at, deadline
		FROM wagers`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`
	if opts.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, opts.Limit)
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(` OFFSET %d`, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list wagers: %w", err)
	}
	defer rows.Close()

	var out []domain.Wager
	for rows.Next() {
		snap, err := scanWagerSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan wager: %w", err)
		}
		out = append(out, snap.Wager)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list wagers rows: %w", err)
	}
	return out, nil
}

// LoadAll returns every wager snapshot, fills and dependent records
// included. Used once at startup to rebuild the engine arena.
func (s *WagerStore) LoadAll(ctx context.Context) ([]domain.WagerSnapshot, error) {
	const query = `
		SELECT id, content_hash, content_ref, preview_ref, creator,
		       creator_stake, required_match, matched, odds_bps, status,
		       pot_debit, created_at, deadline
		FROM wagers ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: load wagers: %w", err)
	}
	defer rows.Close()

	var snaps []domain.WagerSnapshot
	for rows.Next() {
		snap, err := scanWagerSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan wager: %w", err)
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: load wagers rows: %w", err)
	}

	for i := range snaps {
		if err := s.attachDependents(ctx, &snaps[i]); err != nil {
			return nil, err
		}
	}
	return snaps, nil
}

// ListClosedBefore returns snapshots of all settled or cancelled wagers
// created strictly before the cutoff. Used by the archiver.
func (s *WagerStore) ListClosedBefore(ctx context.Context, before time.Time) ([]domain.WagerSnapshot, error) {
	const query = `
		SELECT id, content_hash, content_ref, preview_ref, creator,
		       creator_stake, required_match, matched, odds_bps, status,
		       pot_debit, created_at, deadline
		FROM wagers
		WHERE status IN ($1, $2) AND created_at < $3
		ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query,
		string(domain.WagerStatusSettled), string(domain.WagerStatusCancelled), before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed wagers: %w", err)
	}
	defer rows.Close()

	var snaps []domain.WagerSnapshot
	for rows.Next() {
		snap, err := scanWagerSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan wager: %w", err)
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list closed wagers rows: %w", err)
	}

	for i := range snaps {
		if err := s.attachDependents(ctx, &snaps[i]); err != nil {
			return nil, err
		}
	}
	return snaps, nil
}

// Count returns the total number of wagers.
func (s *WagerStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM wagers`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count wagers: %w", err)
	}
	return n, nil
}

// attachDependents loads fills, consensus, and dispute for the snapshot.
func (s *WagerStore) attachDependents(ctx context.Context, snap *domain.WagerSnapshot) error {
	id := snap.Wager.ID

	rows, err := s.pool.Query(ctx,
		`SELECT filler, amount, created_at FROM wager_fills WHERE wager_id = $1 ORDER BY ordinal`, id)
	if err != nil {
		return fmt.Errorf("postgres: load fills for %s: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var f domain.Fill
		var filler string
		var amount int64
		if err := rows.Scan(&filler, &amount, &f.CreatedAt); err != nil {
			return fmt.Errorf("postgres: scan fill for %s: %w", id, err)
		}
		f.Filler = common.HexToAddress(filler)
		f.Amount = uint64(amount)
		snap.Fills = append(snap.Fills, f)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("postgres: load fills rows for %s: %w", id, err)
	}

	var c domain.ConsensusRecord
	var outcome string
	var votesJSON []byte
	var decidedAt *time.Time
	err = s.pool.QueryRow(ctx,
		`SELECT decided, outcome, avg_score, divergent, decided_at, votes
		 FROM wager_consensus WHERE wager_id = $1`, id,
	).Scan(&c.Decided, &outcome, &c.AvgScore, &c.Divergent, &decidedAt, &votesJSON)
	switch {
	case err == nil:
		c.Outcome = domain.Outcome(outcome)
		if decidedAt != nil {
			c.DecidedAt = *decidedAt
		}
		if err := json.Unmarshal(votesJSON, &c.Votes); err != nil {
			return fmt.Errorf("postgres: unmarshal votes for %s: %w", id, err)
		}
		snap.Consensus = &c
	case errors.Is(err, pgx.ErrNoRows):
		// no consensus yet
	default:
		return fmt.Errorf("postgres: load consensus for %s: %w", id, err)
	}

	var d domain.Dispute
	var challenger, originalOutcome string
	var stake int64
	var penalizedJSON []byte
	err = s.pool.QueryRow(ctx,
		`SELECT challenger, stake, reason, raised_at, resolved_at, outcome_changed, original_outcome, penalized
		 FROM wager_disputes WHERE wager_id = $1`, id,
	).Scan(&challenger, &stake, &d.Reason, &d.RaisedAt, &d.ResolvedAt, &d.OutcomeChanged, &originalOutcome, &penalizedJSON)
	switch {
	case err == nil:
		d.Challenger = common.HexToAddress(challenger)
		d.Stake = uint64(stake)
		d.OriginalOutcome = domain.Outcome(originalOutcome)
		if err := json.Unmarshal(penalizedJSON, &d.PenalizedKeepers); err != nil {
			return fmt.Errorf("postgres: unmarshal penalized keepers for %s: %w", id, err)
		}
		snap.Dispute = &d
	case errors.Is(err, pgx.ErrNoRows):
		// no dispute
	default:
		return fmt.Errorf("postgres: load dispute for %s: %w", id, err)
	}

	return nil
}

// scanWagerSnapshot scans a wager row (without dependents).
func scanWagerSnapshot(row pgx.Row) (domain.WagerSnapshot, error) {
	var snap domain.WagerSnapshot
	var contentHash []byte
	var creator, status string
	var creatorStake, requiredMatch, matched, potDebit int64
	var oddsBps int32

	err := row.Scan(
		&snap.Wager.ID, &contentHash, &snap.Wager.ContentRef, &snap.Wager.PreviewRef, &creator,
		&creatorStake, &requiredMatch, &matched, &oddsBps, &status,
		&potDebit, &snap.Wager.CreatedAt, &snap.Wager.Deadline,
	)
	if err != nil {
		return domain.WagerSnapshot{}, err
	}

	copy(snap.Wager.ContentHash[:], contentHash)
	snap.Wager.Creator = common.HexToAddress(creator)
	snap.Wager.CreatorStake = uint64(creatorStake)
	snap.Wager.RequiredMatch = uint64(requiredMatch)
	snap.Wager.Matched = uint64(matched)
	snap.Wager.OddsBps = uint32(oddsBps)
	snap.Wager.Status = domain.WagerStatus(status)
	snap.PotDebit = uint64(potDebit)
	return snap, nil
}

// Compile-time interface check.
var _ domain.WagerStore = (*WagerStore)(nil)
