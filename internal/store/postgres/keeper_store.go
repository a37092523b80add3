package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openwager/wagerd/internal/domain"
)

// KeeperStore implements domain.KeeperStore using PostgreSQL.
type KeeperStore struct {
	pool *pgxpool.Pool
}

// NewKeeperStore creates a new KeeperStore backed by the given connection pool.
func NewKeeperStore(pool *pgxpool.Pool) *KeeperStore {
	return &KeeperStore{pool: pool}
}

// SaveKeeper upserts one keeper.
func (s *KeeperStore) SaveKeeper(ctx context.Context, k domain.Keeper) error {
	const query = `
		INSERT INTO keepers (addr, contact, added_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (addr) DO UPDATE SET contact = EXCLUDED.contact`
	if _, err := s.pool.Exec(ctx, query, k.Addr.Hex(), k.Contact, k.AddedAt); err != nil {
		return fmt.Errorf("postgres: save keeper %s: %w", k.Addr.Hex(), err)
	}
	return nil
}

// DeleteKeeper removes a keeper from the set.
func (s *KeeperStore) DeleteKeeper(ctx context.Context, addr domain.Address) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM keepers WHERE addr = $1`, addr.Hex()); err != nil {
		return fmt.Errorf("postgres: delete keeper %s: %w", addr.Hex(), err)
	}
	return nil
}

// ListKeepers returns all keepers ordered by admission time.
func (s *KeeperStore) ListKeepers(ctx context.Context) ([]domain.Keeper, error) {
	rows, err := s.pool.Query(ctx, `SELECT addr, contact, added_at FROM keepers ORDER BY added_at`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list keepers: %w", err)
	}
	defer rows.Close()

	var out []domain.Keeper
	for rows.Next() {
		var k domain.Keeper
		var addr string
		if err := rows.Scan(&addr, &k.Contact, &k.AddedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan keeper: %w", err)
		}
		k.Addr = common.HexToAddress(addr)
		out = append(out, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list keepers rows: %w", err)
	}
	return out, nil
}

// SaveProposal upserts one governance proposal.
func (s *KeeperStore) SaveProposal(ctx context.Context, p domain.KeeperProposal) error {
	votesFor, err := json.Marshal(p.For)
	if err != nil {
		return fmt.Errorf("postgres: marshal proposal votes: %w", err)
	}
	votesAgainst, err := json.Marshal(p.Against)
	if err != nil {
		return fmt.Errorf("postgres: marshal proposal votes: %w", err)
	}

	const query = `
		INSERT INTO keeper_proposals (id, proposer, target, is_add, votes_for, votes_against, executed, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			votes_for     = EXCLUDED.votes_for,
			votes_against = EXCLUDED.votes_against,
			executed      = EXCLUDED.executed`
	_, err = s.pool.Exec(ctx, query,
		p.ID, p.Proposer.Hex(), p.Target.Hex(), p.Add, votesFor, votesAgainst, p.Executed, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save proposal %s: %w", p.ID, err)
	}
	return nil
}

// GetProposal loads one proposal by id.
func (s *KeeperStore) GetProposal(ctx context.Context, id uuid.UUID) (domain.KeeperProposal, error) {
	const query = `
		SELECT id, proposer, target, is_add, votes_for, votes_against, executed, created_at
		FROM keeper_proposals WHERE id = $1`
	p, err := scanProposal(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.KeeperProposal{}, fmt.Errorf("postgres: proposal %s: %w", id, domain.ErrNotFound)
		}
		return domain.KeeperProposal{}, fmt.Errorf("postgres: get proposal %s: %w", id, err)
	}
	return p, nil
}

// ListProposals returns proposals newest first.
func (s *KeeperStore) ListProposals(ctx context.Context, opts domain.ListOpts) ([]domain.KeeperProposal, error) {
	query := `
		SELECT id, proposer, target, is_add, votes_for, votes_against, executed, created_at
		FROM keeper_proposals ORDER BY created_at DESC`
	if opts.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, opts.Limit)
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(` OFFSET %d`, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list proposals: %w", err)
	}
	defer rows.Close()

	var out []domain.KeeperProposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan proposal: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list proposals rows: %w", err)
	}
	return out, nil
}

func scanProposal(row pgx.Row) (domain.KeeperProposal, error) {
	var p domain.KeeperProposal
	var proposer, target string
	var votesFor, votesAgainst []byte

	err := row.Scan(&p.ID, &proposer, &target, &p.Add, &votesFor, &votesAgainst, &p.Executed, &p.CreatedAt)
	if err != nil {
		return domain.KeeperProposal{}, err
	}
	p.Proposer = common.HexToAddress(proposer)
	p.Target = common.HexToAddress(target)
	if err := json.Unmarshal(votesFor, &p.For); err != nil {
		return domain.KeeperProposal{}, fmt.Errorf("unmarshal votes_for: %w", err)
	}
	if err := json.Unmarshal(votesAgainst, &p.Against); err != nil {
		return domain.KeeperProposal{}, fmt.Errorf("unmarshal votes_against: %w", err)
	}
	return p, nil
}

// Compile-time interface check.
var _ domain.KeeperStore = (*KeeperStore)(nil)
