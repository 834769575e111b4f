package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/agentarena/arena-engine/pkg/models"
)

// UpsertArena mirrors ledger arena state into the local table. The ledger is
// the source of truth; this row is a read model.
func (s *Store) UpsertArena(ctx context.Context, a *models.Arena) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO arenas (address, creator, oracle, status, pool_a, pool_b,
			winner_side, agent_a, agent_b, start_time, end_time, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		ON CONFLICT (address) DO UPDATE SET
			status = EXCLUDED.status,
			pool_a = EXCLUDED.pool_a,
			pool_b = EXCLUDED.pool_b,
			winner_side = EXCLUDED.winner_side,
			agent_a = EXCLUDED.agent_a,
			agent_b = EXCLUDED.agent_b,
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time,
			updated_at = NOW()`,
		a.Address, a.Creator, a.Oracle, a.Status, a.PoolA, a.PoolB,
		a.WinnerSide, a.AgentA, a.AgentB, a.StartTime, a.EndTime)
	return err
}

const arenaColumns = `address, creator, oracle, status, pool_a, pool_b,
	winner_side, agent_a, agent_b, start_time, end_time`

func scanArena(row pgx.Row) (*models.Arena, error) {
	var a models.Arena
	err := row.Scan(&a.Address, &a.Creator, &a.Oracle, &a.Status, &a.PoolA, &a.PoolB,
		&a.WinnerSide, &a.AgentA, &a.AgentB, &a.StartTime, &a.EndTime)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetArena fetches one mirrored arena by address.
func (s *Store) GetArena(ctx context.Context, address string) (*models.Arena, error) {
	return scanArena(s.pool.QueryRow(ctx,
		`SELECT `+arenaColumns+` FROM arenas WHERE address = $1`, address))
}

// ListArenasByStatus returns mirrored arenas in one state.
func (s *Store) ListArenasByStatus(ctx context.Context, status models.ArenaStatus) ([]models.Arena, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+arenaColumns+` FROM arenas WHERE status = $1 ORDER BY updated_at DESC`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Arena
	for rows.Next() {
		a, err := scanArena(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// GetIndexerCursor returns the last ingested ledger position.
func (s *Store) GetIndexerCursor(ctx context.Context) (int64, string, error) {
	var slot int64
	var sig string
	err := s.pool.QueryRow(ctx,
		`SELECT last_slot, last_signature FROM indexer_cursor WHERE id = 1`).Scan(&slot, &sig)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, "", nil
	}
	if err != nil {
		return 0, "", err
	}
	return slot, sig, nil
}

// SetIndexerCursor advances the ingestion cursor.
func (s *Store) SetIndexerCursor(ctx context.Context, slot int64, signature string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO indexer_cursor (id, last_slot, last_signature, updated_at)
		VALUES (1, $1, $2, NOW())
		ON CONFLICT (id) DO UPDATE SET
			last_slot = EXCLUDED.last_slot,
			last_signature = EXCLUDED.last_signature,
			updated_at = NOW()`,
		slot, signature)
	return err
}
