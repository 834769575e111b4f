package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/agentarena/arena-engine/pkg/models"
)

// UpsertStake records a wager and keeps the battle's per-side totals in step,
// inside one transaction. A repeat wager on the same side adds to the
// existing row; the battle row's totals always equal the sum of its stakes.
func (s *Store) UpsertStake(ctx context.Context, st *models.Stake) (*models.Stake, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var out models.Stake
	err = tx.QueryRow(ctx, `
		INSERT INTO stakes (battle_id, user_address, side, amount, tx_signature)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (battle_id, user_address, side)
		DO UPDATE SET amount = stakes.amount + EXCLUDED.amount,
			tx_signature = COALESCE(EXCLUDED.tx_signature, stakes.tx_signature)
		RETURNING id, battle_id, user_address, side, amount, tx_signature, claimed, created_at`,
		st.BattleID, st.UserAddress, st.Side, st.Amount, st.TxSignature).
		Scan(&out.ID, &out.BattleID, &out.UserAddress, &out.Side, &out.Amount,
			&out.TxSignature, &out.Claimed, &out.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert stake: %w", err)
	}

	col := "a"
	if st.Side == 1 {
		col = "b"
	}
	query := fmt.Sprintf(`UPDATE battles
		SET total_stake_%[1]s = total_stake_%[1]s + $2,
		    stake_count_%[1]s = stake_count_%[1]s + 1
		WHERE id = $1`, col)
	if _, err := tx.Exec(ctx, query, st.BattleID, st.Amount); err != nil {
		return nil, err
	}
	return &out, tx.Commit(ctx)
}

// StakeExistsBySignature reports whether a ledger signature was already
// ingested. Signature uniqueness is what makes webhook replays harmless.
func (s *Store) StakeExistsBySignature(ctx context.Context, signature string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM stakes WHERE tx_signature = $1)`, signature).Scan(&exists)
	return exists, err
}

// ListStakesForBattle returns every wager on a battle.
func (s *Store) ListStakesForBattle(ctx context.Context, battleID int64) ([]models.Stake, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, battle_id, user_address, side, amount, tx_signature, claimed, created_at
		FROM stakes WHERE battle_id = $1 ORDER BY created_at ASC`, battleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Stake
	for rows.Next() {
		var st models.Stake
		if err := rows.Scan(&st.ID, &st.BattleID, &st.UserAddress, &st.Side,
			&st.Amount, &st.TxSignature, &st.Claimed, &st.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// GetStake fetches one user's wager on one side of a battle.
func (s *Store) GetStake(ctx context.Context, battleID int64, userAddress string, side int) (*models.Stake, error) {
	var st models.Stake
	err := s.pool.QueryRow(ctx, `
		SELECT id, battle_id, user_address, side, amount, tx_signature, claimed, created_at
		FROM stakes WHERE battle_id = $1 AND user_address = $2 AND side = $3`,
		battleID, userAddress, side).
		Scan(&st.ID, &st.BattleID, &st.UserAddress, &st.Side,
			&st.Amount, &st.TxSignature, &st.Claimed, &st.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// MarkStakeClaimed flags a wager as paid out, driven by claim ingestion.
func (s *Store) MarkStakeClaimed(ctx context.Context, battleID int64, userAddress string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE stakes SET claimed = TRUE WHERE battle_id = $1 AND user_address = $2`,
		battleID, userAddress)
	return err
}
