package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/agentarena/arena-engine/pkg/models"
)

const battleColumns = `b.id, b.external_id, b.agent_a_pubkey, b.agent_b_pubkey,
	aa.name, ab.name, b.agent_a_elo, b.agent_b_elo, b.discipline, b.game_mode,
	b.status, b.matched_at, b.staking_ends_at, b.battle_started_at, b.battle_ended_at,
	b.arena_address, b.total_stake_a, b.total_stake_b, b.stake_count_a, b.stake_count_b,
	b.winner_pubkey, b.agent_a_new_elo, b.agent_b_new_elo`

const battleFrom = ` FROM battles b
	JOIN agents aa ON aa.pubkey = b.agent_a_pubkey
	JOIN agents ab ON ab.pubkey = b.agent_b_pubkey`

func scanBattle(row pgx.Row) (*models.Battle, error) {
	var b models.Battle
	err := row.Scan(&b.ID, &b.ExternalID, &b.AgentAPubkey, &b.AgentBPubkey,
		&b.AgentAName, &b.AgentBName, &b.AgentAElo, &b.AgentBElo, &b.Discipline, &b.GameMode,
		&b.Status, &b.MatchedAt, &b.StakingEndsAt, &b.BattleStartedAt, &b.BattleEndedAt,
		&b.ArenaAddress, &b.TotalStakeA, &b.TotalStakeB, &b.StakeCountA, &b.StakeCountB,
		&b.WinnerPubkey, &b.AgentANewElo, &b.AgentBNewElo)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// CreateBattle inserts the battle row, removes both participants from the
// queue, and advances their pipeline state, all in one transaction. The
// caller decides the initial status and the matching queue state.
func (s *Store) CreateBattle(ctx context.Context, b *models.Battle, queueStatus models.QueueStatus) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO battles (external_id, agent_a_pubkey, agent_b_pubkey, agent_a_elo,
			agent_b_elo, discipline, game_mode, status, matched_at, staking_ends_at, arena_address)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`,
		b.ExternalID, b.AgentAPubkey, b.AgentBPubkey, b.AgentAElo, b.AgentBElo,
		b.Discipline, b.GameMode, b.Status, b.MatchedAt, b.StakingEndsAt, b.ArenaAddress).
		Scan(&b.ID)
	if err != nil {
		return fmt.Errorf("insert battle: %w", err)
	}

	pair := []string{b.AgentAPubkey, b.AgentBPubkey}
	if _, err := tx.Exec(ctx,
		`DELETE FROM queue_entries WHERE agent_pubkey = ANY($1)`, pair); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE agents SET queue_status = $2 WHERE pubkey = ANY($1)`, pair, queueStatus); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// GetBattle fetches one battle by internal id.
func (s *Store) GetBattle(ctx context.Context, id int64) (*models.Battle, error) {
	return scanBattle(s.pool.QueryRow(ctx,
		`SELECT `+battleColumns+battleFrom+` WHERE b.id = $1`, id))
}

// GetBattleByExternalID fetches one battle by its public identifier.
func (s *Store) GetBattleByExternalID(ctx context.Context, externalID string) (*models.Battle, error) {
	return scanBattle(s.pool.QueryRow(ctx,
		`SELECT `+battleColumns+battleFrom+` WHERE b.external_id = $1`, externalID))
}

// GetActiveBattleForAgent returns the agent's non-terminal battle if one
// exists. An agent has at most one at a time.
func (s *Store) GetActiveBattleForAgent(ctx context.Context, pubkey string) (*models.Battle, error) {
	return scanBattle(s.pool.QueryRow(ctx, `
		SELECT `+battleColumns+battleFrom+`
		WHERE b.status IN ($2, $3) AND (b.agent_a_pubkey = $1 OR b.agent_b_pubkey = $1)
		ORDER BY b.matched_at DESC LIMIT 1`,
		pubkey, models.BattleStaking, models.BattleBattling))
}

func (s *Store) listBattles(ctx context.Context, query string, args ...any) ([]models.Battle, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Battle
	for rows.Next() {
		b, err := scanBattle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// ListRecentBattles returns the newest battles for the public feed.
func (s *Store) ListRecentBattles(ctx context.Context, limit int) ([]models.Battle, error) {
	return s.listBattles(ctx,
		`SELECT `+battleColumns+battleFrom+` ORDER BY b.matched_at DESC LIMIT $1`, limit)
}

// ListStakingBattles returns battles still in their wagering window.
func (s *Store) ListStakingBattles(ctx context.Context) ([]models.Battle, error) {
	return s.listBattles(ctx,
		`SELECT `+battleColumns+battleFrom+` WHERE b.status = $1 ORDER BY b.staking_ends_at ASC`,
		models.BattleStaking)
}

// ListStakingExpired returns staking battles whose window has closed and that
// are ready to run.
func (s *Store) ListStakingExpired(ctx context.Context) ([]models.Battle, error) {
	return s.listBattles(ctx, `
		SELECT `+battleColumns+battleFrom+`
		WHERE b.status = $1 AND b.staking_ends_at IS NOT NULL AND b.staking_ends_at <= NOW()
		ORDER BY b.staking_ends_at ASC`,
		models.BattleStaking)
}

// ListStuckBattles returns battles stuck in battling longer than cutoff,
// oldest first, capped so one recovery sweep stays bounded.
func (s *Store) ListStuckBattles(ctx context.Context, cutoff time.Time, limit int) ([]models.Battle, error) {
	return s.listBattles(ctx, `
		SELECT `+battleColumns+battleFrom+`
		WHERE b.status = $1 AND b.battle_started_at IS NOT NULL AND b.battle_started_at < $2
		ORDER BY b.battle_started_at ASC LIMIT $3`,
		models.BattleBattling, cutoff, limit)
}

// MarkBattleBattling promotes staking -> battling, guarding on the current
// status so two promoters cannot both win. Also flips both agents to battling.
func (s *Store) MarkBattleBattling(ctx context.Context, id int64, startedAt time.Time) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	var a, b string
	err = tx.QueryRow(ctx, `
		UPDATE battles SET status = $2, battle_started_at = $3
		WHERE id = $1 AND status = $4
		RETURNING agent_a_pubkey, agent_b_pubkey`,
		id, models.BattleBattling, startedAt, models.BattleStaking).Scan(&a, &b)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE agents SET queue_status = $2 WHERE pubkey = ANY($1)`,
		[]string{a, b}, models.QueueBattling); err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}

// CompleteBattleParams carries everything the settlement transaction writes.
type CompleteBattleParams struct {
	BattleID     int64
	WinnerPubkey *string // nil for a no-winner (error/cancelled) outcome
	LoserPubkey  *string
	WinnerNewElo int
	LoserNewElo  int
	EndedAt      time.Time
	Cancelled    bool
}

// CompleteBattle finalises a battle in a single transaction: the battle row
// gets its terminal status and outcome, the winner gains a win, both agents
// gain a battle and their new ratings, both return to idle, and two history
// rows are appended. A battle already terminal is left untouched.
func (s *Store) CompleteBattle(ctx context.Context, p CompleteBattleParams) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	status := models.BattleCompleted
	if p.Cancelled {
		status = models.BattleCancelled
	}

	var a, b string
	var winnerElo, loserElo *int
	if p.WinnerPubkey != nil {
		winnerElo, loserElo = &p.WinnerNewElo, &p.LoserNewElo
	}

	// Elo columns are positional (a/b), outcome is winner/loser; resolve
	// after we know which side won.
	err = tx.QueryRow(ctx, `
		UPDATE battles SET status = $2, winner_pubkey = $3, battle_ended_at = $4
		WHERE id = $1 AND status NOT IN ($5, $6)
		RETURNING agent_a_pubkey, agent_b_pubkey`,
		p.BattleID, status, p.WinnerPubkey, p.EndedAt,
		models.BattleCompleted, models.BattleCancelled).Scan(&a, &b)
	if errors.Is(err, pgx.ErrNoRows) {
		return tx.Commit(ctx) // already terminal; idempotent
	}
	if err != nil {
		return err
	}

	if p.WinnerPubkey != nil && p.LoserPubkey != nil {
		aElo, bElo := winnerElo, loserElo
		if *p.WinnerPubkey == b {
			aElo, bElo = loserElo, winnerElo
		}
		if _, err := tx.Exec(ctx,
			`UPDATE battles SET agent_a_new_elo = $2, agent_b_new_elo = $3 WHERE id = $1`,
			p.BattleID, aElo, bElo); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE agents SET wins = wins + 1, battles = battles + 1,
				elo = $2, peak_elo = GREATEST(peak_elo, $2)
			WHERE pubkey = $1`, *p.WinnerPubkey, p.WinnerNewElo); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE agents SET battles = battles + 1, elo = $2
			WHERE pubkey = $1`, *p.LoserPubkey, p.LoserNewElo); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO battle_history (agent_pubkey, opponent_pubkey, won, played_at)
			VALUES ($1, $2, TRUE, $3), ($2, $1, FALSE, $3)`,
			*p.WinnerPubkey, *p.LoserPubkey, p.EndedAt); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE agents SET queue_status = $2 WHERE pubkey = ANY($1)`,
		[]string{a, b}, models.QueueIdle); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// SetBattleArena records the on-ledger arena backing a battle.
func (s *Store) SetBattleArena(ctx context.Context, id int64, arenaAddress string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE battles SET arena_address = $2 WHERE id = $1`, id, arenaAddress)
	return err
}

// GetOpenBattleByArena finds the battle currently wagering on an arena.
func (s *Store) GetOpenBattleByArena(ctx context.Context, arenaAddress string) (*models.Battle, error) {
	return scanBattle(s.pool.QueryRow(ctx, `
		SELECT `+battleColumns+battleFrom+`
		WHERE b.arena_address = $1 AND b.status = $2
		ORDER BY b.matched_at DESC LIMIT 1`,
		arenaAddress, models.BattleStaking))
}

// GetLatestBattleByArena finds the newest battle ever backed by an arena.
func (s *Store) GetLatestBattleByArena(ctx context.Context, arenaAddress string) (*models.Battle, error) {
	return scanBattle(s.pool.QueryRow(ctx, `
		SELECT `+battleColumns+battleFrom+`
		WHERE b.arena_address = $1
		ORDER BY b.matched_at DESC LIMIT 1`,
		arenaAddress))
}

// ListUnsettledBattles returns completed arena-backed battles whose arena
// still mirrors as live (or has no mirror row at all), oldest first. These
// are settlement retries: a ledger outage at completion time must not leave
// a vault locked. Battles whose arena has since been recycled for a newer
// battle are excluded.
func (s *Store) ListUnsettledBattles(ctx context.Context, limit int) ([]models.Battle, error) {
	return s.listBattles(ctx, `
		SELECT `+battleColumns+battleFrom+`
		WHERE b.status = $1 AND b.arena_address IS NOT NULL AND b.winner_pubkey IS NOT NULL
		AND b.id = (SELECT MAX(b2.id) FROM battles b2 WHERE b2.arena_address = b.arena_address)
		AND NOT EXISTS (
			SELECT 1 FROM arenas a
			WHERE a.address = b.arena_address AND a.status <> $2
		)
		ORDER BY b.battle_ended_at ASC LIMIT $3`,
		models.BattleCompleted, models.ArenaLive, limit)
}

// ListRecyclableArenas returns arena addresses whose last battle completed
// before cutoff, candidates for an on-ledger reset.
func (s *Store) ListRecyclableArenas(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT arena_address FROM battles
		WHERE arena_address IS NOT NULL AND status = $1 AND battle_ended_at < $2
		AND arena_address NOT IN (
			SELECT arena_address FROM battles
			WHERE arena_address IS NOT NULL AND status IN ($3, $4)
		)`,
		models.BattleCompleted, cutoff, models.BattleStaking, models.BattleBattling)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, rows.Err()
}
