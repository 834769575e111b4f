package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/agentarena/arena-engine/pkg/models"
)

const agentColumns = `pubkey, name, discipline, endpoint_url, owner_wallet, status,
	wins, battles, elo, peak_elo, queue_status, created_at`

func scanAgent(row pgx.Row) (*models.Agent, error) {
	var a models.Agent
	err := row.Scan(&a.Pubkey, &a.Name, &a.Discipline, &a.EndpointURL, &a.OwnerWallet,
		&a.Status, &a.Wins, &a.Battles, &a.Elo, &a.PeakElo, &a.QueueStatus, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateAgent registers a new agent. The pubkey is the identity; a duplicate
// registration fails on the primary key.
func (s *Store) CreateAgent(ctx context.Context, a *models.Agent) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO agents (pubkey, name, discipline, endpoint_url, owner_wallet, status, elo, peak_elo)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		a.Pubkey, a.Name, a.Discipline, a.EndpointURL, a.OwnerWallet, a.Status, a.Elo)
	if err != nil {
		return fmt.Errorf("create agent: %w", err)
	}
	return nil
}

// GetAgent fetches one agent by pubkey.
func (s *Store) GetAgent(ctx context.Context, pubkey string) (*models.Agent, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE pubkey = $1`, pubkey)
	return scanAgent(row)
}

// ListAgents returns agents ordered by rating, strongest first.
func (s *Store) ListAgents(ctx context.Context, limit int) ([]models.Agent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+agentColumns+` FROM agents ORDER BY elo DESC, pubkey LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// SetAgentQueueStatus moves one agent through the matchmaking pipeline.
func (s *Store) SetAgentQueueStatus(ctx context.Context, pubkey string, status models.QueueStatus) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE agents SET queue_status = $2 WHERE pubkey = $1`, pubkey, status)
	return err
}

// SetAgentsQueueStatus updates several agents at once.
func (s *Store) SetAgentsQueueStatus(ctx context.Context, pubkeys []string, status models.QueueStatus) error {
	if len(pubkeys) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE agents SET queue_status = $2 WHERE pubkey = ANY($1)`, pubkeys, status)
	return err
}

// SetAgentStatus flips the activation state (active / inactive / suspended).
func (s *Store) SetAgentStatus(ctx context.Context, pubkey string, status models.AgentStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE agents SET status = $2 WHERE pubkey = $1`, pubkey, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListHistoryForAgent returns an agent's recent battle facts, newest first.
func (s *Store) ListHistoryForAgent(ctx context.Context, pubkey string, limit int) ([]models.HistoryRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT agent_pubkey, opponent_pubkey, won, played_at
		FROM battle_history WHERE agent_pubkey = $1
		ORDER BY played_at DESC LIMIT $2`, pubkey, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.HistoryRow
	for rows.Next() {
		var h models.HistoryRow
		if err := rows.Scan(&h.AgentPubkey, &h.OpponentPubkey, &h.Won, &h.PlayedAt); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
