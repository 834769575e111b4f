package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/agentarena/arena-engine/pkg/models"
)

// EnqueueAgent inserts a queue entry and flips the agent to queued in one
// transaction. Returns false when the agent is already queued.
func (s *Store) EnqueueAgent(ctx context.Context, e *models.QueueEntry) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO queue_entries (agent_pubkey, discipline, elo, enqueued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (agent_pubkey) DO NOTHING`,
		e.AgentPubkey, e.Discipline, e.Elo, e.EnqueuedAt, e.ExpiresAt)
	if err != nil {
		return false, fmt.Errorf("enqueue agent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	if _, err := tx.Exec(ctx,
		`UPDATE agents SET queue_status = $2 WHERE pubkey = $1`,
		e.AgentPubkey, models.QueueQueued); err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}

// DequeueAgent removes an agent's queue entry and returns it to idle.
// Returns false when no entry existed.
func (s *Store) DequeueAgent(ctx context.Context, pubkey string) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM queue_entries WHERE agent_pubkey = $1`, pubkey)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	if _, err := tx.Exec(ctx,
		`UPDATE agents SET queue_status = $2 WHERE pubkey = $1 AND queue_status = $3`,
		pubkey, models.QueueIdle, models.QueueQueued); err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}

// ListQueue returns live queue entries oldest-first, the order pairing scans.
func (s *Store) ListQueue(ctx context.Context) ([]models.QueueEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT agent_pubkey, discipline, elo, enqueued_at, expires_at
		FROM queue_entries WHERE expires_at > NOW()
		ORDER BY enqueued_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.QueueEntry
	for rows.Next() {
		var e models.QueueEntry
		if err := rows.Scan(&e.AgentPubkey, &e.Discipline, &e.Elo, &e.EnqueuedAt, &e.ExpiresAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetQueueEntry fetches one agent's queue entry, ErrNotFound when absent.
func (s *Store) GetQueueEntry(ctx context.Context, pubkey string) (*models.QueueEntry, error) {
	var e models.QueueEntry
	err := s.pool.QueryRow(ctx, `
		SELECT agent_pubkey, discipline, elo, enqueued_at, expires_at
		FROM queue_entries WHERE agent_pubkey = $1`, pubkey).
		Scan(&e.AgentPubkey, &e.Discipline, &e.Elo, &e.EnqueuedAt, &e.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}

// ExpireQueueEntries deletes entries past their deadline and idles the
// affected agents. Returns the expired pubkeys for logging.
func (s *Store) ExpireQueueEntries(ctx context.Context) ([]string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		`DELETE FROM queue_entries WHERE expires_at <= NOW() RETURNING agent_pubkey`)
	if err != nil {
		return nil, err
	}
	var expired []string
	for rows.Next() {
		var pk string
		if err := rows.Scan(&pk); err != nil {
			rows.Close()
			return nil, err
		}
		expired = append(expired, pk)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(expired) > 0 {
		if _, err := tx.Exec(ctx,
			`UPDATE agents SET queue_status = $2 WHERE pubkey = ANY($1) AND queue_status = $3`,
			expired, models.QueueIdle, models.QueueQueued); err != nil {
			return nil, err
		}
	}
	return expired, tx.Commit(ctx)
}
