// Package matchmaker owns the skill-rated pairing queue. One queue entry per
// agent; pairing is greedy, oldest waiter first, within a fixed rating gap.
package matchmaker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/agentarena/arena-engine/internal/db"
	"github.com/agentarena/arena-engine/pkg/models"
)

const (
	// PairingInterval is how often the background sweep runs.
	PairingInterval = 10 * time.Second

	// QueueTTL is how long an entry waits before expiring back to idle.
	QueueTTL = 5 * time.Minute

	// MaxEloGap is the widest rating difference pairing accepts.
	MaxEloGap = 200
)

var (
	ErrAgentNotFound = errors.New("agent not found")
	ErrAgentInactive = errors.New("agent is not active")
	ErrAlreadyQueued = errors.New("agent is already queued or matched")
	ErrInBattle      = errors.New("agent has a battle in progress")
	ErrNotQueued     = errors.New("agent is not in the queue")
)

// Store is the persistence surface the matchmaker needs.
type Store interface {
	GetAgent(ctx context.Context, pubkey string) (*models.Agent, error)
	GetActiveBattleForAgent(ctx context.Context, pubkey string) (*models.Battle, error)
	EnqueueAgent(ctx context.Context, e *models.QueueEntry) (bool, error)
	DequeueAgent(ctx context.Context, pubkey string) (bool, error)
	ListQueue(ctx context.Context) ([]models.QueueEntry, error)
	ExpireQueueEntries(ctx context.Context) ([]string, error)
}

// PairFunc hands a matched pair to the coordinator. The earlier-enqueued
// entry is always first and becomes side 0.
type PairFunc func(ctx context.Context, a, b models.QueueEntry) error

// Matchmaker runs the queue. Pair is wired to the coordinator at startup.
type Matchmaker struct {
	store    Store
	pair     PairFunc
	sweeping atomic.Bool
}

func New(store Store, pair PairFunc) *Matchmaker {
	return &Matchmaker{store: store, pair: pair}
}

// EnterQueue validates the agent and enqueues it, then tries to pair
// immediately so a compatible waiter does not sit out a full sweep interval.
func (m *Matchmaker) EnterQueue(ctx context.Context, pubkey string) (*models.QueueEntry, error) {
	agent, err := m.store.GetAgent(ctx, pubkey)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrAgentNotFound
	}
	if err != nil {
		return nil, err
	}
	if agent.Status != models.AgentActive {
		return nil, ErrAgentInactive
	}
	if agent.QueueStatus != models.QueueIdle {
		if agent.QueueStatus == models.QueueBattling {
			return nil, ErrInBattle
		}
		return nil, ErrAlreadyQueued
	}
	if _, err := m.store.GetActiveBattleForAgent(ctx, pubkey); err == nil {
		return nil, ErrInBattle
	} else if !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	entry := &models.QueueEntry{
		AgentPubkey: pubkey,
		Discipline:  agent.Discipline,
		Elo:         agent.Elo,
		EnqueuedAt:  now,
		ExpiresAt:   now.Add(QueueTTL),
	}
	inserted, err := m.store.EnqueueAgent(ctx, entry)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return nil, ErrAlreadyQueued
	}
	log.Printf("[Matchmaker] %s entered queue (%s, elo %d)", pubkey, agent.Discipline, agent.Elo)

	m.Sweep(ctx)
	return entry, nil
}

// LeaveQueue withdraws an agent that has not yet been matched.
func (m *Matchmaker) LeaveQueue(ctx context.Context, pubkey string) error {
	removed, err := m.store.DequeueAgent(ctx, pubkey)
	if err != nil {
		return err
	}
	if !removed {
		return ErrNotQueued
	}
	log.Printf("[Matchmaker] %s left queue", pubkey)
	return nil
}

// Run drives expiry and pairing on a fixed interval until ctx is cancelled.
func (m *Matchmaker) Run(ctx context.Context) {
	ticker := time.NewTicker(PairingInterval)
	defer ticker.Stop()
	log.Printf("[Matchmaker] pairing loop started (every %s)", PairingInterval)

	for {
		select {
		case <-ctx.Done():
			log.Printf("[Matchmaker] pairing loop stopped")
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep expires stale entries and runs one pairing pass. The atomic gate
// keeps the interval sweep and enqueue-triggered sweeps from overlapping.
func (m *Matchmaker) Sweep(ctx context.Context) {
	if !m.sweeping.CompareAndSwap(false, true) {
		return
	}
	defer m.sweeping.Store(false)

	expired, err := m.store.ExpireQueueEntries(ctx)
	if err != nil {
		log.Printf("[Matchmaker] queue expiry failed: %v", err)
	} else if len(expired) > 0 {
		log.Printf("[Matchmaker] expired %d stale queue entries", len(expired))
	}

	if err := m.pairOnce(ctx); err != nil {
		log.Printf("[Matchmaker] pairing pass failed: %v", err)
	}
}

// pairOnce scans the queue oldest-first. Each waiter takes the compatible
// opponent with the smallest absolute rating difference; on an equal gap the
// earlier-enqueued candidate wins (the queue lists oldest first). The
// earlier-enqueued agent of each pair takes side 0.
func (m *Matchmaker) pairOnce(ctx context.Context) error {
	queue, err := m.store.ListQueue(ctx)
	if err != nil {
		return fmt.Errorf("list queue: %w", err)
	}
	if len(queue) < 2 {
		return nil
	}

	used := make([]bool, len(queue))
	for i := range queue {
		if used[i] {
			continue
		}
		best, bestGap := -1, 0
		for j := i + 1; j < len(queue); j++ {
			if used[j] || !Compatible(&queue[i], &queue[j]) {
				continue
			}
			gap := ratingGap(&queue[i], &queue[j])
			if best == -1 || gap < bestGap {
				best, bestGap = j, gap
			}
		}
		if best == -1 {
			continue
		}
		used[i], used[best] = true, true
		if err := m.pair(ctx, queue[i], queue[best]); err != nil {
			log.Printf("[Matchmaker] pairing %s vs %s failed: %v",
				queue[i].AgentPubkey, queue[best].AgentPubkey, err)
		}
	}
	return nil
}

func ratingGap(a, b *models.QueueEntry) int {
	gap := a.Elo - b.Elo
	if gap < 0 {
		gap = -gap
	}
	return gap
}

// Compatible reports whether two waiters can be matched.
func Compatible(a, b *models.QueueEntry) bool {
	return a.Discipline == b.Discipline && ratingGap(a, b) <= MaxEloGap
}
