package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/agentarena/arena-engine/internal/db"
	"github.com/agentarena/arena-engine/internal/engine"
	"github.com/agentarena/arena-engine/internal/hub"
	"github.com/agentarena/arena-engine/internal/ledger"
	"github.com/agentarena/arena-engine/pkg/models"
)

// eloK is the rating volatility constant.
const eloK = 32

var (
	ErrAgentNotFound      = errors.New("agent not found")
	ErrAgentInactive      = errors.New("agent is not active")
	ErrDisciplineMismatch = errors.New("agents compete in different disciplines")
	ErrSelfBattle         = errors.New("an agent cannot battle itself")
)

// CreateBattle schedules a match between two agents. It is idempotent: when
// the pair already shares a live battle, that battle is returned instead of a
// new one. Side 0 goes to the earlier-enqueued agent when both were queued.
func (c *Coordinator) CreateBattle(ctx context.Context, pubkeyA, pubkeyB string) (*models.Battle, error) {
	if pubkeyA == pubkeyB {
		return nil, ErrSelfBattle
	}
	agentA, err := c.loadActiveAgent(ctx, pubkeyA)
	if err != nil {
		return nil, err
	}
	agentB, err := c.loadActiveAgent(ctx, pubkeyB)
	if err != nil {
		return nil, err
	}
	if agentA.Discipline != agentB.Discipline {
		return nil, ErrDisciplineMismatch
	}

	// Existing live battle between the pair wins over creating a second one.
	if existing, err := c.store.GetActiveBattleForAgent(ctx, pubkeyA); err == nil {
		if existing.SideOf(pubkeyB) >= 0 {
			return existing, nil
		}
		return nil, fmt.Errorf("%s already has a battle in progress", pubkeyA)
	} else if !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}
	if _, err := c.store.GetActiveBattleForAgent(ctx, pubkeyB); err == nil {
		return nil, fmt.Errorf("%s already has a battle in progress", pubkeyB)
	} else if !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}

	// Queue order decides sides: the longer waiter opens as side 0.
	if swap := c.enqueuedLater(ctx, pubkeyA, pubkeyB); swap {
		agentA, agentB = agentB, agentA
	}

	now := time.Now().UTC()
	battle := &models.Battle{
		ExternalID:   uuid.NewString(),
		AgentAPubkey: agentA.Pubkey,
		AgentBPubkey: agentB.Pubkey,
		AgentAName:   agentA.Name,
		AgentBName:   agentB.Name,
		AgentAElo:    agentA.Elo,
		AgentBElo:    agentB.Elo,
		Discipline:   agentA.Discipline,
		GameMode:     models.GameModeFor(agentA.Discipline),
		Status:       models.BattleStaking,
		MatchedAt:    now,
	}

	if c.opts.EnableStaking {
		endsAt := now.Add(StakingWindow)
		battle.StakingEndsAt = &endsAt
	} else {
		// Immediate mode: no wagering window, the readiness sweep (or the
		// direct promotion below) runs it straight away.
		battle.StakingEndsAt = &now
	}

	// Arena creation is best effort: a ledger outage degrades the battle to
	// unsigned wagers rather than blocking the match.
	if c.opts.EnableStaking && c.opts.EnableOnChainArena && c.ledger != nil {
		if addr, err := c.ledger.InitializeArena(ctx); err != nil {
			log.Printf("[Coordinator] arena creation failed, continuing without: %v", err)
		} else {
			battle.ArenaAddress = &addr
		}
	}

	if err := c.store.CreateBattle(ctx, battle, models.QueueMatched); err != nil {
		return nil, err
	}
	log.Printf("[Coordinator] battle %s created: %s vs %s (%s)",
		battle.ExternalID, agentA.Name, agentB.Name, battle.GameMode)

	c.events.EmitAll("battle:created", battle)

	if !c.opts.EnableStaking {
		c.promote(ctx, battle)
	}
	return battle, nil
}

func (c *Coordinator) loadActiveAgent(ctx context.Context, pubkey string) (*models.Agent, error) {
	agent, err := c.store.GetAgent(ctx, pubkey)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrAgentNotFound
	}
	if err != nil {
		return nil, err
	}
	if agent.Status != models.AgentActive {
		return nil, ErrAgentInactive
	}
	return agent, nil
}

// enqueuedLater reports whether a entered the queue after b.
func (c *Coordinator) enqueuedLater(ctx context.Context, a, b string) bool {
	ea, errA := c.store.GetQueueEntry(ctx, a)
	eb, errB := c.store.GetQueueEntry(ctx, b)
	if errA != nil || errB != nil {
		return false
	}
	return ea.EnqueuedAt.After(eb.EnqueuedAt)
}

// PairEntries is the matchmaker hook: entry a was enqueued first.
func (c *Coordinator) PairEntries(ctx context.Context, a, b models.QueueEntry) error {
	_, err := c.CreateBattle(ctx, a.AgentPubkey, b.AgentPubkey)
	return err
}

// RequestBattle serves socket battle:request, returning the external id.
func (c *Coordinator) RequestBattle(agentA, agentB string) (string, error) {
	if agentB == "" {
		return "", errors.New("agentB required")
	}
	battle, err := c.CreateBattle(context.Background(), agentA, agentB)
	if err != nil {
		return "", err
	}
	return battle.ExternalID, nil
}

// promoteReady advances every battle whose wagering window has closed.
func (c *Coordinator) promoteReady(ctx context.Context) {
	battles, err := c.store.ListStakingExpired(ctx)
	if err != nil {
		log.Printf("[Coordinator] readiness scan failed: %v", err)
		return
	}
	for i := range battles {
		c.promote(ctx, &battles[i])
	}
}

// promote flips one battle to battling and launches its run. The status
// guard in MarkBattleBattling makes double promotion harmless.
func (c *Coordinator) promote(ctx context.Context, battle *models.Battle) {
	started := time.Now().UTC()
	ok, err := c.store.MarkBattleBattling(ctx, battle.ID, started)
	if err != nil {
		log.Printf("[Coordinator] promoting battle %s failed: %v", battle.ExternalID, err)
		return
	}
	if !ok {
		return
	}
	battle.Status = models.BattleBattling
	battle.BattleStartedAt = &started
	go c.runBattle(context.WithoutCancel(ctx), battle)
}

// broadcastCountdowns streams seconds-remaining for every open window.
func (c *Coordinator) broadcastCountdowns(ctx context.Context) {
	battles, err := c.store.ListStakingBattles(ctx)
	if err != nil {
		log.Printf("[Coordinator] countdown scan failed: %v", err)
		return
	}
	now := time.Now()
	for i := range battles {
		b := &battles[i]
		if b.StakingEndsAt == nil {
			continue
		}
		left := int(b.StakingEndsAt.Sub(now).Seconds())
		if left < 0 {
			left = 0
		}
		c.events.Emit(hub.RoomForBattle(b.ExternalID), "battle:countdown", map[string]any{
			"battleId":    b.ExternalID,
			"secondsLeft": left,
		})
	}
}

// runBattle executes one battle under the concurrency cap and settles it.
func (c *Coordinator) runBattle(ctx context.Context, battle *models.Battle) {
	c.slots <- struct{}{}
	defer func() { <-c.slots }()

	agentA, errA := c.store.GetAgent(ctx, battle.AgentAPubkey)
	agentB, errB := c.store.GetAgent(ctx, battle.AgentBPubkey)
	if errA != nil || errB != nil {
		log.Printf("[Coordinator] battle %s aborted, participants unavailable", battle.ExternalID)
		c.finish(ctx, battle, nil, "participants unavailable")
		return
	}

	room := hub.RoomForBattle(battle.ExternalID)
	c.events.Emit(room, "battle:start", map[string]any{
		"battleId": battle.ExternalID,
		"agentA":   agentA.Name,
		"agentB":   agentB.Name,
		"gameMode": battle.GameMode,
	})

	result := c.engine.Run(ctx, agentA, agentB, battle.GameMode, engine.Options{
		LogInterval: c.opts.LogInterval,
		OnLog: func(entry models.BattleLog) {
			c.events.Emit(room, "battle:log", map[string]any{
				"battleId":  battle.ExternalID,
				"side":      entry.Side,
				"type":      entry.Type,
				"message":   entry.Message,
				"timestamp": entry.Timestamp,
			})
		},
		OnDominance: func(d int) {
			c.events.Emit(room, "battle:dominance", map[string]any{
				"battleId":  battle.ExternalID,
				"dominance": d,
			})
		},
	})

	winnerPubkey := battle.AgentAPubkey
	if result.Winner == 1 {
		winnerPubkey = battle.AgentBPubkey
	}
	c.finish(ctx, battle, &winnerPubkey, result.Summary)
}

// finish settles a battle: ratings and records in one database transaction,
// then best-effort ledger settlement, then the terminal spectator event.
// A nil winner cancels the battle without touching ratings.
func (c *Coordinator) finish(ctx context.Context, battle *models.Battle, winnerPubkey *string, summary string) {
	endedAt := time.Now().UTC()
	params := db.CompleteBattleParams{
		BattleID:  battle.ID,
		EndedAt:   endedAt,
		Cancelled: winnerPubkey == nil,
	}

	var winnerSide uint8
	if winnerPubkey != nil {
		loser := battle.AgentBPubkey
		winnerSide = 0
		if *winnerPubkey == battle.AgentBPubkey {
			loser = battle.AgentAPubkey
			winnerSide = 1
		}
		winnerElo, loserElo := battle.AgentAElo, battle.AgentBElo
		if winnerSide == 1 {
			winnerElo, loserElo = battle.AgentBElo, battle.AgentAElo
		}
		newWinner, newLoser := EloUpdate(winnerElo, loserElo)

		params.WinnerPubkey = winnerPubkey
		params.LoserPubkey = &loser
		params.WinnerNewElo = newWinner
		params.LoserNewElo = newLoser
	}

	if err := c.store.CompleteBattle(ctx, params); err != nil {
		log.Printf("[Coordinator] completing battle %s failed: %v", battle.ExternalID, err)
		return
	}

	if winnerPubkey != nil && battle.ArenaAddress != nil && c.ledger != nil {
		switch err := c.ledger.SettleGame(ctx, *battle.ArenaAddress, winnerSide); {
		case err == nil:
			c.SyncArena(ctx, *battle.ArenaAddress)
		case errors.Is(err, ledger.ErrArenaAlreadySettled):
			// The ledger got there first; mirror its state instead of retrying.
			log.Printf("[Coordinator] arena %s already settled, resyncing", *battle.ArenaAddress)
			c.SyncArena(ctx, *battle.ArenaAddress)
		default:
			// The recycling sweep retries settlement until it lands.
			log.Printf("[Coordinator] settling arena %s failed: %v", *battle.ArenaAddress, err)
		}
	}

	payload := map[string]any{
		"battleId": battle.ExternalID,
		"summary":  summary,
		"endedAt":  endedAt,
	}
	if winnerPubkey != nil {
		payload["winner"] = *winnerPubkey
		payload["winnerSide"] = winnerSide
	}
	c.events.Emit(hub.RoomForBattle(battle.ExternalID), "battle:end", payload)
	log.Printf("[Coordinator] battle %s finished: %s", battle.ExternalID, summary)
}

// recoverStuck settles battles abandoned mid-run, a few per sweep. An
// abandoned battle completes with side 0 as the default winner so ratings,
// counters and history stay consistent.
func (c *Coordinator) recoverStuck(ctx context.Context) {
	if !c.recovering.CompareAndSwap(false, true) {
		return
	}
	defer c.recovering.Store(false)

	stuck, err := c.store.ListStuckBattles(ctx, time.Now().Add(-stuckCutoff), stuckLimit)
	if err != nil {
		log.Printf("[Coordinator] stuck scan failed: %v", err)
		return
	}
	for i := range stuck {
		b := &stuck[i]
		log.Printf("[Coordinator] battle %s stuck in battling, settling to side 0", b.ExternalID)
		winner := b.AgentAPubkey
		c.finish(ctx, b, &winner, "battle aborted: engine did not report a result")
	}
}

// EloUpdate applies one decisive result to the two ratings.
func EloUpdate(winnerElo, loserElo int) (newWinner, newLoser int) {
	expected := 1.0 / (1.0 + math.Pow(10, float64(loserElo-winnerElo)/400.0))
	delta := int(math.Round(eloK * (1.0 - expected)))
	return winnerElo + delta, loserElo - delta
}

// ComputePayout is a winning stake's gross return: the stake back plus its
// pro-rata share of the loser pool after the protocol fee, in integer minor
// units with floor rounding at each step.
func ComputePayout(stake, winnerPool, loserPool int64, feeBps int64) int64 {
	if stake <= 0 || winnerPool <= 0 {
		return 0
	}
	distributable := loserPool * (10000 - feeBps) / 10000
	return stake + stake*distributable/winnerPool
}
