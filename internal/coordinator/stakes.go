package coordinator

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/agentarena/arena-engine/internal/db"
	"github.com/agentarena/arena-engine/internal/hub"
	"github.com/agentarena/arena-engine/pkg/models"
)

var (
	ErrBattleNotFound    = errors.New("battle not found")
	ErrStakingClosed     = errors.New("staking window is closed")
	ErrInvalidSide       = errors.New("side must be 0 or 1")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrSignatureRequired = errors.New("on-ledger battles require a transaction signature")
	ErrUnverifiedStake   = errors.New("transaction signature could not be verified")
)

// StakeRequest is one spectator wager. Side may name a participant pubkey
// instead of an index; SideFor resolves it.
type StakeRequest struct {
	BattleID    string
	UserAddress string
	Side        *int
	AgentPubkey string // alternative to Side
	Amount      int64
	TxSignature string
}

// PlaceStake validates a wager against the battle's window, verifies its
// ledger transaction when an arena backs the battle, and records it.
func (c *Coordinator) PlaceStake(ctx context.Context, req StakeRequest) (*models.Stake, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	battle, err := c.store.GetBattleByExternalID(ctx, req.BattleID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrBattleNotFound
	}
	if err != nil {
		return nil, err
	}
	if battle.Status != models.BattleStaking {
		return nil, ErrStakingClosed
	}
	// The readiness loop promotes expired windows on a 3s cadence; a stake
	// landing in that gap is still past the deadline.
	if battle.StakingEndsAt != nil && !time.Now().Before(*battle.StakingEndsAt) {
		return nil, ErrStakingClosed
	}

	side, err := resolveSide(battle, req)
	if err != nil {
		return nil, err
	}

	var sig *string
	if battle.ArenaAddress != nil {
		// An arena-backed battle accepts only wagers provable on the ledger.
		if req.TxSignature == "" {
			return nil, ErrSignatureRequired
		}
		seen, err := c.store.StakeExistsBySignature(ctx, req.TxSignature)
		if err != nil {
			return nil, err
		}
		if seen {
			return nil, errors.New("transaction signature already used")
		}
		ok, err := c.verifyStakeTx(ctx, req.TxSignature, *battle.ArenaAddress)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrUnverifiedStake
		}
		sig = &req.TxSignature
	}

	stake, err := c.store.UpsertStake(ctx, &models.Stake{
		BattleID:    battle.ID,
		UserAddress: req.UserAddress,
		Side:        side,
		Amount:      req.Amount,
		TxSignature: sig,
	})
	if err != nil {
		return nil, err
	}

	c.events.Emit(hub.RoomForBattle(battle.ExternalID), "battle:stake", map[string]any{
		"battleId": battle.ExternalID,
		"side":     side,
		"amount":   req.Amount,
	})
	log.Printf("[Coordinator] stake on battle %s: side %d, amount %d", battle.ExternalID, side, req.Amount)
	return stake, nil
}

func resolveSide(battle *models.Battle, req StakeRequest) (int, error) {
	if req.Side != nil {
		if *req.Side != 0 && *req.Side != 1 {
			return 0, ErrInvalidSide
		}
		return *req.Side, nil
	}
	if side := battle.SideOf(req.AgentPubkey); side >= 0 {
		return side, nil
	}
	return 0, ErrInvalidSide
}

// verifyStakeTx checks a signature against the ledger, caching positives so
// webhook retries and double submissions stay cheap.
func (c *Coordinator) verifyStakeTx(ctx context.Context, signature, arenaAddress string) (bool, error) {
	if ok, hit := c.verified.Get(signature); hit {
		return ok, nil
	}
	if c.ledger == nil {
		return false, ErrUnverifiedStake
	}
	ok, err := c.ledger.VerifyStakeTransaction(ctx, signature, arenaAddress)
	if err != nil {
		return false, err
	}
	if ok {
		c.verified.Add(signature, true)
	}
	return ok, nil
}
