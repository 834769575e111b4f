package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/agentarena/arena-engine/internal/ledger"
	"github.com/agentarena/arena-engine/pkg/models"
)

// SyncArena pulls one arena account from the ledger and mirrors it locally.
// The ledger is authoritative; the local row only serves reads.
func (c *Coordinator) SyncArena(ctx context.Context, address string) (*models.Arena, error) {
	if c.ledger == nil {
		return nil, errors.New("ledger is not configured")
	}
	account, err := c.ledger.FetchArena(ctx, address)
	if err != nil {
		return nil, err
	}

	arena := &models.Arena{
		Address: address,
		Creator: account.Creator.String(),
		Oracle:  account.Oracle.String(),
		Status:  models.ArenaStatus(account.Status),
		PoolA:   int64(account.PoolA),
		PoolB:   int64(account.PoolB),
		AgentA:  account.AgentA.String(),
		AgentB:  account.AgentB.String(),
	}
	if account.WinnerSide != nil {
		side := int(*account.WinnerSide)
		arena.WinnerSide = &side
	}
	if account.StartTime > 0 {
		t := time.Unix(account.StartTime, 0).UTC()
		arena.StartTime = &t
	}
	if account.EndTime > 0 {
		t := time.Unix(account.EndTime, 0).UTC()
		arena.EndTime = &t
	}

	if err := c.store.UpsertArena(ctx, arena); err != nil {
		return nil, err
	}
	return arena, nil
}

// RecycleArena resets one settled arena whose vault has been drained. The
// on-ledger account is fetched first: an arena already pending or live again
// only has its mirror refreshed, reported as alreadyActive, and no reset is
// submitted for it.
func (c *Coordinator) RecycleArena(ctx context.Context, address string) (alreadyActive bool, err error) {
	if c.ledger == nil {
		return false, errors.New("ledger is not configured")
	}
	account, err := c.ledger.FetchArena(ctx, address)
	if err != nil {
		return false, err
	}
	switch models.ArenaStatus(account.Status) {
	case models.ArenaPending, models.ArenaLive:
		if _, err := c.SyncArena(ctx, address); err != nil {
			log.Printf("[Coordinator] sync of active arena %s failed: %v", address, err)
		}
		return true, nil
	case models.ArenaSettled:
		// fall through to the reset below
	default:
		return false, fmt.Errorf("arena %s is %s; only settled arenas reset",
			address, models.ArenaStatus(account.Status))
	}

	empty, err := c.ledger.VaultEmpty(ctx)
	if err != nil {
		return false, err
	}
	if !empty {
		return false, ledger.ErrVaultNotEmpty
	}
	if err := c.ledger.ResetArena(ctx, address); err != nil {
		return false, err
	}
	if _, err := c.SyncArena(ctx, address); err != nil {
		log.Printf("[Coordinator] post-reset sync of %s failed: %v", address, err)
	}
	log.Printf("[Coordinator] arena %s recycled", address)
	return false, nil
}

// recycleArenas first retries any settlement the ledger missed, then sweeps
// settled arenas back into service once their vaults drain. A vault still
// holding unclaimed winnings is left alone.
func (c *Coordinator) recycleArenas(ctx context.Context) {
	if !c.recycling.CompareAndSwap(false, true) {
		return
	}
	defer c.recycling.Store(false)

	c.resettleCompleted(ctx)

	addrs, err := c.store.ListRecyclableArenas(ctx, time.Now().Add(-recycleCutoff))
	if err != nil {
		log.Printf("[Coordinator] recycle scan failed: %v", err)
		return
	}
	for _, addr := range addrs {
		if _, err := c.RecycleArena(ctx, addr); err != nil {
			if errors.Is(err, ledger.ErrVaultNotEmpty) {
				log.Printf("[Coordinator] arena %s vault not drained yet", addr)
				continue
			}
			log.Printf("[Coordinator] recycling arena %s failed: %v", addr, err)
		}
	}
}

// resettleCompleted retries ledger settlement for completed battles whose
// arena never reached settled, so an RPC outage at completion time cannot
// strand a vault. Arenas the ledger already settled are just resynced.
func (c *Coordinator) resettleCompleted(ctx context.Context) {
	battles, err := c.store.ListUnsettledBattles(ctx, resettleLimit)
	if err != nil {
		log.Printf("[Coordinator] resettle scan failed: %v", err)
		return
	}
	for i := range battles {
		b := &battles[i]
		if b.ArenaAddress == nil || b.WinnerPubkey == nil {
			continue
		}
		side := b.SideOf(*b.WinnerPubkey)
		if side < 0 {
			continue
		}
		err := c.ledger.SettleGame(ctx, *b.ArenaAddress, uint8(side))
		switch {
		case err == nil:
			log.Printf("[Coordinator] arena %s settled on retry (battle %s)",
				*b.ArenaAddress, b.ExternalID)
		case errors.Is(err, ledger.ErrArenaAlreadySettled):
			log.Printf("[Coordinator] arena %s already settled, resyncing", *b.ArenaAddress)
		default:
			log.Printf("[Coordinator] resettling arena %s failed: %v", *b.ArenaAddress, err)
			continue
		}
		if _, err := c.SyncArena(ctx, *b.ArenaAddress); err != nil {
			log.Printf("[Coordinator] resync of %s failed: %v", *b.ArenaAddress, err)
		}
	}
}
