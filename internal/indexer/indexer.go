// Package indexer ingests arena-program transactions pushed by the RPC
// vendor's webhook and folds them into local state. Ingestion is idempotent
// by transaction signature, so webhook retries and replays are harmless.
package indexer

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/agentarena/arena-engine/internal/db"
	"github.com/agentarena/arena-engine/internal/ledger"
	"github.com/agentarena/arena-engine/pkg/models"
)

// Instruction account layout for place_stake and claim_reward: the arena is
// account 0 and the signing user is account 3.
const (
	arenaAccountIndex = 0
	userAccountIndex  = 3
)

// Store is the persistence surface ingestion writes through.
type Store interface {
	StakeExistsBySignature(ctx context.Context, signature string) (bool, error)
	UpsertStake(ctx context.Context, st *models.Stake) (*models.Stake, error)
	MarkStakeClaimed(ctx context.Context, battleID int64, userAddress string) error
	GetOpenBattleByArena(ctx context.Context, arenaAddress string) (*models.Battle, error)
	GetLatestBattleByArena(ctx context.Context, arenaAddress string) (*models.Battle, error)
	SetIndexerCursor(ctx context.Context, slot int64, signature string) error
}

// ArenaSyncer refreshes the local mirror after state-changing instructions.
type ArenaSyncer interface {
	SyncArena(ctx context.Context, address string) (*models.Arena, error)
}

// WebhookInstruction is one decoded instruction from the vendor payload.
type WebhookInstruction struct {
	ProgramID string   `json:"programId"`
	Accounts  []string `json:"accounts"`
	Data      string   `json:"data"` // base64 instruction data
}

// WebhookEvent is one confirmed transaction pushed by the vendor.
type WebhookEvent struct {
	Slot         int64                `json:"slot"`
	Signature    string               `json:"signature"`
	Instructions []WebhookInstruction `json:"instructions"`
}

// Indexer folds webhook events into the database.
type Indexer struct {
	store   Store
	syncer  ArenaSyncer
	program string
	secret  []byte

	processed atomic.Uint64
	stakes    atomic.Uint64
	claims    atomic.Uint64
	skipped   atomic.Uint64
}

func New(store Store, syncer ArenaSyncer, programID, webhookSecret string) *Indexer {
	return &Indexer{
		store:   store,
		syncer:  syncer,
		program: programID,
		secret:  []byte(webhookSecret),
	}
}

// VerifySignature checks the vendor's HMAC-SHA256 over the raw body.
func (ix *Indexer) VerifySignature(body []byte, signatureHex string) bool {
	if len(ix.secret) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, ix.secret)
	mac.Write(body)
	want, err := hex.DecodeString(signatureHex)
	if err != nil {
		return false
	}
	return hmac.Equal(mac.Sum(nil), want)
}

// Ingest processes one confirmed transaction. A signature already recorded
// is skipped wholesale.
func (ix *Indexer) Ingest(ctx context.Context, ev *WebhookEvent) error {
	if ev.Signature == "" {
		return errors.New("event has no signature")
	}
	seen, err := ix.store.StakeExistsBySignature(ctx, ev.Signature)
	if err != nil {
		return err
	}
	if seen {
		ix.skipped.Add(1)
		return nil
	}

	for _, instr := range ev.Instructions {
		if instr.ProgramID != ix.program {
			continue
		}
		if err := ix.apply(ctx, ev, &instr); err != nil {
			return fmt.Errorf("apply %s: %w", ev.Signature, err)
		}
	}

	ix.processed.Add(1)
	if err := ix.store.SetIndexerCursor(ctx, ev.Slot, ev.Signature); err != nil {
		log.Printf("[Indexer] cursor update failed: %v", err)
	}
	return nil
}

func (ix *Indexer) apply(ctx context.Context, ev *WebhookEvent, instr *WebhookInstruction) error {
	data, err := base64.StdEncoding.DecodeString(instr.Data)
	if err != nil || len(data) < 8 {
		ix.skipped.Add(1)
		return nil // not ours to decode
	}

	var disc [8]byte
	copy(disc[:], data[:8])

	switch disc {
	case ledger.Discriminator(ledger.InstrPlaceStake):
		return ix.applyPlaceStake(ctx, ev, instr, data[8:])
	case ledger.Discriminator(ledger.InstrClaimReward):
		return ix.applyClaimReward(ctx, instr)
	case ledger.Discriminator(ledger.InstrSettleGame),
		ledger.Discriminator(ledger.InstrResetArena),
		ledger.Discriminator(ledger.InstrInitializeArena):
		return ix.resyncArena(ctx, instr)
	}
	ix.skipped.Add(1)
	return nil
}

// applyPlaceStake records an on-ledger wager observed on the wire. The
// webhook is authenticated, so the stake is trusted without a second RPC
// round trip.
func (ix *Indexer) applyPlaceStake(ctx context.Context, ev *WebhookEvent, instr *WebhookInstruction, payload []byte) error {
	if len(payload) < 9 || len(instr.Accounts) <= userAccountIndex {
		return errors.New("malformed place_stake instruction")
	}
	amount := binary.LittleEndian.Uint64(payload[:8])
	side := int(payload[8])
	if side != 0 && side != 1 {
		return fmt.Errorf("place_stake side %d out of range", side)
	}

	arenaAddress := instr.Accounts[arenaAccountIndex]
	user := instr.Accounts[userAccountIndex]

	battle, err := ix.store.GetOpenBattleByArena(ctx, arenaAddress)
	if errors.Is(err, db.ErrNotFound) {
		// No open window for this arena; the wager belongs to no battle we run.
		ix.skipped.Add(1)
		return nil
	}
	if err != nil {
		return err
	}

	sig := ev.Signature
	if _, err := ix.store.UpsertStake(ctx, &models.Stake{
		BattleID:    battle.ID,
		UserAddress: user,
		Side:        side,
		Amount:      int64(amount),
		TxSignature: &sig,
	}); err != nil {
		return err
	}
	ix.stakes.Add(1)
	log.Printf("[Indexer] stake ingested: battle %s side %d amount %d", battle.ExternalID, side, amount)
	return nil
}

func (ix *Indexer) applyClaimReward(ctx context.Context, instr *WebhookInstruction) error {
	if len(instr.Accounts) <= userAccountIndex {
		return errors.New("malformed claim_reward instruction")
	}
	arenaAddress := instr.Accounts[arenaAccountIndex]
	user := instr.Accounts[userAccountIndex]

	battle, err := ix.store.GetLatestBattleByArena(ctx, arenaAddress)
	if errors.Is(err, db.ErrNotFound) {
		ix.skipped.Add(1)
		return nil
	}
	if err != nil {
		return err
	}
	if err := ix.store.MarkStakeClaimed(ctx, battle.ID, user); err != nil {
		return err
	}
	ix.claims.Add(1)
	return nil
}

func (ix *Indexer) resyncArena(ctx context.Context, instr *WebhookInstruction) error {
	if ix.syncer == nil || len(instr.Accounts) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := ix.syncer.SyncArena(ctx, instr.Accounts[arenaAccountIndex]); err != nil {
		log.Printf("[Indexer] arena resync failed: %v", err)
	}
	return nil
}

// Stats reports ingestion counters for the health endpoint.
func (ix *Indexer) Stats() map[string]uint64 {
	return map[string]uint64{
		"processed": ix.processed.Load(),
		"stakes":    ix.stakes.Load(),
		"claims":    ix.claims.Load(),
		"skipped":   ix.skipped.Load(),
	}
}
