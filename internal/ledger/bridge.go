// Package ledger builds, signs, submits and confirms arena-program
// instructions and mirrors ledger account state.
package ledger

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"log"
	"time"
)

// vaultRentReserve is the lamport floor a zero-data account keeps for rent
// exemption; a vault at or below it is considered empty.
const vaultRentReserve = 890_880

// Bridge is the high-level ledger gateway used by the coordinator.
type Bridge struct {
	Client  *Client
	Program PublicKey

	key       ed25519.PrivateKey
	oraclePub PublicKey
	feeBps    uint16

	pdas     *pdaCache
	Multisig *MultisigCollector // nil outside multisig mode
}

// NewBridge wires a bridge around the oracle signing key. The key is held as
// a process-wide singleton and never logged.
func NewBridge(client *Client, program PublicKey, oracleKey ed25519.PrivateKey, feeBps uint16) *Bridge {
	return &Bridge{
		Client:    client,
		Program:   program,
		key:       oracleKey,
		oraclePub: PublicKeyFromPrivate(oracleKey),
		feeBps:    feeBps,
		pdas:      newPDACache(),
	}
}

// OraclePubkey returns the oracle's public address.
func (b *Bridge) OraclePubkey() string {
	return b.oraclePub.String()
}

// ArenaAddress derives the arena PDA for this oracle's creator key.
func (b *Bridge) ArenaAddress() (string, error) {
	addr, err := b.pdas.derive(ArenaSeed, b.oraclePub, b.Program)
	if err != nil {
		return "", err
	}
	return addr.String(), nil
}

func (b *Bridge) vaultAddress() (PublicKey, error) {
	return b.pdas.derive(VaultSeed, b.oraclePub, b.Program)
}

// submit runs one instruction through simulate → send → confirm with up to
// three attempts and a 2s backoff. Recognised taxonomy errors are final.
func (b *Bridge) submit(ctx context.Context, instr Instruction) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= submitAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(submitBackoff):
			}
		}

		sig, err := b.submitOnce(ctx, instr)
		if err == nil {
			return sig, nil
		}
		if !retryable(err) {
			return "", err
		}
		lastErr = err
		log.Printf("[Ledger] submit attempt %d/%d failed: %v", attempt, submitAttempts, err)
	}
	return "", fmt.Errorf("ledger submission failed after %d attempts: %w", submitAttempts, lastErr)
}

func (b *Bridge) submitOnce(ctx context.Context, instr Instruction) (string, error) {
	blockhash, err := b.Client.GetLatestBlockhash(ctx)
	if err != nil {
		return "", err
	}

	tx, err := BuildTransaction([]Instruction{instr}, b.oraclePub, blockhash,
		map[PublicKey]ed25519.PrivateKey{b.oraclePub: b.key})
	if err != nil {
		return "", err
	}
	txB64 := base64.StdEncoding.EncodeToString(tx)

	if err := b.Client.Simulate(ctx, txB64); err != nil {
		return "", err
	}
	sig, err := b.Client.Send(ctx, txB64)
	if err != nil {
		return "", err
	}
	if err := b.Client.Confirm(ctx, sig); err != nil {
		return "", err
	}
	return sig, nil
}

// InitializeArena creates (or re-creates) the arena account and returns its
// address.
func (b *Bridge) InitializeArena(ctx context.Context) (string, error) {
	arena, err := b.pdas.derive(ArenaSeed, b.oraclePub, b.Program)
	if err != nil {
		return "", err
	}
	vault, err := b.vaultAddress()
	if err != nil {
		return "", err
	}

	instr := Instruction{
		ProgramID: b.Program,
		Accounts: []AccountMeta{
			{Pubkey: arena, IsWritable: true},
			{Pubkey: vault, IsWritable: true},
			{Pubkey: b.oraclePub, IsSigner: true, IsWritable: true},
			{Pubkey: SystemProgramID},
		},
		Data: EncodeInitializeArena(b.feeBps),
	}
	if _, err := b.submit(ctx, instr); err != nil {
		return "", err
	}
	return arena.String(), nil
}

// SettleGame fixes the winner on the ledger. In multisig mode the payload
// carries the aggregated quorum signatures.
func (b *Bridge) SettleGame(ctx context.Context, arenaAddress string, winner uint8) error {
	arena, err := PublicKeyFromBase58(arenaAddress)
	if err != nil {
		return err
	}
	vault, err := b.vaultAddress()
	if err != nil {
		return err
	}

	data := EncodeSettleGame(winner)
	if b.Multisig != nil {
		quorum, err := b.Multisig.CollectSettle(ctx, arenaAddress, winner)
		if err != nil {
			return err
		}
		data = append(data, quorum...)
	}

	_, err = b.submit(ctx, Instruction{
		ProgramID: b.Program,
		Accounts: []AccountMeta{
			{Pubkey: arena, IsWritable: true},
			{Pubkey: vault, IsWritable: true},
			{Pubkey: b.oraclePub, IsSigner: true},
		},
		Data: data,
	})
	return err
}

// ResetArena returns a settled arena to Active with empty pools.
func (b *Bridge) ResetArena(ctx context.Context, arenaAddress string) error {
	arena, err := PublicKeyFromBase58(arenaAddress)
	if err != nil {
		return err
	}
	vault, err := b.vaultAddress()
	if err != nil {
		return err
	}

	data := EncodeResetArena()
	if b.Multisig != nil {
		quorum, err := b.Multisig.CollectReset(ctx, arenaAddress)
		if err != nil {
			return err
		}
		data = append(data, quorum...)
	}

	_, err = b.submit(ctx, Instruction{
		ProgramID: b.Program,
		Accounts: []AccountMeta{
			{Pubkey: arena, IsWritable: true},
			{Pubkey: vault, IsWritable: true},
			{Pubkey: b.oraclePub, IsSigner: true},
		},
		Data: data,
	})
	return err
}

// FetchArena reads and decodes the arena account.
func (b *Bridge) FetchArena(ctx context.Context, arenaAddress string) (*ArenaAccount, error) {
	data, err := b.Client.GetAccountInfo(ctx, arenaAddress)
	if err != nil {
		return nil, err
	}
	return DecodeArena(data)
}

// VaultEmpty reports whether the vault holds nothing beyond rent reserve.
func (b *Bridge) VaultEmpty(ctx context.Context) (bool, error) {
	vault, err := b.vaultAddress()
	if err != nil {
		return false, err
	}
	balance, err := b.Client.GetBalance(ctx, vault.String())
	if err != nil {
		return false, err
	}
	return balance <= vaultRentReserve, nil
}

// VerifyStakeTransaction checks that a user-submitted stake signature names
// a confirmed, successful transaction touching the arena account.
func (b *Bridge) VerifyStakeTransaction(ctx context.Context, signature, arenaAddress string) (bool, error) {
	info, err := b.Client.GetTransaction(ctx, signature)
	if err != nil {
		return false, err
	}
	if !info.Succeeded {
		return false, nil
	}
	for _, key := range info.AccountKeys {
		if key == arenaAddress {
			return true, nil
		}
	}
	return false, nil
}
