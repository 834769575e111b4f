package ledger

import (
	"crypto/sha256"
	"encoding/binary"
)

// Instruction names understood by the arena program. The 8-byte
// discriminator for each is SHA-256("global:"+name)[..8]; payload scalars
// are little-endian.
const (
	InstrInitializeArena = "initialize_arena"
	InstrPlaceStake      = "place_stake"
	InstrSettleGame      = "settle_game"
	InstrResetArena      = "reset_arena"
	InstrClaimReward     = "claim_reward"
)

// Discriminator returns the 8-byte instruction tag.
func Discriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte("global:" + name))
	var d [8]byte
	copy(d[:], sum[:8])
	return d
}

func withDiscriminator(name string, payload []byte) []byte {
	d := Discriminator(name)
	return append(d[:], payload...)
}

// EncodeInitializeArena carries the fee in basis points.
func EncodeInitializeArena(feeBps uint16) []byte {
	payload := make([]byte, 2)
	binary.LittleEndian.PutUint16(payload, feeBps)
	return withDiscriminator(InstrInitializeArena, payload)
}

// EncodePlaceStake carries the amount in minor units and the chosen side.
func EncodePlaceStake(amount uint64, side uint8) []byte {
	payload := make([]byte, 9)
	binary.LittleEndian.PutUint64(payload[:8], amount)
	payload[8] = side
	return withDiscriminator(InstrPlaceStake, payload)
}

// EncodeSettleGame carries the winning side.
func EncodeSettleGame(winner uint8) []byte {
	return withDiscriminator(InstrSettleGame, []byte{winner})
}

// EncodeResetArena has no payload.
func EncodeResetArena() []byte {
	return withDiscriminator(InstrResetArena, nil)
}

// EncodeClaimReward has no payload.
func EncodeClaimReward() []byte {
	return withDiscriminator(InstrClaimReward, nil)
}
