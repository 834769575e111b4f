package ledger

import (
	"encoding/binary"
	"fmt"
)

// ArenaAccount is the decoded on-ledger arena state.
type ArenaAccount struct {
	Creator    PublicKey
	Oracle     PublicKey
	AgentA     PublicKey
	AgentB     PublicKey
	Status     uint8 // 0 Pending, 1 Live, 2 Settled, 3 Cancelled
	WinnerSide *uint8
	FeeBps     uint16
	PoolA      uint64
	PoolB      uint64
	StartTime  int64
	EndTime    int64
}

// StakeAccount is the decoded on-ledger stake state.
type StakeAccount struct {
	User    PublicKey
	Amount  uint64
	Side    uint8
	Claimed bool
}

const (
	arenaAccountLen = 8 + 32*4 + 1 + 1 + 2 + 8 + 8 + 8 + 8
	stakeAccountLen = 8 + 32 + 8 + 1 + 1

	noWinner = 0xff
)

// DecodeArena parses arena account bytes. Layout after the 8-byte
// discriminator: creator, oracle, agent_a, agent_b (32 each), status u8,
// winner_side u8 (0xff = none), fee_bps u16, pool_a u64, pool_b u64,
// start_time i64, end_time i64, all little-endian.
func DecodeArena(data []byte) (*ArenaAccount, error) {
	if len(data) < arenaAccountLen {
		return nil, fmt.Errorf("arena account too short: %d bytes", len(data))
	}
	a := &ArenaAccount{}
	off := 8
	copy(a.Creator[:], data[off:off+32])
	off += 32
	copy(a.Oracle[:], data[off:off+32])
	off += 32
	copy(a.AgentA[:], data[off:off+32])
	off += 32
	copy(a.AgentB[:], data[off:off+32])
	off += 32
	a.Status = data[off]
	off++
	if w := data[off]; w != noWinner {
		winner := w
		a.WinnerSide = &winner
	}
	off++
	a.FeeBps = binary.LittleEndian.Uint16(data[off:])
	off += 2
	a.PoolA = binary.LittleEndian.Uint64(data[off:])
	off += 8
	a.PoolB = binary.LittleEndian.Uint64(data[off:])
	off += 8
	a.StartTime = int64(binary.LittleEndian.Uint64(data[off:]))
	off += 8
	a.EndTime = int64(binary.LittleEndian.Uint64(data[off:]))
	return a, nil
}

// DecodeStake parses stake account bytes: user (32), amount u64, side u8,
// claimed u8, after the 8-byte discriminator.
func DecodeStake(data []byte) (*StakeAccount, error) {
	if len(data) < stakeAccountLen {
		return nil, fmt.Errorf("stake account too short: %d bytes", len(data))
	}
	s := &StakeAccount{}
	off := 8
	copy(s.User[:], data[off:off+32])
	off += 32
	s.Amount = binary.LittleEndian.Uint64(data[off:])
	off += 8
	s.Side = data[off]
	off++
	s.Claimed = data[off] != 0
	return s, nil
}
