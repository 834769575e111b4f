package models

import "time"

// Discipline is the contest family an agent competes in.
type Discipline string

const (
	DisciplineTrading Discipline = "trading"
	DisciplineChess   Discipline = "chess"
	DisciplineCoding  Discipline = "coding"
)

// ValidDiscipline reports whether d is one of the enumerated disciplines.
func ValidDiscipline(d Discipline) bool {
	switch d {
	case DisciplineTrading, DisciplineChess, DisciplineCoding:
		return true
	}
	return false
}

// GameMode is the concrete contest run within a discipline.
type GameMode string

const (
	GameModePricePrediction GameMode = "price_prediction"
	GameModeChessMidgame    GameMode = "chess_midgame"
	GameModeCodeProblem     GameMode = "code_problem"
)

// GameModeFor maps a discipline to its contest.
func GameModeFor(d Discipline) GameMode {
	switch d {
	case DisciplineChess:
		return GameModeChessMidgame
	case DisciplineCoding:
		return GameModeCodeProblem
	default:
		return GameModePricePrediction
	}
}

// AgentStatus is the activation state of a registered agent.
type AgentStatus string

const (
	AgentActive    AgentStatus = "active"
	AgentInactive  AgentStatus = "inactive"
	AgentSuspended AgentStatus = "suspended"
)

// QueueStatus tracks where an agent is in the matchmaking pipeline.
type QueueStatus string

const (
	QueueIdle     QueueStatus = "idle"
	QueueQueued   QueueStatus = "queued"
	QueueMatched  QueueStatus = "matched"
	QueueBattling QueueStatus = "battling"
)

// BattleStatus is the lifecycle state of a scheduled battle.
type BattleStatus string

const (
	BattleStaking   BattleStatus = "staking"
	BattleBattling  BattleStatus = "battling"
	BattleCompleted BattleStatus = "completed"
	BattleCancelled BattleStatus = "cancelled"
)

// Terminal reports whether s is a terminal battle state.
func (s BattleStatus) Terminal() bool {
	return s == BattleCompleted || s == BattleCancelled
}

// ArenaStatus mirrors the on-ledger arena account status byte.
type ArenaStatus uint8

const (
	ArenaPending ArenaStatus = iota
	ArenaLive
	ArenaSettled
	ArenaCancelled
)

func (s ArenaStatus) String() string {
	switch s {
	case ArenaPending:
		return "pending"
	case ArenaLive:
		return "live"
	case ArenaSettled:
		return "settled"
	case ArenaCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Agent is a registered autonomous participant, identified by its pubkey.
type Agent struct {
	Pubkey      string      `json:"pubkey"`
	Name        string      `json:"name"`
	Discipline  Discipline  `json:"discipline"`
	EndpointURL string      `json:"endpointUrl,omitempty"`
	OwnerWallet string      `json:"ownerWallet"`
	Status      AgentStatus `json:"status"`
	Wins        int         `json:"wins"`
	Battles     int         `json:"battles"`
	Elo         int         `json:"elo"`
	PeakElo     int         `json:"peakElo"`
	QueueStatus QueueStatus `json:"queueStatus"`
	CreatedAt   time.Time   `json:"createdAt"`
}

// QueueEntry is a pending matchmaking request. Unique per agent.
type QueueEntry struct {
	AgentPubkey string     `json:"agentPubkey"`
	Discipline  Discipline `json:"discipline"`
	Elo         int        `json:"elo"`
	EnqueuedAt  time.Time  `json:"enqueuedAt"`
	ExpiresAt   time.Time  `json:"expiresAt"`
}

// Battle is the authoritative record of a match. Created by the matchmaker,
// mutated only by the coordinator, never deleted.
type Battle struct {
	ID              int64        `json:"id"`
	ExternalID      string       `json:"externalId"`
	AgentAPubkey    string       `json:"agentAPubkey"`
	AgentBPubkey    string       `json:"agentBPubkey"`
	AgentAName      string       `json:"agentAName,omitempty"`
	AgentBName      string       `json:"agentBName,omitempty"`
	AgentAElo       int          `json:"agentAElo"`
	AgentBElo       int          `json:"agentBElo"`
	Discipline      Discipline   `json:"discipline"`
	GameMode        GameMode     `json:"gameMode"`
	Status          BattleStatus `json:"status"`
	MatchedAt       time.Time    `json:"matchedAt"`
	StakingEndsAt   *time.Time   `json:"stakingEndsAt,omitempty"`
	BattleStartedAt *time.Time   `json:"battleStartedAt,omitempty"`
	BattleEndedAt   *time.Time   `json:"battleEndedAt,omitempty"`
	ArenaAddress    *string      `json:"arenaAddress,omitempty"`
	TotalStakeA     int64        `json:"totalStakeA"`
	TotalStakeB     int64        `json:"totalStakeB"`
	StakeCountA     int          `json:"stakeCountA"`
	StakeCountB     int          `json:"stakeCountB"`
	WinnerPubkey    *string      `json:"winnerPubkey,omitempty"`
	AgentANewElo    *int         `json:"agentANewElo,omitempty"`
	AgentBNewElo    *int         `json:"agentBNewElo,omitempty"`
}

// SideOf returns 0 or 1 for a participant pubkey, -1 for outsiders.
func (b *Battle) SideOf(pubkey string) int {
	switch pubkey {
	case b.AgentAPubkey:
		return 0
	case b.AgentBPubkey:
		return 1
	}
	return -1
}

// Stake is a spectator wager on one side of a battle. Amounts are integer
// minor units; a second wager on the same side adds to the existing row.
type Stake struct {
	ID          int64     `json:"id"`
	BattleID    int64     `json:"battleId"`
	UserAddress string    `json:"userAddress"`
	Side        int       `json:"side"`
	Amount      int64     `json:"amount"`
	TxSignature *string   `json:"txSignature,omitempty"`
	Claimed     bool      `json:"claimed"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Arena mirrors the external ledger's arena account.
type Arena struct {
	Address    string      `json:"address"`
	Creator    string      `json:"creator"`
	Oracle     string      `json:"oracle"`
	Status     ArenaStatus `json:"status"`
	PoolA      int64       `json:"poolA"`
	PoolB      int64       `json:"poolB"`
	WinnerSide *int        `json:"winnerSide,omitempty"`
	AgentA     string      `json:"agentA,omitempty"`
	AgentB     string      `json:"agentB,omitempty"`
	StartTime  *time.Time  `json:"startTime,omitempty"`
	EndTime    *time.Time  `json:"endTime,omitempty"`
}

// HistoryRow is an append-only per-agent battle fact.
type HistoryRow struct {
	AgentPubkey    string    `json:"agentPubkey"`
	OpponentPubkey string    `json:"opponentPubkey"`
	Won            bool      `json:"won"`
	PlayedAt       time.Time `json:"playedAt"`
}

// BattleLog is one streamed log line, attributed to a side.
type BattleLog struct {
	Side      int       `json:"side"`
	Type      string    `json:"type"` // info | action | success | warning | error
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
