// Package coordinator owns the battle lifecycle: creation, the wagering
// window, execution through the engine, settlement, and arena recycling.
package coordinator

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/agentarena/arena-engine/internal/db"
	"github.com/agentarena/arena-engine/internal/engine"
	"github.com/agentarena/arena-engine/internal/ledger"
	"github.com/agentarena/arena-engine/pkg/models"
)

const (
	// StakingWindow is how long spectators may wager before a battle runs.
	StakingWindow = 120 * time.Second

	readinessInterval = 3 * time.Second
	countdownInterval = 1 * time.Second
	recycleInterval   = 60 * time.Second
	recoveryInterval  = 30 * time.Second

	// recycleCutoff is how long a settled arena rests before it may be
	// recycled, leaving winners time to claim.
	recycleCutoff = 5 * time.Minute

	// stuckCutoff marks a battle abandoned when battling runs this long.
	stuckCutoff = 5 * time.Minute
	stuckLimit  = 5

	// resettleLimit bounds settlement retries per recycling sweep.
	resettleLimit = 5

	// verifyCache bounds on-ledger stake verification lookups.
	verifyCacheSize = 1000
	verifyCacheTTL  = 60 * time.Second
)

// Store is the persistence surface the coordinator drives.
type Store interface {
	GetAgent(ctx context.Context, pubkey string) (*models.Agent, error)
	GetActiveBattleForAgent(ctx context.Context, pubkey string) (*models.Battle, error)
	GetQueueEntry(ctx context.Context, pubkey string) (*models.QueueEntry, error)
	CreateBattle(ctx context.Context, b *models.Battle, queueStatus models.QueueStatus) error
	GetBattleByExternalID(ctx context.Context, externalID string) (*models.Battle, error)
	ListStakingExpired(ctx context.Context) ([]models.Battle, error)
	ListStakingBattles(ctx context.Context) ([]models.Battle, error)
	ListStuckBattles(ctx context.Context, cutoff time.Time, limit int) ([]models.Battle, error)
	MarkBattleBattling(ctx context.Context, id int64, startedAt time.Time) (bool, error)
	CompleteBattle(ctx context.Context, p db.CompleteBattleParams) error
	ListRecyclableArenas(ctx context.Context, cutoff time.Time) ([]string, error)
	ListUnsettledBattles(ctx context.Context, limit int) ([]models.Battle, error)
	UpsertStake(ctx context.Context, st *models.Stake) (*models.Stake, error)
	StakeExistsBySignature(ctx context.Context, signature string) (bool, error)
	UpsertArena(ctx context.Context, a *models.Arena) error
}

// Ledger is the on-ledger surface, satisfied by *ledger.Bridge. Nil when the
// deployment runs off-ledger.
type Ledger interface {
	OraclePubkey() string
	ArenaAddress() (string, error)
	InitializeArena(ctx context.Context) (string, error)
	SettleGame(ctx context.Context, arenaAddress string, winner uint8) error
	ResetArena(ctx context.Context, arenaAddress string) error
	FetchArena(ctx context.Context, arenaAddress string) (*ledger.ArenaAccount, error)
	VaultEmpty(ctx context.Context) (bool, error)
	VerifyStakeTransaction(ctx context.Context, signature, arenaAddress string) (bool, error)
}

// Events is the spectator fan-out surface, satisfied by *hub.Hub.
type Events interface {
	Emit(room, event string, payload any)
	EmitAll(event string, payload any)
}

// Runner executes one battle, satisfied by *engine.Engine.
type Runner interface {
	Run(ctx context.Context, agentA, agentB *models.Agent, mode models.GameMode, opts engine.Options) engine.BattleResult
}

// Options carries the deployment switches the coordinator honours.
type Options struct {
	EnableStaking      bool
	EnableOnChainArena bool
	LogInterval        time.Duration
	MaxConcurrent      int
}

// Coordinator runs battles from match to settlement.
type Coordinator struct {
	store  Store
	ledger Ledger
	events Events
	engine Runner
	opts   Options

	// slots caps concurrently running battles.
	slots chan struct{}

	// verified caches positive stake-transaction checks by signature.
	verified *expirable.LRU[string, bool]

	recovering atomic.Bool
	recycling  atomic.Bool
}

// New wires a coordinator. ledgerBridge may be nil for off-ledger deployments.
func New(store Store, ledgerBridge Ledger, events Events, runner Runner, opts Options) *Coordinator {
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 1
	}
	return &Coordinator{
		store:    store,
		ledger:   ledgerBridge,
		events:   events,
		engine:   runner,
		opts:     opts,
		slots:    make(chan struct{}, opts.MaxConcurrent),
		verified: expirable.NewLRU[string, bool](verifyCacheSize, nil, verifyCacheTTL),
	}
}

// Start launches the background loops. They stop when ctx is cancelled.
func (c *Coordinator) Start(ctx context.Context) {
	go c.loop(ctx, "readiness", readinessInterval, c.promoteReady)
	go c.loop(ctx, "countdown", countdownInterval, c.broadcastCountdowns)
	go c.loop(ctx, "recovery", recoveryInterval, c.recoverStuck)
	if c.opts.EnableOnChainArena && c.ledger != nil {
		go c.loop(ctx, "recycling", recycleInterval, c.recycleArenas)
	}
	log.Printf("[Coordinator] started (staking=%v, onchain=%v, max %d concurrent)",
		c.opts.EnableStaking, c.opts.EnableOnChainArena, c.opts.MaxConcurrent)
}

func (c *Coordinator) loop(ctx context.Context, name string, every time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Printf("[Coordinator] %s loop stopped", name)
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}
