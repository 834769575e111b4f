package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/agentarena/arena-engine/internal/api"
	"github.com/agentarena/arena-engine/internal/config"
	"github.com/agentarena/arena-engine/internal/coordinator"
	"github.com/agentarena/arena-engine/internal/db"
	"github.com/agentarena/arena-engine/internal/engine"
	"github.com/agentarena/arena-engine/internal/hub"
	"github.com/agentarena/arena-engine/internal/indexer"
	"github.com/agentarena/arena-engine/internal/ledger"
	"github.com/agentarena/arena-engine/internal/matchmaker"
	"github.com/agentarena/arena-engine/internal/sandbox"
)

// protocolFeeBps is the fee withheld from the losing pool on settlement.
const protocolFeeBps = 250

func main() {
	log.Println("Starting Agent Arena engine...")

	// .env is a local-development convenience; production injects the
	// environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The database is mandatory: matches, ratings and wagers live here.
	store, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("FATAL: database connection failed: %v", err)
	}
	defer store.Close()
	if err := store.InitSchema(ctx); err != nil {
		log.Fatalf("FATAL: schema init failed: %v", err)
	}

	// Ledger wiring is optional; without a program id the platform runs
	// off-ledger with unsigned wagers.
	var (
		bridge      *ledger.Bridge
		rpcClient   *ledger.Client
		signer      *ledger.OracleSigner
		oraclePub   string
		coordBridge coordinator.Ledger
	)
	if cfg.ArenaProgramID != "" && cfg.OraclePrivateKey != "" {
		program, err := ledger.PublicKeyFromBase58(cfg.ArenaProgramID)
		if err != nil {
			log.Fatalf("FATAL: invalid ARENA_PROGRAM_ID: %v", err)
		}
		oracleKey, err := ledger.ParsePrivateKey(cfg.OraclePrivateKey)
		if err != nil {
			log.Fatalf("FATAL: invalid ORACLE_PRIVATE_KEY: %v", err)
		}

		rpcClient = ledger.NewClient(cfg.SolanaRPCURL)
		bridge = ledger.NewBridge(rpcClient, program, oracleKey, protocolFeeBps)
		oraclePub = bridge.OraclePubkey()
		coordBridge = bridge

		if cfg.UseMultisigOracle {
			signer = ledger.NewOracleSigner(cfg.OracleNodeIndex, oracleKey)
			peers := make([]ledger.Peer, 0, len(cfg.PeerOracles))
			for _, p := range cfg.PeerOracles {
				peers = append(peers, ledger.Peer{Index: p.Index, Pubkey: p.Pubkey, URL: p.URL})
			}
			bridge.Multisig = &ledger.MultisigCollector{
				SelfIndex: cfg.OracleNodeIndex,
				Key:       oracleKey,
				Peers:     peers,
			}
			log.Printf("[Main] multisig oracle enabled, node %d of %d", cfg.OracleNodeIndex, len(peers))
		}
		log.Printf("[Main] ledger bridge ready, oracle %s", oraclePub)
	} else {
		log.Println("[Main] no ledger configured, running off-ledger")
	}

	wsHub := hub.NewHub()
	battleEngine := engine.New(&sandbox.ProcessExecutor{})

	coord := coordinator.New(store, coordBridge, wsHub, battleEngine, coordinator.Options{
		EnableStaking:      cfg.EnableStaking,
		EnableOnChainArena: cfg.EnableOnChainArena,
		LogInterval:        cfg.LogInterval,
		MaxConcurrent:      cfg.MaxConcurrentBattles,
	})
	coord.Start(ctx)

	match := matchmaker.New(store, coord.PairEntries)
	go match.Run(ctx)

	auth := api.NewAuthService()
	wsHub.ValidateToken = auth.ValidateToken
	wsHub.RequestBattle = coord.RequestBattle

	var ix *indexer.Indexer
	if cfg.WebhookSecret != "" && cfg.ArenaProgramID != "" {
		ix = indexer.New(store, coord, cfg.ArenaProgramID, cfg.WebhookSecret)
	}

	router := api.SetupRouter(api.Deps{
		Config: cfg,
		Store:  store,
		Match:  match,
		Coord:  coord,
		Hub:    wsHub,
		Index:  ix,
		Auth:   auth,
		Signer: signer,
		RPC:    rpcClient,
		Oracle: oraclePub,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("[Main] listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("FATAL: server failed: %v", err)
		}
	}()

	// Graceful shutdown: stop accepting, let in-flight battles settle their
	// database writes, then exit.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("[Main] shutting down...")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[Main] shutdown incomplete: %v", err)
	}
	log.Println("[Main] bye")
}
