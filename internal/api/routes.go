// Package api is the HTTP surface: matchmaking, battles, wagers, arenas,
// oracle signing, webhook ingestion, and health.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agentarena/arena-engine/internal/config"
	"github.com/agentarena/arena-engine/internal/coordinator"
	"github.com/agentarena/arena-engine/internal/db"
	"github.com/agentarena/arena-engine/internal/hub"
	"github.com/agentarena/arena-engine/internal/indexer"
	"github.com/agentarena/arena-engine/internal/ledger"
	"github.com/agentarena/arena-engine/internal/matchmaker"
)

// Handler carries the wired subsystems behind the HTTP routes.
type Handler struct {
	store  *db.Store
	match  *matchmaker.Matchmaker
	coord  *coordinator.Coordinator
	wsHub  *hub.Hub
	idx    *indexer.Indexer
	auth   *AuthService
	signer *ledger.OracleSigner // nil outside multisig mode
	rpc    *ledger.Client       // nil off-ledger
	oracle string               // oracle pubkey, empty off-ledger

	startedAt time.Time
}

// Deps is everything SetupRouter needs. Ledger-related fields may be nil.
type Deps struct {
	Config *config.Config
	Store  *db.Store
	Match  *matchmaker.Matchmaker
	Coord  *coordinator.Coordinator
	Hub    *hub.Hub
	Index  *indexer.Indexer
	Auth   *AuthService
	Signer *ledger.OracleSigner
	RPC    *ledger.Client
	Oracle string
}

// SetupRouter builds the full route table.
func SetupRouter(d Deps) *gin.Engine {
	r := gin.Default()
	r.Use(corsMiddleware(d.Config.CORSOrigin))

	h := &Handler{
		store:     d.Store,
		match:     d.Match,
		coord:     d.Coord,
		wsHub:     d.Hub,
		idx:       d.Index,
		auth:      d.Auth,
		signer:    d.Signer,
		rpc:       d.RPC,
		oracle:    d.Oracle,
		startedAt: time.Now(),
	}

	limiter := NewRateLimiter(120, 30)

	r.GET("/health", h.handleHealth)
	r.GET("/ws", d.Hub.ServeWS)

	api := r.Group("/api", limiter.Middleware())
	{
		api.POST("/auth/nonce", h.handleAuthNonce)
		api.POST("/auth/verify", h.handleAuthVerify)

		api.POST("/agents/register", h.handleRegisterAgent)
		api.GET("/agents", h.handleListAgents)
		api.GET("/agents/:pubkey", h.handleGetAgent)
		api.GET("/agents/:pubkey/history", h.handleAgentHistory)

		api.POST("/matchmaking/enter", d.Auth.RequireSession(), h.handleEnterQueue)
		api.POST("/matchmaking/leave", d.Auth.RequireSession(), h.handleLeaveQueue)
		api.GET("/matchmaking/status/:pubkey", h.handleQueueStatus)
		api.GET("/matchmaking/battles", h.handleRecentBattles)
		api.GET("/matchmaking/battle/:id", h.handleGetBattle)
		api.POST("/matchmaking/stake", d.Auth.RequireSession(), h.handlePlaceStake)

		api.POST("/battle/start", d.Auth.RequireSession(), h.handleStartBattle)

		api.POST("/arena/reset", d.Auth.RequireSession(), h.handleArenaReset)
		api.POST("/arena/sync", h.handleArenaSync)
		api.GET("/arena/active", h.handleArenasActive)
		api.GET("/arena/settled", h.handleArenasSettled)
		api.GET("/arena/:address", h.handleGetArena)

		api.POST("/oracle/sign", h.handleOracleSign)
		api.POST("/oracle/sign-reset", h.handleOracleSignReset)

		api.POST("/webhook", h.handleWebhook)
	}

	return r
}

// corsMiddleware reflects the configured origin; empty allows any.
func corsMiddleware(origin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed := origin
		if allowed == "" {
			allowed = "*"
		} else {
			reqOrigin := c.Request.Header.Get("Origin")
			match := ""
			for _, o := range strings.Split(origin, ",") {
				if strings.TrimSpace(o) == reqOrigin {
					match = reqOrigin
					break
				}
			}
			allowed = match
		}
		if allowed != "" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", allowed)
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Accept, Origin, X-Requested-With, X-Webhook-Signature")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// fail writes the uniform error envelope.
func fail(c *gin.Context, status int, msg string, details ...string) {
	body := gin.H{"ok": false, "error": msg}
	if len(details) > 0 {
		body["details"] = details[0]
	}
	c.JSON(status, body)
}

func ok(c *gin.Context, data gin.H) {
	data["ok"] = true
	c.JSON(http.StatusOK, data)
}

func (h *Handler) handleAuthNonce(c *gin.Context) {
	// Older clients send "wallet"; the documented field is "walletAddress".
	var req struct {
		WalletAddress string `json:"walletAddress"`
		Wallet        string `json:"wallet"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "walletAddress required")
		return
	}
	wallet := req.WalletAddress
	if wallet == "" {
		wallet = req.Wallet
	}
	if wallet == "" {
		fail(c, http.StatusBadRequest, "walletAddress required")
		return
	}
	ok(c, gin.H{"nonce": h.auth.Nonce(wallet)})
}

func (h *Handler) handleAuthVerify(c *gin.Context) {
	var req struct {
		WalletAddress string `json:"walletAddress"`
		Wallet        string `json:"wallet"`
		Signature     string `json:"signature" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "walletAddress and signature required")
		return
	}
	wallet := req.WalletAddress
	if wallet == "" {
		wallet = req.Wallet
	}
	if wallet == "" {
		fail(c, http.StatusBadRequest, "walletAddress and signature required")
		return
	}
	token, err := h.auth.Verify(wallet, req.Signature)
	if err != nil {
		fail(c, http.StatusUnauthorized, "authentication failed", err.Error())
		return
	}
	ok(c, gin.H{"token": token})
}

func (h *Handler) handleEnterQueue(c *gin.Context) {
	var req struct {
		AgentPubkey string `json:"agentPubkey" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "agentPubkey required")
		return
	}
	entry, err := h.match.EnterQueue(c.Request.Context(), req.AgentPubkey)
	if err != nil {
		fail(c, queueErrorStatus(err), err.Error())
		return
	}
	ok(c, gin.H{"entry": entry})
}

func (h *Handler) handleLeaveQueue(c *gin.Context) {
	var req struct {
		AgentPubkey string `json:"agentPubkey" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "agentPubkey required")
		return
	}
	if err := h.match.LeaveQueue(c.Request.Context(), req.AgentPubkey); err != nil {
		fail(c, queueErrorStatus(err), err.Error())
		return
	}
	ok(c, gin.H{})
}

func queueErrorStatus(err error) int {
	switch {
	case errors.Is(err, matchmaker.ErrAgentNotFound):
		return http.StatusNotFound
	case errors.Is(err, matchmaker.ErrAgentInactive),
		errors.Is(err, matchmaker.ErrAlreadyQueued),
		errors.Is(err, matchmaker.ErrInBattle),
		errors.Is(err, matchmaker.ErrNotQueued):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (h *Handler) handleQueueStatus(c *gin.Context) {
	pubkey := c.Param("pubkey")
	ctx := c.Request.Context()

	agent, err := h.store.GetAgent(ctx, pubkey)
	if errors.Is(err, db.ErrNotFound) {
		fail(c, http.StatusNotFound, "agent not found")
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, "lookup failed", err.Error())
		return
	}

	resp := gin.H{"queueStatus": agent.QueueStatus}
	if entry, err := h.store.GetQueueEntry(ctx, pubkey); err == nil {
		resp["entry"] = entry
	}
	if battle, err := h.store.GetActiveBattleForAgent(ctx, pubkey); err == nil {
		resp["battle"] = battle
	}
	ok(c, resp)
}

func (h *Handler) handleRecentBattles(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if limit < 1 || limit > 100 {
		limit = 20
	}
	battles, err := h.store.ListRecentBattles(c.Request.Context(), limit)
	if err != nil {
		fail(c, http.StatusInternalServerError, "failed to list battles", err.Error())
		return
	}
	ok(c, gin.H{"battles": battles})
}

func (h *Handler) handleGetBattle(c *gin.Context) {
	battle, err := h.store.GetBattleByExternalID(c.Request.Context(), c.Param("id"))
	if errors.Is(err, db.ErrNotFound) {
		fail(c, http.StatusNotFound, "battle not found")
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, "lookup failed", err.Error())
		return
	}
	stakes, err := h.store.ListStakesForBattle(c.Request.Context(), battle.ID)
	if err != nil {
		fail(c, http.StatusInternalServerError, "lookup failed", err.Error())
		return
	}
	ok(c, gin.H{"battle": battle, "stakes": stakes})
}

func (h *Handler) handlePlaceStake(c *gin.Context) {
	var req struct {
		BattleID    string `json:"battleId" binding:"required"`
		UserAddress string `json:"userAddress" binding:"required"`
		Side        *int   `json:"side"`
		AgentPubkey string `json:"agentPubkey"`
		Amount      int64  `json:"amount"`
		TxSignature string `json:"txSignature"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "malformed stake request")
		return
	}

	stake, err := h.coord.PlaceStake(c.Request.Context(), coordinator.StakeRequest{
		BattleID:    req.BattleID,
		UserAddress: req.UserAddress,
		Side:        req.Side,
		AgentPubkey: req.AgentPubkey,
		Amount:      req.Amount,
		TxSignature: req.TxSignature,
	})
	if err != nil {
		fail(c, stakeErrorStatus(err), err.Error())
		return
	}
	ok(c, gin.H{"stake": stake})
}

func stakeErrorStatus(err error) int {
	switch {
	case errors.Is(err, coordinator.ErrBattleNotFound):
		return http.StatusNotFound
	case errors.Is(err, coordinator.ErrStakingClosed):
		return http.StatusConflict
	case errors.Is(err, coordinator.ErrInvalidSide),
		errors.Is(err, coordinator.ErrInvalidAmount),
		errors.Is(err, coordinator.ErrSignatureRequired):
		return http.StatusBadRequest
	case errors.Is(err, coordinator.ErrUnverifiedStake):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (h *Handler) handleStartBattle(c *gin.Context) {
	var req struct {
		AgentA string `json:"agentA" binding:"required"`
		AgentB string `json:"agentB" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "agentA and agentB required")
		return
	}
	battle, err := h.coord.CreateBattle(c.Request.Context(), req.AgentA, req.AgentB)
	if err != nil {
		status := http.StatusConflict
		if errors.Is(err, coordinator.ErrAgentNotFound) {
			status = http.StatusNotFound
		}
		fail(c, status, err.Error())
		return
	}
	ok(c, gin.H{"battle": battle})
}
