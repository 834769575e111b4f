package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agentarena/arena-engine/internal/db"
	"github.com/agentarena/arena-engine/internal/indexer"
	"github.com/agentarena/arena-engine/pkg/models"
)

// endpointProbeTimeout bounds the registration-time health check of an
// agent's external endpoint.
const endpointProbeTimeout = 10 * time.Second

func (h *Handler) handleRegisterAgent(c *gin.Context) {
	var req struct {
		Pubkey      string `json:"pubkey" binding:"required"`
		Name        string `json:"name" binding:"required"`
		Discipline  string `json:"discipline" binding:"required"`
		EndpointURL string `json:"endpointUrl"`
		OwnerWallet string `json:"ownerWallet" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "pubkey, name, discipline and ownerWallet required")
		return
	}
	discipline := models.Discipline(req.Discipline)
	if !models.ValidDiscipline(discipline) {
		fail(c, http.StatusBadRequest, "unknown discipline: "+req.Discipline)
		return
	}

	// A registered endpoint must answer a POST with 2xx before we accept it;
	// agents without one battle through the built-in mock.
	if req.EndpointURL != "" && !probeEndpoint(req.EndpointURL) {
		fail(c, http.StatusBadRequest, "endpoint health check failed",
			"endpoint did not answer 2xx within "+endpointProbeTimeout.String())
		return
	}

	agent := &models.Agent{
		Pubkey:      req.Pubkey,
		Name:        req.Name,
		Discipline:  discipline,
		EndpointURL: req.EndpointURL,
		OwnerWallet: req.OwnerWallet,
		Status:      models.AgentActive,
		Elo:         1000,
	}
	if err := h.store.CreateAgent(c.Request.Context(), agent); err != nil {
		fail(c, http.StatusConflict, "registration failed", err.Error())
		return
	}
	ok(c, gin.H{"agent": agent})
}

func probeEndpoint(url string) bool {
	client := &http.Client{Timeout: endpointProbeTimeout}
	resp, err := client.Post(url, "application/json", strings.NewReader("{}"))
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode/100 == 2
}

func (h *Handler) handleListAgents(c *gin.Context) {
	agents, err := h.store.ListAgents(c.Request.Context(), 100)
	if err != nil {
		fail(c, http.StatusInternalServerError, "failed to list agents", err.Error())
		return
	}
	ok(c, gin.H{"agents": agents})
}

func (h *Handler) handleGetAgent(c *gin.Context) {
	agent, err := h.store.GetAgent(c.Request.Context(), c.Param("pubkey"))
	if errors.Is(err, db.ErrNotFound) {
		fail(c, http.StatusNotFound, "agent not found")
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, "lookup failed", err.Error())
		return
	}
	ok(c, gin.H{"agent": agent})
}

func (h *Handler) handleAgentHistory(c *gin.Context) {
	history, err := h.store.ListHistoryForAgent(c.Request.Context(), c.Param("pubkey"), 50)
	if err != nil {
		fail(c, http.StatusInternalServerError, "lookup failed", err.Error())
		return
	}
	ok(c, gin.H{"history": history})
}

func (h *Handler) handleArenaReset(c *gin.Context) {
	var req struct {
		Address string `json:"address" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "address required")
		return
	}
	alreadyActive, err := h.coord.RecycleArena(c.Request.Context(), req.Address)
	if err != nil {
		fail(c, http.StatusConflict, "reset failed", err.Error())
		return
	}
	resp := gin.H{"address": req.Address}
	if alreadyActive {
		resp["alreadyActive"] = true
	}
	ok(c, resp)
}

func (h *Handler) handleArenaSync(c *gin.Context) {
	var req struct {
		Address string `json:"address" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "address required")
		return
	}
	arena, err := h.coord.SyncArena(c.Request.Context(), req.Address)
	if err != nil {
		fail(c, http.StatusBadGateway, "sync failed", err.Error())
		return
	}
	ok(c, gin.H{"arena": arena})
}

func (h *Handler) handleArenasActive(c *gin.Context) {
	arenas, err := h.store.ListArenasByStatus(c.Request.Context(), models.ArenaLive)
	if err != nil {
		fail(c, http.StatusInternalServerError, "lookup failed", err.Error())
		return
	}
	ok(c, gin.H{"arenas": arenas})
}

func (h *Handler) handleArenasSettled(c *gin.Context) {
	arenas, err := h.store.ListArenasByStatus(c.Request.Context(), models.ArenaSettled)
	if err != nil {
		fail(c, http.StatusInternalServerError, "lookup failed", err.Error())
		return
	}
	ok(c, gin.H{"arenas": arenas})
}

func (h *Handler) handleGetArena(c *gin.Context) {
	arena, err := h.store.GetArena(c.Request.Context(), c.Param("address"))
	if errors.Is(err, db.ErrNotFound) {
		fail(c, http.StatusNotFound, "arena not found")
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, "lookup failed", err.Error())
		return
	}
	ok(c, gin.H{"arena": arena})
}

// Oracle signing endpoints serve peer oracles in multisig mode. Each nonce
// signs at most once; a replayed nonce is refused.

func (h *Handler) handleOracleSign(c *gin.Context) {
	if h.signer == nil {
		fail(c, http.StatusServiceUnavailable, "multisig oracle not enabled")
		return
	}
	var req struct {
		ArenaAddress string `json:"arenaAddress" binding:"required"`
		Winner       *uint8 `json:"winner" binding:"required"`
		Nonce        string `json:"nonce" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "arenaAddress, winner and nonce required")
		return
	}
	sig, err := h.signer.SignSettle(req.ArenaAddress, *req.Winner, req.Nonce)
	if err != nil {
		fail(c, http.StatusConflict, "signing refused", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"signature": sig})
}

func (h *Handler) handleOracleSignReset(c *gin.Context) {
	if h.signer == nil {
		fail(c, http.StatusServiceUnavailable, "multisig oracle not enabled")
		return
	}
	var req struct {
		ArenaAddress string `json:"arenaAddress" binding:"required"`
		Nonce        string `json:"nonce" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "arenaAddress and nonce required")
		return
	}
	sig, err := h.signer.SignReset(req.ArenaAddress, req.Nonce)
	if err != nil {
		fail(c, http.StatusConflict, "signing refused", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"signature": sig})
}

// handleWebhook ingests vendor-pushed program transactions. The body is
// authenticated with an HMAC over the raw bytes.
func (h *Handler) handleWebhook(c *gin.Context) {
	if h.idx == nil {
		fail(c, http.StatusServiceUnavailable, "indexer not enabled")
		return
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		fail(c, http.StatusBadRequest, "unreadable body")
		return
	}
	if !h.idx.VerifySignature(body, c.GetHeader("X-Webhook-Signature")) {
		fail(c, http.StatusUnauthorized, "webhook signature invalid")
		return
	}

	var events []indexer.WebhookEvent
	if err := unmarshalEvents(body, &events); err != nil {
		fail(c, http.StatusBadRequest, "malformed webhook payload", err.Error())
		return
	}

	for i := range events {
		if err := h.idx.Ingest(c.Request.Context(), &events[i]); err != nil {
			fail(c, http.StatusInternalServerError, "ingestion failed", err.Error())
			return
		}
	}
	ok(c, gin.H{"ingested": len(events)})
}

// unmarshalEvents accepts either one event or a batch.
func unmarshalEvents(body []byte, out *[]indexer.WebhookEvent) error {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return json.Unmarshal(trimmed, out)
	}
	var one indexer.WebhookEvent
	if err := json.Unmarshal(trimmed, &one); err != nil {
		return err
	}
	*out = []indexer.WebhookEvent{one}
	return nil
}

func (h *Handler) handleHealth(c *gin.Context) {
	ctx := c.Request.Context()

	dbHealthy := h.store.Ping(ctx) == nil
	rpcHealthy := false
	if h.rpc != nil {
		rpcHealthy = h.rpc.Healthy(ctx)
	}

	status := "operational"
	if !dbHealthy {
		status = "degraded"
	}

	resp := gin.H{
		"status":        status,
		"uptimeSeconds": int(time.Since(h.startedAt).Seconds()),
		"checks": gin.H{
			"database":  dbHealthy,
			"solanaRpc": rpcHealthy,
			"oracle":    h.oracle != "",
		},
	}
	if h.oracle != "" {
		resp["oraclePubkey"] = h.oracle
	}
	if h.idx != nil {
		resp["indexer"] = h.idx.Stats()
	}
	c.JSON(http.StatusOK, resp)
}
