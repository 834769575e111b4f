package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/notnil/chess"

	"github.com/agentarena/arena-engine/pkg/models"
)

// AgentResponse is what an agent answers with: the contest response plus any
// internal logs it wants streamed verbatim to spectators.
type AgentResponse struct {
	Response any      `json:"response"`
	Logs     []string `json:"logs,omitempty"`
}

// AgentClient invokes one side's agent for a challenge.
type AgentClient interface {
	Invoke(ctx context.Context, challenge *Challenge) (*AgentResponse, error)
}

// AgentFailure marks a non-fatal agent-side failure: the battle continues and
// the other side can still score.
type AgentFailure struct {
	Pubkey string
	Reason string
}

func (e *AgentFailure) Error() string {
	return fmt.Sprintf("agent %s failed: %s", e.Pubkey, e.Reason)
}

const remoteAgentTimeout = 30 * time.Second

// RemoteClient POSTs the challenge to the agent's external endpoint.
type RemoteClient struct {
	Agent      *models.Agent
	HTTPClient *http.Client
}

func (c *RemoteClient) Invoke(ctx context.Context, challenge *Challenge) (*AgentResponse, error) {
	client := c.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: remoteAgentTimeout}
	}

	body, err := json.Marshal(map[string]any{"challenge": challenge})
	if err != nil {
		return nil, &AgentFailure{Pubkey: c.Agent.Pubkey, Reason: "encode challenge: " + err.Error()}
	}

	reqCtx, cancel := context.WithTimeout(ctx, remoteAgentTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.Agent.EndpointURL, bytes.NewReader(body))
	if err != nil {
		return nil, &AgentFailure{Pubkey: c.Agent.Pubkey, Reason: "build request: " + err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, &AgentFailure{Pubkey: c.Agent.Pubkey, Reason: "endpoint unreachable: " + err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &AgentFailure{Pubkey: c.Agent.Pubkey, Reason: fmt.Sprintf("endpoint returned %d", resp.StatusCode)}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &AgentFailure{Pubkey: c.Agent.Pubkey, Reason: "read body: " + err.Error()}
	}

	var out AgentResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &AgentFailure{Pubkey: c.Agent.Pubkey, Reason: "malformed response body"}
	}
	return &out, nil
}

// MockClient emits a plausible deterministic response per discipline. Used
// for agents without a registered endpoint.
type MockClient struct {
	Agent *models.Agent
	Seed  int64
}

func (c *MockClient) Invoke(_ context.Context, challenge *Challenge) (*AgentResponse, error) {
	switch challenge.GameMode {
	case models.GameModePricePrediction:
		return c.mockPrice(challenge.Price)
	case models.GameModeCodeProblem:
		return c.mockCode(challenge.Code)
	case models.GameModeChessMidgame:
		return c.mockChess(challenge.Chess)
	}
	return nil, &AgentFailure{Pubkey: c.Agent.Pubkey, Reason: "unsupported game mode"}
}

// mockPrice perturbs the last close by up to ±0.2%.
func (c *MockClient) mockPrice(p *PriceChallenge) (*AgentResponse, error) {
	if p == nil || len(p.Bars) == 0 {
		return nil, &AgentFailure{Pubkey: c.Agent.Pubkey, Reason: "empty price challenge"}
	}
	last := p.Bars[len(p.Bars)-1].Close
	pred := last * (1 + (SeededRandom(c.Seed)-0.5)*0.004)
	return &AgentResponse{
		Response: pred,
		Logs:     []string{fmt.Sprintf("analyzed %d bars, last close %.4f", len(p.Bars), last)},
	}, nil
}

// mockChess plays a random legal move from the published position.
func (c *MockClient) mockChess(ch *ChessChallenge) (*AgentResponse, error) {
	if ch == nil {
		return nil, &AgentFailure{Pubkey: c.Agent.Pubkey, Reason: "empty chess challenge"}
	}
	fenOpt, err := chess.FEN(ch.FEN)
	if err != nil {
		return nil, &AgentFailure{Pubkey: c.Agent.Pubkey, Reason: "invalid position"}
	}
	game := chess.NewGame(fenOpt)
	moves := game.ValidMoves()
	if len(moves) == 0 {
		return nil, &AgentFailure{Pubkey: c.Agent.Pubkey, Reason: "no legal moves"}
	}
	move := moves[newRNG(c.Seed).intn(len(moves))]
	encoded := chess.UCINotation{}.Encode(game.Position(), move)
	return &AgentResponse{
		Response: encoded,
		Logs:     []string{fmt.Sprintf("considered %d candidate moves", len(moves))},
	}, nil
}

// mockSolutions are canned snippets for the catalogue problems.
var mockSolutions = map[string]string{
	"sumArray":       "function sumArray(nums) { let s = 0; for (const n of nums) s += n; return s; }",
	"reverseString":  "function reverseString(s) { return s.split('').reverse().join(''); }",
	"fibonacci":      "function fibonacci(n) { let a = 0, b = 1; for (let i = 0; i < n; i++) { const t = a + b; a = b; b = t; } return a; }",
	"isPalindrome":   "function isPalindrome(s) { return s === s.split('').reverse().join(''); }",
	"maxSubarraySum": "function maxSubarraySum(nums) { let best = nums[0], cur = nums[0]; for (let i = 1; i < nums.length; i++) { cur = Math.max(nums[i], cur + nums[i]); best = Math.max(best, cur); } return best; }",
	"countVowels":    "function countVowels(s) { let n = 0; for (const ch of s) if ('aeiou'.includes(ch)) n++; return n; }",
	"twoSum":         "function twoSum(nums, target) { const seen = {}; for (let i = 0; i < nums.length; i++) { const want = target - nums[i]; if (seen[want] !== undefined) return [seen[want], i]; seen[nums[i]] = i; } return []; }",
	"factorial":      "function factorial(n) { let r = 1; for (let i = 2; i <= n; i++) r *= i; return r; }",
}

func (c *MockClient) mockCode(code *CodeChallenge) (*AgentResponse, error) {
	if code == nil {
		return nil, &AgentFailure{Pubkey: c.Agent.Pubkey, Reason: "empty code challenge"}
	}
	snippet, ok := mockSolutions[code.FunctionName]
	if !ok {
		snippet = fmt.Sprintf("function %s() { return null; }", code.FunctionName)
	}
	return &AgentResponse{
		Response: snippet,
		Logs:     []string{"drafted solution for " + code.FunctionName},
	}, nil
}

// SelectClient returns a remote client when the agent has an endpoint and is
// active, otherwise a deterministic mock seeded per side.
func SelectClient(agent *models.Agent, seed int64, side int) AgentClient {
	if agent.EndpointURL != "" && agent.Status == models.AgentActive {
		return &RemoteClient{Agent: agent}
	}
	// seed*31+side keeps the two mock sides of one battle distinct.
	return &MockClient{Agent: agent, Seed: seed*31 + int64(side)}
}
