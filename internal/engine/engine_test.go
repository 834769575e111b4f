package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/agentarena/arena-engine/internal/sandbox"
	"github.com/agentarena/arena-engine/pkg/models"
)

func testAgents() (*models.Agent, *models.Agent) {
	return &models.Agent{Pubkey: "agent-a", Name: "Alpha", Status: models.AgentActive},
		&models.Agent{Pubkey: "agent-b", Name: "Beta", Status: models.AgentActive}
}

// scriptedClient answers with a fixed response or error per side.
type scriptedClient struct {
	resp *AgentResponse
	err  error
}

func (c *scriptedClient) Invoke(context.Context, *Challenge) (*AgentResponse, error) {
	return c.resp, c.err
}

func scripted(responses [2]*AgentResponse, errs [2]error) func(*models.Agent, int64, int) AgentClient {
	return func(_ *models.Agent, _ int64, side int) AgentClient {
		return &scriptedClient{resp: responses[side], err: errs[side]}
	}
}

func newTestEngine() *Engine {
	return New(&stubExecutor{})
}

// A battle where both agents fail must still complete with a winner and a
// summary; nothing may escape Run.
func TestRunBothAgentsFail(t *testing.T) {
	e := newTestEngine()
	e.NewClient = scripted(
		[2]*AgentResponse{nil, nil},
		[2]error{errors.New("boom"), errors.New("bust")},
	)

	a, b := testAgents()
	seed := int64(42)
	result := e.Run(context.Background(), a, b, models.GameModePricePrediction, Options{Seed: &seed})

	if result.Winner != 0 {
		t.Errorf("tie of failures should resolve to side 0, got %d", result.Winner)
	}
	if result.Summary == "" {
		t.Error("missing summary")
	}

	// Both failures must be visible in the streamed logs.
	var sawA, sawB bool
	for _, entry := range result.Logs {
		if entry.Type == "error" && entry.Side == 0 {
			sawA = true
		}
		if entry.Type == "error" && entry.Side == 1 {
			sawB = true
		}
	}
	if !sawA || !sawB {
		t.Errorf("expected error logs for both sides (a=%v b=%v)", sawA, sawB)
	}
}

// A panicking client counts as that side's failure, not an engine fault.
func TestRunClientPanicLosesBattle(t *testing.T) {
	e := newTestEngine()
	seed := int64(7)
	_, truth, err := GenerateChallenge(models.GameModePricePrediction, seed)
	if err != nil {
		t.Fatal(err)
	}

	e.NewClient = func(_ *models.Agent, _ int64, side int) AgentClient {
		if side == 0 {
			return panickyClient{}
		}
		return &scriptedClient{resp: &AgentResponse{Response: truth.FutureClose}}
	}

	a, b := testAgents()
	result := e.Run(context.Background(), a, b, models.GameModePricePrediction, Options{Seed: &seed})
	if result.Winner != 1 {
		t.Errorf("winner = %d, want 1 (side 0 panicked)", result.Winner)
	}
}

type panickyClient struct{}

func (panickyClient) Invoke(context.Context, *Challenge) (*AgentResponse, error) {
	panic("client exploded")
}

// The exact prediction beats a perturbed one; final dominance pins to 100
// for side 0.
func TestRunPriceBattleWinnerAndDominance(t *testing.T) {
	seed := int64(1234)
	_, truth, err := GenerateChallenge(models.GameModePricePrediction, seed)
	if err != nil {
		t.Fatal(err)
	}

	e := newTestEngine()
	e.NewClient = scripted(
		[2]*AgentResponse{
			{Response: truth.FutureClose},
			{Response: truth.FutureClose * 1.05},
		},
		[2]error{nil, nil},
	)

	var dominance []int
	a, b := testAgents()
	result := e.Run(context.Background(), a, b, models.GameModePricePrediction, Options{
		Seed:        &seed,
		OnDominance: func(d int) { dominance = append(dominance, d) },
	})

	if result.Winner != 0 {
		t.Fatalf("winner = %d, want 0", result.Winner)
	}
	if result.ScoreA != 0 {
		t.Errorf("exact prediction scored %v, want 0", result.ScoreA)
	}
	if len(dominance) == 0 || dominance[len(dominance)-1] != 100 {
		t.Errorf("final dominance = %v, want trailing 100", dominance)
	}
}

// Emission ordering: the entry logs come first, the win log last, and every
// streamed entry also lands in the result's log vector in the same order.
func TestRunLogOrdering(t *testing.T) {
	seed := int64(5)
	e := newTestEngine()
	e.NewClient = scripted(
		[2]*AgentResponse{
			{Response: 150.0, Logs: []string{"thinking..."}},
			{Response: 151.0},
		},
		[2]error{nil, nil},
	)

	var streamed []models.BattleLog
	a, b := testAgents()
	result := e.Run(context.Background(), a, b, models.GameModePricePrediction, Options{
		Seed:  &seed,
		OnLog: func(entry models.BattleLog) { streamed = append(streamed, entry) },
	})

	if len(streamed) != len(result.Logs) {
		t.Fatalf("streamed %d entries, result has %d", len(streamed), len(result.Logs))
	}
	for i := range streamed {
		if streamed[i].Message != result.Logs[i].Message {
			t.Fatalf("entry %d diverges: %q vs %q", i, streamed[i].Message, result.Logs[i].Message)
		}
	}

	if !strings.Contains(streamed[0].Message, "entered the arena") {
		t.Errorf("first log = %q", streamed[0].Message)
	}
	last := streamed[len(streamed)-1]
	if last.Type != "success" || !strings.Contains(last.Message, "wins the battle") {
		t.Errorf("last log = %+v", last)
	}

	// The agent's own log line streams verbatim, attributed to its side.
	var sawAgentLog bool
	for _, entry := range streamed {
		if entry.Message == "thinking..." && entry.Side == 0 {
			sawAgentLog = true
		}
	}
	if !sawAgentLog {
		t.Error("agent-provided log line was not streamed")
	}
}

// Chess: the only legal mover wins regardless of evaluation.
func TestRunChessSoleLegalMoverWins(t *testing.T) {
	seed := int64(11)
	challenge, _, err := GenerateChallenge(models.GameModeChessMidgame, seed)
	if err != nil {
		t.Fatal(err)
	}

	// Side 1 plays a real legal move from the position via the mock client;
	// side 0 answers garbage.
	a, b := testAgents()
	mock := &MockClient{Agent: b, Seed: 99}
	resp, err := mock.Invoke(context.Background(), challenge)
	if err != nil {
		t.Fatalf("mock move: %v", err)
	}

	e := newTestEngine()
	e.NewClient = scripted(
		[2]*AgentResponse{{Response: "not-a-move"}, resp},
		[2]error{nil, nil},
	)

	result := e.Run(context.Background(), a, b, models.GameModeChessMidgame, Options{Seed: &seed})
	if result.Winner != 1 {
		t.Errorf("winner = %d, want 1", result.Winner)
	}
}

// Code: pass counts decide, elapsed time breaks ties.
func TestRunCodeTieBreak(t *testing.T) {
	seed := int64(21)

	// The stub executor differentiates the two sides by code marker.
	exec := &markerExecutor{}
	e := &Engine{Code: &CodeValidator{Exec: exec}}
	e.NewClient = scripted(
		[2]*AgentResponse{
			{Response: "/*slow*/ function f(){}"},
			{Response: "/*fast*/ function f(){}"},
		},
		[2]error{nil, nil},
	)

	a, b := testAgents()
	result := e.Run(context.Background(), a, b, models.GameModeCodeProblem, Options{Seed: &seed})
	if result.Winner != 1 {
		t.Errorf("winner = %d, want 1 (same passes, faster run)", result.Winner)
	}
}

type markerExecutor struct{}

func (markerExecutor) Execute(_ context.Context, job sandbox.Job) sandbox.Result {
	res := sandbox.Result{Passed: len(job.Tests), Total: len(job.Tests), ElapsedMs: 40}
	if strings.Contains(job.Code, "/*fast*/") {
		res.ElapsedMs = 8
	}
	return res
}

func TestDominanceScore(t *testing.T) {
	cases := []struct {
		name          string
		a, b          float64
		lowerIsBetter bool
		want          int
	}{
		{"price: A perfect", 0, 10, true, 100},
		{"price: B perfect", 10, 0, true, 0},
		{"price: even", 5, 5, true, 50},
		{"higher: A ahead", 75, 25, false, 75},
		{"higher: even", 10, 10, false, 50},
		{"both zero", 0, 0, true, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := dominanceScore(tc.a, tc.b, tc.lowerIsBetter); got != tc.want {
				t.Errorf("dominance(%v, %v) = %d, want %d", tc.a, tc.b, got, tc.want)
			}
		})
	}
}
