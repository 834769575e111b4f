package engine

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/agentarena/arena-engine/internal/sandbox"
	"github.com/agentarena/arena-engine/pkg/models"
)

// Options tune a single battle run.
type Options struct {
	// Seed drives challenge generation and mock agents. Nil picks the clock.
	Seed *int64

	// OnLog and OnDominance are invoked synchronously from a single
	// producer; emissions within one run are totally ordered.
	OnLog       func(models.BattleLog)
	OnDominance func(int)

	// LogInterval paces streamed logs. Zero disables pacing (tests).
	LogInterval time.Duration
}

// BattleResult is the terminal outcome of one contest. Run always returns
// one, even when the engine itself faults.
type BattleResult struct {
	Winner     int                `json:"winner"` // 0 or 1
	GameMode   models.GameMode    `json:"gameMode"`
	DurationMs int64              `json:"durationMs"`
	Summary    string             `json:"summary"`
	ScoreA     float64            `json:"scoreA"`
	ScoreB     float64            `json:"scoreB"`
	Logs       []models.BattleLog `json:"logs"`
}

// Engine runs one contest end to end: generate, broadcast, score, stream.
type Engine struct {
	Code *CodeValidator

	// NewClient builds the per-side agent client. Nil uses SelectClient.
	NewClient func(agent *models.Agent, seed int64, side int) AgentClient
}

// New wires an engine around the given sandbox executor.
func New(exec sandbox.Executor) *Engine {
	return &Engine{Code: &CodeValidator{Exec: exec}}
}

// emitter serialises all log and dominance emissions for one run and keeps
// the result's log vector.
type emitter struct {
	mu   sync.Mutex
	logs []models.BattleLog
	opts Options
}

func (em *emitter) log(side int, typ, msg string) {
	em.mu.Lock()
	entry := models.BattleLog{Side: side, Type: typ, Message: msg, Timestamp: time.Now()}
	em.logs = append(em.logs, entry)
	if em.opts.OnLog != nil {
		em.opts.OnLog(entry)
	}
	em.mu.Unlock()
	if em.opts.LogInterval > 0 {
		time.Sleep(em.opts.LogInterval)
	}
}

func (em *emitter) dominance(d int) {
	em.mu.Lock()
	defer em.mu.Unlock()
	if em.opts.OnDominance != nil {
		em.opts.OnDominance(d)
	}
}

// Run executes one contest. Any uncaught fault reduces to a winner=0 default
// result with a diagnostic summary, so callers always see a terminal state.
func (e *Engine) Run(ctx context.Context, agentA, agentB *models.Agent, mode models.GameMode, opts Options) (result BattleResult) {
	em := &emitter{opts: opts}
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			result = BattleResult{
				Winner:     0,
				GameMode:   mode,
				DurationMs: time.Since(start).Milliseconds(),
				Summary:    fmt.Sprintf("battle aborted by engine fault: %v", r),
				Logs:       em.logs,
			}
		}
	}()

	seed := time.Now().UnixNano()
	if opts.Seed != nil {
		seed = *opts.Seed
	}

	em.log(0, "info", agentA.Name+" entered the arena")
	em.log(1, "info", agentB.Name+" entered the arena")

	challenge, truth, err := GenerateChallenge(mode, seed)
	if err != nil {
		panic(err)
	}
	em.log(0, "action", "challenge issued: "+string(mode))
	em.log(1, "action", "challenge issued: "+string(mode))

	newClient := e.NewClient
	if newClient == nil {
		newClient = SelectClient
	}
	clients := [2]AgentClient{
		newClient(agentA, seed, 0),
		newClient(agentB, seed, 1),
	}

	// Broadcast concurrently; collect or catch each side independently.
	type sideResult struct {
		resp *AgentResponse
		err  error
	}
	var results [2]sideResult
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					results[i].err = fmt.Errorf("agent client panic: %v", r)
				}
			}()
			results[i].resp, results[i].err = clients[i].Invoke(ctx, challenge)
		}(i)
	}
	wg.Wait()

	for i := 0; i < 2; i++ {
		if results[i].err != nil {
			em.log(i, "error", fmt.Sprintf("agent_%d failed: %v", i, results[i].err))
		}
	}

	// Agent-provided internal logs stream verbatim, attributed per side.
	for i := 0; i < 2; i++ {
		if results[i].resp == nil {
			continue
		}
		for _, line := range results[i].resp.Logs {
			em.log(i, "info", line)
		}
	}

	respA, respB := unwrap(results[0].resp), unwrap(results[1].resp)

	var (
		scoreA, scoreB float64
		lowerIsBetter  bool
		winner         int
		summary        string
	)

	switch mode {
	case models.GameModePricePrediction:
		lowerIsBetter = true
		a := ValidatePricePrediction(respA, truth.FutureClose)
		b := ValidatePricePrediction(respB, truth.FutureClose)
		scoreA, scoreB = a.Score, b.Score
		em.log(0, "info", priceVerdict(a))
		em.log(1, "info", priceVerdict(b))

		// Exact tie goes to side 0.
		if scoreB < scoreA {
			winner = 1
		}
		summary = fmt.Sprintf("price prediction: %s off by %s, %s off by %s",
			agentA.Name, fmtScore(scoreA), agentB.Name, fmtScore(scoreB))

	case models.GameModeCodeProblem:
		a := e.Code.Validate(ctx, respA, challenge.Code.FunctionName, truth.Tests)
		b := e.Code.Validate(ctx, respB, challenge.Code.FunctionName, truth.Tests)
		scoreA, scoreB = a.Composite(), b.Composite()
		em.log(0, "info", codeVerdict(a))
		em.log(1, "info", codeVerdict(b))

		// More tests passed wins; equal passes, faster execution wins.
		switch {
		case b.Passed > a.Passed:
			winner = 1
		case b.Passed == a.Passed && b.ElapsedMs < a.ElapsedMs:
			winner = 1
		}
		summary = fmt.Sprintf("code contest %s: %s passed %d/%d, %s passed %d/%d",
			challenge.Code.FunctionName, agentA.Name, a.Passed, a.Total, agentB.Name, b.Passed, b.Total)

	case models.GameModeChessMidgame:
		a := ValidateChessMove(truth.FEN, respA)
		b := ValidateChessMove(truth.FEN, respB)
		scoreA, scoreB = a.Score, b.Score
		em.log(0, "info", chessVerdict(a))
		em.log(1, "info", chessVerdict(b))

		// Sole legal mover wins; both illegal is a draw, resolved to side 0.
		switch {
		case a.Legal && !b.Legal:
			winner = 0
		case b.Legal && !a.Legal:
			winner = 1
		case scoreB > scoreA:
			winner = 1
		}
		summary = fmt.Sprintf("chess: %s played %s (%.0f), %s played %s (%.0f)",
			agentA.Name, orNone(a.Move), a.Score, agentB.Name, orNone(b.Move), b.Score)
	}

	em.dominance(dominanceScore(scoreA, scoreB, lowerIsBetter))

	winnerName := agentA.Name
	if winner == 1 {
		winnerName = agentB.Name
	}
	em.log(winner, "success", winnerName+" wins the battle")

	// Final dominance pins the verdict: 100 for side 0, 0 for side 1.
	if winner == 0 {
		em.dominance(100)
	} else {
		em.dominance(0)
	}

	return BattleResult{
		Winner:     winner,
		GameMode:   mode,
		DurationMs: time.Since(start).Milliseconds(),
		Summary:    summary,
		ScoreA:     scoreA,
		ScoreB:     scoreB,
		Logs:       em.logs,
	}
}

// dominanceScore maps the two raw scores to an integer percent in [0,100]
// describing how decisively side A is ahead.
func dominanceScore(scoreA, scoreB float64, lowerIsBetter bool) int {
	const eps = 1e-9

	// Cap infinities so the ratio stays meaningful when a side failed.
	clip := func(v float64) float64 {
		if math.IsNaN(v) {
			return 0
		}
		if math.IsInf(v, 1) || v > 1e12 {
			return 1e12
		}
		if math.IsInf(v, -1) || v < -1e12 {
			return -1e12
		}
		return v
	}
	sA, sB := clip(scoreA), clip(scoreB)

	var d float64
	if lowerIsBetter {
		d = sB / (sA + sB + eps)
	} else {
		d = sA / (sA + sB + eps)
	}
	if math.IsNaN(d) || d < 0 {
		d = 0
	}
	if d > 1 {
		d = 1
	}
	return int(math.Round(d * 100))
}

func unwrap(resp *AgentResponse) any {
	if resp == nil {
		return nil
	}
	return resp.Response
}

func priceVerdict(s PriceScore) string {
	if !s.Passed {
		return "prediction rejected: not a finite number"
	}
	return fmt.Sprintf("predicted %.4f, truth %.4f, off by %.4f", s.Prediction, s.Truth, s.Score)
}

func codeVerdict(s CodeScore) string {
	if s.Error != "" {
		return fmt.Sprintf("passed %d/%d tests (%s)", s.Passed, s.Total, s.Error)
	}
	return fmt.Sprintf("passed %d/%d tests in %dms", s.Passed, s.Total, s.ElapsedMs)
}

func chessVerdict(s ChessScore) string {
	if !s.Legal {
		if s.Detail != "" {
			return "move rejected: " + s.Detail
		}
		return "move rejected"
	}
	return fmt.Sprintf("played %s, evaluation %.0f centipawns", s.Move, s.Score)
}

func fmtScore(v float64) string {
	if math.IsInf(v, 1) {
		return "∞"
	}
	return fmt.Sprintf("%.4f", v)
}

func orNone(move string) string {
	if move == "" {
		return "(none)"
	}
	return move
}
