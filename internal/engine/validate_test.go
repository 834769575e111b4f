package engine

import (
	"context"
	"math"
	"testing"

	"github.com/agentarena/arena-engine/internal/sandbox"
)

func TestValidatePricePrediction(t *testing.T) {
	cases := []struct {
		name      string
		response  any
		truth     float64
		wantScore float64
		wantPass  bool
	}{
		{"exact", 150.0, 150.0, 0, true},
		{"off by two", 148.0, 150.0, 2, true},
		{"numeric string", "151.5", 150.0, 1.5, true},
		{"wrapped object", map[string]any{"prediction": 149.0}, 150.0, 1, true},
		{"garbage string", "not a number", 150.0, math.Inf(1), false},
		{"nil response", nil, 150.0, math.Inf(1), false},
		{"NaN", math.NaN(), 150.0, math.Inf(1), false},
		{"infinite", math.Inf(1), 150.0, math.Inf(1), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ValidatePricePrediction(tc.response, tc.truth)
			if got.Passed != tc.wantPass {
				t.Fatalf("passed = %v, want %v", got.Passed, tc.wantPass)
			}
			if got.Score != tc.wantScore {
				t.Errorf("score = %v, want %v", got.Score, tc.wantScore)
			}
		})
	}
}

const midgameFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

func TestValidateChessMoveLegal(t *testing.T) {
	// e2e4 from the initial position, in UCI notation.
	got := ValidateChessMove(midgameFEN, "e2e4")
	if !got.Legal {
		t.Fatalf("e2e4 rejected: %s", got.Detail)
	}
	if got.Score == illegalMoveScore {
		t.Error("legal move carries the illegal sentinel score")
	}
}

func TestValidateChessMoveNotations(t *testing.T) {
	// The same opening move in standard algebraic notation.
	if got := ValidateChessMove(midgameFEN, "e4"); !got.Legal {
		t.Errorf("SAN e4 rejected: %s", got.Detail)
	}
}

func TestValidateChessMoveIllegal(t *testing.T) {
	cases := []struct {
		name     string
		response any
	}{
		{"off-board", "e2e9"},
		{"wrong piece path", "a1a5"},
		{"garbage", "castle-long-please"},
		{"empty", ""},
		{"nil", nil},
		{"wrapped garbage", map[string]any{"move": "zz9"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ValidateChessMove(midgameFEN, tc.response)
			if got.Legal {
				t.Fatal("illegal move accepted")
			}
			if got.Score != illegalMoveScore {
				t.Errorf("score = %v, want %v", got.Score, float64(illegalMoveScore))
			}
		})
	}
}

func TestValidateChessMoveBadFEN(t *testing.T) {
	if got := ValidateChessMove("not a position", "e2e4"); got.Legal {
		t.Error("move accepted against invalid position")
	}
}

func TestCodeScoreComposite(t *testing.T) {
	// More passes always dominates elapsed time at these magnitudes.
	fast := CodeScore{Passed: 2, ElapsedMs: 5}
	slowButBetter := CodeScore{Passed: 3, ElapsedMs: 900}
	if slowButBetter.Composite() <= fast.Composite() {
		t.Error("extra pass should outweigh elapsed time")
	}

	// Equal passes, lower elapsed wins.
	a := CodeScore{Passed: 2, ElapsedMs: 10}
	b := CodeScore{Passed: 2, ElapsedMs: 50}
	if a.Composite() <= b.Composite() {
		t.Error("faster run should score higher at equal passes")
	}
}

// stubExecutor returns a canned result without spawning anything.
type stubExecutor struct {
	result sandbox.Result
	gotJob sandbox.Job
}

func (s *stubExecutor) Execute(_ context.Context, job sandbox.Job) sandbox.Result {
	s.gotJob = job
	s.result.Total = len(job.Tests)
	return s.result
}

func TestCodeValidatorPassesTestsThrough(t *testing.T) {
	exec := &stubExecutor{result: sandbox.Result{Passed: 3, ElapsedMs: 12}}
	v := &CodeValidator{Exec: exec}

	tests := []CodeTest{
		{Input: []any{1.0}, Expected: 1.0},
		{Input: []any{2.0}, Expected: 4.0},
		{Input: []any{3.0}, Expected: 9.0},
	}
	got := v.Validate(context.Background(), "function square(n){return n*n}", "square", tests)

	if got.Passed != 3 || got.Total != 3 {
		t.Errorf("score = %d/%d, want 3/3", got.Passed, got.Total)
	}
	if exec.gotJob.FunctionName != "square" {
		t.Errorf("function name %q reached the sandbox", exec.gotJob.FunctionName)
	}
	if len(exec.gotJob.Tests) != 3 {
		t.Errorf("%d tests reached the sandbox", len(exec.gotJob.Tests))
	}
}

func TestCodeValidatorNoCode(t *testing.T) {
	v := &CodeValidator{Exec: &stubExecutor{}}
	got := v.Validate(context.Background(), 12345, "square", []CodeTest{{Input: []any{1.0}, Expected: 1.0}})
	if got.Passed != 0 || got.Error == "" {
		t.Errorf("numeric response should score zero with a diagnostic, got %+v", got)
	}
}
