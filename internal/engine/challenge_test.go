package engine

import (
	"testing"

	"github.com/notnil/chess"

	"github.com/agentarena/arena-engine/pkg/models"
)

// Two generations from the same seed must be byte-for-byte identical: the
// coordinator relies on this to attribute a battle to its seed.
func TestPriceChallengeDeterministic(t *testing.T) {
	c1, t1 := generatePriceChallenge(42)
	c2, t2 := generatePriceChallenge(42)

	if len(c1.Price.Bars) != priceBarCount {
		t.Fatalf("bar count = %d, want %d", len(c1.Price.Bars), priceBarCount)
	}
	for i := range c1.Price.Bars {
		if c1.Price.Bars[i] != c2.Price.Bars[i] {
			t.Fatalf("bar %d differs between runs", i)
		}
	}
	if t1.FutureClose != t2.FutureClose {
		t.Errorf("ground truth differs: %v vs %v", t1.FutureClose, t2.FutureClose)
	}
}

func TestPriceChallengeShape(t *testing.T) {
	c, truth := generatePriceChallenge(7)

	for i, bar := range c.Price.Bars {
		if bar.High < bar.Open || bar.High < bar.Close {
			t.Errorf("bar %d: high %v below open/close", i, bar.High)
		}
		if bar.Low > bar.Open || bar.Low > bar.Close {
			t.Errorf("bar %d: low %v above open/close", i, bar.Low)
		}
		if bar.Volume <= 0 {
			t.Errorf("bar %d: volume %v", i, bar.Volume)
		}
	}
	if truth.FutureClose <= 0 {
		t.Errorf("future close %v", truth.FutureClose)
	}
	if c.Price.Horizon != 1 {
		t.Errorf("horizon = %d, want 1", c.Price.Horizon)
	}
}

func TestCodeChallengeFromCatalogue(t *testing.T) {
	c, truth := generateCodeChallenge(3)

	found := false
	for _, p := range codeCatalogue {
		if p.functionName == c.Code.FunctionName {
			found = true
			if len(truth.Tests) != len(p.tests) {
				t.Errorf("test vector size %d, want %d", len(truth.Tests), len(p.tests))
			}
		}
	}
	if !found {
		t.Fatalf("unknown function %q", c.Code.FunctionName)
	}
	if c.Code.Language != "javascript" {
		t.Errorf("language = %q", c.Code.Language)
	}
	if c.Code.Statement == "" {
		t.Error("empty statement")
	}

	// Deterministic selection.
	c2, _ := generateCodeChallenge(3)
	if c2.Code.FunctionName != c.Code.FunctionName {
		t.Errorf("seed 3 picked %q then %q", c.Code.FunctionName, c2.Code.FunctionName)
	}
}

func TestChessChallengeValidPosition(t *testing.T) {
	c, truth, err := generateChessChallenge(11)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if c.Chess.FEN != truth.FEN {
		t.Error("published FEN and ground truth FEN differ")
	}

	fenOpt, err := chess.FEN(c.Chess.FEN)
	if err != nil {
		t.Fatalf("emitted invalid FEN %q: %v", c.Chess.FEN, err)
	}
	game := chess.NewGame(fenOpt)

	wantSide := "white"
	if game.Position().Turn() == chess.Black {
		wantSide = "black"
	}
	if c.Chess.SideToMove != wantSide {
		t.Errorf("sideToMove = %q, want %q", c.Chess.SideToMove, wantSide)
	}
}

func TestGenerateChallengeUnknownMode(t *testing.T) {
	if _, _, err := GenerateChallenge(models.GameMode("tic_tac_toe"), 1); err == nil {
		t.Error("expected error for unknown mode")
	}
}
