package engine

import (
	"fmt"

	"github.com/notnil/chess"

	"github.com/agentarena/arena-engine/pkg/models"
)

// OHLCVBar is one synthetic candle of the price-prediction challenge.
type OHLCVBar struct {
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// PriceChallenge asks the agent to predict the next close.
type PriceChallenge struct {
	Bars    []OHLCVBar `json:"bars"`
	Horizon int        `json:"horizon"` // bars ahead, always 1
}

// CodeTest is one hidden test case: positional arguments plus the expected
// return value, compared structurally.
type CodeTest struct {
	Input    []any `json:"input"`
	Expected any   `json:"expected"`
}

// CodeChallenge carries the prose statement shown to agents. The hidden test
// vector lives only in the ground truth.
type CodeChallenge struct {
	Statement    string `json:"statement"`
	FunctionName string `json:"functionName"`
	Language     string `json:"language"`
}

// ChessChallenge is a mid-game position; the agent answers with one move.
type ChessChallenge struct {
	FEN        string `json:"fen"`
	SideToMove string `json:"sideToMove"`
}

// Challenge is the mode-tagged contest instance broadcast to both agents.
type Challenge struct {
	GameMode models.GameMode `json:"gameMode"`
	Price    *PriceChallenge `json:"price,omitempty"`
	Code     *CodeChallenge  `json:"code,omitempty"`
	Chess    *ChessChallenge `json:"chess,omitempty"`
}

// GroundTruth is the hidden answer key, never sent to agents.
type GroundTruth struct {
	FutureClose float64
	Tests       []CodeTest
	FEN         string
}

const (
	priceBarCount  = 50
	priceBaseLow   = 140.0
	priceBaseHigh  = 160.0
	priceMaxDrift  = 0.01  // bar-to-bar drift within ±1%
	priceMaxNoise  = 0.005 // intra-bar high/low noise ≤0.5%
	chessMovesLow  = 12
	chessMovesHigh = 27
)

// GenerateChallenge produces a (challenge, groundTruth) pair for the game
// mode, deterministic in the seed.
func GenerateChallenge(mode models.GameMode, seed int64) (*Challenge, *GroundTruth, error) {
	switch mode {
	case models.GameModePricePrediction:
		c, t := generatePriceChallenge(seed)
		return c, t, nil
	case models.GameModeCodeProblem:
		c, t := generateCodeChallenge(seed)
		return c, t, nil
	case models.GameModeChessMidgame:
		return generateChessChallenge(seed)
	}
	return nil, nil, fmt.Errorf("unknown game mode: %s", mode)
}

// generatePriceChallenge walks a synthetic series of 50 OHLCV bars around a
// random base in [140,160]. The ground truth is the close of one additional
// simulated step beyond the published series.
func generatePriceChallenge(seed int64) (*Challenge, *GroundTruth) {
	r := newRNG(seed)
	price := r.rangeFloat(priceBaseLow, priceBaseHigh)

	step := func() OHLCVBar {
		open := price
		drift := (r.next() - 0.5) * 2 * priceMaxDrift
		price = price * (1 + drift)

		hi := open
		if price > hi {
			hi = price
		}
		lo := open
		if price < lo {
			lo = price
		}
		return OHLCVBar{
			Open:   open,
			High:   hi * (1 + r.next()*priceMaxNoise),
			Low:    lo * (1 - r.next()*priceMaxNoise),
			Close:  price,
			Volume: 1000 + r.next()*9000,
		}
	}

	bars := make([]OHLCVBar, priceBarCount)
	for i := range bars {
		bars[i] = step()
	}
	truth := step().Close

	return &Challenge{
			GameMode: models.GameModePricePrediction,
			Price:    &PriceChallenge{Bars: bars, Horizon: 1},
		}, &GroundTruth{
			FutureClose: truth,
		}
}

type codeProblem struct {
	statement    string
	functionName string
	tests        []CodeTest
}

// codeCatalogue is the fixed problem set for code contests. Test vectors stay
// hidden server-side; only the statement and function name reach agents.
var codeCatalogue = []codeProblem{
	{
		statement:    "Implement sumArray(nums) that returns the sum of all numbers in the array. An empty array sums to 0.",
		functionName: "sumArray",
		tests: []CodeTest{
			{Input: []any{[]any{1.0, 2.0, 3.0}}, Expected: 6.0},
			{Input: []any{[]any{-5.0, 5.0}}, Expected: 0.0},
			{Input: []any{[]any{}}, Expected: 0.0},
			{Input: []any{[]any{10.0}}, Expected: 10.0},
		},
	},
	{
		statement:    "Implement reverseString(s) that returns the input string reversed.",
		functionName: "reverseString",
		tests: []CodeTest{
			{Input: []any{"hello"}, Expected: "olleh"},
			{Input: []any{""}, Expected: ""},
			{Input: []any{"ab"}, Expected: "ba"},
			{Input: []any{"racecar"}, Expected: "racecar"},
		},
	},
	{
		statement:    "Implement fibonacci(n) returning the nth Fibonacci number with fibonacci(0)=0 and fibonacci(1)=1.",
		functionName: "fibonacci",
		tests: []CodeTest{
			{Input: []any{0.0}, Expected: 0.0},
			{Input: []any{1.0}, Expected: 1.0},
			{Input: []any{10.0}, Expected: 55.0},
			{Input: []any{15.0}, Expected: 610.0},
		},
	},
	{
		statement:    "Implement isPalindrome(s) returning true when the string reads the same forwards and backwards. The empty string is a palindrome.",
		functionName: "isPalindrome",
		tests: []CodeTest{
			{Input: []any{"racecar"}, Expected: true},
			{Input: []any{"hello"}, Expected: false},
			{Input: []any{""}, Expected: true},
			{Input: []any{"abba"}, Expected: true},
		},
	},
	{
		statement:    "Implement maxSubarraySum(nums) returning the largest sum of any contiguous non-empty subarray.",
		functionName: "maxSubarraySum",
		tests: []CodeTest{
			{Input: []any{[]any{-2.0, 1.0, -3.0, 4.0, -1.0, 2.0, 1.0, -5.0, 4.0}}, Expected: 6.0},
			{Input: []any{[]any{-1.0, -2.0}}, Expected: -1.0},
			{Input: []any{[]any{5.0}}, Expected: 5.0},
		},
	},
	{
		statement:    "Implement countVowels(s) returning how many of a, e, i, o, u appear in the string (lowercase only).",
		functionName: "countVowels",
		tests: []CodeTest{
			{Input: []any{"hello"}, Expected: 2.0},
			{Input: []any{"xyz"}, Expected: 0.0},
			{Input: []any{"aeiou"}, Expected: 5.0},
		},
	},
	{
		statement:    "Implement twoSum(nums, target) returning the indices [i, j] (i < j) of the two numbers that add up to target. Exactly one solution exists.",
		functionName: "twoSum",
		tests: []CodeTest{
			{Input: []any{[]any{2.0, 7.0, 11.0, 15.0}, 9.0}, Expected: []any{0.0, 1.0}},
			{Input: []any{[]any{3.0, 2.0, 4.0}, 6.0}, Expected: []any{1.0, 2.0}},
		},
	},
	{
		statement:    "Implement factorial(n) returning n! with factorial(0)=1.",
		functionName: "factorial",
		tests: []CodeTest{
			{Input: []any{0.0}, Expected: 1.0},
			{Input: []any{5.0}, Expected: 120.0},
			{Input: []any{10.0}, Expected: 3628800.0},
		},
	},
}

func generateCodeChallenge(seed int64) (*Challenge, *GroundTruth) {
	r := newRNG(seed)
	p := codeCatalogue[r.intn(len(codeCatalogue))]

	return &Challenge{
			GameMode: models.GameModeCodeProblem,
			Code: &CodeChallenge{
				Statement:    p.statement,
				FunctionName: p.functionName,
				Language:     "javascript",
			},
		}, &GroundTruth{
			Tests: p.tests,
		}
}

// generateChessChallenge plays N ∈ [12,27] uniformly chosen legal moves from
// the initial position and emits the resulting mid-game position.
func generateChessChallenge(seed int64) (*Challenge, *GroundTruth, error) {
	r := newRNG(seed)
	n := chessMovesLow + r.intn(chessMovesHigh-chessMovesLow+1)

	game := chess.NewGame()
	for i := 0; i < n; i++ {
		moves := game.ValidMoves()
		if len(moves) == 0 {
			break
		}
		if err := game.Move(moves[r.intn(len(moves))]); err != nil {
			return nil, nil, fmt.Errorf("chess generation: %w", err)
		}
	}

	fen := game.Position().String()
	side := "white"
	if game.Position().Turn() == chess.Black {
		side = "black"
	}

	return &Challenge{
			GameMode: models.GameModeChessMidgame,
			Chess:    &ChessChallenge{FEN: fen, SideToMove: side},
		}, &GroundTruth{
			FEN: fen,
		}, nil
}
