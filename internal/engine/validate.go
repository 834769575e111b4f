package engine

import (
	"context"
	"math"
	"strconv"

	"github.com/notnil/chess"

	"github.com/agentarena/arena-engine/internal/sandbox"
)

// PriceScore is the price-prediction verdict; lower Score is better.
type PriceScore struct {
	Score      float64 `json:"score"`
	Prediction float64 `json:"prediction"`
	Truth      float64 `json:"truth"`
	Passed     bool    `json:"passed"`
}

// ValidatePricePrediction scores |prediction − truth|. A non-finite or
// unparseable prediction scores +Inf and fails.
func ValidatePricePrediction(response any, truth float64) PriceScore {
	pred, ok := coerceNumber(response)
	if !ok || math.IsNaN(pred) || math.IsInf(pred, 0) {
		return PriceScore{Score: math.Inf(1), Truth: truth, Passed: false}
	}
	return PriceScore{
		Score:      math.Abs(pred - truth),
		Prediction: pred,
		Truth:      truth,
		Passed:     true,
	}
}

// CodeScore is the code-contest verdict; the composite rewards passes and
// penalises wall time, so higher is better.
type CodeScore struct {
	Passed    int    `json:"passed"`
	Total     int    `json:"total"`
	ElapsedMs int64  `json:"elapsedMs"`
	Error     string `json:"error,omitempty"`
}

// Composite folds passes and elapsed time into a single comparable score.
func (s CodeScore) Composite() float64 {
	return float64(s.Passed)*10000 - float64(s.ElapsedMs)
}

// CodeValidator runs candidate code through the hardened sandbox.
type CodeValidator struct {
	Exec sandbox.Executor
}

// Validate executes the candidate against each hidden test case. Sandbox
// faults (timeout, crash, bad output) yield zero passes with a diagnostic
// rather than an error.
func (v *CodeValidator) Validate(ctx context.Context, response any, functionName string, tests []CodeTest) CodeScore {
	code, ok := coerceString(response, "code")
	if !ok {
		return CodeScore{Passed: 0, Total: len(tests), Error: "response carried no code"}
	}

	job := sandbox.Job{
		Code:         code,
		FunctionName: functionName,
		Tests:        make([]sandbox.Test, len(tests)),
	}
	for i, t := range tests {
		job.Tests[i] = sandbox.Test{Input: t.Input, Expected: t.Expected}
	}

	res := v.Exec.Execute(ctx, job)
	return CodeScore{
		Passed:    res.Passed,
		Total:     res.Total,
		ElapsedMs: res.ElapsedMs,
		Error:     res.Error,
	}
}

// ChessScore is the chess verdict. Illegal moves (including wrong side to
// move or unparseable notation) score −10000.
type ChessScore struct {
	Score  float64 `json:"score"`
	Legal  bool    `json:"legal"`
	Move   string  `json:"move,omitempty"`
	Detail string  `json:"detail,omitempty"`
}

const illegalMoveScore = -10000

var pieceValues = map[chess.PieceType]float64{
	chess.Pawn:   1,
	chess.Knight: 3,
	chess.Bishop: 3,
	chess.Rook:   5,
	chess.Queen:  9,
	chess.King:   0,
}

// ValidateChessMove parses the move in long algebraic, standard or UCI
// notation, rejects it if illegal in the position, otherwise applies it and
// returns a centipawn evaluation: material (sign by colour) plus 0.1× the
// mobility of the side to move, ×100, re-signed so positive favours the
// side that moved.
func ValidateChessMove(fen string, response any) ChessScore {
	moveStr, ok := coerceString(response, "move")
	if !ok || moveStr == "" {
		return ChessScore{Score: illegalMoveScore, Legal: false, Detail: "response carried no move"}
	}

	fenOpt, err := chess.FEN(fen)
	if err != nil {
		return ChessScore{Score: illegalMoveScore, Legal: false, Detail: "invalid position"}
	}
	game := chess.NewGame(fenOpt)
	mover := game.Position().Turn()

	move := parseMove(game.Position(), moveStr)
	if move == nil {
		return ChessScore{Score: illegalMoveScore, Legal: false, Move: moveStr, Detail: "illegal move"}
	}
	if err := game.Move(move); err != nil {
		return ChessScore{Score: illegalMoveScore, Legal: false, Move: moveStr, Detail: "illegal move"}
	}

	pos := game.Position()

	material := 0.0
	for _, piece := range pos.Board().SquareMap() {
		v := pieceValues[piece.Type()]
		if piece.Color() == chess.Black {
			v = -v
		}
		material += v
	}

	mobility := 0.1 * float64(len(pos.ValidMoves()))
	if pos.Turn() == chess.Black {
		mobility = -mobility
	}

	eval := (material + mobility) * 100
	if mover == chess.Black {
		eval = -eval
	}

	return ChessScore{Score: eval, Legal: true, Move: moveStr}
}

// parseMove tries UCI, long algebraic and standard algebraic notation in
// turn; each decoder only accepts moves legal in the position.
func parseMove(pos *chess.Position, s string) *chess.Move {
	if m, err := (chess.UCINotation{}).Decode(pos, s); err == nil {
		return m
	}
	if m, err := (chess.LongAlgebraicNotation{}).Decode(pos, s); err == nil {
		return m
	}
	if m, err := (chess.AlgebraicNotation{}).Decode(pos, s); err == nil {
		return m
	}
	return nil
}

// coerceNumber extracts a float from a bare number, a numeric string, or a
// {"prediction": x} object.
func coerceNumber(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	case map[string]any:
		if inner, ok := x["prediction"]; ok {
			return coerceNumber(inner)
		}
	}
	return 0, false
}

// coerceString extracts a string from a bare string or a {key: "..."} object.
func coerceString(v any, key string) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case map[string]any:
		if inner, ok := x[key]; ok {
			return coerceString(inner, key)
		}
	}
	return "", false
}
