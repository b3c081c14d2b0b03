package movement

import (
	"fmt"
	"math"
	"sync"
)

// feetEpsilon absorbs float noise from Euclidean distances so that a move
// landing exactly on a segment boundary does not price an extra segment.
const feetEpsilon = 1e-9

// TurnState is a token's movement budget for the current combat turn.
type TurnState struct {
	MovementUsedThisTurn float64 `json:"movementUsedThisTurn"`
	UnlockedSegments     int     `json:"unlockedSegments"`
}

func freshTurn() TurnState {
	return TurnState{MovementUsedThisTurn: 0, UnlockedSegments: 1}
}

// Evaluation is the ledger's answer for a candidate move. Moves past the
// unlocked budget stay valid and are flagged for confirmation instead.
type Evaluation struct {
	IsValid            bool    `json:"isValid"`
	NeedsConfirmation  bool    `json:"needsConfirmation"`
	TotalAfter         float64 `json:"totalAfter"`
	MovementLimit      float64 `json:"movementLimit"`
	AdditionalAPNeeded int     `json:"additionalApNeeded"`
}

// Ledger tracks per-token movement budgets for the active combat.
type Ledger struct {
	mu    sync.Mutex
	turns map[string]TurnState
}

func NewLedger() *Ledger {
	return &Ledger{turns: make(map[string]TurnState)}
}

// ResetTurn starts a new turn for tokenID.
func (l *Ledger) ResetTurn(tokenID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.turns[tokenID] = freshTurn()
}

// EndTurn discards the turn state for tokenID.
func (l *Ledger) EndTurn(tokenID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.turns, tokenID)
}

// Clear drops every turn, used when combat ends.
func (l *Ledger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.turns = make(map[string]TurnState)
}

// State returns the turn state for tokenID. Tokens without a recorded turn
// report a fresh turn.
func (l *Ledger) State(tokenID string) TurnState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stateLocked(tokenID)
}

func (l *Ledger) stateLocked(tokenID string) TurnState {
	if state, ok := l.turns[tokenID]; ok {
		return state
	}
	return freshTurn()
}

func unlockedBudget(state TurnState, speed float64) float64 {
	return math.Max(speed, float64(state.UnlockedSegments)*speed)
}

func (l *Ledger) CurrentUnlockedBudget(tokenID string, speed float64) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return unlockedBudget(l.stateLocked(tokenID), speed)
}

// RemainingFeet is the unlocked budget not yet spent this turn.
func (l *Ledger) RemainingFeet(tokenID string, speed float64) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	state := l.stateLocked(tokenID)
	return math.Max(0, unlockedBudget(state, speed)-state.MovementUsedThisTurn)
}

// Evaluate prices a candidate move against the token's budget. Only the
// unrounded feet of the candidate are used.
func (l *Ledger) Evaluate(tokenID string, speed float64, candidate Distance) (Evaluation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return evaluate(l.stateLocked(tokenID), speed, candidate.RawFeet)
}

func evaluate(state TurnState, speed, feet float64) (Evaluation, error) {
	if feet < 0 || math.IsNaN(feet) {
		return Evaluation{}, fmt.Errorf("%w: %v", ErrNegativeMovement, feet)
	}
	if feet == 0 {
		total := state.MovementUsedThisTurn
		limit := total
		if speed > 0 {
			limit = math.Max(total, unlockedBudget(state, speed))
		}
		return Evaluation{IsValid: true, TotalAfter: total, MovementLimit: limit}, nil
	}
	if !(speed > 0) {
		return Evaluation{}, &ConfigurationError{Field: "creatureSpeed", Value: speed}
	}

	totalAfter := state.MovementUsedThisTurn + feet
	budget := unlockedBudget(state, speed)
	if totalAfter <= budget+feetEpsilon {
		return Evaluation{
			IsValid:       true,
			TotalAfter:    totalAfter,
			MovementLimit: budget,
		}, nil
	}

	segmentsNeeded := int(math.Ceil(totalAfter/speed - feetEpsilon))
	additional := segmentsNeeded - state.UnlockedSegments
	if additional < 1 {
		additional = 1
		segmentsNeeded = state.UnlockedSegments + 1
	}
	return Evaluation{
		IsValid:            true,
		NeedsConfirmation:  true,
		TotalAfter:         totalAfter,
		MovementLimit:      float64(segmentsNeeded) * speed,
		AdditionalAPNeeded: additional,
	}, nil
}

// Commit records an accepted move. Each action point spent unlocks one more
// speed segment.
func (l *Ledger) Commit(tokenID string, moved Distance, apSpent int) (TurnState, error) {
	if moved.RawFeet < 0 || math.IsNaN(moved.RawFeet) {
		return TurnState{}, fmt.Errorf("%w: %v", ErrNegativeMovement, moved.RawFeet)
	}
	if apSpent < 0 {
		return TurnState{}, fmt.Errorf("%w: %d", ErrNegativeActionPoints, apSpent)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	state := l.stateLocked(tokenID)
	state.MovementUsedThisTurn += moved.RawFeet
	if apSpent > 0 {
		state.UnlockedSegments += apSpent
	}
	l.turns[tokenID] = state
	return state, nil
}

// EvaluateAndCommit re-prices the move under the same lock as the commit so
// two confirmations for one token cannot spend the same budget twice. The
// commit is refused unless apSpent matches the re-priced cost exactly.
func (l *Ledger) EvaluateAndCommit(tokenID string, speed float64, moved Distance, apSpent int) (Evaluation, bool, error) {
	if apSpent < 0 {
		return Evaluation{}, false, fmt.Errorf("%w: %d", ErrNegativeActionPoints, apSpent)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	state := l.stateLocked(tokenID)
	eval, err := evaluate(state, speed, moved.RawFeet)
	if err != nil {
		return Evaluation{}, false, err
	}
	if apSpent != eval.AdditionalAPNeeded {
		return eval, false, nil
	}
	state.MovementUsedThisTurn += moved.RawFeet
	if apSpent > 0 {
		state.UnlockedSegments += apSpent
	}
	l.turns[tokenID] = state
	return eval, true, nil
}
