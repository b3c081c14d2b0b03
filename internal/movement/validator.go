package movement

import (
	"context"
	"math"

	"vtt/client/internal/grid"
	"vtt/client/logging"
	movementlog "vtt/client/logging/movement"
)

// Distance pairs the exact feet used for budget accounting with the
// tile-rounded feet shown to the player.
type Distance struct {
	Tiles       float64 `json:"tiles"`
	RawFeet     float64 `json:"rawFeet"`
	DisplayFeet float64 `json:"displayFeet"`
}

// Feet builds a Distance for a value that is already a whole number of feet.
func Feet(feet float64) Distance {
	return Distance{RawFeet: feet, DisplayFeet: feet}
}

// Attempt is one drag-release or in-drag validation tick.
type Attempt struct {
	TokenID         string
	StartPosition   grid.Point
	CurrentPosition grid.Point
	FeetPerTile     float64
	GridSize        float64
}

// Result is a validated move. Budget is nil outside combat.
type Result struct {
	Distance
	Budget *Evaluation `json:"budget,omitempty"`
}

type Validator struct {
	ledger    *Ledger
	publisher logging.Publisher
}

func NewValidator(ledger *Ledger, publisher logging.Publisher) *Validator {
	if publisher == nil {
		publisher = logging.NopPublisher()
	}
	return &Validator{ledger: ledger, publisher: publisher}
}

// Measure converts an attempt's world distance into tiles and feet.
func Measure(attempt Attempt) (Distance, error) {
	if !(attempt.FeetPerTile > 0) {
		return Distance{}, &ConfigurationError{Field: "feetPerTile", Value: attempt.FeetPerTile}
	}
	if !(attempt.GridSize > 0) {
		return Distance{}, &ConfigurationError{Field: "gridSize", Value: attempt.GridSize}
	}
	worldDistance := attempt.StartPosition.Distance(attempt.CurrentPosition)
	tiles := grid.TileDistance(worldDistance, attempt.GridSize)
	rawFeet := grid.FeetFromTiles(tiles, attempt.FeetPerTile)
	return Distance{
		Tiles:       tiles,
		RawFeet:     rawFeet,
		DisplayFeet: math.Round(rawFeet/attempt.FeetPerTile) * attempt.FeetPerTile,
	}, nil
}

// Validate returns nil when the move cannot be evaluated. Callers must not
// read a nil result as an illegal move.
func (v *Validator) Validate(ctx context.Context, attempt Attempt, speed float64, inCombat bool) *Result {
	result, err := v.ValidateErr(ctx, attempt, speed, inCombat)
	if err != nil {
		return nil
	}
	return result
}

// ValidateErr is Validate with the configuration failure exposed.
func (v *Validator) ValidateErr(ctx context.Context, attempt Attempt, speed float64, inCombat bool) (*Result, error) {
	distance, err := Measure(attempt)
	if err != nil {
		return nil, err
	}
	result := &Result{Distance: distance}
	if !inCombat {
		return result, nil
	}
	if v == nil || v.ledger == nil {
		return nil, &ConfigurationError{Field: "ledger", Value: math.NaN()}
	}
	eval, err := v.ledger.Evaluate(attempt.TokenID, speed, distance)
	if err != nil {
		return nil, err
	}
	result.Budget = &eval
	movementlog.Evaluated(ctx, v.publisher, attempt.TokenID, movementlog.EvaluatedPayload{
		RawFeet:            distance.RawFeet,
		DisplayFeet:        distance.DisplayFeet,
		TotalAfter:         eval.TotalAfter,
		MovementLimit:      eval.MovementLimit,
		NeedsConfirmation:  eval.NeedsConfirmation,
		AdditionalAPNeeded: eval.AdditionalAPNeeded,
	})
	return result, nil
}
