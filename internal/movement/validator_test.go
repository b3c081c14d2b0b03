package movement

import (
	"context"
	"errors"
	"math"
	"testing"

	"vtt/client/internal/grid"
	movementlog "vtt/client/logging/movement"
	"vtt/client/logging/sinks"
)

func dragAttempt(from, to grid.Point) Attempt {
	return Attempt{
		TokenID:         "tok-1",
		StartPosition:   from,
		CurrentPosition: to,
		FeetPerTile:     5,
		GridSize:        50,
	}
}

func TestValidateOutOfCombatSkipsBudget(t *testing.T) {
	ledger := NewLedger()
	validator := NewValidator(ledger, nil)

	result := validator.Validate(context.Background(), dragAttempt(grid.Point{X: 100, Y: 100}, grid.Point{X: 100, Y: 200}), 30, false)
	if result == nil {
		t.Fatalf("expected a result")
	}
	if result.RawFeet != 10 || result.Tiles != 2 {
		t.Fatalf("expected 2 tiles / 10ft, got %+v", result.Distance)
	}
	if result.Budget != nil {
		t.Fatalf("expected no budget evaluation out of combat, got %+v", result.Budget)
	}
	if state := ledger.State("tok-1"); state.MovementUsedThisTurn != 0 {
		t.Fatalf("validation must not spend budget, got %+v", state)
	}
}

func TestValidateInCombatFreshTurn(t *testing.T) {
	ledger := NewLedger()
	ledger.ResetTurn("tok-1")
	memory := sinks.NewMemorySink()
	validator := NewValidator(ledger, memory)

	result := validator.Validate(context.Background(), dragAttempt(grid.Point{X: 100, Y: 100}, grid.Point{X: 100, Y: 200}), 30, true)
	if result == nil || result.Budget == nil {
		t.Fatalf("expected a budget evaluation, got %+v", result)
	}
	if !result.Budget.IsValid || result.Budget.NeedsConfirmation || result.Budget.TotalAfter != 10 {
		t.Fatalf("unexpected evaluation %+v", result.Budget)
	}
	if events := memory.EventsOfType(movementlog.EventEvaluated); len(events) != 1 {
		t.Fatalf("expected one evaluation event, got %d", len(events))
	}
}

func TestValidateQuantizationUsesRawFeetForBudget(t *testing.T) {
	ledger := NewLedger()
	validator := NewValidator(ledger, nil)

	result := validator.Validate(context.Background(), dragAttempt(grid.Point{}, grid.Point{X: 50, Y: 50}), 30, true)
	if result == nil || result.Budget == nil {
		t.Fatalf("expected a budget evaluation")
	}
	wantRaw := math.Sqrt2 * 5
	if math.Abs(result.RawFeet-wantRaw) > 1e-9 {
		t.Fatalf("expected raw feet %v, got %v", wantRaw, result.RawFeet)
	}
	if result.DisplayFeet != 5 {
		t.Fatalf("expected display feet 5, got %v", result.DisplayFeet)
	}
	if math.Abs(result.Budget.TotalAfter-wantRaw) > 1e-9 {
		t.Fatalf("budget must use raw feet, got totalAfter %v", result.Budget.TotalAfter)
	}
}

func TestDisplayFeetIsMultipleOfFeetPerTile(t *testing.T) {
	ends := []grid.Point{{X: 13, Y: 7}, {X: 260, Y: 5}, {X: 77, Y: 301}, {X: 0, Y: 24.9}, {X: 1000, Y: 1000}}
	for _, feetPerTile := range []float64{5, 10, 2.5} {
		for _, end := range ends {
			attempt := dragAttempt(grid.Point{}, end)
			attempt.FeetPerTile = feetPerTile
			distance, err := Measure(attempt)
			if err != nil {
				t.Fatalf("measure: %v", err)
			}
			segments := distance.DisplayFeet / feetPerTile
			if math.Abs(segments-math.Round(segments)) > 1e-9 {
				t.Fatalf("display feet %v is not a multiple of %v", distance.DisplayFeet, feetPerTile)
			}
		}
	}
}

func TestValidateConfigurationFailureReturnsNil(t *testing.T) {
	validator := NewValidator(NewLedger(), nil)
	ctx := context.Background()

	attempt := dragAttempt(grid.Point{}, grid.Point{X: 50})
	attempt.FeetPerTile = 0
	if result := validator.Validate(ctx, attempt, 30, true); result != nil {
		t.Fatalf("expected nil for feetPerTile=0, got %+v", result)
	}

	attempt = dragAttempt(grid.Point{}, grid.Point{X: 50})
	attempt.GridSize = -1
	_, err := validator.ValidateErr(ctx, attempt, 30, false)
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) || cfgErr.Field != "gridSize" {
		t.Fatalf("expected gridSize configuration error, got %v", err)
	}

	if result := NewValidator(nil, nil).Validate(ctx, dragAttempt(grid.Point{}, grid.Point{X: 50}), 30, true); result != nil {
		t.Fatalf("expected nil without a ledger, got %+v", result)
	}
}
