package combat

import (
	"context"
	"errors"
	"testing"

	combatlog "vtt/client/logging/combat"
	"vtt/client/logging/sinks"
)

func TestStartOrdersByInitiativeAndNotifies(t *testing.T) {
	events := sinks.NewMemorySink()
	tracker := NewTracker(events)
	var started []string
	tracker.OnTurnStart(func(id string) { started = append(started, id) })

	err := tracker.Start(context.Background(), []Combatant{
		{TokenID: "rogue", Initiative: 12, MaxActionPoints: 3},
		{TokenID: "ogre", Initiative: 18, MaxActionPoints: 2},
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	current, ok := tracker.Current()
	if !ok || current.TokenID != "ogre" || current.CurrentActionPoints != 2 {
		t.Fatalf("expected ogre to act first with full AP, got %+v", current)
	}
	if len(started) != 1 || started[0] != "ogre" {
		t.Fatalf("expected turn start notification for ogre, got %v", started)
	}
	if got := len(events.EventsOfType(combatlog.EventTurnStarted)); got != 1 {
		t.Fatalf("expected 1 turn_started event, got %d", got)
	}
}

func TestNextTurnWrapsRoundsAndRestoresAP(t *testing.T) {
	tracker := NewTracker(nil)
	var ended []string
	tracker.OnTurnEnd(func(id string) { ended = append(ended, id) })
	ctx := context.Background()
	tracker.Start(ctx, []Combatant{
		{TokenID: "a", Initiative: 2, MaxActionPoints: 3},
		{TokenID: "b", Initiative: 1, MaxActionPoints: 3},
	})

	if !tracker.SpendActionPoints("a", 2) {
		t.Fatalf("expected spend to succeed")
	}
	if id, _ := tracker.NextTurn(ctx); id != "b" {
		t.Fatalf("expected b, got %s", id)
	}
	if id, _ := tracker.NextTurn(ctx); id != "a" {
		t.Fatalf("expected a, got %s", id)
	}
	if tracker.Round() != 2 {
		t.Fatalf("expected round 2, got %d", tracker.Round())
	}
	if got := tracker.CurrentActionPoints("a"); got != 3 {
		t.Fatalf("expected AP restored at turn start, got %d", got)
	}
	if len(ended) != 2 || ended[0] != "a" || ended[1] != "b" {
		t.Fatalf("unexpected turn end notifications %v", ended)
	}
}

func TestSpendActionPoints(t *testing.T) {
	events := sinks.NewMemorySink()
	tracker := NewTracker(events)
	tracker.Start(context.Background(), []Combatant{{TokenID: "a", MaxActionPoints: 2}})

	if tracker.SpendActionPoints("a", 3) {
		t.Fatalf("expected overspend to be refused")
	}
	if !tracker.SpendActionPoints("a", 2) {
		t.Fatalf("expected spend of full pool to succeed")
	}
	if tracker.SpendActionPoints("missing", 1) {
		t.Fatalf("expected spend for unknown token to fail")
	}
	if tracker.SpendActionPoints("a", -1) {
		t.Fatalf("expected negative spend to fail")
	}
	tracker.Refund("a", 1)
	if got := tracker.CurrentActionPoints("a"); got != 1 {
		t.Fatalf("expected 1 AP after refund, got %d", got)
	}

	spends := events.EventsOfType(combatlog.EventAPSpent)
	if len(spends) != 3 {
		t.Fatalf("expected 3 ap_spent events, got %d", len(spends))
	}
}

func TestEndClearsEncounter(t *testing.T) {
	tracker := NewTracker(nil)
	ended := false
	tracker.OnCombatEnd(func() { ended = true })
	if err := tracker.Start(context.Background(), nil); !errors.Is(err, ErrNoCombatants) {
		t.Fatalf("expected ErrNoCombatants, got %v", err)
	}
	tracker.Start(context.Background(), []Combatant{{TokenID: "a", MaxActionPoints: 1}})
	tracker.End()
	if tracker.Active() || tracker.InCombat("a") || !ended {
		t.Fatalf("expected combat to end, active=%v ended=%v", tracker.Active(), ended)
	}
	if _, ok := tracker.NextTurn(context.Background()); ok {
		t.Fatalf("expected no next turn after combat ends")
	}
}
