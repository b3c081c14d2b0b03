// Package combat tracks turn order and action points for an encounter.
package combat

import (
	"context"
	"errors"
	"sort"
	"sync"

	"vtt/client/logging"
	combatlog "vtt/client/logging/combat"
)

var ErrNoCombatants = errors.New("combat needs at least one combatant")

// TurnSource is the combat collaborator seen by the movement pipeline.
type TurnSource interface {
	OnTurnStart(func(tokenID string))
	SpendActionPoints(tokenID string, amount int) bool
}

type Combatant struct {
	TokenID             string `json:"tokenId"`
	Initiative          int    `json:"initiative"`
	MaxActionPoints     int    `json:"maxActionPoints"`
	CurrentActionPoints int    `json:"currentActionPoints"`
}

// Tracker is an in-memory TurnSource. Each combatant's action points are
// restored to their maximum when its turn starts.
type Tracker struct {
	publisher logging.Publisher

	mu       sync.Mutex
	order    []Combatant
	current  int
	round    int
	active   bool
	onStart  []func(string)
	onEnd    []func(string)
	onCombat []func()
}

func NewTracker(publisher logging.Publisher) *Tracker {
	if publisher == nil {
		publisher = logging.NopPublisher()
	}
	return &Tracker{publisher: publisher}
}

// OnTurnStart registers fn to run whenever a combatant's turn begins.
func (t *Tracker) OnTurnStart(fn func(tokenID string)) {
	if fn == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onStart = append(t.onStart, fn)
}

// OnTurnEnd registers fn to run when a combatant's turn ends.
func (t *Tracker) OnTurnEnd(fn func(tokenID string)) {
	if fn == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onEnd = append(t.onEnd, fn)
}

// OnCombatEnd registers fn to run when the encounter ends.
func (t *Tracker) OnCombatEnd(fn func()) {
	if fn == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onCombat = append(t.onCombat, fn)
}

// Start orders combatants by initiative, highest first, and begins the
// first turn.
func (t *Tracker) Start(ctx context.Context, combatants []Combatant) error {
	if len(combatants) == 0 {
		return ErrNoCombatants
	}
	order := append([]Combatant(nil), combatants...)
	sort.SliceStable(order, func(i, j int) bool { return order[i].Initiative > order[j].Initiative })

	t.mu.Lock()
	t.order = order
	t.current = 0
	t.round = 1
	t.active = true
	started, listeners := t.beginTurnLocked()
	t.mu.Unlock()

	t.announce(ctx, started, listeners)
	return nil
}

func (t *Tracker) beginTurnLocked() (Combatant, []func(string)) {
	c := &t.order[t.current]
	c.CurrentActionPoints = c.MaxActionPoints
	return *c, append([]func(string){}, t.onStart...)
}

func (t *Tracker) announce(ctx context.Context, started Combatant, listeners []func(string)) {
	for _, fn := range listeners {
		fn(started.TokenID)
	}
	t.mu.Lock()
	round := t.round
	t.mu.Unlock()
	combatlog.TurnStarted(ctx, t.publisher, started.TokenID, combatlog.TurnPayload{
		Round:        round,
		ActionPoints: started.CurrentActionPoints,
	})
}

// NextTurn ends the current turn and starts the next one, returning the id
// of the token whose turn began.
func (t *Tracker) NextTurn(ctx context.Context) (string, bool) {
	t.mu.Lock()
	if !t.active {
		t.mu.Unlock()
		return "", false
	}
	ended := t.order[t.current].TokenID
	endListeners := append([]func(string){}, t.onEnd...)
	t.current++
	if t.current >= len(t.order) {
		t.current = 0
		t.round++
	}
	started, listeners := t.beginTurnLocked()
	t.mu.Unlock()

	for _, fn := range endListeners {
		fn(ended)
	}
	t.announce(ctx, started, listeners)
	return started.TokenID, true
}

// End stops the encounter.
func (t *Tracker) End() {
	t.mu.Lock()
	if !t.active {
		t.mu.Unlock()
		return
	}
	t.active = false
	t.order = nil
	t.current = 0
	t.round = 0
	listeners := append([]func(){}, t.onCombat...)
	t.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

func (t *Tracker) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

func (t *Tracker) Round() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.round
}

// Current returns the combatant whose turn it is.
func (t *Tracker) Current() (Combatant, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active {
		return Combatant{}, false
	}
	return t.order[t.current], true
}

// InCombat reports whether tokenID is part of the active encounter.
func (t *Tracker) InCombat(tokenID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.indexLocked(tokenID)
	return ok
}

func (t *Tracker) indexLocked(tokenID string) (int, bool) {
	if !t.active {
		return 0, false
	}
	for i := range t.order {
		if t.order[i].TokenID == tokenID {
			return i, true
		}
	}
	return 0, false
}

func (t *Tracker) CurrentActionPoints(tokenID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	i, ok := t.indexLocked(tokenID)
	if !ok {
		return 0
	}
	return t.order[i].CurrentActionPoints
}

// SpendActionPoints deducts amount when the combatant can afford it.
func (t *Tracker) SpendActionPoints(tokenID string, amount int) bool {
	if amount < 0 {
		return false
	}
	t.mu.Lock()
	i, ok := t.indexLocked(tokenID)
	accepted := false
	remaining := 0
	if ok {
		c := &t.order[i]
		if c.CurrentActionPoints >= amount {
			c.CurrentActionPoints -= amount
			accepted = true
		}
		remaining = c.CurrentActionPoints
	}
	t.mu.Unlock()

	if amount > 0 {
		combatlog.APSpent(context.Background(), t.publisher, tokenID, combatlog.SpendPayload{
			Amount:    amount,
			Remaining: remaining,
			Accepted:  accepted,
		})
	}
	return accepted
}

// Refund returns action points after a spend whose move was not committed.
func (t *Tracker) Refund(tokenID string, amount int) {
	if amount <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if i, ok := t.indexLocked(tokenID); ok {
		t.order[i].CurrentActionPoints += amount
	}
}
