// Package session drives a token drag from pickup to commit. Outside
// combat a release commits immediately. In combat the move is priced by the
// ledger and, when it needs more action points than the token has already
// unlocked, held until the player confirms or cancels it.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"vtt/client/internal/combat"
	"vtt/client/internal/grid"
	"vtt/client/internal/movement"
	"vtt/client/internal/tokens"
	"vtt/client/logging"
	movementlog "vtt/client/logging/movement"
)

var (
	ErrImmobilized              = errors.New("token cannot move")
	ErrNoPendingMove            = errors.New("no move awaiting confirmation")
	ErrMovePending              = errors.New("move awaiting confirmation")
	ErrInsufficientActionPoints = errors.New("not enough action points")
	ErrRepriced                 = errors.New("move cost changed before confirmation")
)

// Combat is the turn source the session consults. combat.Tracker satisfies
// it.
type Combat interface {
	combat.TurnSource
	InCombat(tokenID string) bool
}

type turnEnder interface {
	OnTurnEnd(func(tokenID string))
	OnCombatEnd(func())
}

type refunder interface {
	Refund(tokenID string, amount int)
}

type Config struct {
	Store       *tokens.Store
	Ledger      *movement.Ledger
	Validator   *movement.Validator
	Combat      Combat
	Catalog     tokens.CreatureCatalog
	Geometry    grid.Geometry
	FeetPerTile float64
	Publisher   logging.Publisher
}

// Pending is a released move waiting for the player to pay its action
// point cost.
type Pending struct {
	TokenID string
	From    grid.Point
	To      grid.Point
	Speed   float64
	Result  movement.Result
}

// RequiredAP is the number of action points Confirm will spend.
func (p Pending) RequiredAP() int {
	if p.Result.Budget == nil {
		return 0
	}
	return p.Result.Budget.AdditionalAPNeeded
}

// Outcome reports what a release or confirmation did.
type Outcome struct {
	TokenID   string           `json:"tokenId"`
	Position  grid.Point       `json:"position"`
	Result    *movement.Result `json:"result,omitempty"`
	Committed bool             `json:"committed"`
	Forwarded bool             `json:"forwarded"`
	Pending   bool             `json:"pending"`
}

type drag struct {
	start      grid.Point
	pending    *Pending
	confirming bool
}

type Session struct {
	store       *tokens.Store
	ledger      *movement.Ledger
	validator   *movement.Validator
	combat      Combat
	catalog     tokens.CreatureCatalog
	geometry    grid.Geometry
	feetPerTile float64
	publisher   logging.Publisher

	mu    sync.Mutex
	drags map[string]*drag
}

// New wires the session to the combat turn source. A turn start resets the
// token's ledger entry and a turn end discards it along with any unconfirmed
// move. The end of combat reverts every unconfirmed move and clears the
// ledger.
func New(cfg Config) (*Session, error) {
	if cfg.Store == nil {
		return nil, errors.New("session requires a token store")
	}
	if err := cfg.Geometry.Validate(); err != nil {
		return nil, err
	}
	if !(cfg.FeetPerTile > 0) {
		return nil, &movement.ConfigurationError{Field: "feetPerTile", Value: cfg.FeetPerTile}
	}
	s := &Session{
		store:       cfg.Store,
		ledger:      cfg.Ledger,
		validator:   cfg.Validator,
		combat:      cfg.Combat,
		catalog:     cfg.Catalog,
		geometry:    cfg.Geometry,
		feetPerTile: cfg.FeetPerTile,
		publisher:   cfg.Publisher,
		drags:       make(map[string]*drag),
	}
	if s.ledger == nil {
		s.ledger = movement.NewLedger()
	}
	if s.publisher == nil {
		s.publisher = logging.NopPublisher()
	}
	if s.validator == nil {
		s.validator = movement.NewValidator(s.ledger, s.publisher)
	}
	if s.combat != nil {
		s.combat.OnTurnStart(s.ledger.ResetTurn)
		if ender, ok := s.combat.(turnEnder); ok {
			ender.OnTurnEnd(s.endTurn)
			ender.OnCombatEnd(s.endCombat)
		}
	}
	return s, nil
}

func (s *Session) endTurn(tokenID string) {
	s.mu.Lock()
	d, ok := s.drags[tokenID]
	if ok && d.pending != nil {
		delete(s.drags, tokenID)
	}
	s.mu.Unlock()
	if ok && d.pending != nil {
		s.revert(context.Background(), tokenID, d.start)
	}
	s.ledger.EndTurn(tokenID)
}

func (s *Session) endCombat() {
	s.mu.Lock()
	reverted := make(map[string]grid.Point)
	for tokenID, d := range s.drags {
		if d.pending != nil {
			reverted[tokenID] = d.start
			delete(s.drags, tokenID)
		}
	}
	s.mu.Unlock()
	for tokenID, start := range reverted {
		s.revert(context.Background(), tokenID, start)
	}
	s.ledger.Clear()
}

func (s *Session) inCombat(tokenID string) bool {
	return s.combat != nil && s.combat.InCombat(tokenID)
}

// Speed is the token's creature speed after condition modifiers.
func (s *Session) Speed(token tokens.Token) float64 {
	base := movement.DefaultSpeed
	if s.catalog != nil {
		if creature, ok := s.catalog.Creature(token.CreatureID); ok {
			base = creature.Stats.Speed
		}
	}
	return movement.EffectiveSpeed(base, token.State.ConditionNames())
}

// BeginDrag records the drag origin. A token with an unconfirmed move
// cannot be picked up again until it is confirmed or cancelled.
func (s *Session) BeginDrag(tokenID string) error {
	start, err := s.store.CommittedPosition(tokenID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.drags[tokenID]; ok && d.pending != nil {
		return fmt.Errorf("%w: %s", ErrMovePending, tokenID)
	}
	s.drags[tokenID] = &drag{start: start}
	return nil
}

func (s *Session) dragFor(tokenID string) (*drag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.drags[tokenID]; ok {
		if d.pending != nil {
			return nil, fmt.Errorf("%w: %s", ErrMovePending, tokenID)
		}
		return d, nil
	}
	start, err := s.store.CommittedPosition(tokenID)
	if err != nil {
		return nil, err
	}
	d := &drag{start: start}
	s.drags[tokenID] = d
	return d, nil
}

func (s *Session) attempt(tokenID string, start, current grid.Point) movement.Attempt {
	return movement.Attempt{
		TokenID:         tokenID,
		StartPosition:   start,
		CurrentPosition: current,
		FeetPerTile:     s.feetPerTile,
		GridSize:        s.geometry.GridSize,
	}
}

// Drag moves the token under the pointer and returns the live measurement
// for the movement tooltip. The result is nil when the move cannot be
// evaluated.
func (s *Session) Drag(ctx context.Context, tokenID string, position grid.Point) (*movement.Result, error) {
	d, err := s.dragFor(tokenID)
	if err != nil {
		return nil, err
	}
	if err := s.store.ApplyLocalDrag(tokenID, position); err != nil {
		return nil, err
	}
	token, err := s.store.Token(tokenID)
	if err != nil {
		return nil, err
	}
	return s.validator.Validate(ctx, s.attempt(tokenID, d.start, position), s.Speed(token), s.inCombat(tokenID)), nil
}

// Release drops the token. The position is snapped to its tile centre
// before it is measured.
func (s *Session) Release(ctx context.Context, tokenID string, position grid.Point) (Outcome, error) {
	d, err := s.dragFor(tokenID)
	if err != nil {
		return Outcome{}, err
	}
	token, err := s.store.Token(tokenID)
	if err != nil {
		return Outcome{}, err
	}
	final := s.geometry.SnapToGrid(position)
	speed := s.Speed(token)
	inCombat := s.inCombat(tokenID)

	result, err := s.validator.ValidateErr(ctx, s.attempt(tokenID, d.start, final), speed, inCombat)
	if err != nil {
		s.abandon(tokenID)
		var cfgErr *movement.ConfigurationError
		if errors.As(err, &cfgErr) && cfgErr.Field == "creatureSpeed" {
			return Outcome{}, fmt.Errorf("%w: %s", ErrImmobilized, tokenID)
		}
		return Outcome{}, err
	}
	outcome := Outcome{TokenID: tokenID, Position: final, Result: result}

	if !inCombat {
		return s.commit(ctx, tokenID, final, outcome)
	}
	if result.Budget.NeedsConfirmation {
		return s.hold(d, outcome, speed)
	}

	eval, ok, err := s.ledger.EvaluateAndCommit(tokenID, speed, result.Distance, 0)
	if err != nil {
		s.abandon(tokenID)
		return Outcome{}, err
	}
	if !ok {
		// Budget was spent elsewhere between validation and release.
		result.Budget = &eval
		return s.hold(d, outcome, speed)
	}
	result.Budget = &eval
	return s.commit(ctx, tokenID, final, outcome)
}

func (s *Session) hold(d *drag, outcome Outcome, speed float64) (Outcome, error) {
	if err := s.store.ApplyLocalDrag(outcome.TokenID, outcome.Position); err != nil {
		return Outcome{}, err
	}
	s.mu.Lock()
	d.pending = &Pending{
		TokenID: outcome.TokenID,
		From:    d.start,
		To:      outcome.Position,
		Speed:   speed,
		Result:  *outcome.Result,
	}
	s.mu.Unlock()
	outcome.Pending = true
	return outcome, nil
}

func (s *Session) commit(ctx context.Context, tokenID string, final grid.Point, outcome Outcome) (Outcome, error) {
	s.mu.Lock()
	delete(s.drags, tokenID)
	s.mu.Unlock()
	forwarded, err := s.store.CommitFinalPosition(ctx, tokenID, final)
	outcome.Committed = true
	outcome.Forwarded = forwarded
	return outcome, err
}

// PendingMove returns the move waiting for confirmation, if any.
func (s *Session) PendingMove(tokenID string) (Pending, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drags[tokenID]
	if !ok || d.pending == nil {
		return Pending{}, false
	}
	return *d.pending, true
}

func (s *Session) pendingLocked(tokenID string) (*drag, error) {
	d, ok := s.drags[tokenID]
	if !ok || d.pending == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoPendingMove, tokenID)
	}
	if d.confirming {
		return nil, fmt.Errorf("%w: %s is already being confirmed", ErrNoPendingMove, tokenID)
	}
	return d, nil
}

// claimPending marks the pending move as being confirmed so a second
// confirmation for the same token cannot pay for it again.
func (s *Session) claimPending(tokenID string) (*drag, Pending, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.pendingLocked(tokenID)
	if err != nil {
		return nil, Pending{}, err
	}
	d.confirming = true
	return d, *d.pending, nil
}

// unclaim puts the move back up for confirmation, at the new price when
// eval is set.
func (s *Session) unclaim(d *drag, eval *movement.Evaluation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d.confirming = false
	if eval != nil && d.pending != nil {
		priced := *eval
		d.pending.Result.Budget = &priced
	}
}

// Confirm pays for a pending move and commits it. When the token cannot
// afford the action points the token returns to its drag origin. When the
// price changed since release nothing is spent and the move stays pending at
// its new price.
func (s *Session) Confirm(ctx context.Context, tokenID string) (Outcome, error) {
	d, pending, err := s.claimPending(tokenID)
	if err != nil {
		return Outcome{}, err
	}
	cost := pending.RequiredAP()

	eval, err := s.ledger.Evaluate(tokenID, pending.Speed, pending.Result.Distance)
	if err != nil {
		s.unclaim(d, nil)
		return Outcome{}, err
	}
	if eval.AdditionalAPNeeded != cost {
		s.unclaim(d, &eval)
		return Outcome{}, fmt.Errorf("%w: %s now needs %d", ErrRepriced, tokenID, eval.AdditionalAPNeeded)
	}

	if cost > 0 && (s.combat == nil || !s.combat.SpendActionPoints(tokenID, cost)) {
		s.mu.Lock()
		delete(s.drags, tokenID)
		s.mu.Unlock()
		s.revert(ctx, tokenID, pending.From)
		return Outcome{}, fmt.Errorf("%w: %s needs %d", ErrInsufficientActionPoints, tokenID, cost)
	}

	eval, ok, err := s.ledger.EvaluateAndCommit(tokenID, pending.Speed, pending.Result.Distance, cost)
	if err != nil || !ok {
		if r, canRefund := s.combat.(refunder); canRefund && cost > 0 {
			r.Refund(tokenID, cost)
		}
		if err != nil {
			s.unclaim(d, nil)
			return Outcome{}, err
		}
		s.unclaim(d, &eval)
		return Outcome{}, fmt.Errorf("%w: %s now needs %d", ErrRepriced, tokenID, eval.AdditionalAPNeeded)
	}

	result := pending.Result
	result.Budget = &eval
	return s.commit(ctx, tokenID, pending.To, Outcome{TokenID: tokenID, Position: pending.To, Result: &result})
}

// Cancel discards a pending move and returns the token to where the drag
// began.
func (s *Session) Cancel(ctx context.Context, tokenID string) error {
	s.mu.Lock()
	d, err := s.pendingLocked(tokenID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	delete(s.drags, tokenID)
	s.mu.Unlock()
	s.revert(ctx, tokenID, d.start)
	return nil
}

func (s *Session) revert(ctx context.Context, tokenID string, start grid.Point) {
	if err := s.store.AbandonDrag(tokenID); err != nil {
		return
	}
	movementlog.Reverted(ctx, s.publisher, tokenID, movementlog.Position(start))
}

// Abandon drops an in-progress drag without committing or emitting
// anything.
func (s *Session) Abandon(tokenID string) error {
	if _, ok := s.PendingMove(tokenID); ok {
		return fmt.Errorf("%w: %s", ErrMovePending, tokenID)
	}
	return s.abandon(tokenID)
}

func (s *Session) abandon(tokenID string) error {
	s.mu.Lock()
	delete(s.drags, tokenID)
	s.mu.Unlock()
	return s.store.AbandonDrag(tokenID)
}
