// Package tokens holds the client-local view of every token on the grid.
// The Store is the only writer of token positions: local drags, local
// commits, and remote updates all pass through it.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"vtt/client/internal/grid"
	"vtt/client/internal/reconcile"
	"vtt/client/internal/telemetry"
	"vtt/client/logging"
	movementlog "vtt/client/logging/movement"
)

var (
	ErrTokenNotFound = errors.New("token not found")
	ErrTokenExists   = errors.New("token already exists")
)

// DefaultCommitEpsilon is the smallest committed displacement, in world
// units, that is forwarded to the network.
const DefaultCommitEpsilon = 0.1

type Config struct {
	Reconciler    *reconcile.Reconciler
	Bridge        NetworkSyncBridge
	Publisher     logging.Publisher
	Metrics       telemetry.Metrics
	Clock         logging.Clock
	CommitEpsilon float64
}

type entry struct {
	token     Token
	committed grid.Point
	dragging  bool
}

type Store struct {
	reconciler *reconcile.Reconciler
	bridge     NetworkSyncBridge
	publisher  logging.Publisher
	metrics    telemetry.Metrics
	clock      logging.Clock
	epsilon    float64

	mu     sync.Mutex
	tokens map[string]*entry
}

func NewStore(cfg Config) *Store {
	s := &Store{
		reconciler: cfg.Reconciler,
		bridge:     cfg.Bridge,
		publisher:  cfg.Publisher,
		metrics:    cfg.Metrics,
		clock:      cfg.Clock,
		epsilon:    cfg.CommitEpsilon,
		tokens:     make(map[string]*entry),
	}
	if s.clock == nil {
		s.clock = logging.SystemClock{}
	}
	if s.reconciler == nil {
		s.reconciler = reconcile.New(reconcile.Config{Clock: s.clock})
	}
	if s.bridge == nil {
		s.bridge = OfflineBridge()
	}
	if s.publisher == nil {
		s.publisher = logging.NopPublisher()
	}
	if s.metrics == nil {
		s.metrics = telemetry.NopMetrics()
	}
	if s.epsilon <= 0 {
		s.epsilon = DefaultCommitEpsilon
	}
	return s
}

func notFound(tokenID string) error {
	return fmt.Errorf("%w: %s", ErrTokenNotFound, tokenID)
}

// CreateToken places a creature on the grid and announces it.
func (s *Store) CreateToken(ctx context.Context, creature Creature, position grid.Point) (Token, error) {
	token := Token{
		ID:         uuid.NewString(),
		CreatureID: creature.ID,
		Position:   position,
		State: State{
			CurrentHP:           creature.Stats.MaxHP,
			CurrentMana:         creature.Stats.MaxMana,
			CurrentActionPoints: creature.Stats.MaxActionPoints,
			Conditions:          []Condition{},
			LastModified:        s.clock.Now(),
		},
	}
	s.mu.Lock()
	s.tokens[token.ID] = &entry{token: token.clone(), committed: position}
	s.mu.Unlock()

	if err := s.bridge.TokenCreated(ctx, creature, token); err != nil {
		return token, fmt.Errorf("forward token_created: %w", err)
	}
	return token, nil
}

// ApplyRemoteCreate inserts a token announced by another client. Echoes of
// tokens already known are ignored.
func (s *Store) ApplyRemoteCreate(token Token) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tokens[token.ID]; exists {
		return false
	}
	s.tokens[token.ID] = &entry{token: token.clone(), committed: token.Position}
	return true
}

// RemoveToken deletes a token and announces the removal.
func (s *Store) RemoveToken(ctx context.Context, tokenID string) error {
	if err := s.forget(tokenID); err != nil {
		return err
	}
	if err := s.bridge.TokenRemoved(ctx, tokenID); err != nil {
		return fmt.Errorf("forward token_removed: %w", err)
	}
	return nil
}

// ApplyRemoteRemove deletes a token removed by another client without
// announcing it again.
func (s *Store) ApplyRemoteRemove(tokenID string) error {
	return s.forget(tokenID)
}

func (s *Store) forget(tokenID string) error {
	s.mu.Lock()
	_, ok := s.tokens[tokenID]
	delete(s.tokens, tokenID)
	s.mu.Unlock()
	if !ok {
		return notFound(tokenID)
	}
	s.reconciler.Forget(tokenID)
	return nil
}

func (s *Store) Token(tokenID string) (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tokens[tokenID]
	if !ok {
		return Token{}, notFound(tokenID)
	}
	return e.token.clone(), nil
}

// Tokens returns every token ordered by id.
func (s *Store) Tokens() []Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Token, 0, len(s.tokens))
	for _, e := range s.tokens {
		out = append(out, e.token.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Dragging reports whether a local drag is in progress for the token.
func (s *Store) Dragging(tokenID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tokens[tokenID]
	return ok && e.dragging
}

// CommittedPosition is the last position committed locally or accepted
// from the network.
func (s *Store) CommittedPosition(tokenID string) (grid.Point, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tokens[tokenID]
	if !ok {
		return grid.Point{}, notFound(tokenID)
	}
	return e.committed, nil
}

// ApplyLocalDrag moves the token optimistically. Nothing is sent and no
// echo marker is set.
func (s *Store) ApplyLocalDrag(tokenID string, position grid.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tokens[tokenID]
	if !ok {
		return notFound(tokenID)
	}
	e.token.Position = position
	e.dragging = true
	return nil
}

// AbandonDrag ends a drag without committing, restoring the committed position.
func (s *Store) AbandonDrag(tokenID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tokens[tokenID]
	if !ok {
		return notFound(tokenID)
	}
	e.token.Position = e.committed
	e.dragging = false
	return nil
}

// CommitFinalPosition finalises a drag. The move is forwarded only when it
// differs from the previous commit by more than the commit epsilon.
func (s *Store) CommitFinalPosition(ctx context.Context, tokenID string, position grid.Point) (bool, error) {
	s.mu.Lock()
	e, ok := s.tokens[tokenID]
	if !ok {
		s.mu.Unlock()
		return false, notFound(tokenID)
	}
	s.reconciler.MarkLocalMove(tokenID, position)
	previous := e.committed
	e.token.Position = position
	e.committed = position
	e.dragging = false
	s.mu.Unlock()

	forward := previous.Distance(position) > s.epsilon
	movementlog.Committed(ctx, s.publisher, tokenID, movementlog.CommittedPayload{
		From:      movementlog.Position(previous),
		To:        movementlog.Position(position),
		Forwarded: forward,
	})
	if !forward {
		return false, nil
	}
	if err := s.bridge.TokenMoved(ctx, tokenID, position, false); err != nil {
		return false, fmt.Errorf("forward token_moved: %w", err)
	}
	return true, nil
}

// ApplyRemoteUpdate applies a position received from the network unless it
// falls inside the token's echo window. A zero `at` means now. Remote
// positions are never re-broadcast.
func (s *Store) ApplyRemoteUpdate(ctx context.Context, tokenID string, position grid.Point, at time.Time) (bool, error) {
	s.mu.Lock()
	e, ok := s.tokens[tokenID]
	if !ok {
		s.mu.Unlock()
		return false, notFound(tokenID)
	}
	sinceMark, apply := s.reconciler.Check(tokenID, at)
	if apply {
		e.token.Position = position
		e.committed = position
	}
	s.mu.Unlock()

	payload := movementlog.EchoPayload{Position: movementlog.Position(position), SinceMark: sinceMark.Milliseconds()}
	if !apply {
		s.metrics.Add(telemetry.MetricEchoSuppressed, 1)
		movementlog.EchoSuppressed(ctx, s.publisher, tokenID, payload)
		return false, nil
	}
	s.metrics.Add(telemetry.MetricRemoteApplied, 1)
	movementlog.RemoteApplied(ctx, s.publisher, tokenID, payload)
	return true, nil
}

// UpdateState changes non-position state and announces it.
func (s *Store) UpdateState(ctx context.Context, tokenID string, update StateUpdate) (Token, error) {
	token, err := s.applyState(tokenID, update)
	if err != nil {
		return Token{}, err
	}
	if update.Empty() {
		return token, nil
	}
	if err := s.bridge.TokenUpdated(ctx, tokenID, update); err != nil {
		return token, fmt.Errorf("forward token_updated: %w", err)
	}
	return token, nil
}

// ApplyRemoteState applies a state change from the network without
// re-emitting it.
func (s *Store) ApplyRemoteState(tokenID string, update StateUpdate) (Token, error) {
	return s.applyState(tokenID, update)
}

func (s *Store) applyState(tokenID string, update StateUpdate) (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tokens[tokenID]
	if !ok {
		return Token{}, notFound(tokenID)
	}
	if !update.Empty() {
		update.ApplyTo(&e.token.State)
		e.token.State.LastModified = s.clock.Now()
	}
	return e.token.clone(), nil
}
