package tokens

import (
	"context"
	"time"

	"vtt/client/internal/grid"
)

type Condition struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Duration int    `json:"duration,omitempty"`
}

type State struct {
	CurrentHP           int         `json:"currentHp"`
	CurrentMana         int         `json:"currentMana"`
	CurrentActionPoints int         `json:"currentActionPoints"`
	Conditions          []Condition `json:"conditions"`
	LastModified        time.Time   `json:"lastModified"`
}

// ConditionNames lists the names of the active conditions.
func (s State) ConditionNames() []string {
	names := make([]string, 0, len(s.Conditions))
	for _, c := range s.Conditions {
		names = append(names, c.Name)
	}
	return names
}

func (s State) clone() State {
	cloned := s
	if s.Conditions != nil {
		cloned.Conditions = append([]Condition(nil), s.Conditions...)
	}
	return cloned
}

// Token is a creature placed on the grid. CreatureID is a lookup key into
// the creature catalog and carries no ownership.
type Token struct {
	ID         string     `json:"id"`
	CreatureID string     `json:"creatureId"`
	Position   grid.Point `json:"position"`
	State      State      `json:"state"`
}

func (t Token) clone() Token {
	cloned := t
	cloned.State = t.State.clone()
	return cloned
}

type CreatureStats struct {
	Speed           float64 `json:"speed"`
	MaxHP           int     `json:"maxHp"`
	MaxMana         int     `json:"maxMana"`
	MaxActionPoints int     `json:"maxActionPoints"`
}

type Creature struct {
	ID    string        `json:"id"`
	Name  string        `json:"name"`
	Stats CreatureStats `json:"stats"`
}

// CreatureCatalog resolves creature ids to their stats.
type CreatureCatalog interface {
	Creature(id string) (Creature, bool)
}

// CatalogMap is a CreatureCatalog backed by a map.
type CatalogMap map[string]Creature

func (m CatalogMap) Creature(id string) (Creature, bool) {
	c, ok := m[id]
	return c, ok
}

// StateUpdate is a partial state change. Nil fields are left untouched.
type StateUpdate struct {
	CurrentHP           *int         `json:"currentHp,omitempty"`
	CurrentMana         *int         `json:"currentMana,omitempty"`
	CurrentActionPoints *int         `json:"currentActionPoints,omitempty"`
	Conditions          *[]Condition `json:"conditions,omitempty"`
}

// Empty reports whether the update changes nothing.
func (u StateUpdate) Empty() bool {
	return u.CurrentHP == nil && u.CurrentMana == nil && u.CurrentActionPoints == nil && u.Conditions == nil
}

// ApplyTo copies the set fields onto state.
func (u StateUpdate) ApplyTo(state *State) {
	if u.CurrentHP != nil {
		state.CurrentHP = *u.CurrentHP
	}
	if u.CurrentMana != nil {
		state.CurrentMana = *u.CurrentMana
	}
	if u.CurrentActionPoints != nil {
		state.CurrentActionPoints = *u.CurrentActionPoints
	}
	if u.Conditions != nil {
		state.Conditions = append([]Condition(nil), (*u.Conditions)...)
	}
}

// NetworkSyncBridge carries local commits to other clients.
type NetworkSyncBridge interface {
	TokenMoved(ctx context.Context, tokenID string, position grid.Point, isDragging bool) error
	TokenUpdated(ctx context.Context, tokenID string, update StateUpdate) error
	TokenCreated(ctx context.Context, creature Creature, token Token) error
	TokenRemoved(ctx context.Context, tokenID string) error
}

type nopBridge struct{}

func (nopBridge) TokenMoved(context.Context, string, grid.Point, bool) error { return nil }
func (nopBridge) TokenUpdated(context.Context, string, StateUpdate) error    { return nil }
func (nopBridge) TokenCreated(context.Context, Creature, Token) error        { return nil }
func (nopBridge) TokenRemoved(context.Context, string) error                 { return nil }

// OfflineBridge discards every outgoing event.
func OfflineBridge() NetworkSyncBridge {
	return nopBridge{}
}
