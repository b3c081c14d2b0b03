// Package proto defines the JSON frames exchanged between tabletop clients
// and the room relay. Every frame is an envelope carrying a type tag and a
// type-specific payload.
package proto

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"vtt/client/internal/grid"
	"vtt/client/internal/tokens"
)

const (
	// Version tracks the wire-protocol revision expected by peers.
	Version = 1

	TypeJoin         = "join"
	TypeTokenMoved   = "token_moved"
	TypeTokenUpdated = "token_updated"
	TypeTokenCreated = "token_created"
	TypeTokenRemoved = "token_removed"
	TypeSnapshot     = "snapshot"
	TypeError        = "error"
)

var ErrUnknownType = errors.New("unknown message type")

// Message is implemented by every payload type.
type Message interface {
	MessageType() string
}

// Envelope is the outer frame.
type Envelope struct {
	Ver     int             `json:"ver,omitempty"`
	Type    string          `json:"type" jsonschema:"required"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Origin is stamped onto relayed frames by the relay.
type Origin struct {
	PlayerID        string `json:"playerId,omitempty"`
	ServerTimestamp int64  `json:"serverTimestamp,omitempty" jsonschema:"description=Relay receive time in unix milliseconds"`
}

// ServerTime converts the relay timestamp. The zero value means unset.
func (o Origin) ServerTime() time.Time {
	if o.ServerTimestamp == 0 {
		return time.Time{}
	}
	return time.UnixMilli(o.ServerTimestamp)
}

// Join is the first frame a client sends after connecting.
type Join struct {
	Room     string `json:"room" jsonschema:"required"`
	PlayerID string `json:"playerId" jsonschema:"required"`
}

// TokenMoved carries a committed position. Only final positions are sent.
type TokenMoved struct {
	TokenID    string     `json:"tokenId" jsonschema:"required"`
	Position   grid.Point `json:"position" jsonschema:"required"`
	IsDragging bool       `json:"isDragging"`
	Origin
}

type TokenUpdated struct {
	TokenID      string             `json:"tokenId" jsonschema:"required"`
	StateUpdates tokens.StateUpdate `json:"stateUpdates"`
	Origin
}

type TokenCreated struct {
	Creature tokens.Creature `json:"creature"`
	Token    tokens.Token    `json:"token" jsonschema:"required"`
	Position grid.Point      `json:"position"`
	Origin
}

type TokenRemoved struct {
	TokenID string `json:"tokenId" jsonschema:"required"`
	Origin
}

// Snapshot is sent by the relay to a client joining a room.
type Snapshot struct {
	Room            string         `json:"room"`
	Tokens          []tokens.Token `json:"tokens"`
	ServerTimestamp int64          `json:"serverTimestamp,omitempty"`
}

type Error struct {
	Message string `json:"message"`
}

func (Join) MessageType() string         { return TypeJoin }
func (TokenMoved) MessageType() string   { return TypeTokenMoved }
func (TokenUpdated) MessageType() string { return TypeTokenUpdated }
func (TokenCreated) MessageType() string { return TypeTokenCreated }
func (TokenRemoved) MessageType() string { return TypeTokenRemoved }
func (Snapshot) MessageType() string     { return TypeSnapshot }
func (Error) MessageType() string        { return TypeError }

// Encode renders msg inside an envelope.
func Encode(msg Message) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("encode: nil message")
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.MessageType(), err)
	}
	return json.Marshal(Envelope{Ver: Version, Type: msg.MessageType(), Payload: payload})
}

// DecodeEnvelope parses the outer frame and checks its version.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Ver == 0 {
		env.Ver = Version
	}
	if env.Ver != Version {
		return env, fmt.Errorf("unsupported protocol version %d", env.Ver)
	}
	if env.Type == "" {
		return env, fmt.Errorf("%w: missing type", ErrUnknownType)
	}
	return env, nil
}

// Decode parses a frame into its typed payload.
func Decode(data []byte) (Message, error) {
	env, err := DecodeEnvelope(data)
	if err != nil {
		return nil, err
	}
	return DecodePayload(env)
}

// DecodePayload parses the payload of an already decoded envelope.
func DecodePayload(env Envelope) (Message, error) {
	var msg Message
	switch env.Type {
	case TypeJoin:
		msg = &Join{}
	case TypeTokenMoved:
		msg = &TokenMoved{}
	case TypeTokenUpdated:
		msg = &TokenUpdated{}
	case TypeTokenCreated:
		msg = &TokenCreated{}
	case TypeTokenRemoved:
		msg = &TokenRemoved{}
	case TypeSnapshot:
		msg = &Snapshot{}
	case TypeError:
		msg = &Error{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, msg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
	}
	return msg, nil
}
