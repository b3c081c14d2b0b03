package movement

import (
	"context"

	"vtt/client/logging"
)

const (
	// EventCommitted is emitted when a token's final drag position is committed locally.
	EventCommitted logging.EventType = "movement.committed"
	// EventEvaluated is emitted when a combat move is priced against the turn budget.
	EventEvaluated logging.EventType = "movement.evaluated"
	// EventEchoSuppressed is emitted when a remote update is dropped inside the echo window.
	EventEchoSuppressed logging.EventType = "movement.echo_suppressed"
	// EventRemoteApplied is emitted when a remote position update is applied.
	EventRemoteApplied logging.EventType = "movement.remote_applied"
	// EventReverted is emitted when a pending move is cancelled and the token returns to its start.
	EventReverted logging.EventType = "movement.reverted"
)

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// CommittedPayload describes a committed move.
type CommittedPayload struct {
	From      Position `json:"from"`
	To        Position `json:"to"`
	Forwarded bool     `json:"forwarded"`
}

// EvaluatedPayload captures the ledger's answer for a combat move.
type EvaluatedPayload struct {
	RawFeet            float64 `json:"rawFeet"`
	DisplayFeet        float64 `json:"displayFeet"`
	TotalAfter         float64 `json:"totalAfter"`
	MovementLimit      float64 `json:"movementLimit"`
	NeedsConfirmation  bool    `json:"needsConfirmation"`
	AdditionalAPNeeded int     `json:"additionalApNeeded"`
}

// EchoPayload describes a suppressed or applied remote update.
type EchoPayload struct {
	Position  Position `json:"position"`
	SinceMark int64    `json:"sinceMarkMillis,omitempty"`
}

func Committed(ctx context.Context, pub logging.Publisher, tokenID string, payload CommittedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventCommitted,
		Actor:    logging.TokenRef(tokenID),
		Severity: logging.SeverityInfo,
		Category: logging.CategoryMovement,
		Payload:  payload,
	})
}

func Evaluated(ctx context.Context, pub logging.Publisher, tokenID string, payload EvaluatedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventEvaluated,
		Actor:    logging.TokenRef(tokenID),
		Severity: logging.SeverityDebug,
		Category: logging.CategoryMovement,
		Payload:  payload,
	})
}

// EchoSuppressed is debug-only: a stale echo is never surfaced to the player.
func EchoSuppressed(ctx context.Context, pub logging.Publisher, tokenID string, payload EchoPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventEchoSuppressed,
		Actor:    logging.TokenRef(tokenID),
		Severity: logging.SeverityDebug,
		Category: logging.CategoryMovement,
		Payload:  payload,
	})
}

func RemoteApplied(ctx context.Context, pub logging.Publisher, tokenID string, payload EchoPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventRemoteApplied,
		Actor:    logging.TokenRef(tokenID),
		Severity: logging.SeverityDebug,
		Category: logging.CategoryMovement,
		Payload:  payload,
	})
}

func Reverted(ctx context.Context, pub logging.Publisher, tokenID string, to Position) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventReverted,
		Actor:    logging.TokenRef(tokenID),
		Severity: logging.SeverityInfo,
		Category: logging.CategoryMovement,
		Payload:  to,
	})
}
