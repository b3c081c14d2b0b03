package combat

import (
	"context"

	"vtt/client/logging"
)

const (
	EventTurnStarted logging.EventType = "combat.turn_started"
	EventAPSpent     logging.EventType = "combat.ap_spent"
)

type TurnPayload struct {
	Round        int `json:"round"`
	ActionPoints int `json:"actionPoints"`
}

type SpendPayload struct {
	Amount    int  `json:"amount"`
	Remaining int  `json:"remaining"`
	Accepted  bool `json:"accepted"`
}

func TurnStarted(ctx context.Context, pub logging.Publisher, tokenID string, payload TurnPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventTurnStarted,
		Actor:    logging.TokenRef(tokenID),
		Severity: logging.SeverityInfo,
		Category: logging.CategoryCombat,
		Payload:  payload,
	})
}

// APSpent records both accepted and refused spends; refusals are warnings.
func APSpent(ctx context.Context, pub logging.Publisher, tokenID string, payload SpendPayload) {
	if pub == nil {
		return
	}
	severity := logging.SeverityInfo
	if !payload.Accepted {
		severity = logging.SeverityWarn
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventAPSpent,
		Actor:    logging.TokenRef(tokenID),
		Severity: severity,
		Category: logging.CategoryCombat,
		Payload:  payload,
	})
}
