package movement

import "strings"

// DefaultSpeed applies to creatures without a recorded speed.
const DefaultSpeed = 30.0

var immobilizingConditions = map[string]bool{
	"grappled":    true,
	"restrained":  true,
	"paralyzed":   true,
	"stunned":     true,
	"unconscious": true,
	"petrified":   true,
}

// EffectiveSpeed applies condition modifiers to a creature's base speed.
// Unknown conditions are ignored.
func EffectiveSpeed(base float64, conditions []string) float64 {
	speed := base
	if !(speed > 0) {
		speed = DefaultSpeed
	}
	multiplier := 1.0
	for _, raw := range conditions {
		name := strings.ToLower(strings.TrimSpace(raw))
		if immobilizingConditions[name] {
			return 0
		}
		switch name {
		case "slowed":
			multiplier *= 0.5
		case "hasted":
			multiplier *= 2
		}
	}
	return speed * multiplier
}
