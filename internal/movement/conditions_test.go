package movement

import "testing"

func TestEffectiveSpeed(t *testing.T) {
	cases := []struct {
		name       string
		base       float64
		conditions []string
		want       float64
	}{
		{"base speed", 30, nil, 30},
		{"missing speed defaults", 0, nil, DefaultSpeed},
		{"slowed halves", 30, []string{"Slowed"}, 15},
		{"hasted doubles", 25, []string{"hasted"}, 50},
		{"haste and slow cancel", 30, []string{"hasted", "slowed"}, 30},
		{"grappled stops", 40, []string{"blessed", " grappled "}, 0},
		{"unknown ignored", 30, []string{"inspired"}, 30},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := EffectiveSpeed(tc.base, tc.conditions); got != tc.want {
				t.Fatalf("EffectiveSpeed(%v, %v) = %v, want %v", tc.base, tc.conditions, got, tc.want)
			}
		})
	}
}
