// Package reconcile filters network echoes of a client's own token moves.
//
// After a local commit the token is marked; remote position updates for that
// token are suppressed until the window elapses. Expiry is purely time based,
// so every echo inside the window is dropped. A genuine remote move landing
// inside the window is indistinguishable from an echo and is dropped too; the
// most recent local state wins.
package reconcile

import (
	"sync"
	"time"

	"vtt/client/internal/grid"
	"vtt/client/logging"
)

// DefaultWindow is the echo suppression window.
const DefaultWindow = 100 * time.Millisecond

type Config struct {
	Window time.Duration
	Clock  logging.Clock
}

// Marker records the last locally committed move of a token.
type Marker struct {
	Position  grid.Point
	Timestamp time.Time
}

type Stats struct {
	Marked     uint64
	Suppressed uint64
	Applied    uint64
}

// Reconciler is scoped to one client session.
type Reconciler struct {
	window time.Duration
	clock  logging.Clock

	mu      sync.Mutex
	markers map[string]Marker
	stats   Stats
}

func New(cfg Config) *Reconciler {
	window := cfg.Window
	if window <= 0 {
		window = DefaultWindow
	}
	clock := cfg.Clock
	if clock == nil {
		clock = logging.SystemClock{}
	}
	return &Reconciler{
		window:  window,
		clock:   clock,
		markers: make(map[string]Marker),
	}
}

func (r *Reconciler) Window() time.Duration {
	return r.window
}

// MarkLocalMove stamps tokenID with the current time, replacing any earlier marker.
func (r *Reconciler) MarkLocalMove(tokenID string, position grid.Point) {
	now := r.clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.markers[tokenID] = Marker{Position: position, Timestamp: now}
	r.stats.Marked++
}

// ShouldApplyRemoteUpdate reports whether a remote update observed at `at`
// may be applied. A zero `at` means now. The marker is left in place.
func (r *Reconciler) ShouldApplyRemoteUpdate(tokenID string, at time.Time) bool {
	_, ok := r.Check(tokenID, at)
	return ok
}

// Check is ShouldApplyRemoteUpdate returning the time elapsed since the
// marker when one exists.
func (r *Reconciler) Check(tokenID string, at time.Time) (time.Duration, bool) {
	if at.IsZero() {
		at = r.clock.Now()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	marker, ok := r.markers[tokenID]
	if !ok {
		r.stats.Applied++
		return 0, true
	}
	elapsed := at.Sub(marker.Timestamp)
	if elapsed < r.window {
		r.stats.Suppressed++
		return elapsed, false
	}
	r.stats.Applied++
	return elapsed, true
}

// Marker returns the marker for tokenID if it has not expired.
func (r *Reconciler) Marker(tokenID string) (Marker, bool) {
	now := r.clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	marker, ok := r.markers[tokenID]
	if !ok || now.Sub(marker.Timestamp) >= r.window {
		return Marker{}, false
	}
	return marker, true
}

// Forget drops the marker for a removed token.
func (r *Reconciler) Forget(tokenID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.markers, tokenID)
}

// Sweep removes expired markers and returns how many were dropped.
func (r *Reconciler) Sweep() int {
	now := r.clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, marker := range r.markers {
		if now.Sub(marker.Timestamp) >= r.window {
			delete(r.markers, id)
			removed++
		}
	}
	return removed
}

// Dispose clears all session state.
func (r *Reconciler) Dispose() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.markers = make(map[string]Marker)
	r.stats = Stats{}
}

func (r *Reconciler) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}
