package handler

import (
	"errors"
	"time"

	"github.com/sasha-s/go-deadlock"

	"github.com/ugaemi/patrol-server/internal/clock"
)

// DebounceWindow is the minimum time between two damaging actions of a player.
const DebounceWindow = 2000 * time.Millisecond

// ErrRateLimited is returned for damaging actions inside the debounce window.
var ErrRateLimited = errors.New("action rate limited")

// Debouncer remembers when each player last triggered a damaging action.
type Debouncer struct {
	clock  clock.Clock
	window time.Duration

	mu   deadlock.Mutex
	last map[uint64]time.Time
}

// NewDebouncer creates a debouncer with the given window.
func NewDebouncer(clk clock.Clock, window time.Duration) *Debouncer {
	if clk == nil {
		clk = clock.Real()
	}
	return &Debouncer{
		clock:  clk,
		window: window,
		last:   make(map[uint64]time.Time),
	}
}

// Ready reports whether playerID is outside its window, without marking it.
func (d *Debouncer) Ready(playerID uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readyLocked(playerID, d.clock.Now())
}

// TryAcquire marks playerID as having triggered now. It returns false and
// leaves the mark untouched if the player is still inside the window.
func (d *Debouncer) TryAcquire(playerID uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock.Now()
	if !d.readyLocked(playerID, now) {
		return false
	}
	d.last[playerID] = now
	return true
}

func (d *Debouncer) readyLocked(playerID uint64, now time.Time) bool {
	last, ok := d.last[playerID]
	return !ok || now.Sub(last) >= d.window
}
