package character

import (
	"log/slog"
	"sort"
	"sync"
)

// Roster indexes the characters of the process by id.
type Roster struct {
	characters map[uint64]*Character
	mu         sync.RWMutex
}

// NewRoster creates an empty roster.
func NewRoster() *Roster {
	return &Roster{
		characters: make(map[uint64]*Character),
	}
}

// Add registers c. It returns false if the id is already taken.
func (r *Roster) Add(c *Character) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.characters[c.ID()]; exists {
		return false
	}
	r.characters[c.ID()] = c
	slog.Info("character registered", "character", c.ID())
	return true
}

// Get returns a character by id.
func (r *Roster) Get(id uint64) *Character {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.characters[id]
}

// All returns every character ordered by id.
func (r *Roster) All() []*Character {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Character, 0, len(r.characters))
	for _, c := range r.characters {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Len returns the number of characters.
func (r *Roster) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.characters)
}
