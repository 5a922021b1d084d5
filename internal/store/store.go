package store

import (
	"context"
	"errors"
	"time"

	"github.com/go-gl/mathgl/mgl64"
)

// EventKind classifies journal entries.
type EventKind string

const (
	KindSighted EventKind = "sighted"
	KindLost    EventKind = "lost"
	KindShot    EventKind = "shot"
	KindDamage  EventKind = "damage"
	KindTarget  EventKind = "target"
)

// Event is a notable occurrence in an arena.
type Event struct {
	ID          int64      `json:"id,omitempty"`
	Kind        EventKind  `json:"kind"`
	AreaID      uint64     `json:"area_id"`
	CharacterID uint64     `json:"character_id,omitempty"`
	PlayerID    uint64     `json:"player_id,omitempty"`
	EffectID    uint64     `json:"effect_id,omitempty"`
	Origin      mgl64.Vec3 `json:"origin"`
	Impact      mgl64.Vec3 `json:"impact"`
	At          time.Time  `json:"at"`
}

var (
	ErrClosed      = errors.New("journal closed")
	ErrUnsupported = errors.New("journal does not support queries")
)

// Journal defines the interface for persistent event storage.
type Journal interface {
	// Record appends an event.
	Record(ctx context.Context, e Event) error
	// Recent returns up to limit events, newest first.
	Recent(ctx context.Context, limit int) ([]Event, error)
	// Close releases resources.
	Close() error
}

// NopJournal discards events.
type NopJournal struct{}

func (NopJournal) Record(context.Context, Event) error { return nil }

func (NopJournal) Recent(context.Context, int) ([]Event, error) { return nil, nil }

func (NopJournal) Close() error { return nil }

func toVec(v []float64) mgl64.Vec3 {
	var out mgl64.Vec3
	copy(out[:], v)
	return out
}
