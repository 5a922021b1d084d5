package arena

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/ugaemi/patrol-server/internal/scene"
)

// DefaultWaypointType is the element tag of pressure plates, which mark
// patrol waypoints.
const DefaultWaypointType uint64 = 2012928469

// FirstEffectID is the first id handed out by NextEffectID.
const FirstEffectID uint64 = 1000000

var (
	ErrNoWaypoints        = errors.New("arena has no waypoints")
	ErrAlreadyInitialized = errors.New("arena already initialized")
)

// ElementLister enumerates the elements of an area by type tag.
type ElementLister interface {
	ElementsByType(ctx context.Context, areaID, typeID uint64) ([]scene.Element, error)
}

// Arena is a bounded area patrolled by characters. Its waypoints are written
// once by Initialize and only read afterwards.
type Arena struct {
	id           uint64
	waypointType uint64
	waypoints    []mgl64.Vec3
	initialized  atomic.Bool

	target       atomic.Uint64
	nextEffectID atomic.Uint64
}

// New creates an arena for the given area id.
func New(id, waypointType uint64) *Arena {
	a := &Arena{
		id:           id,
		waypointType: waypointType,
	}
	a.nextEffectID.Store(FirstEffectID)
	return a
}

// ID returns the area id.
func (a *Arena) ID() uint64 {
	return a.id
}

// Initialize records the positions of every waypoint element of the area.
// Either all waypoints are recorded or the arena stays uninitialized.
func (a *Arena) Initialize(ctx context.Context, lister ElementLister) error {
	if a.initialized.Load() {
		return ErrAlreadyInitialized
	}

	elems, err := lister.ElementsByType(ctx, a.id, a.waypointType)
	if err != nil {
		return fmt.Errorf("list waypoints of area %d: %w", a.id, err)
	}

	waypoints := make([]mgl64.Vec3, 0, len(elems))
	for _, el := range elems {
		if el.Type != 0 && el.Type != a.waypointType {
			continue
		}
		waypoints = append(waypoints, el.Position)
	}
	if len(waypoints) == 0 {
		return fmt.Errorf("area %d: %w", a.id, ErrNoWaypoints)
	}

	if !a.initialized.CompareAndSwap(false, true) {
		return ErrAlreadyInitialized
	}
	a.waypoints = waypoints

	slog.Info("arena initialized", "area", a.id, "waypoints", len(waypoints))
	return nil
}

// LoadWaypoints initializes the arena from a known waypoint list.
func (a *Arena) LoadWaypoints(waypoints []mgl64.Vec3) error {
	if len(waypoints) == 0 {
		return ErrNoWaypoints
	}
	if !a.initialized.CompareAndSwap(false, true) {
		return ErrAlreadyInitialized
	}
	a.waypoints = append([]mgl64.Vec3(nil), waypoints...)
	return nil
}

// Waypoints returns the waypoint list. Callers must not modify it.
func (a *Arena) Waypoints() []mgl64.Vec3 {
	return a.waypoints
}

// PickRandomWaypoint returns a uniformly chosen waypoint. It must only be
// called on an initialized arena.
func (a *Arena) PickRandomWaypoint(rng *rand.Rand) mgl64.Vec3 {
	return a.waypoints[rng.Intn(len(a.waypoints))]
}

// SetTarget designates the player characters try to see. 0 clears it.
func (a *Arena) SetTarget(playerID uint64) {
	a.target.Store(playerID)
}

// Target returns the designated player, or 0.
func (a *Arena) Target() uint64 {
	return a.target.Load()
}

// NextEffectID allocates a unique effect id.
func (a *Arena) NextEffectID() uint64 {
	return a.nextEffectID.Add(1) - 1
}
