// Package character runs the patrolling characters of an arena.
//
// Each character owns a control loop ticking every TickInterval: it follows a
// path obtained from the navigation service, broadcasts its pose to nearby
// observers and periodically asks the designated target's client whether the
// target can see it. Reactions fire on visibility transitions only.
package character

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/ugaemi/patrol-server/internal/arena"
	"github.com/ugaemi/patrol-server/internal/clock"
	"github.com/ugaemi/patrol-server/internal/geom"
	"github.com/ugaemi/patrol-server/internal/protocol"
	"github.com/ugaemi/patrol-server/internal/scene"
	"github.com/ugaemi/patrol-server/internal/store"
	"github.com/ugaemi/patrol-server/internal/visibility"
	"github.com/ugaemi/patrol-server/internal/ws"
)

// Loop constants
const (
	TickInterval     = 100 * time.Millisecond
	ArrivalThreshold = 0.4
	StepLength       = 0.25
	VelocityScale    = 10.0 // ticks per second
	PoseRadius       = 1000.0
	ShotRadius       = 4000.0
	SampleInterval   = time.Second
	EyeHeight        = 1.25
)

var errEmptyPath = errors.New("path has no points")

// Transition notifications sent to the observer.
const (
	MessageInSight = "Target in sight"
	MessageLost    = "target lost"
)

// State is the movement state of a character.
type State int

const (
	StatePlanning State = iota
	StateFollowing
)

func (s State) String() string {
	switch s {
	case StatePlanning:
		return "planning"
	case StateFollowing:
		return "following"
	default:
		return "unknown"
	}
}

// Planner queries paths between two points of an area.
type Planner interface {
	QueryPath(ctx context.Context, areaID uint64, origin, destination mgl64.Vec3) ([]mgl64.Vec3, error)
}

// Resolver turns area-relative positions into world positions.
type Resolver interface {
	ResolveWorldPosition(ctx context.Context, areaID uint64, local mgl64.Vec3) (mgl64.Vec3, error)
	PlayerPosition(ctx context.Context, playerID uint64) (scene.PlayerPosition, error)
}

// Messenger delivers events to clients.
type Messenger interface {
	PublishNear(msg ws.Message, loc protocol.Location, radius float64) int
	SendToPlayer(playerID uint64, msg ws.Message) bool
}

// Sampler requests remote visibility samples.
type Sampler interface {
	RequestSample(ctx context.Context, observerID uint64, subject visibility.Subject) (string, error)
}

// Recorder journals notable events.
type Recorder interface {
	Record(ctx context.Context, e store.Event) error
}

// Weapon names the visuals of shot effects.
type Weapon struct {
	Type string `yaml:"weapon_type" json:"weapon_type"`
	Ammo string `yaml:"ammo_type" json:"ammo_type"`
}

// DefaultWeapon is the weapon characters fire when none is configured.
var DefaultWeapon = Weapon{
	Type: "WeaponLaserExtraSmallAgile3",
	Ammo: "AmmoLaserExtraSmallThermicAdvancedAgile",
}

// Deps are the collaborators of a character. Journal and Rand are optional.
type Deps struct {
	Arena     *arena.Arena
	Planner   Planner
	Resolver  Resolver
	Messenger Messenger
	Sampler   Sampler
	Journal   Recorder
	Clock     clock.Clock
	Rand      *rand.Rand
	Weapon    Weapon
}

// Character is an autonomous patrolling entity.
type Character struct {
	id   uint64
	deps Deps
	rng  *rand.Rand

	// Written by the loop; read by visibility reactions and diagnostics.
	mu                  sync.RWMutex
	state               State
	position            mgl64.Vec3
	velocity            mgl64.Vec3
	path                []mgl64.Vec3
	pathIndex           int
	lastVisibilityCheck time.Time
	inSight             bool

	// Serializes visibility reactions.
	reactMu sync.Mutex
}

// New creates a character standing on a random waypoint of the arena.
func New(id uint64, deps Deps) *Character {
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Weapon == (Weapon{}) {
		deps.Weapon = DefaultWeapon
	}
	rng := deps.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)))
	}

	return &Character{
		id:                  id,
		deps:                deps,
		rng:                 rng,
		state:               StatePlanning,
		position:            deps.Arena.PickRandomWaypoint(rng),
		lastVisibilityCheck: deps.Clock.Now(),
	}
}

// ID returns the entity id.
func (c *Character) ID() uint64 {
	return c.id
}

// Position returns the current position.
func (c *Character) Position() mgl64.Vec3 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.position
}

// Snapshot is a point-in-time view of a character.
type Snapshot struct {
	ID        uint64     `json:"id"`
	AreaID    uint64     `json:"area_id"`
	State     string     `json:"state"`
	Position  mgl64.Vec3 `json:"position"`
	Velocity  mgl64.Vec3 `json:"velocity"`
	PathIndex int        `json:"path_index"`
	PathLen   int        `json:"path_len"`
	InSight   bool       `json:"in_sight"`
}

// Snapshot returns the character's current state.
func (c *Character) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{
		ID:        c.id,
		AreaID:    c.deps.Arena.ID(),
		State:     c.state.String(),
		Position:  c.position,
		Velocity:  c.velocity,
		PathIndex: c.pathIndex,
		PathLen:   len(c.path),
		InSight:   c.inSight,
	}
}

// Run ticks the character until ctx is cancelled.
func (c *Character) Run(ctx context.Context) error {
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	slog.Info("character started", "character", c.id, "area", c.deps.Arena.ID())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.Step(ctx)
		}
	}
}

// Step runs one tick of the control loop.
func (c *Character) Step(ctx context.Context) {
	step := c.move(ctx)
	c.publishPose(step)
	c.maybeSample(ctx)
}

// move consumes the path and returns the displacement applied this tick.
// At most one path query is issued per tick.
func (c *Character) move(ctx context.Context) mgl64.Vec3 {
	planned := false
	for {
		c.mu.RLock()
		state := c.state
		c.mu.RUnlock()

		if state == StatePlanning {
			if planned {
				return mgl64.Vec3{}
			}
			planned = true
			if !c.plan(ctx) {
				return mgl64.Vec3{}
			}
		}

		if step, moved := c.advance(); moved {
			return step
		}
	}
}

// advance moves toward the current path point. It reports false when the
// point was reached (or the path ran out) and the caller must re-evaluate.
func (c *Character) advance() (mgl64.Vec3, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pathIndex >= len(c.path) {
		c.state = StatePlanning
		c.path = nil
		c.pathIndex = 0
		return mgl64.Vec3{}, false
	}

	next := c.path[c.pathIndex]
	if c.position.Sub(next).Len() < ArrivalThreshold {
		c.pathIndex++
		if c.pathIndex >= len(c.path) {
			c.state = StatePlanning
			c.path = nil
			c.pathIndex = 0
		}
		return mgl64.Vec3{}, false
	}

	var step mgl64.Vec3
	c.position, step = geom.StepToward(c.position, next, StepLength)
	c.velocity = step.Mul(VelocityScale)
	return step, true
}

// plan queries a path to a random waypoint. It reports whether the character
// is now following a path.
func (c *Character) plan(ctx context.Context) bool {
	destination := c.deps.Arena.PickRandomWaypoint(c.rng)
	origin := c.Position()

	path, err := c.deps.Planner.QueryPath(ctx, c.deps.Arena.ID(), origin, destination)
	if err == nil && len(path) == 0 {
		err = errEmptyPath
	}
	if err != nil {
		slog.Warn("path query failed", "character", c.id, "error", err)
		c.mu.Lock()
		c.velocity = mgl64.Vec3{}
		c.mu.Unlock()
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.path = path
	// Index 0 is the origin, already occupied.
	c.pathIndex = 1
	if len(path) == 1 {
		c.pathIndex = 0
	}
	c.state = StateFollowing

	slog.Debug("path planned", "character", c.id, "destination", destination, "points", len(path))
	return true
}

func (c *Character) publishPose(step mgl64.Vec3) {
	c.mu.RLock()
	position := c.position
	c.mu.RUnlock()

	areaID := c.deps.Arena.ID()
	msg, err := ws.NewMessage(ws.TypePoseUpdate, protocol.PoseUpdate{
		EntityID: c.id,
		AreaID:   areaID,
		Position: position,
		Rotation: geom.QuatArray(geom.Facing(step)),
		Velocity: step.Mul(VelocityScale),
		Time:     c.deps.Clock.Now().UnixMilli(),
	})
	if err != nil {
		slog.Error("failed to encode pose", "character", c.id, "error", err)
		return
	}
	c.deps.Messenger.PublishNear(msg, protocol.Location{AreaID: areaID, Position: position}, PoseRadius)
}

func (c *Character) maybeSample(ctx context.Context) {
	target := c.deps.Arena.Target()
	if target == 0 {
		return
	}

	now := c.deps.Clock.Now()
	c.mu.Lock()
	if now.Sub(c.lastVisibilityCheck) <= SampleInterval {
		c.mu.Unlock()
		return
	}
	c.lastVisibilityCheck = now
	c.mu.Unlock()

	if _, err := c.deps.Sampler.RequestSample(ctx, target, c); err != nil {
		slog.Debug("visibility sample not requested", "character", c.id, "target", target, "error", err)
	}
}

// OnVisibilityResult applies a visibility sample reported by observerID.
// Only transitions trigger a reaction.
func (c *Character) OnVisibilityResult(ctx context.Context, observerID uint64, visible bool) {
	c.reactMu.Lock()
	defer c.reactMu.Unlock()

	c.mu.RLock()
	wasInSight := c.inSight
	position := c.position
	c.mu.RUnlock()

	if visible == wasInSight {
		return
	}

	text, kind := MessageLost, store.KindLost
	if visible {
		text, kind = MessageInSight, store.KindSighted
	}
	slog.Info("visibility changed", "character", c.id, "observer", observerID, "visible", visible)

	if msg, err := ws.NewMessage(ws.TypeChat, protocol.ChatMessage{
		From:    c.id,
		Channel: protocol.ChannelHelp,
		Message: text,
	}); err == nil {
		c.deps.Messenger.SendToPlayer(observerID, msg)
	}
	c.record(ctx, store.Event{
		Kind:        kind,
		AreaID:      c.deps.Arena.ID(),
		CharacterID: c.id,
		PlayerID:    observerID,
		Origin:      position,
	})

	if visible {
		if err := c.shoot(ctx, observerID, position); err != nil {
			slog.Warn("shot effect skipped", "character", c.id, "observer", observerID, "error", err)
		}
	}

	c.mu.Lock()
	c.inSight = visible
	c.mu.Unlock()
}

// shoot publishes a shot effect from the character toward the player. Both
// ends are raised by EyeHeight along world z, which is off when the area is
// rotated.
func (c *Character) shoot(ctx context.Context, playerID uint64, position mgl64.Vec3) error {
	eye := mgl64.Vec3{0, 0, EyeHeight}
	areaID := c.deps.Arena.ID()

	originLocal := position.Add(eye)
	originWorld, err := c.deps.Resolver.ResolveWorldPosition(ctx, areaID, originLocal)
	if err != nil {
		return err
	}
	player, err := c.deps.Resolver.PlayerPosition(ctx, playerID)
	if err != nil {
		return err
	}

	effect := protocol.ShotEffect{
		ID:           c.deps.Arena.NextEffectID(),
		OriginAreaID: areaID,
		TargetAreaID: player.AreaID,
		WeaponType:   c.deps.Weapon.Type,
		AmmoType:     c.deps.Weapon.Ammo,
		OriginLocal:  originLocal,
		OriginWorld:  originWorld,
		ImpactLocal:  player.Local.Add(eye),
		ImpactWorld:  player.World.Add(eye),
	}
	msg, err := ws.NewMessage(ws.TypeShot, effect)
	if err != nil {
		return err
	}
	c.deps.Messenger.PublishNear(msg, protocol.Location{Position: effect.ImpactWorld}, ShotRadius)

	c.record(ctx, store.Event{
		Kind:        store.KindShot,
		AreaID:      areaID,
		CharacterID: c.id,
		PlayerID:    playerID,
		EffectID:    effect.ID,
		Origin:      effect.OriginWorld,
		Impact:      effect.ImpactWorld,
	})
	return nil
}

func (c *Character) record(ctx context.Context, e store.Event) {
	if c.deps.Journal == nil {
		return
	}
	e.At = c.deps.Clock.Now()
	if err := c.deps.Journal.Record(ctx, e); err != nil {
		slog.Warn("failed to journal event", "kind", e.Kind, "character", c.id, "error", err)
	}
}
