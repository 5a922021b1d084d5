package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/ugaemi/patrol-server/internal/arena"
	"github.com/ugaemi/patrol-server/internal/character"
	"github.com/ugaemi/patrol-server/internal/clock"
	"github.com/ugaemi/patrol-server/internal/damage"
	"github.com/ugaemi/patrol-server/internal/protocol"
	"github.com/ugaemi/patrol-server/internal/scene"
	"github.com/ugaemi/patrol-server/internal/store"
	"github.com/ugaemi/patrol-server/internal/ws"
)

// ErrUnknownAction is returned for action ids without a handler.
var ErrUnknownAction = errors.New("unknown action")

// SampleSink receives decoded visibility results.
type SampleSink interface {
	DeliverSample(ctx context.Context, observerID uint64, token string, visible bool) error
	DeliverRaycast(ctx context.Context, observerID uint64, token string, hitPlayerID uint64) error
}

// Messenger delivers events to clients.
type Messenger interface {
	PublishNear(msg ws.Message, loc protocol.Location, radius float64) int
	SendToPlayer(playerID uint64, msg ws.Message) bool
}

// PlayerLocator resolves where a player stands.
type PlayerLocator interface {
	PlayerPosition(ctx context.Context, playerID uint64) (scene.PlayerPosition, error)
}

// DispatcherDeps are the collaborators of a Dispatcher. Journal, Damage and
// Clock are optional.
type DispatcherDeps struct {
	Arena     *arena.Arena
	Samples   SampleSink
	Messenger Messenger
	Locator   PlayerLocator
	Damage    damage.Requester
	Journal   character.Recorder
	Clock     clock.Clock
	Weapon    character.Weapon
}

// Dispatcher routes inbound actions by id.
type Dispatcher struct {
	deps      DispatcherDeps
	debouncer *Debouncer
}

// NewDispatcher creates a dispatcher owning a fresh debouncer.
func NewDispatcher(deps DispatcherDeps) *Dispatcher {
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Damage == nil {
		deps.Damage = damage.LogRequester{}
	}
	if deps.Weapon == (character.Weapon{}) {
		deps.Weapon = character.DefaultWeapon
	}
	return &Dispatcher{
		deps:      deps,
		debouncer: NewDebouncer(deps.Clock, DebounceWindow),
	}
}

// Dispatch handles one action sent by a.PlayerID.
func (d *Dispatcher) Dispatch(ctx context.Context, a protocol.Action) error {
	if a.ActionID.Damaging() && !d.debouncer.Ready(a.PlayerID) {
		return ErrRateLimited
	}

	switch a.ActionID {
	case protocol.ActionRegisterTarget:
		return d.registerTarget(ctx, a)
	case protocol.ActionRaycastResult:
		rc, err := protocol.ParseRaycast(a.Payload)
		if err != nil {
			return err
		}
		return d.deps.Samples.DeliverRaycast(ctx, a.PlayerID, rc.Token, rc.PlayerID)
	case protocol.ActionVisibilityResult:
		token, visible, err := protocol.ParseVisibility(a.Payload)
		if err != nil {
			return err
		}
		return d.deps.Samples.DeliverSample(ctx, a.PlayerID, token, visible)
	case protocol.ActionBouncingLaser:
		return d.bouncingLaser(a)
	case protocol.ActionSuperShot:
		return d.inject(a.PlayerID, protocol.ShotRaycastScript)
	case protocol.ActionShotRaycast:
		return d.shotRaycast(ctx, a)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownAction, a.ActionID)
	}
}

func (d *Dispatcher) registerTarget(ctx context.Context, a protocol.Action) error {
	d.deps.Arena.SetTarget(a.PlayerID)
	slog.Info("target designated", "player", a.PlayerID, "area", d.deps.Arena.ID())

	d.record(ctx, store.Event{Kind: store.KindTarget, AreaID: d.deps.Arena.ID(), PlayerID: a.PlayerID})
	return d.inject(a.PlayerID, protocol.CheckScript)
}

func (d *Dispatcher) inject(playerID uint64, script string) error {
	msg, err := ws.NewMessage(ws.TypeInjectScript, protocol.InjectScript{
		Event:   protocol.EventInjectJS,
		Payload: script,
	})
	if err != nil {
		return err
	}
	d.deps.Messenger.SendToPlayer(playerID, msg)
	return nil
}

// bouncingLaser renders one effect per segment of a polyline in world space.
func (d *Dispatcher) bouncingLaser(a protocol.Action) error {
	points, err := protocol.ParsePolyline(a.Payload)
	if err != nil {
		return err
	}
	for i := 0; i+1 < len(points); i++ {
		d.publishShot(protocol.ShotEffect{
			ID:           d.deps.Arena.NextEffectID(),
			TargetAreaID: a.AreaID,
			OriginLocal:  points[i],
			OriginWorld:  points[i],
			ImpactLocal:  points[i+1],
			ImpactWorld:  points[i+1],
		}, points[i])
	}
	return nil
}

// shotRaycast applies a player's shot: the struck player dies and the laser
// is rendered from the shooter to the impact point.
func (d *Dispatcher) shotRaycast(ctx context.Context, a protocol.Action) error {
	rc, err := protocol.ParseRaycast(a.Payload)
	if err != nil {
		return err
	}
	impact, err := rc.Impact()
	if err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrMalformedPayload, err)
	}
	if !d.debouncer.TryAcquire(a.PlayerID) {
		return ErrRateLimited
	}

	if rc.PlayerID != 0 {
		req := damage.DeathRequest{
			VictimID:   rc.PlayerID,
			KillerID:   a.PlayerID,
			AreaID:     rc.ConstructID,
			ElementID:  rc.ElementID,
			Cause:      "shot",
			WeaponType: d.deps.Weapon.Type,
			AmmoType:   d.deps.Weapon.Ammo,
			Impact:     impact,
			At:         d.deps.Clock.Now(),
		}
		if err := d.deps.Damage.RequestDeath(ctx, req); err != nil {
			slog.Warn("death request failed", "victim", rc.PlayerID, "error", err)
		}
		d.record(ctx, store.Event{
			Kind:     store.KindDamage,
			AreaID:   rc.ConstructID,
			PlayerID: rc.PlayerID,
			Impact:   impact,
		})
	}

	if rc.ConstructID == 0 {
		return nil
	}
	shooter, err := d.deps.Locator.PlayerPosition(ctx, a.PlayerID)
	if err != nil {
		return err
	}
	d.publishShot(protocol.ShotEffect{
		ID:           d.deps.Arena.NextEffectID(),
		OriginAreaID: rc.ConstructID,
		TargetAreaID: rc.ConstructID,
		OriginLocal:  shooter.Local,
		OriginWorld:  shooter.World,
		ImpactLocal:  impact,
		ImpactWorld:  impact,
	}, impact)
	return nil
}

func (d *Dispatcher) publishShot(effect protocol.ShotEffect, at mgl64.Vec3) {
	effect.WeaponType = d.deps.Weapon.Type
	effect.AmmoType = d.deps.Weapon.Ammo

	msg, err := ws.NewMessage(ws.TypeShot, effect)
	if err != nil {
		slog.Error("failed to encode shot", "error", err)
		return
	}
	d.deps.Messenger.PublishNear(msg, protocol.Location{Position: at}, character.ShotRadius)
}

func (d *Dispatcher) record(ctx context.Context, e store.Event) {
	if d.deps.Journal == nil {
		return
	}
	e.At = d.deps.Clock.Now()
	if err := d.deps.Journal.Record(ctx, e); err != nil {
		slog.Warn("failed to journal event", "kind", e.Kind, "error", err)
	}
}
