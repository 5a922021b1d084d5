package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ugaemi/patrol-server/internal/arena"
	"github.com/ugaemi/patrol-server/internal/character"
	"github.com/ugaemi/patrol-server/internal/clock"
	"github.com/ugaemi/patrol-server/internal/damage"
	"github.com/ugaemi/patrol-server/internal/protocol"
	"github.com/ugaemi/patrol-server/internal/scene"
	"github.com/ugaemi/patrol-server/internal/store"
	"github.com/ugaemi/patrol-server/internal/visibility"
	"github.com/ugaemi/patrol-server/internal/ws"
)

type sample struct {
	observer uint64
	token    string
	visible  bool
	hit      uint64
	raycast  bool
}

type fakeSink struct {
	mu      sync.Mutex
	samples []sample
	err     error
}

func (f *fakeSink) DeliverSample(_ context.Context, observerID uint64, token string, visible bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.samples = append(f.samples, sample{observer: observerID, token: token, visible: visible})
	return f.err
}

func (f *fakeSink) DeliverRaycast(_ context.Context, observerID uint64, token string, hit uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.samples = append(f.samples, sample{observer: observerID, token: token, hit: hit, raycast: true})
	return f.err
}

type publishedMsg struct {
	msg    ws.Message
	loc    protocol.Location
	radius float64
}

type fakeMessenger struct {
	mu        sync.Mutex
	published []publishedMsg
	direct    map[uint64][]ws.Message
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{direct: map[uint64][]ws.Message{}}
}

func (m *fakeMessenger) PublishNear(msg ws.Message, loc protocol.Location, radius float64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, publishedMsg{msg, loc, radius})
	return 1
}

func (m *fakeMessenger) SendToPlayer(playerID uint64, msg ws.Message) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.direct[playerID] = append(m.direct[playerID], msg)
	return true
}

func (m *fakeMessenger) shots(t *testing.T) []protocol.ShotEffect {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []protocol.ShotEffect
	for _, p := range m.published {
		if p.msg.Type != ws.TypeShot {
			continue
		}
		var effect protocol.ShotEffect
		require.NoError(t, json.Unmarshal(p.msg.Data, &effect))
		out = append(out, effect)
	}
	return out
}

type fakeLocator struct {
	pos scene.PlayerPosition
	err error
}

func (l *fakeLocator) PlayerPosition(context.Context, uint64) (scene.PlayerPosition, error) {
	return l.pos, l.err
}

type fakeDamage struct {
	mu       sync.Mutex
	requests []damage.DeathRequest
}

func (f *fakeDamage) RequestDeath(_ context.Context, req damage.DeathRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return nil
}

type fakeJournal struct {
	mu     sync.Mutex
	events []store.Event
}

func (j *fakeJournal) Record(_ context.Context, e store.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, e)
	return nil
}

type dispatchFixture struct {
	d         *Dispatcher
	arena     *arena.Arena
	sink      *fakeSink
	messenger *fakeMessenger
	damage    *fakeDamage
	journal   *fakeJournal
	clock     *clock.Manual
}

func newDispatchFixture(t *testing.T) *dispatchFixture {
	t.Helper()
	a := arena.New(1000215, arena.DefaultWaypointType)
	require.NoError(t, a.LoadWaypoints([]mgl64.Vec3{{0, 0, 0}}))

	f := &dispatchFixture{
		arena:     a,
		sink:      &fakeSink{},
		messenger: newFakeMessenger(),
		damage:    &fakeDamage{},
		journal:   &fakeJournal{},
		clock:     clock.NewManual(time.Unix(1700000000, 0)),
	}
	f.d = NewDispatcher(DispatcherDeps{
		Arena:     a,
		Samples:   f.sink,
		Messenger: f.messenger,
		Locator:   &fakeLocator{pos: scene.PlayerPosition{AreaID: 5, Local: mgl64.Vec3{1, 1, 0}, World: mgl64.Vec3{11, 11, 0}}},
		Damage:    f.damage,
		Journal:   f.journal,
		Clock:     f.clock,
	})
	return f
}

func shotPayload(victim, construct uint64) string {
	return fmt.Sprintf(`{"playerId":%d,"constructId":%d,"elementId":0,"impactPoint":[1,2,3],"impactNormal":[0,0,1]}`, victim, construct)
}

func TestDispatch_RegisterTarget(t *testing.T) {
	f := newDispatchFixture(t)

	require.NoError(t, f.d.Dispatch(context.Background(), protocol.Action{PlayerID: 7, ActionID: protocol.ActionRegisterTarget}))
	assert.Equal(t, uint64(7), f.arena.Target())

	msgs := f.messenger.direct[7]
	require.Len(t, msgs, 1)
	assert.Equal(t, ws.TypeInjectScript, msgs[0].Type)
	var script protocol.InjectScript
	require.NoError(t, json.Unmarshal(msgs[0].Data, &script))
	assert.Equal(t, protocol.CheckScript, script.Payload)

	require.Len(t, f.journal.events, 1)
	assert.Equal(t, store.KindTarget, f.journal.events[0].Kind)

	// Last writer wins.
	require.NoError(t, f.d.Dispatch(context.Background(), protocol.Action{PlayerID: 8, ActionID: protocol.ActionRegisterTarget}))
	assert.Equal(t, uint64(8), f.arena.Target())
}

func TestDispatch_VisibilityResult(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		token   string
		visible bool
	}{
		{"legacy true", "true", "", true},
		{"legacy false", "false", "", false},
		{"tokened", `{"token":"abc","visible":true}`, "abc", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newDispatchFixture(t)
			err := f.d.Dispatch(context.Background(), protocol.Action{
				PlayerID: 7, ActionID: protocol.ActionVisibilityResult, Payload: tt.payload,
			})
			require.NoError(t, err)
			require.Len(t, f.sink.samples, 1)
			assert.Equal(t, sample{observer: 7, token: tt.token, visible: tt.visible}, f.sink.samples[0])
		})
	}
}

func TestDispatch_RaycastResult(t *testing.T) {
	f := newDispatchFixture(t)
	payload := `{"playerId":10002,"constructId":1000215,"elementId":0,"impactPoint":[1,2,3],"impactNormal":[0,0,1],"token":"tok"}`

	require.NoError(t, f.d.Dispatch(context.Background(), protocol.Action{
		PlayerID: 7, ActionID: protocol.ActionRaycastResult, Payload: payload,
	}))
	require.Len(t, f.sink.samples, 1)
	assert.Equal(t, sample{observer: 7, token: "tok", hit: 10002, raycast: true}, f.sink.samples[0])
}

func TestDispatch_UnmatchedSampleSurfacesSentinel(t *testing.T) {
	f := newDispatchFixture(t)
	f.sink.err = visibility.ErrSampleUnmatched

	err := f.d.Dispatch(context.Background(), protocol.Action{
		PlayerID: 99, ActionID: protocol.ActionVisibilityResult, Payload: "true",
	})
	assert.ErrorIs(t, err, visibility.ErrSampleUnmatched)
}

func TestDispatch_MalformedPayloads(t *testing.T) {
	tests := []struct {
		name   string
		action protocol.Action
	}{
		{"visibility", protocol.Action{ActionID: protocol.ActionVisibilityResult, Payload: "maybe"}},
		{"raycast", protocol.Action{ActionID: protocol.ActionRaycastResult, Payload: "[1,2"}},
		{"bouncing laser", protocol.Action{ActionID: protocol.ActionBouncingLaser, Payload: "[[1,2]]"}},
		{"shot raycast", protocol.Action{ActionID: protocol.ActionShotRaycast, Payload: `{"impactPoint":[1]}`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newDispatchFixture(t)
			tt.action.PlayerID = 7
			err := f.d.Dispatch(context.Background(), tt.action)
			assert.ErrorIs(t, err, protocol.ErrMalformedPayload)
			assert.Empty(t, f.sink.samples)
			assert.Empty(t, f.messenger.published)
		})
	}
}

func TestDispatch_UnknownAction(t *testing.T) {
	f := newDispatchFixture(t)
	err := f.d.Dispatch(context.Background(), protocol.Action{PlayerID: 7, ActionID: 6})
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func TestDispatch_BouncingLaser(t *testing.T) {
	f := newDispatchFixture(t)
	payload := `[[0,0,1.5],[0,20,1.5],[5,25,1.5]]`

	require.NoError(t, f.d.Dispatch(context.Background(), protocol.Action{
		PlayerID: 7, AreaID: 33, ActionID: protocol.ActionBouncingLaser, Payload: payload,
	}))

	shots := f.messenger.shots(t)
	require.Len(t, shots, 2)
	assert.Equal(t, arena.FirstEffectID, shots[0].ID)
	assert.Equal(t, arena.FirstEffectID+1, shots[1].ID)
	assert.Equal(t, mgl64.Vec3{0, 0, 1.5}, shots[0].OriginWorld)
	assert.Equal(t, mgl64.Vec3{0, 20, 1.5}, shots[0].ImpactWorld)
	assert.Equal(t, mgl64.Vec3{5, 25, 1.5}, shots[1].ImpactWorld)
	assert.Equal(t, uint64(33), shots[0].TargetAreaID)
	assert.Equal(t, character.DefaultWeapon.Type, shots[0].WeaponType)
	assert.Equal(t, character.ShotRadius, f.messenger.published[0].radius)
	assert.Equal(t, uint64(0), f.messenger.published[0].loc.AreaID)
}

func TestDispatch_SuperShotInjectsRaycast(t *testing.T) {
	f := newDispatchFixture(t)

	require.NoError(t, f.d.Dispatch(context.Background(), protocol.Action{PlayerID: 7, ActionID: protocol.ActionSuperShot}))
	msgs := f.messenger.direct[7]
	require.Len(t, msgs, 1)
	var script protocol.InjectScript
	require.NoError(t, json.Unmarshal(msgs[0].Data, &script))
	assert.Equal(t, protocol.ShotRaycastScript, script.Payload)

	// Asking for a shot does not consume the window.
	require.NoError(t, f.d.Dispatch(context.Background(), protocol.Action{PlayerID: 7, ActionID: protocol.ActionSuperShot}))
}

func TestDispatch_ShotRaycast(t *testing.T) {
	f := newDispatchFixture(t)

	require.NoError(t, f.d.Dispatch(context.Background(), protocol.Action{
		PlayerID: 7, ActionID: protocol.ActionShotRaycast, Payload: shotPayload(9, 1000215),
	}))

	require.Len(t, f.damage.requests, 1)
	req := f.damage.requests[0]
	assert.Equal(t, uint64(9), req.VictimID)
	assert.Equal(t, uint64(7), req.KillerID)
	assert.Equal(t, mgl64.Vec3{1, 2, 3}, req.Impact)

	shots := f.messenger.shots(t)
	require.Len(t, shots, 1)
	assert.Equal(t, mgl64.Vec3{11, 11, 0}, shots[0].OriginWorld)
	assert.Equal(t, mgl64.Vec3{1, 2, 3}, shots[0].ImpactWorld)
	assert.Equal(t, uint64(1000215), shots[0].TargetAreaID)

	require.Len(t, f.journal.events, 1)
	assert.Equal(t, store.KindDamage, f.journal.events[0].Kind)
}

func TestDispatch_ShotRaycastWithoutVictimOrConstruct(t *testing.T) {
	f := newDispatchFixture(t)

	require.NoError(t, f.d.Dispatch(context.Background(), protocol.Action{
		PlayerID: 7, ActionID: protocol.ActionShotRaycast, Payload: shotPayload(0, 0),
	}))
	assert.Empty(t, f.damage.requests)
	assert.Empty(t, f.messenger.shots(t))
}

func TestDispatch_Debounce(t *testing.T) {
	f := newDispatchFixture(t)
	ctx := context.Background()
	shoot := func(player uint64) error {
		return f.d.Dispatch(ctx, protocol.Action{
			PlayerID: player, ActionID: protocol.ActionShotRaycast, Payload: shotPayload(9, 1000215),
		})
	}

	require.NoError(t, shoot(7))
	f.clock.Advance(1500 * time.Millisecond)
	assert.ErrorIs(t, shoot(7), ErrRateLimited)
	assert.Len(t, f.messenger.shots(t), 1, "second shot inside the window is dropped")
	assert.Len(t, f.damage.requests, 1)

	// Another player has an independent window.
	require.NoError(t, shoot(8))

	// The dropped shot does not extend the window.
	f.clock.Advance(500 * time.Millisecond)
	require.NoError(t, shoot(7))
	assert.Len(t, f.messenger.shots(t), 3)

	// Super shot requests are refused inside the window too.
	assert.ErrorIs(t, f.d.Dispatch(ctx, protocol.Action{PlayerID: 7, ActionID: protocol.ActionSuperShot}), ErrRateLimited)
}

func TestDebouncer_ConcurrentAcquire(t *testing.T) {
	d := NewDebouncer(clock.NewManual(time.Unix(0, 0)), DebounceWindow)

	var wg sync.WaitGroup
	var mu sync.Mutex
	acquired := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d.TryAcquire(7) {
				mu.Lock()
				acquired++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, acquired)
	assert.False(t, d.Ready(7))
	assert.True(t, d.Ready(8))
}
