package visibility

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ugaemi/patrol-server/internal/clock"
	"github.com/ugaemi/patrol-server/internal/protocol"
	"github.com/ugaemi/patrol-server/internal/ws"
)

type fakeSender struct {
	mu      sync.Mutex
	offline map[uint64]bool
	sent    map[uint64][]ws.Message
}

func newFakeSender() *fakeSender {
	return &fakeSender{offline: map[uint64]bool{}, sent: map[uint64][]ws.Message{}}
}

func (f *fakeSender) SendToPlayer(playerID uint64, msg ws.Message) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offline[playerID] {
		return false
	}
	f.sent[playerID] = append(f.sent[playerID], msg)
	return true
}

type result struct {
	observer uint64
	visible  bool
}

type fakeSubject struct {
	id      uint64
	mu      sync.Mutex
	results []result
}

func (s *fakeSubject) ID() uint64 { return s.id }

func (s *fakeSubject) OnVisibilityResult(_ context.Context, observerID uint64, visible bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, result{observerID, visible})
}

func (s *fakeSubject) got() []result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]result(nil), s.results...)
}

func newTestBridge() (*Bridge, *fakeSender, *clock.Manual) {
	sender := newFakeSender()
	clk := clock.NewManual(time.Unix(1700000000, 0))
	return NewBridge(sender, clk, 0), sender, clk
}

func TestRequestSample_SendsCheckScript(t *testing.T) {
	b, sender, _ := newTestBridge()
	subject := &fakeSubject{id: 10002}

	token, err := b.RequestSample(context.Background(), 7, subject)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, 1, b.Pending(7))

	require.Len(t, sender.sent[7], 1)
	msg := sender.sent[7][0]
	assert.Equal(t, ws.TypeInjectScript, msg.Type)

	var script protocol.InjectScript
	require.NoError(t, json.Unmarshal(msg.Data, &script))
	assert.Equal(t, protocol.EventInjectJS, script.Event)
	assert.Equal(t, protocol.CheckCall(10002, token), script.Payload)
}

func TestRequestSample_ObserverOffline(t *testing.T) {
	b, sender, _ := newTestBridge()
	sender.offline[7] = true

	_, err := b.RequestSample(context.Background(), 7, &fakeSubject{id: 1})
	assert.ErrorIs(t, err, ErrObserverOffline)
	assert.Equal(t, 0, b.Pending(7))
}

func TestDeliverSample_ByToken(t *testing.T) {
	b, _, _ := newTestBridge()
	first := &fakeSubject{id: 1}
	second := &fakeSubject{id: 2}
	ctx := context.Background()

	_, err := b.RequestSample(ctx, 7, first)
	require.NoError(t, err)
	token2, err := b.RequestSample(ctx, 7, second)
	require.NoError(t, err)

	// The second request's answer arrives first and must not be misattributed.
	require.NoError(t, b.DeliverSample(ctx, 7, token2, true))
	assert.Empty(t, first.got())
	assert.Equal(t, []result{{7, true}}, second.got())
	assert.Equal(t, 1, b.Pending(7))
}

func TestDeliverSample_TokenlessMatchesOldest(t *testing.T) {
	b, _, _ := newTestBridge()
	first := &fakeSubject{id: 1}
	second := &fakeSubject{id: 2}
	ctx := context.Background()

	_, err := b.RequestSample(ctx, 7, first)
	require.NoError(t, err)
	_, err = b.RequestSample(ctx, 7, second)
	require.NoError(t, err)

	require.NoError(t, b.DeliverSample(ctx, 7, "", false))
	assert.Equal(t, []result{{7, false}}, first.got())
	assert.Empty(t, second.got())
}

func TestDeliverSample_Unmatched(t *testing.T) {
	b, _, _ := newTestBridge()
	ctx := context.Background()

	assert.NotPanics(t, func() {
		err := b.DeliverSample(ctx, 99, "", true)
		assert.ErrorIs(t, err, ErrSampleUnmatched)
	})

	subject := &fakeSubject{id: 1}
	_, err := b.RequestSample(ctx, 7, subject)
	require.NoError(t, err)

	err = b.DeliverSample(ctx, 7, "01HZZZZZZZZZZZZZZZZZZZZZZZ", true)
	assert.ErrorIs(t, err, ErrSampleUnmatched)
	assert.Empty(t, subject.got())
}

func TestDeliverSample_ConsumedOnce(t *testing.T) {
	b, _, _ := newTestBridge()
	subject := &fakeSubject{id: 1}
	ctx := context.Background()

	token, err := b.RequestSample(ctx, 7, subject)
	require.NoError(t, err)

	require.NoError(t, b.DeliverSample(ctx, 7, token, true))
	assert.ErrorIs(t, b.DeliverSample(ctx, 7, token, true), ErrSampleUnmatched)
	assert.Len(t, subject.got(), 1)
}

func TestDeliverSample_Expired(t *testing.T) {
	b, _, clk := newTestBridge()
	subject := &fakeSubject{id: 1}
	ctx := context.Background()

	token, err := b.RequestSample(ctx, 7, subject)
	require.NoError(t, err)

	clk.Advance(DefaultExpiry + time.Millisecond)
	assert.ErrorIs(t, b.DeliverSample(ctx, 7, token, true), ErrSampleUnmatched)
	assert.Equal(t, 0, b.Pending(7))
	assert.Empty(t, subject.got())
}

func TestDeliverRaycast_IdentityHit(t *testing.T) {
	tests := []struct {
		name    string
		hit     uint64
		visible bool
	}{
		{"hit subject", 10002, true},
		{"hit something else", 10003, false},
		{"hit nothing", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, _, _ := newTestBridge()
			subject := &fakeSubject{id: 10002}
			ctx := context.Background()

			token, err := b.RequestSample(ctx, 7, subject)
			require.NoError(t, err)
			require.NoError(t, b.DeliverRaycast(ctx, 7, token, tt.hit))
			assert.Equal(t, []result{{7, tt.visible}}, subject.got())
		})
	}
}

func TestBridge_ConcurrentObservers(t *testing.T) {
	b, _, _ := newTestBridge()
	ctx := context.Background()

	var wg sync.WaitGroup
	subjects := make([]*fakeSubject, 8)
	for i := range subjects {
		subjects[i] = &fakeSubject{id: uint64(100 + i)}
		wg.Add(1)
		go func(observer uint64, s *fakeSubject) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				token, err := b.RequestSample(ctx, observer, s)
				if !assert.NoError(t, err) {
					return
				}
				assert.NoError(t, b.DeliverSample(ctx, observer, token, j%2 == 0))
			}
		}(uint64(i+1), subjects[i])
	}
	wg.Wait()

	for i, s := range subjects {
		assert.Len(t, s.got(), 50)
		assert.Equal(t, 0, b.Pending(uint64(i+1)))
	}
}
