// Package visibility correlates remote line-of-sight samples with the
// characters that asked for them.
//
// The server cannot raycast itself: it asks the observing player's client to
// cast a ray toward a character and report back. Each request carries a ULID
// token that the client echoes; results without a token (older clients) are
// matched to the oldest outstanding request of that observer.
package visibility

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sasha-s/go-deadlock"

	"github.com/ugaemi/patrol-server/internal/clock"
	"github.com/ugaemi/patrol-server/internal/protocol"
	"github.com/ugaemi/patrol-server/internal/ws"
)

// DefaultExpiry is how long a request waits for its result.
const DefaultExpiry = 3 * time.Second

var (
	// ErrSampleUnmatched means a result arrived with no outstanding request.
	ErrSampleUnmatched = errors.New("visibility sample unmatched")
	// ErrObserverOffline means the observer has no connected client.
	ErrObserverOffline = errors.New("observer not connected")
)

// Subject is the entity a sample is taken of.
type Subject interface {
	ID() uint64
	OnVisibilityResult(ctx context.Context, observerID uint64, visible bool)
}

// Sender delivers messages to a player's client.
type Sender interface {
	SendToPlayer(playerID uint64, msg ws.Message) bool
}

type request struct {
	token       string
	subject     Subject
	requestedAt time.Time
}

// Bridge tracks outstanding sample requests per observer.
type Bridge struct {
	sender Sender
	clock  clock.Clock
	expiry time.Duration

	mu      deadlock.Mutex
	pending map[uint64][]request
}

// NewBridge creates a bridge sending requests through sender.
func NewBridge(sender Sender, clk clock.Clock, expiry time.Duration) *Bridge {
	if clk == nil {
		clk = clock.Real()
	}
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	return &Bridge{
		sender:  sender,
		clock:   clk,
		expiry:  expiry,
		pending: make(map[uint64][]request),
	}
}

// RequestSample asks observerID's client to raycast toward subject. It
// returns the correlation token of the request.
func (b *Bridge) RequestSample(ctx context.Context, observerID uint64, subject Subject) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	token := ulid.Make().String()
	msg, err := ws.NewMessage(ws.TypeInjectScript, protocol.InjectScript{
		Event:   protocol.EventInjectJS,
		Payload: protocol.CheckCall(subject.ID(), token),
	})
	if err != nil {
		return "", err
	}

	// Record before sending so a fast reply cannot outrun the bookkeeping.
	now := b.clock.Now()
	b.mu.Lock()
	b.pruneLocked(observerID, now)
	b.pending[observerID] = append(b.pending[observerID], request{
		token:       token,
		subject:     subject,
		requestedAt: now,
	})
	b.mu.Unlock()

	if !b.sender.SendToPlayer(observerID, msg) {
		b.take(observerID, token)
		return "", ErrObserverOffline
	}
	return token, nil
}

// DeliverSample forwards a visibility result to the subject that requested it.
func (b *Bridge) DeliverSample(ctx context.Context, observerID uint64, token string, visible bool) error {
	req, ok := b.take(observerID, token)
	if !ok {
		return ErrSampleUnmatched
	}
	req.subject.OnVisibilityResult(ctx, observerID, visible)
	return nil
}

// DeliverRaycast forwards a raycast result. The subject counts as visible
// only when the ray struck it by identity.
func (b *Bridge) DeliverRaycast(ctx context.Context, observerID uint64, token string, hitPlayerID uint64) error {
	req, ok := b.take(observerID, token)
	if !ok {
		return ErrSampleUnmatched
	}
	req.subject.OnVisibilityResult(ctx, observerID, hitPlayerID == req.subject.ID())
	return nil
}

// Pending returns the number of outstanding requests for observerID.
func (b *Bridge) Pending(observerID uint64) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pruneLocked(observerID, b.clock.Now())
	return len(b.pending[observerID])
}

func (b *Bridge) take(observerID uint64, token string) (request, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pruneLocked(observerID, b.clock.Now())
	queue := b.pending[observerID]
	if len(queue) == 0 {
		return request{}, false
	}

	idx := 0
	if token != "" {
		idx = -1
		for i, r := range queue {
			if r.token == token {
				idx = i
				break
			}
		}
		if idx < 0 {
			return request{}, false
		}
	}

	req := queue[idx]
	queue = append(queue[:idx], queue[idx+1:]...)
	if len(queue) == 0 {
		delete(b.pending, observerID)
	} else {
		b.pending[observerID] = queue
	}
	return req, true
}

// pruneLocked drops expired requests of one observer. Caller must hold b.mu.
func (b *Bridge) pruneLocked(observerID uint64, now time.Time) {
	queue := b.pending[observerID]
	n := 0
	for _, r := range queue {
		if now.Sub(r.requestedAt) <= b.expiry {
			queue[n] = r
			n++
			continue
		}
		slog.Debug("visibility sample expired", "observer", observerID, "subject", r.subject.ID(), "token", r.token)
	}
	if n == 0 {
		delete(b.pending, observerID)
		return
	}
	b.pending[observerID] = queue[:n]
}
