// Package damage hands damage-and-death requests to the subsystem that owns
// player health. Requests are fire-and-forget.
package damage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix prefixes the subject death requests are published on.
const DefaultSubjectPrefix = "patrol.damage.death"

// DeathRequest asks for a player to be damaged and killed.
type DeathRequest struct {
	VictimID   uint64     `json:"victim_id"`
	KillerID   uint64     `json:"killer_id"`
	AreaID     uint64     `json:"area_id"`
	ElementID  uint64     `json:"element_id,omitempty"`
	Cause      string     `json:"cause"`
	WeaponType string     `json:"weapon_type,omitempty"`
	AmmoType   string     `json:"ammo_type,omitempty"`
	Impact     mgl64.Vec3 `json:"impact"`
	At         time.Time  `json:"at"`
}

// Requester sends death requests.
type Requester interface {
	RequestDeath(ctx context.Context, req DeathRequest) error
}

// NATSRequester publishes death requests as JSON on <prefix>.<victimID>.
type NATSRequester struct {
	conn   *nats.Conn
	prefix string
}

// Connect dials the NATS server at url.
func Connect(url, prefix string) (*NATSRequester, error) {
	conn, err := nats.Connect(url,
		nats.Name("patrol-server"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return NewNATSRequester(conn, prefix), nil
}

// NewNATSRequester wraps an established connection.
func NewNATSRequester(conn *nats.Conn, prefix string) *NATSRequester {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSRequester{conn: conn, prefix: prefix}
}

// Subject returns the subject a request for victimID is published on.
func (r *NATSRequester) Subject(victimID uint64) string {
	return fmt.Sprintf("%s.%d", r.prefix, victimID)
}

// RequestDeath publishes req.
func (r *NATSRequester) RequestDeath(_ context.Context, req DeathRequest) error {
	if req.At.IsZero() {
		req.At = time.Now()
	}
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return r.conn.Publish(r.Subject(req.VictimID), data)
}

// Close drains the connection.
func (r *NATSRequester) Close() error {
	return r.conn.Drain()
}

// LogRequester only logs requests. It is used when no broker is configured.
type LogRequester struct{}

func (LogRequester) RequestDeath(_ context.Context, req DeathRequest) error {
	slog.Info("death requested",
		"victim", req.VictimID,
		"killer", req.KillerID,
		"area", req.AreaID,
		"cause", req.Cause,
	)
	return nil
}
