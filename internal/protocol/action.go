// Package protocol defines the payloads exchanged with game clients: inbound
// actions and the events the server pushes back.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/ugaemi/patrol-server/internal/geom"
)

// ActionKind is the numeric id carried by an inbound action.
type ActionKind uint32

const (
	ActionRegisterTarget   ActionKind = 1
	ActionRaycastResult    ActionKind = 2
	ActionVisibilityResult ActionKind = 3
	ActionBouncingLaser    ActionKind = 66
	ActionSuperShot        ActionKind = 1000
	ActionShotRaycast      ActionKind = 1001
)

func (k ActionKind) String() string {
	switch k {
	case ActionRegisterTarget:
		return "register_target"
	case ActionRaycastResult:
		return "raycast_result"
	case ActionVisibilityResult:
		return "visibility_result"
	case ActionBouncingLaser:
		return "bouncing_laser"
	case ActionSuperShot:
		return "super_shot"
	case ActionShotRaycast:
		return "shot_raycast"
	default:
		return "unknown(" + strconv.FormatUint(uint64(k), 10) + ")"
	}
}

// Damaging reports whether the action goes through the per-player debouncer.
func (k ActionKind) Damaging() bool {
	return k == ActionSuperShot || k == ActionShotRaycast
}

// Action is an inbound player-triggered or client-pushed action.
type Action struct {
	PlayerID  uint64     `json:"player_id,omitempty"`
	AreaID    uint64     `json:"area_id,omitempty"`
	ElementID uint64     `json:"element_id,omitempty"`
	ActionID  ActionKind `json:"action_id"`
	Payload   string     `json:"payload,omitempty"`
}

// Raycast is the result of a client-side raycast.
type Raycast struct {
	PlayerID     uint64    `json:"playerId"`
	ConstructID  uint64    `json:"constructId"`
	ElementID    uint64    `json:"elementId"`
	ImpactPoint  []float64 `json:"impactPoint"`
	ImpactNormal []float64 `json:"impactNormal"`
	Token        string    `json:"token,omitempty"`
}

// Impact returns the impact point as a vector.
func (r Raycast) Impact() (mgl64.Vec3, error) {
	return geom.FromSlice(r.ImpactPoint)
}

// ErrMalformedPayload is returned when an action payload cannot be decoded.
var ErrMalformedPayload = errors.New("malformed action payload")

// ParseRaycast decodes a raycast payload.
func ParseRaycast(payload string) (Raycast, error) {
	var rc Raycast
	if err := json.Unmarshal([]byte(payload), &rc); err != nil {
		return Raycast{}, fmt.Errorf("%w: raycast: %v", ErrMalformedPayload, err)
	}
	return rc, nil
}

type visibilityReport struct {
	Token   string `json:"token"`
	Visible *bool  `json:"visible"`
}

// ParseVisibility decodes a visibility result. Older clients send a bare
// "true"/"false"; current ones send {"token": ..., "visible": ...}.
func ParseVisibility(payload string) (token string, visible bool, err error) {
	switch strings.TrimSpace(payload) {
	case "true":
		return "", true, nil
	case "false":
		return "", false, nil
	}

	var rep visibilityReport
	if err := json.Unmarshal([]byte(payload), &rep); err != nil {
		return "", false, fmt.Errorf("%w: visibility: %v", ErrMalformedPayload, err)
	}
	if rep.Visible == nil {
		return "", false, fmt.Errorf("%w: visibility: missing visible flag", ErrMalformedPayload)
	}
	return rep.Token, *rep.Visible, nil
}

// ParsePolyline decodes a list of [x, y, z] points.
func ParsePolyline(payload string) ([]mgl64.Vec3, error) {
	var raw [][]float64
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return nil, fmt.Errorf("%w: polyline: %v", ErrMalformedPayload, err)
	}
	pts, err := geom.FromSlices(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: polyline: %v", ErrMalformedPayload, err)
	}
	return pts, nil
}
