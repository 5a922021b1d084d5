// Package geom holds the small amount of spatial glue the server needs on top
// of mgl64: wire conversions and the facing rule used by pose updates.
package geom

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
)

// Forward is the canonical forward axis of a character model.
var Forward = mgl64.Vec3{0, 1, 0}

// Up is the world up axis.
var Up = mgl64.Vec3{0, 0, 1}

const epsilon = 1e-9

// FromSlice converts a decoded [x, y, z] triple into a vector.
func FromSlice(v []float64) (mgl64.Vec3, error) {
	if len(v) != 3 {
		return mgl64.Vec3{}, fmt.Errorf("expected 3 components, got %d", len(v))
	}
	return mgl64.Vec3{v[0], v[1], v[2]}, nil
}

// FromSlices converts a list of triples, failing on the first bad element.
func FromSlices(vs [][]float64) ([]mgl64.Vec3, error) {
	out := make([]mgl64.Vec3, 0, len(vs))
	for i, v := range vs {
		p, err := FromSlice(v)
		if err != nil {
			return nil, fmt.Errorf("point %d: %w", i, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// Facing returns the rotation that maps Forward onto direction. A zero
// direction yields the identity rotation.
func Facing(direction mgl64.Vec3) mgl64.Quat {
	if direction.Len() < epsilon {
		return mgl64.QuatIdent()
	}
	return mgl64.QuatBetweenVectors(Forward, direction.Normalize())
}

// QuatArray flattens q as [x, y, z, w].
func QuatArray(q mgl64.Quat) [4]float64 {
	return [4]float64{q.V[0], q.V[1], q.V[2], q.W}
}

// Distance returns the euclidean distance between a and b.
func Distance(a, b mgl64.Vec3) float64 {
	return b.Sub(a).Len()
}

// StepToward moves from toward to by at most maxStep and returns the new
// position together with the displacement applied.
func StepToward(from, to mgl64.Vec3, maxStep float64) (mgl64.Vec3, mgl64.Vec3) {
	d := to.Sub(from)
	l := d.Len()
	if l < epsilon {
		return from, mgl64.Vec3{}
	}
	step := d.Mul(maxStep / l)
	return from.Add(step), step
}
