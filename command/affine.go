package command

import (
	"fmt"
	"math"
)

// Affine is a 2D affine transformation matrix:
//
//	| A  B  C |
//	| D  E  F |
//	| 0  0  1 |
//
// x' = Ax + By + C
// y' = Dx + Ey + F
type Affine struct {
	A, B, C float64
	D, E, F float64
}

// IdentityAffine returns the identity transformation.
func IdentityAffine() Affine {
	return Affine{A: 1, E: 1}
}

// Translate returns a translation by (tx, ty).
func Translate(tx, ty float64) Affine {
	return Affine{A: 1, E: 1, C: tx, F: ty}
}

// Scale returns a scale by (sx, sy) around the origin.
func Scale(sx, sy float64) Affine {
	return Affine{A: sx, E: sy}
}

// Rotate returns a rotation by angle radians around the origin.
// Positive angles rotate counter-clockwise.
func Rotate(angle float64) Affine {
	cos, sin := math.Cos(angle), math.Sin(angle)
	return Affine{A: cos, B: -sin, D: sin, E: cos}
}

// Multiply returns the transform that applies other first, then a.
func (a Affine) Multiply(other Affine) Affine {
	return Affine{
		A: a.A*other.A + a.B*other.D,
		B: a.A*other.B + a.B*other.E,
		C: a.A*other.C + a.B*other.F + a.C,
		D: a.D*other.A + a.E*other.D,
		E: a.D*other.B + a.E*other.E,
		F: a.D*other.C + a.E*other.F + a.F,
	}
}

// Shift post-composes a translation by (tx, ty): the result translates
// after applying a, matching the shift-rotate-shift builder chain used to
// rotate around a point other than the origin.
func (a Affine) Shift(tx, ty float64) Affine {
	return Translate(tx, ty).Multiply(a)
}

// TransformPoint applies the transform to (x, y).
func (a Affine) TransformPoint(x, y float64) (float64, float64) {
	return a.A*x + a.B*y + a.C, a.D*x + a.E*y + a.F
}

// Invert returns the transform that undoes a, used to map a destination
// pixel back to the source coordinate it was resampled from. Returns an
// error if a is singular (its determinant is zero).
func (a Affine) Invert() (Affine, error) {
	det := a.A*a.E - a.B*a.D
	if det == 0 {
		return Affine{}, fmt.Errorf("command: affine transform is not invertible")
	}
	invA := a.E / det
	invB := -a.B / det
	invD := -a.D / det
	invE := a.A / det
	return Affine{
		A: invA,
		B: invB,
		C: -(invA*a.C + invB*a.F),
		D: invD,
		E: invE,
		F: -(invD*a.C + invE*a.F),
	}, nil
}

// AffineSample selects how Affine samples source pixels that land between
// texel centers.
type AffineSample uint8

const (
	AffineSampleNearest AffineSample = iota
	AffineSampleBilinear
)
