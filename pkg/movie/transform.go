package movie

import "math"

// Transform is an affine transform applied to the video track.
//
//	x' = A*x + C*y + Tx
//	y' = B*x + D*y + Ty
type Transform struct {
	A, B, C, D float64
	Tx, Ty     float64
}

// Identity transform.
var Identity = Transform{A: 1, D: 1}

// Rotation returns a transform that rotates the picture by degrees.
func Rotation(degrees float64) Transform {
	rad := degrees / 180 * math.Pi
	sin, cos := snap(math.Sin(rad)), snap(math.Cos(rad))
	return Transform{A: cos, B: sin, C: -sin, D: cos}
}

// Values smaller than the 16.16 resolution are rounded to zero
// so that right angles produce exact matrices.
func snap(v float64) float64 {
	if math.Abs(v) < 1.0/65536 {
		return 0
	}
	return v
}

// IsZero reports whether the transform is unset.
func (t Transform) IsZero() bool {
	return t == Transform{}
}

// Matrix returns the QuickTime track matrix.
// a, b, c, d, tx and ty are 16.16 fixed point, w is 2.30.
func (t Transform) Matrix() [9]int32 {
	return [9]int32{
		fixed16(t.A), fixed16(t.B), 0,
		fixed16(t.C), fixed16(t.D), 0,
		fixed16(t.Tx), fixed16(t.Ty), 0x40000000,
	}
}

func fixed16(v float64) int32 {
	return int32(math.Round(v * 65536))
}
