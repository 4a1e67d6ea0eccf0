// Package geom provides the small planar and spatial value types shared by
// the tile store, the directional scanners and the track detector: integer
// and float points, vectors, and exact rationals.
package geom

import "math"

// Pt2i is an integer 2D point (grid cell coordinates).
type Pt2i struct {
	X, Y int
}

// VectorTo returns the integer vector from p to q.
func (p Pt2i) VectorTo(q Pt2i) Vr2i {
	return Vr2i{q.X - p.X, q.Y - p.Y}
}

// Equals reports whether both coordinates match.
func (p Pt2i) Equals(q Pt2i) bool {
	return p.X == q.X && p.Y == q.Y
}

// Translate returns p shifted by (dx, dy).
func (p Pt2i) Translate(dx, dy int) Pt2i {
	return Pt2i{p.X + dx, p.Y + dy}
}

// Pt2f is a float 2D point. In profile space X is the distance along the
// stroke and Y the height of a LiDAR return.
type Pt2f struct {
	X, Y float32
}

// Pt3f is a float 3D point (LiDAR ground return, metres).
type Pt3f struct {
	X, Y, Z float32
}

// Vr2i is an integer 2D vector.
type Vr2i struct {
	X, Y int
}

// Norm2 returns the squared Euclidean norm.
func (v Vr2i) Norm2() int {
	return v.X*v.X + v.Y*v.Y
}

// Inverted returns the opposite vector.
func (v Vr2i) Inverted() Vr2i {
	return Vr2i{-v.X, -v.Y}
}

// ScalarProduct returns the dot product with w.
func (v Vr2i) ScalarProduct(w Vr2i) int {
	return v.X*w.X + v.Y*w.Y
}

// Vr2f is a float 2D vector.
type Vr2f struct {
	X, Y float32
}

// ScalarProduct returns the dot product with w.
func (v Vr2f) ScalarProduct(w Vr2f) float32 {
	return v.X*w.X + v.Y*w.Y
}

// Norm returns the Euclidean norm.
func (v Vr2f) Norm() float32 {
	return float32(math.Sqrt(float64(v.X*v.X + v.Y*v.Y)))
}

// AbsRat is an exact non-negative rational. The seed production stage works
// with rational line endpoints; they cross into the detector only to produce
// floating coordinates.
type AbsRat struct {
	Num, Den int
}

// Float returns the quotient as a float32. A zero denominator yields the
// numerator (the convention used by rational naive-line endpoints).
func (r AbsRat) Float() float32 {
	if r.Den == 0 {
		return float32(r.Num)
	}
	return float32(r.Num) / float32(r.Den)
}

// LessThan reports r < s using cross multiplication (both non-negative).
func (r AbsRat) LessThan(s AbsRat) bool {
	return r.Num*s.Den < s.Num*r.Den
}
