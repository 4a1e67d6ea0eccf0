// Package scanner implements directional scan strips over an integer grid.
//
// A scanner walks a strip of parallel digital scan lines aligned with an
// arbitrary discrete direction (a, b). Each call yields the cells of one
// scan line, clipped to a rectangle; successive calls advance the strip one
// line to the left or right. The track detector drives a scanner across a
// road seed, one cross-section per scan.
package scanner

import (
	"github.com/banshee-data/trackline.report/internal/geom"
)

// Kind selects the strip behaviour of a scanner.
type Kind int

const (
	// Static keeps the strip bounds fixed from construction.
	Static Kind = iota
	// Adaptive lets the bounds travel when the scanner is rebound to a
	// new support between steps, so the strip follows gentle curvature.
	Adaptive
	// VH advances purely along a coordinate axis; the degenerate pattern
	// of near-axial directions.
	VH
)

// DirectionalScanner produces successive scan lines of a strip.
//
// Scan lines are the naive digital lines of the construction direction
// (a0, b0): cells whose conjugate value b0*x - a0*y falls in a half-open
// interval of width ninf = max(|a0|, |b0|). The strip clips each line to
// the support interval c2 <= a*x + b*y <= c1; BindTo moves the support,
// never the line family, so a rebound scanner keeps its scan geometry.
//
// Left and right cursors are the conjugate offsets of the next scans; they
// drift apart monotonically from the central offset.
type DirectionalScanner struct {
	kind Kind

	// Clipping rectangle [xmin,xmax) x [ymin,ymax).
	xmin, ymin, xmax, ymax int

	// Construction direction, normalised (a0 > 0, or a0 == 0 and b0 > 0),
	// and the scan-line quantum.
	a0, b0 int
	ninf   int
	xPrim  bool

	// Current support line coefficients and strip bounds.
	a, b       int
	dlc1, dlc2 int

	// Construction-time template used by BindTo to rescale the width.
	templA, templB, templNu int

	// Conjugate offsets: central scan, next-left and next-right cursors.
	w0, wl, wr int

	// When set, the output slice is reset before each fill. Released to
	// accumulate subdivided fine scans into one cross-section.
	clearance bool
}

// NewScanner builds a scanner of the given kind whose central scan joins
// p1 to p2, clipped to [0,w) x [0,h). The direction must be normalised
// (a > 0, or a == 0 and b > 0); use a Provider for arbitrary strokes.
func NewScanner(kind Kind, w, h int, p1, p2 geom.Pt2i) *DirectionalScanner {
	a := p2.X - p1.X
	b := p2.Y - p1.Y
	ds := newScannerDir(kind, w, h, a, b)
	c1 := a*p2.X + b*p2.Y
	c2 := a*p1.X + b*p1.Y
	if c2 > c1 {
		c1, c2 = c2, c1
	}
	ds.dlc1 = c1
	ds.dlc2 = c2
	ds.templNu = c1 - c2
	ds.setCentral(b*p1.X - a*p1.Y)
	return ds
}

// NewScannerAround builds a scanner of the given kind centred on pt with a
// support interval of the given length, directed by the normalised (a, b).
func NewScannerAround(kind Kind, w, h int, a, b int, pt geom.Pt2i, length int) *DirectionalScanner {
	ds := newScannerDir(kind, w, h, a, b)
	vc := a*pt.X + b*pt.Y
	ds.dlc1 = vc + length/2
	ds.dlc2 = ds.dlc1 - length
	ds.templNu = ds.dlc1 - ds.dlc2
	ds.setCentral(b*pt.X - a*pt.Y)
	return ds
}

func newScannerDir(kind Kind, w, h, a, b int) *DirectionalScanner {
	ninf := abs(a)
	if abs(b) > ninf {
		ninf = abs(b)
	}
	return &DirectionalScanner{
		kind:      kind,
		xmax:      w,
		ymax:      h,
		a0:        a,
		b0:        b,
		ninf:      ninf,
		xPrim:     abs(a) >= abs(b),
		a:         a,
		b:         b,
		templA:    abs(a),
		templB:    b,
		clearance: true,
	}
}

// setCentral anchors the scan-line family so the central interval holds
// the conjugate value w of the stroke.
func (ds *DirectionalScanner) setCentral(w int) {
	ds.w0 = w - ds.ninf/2
	ds.wl = ds.w0 - ds.ninf
	ds.wr = ds.w0 + ds.ninf
}

// GetCopy returns an independent scanner positioned identically; the
// parent and the copy may be advanced separately.
func (ds *DirectionalScanner) GetCopy() *DirectionalScanner {
	cp := *ds
	return &cp
}

// ReleaseClearance makes subsequent fills append to the output slice
// instead of resetting it.
func (ds *DirectionalScanner) ReleaseClearance() {
	ds.clearance = false
}

// floorDiv is the floor integer quotient for a positive divisor.
func floorDiv(p, q int) int {
	d := p / q
	if p%q != 0 && (p < 0) != (q < 0) {
		d--
	}
	return d
}

// cellAtX returns the scan cell of column x on the line of offset mu
// (x-primary directions).
func (ds *DirectionalScanner) cellAtX(mu, x int) geom.Pt2i {
	// mu <= b0*x - a0*y < mu + ninf, with ninf = a0.
	return geom.Pt2i{X: x, Y: floorDiv(ds.b0*x-mu, ds.a0)}
}

// cellAtY returns the scan cell of row y on the line of offset mu
// (y-primary directions).
func (ds *DirectionalScanner) cellAtY(mu, y int) geom.Pt2i {
	if ds.b0 > 0 {
		// mu <= b0*x - a0*y < mu + b0.
		return geom.Pt2i{X: floorDiv(mu+ds.a0*y+ds.b0-1, ds.b0), Y: y}
	}
	// b0 < 0: mu <= b0*x - a0*y < mu - b0.
	return geom.Pt2i{X: floorDiv(-mu-ds.a0*y, -ds.b0), Y: y}
}

func (ds *DirectionalScanner) inClip(p geom.Pt2i) bool {
	return p.X >= ds.xmin && p.X < ds.xmax && p.Y >= ds.ymin && p.Y < ds.ymax
}

func (ds *DirectionalScanner) val(p geom.Pt2i) int {
	return ds.a*p.X + ds.b*p.Y
}

// buildScan collects the cells of the scan line of offset mu lying in the
// support interval and the clip rectangle, from the high support end to
// the low one, and returns the new size of scan.
func (ds *DirectionalScanner) buildScan(mu int, scan *[]geom.Pt2i) int {
	if ds.xPrim {
		// The support value grows with x on the line; find the last
		// column below the upper bound by bisection.
		lo, hi := ds.xmin, ds.xmax-1
		if lo > hi || ds.val(ds.cellAtX(mu, lo)) > ds.dlc1 {
			return len(*scan)
		}
		for lo < hi {
			mid := (lo + hi + 1) / 2
			if ds.val(ds.cellAtX(mu, mid)) <= ds.dlc1 {
				lo = mid
			} else {
				hi = mid - 1
			}
		}
		for x := lo; x >= ds.xmin; x-- {
			p := ds.cellAtX(mu, x)
			if ds.val(p) < ds.dlc2 {
				break
			}
			if ds.inClip(p) {
				*scan = append(*scan, p)
			}
		}
		return len(*scan)
	}
	// y-primary: the support value grows with y when b0 > 0, shrinks
	// otherwise.
	if ds.b0 > 0 {
		lo, hi := ds.ymin, ds.ymax-1
		if lo > hi || ds.val(ds.cellAtY(mu, lo)) > ds.dlc1 {
			return len(*scan)
		}
		for lo < hi {
			mid := (lo + hi + 1) / 2
			if ds.val(ds.cellAtY(mu, mid)) <= ds.dlc1 {
				lo = mid
			} else {
				hi = mid - 1
			}
		}
		for y := lo; y >= ds.ymin; y-- {
			p := ds.cellAtY(mu, y)
			if ds.val(p) < ds.dlc2 {
				break
			}
			if ds.inClip(p) {
				*scan = append(*scan, p)
			}
		}
		return len(*scan)
	}
	lo, hi := ds.ymin, ds.ymax-1
	if lo > hi || ds.val(ds.cellAtY(mu, hi)) > ds.dlc1 {
		return len(*scan)
	}
	for lo < hi {
		mid := (lo + hi) / 2
		if ds.val(ds.cellAtY(mu, mid)) <= ds.dlc1 {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	for y := lo; y < ds.ymax; y++ {
		p := ds.cellAtY(mu, y)
		if ds.val(p) < ds.dlc2 {
			break
		}
		if ds.inClip(p) {
			*scan = append(*scan, p)
		}
	}
	return len(*scan)
}

// First fills scan with the central scan line and returns the new size of
// scan. Cursors are left untouched, so a later First call after any number
// of advances returns the same line.
func (ds *DirectionalScanner) First(scan *[]geom.Pt2i) int {
	if ds.clearance {
		*scan = (*scan)[:0]
	}
	return ds.buildScan(ds.w0, scan)
}

// NextOnLeft advances one scan to the left and fills scan with its cells,
// returning the new size of scan. An empty result is the normal strip
// terminator, not an error.
func (ds *DirectionalScanner) NextOnLeft(scan *[]geom.Pt2i) int {
	if ds.clearance {
		*scan = (*scan)[:0]
	}
	mu := ds.wl
	ds.wl -= ds.ninf
	return ds.buildScan(mu, scan)
}

// NextOnRight advances one scan to the right and fills scan with its
// cells.
func (ds *DirectionalScanner) NextOnRight(scan *[]geom.Pt2i) int {
	if ds.clearance {
		*scan = (*scan)[:0]
	}
	mu := ds.wr
	ds.wr += ds.ninf
	return ds.buildScan(mu, scan)
}

// SkipLeft advances n scans to the left and fills scan with the cells of
// the landing scan.
func (ds *DirectionalScanner) SkipLeft(scan *[]geom.Pt2i, n int) int {
	if ds.clearance {
		*scan = (*scan)[:0]
	}
	ds.wl -= (n - 1) * ds.ninf
	mu := ds.wl
	ds.wl -= ds.ninf
	return ds.buildScan(mu, scan)
}

// SkipRight advances n scans to the right and fills scan with the cells of
// the landing scan.
func (ds *DirectionalScanner) SkipRight(scan *[]geom.Pt2i, n int) int {
	if ds.clearance {
		*scan = (*scan)[:0]
	}
	ds.wr += (n - 1) * ds.ninf
	mu := ds.wr
	ds.wr += ds.ninf
	return ds.buildScan(mu, scan)
}

// SkipLeftOnly moves n scans to the left without producing cells; the
// next NextOnLeft lands on the n-th scan.
func (ds *DirectionalScanner) SkipLeftOnly(n int) {
	ds.wl -= (n - 1) * ds.ninf
}

// SkipRightOnly moves n scans to the right without producing cells.
func (ds *DirectionalScanner) SkipRightOnly(n int) {
	ds.wr += (n - 1) * ds.ninf
}

// BindTo rebinds the scanner to the support direction (a, b) with the
// strip centred on offset c, preserving the scan-line family and the
// cursors. The width is rescaled from the construction template in the
// 1-norm or the infinity-norm, whichever grew more; it never drops below
// zero. Static strips do not travel: only adaptive and vh scanners
// rebind.
func (ds *DirectionalScanner) BindTo(a, b, c int) {
	if ds.kind == Static {
		return
	}
	if a < 0 {
		ds.a = -a
		ds.b = -b
		c = -c
	} else {
		ds.a = a
		ds.b = b
	}
	oldB := abs(ds.templB)
	oldN1 := ds.templA + oldB
	oldNinf := max(ds.templA, oldB)
	newA := abs(a)
	newB := abs(b)
	newN1 := newA + newB
	newNinf := max(newA, newB)
	var nu int
	if newN1*oldNinf > oldN1*newNinf {
		nu = (ds.templNu * newN1) / oldN1
	} else {
		nu = (ds.templNu * newNinf) / oldNinf
	}
	ds.dlc1 = c + nu/2
	ds.dlc2 = c - nu/2
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
