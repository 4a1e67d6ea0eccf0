package track

import (
	"math"

	"github.com/banshee-data/trackline.report/internal/geom"
)

// Plateau fit status. The values are ordered qualities: a retry replaces a
// previous fit only when its status is strictly higher.
const (
	PlateauOK                     = 1
	PlateauOptimalHeightUnderUsed = 0
	PlateauTooNarrow              = -1
	PlateauNoPlateau              = -2
	PlateauNotEnoughPoints        = -3
	PlateauNoPoints               = -4
)

// Plateau is one cross-section fit: a contiguous distance interval over
// which the height samples stay within a tolerance band. Distances are
// metres along the stroke from its first endpoint.
type Plateau struct {
	pf *PlateauFeature

	// ScanShift recreates the scan this plateau was fit on.
	ScanShift int

	status int

	// Interval actually covered by samples.
	InternalStart float32
	InternalEnd   float32
	// Interval extended halfway into the neighbour samples.
	EstimatedStart float32
	EstimatedEnd   float32

	MinHeight float32

	// Index range of supporting samples in the sorted profile.
	StartIndex int
	EndIndex   int

	deviation float32
	slope     float32

	// Count of samples supporting the fitted window.
	support int

	bounded          bool
	boundedStart     bool
	boundedEnd       bool
	reliable         bool
	accepted         bool
	possible         bool
	consistentHeight bool
	enoughPoints     bool
	impassable       bool

	// Optimal-height candidate kept when the lowest band lacked support.
	hasOptHeight bool
	optHeight    float32
}

// NewPlateau returns an empty plateau tied to the model and to the scan it
// will be fit on.
func NewPlateau(pf *PlateauFeature, scanShift int) *Plateau {
	return &Plateau{pf: pf, ScanShift: scanShift, status: PlateauNoPoints}
}

// Status returns the fit status.
func (pl *Plateau) Status() int { return pl.status }

// Bounded reports whether the height rises at both interval endpoints.
func (pl *Plateau) Bounded() bool { return pl.bounded }

// Reliable reports whether the fit passes width and density thresholds.
func (pl *Plateau) Reliable() bool { return pl.reliable }

// Possible reports whether the interval geometry passes.
func (pl *Plateau) Possible() bool { return pl.possible }

// ConsistentHeight reports whether the band height matches the reference.
func (pl *Plateau) ConsistentHeight() bool { return pl.consistentHeight }

// HasEnoughPoints reports whether the profile was dense enough to judge.
func (pl *Plateau) HasEnoughPoints() bool { return pl.enoughPoints }

// Impassable reports a cross-interval obstacle (net-build mode only).
func (pl *Plateau) Impassable() bool { return pl.impassable }

// IsAccepted reports whether the plateau counts in the track.
func (pl *Plateau) IsAccepted() bool { return pl.accepted }

// SetAccepted flips the accepted flag.
func (pl *Plateau) SetAccepted(on bool) { pl.accepted = on }

// AcceptResult promotes an optimal-height-under-used fit to OK; used when
// the retry at the recorded height found nothing better.
func (pl *Plateau) AcceptResult() { pl.status = PlateauOK }

// NoOptimalHeight reports that no min-height candidate was recorded, so a
// retry fed with it would be pointless.
func (pl *Plateau) NoOptimalHeight() bool { return !pl.hasOptHeight }

// OptimalHeight returns the recorded min-height candidate.
func (pl *Plateau) OptimalHeight() float32 { return pl.optHeight }

// EstimatedCenter returns the middle of the estimated interval.
func (pl *Plateau) EstimatedCenter() float32 {
	return (pl.EstimatedStart + pl.EstimatedEnd) / 2
}

// EstimatedWidth returns the estimated interval width.
func (pl *Plateau) EstimatedWidth() float32 {
	return pl.EstimatedEnd - pl.EstimatedStart
}

// Contains reports whether pos falls inside the estimated interval.
func (pl *Plateau) Contains(pos float32) bool {
	return pos >= pl.EstimatedStart && pos <= pl.EstimatedEnd
}

// ThinerThan reports whether this fit is narrower than the other.
func (pl *Plateau) ThinerThan(o *Plateau) bool {
	return pl.EstimatedWidth() < o.EstimatedWidth()
}

// ConsistentWidth reports whether the width lies in the model envelope.
func (pl *Plateau) ConsistentWidth() bool {
	w := pl.EstimatedWidth()
	return w >= pl.pf.MinLength && w <= pl.pf.MaxLength
}

// SetDeviation records the lateral trend at this plateau.
func (pl *Plateau) SetDeviation(d float32) { pl.deviation = d }

// EstimatedDeviation returns the recorded lateral trend.
func (pl *Plateau) EstimatedDeviation() float32 { return pl.deviation }

// SetSlope records the height trend at this plateau.
func (pl *Plateau) SetSlope(s float32) { pl.slope = s }

// EstimatedSlope returns the recorded height trend.
func (pl *Plateau) EstimatedSlope() float32 { return pl.slope }

// IsConnectedTo reports geometric adjacency with a neighbour plateau: the
// two estimated intervals overlap up to the side shift tolerance.
func (pl *Plateau) IsConnectedTo(o *Plateau) bool {
	if o == nil {
		return true
	}
	tol := pl.pf.SideShiftTolerance
	return pl.EstimatedStart <= o.EstimatedEnd+tol &&
		o.EstimatedStart <= pl.EstimatedEnd+tol
}

// Fit reports whether this plateau lies on the path interpolated between
// its two framing plateaux, cdist scans apart; used by connected tracking
// to back-fill a run of rejected plateaux.
func (pl *Plateau) Fit(near, far *Plateau, cdist int) bool {
	if near == nil || far == nil || cdist <= 0 {
		return false
	}
	target := near.EstimatedCenter() +
		(far.EstimatedCenter()-near.EstimatedCenter())/float32(cdist)
	return pl.Contains(target)
}

// window is one maximal flat interval candidate of a profile.
type window struct {
	i, j   int // sample index range, inclusive
	minH   float32
	width  float32
	center float32
}

// scanWindows runs the two-pointer sweep over the sorted profile and
// returns, for every end sample, the widest window ending there whose
// height spread stays within band.
func scanWindows(pts []geom.Pt2f, band float32) []window {
	n := len(pts)
	wins := make([]window, 0, n)
	// Monotonic deques over sample heights.
	minq := make([]int, 0, n)
	maxq := make([]int, 0, n)
	i := 0
	for j := 0; j < n; j++ {
		for len(minq) > 0 && pts[minq[len(minq)-1]].Y >= pts[j].Y {
			minq = minq[:len(minq)-1]
		}
		minq = append(minq, j)
		for len(maxq) > 0 && pts[maxq[len(maxq)-1]].Y <= pts[j].Y {
			maxq = maxq[:len(maxq)-1]
		}
		maxq = append(maxq, j)
		for pts[maxq[0]].Y-pts[minq[0]].Y > band {
			if minq[0] == i {
				minq = minq[1:]
			}
			if maxq[0] == i {
				maxq = maxq[1:]
			}
			i++
		}
		wins = append(wins, window{
			i:      i,
			j:      j,
			minH:   pts[minq[0]].Y,
			width:  pts[j].X - pts[i].X,
			center: (pts[j].X + pts[i].X) / 2,
		})
	}
	return wins
}

// trim drops boundary samples isolated from the window body by more than
// the side shift tolerance; they do not support the plateau.
func (pl *Plateau) trim(pts []geom.Pt2f, w window) window {
	for w.j > w.i && pts[w.i+1].X-pts[w.i].X > pl.pf.SideShiftTolerance {
		w.i++
	}
	for w.j > w.i && pts[w.j].X-pts[w.j-1].X > pl.pf.SideShiftTolerance {
		w.j--
	}
	w.width = pts[w.j].X - pts[w.i].X
	w.center = (pts[w.j].X + pts[w.i].X) / 2
	minH := pts[w.i].Y
	for k := w.i + 1; k <= w.j; k++ {
		if pts[k].Y < minH {
			minH = pts[k].Y
		}
	}
	w.minH = minH
	return w
}

// install fills the plateau fields from the selected window.
func (pl *Plateau) install(pts []geom.Pt2f, w window) {
	pl.StartIndex = w.i
	pl.EndIndex = w.j
	pl.InternalStart = pts[w.i].X
	pl.InternalEnd = pts[w.j].X
	pl.MinHeight = w.minH

	// The true edge lies somewhere between the last inner sample and the
	// first outer one; split the difference when an outer sample exists.
	if w.i > 0 {
		pl.EstimatedStart = (pts[w.i].X + pts[w.i-1].X) / 2
		pl.boundedStart = pts[w.i-1].Y > w.minH+pl.pf.ThicknessTolerance
	} else {
		pl.EstimatedStart = pts[w.i].X
		pl.boundedStart = false
	}
	if w.j < len(pts)-1 {
		pl.EstimatedEnd = (pts[w.j].X + pts[w.j+1].X) / 2
		pl.boundedEnd = pts[w.j+1].Y > w.minH+pl.pf.ThicknessTolerance
	} else {
		pl.EstimatedEnd = pts[w.j].X
		pl.boundedEnd = false
	}
	pl.bounded = pl.boundedStart && pl.boundedEnd
	pl.support = w.j - w.i + 1
}

// Detect fits the central plateau of a profile with no prior reference.
// Among the windows wide enough for a road it keeps the lowest band; when
// that band lacks point support the status is PlateauOptimalHeightUnderUsed
// and the band height is recorded so the caller can retry anchored on it.
// When anchored is set, only bands whose minimal height lies within
// [anchor - SlopeTolerance, anchor + ThicknessTolerance] are considered,
// and the widest of them is kept.
func (pl *Plateau) Detect(pts []geom.Pt2f, anchored bool, anchor float32) bool {
	if len(pts) == 0 {
		pl.status = PlateauNoPoints
		return false
	}
	pl.enoughPoints = len(pts) >= pl.pf.MinPoints
	if !pl.enoughPoints {
		pl.status = PlateauNotEnoughPoints
		return false
	}
	wins := scanWindows(pts, pl.pf.ThicknessTolerance)
	var best *window
	sawAny := false
	for k := range wins {
		w := pl.trim(pts, wins[k])
		if w.j <= w.i {
			continue
		}
		sawAny = true
		if anchored &&
			(w.minH < anchor-pl.pf.SlopeTolerance ||
				w.minH > anchor+pl.pf.ThicknessTolerance) {
			continue
		}
		if w.width < pl.pf.MinLength || w.width > pl.pf.MaxLength {
			continue
		}
		// Free search keeps the lowest band; the anchored retry keeps the
		// widest window of the requested band.
		better := false
		if best == nil {
			better = true
		} else if anchored {
			better = w.width > best.width
		} else {
			better = w.minH < best.minH ||
				(w.minH == best.minH && w.width > best.width)
		}
		if better {
			cw := w
			best = &cw
		}
	}
	if best == nil {
		if sawAny {
			pl.status = PlateauTooNarrow
		} else {
			pl.status = PlateauNoPlateau
		}
		return false
	}
	pl.install(pts, *best)
	if pl.support < pl.pf.MinPoints {
		pl.status = PlateauOptimalHeightUnderUsed
		pl.hasOptHeight = true
		pl.optHeight = best.minH
		pl.possible = true
		return false
	}
	pl.status = PlateauOK
	pl.possible = true
	pl.reliable = pl.ConsistentWidth()
	pl.consistentHeight = true
	return true
}

// Track fits a plateau against the reference pattern (refs, refe, refh),
// laterally shifted by offset. The confidence distance confdist counts the
// scans since the last reliable anchor and widens both the height band and
// the lateral search window. In net-build mode ref supersedes the decoupled
// triple and an impassable cross-section is flagged.
func (pl *Plateau) Track(pts []geom.Pt2f, ref *Plateau,
	refs, refe, refh, offset float32, confdist int) bool {

	if ref != nil {
		refs = ref.EstimatedStart
		refe = ref.EstimatedEnd
		refh = ref.MinHeight
	}
	if confdist < 1 {
		confdist = 1
	}
	refCenter := (refs+refe)/2 + offset
	searchWin := pl.pf.SideShiftTolerance * float32(confdist)
	band := pl.pf.ThicknessTolerance + float32(confdist)*pl.pf.SlopeTolerance

	if len(pts) == 0 {
		pl.status = PlateauNoPoints
		return false
	}
	pl.enoughPoints = len(pts) >= pl.pf.MinPoints
	if !pl.enoughPoints {
		pl.status = PlateauNotEnoughPoints
		return false
	}
	wins := scanWindows(pts, band)
	var best *window
	sawAny := false
	for k := range wins {
		w := pl.trim(pts, wins[k])
		if w.j <= w.i {
			continue
		}
		sawAny = true
		if w.width < pl.pf.MinLength || w.width > pl.pf.MaxLength {
			continue
		}
		if absf(w.center-refCenter) > searchWin {
			continue
		}
		if best == nil || betterTracked(w, *best, refCenter, refh) {
			cw := w
			best = &cw
		}
	}
	if best == nil {
		if pl.pf.NetBuild {
			pl.impassable = pl.crossTilt(pts, refs, refe) >
				float32(math.Tan(float64(pl.pf.MaxTilt)*math.Pi/180))
		}
		if sawAny {
			pl.status = PlateauTooNarrow
		} else {
			pl.status = PlateauNoPlateau
		}
		return false
	}
	pl.install(pts, *best)
	pl.status = PlateauOK
	pl.possible = true
	pl.consistentHeight =
		absf(best.minH-refh) <= pl.pf.SlopeTolerance*float32(confdist)
	pl.reliable = pl.support >= pl.pf.MinPoints && pl.ConsistentWidth() &&
		absf(pl.EstimatedCenter()-refCenter) <= pl.pf.SideShiftTolerance
	return true
}

// betterTracked orders tracked candidates: nearest to the predicted centre
// first, ties broken by height consistency with the reference.
func betterTracked(w, best window, refCenter, refh float32) bool {
	dw := absf(w.center - refCenter)
	db := absf(best.center - refCenter)
	if dw != db {
		return dw < db
	}
	return absf(w.minH-refh) < absf(best.minH-refh)
}

// crossTilt returns the mean height slope across the reference interval,
// used to tell an obstacle from a mere data gap.
func (pl *Plateau) crossTilt(pts []geom.Pt2f, refs, refe float32) float32 {
	var lo, hi geom.Pt2f
	seen := false
	for _, p := range pts {
		if p.X < refs || p.X > refe {
			continue
		}
		if !seen {
			lo, hi = p, p
			seen = true
			continue
		}
		if p.Y < lo.Y {
			lo = p
		}
		if p.Y > hi.Y {
			hi = p
		}
	}
	if !seen || hi.X == lo.X {
		return 0
	}
	return absf((hi.Y - lo.Y) / (hi.X - lo.X))
}

func absf(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
