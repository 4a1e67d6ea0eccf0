package track

import (
	"math"

	"github.com/banshee-data/trackline.report/internal/geom"
)

// Display modes for GetPosition.
const (
	DispCenter = iota
	DispScans
)

// section couples one plateau with the display scan it was fit on and,
// when profile recording is on, the raw cross-section samples.
type section struct {
	pl      *Plateau
	scan    []geom.Pt2i
	profile []geom.Pt2f
}

// CarriageTrack is the ordered two-sided sequence of plateaux detected
// along one seed stroke. Plateaux are addressed by a signed index: 0 is the
// central plateau, negative indices run to the right of the stroke
// direction, positive to the left.
type CarriageTrack struct {
	central section
	lefts   []section
	rights  []section

	status   int
	seedP1   geom.Pt2i
	seedP2   geom.Pt2i
	cellSize float32
	reversed bool
}

// NewCarriageTrack returns an empty track.
func NewCarriageTrack() *CarriageTrack {
	return &CarriageTrack{}
}

// SetDetectionSeed records the stroke and cell size the track was detected
// with; all geometry reconstruction derives from them.
func (ct *CarriageTrack) SetDetectionSeed(p1, p2 geom.Pt2i, cellSize float32) {
	ct.seedP1 = p1
	ct.seedP2 = p2
	ct.cellSize = cellSize
}

// SeedStart returns the stroke's first endpoint.
func (ct *CarriageTrack) SeedStart() geom.Pt2i { return ct.seedP1 }

// SeedEnd returns the stroke's second endpoint.
func (ct *CarriageTrack) SeedEnd() geom.Pt2i { return ct.seedP2 }

// Status returns the detection status carried by the track.
func (ct *CarriageTrack) Status() int { return ct.status }

// SetStatus records the detection status.
func (ct *CarriageTrack) SetStatus(status int) { ct.status = status }

// Start installs the central plateau.
func (ct *CarriageTrack) Start(pl *Plateau, scan []geom.Pt2i, profile []geom.Pt2f, reversed bool) {
	ct.central = section{pl: pl, scan: scan, profile: profile}
	ct.reversed = reversed
}

// Add appends a plateau on one side, at index -(rightCount+1) or
// +(leftCount+1).
func (ct *CarriageTrack) Add(onRight bool, pl *Plateau, scan []geom.Pt2i, profile []geom.Pt2f) {
	s := section{pl: pl, scan: scan, profile: profile}
	if onRight {
		ct.rights = append(ct.rights, s)
	} else {
		ct.lefts = append(ct.lefts, s)
	}
}

// Clear drops one side so the detector can retry it.
func (ct *CarriageTrack) Clear(onRight bool) {
	if onRight {
		ct.rights = ct.rights[:0]
	} else {
		ct.lefts = ct.lefts[:0]
	}
}

// Plateau returns the plateau at the signed index, nil outside the track.
func (ct *CarriageTrack) Plateau(idx int) *Plateau {
	s := ct.section(idx)
	if s == nil {
		return nil
	}
	return s.pl
}

func (ct *CarriageTrack) section(idx int) *section {
	switch {
	case idx == 0:
		if ct.central.pl == nil {
			return nil
		}
		return &ct.central
	case idx < 0:
		if -idx-1 >= len(ct.rights) {
			return nil
		}
		return &ct.rights[-idx-1]
	default:
		if idx-1 >= len(ct.lefts) {
			return nil
		}
		return &ct.lefts[idx-1]
	}
}

// Accept flips the accepted flag of the plateau at the signed index.
func (ct *CarriageTrack) Accept(idx int) {
	if pl := ct.Plateau(idx); pl != nil {
		pl.SetAccepted(true)
	}
}

// RightScanCount returns the number of scans on the right side.
func (ct *CarriageTrack) RightScanCount() int { return len(ct.rights) }

// LeftScanCount returns the number of scans on the left side.
func (ct *CarriageTrack) LeftScanCount() int { return len(ct.lefts) }

// Spread returns the total number of scans of the track.
func (ct *CarriageTrack) Spread() int {
	return len(ct.lefts) + len(ct.rights) + 1
}

// NbHoles returns the number of plateaux not accepted.
func (ct *CarriageTrack) NbHoles() int {
	holes := 0
	if ct.central.pl == nil || !ct.central.pl.IsAccepted() {
		holes++
	}
	for i := range ct.lefts {
		if !ct.lefts[i].pl.IsAccepted() {
			holes++
		}
	}
	for i := range ct.rights {
		if !ct.rights[i].pl.IsAccepted() {
			holes++
		}
	}
	return holes
}

// IsValid reports whether the track carries an accepted central plateau.
func (ct *CarriageTrack) IsValid() bool {
	return ct.central.pl != nil && ct.central.pl.IsAccepted()
}

// pruneSide trims one side: trailing rejected plateaux fall, then trailing
// accepted runs shorter than tailMinSize fall with them, repeatedly.
func pruneSide(side []section, tailMinSize int) []section {
	for {
		for len(side) > 0 && !side[len(side)-1].pl.IsAccepted() {
			side = side[:len(side)-1]
		}
		run := 0
		for run < len(side) && side[len(side)-1-run].pl.IsAccepted() {
			run++
		}
		if run == 0 || run >= tailMinSize {
			return side
		}
		side = side[:len(side)-run]
	}
}

// Prune removes trailing unreliable runs at both ends. It returns true
// when what remains accepted is too short to be a track.
func (ct *CarriageTrack) Prune(tailMinSize int) bool {
	if tailMinSize == 0 {
		return false
	}
	ct.lefts = pruneSide(ct.lefts, tailMinSize)
	ct.rights = pruneSide(ct.rights, tailMinSize)
	accepted := ct.Spread() - ct.NbHoles()
	return accepted < tailMinSize
}

// RelativeShiftLength returns the total lateral motion of consecutive
// accepted centres normalised by the track length; hectic fits score high.
func (ct *CarriageTrack) RelativeShiftLength() float32 {
	if ct.Spread() < 2 {
		return 0
	}
	var sum float32
	var last float32
	seen := false
	for idx := -len(ct.rights); idx <= len(ct.lefts); idx++ {
		pl := ct.Plateau(idx)
		if pl == nil || !pl.IsAccepted() {
			continue
		}
		c := pl.EstimatedCenter()
		if seen {
			sum += absf(c - last)
		}
		last = c
		seen = true
	}
	length := float32(ct.Spread()-1) * ct.cellSize
	if length <= 0 {
		return 0
	}
	return sum / length
}

// strokeFrame returns the stroke origin (cell units, cell centres), the
// unit stroke direction and the unit normal toward positive indices.
func (ct *CarriageTrack) strokeFrame() (ox, oy, ux, uy, nx, ny float64) {
	ox = float64(ct.seedP1.X) + 0.5
	oy = float64(ct.seedP1.Y) + 0.5
	dx := float64(ct.seedP2.X - ct.seedP1.X)
	dy := float64(ct.seedP2.Y - ct.seedP1.Y)
	l := math.Sqrt(dx*dx + dy*dy)
	ux = dx / l
	uy = dy / l
	nx = -uy
	ny = ux
	return
}

// scanPoint maps a profile distance (metres) on scan idx to cell
// coordinates.
func (ct *CarriageTrack) scanPoint(idx int, dist float32) (float64, float64) {
	ox, oy, ux, uy, nx, ny := ct.strokeFrame()
	t := float64(dist) / float64(ct.cellSize)
	k := float64(idx)
	return ox + ux*t + nx*k, oy + uy*t + ny*k
}

// GetPosition fills bound1 (and bound2 in DispScans mode) with the track
// polyline in display pixels, ordered from the rightmost scan to the
// leftmost. In DispCenter mode bound1 receives the centerline; in
// DispScans mode bound1 and bound2 receive the two road borders.
func (ct *CarriageTrack) GetPosition(bound1, bound2 *[]geom.Pt2i, mode int, iratio float32, acceptedOnly bool) {
	for idx := -len(ct.rights); idx <= len(ct.lefts); idx++ {
		pl := ct.Plateau(idx)
		if pl == nil {
			continue
		}
		if acceptedOnly && !pl.IsAccepted() {
			continue
		}
		switch mode {
		case DispCenter:
			x, y := ct.scanPoint(idx, pl.EstimatedCenter())
			*bound1 = append(*bound1, displayPixel(x, y, iratio))
		case DispScans:
			x, y := ct.scanPoint(idx, pl.EstimatedStart)
			*bound1 = append(*bound1, displayPixel(x, y, iratio))
			x, y = ct.scanPoint(idx, pl.EstimatedEnd)
			*bound2 = append(*bound2, displayPixel(x, y, iratio))
		}
	}
}

func displayPixel(x, y float64, iratio float32) geom.Pt2i {
	return geom.Pt2i{
		X: int(x*float64(iratio) + 0.5),
		Y: int(y*float64(iratio) + 0.5),
	}
}

// projOnStroke returns the profile distance of a display cell.
func (ct *CarriageTrack) projOnStroke(c geom.Pt2i) float32 {
	ox, oy, ux, uy, _, _ := ct.strokeFrame()
	px := float64(c.X) + 0.5 - ox
	py := float64(c.Y) + 0.5 - oy
	return float32((px*ux + py*uy) * float64(ct.cellSize))
}

// GetPoints fills out with, per scan, the display cells of the accepted
// plateaux: the recorded scan cells whose stroke projection falls inside
// the estimated interval. Cells outside the w x h raster are dropped.
func (ct *CarriageTrack) GetPoints(out *[][]geom.Pt2i, acceptedOnly bool, w, h int, iratio float32) {
	for idx := -len(ct.rights); idx <= len(ct.lefts); idx++ {
		s := ct.section(idx)
		if s == nil || s.pl == nil {
			continue
		}
		if acceptedOnly && !s.pl.IsAccepted() {
			continue
		}
		var scan []geom.Pt2i
		for _, c := range s.scan {
			d := ct.projOnStroke(c)
			if d < s.pl.EstimatedStart || d > s.pl.EstimatedEnd {
				continue
			}
			p := displayPixel(float64(c.X)+0.5, float64(c.Y)+0.5, iratio)
			if p.X < 0 || p.X >= w || p.Y < 0 || p.Y >= h {
				continue
			}
			scan = append(scan, p)
		}
		if len(scan) != 0 {
			*out = append(*out, scan)
		}
	}
}

// GetConnectedPoints is GetPoints restricted to the 4-connected component
// containing the central plateau.
func (ct *CarriageTrack) GetConnectedPoints(out *[][]geom.Pt2i, acceptedOnly bool, w, h int, iratio float32) {
	var scans [][]geom.Pt2i
	ct.GetPoints(&scans, acceptedOnly, w, h, iratio)
	if len(scans) == 0 {
		return
	}

	painted := make(map[geom.Pt2i]bool)
	for _, scan := range scans {
		for _, p := range scan {
			painted[p] = true
		}
	}

	// Seeds the component with the central scan cells.
	var central []geom.Pt2i
	if s := ct.section(0); s != nil && s.pl != nil {
		for _, c := range s.scan {
			d := ct.projOnStroke(c)
			if d < s.pl.EstimatedStart || d > s.pl.EstimatedEnd {
				continue
			}
			p := displayPixel(float64(c.X)+0.5, float64(c.Y)+0.5, iratio)
			if painted[p] {
				central = append(central, p)
			}
		}
	}
	kept := make(map[geom.Pt2i]bool)
	queue := append([]geom.Pt2i(nil), central...)
	for _, p := range queue {
		kept[p] = true
	}
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		for _, q := range [4]geom.Pt2i{
			{X: p.X + 1, Y: p.Y}, {X: p.X - 1, Y: p.Y},
			{X: p.X, Y: p.Y + 1}, {X: p.X, Y: p.Y - 1},
		} {
			if painted[q] && !kept[q] {
				kept[q] = true
				queue = append(queue, q)
			}
		}
	}
	for _, scan := range scans {
		var filtered []geom.Pt2i
		for _, p := range scan {
			if kept[p] {
				filtered = append(filtered, p)
			}
		}
		if len(filtered) != 0 {
			*out = append(*out, filtered)
		}
	}
}
