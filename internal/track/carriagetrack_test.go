package track

import (
	"testing"

	"github.com/banshee-data/trackline.report/internal/geom"
)

// fakePlateau builds an accepted or rejected plateau centred on c with a
// 3 m interval.
func fakePlateau(pf *PlateauFeature, c float32, accepted bool) *Plateau {
	pl := NewPlateau(pf, 0)
	pl.EstimatedStart = c - 1.5
	pl.EstimatedEnd = c + 1.5
	pl.InternalStart = c - 1.5
	pl.InternalEnd = c + 1.5
	pl.MinHeight = 100
	pl.status = PlateauOK
	pl.accepted = accepted
	return pl
}

func buildTrack(pf *PlateauFeature, centers []float32, accepted []bool) *CarriageTrack {
	ct := NewCarriageTrack()
	ct.SetDetectionSeed(geom.Pt2i{X: 0, Y: 10}, geom.Pt2i{X: 20, Y: 10}, 0.5)
	half := len(centers) / 2
	ct.Start(fakePlateau(pf, centers[half], accepted[half]), nil, nil, false)
	for i := half - 1; i >= 0; i-- {
		ct.Add(true, fakePlateau(pf, centers[i], accepted[i]), nil, nil)
	}
	for i := half + 1; i < len(centers); i++ {
		ct.Add(false, fakePlateau(pf, centers[i], accepted[i]), nil, nil)
	}
	return ct
}

func allTrue(n int) []bool {
	b := make([]bool, n)
	for i := range b {
		b[i] = true
	}
	return b
}

func TestSpreadAndHoles(t *testing.T) {
	pf := NewPlateauFeature()
	accepted := allTrue(7)
	accepted[1] = false
	accepted[5] = false
	ct := buildTrack(pf, []float32{5, 5, 5, 5, 5, 5, 5}, accepted)

	if got := ct.Spread(); got != 7 {
		t.Errorf("Spread() = %d, want 7", got)
	}
	if got := ct.LeftScanCount() + ct.RightScanCount() + 1; got != ct.Spread() {
		t.Errorf("spread %d != left+right+1 = %d", ct.Spread(), got)
	}
	if got := ct.NbHoles(); got != 2 {
		t.Errorf("NbHoles() = %d, want 2", got)
	}
	if ct.NbHoles() > ct.Spread()-1 {
		t.Error("more holes than non-central plateaux")
	}
	if ct.Plateau(0) == nil {
		t.Error("central plateau missing")
	}
}

func TestSignedIndexing(t *testing.T) {
	pf := NewPlateauFeature()
	ct := buildTrack(pf, []float32{1, 2, 3, 4, 5}, allTrue(5))
	// Centers were laid right to left: index -2 holds the first value.
	cases := map[int]float32{-2: 1, -1: 2, 0: 3, 1: 4, 2: 5}
	for idx, want := range cases {
		pl := ct.Plateau(idx)
		if pl == nil {
			t.Fatalf("Plateau(%d) = nil", idx)
		}
		if c := pl.EstimatedCenter(); c != want {
			t.Errorf("Plateau(%d) center = %f, want %f", idx, c, want)
		}
	}
	if ct.Plateau(3) != nil || ct.Plateau(-3) != nil {
		t.Error("out-of-range index returned a plateau")
	}
}

func TestPruneDropsShortTails(t *testing.T) {
	pf := NewPlateauFeature()
	// Left tail: four accepted, then two holes, then one lone accepted.
	accepted := []bool{true, true, true, true, true, false, false, true}
	centers := make([]float32, len(accepted))
	for i := range centers {
		centers[i] = 5
	}
	ct := NewCarriageTrack()
	ct.SetDetectionSeed(geom.Pt2i{X: 0, Y: 10}, geom.Pt2i{X: 20, Y: 10}, 0.5)
	ct.Start(fakePlateau(pf, 5, true), nil, nil, false)
	for i := 1; i < len(accepted); i++ {
		ct.Add(false, fakePlateau(pf, centers[i], accepted[i]), nil, nil)
	}
	if ct.Prune(2) {
		t.Fatal("prune emptied a track with a long accepted run")
	}
	// The lone accepted and the holes behind it fall; the run of four
	// accepted plateaux next to the central one survives.
	if got := ct.LeftScanCount(); got != 4 {
		t.Errorf("left count after prune = %d, want 4", got)
	}
	if ct.NbHoles() != 0 {
		t.Errorf("holes after prune = %d, want 0", ct.NbHoles())
	}
}

func TestPruneIdempotent(t *testing.T) {
	pf := NewPlateauFeature()
	accepted := []bool{true, true, true, true, true, false, true}
	ct := buildTrack(pf, []float32{5, 5, 5, 5, 5, 5, 5}, accepted)
	ct.Prune(2)
	spread := ct.Spread()
	holes := ct.NbHoles()
	if ct.Prune(2) {
		t.Error("second prune emptied the track")
	}
	if ct.Spread() != spread || ct.NbHoles() != holes {
		t.Errorf("prune not idempotent: spread %d->%d, holes %d->%d",
			spread, ct.Spread(), holes, ct.NbHoles())
	}
}

func TestPruneLoneCentralFails(t *testing.T) {
	pf := NewPlateauFeature()
	ct := NewCarriageTrack()
	ct.SetDetectionSeed(geom.Pt2i{X: 0, Y: 10}, geom.Pt2i{X: 20, Y: 10}, 0.5)
	ct.Start(fakePlateau(pf, 5, true), nil, nil, false)
	if !ct.Prune(2) {
		t.Error("a lone central plateau passed a tail size of 2")
	}
	if ct.Prune(0) {
		t.Error("tail size 0 must disable pruning")
	}
}

func TestRelativeShiftLength(t *testing.T) {
	pf := NewPlateauFeature()
	ct := buildTrack(pf, []float32{5, 5, 5, 5, 5}, allTrue(5))
	if got := ct.RelativeShiftLength(); got != 0 {
		t.Errorf("straight track shift = %f, want 0", got)
	}

	drift := buildTrack(pf, []float32{5, 5.2, 5.4, 5.6, 5.8}, allTrue(5))
	got := drift.RelativeShiftLength()
	// Total motion 0.8 m over 4 scans of 0.5 m.
	want := float32(0.8 / 2.0)
	if got < want-0.01 || got > want+0.01 {
		t.Errorf("drifting track shift = %f, want about %f", got, want)
	}
	if got < 0 {
		t.Error("relative shift length negative")
	}
}

func TestDensityPredicateNumbers(t *testing.T) {
	// A 20-scan track with 10 holes under a 60 percent density floor is
	// sparse: 10*100 > 20*(100-60).
	pf := NewPlateauFeature()
	accepted := allTrue(20)
	for i := 0; i < 10; i++ {
		accepted[2*i+1] = false
	}
	centers := make([]float32, 20)
	for i := range centers {
		centers[i] = 5
	}
	ct := buildTrack(pf, centers, accepted)
	holes := ct.NbHoles()
	spread := ct.Spread()
	if spread != 20 {
		t.Fatalf("spread = %d, want 20", spread)
	}
	minDensity := 60
	if !(holes*100 > spread*(100-minDensity)) {
		t.Errorf("density predicate did not trigger: holes=%d spread=%d",
			holes, spread)
	}
}

func TestGetPositionCenterline(t *testing.T) {
	pf := NewPlateauFeature()
	ct := buildTrack(pf, []float32{2.5, 2.5, 2.5}, allTrue(3))
	var line, unused []geom.Pt2i
	ct.GetPosition(&line, &unused, DispCenter, 1.0, true)
	if len(line) != 3 {
		t.Fatalf("centerline has %d points, want 3", len(line))
	}
	// Stroke (0,10)-(20,10), cell 0.5 m: 2.5 m along is cell x=5.5.
	for i, p := range line {
		if p.X != 6 {
			t.Errorf("point %d: x = %d, want 6", i, p.X)
		}
	}
	// Successive scans differ by one cell across the stroke.
	if line[0].Y+1 != line[1].Y || line[1].Y+1 != line[2].Y {
		t.Errorf("scan ordering broken: %v", line)
	}
}

func TestGetPointsFiltersInterval(t *testing.T) {
	pf := NewPlateauFeature()
	ct := NewCarriageTrack()
	ct.SetDetectionSeed(geom.Pt2i{X: 0, Y: 10}, geom.Pt2i{X: 20, Y: 10}, 0.5)
	scan := []geom.Pt2i{}
	for x := 0; x <= 20; x++ {
		scan = append(scan, geom.Pt2i{X: x, Y: 10})
	}
	ct.Start(fakePlateau(pf, 2.5, true), scan, nil, false)
	var out [][]geom.Pt2i
	ct.GetPoints(&out, true, 40, 40, 1.0)
	if len(out) != 1 {
		t.Fatalf("got %d scans, want 1", len(out))
	}
	// Only cells whose projection falls inside [1.0, 4.0] survive.
	for _, p := range out[0] {
		d := float32(p.X) * 0.5
		if d < 0.5 || d > 4.5 {
			t.Errorf("cell %v projects at %f m, outside the plateau", p, d)
		}
	}
	if len(out[0]) < 5 {
		t.Errorf("plateau cells = %d, want at least 5", len(out[0]))
	}
}
