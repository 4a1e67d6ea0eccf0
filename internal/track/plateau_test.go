package track

import (
	"testing"

	"github.com/banshee-data/trackline.report/internal/geom"
)

// profile builds a sorted (distance, height) cross-section from sample
// pairs.
func profile(samples ...[2]float32) []geom.Pt2f {
	pts := make([]geom.Pt2f, len(samples))
	for i, s := range samples {
		pts[i] = geom.Pt2f{X: s[0], Y: s[1]}
	}
	return pts
}

// roadProfile is a flat band of the given width centred on center, flanked
// by slopes rising 2 m per metre, sampled every half metre over [0, 15].
func roadProfile(center, width, height float32) []geom.Pt2f {
	var pts []geom.Pt2f
	for d := float32(0.25); d < 15; d += 0.5 {
		off := d - center
		if off < 0 {
			off = -off
		}
		h := height
		if off > width/2 {
			h += 2 * (off - width/2)
		}
		pts = append(pts, geom.Pt2f{X: d, Y: h})
	}
	return pts
}

func TestDetectFlatBand(t *testing.T) {
	pf := NewPlateauFeature()
	pl := NewPlateau(pf, 0)
	if !pl.Detect(roadProfile(7.5, 3, 100), false, 0) {
		t.Fatalf("flat band not detected, status %d", pl.Status())
	}
	if pl.Status() != PlateauOK {
		t.Errorf("status = %d, want %d", pl.Status(), PlateauOK)
	}
	if !pl.Bounded() {
		t.Error("flanked plateau not bounded")
	}
	if !pl.Reliable() {
		t.Error("dense plateau not reliable")
	}
	c := pl.EstimatedCenter()
	if c < 7.2 || c > 7.8 {
		t.Errorf("estimated center = %f, want about 7.5", c)
	}
	if pl.EstimatedStart > pl.EstimatedCenter() ||
		pl.EstimatedCenter() > pl.EstimatedEnd {
		t.Error("estimated interval does not order start <= center <= end")
	}
	w := pl.EstimatedWidth()
	if w < pf.MinLength || w > pf.MaxLength {
		t.Errorf("estimated width %f outside [%f, %f]", w, pf.MinLength, pf.MaxLength)
	}
}

func TestDetectFailures(t *testing.T) {
	pf := NewPlateauFeature()

	pl := NewPlateau(pf, 0)
	if pl.Detect(nil, false, 0) {
		t.Error("empty profile detected")
	}
	if pl.Status() != PlateauNoPoints {
		t.Errorf("empty profile status = %d, want %d", pl.Status(), PlateauNoPoints)
	}
	if pl.HasEnoughPoints() {
		t.Error("empty profile has enough points")
	}

	pl = NewPlateau(pf, 0)
	if pl.Detect(profile([2]float32{1, 100}, [2]float32{1.5, 100}), false, 0) {
		t.Error("two-point profile detected")
	}
	if pl.Status() != PlateauNotEnoughPoints {
		t.Errorf("sparse profile status = %d, want %d",
			pl.Status(), PlateauNotEnoughPoints)
	}

	// A band narrower than the minimal road width must not fit.
	pl = NewPlateau(pf, 0)
	if pl.Detect(roadProfile(7.5, 1, 100), false, 0) {
		t.Error("one-metre band detected as a road plateau")
	}
	if pl.Status() != PlateauTooNarrow {
		t.Errorf("narrow band status = %d, want %d", pl.Status(), PlateauTooNarrow)
	}
}

func TestDetectOptimalHeightRetry(t *testing.T) {
	// A low narrow pit under-supported next to a well-supported band a
	// little higher: the free search reports the pit as optimal height
	// under used, the anchored retry keeps the wide band.
	pf := NewPlateauFeature()
	pf.MinPoints = 8
	var pts []geom.Pt2f
	for d := float32(0.25); d <= 2.75; d += 0.5 {
		pts = append(pts, geom.Pt2f{X: d, Y: 100}) // pit: 6 samples, 2.5 m
	}
	pts = append(pts, geom.Pt2f{X: 3.25, Y: 104}) // ridge
	for d := float32(3.75); d <= 9.25; d += 0.5 {
		pts = append(pts, geom.Pt2f{X: d, Y: 100.2}) // band: 12 samples
	}
	pl := NewPlateau(pf, 0)
	if pl.Detect(pts, false, 0) {
		t.Fatal("under-supported pit accepted outright")
	}
	if pl.Status() != PlateauOptimalHeightUnderUsed {
		t.Fatalf("status = %d, want %d", pl.Status(), PlateauOptimalHeightUnderUsed)
	}
	if pl.NoOptimalHeight() {
		t.Fatal("no optimal height recorded")
	}

	retry := NewPlateau(pf, 0)
	if !retry.Detect(pts, true, pl.OptimalHeight()) {
		t.Fatalf("anchored retry failed, status %d", retry.Status())
	}
	c := retry.EstimatedCenter()
	if c < 6 || c > 7 {
		t.Errorf("anchored retry center = %f, want about 6.5", c)
	}
}

func TestTrackFollowsReference(t *testing.T) {
	pf := NewPlateauFeature()
	pts := roadProfile(7.8, 3, 100)

	pl := NewPlateau(pf, 0)
	if !pl.Track(pts, nil, 6.0, 9.0, 100, 0, 1) {
		t.Fatalf("tracked fit failed, status %d", pl.Status())
	}
	if !pl.ConsistentHeight() {
		t.Error("same-height plateau not height consistent")
	}
	if !pl.Reliable() {
		t.Error("slightly shifted plateau not reliable")
	}

	// Far outside the search window the fit must fail without an offset.
	far := NewPlateau(pf, 0)
	if far.Track(roadProfile(11.0, 3, 100), nil, 6.0, 9.0, 100, 0, 1) {
		t.Error("plateau fit far outside the search window")
	}
	// A lateral offset moves the window onto it.
	shifted := NewPlateau(pf, 0)
	if !shifted.Track(roadProfile(11.0, 3, 100), nil, 6.0, 9.0, 100, 3.5, 1) {
		t.Errorf("offset fit failed, status %d", shifted.Status())
	}
}

func TestTrackConfidenceWidensWindow(t *testing.T) {
	pf := NewPlateauFeature()
	pts := roadProfile(9.0, 3, 100)
	near := NewPlateau(pf, 0)
	if near.Track(pts, nil, 6.0, 9.0, 100, 0, 1) {
		t.Error("1.5 m shift fit with confidence distance 1")
	}
	wide := NewPlateau(pf, 0)
	if !wide.Track(pts, nil, 6.0, 9.0, 100, 0, 4) {
		t.Errorf("1.5 m shift missed with confidence distance 4, status %d",
			wide.Status())
	}
}

func TestContainsAndConnectivity(t *testing.T) {
	pf := NewPlateauFeature()
	pl := NewPlateau(pf, 0)
	if !pl.Detect(roadProfile(7.5, 3, 100), false, 0) {
		t.Fatal("setup fit failed")
	}
	if !pl.Contains(pl.EstimatedCenter()) {
		t.Error("plateau does not contain its own center")
	}
	if pl.Contains(pl.EstimatedEnd + 1) {
		t.Error("plateau contains a point past its end")
	}

	other := NewPlateau(pf, 0)
	if !other.Detect(roadProfile(7.9, 3, 100), false, 0) {
		t.Fatal("setup fit failed")
	}
	if !pl.IsConnectedTo(other) {
		t.Error("overlapping plateaux not connected")
	}
	if !pl.IsConnectedTo(nil) {
		t.Error("nil neighbour must count as connected")
	}
}
