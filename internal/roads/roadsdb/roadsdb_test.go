package roadsdb

import (
	"path/filepath"
	"testing"

	"github.com/banshee-data/trackline.report/internal/geom"
	"github.com/banshee-data/trackline.report/internal/roads"
	"github.com/banshee-data/trackline.report/internal/track"
)

func openTestDB(t *testing.T) *RoadsDB {
	t.Helper()
	db, err := NewRoadsDB(filepath.Join(t.TempDir(), "roads.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestInsertRunAndOutcomes(t *testing.T) {
	db := openTestDB(t)
	runID, err := db.InsertRun(&Run{SeedsCount: 2, RoadsCount: 1})
	if err != nil {
		t.Fatalf("inserting run: %v", err)
	}
	if runID == "" {
		t.Fatal("empty run id")
	}
	outcomes := []roads.SeedOutcome{
		{Seed: roads.Seed{P1: geom.Pt2i{X: 1, Y: 2}, P2: geom.Pt2i{X: 9, Y: 2}},
			Status: track.ResultOK, Tile: 0, Kept: true},
		{Seed: roads.Seed{P1: geom.Pt2i{X: 4, Y: 7}, P2: geom.Pt2i{X: 12, Y: 7}},
			Status: track.ResultFailTooSparsePlateaux, Tile: 0},
	}
	for _, o := range outcomes {
		if err := db.InsertSeedOutcome(runID, o); err != nil {
			t.Fatalf("inserting outcome: %v", err)
		}
	}
	counts, err := db.StatusCounts(runID)
	if err != nil {
		t.Fatalf("querying counts: %v", err)
	}
	if counts[track.ResultOK] != 1 || counts[track.ResultFailTooSparsePlateaux] != 1 {
		t.Errorf("status counts = %v", counts)
	}
}

func TestInsertRoadSection(t *testing.T) {
	db := openTestDB(t)
	runID, err := db.InsertRun(&Run{})
	if err != nil {
		t.Fatal(err)
	}

	ct := track.NewCarriageTrack()
	ct.SetDetectionSeed(geom.Pt2i{X: 0, Y: 10}, geom.Pt2i{X: 20, Y: 10}, 0.5)
	pf := track.NewPlateauFeature()
	pl := track.NewPlateau(pf, 0)
	var pts []geom.Pt2f
	for d := float32(0.25); d < 10; d += 0.5 {
		h := float32(100)
		if d < 4 {
			h += 2 * (4 - d)
		} else if d > 7 {
			h += 2 * (d - 7)
		}
		pts = append(pts, geom.Pt2f{X: d, Y: h})
	}
	if !pl.Detect(pts, false, 0) {
		t.Fatalf("setup plateau fit failed, status %d", pl.Status())
	}
	ct.Start(pl, nil, nil, false)
	ct.Accept(0)

	roadID, err := db.InsertRoadSection(runID, ct, 1.0)
	if err != nil {
		t.Fatalf("inserting section: %v", err)
	}
	if roadID == "" {
		t.Fatal("empty road id")
	}
	spreads, shifts, err := db.RunSections(runID)
	if err != nil {
		t.Fatal(err)
	}
	if len(spreads) != 1 || spreads[0] != 1 {
		t.Errorf("spreads = %v, want [1]", spreads)
	}
	if len(shifts) != 1 || shifts[0] != 0 {
		t.Errorf("shifts = %v, want [0]", shifts)
	}
}
