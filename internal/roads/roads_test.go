package roads

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/trackline.report/internal/config"
	"github.com/banshee-data/trackline.report/internal/geom"
)

func TestDetectionMapOccupancy(t *testing.T) {
	m := NewDetectionMap(20, 20)
	if m.Occupied(geom.Pt2i{X: 5, Y: 5}) {
		t.Error("fresh map reports an occupied pixel")
	}
	scans := [][]geom.Pt2i{
		{{X: 5, Y: 5}, {X: 6, Y: 5}},
		{{X: 5, Y: 6}, {X: 25, Y: 5}}, // one pixel out of the raster
	}
	if !m.Add(scans) {
		t.Error("painting fresh pixels reported nothing added")
	}
	if !m.Occupied(geom.Pt2i{X: 5, Y: 5}) || !m.Occupied(geom.Pt2i{X: 5, Y: 6}) {
		t.Error("painted pixels not occupied")
	}
	if m.Occupied(geom.Pt2i{X: 25, Y: 5}) {
		t.Error("out-of-raster pixel occupied")
	}
	if m.RoadPixels() != 3 {
		t.Errorf("road pixels = %d, want 3", m.RoadPixels())
	}
	// Repainting the same pixels adds nothing.
	if m.Add(scans[:1]) {
		t.Error("repainting reported new pixels")
	}
}

func TestDetectionMapImage(t *testing.T) {
	m := NewDetectionMap(8, 8)
	m.Add([][]geom.Pt2i{{{X: 1, Y: 1}}})
	path := filepath.Join(t.TempDir(), "roads.png")
	if err := m.SaveImage(path, nil); err != nil {
		t.Fatalf("saving image: %v", err)
	}
}

func TestSeedCatalogFilesByTile(t *testing.T) {
	sc := NewSeedCatalog(2, 2, 10, 10)
	in := sc.Add(Seed{P1: geom.Pt2i{X: 2, Y: 3}, P2: geom.Pt2i{X: 6, Y: 3}})
	if !in {
		t.Error("in-grid seed rejected")
	}
	if sc.Add(Seed{P1: geom.Pt2i{X: 50, Y: 3}, P2: geom.Pt2i{X: 60, Y: 3}}) {
		t.Error("out-of-grid seed accepted")
	}
	// Centre (14, 13) files under tile (1, 1).
	sc.Add(Seed{P1: geom.Pt2i{X: 12, Y: 12}, P2: geom.Pt2i{X: 16, Y: 14}})
	if n := len(sc.TileSeeds(3)); n != 1 {
		t.Errorf("tile 3 holds %d seeds, want 1", n)
	}
	if sc.Count() != 2 {
		t.Errorf("catalog holds %d seeds, want 2", sc.Count())
	}
}

func TestSeedCatalogSaveLoad(t *testing.T) {
	sc := NewSeedCatalog(2, 2, 10, 10)
	seeds := []Seed{
		{P1: geom.Pt2i{X: 2, Y: 3}, P2: geom.Pt2i{X: 6, Y: 3}},
		{P1: geom.Pt2i{X: 12, Y: 12}, P2: geom.Pt2i{X: 16, Y: 14}},
		{P1: geom.Pt2i{X: 3, Y: 15}, P2: geom.Pt2i{X: 7, Y: 15}},
	}
	for _, s := range seeds {
		sc.Add(s)
	}
	path := filepath.Join(t.TempDir(), "seeds.txt")
	if err := sc.Save(path); err != nil {
		t.Fatalf("saving: %v", err)
	}
	loaded, err := LoadSeeds(path, 2, 2, 10, 10)
	if err != nil {
		t.Fatalf("loading: %v", err)
	}
	if loaded.Count() != len(seeds) {
		t.Fatalf("loaded %d seeds, want %d", loaded.Count(), len(seeds))
	}
	for k := 0; k < 4; k++ {
		if diff := cmp.Diff(sc.TileSeeds(k), loaded.TileSeeds(k)); diff != "" {
			t.Errorf("tile %d seeds differ (-saved +loaded):\n%s", k, diff)
		}
	}
}

func TestAddStrokesAlong(t *testing.T) {
	sc := NewSeedCatalog(1, 1, 40, 40)
	// A 24-cell horizontal segment sliced every 12 cells with a 6-cell
	// spread: three strokes, each vertical across the segment.
	n := sc.AddStrokesAlong(5, 20, 29, 20, 12, 6)
	if n != 3 {
		t.Fatalf("filed %d strokes, want 3", n)
	}
	for _, s := range sc.TileSeeds(0) {
		if s.P1.X != s.P2.X {
			t.Errorf("stroke %v not orthogonal to the segment", s)
		}
		if d := s.P1.Y - s.P2.Y; d != 6 && d != -6 {
			t.Errorf("stroke %v spread %d, want 6", s, d)
		}
	}
}

func TestIsConnectedPassThrough(t *testing.T) {
	tool := NewTool(config.EmptyTuningConfig())
	if !tool.isConnected(nil) {
		t.Error("isConnected must pass everything through")
	}
	if !tool.isConnected([][]geom.Pt2i{{{X: 0, Y: 0}}, {{X: 9, Y: 9}}}) {
		t.Error("isConnected must pass disconnected scans through")
	}
}
