package roads

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/banshee-data/trackline.report/internal/config"
	"github.com/banshee-data/trackline.report/internal/geom"
	"github.com/banshee-data/trackline.report/internal/monitoring"
	"github.com/banshee-data/trackline.report/internal/tileset"
	"github.com/banshee-data/trackline.report/internal/track"
)

// writeRoadTile builds a 64x64 half-metre tile holding a straight 3 m road
// at height 100 along the y axis, centred on x = 12.75 m, with flanks
// rising 2 m per metre, covering rows 0..60.
func writeRoadTile(t *testing.T, dir string) {
	t.Helper()
	var pts []geom.Pt3f
	for x := 0; x <= 63; x++ {
		for y := 0; y <= 60; y++ {
			xm := (float64(x) + 0.5) * 0.5
			ym := (float64(y) + 0.5) * 0.5
			off := math.Abs(xm - 12.75)
			h := 100.0
			if off > 1.5 {
				h += 2 * (off - 1.5)
			}
			pts = append(pts, geom.Pt3f{X: float32(xm), Y: float32(ym), Z: float32(h)})
		}
	}
	tile := tileset.BuildTile(64, 64, 0.5, 0, 0, pts)
	if err := tile.Save(filepath.Join(dir, "t00"+tileset.TileSuffix)); err != nil {
		t.Fatal(err)
	}
}

func testConfig() *config.TuningConfig {
	cfg := config.EmptyTuningConfig()
	subdiv := 1
	cfg.SubDiv = &subdiv
	return cfg
}

func newRoadTool(t *testing.T) *Tool {
	t.Helper()
	old := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(old) })

	dir := t.TempDir()
	writeRoadTile(t, dir)
	tilesList := filepath.Join(dir, "tiles.txt")
	if err := os.WriteFile(tilesList, []byte("t00\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	tool := NewTool(testConfig())
	if err := tool.LoadTileSet(tilesList, dir, dir, false); err != nil {
		t.Fatalf("loading tile set: %v", err)
	}
	return tool
}

func TestProcessASDDetectsAndSuppresses(t *testing.T) {
	tool := newRoadTool(t)
	w, h := tool.MapSize()
	if w != 64 || h != 64 {
		t.Fatalf("map size %dx%d, want 64x64", w, h)
	}

	seeds := NewSeedCatalog(1, 1, 64, 64)
	seeds.Add(Seed{P1: geom.Pt2i{X: 10, Y: 30}, P2: geom.Pt2i{X: 40, Y: 30}})
	// A second stroke over the same road: its centre lands on pixels the
	// first detection paints, so it is suppressed.
	seeds.Add(Seed{P1: geom.Pt2i{X: 10, Y: 32}, P2: geom.Pt2i{X: 40, Y: 32}})
	tool.SetSeeds(seeds)

	if err := tool.ProcessASD(true); err != nil {
		t.Fatalf("ProcessASD: %v", err)
	}
	if len(tool.Outcomes) != 1 {
		t.Fatalf("processed %d seeds, want 1 (second suppressed)", len(tool.Outcomes))
	}
	if !tool.Outcomes[0].Kept {
		t.Errorf("road seed not kept, status %d", tool.Outcomes[0].Status)
	}
	if len(tool.RoadSections) != 1 {
		t.Fatalf("kept %d road sections, want 1", len(tool.RoadSections))
	}
	ct := tool.RoadSections[0]
	if ct.Spread() < 50 {
		t.Errorf("road spread = %d, want most of the 61 scans", ct.Spread())
	}
	if tool.Map.RoadPixels() == 0 {
		t.Error("no pixel painted on the detection map")
	}
	if len(tool.SucSeeds) != 1 {
		t.Errorf("successful seeds = %d, want 1", len(tool.SucSeeds))
	}
}

func TestToolOutputs(t *testing.T) {
	tool := newRoadTool(t)
	seeds := NewSeedCatalog(1, 1, 64, 64)
	seeds.Add(Seed{P1: geom.Pt2i{X: 10, Y: 30}, P2: geom.Pt2i{X: 40, Y: 30}})
	tool.SetSeeds(seeds)
	if err := tool.ProcessASD(true); err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	img := filepath.Join(dir, "roads.png")
	if err := tool.SaveRoadImage(img); err != nil {
		t.Fatalf("road image: %v", err)
	}
	centers := filepath.Join(dir, "centers.txt")
	if err := tool.ExportRoadCenters(centers); err != nil {
		t.Fatalf("centers: %v", err)
	}
	if fi, err := os.Stat(centers); err != nil || fi.Size() == 0 {
		t.Errorf("centerline export empty or missing: %v", err)
	}
	bounds := filepath.Join(dir, "bounds.txt")
	if err := tool.ExportRoadBounds(bounds); err != nil {
		t.Fatalf("bounds: %v", err)
	}
	sucs := filepath.Join(dir, "sucseeds.txt")
	if err := tool.SaveSuccessfulSeeds(sucs); err != nil {
		t.Fatalf("successful seeds: %v", err)
	}
	report := filepath.Join(dir, "report.html")
	if err := tool.WriteReport(report); err != nil {
		t.Fatalf("report: %v", err)
	}
	if fi, err := os.Stat(report); err != nil || fi.Size() == 0 {
		t.Errorf("report empty or missing: %v", err)
	}
}

func TestPlotProfile(t *testing.T) {
	pf := track.NewPlateauFeature()
	var samples []geom.Pt2f
	for d := float32(0.25); d < 12; d += 0.5 {
		h := float32(100)
		off := d - 6
		if off < 0 {
			off = -off
		}
		if off > 1.5 {
			h += 2 * (off - 1.5)
		}
		samples = append(samples, geom.Pt2f{X: d, Y: h})
	}
	pl := track.NewPlateau(pf, 0)
	if !pl.Detect(samples, false, 0) {
		t.Fatalf("setup fit failed, status %d", pl.Status())
	}
	path := filepath.Join(t.TempDir(), "profile.png")
	if err := PlotProfile(path, samples, pl); err != nil {
		t.Fatalf("plotting: %v", err)
	}
	if err := PlotProfile(filepath.Join(t.TempDir(), "bare.png"), samples, nil); err != nil {
		t.Fatalf("plotting without plateau: %v", err)
	}
}
