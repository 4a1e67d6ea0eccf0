package tileset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/banshee-data/trackline.report/internal/geom"
)

// gridPoints lays one point per cell over a cols x rows tile anchored at
// (xmin, ymin) millimetres, height rising with the column.
func gridPoints(cols, rows int, cellSize float32, xmin, ymin int64) []geom.Pt3f {
	var pts []geom.Pt3f
	for j := 0; j < rows; j++ {
		for i := 0; i < cols; i++ {
			pts = append(pts, geom.Pt3f{
				X: float32(xmin)/1000 + (float32(i)+0.5)*cellSize,
				Y: float32(ymin)/1000 + (float32(j)+0.5)*cellSize,
				Z: 100 + float32(i)*0.1,
			})
		}
	}
	return pts
}

func writeTile(t *testing.T, dir string, name string, cols, rows int, xmin, ymin int64) string {
	t.Helper()
	path := filepath.Join(dir, name)
	tile := BuildTile(cols, rows, 0.5, xmin, ymin, gridPoints(cols, rows, 0.5, xmin, ymin))
	if err := tile.Save(path); err != nil {
		t.Fatalf("saving tile: %v", err)
	}
	return path
}

func TestTileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := writeTile(t, dir, "a.til", 10, 10, 2000, 4000)

	var tile Tile
	if err := tile.Load(path); err != nil {
		t.Fatalf("loading tile: %v", err)
	}
	if tile.Cols != 10 || tile.Rows != 10 {
		t.Fatalf("tile layout %dx%d, want 10x10", tile.Cols, tile.Rows)
	}
	if tile.NbPoints() != 100 {
		t.Errorf("tile holds %d points, want 100", tile.NbPoints())
	}
	var out []geom.Pt3f
	tile.CellPoints(3, 7, &out)
	if len(out) != 1 {
		t.Fatalf("cell (3,7) holds %d points, want 1", len(out))
	}
	wantX := float32(2.0) + 3.5*0.5
	if out[0].X < wantX-0.01 || out[0].X > wantX+0.01 {
		t.Errorf("point x = %f, want %f", out[0].X, wantX)
	}
}

func TestTileSetArrangementAndLookup(t *testing.T) {
	dir := t.TempDir()
	// A 2x1 grid of 10x10 half-metre tiles: 5 m per tile edge.
	pathA := writeTile(t, dir, "a.til", 10, 10, 0, 0)
	pathB := writeTile(t, dir, "b.til", 10, 10, 5000, 0)

	ts := NewTileSet(0)
	for _, p := range []string{pathB, pathA} {
		if err := ts.AddTile(p, true); err != nil {
			t.Fatalf("adding %s: %v", p, err)
		}
	}
	if err := ts.Create(); err != nil {
		t.Fatalf("creating set: %v", err)
	}
	if ts.ColumnsOfTiles() != 2 || ts.RowsOfTiles() != 1 {
		t.Fatalf("tile grid %dx%d, want 2x1", ts.ColumnsOfTiles(), ts.RowsOfTiles())
	}
	if ts.Xref() != 0 || ts.Yref() != 0 {
		t.Errorf("origin (%d, %d), want (0, 0)", ts.Xref(), ts.Yref())
	}
	if ts.Size() != 200 {
		t.Errorf("set size %d, want 200", ts.Size())
	}

	// A cell of the second tile.
	var out []geom.Pt3f
	if !ts.CollectPoints(&out, 12, 4) {
		t.Fatal("lookup in the second tile failed")
	}
	if len(out) != 1 {
		t.Fatalf("cell (12,4) holds %d points, want 1", len(out))
	}
	// Outside any tile: not an error, just false.
	out = out[:0]
	if ts.CollectPoints(&out, 25, 4) {
		t.Error("lookup outside the set returned true")
	}
}

func TestTileSetBufferedTraversal(t *testing.T) {
	dir := t.TempDir()
	paths := []string{
		writeTile(t, dir, "a.til", 10, 10, 0, 0),
		writeTile(t, dir, "b.til", 10, 10, 5000, 0),
		writeTile(t, dir, "c.til", 10, 10, 0, 5000),
		writeTile(t, dir, "d.til", 10, 10, 5000, 5000),
	}
	ts := NewTileSet(9)
	for _, p := range paths {
		if err := ts.AddTile(p, false); err != nil {
			t.Fatalf("adding %s: %v", p, err)
		}
	}
	if err := ts.Create(); err != nil {
		t.Fatalf("creating set: %v", err)
	}
	if ts.IsLoaded(0) {
		t.Error("tile resident before any traversal")
	}
	ts.CreateBuffers()
	// Boustrophedon order over a 2x2 grid: 0, 1, 3, 2.
	want := []int{0, 1, 3, 2}
	for i, w := range want {
		k := ts.NextTile()
		if k != w {
			t.Fatalf("traversal step %d returned tile %d, want %d", i, k, w)
		}
		if !ts.IsLoaded(k) {
			t.Errorf("tile %d not resident after NextTile", k)
		}
		var out []geom.Pt3f
		if !ts.CollectPoints(&out, (k%2)*10+2, (k/2)*10+2) {
			t.Errorf("lookup in freshly loaded tile %d failed", k)
		}
	}
	if k := ts.NextTile(); k != -1 {
		t.Errorf("exhausted traversal returned %d, want -1", k)
	}
}

func TestLabelling(t *testing.T) {
	dir := t.TempDir()
	path := writeTile(t, dir, "a.til", 10, 10, 0, 0)
	ts := NewTileSet(0)
	if err := ts.AddTile(path, true); err != nil {
		t.Fatal(err)
	}
	if err := ts.Create(); err != nil {
		t.Fatal(err)
	}
	ts.EnableLabelling()
	var out []geom.Pt3f
	var tls, lbs []int
	if !ts.CollectPointsAndLabels(&out, &tls, &lbs, 4, 4) {
		t.Fatal("labelled lookup failed")
	}
	if len(out) != 1 || len(tls) != 1 || len(lbs) != 1 {
		t.Fatalf("labelled lookup sizes %d/%d/%d, want 1/1/1",
			len(out), len(tls), len(lbs))
	}
	ts.LabelAsTrack(tls[0], lbs[0])
	labelled := ts.LabelledPoints(tls[0])
	if len(labelled) != 1 {
		t.Fatalf("labelled point count %d, want 1", len(labelled))
	}
	if labelled[0].X != out[0].X || labelled[0].Y != out[0].Y {
		t.Errorf("labelled point %v differs from collected %v", labelled[0], out[0])
	}
}

func TestImportXYZ(t *testing.T) {
	dir := t.TempDir()
	xyz := filepath.Join(dir, "pts.xyz")
	til := filepath.Join(dir, "pts.til")
	content := "1.25 1.75 100.5\n2.25 0.25 101.0\nbad line\n"
	if err := os.WriteFile(xyz, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := ImportXYZ(xyz, til, 10, 10, 0.5, 0, 0); err != nil {
		t.Fatalf("import failed: %v", err)
	}
	var tile Tile
	if err := tile.Load(til); err != nil {
		t.Fatal(err)
	}
	if tile.NbPoints() != 2 {
		t.Errorf("imported %d points, want 2", tile.NbPoints())
	}
	var out []geom.Pt3f
	tile.CellPoints(2, 3, &out)
	if len(out) != 1 {
		t.Errorf("cell (2,3) holds %d points, want the 1.25/1.75 return", len(out))
	}
}
