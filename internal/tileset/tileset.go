package tileset

import (
	"fmt"

	"github.com/banshee-data/trackline.report/internal/geom"
)

// TileSet is a spatially arranged set of point tiles addressed by global
// cell coordinates. Tiles are indexed row-major; the set either holds every
// payload resident or keeps at most bufferSize of them through a
// boustrophedon traversal.
type TileSet struct {
	tiles      []*Tile
	paths      []string
	cot, rot   int   // columns and rows of tiles
	xref, yref int64 // lower-left corner, millimetres
	tcols      int   // cells per tile, x
	trows      int   // cells per tile, y
	cellSize   float32
	nbPoints   int

	bufferSize int
	buffered   bool
	traversal  int // next boustrophedon rank to serve
	resident   []int

	labelling bool
}

// NewTileSet returns an empty set. A bufferSize of zero keeps every loaded
// tile resident.
func NewTileSet(bufferSize int) *TileSet {
	return &TileSet{bufferSize: bufferSize}
}

// AddTile registers a tile file. The payload is read at once when loadNow
// is set, otherwise only the header. Returns an error when the header is
// inconsistent with previously added tiles.
func (ts *TileSet) AddTile(path string, loadNow bool) error {
	t, err := ReadHeader(path)
	if err != nil {
		return err
	}
	if len(ts.tiles) != 0 {
		if t.Cols != ts.tcols || t.Rows != ts.trows || t.CellSize != ts.cellSize {
			return fmt.Errorf("tile %s layout (%dx%d, %f) differs from set (%dx%d, %f)",
				path, t.Cols, t.Rows, t.CellSize, ts.tcols, ts.trows, ts.cellSize)
		}
	} else {
		ts.tcols = t.Cols
		ts.trows = t.Rows
		ts.cellSize = t.CellSize
	}
	if loadNow {
		if err := t.Load(path); err != nil {
			return err
		}
	}
	ts.tiles = append(ts.tiles, t)
	ts.paths = append(ts.paths, path)
	return nil
}

// Create arranges the added tiles on their grid. Must be called once after
// the last AddTile and before any lookup.
func (ts *TileSet) Create() error {
	if len(ts.tiles) == 0 {
		return fmt.Errorf("no tile in the set")
	}
	ts.xref = ts.tiles[0].Xmin
	ts.yref = ts.tiles[0].Ymin
	xmax, ymax := ts.xref, ts.yref
	for _, t := range ts.tiles {
		if t.Xmin < ts.xref {
			ts.xref = t.Xmin
		}
		if t.Ymin < ts.yref {
			ts.yref = t.Ymin
		}
		if t.Xmin > xmax {
			xmax = t.Xmin
		}
		if t.Ymin > ymax {
			ymax = t.Ymin
		}
	}
	twmm := ts.tileWidthMM()
	thmm := ts.tileHeightMM()
	ts.cot = int((xmax-ts.xref)/twmm) + 1
	ts.rot = int((ymax-ts.yref)/thmm) + 1

	arranged := make([]*Tile, ts.cot*ts.rot)
	arrangedPaths := make([]string, ts.cot*ts.rot)
	ts.nbPoints = 0
	for n, t := range ts.tiles {
		i := int((t.Xmin - ts.xref) / twmm)
		j := int((t.Ymin - ts.yref) / thmm)
		k := j*ts.cot + i
		if arranged[k] != nil {
			return fmt.Errorf("tiles %s and %s share slot (%d, %d)",
				arrangedPaths[k], ts.paths[n], i, j)
		}
		arranged[k] = t
		arrangedPaths[k] = ts.paths[n]
		ts.nbPoints += t.NbPoints()
	}
	ts.tiles = arranged
	ts.paths = arrangedPaths
	return nil
}

func (ts *TileSet) tileWidthMM() int64 {
	return int64(float64(ts.cellSize) * 1000.0 * float64(ts.tcols))
}

func (ts *TileSet) tileHeightMM() int64 {
	return int64(float64(ts.cellSize) * 1000.0 * float64(ts.trows))
}

// ColumnsOfTiles returns the tile grid width.
func (ts *TileSet) ColumnsOfTiles() int { return ts.cot }

// RowsOfTiles returns the tile grid height.
func (ts *TileSet) RowsOfTiles() int { return ts.rot }

// Xref returns the set's leftmost coordinate in millimetres.
func (ts *TileSet) Xref() int64 { return ts.xref }

// Yref returns the set's lower coordinate in millimetres.
func (ts *TileSet) Yref() int64 { return ts.yref }

// CellSize returns the planar cell size in metres.
func (ts *TileSet) CellSize() float32 { return ts.cellSize }

// Size returns the total number of points declared by tile headers.
func (ts *TileSet) Size() int { return ts.nbPoints }

// XmSpread returns the set's width in metres.
func (ts *TileSet) XmSpread() float32 {
	return float32(ts.cot) * ts.cellSize * float32(ts.tcols)
}

// CellsWide returns the total cell columns of the set.
func (ts *TileSet) CellsWide() int { return ts.cot * ts.tcols }

// CellsHigh returns the total cell rows of the set.
func (ts *TileSet) CellsHigh() int { return ts.rot * ts.trows }

// IsLoaded reports whether tile k exists and has its payload resident.
func (ts *TileSet) IsLoaded(k int) bool {
	return k >= 0 && k < len(ts.tiles) && ts.tiles[k] != nil && ts.tiles[k].Loaded()
}

// LoadPoints brings every tile payload resident (non-buffered mode).
func (ts *TileSet) LoadPoints() bool {
	for k, t := range ts.tiles {
		if t == nil || t.Loaded() {
			continue
		}
		if err := t.Load(ts.paths[k]); err != nil {
			return false
		}
	}
	return true
}

// CreateBuffers enters buffered mode: payloads are loaded on demand by
// NextTile and at most bufferSize tiles stay resident.
func (ts *TileSet) CreateBuffers() {
	ts.buffered = true
	ts.traversal = 0
	ts.resident = ts.resident[:0]
}

// boustrophedon returns the tile index of traversal rank n, following rows
// alternately left-to-right and right-to-left so successive tiles stay
// spatial neighbours.
func (ts *TileSet) boustrophedon(n int) int {
	j := n / ts.cot
	i := n % ts.cot
	if j%2 != 0 {
		i = ts.cot - 1 - i
	}
	return j*ts.cot + i
}

// NextTile loads the next tile of the buffered traversal together with its
// neighbours and returns its index, or -1 when the traversal is done.
func (ts *TileSet) NextTile() int {
	for ts.traversal < ts.cot*ts.rot {
		k := ts.boustrophedon(ts.traversal)
		ts.traversal++
		if ts.tiles[k] == nil {
			continue
		}
		i := k % ts.cot
		j := k / ts.cot
		for dj := -1; dj <= 1; dj++ {
			for di := -1; di <= 1; di++ {
				ni, nj := i+di, j+dj
				if ni < 0 || ni >= ts.cot || nj < 0 || nj >= ts.rot {
					continue
				}
				ts.ensureResident(nj*ts.cot + ni)
			}
		}
		return k
	}
	return -1
}

func (ts *TileSet) ensureResident(k int) {
	t := ts.tiles[k]
	if t == nil || t.Loaded() {
		return
	}
	if err := t.Load(ts.paths[k]); err != nil {
		return
	}
	ts.resident = append(ts.resident, k)
	if ts.bufferSize > 0 && len(ts.resident) > ts.bufferSize {
		old := ts.resident[0]
		ts.resident = ts.resident[1:]
		ts.tiles[old].Release()
	}
}

// locate maps a global cell to its tile and local cell. The second result
// is false when the cell lies under no loaded tile.
func (ts *TileSet) locate(i, j int) (*Tile, int, int, bool) {
	if i < 0 || j < 0 || i >= ts.cot*ts.tcols || j >= ts.rot*ts.trows {
		return nil, 0, 0, false
	}
	k := (j/ts.trows)*ts.cot + i/ts.tcols
	t := ts.tiles[k]
	if t == nil || !t.Loaded() {
		return nil, 0, 0, false
	}
	return t, i % ts.tcols, j % ts.trows, true
}

// CollectPoints appends every point of global cell (i, j) to out. Returns
// false when the cell's tile is absent or not resident; the caller counts
// such misses, they are not errors.
func (ts *TileSet) CollectPoints(out *[]geom.Pt3f, i, j int) bool {
	t, li, lj, ok := ts.locate(i, j)
	if !ok {
		return false
	}
	t.CellPoints(li, lj, out)
	return true
}

// EnableLabelling switches the set into labelling mode; point labels are
// then tracked per tile.
func (ts *TileSet) EnableLabelling() {
	ts.labelling = true
}

// CollectPointsAndLabels appends the points of global cell (i, j) to out
// together with, per point, its tile index and point index for later
// labelling. Returns false outside loaded tiles.
func (ts *TileSet) CollectPointsAndLabels(out *[]geom.Pt3f, tls, lbs *[]int, i, j int) bool {
	t, li, lj, ok := ts.locate(i, j)
	if !ok {
		return false
	}
	k := (j/ts.trows)*ts.cot + i/ts.tcols
	t.CellPoints(li, lj, out)
	cell := lj*t.Cols + li
	for n := t.index[cell]; n < t.index[cell+1]; n++ {
		*tls = append(*tls, k)
		*lbs = append(*lbs, int(n))
	}
	return true
}

// LabelAsTrack marks one point of one tile as belonging to a detected
// track.
func (ts *TileSet) LabelAsTrack(tileIdx, pointIdx int) {
	if tileIdx < 0 || tileIdx >= len(ts.tiles) || ts.tiles[tileIdx] == nil {
		return
	}
	t := ts.tiles[tileIdx]
	if t.labels == nil {
		t.labels = make([]bool, t.NbPoints())
	}
	if pointIdx >= 0 && pointIdx < len(t.labels) {
		t.labels[pointIdx] = true
	}
}

// LabelledPoints returns the labelled points of tile k in metres.
func (ts *TileSet) LabelledPoints(k int) []geom.Pt3f {
	if k < 0 || k >= len(ts.tiles) || ts.tiles[k] == nil {
		return nil
	}
	t := ts.tiles[k]
	if t.labels == nil {
		return nil
	}
	var pts []geom.Pt3f
	for n := range t.labels {
		if !t.labels[n] {
			continue
		}
		pts = append(pts, geom.Pt3f{
			X: float32(t.Xmin+int64(t.px[n])) / 1000.0,
			Y: float32(t.Ymin+int64(t.py[n])) / 1000.0,
			Z: float32(t.pz[n]) / 1000.0,
		})
	}
	return pts
}
