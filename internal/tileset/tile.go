// Package tileset stores classified LiDAR ground points in a grid of
// tiles, each tile a regular array of small planar cells. Lookups are by
// cell so a directional scan can gather the returns under each of its
// pixels; tiles load eagerly or through a bounded buffer.
package tileset

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/banshee-data/trackline.report/internal/geom"
)

// TileSuffix is the point tile file suffix.
const TileSuffix = ".til"

// tileMagic marks a point tile file header.
const tileMagic = 0x5054494c // "PTIL"

// Tile is one point tile: a cols x rows array of cells, each holding the
// ground returns whose planar position falls inside it. Point coordinates
// are millimetres; x and y are offsets from the tile corner, z is absolute.
type Tile struct {
	Cols, Rows int
	CellSize   float32 // metres
	Xmin, Ymin int64   // millimetres

	// Per-cell start index into the point array; len = Cols*Rows+1.
	index []int32
	// Packed points, cell by cell in row-major order.
	px, py, pz []int32

	// Per-point track labels, allocated on demand in labelling mode.
	labels []bool

	headerPoints int
	loaded       bool
}

// NbPoints returns the number of points held by the tile; before the
// payload is resident the header count is reported.
func (t *Tile) NbPoints() int {
	if !t.loaded {
		return t.headerPoints
	}
	return len(t.px)
}

// Loaded reports whether the point payload is resident.
func (t *Tile) Loaded() bool { return t.loaded }

// CellPoints appends the points of local cell (i, j) to out as absolute
// metre coordinates.
func (t *Tile) CellPoints(i, j int, out *[]geom.Pt3f) {
	k := j*t.Cols + i
	for n := t.index[k]; n < t.index[k+1]; n++ {
		*out = append(*out, geom.Pt3f{
			X: float32(t.Xmin+int64(t.px[n])) / 1000.0,
			Y: float32(t.Ymin+int64(t.py[n])) / 1000.0,
			Z: float32(t.pz[n]) / 1000.0,
		})
	}
}

// ReadHeader reads only the tile header, leaving the payload on disk.
func ReadHeader(path string) (*Tile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	t := &Tile{}
	if err := t.readHeader(f); err != nil {
		return nil, fmt.Errorf("reading header of %s: %w", path, err)
	}
	return t, nil
}

func (t *Tile) readHeader(r io.Reader) error {
	var hdr struct {
		Magic      uint32
		Cols, Rows int32
		CellSize   float32
		Xmin, Ymin int64
		NbPoints   int64
	}
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return err
	}
	if hdr.Magic != tileMagic {
		return fmt.Errorf("bad magic %#x", hdr.Magic)
	}
	if hdr.Cols <= 0 || hdr.Rows <= 0 || hdr.CellSize <= 0 {
		return fmt.Errorf("inconsistent header (%d x %d cells, cell size %f)",
			hdr.Cols, hdr.Rows, hdr.CellSize)
	}
	t.Cols = int(hdr.Cols)
	t.Rows = int(hdr.Rows)
	t.CellSize = hdr.CellSize
	t.Xmin = hdr.Xmin
	t.Ymin = hdr.Ymin
	t.headerPoints = int(hdr.NbPoints)
	t.px = nil
	t.py = nil
	t.pz = nil
	t.index = nil
	t.loaded = false
	return nil
}

// Load reads the full tile, header and point payload.
func (t *Tile) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	r := bufio.NewReader(f)
	if err := t.readHeader(r); err != nil {
		return fmt.Errorf("reading header of %s: %w", path, err)
	}
	nc := t.Cols * t.Rows
	t.index = make([]int32, nc+1)
	if err := binary.Read(r, binary.LittleEndian, t.index); err != nil {
		return fmt.Errorf("reading cell index of %s: %w", path, err)
	}
	np := int(t.index[nc])
	t.px = make([]int32, np)
	t.py = make([]int32, np)
	t.pz = make([]int32, np)
	for _, arr := range [][]int32{t.px, t.py, t.pz} {
		if err := binary.Read(r, binary.LittleEndian, arr); err != nil {
			return fmt.Errorf("reading points of %s: %w", path, err)
		}
	}
	t.loaded = true
	return nil
}

// Release drops the point payload, keeping the header.
func (t *Tile) Release() {
	t.index = nil
	t.px = nil
	t.py = nil
	t.pz = nil
	t.labels = nil
	t.loaded = false
}

// Save writes the tile, header and payload.
func (t *Tile) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	hdr := struct {
		Magic      uint32
		Cols, Rows int32
		CellSize   float32
		Xmin, Ymin int64
		NbPoints   int64
	}{tileMagic, int32(t.Cols), int32(t.Rows), t.CellSize,
		t.Xmin, t.Ymin, int64(len(t.px))}
	if err := binary.Write(w, binary.LittleEndian, &hdr); err != nil {
		return err
	}
	for _, arr := range [][]int32{t.index, t.px, t.py, t.pz} {
		if err := binary.Write(w, binary.LittleEndian, arr); err != nil {
			return err
		}
	}
	return w.Flush()
}

// BuildTile bins metre-coordinate points into a new tile with the given
// corner and cell layout. Points outside the tile area are dropped.
func BuildTile(cols, rows int, cellSize float32, xmin, ymin int64, pts []geom.Pt3f) *Tile {
	t := &Tile{Cols: cols, Rows: rows, CellSize: cellSize, Xmin: xmin, Ymin: ymin}
	cellMM := float64(cellSize) * 1000.0
	counts := make([]int32, cols*rows)
	type binned struct {
		cell       int
		px, py, pz int32
	}
	kept := make([]binned, 0, len(pts))
	for _, p := range pts {
		pxmm := int64(float64(p.X) * 1000.0)
		pymm := int64(float64(p.Y) * 1000.0)
		i := int(float64(pxmm-t.Xmin) / cellMM)
		j := int(float64(pymm-t.Ymin) / cellMM)
		if i < 0 || i >= cols || j < 0 || j >= rows {
			continue
		}
		cell := j*cols + i
		counts[cell]++
		kept = append(kept, binned{cell,
			int32(pxmm - t.Xmin), int32(pymm - t.Ymin),
			int32(float64(p.Z) * 1000.0)})
	}
	t.index = make([]int32, cols*rows+1)
	for c, n := range counts {
		t.index[c+1] = t.index[c] + n
	}
	np := int(t.index[cols*rows])
	t.px = make([]int32, np)
	t.py = make([]int32, np)
	t.pz = make([]int32, np)
	fill := make([]int32, cols*rows)
	for _, b := range kept {
		at := t.index[b.cell] + fill[b.cell]
		fill[b.cell]++
		t.px[at] = b.px
		t.py[at] = b.py
		t.pz[at] = b.pz
	}
	t.loaded = true
	return t
}

// ImportXYZ converts an ASCII "x y z" point file (metres) into a tile file
// with the given corner and layout.
func ImportXYZ(xyzPath, tilPath string, cols, rows int, cellSize float32, xmin, ymin int64) error {
	f, err := os.Open(xyzPath)
	if err != nil {
		return err
	}
	defer f.Close()
	var pts []geom.Pt3f
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 1024*1024), 1024*1024)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 3 {
			continue
		}
		x, err1 := strconv.ParseFloat(fields[0], 64)
		y, err2 := strconv.ParseFloat(fields[1], 64)
		z, err3 := strconv.ParseFloat(fields[2], 64)
		if err1 != nil || err2 != nil || err3 != nil {
			continue
		}
		pts = append(pts, geom.Pt3f{X: float32(x), Y: float32(y), Z: float32(z)})
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("reading %s: %w", xyzPath, err)
	}
	return BuildTile(cols, rows, cellSize, xmin, ymin, pts).Save(tilPath)
}
