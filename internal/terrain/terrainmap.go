// Package terrain assembles per-tile DTM normal maps and shades them. The
// shaded raster is the background of detection images and the input of the
// seed production stages.
package terrain

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/banshee-data/trackline.report/internal/geom"
)

// Shading types.
const (
	ShadeHill = iota
	ShadeSlope
	ShadeExpSlope
)

// NvmSuffix is the normal map tile file suffix.
const NvmSuffix = ".nvm"

const (
	nvmMagic            = 0x4e564d31 // "NVM1"
	lightAngleIncrement = math.Pi / 12
	sqrt22              = 0.7071067811865476
	sqrt32              = 0.8660254037844386
)

// tileEntry is one registered normal map file before assembly.
type tileEntry struct {
	path       string
	cols, rows int
	cellSize   float32
	xmin, ymin int64 // millimetres
}

// TerrainMap is a map of ground normal vectors assembled from NVM or ASC
// tiles.
type TerrainMap struct {
	width, height int
	twidth        int
	theight       int
	cellSize      float32
	xmin, ymin    int64
	nmap          []geom.Pt3f

	shading    int
	lightAngle float32
	lightV1    geom.Pt3f
	lightV2    geom.Pt3f
	lightV3    geom.Pt3f
	slopiness  int

	entries []tileEntry
}

// NewTerrainMap returns an empty map with hill shading and a default
// lighting device.
func NewTerrainMap() *TerrainMap {
	tm := &TerrainMap{shading: ShadeHill, slopiness: 1}
	tm.setLights()
	return tm
}

// Width returns the assembled map width in cells.
func (tm *TerrainMap) Width() int { return tm.width }

// Height returns the assembled map height in cells.
func (tm *TerrainMap) Height() int { return tm.height }

// TileWidth returns one tile's width in cells.
func (tm *TerrainMap) TileWidth() int { return tm.twidth }

// TileHeight returns one tile's height in cells.
func (tm *TerrainMap) TileHeight() int { return tm.theight }

// CellSize returns the cell size in metres.
func (tm *TerrainMap) CellSize() float32 { return tm.cellSize }

// ShadingType returns the current shading type.
func (tm *TerrainMap) ShadingType() int { return tm.shading }

// ToggleShadingType cycles hill, slope, exponential slope.
func (tm *TerrainMap) ToggleShadingType() {
	if tm.shading++; tm.shading > ShadeExpSlope {
		tm.shading = ShadeHill
	}
}

// SetSlopinessFactor sets the exponential slope factor (minimum 1).
func (tm *TerrainMap) SetSlopinessFactor(val int) {
	if val < 1 {
		val = 1
	}
	tm.slopiness = val
}

// SetLightAngle aims the lighting device.
func (tm *TerrainMap) SetLightAngle(val float32) {
	tm.lightAngle = val
	tm.setLights()
}

// IncLightAngle turns the lighting device by val increments.
func (tm *TerrainMap) IncLightAngle(val int) {
	tm.lightAngle += lightAngleIncrement * float32(val)
	if tm.lightAngle < 0 {
		tm.lightAngle += 2 * math.Pi
	} else if tm.lightAngle >= 2*math.Pi {
		tm.lightAngle -= 2 * math.Pi
	}
	tm.setLights()
}

// setLights places three light directions a third of a turn apart.
func (tm *TerrainMap) setLights() {
	ang := float64(tm.lightAngle)
	tm.lightV1 = geom.Pt3f{
		X: -float32(math.Cos(ang) * sqrt22),
		Y: -float32(math.Sin(ang) * sqrt22),
		Z: sqrt22,
	}
	ang += 2 * math.Pi / 3
	tm.lightV2 = geom.Pt3f{
		X: -float32(math.Cos(ang) / 2),
		Y: -float32(math.Sin(ang) / 2),
		Z: sqrt32,
	}
	ang += 2 * math.Pi / 3
	tm.lightV3 = geom.Pt3f{
		X: -float32(math.Cos(ang) / 2),
		Y: -float32(math.Sin(ang) / 2),
		Z: sqrt32,
	}
}

func scalar(a, b geom.Pt3f) float32 {
	return a.X*b.X + a.Y*b.Y + a.Z*b.Z
}

// Get returns the shaded value of cell (i, j) under the given shading
// type.
func (tm *TerrainMap) Get(i, j, shadingType int) int {
	n := tm.nmap[j*tm.width+i]
	switch shadingType {
	case ShadeHill:
		val1 := scalar(tm.lightV1, n)
		if val1 < 0 {
			val1 = 0
		}
		val2 := scalar(tm.lightV2, n)
		if val2 < 0 {
			val2 = 0
		}
		val3 := scalar(tm.lightV3, n)
		if val3 < 0 {
			val3 = 0
		}
		return int((val1 + (val2+val3)/2) * 100)
	case ShadeSlope:
		return 255 - int(math.Sqrt(float64(n.X*n.X+n.Y*n.Y))*255)
	case ShadeExpSlope:
		alph := 1.0 - float64(n.X*n.X) - float64(n.Y*n.Y)
		if alph < 0 {
			alph = 0
		}
		for sl := tm.slopiness; sl > 1; sl-- {
			alph *= alph
		}
		return int(alph * 255)
	}
	return 0
}

// GetDefault returns the shaded value under the current shading type.
func (tm *TerrainMap) GetDefault(i, j int) int {
	return tm.Get(i, j, tm.shading)
}

// AddNormalMapFile registers a normal map tile for assembly; only the
// header is read. Returns an error when the file cannot be opened, its
// header cannot be read, or its magic number is wrong.
func (tm *TerrainMap) AddNormalMapFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var hdr nvmHeader
	if err := binary.Read(f, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("reading header of %s: %w", path, err)
	}
	if hdr.Magic != nvmMagic {
		return fmt.Errorf("%s: bad magic %#x", path, hdr.Magic)
	}
	tm.entries = append(tm.entries, tileEntry{
		path:     path,
		cols:     int(hdr.Cols),
		rows:     int(hdr.Rows),
		cellSize: hdr.CellSize,
		xmin:     hdr.Xmin,
		ymin:     hdr.Ymin,
	})
	return nil
}

type nvmHeader struct {
	Magic      uint32
	Cols, Rows int32
	CellSize   float32
	Xmin, Ymin int64
}

// AssembleMap arranges the registered tiles on a cols x rows grid anchored
// at (xmin, ymin) millimetres and loads their normals.
func (tm *TerrainMap) AssembleMap(cols, rows int, xmin, ymin int64) error {
	if len(tm.entries) == 0 {
		return fmt.Errorf("no normal map registered")
	}
	tm.twidth = tm.entries[0].cols
	tm.theight = tm.entries[0].rows
	tm.cellSize = tm.entries[0].cellSize
	tm.xmin = xmin
	tm.ymin = ymin
	tm.width = cols * tm.twidth
	tm.height = rows * tm.theight
	tm.nmap = make([]geom.Pt3f, tm.width*tm.height)

	twmm := int64(float64(tm.cellSize) * 1000.0 * float64(tm.twidth))
	thmm := int64(float64(tm.cellSize) * 1000.0 * float64(tm.theight))
	for _, e := range tm.entries {
		if e.cols != tm.twidth || e.rows != tm.theight {
			return fmt.Errorf("%s: tile size %dx%d differs from %dx%d",
				e.path, e.cols, e.rows, tm.twidth, tm.theight)
		}
		ti := int((e.xmin - xmin) / twmm)
		tj := int((e.ymin - ymin) / thmm)
		if ti < 0 || ti >= cols || tj < 0 || tj >= rows {
			return fmt.Errorf("%s: tile slot (%d, %d) outside %dx%d grid",
				e.path, ti, tj, cols, rows)
		}
		if err := tm.loadTile(e, ti, tj); err != nil {
			return err
		}
	}
	return nil
}

func (tm *TerrainMap) loadTile(e tileEntry, ti, tj int) error {
	f, err := os.Open(e.path)
	if err != nil {
		return err
	}
	defer f.Close()
	r := bufio.NewReader(f)
	var hdr nvmHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return err
	}
	row := make([]geom.Pt3f, e.cols)
	for j := 0; j < e.rows; j++ {
		if err := binary.Read(r, binary.LittleEndian, row); err != nil {
			return fmt.Errorf("reading normals of %s: %w", e.path, err)
		}
		copy(tm.nmap[(tj*tm.theight+j)*tm.width+ti*tm.twidth:], row)
	}
	return nil
}

// SaveNormalMap writes an assembled region back as one NVM tile; used to
// convert imported ASC grids.
func SaveNormalMap(path string, cols, rows int, cellSize float32, xmin, ymin int64, normals []geom.Pt3f) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	hdr := nvmHeader{nvmMagic, int32(cols), int32(rows), cellSize, xmin, ymin}
	if err := binary.Write(w, binary.LittleEndian, &hdr); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, normals); err != nil {
		return err
	}
	return w.Flush()
}

// ImportASC converts an ASCII grid DTM file into an NVM normal map tile.
// Normals are derived from central height differences; border cells reuse
// their one-sided difference.
func ImportASC(ascPath, nvmPath string) error {
	f, err := os.Open(ascPath)
	if err != nil {
		return err
	}
	defer f.Close()
	cols, rows, cellSize, xll, yll, nodata, heights, err := readASC(f)
	if err != nil {
		return fmt.Errorf("reading %s: %w", ascPath, err)
	}
	normals := heightsToNormals(cols, rows, cellSize, nodata, heights)
	return SaveNormalMap(nvmPath, cols, rows, float32(cellSize),
		int64(xll*1000), int64(yll*1000), normals)
}

func readASC(r io.Reader) (cols, rows int, cellSize, xll, yll, nodata float64, heights []float64, err error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 1024*1024), 1024*1024)
	nodata = -9999
	var data []float64
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		key := strings.ToLower(fields[0])
		switch key {
		case "ncols":
			cols, err = strconv.Atoi(fields[1])
		case "nrows":
			rows, err = strconv.Atoi(fields[1])
		case "cellsize":
			cellSize, err = strconv.ParseFloat(fields[1], 64)
		case "xllcorner":
			xll, err = strconv.ParseFloat(fields[1], 64)
		case "yllcorner":
			yll, err = strconv.ParseFloat(fields[1], 64)
		case "nodata_value":
			nodata, err = strconv.ParseFloat(fields[1], 64)
		default:
			for _, fv := range fields {
				v, perr := strconv.ParseFloat(fv, 64)
				if perr != nil {
					err = perr
					return
				}
				data = append(data, v)
			}
		}
		if err != nil {
			return
		}
	}
	if err = sc.Err(); err != nil {
		return
	}
	if cols <= 0 || rows <= 0 || len(data) != cols*rows {
		err = fmt.Errorf("grid header %dx%d inconsistent with %d values",
			cols, rows, len(data))
		return
	}
	// ASC rows run north to south; flip to keep row 0 at the bottom.
	heights = make([]float64, cols*rows)
	for j := 0; j < rows; j++ {
		copy(heights[j*cols:(j+1)*cols], data[(rows-1-j)*cols:(rows-j)*cols])
	}
	return
}

// heightsToNormals converts a height grid into unit surface normals.
func heightsToNormals(cols, rows int, cellSize, nodata float64, heights []float64) []geom.Pt3f {
	normals := make([]geom.Pt3f, cols*rows)
	at := func(i, j int) float64 {
		if i < 0 {
			i = 0
		} else if i >= cols {
			i = cols - 1
		}
		if j < 0 {
			j = 0
		} else if j >= rows {
			j = rows - 1
		}
		return heights[j*cols+i]
	}
	for j := 0; j < rows; j++ {
		for i := 0; i < cols; i++ {
			h := at(i, j)
			if h == nodata {
				normals[j*cols+i] = geom.Pt3f{Z: 1}
				continue
			}
			dx := (at(i+1, j) - at(i-1, j)) / (2 * cellSize)
			dy := (at(i, j+1) - at(i, j-1)) / (2 * cellSize)
			norm := math.Sqrt(dx*dx + dy*dy + 1)
			normals[j*cols+i] = geom.Pt3f{
				X: float32(-dx / norm),
				Y: float32(-dy / norm),
				Z: float32(1 / norm),
			}
		}
	}
	return normals
}
