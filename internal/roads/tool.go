package roads

import (
	"bufio"
	"fmt"
	"os"

	"github.com/banshee-data/trackline.report/internal/config"
	"github.com/banshee-data/trackline.report/internal/geom"
	"github.com/banshee-data/trackline.report/internal/monitoring"
	"github.com/banshee-data/trackline.report/internal/terrain"
	"github.com/banshee-data/trackline.report/internal/tileset"
	"github.com/banshee-data/trackline.report/internal/track"
)

// SeedOutcome records one processed seed for reporting and persistence.
type SeedOutcome struct {
	Seed   Seed
	Status int
	Tile   int
	Kept   bool
}

// Tool drives the detection over a whole tile set: seeds in, occupancy
// raster and road sections out.
type Tool struct {
	Cfg *config.TuningConfig

	ptset  *tileset.TileSet
	dtm    *terrain.TerrainMap
	detect *track.Detector

	vmWidth, vmHeight int
	iratio            float32

	seeds        *SeedCatalog
	Map          *DetectionMap
	RoadSections []*track.CarriageTrack
	Outcomes     []SeedOutcome
	SucSeeds     []Seed

	bufCreated bool
}

// NewTool wires a coordinator from its configuration.
func NewTool(cfg *config.TuningConfig) *Tool {
	return &Tool{Cfg: cfg}
}

// Detector returns the underlying track detector, creating it on first
// use with the nominal production settings.
func (t *Tool) Detector() *track.Detector {
	if t.detect == nil {
		t.detect = track.NewDetector()
		t.detect.SetPlateauLackTolerance(track.NominalPlateauLackTolerance)
		t.detect.SetMaxShiftLength(track.NominalMaxShiftLength)
		if t.detect.IsInitializationOn() {
			t.detect.SwitchInitialization()
		}
		t.detect.SetAutomatic(true)
		t.Cfg.ApplyToDetector(t.detect)
		if t.ptset != nil {
			t.detect.SetPointsGrid(t.ptset, t.vmWidth, t.vmHeight,
				t.Cfg.GetSubDiv(), t.Cfg.GetCellSize())
		}
	}
	return t.detect
}

// LoadTileSet reads the tile list file: one tile nickname per line,
// resolved against the nvm and til directories. Only tile headers are read
// here; ProcessASD loads the point payloads, all at once when the buffer
// size is zero and tile by tile otherwise.
func (t *Tool) LoadTileSet(tilesPath, nvmDir, tilDir string, dtmOn bool) error {
	f, err := os.Open(tilesPath)
	if err != nil {
		return fmt.Errorf("no tile list: %w", err)
	}
	defer f.Close()

	if dtmOn {
		t.dtm = terrain.NewTerrainMap()
	}
	t.ptset = tileset.NewTileSet(t.Cfg.GetBufferSize())
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		name := sc.Text()
		if name == "" {
			continue
		}
		if dtmOn {
			nvm := nvmDir + "/" + name + terrain.NvmSuffix
			if err := t.dtm.AddNormalMapFile(nvm); err != nil {
				return err
			}
			monitoring.Logf("reading %s", nvm)
		}
		til := tilDir + "/" + name + tileset.TileSuffix
		if err := t.ptset.AddTile(til, false); err != nil {
			return fmt.Errorf("header of %s inconsistent: %w", til, err)
		}
		monitoring.Logf("reading %s", til)
	}
	if err := sc.Err(); err != nil {
		return err
	}
	if err := t.ptset.Create(); err != nil {
		return err
	}
	monitoring.Logf("%d points in the whole tile set", t.ptset.Size())

	t.vmWidth = t.ptset.CellsWide() / t.Cfg.GetSubDiv()
	t.vmHeight = t.ptset.CellsHigh() / t.Cfg.GetSubDiv()
	if dtmOn {
		if err := t.dtm.AssembleMap(t.ptset.ColumnsOfTiles(),
			t.ptset.RowsOfTiles(), t.ptset.Xref(), t.ptset.Yref()); err != nil {
			return err
		}
		t.vmWidth = t.dtm.Width()
		t.vmHeight = t.dtm.Height()
	}
	t.iratio = float32(t.vmWidth) / t.ptset.XmSpread() * t.Cfg.GetCellSize()
	if t.detect != nil {
		t.detect.SetPointsGrid(t.ptset, t.vmWidth, t.vmHeight,
			t.Cfg.GetSubDiv(), t.Cfg.GetCellSize())
	}
	return nil
}

// TileSet returns the loaded point store.
func (t *Tool) TileSet() *tileset.TileSet { return t.ptset }

// Terrain returns the assembled DTM, nil when loaded without it.
func (t *Tool) Terrain() *terrain.TerrainMap { return t.dtm }

// MapSize returns the detection raster dimensions.
func (t *Tool) MapSize() (int, int) { return t.vmWidth, t.vmHeight }

// SetSeeds installs the seed catalog to process.
func (t *Tool) SetSeeds(seeds *SeedCatalog) { t.seeds = seeds }

// isConnected stands for an adjacency test of the track scans in the
// non-buffered path.
// TODO: test 4-adjacency between consecutive scans instead of passing
// everything through.
func (t *Tool) isConnected(pts [][]geom.Pt2i) bool {
	return true
}

// ProcessASD walks the seed catalog tile by tile, suppressing seeds whose
// centre is already covered, and paints each accepted track on the
// detection map. Buffered tile sets are traversed through NextTile, others
// in boustrophedon order.
func (t *Tool) ProcessASD(export bool) error {
	monitoring.Logf("ASD ...")
	if t.seeds == nil {
		return fmt.Errorf("no seed catalog loaded")
	}
	num := 0
	unused := 0
	if t.Cfg.GetBufferSize() == 0 {
		if !t.ptset.LoadPoints() {
			return fmt.Errorf("tiles cannot be loaded")
		}
	}
	cot := t.ptset.ColumnsOfTiles()
	rot := t.ptset.RowsOfTiles()
	t.Map = NewDetectionMap(t.vmWidth, t.vmHeight)
	t.RoadSections = t.RoadSections[:0]
	t.Outcomes = t.Outcomes[:0]
	t.SucSeeds = t.SucSeeds[:0]
	det := t.Detector()

	processTile := func(k int, connected bool) {
		seeds := t.seeds.TileSeeds(k)
		monitoring.Logf("  --> tile %d (%d, %d): %d seeds",
			k, k%cot, k/cot, len(seeds))
		for _, s := range seeds {
			if t.Map.Occupied(s.Center()) {
				unused++
				continue
			}
			ct := det.Detect(s.P1, s.P2)
			outcome := SeedOutcome{Seed: s, Status: det.Status(), Tile: k}
			if ct != nil && ct.Plateau(0) != nil {
				var pts [][]geom.Pt2i
				if t.Cfg.IsConnectedOut() {
					ct.GetConnectedPoints(&pts, true, t.vmWidth, t.vmHeight, t.iratio)
				} else {
					ct.GetPoints(&pts, true, t.vmWidth, t.vmHeight, t.iratio)
				}
				if !connected || t.isConnected(pts) {
					if t.Map.Add(pts) {
						outcome.Kept = true
						t.SucSeeds = append(t.SucSeeds, s)
						if export {
							t.RoadSections = append(t.RoadSections, ct)
							det.PreserveDetection()
						}
					}
				}
				num++
			}
			t.Outcomes = append(t.Outcomes, outcome)
		}
	}

	if t.Cfg.GetBufferSize() != 0 {
		if !t.bufCreated {
			t.ptset.CreateBuffers()
			t.bufCreated = true
		}
		for k := t.ptset.NextTile(); k != -1; k = t.ptset.NextTile() {
			processTile(k, false)
			if det.GetOuts() != 0 {
				monitoring.Logf("  %d requests outside", det.GetOuts())
			}
			det.ResetOuts()
		}
	} else {
		for j := 0; j < rot; j++ {
			for i := 0; i < cot; i++ {
				k := j*cot + i
				if j%2 != 0 {
					k = j*cot + cot - 1 - i
				}
				processTile(k, true)
			}
		}
	}
	monitoring.Logf("ASD OK : %d roads and %d unused seeds", num, unused)
	return nil
}

// cellToMetres converts a map pixel to survey metres.
func (t *Tool) cellToMetres(p geom.Pt2i) (float64, float64) {
	cs := float64(t.Cfg.GetCellSize())
	return float64(t.ptset.Xref())/1000.0 + (float64(p.X)+0.5)*cs,
		float64(t.ptset.Yref())/1000.0 + (float64(p.Y)+0.5)*cs
}

// ExportRoadCenters writes the centerline of every kept road section as a
// text polyline file: one "x y" metre pair per line, blank line between
// sections.
func (t *Tool) ExportRoadCenters(path string) error {
	return t.exportPositions(path, track.DispCenter)
}

// ExportRoadBounds writes both road borders of every kept section.
func (t *Tool) ExportRoadBounds(path string) error {
	return t.exportPositions(path, track.DispScans)
}

func (t *Tool) exportPositions(path string, mode int) error {
	if len(t.RoadSections) == 0 {
		return nil
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	for _, ct := range t.RoadSections {
		var pts, pts2 []geom.Pt2i
		ct.GetPosition(&pts, &pts2, mode, t.iratio, true)
		for _, p := range pts {
			x, y := t.cellToMetres(p)
			fmt.Fprintf(w, "%.3f %.3f\n", x, y)
		}
		// The second border runs back so the two close into a ring.
		for i := len(pts2) - 1; i >= 0; i-- {
			x, y := t.cellToMetres(pts2[i])
			fmt.Fprintf(w, "%.3f %.3f\n", x, y)
		}
		fmt.Fprintln(w)
	}
	return w.Flush()
}

// SaveSuccessfulSeeds writes the seeds that produced a kept road, in
// survey metres.
func (t *Tool) SaveSuccessfulSeeds(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	for _, s := range t.SucSeeds {
		x1, y1 := t.cellToMetres(s.P1)
		x2, y2 := t.cellToMetres(s.P2)
		fmt.Fprintf(w, "%.3f %.3f %.3f %.3f\n", x1, y1, x2, y2)
	}
	return w.Flush()
}

// SaveRoadImage renders the detection map, over the shaded DTM when one is
// loaded.
func (t *Tool) SaveRoadImage(path string) error {
	if t.Map == nil {
		return fmt.Errorf("no detection map")
	}
	var bg func(i, j int) int
	if t.dtm != nil {
		bg = func(i, j int) int { return t.dtm.Get(i, j, terrain.ShadeHill) }
	}
	return t.Map.SaveImage(path, bg)
}

// SaveShadingImage renders the shaded DTM alone.
func (t *Tool) SaveShadingImage(path string, shading int) error {
	if t.dtm == nil {
		return fmt.Errorf("no DTM loaded")
	}
	empty := NewDetectionMap(t.vmWidth, t.vmHeight)
	return empty.SaveImage(path, func(i, j int) int {
		return t.dtm.Get(i, j, shading)
	})
}
