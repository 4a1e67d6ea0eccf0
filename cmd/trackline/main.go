// Command trackline extracts forest road centerlines and bounds from
// airborne LiDAR tiles. Subcommands cover tile imports, DTM shading, seed
// stroke generation and the detection run itself.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/trackline.report/internal/config"
	"github.com/banshee-data/trackline.report/internal/monitoring"
	"github.com/banshee-data/trackline.report/internal/roads"
	"github.com/banshee-data/trackline.report/internal/roads/roadsdb"
	"github.com/banshee-data/trackline.report/internal/terrain"
	"github.com/banshee-data/trackline.report/internal/tileset"
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: trackline <command> [flags]

commands:
  import-dtm   convert an ASC grid DTM into a normal map tile
  import-xyz   convert an XYZ point file into a point tile
  shade        render the shaded DTM of a tile set
  seeds        slice detected segments into seed strokes
  detect       run the road detection over a tile set
`)
	os.Exit(2)
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmsgprefix)
	log.SetPrefix("trackline: ")
	if len(os.Args) < 2 {
		usage()
	}
	var err error
	switch os.Args[1] {
	case "import-dtm":
		err = runImportDtm(os.Args[2:])
	case "import-xyz":
		err = runImportXyz(os.Args[2:])
	case "shade":
		err = runShade(os.Args[2:])
	case "seeds":
		err = runSeeds(os.Args[2:])
	case "detect":
		err = runDetect(os.Args[2:])
	default:
		usage()
	}
	if err != nil {
		log.Fatal(err)
	}
}

func loadConfig(path string) (*config.TuningConfig, error) {
	if path == "" {
		return config.EmptyTuningConfig(), nil
	}
	return config.LoadTuningConfig(path)
}

func runImportDtm(args []string) error {
	fs := flag.NewFlagSet("import-dtm", flag.ExitOnError)
	asc := fs.String("asc", "", "input ASC grid file")
	nvm := fs.String("nvm", "", "output normal map tile")
	fs.Parse(args)
	if *asc == "" || *nvm == "" {
		return fmt.Errorf("import-dtm needs -asc and -nvm")
	}
	return terrain.ImportASC(*asc, *nvm)
}

func runImportXyz(args []string) error {
	fs := flag.NewFlagSet("import-xyz", flag.ExitOnError)
	xyz := fs.String("xyz", "", "input x y z text file")
	til := fs.String("til", "", "output point tile")
	cols := fs.Int("cols", 5000, "tile cell columns")
	rows := fs.Int("rows", 5000, "tile cell rows")
	cell := fs.Float64("cell", 0.1, "cell size in metres")
	xmin := fs.Int64("xmin", 0, "tile left coordinate in millimetres")
	ymin := fs.Int64("ymin", 0, "tile lower coordinate in millimetres")
	fs.Parse(args)
	if *xyz == "" || *til == "" {
		return fmt.Errorf("import-xyz needs -xyz and -til")
	}
	return tileset.ImportXYZ(*xyz, *til, *cols, *rows, float32(*cell), *xmin, *ymin)
}

func runShade(args []string) error {
	fs := flag.NewFlagSet("shade", flag.ExitOnError)
	tiles := fs.String("tiles", "", "tile list file")
	nvmDir := fs.String("nvm-dir", "nvm", "normal map tile directory")
	tilDir := fs.String("til-dir", "til", "point tile directory")
	out := fs.String("out", "shaded.png", "output image")
	cfgPath := fs.String("config", "", "tuning config JSON")
	slope := fs.Bool("slope", false, "slope shading instead of hill shading")
	fs.Parse(args)
	if *tiles == "" {
		return fmt.Errorf("shade needs -tiles")
	}
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	tool := roads.NewTool(cfg)
	if err := tool.LoadTileSet(*tiles, *nvmDir, *tilDir, true); err != nil {
		return err
	}
	shading := terrain.ShadeHill
	if *slope {
		shading = terrain.ShadeSlope
	}
	return tool.SaveShadingImage(*out, shading)
}

func runSeeds(args []string) error {
	fs := flag.NewFlagSet("seeds", flag.ExitOnError)
	segments := fs.String("segments", "", "detected segments file (x1 y1 x2 y2 per line, cells)")
	out := fs.String("out", "seeds.txt", "output seed file")
	tiles := fs.String("tiles", "", "tile list file")
	nvmDir := fs.String("nvm-dir", "nvm", "normal map tile directory")
	tilDir := fs.String("til-dir", "til", "point tile directory")
	cfgPath := fs.String("config", "", "tuning config JSON")
	fs.Parse(args)
	if *segments == "" || *tiles == "" {
		return fmt.Errorf("seeds needs -segments and -tiles")
	}
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	tool := roads.NewTool(cfg)
	if err := tool.LoadTileSet(*tiles, *nvmDir, *tilDir, false); err != nil {
		return err
	}
	ts := tool.TileSet()
	w, h := tool.MapSize()
	catalog := roads.NewSeedCatalog(ts.ColumnsOfTiles(), ts.RowsOfTiles(),
		w/ts.ColumnsOfTiles(), h/ts.RowsOfTiles())

	segs, err := loadSegments(*segments)
	if err != nil {
		return err
	}
	added := 0
	small := 0
	minLen2 := cfg.GetMinSeedLen() * cfg.GetMinSeedLen()
	for _, s := range segs {
		dx := s[2] - s[0]
		dy := s[3] - s[1]
		if int(dx*dx+dy*dy) < minLen2 {
			small++
			continue
		}
		added += catalog.AddStrokesAlong(s[0], s[1], s[2], s[3],
			cfg.GetSeedShift(), cfg.GetSeedWidth())
	}
	monitoring.Logf("seeds OK : %d seeds, %d rejected segments", added, small)
	return catalog.Save(*out)
}

func loadSegments(path string) ([][4]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var segs [][4]float64
	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 4 {
			return nil, fmt.Errorf("%s:%d: expected 4 coordinates, got %d",
				path, line, len(fields))
		}
		var seg [4]float64
		for i, fv := range fields {
			if seg[i], err = strconv.ParseFloat(fv, 64); err != nil {
				return nil, fmt.Errorf("%s:%d: %w", path, line, err)
			}
		}
		segs = append(segs, seg)
	}
	return segs, sc.Err()
}

func runDetect(args []string) error {
	fs := flag.NewFlagSet("detect", flag.ExitOnError)
	tiles := fs.String("tiles", "", "tile list file")
	nvmDir := fs.String("nvm-dir", "nvm", "normal map tile directory")
	tilDir := fs.String("til-dir", "til", "point tile directory")
	seedsPath := fs.String("seeds", "", "seed file")
	cfgPath := fs.String("config", "", "tuning config JSON")
	outImage := fs.String("out", "roads.png", "output road map image")
	exportCenters := fs.String("centers", "", "road centerline polyline output")
	exportBounds := fs.String("bounds", "", "road bounds polyline output")
	sucSeeds := fs.String("successful-seeds", "", "successful seeds output")
	dbPath := fs.String("db", "", "detection store SQLite file")
	reportPath := fs.String("report", "", "HTML report output")
	withDtm := fs.Bool("dtm", false, "load the DTM as the image background")
	fs.Parse(args)
	if *tiles == "" || *seedsPath == "" {
		return fmt.Errorf("detect needs -tiles and -seeds")
	}
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	tool := roads.NewTool(cfg)
	if err := tool.LoadTileSet(*tiles, *nvmDir, *tilDir, *withDtm); err != nil {
		return err
	}
	ts := tool.TileSet()
	w, h := tool.MapSize()
	catalog, err := roads.LoadSeeds(*seedsPath, ts.ColumnsOfTiles(),
		ts.RowsOfTiles(), w/ts.ColumnsOfTiles(), h/ts.RowsOfTiles())
	if err != nil {
		return err
	}
	tool.SetSeeds(catalog)

	export := *exportCenters != "" || *exportBounds != "" || *dbPath != ""
	started := time.Now()
	if err := tool.ProcessASD(export); err != nil {
		return err
	}
	log.Printf("detection done in %s", time.Since(started).Round(time.Millisecond))

	if err := tool.SaveRoadImage(*outImage); err != nil {
		return err
	}
	if *exportCenters != "" {
		if err := tool.ExportRoadCenters(*exportCenters); err != nil {
			return err
		}
	}
	if *exportBounds != "" {
		if err := tool.ExportRoadBounds(*exportBounds); err != nil {
			return err
		}
	}
	if *sucSeeds != "" {
		if err := tool.SaveSuccessfulSeeds(*sucSeeds); err != nil {
			return err
		}
	}
	if *dbPath != "" {
		if err := persistRun(tool, cfg, *dbPath); err != nil {
			return err
		}
	}
	if *reportPath != "" {
		if err := tool.WriteReport(*reportPath); err != nil {
			return err
		}
	}
	return nil
}

func persistRun(tool *roads.Tool, cfg *config.TuningConfig, path string) error {
	db, err := roadsdb.NewRoadsDB(path)
	if err != nil {
		return err
	}
	defer db.Close()
	params, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	ts := tool.TileSet()
	runID, err := db.InsertRun(&roadsdb.Run{
		TilesCount: ts.ColumnsOfTiles() * ts.RowsOfTiles(),
		SeedsCount: len(tool.Outcomes),
		RoadsCount: len(tool.RoadSections),
		ParamsJSON: params,
	})
	if err != nil {
		return err
	}
	for _, o := range tool.Outcomes {
		if err := db.InsertSeedOutcome(runID, o); err != nil {
			return err
		}
	}
	w, _ := tool.MapSize()
	iratio := float32(w) / ts.XmSpread() * cfg.GetCellSize()
	for _, ct := range tool.RoadSections {
		if _, err := db.InsertRoadSection(runID, ct, iratio); err != nil {
			return err
		}
	}
	log.Printf("run %s persisted to %s", runID, path)
	return nil
}
