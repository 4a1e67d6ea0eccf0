// Package roadsdb persists detection runs, per-seed outcomes and kept road
// sections in a SQLite database.
package roadsdb

import (
	"database/sql"
	_ "embed"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/trackline.report/internal/geom"
	"github.com/banshee-data/trackline.report/internal/roads"
	"github.com/banshee-data/trackline.report/internal/track"
)

// schema.sql defines the run, seed outcome and road section tables.
//
//go:embed schema.sql
var schemaSQL string

// RoadsDB wraps the detection store connection.
type RoadsDB struct {
	*sql.DB
}

// NewRoadsDB opens (creating if needed) the detection store at path.
func NewRoadsDB(path string) (*RoadsDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		return nil, err
	}
	log.Println("initialized road detection store schema")
	return &RoadsDB{db}, nil
}

// Run is one persisted detection run.
type Run struct {
	RunID            string          `json:"run_id"`
	StartedUnixNanos int64           `json:"started_unix_nanos"`
	TilesCount       int             `json:"tiles_count"`
	SeedsCount       int             `json:"seeds_count"`
	RoadsCount       int             `json:"roads_count"`
	ParamsJSON       json.RawMessage `json:"params_json,omitempty"`
}

// InsertRun persists a run; an empty RunID gets a fresh UUID. Returns the
// run id.
func (db *RoadsDB) InsertRun(run *Run) (string, error) {
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.StartedUnixNanos == 0 {
		run.StartedUnixNanos = time.Now().UnixNano()
	}
	var params interface{}
	if len(run.ParamsJSON) > 0 {
		params = string(run.ParamsJSON)
	}
	_, err := db.Exec(`
		INSERT INTO detection_runs (
			run_id, started_unix_nanos, tiles_count, seeds_count,
			roads_count, params_json
		) VALUES (?, ?, ?, ?, ?, ?)`,
		run.RunID, run.StartedUnixNanos, run.TilesCount, run.SeedsCount,
		run.RoadsCount, params)
	return run.RunID, err
}

// InsertSeedOutcome persists one processed seed.
func (db *RoadsDB) InsertSeedOutcome(runID string, o roads.SeedOutcome) error {
	kept := 0
	if o.Kept {
		kept = 1
	}
	_, err := db.Exec(`
		INSERT INTO seed_outcomes (
			run_id, tile_index, x1, y1, x2, y2, status, kept
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, o.Tile, o.Seed.P1.X, o.Seed.P1.Y, o.Seed.P2.X, o.Seed.P2.Y,
		o.Status, kept)
	return err
}

// InsertRoadSection persists one kept road section with its centerline in
// map pixels. Returns the section id.
func (db *RoadsDB) InsertRoadSection(runID string, ct *track.CarriageTrack, iratio float32) (string, error) {
	var center, unused []geom.Pt2i
	ct.GetPosition(&center, &unused, track.DispCenter, iratio, true)
	line := make([][2]int, len(center))
	for i, p := range center {
		line[i] = [2]int{p.X, p.Y}
	}
	lineJSON, err := json.Marshal(line)
	if err != nil {
		return "", err
	}
	roadID := uuid.New().String()
	_, err = db.Exec(`
		INSERT INTO road_sections (
			road_id, run_id, spread, holes, relative_shift,
			seed_x1, seed_y1, seed_x2, seed_y2, centerline_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		roadID, runID, ct.Spread(), ct.NbHoles(), ct.RelativeShiftLength(),
		ct.SeedStart().X, ct.SeedStart().Y, ct.SeedEnd().X, ct.SeedEnd().Y,
		string(lineJSON))
	return roadID, err
}

// StatusCounts returns the per-status seed counts of a run.
func (db *RoadsDB) StatusCounts(runID string) (map[int]int, error) {
	rows, err := db.Query(`
		SELECT status, COUNT(*) FROM seed_outcomes
		WHERE run_id = ? GROUP BY status`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[int]int)
	for rows.Next() {
		var status, n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// RunSections returns the spreads and relative shifts of a run's sections.
func (db *RoadsDB) RunSections(runID string) (spreads []int, shifts []float64, err error) {
	rows, err := db.Query(`
		SELECT spread, relative_shift FROM road_sections
		WHERE run_id = ?`, runID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var spread int
		var shift float64
		if err := rows.Scan(&spread, &shift); err != nil {
			return nil, nil, err
		}
		spreads = append(spreads, spread)
		shifts = append(shifts, shift)
	}
	return spreads, shifts, rows.Err()
}
