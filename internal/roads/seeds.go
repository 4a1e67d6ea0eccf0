package roads

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/banshee-data/trackline.report/internal/geom"
)

// Seed is one candidate stroke: two endpoints in DTM cell coordinates,
// crossing the suspected road.
type Seed struct {
	P1, P2 geom.Pt2i
}

// Center returns the seed's middle cell.
func (s Seed) Center() geom.Pt2i {
	return geom.Pt2i{X: (s.P1.X + s.P2.X) / 2, Y: (s.P1.Y + s.P2.Y) / 2}
}

// SeedCatalog holds the candidate strokes grouped per tile so the detector
// visits them in tile order.
type SeedCatalog struct {
	cot, rot int
	tw, th   int // tile size in cells
	perTile  [][]Seed
}

// NewSeedCatalog returns an empty catalog over a cot x rot tile grid of
// tw x th cell tiles.
func NewSeedCatalog(cot, rot, tw, th int) *SeedCatalog {
	return &SeedCatalog{
		cot:     cot,
		rot:     rot,
		tw:      tw,
		th:      th,
		perTile: make([][]Seed, cot*rot),
	}
}

// Add files a seed under the tile holding its centre; seeds out of the
// grid are dropped and reported false.
func (sc *SeedCatalog) Add(s Seed) bool {
	c := s.Center()
	tx := c.X / sc.tw
	ty := c.Y / sc.th
	if c.X < 0 || c.Y < 0 || tx >= sc.cot || ty >= sc.rot {
		return false
	}
	k := ty*sc.cot + tx
	sc.perTile[k] = append(sc.perTile[k], s)
	return true
}

// TileSeeds returns the seeds of tile k.
func (sc *SeedCatalog) TileSeeds(k int) []Seed {
	if k < 0 || k >= len(sc.perTile) {
		return nil
	}
	return sc.perTile[k]
}

// Count returns the total seed count.
func (sc *SeedCatalog) Count() int {
	n := 0
	for _, seeds := range sc.perTile {
		n += len(seeds)
	}
	return n
}

// AddStrokesAlong slices a detected line segment into seed strokes: every
// shift cells along the segment, a stroke of spread width cells orthogonal
// to it. Returns the number of seeds filed.
func (sc *SeedCatalog) AddStrokesAlong(x1, y1, x2, y2 float64, shift, width int) int {
	dx := x2 - x1
	dy := y2 - y1
	ln := dx*dx + dy*dy
	if ln <= 0 {
		return 0
	}
	ln = math.Sqrt(ln)
	dx /= ln
	dy /= ln
	w2 := float64(width) / 2
	added := 0
	for pos := 0.0; pos <= ln; pos += float64(shift) {
		p1 := geom.Pt2i{
			X: int(x1 + pos*dx - w2*dy + 0.5),
			Y: int(y1 + pos*dy + w2*dx + 0.5),
		}
		p2 := geom.Pt2i{
			X: int(x1 + pos*dx + w2*dy + 0.5),
			Y: int(y1 + pos*dy - w2*dx + 0.5),
		}
		if sc.Add(Seed{P1: p1, P2: p2}) {
			added++
		}
	}
	return added
}

// Save writes the catalog as one "x1 y1 x2 y2" line per seed, in
// boustrophedon tile order.
func (sc *SeedCatalog) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	for j := 0; j < sc.rot; j++ {
		for i := 0; i < sc.cot; i++ {
			k := j*sc.cot + i
			if j%2 != 0 {
				k = j*sc.cot + sc.cot - 1 - i
			}
			for _, s := range sc.perTile[k] {
				fmt.Fprintf(w, "%d %d %d %d\n", s.P1.X, s.P1.Y, s.P2.X, s.P2.Y)
			}
		}
	}
	return w.Flush()
}

// LoadSeeds reads a catalog written by Save.
func LoadSeeds(path string, cot, rot, tw, th int) (*SeedCatalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	sc := NewSeedCatalog(cot, rot, tw, th)
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 4 {
			return nil, fmt.Errorf("%s:%d: expected 4 coordinates, got %d",
				path, line, len(fields))
		}
		var vals [4]int
		for n, fv := range fields {
			if vals[n], err = strconv.Atoi(fv); err != nil {
				return nil, fmt.Errorf("%s:%d: %w", path, line, err)
			}
		}
		sc.Add(Seed{
			P1: geom.Pt2i{X: vals[0], Y: vals[1]},
			P2: geom.Pt2i{X: vals[2], Y: vals[3]},
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return sc, nil
}
