// Package roads coordinates road detection over a tiled survey: it walks
// the seed catalog tile by tile, suppresses seeds falling on already
// detected roads, runs the track detector, and renders or persists the
// results.
package roads

import (
	"image"
	"image/color"
	"image/png"
	"os"

	"github.com/banshee-data/trackline.report/internal/geom"
)

// DetectionMap is the raster occupancy map of detected road pixels. A seed
// whose centre lands on an occupied pixel is redundant and skipped.
type DetectionMap struct {
	width, height int
	occ           []bool
	count         int
}

// NewDetectionMap returns an empty occupancy raster.
func NewDetectionMap(width, height int) *DetectionMap {
	return &DetectionMap{
		width:  width,
		height: height,
		occ:    make([]bool, width*height),
	}
}

// Width returns the raster width.
func (m *DetectionMap) Width() int { return m.width }

// Height returns the raster height.
func (m *DetectionMap) Height() int { return m.height }

// Occupied reports whether the pixel is already covered by a road.
func (m *DetectionMap) Occupied(pt geom.Pt2i) bool {
	if pt.X < 0 || pt.X >= m.width || pt.Y < 0 || pt.Y >= m.height {
		return false
	}
	return m.occ[pt.Y*m.width+pt.X]
}

// Add paints the scans of one detected track and reports whether any new
// pixel was painted; a track contributing nothing is redundant.
func (m *DetectionMap) Add(scans [][]geom.Pt2i) bool {
	added := false
	for _, scan := range scans {
		for _, p := range scan {
			if p.X < 0 || p.X >= m.width || p.Y < 0 || p.Y >= m.height {
				continue
			}
			if !m.occ[p.Y*m.width+p.X] {
				m.occ[p.Y*m.width+p.X] = true
				m.count++
				added = true
			}
		}
	}
	return added
}

// RoadPixels returns the count of painted pixels.
func (m *DetectionMap) RoadPixels() int { return m.count }

// SaveImage writes the occupancy raster as a PNG, roads black on white,
// optionally over a shaded background. The image origin is the upper left,
// the map origin the lower left.
func (m *DetectionMap) SaveImage(path string, background func(i, j int) int) error {
	img := image.NewRGBA(image.Rect(0, 0, m.width, m.height))
	for j := 0; j < m.height; j++ {
		for i := 0; i < m.width; i++ {
			var c color.RGBA
			if m.occ[j*m.width+i] {
				c = color.RGBA{A: 255}
			} else if background != nil {
				v := background(i, j)
				if v < 0 {
					v = 0
				} else if v > 255 {
					v = 255
				}
				c = color.RGBA{R: uint8(v), G: uint8(v), B: uint8(v), A: 255}
			} else {
				c = color.RGBA{R: 255, G: 255, B: 255, A: 255}
			}
			img.SetRGBA(i, m.height-1-j, c)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}
