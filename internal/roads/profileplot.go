package roads

import (
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/trackline.report/internal/geom"
	"github.com/banshee-data/trackline.report/internal/track"
)

// PlotProfile renders one cross-section profile and its fitted plateau as
// a PNG: the (distance, height) samples as dots, the plateau interval as
// vertical lines and the minimal band height as a horizontal one. A nil
// plateau plots the samples alone.
func PlotProfile(path string, samples []geom.Pt2f, pl *track.Plateau) error {
	if len(samples) == 0 {
		return fmt.Errorf("empty profile")
	}
	p := plot.New()
	p.Title.Text = "cross-section profile"
	p.X.Label.Text = "distance along stroke (m)"
	p.Y.Label.Text = "height (m)"

	pts := make(plotter.XYs, len(samples))
	var ymin, ymax float64
	for i, s := range samples {
		pts[i].X = float64(s.X)
		pts[i].Y = float64(s.Y)
		if i == 0 || pts[i].Y < ymin {
			ymin = pts[i].Y
		}
		if i == 0 || pts[i].Y > ymax {
			ymax = pts[i].Y
		}
	}
	scatter, err := plotter.NewScatter(pts)
	if err != nil {
		return err
	}
	scatter.GlyphStyle.Radius = vg.Points(1.5)
	p.Add(scatter)

	if pl != nil {
		bandColor := color.RGBA{R: 200, A: 255}
		for _, x := range []float64{
			float64(pl.EstimatedStart), float64(pl.EstimatedEnd),
		} {
			edge := plotter.XYs{{X: x, Y: ymin}, {X: x, Y: ymax}}
			line, err := plotter.NewLine(edge)
			if err != nil {
				return err
			}
			line.Color = bandColor
			p.Add(line)
		}
		base := plotter.XYs{
			{X: float64(pl.EstimatedStart), Y: float64(pl.MinHeight)},
			{X: float64(pl.EstimatedEnd), Y: float64(pl.MinHeight)},
		}
		baseLine, err := plotter.NewLine(base)
		if err != nil {
			return err
		}
		baseLine.Color = bandColor
		baseLine.Dashes = []vg.Length{vg.Points(3), vg.Points(2)}
		p.Add(baseLine)
	}
	return p.Save(6*vg.Inch, 4*vg.Inch, path)
}
