package roads

import (
	"fmt"
	"os"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/trackline.report/internal/track"
)

// statusLabel names a detection status for report axes.
func statusLabel(status int) string {
	switch status {
	case track.ResultNone:
		return "none"
	case track.ResultOK:
		return "ok"
	case track.ResultFailTooNarrowInput:
		return "too narrow input"
	case track.ResultFailNoAvailableScan:
		return "no available scan"
	case track.ResultFailNoCentralPlateau:
		return "no central plateau"
	case track.ResultFailNoConsistentSequence:
		return "no consistent sequence"
	case track.ResultFailNoBounds:
		return "no bounds"
	case track.ResultFailTooHecticPlateaux:
		return "too hectic plateaux"
	case track.ResultFailTooSparsePlateaux:
		return "too sparse plateaux"
	case track.ResultFailDisconnect:
		return "disconnect"
	}
	return fmt.Sprintf("status %d", status)
}

// WriteReport renders an HTML report of a run: the seed status histogram,
// the per-tile seed counts and the width statistics of kept sections.
func (t *Tool) WriteReport(path string) error {
	page := components.NewPage()
	page.PageTitle = "road detection report"

	// Status histogram over all processed seeds.
	statusCounts := make(map[int]int)
	tileCounts := make(map[int]int)
	for _, o := range t.Outcomes {
		statusCounts[o.Status]++
		tileCounts[o.Tile]++
	}
	var statuses []int
	for s := range statusCounts {
		statuses = append(statuses, s)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(statuses)))
	var labels []string
	var counts []opts.BarData
	for _, s := range statuses {
		labels = append(labels, statusLabel(s))
		counts = append(counts, opts.BarData{Value: statusCounts[s]})
	}
	statusBar := charts.NewBar()
	statusBar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "seed outcomes"}),
	)
	statusBar.SetXAxis(labels).AddSeries("seeds", counts)
	page.AddCharts(statusBar)

	// Seeds per tile.
	var tiles []int
	for k := range tileCounts {
		tiles = append(tiles, k)
	}
	sort.Ints(tiles)
	var tileLabels []string
	var tileData []opts.BarData
	for _, k := range tiles {
		tileLabels = append(tileLabels, fmt.Sprintf("tile %d", k))
		tileData = append(tileData, opts.BarData{Value: tileCounts[k]})
	}
	tileBar := charts.NewBar()
	tileBar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "seeds per tile"}),
	)
	tileBar.SetXAxis(tileLabels).AddSeries("seeds", tileData)
	page.AddCharts(tileBar)

	// Width scatter of kept sections, with summary stats in the title.
	if len(t.RoadSections) != 0 {
		var widths []float64
		var data []opts.ScatterData
		for i, ct := range t.RoadSections {
			if pl := ct.Plateau(0); pl != nil {
				w := float64(pl.EstimatedWidth())
				widths = append(widths, w)
				data = append(data, opts.ScatterData{Value: []interface{}{i, w}})
			}
		}
		sort.Float64s(widths)
		mean, std := stat.MeanStdDev(widths, nil)
		median := stat.Quantile(0.5, stat.Empirical, widths, nil)
		scatter := charts.NewScatter()
		scatter.SetGlobalOptions(
			charts.WithTitleOpts(opts.Title{
				Title: "road widths (m)",
				Subtitle: fmt.Sprintf(
					"%d sections, mean %.2f, median %.2f, stddev %.2f",
					len(widths), mean, median, std),
			}),
		)
		scatter.AddSeries("width", data)
		page.AddCharts(scatter)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return page.Render(f)
}
