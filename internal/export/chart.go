package export

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/blelocate/internal/ble"
)

// WriteScatterHTML renders an interactive scatter of the first two reduced
// components, one series per label.
func WriteScatterHTML(w io.Writer, title string, vectors []ble.LabeledVector) error {
	groups, err := groupPoints(vectors)
	if err != nil {
		return err
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("vectors=%d labels=%d", len(vectors), len(groups))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "C0", NameLocation: "middle", NameGap: 25, Scale: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "C1", NameLocation: "middle", NameGap: 30, Scale: opts.Bool(true)}),
	)

	colors := palette(len(groups))
	for i, g := range groups {
		data := make([]opts.ScatterData, len(g.points))
		for j, pt := range g.points {
			data[j] = opts.ScatterData{Value: []interface{}{pt[0], pt[1]}}
		}
		scatter.AddSeries(g.name, data,
			charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}),
			charts.WithItemStyleOpts(opts.ItemStyle{Color: hexColor(colors[i])}),
		)
	}
	if err := scatter.Render(w); err != nil {
		return fmt.Errorf("render chart: %w", err)
	}
	return nil
}
