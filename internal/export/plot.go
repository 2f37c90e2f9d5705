package export

import (
	"fmt"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/blelocate/internal/ble"
)

// ScatterPlot builds a scatter of the first two reduced components, one
// colour per label.
func ScatterPlot(title string, vectors []ble.LabeledVector) (*plot.Plot, error) {
	groups, err := groupPoints(vectors)
	if err != nil {
		return nil, err
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "C0"
	p.Y.Label.Text = "C1"
	p.Add(plotter.NewGrid())

	colors := palette(len(groups))
	for i, g := range groups {
		pts := make(plotter.XYs, len(g.points))
		for j, pt := range g.points {
			pts[j] = plotter.XY{X: pt[0], Y: pt[1]}
		}
		s, err := plotter.NewScatter(pts)
		if err != nil {
			return nil, fmt.Errorf("scatter %s: %w", g.name, err)
		}
		s.GlyphStyle.Color = colors[i]
		s.GlyphStyle.Shape = draw.CircleGlyph{}
		s.GlyphStyle.Radius = vg.Points(2.5)
		p.Add(s)
		p.Legend.Add(g.name, s)
	}
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

// WriteScatterPNG renders ScatterPlot as a PNG.
func WriteScatterPNG(w io.Writer, title string, vectors []ble.LabeledVector) error {
	p, err := ScatterPlot(title, vectors)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(8*vg.Inch, 8*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("render plot: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("write plot: %w", err)
	}
	return nil
}
