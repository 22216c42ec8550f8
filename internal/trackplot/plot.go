// Package trackplot draws the line offsets fed to the steering controller
// during a mission, as an image file after the run or as a live chart on
// the debug server.
package trackplot

import (
	"errors"
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// ErrNoSamples is returned when there is nothing to plot.
var ErrNoSamples = errors.New("no offset samples")

var offsetColor = color.RGBA{R: 31, G: 119, B: 180, A: 255}

// Save writes a plot of offsets against control cycle to path. The image
// format follows the extension (.png, .svg, .pdf, ...).
func Save(path, title string, offsets []float64) error {
	if len(offsets) == 0 {
		return ErrNoSamples
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Cycle"
	p.Y.Label.Text = "Line offset"
	p.Add(plotter.NewGrid())

	pts := make(plotter.XYs, len(offsets))
	for i, o := range offsets {
		pts[i] = plotter.XY{X: float64(i), Y: o}
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return fmt.Errorf("failed to create offset line: %w", err)
	}
	line.Color = offsetColor
	line.Width = vg.Points(1)
	p.Add(line)

	centre := plotter.NewFunction(func(float64) float64 { return 0 })
	centre.Dashes = []vg.Length{vg.Points(4), vg.Points(4)}
	p.Add(centre)

	p.Legend.Add("offset", line)
	p.Legend.Top = true

	if err := p.Save(10*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save plot: %w", err)
	}
	return nil
}
