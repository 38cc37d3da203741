package export

import (
	"fmt"
	"image/color"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

var (
	altitudeColor = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	accelColor    = color.RGBA{R: 214, G: 39, B: 40, A: 255}
)

// PlotAltitude renders relative altitude over time to a PNG (or any format
// gonum/plot infers from the extension).
func PlotAltitude(path string, rows []BaroRow) error {
	if len(rows) == 0 {
		return fmt.Errorf("export: no barometric records to plot")
	}
	pts := make(plotter.XYs, len(rows))
	for i, r := range rows {
		pts[i] = plotter.XY{X: r.T, Y: r.AltitudeM}
	}
	return savePlot(path, "Relative altitude", "Altitude (m)", pts, altitudeColor)
}

// PlotAcceleration renders the acceleration magnitude over time.
func PlotAcceleration(path string, rows []IMURow) error {
	if len(rows) == 0 {
		return fmt.Errorf("export: no motion records to plot")
	}
	pts := make(plotter.XYs, len(rows))
	for i, r := range rows {
		a := math.Sqrt(r.Accel[0]*r.Accel[0] + r.Accel[1]*r.Accel[1] + r.Accel[2]*r.Accel[2])
		pts[i] = plotter.XY{X: r.T, Y: a}
	}
	return savePlot(path, "Acceleration magnitude", "|a| (g)", pts, accelColor)
}

func savePlot(path, title, ylabel string, pts plotter.XYs, c color.Color) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = ylabel
	p.Add(plotter.NewGrid())

	line, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	line.Color = c
	line.Width = vg.Points(1)
	p.Add(line)

	if err := p.Save(10*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("export: save %s: %w", path, err)
	}
	return nil
}
