// Package chart renders the convergence plot of an inversion run.
package chart

import (
	"fmt"
	"image/color"
	"log/slog"
	"os"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/cwbudde/inversionlog/internal/record"
)

var (
	black = color.RGBA{A: 255}
	blue  = color.RGBA{R: 31, G: 119, B: 180, A: 255}
)

// ConvergencePlotter draws a 2x2 PNG:
//
//	beta vs phi_d (log-log, beta reversed)  | phi_m vs phi_d (linear)
//	beta vs phi_m (log-log, beta reversed)  | iteration vs phi_d, phi_m (log-y)
//
// The first iteration below the target misfit is marked on the first
// three panels; the last panel draws the target misfit as a dashed line.
type ConvergencePlotter struct {
	Width  vg.Length
	Height vg.Length
	DPI    int
}

var _ record.Plotter = (*ConvergencePlotter)(nil)

// NewConvergencePlotter returns a plotter with a 10x6 inch, 150 dpi canvas.
func NewConvergencePlotter() *ConvergencePlotter {
	return &ConvergencePlotter{
		Width:  10 * vg.Inch,
		Height: 6 * vg.Inch,
		DPI:    150,
	}
}

// Plot renders s to path. An empty series writes nothing.
func (c *ConvergencePlotter) Plot(path string, s *record.Series) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if s.Len() == 0 {
		return nil
	}

	panels, err := c.panels(s)
	if err != nil {
		return err
	}

	img := vgimg.NewWith(vgimg.UseWH(c.Width, c.Height), vgimg.UseDPI(c.DPI))
	dc := draw.New(img)
	tiles := draw.Tiles{
		Rows:      2,
		Cols:      2,
		PadX:      6 * vg.Millimeter,
		PadY:      6 * vg.Millimeter,
		PadTop:    3 * vg.Millimeter,
		PadBottom: 3 * vg.Millimeter,
		PadLeft:   3 * vg.Millimeter,
		PadRight:  3 * vg.Millimeter,
	}
	canvases := plot.Align(panels, tiles, dc)
	for row := range panels {
		for col := range panels[row] {
			panels[row][col].Draw(canvases[row][col])
		}
	}

	tempPath := path + ".tmp"
	f, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create plot file: %w", err)
	}
	if _, err := (vgimg.PngCanvas{Canvas: img}).WriteTo(f); err != nil {
		f.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to encode plot: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close plot file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename plot file: %w", err)
	}

	slog.Debug("Convergence plot written", "path", path, "iterations", s.Len())
	return nil
}

func (c *ConvergencePlotter) panels(s *record.Series) ([][]*plot.Plot, error) {
	target, reached := s.TargetIteration()

	betaPhiD, err := curve(s.Beta, s.PhiD, "β", "φd", true, true)
	if err != nil {
		return nil, err
	}
	betaPhiM, err := curve(s.Beta, s.PhiM, "β", "φm", true, true)
	if err != nil {
		return nil, err
	}
	phiMPhiD, err := curve(s.PhiM, s.PhiD, "φm", "φd", false, false)
	if err != nil {
		return nil, err
	}

	if reached {
		for _, m := range []struct {
			p    *plot.Plot
			x, y float64
		}{
			{betaPhiD, s.Beta[target], s.PhiD[target]},
			{betaPhiM, s.Beta[target], s.PhiM[target]},
			{phiMPhiD, s.PhiM[target], s.PhiD[target]},
		} {
			if err := markTarget(m.p, m.x, m.y); err != nil {
				return nil, err
			}
		}
	}

	history, err := historyPanel(s)
	if err != nil {
		return nil, err
	}

	for _, p := range []*plot.Plot{betaPhiD, betaPhiM, phiMPhiD, history} {
		padLogRange(p)
	}

	return [][]*plot.Plot{
		{betaPhiD, phiMPhiD},
		{betaPhiM, history},
	}, nil
}

// curve plots y over x. Log axes are only used when every value is
// positive; invertX reverses the x axis.
func curve(x, y []float64, xLabel, yLabel string, logAxes, invertX bool) (*plot.Plot, error) {
	p := plot.New()
	p.X.Label.Text = xLabel
	p.Y.Label.Text = yLabel
	p.Add(plotter.NewGrid())

	useLog := logAxes && positive(x) && positive(y)
	setScale(&p.X, useLog, invertX)
	setScale(&p.Y, useLog, false)

	line, points, err := plotter.NewLinePoints(xys(x, y))
	if err != nil {
		return nil, fmt.Errorf("failed to build %s/%s curve: %w", xLabel, yLabel, err)
	}
	line.Color = black
	points.Shape = draw.CircleGlyph{}
	points.Radius = vg.Points(2)
	points.Color = black
	p.Add(line, points)
	return p, nil
}

func historyPanel(s *record.Series) (*plot.Plot, error) {
	p := plot.New()
	p.X.Label.Text = "Iteration"
	p.Y.Label.Text = "φd, φm"
	p.Legend.Top = true
	p.Add(plotter.NewGrid())

	useLog := positive(s.PhiD) && positive(s.PhiM)
	setScale(&p.Y, useLog, false)

	iterations := make([]float64, s.Len())
	for i := range iterations {
		iterations[i] = float64(i + 1)
	}

	phiD, err := plotter.NewLine(xys(iterations, s.PhiD))
	if err != nil {
		return nil, fmt.Errorf("failed to build data misfit history: %w", err)
	}
	phiD.Color = black

	phiM, err := plotter.NewLine(xys(iterations, s.PhiM))
	if err != nil {
		return nil, fmt.Errorf("failed to build model misfit history: %w", err)
	}
	phiM.Color = blue

	p.Add(phiD, phiM)
	p.Legend.Add("φd", phiD)
	p.Legend.Add("φm", phiM)

	if s.TargetMisfit > 0 || !useLog {
		last := float64(s.Len())
		if last == 1 {
			last = 2
		}
		target, err := plotter.NewLine(plotter.XYs{
			{X: 1, Y: s.TargetMisfit},
			{X: last, Y: s.TargetMisfit},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to build target misfit line: %w", err)
		}
		target.Color = black
		target.Dashes = []vg.Length{vg.Points(2), vg.Points(2)}
		p.Add(target)
	}
	return p, nil
}

func markTarget(p *plot.Plot, x, y float64) error {
	marker, err := plotter.NewScatter(plotter.XYs{{X: x, Y: y}})
	if err != nil {
		return fmt.Errorf("failed to build target marker: %w", err)
	}
	marker.Shape = draw.CrossGlyph{}
	marker.Radius = vg.Points(6)
	marker.Color = black
	p.Add(marker)
	return nil
}

func setScale(a *plot.Axis, log, invert bool) {
	var n plot.Normalizer = plot.LinearScale{}
	if log {
		n = plot.LogScale{}
		a.Tick.Marker = plot.LogTicks{Prec: -1}
	}
	if invert {
		n = plot.InvertedScale{Normalizer: n}
	}
	a.Scale = n
}

// padLogRange widens a degenerate log axis, which gonum would otherwise
// pad linearly into non-positive values.
func padLogRange(p *plot.Plot) {
	for _, a := range []*plot.Axis{&p.X, &p.Y} {
		if !isLog(a.Scale) || a.Min != a.Max {
			continue
		}
		a.Min /= 10
		a.Max *= 10
	}
}

func isLog(n plot.Normalizer) bool {
	switch s := n.(type) {
	case plot.LogScale:
		return true
	case plot.InvertedScale:
		return isLog(s.Normalizer)
	}
	return false
}

func positive(values []float64) bool {
	for _, v := range values {
		if v <= 0 {
			return false
		}
	}
	return true
}

func xys(x, y []float64) plotter.XYs {
	pts := make(plotter.XYs, len(x))
	for i := range x {
		pts[i].X = x[i]
		pts[i].Y = y[i]
	}
	return pts
}
