package monitor

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/lidarloc/internal/localization"
	"github.com/banshee-data/lidarloc/internal/trajectory"
)

var (
	truthColor      = color.RGBA{R: 90, G: 90, B: 90, A: 255}
	estimateColor   = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	correctionColor = color.RGBA{R: 214, G: 39, B: 40, A: 255}
)

// PlotTrajectory writes a top-down plot of the truth path, the estimate
// and the corrected poses to path. The image format follows the file
// extension.
func PlotTrajectory(path, title string, est []localization.Sample, truth []trajectory.TruthSample) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Y (m)"
	p.Add(plotter.NewGrid())

	if len(truth) > 0 {
		pts := make(plotter.XYs, len(truth))
		for i, t := range truth {
			pts[i] = plotter.XY{X: t.Position[0], Y: t.Position[1]}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return fmt.Errorf("truth line: %w", err)
		}
		line.Color = truthColor
		line.Width = vg.Points(1)
		line.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
		p.Add(line)
		p.Legend.Add("truth", line)
	}

	var estPts, corrected plotter.XYs
	for _, s := range est {
		pt := plotter.XY{X: s.Position[0], Y: s.Position[1]}
		estPts = append(estPts, pt)
		if s.Kind == localization.SampleCorrect {
			corrected = append(corrected, pt)
		}
	}
	if len(estPts) > 0 {
		line, err := plotter.NewLine(estPts)
		if err != nil {
			return fmt.Errorf("estimate line: %w", err)
		}
		line.Color = estimateColor
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add("estimate", line)
	}
	if len(corrected) > 0 {
		sc, err := plotter.NewScatter(corrected)
		if err != nil {
			return fmt.Errorf("correction scatter: %w", err)
		}
		sc.Color = correctionColor
		sc.Radius = vg.Points(1.5)
		p.Add(sc)
		p.Legend.Add("corrections", sc)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	if err := p.Save(8*vg.Inch, 8*vg.Inch, path); err != nil {
		return fmt.Errorf("save trajectory plot: %w", err)
	}
	return nil
}

// PlotErrors writes position error against time since the first error
// point to path.
func PlotErrors(path, title string, acc Accuracy) error {
	if len(acc.Errors) == 0 {
		return ErrNoOverlap
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s (RMSE %.3f m)", title, acc.RMSE)
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "Position error (m)"
	p.Y.Min = 0

	t0 := acc.Errors[0].Stamp
	pts := make(plotter.XYs, len(acc.Errors))
	for i, e := range acc.Errors {
		pts[i] = plotter.XY{X: e.Stamp.Sub(t0).Seconds(), Y: e.Error}
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return fmt.Errorf("error line: %w", err)
	}
	line.Color = correctionColor
	line.Width = vg.Points(1)
	p.Add(line)

	if err := p.Save(14*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("save error plot: %w", err)
	}
	return nil
}
