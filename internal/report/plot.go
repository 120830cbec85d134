// Package report renders recorded sessions as charts and tables.
package report

import (
	"errors"
	"fmt"
	"image/color"

	"github.com/andresmejia3/headpose/internal/pose"
	"github.com/andresmejia3/headpose/internal/types"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// ErrNoSamples is returned when there is nothing to plot.
var ErrNoSamples = errors.New("no samples to plot")

var (
	pitchColor = color.RGBA{R: 200, G: 40, B: 40, A: 255}
	yawColor   = color.RGBA{R: 40, G: 80, B: 200, A: 255}
)

// Series converts samples into pitch and yaw lines over stream seconds.
func Series(samples []types.Sample) (pitch, yaw plotter.XYs) {
	pitch = make(plotter.XYs, 0, len(samples))
	yaw = make(plotter.XYs, 0, len(samples))
	for _, s := range samples {
		pitch = append(pitch, plotter.XY{X: s.Offset, Y: s.Pitch})
		yaw = append(yaw, plotter.XY{X: s.Offset, Y: s.Yaw})
	}
	return pitch, yaw
}

// PlotSeries writes a pitch/yaw chart with the classification thresholds drawn
// as dashed lines. The format follows the file extension of path.
func PlotSeries(samples []types.Sample, t pose.Thresholds, title, path string) error {
	if len(samples) == 0 {
		return ErrNoSamples
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "Angle"

	pitchPts, yawPts := Series(samples)

	pitchLine, err := plotter.NewLine(pitchPts)
	if err != nil {
		return err
	}
	pitchLine.Color = pitchColor
	pitchLine.Width = vg.Points(1)
	p.Add(pitchLine)
	p.Legend.Add("pitch (x)", pitchLine)

	yawLine, err := plotter.NewLine(yawPts)
	if err != nil {
		return err
	}
	yawLine.Color = yawColor
	yawLine.Width = vg.Points(1)
	p.Add(yawLine)
	p.Legend.Add("yaw (y)", yawLine)

	for _, th := range []struct {
		value float64
		c     color.Color
	}{
		{t.PitchMin, pitchColor}, {t.PitchMax, pitchColor},
		{t.YawMin, yawColor}, {t.YawMax, yawColor},
	} {
		v := th.value
		fn := plotter.NewFunction(func(float64) float64 { return v })
		fn.Color = th.c
		fn.Width = vg.Points(0.5)
		fn.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
		p.Add(fn)
	}
	p.Add(plotter.NewGrid())

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	if err := p.Save(14*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save plot %s: %w", path, err)
	}
	return nil
}
