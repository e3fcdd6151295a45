// Package plotting renders exposure-progress figures as PNG images: the
// observed rates with the regression band, and the cumulative SNR forecast
// with the goal crossing marked. The observing GUI fetches these alongside
// the JSON snapshot.
package plotting

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"

	"gonum.org/v1/plot"
	_ "gonum.org/v1/plot/font/liberation"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	vgdraw "gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

var (
	measurementColor = color.RGBA{R: 0, G: 0, B: 255, A: 255}
	bandColor        = color.RGBA{R: 100, G: 149, B: 237, A: 80}
	curveColor       = color.RGBA{R: 0, G: 0, B: 255, A: 255}
	markerColor      = color.RGBA{R: 255, G: 0, B: 0, A: 255}
)

// RateSeries holds one channel's inputs for a rate figure: the reported
// measurements and the regression evaluated on the prediction grid.
type RateSeries struct {
	ObsTime  []float64
	ObsRate  []float64
	ObsSigma []float64

	Grid      []float64
	Mean      []float64
	MeanSigma []float64
}

func applyFonts(p *plot.Plot) {
	for _, style := range []*vg.Length{
		&p.Title.TextStyle.Font.Size,
		&p.X.Label.TextStyle.Font.Size,
		&p.Y.Label.TextStyle.Font.Size,
	} {
		*style = vg.Points(12)
	}
	p.Title.TextStyle.Font.Typeface = "Liberation"
	p.Title.TextStyle.Font.Variant = "Sans"
	p.X.Label.TextStyle.Font.Typeface = "Liberation"
	p.X.Label.TextStyle.Font.Variant = "Sans"
	p.Y.Label.TextStyle.Font.Typeface = "Liberation"
	p.Y.Label.TextStyle.Font.Variant = "Sans"
	p.X.Tick.Label.Font.Typeface = "Liberation"
	p.X.Tick.Label.Font.Variant = "Sans"
	p.X.Tick.Label.Font.Size = vg.Points(10)
	p.Y.Tick.Label.Font.Typeface = "Liberation"
	p.Y.Tick.Label.Font.Variant = "Sans"
	p.Y.Tick.Label.Font.Size = vg.Points(10)
}

// PlotRates draws one channel's measurements with error bars over the
// regression mean and its one-sigma band. Returns the figure as an image.
func PlotRates(series RateSeries, title string, wPx, hPx float64) (image.Image, error) {
	if len(series.Grid) == 0 || len(series.Grid) != len(series.Mean) || len(series.Mean) != len(series.MeanSigma) {
		return nil, fmt.Errorf("plotting: grid, mean, and sigma must have equal nonzero length")
	}
	if len(series.ObsTime) != len(series.ObsRate) || len(series.ObsRate) != len(series.ObsSigma) {
		return nil, fmt.Errorf("plotting: observation slices must have equal length")
	}

	p := plot.New()
	applyFonts(p)
	p.Title.Text = title
	p.X.Label.Text = "seconds since shutter open"
	p.Y.Label.Text = "relative rate"
	p.Add(plotter.NewGrid())

	// One-sigma band as a closed polygon: upper edge forward, lower edge back.
	n := len(series.Grid)
	band := make(plotter.XYs, 2*n)
	for i := 0; i < n; i++ {
		band[i].X = series.Grid[i]
		band[i].Y = series.Mean[i] + series.MeanSigma[i]
		band[2*n-1-i].X = series.Grid[i]
		band[2*n-1-i].Y = series.Mean[i] - series.MeanSigma[i]
	}
	poly, err := plotter.NewPolygon(band)
	if err != nil {
		return nil, err
	}
	poly.Color = bandColor
	poly.LineStyle.Width = 0
	p.Add(poly)

	meanPts := make(plotter.XYs, n)
	for i := 0; i < n; i++ {
		meanPts[i].X = series.Grid[i]
		meanPts[i].Y = series.Mean[i]
	}
	meanLine, err := plotter.NewLine(meanPts)
	if err != nil {
		return nil, err
	}
	meanLine.Color = curveColor
	p.Add(meanLine)

	if len(series.ObsTime) > 0 {
		obs := make(plotter.XYs, len(series.ObsTime))
		errs := make(plotter.YErrors, len(series.ObsTime))
		for i := range series.ObsTime {
			obs[i].X = series.ObsTime[i]
			obs[i].Y = series.ObsRate[i]
			errs[i].Low = series.ObsSigma[i]
			errs[i].High = series.ObsSigma[i]
		}

		scatter, err := plotter.NewScatter(obs)
		if err != nil {
			return nil, err
		}
		scatter.GlyphStyle.Color = measurementColor
		scatter.GlyphStyle.Radius = vg.Points(2)
		p.Add(scatter)

		bars, err := plotter.NewYErrorBars(struct {
			plotter.XYer
			plotter.YErrorer
		}{obs, errs})
		if err != nil {
			return nil, err
		}
		bars.Color = measurementColor
		p.Add(bars)
	}

	return render(p, wPx, hPx), nil
}

// PlotSNR draws the forecast SNR curve with the goal level and its crossing
// time. A crossing at the last grid point means the goal is not reached
// before cutoff, so the vertical marker is drawn only for interior
// crossings.
func PlotSNR(grid, snr []float64, goal, crossing float64, wPx, hPx float64) (image.Image, error) {
	if len(grid) == 0 || len(grid) != len(snr) {
		return nil, fmt.Errorf("plotting: grid and snr must have equal nonzero length")
	}

	p := plot.New()
	applyFonts(p)
	p.Title.Text = "Forecast cumulative SNR"
	p.X.Label.Text = "seconds since shutter open"
	p.Y.Label.Text = "signal-to-noise ratio"
	p.Add(plotter.NewGrid())

	pts := make(plotter.XYs, len(grid))
	yMax := goal
	for i := range grid {
		pts[i].X = grid[i]
		pts[i].Y = snr[i]
		yMax = math.Max(yMax, snr[i])
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, err
	}
	line.Color = curveColor
	p.Add(line)

	goalLine, err := plotter.NewLine(plotter.XYs{
		{X: grid[0], Y: goal},
		{X: grid[len(grid)-1], Y: goal},
	})
	if err != nil {
		return nil, err
	}
	goalLine.Dashes = []vg.Length{vg.Points(6), vg.Points(4)}
	goalLine.Color = color.RGBA{A: 255}
	p.Add(goalLine)

	if crossing < grid[len(grid)-1] {
		marker, err := plotter.NewLine(plotter.XYs{
			{X: crossing, Y: 0},
			{X: crossing, Y: 1.1 * yMax},
		})
		if err != nil {
			return nil, err
		}
		marker.Dashes = []vg.Length{vg.Points(6), vg.Points(4)}
		marker.Color = markerColor
		p.Add(marker)
	}

	return render(p, wPx, hPx), nil
}

func render(p *plot.Plot, wPx, hPx float64) image.Image {
	const dpi = 96
	width := vg.Length(wPx) * vg.Inch / dpi
	height := vg.Length(hPx) * vg.Inch / dpi

	c := vgimg.New(width, height)
	dc := vgdraw.New(c)
	p.Draw(dc)

	return c.Image()
}

// SavePNG writes an image to a PNG file.
func SavePNG(filename string, img image.Image) (err error) {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filename, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	return png.Encode(f, img)
}
