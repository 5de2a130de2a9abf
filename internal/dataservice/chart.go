package dataservice

import (
	"fmt"
	"image/color"
	"io"
	"math"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"realtime-trade/internal/ohlcv"
)

var (
	chartBg       = color.RGBA{R: 22, G: 26, B: 37, A: 255}    // #161a25
	chartGrid     = color.RGBA{R: 43, G: 47, B: 58, A: 255}    // #2b2f3a
	chartText     = color.RGBA{R: 183, G: 189, B: 198, A: 255} // #b7bdc6
	candleUp      = color.RGBA{R: 14, G: 203, B: 129, A: 255}  // #0ecb81
	candleDown    = color.RGBA{R: 246, G: 70, B: 93, A: 255}   // #f6465d
	seriesPalette = []color.RGBA{
		{R: 240, G: 185, B: 11, A: 255},  // yellow
		{R: 160, G: 32, B: 240, A: 255},  // purple
		{R: 216, G: 64, B: 174, A: 255},  // pink
		{R: 66, G: 135, B: 245, A: 255},  // blue
		{R: 255, G: 145, B: 0, A: 255},   // orange
		{R: 105, G: 220, B: 255, A: 255}, // cyan
	}
)

// candleSticks draws OHLC bodies and wicks at integer x positions.
type candleSticks struct {
	Bars []ohlcv.Bar
}

func (c *candleSticks) Plot(canvas draw.Canvas, plt *plot.Plot) {
	trX, trY := plt.Transforms(&canvas)

	w := canvas.Rectangle.Max.X - canvas.Rectangle.Min.X
	barWidth := (w / vg.Length(len(c.Bars))) * 0.6

	for i, b := range c.Bars {
		x := trX(float64(i))

		col := candleDown
		if b.Close >= b.Open {
			col = candleUp
		}

		wick := draw.LineStyle{Color: col, Width: vg.Points(1)}
		canvas.StrokeLine2(wick, x, trY(b.Low), x, trY(b.High))

		top := math.Max(b.Open, b.Close)
		bottom := math.Min(b.Open, b.Close)
		if top == bottom {
			// doji: keep a visible sliver
			top += 0.00001
		}
		rect := vg.Rectangle{
			Min: vg.Point{X: x - barWidth/2, Y: trY(bottom)},
			Max: vg.Point{X: x + barWidth/2, Y: trY(top)},
		}
		canvas.SetColor(col)
		canvas.Fill(rect.Path())
	}
}

func (c *candleSticks) DataRange() (xmin, xmax, ymin, ymax float64) {
	ymin = math.Inf(1)
	ymax = math.Inf(-1)
	for _, b := range c.Bars {
		if b.Low < ymin {
			ymin = b.Low
		}
		if b.High > ymax {
			ymax = b.High
		}
	}
	return 0, float64(len(c.Bars)), ymin, ymax
}

func (c *candleSticks) GlyphBoxes(plt *plot.Plot) []plot.GlyphBox { return nil }

// ChartSeries is one strategy plot overlay, aligned to the candle index.
type ChartSeries struct {
	Title  string
	Points map[int64]float64 // bar ts (sec) -> value
}

// RenderChartPNG draws the tail of the canonical file with the strategy's
// plot series overlaid and writes a PNG.
func RenderChartPNG(w io.Writer, symbol string, bars []ohlcv.Bar, series []ChartSeries) error {
	if len(bars) == 0 {
		return fmt.Errorf("no bars to chart")
	}

	p := plot.New()
	p.BackgroundColor = chartBg
	p.Title.Text = fmt.Sprintf("%s [%s]", symbol, time.Now().UTC().Format("15:04"))
	p.Title.TextStyle.Color = chartText
	p.X.Label.TextStyle.Color = chartText
	p.Y.Label.TextStyle.Color = chartText
	p.X.Tick.Label.Color = chartText
	p.Y.Tick.Label.Color = chartText
	p.X.Tick.LineStyle.Color = chartText
	p.Y.Tick.LineStyle.Color = chartText

	grid := plotter.NewGrid()
	grid.Vertical.Color = chartGrid
	grid.Horizontal.Color = chartGrid
	p.Add(grid)

	drawable := make([]ohlcv.Bar, 0, len(bars))
	for _, b := range bars {
		if b.Volume < 0 {
			// provider gap sentinel: render as a flat candle at close
			b.Open, b.High, b.Low = b.Close, b.Close, b.Close
		}
		drawable = append(drawable, b)
	}
	p.Add(&candleSticks{Bars: drawable})

	for si, s := range series {
		pts := make(plotter.XYs, 0, len(drawable))
		for i, b := range drawable {
			if v, ok := s.Points[b.TS]; ok && !math.IsNaN(v) {
				pts = append(pts, plotter.XY{X: float64(i), Y: v})
			}
		}
		if len(pts) == 0 {
			continue
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return err
		}
		line.LineStyle.Color = seriesPalette[si%len(seriesPalette)]
		line.LineStyle.Width = vg.Points(1.5)
		p.Add(line)
		p.Legend.Add(s.Title, line)
	}

	p.Legend.Top = true
	p.Legend.Left = true
	p.Legend.Padding = vg.Points(5)
	p.Legend.TextStyle.Color = chartText
	p.Legend.TextStyle.Font.Size = vg.Points(10)
	p.Legend.ThumbnailWidth = vg.Points(20)

	wt, err := p.WriterTo(12*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}
