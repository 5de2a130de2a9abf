package strategy

import "math"

func init() {
	Register("sma_cross", func() Strategy {
		return &smaCross{fast: 7, slow: 25}
	})
}

// smaCross is the bundled reference strategy: long on a fast/slow SMA
// crossover, flat on the cross back.
type smaCross struct {
	fast int
	slow int
}

func (s *smaCross) Title() string { return "SMA Cross" }

func (s *smaCross) OnBar(ctx *Context) {
	i := ctx.BarIndex
	fast := sma(ctx.Close, i, s.fast)
	slow := sma(ctx.Close, i, s.slow)

	ctx.PlotWithOptions("sma_fast", fast, map[string]any{"color": "yellow"})
	ctx.PlotWithOptions("sma_slow", slow, map[string]any{"color": "purple"})

	if math.IsNaN(fast) || math.IsNaN(slow) || i == 0 {
		return
	}
	prevFast := sma(ctx.Close, i-1, s.fast)
	prevSlow := sma(ctx.Close, i-1, s.slow)
	if math.IsNaN(prevFast) || math.IsNaN(prevSlow) {
		return
	}

	crossUp := prevFast <= prevSlow && fast > slow
	crossDown := prevFast >= prevSlow && fast < slow

	switch {
	case crossUp && !ctx.InPosition("long"):
		ctx.Entry("long", 1, "sma cross up")
		ctx.PlotChar("▲", "entry", "green", ctx.Low[i])
	case crossDown && ctx.InPosition("long"):
		ctx.ClosePosition("long", "sma cross down")
		ctx.PlotChar("▼", "exit", "red", ctx.High[i])
	}
}

// sma over the window ending at index i; NaN while the window is short.
func sma(series []float64, i, period int) float64 {
	if i+1 < period {
		return math.NaN()
	}
	sum := 0.0
	for j := i - period + 1; j <= i; j++ {
		sum += series[j]
	}
	return sum / float64(period)
}
