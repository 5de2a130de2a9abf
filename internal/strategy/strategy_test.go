package strategy

import (
	"math"
	"testing"

	"realtime-trade/internal/bus"
	"realtime-trade/internal/ohlcv"
)

func seriesBars(closes []float64) []ohlcv.Bar {
	bars := make([]ohlcv.Bar, len(closes))
	for i, c := range closes {
		bars[i] = ohlcv.Bar{
			TS: int64(300 * (i + 1)), Open: c, High: c, Low: c, Close: c, Volume: 1,
		}
	}
	return bars
}

func TestContextPositions(t *testing.T) {
	ctx := NewContext(seriesBars([]float64{10, 12, 15}), nil)

	ctx.BeginBar(0, false)
	ctx.Entry("long", 2, "in")
	if !ctx.InPosition("long") {
		t.Fatal("position not opened")
	}

	ctx.BeginBar(2, false)
	ctx.ClosePosition("long", "out")
	if ctx.InPosition("long") {
		t.Fatal("position not closed")
	}

	msgs := ctx.TakeMessages()
	if len(msgs) != 2 {
		t.Fatalf("expected entry+close, got %d messages", len(msgs))
	}
	entry, ok := msgs[0].(bus.TradeEntry)
	if !ok || entry.Type != bus.TypeTradeEntry {
		t.Fatalf("first message: %+v", msgs[0])
	}
	if entry.Price != 10 || entry.Time != 300 {
		t.Errorf("entry price/time: %v/%d", entry.Price, entry.Time)
	}
	tc, ok := msgs[1].(bus.TradeClose)
	if !ok {
		t.Fatalf("second message: %+v", msgs[1])
	}
	// (15 - 10) * 2
	if tc.Profit != 10 {
		t.Errorf("profit: expected 10, got %v", tc.Profit)
	}

	if got := ctx.TakeMessages(); len(got) != 0 {
		t.Error("messages not drained")
	}
}

func TestContextPrerunSuppressesTradeMessages(t *testing.T) {
	ctx := NewContext(seriesBars([]float64{10, 12}), nil)

	ctx.BeginBar(0, true)
	ctx.Entry("long", 1, "")
	ctx.PlotChar("x", "m", "red", 10)
	if msgs := ctx.TakeMessages(); len(msgs) != 0 {
		t.Fatalf("prerun leaked %d messages", len(msgs))
	}
	// bookkeeping still warm: the live close sees the prerun entry
	ctx.BeginBar(1, false)
	ctx.ClosePosition("long", "")
	msgs := ctx.TakeMessages()
	if len(msgs) != 1 {
		t.Fatalf("expected close only, got %d", len(msgs))
	}
	if msgs[0].(bus.TradeClose).Profit != 2 {
		t.Errorf("profit across prerun entry: %v", msgs[0].(bus.TradeClose).Profit)
	}
}

func TestContextPlotRowsAndOptions(t *testing.T) {
	ctx := NewContext(seriesBars([]float64{1, 2, 3}), nil)

	ctx.BeginBar(0, true)
	ctx.PlotWithOptions("a", 1.5, map[string]any{"color": "red"})

	ctx.BeginBar(1, true)
	ctx.Plot("a", 2.5)
	ctx.Plot("b", 7)

	// prerun never sends plot_options
	if msgs := ctx.TakeMessages(); len(msgs) != 0 {
		t.Fatalf("prerun leaked %d messages", len(msgs))
	}

	ctx.BeginBar(2, false)
	ctx.Plot("a", 3.5)
	ctx.Plot("a", math.NaN()) // NaN leaves the cell empty, options already sent
	msgs := ctx.TakeMessages()
	if len(msgs) != 1 {
		t.Fatalf("expected one plot_options, got %d", len(msgs))
	}
	po := msgs[0].(bus.PlotOptions)
	if po.Title != "a" || po.Options["color"] != "red" {
		t.Errorf("plot options: %+v", po)
	}

	titles := ctx.PlotTitles()
	if len(titles) != 2 || titles[0] != "a" || titles[1] != "b" {
		t.Fatalf("titles: %v", titles)
	}

	row0 := ctx.RowFor(titles, 0)
	if row0[0] == nil || *row0[0] != 1.5 || row0[1] != nil {
		t.Errorf("row 0: %v", row0)
	}
	row1 := ctx.RowFor(titles, 1)
	if row1[1] == nil || *row1[1] != 7 {
		t.Errorf("row 1: %v", row1)
	}
}

func TestRegistryLookup(t *testing.T) {
	f, ok := Lookup("sma_cross")
	if !ok {
		t.Fatalf("sma_cross not registered; have %v", Names())
	}
	if title := f().Title(); title != "SMA Cross" {
		t.Errorf("title: %q", title)
	}
	if _, ok := Lookup("nope"); ok {
		t.Error("unknown strategy resolved")
	}
}

func TestSMACrossTradesOnCrossover(t *testing.T) {
	// flat, then a ramp to force the fast SMA over the slow, then a dump
	closes := make([]float64, 0, 60)
	for i := 0; i < 30; i++ {
		closes = append(closes, 100)
	}
	for i := 0; i < 10; i++ {
		closes = append(closes, 100+float64(i+1)*5)
	}
	for i := 0; i < 20; i++ {
		closes = append(closes, 60)
	}

	ctx := NewContext(seriesBars(closes), nil)
	strat := &smaCross{fast: 7, slow: 25}

	var entries, exits int
	for i := range closes {
		ctx.BeginBar(i, false)
		strat.OnBar(ctx)
		for _, msg := range ctx.TakeMessages() {
			switch msg.(type) {
			case bus.TradeEntry:
				entries++
			case bus.TradeClose:
				exits++
			}
		}
	}
	if entries != 1 || exits != 1 {
		t.Errorf("expected 1 entry and 1 exit, got %d/%d", entries, exits)
	}
}

func TestSMAHelper(t *testing.T) {
	series := []float64{1, 2, 3, 4}
	if !math.IsNaN(sma(series, 1, 3)) {
		t.Error("short window must be NaN")
	}
	if got := sma(series, 3, 3); got != 3 {
		t.Errorf("sma: expected 3, got %v", got)
	}
}
