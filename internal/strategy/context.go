// Package strategy is the bar-driven strategy runtime: compiled-in
// strategies step over the OHLCV series through a Context that records
// plots, chart markers and position events.
package strategy

import (
	"fmt"
	"math"

	"github.com/google/uuid"

	"realtime-trade/internal/bus"
	"realtime-trade/internal/market"
	"realtime-trade/internal/ohlcv"
)

// Strategy is one compiled-in trading script.
type Strategy interface {
	Title() string
	OnBar(ctx *Context)
}

// Factory builds a fresh strategy instance for one run context.
type Factory func() Strategy

type position struct {
	entryTime  int64
	entryPrice float64
	size       float64
}

type plotSeries struct {
	values  map[int]float64 // bar seq -> value
	options map[string]any
}

// Context is the per-run strategy state. It is rebuilt from the canonical
// file on every prerun; the strategy sees the full series plus the index of
// the bar being processed.
type Context struct {
	Time   []int64 // sec
	Open   []float64
	High   []float64
	Low    []float64
	Close  []float64
	Volume []float64

	BarIndex     int
	LastBarIndex int
	PreRun       bool
	SymInfo      *market.SymbolInfo

	seq         int
	titles      []string
	plots       map[string]*plotSeries
	sentOptions map[string]bool
	positions   map[string]position
	messages    []any
	alerts      []string
}

// NewContext loads the series from canonical bars. Gap-sentinel bars keep
// their slot so indexes line up with the file.
func NewContext(bars []ohlcv.Bar, symInfo *market.SymbolInfo) *Context {
	c := &Context{
		Time:        make([]int64, len(bars)),
		Open:        make([]float64, len(bars)),
		High:        make([]float64, len(bars)),
		Low:         make([]float64, len(bars)),
		Close:       make([]float64, len(bars)),
		Volume:      make([]float64, len(bars)),
		SymInfo:     symInfo,
		seq:         -1,
		plots:       make(map[string]*plotSeries),
		sentOptions: make(map[string]bool),
		positions:   make(map[string]position),
	}
	for i, b := range bars {
		c.Time[i] = b.TS
		c.Open[i] = b.Open
		c.High[i] = b.High
		c.Low[i] = b.Low
		c.Close[i] = b.Close
		c.Volume[i] = b.Volume
	}
	return c
}

// AppendBar extends the series with a new live bar.
func (c *Context) AppendBar(b ohlcv.Bar) {
	c.Time = append(c.Time, b.TS)
	c.Open = append(c.Open, b.Open)
	c.High = append(c.High, b.High)
	c.Low = append(c.Low, b.Low)
	c.Close = append(c.Close, b.Close)
	c.Volume = append(c.Volume, b.Volume)
}

// ReplaceLastBar rewrites the series tail with refreshed confirmed/new bars.
func (c *Context) ReplaceLastBar(b ohlcv.Bar) {
	i := len(c.Time) - 1
	c.Time[i] = b.TS
	c.Open[i] = b.Open
	c.High[i] = b.High
	c.Low[i] = b.Low
	c.Close[i] = b.Close
	c.Volume[i] = b.Volume
}

// BeginBar positions the context on bar i and opens a fresh output slot.
func (c *Context) BeginBar(i int, preRun bool) {
	c.BarIndex = i
	c.PreRun = preRun
	c.seq++
}

// barTime is the current bar's open time in seconds.
func (c *Context) barTime() int64 {
	if c.BarIndex < len(c.Time) {
		return c.Time[c.BarIndex]
	}
	return 0
}

// Plot records a series value for the current bar.
func (c *Context) Plot(title string, value float64) {
	c.PlotWithOptions(title, value, nil)
}

// PlotWithOptions records a value and declares the series' display options.
// The options message is sent once per title per run.
func (c *Context) PlotWithOptions(title string, value float64, options map[string]any) {
	s, ok := c.plots[title]
	if !ok {
		s = &plotSeries{values: make(map[int]float64)}
		c.plots[title] = s
		c.titles = append(c.titles, title)
	}
	if options != nil {
		s.options = options
	}
	if math.IsNaN(value) {
		return
	}
	s.values[c.seq] = value

	if !c.PreRun && !c.sentOptions[title] {
		c.sentOptions[title] = true
		opts := s.options
		if opts == nil {
			opts = map[string]any{}
		}
		c.messages = append(c.messages, bus.PlotOptions{
			Type:    bus.TypePlotOptions,
			Title:   title,
			Options: opts,
		})
	}
}

// PlotChar places one marker on the chart at the current bar.
func (c *Context) PlotChar(char, title, colorName string, value float64) {
	if c.PreRun {
		return
	}
	c.messages = append(c.messages, bus.PlotChar{
		Type:  bus.TypePlotChar,
		Time:  c.barTime(),
		Char:  char,
		Title: title,
		Color: colorName,
		Value: value,
	})
}

// Entry opens (or flips) the position with the given id at the current
// close. Positive size is long, negative is short.
func (c *Context) Entry(id string, size float64, comment string) {
	price := c.Close[c.BarIndex]
	c.positions[id] = position{
		entryTime:  c.barTime(),
		entryPrice: price,
		size:       size,
	}
	if c.PreRun {
		return
	}
	c.messages = append(c.messages, bus.TradeEntry{
		Type:    bus.TypeTradeEntry,
		Time:    c.barTime(),
		Price:   price,
		Size:    size,
		ID:      nonEmptyID(id),
		Comment: comment,
	})
}

// ClosePosition closes the position with the given id at the current close.
func (c *Context) ClosePosition(id string, comment string) {
	p, ok := c.positions[id]
	if !ok {
		return
	}
	delete(c.positions, id)
	price := c.Close[c.BarIndex]
	if c.PreRun {
		return
	}
	c.messages = append(c.messages, bus.TradeClose{
		Type:    bus.TypeTradeClose,
		Time:    c.barTime(),
		Price:   price,
		Size:    p.size,
		ID:      nonEmptyID(id),
		Comment: comment,
		Profit:  (price - p.entryPrice) * p.size,
	})
}

// InPosition reports whether a position with the id is open.
func (c *Context) InPosition(id string) bool {
	_, ok := c.positions[id]
	return ok
}

// Alert queues a free-form message; the runner logs it.
func (c *Context) Alert(format string, args ...any) {
	c.alerts = append(c.alerts, fmt.Sprintf(format, args...))
}

// TakeMessages drains the bus messages queued since the last call.
func (c *Context) TakeMessages() []any {
	m := c.messages
	c.messages = nil
	return m
}

// TakeAlerts drains queued alert lines.
func (c *Context) TakeAlerts() []string {
	a := c.alerts
	c.alerts = nil
	return a
}

// PlotTitles returns the declared series titles in first-use order.
func (c *Context) PlotTitles() []string {
	out := make([]string, len(c.titles))
	copy(out, c.titles)
	return out
}

// RowFor returns the plot row for bar slot seq, positional to titles.
// Series declared after the titles snapshot are omitted.
func (c *Context) RowFor(titles []string, seq int) []*float64 {
	row := make([]*float64, len(titles))
	for i, title := range titles {
		s, ok := c.plots[title]
		if !ok {
			continue
		}
		if v, ok := s.values[seq]; ok {
			vv := v
			row[i] = &vv
		}
	}
	return row
}

// Seq is the number of bars processed so far minus one.
func (c *Context) Seq() int { return c.seq }

func nonEmptyID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}
