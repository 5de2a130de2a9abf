package dataservice

import (
	"log/slog"

	"realtime-trade/internal/ohlcv"
)

// Collector maintains the live bar buffer from the exchange trade stream.
type Collector struct {
	Buf     *Buffer
	Trades  <-chan ohlcv.Trade
	TFMS    int64
	SinceMS int64 // fold epoch, one timeframe before service start
	OnBar   func(ohlcv.LiveBar)
	Logger  *slog.Logger
}

func NewCollector(buf *Buffer, trades <-chan ohlcv.Trade, tf ohlcv.Timeframe, nowMS int64, onBar func(ohlcv.LiveBar), logger *slog.Logger) *Collector {
	return &Collector{
		Buf:     buf,
		Trades:  trades,
		TFMS:    tf.MS(),
		SinceMS: nowMS - tf.MS(),
		OnBar:   onBar,
		Logger:  logger,
	}
}

// Run folds incoming trade batches into the buffer until the channel closes.
func (c *Collector) Run() {
	for t := range c.Trades {
		batch := []ohlcv.Trade{t}
		// drain whatever else arrived in this burst
	drained:
		for {
			select {
			case more, ok := <-c.Trades:
				if !ok {
					break drained
				}
				batch = append(batch, more)
			default:
				break drained
			}
		}
		if toPush := c.Collect(batch); toPush != nil && c.OnBar != nil {
			c.OnBar(*toPush)
		}
	}
}

// Collect folds one batch under the buffer lock and returns the bar to
// publish, if any.
func (c *Collector) Collect(batch []ohlcv.Trade) *ohlcv.LiveBar {
	var toPush *ohlcv.LiveBar

	c.Buf.Mu.Lock()
	defer c.Buf.Mu.Unlock()

	c.Buf.Trades = append(c.Buf.Trades, batch...)
	mtxTradesCollected.Add(float64(len(batch)))

	since := c.SinceMS - c.SinceMS%c.TFMS
	generated := ohlcv.BuildOHLCV(c.Buf.Trades, c.TFMS, since)

	for _, bar := range generated {
		lastTS := int64(0)
		if n := len(c.Buf.Bars); n > 0 {
			lastTS = c.Buf.Bars[n-1].TS
		}
		switch {
		case bar.TS == lastTS && lastTS != 0:
			// in-progress bar refinement
			c.Buf.Bars[len(c.Buf.Bars)-1] = bar
			b := bar
			toPush = &b
		case bar.TS > lastTS:
			c.Buf.Bars = append(c.Buf.Bars, bar)
			c.Buf.Trades = ohlcv.FilterSince(c.Buf.Trades, bar.TS)
			mtxBarsBuilt.Inc()
			b := bar
			toPush = &b
		}
	}
	return toPush
}
