package ohlcv

// Bar is one OHLCV record. TS is the bar's open-time in seconds, aligned to a
// timeframe boundary. A negative volume marks a provider-side gap sentinel.
type Bar struct {
	TS     int64
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// LiveBar is an in-progress or freshly confirmed bar from the live buffer.
// TS is in milliseconds. OHLC values are full 64-bit floats as produced by the
// trade fold; they get narrowed when written to the canonical file.
type LiveBar struct {
	TS     int64
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// f32 narrows to the canonical file's 32-bit precision so pre-run and
// steady-state observe identical values.
func f32(v float64) float64 { return float64(float32(v)) }

// Bar converts to a file-precision bar with TS in seconds.
func (b LiveBar) Bar() Bar {
	return Bar{
		TS:     b.TS / 1000,
		Open:   f32(b.Open),
		High:   f32(b.High),
		Low:    f32(b.Low),
		Close:  f32(b.Close),
		Volume: f32(b.Volume),
	}
}

// Trade is a single exchange trade tick.
type Trade struct {
	TS     int64 // ms
	Price  float64
	Amount float64
}

// BuildOHLCV folds trades into bars of tfMS width. The epoch for boundary
// alignment is sinceMS rounded down to the timeframe boundary; trades older
// than sinceMS are skipped. Trades are expected in ascending time order.
func BuildOHLCV(trades []Trade, tfMS, sinceMS int64) []LiveBar {
	var bars []LiveBar
	for _, t := range trades {
		if t.TS < sinceMS {
			continue
		}
		openTime := t.TS - t.TS%tfMS
		if len(bars) == 0 || openTime > bars[len(bars)-1].TS {
			bars = append(bars, LiveBar{
				TS:     openTime,
				Open:   t.Price,
				High:   t.Price,
				Low:    t.Price,
				Close:  t.Price,
				Volume: t.Amount,
			})
			continue
		}
		last := &bars[len(bars)-1]
		if openTime < last.TS {
			// out-of-order leftover from before the last boundary
			continue
		}
		if t.Price > last.High {
			last.High = t.Price
		}
		if t.Price < last.Low {
			last.Low = t.Price
		}
		last.Close = t.Price
		last.Volume += t.Amount
	}
	return bars
}

// FilterSince drops trades older than sinceMS, bounding collector memory.
func FilterSince(trades []Trade, sinceMS int64) []Trade {
	i := 0
	for i < len(trades) && trades[i].TS < sinceMS {
		i++
	}
	return trades[i:]
}
