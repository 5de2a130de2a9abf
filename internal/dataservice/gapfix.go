package dataservice

import (
	"context"
	"log/slog"
	"time"

	"realtime-trade/internal/ohlcv"
)

// SyntheticVolume marks gap-fixer bars; downstream recognizes them by it.
const SyntheticVolume = 0.01

// TimeSource is the slice of the exchange client the gap fixer needs.
type TimeSource interface {
	ServerTimeMS(ctx context.Context) (int64, error)
	Rebuild()
}

// GapFixer keeps the in-progress bar index advancing when the exchange
// stream is silent across a boundary.
type GapFixer struct {
	Buf     *Buffer
	Clock   TimeSource
	TFMS    int64
	GraceMS int64
	Poll    time.Duration
	Logger  *slog.Logger
}

func NewGapFixer(buf *Buffer, clock TimeSource, tf ohlcv.Timeframe, logger *slog.Logger) *GapFixer {
	return &GapFixer{
		Buf:     buf,
		Clock:   clock,
		TFMS:    tf.MS(),
		GraceMS: 200,
		Poll:    100 * time.Millisecond,
		Logger:  logger,
	}
}

func (g *GapFixer) Run(ctx context.Context) {
	ticker := time.NewTicker(g.Poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		nowMS, err := g.Clock.ServerTimeMS(ctx)
		if err != nil {
			// fall back to the local clock for this tick
			g.Logger.Error("server time fetch failed", "error", err)
			g.Clock.Rebuild()
			nowMS = time.Now().UnixMilli()
		}

		if fake := g.Tick(nowMS); fake != nil {
			g.Logger.Info("inserted synthetic bar", "ts", fake.TS, "close", fake.Close)
			mtxGapBars.Inc()
		}
	}
}

// Tick appends a synthetic bar when the expected boundary has passed with no
// bar at that ts. At most one insertion per expected ts.
func (g *GapFixer) Tick(nowMS int64) *ohlcv.LiveBar {
	g.Buf.Mu.Lock()
	defer g.Buf.Mu.Unlock()

	bars := g.Buf.Bars
	if len(bars) < 2 {
		return nil
	}

	expected := bars[len(bars)-1].TS + g.TFMS
	if nowMS < expected+g.GraceMS {
		return nil
	}
	for _, b := range bars {
		if b.TS == expected {
			return nil
		}
	}
	if g.Buf.LastFixTS == expected {
		return nil
	}

	prevClose := bars[len(bars)-1].Close
	fake := ohlcv.LiveBar{
		TS:     expected,
		Open:   prevClose,
		High:   prevClose,
		Low:    prevClose,
		Close:  prevClose,
		Volume: SyntheticVolume,
	}
	g.Buf.Bars = append(g.Buf.Bars, fake)
	g.Buf.LastFixTS = expected
	return &fake
}
