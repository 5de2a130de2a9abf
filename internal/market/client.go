package market

import (
	"context"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"

	"realtime-trade/internal/ohlcv"
)

// Client wraps the exchange REST endpoints the pipeline needs: server time
// and candle fetches. Rebuild() swaps the underlying client after a failure.
type Client struct {
	api *binance.Client
}

func NewClient() *Client {
	return &Client{api: binance.NewClient("", "")}
}

// Rebuild recreates the underlying exchange client.
func (c *Client) Rebuild() {
	c.api = binance.NewClient("", "")
}

// ServerTimeMS returns the exchange server time in milliseconds.
func (c *Client) ServerTimeMS(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return c.api.NewServerTimeService().Do(ctx)
}

// Klines fetches candles for the symbol. startMS/endMS of 0 are omitted.
// Returned bars carry millisecond open-times.
func (c *Client) Klines(ctx context.Context, symbol string, tf ohlcv.Timeframe, startMS, endMS int64, limit int) ([]ohlcv.LiveBar, error) {
	svc := c.api.NewKlinesService().
		Symbol(BinanceSymbol(symbol)).
		Interval(tf.String())
	if startMS > 0 {
		svc = svc.StartTime(startMS)
	}
	if endMS > 0 {
		svc = svc.EndTime(endMS)
	}
	if limit > 0 {
		svc = svc.Limit(limit)
	}
	klines, err := svc.Do(ctx)
	if err != nil {
		return nil, err
	}

	bars := make([]ohlcv.LiveBar, 0, len(klines))
	for _, k := range klines {
		op, _ := strconv.ParseFloat(k.Open, 64)
		hi, _ := strconv.ParseFloat(k.High, 64)
		lo, _ := strconv.ParseFloat(k.Low, 64)
		cl, _ := strconv.ParseFloat(k.Close, 64)
		vol, _ := strconv.ParseFloat(k.Volume, 64)
		bars = append(bars, ohlcv.LiveBar{
			TS:     k.OpenTime,
			Open:   op,
			High:   hi,
			Low:    lo,
			Close:  cl,
			Volume: vol,
		})
	}
	return bars, nil
}

// ExchangeSymbolInfo fetches exchange metadata used to build the symbol-info
// toml (tick size, base/quote assets).
func (c *Client) ExchangeSymbolInfo(ctx context.Context, symbol string) (base, quote string, tickSize float64, err error) {
	info, err := c.api.NewExchangeInfoService().Symbols(BinanceSymbol(symbol)).Do(ctx)
	if err != nil {
		return "", "", 0, err
	}
	for _, s := range info.Symbols {
		if s.Symbol != BinanceSymbol(symbol) {
			continue
		}
		base, quote = s.BaseAsset, s.QuoteAsset
		if pf := s.PriceFilter(); pf != nil {
			tickSize, _ = strconv.ParseFloat(pf.TickSize, 64)
		}
		return base, quote, tickSize, nil
	}
	return "", "", 0, nil
}
