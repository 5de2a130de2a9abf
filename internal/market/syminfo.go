package market

import (
	"context"
	"math"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"realtime-trade/internal/ohlcv"
)

// SymbolInfo is the .toml sidecar the runner loads next to the canonical bar
// file. Field names follow the provider's symbol-info layout.
type SymbolInfo struct {
	Prefix       string  `toml:"prefix"`
	Ticker       string  `toml:"ticker"`
	Description  string  `toml:"description"`
	Type         string  `toml:"type"`
	Currency     string  `toml:"currency"`
	BaseCurrency string  `toml:"basecurrency"`
	Period       string  `toml:"period"`
	MinTick      float64 `toml:"mintick"`
	PriceScale   int64   `toml:"pricescale"`
	PointValue   float64 `toml:"pointvalue"`
	Timezone     string  `toml:"timezone"`
}

func LoadSymbolInfo(path string) (*SymbolInfo, error) {
	var si SymbolInfo
	if _, err := toml.DecodeFile(path, &si); err != nil {
		return nil, err
	}
	return &si, nil
}

func (si *SymbolInfo) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(si)
}

// FetchSymbolInfo builds the symbol info from exchange metadata.
func (c *Client) FetchSymbolInfo(ctx context.Context, key ohlcv.SymbolKey) (*SymbolInfo, error) {
	base, quote, tickSize, err := c.ExchangeSymbolInfo(ctx, key.Symbol)
	if err != nil {
		return nil, err
	}
	if tickSize <= 0 {
		tickSize = 0.01
	}
	return &SymbolInfo{
		Prefix:       strings.ToUpper(key.Exchange),
		Ticker:       BinanceSymbol(key.Symbol),
		Description:  key.Symbol,
		Type:         "crypto",
		Currency:     quote,
		BaseCurrency: base,
		Period:       key.Timeframe.FileKey(),
		MinTick:      tickSize,
		PriceScale:   int64(math.Round(1 / tickSize)),
		PointValue:   1.0,
		Timezone:     "UTC",
	}, nil
}
