package market

import (
	"path/filepath"
	"testing"
)

func TestBinanceSymbol(t *testing.T) {
	cases := map[string]string{
		"BTC/USDT":      "BTCUSDT",
		"BTC/USDT:USDT": "BTCUSDT",
		"eth/usdt":      "ETHUSDT",
		"BTCUSDT":       "BTCUSDT",
	}
	for in, want := range cases {
		if got := BinanceSymbol(in); got != want {
			t.Errorf("BinanceSymbol(%q): expected %q, got %q", in, want, got)
		}
	}
}

func TestSymbolInfoRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sym.toml")
	si := &SymbolInfo{
		Prefix:       "BINANCE",
		Ticker:       "BTCUSDT",
		Description:  "BTC/USDT",
		Type:         "crypto",
		Currency:     "USDT",
		BaseCurrency: "BTC",
		Period:       "5",
		MinTick:      0.01,
		PriceScale:   100,
		PointValue:   1.0,
		Timezone:     "UTC",
	}
	if err := si.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := LoadSymbolInfo(path)
	if err != nil {
		t.Fatalf("LoadSymbolInfo: %v", err)
	}
	if *got != *si {
		t.Errorf("round trip mismatch:\n%+v\n%+v", got, si)
	}
}
