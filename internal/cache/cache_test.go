package cache

import (
	"context"
	"path/filepath"
	"testing"

	"realtime-trade/internal/ohlcv"
)

func testKey(t *testing.T, symbol string) ohlcv.SymbolKey {
	t.Helper()
	tf, err := ohlcv.ParseTimeframe("5m")
	if err != nil {
		t.Fatal(err)
	}
	return ohlcv.SymbolKey{Provider: "ccxt", Exchange: "binance", Symbol: symbol, Timeframe: tf}
}

func TestMemoryUpsertAndRange(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	key := testKey(t, "BTC/USDT")

	has, err := s.HasAny(ctx, key)
	if err != nil || has {
		t.Fatalf("empty partition: has=%v err=%v", has, err)
	}

	bars := []ohlcv.Bar{
		{TS: 900, Close: 3},
		{TS: 300, Close: 1},
		{TS: 600, Close: 2},
	}
	if err := s.UpsertBatch(ctx, key, bars); err != nil {
		t.Fatalf("UpsertBatch: %v", err)
	}

	minTS, ok, _ := s.MinTS(ctx, key)
	if !ok || minTS != 300 {
		t.Errorf("min ts: expected 300, got %d (ok=%v)", minTS, ok)
	}
	maxTS, ok, _ := s.MaxTS(ctx, key)
	if !ok || maxTS != 900 {
		t.Errorf("max ts: expected 900, got %d (ok=%v)", maxTS, ok)
	}

	// Range is strictly ascending.
	got, err := s.Range(ctx, key, -1)
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 bars, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].TS <= got[i-1].TS {
			t.Errorf("range not ascending at %d: %d <= %d", i, got[i].TS, got[i-1].TS)
		}
	}

	// sinceTS filter
	got, _ = s.Range(ctx, key, 600)
	if len(got) != 2 || got[0].TS != 600 {
		t.Errorf("range since 600: got %v", got)
	}

	// Upsert on conflict replaces values.
	if err := s.UpsertBatch(ctx, key, []ohlcv.Bar{{TS: 600, Close: 99}}); err != nil {
		t.Fatal(err)
	}
	got, _ = s.Range(ctx, key, 600)
	if got[0].Close != 99 {
		t.Errorf("conflict replace: expected close 99, got %v", got[0].Close)
	}
}

// Export then import into a different partition must reproduce the source
// partition under range-scan.
func TestFileRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	src := testKey(t, "BTC/USDT")
	dst := testKey(t, "ETH/USDT")

	bars := []ohlcv.Bar{
		{TS: 300, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10},
		{TS: 600, Open: 1.5, High: 3, Low: 1, Close: 2, Volume: 20},
		{TS: 900, Open: 2, High: 2.5, Low: 1.8, Close: 2.2, Volume: 5},
	}
	if err := s.UpsertBatch(ctx, src, bars); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "round.ohlcv")
	if err := ExportToFile(ctx, s, src, path, -1); err != nil {
		t.Fatalf("ExportToFile: %v", err)
	}
	if err := ImportFromFile(ctx, s, dst, path); err != nil {
		t.Fatalf("ImportFromFile: %v", err)
	}

	a, _ := s.Range(ctx, src, -1)
	b, _ := s.Range(ctx, dst, -1)
	if len(a) != len(b) {
		t.Fatalf("partition sizes differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("bar %d differs: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestExportSince(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	key := testKey(t, "BTC/USDT")
	s.UpsertBatch(ctx, key, []ohlcv.Bar{
		{TS: 300, Close: 1},
		{TS: 600, Close: 2},
		{TS: 900, Close: 3},
	})

	path := filepath.Join(t.TempDir(), "since.ohlcv")
	if err := ExportToFile(ctx, s, key, path, 600); err != nil {
		t.Fatalf("ExportToFile: %v", err)
	}
	r, err := ohlcv.OpenReader(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if r.Size() != 2 {
		t.Fatalf("expected 2 bars, got %d", r.Size())
	}
	if r.StartTimestamp() != 600 {
		t.Errorf("start ts: expected 600, got %d", r.StartTimestamp())
	}
}

// Export truncates whatever was in the target file before.
func TestExportTruncates(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	key := testKey(t, "BTC/USDT")
	s.UpsertBatch(ctx, key, []ohlcv.Bar{{TS: 300, Close: 1}})

	path := filepath.Join(t.TempDir(), "trunc.ohlcv")
	w, _ := ohlcv.OpenWriter(path)
	for _, b := range []ohlcv.Bar{{TS: 100}, {TS: 200}, {TS: 300}, {TS: 400}} {
		w.Write(b)
	}
	w.Close()

	if err := ExportToFile(ctx, s, key, path, -1); err != nil {
		t.Fatal(err)
	}
	r, _ := ohlcv.OpenReader(path)
	defer r.Close()
	if r.Size() != 1 {
		t.Errorf("expected 1 bar after truncating export, got %d", r.Size())
	}
}
