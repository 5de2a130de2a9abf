package market

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"realtime-trade/internal/cache"
	"realtime-trade/internal/ohlcv"
)

const downloadChunk = 1000

// Provider downloads full candle history into canonical bar files and the
// persistent cache. Exchange-side holes are written as negative-volume
// sentinel bars so record spacing stays exactly one timeframe.
type Provider struct {
	Client *Client
	Logger *slog.Logger
}

func NewProvider(logger *slog.Logger) *Provider {
	return &Provider{Client: NewClient(), Logger: logger}
}

// writeRange fetches [from, to) in chunks and appends to w, gap-filling with
// sentinels. Returns the number of records written.
func (p *Provider) writeRange(ctx context.Context, w *ohlcv.Writer, key ohlcv.SymbolKey, fromMS, toMS int64) (int, error) {
	tfMS := key.Timeframe.MS()
	tfSec := key.Timeframe.Secs()
	written := 0
	cur := fromMS

	var prev *ohlcv.Bar
	if w.Size() > 0 {
		last, err := w.ReadLast()
		if err != nil {
			return 0, err
		}
		prev = &last
	}

	for cur < toMS {
		bars, err := p.Client.Klines(ctx, key.Symbol, key.Timeframe, cur, toMS, downloadChunk)
		if err != nil {
			return written, fmt.Errorf("klines from %d: %w", cur, err)
		}
		if len(bars) == 0 {
			break
		}
		for _, lb := range bars {
			b := lb.Bar()
			if prev != nil {
				if b.TS <= prev.TS {
					continue
				}
				// fill exchange-side holes with gap sentinels
				for expected := prev.TS + tfSec; expected < b.TS; expected += tfSec {
					gap := ohlcv.Bar{
						TS: expected, Open: prev.Close, High: prev.Close,
						Low: prev.Close, Close: prev.Close, Volume: -1,
					}
					if err := w.Write(gap); err != nil {
						return written, err
					}
					written++
				}
			}
			if err := w.Write(b); err != nil {
				return written, err
			}
			written++
			bb := b
			prev = &bb
		}
		next := bars[len(bars)-1].TS + tfMS
		if next <= cur {
			break
		}
		cur = next
	}
	return written, nil
}

// DownloadHistory performs the full-history download: canonical file plus
// symbol-info toml. Partial output is removed on failure.
func (p *Provider) DownloadHistory(ctx context.Context, key ohlcv.SymbolKey, dataDir string, since time.Time) error {
	ohlcvPath, tomlPath := key.FilePaths(dataDir)

	si, err := p.Client.FetchSymbolInfo(ctx, key)
	if err != nil {
		return fmt.Errorf("symbol info: %w", err)
	}
	if err := si.Save(tomlPath); err != nil {
		return err
	}

	w, err := ohlcv.OpenWriter(ohlcvPath)
	if err != nil {
		return err
	}
	n, err := p.writeRange(ctx, w, key, since.UnixMilli(), time.Now().UnixMilli())
	cerr := w.Close()
	if err != nil {
		return err
	}
	if cerr != nil {
		return cerr
	}
	p.Logger.Info("history download complete", "symbol", key.Symbol, "bars", n, "path", ohlcvPath)
	return nil
}

// DownloadRangeIntoCache stages [from, to) into a temporary file and imports
// it into the cache.
func (p *Provider) DownloadRangeIntoCache(ctx context.Context, store cache.Store, key ohlcv.SymbolKey, from, to time.Time) error {
	dir, err := os.MkdirTemp("", "ohlcv-staging-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	staging := filepath.Join(dir, "range.ohlcv")
	w, err := ohlcv.OpenWriter(staging)
	if err != nil {
		return err
	}
	n, err := p.writeRange(ctx, w, key, from.UnixMilli(), to.UnixMilli())
	cerr := w.Close()
	if err != nil {
		return err
	}
	if cerr != nil {
		return cerr
	}
	if n == 0 {
		return nil
	}
	if err := cache.ImportFromFile(ctx, store, key, staging); err != nil {
		return err
	}
	p.Logger.Info("cache updated from range download", "symbol", key.Symbol, "bars", n)
	return nil
}

// RegenerateSymbolInfo rewrites the toml sidecar from provider metadata.
func (p *Provider) RegenerateSymbolInfo(ctx context.Context, key ohlcv.SymbolKey, tomlPath string) error {
	si, err := p.Client.FetchSymbolInfo(ctx, key)
	if err != nil {
		return err
	}
	return si.Save(tomlPath)
}

// FetchTail fetches candles from one bar before the file's last record to
// now, used by the first pre-run fetch after a history download.
func (p *Provider) FetchTail(ctx context.Context, key ohlcv.SymbolKey, ohlcvPath string) ([]ohlcv.LiveBar, error) {
	r, err := ohlcv.OpenReader(ohlcvPath)
	if err != nil {
		return nil, err
	}
	lastTS := r.EndTimestamp()
	r.Close()
	if lastTS == 0 {
		return nil, fmt.Errorf("empty canonical file: %s", ohlcvPath)
	}
	since := lastTS*1000 - key.Timeframe.MS()
	return p.Client.Klines(ctx, key.Symbol, key.Timeframe, since, 0, downloadChunk)
}
