package cache

import (
	"context"
	"fmt"

	"realtime-trade/internal/ohlcv"
)

// Store is the persistent bar cache keyed by (SymbolKey, ts). It is the
// durable source of truth for historical bars and survives restarts.
// Range results are strictly ascending by ts.
type Store interface {
	// Init creates the schema if absent. Idempotent.
	Init(ctx context.Context) error
	// UpsertBatch inserts or replaces bars, atomic per batch.
	UpsertBatch(ctx context.Context, key ohlcv.SymbolKey, bars []ohlcv.Bar) error
	MinTS(ctx context.Context, key ohlcv.SymbolKey) (int64, bool, error)
	MaxTS(ctx context.Context, key ohlcv.SymbolKey) (int64, bool, error)
	HasAny(ctx context.Context, key ohlcv.SymbolKey) (bool, error)
	// Range returns bars with ts >= sinceTS ordered ascending.
	// sinceTS < 0 means the whole partition.
	Range(ctx context.Context, key ohlcv.SymbolKey, sinceTS int64) ([]ohlcv.Bar, error)
	Close()
}

const importBatchSize = 2000

// ImportFromFile streams a canonical bar file into the cache in batches.
func ImportFromFile(ctx context.Context, s Store, key ohlcv.SymbolKey, path string) error {
	r, err := ohlcv.OpenReader(path)
	if err != nil {
		return err
	}
	defer r.Close()

	batch := make([]ohlcv.Bar, 0, importBatchSize)
	for i := 0; i < r.Size(); i++ {
		b, err := r.Read(i)
		if err != nil {
			return err
		}
		batch = append(batch, b)
		if len(batch) >= importBatchSize {
			if err := s.UpsertBatch(ctx, key, batch); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		return s.UpsertBatch(ctx, key, batch)
	}
	return nil
}

// ExportToFile writes the partition into a canonical bar file, truncating any
// previous contents. sinceTS < 0 exports everything.
func ExportToFile(ctx context.Context, s Store, key ohlcv.SymbolKey, path string, sinceTS int64) error {
	bars, err := s.Range(ctx, key, sinceTS)
	if err != nil {
		return err
	}
	w, err := ohlcv.OpenWriter(path)
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.SeekToTimestamp(0); err != nil {
		return err
	}
	if err := w.Truncate(); err != nil {
		return err
	}
	for _, b := range bars {
		if err := w.Write(b); err != nil {
			return fmt.Errorf("export write ts=%d: %w", b.TS, err)
		}
	}
	return w.Sync()
}
