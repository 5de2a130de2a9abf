package cache

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"realtime-trade/internal/ohlcv"
)

// Postgres is the default Store adapter.
type Postgres struct {
	Pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, connString string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}
	return &Postgres{Pool: pool}, nil
}

func (p *Postgres) Init(ctx context.Context) error {
	_, err := p.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS bars (
			provider  TEXT NOT NULL,
			exchange  TEXT NOT NULL,
			symbol    TEXT NOT NULL,
			timeframe TEXT NOT NULL,
			ts        BIGINT NOT NULL,
			open      DOUBLE PRECISION NOT NULL,
			high      DOUBLE PRECISION NOT NULL,
			low       DOUBLE PRECISION NOT NULL,
			close     DOUBLE PRECISION NOT NULL,
			volume    DOUBLE PRECISION NOT NULL,
			PRIMARY KEY (provider, exchange, symbol, timeframe, ts)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create bars table: %w", err)
	}
	return nil
}

func (p *Postgres) UpsertBatch(ctx context.Context, key ohlcv.SymbolKey, bars []ohlcv.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	tx, err := p.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	const q = `
		INSERT INTO bars (provider, exchange, symbol, timeframe, ts, open, high, low, close, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (provider, exchange, symbol, timeframe, ts)
		DO UPDATE SET
			open = excluded.open,
			high = excluded.high,
			low = excluded.low,
			close = excluded.close,
			volume = excluded.volume
	`
	for _, b := range bars {
		batch.Queue(q, key.Provider, key.Exchange, key.Symbol, key.Timeframe.String(),
			b.TS, b.Open, b.High, b.Low, b.Close, b.Volume)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to upsert bars batch: %w", err)
	}
	return tx.Commit(ctx)
}

func (p *Postgres) boundTS(ctx context.Context, key ohlcv.SymbolKey, fn string) (int64, bool, error) {
	var ts *int64
	q := fmt.Sprintf(`
		SELECT %s(ts) FROM bars
		WHERE provider = $1 AND exchange = $2 AND symbol = $3 AND timeframe = $4
	`, fn)
	err := p.Pool.QueryRow(ctx, q,
		key.Provider, key.Exchange, key.Symbol, key.Timeframe.String()).Scan(&ts)
	if err != nil {
		return 0, false, err
	}
	if ts == nil {
		return 0, false, nil
	}
	return *ts, true, nil
}

func (p *Postgres) MinTS(ctx context.Context, key ohlcv.SymbolKey) (int64, bool, error) {
	return p.boundTS(ctx, key, "MIN")
}

func (p *Postgres) MaxTS(ctx context.Context, key ohlcv.SymbolKey) (int64, bool, error) {
	return p.boundTS(ctx, key, "MAX")
}

func (p *Postgres) HasAny(ctx context.Context, key ohlcv.SymbolKey) (bool, error) {
	var one int
	err := p.Pool.QueryRow(ctx, `
		SELECT 1 FROM bars
		WHERE provider = $1 AND exchange = $2 AND symbol = $3 AND timeframe = $4
		LIMIT 1
	`, key.Provider, key.Exchange, key.Symbol, key.Timeframe.String()).Scan(&one)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (p *Postgres) Range(ctx context.Context, key ohlcv.SymbolKey, sinceTS int64) ([]ohlcv.Bar, error) {
	rows, err := p.Pool.Query(ctx, `
		SELECT ts, open, high, low, close, volume FROM bars
		WHERE provider = $1 AND exchange = $2 AND symbol = $3 AND timeframe = $4 AND ts >= $5
		ORDER BY ts
	`, key.Provider, key.Exchange, key.Symbol, key.Timeframe.String(), sinceTS)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ohlcv.Bar
	for rows.Next() {
		var b ohlcv.Bar
		if err := rows.Scan(&b.TS, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (p *Postgres) Close() {
	p.Pool.Close()
}
