package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"realtime-trade/internal/ohlcv"
)

// Redis is a Store adapter layered on a sorted-set ts index plus a hash of
// rows per partition. Useful when no Postgres is available.
type Redis struct {
	c *redis.Client
}

func NewRedis(addr string) *Redis {
	return &Redis{c: redis.NewClient(&redis.Options{Addr: addr})}
}

// Keys layout helpers
func redisIndexKey(key ohlcv.SymbolKey) string { return fmt.Sprintf("bars:%s:idx", key) }
func redisRowKey(key ohlcv.SymbolKey) string   { return fmt.Sprintf("bars:%s:row", key) }

type redisRow struct {
	O float64 `json:"o"`
	H float64 `json:"h"`
	L float64 `json:"l"`
	C float64 `json:"c"`
	V float64 `json:"v"`
}

func (r *Redis) Init(ctx context.Context) error {
	return r.c.Ping(ctx).Err()
}

func (r *Redis) UpsertBatch(ctx context.Context, key ohlcv.SymbolKey, bars []ohlcv.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	pipe := r.c.TxPipeline()
	members := make([]redis.Z, 0, len(bars))
	fields := make(map[string]any, len(bars))
	for _, b := range bars {
		raw, err := json.Marshal(redisRow{O: b.Open, H: b.High, L: b.Low, C: b.Close, V: b.Volume})
		if err != nil {
			return err
		}
		member := strconv.FormatInt(b.TS, 10)
		members = append(members, redis.Z{Score: float64(b.TS), Member: member})
		fields[member] = raw
	}
	pipe.ZAdd(ctx, redisIndexKey(key), members...)
	pipe.HSet(ctx, redisRowKey(key), fields)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *Redis) MinTS(ctx context.Context, key ohlcv.SymbolKey) (int64, bool, error) {
	return r.endTS(ctx, key, false)
}

func (r *Redis) MaxTS(ctx context.Context, key ohlcv.SymbolKey) (int64, bool, error) {
	return r.endTS(ctx, key, true)
}

func (r *Redis) endTS(ctx context.Context, key ohlcv.SymbolKey, max bool) (int64, bool, error) {
	var res []string
	var err error
	if max {
		res, err = r.c.ZRevRange(ctx, redisIndexKey(key), 0, 0).Result()
	} else {
		res, err = r.c.ZRange(ctx, redisIndexKey(key), 0, 0).Result()
	}
	if err != nil {
		return 0, false, err
	}
	if len(res) == 0 {
		return 0, false, nil
	}
	ts, err := strconv.ParseInt(res[0], 10, 64)
	return ts, err == nil, err
}

func (r *Redis) HasAny(ctx context.Context, key ohlcv.SymbolKey) (bool, error) {
	n, err := r.c.ZCard(ctx, redisIndexKey(key)).Result()
	return n > 0, err
}

func (r *Redis) Range(ctx context.Context, key ohlcv.SymbolKey, sinceTS int64) ([]ohlcv.Bar, error) {
	min := "-inf"
	if sinceTS >= 0 {
		min = strconv.FormatInt(sinceTS, 10)
	}
	members, err := r.c.ZRangeByScore(ctx, redisIndexKey(key), &redis.ZRangeBy{
		Min: min, Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, nil
	}
	raws, err := r.c.HMGet(ctx, redisRowKey(key), members...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]ohlcv.Bar, 0, len(members))
	for i, m := range members {
		ts, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		s, ok := raws[i].(string)
		if !ok {
			continue
		}
		var row redisRow
		if err := json.Unmarshal([]byte(s), &row); err != nil {
			continue
		}
		out = append(out, ohlcv.Bar{TS: ts, Open: row.O, High: row.H, Low: row.L, Close: row.C, Volume: row.V})
	}
	return out, nil
}

func (r *Redis) Close() {
	r.c.Close()
}
