package cache

import (
	"context"
	"sort"
	"sync"

	"realtime-trade/internal/ohlcv"
)

// Memory is an in-process Store adapter. Not durable; used by tests and the
// dependency-free demo setup.
type Memory struct {
	mu   sync.Mutex
	data map[string]map[int64]ohlcv.Bar
}

func NewMemory() *Memory {
	return &Memory{data: map[string]map[int64]ohlcv.Bar{}}
}

func (m *Memory) Init(ctx context.Context) error { return nil }

func (m *Memory) partition(key ohlcv.SymbolKey) map[int64]ohlcv.Bar {
	p, ok := m.data[key.String()]
	if !ok {
		p = map[int64]ohlcv.Bar{}
		m.data[key.String()] = p
	}
	return p
}

func (m *Memory) UpsertBatch(ctx context.Context, key ohlcv.SymbolKey, bars []ohlcv.Bar) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.partition(key)
	for _, b := range bars {
		p[b.TS] = b
	}
	return nil
}

func (m *Memory) MinTS(ctx context.Context, key ohlcv.SymbolKey) (int64, bool, error) {
	return m.bound(key, false)
}

func (m *Memory) MaxTS(ctx context.Context, key ohlcv.SymbolKey) (int64, bool, error) {
	return m.bound(key, true)
}

func (m *Memory) bound(key ohlcv.SymbolKey, max bool) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.partition(key)
	if len(p) == 0 {
		return 0, false, nil
	}
	var best int64
	first := true
	for ts := range p {
		if first || (max && ts > best) || (!max && ts < best) {
			best = ts
			first = false
		}
	}
	return best, true, nil
}

func (m *Memory) HasAny(ctx context.Context, key ohlcv.SymbolKey) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.partition(key)) > 0, nil
}

func (m *Memory) Range(ctx context.Context, key ohlcv.SymbolKey, sinceTS int64) ([]ohlcv.Bar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.partition(key)
	out := make([]ohlcv.Bar, 0, len(p))
	for ts, b := range p {
		if sinceTS >= 0 && ts < sinceTS {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TS < out[j].TS })
	return out, nil
}

func (m *Memory) Close() {}
