package dataservice

import (
	"sync"

	"realtime-trade/internal/bus"
	"realtime-trade/internal/ohlcv"
)

// Buffer is the shared live-bar state of the data service. One mutex guards
// it across the collector, the gap fixer and the file updater; work done
// while holding it must never touch the network.
type Buffer struct {
	Mu sync.Mutex

	// Trades holds collected ticks not yet folded past a bar boundary.
	Trades []ohlcv.Trade

	// Bars is ordered by open-time (ms); the last element is the
	// in-progress bar.
	Bars []ohlcv.LiveBar

	// LastFixTS guards against inserting the same synthetic bar twice.
	LastFixTS int64

	// Pending is the prerun event staged while no runner is connected.
	// Delivered on the next subscribe, cleared on ACK.
	Pending *bus.LifecycleEvent
}

// SetPending stages the after-history-download event.
func (b *Buffer) SetPending(ev *bus.LifecycleEvent) {
	b.Mu.Lock()
	b.Pending = ev
	b.Mu.Unlock()
}

// TakePendingCopy returns the staged event without clearing it; replayed on
// every reconnect until acknowledged.
func (b *Buffer) TakePendingCopy() *bus.LifecycleEvent {
	b.Mu.Lock()
	defer b.Mu.Unlock()
	if b.Pending == nil {
		return nil
	}
	ev := *b.Pending
	return &ev
}

// ClearPending handles the runner's ACK.
func (b *Buffer) ClearPending() {
	b.Mu.Lock()
	b.Pending = nil
	b.Mu.Unlock()
}
