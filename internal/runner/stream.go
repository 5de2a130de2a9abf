package runner

import (
	"sync"

	"realtime-trade/internal/ohlcv"
)

// barOp is one queued stream operation.
type barOp struct {
	replace bool
	bar     ohlcv.Bar
}

// BarStream hands bars from the bus goroutine to the run goroutine in
// order. Next blocks until a bar arrives or the stream finishes.
type BarStream struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []barOp
	closed bool
}

func NewBarStream() *BarStream {
	s := &BarStream{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Append queues a new bar.
func (s *BarStream) Append(b ohlcv.Bar) {
	s.mu.Lock()
	if !s.closed {
		s.queue = append(s.queue, barOp{bar: b})
		s.cond.Signal()
	}
	s.mu.Unlock()
}

// ReplaceLast queues a rewrite of the series tail with b.
func (s *BarStream) ReplaceLast(b ohlcv.Bar) {
	s.mu.Lock()
	if !s.closed {
		s.queue = append(s.queue, barOp{replace: true, bar: b})
		s.cond.Signal()
	}
	s.mu.Unlock()
}

// Finish wakes all waiters; Next returns false once the queue drains.
func (s *BarStream) Finish() {
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
}

// Next blocks for the next operation. ok is false after Finish once the
// queue is empty.
func (s *BarStream) Next() (bar ohlcv.Bar, replace bool, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.queue) == 0 && !s.closed {
		s.cond.Wait()
	}
	if len(s.queue) == 0 {
		return ohlcv.Bar{}, false, false
	}
	op := s.queue[0]
	s.queue = s.queue[1:]
	return op.bar, op.replace, true
}
