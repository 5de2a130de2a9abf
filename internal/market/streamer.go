package market

import (
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"

	"realtime-trade/internal/ohlcv"
)

// BinanceSymbol maps a config symbol like "BTC/USDT:USDT" to the exchange
// form "BTCUSDT".
func BinanceSymbol(symbol string) string {
	s := symbol
	if i := strings.Index(s, ":"); i >= 0 {
		s = s[:i]
	}
	s = strings.ReplaceAll(s, "/", "")
	return strings.ToUpper(s)
}

// TradeStreamer feeds exchange trade ticks into a channel, reconnecting on
// any stream error.
type TradeStreamer struct {
	Symbol string
	Trades chan ohlcv.Trade
	Logger *slog.Logger
}

func NewTradeStreamer(symbol string, logger *slog.Logger) *TradeStreamer {
	return &TradeStreamer{
		Symbol: BinanceSymbol(symbol),
		Trades: make(chan ohlcv.Trade, 1000),
		Logger: logger,
	}
}

// Start runs the stream until the process exits. A failed connection is
// rebuilt and the loop resumes; no error surfaces to the caller.
func (s *TradeStreamer) Start() {
	s.Logger.Info("starting trade streamer", "symbol", s.Symbol)

	for {
		doneC, _, err := binance.WsAggTradeServe(s.Symbol, s.handle, func(err error) {
			s.Logger.Error("trade stream error", "error", err)
		})
		if err != nil {
			s.Logger.Error("trade stream connect failed", "error", err)
			time.Sleep(5 * time.Second)
			continue
		}
		s.Logger.Info("connected to trade stream", "symbol", s.Symbol)
		<-doneC
		time.Sleep(1 * time.Second)
	}
}

func (s *TradeStreamer) handle(event *binance.WsAggTradeEvent) {
	price, err := strconv.ParseFloat(event.Price, 64)
	if err != nil {
		return
	}
	qty, err := strconv.ParseFloat(event.Quantity, 64)
	if err != nil {
		return
	}
	select {
	case s.Trades <- ohlcv.Trade{TS: event.TradeTime, Price: price, Amount: qty}:
	default:
		// channel full: drop rather than block the ws read loop
	}
}
