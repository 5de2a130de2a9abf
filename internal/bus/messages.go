package bus

import (
	"realtime-trade/internal/ohlcv"
)

// Message types of the D<->R protocol. Every frame is a JSON object with a
// "type" field; non-JSON frames are keepalives.
const (
	// data service -> runner lifecycle
	TypePrerunReadyAfterHistoryDownload = "prerun_ready_after_history_download"
	TypePrerunReady                     = "prerun_ready"
	TypeRunReady                        = "run_ready"

	// data service -> subscribers
	TypeBar = "bar"

	// runner -> data service
	TypeAckPrerunReadyAfterHistoryDownload = "ack_prerun_ready_after_history_download"
	TypeScriptInfo                         = "script_info"
	TypeScriptModified                     = "script_modified"
	TypeResetHistory                       = "reset_history"
	TypeLastBarOpenFix                     = "last_bar_open_fix"
	TypeTradeEntry                         = "trade_entry"
	TypeTradeClose                         = "trade_close"
	TypePlotOptions                        = "plot_options"
	TypePlotData                           = "plot_data"
	TypePlotChar                           = "plotchar"
)

// WireBar is the raw bar tuple on the bus: [ts_ms, open, high, low, close, volume].
type WireBar [6]float64

func ToWireBar(b ohlcv.LiveBar) WireBar {
	return WireBar{float64(b.TS), b.Open, b.High, b.Low, b.Close, b.Volume}
}

func (w WireBar) LiveBar() ohlcv.LiveBar {
	return ohlcv.LiveBar{TS: int64(w[0]), Open: w[1], High: w[2], Low: w[3], Close: w[4], Volume: w[5]}
}

// LifecycleEvent is one of the three prerun/run events. ConfirmedAndNew is
// nil for the after-history-download event and the [confirmed, new] pair
// otherwise, with millisecond timestamps.
type LifecycleEvent struct {
	Type            string    `json:"type"`
	OHLCVPath       string    `json:"ohlcv_path"`
	TomlPath        string    `json:"toml_path"`
	ConfirmedAndNew []WireBar `json:"confirmed_bar_and_new_bar"`
}

// BarEvent streams the in-progress bar to UI subscribers, ts in seconds.
type BarEvent struct {
	Type string  `json:"type"`
	Data BarData `json:"data"`
}

type BarData struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

func NewBarEvent(b ohlcv.LiveBar) BarEvent {
	return BarEvent{
		Type: TypeBar,
		Data: BarData{
			Time:   b.TS / 1000,
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: b.Volume,
		},
	}
}

// Ack clears the pending after-history-download event on D.
type Ack struct {
	Type string `json:"type"`
}

// Signal is a bare type-only frame (script_modified, reset_history).
type Signal struct {
	Type string `json:"type"`
}

// ScriptInfo announces the running strategy's title.
type ScriptInfo struct {
	Type  string `json:"type"`
	Title string `json:"title"`
}

// LastBarOpenFix reports the runner's calibrated last bar index.
type LastBarOpenFix struct {
	Type         string `json:"type"`
	LastBarIndex int    `json:"last_bar_index"`
}

// TradeEntry / TradeClose mirror the strategy's position callbacks.
// Times are in seconds.
type TradeEntry struct {
	Type    string  `json:"type"`
	Time    int64   `json:"time"`
	Price   float64 `json:"price"`
	Size    float64 `json:"size"`
	ID      string  `json:"id"`
	Comment string  `json:"comment"`
}

type TradeClose struct {
	Type    string  `json:"type"`
	Time    int64   `json:"time"`
	Price   float64 `json:"price"`
	Size    float64 `json:"size"`
	ID      string  `json:"id"`
	Comment string  `json:"comment"`
	Profit  float64 `json:"profit"`
}

// PlotOptions declares one plot series, de-duplicated by title+options.
type PlotOptions struct {
	Type    string         `json:"type"`
	Title   string         `json:"title"`
	Options map[string]any `json:"options"`
}

// PlotChar is a single marker placed on the chart.
type PlotChar struct {
	Type  string  `json:"type"`
	Time  int64   `json:"time"`
	Char  string  `json:"char"`
	Title string  `json:"title"`
	Color string  `json:"color"`
	Value float64 `json:"value"`
}
