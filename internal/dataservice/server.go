package dataservice

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"realtime-trade/config"
	"realtime-trade/internal/bus"
	"realtime-trade/internal/market"
	"realtime-trade/internal/notifier"
	"realtime-trade/internal/ohlcv"
	"realtime-trade/internal/plotcsv"
)

const defaultBarLimit = 500

// Histories collects what the runner reported since its last reset, served
// back to UI clients that connect mid-run.
type Histories struct {
	mu           sync.Mutex
	scriptTitle  string
	lastBarIndex int
	trades       []json.RawMessage
	plotChars    []json.RawMessage
	plotOptions  []bus.PlotOptions
}

func (h *Histories) reset() {
	h.mu.Lock()
	h.trades = nil
	h.plotChars = nil
	h.plotOptions = nil
	h.mu.Unlock()
}

// Server is the data service's HTTP surface: REST endpoints for UI state,
// the chart renderer, prometheus metrics and the websocket bus.
type Server struct {
	Cfg         *config.AppConfig
	Key         ohlcv.SymbolKey
	Hub         *Hub
	Buf         *Buffer
	OHLCVPath   string
	TomlPath    string
	PlotCSVPath string
	Notifier    *notifier.Notifier
	Logger      *slog.Logger

	hist Histories
}

// HandleMessage routes one runner frame: update local history, then relay to
// the other subscribers.
func (s *Server) HandleMessage(typ string, raw json.RawMessage) {
	switch typ {
	case bus.TypeAckPrerunReadyAfterHistoryDownload:
		s.Buf.ClearPending()
		s.Logger.Info("pending prerun event acknowledged")
		return
	case bus.TypeScriptInfo:
		var si bus.ScriptInfo
		if err := json.Unmarshal(raw, &si); err == nil {
			s.hist.mu.Lock()
			s.hist.scriptTitle = si.Title
			s.hist.mu.Unlock()
		}
	case bus.TypeLastBarOpenFix:
		var fix bus.LastBarOpenFix
		if err := json.Unmarshal(raw, &fix); err == nil {
			s.hist.mu.Lock()
			s.hist.lastBarIndex = fix.LastBarIndex
			s.hist.mu.Unlock()
		}
	case bus.TypeResetHistory:
		s.hist.reset()
	case bus.TypeTradeEntry, bus.TypeTradeClose:
		s.hist.mu.Lock()
		s.hist.trades = append(s.hist.trades, raw)
		s.hist.mu.Unlock()
		if s.Notifier != nil {
			go s.Notifier.NotifyTrade(raw, tradeSummary(typ, raw))
		}
	case bus.TypePlotChar:
		s.hist.mu.Lock()
		s.hist.plotChars = append(s.hist.plotChars, raw)
		s.hist.mu.Unlock()
	case bus.TypePlotOptions:
		var po bus.PlotOptions
		if err := json.Unmarshal(raw, &po); err == nil {
			s.hist.mu.Lock()
			replaced := false
			for i := range s.hist.plotOptions {
				if s.hist.plotOptions[i].Title == po.Title {
					s.hist.plotOptions[i] = po
					replaced = true
					break
				}
			}
			if !replaced {
				s.hist.plotOptions = append(s.hist.plotOptions, po)
			}
			s.hist.mu.Unlock()
		}
	}
	s.Hub.BroadcastRaw(raw)
}

func tradeSummary(typ string, raw json.RawMessage) string {
	if typ == bus.TypeTradeClose {
		var tc bus.TradeClose
		if err := json.Unmarshal(raw, &tc); err == nil {
			return fmt.Sprintf("close %s: %.2f @ %.8g (profit %.8g)", tc.ID, tc.Size, tc.Price, tc.Profit)
		}
	}
	var te bus.TradeEntry
	if err := json.Unmarshal(raw, &te); err == nil {
		return fmt.Sprintf("entry %s: %.2f @ %.8g", te.ID, te.Size, te.Price)
	}
	return "trade event"
}

// Routes builds the service mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/api/ohlcv", s.handleOHLCV)
	mux.HandleFunc("/api/trades", s.handleTrades)
	mux.HandleFunc("/api/plotchar", s.handlePlotChar)
	mux.HandleFunc("/api/plot", s.handlePlot)
	mux.HandleFunc("/api/info", s.handleInfo)
	mux.HandleFunc("/api/webhook-config", s.handleWebhookConfig)
	mux.HandleFunc("/api/chart.png", s.handleChart)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws", s.Hub.ServeWS)
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, map[string]any{
		"service":   "data",
		"provider":  s.Key.Provider,
		"exchange":  s.Key.Exchange,
		"symbol":    s.Key.Symbol,
		"timeframe": s.Key.Timeframe.String(),
	})
}

func limitParam(r *http.Request) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return defaultBarLimit
}

// readFileTail returns the last limit records of the canonical file.
func (s *Server) readFileTail(limit int) ([]ohlcv.Bar, error) {
	rd, err := ohlcv.OpenReader(s.OHLCVPath)
	if err != nil {
		return nil, err
	}
	defer rd.Close()
	start := rd.Size() - limit
	if start < 0 {
		start = 0
	}
	bars := make([]ohlcv.Bar, 0, rd.Size()-start)
	for i := start; i < rd.Size(); i++ {
		b, err := rd.Read(i)
		if err != nil {
			return nil, err
		}
		bars = append(bars, b)
	}
	return bars, nil
}

func (s *Server) handleOHLCV(w http.ResponseWriter, r *http.Request) {
	bars, err := s.readFileTail(limitParam(r))
	if err != nil {
		// no canonical file yet (pre-download): empty series, not an error
		writeJSON(w, [][6]float64{})
		return
	}
	out := make([][6]float64, len(bars))
	for i, b := range bars {
		out[i] = [6]float64{float64(b.TS), b.Open, b.High, b.Low, b.Close, b.Volume}
	}
	writeJSON(w, out)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	s.hist.mu.Lock()
	trades := append([]json.RawMessage(nil), s.hist.trades...)
	s.hist.mu.Unlock()
	if trades == nil {
		trades = []json.RawMessage{}
	}
	writeJSON(w, trades)
}

func (s *Server) handlePlotChar(w http.ResponseWriter, r *http.Request) {
	s.hist.mu.Lock()
	chars := append([]json.RawMessage(nil), s.hist.plotChars...)
	s.hist.mu.Unlock()
	if chars == nil {
		chars = []json.RawMessage{}
	}
	writeJSON(w, chars)
}

type plotSeriesResponse struct {
	Title   string         `json:"title"`
	Options map[string]any `json:"options"`
	Data    []plotPoint    `json:"data"`
}

type plotPoint struct {
	Time  int64   `json:"time"`
	Value float64 `json:"value"`
}

// handlePlot joins the run's plot CSV with the declared plot options.
func (s *Server) handlePlot(w http.ResponseWriter, r *http.Request) {
	titles, rows, err := plotcsv.Read(s.PlotCSVPath, limitParam(r))
	if err != nil {
		writeJSON(w, []plotSeriesResponse{})
		return
	}

	s.hist.mu.Lock()
	options := make(map[string]map[string]any, len(s.hist.plotOptions))
	for _, po := range s.hist.plotOptions {
		options[po.Title] = po.Options
	}
	s.hist.mu.Unlock()

	out := make([]plotSeriesResponse, 0, len(titles))
	for i, title := range titles {
		series := plotSeriesResponse{Title: title, Options: options[title], Data: []plotPoint{}}
		for _, row := range rows {
			if v := row.Values[i]; v != nil {
				series.Data = append(series.Data, plotPoint{Time: row.Time, Value: *v})
			}
		}
		out = append(out, series)
	}
	writeJSON(w, out)
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	s.hist.mu.Lock()
	title := s.hist.scriptTitle
	lastBarIndex := s.hist.lastBarIndex
	s.hist.mu.Unlock()

	info := map[string]any{
		"provider":       s.Key.Provider,
		"exchange":       s.Key.Exchange,
		"symbol":         s.Key.Symbol,
		"timeframe":      s.Key.Timeframe.String(),
		"script_title":   title,
		"last_bar_index": lastBarIndex,
	}
	if si, err := market.LoadSymbolInfo(s.TomlPath); err == nil {
		info["symbol_info"] = si
	}
	writeJSON(w, info)
}

func (s *Server) handleWebhookConfig(w http.ResponseWriter, r *http.Request) {
	configFile := s.Cfg.Dirs.ConfigFile()
	switch r.Method {
	case http.MethodGet:
		var doc struct {
			Webhook config.WebhookConfig `toml:"webhook"`
		}
		if _, err := toml.DecodeFile(configFile, &doc); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, doc.Webhook)
	case http.MethodPost:
		var body struct {
			Enabled              *bool `json:"enabled"`
			TelegramNotification *bool `json:"telegram_notification"`
		}
		dec := json.NewDecoder(r.Body)
		if err := dec.Decode(&body); err != nil {
			http.Error(w, "enabled and telegram_notification must be booleans", http.StatusBadRequest)
			return
		}
		out, err := config.SaveWebhook(configFile, body.Enabled, body.TelegramNotification)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, out)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	bars, err := s.readFileTail(limitParam(r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var series []ChartSeries
	if titles, rows, err := plotcsv.Read(s.PlotCSVPath, 0); err == nil {
		for i, title := range titles {
			cs := ChartSeries{Title: title, Points: make(map[int64]float64)}
			for _, row := range rows {
				if v := row.Values[i]; v != nil {
					cs.Points[row.Time] = *v
				}
			}
			series = append(series, cs)
		}
	}

	w.Header().Set("Content-Type", "image/png")
	if err := RenderChartPNG(w, s.Key.Symbol, bars, series); err != nil {
		s.Logger.Error("chart render failed", "error", err)
	}
}
