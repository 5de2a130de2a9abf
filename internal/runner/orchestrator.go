package runner

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"realtime-trade/config"
	"realtime-trade/internal/bus"
	"realtime-trade/internal/market"
	"realtime-trade/internal/ohlcv"
	"realtime-trade/internal/plotcsv"
	"realtime-trade/internal/strategy"
)

// hashCheckEvery is the prerun step interval for script change detection.
const hashCheckEvery = 500

// run is one strategy lifetime: created on a prerun event, consumed by the
// matching run_ready, never reused across events.
type run struct {
	id           string
	stream       *BarStream
	lastNewBarMS int64 // ts of the current in-progress bar, 0 = uncalibrated
	done         chan struct{}
}

// Orchestrator is the runner service core: it owns the bus connection, the
// script hash bookkeeping and the current run.
type Orchestrator struct {
	Cfg         *config.AppConfig
	Key         ohlcv.SymbolKey
	Bus         *bus.Client
	Factory     strategy.Factory
	ScriptName  string
	PlotCSVPath string
	Logger      *slog.Logger

	mu      sync.Mutex
	current *run
}

// Run connects to the data service bus and processes frames forever.
func (o *Orchestrator) Run() {
	o.Bus.Run(o.onConnect, o.handleFrame)
}

// onConnect compares the script hash against the stored one; a change since
// the last session resets the data service's run history.
func (o *Orchestrator) onConnect() {
	hash, err := ScriptHash(o.Cfg.Dirs.ScriptsDir, o.ScriptName)
	if err != nil {
		o.Logger.Error("script hash failed", "script", o.ScriptName, "error", err)
		return
	}
	stored, ok := LoadStoredHash(o.Cfg.Dirs.ScriptsDir, o.ScriptName)
	if !ok || stored != hash {
		o.Logger.Info("script changed since last session; resetting history")
		if err := o.Bus.SendJSON(bus.Signal{Type: bus.TypeResetHistory}); err != nil {
			o.Logger.Error("reset_history send failed", "error", err)
		}
		if err := StoreHash(o.Cfg.Dirs.ScriptsDir, o.ScriptName, hash); err != nil {
			o.Logger.Error("hash store failed", "error", err)
		}
	}
}

func (o *Orchestrator) handleFrame(raw []byte) {
	typ, ok := bus.DecodeType(raw)
	if !ok {
		// keepalive
		return
	}
	switch typ {
	case bus.TypePrerunReadyAfterHistoryDownload, bus.TypePrerunReady:
		var ev bus.LifecycleEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			o.Logger.Error("bad lifecycle event", "error", err)
			return
		}
		afterDownload := typ == bus.TypePrerunReadyAfterHistoryDownload
		if afterDownload {
			if err := o.Bus.SendJSON(bus.Ack{Type: bus.TypeAckPrerunReadyAfterHistoryDownload}); err != nil {
				o.Logger.Error("ack send failed", "error", err)
			}
		}
		o.startRun(ev, afterDownload)
	case bus.TypeRunReady:
		var ev bus.LifecycleEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			o.Logger.Error("bad run_ready event", "error", err)
			return
		}
		o.advanceRun(ev)
	}
}

// destroyCurrent finishes the active run's stream and waits for its
// goroutine to drain.
func (o *Orchestrator) destroyCurrent() {
	o.mu.Lock()
	r := o.current
	o.current = nil
	o.mu.Unlock()
	if r == nil {
		return
	}
	r.stream.Finish()
	<-r.done
	o.Logger.Info("run destroyed", "run_id", r.id)
}

// startRun tears down the active run and builds a new one from the
// canonical file. The previous run dies even when the new one fails.
func (o *Orchestrator) startRun(ev bus.LifecycleEvent, afterDownload bool) {
	o.destroyCurrent()

	r := &run{
		id:     uuid.NewString(),
		stream: NewBarStream(),
		done:   make(chan struct{}),
	}
	if n := len(ev.ConfirmedAndNew); n == 2 {
		r.lastNewBarMS = int64(ev.ConfirmedAndNew[1][0])
	}

	o.mu.Lock()
	o.current = r
	o.mu.Unlock()

	go o.runLoop(r, ev, afterDownload)
}

// advanceRun handles run_ready: the confirmed/new pair is fed to the live
// run, which steps through it, and the run context is destroyed at the end
// of the handler in every case. A pair whose new bar does not follow the
// previous one by exactly one timeframe is an out-of-schedule update: no
// bars are fed and no step happens, the run just dies and the next prerun
// event rebuilds it.
func (o *Orchestrator) advanceRun(ev bus.LifecycleEvent) {
	if len(ev.ConfirmedAndNew) != 2 {
		o.Logger.Error("run_ready without bar pair")
		return
	}
	confirmed := ev.ConfirmedAndNew[0].LiveBar()
	newBar := ev.ConfirmedAndNew[1].LiveBar()

	o.mu.Lock()
	r := o.current
	o.mu.Unlock()
	if r == nil {
		o.Logger.Info("run_ready with no live run; waiting for prerun")
		return
	}

	if r.lastNewBarMS == 0 || newBar.TS-r.lastNewBarMS != o.Key.Timeframe.MS() {
		o.Logger.Error("bar sequence break",
			"expected_ms", r.lastNewBarMS+o.Key.Timeframe.MS(), "got_ms", newBar.TS)
		o.destroyCurrent()
		return
	}

	r.stream.ReplaceLast(confirmed.Bar())
	r.stream.Append(newBar.Bar())
	o.destroyCurrent()
}

// loadSeries reads the canonical file and applies the event's pair.
func (o *Orchestrator) loadSeries(ev bus.LifecycleEvent) ([]ohlcv.Bar, error) {
	rd, err := ohlcv.OpenReader(ev.OHLCVPath)
	if err != nil {
		return nil, err
	}
	bars, err := rd.ReadAll()
	rd.Close()
	if err != nil {
		return nil, err
	}
	if len(ev.ConfirmedAndNew) == 2 {
		confirmed := ev.ConfirmedAndNew[0].LiveBar().Bar()
		newBar := ev.ConfirmedAndNew[1].LiveBar().Bar()
		n := len(bars)
		switch {
		case n > 0 && bars[n-1].TS == newBar.TS:
			// rollover rewrite already put both bars at the tail; refresh them
			bars[n-1] = newBar
			if n > 1 && bars[n-2].TS == confirmed.TS {
				bars[n-2] = confirmed
			}
		case n > 0 && bars[n-1].TS == confirmed.TS:
			bars[n-1] = confirmed
			bars = append(bars, newBar)
		default:
			bars = append(bars, confirmed, newBar)
		}
	}
	return bars, nil
}

func countEffective(bars []ohlcv.Bar) int {
	n := 0
	for _, b := range bars {
		if b.Volume >= 0 {
			n++
		}
	}
	return n
}

// runLoop executes prerun over the historical series, then steps live bars
// until the stream finishes. Script edits during prerun restart it.
func (o *Orchestrator) runLoop(r *run, ev bus.LifecycleEvent, afterDownload bool) {
	defer close(r.done)

	var symInfo *market.SymbolInfo
	if si, err := market.LoadSymbolInfo(ev.TomlPath); err == nil {
		symInfo = si
	}

	var (
		ctx   *strategy.Context
		strat strategy.Strategy
	)
	for {
		hash, err := ScriptHash(o.Cfg.Dirs.ScriptsDir, o.ScriptName)
		if err != nil {
			o.Logger.Error("script hash failed", "error", err)
		}

		bars, err := o.loadSeries(ev)
		if err != nil {
			o.Logger.Error("series load failed", "run_id", r.id, "error", err)
			return
		}
		if len(bars) == 0 {
			o.Logger.Error("empty series", "run_id", r.id)
			return
		}

		ctx = strategy.NewContext(bars, symInfo)
		ctx.LastBarIndex = countEffective(bars) - 1
		strat = o.Factory()

		o.Logger.Info("prerun started", "run_id", r.id,
			"bars", len(bars), "effective", countEffective(bars), "after_download", afterDownload)

		modified := o.prerun(ctx, strat, bars, afterDownload, hash)
		if !modified {
			break
		}
		o.Logger.Info("script modified during prerun; restarting", "run_id", r.id)
		if err := o.Bus.SendJSON(bus.Signal{Type: bus.TypeScriptModified}); err != nil {
			o.Logger.Error("script_modified send failed", "error", err)
		}
	}

	if err := o.Bus.SendJSON(bus.ScriptInfo{Type: bus.TypeScriptInfo, Title: strat.Title()}); err != nil {
		o.Logger.Error("script_info send failed", "error", err)
	}
	if err := o.Bus.SendJSON(bus.LastBarOpenFix{
		Type: bus.TypeLastBarOpenFix, LastBarIndex: ctx.LastBarIndex,
	}); err != nil {
		o.Logger.Error("last_bar_open_fix send failed", "error", err)
	}
	o.drainOutputs(ctx)

	titles := ctx.PlotTitles()
	pw, err := plotcsv.Create(o.PlotCSVPath, titles)
	if err != nil {
		o.Logger.Error("plot csv create failed", "error", err)
	} else {
		for seq := 0; seq <= ctx.Seq(); seq++ {
			if err := pw.Append(ctx.Time[o.seqToIndex(ctx, seq)], ctx.RowFor(titles, seq)); err != nil {
				o.Logger.Error("plot csv write failed", "error", err)
				break
			}
		}
	}

	if afterDownload {
		// nothing live to wait for: the run dies once outputs are emitted
		if pw != nil {
			pw.Close()
		}
		o.Logger.Info("after-download run complete", "run_id", r.id)
		return
	}

	o.Logger.Info("run armed", "run_id", r.id, "last_bar_index", ctx.LastBarIndex)
	o.runStep(r, ctx, strat, pw, titles)
	if pw != nil {
		pw.Close()
	}
	o.Logger.Info("run complete", "run_id", r.id, "last_bar_index", ctx.LastBarIndex)
}

// prerun steps the first effective-1 bars with pre_run set; after a history
// download the final bar is stepped live so initial outputs exist. Returns
// true when the script changed underneath it.
func (o *Orchestrator) prerun(ctx *strategy.Context, strat strategy.Strategy,
	bars []ohlcv.Bar, afterDownload bool, startHash string) bool {
	effective := countEffective(bars)
	steps := effective - 1
	stepped := 0
	for i, b := range bars {
		if stepped >= steps {
			// last effective bar: live step only after a download
			if afterDownload && b.Volume >= 0 {
				ctx.BeginBar(i, false)
				strat.OnBar(ctx)
			}
			if b.Volume >= 0 {
				break
			}
			continue
		}
		if b.Volume < 0 {
			continue
		}
		ctx.BeginBar(i, true)
		strat.OnBar(ctx)
		stepped++

		if stepped%hashCheckEvery == 0 {
			if h, err := ScriptHash(o.Cfg.Dirs.ScriptsDir, o.ScriptName); err == nil && h != startHash {
				if err := StoreHash(o.Cfg.Dirs.ScriptsDir, o.ScriptName, h); err != nil {
					o.Logger.Error("hash store failed", "error", err)
				}
				return true
			}
		}
	}
	return false
}

// seqToIndex maps a step slot back to its bar index by walking effective
// bars; slots and effective bars advance in lockstep.
func (o *Orchestrator) seqToIndex(ctx *strategy.Context, seq int) int {
	n := -1
	for i := range ctx.Time {
		if ctx.Volume[i] >= 0 {
			n++
			if n == seq {
				return i
			}
		}
	}
	return len(ctx.Time) - 1
}

// runStep consumes stream operations until the stream finishes: the
// replacement refreshes the tail with the confirmed bar's final values, the
// append brings in the new in-progress bar. The strategy then steps twice,
// consuming the confirmed bar and observing the new one.
func (o *Orchestrator) runStep(r *run, ctx *strategy.Context, strat strategy.Strategy,
	pw *plotcsv.Writer, titles []string) {
	for {
		b, replace, ok := r.stream.Next()
		if !ok {
			return
		}
		if replace {
			ctx.ReplaceLastBar(b)
			continue
		}
		ctx.AppendBar(b)
		ctx.LastBarIndex++

		for _, idx := range []int{len(ctx.Time) - 2, len(ctx.Time) - 1} {
			if ctx.Volume[idx] < 0 {
				continue
			}
			ctx.BeginBar(idx, false)
			strat.OnBar(ctx)
			if pw != nil {
				if err := pw.Append(ctx.Time[idx], ctx.RowFor(titles, ctx.Seq())); err != nil {
					o.Logger.Error("plot csv write failed", "error", err)
				}
			}
		}
		o.drainOutputs(ctx)
	}
}

// drainOutputs forwards queued strategy messages to the data service and
// logs alerts.
func (o *Orchestrator) drainOutputs(ctx *strategy.Context) {
	for _, msg := range ctx.TakeMessages() {
		if err := o.Bus.SendJSON(msg); err != nil {
			o.Logger.Error("strategy message send failed", "error", err)
		}
	}
	for _, alert := range ctx.TakeAlerts() {
		o.Logger.Info("strategy alert", "message", alert)
	}
}
