package runner

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"realtime-trade/config"
	"realtime-trade/internal/bus"
	"realtime-trade/internal/ohlcv"
	"realtime-trade/internal/strategy"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// --- bar stream ---

func TestBarStreamOrderAndFinish(t *testing.T) {
	s := NewBarStream()
	s.Append(ohlcv.Bar{TS: 300})
	s.ReplaceLast(ohlcv.Bar{TS: 300, Close: 5})
	s.Append(ohlcv.Bar{TS: 600})
	s.Finish()

	b, replace, ok := s.Next()
	if !ok || replace || b.TS != 300 {
		t.Fatalf("first op: %v %v %v", b, replace, ok)
	}
	b, replace, ok = s.Next()
	if !ok || !replace || b.Close != 5 {
		t.Fatalf("second op: %v %v %v", b, replace, ok)
	}
	b, replace, ok = s.Next()
	if !ok || replace || b.TS != 600 {
		t.Fatalf("third op: %v %v %v", b, replace, ok)
	}
	if _, _, ok := s.Next(); ok {
		t.Fatal("Next after drain must report closed")
	}
	// appends after Finish are dropped
	s.Append(ohlcv.Bar{TS: 900})
	if _, _, ok := s.Next(); ok {
		t.Fatal("append after Finish leaked")
	}
}

func TestBarStreamBlocksUntilSignal(t *testing.T) {
	s := NewBarStream()
	got := make(chan ohlcv.Bar, 1)
	go func() {
		b, _, ok := s.Next()
		if ok {
			got <- b
		}
	}()
	time.Sleep(10 * time.Millisecond)
	s.Append(ohlcv.Bar{TS: 1200})
	select {
	case b := <-got:
		if b.TS != 1200 {
			t.Errorf("ts: %d", b.TS)
		}
	case <-time.After(time.Second):
		t.Fatal("Next did not wake")
	}
}

// --- script hashing ---

func TestScriptHashTracksSiblings(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "main.pyne"), []byte("import helper\nplot(1)\n"), 0o644)
	os.WriteFile(filepath.Join(dir, "helper.pyne"), []byte("x = 1\n"), 0o644)

	h1, err := ScriptHash(dir, "main.pyne")
	if err != nil {
		t.Fatalf("ScriptHash: %v", err)
	}

	// editing the imported sibling changes the hash
	os.WriteFile(filepath.Join(dir, "helper.pyne"), []byte("x = 2\n"), 0o644)
	h2, err := ScriptHash(dir, "main.pyne")
	if err != nil {
		t.Fatalf("ScriptHash: %v", err)
	}
	if h1 == h2 {
		t.Error("sibling edit did not change hash")
	}

	// an unrelated file does not
	os.WriteFile(filepath.Join(dir, "other.pyne"), []byte("y = 3\n"), 0o644)
	h3, _ := ScriptHash(dir, "main.pyne")
	if h2 != h3 {
		t.Error("unrelated file changed hash")
	}
}

func TestSiblingImports(t *testing.T) {
	src := []byte("import ta\nfrom util import ema\nimport ta\n  # import commented\n")
	got := siblingImports(src)
	if len(got) != 2 || got[0] != "ta" || got[1] != "util" {
		t.Errorf("imports: %v", got)
	}
}

func TestStoreAndLoadHash(t *testing.T) {
	dir := t.TempDir()
	if _, ok := LoadStoredHash(dir, "a.pyne"); ok {
		t.Fatal("hash present in empty dir")
	}
	if err := StoreHash(dir, "a.pyne", "h1"); err != nil {
		t.Fatalf("StoreHash: %v", err)
	}
	if err := StoreHash(dir, "b.pyne", "h2"); err != nil {
		t.Fatalf("StoreHash: %v", err)
	}
	if err := StoreHash(dir, "a.pyne", "h3"); err != nil {
		t.Fatalf("StoreHash: %v", err)
	}
	if h, ok := LoadStoredHash(dir, "a.pyne"); !ok || h != "h3" {
		t.Errorf("a.pyne: %q %v", h, ok)
	}
	if h, ok := LoadStoredHash(dir, "b.pyne"); !ok || h != "h2" {
		t.Errorf("b.pyne: %q %v", h, ok)
	}
}

// --- orchestrator ---

func testOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	tf, _ := ohlcv.ParseTimeframe("5m")
	dirs := config.Dirs{
		ScriptsDir: t.TempDir(),
		OutputDir:  t.TempDir(),
	}
	return &Orchestrator{
		Cfg: &config.AppConfig{Dirs: dirs},
		Key: ohlcv.SymbolKey{
			Provider: "ccxt", Exchange: "binance", Symbol: "BTC/USDT", Timeframe: tf,
		},
		Bus:         bus.NewClient("ws://127.0.0.1:0/ws", testLogger()),
		Factory:     func() strategy.Strategy { return &countingStrategy{} },
		ScriptName:  "counting.pyne",
		PlotCSVPath: filepath.Join(dirs.OutputDir, "plot.csv"),
		Logger:      testLogger(),
	}
}

type countingStrategy struct {
	prerunSteps int
	liveSteps   int
	lastBarIdx  int
	times       []int64
}

func (c *countingStrategy) Title() string { return "Counting" }

func (c *countingStrategy) OnBar(ctx *strategy.Context) {
	if ctx.PreRun {
		c.prerunSteps++
	} else {
		c.liveSteps++
	}
	c.lastBarIdx = ctx.LastBarIndex
	c.times = append([]int64(nil), ctx.Time...)
	ctx.Plot("bar_index", float64(ctx.BarIndex))
}

func TestCountEffectiveSkipsGapSentinels(t *testing.T) {
	bars := []ohlcv.Bar{
		{TS: 300, Volume: 1},
		{TS: 600, Volume: -1},
		{TS: 900, Volume: 2},
	}
	if got := countEffective(bars); got != 2 {
		t.Errorf("effective: expected 2, got %d", got)
	}
}

func TestAdvanceRunSequenceBreakDestroysRun(t *testing.T) {
	o := testOrchestrator(t)

	r := &run{
		id:           "test",
		stream:       NewBarStream(),
		lastNewBarMS: 1_200_000,
		done:         make(chan struct{}),
	}
	go func() {
		defer close(r.done)
		for {
			if _, _, ok := r.stream.Next(); !ok {
				return
			}
		}
	}()
	o.mu.Lock()
	o.current = r
	o.mu.Unlock()

	// expected next bar would open at 1_500_000; 1_800_000 is a skip
	o.advanceRun(bus.LifecycleEvent{
		Type: bus.TypeRunReady,
		ConfirmedAndNew: []bus.WireBar{
			{1_500_000, 1, 1, 1, 1, 1},
			{1_800_000, 1, 1, 1, 1, 1},
		},
	})

	o.mu.Lock()
	current := o.current
	o.mu.Unlock()
	if current != nil {
		t.Fatal("run survived a bar sequence break")
	}
	select {
	case <-r.done:
	case <-time.After(time.Second):
		t.Fatal("run goroutine not finished")
	}
}

func TestAdvanceRunFeedsPairThenDestroys(t *testing.T) {
	o := testOrchestrator(t)

	r := &run{
		id:           "test",
		stream:       NewBarStream(),
		lastNewBarMS: 1_200_000,
		done:         make(chan struct{}),
	}
	type op struct {
		ts      int64
		replace bool
	}
	var ops []op
	go func() {
		defer close(r.done)
		for {
			b, replace, ok := r.stream.Next()
			if !ok {
				return
			}
			ops = append(ops, op{b.TS, replace})
		}
	}()
	o.mu.Lock()
	o.current = r
	o.mu.Unlock()

	o.advanceRun(bus.LifecycleEvent{
		Type: bus.TypeRunReady,
		ConfirmedAndNew: []bus.WireBar{
			{1_200_000, 1, 2, 1, 2, 3},
			{1_500_000, 2, 2, 2, 2, 1},
		},
	})

	// advanceRun waits for the consumer, so ops are final here
	if len(ops) != 2 {
		t.Fatalf("ops: %+v", ops)
	}
	if !ops[0].replace || ops[0].ts != 1200 {
		t.Errorf("confirmed op: %+v", ops[0])
	}
	if ops[1].replace || ops[1].ts != 1500 {
		t.Errorf("new op: %+v", ops[1])
	}
	o.mu.Lock()
	current := o.current
	o.mu.Unlock()
	if current != nil {
		t.Error("run survived its run_ready")
	}
}

func TestRunLoopPrerunStepsAndPlotCSV(t *testing.T) {
	o := testOrchestrator(t)
	os.WriteFile(filepath.Join(o.Cfg.Dirs.ScriptsDir, o.ScriptName), []byte("plot(1)\n"), 0o644)

	dataDir := t.TempDir()
	ohlcvPath := filepath.Join(dataDir, "series.ohlcv")
	w, _ := ohlcv.OpenWriter(ohlcvPath)
	for i := 1; i <= 5; i++ {
		vol := 1.0
		if i == 3 {
			vol = -1 // provider gap: not stepped
		}
		w.Write(ohlcv.Bar{TS: int64(300 * i), Open: 1, High: 1, Low: 1, Close: float64(i), Volume: vol})
	}
	w.Close()

	var strat *countingStrategy
	o.Factory = func() strategy.Strategy {
		strat = &countingStrategy{}
		return strat
	}

	// after-download runs emit their outputs and die without a live phase
	r := &run{id: "test", stream: NewBarStream(), done: make(chan struct{})}
	o.mu.Lock()
	o.current = r
	o.mu.Unlock()

	o.runLoop(r, bus.LifecycleEvent{
		Type:      bus.TypePrerunReadyAfterHistoryDownload,
		OHLCVPath: ohlcvPath,
	}, true)

	// 4 effective bars: 3 prerun steps plus the after-download live step
	if strat.prerunSteps != 3 {
		t.Errorf("prerun steps: expected 3, got %d", strat.prerunSteps)
	}
	if strat.liveSteps != 1 {
		t.Errorf("live steps: expected 1, got %d", strat.liveSteps)
	}
	// the gap sentinel does not count toward last_bar_index
	if strat.lastBarIdx != 3 {
		t.Errorf("last bar index: expected 3, got %d", strat.lastBarIdx)
	}

	data, err := os.ReadFile(o.PlotCSVPath)
	if err != nil {
		t.Fatalf("plot csv missing: %v", err)
	}
	lines := 0
	for _, b := range data {
		if b == '\n' {
			lines++
		}
	}
	// header + one row per stepped bar
	if lines != 5 {
		t.Errorf("plot csv lines: expected 5, got %d\n%s", lines, data)
	}
}

func TestPrerunSeriesAfterRollover(t *testing.T) {
	o := testOrchestrator(t)
	os.WriteFile(filepath.Join(o.Cfg.Dirs.ScriptsDir, o.ScriptName), []byte("plot(1)\n"), 0o644)

	// after a rollover rewrite the file already ends with the confirmed bar
	// followed by the new in-progress bar
	ohlcvPath := filepath.Join(t.TempDir(), "series.ohlcv")
	w, _ := ohlcv.OpenWriter(ohlcvPath)
	w.Write(ohlcv.Bar{TS: 600, Open: 1, High: 1, Low: 1, Close: 1, Volume: 1})
	w.Write(ohlcv.Bar{TS: 900, Open: 1, High: 2, Low: 1, Close: 2, Volume: 1})
	w.Write(ohlcv.Bar{TS: 1200, Open: 2, High: 2, Low: 2, Close: 2, Volume: 1})
	w.Close()

	var strat *countingStrategy
	o.Factory = func() strategy.Strategy {
		strat = &countingStrategy{}
		return strat
	}

	r := &run{id: "test", stream: NewBarStream(), done: make(chan struct{})}
	r.stream.Finish() // no run_ready in this test
	o.mu.Lock()
	o.current = r
	o.mu.Unlock()

	o.runLoop(r, bus.LifecycleEvent{
		Type:      bus.TypePrerunReady,
		OHLCVPath: ohlcvPath,
		ConfirmedAndNew: []bus.WireBar{
			{900_000, 1, 2.5, 1, 2.5, 3},
			{1_200_000, 2.5, 2.5, 2.5, 2.5, 1},
		},
	}, false)

	// the pair refreshes the tail in place; nothing is duplicated
	if len(strat.times) != 3 {
		t.Fatalf("series length: expected 3, got %v", strat.times)
	}
	for i := 1; i < len(strat.times); i++ {
		if strat.times[i] <= strat.times[i-1] {
			t.Fatalf("timestamps not strictly increasing: %v", strat.times)
		}
	}
	if strat.prerunSteps != 2 || strat.liveSteps != 0 {
		t.Errorf("steps: prerun %d live %d", strat.prerunSteps, strat.liveSteps)
	}
	if strat.lastBarIdx != 2 {
		t.Errorf("last bar index: expected 2, got %d", strat.lastBarIdx)
	}
}

func TestRunStepStepsConfirmedAndNewBar(t *testing.T) {
	o := testOrchestrator(t)
	ctx := strategy.NewContext([]ohlcv.Bar{
		{TS: 300, Close: 1, Volume: 1},
		{TS: 600, Close: 2, Volume: 1},
		{TS: 900, Close: 3, Volume: 1},
	}, nil)
	ctx.LastBarIndex = 2
	strat := &countingStrategy{}

	r := &run{id: "test", stream: NewBarStream(), done: make(chan struct{})}
	r.stream.ReplaceLast(ohlcv.Bar{TS: 900, Close: 3.5, Volume: 2})
	r.stream.Append(ohlcv.Bar{TS: 1200, Close: 4, Volume: 1})
	r.stream.Finish()

	o.runStep(r, ctx, strat, nil, nil)

	if strat.liveSteps != 2 {
		t.Errorf("live steps: expected 2, got %d", strat.liveSteps)
	}
	if ctx.LastBarIndex != 3 {
		t.Errorf("last bar index: expected 3, got %d", ctx.LastBarIndex)
	}
	if len(ctx.Time) != 4 || ctx.Close[2] != 3.5 || ctx.Time[3] != 1200 {
		t.Errorf("series tail: times %v closes %v", ctx.Time, ctx.Close)
	}
}

func TestScriptPathRequiresFile(t *testing.T) {
	dir := t.TempDir()
	if _, err := ScriptPath(dir, "missing.pyne"); err == nil {
		t.Error("expected error for absent script")
	}
	os.WriteFile(filepath.Join(dir, "present.pyne"), []byte("plot(1)\n"), 0o644)
	if p, err := ScriptPath(dir, "present.pyne"); err != nil || p != filepath.Join(dir, "present.pyne") {
		t.Errorf("ScriptPath: %q %v", p, err)
	}
}
