package dataservice

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"realtime-trade/internal/bus"
	"realtime-trade/internal/cache"
	"realtime-trade/internal/ohlcv"
)

// HistoryProvider is the slice of the market provider the updater calls.
// All of these touch the network and run outside the buffer lock.
type HistoryProvider interface {
	DownloadHistory(ctx context.Context, key ohlcv.SymbolKey, dataDir string, since time.Time) error
	DownloadRangeIntoCache(ctx context.Context, store cache.Store, key ohlcv.SymbolKey, from, to time.Time) error
	RegenerateSymbolInfo(ctx context.Context, key ohlcv.SymbolKey, tomlPath string) error
	FetchTail(ctx context.Context, key ohlcv.SymbolKey, ohlcvPath string) ([]ohlcv.LiveBar, error)
}

// ParseDateOrDays resolves a history_since value: an absolute YYYY-MM-DD
// date or a relative number of days back from now.
func ParseDateOrDays(s string, now time.Time) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UTC(), nil
	}
	if days, err := strconv.Atoi(s); err == nil && days > 0 {
		return now.UTC().AddDate(0, 0, -days), nil
	}
	return time.Time{}, fmt.Errorf("invalid history_since: %q", s)
}

// Updater reconciles the live buffer, the persistent cache and the canonical
// file, and emits lifecycle events to the runner.
type Updater struct {
	Key          ohlcv.SymbolKey
	DataDir      string
	HistorySince string
	Buf          *Buffer
	Store        cache.Store
	Provider     HistoryProvider
	Emit         func(v any)
	Logger       *slog.Logger
	Now          func() time.Time
	Poll         time.Duration

	ohlcvPath string
	tomlPath  string

	historyDownloadComplete     bool
	firstFetchAfterDownloadDone bool
	openFixDone                 bool
	fixedOpenPrice              float64
	prerunSentForBarTS          int64 // ms, 0 = none
	preservedStartTS            int64 // sec, 0 = none
	exportStartTS               int64 // sec, 0 = none
}

func NewUpdater(key ohlcv.SymbolKey, dataDir, historySince string, buf *Buffer,
	store cache.Store, provider HistoryProvider, emit func(v any), logger *slog.Logger) *Updater {
	ohlcvPath, tomlPath := key.FilePaths(dataDir)
	return &Updater{
		Key:          key,
		DataDir:      dataDir,
		HistorySince: historySince,
		Buf:          buf,
		Store:        store,
		Provider:     provider,
		Emit:         emit,
		Logger:       logger,
		Now:          time.Now,
		Poll:         100 * time.Millisecond,
		ohlcvPath:    ohlcvPath,
		tomlPath:     tomlPath,
	}
}

func (u *Updater) Paths() (ohlcvPath, tomlPath string) { return u.ohlcvPath, u.tomlPath }

func (u *Updater) preRunDelayMS() int64 { return u.Key.Timeframe.MS() / 2 }

// defaultSince is the fallback history window: two months back, one month
// for the 1-minute timeframe.
func (u *Updater) defaultSince(now time.Time) time.Time {
	months := 2
	if u.Key.Timeframe.Unit == 'm' && u.Key.Timeframe.Value == 1 {
		months = 1
	}
	return now.UTC().AddDate(0, -months, 0).Truncate(time.Minute)
}

// desiredStart resolves history_since; unparseable or future values fall
// back to the default window.
func (u *Updater) desiredStart() time.Time {
	now := u.Now()
	if u.HistorySince != "" {
		t, err := ParseDateOrDays(u.HistorySince, now)
		if err == nil && t.Before(now) {
			return t
		}
		u.Logger.Error("history_since unusable; using default window", "value", u.HistorySince)
	}
	return u.defaultSince(now)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Startup runs the cache-ready fast path before the polling loop: backfill,
// tail refresh, export to the canonical file and staging of the pending
// prerun event. A cold cache falls through to the Rule-A download path.
func (u *Updater) Startup(ctx context.Context) error {
	if err := u.Store.Init(ctx); err != nil {
		return fmt.Errorf("cache init: %w", err)
	}

	desired := u.desiredStart()
	if fileExists(u.ohlcvPath) {
		if r, err := ohlcv.OpenReader(u.ohlcvPath); err == nil {
			if start := r.StartTimestamp(); start != 0 && start != desired.Unix() {
				u.exportStartTS = desired.Unix()
				u.Logger.Info("history_since changed; ohlcv will be regenerated from cache")
			}
			r.Close()
		}
	}

	cacheReady, err := u.Store.HasAny(ctx, u.Key)
	if err != nil {
		u.Logger.Error("cache presence check failed", "error", err)
		cacheReady = false
	}

	if cacheReady {
		if !fileExists(u.tomlPath) {
			if err := u.Provider.RegenerateSymbolInfo(ctx, u.Key, u.tomlPath); err != nil {
				u.Logger.Error("toml regeneration failed", "error", err)
				cacheReady = false
			} else {
				u.Logger.Info("toml regenerated from provider symbol info")
			}
		}
	}

	if cacheReady {
		// Backfill when the desired history predates the cached range.
		minTS, ok, err := u.Store.MinTS(ctx, u.Key)
		if err == nil && ok && desired.Unix() < minTS {
			u.Logger.Info("backfilling cache", "from", desired.Unix(), "to", minTS)
			if err := u.Provider.DownloadRangeIntoCache(ctx, u.Store, u.Key, desired, time.Unix(minTS, 0).UTC()); err != nil {
				u.Logger.Error("history backfill skipped", "error", err)
			}
		}

		// Refresh the tail from one bar before the cached max to now.
		lastTS, ok, err := u.Store.MaxTS(ctx, u.Key)
		if err == nil && ok {
			from := time.Unix(lastTS-u.Key.Timeframe.Secs(), 0).UTC()
			if err := u.Provider.DownloadRangeIntoCache(ctx, u.Store, u.Key, from, u.Now().UTC()); err != nil {
				u.Logger.Error("cache tail refresh failed", "error", err)
			}
		}

		sinceTS := int64(-1)
		if u.exportStartTS > 0 {
			sinceTS = u.exportStartTS
		}
		if err := cache.ExportToFile(ctx, u.Store, u.Key, u.ohlcvPath, sinceTS); err != nil {
			u.Logger.Error("cache export failed", "error", err)
		}
		if fileExists(u.ohlcvPath) {
			u.Logger.Info("ohlcv regenerated from cache")
			u.historyDownloadComplete = true
			u.Buf.SetPending(&bus.LifecycleEvent{
				Type:      bus.TypePrerunReadyAfterHistoryDownload,
				OHLCVPath: u.ohlcvPath,
				TomlPath:  u.tomlPath,
			})
			mtxLifecycleEvents.WithLabelValues(bus.TypePrerunReadyAfterHistoryDownload).Inc()
		}
		return nil
	}

	// Cold cache: remember the file's start for an identical re-download,
	// then clear stale files and let Rule A take over.
	u.Logger.Info("cache missing; starting history download path")
	if fileExists(u.ohlcvPath) && u.HistorySince == "" {
		if r, err := ohlcv.OpenReader(u.ohlcvPath); err == nil {
			u.preservedStartTS = r.StartTimestamp()
			r.Close()
		}
	}
	for _, p := range []string{u.ohlcvPath, u.tomlPath} {
		if fileExists(p) {
			os.Remove(p)
		}
	}
	return nil
}

// Run is the steady-state polling loop.
func (u *Updater) Run(ctx context.Context) {
	ticker := time.NewTicker(u.Poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			u.TickOnce(ctx)
		}
	}
}

// TickOnce applies at most one of the rules; a single tick emits at most one
// lifecycle event.
func (u *Updater) TickOnce(ctx context.Context) {
	if !fileExists(u.ohlcvPath) {
		u.ruleDownload(ctx)
		return
	}
	if u.ruleOpenFix(ctx) {
		return
	}
	u.ruleRollover(ctx)
}

// ruleDownload handles the missing-file state: full history download,
// cache population and staging of the pending prerun event.
func (u *Updater) ruleDownload(ctx context.Context) {
	var since time.Time
	switch {
	case u.preservedStartTS > 0:
		since = time.Unix(u.preservedStartTS, 0).UTC()
	default:
		since = u.desiredStart()
	}

	if err := u.Provider.DownloadHistory(ctx, u.Key, u.DataDir, since); err != nil {
		u.Logger.Error("history download failed; retrying", "error", err)
		mtxHistoryDownloads.WithLabelValues("error").Inc()
		for _, p := range []string{u.ohlcvPath, u.tomlPath} {
			if fileExists(p) {
				os.Remove(p)
			}
		}
		return
	}
	mtxHistoryDownloads.WithLabelValues("ok").Inc()

	u.historyDownloadComplete = true
	u.firstFetchAfterDownloadDone = false
	if err := cache.ImportFromFile(ctx, u.Store, u.Key, u.ohlcvPath); err != nil {
		u.Logger.Error("cache import from downloaded file failed", "error", err)
	}

	u.Buf.SetPending(&bus.LifecycleEvent{
		Type:      bus.TypePrerunReadyAfterHistoryDownload,
		OHLCVPath: u.ohlcvPath,
		TomlPath:  u.tomlPath,
	})
	mtxLifecycleEvents.WithLabelValues(bus.TypePrerunReadyAfterHistoryDownload).Inc()

	u.fixedOpenPrice = 0
	u.openFixDone = false
	u.prerunSentForBarTS = 0
}

// ruleOpenFix validates the last historical bar once per bar window, half a
// timeframe after the in-progress bar opened, then emits prerun_ready.
// Returns true when it emitted.
func (u *Updater) ruleOpenFix(ctx context.Context) bool {
	u.Buf.Mu.Lock()
	bars := make([]ohlcv.LiveBar, len(u.Buf.Bars))
	copy(bars, u.Buf.Bars)
	u.Buf.Mu.Unlock()

	if len(bars) != 2 || u.openFixDone {
		return false
	}
	if u.Now().UnixMilli() < bars[1].TS+u.preRunDelayMS() {
		return false
	}
	if !u.historyDownloadComplete {
		return false
	}

	if !u.firstFetchAfterDownloadDone {
		// first invocation after a download: refresh the file tail from
		// the exchange candle endpoint
		res, err := u.Provider.FetchTail(ctx, u.Key, u.ohlcvPath)
		if err != nil {
			u.Logger.Error("pre-run tail fetch failed", "error", err)
		} else if len(res) > 0 {
			if _, err := u.updateFile(res); err != nil {
				u.Logger.Error("pre-run tail update failed", "error", err)
			} else {
				u.syncTailToCache(ctx, len(res))
			}
		}
		u.firstFetchAfterDownloadDone = true
	} else {
		fixed, err := u.fixLastOpenIfNeeded()
		if err != nil {
			u.Logger.Error("open fix failed", "error", err)
		} else if fixed > 0 {
			u.fixedOpenPrice = fixed
			u.syncTailToCache(ctx, 1)
		}
	}

	u.openFixDone = true

	pair := []ohlcv.LiveBar{bars[0], bars[1]}
	if u.fixedOpenPrice > 0 {
		pair[0].Open = u.fixedOpenPrice
	}
	barTS := bars[1].TS
	if u.prerunSentForBarTS == barTS {
		return false
	}
	u.prerunSentForBarTS = barTS
	u.emitLifecycle(bus.TypePrerunReady, pair)
	return true
}

// ruleRollover confirms the finished bar when a third one appears: the file
// tail is rewritten with the [confirmed, new] pair and run_ready is emitted.
func (u *Updater) ruleRollover(ctx context.Context) {
	u.Buf.Mu.Lock()
	if len(u.Buf.Bars) < 3 {
		u.Buf.Mu.Unlock()
		return
	}
	u.Buf.Bars = append([]ohlcv.LiveBar(nil), u.Buf.Bars[len(u.Buf.Bars)-2:]...)
	if !u.historyDownloadComplete {
		u.Buf.Mu.Unlock()
		return
	}
	if u.fixedOpenPrice > 0 {
		u.Buf.Bars[0].Open = u.fixedOpenPrice
	}
	pair := []ohlcv.LiveBar{u.Buf.Bars[0], u.Buf.Bars[1]}
	incremented, err := u.updateFile(pair)
	u.Buf.Mu.Unlock()

	if err != nil {
		u.Logger.Error("ohlcv rollover write failed", "error", err)
	} else if incremented > 0 {
		u.syncTailToCache(ctx, 2)
		u.emitLifecycle(bus.TypeRunReady, pair)
	} else {
		u.Logger.Error("ohlcv file did not grow on rollover", "confirmed_ts", pair[0].TS, "new_ts", pair[1].TS)
	}

	u.fixedOpenPrice = 0
	u.openFixDone = false
	u.prerunSentForBarTS = 0
}

func (u *Updater) emitLifecycle(typ string, pair []ohlcv.LiveBar) {
	wire := make([]bus.WireBar, len(pair))
	for i, b := range pair {
		wire[i] = bus.ToWireBar(b)
	}
	u.Emit(bus.LifecycleEvent{
		Type:            typ,
		OHLCVPath:       u.ohlcvPath,
		TomlPath:        u.tomlPath,
		ConfirmedAndNew: wire,
	})
	mtxLifecycleEvents.WithLabelValues(typ).Inc()
}

// updateFile overwrites the canonical file's tail with the given live bars:
// seek to each bar's ts, truncate, write. Returns the record-count growth.
// When rewriting the record at the current end timestamp the existing open
// wins over a diverging live open.
func (u *Updater) updateFile(pair []ohlcv.LiveBar) (int, error) {
	w, err := ohlcv.OpenWriter(u.ohlcvPath)
	if err != nil {
		return 0, err
	}
	defer w.Close()

	lastTS := w.EndTimestamp()
	var lastOpen float64
	if w.Size() > 0 {
		last, err := w.ReadLast()
		if err != nil {
			return 0, err
		}
		lastOpen = last.Open
	}

	incremented := 0
	for _, lb := range pair {
		b := lb.Bar()
		if b.TS == lastTS && b.Open != lastOpen {
			b.Open = lastOpen
		}
		original := w.Size()
		if err := w.SeekToTimestamp(b.TS); err != nil {
			return incremented, err
		}
		if err := w.Truncate(); err != nil {
			return incremented, err
		}
		if err := w.Write(b); err != nil {
			return incremented, err
		}
		incremented += w.Size() - original
	}
	return incremented, w.Sync()
}

// fixLastOpenIfNeeded rewrites the last bar's open to the previous bar's
// close when they diverge. Returns the corrected open, or 0 when no fix was
// needed.
func (u *Updater) fixLastOpenIfNeeded() (float64, error) {
	r, err := ohlcv.OpenReader(u.ohlcvPath)
	if err != nil {
		return 0, err
	}
	if r.Size() < 2 {
		r.Close()
		return 0, nil
	}
	last, err := r.Read(r.Size() - 1)
	if err != nil {
		r.Close()
		return 0, err
	}
	prev, err := r.Read(r.Size() - 2)
	if err != nil {
		r.Close()
		return 0, err
	}
	r.Close()

	if last.Open == prev.Close {
		return 0, nil
	}

	w, err := ohlcv.OpenWriter(u.ohlcvPath)
	if err != nil {
		return 0, err
	}
	defer w.Close()
	fixed := last
	fixed.Open = prev.Close
	if err := w.Overwrite(last.TS, fixed); err != nil {
		return 0, err
	}
	return prev.Close, w.Sync()
}

// syncTailToCache upserts the file's last n records into the cache.
func (u *Updater) syncTailToCache(ctx context.Context, n int) {
	r, err := ohlcv.OpenReader(u.ohlcvPath)
	if err != nil {
		u.Logger.Error("cache sync read failed", "error", err)
		return
	}
	defer r.Close()
	start := r.Size() - n
	if start < 0 {
		start = 0
	}
	rows := make([]ohlcv.Bar, 0, n)
	for i := start; i < r.Size(); i++ {
		b, err := r.Read(i)
		if err != nil {
			u.Logger.Error("cache sync read failed", "error", err)
			return
		}
		rows = append(rows, b)
	}
	if err := u.Store.UpsertBatch(ctx, u.Key, rows); err != nil {
		u.Logger.Error("cache sync upsert failed", "error", err)
	}
}
