package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"realtime-trade/config"
	"realtime-trade/internal/bus"
	"realtime-trade/internal/cache"
	"realtime-trade/internal/dataservice"
	"realtime-trade/internal/market"
	"realtime-trade/internal/notifier"
	"realtime-trade/internal/ohlcv"
	"realtime-trade/pkg"
)

func main() {
	logger := pkg.SetupLogger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if !cfg.Realtime.Enabled {
		log.Fatalf("realtime is disabled in %s", cfg.Dirs.ConfigFile())
	}

	tf, err := ohlcv.ParseTimeframe(cfg.Realtime.Timeframe)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	key := ohlcv.SymbolKey{
		Provider:  cfg.Realtime.Provider,
		Exchange:  cfg.Realtime.Exchange,
		Symbol:    cfg.Realtime.Symbol,
		Timeframe: tf,
	}

	ctx := context.Background()
	store, err := cache.Open(ctx, cfg.Cache)
	if err != nil {
		log.Fatalf("cache: %v", err)
	}
	defer store.Close()

	buf := &dataservice.Buffer{}
	hub := dataservice.NewHub(buf, logger)
	provider := market.NewProvider(logger)

	updater := dataservice.NewUpdater(key, cfg.Dirs.DataDir, cfg.Realtime.HistorySince,
		buf, store, provider, hub.Broadcast, logger)
	if err := updater.Startup(ctx); err != nil {
		log.Fatalf("startup: %v", err)
	}
	ohlcvPath, tomlPath := updater.Paths()

	server := &dataservice.Server{
		Cfg:         cfg,
		Key:         key,
		Hub:         hub,
		Buf:         buf,
		OHLCVPath:   ohlcvPath,
		TomlPath:    tomlPath,
		PlotCSVPath: cfg.Dirs.PlotCSVPath(cfg.Realtime.ScriptName),
		Notifier:    notifier.New(cfg.Dirs.ConfigFile(), cfg.Telegram, logger),
		Logger:      logger,
	}
	hub.OnMessage = server.HandleMessage

	streamer := market.NewTradeStreamer(cfg.Realtime.Symbol, logger)
	go streamer.Start()

	collector := dataservice.NewCollector(buf, streamer.Trades, tf, time.Now().UnixMilli(),
		func(b ohlcv.LiveBar) { hub.Broadcast(bus.NewBarEvent(b)) }, logger)
	go collector.Run()

	go dataservice.NewGapFixer(buf, provider.Client, tf, logger).Run(ctx)
	go updater.Run(ctx)

	logger.Info("data service listening",
		"addr", cfg.Realtime.DataServiceAddr, "market", key.String())
	if err := http.ListenAndServe(cfg.Realtime.DataServiceAddr, server.Routes()); err != nil {
		log.Fatalf("http: %v", err)
	}
}
