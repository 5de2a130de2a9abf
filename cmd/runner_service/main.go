package main

import (
	"log"
	"path/filepath"
	"strings"

	"realtime-trade/config"
	"realtime-trade/internal/bus"
	"realtime-trade/internal/ohlcv"
	"realtime-trade/internal/runner"
	"realtime-trade/internal/strategy"
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

	scriptName := cfg.Realtime.ScriptName
	if scriptName == "" {
		log.Fatalf("script_name missing in %s", cfg.Dirs.ConfigFile())
	}
	stem := strings.TrimSuffix(scriptName, filepath.Ext(scriptName))
	factory, ok := strategy.Lookup(stem)
	if !ok {
		log.Fatalf("unknown strategy %q; registered: %v", stem, strategy.Names())
	}
	if _, err := runner.ScriptPath(cfg.Dirs.ScriptsDir, scriptName); err != nil {
		log.Fatalf("strategy script: %v", err)
	}

	orch := &runner.Orchestrator{
		Cfg:         cfg,
		Key:         key,
		Bus:         bus.NewClient("ws://"+cfg.Realtime.DataServiceAddr+"/ws", logger),
		Factory:     factory,
		ScriptName:  scriptName,
		PlotCSVPath: cfg.Dirs.PlotCSVPath(scriptName),
		Logger:      logger,
	}

	logger.Info("runner service starting",
		"market", key.String(), "strategy", stem)
	orch.Run()
}
