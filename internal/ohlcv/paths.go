package ohlcv

import (
	"fmt"
	"path/filepath"
	"strings"
)

// SymbolKey identifies one market and timeframe. It keys the persistent cache
// partition and the canonical file path.
type SymbolKey struct {
	Provider  string
	Exchange  string
	Symbol    string
	Timeframe Timeframe
}

func (k SymbolKey) String() string {
	return fmt.Sprintf("%s:%s:%s:%s", k.Provider, k.Exchange, k.Symbol, k.Timeframe)
}

// fileStem builds "{provider}_{EXCHANGE}_{SYMBOL}_{tf_key}" with the symbol's
// slash mapped through colon to underscore.
func (k SymbolKey) fileStem() string {
	sym := strings.ToUpper(k.Symbol)
	sym = strings.ReplaceAll(sym, "/", ":")
	sym = strings.ReplaceAll(sym, ":", "_")
	return fmt.Sprintf("%s_%s_%s_%s", k.Provider, strings.ToUpper(k.Exchange), sym, k.Timeframe.FileKey())
}

// FilePaths returns the canonical .ohlcv path and the symbol-info .toml path
// under dataDir.
func (k SymbolKey) FilePaths(dataDir string) (ohlcvPath, tomlPath string) {
	stem := k.fileStem()
	return filepath.Join(dataDir, stem+".ohlcv"), filepath.Join(dataDir, stem+".toml")
}
