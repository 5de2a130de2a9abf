package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// AppConfig is the parsed realtime_trade.toml plus env-backed settings.
type AppConfig struct {
	Pyne     PyneConfig     `toml:"pyne"`
	Realtime RealtimeConfig `toml:"realtime"`
	Webhook  WebhookConfig  `toml:"webhook"`

	Cache    CacheConfig    `toml:"-"`
	Telegram TelegramConfig `toml:"-"`
	Dirs     Dirs           `toml:"-"`
}

type PyneConfig struct {
	NoLogo bool `toml:"no_logo"`
}

type RealtimeConfig struct {
	Provider        string `toml:"provider"`
	Exchange        string `toml:"exchange"`
	Symbol          string `toml:"symbol"`
	Timeframe       string `toml:"timeframe"`
	ScriptName      string `toml:"script_name"`
	HistorySince    string `toml:"history_since"`
	DataServiceAddr string `toml:"data_service_addr"`
	Enabled         bool   `toml:"enabled"`
}

type WebhookConfig struct {
	Enabled              bool   `toml:"enabled"`
	TelegramNotification bool   `toml:"telegram_notification"`
	URL                  string `toml:"url"`
}

// CacheConfig selects and connects the persistent bar cache adapter.
type CacheConfig struct {
	Adapter    string // postgres | redis | memory
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	RedisAddr  string
}

type TelegramConfig struct {
	BotToken string
	ChatID   string
}

// Dirs is the workdir layout shared by both services.
type Dirs struct {
	WorkDir    string
	ConfigDir  string
	DataDir    string
	OutputDir  string
	ScriptsDir string
}

func (d Dirs) ConfigFile() string {
	return filepath.Join(d.ConfigDir, "realtime_trade.toml")
}

// PlotCSVPath is the plot data file for the given strategy script, named
// after the script's stem.
func (d Dirs) PlotCSVPath(scriptName string) string {
	stem := strings.TrimSuffix(scriptName, filepath.Ext(scriptName))
	return filepath.Join(d.OutputDir, stem+".csv")
}

func defaultDirs() Dirs {
	work := getEnv("PYNE_WORK_DIR", "workdir")
	return Dirs{
		WorkDir:    work,
		ConfigDir:  filepath.Join(work, "config"),
		DataDir:    filepath.Join(work, "data"),
		OutputDir:  filepath.Join(work, "output"),
		ScriptsDir: filepath.Join(work, "scripts"),
	}
}

// Load reads realtime_trade.toml from the workdir config directory and fills
// the env-backed sections. Missing provider/exchange/symbol/timeframe is fatal.
func Load() (*AppConfig, error) {
	// .env is optional
	_ = godotenv.Load()

	dirs := defaultDirs()
	for _, d := range []string{dirs.ConfigDir, dirs.DataDir, dirs.OutputDir, dirs.ScriptsDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, err
		}
	}

	cfg := &AppConfig{Dirs: dirs}
	if _, err := toml.DecodeFile(dirs.ConfigFile(), cfg); err != nil {
		return nil, fmt.Errorf("read %s: %w", dirs.ConfigFile(), err)
	}

	rt := cfg.Realtime
	if rt.Provider == "" || rt.Exchange == "" || rt.Symbol == "" || rt.Timeframe == "" {
		return nil, fmt.Errorf("missing provider/exchange/symbol/timeframe in realtime_trade.toml")
	}
	if cfg.Realtime.DataServiceAddr == "" {
		cfg.Realtime.DataServiceAddr = "127.0.0.1:9001"
	}

	cfg.Cache = CacheConfig{
		Adapter:    getEnv("CACHE_ADAPTER", "postgres"),
		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnvAsInt("DB_PORT", 5432),
		DBUser:     getEnv("DB_USER", ""),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", ""),
		RedisAddr:  getEnv("REDIS_ADDR", ""),
	}
	cfg.Telegram = TelegramConfig{
		BotToken: getEnv("BOT_TOKEN", ""),
		ChatID:   getEnv("CHAT_ID", ""),
	}
	return cfg, nil
}

// ConnString builds the pgx connection string for the postgres cache adapter.
func (c CacheConfig) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

// SaveWebhook rewrites the webhook section of the config file. Nil fields are
// left untouched. Returns the resulting section.
func SaveWebhook(configPath string, enabled, telegram *bool) (WebhookConfig, error) {
	var doc map[string]any
	if _, err := toml.DecodeFile(configPath, &doc); err != nil {
		return WebhookConfig{}, err
	}
	section, _ := doc["webhook"].(map[string]any)
	if section == nil {
		section = map[string]any{}
		doc["webhook"] = section
	}
	if enabled != nil {
		section["enabled"] = *enabled
	}
	if telegram != nil {
		section["telegram_notification"] = *telegram
	}

	f, err := os.Create(configPath)
	if err != nil {
		return WebhookConfig{}, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(doc); err != nil {
		return WebhookConfig{}, err
	}

	out := WebhookConfig{}
	if v, ok := section["enabled"].(bool); ok {
		out.Enabled = v
	}
	if v, ok := section["telegram_notification"].(bool); ok {
		out.TelegramNotification = v
	}
	if v, ok := section["url"].(string); ok {
		out.URL = v
	}
	return out, nil
}

func getEnv(key string, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if valueStr, exists := os.LookupEnv(key); exists {
		if value, err := strconv.Atoi(valueStr); err == nil {
			return value
		}
	}
	return fallback
}
