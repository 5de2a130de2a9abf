// Package notifier forwards trade events to the configured webhook and,
// optionally, to a Telegram chat. Webhook flags are re-read from the config
// file on every send so toggles take effect without a restart.
package notifier

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/BurntSushi/toml"

	"realtime-trade/config"
)

type Notifier struct {
	ConfigFile string
	Telegram   config.TelegramConfig
	Client     *http.Client
	Logger     *slog.Logger
}

func New(configFile string, tg config.TelegramConfig, logger *slog.Logger) *Notifier {
	return &Notifier{
		ConfigFile: configFile,
		Telegram:   tg,
		Client:     &http.Client{Timeout: 10 * time.Second},
		Logger:     logger,
	}
}

// currentFlags re-reads the webhook section so runtime toggles apply.
func (n *Notifier) currentFlags() config.WebhookConfig {
	var cfg struct {
		Webhook config.WebhookConfig `toml:"webhook"`
	}
	if _, err := toml.DecodeFile(n.ConfigFile, &cfg); err != nil {
		n.Logger.Error("webhook config read failed", "error", err)
		return config.WebhookConfig{}
	}
	return cfg.Webhook
}

// NotifyTrade delivers one trade event: the raw JSON to the webhook URL and
// the text summary to Telegram. Each leg fails independently.
func (n *Notifier) NotifyTrade(payload []byte, summary string) {
	flags := n.currentFlags()
	if !flags.Enabled {
		return
	}

	if flags.URL != "" {
		resp, err := n.Client.Post(flags.URL, "application/json", bytes.NewReader(payload))
		if err != nil {
			n.Logger.Error("webhook post failed", "error", err)
		} else {
			resp.Body.Close()
			if resp.StatusCode >= 300 {
				n.Logger.Error("webhook rejected", "status", resp.StatusCode)
			}
		}
	}

	if flags.TelegramNotification {
		if err := n.sendTelegram(summary); err != nil {
			n.Logger.Error("telegram send failed", "error", err)
		}
	}
}

func (n *Notifier) sendTelegram(text string) error {
	if n.Telegram.BotToken == "" || n.Telegram.ChatID == "" {
		return fmt.Errorf("telegram credentials not configured")
	}
	endpoint := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", n.Telegram.BotToken)
	form := url.Values{
		"chat_id": {n.Telegram.ChatID},
		"text":    {text},
	}
	resp, err := n.Client.PostForm(endpoint, form)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("telegram api status %d", resp.StatusCode)
	}
	return nil
}
