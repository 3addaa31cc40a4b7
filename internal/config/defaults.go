package config

import (
	"os"
	"strconv"
	"strings"
)

const (
	// PathEnv names the environment variable holding the config file path.
	PathEnv     = "SHAREBOT_CONFIG"
	DefaultPath = "config.yaml"

	DefaultEndpoint = "https://api.openloop.so/bandwidth/share"
)

// Default returns the configuration used when no file exists. Parsed files
// are decoded on top of it, so omitted keys keep these values.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			File:    LoggingFile{Path: "./sharebot.log"},
		},
		Share: ShareConfig{
			Endpoint:    DefaultEndpoint,
			Schedule:    "60s",
			Timeout:     "30s",
			Overlap:     "skip",
			TokensFile:  "token.txt",
			ProxiesFile: "proxies.txt",
		},
		Telegram: TelegramConfig{Timeout: "10s"},
		Notifier: NotifierConfig{
			Workers:     1,
			QueueSize:   256,
			RatePerSec:  1,
			SendTimeout: "10s",
		},
		Storage: StorageConfig{Driver: "none", BusyTimeout: "1s"},
	}
}

// PathFromEnv returns $SHAREBOT_CONFIG or DefaultPath.
func PathFromEnv() string {
	if p := strings.TrimSpace(os.Getenv(PathEnv)); p != "" {
		return p
	}
	return DefaultPath
}

// ApplyEnv overrides the telegram section from BOT_TOKEN, CHAT_ID and
// ENABLE_BOT. Unset variables leave the file values alone.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if cfg == nil {
		return
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if v, ok := lookup("BOT_TOKEN"); ok && strings.TrimSpace(v) != "" {
		cfg.Telegram.BotToken = strings.TrimSpace(v)
	}
	if v, ok := lookup("CHAT_ID"); ok && strings.TrimSpace(v) != "" {
		cfg.Telegram.ChatID = ChatID(strings.TrimSpace(v))
	}
	if v, ok := lookup("ENABLE_BOT"); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.Telegram.Enabled = b
		}
	}
}
