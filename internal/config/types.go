package config

import (
	"bytes"
	"encoding/json"
	"strconv"
)

type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Share    ShareConfig    `json:"share"`
	Telegram TelegramConfig `json:"telegram"`
	Notifier NotifierConfig `json:"notifier"`
	Storage  StorageConfig  `json:"storage"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// ShareConfig drives the periodic bandwidth share.
//
// Schedule accepts everything scheduler.ParseSchedule does ("60s", "@every 1m",
// "*/1 * * * *", "00:01"). Timeout is a Go duration string bounding one
// account's request.
type ShareConfig struct {
	Endpoint    string `json:"endpoint"`
	Schedule    string `json:"schedule"`
	Timezone    string `json:"timezone,omitempty"`
	Timeout     string `json:"timeout"`
	Overlap     string `json:"overlap"` // skip | allow
	TokensFile  string `json:"tokens_file"`
	ProxiesFile string `json:"proxies_file"`
}

type TelegramConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	// ChatID is a numeric chat id or an "@channel" username.
	ChatID   ChatID `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`
	APIURL   string `json:"api_url,omitempty"`
	Timeout  string `json:"timeout"`
}

// NotifierConfig controls the async report pipeline.
type NotifierConfig struct {
	Workers     int    `json:"workers"`
	QueueSize   int    `json:"queue_size"`
	RatePerSec  int    `json:"rate_per_sec"`
	SendTimeout string `json:"send_timeout"`
}

// StorageConfig controls the optional run history.
//
// Example:
//
//	storage: { driver: sqlite, path: ./data/sharebot.db }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	Retain      int    `json:"retain,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// ChatID accepts both a JSON string and a JSON number, since YAML
// chat ids are usually written unquoted.
type ChatID string

func (c *ChatID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = ChatID(s)
		return nil
	}
	if bytes.Equal(b, []byte("null")) {
		*c = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
		return err
	}
	*c = ChatID(n.String())
	return nil
}
