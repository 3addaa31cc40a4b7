package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"sharebot/internal/task/scheduler"
)

// Validate checks a parsed config. All problems are reported together.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if u, err := url.Parse(strings.TrimSpace(cfg.Share.Endpoint)); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		add(fmt.Errorf("share.endpoint: must be an http(s) URL, got %q", cfg.Share.Endpoint))
	}
	if _, err := scheduler.ParseSchedule(cfg.Share.Schedule); err != nil {
		add(fmt.Errorf("share.schedule: %w", err))
	}
	if _, err := scheduler.ParseOverlap(cfg.Share.Overlap); err != nil {
		add(fmt.Errorf("share.overlap: %w", err))
	}
	if tz := strings.TrimSpace(cfg.Share.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("share.timezone: invalid %q: %w", tz, err))
		}
	}
	_, err := cfg.Timeouts()
	add(err)
	if strings.TrimSpace(cfg.Share.TokensFile) == "" {
		add(errors.New("share.tokens_file is required"))
	}
	if strings.TrimSpace(cfg.Share.ProxiesFile) == "" {
		add(errors.New("share.proxies_file is required"))
	}

	if cfg.Telegram.Enabled {
		if strings.TrimSpace(cfg.Telegram.BotToken) == "" {
			add(errors.New("telegram.bot_token is required when telegram is enabled"))
		}
		if strings.TrimSpace(string(cfg.Telegram.ChatID)) == "" {
			add(errors.New("telegram.chat_id is required when telegram is enabled"))
		}
	}

	if cfg.Notifier.Workers < 0 {
		add(errors.New("notifier.workers must be >= 0"))
	}
	if cfg.Notifier.QueueSize < 0 {
		add(errors.New("notifier.queue_size must be >= 0"))
	}
	if cfg.Notifier.RatePerSec < 0 {
		add(errors.New("notifier.rate_per_sec must be >= 0"))
	}

	switch d := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)); d {
	case "", "none":
	case "file", "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			add(fmt.Errorf("storage.path is required when storage.driver=%s", d))
		}
	default:
		add(fmt.Errorf("unknown storage.driver: %s", cfg.Storage.Driver))
	}
	if cfg.Storage.Retain < 0 {
		add(errors.New("storage.retain must be >= 0"))
	}

	return errors.Join(errs...)
}

// Timeouts holds the parsed duration settings.
type Timeouts struct {
	Share        time.Duration
	Telegram     time.Duration
	NotifierSend time.Duration
	StorageBusy  time.Duration
}

// Timeouts parses the duration fields. An empty or zero value takes the
// matching value from Default().
func (c *Config) Timeouts() (Timeouts, error) {
	def := Default()
	var (
		t    Timeouts
		errs []error
	)
	for _, f := range []struct {
		key      string
		raw, def string
		dst      *time.Duration
	}{
		{"share.timeout", c.Share.Timeout, def.Share.Timeout, &t.Share},
		{"telegram.timeout", c.Telegram.Timeout, def.Telegram.Timeout, &t.Telegram},
		{"notifier.send_timeout", c.Notifier.SendTimeout, def.Notifier.SendTimeout, &t.NotifierSend},
		{"storage.busy_timeout", c.Storage.BusyTimeout, def.Storage.BusyTimeout, &t.StorageBusy},
	} {
		d, err := parseTimeout(f.key, f.raw)
		if err == nil && d == 0 {
			d, err = parseTimeout(f.key, f.def)
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		*f.dst = d
	}
	return t, errors.Join(errs...)
}

func parseTimeout(key, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q (use e.g. 30s, 1m)", key, raw)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: must not be negative, got %s", key, s)
	}
	return d, nil
}
