package config

import (
	"strings"

	logx "sharebot/pkg/logx"
)

// SummarizeConfigChange returns (1) the changed sections, (2) safe
// structured attrs for logging (never the bot token) and (3) the changed
// keys that only take effect after a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var (
		changed []string
		attrs   []logx.Field
		restart []string
	)
	same := func(a, b string) bool { return strings.TrimSpace(a) == strings.TrimSpace(b) }

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	osh, ns := oldCfg.Share, newCfg.Share
	if osh != ns {
		changed = append(changed, "share")
		attrs = append(attrs,
			logx.String("share.endpoint", ns.Endpoint),
			logx.String("share.timeout", ns.Timeout),
		)
		if !same(osh.Schedule, ns.Schedule) {
			restart = append(restart, "share.schedule")
		}
		if !same(osh.Timezone, ns.Timezone) {
			restart = append(restart, "share.timezone")
		}
		if !strings.EqualFold(strings.TrimSpace(osh.Overlap), strings.TrimSpace(ns.Overlap)) {
			restart = append(restart, "share.overlap")
		}
		if !same(osh.TokensFile, ns.TokensFile) {
			restart = append(restart, "share.tokens_file")
		}
		if !same(osh.ProxiesFile, ns.ProxiesFile) {
			restart = append(restart, "share.proxies_file")
		}
	}

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot != nt {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.enabled", nt.Enabled),
			logx.Bool("telegram.chat_set", strings.TrimSpace(string(nt.ChatID)) != ""),
			logx.Int("telegram.thread_id", nt.ThreadID),
		)
		if ot.BotToken != nt.BotToken {
			restart = append(restart, "telegram.bot_token")
		}
		if !same(ot.APIURL, nt.APIURL) {
			restart = append(restart, "telegram.api_url")
		}
		if !same(ot.Timeout, nt.Timeout) {
			restart = append(restart, "telegram.timeout")
		}
	}

	on, nn := oldCfg.Notifier, newCfg.Notifier
	if on != nn {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Int("notifier.rate_per_sec", nn.RatePerSec),
			logx.String("notifier.send_timeout", nn.SendTimeout),
		)
		if on.Workers != nn.Workers {
			restart = append(restart, "notifier.workers")
		}
		if on.QueueSize != nn.QueueSize {
			restart = append(restart, "notifier.queue_size")
		}
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
		restart = append(restart, "storage")
	}

	return changed, attrs, restart
}
