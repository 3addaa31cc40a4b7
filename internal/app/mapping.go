package app

import (
	"context"
	"strings"
	"time"

	"sharebot/internal/accounts"
	"sharebot/internal/config"
	"sharebot/internal/notifier"
	"sharebot/internal/share"
	"sharebot/internal/storage"
	"sharebot/internal/task/scheduler"
	telegram "sharebot/internal/transport/telegram/adapter"
	logx "sharebot/pkg/logx"
)

// All mappers assume cfg passed config.Validate.

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapShare(cfg *config.Config) share.TaskConfig {
	t, _ := cfg.Timeouts()
	return share.TaskConfig{Endpoint: strings.TrimSpace(cfg.Share.Endpoint), Timeout: t.Share}
}

func mapTelegram(cfg *config.Config) telegram.Config {
	t, _ := cfg.Timeouts()
	return telegram.Config{
		Token:   strings.TrimSpace(cfg.Telegram.BotToken),
		URL:     cfg.Telegram.APIURL,
		Timeout: t.Telegram,
	}
}

func mapNotifier(cfg *config.Config) (notifier.Config, error) {
	t, _ := cfg.Timeouts()
	nc := notifier.Config{
		Enabled:     cfg.Telegram.Enabled,
		Workers:     cfg.Notifier.Workers,
		QueueSize:   cfg.Notifier.QueueSize,
		RatePerSec:  cfg.Notifier.RatePerSec,
		SendTimeout: t.NotifierSend,
	}
	if !nc.Enabled {
		return nc, nil
	}
	target, err := telegram.ParseChatTarget(string(cfg.Telegram.ChatID), cfg.Telegram.ThreadID)
	if err != nil {
		return notifier.Config{}, err
	}
	nc.Target = target
	return nc, nil
}

func mapStorage(cfg *config.Config) storage.Config {
	t, _ := cfg.Timeouts()
	return storage.Config{
		Driver:      strings.TrimSpace(cfg.Storage.Driver),
		Path:        strings.TrimSpace(cfg.Storage.Path),
		Retain:      cfg.Storage.Retain,
		BusyTimeout: t.StorageBusy,
	}
}

func mapScheduler(cfg *config.Config) scheduler.Config {
	return scheduler.Config{Timezone: strings.TrimSpace(cfg.Share.Timezone)}
}

func mapSource(cfg *config.Config) accounts.FileSource {
	return accounts.FileSource{
		TokensPath:  strings.TrimSpace(cfg.Share.TokensFile),
		ProxiesPath: strings.TrimSpace(cfg.Share.ProxiesFile),
	}
}

func mapShareTask(cfg *config.Config, job func(ctx context.Context) error) scheduler.Task {
	overlap, _ := scheduler.ParseOverlap(cfg.Share.Overlap)
	return scheduler.Task{
		Name:     "bandwidth.share",
		Schedule: cfg.Share.Schedule,
		Overlap:  overlap,
		Job:      job,
	}
}

// startupMessage keeps the classic wording for the default one-minute cadence.
func startupMessage(schedule string) string {
	ps, err := scheduler.ParseSchedule(schedule)
	if err == nil && ps.Kind == scheduler.SpecInterval && ps.Every == time.Minute {
		return "Starting bandwidth sharing each minute..."
	}
	return "Starting bandwidth sharing..."
}
