package share

import (
	"context"
	"errors"
	"sync"
	"time"

	"sharebot/internal/accounts"
	"sharebot/internal/identity"
	"sharebot/internal/notifier"
	"sharebot/internal/storage"
	logx "sharebot/pkg/logx"
)

// Notifier receives one report per successful share.
type Notifier interface {
	Notify(ctx context.Context, r notifier.Report) error
}

// Recorder persists attempt outcomes.
type Recorder interface {
	AppendRun(ctx context.Context, r storage.RunRecord) error
}

// TaskConfig holds the settings that can change on config reload.
type TaskConfig struct {
	Endpoint string
	// Timeout bounds one share call including proxy dial. 0 means 30s.
	Timeout time.Duration
}

type TaskOption func(*Task)

func WithNotifier(n Notifier) TaskOption { return func(t *Task) { t.notify = n } }
func WithRecorder(r Recorder) TaskOption { return func(t *Task) { t.store = r } }

// WithQualitySource replaces the random source used by SampleQuality.
func WithQualitySource(intn func(int) int) TaskOption { return func(t *Task) { t.intn = intn } }

func WithClock(now func() time.Time) TaskOption { return func(t *Task) { t.now = now } }

// Task performs the share for one account binding. Run never returns an
// error: every outcome ends as a log line and, when configured, a history row.
type Task struct {
	log    logx.Logger
	notify Notifier
	store  Recorder
	intn   func(int) int
	now    func() time.Time

	mu      sync.RWMutex
	client  *Client
	timeout time.Duration
}

func NewTask(cfg TaskConfig, log logx.Logger, opts ...TaskOption) *Task {
	if log.IsZero() {
		log = logx.Nop()
	}
	t := &Task{log: log, now: time.Now}
	for _, o := range opts {
		if o != nil {
			o(t)
		}
	}
	t.Apply(cfg)
	return t
}

// Apply swaps endpoint and timeout; ticks already running keep the old values.
func (t *Task) Apply(cfg TaskConfig) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	t.mu.Lock()
	t.client = &Client{Endpoint: cfg.Endpoint, DialTimeout: cfg.Timeout}
	t.timeout = cfg.Timeout
	t.mu.Unlock()
}

func (t *Task) Run(ctx context.Context, b accounts.Binding) {
	t.mu.RLock()
	client, timeout := t.client, t.timeout
	t.mu.RUnlock()

	quality := SampleQuality(t.intn)
	who := identity.Extract(b.Credential)
	proxyShown := RedactProxy(b.Proxy)
	log := t.log.With(
		logx.Int("account", b.Index),
		logx.String("identity", who),
		logx.String("proxy", proxyShown),
	)

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	res, err := client.Share(callCtx, b.Credential, b.Proxy, quality)
	cancel()

	rec := storage.RunRecord{
		At:       t.now(),
		TickID:   b.TickID,
		Index:    b.Index,
		Identity: who,
		Proxy:    proxyShown,
		Quality:  quality,
	}

	switch {
	case errors.Is(err, ErrNoBalance):
		log.Debug("share response without balance; skipped", logx.Int("quality", quality))
		rec.Status = storage.StatusNoBalance
		t.record(ctx, log, rec)
		return
	case err != nil:
		log.Warn("bandwidth share failed", logx.Int("quality", quality), logx.Err(err))
		rec.Status = storage.StatusFailed
		rec.Error = err.Error()
		t.record(ctx, log, rec)
		return
	}

	log.Info("bandwidth shared",
		logx.String("response", res.Message),
		logx.Int("quality", quality),
		logx.Float64("balance", res.Balance),
	)
	rec.Status = storage.StatusOK
	rec.Balance = res.Balance
	rec.Message = res.Message
	t.record(ctx, log, rec)

	if t.notify == nil {
		return
	}
	err = t.notify.Notify(ctx, notifier.Report{
		Identity: who,
		Quality:  quality,
		Balance:  res.Balance,
		Proxy:    proxyShown,
	})
	switch {
	case err == nil:
	case errors.Is(err, notifier.ErrDisabled):
		log.Trace("report not sent; notifier disabled")
	default:
		log.Warn("report not queued", logx.Err(err))
	}
}

func (t *Task) record(ctx context.Context, log logx.Logger, rec storage.RunRecord) {
	if t.store == nil {
		return
	}
	if err := t.store.AppendRun(context.WithoutCancel(ctx), rec); err != nil {
		log.Warn("run history append failed", logx.Err(err))
	}
}
