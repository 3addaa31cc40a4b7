package notifier

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sharebot/internal/eventbus"
	kit "sharebot/internal/transport"
	logx "sharebot/pkg/logx"
	"sharebot/pkg/logx/logxtest"
)

type sentMsg struct {
	to   kit.ChatTarget
	text string
	opt  kit.SendOptions
}

type fakeSender struct {
	mu    sync.Mutex
	sent  []sentMsg
	err   error
	gate  chan struct{} // when non-nil, SendText blocks until closed
	began chan struct{}
}

func (f *fakeSender) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if f.began != nil {
		f.began <- struct{}{}
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return kit.MessageRef{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMsg{to: to, text: text, opt: *opt})
	if f.err != nil {
		return kit.MessageRef{}, f.err
	}
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeSender) messages() []sentMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMsg(nil), f.sent...)
}

func waitEvent(t *testing.T, ch <-chan eventbus.Event, typ string) eventbus.Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e := <-ch:
			if e.Type == typ {
				return e
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", typ)
		}
	}
}

func TestFormatReport(t *testing.T) {
	text := FormatReport(Report{Identity: "alice@example.com", Quality: 77, Balance: 42, Proxy: "http://p1:8080"})
	assert.Contains(t, text, "OPEN LOOP AUTO BOT")
	assert.Contains(t, text, "👤 Email: alice@example.com")
	assert.Contains(t, text, "💰 Score: 77")
	assert.Contains(t, text, "📢 Total Earnings: 42")
	assert.Contains(t, text, "🛠 Proxy Used: http://p1:8080")
	assert.Equal(t, "12.5", FormatBalance(12.5))
}

func TestFormatReportEscapesMarkdown(t *testing.T) {
	text := FormatReport(Report{Identity: "john_doe@x.com", Quality: 60, Balance: 1, Proxy: "http://u*s:p`w@[h]:80"})
	assert.Contains(t, text, `👤 Email: john\_doe@x.com`)
	assert.Contains(t, text, "🛠 Proxy Used: http://u\\*s:p\\`w@\\[h]:80")
	assert.NotContains(t, text, "john_doe")
}

func TestNotifyDeliversFormattedReport(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	sender := &fakeSender{}
	target := kit.ChatTarget{ChatID: -1001}
	svc := New(Config{Enabled: true, Target: target, RatePerSec: 50}, sender, logx.Nop(), bus)
	svc.Start(context.Background())
	defer svc.Stop(context.Background())

	require.NoError(t, svc.Notify(context.Background(), Report{Identity: "bob", Quality: 60, Balance: 3.25, Proxy: "socks5://p:1080"}))
	waitEvent(t, events, eventbus.NotifierSent)

	msgs := sender.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, target, msgs[0].to)
	assert.Equal(t, kit.ParseModeMarkdown, msgs[0].opt.ParseMode)
	assert.True(t, strings.Contains(msgs[0].text, "💰 Score: 60"))
	assert.True(t, strings.Contains(msgs[0].text, "📢 Total Earnings: 3.25"))
}

func TestNotifyWhenDisabled(t *testing.T) {
	svc := New(Config{Enabled: false}, &fakeSender{}, logx.Nop(), nil)
	svc.Start(context.Background())
	assert.ErrorIs(t, svc.Notify(context.Background(), Report{}), ErrDisabled)
}

func TestNotifyBeforeStartIsStopped(t *testing.T) {
	svc := New(Config{Enabled: true}, &fakeSender{}, logx.Nop(), nil)
	assert.ErrorIs(t, svc.Notify(context.Background(), Report{}), ErrStopped)
}

func TestDeliveryFailureIsLoggedNotReturned(t *testing.T) {
	rec, log := logxtest.New()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	sender := &fakeSender{err: errors.New("telegram: chat not found (400)")}
	svc := New(Config{Enabled: true, Target: kit.ChatTarget{ChatID: 1}, RatePerSec: 50}, sender, log, bus)
	svc.Start(context.Background())
	defer svc.Stop(context.Background())

	require.NoError(t, svc.Notify(context.Background(), Report{Identity: "carol"}))
	ev := waitEvent(t, events, eventbus.NotifierFailed)
	data, ok := ev.Data.(NotificationEvent)
	require.True(t, ok)
	assert.Equal(t, "carol", data.Identity)
	assert.Contains(t, data.Error, "chat not found")

	require.Len(t, rec.Find("warn", "report delivery failed"), 1)
	assert.Len(t, sender.messages(), 1, "no retry expected")
}

func TestNotifyQueueFull(t *testing.T) {
	sender := &fakeSender{gate: make(chan struct{}), began: make(chan struct{}, 4)}
	svc := New(Config{Enabled: true, Target: kit.ChatTarget{ChatID: 1}, QueueSize: 1, RatePerSec: 50}, sender, logx.Nop(), nil)
	svc.Start(context.Background())

	require.NoError(t, svc.Notify(context.Background(), Report{Identity: "1"}))
	select {
	case <-sender.began:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never picked up the first report")
	}
	require.NoError(t, svc.Notify(context.Background(), Report{Identity: "2"}))
	assert.ErrorIs(t, svc.Notify(context.Background(), Report{Identity: "3"}), ErrQueueFull)

	close(sender.gate)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	svc.Stop(ctx)
	assert.Len(t, sender.messages(), 2)
	assert.ErrorIs(t, svc.Notify(context.Background(), Report{}), ErrStopped)
}
