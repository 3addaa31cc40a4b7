package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	logx "sharebot/pkg/logx"
	"sharebot/pkg/logx/logxtest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type harness struct {
	t      *testing.T
	clock  *clockwork.FakeClock
	svc    *Service
	rec    *logxtest.Recorder
	cancel context.CancelFunc
	done   chan error
}

func newHarness(t *testing.T) *harness { return newHarnessAt(t, epoch) }

func newHarnessAt(t *testing.T, start time.Time) *harness {
	rec, log := logxtest.New()
	clk := clockwork.NewFakeClockAt(start)
	return &harness{t: t, clock: clk, svc: New(Config{Timezone: "UTC"}, clk, log), rec: rec, done: make(chan error, 1)}
}

func (h *harness) run(task Task) {
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.svc.Run(ctx, task) }()
}

// waitTimer blocks until the run loop has armed its next timer.
func (h *harness) waitTimer() {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(h.t, h.clock.BlockUntilContext(ctx, 1))
}

func (h *harness) stop() {
	h.t.Helper()
	h.cancel()
	select {
	case err := <-h.done:
		require.NoError(h.t, err)
	case <-time.After(2 * time.Second):
		h.t.Fatal("Run did not return after cancel")
	}
}

// waitLogged waits until msg has been logged at level n times.
func (h *harness) waitLogged(level, msg string, n int) {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return len(h.rec.Find(level, msg)) >= n }, 2*time.Second, 5*time.Millisecond)
}

func expectCall(t *testing.T, ch <-chan time.Time) time.Time {
	t.Helper()
	select {
	case at := <-ch:
		return at
	case <-time.After(2 * time.Second):
		t.Fatal("expected a job run")
		return time.Time{}
	}
}

func expectNoCall(t *testing.T, ch <-chan time.Time) {
	t.Helper()
	select {
	case at := <-ch:
		t.Fatalf("unexpected job run at %s", at)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRunFiresImmediatelyThenEveryInterval(t *testing.T) {
	calls := make(chan time.Time, 8)
	h := newHarness(t)
	h.run(Task{Name: "share", Schedule: "60s", Job: func(context.Context) error {
		calls <- h.clock.Now()
		return nil
	}})

	assert.Equal(t, epoch, expectCall(t, calls))
	h.waitLogged("debug", "job finished", 1)

	h.waitTimer()
	h.clock.Advance(59 * time.Second)
	expectNoCall(t, calls)

	h.clock.Advance(time.Second)
	assert.Equal(t, epoch.Add(time.Minute), expectCall(t, calls))
	h.waitLogged("debug", "job finished", 2)

	h.waitTimer()
	h.clock.Advance(time.Minute)
	assert.Equal(t, epoch.Add(2*time.Minute), expectCall(t, calls))

	h.stop()
	require.Len(t, h.rec.Find("info", "schedule started"), 1)
}

func TestRunIntervalWaitsFullPeriodFromSubSecondStart(t *testing.T) {
	for _, schedule := range []string{"60s", "@every 1m"} {
		t.Run(schedule, func(t *testing.T) {
			start := epoch.Add(700 * time.Millisecond)
			calls := make(chan time.Time, 8)
			h := newHarnessAt(t, start)
			h.run(Task{Name: "share", Schedule: schedule, Job: func(context.Context) error {
				calls <- h.clock.Now()
				return nil
			}})

			assert.Equal(t, start, expectCall(t, calls))
			h.waitLogged("debug", "job finished", 1)

			h.waitTimer()
			h.clock.Advance(59*time.Second + 400*time.Millisecond)
			expectNoCall(t, calls)

			h.clock.Advance(600 * time.Millisecond)
			assert.Equal(t, start.Add(time.Minute), expectCall(t, calls))
			h.waitLogged("debug", "job finished", 2)

			h.waitTimer()
			h.clock.Advance(59*time.Second + 999*time.Millisecond)
			expectNoCall(t, calls)
			h.clock.Advance(time.Millisecond)
			assert.Equal(t, start.Add(2*time.Minute), expectCall(t, calls))

			h.stop()
		})
	}
}

func TestRunSkipsTriggerWhileRunning(t *testing.T) {
	calls := make(chan time.Time, 8)
	release := make(chan struct{})
	h := newHarness(t)
	h.run(Task{Name: "share", Schedule: "@every 1m", Job: func(ctx context.Context) error {
		calls <- h.clock.Now()
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}})

	expectCall(t, calls)
	h.waitTimer()
	h.clock.Advance(time.Minute)
	h.waitTimer()
	expectNoCall(t, calls)
	assert.Len(t, h.rec.Find("warn", "previous run still in progress; trigger skipped"), 1)

	close(release)
	h.stop()
}

func TestRunAllowOverlap(t *testing.T) {
	calls := make(chan time.Time, 8)
	release := make(chan struct{})
	h := newHarness(t)
	h.run(Task{Name: "share", Schedule: "60s", Overlap: OverlapAllow, Job: func(ctx context.Context) error {
		calls <- h.clock.Now()
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}})

	expectCall(t, calls)
	h.waitTimer()
	h.clock.Advance(time.Minute)
	expectCall(t, calls)

	close(release)
	h.stop()
	assert.Empty(t, h.rec.Find("warn", "previous run still in progress; trigger skipped"))
}

func TestRunRecoversJobPanicAndErrors(t *testing.T) {
	calls := make(chan time.Time, 8)
	n := 0
	h := newHarness(t)
	h.run(Task{Name: "share", Schedule: "60s", Job: func(context.Context) error {
		n++
		calls <- h.clock.Now()
		switch n {
		case 1:
			panic("boom")
		case 2:
			return errors.New("load failed")
		}
		return nil
	}})

	expectCall(t, calls)
	h.waitLogged("error", "job panicked", 1)
	h.waitTimer()
	h.clock.Advance(time.Minute)
	expectCall(t, calls)
	h.waitLogged("warn", "job failed", 1)
	h.waitTimer()
	h.clock.Advance(time.Minute)
	expectCall(t, calls)
	h.stop()

	require.Len(t, h.rec.Find("error", "job panicked"), 1)
	require.Len(t, h.rec.Find("warn", "job failed"), 1)
}

func TestRunAppliesJobTimeout(t *testing.T) {
	errs := make(chan error, 1)
	h := newHarness(t)
	h.run(Task{Name: "share", Schedule: "60s", Timeout: 10 * time.Millisecond, Job: func(ctx context.Context) error {
		<-ctx.Done()
		errs <- ctx.Err()
		return ctx.Err()
	}})
	select {
	case err := <-errs:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("job timeout not applied")
	}
	h.stop()
}

func TestRunRejectsBadTask(t *testing.T) {
	svc := New(Config{}, clockwork.NewFakeClockAt(epoch), logx.Nop())
	job := func(context.Context) error { return nil }

	assert.Error(t, svc.Run(context.Background(), Task{Name: "x", Schedule: "soon", Job: job}))
	assert.Error(t, svc.Run(context.Background(), Task{Name: "x", Schedule: "60s"}))
	assert.Error(t, svc.Run(context.Background(), Task{Schedule: "60s", Job: job}))
}

func TestParseOverlap(t *testing.T) {
	p, err := ParseOverlap("")
	require.NoError(t, err)
	assert.Equal(t, OverlapSkipIfRunning, p)
	p, err = ParseOverlap("ALLOW")
	require.NoError(t, err)
	assert.Equal(t, OverlapAllow, p)
	_, err = ParseOverlap("queue")
	assert.Error(t, err)
}
