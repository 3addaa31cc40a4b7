package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"

	logx "sharebot/pkg/logx"
)

type Service struct {
	log   logx.Logger
	clock clockwork.Clock
	loc   *time.Location
}

// New returns a scheduler using clock for all timing. A nil clock means the
// real wall clock.
func New(cfg Config, clock clockwork.Clock, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	s := &Service{log: log, clock: clock}
	s.loc = s.loadLocation(cfg.Timezone)
	return s
}

func (s *Service) loadLocation(tz string) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// Run fires t.Job once right away and then at every scheduled instant until
// ctx is cancelled. It returns only after in-flight runs have finished.
// A nil error means ctx ended the loop.
func (s *Service) Run(ctx context.Context, t Task) error {
	if t.Job == nil {
		return errors.New("scheduler: job required")
	}
	if strings.TrimSpace(t.Name) == "" {
		return errors.New("scheduler: name required")
	}
	ps, err := ParseSchedule(t.Schedule)
	if err != nil {
		return err
	}
	sched, err := ps.Compile(s.loc)
	if err != nil {
		return err
	}
	overlap := t.Overlap
	if overlap == "" {
		overlap = OverlapSkipIfRunning
	}

	log := s.log.With(logx.String("task", t.Name))
	log.Info("schedule started",
		logx.String("spec", ps.String()),
		logx.String("overlap", string(overlap)),
		logx.String("tz", s.loc.String()),
	)
	if log.Enabled(logx.LevelDebug) {
		log.Debug("upcoming runs", logx.String("next", previewNextRuns(sched, s.clock.Now().In(s.loc), 3)))
	}

	var (
		wg      sync.WaitGroup
		running atomic.Bool
	)
	defer wg.Wait()

	fire := func(at time.Time) {
		if overlap == OverlapSkipIfRunning && !running.CompareAndSwap(false, true) {
			log.Warn("previous run still in progress; trigger skipped", logx.Time("at", at))
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := s.clock.Now()
			err := s.execute(ctx, t)
			if overlap == OverlapSkipIfRunning {
				running.Store(false)
			}
			took := s.clock.Since(start)
			var pe *panicError
			switch {
			case errors.As(err, &pe):
				log.Error("job panicked", logx.String("panic", fmt.Sprint(pe.value)), logx.Stack(string(pe.stack)))
			case err != nil:
				log.Warn("job failed", logx.Err(err), logx.Duration("took", took))
			default:
				log.Debug("job finished", logx.Duration("took", took))
			}
		}()
	}

	// Fixed delays are measured from the previous trigger. cron's
	// ConstantDelaySchedule truncates "now" to the second and would fire early.
	every := ps.Every
	if cd, ok := sched.(cron.ConstantDelaySchedule); ok && every <= 0 {
		every = cd.Delay
	}

	last := s.clock.Now()
	fire(last)
	for {
		now := s.clock.Now().In(s.loc)
		var next time.Time
		if every > 0 {
			next = last.Add(every)
			// Skip triggers missed while the clock jumped, keeping the phase.
			for next.Before(now) {
				next = next.Add(every)
			}
		} else {
			next = sched.Next(now)
		}
		if next.IsZero() {
			log.Warn("schedule has no further runs")
			<-ctx.Done()
			return nil
		}
		timer := s.clock.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Debug("schedule stopped")
			return nil
		case at := <-timer.Chan():
			last = next
			fire(at)
		}
	}
}

type panicError struct {
	value any
	stack []byte
}

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.value) }

func (s *Service) execute(ctx context.Context, t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r, stack: debug.Stack()}
		}
	}()

	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}
	return t.Job(ctx)
}

func previewNextRuns(sched interface{ Next(time.Time) time.Time }, from time.Time, n int) string {
	var b strings.Builder
	t := from
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}
