// Package batch runs the account task over every credential/proxy pair,
// one account at a time.
package batch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"sharebot/internal/accounts"
	"sharebot/internal/eventbus"
	logx "sharebot/pkg/logx"
)

// AccountTask is run once per binding. It reports its own outcome.
type AccountTask interface {
	Run(ctx context.Context, b accounts.Binding)
}

// Summary describes one tick.
type Summary struct {
	TickID   string        `json:"tick_id"`
	Accounts int           `json:"accounts"`
	Panicked int           `json:"panicked"`
	Skipped  bool          `json:"skipped,omitempty"`
	Reason   string        `json:"reason,omitempty"`
	Took     time.Duration `json:"took"`
}

type Runner struct {
	src   accounts.Source
	task  AccountTask
	log   logx.Logger
	bus   eventbus.Bus
	newID func() string
}

func NewRunner(src accounts.Source, task AccountTask, log logx.Logger, bus eventbus.Bus) *Runner {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Runner{src: src, task: task, log: log, bus: bus, newID: uuid.NewString}
}

// Tick reloads the account lists and runs the task for each pair in order.
// A load failure or a length mismatch skips the whole tick.
func (r *Runner) Tick(ctx context.Context) Summary {
	start := time.Now()
	sum := Summary{TickID: r.newID()}
	log := r.log.With(logx.String("tick", sum.TickID))
	r.publish(eventbus.TickStarted, sum)

	tokens, proxies, err := r.src.Load(ctx)
	if err != nil {
		log.Error("account lists unavailable; tick skipped", logx.Err(err))
		return r.skip(sum, start, err)
	}
	bindings, err := accounts.Pair(sum.TickID, tokens, proxies)
	if err != nil {
		var mm *accounts.MismatchError
		if errors.As(err, &mm) {
			log.Error(err.Error(), logx.Int("tokens", mm.Tokens), logx.Int("proxies", mm.Proxies))
		} else {
			log.Error("pairing accounts failed; tick skipped", logx.Err(err))
		}
		return r.skip(sum, start, err)
	}

	for _, b := range bindings {
		if ctx.Err() != nil {
			log.Debug("tick cancelled", logx.Int("remaining", len(bindings)-sum.Accounts))
			break
		}
		if !r.runOne(ctx, log, b) {
			sum.Panicked++
		}
		sum.Accounts++
	}
	sum.Took = time.Since(start)
	log.Debug("tick finished", logx.Int("accounts", sum.Accounts), logx.Duration("took", sum.Took))
	r.publish(eventbus.TickFinished, sum)
	return sum
}

func (r *Runner) runOne(ctx context.Context, log logx.Logger, b accounts.Binding) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			ok = false
			// Raw credential is logged here so the operator can find the bad line.
			log.Error("unexpected error in account task",
				logx.Int("account", b.Index),
				logx.String("credential", b.Credential),
				logx.String("panic", fmt.Sprint(rec)),
				logx.Stack(string(debug.Stack())),
			)
		}
	}()
	r.task.Run(ctx, b)
	return true
}

func (r *Runner) skip(sum Summary, start time.Time, err error) Summary {
	sum.Skipped = true
	sum.Reason = err.Error()
	sum.Took = time.Since(start)
	r.publish(eventbus.TickSkipped, sum)
	return sum
}

func (r *Runner) publish(typ string, sum Summary) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(eventbus.Event{Type: typ, Data: sum})
}
