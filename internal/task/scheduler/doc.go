// Package scheduler runs a job immediately and then on a repeating schedule
// (cron expression or fixed interval) until its context is cancelled.
//
// Time comes from a clockwork.Clock so tests can drive triggers with a
// fake clock.
package scheduler
