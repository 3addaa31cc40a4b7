package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Config controls the scheduler service.
type Config struct {
	Timezone string // IANA TZ for cron schedules, e.g. "Asia/Jakarta"; empty means Local
}

// OverlapPolicy decides what happens when a trigger fires while the
// previous run is still in flight.
type OverlapPolicy string

const (
	OverlapSkipIfRunning OverlapPolicy = "skip"
	OverlapAllow         OverlapPolicy = "allow"
)

// ParseOverlap maps config text to a policy. Empty means skip.
func ParseOverlap(s string) (OverlapPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "skip", "skip_if_running":
		return OverlapSkipIfRunning, nil
	case "allow":
		return OverlapAllow, nil
	default:
		return "", fmt.Errorf("invalid overlap policy %q (use skip or allow)", s)
	}
}

// Task is a repeating job.
type Task struct {
	Name     string
	Schedule string
	// Timeout bounds one run of Job; 0 leaves it unbounded.
	Timeout time.Duration
	Overlap OverlapPolicy
	Job     func(ctx context.Context) error
}
