package notifier

import (
	"time"

	kit "sharebot/internal/transport"
)

// Config controls the async notification pipeline.
type Config struct {
	Enabled    bool
	Target     kit.ChatTarget
	Workers    int
	QueueSize  int
	RatePerSec int
	// SendTimeout bounds a single delivery attempt.
	SendTimeout time.Duration
}

// Report is one successful share, as delivered to the chat.
type Report struct {
	Identity string
	Quality  int
	Balance  float64
	Proxy    string
}

// NotificationEvent is published on the event bus for notifier lifecycle events.
type NotificationEvent struct {
	Identity string    `json:"identity"`
	ChatID   int64     `json:"chat_id,omitempty"`
	Username string    `json:"username,omitempty"`
	At       time.Time `json:"at"`
	Error    string    `json:"error,omitempty"`
}
