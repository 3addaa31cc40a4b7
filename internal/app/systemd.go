package app

import (
	"github.com/coreos/go-systemd/v22/daemon"

	logx "sharebot/pkg/logx"
)

// sdNotify reports state to systemd when running as a Type=notify unit.
// Outside systemd NOTIFY_SOCKET is unset and this is a no-op.
func (a *App) sdNotify(state string) {
	sent, err := daemon.SdNotify(false, state)
	switch {
	case err != nil:
		a.log.Warn("systemd notify failed", logx.String("state", state), logx.Err(err))
	case sent:
		a.log.Debug("systemd notified", logx.String("state", state))
	}
}
