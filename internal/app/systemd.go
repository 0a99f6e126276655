package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "thingwatch/pkg/logx"
)

// systemdNotifier speaks sd_notify. Outside systemd (no NOTIFY_SOCKET)
// every call is a no-op.
type systemdNotifier struct {
	log logx.Logger
}

func (n systemdNotifier) notify(state string) bool {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return false
	}
	return sent
}

func (n systemdNotifier) ready() {
	if n.notify(daemon.SdNotifyReady) {
		n.log.Debug("notified systemd: ready")
	}
}

func (n systemdNotifier) stopping() { n.notify(daemon.SdNotifyStopping) }

// watchdog pings at half the WATCHDOG_USEC interval until ctx is done.
func (n systemdNotifier) watchdog(ctx context.Context) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		n.log.Warn("systemd watchdog config invalid", logx.Err(err))
		return
	}
	if interval <= 0 {
		return
	}
	every := max(interval/2, time.Millisecond)
	n.log.Info("systemd watchdog enabled", logx.Duration("interval", interval))

	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n.notify(daemon.SdNotifyWatchdog)
		}
	}
}
