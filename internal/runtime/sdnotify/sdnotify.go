// Package sdnotify reports service state to systemd. Every call is a no-op
// when the process was not started by systemd with NOTIFY_SOCKET set.
package sdnotify

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "portalshot/pkg/logx"
)

// Notifier sends sd_notify states. The zero value is disabled.
type Notifier struct {
	enabled bool
	log     logx.Logger
	send    func(state string) (bool, error)
	// watchdog returns the interval systemd expects pings at, or 0.
	watchdog func() (time.Duration, error)
}

func New(enabled bool, log logx.Logger) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Notifier{
		enabled:  enabled,
		log:      log.With(logx.String("comp", "sdnotify")),
		send:     func(state string) (bool, error) { return daemon.SdNotify(false, state) },
		watchdog: func() (time.Duration, error) { return daemon.SdWatchdogEnabled(false) },
	}
}

func (n *Notifier) Ready() { n.notify(daemon.SdNotifyReady) }

func (n *Notifier) Stopping() { n.notify(daemon.SdNotifyStopping) }

// Status sets the free-form status line shown by systemctl status.
func (n *Notifier) Status(s string) { n.notify("STATUS=" + s) }

func (n *Notifier) notify(state string) {
	if n == nil || !n.enabled {
		return
	}
	sent, err := n.send(state)
	if err != nil {
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		n.log.Debug("sd_notify sent", logx.String("state", state))
	}
}

// Watchdog pings systemd at half the configured WatchdogSec until ctx is
// done. It returns immediately if the watchdog is not enabled for the unit.
func (n *Notifier) Watchdog(ctx context.Context) {
	if n == nil || !n.enabled {
		return
	}
	interval, err := n.watchdog()
	if err != nil {
		n.log.Warn("sd watchdog check failed", logx.Err(err))
		return
	}
	if interval <= 0 {
		return
	}
	every := interval / 2
	n.log.Info("sd watchdog enabled", logx.Duration("interval", interval))

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
