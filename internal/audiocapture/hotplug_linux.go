//go:build linux

package audiocapture

import (
	"context"
	"log/slog"

	"github.com/jochenvg/go-udev"

	"github.com/foresthq/guardian/internal/logging"
)

// WatchHotplug watches udev for sound-subsystem add/remove events and
// invokes onChange whenever one arrives, so the node can reopen its
// capture Source after a USB audio adapter is replugged. It blocks
// until ctx is canceled.
func WatchHotplug(ctx context.Context, onChange func()) {
	log := logging.ForService("audiocapture.hotplug")

	u := udev.Udev{}
	monitor := u.NewMonitorFromNetlink("udev")
	if err := monitor.FilterAddMatchSubsystem("sound"); err != nil {
		log.Warn("failed to set udev subsystem filter", "err", err)
		return
	}

	deviceCh, errCh, err := monitor.DeviceChan(ctx)
	if err != nil {
		log.Warn("failed to start udev monitor", "err", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case dev, ok := <-deviceCh:
			if !ok {
				return
			}
			logHotplugEvent(log, dev)
			onChange()
		case err, ok := <-errCh:
			if !ok {
				return
			}
			log.Warn("udev monitor error", "err", err)
		}
	}
}

func logHotplugEvent(log *slog.Logger, dev interface{ Action() string }) {
	log.Info("sound device hotplug event", "action", dev.Action())
}
