package dmimu

import (
	"context"
	log "github.com/sirupsen/logrus"
	"imu_apiserver/internal/manager"
	"time"
)

const daemonInterval = time.Second

// Daemon keeps m running until ctx is done, unless it was stopped on purpose.
// A faulted manager is restarted, which reopens its port.
func Daemon(ctx context.Context, m manager.Manager) {
	ticker := time.NewTicker(daemonInterval)
	defer ticker.Stop()
	for {
		if m.Faulted() {
			log.Infoln("status is faulted, restarting")
			if err := m.Restart(); err != nil {
				log.Errorln(err)
			}
		} else if !m.Running() && !m.ManuallyStopped() {
			if err := m.Start(); err != nil {
				log.Errorln(err)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
