// Package heartbeat periodically re-runs session registration so the
// gateway's webhook binding stays converged after restarts on either side.
package heartbeat

import (
	"context"
	"time"

	"github.com/adhocore/gronx"

	"github.com/trueselph/wappgate/pkg/config"
	"github.com/trueselph/wappgate/pkg/logger"
	"github.com/trueselph/wappgate/pkg/session"
)

// registrar is the slice of the session registrar the watchdog needs.
type registrar interface {
	Register(ctx context.Context) session.Session
}

type Heartbeat struct {
	cfg       config.HeartbeatConfig
	registrar registrar
	gron      *gronx.Gronx
}

func New(cfg config.HeartbeatConfig, r registrar) *Heartbeat {
	return &Heartbeat{
		cfg:       cfg,
		registrar: r,
		gron:      gronx.New(),
	}
}

// Run ticks once a minute and re-registers the session whenever the cron
// schedule is due. It blocks until ctx is cancelled.
func (h *Heartbeat) Run(ctx context.Context) {
	if !h.cfg.Enabled {
		logger.InfoC("heartbeat", "Heartbeat disabled")
		return
	}
	if !h.gron.IsValid(h.cfg.Schedule) {
		logger.ErrorCF("heartbeat", "Invalid cron schedule", map[string]interface{}{
			"schedule": h.cfg.Schedule,
		})
		return
	}

	logger.InfoCF("heartbeat", "Heartbeat started", map[string]interface{}{
		"schedule": h.cfg.Schedule,
	})

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.InfoC("heartbeat", "Heartbeat stopped")
			return
		case now := <-ticker.C:
			due, err := h.gron.IsDue(h.cfg.Schedule, now)
			if err != nil || !due {
				continue
			}
			h.beat(ctx)
		}
	}
}

func (h *Heartbeat) beat(ctx context.Context) {
	snapshot := h.registrar.Register(ctx)
	fields := map[string]interface{}{
		"status":   string(snapshot.Status),
		"instance": snapshot.Instance,
	}
	if snapshot.Status == session.StatusQRCode {
		logger.WarnCF("heartbeat", "Session needs re-pairing", fields)
		return
	}
	logger.InfoCF("heartbeat", "Session check complete", fields)
}
