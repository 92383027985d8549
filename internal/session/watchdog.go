package session

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const DefaultWatchdogInterval = 30 * time.Second

// Watchdog varre periodicamente as instâncias e descarta conversas do
// Typebot que já passaram do timeout, para que o cache não cresça com
// contatos que nunca voltam.
type Watchdog struct {
	instances func() []*Instance
	interval  time.Duration
	log       *zap.Logger
}

func NewWatchdog(instances func() []*Instance, interval time.Duration, log *zap.Logger) *Watchdog {
	if interval <= 0 {
		interval = DefaultWatchdogInterval
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Watchdog{
		instances: instances,
		interval:  interval,
		log:       log,
	}
}

func (w *Watchdog) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Sweep()
		}
	}
}

// Sweep executa uma varredura e devolve o total de conversas removidas.
func (w *Watchdog) Sweep() int {
	total := 0
	for _, inst := range w.instances() {
		removed := inst.Conversations().Purge(inst.Settings().SessionTimeout())
		if removed > 0 {
			w.log.Debug("watchdog: conversas expiradas removidas",
				zap.String("instance_id", inst.ID()),
				zap.Int("count", removed),
			)
		}
		total += removed
	}
	return total
}
