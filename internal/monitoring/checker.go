package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/lead-sourcing/internal/config"
)

const defaultCheckInterval = 5 * time.Minute

// Checker evaluates sourcing-run health on a fixed cadence while serve is up.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig
	log       *zap.Logger
}

// NewChecker wires a collector and alerter to the monitoring settings.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
		log:       zap.L().With(zap.String("component", "monitoring")),
	}
}

func (c *Checker) interval() time.Duration {
	if c.cfg.CheckIntervalSecs <= 0 {
		return defaultCheckInterval
	}
	return time.Duration(c.cfg.CheckIntervalSecs) * time.Second
}

// Run blocks, checking recent runs every interval until ctx is done.
func (c *Checker) Run(ctx context.Context) {
	every := c.interval()
	c.log.Info("run health checks enabled",
		zap.Duration("every", every),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
	)

	tick := time.NewTicker(every)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			c.log.Info("run health checks stopped")
			return
		case <-tick.C:
			c.Check(ctx)
		}
	}
}

// Check snapshots runs in the lookback window and posts whatever alerts fire.
// The return value is the number of alerts raised, delivered or not.
func (c *Checker) Check(ctx context.Context) int {
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		c.log.Error("monitoring: collect run snapshot", zap.Error(err))
		return 0
	}

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		c.log.Debug("sourcing runs healthy",
			zap.Int("runs", snap.RunsTotal),
			zap.Int("leads_inserted", snap.LeadsInserted),
		)
		return 0
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	c.log.Warn("sourcing run alerts raised",
		zap.Int("raised", len(alerts)),
		zap.Int("delivered", sent),
	)
	return len(alerts)
}
