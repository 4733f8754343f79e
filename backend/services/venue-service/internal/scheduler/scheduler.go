package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	specWatchdog     = "@every 1s"
	specGaugeRefresh = "*/15 * * * * *"

	watchdogTimeout = 5 * time.Second
)

// WatchdogTask pauses tables whose bonus credit ran out.
type WatchdogTask interface {
	Tick(ctx context.Context) int
}

// GaugeTask refreshes point-in-time metrics.
type GaugeTask interface {
	RefreshGauges()
}

type Deps struct {
	Watchdog WatchdogTask
	Gauges   GaugeTask
}

// NewScheduler registers venue jobs. The watchdog never overlaps itself.
func NewScheduler(deps Deps, loc *time.Location, logger *zap.Logger) *cron.Cron {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}

	c := cron.New(cron.WithSeconds(), cron.WithLocation(loc))

	if deps.Watchdog != nil {
		watchdog := deps.Watchdog
		addJob(c, specWatchdog, "bonus.watchdog", logger, cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger)), func() {
			ctx, cancel := context.WithTimeout(context.Background(), watchdogTimeout)
			defer cancel()
			if n := watchdog.Tick(ctx); n > 0 {
				logger.Info("bonus watchdog paused tables", zap.Int("count", n))
			}
		})
	}
	if deps.Gauges != nil {
		addJob(c, specGaugeRefresh, "metrics.refresh_gauges", logger, cron.NewChain(), deps.Gauges.RefreshGauges)
	}

	return c
}

func addJob(c *cron.Cron, spec, name string, logger *zap.Logger, chain cron.Chain, fn func()) {
	if c == nil || fn == nil {
		return
	}

	job := chain.Then(cron.FuncJob(func() {
		defer recoverJobPanic(name, logger)
		start := time.Now()
		fn()
		logger.Debug("scheduler job finished", zap.String("job", name), zap.Duration("cost", time.Since(start)))
	}))
	if _, err := c.AddJob(spec, job); err != nil {
		logger.Error("register scheduler job failed",
			zap.String("job", name),
			zap.String("spec", spec),
			zap.Error(err),
		)
	}
}

func recoverJobPanic(jobName string, logger *zap.Logger) {
	if recovered := recover(); recovered != nil {
		logger.Error("scheduler job panic recovered",
			zap.String("job", jobName),
			zap.Any("panic", recovered),
		)
	}
}
