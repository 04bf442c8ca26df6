package crontab

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/mileusna/crontab"
	"github.com/rs/zerolog"

	"github.com/castmatch/castmatch-server/internal/domain/aichat"
	"github.com/castmatch/castmatch-server/internal/infrastructure/metrics"
	"github.com/castmatch/castmatch-server/internal/utils/platformerrors"
)

const (
	DefaultHealthInterval = 1 // in minutes
	CronJobTimeout        = 2 * time.Minute
	lockTTL               = 55 * time.Second
)

// Locker runs fn only on the instance that wins the named lock.
type Locker interface {
	WithLock(ctx context.Context, name string, ttl time.Duration, fn func(context.Context) error) (bool, error)
}

// Sweeper drops expired in-process entries and returns how many it removed.
type Sweeper interface {
	Sweep() int
}

// HealthProber probes the AI provider.
type HealthProber interface {
	Health(ctx context.Context) aichat.HealthReport
}

type Crontab struct {
	ctab           *crontab.Crontab
	prober         HealthProber
	healthInterval int
	sweepers       map[string]Sweeper
	locker         Locker
	log            zerolog.Logger
}

func NewCrontab(prober HealthProber, healthInterval int, log zerolog.Logger) *Crontab {
	if healthInterval <= 0 {
		healthInterval = DefaultHealthInterval
	}
	return &Crontab{
		ctab:           crontab.New(),
		prober:         prober,
		healthInterval: healthInterval,
		sweepers:       make(map[string]Sweeper),
		log:            log.With().Str("component", "crontab").Logger(),
	}
}

// WithLocker makes the provider probe run on one instance per tick.
func (c *Crontab) WithLocker(l Locker) *Crontab {
	c.locker = l
	return c
}

// AddSweeper registers an in-process store swept every minute.
func (c *Crontab) AddSweeper(name string, s Sweeper) *Crontab {
	if s != nil {
		c.sweepers[name] = s
	}
	return c
}

func (c *Crontab) Run(ctx context.Context) error {
	// execute once on server start
	c.probeProvider(ctx)

	if len(c.sweepers) > 0 {
		if err := c.ctab.AddJob("* * * * *", func() {
			c.runJob("sweep", false, func(context.Context) error {
				c.sweep()
				return nil
			})
		}); err != nil {
			return platformerrors.AsError(ctx, platformerrors.LayerInfrastructure, err, "failed to add sweep job")
		}
	}

	if c.prober != nil {
		expr := fmt.Sprintf("*/%d * * * *", c.healthInterval)
		if err := c.ctab.AddJob(expr, func() {
			c.runJob("provider-health", true, func(jobCtx context.Context) error {
				c.probeProvider(jobCtx)
				return nil
			})
		}); err != nil {
			return platformerrors.AsError(ctx, platformerrors.LayerInfrastructure, err, "failed to add provider health job")
		}
		c.log.Info().Msgf("provider health probe scheduled: every %d minute(s)", c.healthInterval)
	}

	<-ctx.Done()
	c.ctab.Shutdown()
	return nil
}

func (c *Crontab) runJob(name string, exclusive bool, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), CronJobTimeout)
	defer cancel()

	var err error
	if exclusive && c.locker != nil {
		var ran bool
		ran, err = c.locker.WithLock(ctx, "cron:"+name, lockTTL, fn)
		if err == nil && !ran {
			c.log.Debug().Str("job", name).Msg("job skipped, lock held elsewhere")
			return
		}
	} else {
		err = fn(ctx)
	}
	if err != nil {
		c.log.Error().Err(err).Str("job", name).Msg("cron job failed")
	}
	metrics.RecordCronRun(name, err)
}

func (c *Crontab) sweep() {
	names := make([]string, 0, len(c.sweepers))
	for name := range c.sweepers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if removed := c.sweepers[name].Sweep(); removed > 0 {
			c.log.Debug().Str("store", name).Int("removed", removed).Msg("swept expired entries")
		}
	}
}

func (c *Crontab) probeProvider(ctx context.Context) {
	if c.prober == nil {
		return
	}
	report := c.prober.Health(ctx)
	event := c.log.Debug()
	if !report.Healthy {
		event = c.log.Warn()
	}
	event.Str("provider", report.Provider).Str("breaker", report.Breaker).Bool("healthy", report.Healthy).
		Str("error", report.Error).Msg("provider health probed")
}
