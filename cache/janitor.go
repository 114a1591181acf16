package cache

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"

	"weathercast/internal/errorutil"
	"weathercast/internal/logger"
)

// Janitor periodically purges expired entries from a store
type Janitor struct {
	scheduler *gocron.Scheduler
	purger    Purger
	interval  time.Duration
}

// NewJanitor creates a janitor for purger. It does nothing until Start.
func NewJanitor(purger Purger, interval time.Duration) *Janitor {
	return &Janitor{
		scheduler: gocron.NewScheduler(time.UTC),
		purger:    purger,
		interval:  interval,
	}
}

// Start schedules the purge job. The first sweep runs immediately.
func (j *Janitor) Start() error {
	seconds := int(j.interval.Seconds())
	if seconds <= 0 {
		seconds = 600
	}

	_, err := j.scheduler.Every(seconds).Seconds().SingletonMode().Do(j.RunOnce)
	if err != nil {
		return err
	}

	j.scheduler.StartAsync()
	logger.Debug("Cache janitor started with interval %ds", seconds)
	return nil
}

// RunOnce performs a single purge
func (j *Janitor) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var removed int
	err := errorutil.ExecuteWithLogging(logger.Get().Logger, "cache purge", func() error {
		var err error
		removed, err = j.purger.Purge(ctx)
		return err
	})
	if err == nil && removed > 0 {
		logger.Debug("Cache purge removed %d expired entries", removed)
	}
}

// Stop halts future purges
func (j *Janitor) Stop() {
	if j.scheduler != nil {
		j.scheduler.Stop()
	}
}
