package storage

import (
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Janitor runs periodic maintenance jobs (stale artifact cleanup, stranded
// upload sweeps) on cron schedules.
type Janitor struct {
	cron   *cron.Cron
	logger *slog.Logger
}

// NewJanitor creates an idle janitor; call Start after adding jobs.
func NewJanitor(logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		cron:   cron.New(),
		logger: logger,
	}
}

// Add schedules a named job. schedule uses standard cron syntax
// (e.g. "@every 1h", "0 3 * * *").
func (j *Janitor) Add(name, schedule string, job func() error) error {
	_, err := j.cron.AddFunc(schedule, func() {
		if err := job(); err != nil {
			j.logger.Warn("janitor job failed", "job", name, "error", err)
			return
		}
		j.logger.Debug("janitor job finished", "job", name)
	})
	return err
}

// Start begins running scheduled jobs in the background.
func (j *Janitor) Start() {
	j.cron.Start()
}

// Stop halts scheduling and waits for any running job to finish.
func (j *Janitor) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
}
