package scheduler

import (
	"context"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/backlink-monitor/internal/backlink"
)

// Job runs a selection on a standard five-field cron schedule.
type Job struct {
	Name      string `mapstructure:"name"`
	Schedule  string `mapstructure:"schedule"`
	Frequency string `mapstructure:"frequency"`
	Status    string `mapstructure:"status"`
	Limit     int    `mapstructure:"limit"`
}

// Selection parses the job's filters.
func (j Job) Selection() (backlink.Selection, error) {
	freq, err := backlink.ParseFrequency(j.Frequency)
	if err != nil {
		return backlink.Selection{}, err
	}
	status, err := backlink.ParseStatusFilter(j.Status)
	if err != nil {
		return backlink.Selection{}, err
	}
	return backlink.Selection{Frequency: freq, Status: status, Limit: j.Limit}, nil
}

// Cron triggers Dispatch on a timetable.
type Cron struct {
	cron   *cron.Cron
	sched  *Scheduler
	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// NewCron validates and registers jobs. Overlapping runs of the same job are skipped.
func NewCron(s *Scheduler, jobs []Job, logger *zap.Logger) (*Cron, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	cl := cronLogger{l: logger.Sugar()}
	c := &Cron{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		sched:  s,
		logger: logger,
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	for _, job := range jobs {
		sel, err := job.Selection()
		if err != nil {
			return nil, fmt.Errorf("cron job %q: %w", job.Name, err)
		}
		name := job.Name
		if _, err := c.cron.AddFunc(job.Schedule, func() { c.trigger(name, sel) }); err != nil {
			return nil, fmt.Errorf("cron job %q schedule %q: %w", job.Name, job.Schedule, err)
		}
		logger.Info("cron job registered", zap.String("job", name), zap.String("schedule", job.Schedule))
	}
	return c, nil
}

// Entries reports how many jobs are registered.
func (c *Cron) Entries() int {
	return len(c.cron.Entries())
}

// Run starts the timetable and blocks until ctx ends, then waits for running jobs.
func (c *Cron) Run(ctx context.Context) error {
	c.cron.Start()
	<-ctx.Done()
	c.cancel()
	<-c.cron.Stop().Done()
	return nil
}

func (c *Cron) trigger(name string, sel backlink.Selection) {
	n, err := c.sched.Dispatch(c.ctx, sel)
	if err != nil {
		c.logger.Error("scheduled dispatch failed", zap.String("job", name), zap.Error(err))
		return
	}
	c.logger.Info("scheduled dispatch finished", zap.String("job", name), zap.Int("queued", n))
}

type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw("cron: "+strings.TrimSpace(msg), append(keysAndValues, "error", err)...)
}
