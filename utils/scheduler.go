package utils

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs jobs on cron specs ("*/30 * * * *", "@every 1h", ...).
// A job still running when its next tick arrives is skipped for that tick.
type Scheduler struct {
	cron    *cron.Cron
	logger  *Logger
	baseCtx context.Context
}

// NewScheduler creates a stopped scheduler. Jobs receive baseCtx.
func NewScheduler(baseCtx context.Context, logger *Logger) *Scheduler {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	cl := cronLogger{logger}
	return &Scheduler{
		cron:    cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		logger:  logger,
		baseCtx: baseCtx,
	}
}

// Add registers job under spec.
func (s *Scheduler) Add(spec string, job func(context.Context)) (cron.EntryID, error) {
	id, err := s.cron.AddFunc(spec, func() {
		if s.baseCtx.Err() != nil {
			return
		}
		job(s.baseCtx)
	})
	if err != nil {
		return 0, fmt.Errorf("scheduler: invalid spec %q: %w", spec, err)
	}
	return id, nil
}

// Next returns when the entry fires next; zero before Start.
func (s *Scheduler) Next(id cron.EntryID) time.Time {
	return s.cron.Entry(id).Next
}

func (s *Scheduler) Start() {
	s.logger.Info("[scheduler] Started with %d job(s)", len(s.cron.Entries()))
	s.cron.Start()
}

// Stop stops the scheduler and waits for running jobs to return.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("[scheduler] Stopped")
}

// cronLogger adapts Logger to cron's key/value logger.
type cronLogger struct{ l *Logger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("[scheduler] %s %v", msg, keysAndValues)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("[scheduler] %s: %v %v", msg, err, keysAndValues)
}
