// Package schedule runs the periodic connector syncs and the nightly
// backup on a cron runner. A job instance still running when its next
// tick arrives delays that tick instead of overlapping it.
package schedule

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Sync cadences per connector class.
const (
	DefaultCadence = 10 * time.Minute
	MailCadence    = 5 * time.Minute
	PhotosCadence  = 30 * time.Minute
	ArchiveCadence = 24 * time.Hour

	// BackupSpec fires the nightly backup at 03:00.
	BackupSpec = "0 3 * * *"
)

// Cadence maps a connector class name to its sync interval.
func Cadence(class string) time.Duration {
	switch class {
	case "mail":
		return MailCadence
	case "photos":
		return PhotosCadence
	case "archive":
		return ArchiveCadence
	default:
		return DefaultCadence
	}
}

// Connector is one periodic source sync.
type Connector interface {
	Name() string
	Sync(ctx context.Context) error
}

// Scheduler owns the cron runner.
type Scheduler struct {
	cron *cron.Cron
	log  *slog.Logger
}

// New builds a stopped scheduler. Jobs added later inherit the
// delay-if-still-running chain.
func New(log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	cl := cronLogger{log: log}
	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(cl),
			cron.DelayIfStillRunning(cl),
		)),
		log: log,
	}
}

// AddConnector schedules a connector at the given interval. Sync errors
// are logged; the schedule keeps running.
func (s *Scheduler) AddConnector(c Connector, every time.Duration) error {
	_, err := s.cron.AddFunc("@every "+every.String(), func() {
		start := time.Now()
		if err := c.Sync(context.Background()); err != nil {
			s.log.Error("connector sync failed", "connector", c.Name(), "err", err)
			return
		}
		s.log.Info("connector sync finished", "connector", c.Name(), "elapsed", time.Since(start))
	})
	return err
}

// AddJob schedules an arbitrary named job on a cron spec.
func (s *Scheduler) AddJob(spec, name string, fn func(ctx context.Context) error) error {
	_, err := s.cron.AddFunc(spec, func() {
		if err := fn(context.Background()); err != nil {
			s.log.Error("scheduled job failed", "job", name, "err", err)
		}
	})
	return err
}

// Start launches the cron runner in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// cronLogger adapts slog to the cron logging interface.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, kv ...interface{}) {
	l.log.Debug(msg, kv...)
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.log.Error(msg, append(kv, "err", err)...)
}
