// Package scheduler runs the daily background sweeps at fixed times of the
// organisation day.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"moodjournal/internal/calendar"
	"moodjournal/internal/metrics"
)

// JobHandler runs one sweep and fills in its report.
type JobHandler func(ctx context.Context, r *Report) error

// Options sets the time of day ("HH:MM", org zone) of each job.
type Options struct {
	LoginResetAt string
	ReminderAt   string
	BirthdayAt   string
	CleanupAt    string
}

// Scheduler owns the gocron scheduler and the job registry.
type Scheduler struct {
	cron     gocron.Scheduler
	handlers map[string]JobHandler
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	reports map[string]*Report
}

// New registers the sweeps of jobs as daily jobs in the calendar's zone.
// An empty time leaves that job unscheduled; it can still be run with Run.
func New(jobs *Jobs, cal *calendar.Calendar, opts Options, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	cron, err := gocron.NewScheduler(
		gocron.WithLocation(cal.Location()),
		gocron.WithClock(cal.Clock()),
		gocron.WithLogger(zapLogger{logger.Sugar()}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:     cron,
		handlers: make(map[string]JobHandler),
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		reports:  make(map[string]*Report),
	}

	s.Register(JobLoginReset, jobs.ResetLogins)
	s.Register(JobInactiveRemind, jobs.RemindInactive)
	s.Register(JobBirthday, jobs.SendBirthdays)
	s.Register(JobTelegramCleanup, jobs.CleanupTelegramLogs)

	times := map[string]string{
		JobLoginReset:      opts.LoginResetAt,
		JobInactiveRemind:  opts.ReminderAt,
		JobBirthday:        opts.BirthdayAt,
		JobTelegramCleanup: opts.CleanupAt,
	}
	for name, at := range times {
		if at == "" {
			continue
		}
		if err := s.schedule(name, at); err != nil {
			cancel()
			_ = cron.Shutdown()
			return nil, err
		}
	}
	return s, nil
}

// Register adds or replaces the handler for a job name.
func (s *Scheduler) Register(name string, h JobHandler) {
	s.handlers[name] = h
}

func (s *Scheduler) schedule(name, at string) error {
	hour, minute, err := ParseClock(at)
	if err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}
	_, err = s.cron.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(hour, minute, 0))),
		gocron.NewTask(func() {
			if _, err := s.Run(s.ctx, name); err != nil {
				s.logger.Error("job_failed", zap.String("job", name), zap.Error(err))
			}
		}),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", name, err)
	}
	return nil
}

// Run executes a job now and returns its report. Item failures are in the
// report; the error is only set when the job could not run at all.
func (s *Scheduler) Run(ctx context.Context, name string) (*Report, error) {
	handler, ok := s.handlers[name]
	if !ok {
		return nil, fmt.Errorf("no handler registered for job: %s", name)
	}

	r := &Report{Job: name, StartedAt: time.Now()}
	err := handler(ctx, r)
	r.Duration = time.Since(r.StartedAt)

	metrics.JobDuration.WithLabelValues(name).Observe(r.Duration.Seconds())
	if failed := r.Failed(); failed > 0 {
		metrics.JobItemsFailed.WithLabelValues(name).Add(float64(failed))
	}

	s.mu.Lock()
	s.reports[name] = r
	s.mu.Unlock()

	if err != nil {
		return r, fmt.Errorf("job %s: %w", name, err)
	}
	metrics.JobsCompleted.WithLabelValues(name).Inc()
	s.logger.Info("job_completed",
		zap.String("job", name),
		zap.Int64("affected", r.Affected),
		zap.Int("items", len(r.Items)),
		zap.Int("failed", r.Failed()),
		zap.Duration("duration", r.Duration))
	return r, nil
}

// LastReport returns the report of the latest run of a job.
func (s *Scheduler) LastReport(name string) (*Report, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[name]
	return r, ok
}

// NextRuns returns the next run time of each scheduled job.
func (s *Scheduler) NextRuns() map[string]time.Time {
	out := make(map[string]time.Time)
	for _, j := range s.cron.Jobs() {
		if next, err := j.NextRun(); err == nil {
			out[j.Name()] = next
		}
	}
	return out
}

// Scheduled returns the names of the scheduled jobs, sorted.
func (s *Scheduler) Scheduled() []string {
	var names []string
	for _, j := range s.cron.Jobs() {
		names = append(names, j.Name())
	}
	sort.Strings(names)
	return names
}

// Start begins running jobs at their times.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler_started", zap.Strings("jobs", s.Scheduled()))
}

// Stop cancels running sweeps and shuts the scheduler down.
func (s *Scheduler) Stop() error {
	s.cancel()
	return s.cron.Shutdown()
}

// ParseClock parses "HH:MM".
func ParseClock(v string) (hour, minute uint, err error) {
	h, m, ok := strings.Cut(v, ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid time of day %q", v)
	}
	hh, err := strconv.Atoi(h)
	if err != nil || hh < 0 || hh > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", v)
	}
	mm, err := strconv.Atoi(m)
	if err != nil || mm < 0 || mm > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", v)
	}
	return uint(hh), uint(mm), nil
}

// zapLogger adapts zap to gocron's logger.
type zapLogger struct {
	s *zap.SugaredLogger
}

func (l zapLogger) Debug(msg string, args ...any) { l.s.Debugw(msg, args...) }

func (l zapLogger) Error(msg string, args ...any) { l.s.Errorw(msg, args...) }

// Info is demoted; gocron logs every start and stop at info.
func (l zapLogger) Info(msg string, args ...any) { l.s.Debugw(msg, args...) }

func (l zapLogger) Warn(msg string, args ...any) { l.s.Warnw(msg, args...) }
