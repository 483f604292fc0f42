package bot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"sikumbot/internal/summarizer"
)

// Scheduler runs the daily digest batch at the configured local hour.
type Scheduler struct {
	scheduler gocron.Scheduler
	service   *summarizer.Service
	log       *slog.Logger
}

// NewScheduler creates a scheduler that fires the digest batch daily at
// hour o'clock in the given timezone.
func NewScheduler(service *summarizer.Service, hour int, timezone string, log *slog.Logger) (*Scheduler, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule timezone %q: %w", timezone, err)
	}

	logger := log.With("component", "scheduler")

	s, err := gocron.NewScheduler(
		gocron.WithLocation(loc),
		gocron.WithLogger(&gocronLogAdapter{log: logger}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	sched := &Scheduler{
		scheduler: s,
		service:   service,
		log:       logger,
	}

	cronExpr := fmt.Sprintf("0 %d * * *", hour)
	_, err = s.NewJob(
		gocron.CronJob(cronExpr, false),
		gocron.NewTask(sched.runDaily),
		gocron.WithName("daily_digest"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register daily digest job: %w", err)
	}

	logger.Info("Daily digest scheduled", "cron", cronExpr, "timezone", timezone)
	return sched, nil
}

func (s *Scheduler) runDaily() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	if _, err := s.service.Run(ctx, false); err != nil {
		s.log.ErrorContext(ctx, "Scheduled digest run failed", "error", err)
	}
}

// Start begins the scheduler's internal ticking.
func (s *Scheduler) Start() {
	s.scheduler.Start()
}

// Stop shuts the scheduler down, waiting for a running job to finish.
func (s *Scheduler) Stop() error {
	if err := s.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("scheduler shutdown failed: %w", err)
	}
	s.log.Info("Scheduler stopped")
	return nil
}

// gocronLogAdapter routes gocron's internal logging through slog.
type gocronLogAdapter struct {
	log *slog.Logger
}

func (l *gocronLogAdapter) Debug(msg string, args ...any) { l.log.Debug(msg, args...) }
func (l *gocronLogAdapter) Info(msg string, args ...any)  { l.log.Info(msg, args...) }
func (l *gocronLogAdapter) Warn(msg string, args ...any)  { l.log.Warn(msg, args...) }
func (l *gocronLogAdapter) Error(msg string, args ...any) { l.log.Error(msg, args...) }
