// Package scheduler sweeps due alarms on a poll interval: each due
// alarm produces an alarm.fired notification for its owner, and
// recurring alarms are pushed to their next cron occurrence instead of
// being retired.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/wardenhq/warden/internal/heartbeat"
	"github.com/wardenhq/warden/internal/store"
)

const dueBatchSize = 50

type Store interface {
	DueAlarms(ctx context.Context, now time.Time, limit int) ([]store.AlarmRecord, error)
	MarkAlarmFired(ctx context.Context, id int64) error
	RescheduleAlarm(ctx context.Context, id int64, nextFireAt time.Time) error
	Notify(ctx context.Context, userID int64, eventType string, subjectID int64, payloadJSON string) error
}

type Service struct {
	store        Store
	logger       *slog.Logger
	pollInterval time.Duration
	reporter     heartbeat.Reporter
	now          func() time.Time
}

func New(sweepStore Store, pollInterval time.Duration, logger *slog.Logger) *Service {
	if pollInterval < time.Second {
		pollInterval = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:        sweepStore,
		logger:       logger,
		pollInterval: pollInterval,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) SetHeartbeatReporter(reporter heartbeat.Reporter) {
	s.reporter = reporter
}

func (s *Service) Start(ctx context.Context) error {
	if s.store == nil {
		if s.reporter != nil {
			s.reporter.Disabled("scheduler", "store missing")
		}
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	if s.reporter != nil {
		s.reporter.Starting("scheduler", "started")
		s.reporter.Beat("scheduler", "polling alarms")
	}
	s.logger.Info("scheduler started", "poll_interval", s.pollInterval.String())
	for {
		if ctx.Err() != nil {
			if s.reporter != nil {
				s.reporter.Stopped("scheduler", "stopped")
			}
			s.logger.Info("scheduler stopped")
			return nil
		}
		if err := s.Sweep(ctx); err != nil {
			if s.reporter != nil {
				s.reporter.Degrade("scheduler", "alarm sweep failed", err)
			}
			s.logger.Error("alarm sweep failed", "error", err)
		} else if s.reporter != nil {
			s.reporter.Beat("scheduler", "sweep cycle completed")
		}
		select {
		case <-ctx.Done():
			if s.reporter != nil {
				s.reporter.Stopped("scheduler", "stopped")
			}
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep fires every due alarm once. A failure on one alarm is logged
// and does not block the rest of the batch.
func (s *Service) Sweep(ctx context.Context) error {
	now := s.now()
	due, err := s.store.DueAlarms(ctx, now, dueBatchSize)
	if err != nil {
		return err
	}
	for _, alarm := range due {
		if err := s.fire(ctx, alarm, now); err != nil {
			s.logger.Error("fire alarm failed", "alarm_id", alarm.ID, "error", err)
		}
	}
	return nil
}

func (s *Service) fire(ctx context.Context, alarm store.AlarmRecord, now time.Time) error {
	payload, err := json.Marshal(map[string]any{
		"alarm_id":   alarm.ID,
		"title":      alarm.Title,
		"fire_at":    alarm.FireAt.UTC().Format(time.RFC3339),
		"timezone":   alarm.Timezone,
		"recurring":  alarm.RepeatCron != "",
		"created_by": alarm.CreatedByUserID,
	})
	if err != nil {
		return fmt.Errorf("marshal alarm payload: %w", err)
	}
	if err := s.store.Notify(ctx, alarm.UserID, store.EventAlarmFired, alarm.ID, string(payload)); err != nil {
		return err
	}

	if alarm.RepeatCron == "" {
		if err := s.store.MarkAlarmFired(ctx, alarm.ID); err != nil {
			return err
		}
		s.logger.Info("alarm fired", "alarm_id", alarm.ID, "user_id", alarm.UserID)
		return nil
	}

	next, err := store.ComputeNextFire(alarm.RepeatCron, alarm.Timezone, now)
	if err != nil || next.IsZero() {
		// A repeat expression that no longer parses retires the alarm
		// rather than firing it on every sweep.
		s.logger.Warn("recurring alarm retired", "alarm_id", alarm.ID, "repeat_cron", alarm.RepeatCron, "error", err)
		return s.store.MarkAlarmFired(ctx, alarm.ID)
	}
	if err := s.store.RescheduleAlarm(ctx, alarm.ID, next); err != nil {
		return err
	}
	s.logger.Info("recurring alarm fired", "alarm_id", alarm.ID, "user_id", alarm.UserID, "next_fire_at", next.UTC().Format(time.RFC3339))
	return nil
}
