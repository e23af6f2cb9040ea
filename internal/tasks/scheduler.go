package tasks

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/teambition/rrule-go"
	"gorm.io/gorm"

	"github.com/dilipbglr/groupbuy-whatsapp-platform/internal/models"
)

// TaskScheduler persists tasks for the worker to pick up
type TaskScheduler interface {
	Schedule(ctx context.Context, task *models.ScheduledTask) error
}

// Scheduler writes scheduled_tasks rows
type Scheduler struct {
	db *gorm.DB
}

func NewScheduler(db *gorm.DB) *Scheduler {
	return &Scheduler{db: db}
}

func (s *Scheduler) Schedule(ctx context.Context, task *models.ScheduledTask) error {
	if err := s.db.WithContext(ctx).Create(task).Error; err != nil {
		return errors.Wrapf(err, "failed to schedule task %s", task.TaskName)
	}
	return nil
}

// ScheduleDealNotification queues a templated broadcast to every participant of a deal
func (s *Scheduler) ScheduleDealNotification(ctx context.Context, dealID uuid.UUID, template string, due time.Time) (*models.ScheduledTask, error) {
	task, err := NotifyDealParticipantsTask.CreateTask(NotifyDealParticipantsArgs{
		DealID:   dealID.String(),
		Template: template,
	}, due)
	if err != nil {
		return nil, err
	}
	if err := s.Schedule(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// EnsureRecurring makes sure exactly one active recurring task named name exists with
// the given RRULE. An existing task keeps its due time; only its rule is refreshed.
// created reports whether a new row was written.
func (s *Scheduler) EnsureRecurring(ctx context.Context, name, rule string, maxAttempt int) (task *models.ScheduledTask, created bool, err error) {
	if _, err := rrule.StrToRRule(rule); err != nil {
		return nil, false, errors.Wrapf(err, "invalid recurrence rule %q", rule)
	}

	var existing models.ScheduledTask
	err = s.db.WithContext(ctx).
		Where("task_name = ? AND status = ?", name, models.ScheduledTaskStatusActive).
		First(&existing).Error
	switch {
	case err == nil:
		if existing.RecurringInterval == nil || *existing.RecurringInterval != rule {
			if err := s.db.WithContext(ctx).Model(&existing).Updates(map[string]interface{}{
				"recurring_interval": rule,
				"task_type":          models.ScheduledTaskTypeRecurring,
			}).Error; err != nil {
				return nil, false, errors.Wrapf(err, "failed to update recurrence of %s", name)
			}
			existing.RecurringInterval = &rule
			existing.TaskType = models.ScheduledTaskTypeRecurring
		}
		return &existing, false, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		return nil, false, errors.Wrapf(err, "failed to look up task %s", name)
	}

	task, err = BuildScheduledTask(name, map[string]interface{}{}, time.Now(), &rule, models.ScheduledTaskTypeRecurring, maxAttempt)
	if err != nil {
		return nil, false, err
	}
	if err := s.Schedule(ctx, task); err != nil {
		return nil, false, err
	}
	return task, true, nil
}
