package tasks

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/dilipbglr/groupbuy-whatsapp-platform/internal/models"
)

// ErrSkipRetry in a handler's error chain stops the runner from retrying the task in the same run
var ErrSkipRetry = errors.New("skip retry")

// Runner executes due scheduled tasks and records their run history
type Runner struct {
	db       *gorm.DB
	registry *Registry
	logger   logrus.FieldLogger
	now      func() time.Time
}

func NewRunner(db *gorm.DB, registry *Registry, logger logrus.FieldLogger) *Runner {
	return &Runner{db: db, registry: registry, logger: logger, now: time.Now}
}

// ProcessDue runs every active task whose due time has passed, oldest first,
// and returns how many were run.
func (r *Runner) ProcessDue(ctx context.Context) (int, error) {
	var pending []models.ScheduledTask
	now := r.now().UTC()
	if err := r.db.WithContext(ctx).
		Where("status = ? AND due <= ?", models.ScheduledTaskStatusActive, now).
		Order("due asc").
		Find(&pending).Error; err != nil {
		return 0, errors.Wrap(err, "failed to fetch pending tasks")
	}

	if len(pending) == 0 {
		r.logger.Debug("no pending tasks")
		return 0, nil
	}
	r.logger.WithField("count", len(pending)).Info("found pending tasks")

	processed := 0
	for _, task := range pending {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}
		r.executeTask(ctx, task)
		processed++
	}
	return processed, nil
}

// executeTask runs one task up to MaxAttempt times, writing a history row per attempt.
// Recurring tasks are always moved to their next occurrence, even after a failed run,
// so one bad run never stops the schedule.
func (r *Runner) executeTask(ctx context.Context, task models.ScheduledTask) {
	log := r.logger.WithFields(logrus.Fields{"task_id": task.ID, "task_name": task.TaskName})

	handler, found := r.registry.Get(task.TaskName)
	if !found {
		log.Error("task handler not found, marking as failure")
		now := r.now().UTC()
		r.writeHistory(ctx, models.ScheduledTaskHistory{
			ScheduledTaskID: task.ID,
			TaskName:        task.TaskName,
			RunAt:           now,
			Status:          "handler_not_found",
			AttemptNumber:   1,
			Arguments:       task.Arguments,
			Result:          map[string]interface{}{"error": "handler not found"},
		})
		r.updateTask(ctx, task, map[string]interface{}{
			"status":   models.ScheduledTaskStatusFailure,
			"last_run": now,
		})
		return
	}

	maxAttempt := task.MaxAttempt
	if maxAttempt < 1 {
		maxAttempt = 1
	}

	var runErr error
	var startTime time.Time
	for attempt := 1; attempt <= maxAttempt; attempt++ {
		startTime = r.now().UTC()
		var result map[string]interface{}
		result, runErr = handler(ctx, task)
		runtime := r.now().UTC().Sub(startTime)

		status := "success"
		if runErr != nil {
			status = "failure"
			result = map[string]interface{}{"error": runErr.Error()}
			log.WithError(runErr).WithField("attempt", attempt).Warn("task failed")
		} else {
			log.WithField("attempt", attempt).Info("task completed")
		}

		r.writeHistory(ctx, models.ScheduledTaskHistory{
			ScheduledTaskID: task.ID,
			TaskName:        task.TaskName,
			RunAt:           startTime,
			RuntimeMs:       runtime.Milliseconds(),
			Status:          status,
			AttemptNumber:   attempt,
			Arguments:       task.Arguments,
			Result:          result,
		})

		if runErr == nil || ctx.Err() != nil || errors.Is(runErr, ErrSkipRetry) {
			break
		}
	}

	updates := map[string]interface{}{"last_run": startTime}
	switch {
	case task.IsRecurring():
		// the next occurrence after now skips any runs missed while the worker was down
		nextDue := task.NextDue(r.now().UTC())
		if nextDue.After(task.Due) {
			updates["status"] = models.ScheduledTaskStatusActive
			updates["due"] = nextDue
		} else {
			updates["status"] = models.ScheduledTaskStatusDone
		}
	case runErr != nil:
		updates["status"] = models.ScheduledTaskStatusFailure
	default:
		updates["status"] = models.ScheduledTaskStatusDone
	}
	r.updateTask(ctx, task, updates)
}

func (r *Runner) writeHistory(ctx context.Context, history models.ScheduledTaskHistory) {
	if err := r.db.WithContext(ctx).Create(&history).Error; err != nil {
		r.logger.WithError(err).WithField("task_id", history.ScheduledTaskID).Error("failed to write task history")
	}
}

func (r *Runner) updateTask(ctx context.Context, task models.ScheduledTask, updates map[string]interface{}) {
	if err := r.db.WithContext(ctx).Model(&models.ScheduledTask{}).Where("id = ?", task.ID).Updates(updates).Error; err != nil {
		r.logger.WithError(err).WithField("task_id", task.ID).Error("failed to update task")
	}
}
