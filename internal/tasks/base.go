package tasks

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/dilipbglr/groupbuy-whatsapp-platform/internal/models"
)

// BuildScheduledTask is a helper to build ScheduledTask records generically.
// args is any JSON-marshalable value; it is stored as a map.
func BuildScheduledTask(taskName string, args interface{}, due time.Time, recurringInterval *string, taskType models.ScheduledTaskType, maxAttempt int) (*models.ScheduledTask, error) {
	argsBytes, err := json.Marshal(args)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal args")
	}

	mapArgs := map[string]interface{}{}
	if err := json.Unmarshal(argsBytes, &mapArgs); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal into map")
	}

	if maxAttempt < 1 {
		maxAttempt = 1
	}

	return &models.ScheduledTask{
		TaskName:          taskName,
		Arguments:         mapArgs,
		Due:               due.UTC(),
		RecurringInterval: recurringInterval,
		Status:            models.ScheduledTaskStatusActive,
		TaskType:          taskType,
		MaxAttempt:        maxAttempt,
	}, nil
}

// decodeArgs copies a task's argument map into a typed struct
func decodeArgs(task models.ScheduledTask, out interface{}) error {
	argsBytes, err := json.Marshal(task.Arguments)
	if err != nil {
		return errors.Wrap(err, "failed to marshal args")
	}
	if err := json.Unmarshal(argsBytes, out); err != nil {
		return errors.Wrap(err, "failed to unmarshal args")
	}
	return nil
}
