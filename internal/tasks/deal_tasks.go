package tasks

import (
	"context"

	"github.com/dilipbglr/groupbuy-whatsapp-platform/internal/models"
	"github.com/dilipbglr/groupbuy-whatsapp-platform/internal/services"
)

const (
	TaskFinalizeExpiredDeals   = "finalize_expired_deals"
	TaskActivateScheduledDeals = "activate_scheduled_deals"
)

// FinalizeExpiredDealsTaskDef runs the lifecycle sweeper
type FinalizeExpiredDealsTaskDef struct {
	lifecycle *services.LifecycleService
}

func (t *FinalizeExpiredDealsTaskDef) TaskID() string {
	return TaskFinalizeExpiredDeals
}

// HandleExecution sweeps once and stores the sweep report as the task result.
// A busy lock is a successful no-op run.
func (t *FinalizeExpiredDealsTaskDef) HandleExecution(ctx context.Context, task models.ScheduledTask) (map[string]interface{}, error) {
	report, err := t.lifecycle.SweepExpired(ctx)
	if err != nil {
		return nil, err
	}
	return report.ToMap(), nil
}

// ActivateScheduledDealsTaskDef opens scheduled deals whose start time has passed
type ActivateScheduledDealsTaskDef struct {
	lifecycle *services.LifecycleService
}

func (t *ActivateScheduledDealsTaskDef) TaskID() string {
	return TaskActivateScheduledDeals
}

func (t *ActivateScheduledDealsTaskDef) HandleExecution(ctx context.Context, task models.ScheduledTask) (map[string]interface{}, error) {
	n, err := t.lifecycle.ActivateScheduled(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"activated": n}, nil
}
