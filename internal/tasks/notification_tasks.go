package tasks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/dilipbglr/groupbuy-whatsapp-platform/internal/models"
	"github.com/dilipbglr/groupbuy-whatsapp-platform/internal/services"
)

const TaskNotifyDealParticipants = "notify_deal_participants"

// NotifyDealParticipantsArgs defines the arguments for a deal broadcast
type NotifyDealParticipantsArgs struct {
	DealID   string `json:"deal_id"`
	Template string `json:"template"`
	// Phones restricts delivery to these participants; empty means everyone.
	// Retries carry only the phones that failed.
	Phones       []string `json:"phones,omitempty"`
	AttemptCount int      `json:"attempt_count"`
}

// NotifyDealParticipantsTaskDef sends one templated message to each participant of a deal
type NotifyDealParticipantsTaskDef struct {
	store      services.DealStore
	messenger  services.Messenger
	scheduler  TaskScheduler
	logger     logrus.FieldLogger
	retryDelay time.Duration
}

func (t *NotifyDealParticipantsTaskDef) TaskID() string {
	return TaskNotifyDealParticipants
}

// CreateTask builds a ScheduledTask record for this task
func (t *NotifyDealParticipantsTaskDef) CreateTask(args NotifyDealParticipantsArgs, due time.Time) (*models.ScheduledTask, error) {
	if _, err := uuid.Parse(args.DealID); err != nil {
		return nil, errors.Wrap(err, "invalid deal_id")
	}
	if strings.TrimSpace(args.Template) == "" {
		return nil, errors.New("template is missing")
	}
	return BuildScheduledTask(t.TaskID(), args, due, nil, models.ScheduledTaskTypeOneTime, 3)
}

// HandleExecution delivers the broadcast. Recipients that fail are retried in a new
// task a few minutes later until the task's max attempts are used up.
func (t *NotifyDealParticipantsTaskDef) HandleExecution(ctx context.Context, task models.ScheduledTask) (map[string]interface{}, error) {
	var args NotifyDealParticipantsArgs
	if err := decodeArgs(task, &args); err != nil {
		return nil, err
	}
	dealID, err := uuid.Parse(args.DealID)
	if err != nil {
		return nil, errors.Wrap(err, "invalid deal_id")
	}
	if args.Template == "" {
		return nil, errors.New("template is missing")
	}

	deal, err := t.store.GetDeal(ctx, dealID)
	if err != nil {
		return nil, err
	}
	participants, err := t.store.ListParticipants(ctx, dealID, "")
	if err != nil {
		return nil, err
	}

	only := map[string]bool{}
	for _, phone := range args.Phones {
		only[phone] = true
	}

	total, successCount := 0, 0
	var failures []string
	var failedPhones []string
	for _, p := range participants {
		if len(only) > 0 && !only[p.PhoneNumber] {
			continue
		}
		total++

		msg := RenderDealTemplate(args.Template, *deal, p.PhoneNumber)
		if err := t.messenger.SendMessage(ctx, p.PhoneNumber, msg); err != nil {
			t.logger.WithFields(logrus.Fields{
				services.FieldEvent:   "deal.broadcast",
				services.FieldActor:   p.PhoneNumber,
				services.FieldDealID:  dealID.String(),
				services.FieldOutcome: string(services.CodeMessagingFailed),
			}).WithError(err).Warn("failed to deliver broadcast")
			failures = append(failures, fmt.Sprintf("%s: %v", p.PhoneNumber, err))
			failedPhones = append(failedPhones, p.PhoneNumber)
			continue
		}
		successCount++
	}

	result := map[string]interface{}{
		"total":   total,
		"success": successCount,
		"failure": len(failedPhones),
	}
	if len(failedPhones) == 0 {
		return result, nil
	}
	result["errors"] = failures

	attempt := args.AttemptCount + 1
	if attempt >= task.MaxAttempt || t.scheduler == nil {
		// messages already delivered must not be sent again by an in-run retry
		return result, errors.Wrapf(ErrSkipRetry, "max attempts reached, failed to deliver to %d participants", len(failedPhones))
	}

	retryArgs := args
	retryArgs.Phones = failedPhones
	retryArgs.AttemptCount = attempt
	retry, err := BuildScheduledTask(t.TaskID(), retryArgs, time.Now().Add(t.retryDelay), nil, models.ScheduledTaskTypeOneTime, task.MaxAttempt)
	if err != nil {
		return result, err
	}
	if err := t.scheduler.Schedule(ctx, retry); err != nil {
		return result, err
	}
	result["retry_scheduled"] = true
	return result, nil
}

// RenderDealTemplate fills the broadcast placeholders:
// $product_name $group_price $current $max $min $phone
func RenderDealTemplate(template string, deal models.Deal, phone string) string {
	return strings.NewReplacer(
		"$product_name", deal.ProductName,
		"$group_price", deal.GroupPrice.StringFixed(2),
		"$current", fmt.Sprint(deal.CurrentParticipants),
		"$max", fmt.Sprint(deal.MaxParticipants),
		"$min", fmt.Sprint(deal.MinParticipants),
		"$phone", phone,
	).Replace(template)
}

// NotifyDealParticipantsTask builds broadcast tasks; it carries no dependencies
// and is only used for CreateTask.
var NotifyDealParticipantsTask = &NotifyDealParticipantsTaskDef{}
