package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dilipbglr/groupbuy-whatsapp-platform/internal/models"
	"github.com/dilipbglr/groupbuy-whatsapp-platform/internal/tasks"
)

// parseDue accepts RFC3339 or "2006-01-02 15:04" in local time
func parseDue(s string) (time.Time, error) {
	if s == "" {
		return time.Now(), nil
	}
	due, err := time.Parse(time.RFC3339, s)
	if err == nil {
		return due, nil
	}
	due, err = time.ParseInLocation("2006-01-02 15:04", s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid due date format, use '2006-01-02 15:04' (local) or RFC3339: %w", err)
	}
	return due, nil
}

func scheduleCommand(a *app) *cobra.Command {
	var (
		taskName   string
		argsStr    string
		dueStr     string
		taskType   string
		recurring  string
		maxAttempt int
	)

	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Create a scheduled task for the worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			if taskName == "" {
				return fmt.Errorf("--task-name is required")
			}
			arguments := map[string]interface{}{}
			if argsStr != "" {
				if err := json.Unmarshal([]byte(argsStr), &arguments); err != nil {
					return fmt.Errorf("invalid JSON arguments: %w", err)
				}
			}
			due, err := parseDue(dueStr)
			if err != nil {
				return err
			}

			var recurringPtr *string
			if recurring != "" {
				recurringPtr = &recurring
			}
			task, err := tasks.BuildScheduledTask(taskName, arguments, due, recurringPtr, models.ScheduledTaskType(taskType), maxAttempt)
			if err != nil {
				return err
			}
			if err := tasks.NewScheduler(a.db).Schedule(cmd.Context(), task); err != nil {
				return err
			}
			printTask(cmd, task)
			return nil
		},
	}
	scheduleCmd.Flags().StringVar(&taskName, "task-name", "", "name of the task (required)")
	scheduleCmd.Flags().StringVar(&argsStr, "arguments", "", "JSON arguments for the task")
	scheduleCmd.Flags().StringVar(&dueStr, "due", "", "due date, RFC3339 or YYYY-MM-DD HH:MM (default now)")
	scheduleCmd.Flags().StringVar(&taskType, "tasktype", string(models.ScheduledTaskTypeOneTime), "task type: onetime or recurring")
	scheduleCmd.Flags().StringVar(&recurring, "recurring", "", "RRULE for recurring tasks, e.g. FREQ=MINUTELY;INTERVAL=5")
	scheduleCmd.Flags().IntVar(&maxAttempt, "max-attempt", 3, "max attempts")

	scheduleCmd.AddCommand(withDatabase(scheduleNotifyCommand(a)))
	return scheduleCmd
}

func scheduleNotifyCommand(a *app) *cobra.Command {
	var template, dueStr string

	cmd := &cobra.Command{
		Use:   "notify <deal-id>",
		Short: "Broadcast a templated message to a deal's participants",
		Long: "Broadcast a templated message to a deal's participants.\n" +
			"Placeholders: $product_name $group_price $current $max $min $phone",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dealID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid deal id: %w", err)
			}
			due, err := parseDue(dueStr)
			if err != nil {
				return err
			}
			if _, err := a.store.GetDeal(cmd.Context(), dealID); err != nil {
				return err
			}
			task, err := tasks.NewScheduler(a.db).ScheduleDealNotification(cmd.Context(), dealID, template, due)
			if err != nil {
				return err
			}
			printTask(cmd, task)
			return nil
		},
	}
	cmd.Flags().StringVar(&template, "template", "", "message template (required)")
	cmd.Flags().StringVar(&dueStr, "due", "", "when to send, RFC3339 or YYYY-MM-DD HH:MM (default now)")
	_ = cmd.MarkFlagRequired("template")
	return cmd
}

func printTask(cmd *cobra.Command, task *models.ScheduledTask) {
	fmt.Fprintf(cmd.OutOrStdout(), "Successfully created task ID: %d\n", task.ID)
	fmt.Fprintf(cmd.OutOrStdout(), "Task: %s\nDue: %s\nType: %s\n", task.TaskName, task.Due, task.TaskType)
}
