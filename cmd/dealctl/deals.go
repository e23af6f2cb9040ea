package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/dilipbglr/groupbuy-whatsapp-platform/internal/services"
)

func dealCommands(a *app) *cobra.Command {
	dealsCmd := &cobra.Command{
		Use:   "deals",
		Short: "Manage deals",
	}
	dealsCmd.AddCommand(withDatabase(createDealCommand(a)))
	dealsCmd.AddCommand(withDatabase(listDealsCommand(a)))
	return dealsCmd
}

func createDealCommand(a *app) *cobra.Command {
	var (
		in            services.CreateDealInput
		originalPrice string
		groupPrice    string
		duration      time.Duration
		startsIn      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Open a new deal",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if in.OriginalPrice, err = decimal.NewFromString(originalPrice); err != nil {
				return fmt.Errorf("invalid --original-price: %w", err)
			}
			if in.GroupPrice, err = decimal.NewFromString(groupPrice); err != nil {
				return fmt.Errorf("invalid --group-price: %w", err)
			}
			start := time.Now()
			if startsIn > 0 {
				start = start.Add(startsIn)
				in.StartTime = &start
			}
			in.EndTime = start.Add(duration)

			deal, err := services.NewDealService(a.store, a.logger).Create(cmd.Context(), in)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(deal)
		},
	}
	cmd.Flags().StringVar(&in.ProductName, "name", "", "product name (required)")
	cmd.Flags().StringVar(&in.Description, "description", "", "product description")
	cmd.Flags().StringVar(&originalPrice, "original-price", "", "price without the group discount (required)")
	cmd.Flags().StringVar(&groupPrice, "group-price", "", "price per participant (required)")
	cmd.Flags().IntVar(&in.MinParticipants, "min", 1, "participants needed for the deal to succeed")
	cmd.Flags().IntVar(&in.MaxParticipants, "max", 10, "participant capacity")
	cmd.Flags().DurationVar(&duration, "duration", 72*time.Hour, "how long the deal stays open")
	cmd.Flags().DurationVar(&startsIn, "starts-in", 0, "schedule the deal to open later")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("original-price")
	_ = cmd.MarkFlagRequired("group-price")
	return cmd
}

func listDealsCommand(a *app) *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List deals, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			deals, err := services.NewDealService(a.store, a.logger).List(cmd.Context(), status)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPRODUCT\tSTATUS\tJOINED\tPRICE\tENDS")
			for _, d := range deals {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d (min %d)\t%s\t%s\n",
					d.ID, d.ProductName, d.Status, d.CurrentParticipants, d.MaxParticipants,
					d.MinParticipants, d.GroupPrice.StringFixed(2), d.EndTime.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status (scheduled, active, completed, failed)")
	return cmd
}

func sweepCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Finalize every expired active deal now",
		RunE: func(cmd *cobra.Command, args []string) error {
			messenger := newMessenger(a)
			lifecycle := services.NewLifecycleService(a.store, messenger, services.NewReplies(a.cfg.CurrencySymbol), a.logger,
				services.WithConcurrency(a.cfg.SweepConcurrency))
			report, err := lifecycle.SweepExpired(cmd.Context())
			if err != nil {
				return err
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(report)
		},
	}
}

func activateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "activate",
		Short: "Open scheduled deals whose start time has passed",
		RunE: func(cmd *cobra.Command, args []string) error {
			lifecycle := services.NewLifecycleService(a.store, newMessenger(a), services.NewReplies(a.cfg.CurrencySymbol), a.logger)
			n, err := lifecycle.ActivateScheduled(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Activated %d deal(s)\n", n)
			return nil
		},
	}
}
