package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/dilipbglr/groupbuy-whatsapp-platform/internal/config"
	"github.com/dilipbglr/groupbuy-whatsapp-platform/internal/services"
)

// app is shared by every subcommand; db is only opened for commands that need it
type app struct {
	cfg    *config.Config
	logger *logrus.Logger
	db     *gorm.DB
	store  *services.GormDealStore
}

const needsDatabase = "needs-database"

func preRun(a *app) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		a.cfg = cfg
		a.logger = services.NewLogger(cfg.LogLevel, "text")

		if _, ok := cmd.Annotations[needsDatabase]; !ok {
			return nil
		}
		if err := cfg.RequireDatabase(); err != nil {
			return err
		}
		db, err := services.InitDB(cfg.DatabaseURL, cfg.DBLogLevel, a.logger)
		if err != nil {
			return err
		}
		a.db = db
		a.store = services.NewGormDealStore(db)
		return nil
	}
}

func withDatabase(cmd *cobra.Command) *cobra.Command {
	if cmd.Annotations == nil {
		cmd.Annotations = map[string]string{}
	}
	cmd.Annotations[needsDatabase] = "true"
	return cmd
}

func newRootCommand() *cobra.Command {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:           "dealctl",
		Short:         "Admin tool for group deals",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentPreRunE = preRun(a)

	rootCmd.AddCommand(dealCommands(a))
	rootCmd.AddCommand(withDatabase(sweepCommand(a)))
	rootCmd.AddCommand(withDatabase(activateCommand(a)))
	rootCmd.AddCommand(withDatabase(scheduleCommand(a)))
	rootCmd.AddCommand(wahaCommand(a))
	return rootCmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		stop()
		logrus.Error(err)
		os.Exit(1)
	}
}
