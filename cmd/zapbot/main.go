// Package main contains the entrypoint for the zapbot service.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/edgard/zapbot/internal/bot"
	"github.com/edgard/zapbot/internal/config"
	"github.com/edgard/zapbot/internal/database"
	"github.com/edgard/zapbot/internal/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx, os.Args[1:])
	stop()
	os.Exit(exitCode)
}

// run executes the command line and returns the process exit code.
func run(ctx context.Context, args []string) int {
	root := newRootCmd()
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		slog.Error("zapbot failed", "error", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var configPath string

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server, job workers and scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}

	root := &cobra.Command{
		Use:           "zapbot",
		Short:         "WhatsApp assistant with queued media processing, summaries and knowledge search",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serveCmd.RunE,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "./config.yaml", "Path to configuration file")

	root.AddCommand(serveCmd, &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate(configPath)
		},
	})
	return root
}

func loadConfig(path string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	log := logger.NewLogger(cfg.Log.Level, cfg.Log.JSON)
	log.Info("Logger initialized", "level", cfg.Log.Level, "json", cfg.Log.JSON)
	return cfg, log, nil
}

func runServe(ctx context.Context, configPath string) error {
	cfg, log, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	app, err := bot.NewBot(ctx, log, cfg)
	if err != nil {
		log.Error("Failed to initialize zapbot", "error", err)
		return err
	}
	defer app.Close()

	log.Info("Starting zapbot...")
	if err := app.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("zapbot stopped gracefully.")
	return nil
}

func runMigrate(configPath string) error {
	cfg, log, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	db, err := database.NewDB(cfg.Database)
	if err != nil {
		return err
	}
	database.CloseDB(db)
	log.Info("Migrations applied", "driver", cfg.Database.Driver)
	return nil
}
