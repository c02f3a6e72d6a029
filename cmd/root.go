// Package cmd defines and implements the CLI commands for the propmon executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/property-monitor/internal/app"
	"github.com/JakeFAU/property-monitor/internal/config"
	"github.com/JakeFAU/property-monitor/internal/export"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is the service surface commands use. Tests inject a fake.
type App interface {
	Run(ctx context.Context, opts app.RunOptions) (app.Report, error)
	Export(ctx context.Context) (export.Artifact, error)
	LastRun() (app.Report, bool)
	Config() config.Config
	Logger() *zap.Logger
	Close()
}

type appFactory func(ctx context.Context, cfg config.Config) (App, error)

func buildApp(ctx context.Context, cfg config.Config) (App, error) {
	a, err := app.Build(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// newRootCmd creates the root command; newApp builds services once the
// configuration is loaded.
func newRootCmd(newApp appFactory) *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "propmon",
		Short: "Scrapes property listings and keeps a deduplicated record of them.",
		Long: `propmon fetches paginated property search results, extracts one record per
listing card and stores each listing once, keyed by its link. Every run can be
exported to a dated CSV or XLSX file and announced on Pub/Sub.`,
		SilenceUsage: true,

		// Runs before every subcommand: load config, build services, stash them in the context.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			instance, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, instance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); env vars prefixed PROPMON_ override it")

	cmd.AddCommand(newScrapeCmd())
	cmd.AddCommand(newExportCmd())
	cmd.AddCommand(newWatchCmd())

	return cmd
}

// execute runs root and closes whatever App the executed command built, even
// when the command failed.
func execute(ctx context.Context, root *cobra.Command) error {
	executed, err := root.ExecuteContextC(ctx)
	if executed != nil && executed.Context() != nil {
		if instance, ok := executed.Context().Value(appKey).(App); ok && instance != nil {
			instance.Close()
		}
	}
	return err
}

func resolveApp(ctx context.Context) (App, error) {
	instance, ok := ctx.Value(appKey).(App)
	if !ok || instance == nil {
		return nil, errors.New("application services not initialized")
	}
	return instance, nil
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := execute(ctx, newRootCmd(buildApp))
	stop()
	if err != nil {
		zap.L().Error("command execution failed", zap.Error(err))
		os.Exit(1)
	}
}
