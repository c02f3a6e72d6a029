package cmd

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/property-monitor/internal/app"
	"github.com/JakeFAU/property-monitor/internal/server"
)

func newWatchCmd() *cobra.Command {
	var (
		schedule   string
		listenAddr string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Runs scrapes on a schedule and serves run status over HTTP",
		Long: `Runs one scrape immediately and then on every tick of the cron schedule.
A tick is skipped while the previous run is still active. /healthz, /metrics
and /v1/runs/last are served until the process receives SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			instance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cfg := instance.Config()
			if schedule == "" {
				schedule = cfg.Watch.Schedule
			}
			if listenAddr == "" {
				listenAddr = cfg.Watch.ListenAddr
			}
			return watch(cmd.Context(), instance, schedule, server.New(instance, instance.Logger().Named("server")), listenAddr)
		},
	}
	cmd.Flags().StringVar(&schedule, "schedule", "", "cron spec or descriptor such as @every 6h (default watch.schedule)")
	cmd.Flags().StringVar(&listenAddr, "listen", "", "status server address (default watch.listen_addr)")
	return cmd
}

type statusServer interface {
	Serve(ctx context.Context, addr string) error
}

// watch blocks until ctx is done or the status server fails, then waits for
// an in-flight run to finish.
func watch(ctx context.Context, instance App, schedule string, srv statusServer, addr string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger := instance.Logger().Named("watch")
	cronLogger := cron.PrintfLogger(zap.NewStdLog(logger.Named("cron")))

	job := cron.NewChain(
		cron.Recover(cronLogger),
		cron.SkipIfStillRunning(cronLogger),
	).Then(cron.FuncJob(func() {
		report, err := instance.Run(ctx, app.RunOptions{})
		if err != nil {
			logger.Error("scheduled run failed", zap.String("run_id", report.RunID), zap.Error(err))
		}
	}))

	c := cron.New(cron.WithLogger(cronLogger))
	if _, err := c.AddJob(schedule, job); err != nil {
		return fmt.Errorf("schedule %q: %w", schedule, err)
	}
	c.Start()
	logger.Info("watch started", zap.String("schedule", schedule), zap.String("listen_addr", addr))

	// Runs immediately so the store is populated without waiting for the first tick.
	var first sync.WaitGroup
	first.Go(job.Run)

	err := srv.Serve(ctx, addr)
	cancel()

	<-c.Stop().Done()
	first.Wait()
	logger.Info("watch stopped")
	return err
}
