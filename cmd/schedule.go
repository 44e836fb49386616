package cmd

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}

func newScheduleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Runs discovery and ingestion on a cron schedule",
		Long: `Runs a delta crawl (discover then ingest) on schedule.cron until
interrupted. A run still in progress when the next tick fires causes that tick
to be skipped. The health and metrics endpoint is served on server.addr.`,
		Args: cobra.NoArgs,
		RunE: runSchedule,
	}
}

func runSchedule(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := resolveApp(ctx)
	if err != nil {
		return err
	}
	cfg := a.Config()
	logger := a.Logger().Named("schedule")

	cl := cronLogger{s: logger.Sugar()}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	id, err := c.AddFunc(cfg.Schedule.Cron, func() {
		run, err := a.RunAll(ctx, nil)
		fields := []zap.Field{zap.String("run_id", run.RunID.String())}
		if run.Discovery != nil {
			fields = append(fields, zap.Int("discovery_failures", len(run.Discovery.Failures)))
		}
		if run.Ingestion != nil {
			fields = append(fields, zap.Int("products", run.Ingestion.Products))
		}
		if err != nil {
			logger.Error("scheduled run failed", append(fields, zap.Error(err))...)
			return
		}
		logger.Info("scheduled run finished", fields...)
	})
	if err != nil {
		return fmt.Errorf("parse schedule.cron %q: %w", cfg.Schedule.Cron, err)
	}

	serverErr := make(chan error, 1)
	if cfg.Server.Addr != "" {
		go func() {
			serverErr <- a.Server().ListenAndServe(ctx, cfg.Server.Addr)
		}()
	}

	c.Start()
	logger.Info("scheduler started",
		zap.String("cron", cfg.Schedule.Cron),
		zap.Time("next", c.Entry(id).Next))
	var immediate sync.WaitGroup
	if cfg.Schedule.RunOnStart {
		runNow(&immediate, c.Entry(id).WrappedJob)
	}

	select {
	case <-ctx.Done():
	case err = <-serverErr:
	}
	logger.Info("scheduler stopping; waiting for the current run")
	stopAndWait(c, &immediate)

	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// runNow runs job outside the schedule, tracked by wg.
func runNow(wg *sync.WaitGroup, job cron.Job) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		job.Run()
	}()
}

// stopAndWait stops c and blocks until scheduled jobs and those started by
// runNow have returned.
func stopAndWait(c *cron.Cron, wg *sync.WaitGroup) {
	<-c.Stop().Done()
	wg.Wait()
}
