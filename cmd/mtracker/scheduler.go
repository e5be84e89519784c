package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/hiveguard/mtracker/scheduler"
)

// schedulerCommand runs the periodic tick loop that promotes due bots
// into execute+report jobs — scheduler.py's run loop, split from the
// worker process.
func schedulerCommand() *cli.Command {
	return &cli.Command{
		Name:  "scheduler",
		Usage: "periodically schedule due bots onto the job broker",
		Action: func(c *cli.Context) error {
			e, err := loadEnv(c)
			if err != nil {
				return err
			}
			defer e.Close()

			cfg := scheduler.DefaultConfig()
			cfg.TaskTimeout = e.cfg.Mtracker.TaskTimeout.Duration

			sched := scheduler.New(e.store, e.broker, e.logger, cfg)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			e.logger.Info("scheduler started", map[string]any{"period": cfg.Period.String()})
			return sched.Run(ctx)
		},
	}
}
