package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/hiveguard/mtracker/broker"
	"github.com/hiveguard/mtracker/executor"
	"github.com/hiveguard/mtracker/failure"
	"github.com/hiveguard/mtracker/reporter"
	"github.com/hiveguard/mtracker/types"
)

// workerCommand runs the executor/reporter/failure-handler loop: it
// drains execute jobs, runs the module, stores the result, then drains
// report jobs and persists them — a single process doing both halves of
// what scheduler.py's worker + reporter.py's RQ queue consumer do
// separately, since this module has no separate RQ worker pool to split
// across.
func workerCommand() *cli.Command {
	return &cli.Command{
		Name:  "worker",
		Usage: "consume execute and report jobs",
		Action: func(c *cli.Context) error {
			e, err := loadEnv(c)
			if err != nil {
				return err
			}
			defer e.Close()

			fh := failure.New(e.store, e.logger, e.cfg.Log.Dir)
			rep := reporter.New(e.store, e.artifact, e.logger, e.cfg.Mtracker.TaskPeriod.Duration)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			e.logger.Info("worker started", nil)
			for {
				select {
				case <-ctx.Done():
					e.logger.Info("worker shutting down", nil)
					return nil
				default:
				}

				if err := drainOneExecute(ctx, e, fh); err != nil {
					e.logger.Error("execute drain failed", map[string]any{"error": err.Error()})
				}
				if err := drainOneReport(ctx, e, rep); err != nil {
					e.logger.Error("report drain failed", map[string]any{"error": err.Error()})
				}
			}
		},
	}
}

func drainOneExecute(ctx context.Context, e *env, fh *failure.Handler) error {
	job, err := e.broker.DequeueExecute(ctx, e.cfg.Mtracker.TaskTimeout.Duration)
	if err != nil {
		return fmt.Errorf("dequeue execute: %w", err)
	}
	if job == nil {
		return nil
	}

	execCtx := ctx
	if job.Payload.Timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, job.Payload.Timeout)
		defer cancel()
	}
	out, err := executor.Execute(execCtx, e.registry, e.logger, executor.Input{
		Family: job.Payload.Family, Config: job.Payload.StaticConfig, State: job.Payload.SavedState, Proxy: job.Payload.Proxy,
	})
	if err != nil {
		if crashErr := fh.ReportCrashed(ctx, job.Payload.TaskID, job.Payload.BotID, err.Error()); crashErr != nil {
			return fmt.Errorf("report crashed: %w", crashErr)
		}
		return e.broker.CompleteExecute(ctx, job.JobID, broker.ExecuteResult{Status: int(types.StatusCrashed)})
	}

	dynamicConfig := out.Tree.ToMapRecursive()
	return e.broker.CompleteExecute(ctx, job.JobID, broker.ExecuteResult{
		Status: int(out.Status), DynamicConfig: dynamicConfig, SavedState: out.State,
	})
}

func drainOneReport(ctx context.Context, e *env, rep *reporter.Reporter) error {
	job, err := e.broker.DequeueReport(ctx, e.cfg.Mtracker.TaskTimeout.Duration)
	if err != nil {
		return fmt.Errorf("dequeue report: %w", err)
	}
	if job == nil {
		return nil
	}

	result, err := e.broker.GetExecuteResult(ctx, job.Payload.ExecuteJobID)
	if err != nil {
		return fmt.Errorf("get execute result: %w", err)
	}

	var outcome *reporter.Outcome
	if result != nil {
		outcome = &reporter.Outcome{
			Status:        types.Status(result.Status),
			DynamicConfig: result.DynamicConfig,
			SavedState:    result.SavedState,
		}
	}
	return rep.Report(ctx, job.Payload.TaskID, job.Payload.BotID, job.Payload.ConfigHash, outcome)
}
