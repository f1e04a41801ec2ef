package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zoza1982/picoflow-sub000/internal/scheduler"
	"github.com/zoza1982/picoflow-sub000/internal/store"
	"github.com/zoza1982/picoflow-sub000/internal/workflow"
	"github.com/zoza1982/picoflow-sub000/internal/xerrors"
)

var runCmd = &cobra.Command{
	Use:   "run <workflow_file>",
	Short: "One-shot execution of a workflow file.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		src, err := os.ReadFile(args[0])
		if err != nil {
			return &xerrors.InvalidInput{Reason: err.Error()}
		}
		wf, err := workflow.Parse(src)
		if err != nil {
			return err
		}

		st, logger, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		sched := scheduler.New(st, logger)
		metricsReg, stopMetrics := maybeStartMetricsServer(logger)
		if metricsReg != nil {
			sched.Metrics = metricsReg
		}
		defer stopMetrics(context.Background())

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		execID, err := sched.Run(ctx, wf)
		if err != nil {
			return err
		}

		attempts, err := st.TaskAttempts(execID)
		if err != nil {
			return err
		}
		anyFailed := false
		for _, a := range attempts {
			if a.Status != store.TaskSuccess {
				anyFailed = true
			}
		}

		logger.Info("execution finished", "execution_id", execID, "failed", anyFailed)
		if anyFailed {
			os.Exit(xerrors.ExitExecution)
		}
		return nil
	},
}
