package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zoza1982/picoflow-sub000/internal/daemon"
	"github.com/zoza1982/picoflow-sub000/internal/scheduler"
	"github.com/zoza1982/picoflow-sub000/internal/workflow"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run workflows on their cron schedule until stopped.",
}

var daemonStartCmd = &cobra.Command{
	Use:   "start <workflow_file...>",
	Short: "Load one or more scheduled workflows and block, firing each on its cron expression.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		lockPath, _ := cmd.Flags().GetString("pid-file")

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

		d := daemon.New(sched, logger)

		if err := d.AcquireLock(lockPath); err != nil {
			return err
		}
		defer d.ReleaseLock()

		loaded := 0
		for _, path := range args {
			src, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			wf, err := workflow.Parse(src)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			if err := d.LoadWorkflow(wf); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			loaded++
			logger.Info("loaded workflow", "file", path, "workflow", wf.Name, "schedule", wf.Schedule)
		}

		d.Start()
		logger.Info("daemon ready", "workflows_loaded", loaded, "pid", os.Getpid())

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		// SIGHUP is reserved for a future config-reload feature (§4.6); for
		// now it is logged and otherwise ignored rather than terminating the
		// process, which is os/signal's default disposition for SIGHUP.
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		go func() {
			for range hup {
				logger.Info("received SIGHUP: config reload is not yet implemented, ignoring")
			}
		}()

		<-ctx.Done()
		logger.Info("daemon shutting down")
		d.Shutdown(context.Background())
		return nil
	},
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Send SIGTERM to the daemon instance holding the lock file.",
	RunE: func(cmd *cobra.Command, args []string) error {
		lockPath, _ := cmd.Flags().GetString("pid-file")
		pid, err := readLockedPID(lockPath)
		if err != nil {
			return err
		}
		proc, err := os.FindProcess(pid)
		if err != nil {
			return err
		}
		if err := proc.Signal(syscall.SIGTERM); err != nil {
			return fmt.Errorf("signal pid %d: %w", pid, err)
		}
		fmt.Printf("sent SIGTERM to picoflow daemon (pid %d)\n", pid)
		return nil
	},
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether a picoflow daemon holds the lock file, its PID, and uptime.",
	RunE: func(cmd *cobra.Command, args []string) error {
		lockPath, _ := cmd.Flags().GetString("pid-file")
		info, err := os.Stat(lockPath)
		if err != nil {
			if os.IsNotExist(err) {
				fmt.Println("no daemon lock file found: not running")
				return nil
			}
			return err
		}
		pid, err := readLockedPID(lockPath)
		if err != nil {
			return err
		}
		alive := processAlive(pid)
		uptime := time.Since(info.ModTime()).Round(time.Second)
		fmt.Printf("pid=%d alive=%v uptime=%s lock_file=%s\n", pid, alive, uptime, lockPath)
		return nil
	},
}

func readLockedPID(path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read lock file %s: %w", path, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, fmt.Errorf("lock file %s does not contain a pid: %w", path, err)
	}
	return pid, nil
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func init() {
	daemonCmd.PersistentFlags().String("pid-file", "./picoflow.lock", "path to the daemon's single-instance lock/pid file")
	daemonCmd.AddCommand(daemonStartCmd, daemonStopCmd, daemonStatusCmd)
}
