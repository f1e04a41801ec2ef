// Command picoflow is the CLI entry point: argument parsing and command
// dispatch are explicitly out of scope for the core packages (§1), so they
// live here, wired to internal/* exactly the way the teacher's sibling repo
// wires cobra/viper to its internal packages
// (_examples/88lin-divinesense/cmd/divinesense/main.go): one root
// cobra.Command, PersistentFlags bound through viper.BindPFlag, and
// viper.SetEnvPrefix/AutomaticEnv for the PICOFLOW_* env vars in §6.3.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zoza1982/picoflow-sub000/internal/logging"
	"github.com/zoza1982/picoflow-sub000/internal/metrics"
	"github.com/zoza1982/picoflow-sub000/internal/store"
	"github.com/zoza1982/picoflow-sub000/internal/xerrors"
)

var rootCmd = &cobra.Command{
	Use:   "picoflow",
	Short: "A single-host DAG workflow orchestrator for resource-constrained devices.",
}

func init() {
	viper.SetDefault("db-path", "./picoflow.db")
	viper.SetDefault("log-level", "info")
	viper.SetDefault("log-format", "pretty")
	viper.SetDefault("metrics-port", 0)

	rootCmd.PersistentFlags().String("db-path", "./picoflow.db", "path to the embedded state store file")
	rootCmd.PersistentFlags().String("log-level", "info", "error|warn|info|debug|trace")
	rootCmd.PersistentFlags().String("log-format", "pretty", "json|pretty")
	rootCmd.PersistentFlags().Int("metrics-port", 0, "enable the Prometheus /metrics endpoint on this port (0 disables it)")

	for _, name := range []string{"db-path", "log-level", "log-format", "metrics-port"} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("picoflow")
	viper.AutomaticEnv()

	rootCmd.AddCommand(runCmd, validateCmd, statusCmd, daemonCmd, historyCmd, statsCmd, logsCmd)
}

func main() {
	// Flags are parsed inside Execute, so the logger is configured from viper
	// only once they are bound.
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		logging.Init("picoflow", viper.GetString("log-format"), viper.GetString("log-level"))
	}
	if err := rootCmd.Execute(); err != nil {
		slog.Default().Error("command failed", "error", err)
		os.Exit(xerrors.ExitCode(err))
	}
}

func openStore() (*store.Store, *slog.Logger, error) {
	logger := slog.Default()
	st, err := store.Open(viper.GetString("db-path"))
	if err != nil {
		return nil, nil, err
	}
	return st, logger, nil
}

// maybeStartMetricsServer mounts the Prometheus registry on /metrics and
// starts serving it in the background when --metrics-port is non-zero. The
// returned Registry is nil when disabled, and callers then leave
// Scheduler.Metrics nil, which the Scheduler treats as "don't record". The returned shutdown func is always safe to
// call, even when the server was never started.
func maybeStartMetricsServer(logger *slog.Logger) (*metrics.Registry, func(context.Context)) {
	port := viper.GetInt("metrics-port")
	if port <= 0 {
		return nil, func(context.Context) {}
	}

	reg, handler := metrics.New()
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server stopped unexpectedly", "error", err)
		}
	}()
	logger.Info("metrics endpoint listening", "port", port, "path", "/metrics")

	return reg, func(ctx context.Context) {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown error", "error", err)
		}
	}
}
