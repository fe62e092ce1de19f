package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"stampede.dev/stampede/internal/attack"
	"stampede.dev/stampede/internal/config"
	"stampede.dev/stampede/internal/errs"
	"stampede.dev/stampede/internal/gaggle"
	"stampede.dev/stampede/internal/log"
	"stampede.dev/stampede/internal/logsink"
	"stampede.dev/stampede/internal/metrics"
	"stampede.dev/stampede/internal/rpc"
	"stampede.dev/stampede/internal/userrun"
)

var attackCmd = &cobra.Command{
	Use:   "attack",
	Short: "Run a load test",
	Long: `Run a load test against --host using the task sets named by --tasks.

Runs as a single process by default. Pass --manager to wait for workers and
shard the run across them, or --worker to connect to a running manager.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAttack(cmd.Flags())
	},
}

func init() {
	registerAttackFlags(attackCmd.Flags())
	registerTasksFlag(attackCmd.Flags())
	rootCmd.AddCommand(attackCmd)
}

func runAttack(fs *pflag.FlagSet) error {
	declared, err := config.Load(configFile)
	if err != nil {
		exitWithError("failed to load config file", err)
	}
	opts, err := config.Finalize(fs, declared)
	if err != nil {
		exitWithError("invalid configuration", err)
	}

	coMode, err := userrun.ParseCOMode(opts.COMitigation)
	if err != nil {
		exitWithError("invalid --co-mitigation", err)
	}

	sinkCfg, err := buildSinkConfig(opts)
	if err != nil {
		exitWithError("invalid log configuration", err)
	}

	agg := metrics.New()
	logger := log.Base()

	attackOpts := attack.Options{
		Host: opts.Host, Users: opts.Users, RunTime: opts.RunTime,
		HatchRate: opts.HatchRate, ThrottleRequests: opts.ThrottleRequests,
		NoResetMetrics: opts.NoResetMetrics, RunningMetricsEvery: opts.RunningMetricsEvery,
		RandomSeed: opts.RandomSeed, COMode: coMode, RequestTimeout: opts.RequestTimeout,
		LogSink: sinkCfg,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if opts.MetricsListen != "" {
		srv := metrics.NewServer(opts.MetricsListen, opts.MetricsPath, agg, logger)
		if err := srv.Start(ctx); err != nil {
			exitWithError("failed to start metrics server", err)
		}
		defer srv.Stop(context.Background())
	}

	switch {
	case opts.Manager:
		return runManager(ctx, opts, logger)
	case opts.Worker:
		return runWorker(ctx, opts, logger)
	default:
		col, err := buildCollection()
		if err != nil {
			exitWithError("failed to resolve --tasks", err)
		}
		ctrl := attack.New(attackOpts, col, agg, logger)

		sock := socketPath
		go func() {
			if err := rpc.Serve(ctx, sock, rpc.NewService(ctrl, cancel)); err != nil {
				logger.WithError(err).Warn("control plane stopped")
			}
		}()

		if err := ctrl.Run(ctx); err != nil && ctx.Err() == nil {
			exitWithRuntimeError("attack run failed", err)
		}
		printReport(ctrl.Snapshot())
		return nil
	}
}

func runManager(ctx context.Context, opts *config.RunOptions, logger logrus.FieldLogger) error {
	col, err := buildCollection()
	if err != nil {
		exitWithError("failed to resolve --tasks", err)
	}
	agg := metrics.New()
	addr := fmt.Sprintf("%s:%d", opts.ManagerBindHost, opts.ManagerBindPort)
	mgr := gaggle.NewManager(gaggle.ManagerOptions{
		ListenAddr: addr, ExpectWorkers: opts.ExpectWorkers, NoHashCheck: opts.NoHashCheck,
		Host: opts.Host, RunTime: opts.RunTime, HatchRate: opts.HatchRate,
		ThrottleRequests: opts.ThrottleRequests, TotalUsers: opts.Users,
		RandomSeed: opts.RandomSeed, NoResetMetrics: opts.NoResetMetrics,
	}, col, agg, logger)

	if err := mgr.Run(ctx); err != nil {
		exitWithRuntimeError("gaggle manager failed", err)
	}
	printReport(agg.Snapshot())
	return nil
}

func runWorker(ctx context.Context, opts *config.RunOptions, logger logrus.FieldLogger) error {
	col, err := buildCollection()
	if err != nil {
		exitWithError("failed to resolve --tasks", err)
	}
	addr := fmt.Sprintf("%s:%d", opts.ManagerHost, opts.ManagerPort)
	w := gaggle.NewWorker(gaggle.WorkerOptions{ManagerAddr: addr}, col, logger)
	if err := w.Run(ctx); err != nil {
		if errors.Is(err, errs.ErrHandshakeMismatch) {
			exitWithError("worker task-set fingerprint does not match manager", err)
		}
		exitWithRuntimeError("gaggle worker failed", err)
	}
	return nil
}

func buildSinkConfig(opts *config.RunOptions) (logsink.Config, error) {
	reqFmt, err := logsink.ParseFormat(opts.RequestFormat)
	if err != nil {
		return logsink.Config{}, err
	}
	taskFmt, err := logsink.ParseFormat(opts.TaskFormat)
	if err != nil {
		return logsink.Config{}, err
	}
	errFmt, err := logsink.ParseFormat(opts.ErrorFormat)
	if err != nil {
		return logsink.Config{}, err
	}
	dbgFmt, err := logsink.ParseFormat(opts.DebugFormat)
	if err != nil {
		return logsink.Config{}, err
	}
	return logsink.Config{
		Request:     logsink.StreamConfig{Path: opts.RequestLog, Format: reqFmt},
		Task:        logsink.StreamConfig{Path: opts.TaskLog, Format: taskFmt},
		Error:       logsink.StreamConfig{Path: opts.ErrorLog, Format: errFmt},
		Debug:       logsink.StreamConfig{Path: opts.DebugLog, Format: dbgFmt},
		NoDebugBody: opts.NoDebugBody,
		RequestBody: opts.RequestBody,
	}, nil
}

func printReport(snap metrics.Snapshot) {
	fmt.Printf("endpoints: %d, dropped metrics: %d\n", len(snap.Endpoints), snap.DroppedMetrics)
	for name, ep := range snap.Endpoints {
		fmt.Printf("  %-20s total=%d success=%d fail=%d p50=%.0fms p95=%.0fms p99=%.0fms\n",
			name, ep.Counter, ep.SuccessCount, ep.FailCount,
			ep.Percentiles[0.5], ep.Percentiles[0.95], ep.Percentiles[0.99])
	}
}
