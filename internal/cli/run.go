package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/clock"
	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/conductor"
	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/devices"
	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/journal"
	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/metrics"
	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/timeline"
)

// shutdownTimeout bounds device termination on exit.
const shutdownTimeout = 5 * time.Second

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	ConfigPath string
	ShowPath   string

	// Clock drives the conductor. Defaults to the wall clock.
	Clock clock.Clock

	// Ready is called once the conductor has started (for testing).
	Ready func(*conductor.Conductor)
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the conductor",
		Long: `Start the conductor with the devices from the config file and the
mappings and timeline from the show file, and keep devices in sync until
interrupted.

SIGINT and SIGTERM stop the conductor and terminate all devices.
SIGHUP reloads the show file; an invalid show keeps the current one.

Example:
  tsr run --config ./conductor.toml --show ./show.cue
  tsr run --config ./conductor.toml --show ./show.yaml --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConductor(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "path to the TOML config (required)")
	cmd.Flags().StringVar(&opts.ShowPath, "show", "", "path to the show file: .cue, .yaml or .json (required)")
	_ = cmd.MarkFlagRequired("config")
	_ = cmd.MarkFlagRequired("show")

	return cmd
}

func runConductor(opts *RunOptions, cmd *cobra.Command) error {
	handler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: opts.LogLevel()})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	cfg, err := LoadConfig(opts.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	show, err := LoadShow(opts.ShowPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load show", err)
	}
	logger.Info("show loaded", "path", opts.ShowPath, "objects", countObjects(show.Timeline), "mappings", len(show.Mappings))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	copts := append(cfg.Conductor.Options(),
		conductor.WithRegistry(devices.Builtin()),
		conductor.WithLogger(logger),
		conductor.WithMetrics(metrics.NewCollector(reg)),
		conductor.OnFixedNow(func(fixed []timeline.FixedObject) {
			for _, f := range fixed {
				logger.Info("now fixed", "object", f.ID, "time", f.Time)
			}
		}),
	)

	if cfg.Journal.Path != "" {
		j, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		defer func() {
			if err := j.Close(); err != nil {
				logger.Error("error closing journal", "error", err)
			}
		}()
		logger.Info("journal ready", "path", cfg.Journal.Path)
		copts = append(copts, conductor.WithJournal(j))
	}

	clk := opts.Clock
	if clk == nil {
		clk = clock.Wall{}
	}
	c := conductor.New(clk, copts...)

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	if err := c.SetShow(show.Mappings, show.Timeline); err != nil {
		return WrapExitError(ExitCommandError, "invalid show", err)
	}
	if err := c.AddConfigured(ctx, cfg.Devices); err != nil {
		_ = c.Close(context.Background())
		return WrapExitError(ExitCommandError, "failed to add devices", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	go func() {
		for {
			select {
			case sig := <-sigChan:
				if sig == syscall.SIGHUP {
					reloadShow(c, opts.ShowPath, logger)
					continue
				}
				logger.Info("received signal, shutting down", "signal", sig)
				cancel()
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	metricsFailed := make(chan error, 1)
	if cfg.Metrics.Addr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Addr, reg); err != nil {
				logger.Error("metrics server failed", "error", err)
				metricsFailed <- err
				cancel()
			}
		}()
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Conductor started with %d device(s). Press Ctrl-C to stop.\n", len(cfg.Devices))
	c.Start()
	if opts.Ready != nil {
		opts.Ready(c)
	}
	_ = c.Run(ctx)

	var runErr error
	select {
	case err := <-metricsFailed:
		runErr = WrapExitError(ExitFailure, "metrics server failed", err)
	default:
	}

	closeCtx, closeCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer closeCancel()
	if err := c.Close(closeCtx); err != nil {
		logger.Error("error terminating devices", "error", err)
	}

	logger.Info("conductor stopped")
	return runErr
}

func reloadShow(c *conductor.Conductor, path string, logger *slog.Logger) {
	show, err := LoadShow(path)
	if err == nil {
		err = c.SetShow(show.Mappings, show.Timeline)
	}
	if err != nil {
		var errs LoadErrors
		if errors.As(err, &errs) {
			for _, e := range errs {
				logger.Error("show reload rejected", "error", e.Error())
			}
			return
		}
		logger.Error("show reload rejected", "error", err)
		return
	}
	logger.Info("show reloaded", "path", path, "objects", countObjects(show.Timeline))
}
