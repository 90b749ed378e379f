package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/llxisdsh/slotmap/internal/soak"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	app := &cli.Command{
		Name:  "slotmap-soak",
		Usage: "Drive a slotmap.Map with concurrent workers and verify the results",
		Commands: []*cli.Command{
			runCommand(),
			versionCommand(),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := app.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Shows the slotmap-soak version",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			fmt.Println(version)
			return nil
		},
	}
}

func runCommand() *cli.Command {
	def := soak.Default()
	return &cli.Command{
		Name:  "run",
		Usage: "Run the insert, counter and mixed soak phases",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to a YAML or JSON config file",
			},
			&cli.IntFlag{Name: "workers", Value: def.Workers, Usage: "Concurrent workers per phase"},
			&cli.IntFlag{Name: "keys", Value: def.Keys, Usage: "Size of the key space"},
			&cli.IntFlag{Name: "ops", Value: def.Ops, Usage: "Operations per worker"},
			&cli.DurationFlag{Name: "duration", Usage: "Upper bound of the mixed phase (0: ops only)"},
			&cli.StringFlag{Name: "key-kind", Value: def.KeyKind, Usage: "Key type: int, string or uuid"},
			&cli.IntFlag{Name: "capacity", Usage: "Initial capacity hint of the maps"},
			&cli.IntFlag{Name: "max-capacity", Usage: "Maximum table size of the maps (0: unlimited)"},
			&cli.IntFlag{Name: "remove-percent", Value: def.RemovePercent, Usage: "Share of removals in the mixed phase"},
			&cli.IntFlag{Name: "lock-percent", Value: def.LockPercent, Usage: "Share of locked updates in the mixed phase"},
			&cli.StringFlag{Name: "metrics-addr", Usage: "Serve Prometheus metrics on this address"},
			&cli.StringFlag{Name: "log-level", Value: def.LogLevel, Usage: "debug, info, warn or error"},
			&cli.StringFlag{Name: "log-format", Value: def.LogFormat, Usage: "auto, dev, text or json"},
		},
		Action: runAction,
	}
}

// configFromCommand layers explicitly set flags over the file and
// environment configuration.
func configFromCommand(cmd *cli.Command) (soak.Config, error) {
	cfg, err := soak.Load(cmd.String("config"))
	if err != nil {
		return cfg, err
	}
	if cmd.IsSet("workers") {
		cfg.Workers = cmd.Int("workers")
	}
	if cmd.IsSet("keys") {
		cfg.Keys = cmd.Int("keys")
	}
	if cmd.IsSet("ops") {
		cfg.Ops = cmd.Int("ops")
	}
	if cmd.IsSet("duration") {
		cfg.Duration = cmd.Duration("duration")
	}
	if cmd.IsSet("key-kind") {
		cfg.KeyKind = cmd.String("key-kind")
	}
	if cmd.IsSet("capacity") {
		cfg.Capacity = cmd.Int("capacity")
	}
	if cmd.IsSet("max-capacity") {
		cfg.MaxCapacity = cmd.Int("max-capacity")
	}
	if cmd.IsSet("remove-percent") {
		cfg.RemovePercent = cmd.Int("remove-percent")
	}
	if cmd.IsSet("lock-percent") {
		cfg.LockPercent = cmd.Int("lock-percent")
	}
	if cmd.IsSet("metrics-addr") {
		cfg.MetricsAddr = cmd.String("metrics-addr")
	}
	if cmd.IsSet("log-level") {
		cfg.LogLevel = cmd.String("log-level")
	}
	if cmd.IsSet("log-format") {
		cfg.LogFormat = cmd.String("log-format")
	}
	return cfg, cfg.Validate()
}

func runAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := configFromCommand(cmd)
	if err != nil {
		return err
	}
	logger := soak.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	metrics := soak.NewMetrics()

	serveCtx, stopServe := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(serveCtx)
	if cfg.MetricsAddr != "" {
		logger.Info("serving metrics", "addr", cfg.MetricsAddr)
		g.Go(func() error {
			return metrics.Serve(gctx, cfg.MetricsAddr)
		})
	}

	logger.Info("soak started",
		"workers", cfg.Workers,
		"keys", cfg.Keys,
		"ops", cfg.Ops,
		"keyKind", cfg.KeyKind)
	start := time.Now()
	report, runErr := soak.Run(ctx, cfg, logger, metrics)
	stopServe()
	if err := g.Wait(); err != nil {
		logger.Warn("metrics server stopped", "error", err)
	}

	fmt.Print(report.String())
	if runErr != nil {
		logger.Error("soak failed", "elapsed", time.Since(start), "error", runErr)
		return runErr
	}
	logger.Info("soak passed", "elapsed", time.Since(start))
	return nil
}
