// Command conduitd runs the conduit dashboard server and, for local use,
// the task service emulator.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/GoCodeAlone/conduit/backend"
	"github.com/GoCodeAlone/conduit/client"
	"github.com/GoCodeAlone/conduit/config"
	"github.com/GoCodeAlone/conduit/events"
	"github.com/GoCodeAlone/conduit/internal/logger"
	"github.com/GoCodeAlone/conduit/internal/version"
	"github.com/GoCodeAlone/conduit/server"
	"github.com/GoCodeAlone/conduit/task"
)

const shutdownTimeout = 10 * time.Second

var configFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Usage:   "path to the YAML config file",
	Value:   "conduit.yaml",
	EnvVars: []string{"CONDUIT_CONFIG"},
}

func main() {
	app := &cli.App{
		Name:    "conduitd",
		Usage:   "Scheduled task dashboard daemon",
		Version: version.String(),
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the dashboard server",
				Flags:  []cli.Flag{configFlag},
				Action: runServe,
			},
			{
				Name:  "backend",
				Usage: "Run the local task service emulator",
				Flags: []cli.Flag{
					configFlag,
					&cli.BoolFlag{
						Name:  "seed",
						Usage: "seed an empty store with the sample tasks",
					},
				},
				Action: runBackend,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "conduitd: %v\n", err)
		os.Exit(1)
	}
}

// setup loads the config file and builds the root logger from it. A missing
// default config file falls back to the built-in defaults.
func setup(c *cli.Context) (*config.Config, *zap.Logger, error) {
	path := c.String("config")
	if _, err := os.Stat(path); os.IsNotExist(err) && !c.IsSet("config") {
		path = ""
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, errors.Wrap(err, "build logger")
	}
	log.Info("starting conduitd",
		zap.String("command", c.Command.Name),
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
	)
	return cfg, log, nil
}

func runServe(c *cli.Context) error {
	cfg, log, err := setup(c)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	tasks := client.New(cfg.Backend.URL,
		client.WithTimeout(cfg.Backend.Timeout.D()),
		client.WithLogger(log.Named("client")),
		client.WithMetrics(client.NewMetrics(reg)),
	)

	srv := server.New(cfg, version.Version, log)
	srv.SetTaskStore(tasks)
	srv.SetRegistry(reg)
	srv.SetBus(events.NewInMemoryBus(0))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	return waitAndStop(log, errCh, srv.Stop)
}

func runBackend(c *cli.Context) error {
	cfg, log, err := setup(c)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	store, err := backend.OpenStore(cfg.Emulator.DSN)
	if err != nil {
		return err
	}
	defer store.Close() //nolint:errcheck

	if cfg.Emulator.Seed || c.Bool("seed") {
		seeded, err := store.Seed(c.Context, task.Placeholders())
		if err != nil {
			return errors.Wrap(err, "seed store")
		}
		if seeded {
			log.Info("seeded sample tasks", zap.Int("count", len(task.Placeholders())))
		}
	}

	srv := backend.New(store, backend.Options{
		Addr:        cfg.Emulator.Addr,
		DeleteDelay: cfg.Emulator.DeleteDelay.D(),
		Logger:      log,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Listen() }()

	return waitAndStop(log, errCh, srv.Shutdown)
}

// waitAndStop notifies systemd that the daemon is ready, then blocks until a
// termination signal arrives or the listener fails.
func waitAndStop(log *zap.Logger, errCh <-chan error, stop func(context.Context) error) error {
	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warn("sd_notify ready", zap.Error(err))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		if err != nil {
			return errors.Wrap(err, "listen")
		}
		return nil
	case sig := <-sigCh:
		log.Info("shutting down", zap.String("signal", sig.String()))
	}

	daemon.SdNotify(false, daemon.SdNotifyStopping) //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := stop(ctx); err != nil {
		return errors.Wrap(err, "shutdown")
	}
	log.Info("shutdown complete")
	return nil
}
