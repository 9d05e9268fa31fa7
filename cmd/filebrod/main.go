// filebrod is the FileBro backend daemon: it owns the worker pool, the
// progress broadcaster and the client session manager, and blocks until a
// client or a signal asks it to shut down.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"github.com/filebro/backend/config"
	"github.com/filebro/backend/core"
	"github.com/filebro/backend/drivers"
	promexport "github.com/filebro/backend/observability/prometheus"
	"github.com/filebro/backend/server"
	"github.com/filebro/backend/tasks"
)

func main() {
	app := &cli.App{
		Name:  "filebrod",
		Usage: "FileBro backend: worker pool, progress broadcast and client sessions",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config-dir",
				Aliases: []string{"c"},
				Usage:   "directory holding filebro.json",
				Value:   config.DefaultDir(),
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "expose Prometheus metrics on this address (empty = disabled)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error",
				Value: "info",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	logger := newLogger(c.String("log-level"))
	slog.SetDefault(logger)

	settings, err := config.Load(c.String("config-dir"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("load settings: %v", err), 1)
	}

	handlers := core.NewHandlerRegistry()
	if err := tasks.Register(handlers); err != nil {
		return cli.Exit(fmt.Sprintf("register task handlers: %v", err), 1)
	}

	registry := core.NewRegistry(logger)
	pool := core.NewPool(core.Config{
		CoreWorkers:    settings.CoreWorkers(),
		MaxWorkers:     settings.MaxWorkers(),
		QueueThreshold: settings.QueueThreshold(),
	}, handlers, registry, logger)
	broadcaster := core.NewBroadcaster(pool, registry, settings.BroadcastInterval(), logger)

	driverRegistry := drivers.NewRegistry(
		drivers.NewLocal(),
		drivers.NewFTP(),
		drivers.NewSFTP(),
	)

	srv := server.New(settings, pool, registry, broadcaster, driverRegistry, logger)
	if err := srv.Listen(); err != nil {
		return cli.Exit(fmt.Sprintf("startup failed: %v", err), 1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool.Start()
	broadcaster.Start(ctx)
	if err := srv.Start(); err != nil {
		return cli.Exit(fmt.Sprintf("startup failed: %v", err), 1)
	}

	var poller *promexport.SnapshotPoller
	if addr := c.String("metrics-addr"); addr != "" {
		poller, err = promexport.NewSnapshotPoller(prom.DefaultRegisterer, 0)
		if err != nil {
			return cli.Exit(fmt.Sprintf("metrics setup: %v", err), 1)
		}
		poller.AddPool("main", pool)
		poller.Start(ctx)

		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			logger.Info("metrics endpoint up", "addr", addr)
			if err := http.ListenAndServe(addr, mux); err != nil {
				logger.Error("metrics endpoint failed", "error", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("signal received, shutting down", "signal", sig.String())
	case <-srv.ShutdownRequested():
		logger.Info("client requested shutdown")
	}

	// Teardown order: drain the pool first so final progress events still
	// reach connected clients, then stop the broadcaster after its last
	// flush, then notify and close the sessions.
	pool.Shutdown()
	broadcaster.Stop()
	if poller != nil {
		poller.Stop()
	}
	srv.Shutdown()

	return nil
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
