package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/smallnest/chatpipe/api"
	"github.com/smallnest/chatpipe/pipeline"
	"github.com/smallnest/chatpipe/task"
	"github.com/smallnest/chatpipe/telemetry"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the pipelines directory over HTTP",
		RunE:  serve,
	}
	cmd.Flags().String("addr", "", "Listen address, overrides server.addr")
	cmd.Flags().String("pipelines", "", "Pipelines directory, overrides pipelines.dir")
	return cmd
}

func serve(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	if dir, _ := cmd.Flags().GetString("pipelines"); dir != "" {
		cfg.Pipelines.Dir = dir
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.logger

	shutdownTracing, err := telemetry.SetupProvider(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}

	registry := pipeline.NewRegistry(cfg.Pipelines.Dir, logger)
	if err := registry.Load(); err != nil {
		logger.Error("some pipelines failed to load: %v", err)
	}
	if cfg.Pipelines.Watch {
		go func() {
			if err := registry.Watch(ctx); err != nil {
				logger.Error("pipeline watcher stopped: %v", err)
			}
		}()
	}

	engineOpts, err := a.engineOptions()
	if err != nil {
		return err
	}
	manager := task.NewManager(
		task.WithWorkers(cfg.Task.Workers),
		task.WithStore(a.tasks),
		task.WithLogger(logger),
		task.WithMetrics(a.metrics),
		task.WithEngineOptions(engineOpts...),
	)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.NewServer(registry, manager, api.WithMetrics(a.metrics), api.WithLogger(logger)).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving %d pipelines on %s", len(registry.List()), cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	errs := []error{
		srv.Shutdown(shutdownCtx),
		manager.Shutdown(shutdownCtx),
		shutdownTracing(shutdownCtx),
	}
	return errors.Join(errs...)
}
