package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chaoschain/gateway/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the workflow worker pool",
	Long: `Start the HTTP API and the worker pool.

On start the pool reconciles every RUNNING and STALLED workflow left by a
previous process, queues CREATED ones, and then sweeps periodically
(engine.sweep_interval). SIGINT or SIGTERM drains in-flight work for up
to engine.shutdown_timeout.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) (err error) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gw, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := gw.close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	eng := gw.engine
	if err := eng.Start(ctx); err != nil {
		return err
	}

	apiOpts := []api.Option{api.WithLogger(logger)}
	if gw.broker != nil {
		apiOpts = append(apiOpts, api.WithBroker(gw.broker))
	}
	handler := api.New(eng.Workflows(), eng.Pool(), apiOpts...).Handler()
	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.HTTP.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	var serveErr error
	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Engine.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", slog.String("error", err.Error()))
		_ = srv.Close()
	}
	if err := eng.Stop(shutdownCtx); err != nil {
		logger.Error("engine shutdown", slog.String("error", err.Error()))
	}
	logger.Info("gateway stopped")
	return serveErr
}
