package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/overlay/internal/config"
	"github.com/MarcoPoloResearchLab/overlay/internal/outbox"
	"github.com/MarcoPoloResearchLab/overlay/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the compile endpoint and the change feed over HTTP",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return bindCommandFlags(cmd, map[string]string{"http.address": "http-address"})
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
	cmd.Flags().String("http-address", config.NewViper().GetString("http.address"), "HTTP listen address")
	return cmd
}

func runServer(ctx context.Context) error {
	appConfig, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, closeDB, err := openOutboxStore(appConfig, logger)
	if err != nil {
		return err
	}
	defer closeDB()

	tailer, err := newTailer(db, appConfig, logger)
	if err != nil {
		return err
	}
	dispatcher := outbox.NewDispatcher()

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Compiler:   appConfig.CompilerOptions(),
		Changes:    tailer,
		Dispatcher: dispatcher,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wake, err := startListener(signalCtx, appConfig, logger)
	if err != nil {
		return err
	}
	latest, err := tailer.LatestID(signalCtx)
	if err != nil {
		logger.Warn("outbox not readable; change feed starts empty", zap.Error(err))
	}
	go func() {
		err := tailer.Run(signalCtx, outbox.Query{AfterID: latest}, wake, dispatcher.Handle)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("outbox pump stopped", zap.Error(err))
		}
	}()

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
