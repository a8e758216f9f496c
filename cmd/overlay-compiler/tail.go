package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/MarcoPoloResearchLab/overlay/internal/outbox"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newTailCommand() *cobra.Command {
	var (
		table  string
		follow bool
	)
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print outbox changes as JSON lines, resuming from the consumer's saved position",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return bindCommandFlags(cmd, map[string]string{"outbox.consumer": "consumer"})
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTail(cmd, table, follow)
		},
	}
	cmd.Flags().String("consumer", "", "Consumer name whose position is persisted")
	cmd.Flags().StringVar(&table, "table", "", "Only print changes of this table")
	cmd.Flags().BoolVar(&follow, "follow", true, "Keep waiting for new changes; when false, exit once pending changes are printed")
	return cmd
}

func runTail(cmd *cobra.Command, table string, follow bool) error {
	appConfig, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	if appConfig.Consumer == "" {
		return fmt.Errorf("tail requires outbox.consumer")
	}

	db, closeDB, err := openOutboxStore(appConfig, logger)
	if err != nil {
		return err
	}
	defer closeDB()

	cursors, err := outbox.NewCursorStore(db, nil)
	if err != nil {
		return err
	}
	tailer, err := newTailer(db, appConfig, logger)
	if err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	after, err := cursors.Load(signalCtx, appConfig.Consumer)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	emit := func(ctx context.Context, record outbox.ChangeRecord) error {
		if err := encoder.Encode(record); err != nil {
			return err
		}
		return cursors.Save(ctx, appConfig.Consumer, record.ID)
	}
	query := outbox.Query{AfterID: after, Table: table}
	logger.Info("tailing outbox", zap.String("consumer", appConfig.Consumer), zap.Int64("after_id", after), zap.String("table", table), zap.Bool("follow", follow))
	if !follow {
		return drainPending(signalCtx, tailer, query, emit)
	}

	wake, err := startListener(signalCtx, appConfig, logger)
	if err != nil {
		return err
	}
	err = tailer.Run(signalCtx, query, wake, emit)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// drainPending hands every change currently after query.AfterID to handle
// and returns at the end of the outbox. Unlike Tailer.Run it stops at the
// first handler error.
func drainPending(ctx context.Context, tailer *outbox.Tailer, query outbox.Query, handle outbox.Handler) error {
	for {
		records, err := tailer.Next(ctx, query)
		if err != nil {
			return err
		}
		for _, record := range records {
			if err := handle(ctx, record); err != nil {
				return err
			}
			query.AfterID = record.ID
		}
		if len(records) < tailer.BatchSize() {
			return nil
		}
	}
}
