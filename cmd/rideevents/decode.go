package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"cryptoRide/internal/config"
	"cryptoRide/internal/model"
	"cryptoRide/internal/ridemanager"
	"cryptoRide/internal/storage"
)

func runDecode(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadDecode(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.In == "" {
		return fmt.Errorf("input path is required")
	}
	if cfg.Out == "" {
		return fmt.Errorf("output path is required")
	}
	if cfg.Errors == "" {
		return fmt.Errorf("errors path is required")
	}
	table, err := newTopicTable(cfg.Topic0Map)
	if err != nil {
		return err
	}
	if table.Len() == 0 {
		return fmt.Errorf("topic0 map is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	inputFile, err := os.Open(cfg.In)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer inputFile.Close()

	outWriter, err := storage.OpenJsonlWriter(cfg.Out, false)
	if err != nil {
		return err
	}
	defer outWriter.Close()

	errWriter, err := storage.OpenJsonlWriter(cfg.Errors, false)
	if err != nil {
		return err
	}
	defer errWriter.Close()

	logger.Info("decode start",
		zap.String("in", cfg.In),
		zap.String("out", cfg.Out),
		zap.String("errors", cfg.Errors),
		zap.Int("topics", table.Len()),
	)

	var total, routed, failed, invalid int
	counter := ridemanager.ConsumerFunc(func(_ context.Context, event model.RideEvent) error {
		routed++
		if event.DecodeError != "" {
			failed++
		}
		return nil
	})
	// the sink is created with the chain id of the first record
	var sink *storage.EventSink
	router := ridemanager.NewRouter(table, logger, counter, ridemanager.ConsumerFunc(func(ctx context.Context, event model.RideEvent) error {
		return sink.PutEvent(ctx, event)
	}))

	err = storage.ScanLogRecords(inputFile, func(record *model.LogRecord, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		total++
		if err != nil {
			invalid++
			return errWriter.Write(model.DecodeError{Error: err.Error()})
		}
		if record.Topic0() == "" {
			invalid++
			return errWriter.Write(storage.DecodeErrorFromRecord(*record, fmt.Errorf("missing topic0")))
		}
		if sink == nil {
			sink = storage.NewEventSink(record.ChainID, outWriter, errWriter, false)
		}
		router.HandleLog(ctx, record.Entry())
		return nil
	})
	if err != nil {
		return err
	}

	logger.Info("decode complete",
		zap.Int("total", total),
		zap.Int("routed", routed),
		zap.Int("skipped", total-routed-invalid),
		zap.Int("failed", failed),
		zap.Int("invalid", invalid),
	)

	return nil
}
