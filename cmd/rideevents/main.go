package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"cryptoRide/internal/config"
	"cryptoRide/internal/custompromauto"
	"cryptoRide/internal/ridemanager"
)

func main() {
	root := &cobra.Command{
		Use:          "rideevents",
		Short:        "RideManager contract event listener",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	listenCmd := &cobra.Command{
		Use:   "listen",
		Short: "Subscribe to contract logs over websocket and route ride events",
		RunE:  runListen,
	}

	listenCmd.Flags().String("ws", "", "websocket JSON-RPC URL")
	listenCmd.Flags().String("rpc", "", "JSON-RPC URL used to replay missed logs after a reconnect (optional)")
	listenCmd.Flags().String("address", "", "RideManager contract address")
	listenCmd.Flags().String("topic0-map", "", "topic0->event kind mappings (comma-separated key=value)")
	listenCmd.Flags().Duration("ack-timeout", 30*time.Second, "how long to wait for subscribe and unsubscribe replies")
	listenCmd.Flags().Int("max-reconnects", config.DefaultMaxReconnects, "redial attempts after a transport failure, 0 disables")
	listenCmd.Flags().Duration("reconnect-backoff", time.Second, "initial delay between redials")
	listenCmd.Flags().Duration("max-reconnect-backoff", time.Minute, "maximum delay between redials")
	listenCmd.Flags().Duration("shutdown-grace", 10*time.Second, "how long to wait for the unsubscribe reply on shutdown")
	listenCmd.Flags().String("out", "./data/ride_events.jsonl", "output ride events JSONL")
	listenCmd.Flags().String("errors", "./data/decode_errors.jsonl", "decode errors JSONL")
	listenCmd.Flags().Int("buffer-size", 256, "events queued for the JSONL writer")
	listenCmd.Flags().String("pg-dsn", "", "Postgres DSN for the ride journal (optional)")
	listenCmd.Flags().String("state-file", "", "local state file for progress tracking when no Postgres DSN is set")
	listenCmd.Flags().String("state-name", "rideevents-listen", "progress key in indexer_state")
	listenCmd.Flags().Uint64("replay-batch-size", 2000, "blocks per eth_getLogs query during replay")
	listenCmd.Flags().Int("max-retries", 5, "maximum retry attempts for RPC queries")
	listenCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff for RPC queries")
	listenCmd.Flags().String("driver", "", "driver address to report acceptance windows for (optional)")
	listenCmd.Flags().Duration("accept-window", 30*time.Second, "acceptance window held by each queued driver")
	listenCmd.Flags().String("metrics-addr", ":9090", "prometheus metrics listen address, empty disables")
	listenCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(listenCmd)

	backfillCmd := &cobra.Command{
		Use:   "backfill",
		Short: "Fetch historical contract logs into a JSONL file",
		RunE:  runBackfill,
	}

	backfillCmd.Flags().String("rpc", "", "JSON-RPC URL")
	backfillCmd.Flags().Uint64("from", 0, "start block (inclusive)")
	backfillCmd.Flags().Uint64("to", 0, "end block (inclusive), 0 means latest")
	backfillCmd.Flags().String("address", "", "RideManager contract address")
	backfillCmd.Flags().String("topic0-map", "", "topic0->event kind mappings; only mapped topics are fetched")
	backfillCmd.Flags().Uint64("batch-size", 2000, "blocks per batch")
	backfillCmd.Flags().String("out", "./data/logs.jsonl", "output JSONL path")
	backfillCmd.Flags().String("checkpoint", "./data/checkpoint.json", "checkpoint file path")
	backfillCmd.Flags().Bool("checkpoint-enabled", true, "enable checkpointing")
	backfillCmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	backfillCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	backfillCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(backfillCmd)

	decodeCmd := &cobra.Command{
		Use:   "decode",
		Short: "Route raw logs from a JSONL file into ride events",
		RunE:  runDecode,
	}

	decodeCmd.Flags().String("in", "", "input raw logs JSONL")
	decodeCmd.Flags().String("out", "./data/ride_events.jsonl", "output ride events JSONL")
	decodeCmd.Flags().String("errors", "./data/decode_errors.jsonl", "decode errors JSONL")
	decodeCmd.Flags().String("topic0-map", "", "topic0->event kind mappings (comma-separated key=value)")
	decodeCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(decodeCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

func newTopicTable(entries map[string]string) (*ridemanager.TopicTable, error) {
	table, err := ridemanager.NewTopicTable(entries)
	if err != nil {
		return nil, fmt.Errorf("topic0 map: %w", err)
	}
	return table, nil
}

// serveMetrics serves the private registry until ctx is done.
func serveMetrics(ctx context.Context, logger *zap.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", custompromauto.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("serving metrics", zap.String("addr", addr))
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		logger.Error("metrics server shutdown failed", zap.Error(err))
	}
}
