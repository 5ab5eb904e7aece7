package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"cryptoRide/internal/chain"
	"cryptoRide/internal/config"
	"cryptoRide/internal/indexer"
	"cryptoRide/internal/ridemanager"
	"cryptoRide/internal/storage"
	"cryptoRide/internal/storage/postgres"
	"cryptoRide/internal/subscription"
	"cryptoRide/internal/tracker"
	"cryptoRide/internal/transport"
)

const progressInterval = 10 * time.Second

func runListen(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadListen(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.WSURL == "" {
		return fmt.Errorf("websocket url is required")
	}
	address, err := indexer.ParseAddress(cfg.Address)
	if err != nil {
		return err
	}
	table, err := newTopicTable(cfg.Topic0Map)
	if err != nil {
		return err
	}
	if table.Len() == 0 {
		return fmt.Errorf("topic0 map is required")
	}
	var driver common.Address
	if cfg.Driver != "" {
		if driver, err = indexer.ParseAddress(cfg.Driver); err != nil {
			return fmt.Errorf("driver: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// the pipeline outlives the signal context so the unsubscribe handshake
	// can still run after Ctrl-C
	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	var (
		chainID     uint64
		chainClient *chain.Client
	)
	if cfg.RPCURL != "" {
		chainClient, err = chain.NewClient(ctx, cfg.RPCURL)
		if err != nil {
			return fmt.Errorf("connect rpc: %w", err)
		}
		defer chainClient.Close()

		id, err := chainClient.GetChainID(ctx)
		if err != nil {
			return fmt.Errorf("get chain id: %w", err)
		}
		if !id.IsUint64() {
			return fmt.Errorf("chain id does not fit in uint64: %s", id)
		}
		chainID = id.Uint64()
	}

	trackerCfg := tracker.Config{
		ChainID:      chainID,
		StateStore:   &tracker.FileStateStore{Path: cfg.StateFile, Address: address.Hex(), ChainID: chainID},
		Driver:       driver,
		AcceptWindow: cfg.AcceptWindow,
	}
	if cfg.PGDSN != "" {
		store, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer store.Close()
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
		trackerCfg.Store = store
		trackerCfg.StateStore = &tracker.DBStateStore{Store: store, Name: cfg.StateName}
	}
	journal := tracker.New(trackerCfg, logger.Named("tracker"))
	if block, ok, err := journal.LoadProgress(ctx); err != nil {
		return err
	} else if ok {
		logger.Info("resume from saved progress", zap.Uint64("last_block", block))
	}

	outWriter, err := storage.OpenJsonlWriter(cfg.Out, true)
	if err != nil {
		return err
	}
	defer outWriter.Close()
	errWriter, err := storage.OpenJsonlWriter(cfg.Errors, true)
	if err != nil {
		return err
	}
	defer errWriter.Close()

	sink := ridemanager.NewBuffered(storage.NewEventSink(chainID, outWriter, errWriter, true), cfg.BufferSize, logger)
	go sink.Run(runCtx)

	// the gap replay starts at the last seen block, whose events already
	// reached the sink
	router := ridemanager.NewRouter(table, logger.Named("router"), journal, ridemanager.NewDedupe(sink, 0))

	var replayer *indexer.Replayer
	if chainClient != nil {
		replayer = indexer.NewReplayer(indexer.ReplayConfig{
			Address:      address,
			Topic0:       table.Topics(),
			BatchSize:    cfg.ReplayBatchSize,
			MaxRetries:   cfg.MaxRetries,
			RetryBackoff: cfg.RetryBackoff,
		}, chainClient, router, logger.Named("replay"))
	}

	controller, err := subscription.NewController(subscription.Config{
		Endpoint:       cfg.WSURL,
		Address:        address.Hex(),
		AckTimeout:     cfg.AckTimeout,
		MaxReconnects:  cfg.MaxReconnects,
		InitialBackoff: cfg.ReconnectBackoff,
		MaxBackoff:     cfg.MaxReconnectBackoff,
		Logger:         logger,
		Observer:       newSubscriptionObserver(ctx, logger, journal, replayer),
	}, transport.NewWebSocketDialer(transport.WebSocketConfig{Logger: logger.Named("transport")}), router)
	if err != nil {
		return err
	}

	if cfg.MetricsAddr != "" {
		go serveMetrics(runCtx, logger, cfg.MetricsAddr)
	}
	go saveProgressLoop(runCtx, logger, journal)

	logger.Info("listen start",
		zap.String("ws", cfg.WSURL),
		zap.String("address", address.Hex()),
		zap.Int("topics", table.Len()),
		zap.Bool("replay", replayer != nil),
		zap.Bool("postgres", cfg.PGDSN != ""),
		zap.Int("max_reconnects", cfg.MaxReconnects),
	)

	if err := controller.Start(runCtx); err != nil {
		return err
	}

	select {
	case <-controller.Done():
	case <-ctx.Done():
		shutdown(logger, controller, cfg.ShutdownGrace)
	}

	sink.Close()
	cancelRun()
	if err := journal.SaveProgress(context.Background()); err != nil {
		logger.Error("save progress failed", zap.Error(err))
	}

	logger.Info("listen stopped",
		zap.String("state", controller.State().String()),
		zap.Uint64("last_block", journal.LastBlock()),
	)
	return controller.Err()
}

// shutdown unsubscribes when possible and waits for the reply up to grace
// before tearing the connection down.
func shutdown(logger *zap.Logger, controller *subscription.Controller, grace time.Duration) {
	logger.Info("shutting down", zap.String("state", controller.State().String()))

	if err := controller.Stop(); err != nil {
		if !errors.Is(err, subscription.ErrProtocolViolation) {
			logger.Warn("unsubscribe failed", zap.Error(err))
		}
		_ = controller.Close()
		<-controller.Done()
		return
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-controller.Done():
	case <-timer.C:
		logger.Warn("unsubscribe reply not received, closing", zap.Duration("grace", grace))
		_ = controller.Close()
		<-controller.Done()
	}
}

// newSubscriptionObserver replays the blocks missed while the subscription
// was down. It runs on the controller goroutine, so replayed logs are routed
// before any live log of the new subscription. ctx must be cancelled on
// shutdown: the controller serves no Stop or Close while a replay runs.
func newSubscriptionObserver(ctx context.Context, logger *zap.Logger, journal *tracker.Tracker, replayer *indexer.Replayer) subscription.Observer {
	return subscription.ObserverFunc(func(change subscription.StateChange) {
		fields := []zap.Field{
			zap.String("from", change.From.String()),
			zap.String("to", change.To.String()),
		}
		if change.SubscriptionID != "" {
			fields = append(fields, zap.String("subscription_id", change.SubscriptionID))
		}
		if change.Reconnect > 0 {
			fields = append(fields, zap.Int("reconnect", change.Reconnect))
		}
		if change.Err != nil {
			fields = append(fields, zap.Error(change.Err))
		}
		logger.Info("subscription state changed", fields...)

		if change.To != subscription.StateSubscribed || replayer == nil {
			return
		}

		head, err := replayer.Head(ctx)
		if err != nil {
			logger.Warn("replay skipped", zap.Error(err))
			return
		}
		if last := journal.LastBlock(); last > 0 && last <= head {
			if _, err := replayer.Replay(ctx, last, head); err != nil {
				logger.Error("replay failed", zap.Uint64("from", last), zap.Uint64("to", head), zap.Error(err))
				return
			}
		}
		journal.Observe(head)
	})
}

func saveProgressLoop(ctx context.Context, logger *zap.Logger, journal *tracker.Tracker) {
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := journal.SaveProgress(ctx); err != nil {
				logger.Warn("save progress failed", zap.Error(err))
			}
		}
	}
}
