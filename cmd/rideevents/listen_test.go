package main

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"cryptoRide/internal/indexer"
	"cryptoRide/internal/model"
	"cryptoRide/internal/subscription"
	"cryptoRide/internal/tracker"
)

// stalledSource answers nothing until its context is cancelled.
type stalledSource struct {
	calls chan struct{}
}

func (s *stalledSource) GetChainID(ctx context.Context) (*big.Int, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *stalledSource) LatestBlockNumber(ctx context.Context) (uint64, error) {
	s.calls <- struct{}{}
	<-ctx.Done()
	return 0, ctx.Err()
}

func (s *stalledSource) BlockTimestamp(ctx context.Context, _ uint64) (uint64, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

func (s *stalledSource) FilterLogs(ctx context.Context, _, _ uint64, _ common.Address, _ []common.Hash) ([]types.Log, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestSubscriptionObserverReplayStopsOnShutdown(t *testing.T) {
	source := &stalledSource{calls: make(chan struct{}, 1)}
	replayer := indexer.NewReplayer(indexer.ReplayConfig{
		Address:      common.HexToAddress("0x5fbdb2315678afecb367f032d93f642f64180aa3"),
		MaxRetries:   100,
		RetryBackoff: time.Hour,
	}, source, subscription.LogHandlerFunc(func(context.Context, model.LogEntry) {}), zap.NewNop())
	journal := tracker.New(tracker.Config{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	observer := newSubscriptionObserver(ctx, zap.NewNop(), journal, replayer)

	returned := make(chan struct{})
	go func() {
		observer.StateChanged(subscription.StateChange{From: subscription.StateNotSubscribed, To: subscription.StateSubscribed})
		close(returned)
	}()

	select {
	case <-source.calls:
	case <-time.After(2 * time.Second):
		t.Fatalf("replay never asked for the head")
	}

	cancel()
	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatalf("observer still replaying after shutdown")
	}
	if journal.LastBlock() != 0 {
		t.Fatalf("aborted replay must not advance progress, got %d", journal.LastBlock())
	}
}
