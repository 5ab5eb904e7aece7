package ridemanager

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoRide/internal/model"
)

func TestBufferedKeepsOrder(t *testing.T) {
	var (
		mu  sync.Mutex
		got []uint64
	)
	next := ConsumerFunc(func(_ context.Context, event model.RideEvent) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, event.BlockNumber)
		return nil
	})

	buffered := NewBuffered(next, 4, nil)
	go buffered.Run(context.Background())

	for i := uint64(1); i <= 20; i++ {
		require.NoError(t, buffered.Consume(context.Background(), model.RideEvent{BlockNumber: i}))
	}
	buffered.Close()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 20)
	for i, block := range got {
		assert.Equal(t, uint64(i+1), block)
	}
}

func TestBufferedAbsorbsConsumerErrors(t *testing.T) {
	calls := 0
	next := ConsumerFunc(func(context.Context, model.RideEvent) error {
		calls++
		return errors.New("disk full")
	})

	buffered := NewBuffered(next, 1, nil)
	go buffered.Run(context.Background())

	require.NoError(t, buffered.Consume(context.Background(), model.RideEvent{}))
	require.NoError(t, buffered.Consume(context.Background(), model.RideEvent{}))
	buffered.Close()

	assert.Equal(t, 2, calls)
}

func TestBufferedConsumeCancelled(t *testing.T) {
	buffered := NewBuffered(ConsumerFunc(func(context.Context, model.RideEvent) error { return nil }), 1, nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, buffered.Consume(ctx, model.RideEvent{}))
	cancel()

	err := buffered.Consume(ctx, model.RideEvent{})
	require.ErrorIs(t, err, context.Canceled)
}
