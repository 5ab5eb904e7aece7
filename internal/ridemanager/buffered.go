package ridemanager

import (
	"context"
	"sync"

	"github.com/hedisam/pipeline/chans"
	"go.uber.org/zap"

	"cryptoRide/internal/model"
)

// Buffered moves a slow consumer off the routing path. Events are handed to
// the wrapped consumer on a single goroutine so their order is kept; Consume
// blocks once size events are queued.
type Buffered struct {
	next   Consumer
	events chan model.RideEvent
	logger *zap.Logger

	closeOnce sync.Once
	done      chan struct{}
}

func NewBuffered(next Consumer, size int, logger *zap.Logger) *Buffered {
	if logger == nil {
		logger = zap.NewNop()
	}
	if size < 1 {
		size = 1
	}
	return &Buffered{
		next:   next,
		events: make(chan model.RideEvent, size),
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Consume queues event. It fails only when ctx is done first.
func (b *Buffered) Consume(ctx context.Context, event model.RideEvent) error {
	if !chans.SendOrDone(ctx, b.events, event) {
		return ctx.Err()
	}
	return nil
}

// Run delivers queued events until Close drains the queue or ctx is done.
func (b *Buffered) Run(ctx context.Context) {
	defer close(b.done)

	for event := range chans.ReceiveOrDoneSeq(ctx, b.events) {
		if err := b.next.Consume(ctx, event); err != nil {
			consumerFailures.Inc()
			b.logger.Error("buffered consumer failed",
				zap.String("kind", event.Kind),
				zap.String("tx_hash", event.TxHash),
				zap.Error(err),
			)
		}
	}
}

// Close stops accepting events and waits for Run to deliver the queued ones.
// It must not be called while Consume may still run.
func (b *Buffered) Close() {
	b.closeOnce.Do(func() {
		close(b.events)
	})
	<-b.done
}
