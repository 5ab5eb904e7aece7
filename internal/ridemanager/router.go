package ridemanager

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"cryptoRide/internal/model"
)

// Consumer receives routed ride events in arrival order.
type Consumer interface {
	Consume(ctx context.Context, event model.RideEvent) error
}

// ConsumerFunc adapts a function to Consumer.
type ConsumerFunc func(ctx context.Context, event model.RideEvent) error

func (f ConsumerFunc) Consume(ctx context.Context, event model.RideEvent) error {
	return f(ctx, event)
}

// Router classifies logs by topic0 and dispatches them to consumers.
type Router struct {
	topics    *TopicTable
	consumers []Consumer
	logger    *zap.Logger
}

// NewRouter builds a Router. Consumers are invoked in the given order.
func NewRouter(topics *TopicTable, logger *zap.Logger, consumers ...Consumer) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		topics:    topics,
		consumers: consumers,
		logger:    logger,
	}
}

// Classify returns the kind of entry based on its first topic.
func (r *Router) Classify(entry model.LogEntry) Kind {
	if len(entry.Topics) == 0 {
		return KindUnknown
	}
	return r.topics.Lookup(entry.Topics[0])
}

// Route classifies entry and decodes it when its kind has a decoder.
// An entry with unparsable quantity fields is not decoded; its event carries
// ErrBadPosition.
func (r *Router) Route(entry model.LogEntry) (model.RideEvent, Kind) {
	kind := r.Classify(entry)

	record, posErr := entry.Record(0)
	event := model.RideEvent{
		Kind:        kind.String(),
		Address:     entry.Address,
		BlockNumber: record.BlockNumber,
		BlockHash:   entry.BlockHash,
		TxHash:      entry.TransactionHash,
		LogIndex:    record.LogIndex,
		Removed:     entry.Removed,
		Raw:         &model.RawLogRef{Topic0: entry.Topic0(), Data: entry.Data},
	}
	if posErr != nil {
		event.Err = fmt.Errorf("%w: %v", ErrBadPosition, posErr)
		event.DecodeError = event.Err.Error()
		return event, kind
	}

	if kind == KindAnnounceRide {
		ann, err := DecodeAnnounceRide(entry.Data)
		if err != nil {
			event.Err = err
			event.DecodeError = err.Error()
		} else {
			event.Announcement = &ann
		}
	}

	return event, kind
}

// HandleLog routes entry and hands the result to every consumer before
// returning, so consumers observe events in the order logs arrive.
func (r *Router) HandleLog(ctx context.Context, entry model.LogEntry) {
	event, kind := r.Route(entry)
	logger := r.logger.With(
		zap.String("kind", event.Kind),
		zap.String("tx_hash", event.TxHash),
		zap.Uint64("block_number", event.BlockNumber),
		zap.Bool("removed", event.Removed),
	)

	if kind == KindUnknown {
		unknownTopics.Inc()
		logger.Debug("unknown topic", zap.String("topic0", entry.Topic0()))
		return
	}
	routedEvents.WithLabelValues(event.Kind).Inc()

	if event.Err != nil {
		decodeFailures.Inc()
		level := zap.WarnLevel
		if !errors.Is(event.Err, ErrMalformedLog) && !errors.Is(event.Err, ErrTruncatedLog) && !errors.Is(event.Err, ErrBadPosition) {
			level = zap.ErrorLevel
		}
		logger.Log(level, "decode ride event failed", zap.Error(event.Err))
	}

	for _, consumer := range r.consumers {
		if err := consumer.Consume(ctx, event); err != nil {
			consumerFailures.Inc()
			logger.Error("consume ride event failed", zap.Error(err))
		}
	}
}
