package storage

import (
	"context"
	"fmt"

	"cryptoRide/internal/model"
)

// EventSink writes routed events as JSON lines. Events that failed to decode
// are also written to the optional error stream.
type EventSink struct {
	chainID uint64
	events  *JsonlWriter
	errors  *JsonlWriter
	flush   bool
}

// NewEventSink builds a sink. errors may be nil. With flushEach every event
// reaches the file before Consume returns, which suits long-running listeners.
func NewEventSink(chainID uint64, events, errors *JsonlWriter, flushEach bool) *EventSink {
	return &EventSink{chainID: chainID, events: events, errors: errors, flush: flushEach}
}

// Consume implements the router consumer contract.
func (s *EventSink) Consume(ctx context.Context, event model.RideEvent) error {
	return s.PutEvent(ctx, event)
}

func (s *EventSink) PutEvent(_ context.Context, event model.RideEvent) error {
	if err := s.events.Write(event); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	if event.DecodeError != "" && s.errors != nil {
		if err := s.errors.Write(DecodeErrorFromEvent(s.chainID, event)); err != nil {
			return fmt.Errorf("write decode error: %w", err)
		}
	}
	if !s.flush {
		return nil
	}
	if err := s.events.Flush(); err != nil {
		return err
	}
	if s.errors != nil {
		return s.errors.Flush()
	}
	return nil
}

// DecodeErrorFromEvent builds the error record of an event that failed to decode.
func DecodeErrorFromEvent(chainID uint64, event model.RideEvent) model.DecodeError {
	var topic0, data string
	if event.Raw != nil {
		topic0, data = event.Raw.Topic0, event.Raw.Data
	}
	return model.DecodeError{
		ChainID:     chainID,
		BlockNumber: event.BlockNumber,
		TxHash:      event.TxHash,
		LogIndex:    event.LogIndex,
		Address:     event.Address,
		Topic0:      topic0,
		Data:        data,
		Removed:     event.Removed,
		Kind:        event.Kind,
		Error:       event.DecodeError,
	}
}

// DecodeErrorFromRecord builds the error record of a stored log that could
// not be routed at all.
func DecodeErrorFromRecord(record model.LogRecord, err error) model.DecodeError {
	return model.DecodeError{
		ChainID:     record.ChainID,
		BlockNumber: record.BlockNumber,
		TxHash:      record.TxHash,
		LogIndex:    record.LogIndex,
		Address:     record.Address,
		Topic0:      record.Topic0(),
		Data:        record.Data,
		Removed:     record.Removed,
		Error:       err.Error(),
	}
}

var _ EventStore = (*EventSink)(nil)
