package ridemanager

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"

	"cryptoRide/internal/model"
)

const defaultDedupeDepth = 64

// Dedupe forwards each event to next at most once. Events are keyed by
// block, transaction hash, log index and removed flag; only the keys of the
// newest depth blocks are kept, older events are passed through.
//
// The gap replay after a reconnect starts at the last block already seen, so
// without it that block's events would be written twice.
type Dedupe struct {
	next  Consumer
	depth uint64

	mu   sync.Mutex
	head uint64
	seen map[uint64]map[string]struct{}
}

// NewDedupe wraps next. A zero depth uses 64 blocks.
func NewDedupe(next Consumer, depth uint64) *Dedupe {
	if depth == 0 {
		depth = defaultDedupeDepth
	}
	return &Dedupe{
		next:  next,
		depth: depth,
		seen:  make(map[uint64]map[string]struct{}),
	}
}

func (d *Dedupe) Consume(ctx context.Context, event model.RideEvent) error {
	// without a position there is no key to compare
	if !errors.Is(event.Err, ErrBadPosition) && !d.remember(event) {
		duplicateEvents.Inc()
		return nil
	}
	return d.next.Consume(ctx, event)
}

// remember records the event and reports whether it is new.
func (d *Dedupe) remember(event model.RideEvent) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	block := event.BlockNumber
	if block+d.depth <= d.head {
		return true
	}

	key := logKey(event)
	keys, ok := d.seen[block]
	if !ok {
		keys = make(map[string]struct{})
		d.seen[block] = keys
	}
	if _, dup := keys[key]; dup {
		return false
	}
	keys[key] = struct{}{}

	if block > d.head {
		d.head = block
		for b := range d.seen {
			if b+d.depth <= d.head {
				delete(d.seen, b)
			}
		}
	}
	return true
}

func logKey(event model.RideEvent) string {
	key := strings.ToLower(event.TxHash) + ":" + strconv.FormatUint(event.LogIndex, 10)
	if event.Removed {
		key += ":removed"
	}
	return key
}
