// Package tracker keeps the journal of announced rides and their lifecycle
// events, built from routed ride events.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"cryptoRide/internal/model"
	"cryptoRide/internal/ridemanager"
)

const defaultAcceptWindow = 30 * time.Second

// Store persists journal entries. *postgres.Store satisfies it.
type Store interface {
	UpsertRide(ctx context.Context, chainID uint64, ride model.Ride) error
	RetractRide(ctx context.Context, chainID uint64, txHash string, logIndex uint64) (bool, error)
	UpsertLifecycleEvents(ctx context.Context, chainID uint64, events []model.LifecycleEvent) error
}

// Config controls the journal.
type Config struct {
	ChainID uint64
	// Store is optional; without it the journal is memory only.
	Store      Store
	StateStore StateStore
	// Driver, when set, gets a log line for every announcement that queues it.
	Driver       common.Address
	AcceptWindow time.Duration
	Now          func() time.Time
}

// Tracker is a ridemanager consumer. Removed logs retract what the original
// log recorded.
type Tracker struct {
	cfg    Config
	logger *zap.Logger

	mu        sync.RWMutex
	rides     map[string]*model.Ride
	rideByLog map[string]string
	events    map[string]model.LifecycleEvent
	lastBlock uint64
	saved     uint64
}

func New(cfg Config, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.AcceptWindow <= 0 {
		cfg.AcceptWindow = defaultAcceptWindow
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Tracker{
		cfg:       cfg,
		logger:    logger,
		rides:     make(map[string]*model.Ride),
		rideByLog: make(map[string]string),
		events:    make(map[string]model.LifecycleEvent),
	}
}

// LoadProgress restores the last seen block from the state store.
func (t *Tracker) LoadProgress(ctx context.Context) (uint64, bool, error) {
	if t.cfg.StateStore == nil {
		return 0, false, nil
	}
	block, ok, err := t.cfg.StateStore.Load(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("load progress: %w", err)
	}
	if ok {
		t.Observe(block)
		t.mu.Lock()
		t.saved = block
		t.mu.Unlock()
	}
	return block, ok, nil
}

// SaveProgress writes the last seen block when it moved since the last save.
func (t *Tracker) SaveProgress(ctx context.Context) error {
	if t.cfg.StateStore == nil {
		return nil
	}
	t.mu.RLock()
	block, saved := t.lastBlock, t.saved
	t.mu.RUnlock()
	if block == saved {
		return nil
	}
	if err := t.cfg.StateStore.Save(ctx, block); err != nil {
		return fmt.Errorf("save progress: %w", err)
	}
	t.mu.Lock()
	if t.saved < block {
		t.saved = block
	}
	t.mu.Unlock()
	return nil
}

// Observe raises the last seen block to block.
func (t *Tracker) Observe(block uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if block > t.lastBlock {
		t.lastBlock = block
		lastBlock.Set(float64(block))
	}
}

// LastBlock returns the highest block seen so far.
func (t *Tracker) LastBlock() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastBlock
}

// Consume records event in the journal.
func (t *Tracker) Consume(ctx context.Context, event model.RideEvent) error {
	if errors.Is(event.Err, ridemanager.ErrBadPosition) {
		t.logger.Warn("skip event without a valid position", zap.String("tx_hash", event.TxHash), zap.Error(event.Err))
		return nil
	}
	if !event.Removed {
		t.Observe(event.BlockNumber)
	}

	if event.Kind == ridemanager.KindAnnounceRide.String() {
		if event.Removed {
			return t.retractRide(ctx, event)
		}
		if event.Announcement == nil {
			// decode failures are logged by the router
			return nil
		}
		return t.announceRide(ctx, event)
	}
	return t.recordLifecycle(ctx, event)
}

func (t *Tracker) announceRide(ctx context.Context, event model.RideEvent) error {
	ann := event.Announcement
	drivers := make([]string, 0, len(ann.DriverAddresses))
	for _, addr := range ann.DriverAddresses {
		drivers = append(drivers, addr.Hex())
	}
	ride := model.Ride{
		RideID:          ann.RideID.Hex(),
		EscrowValueID:   ann.EscrowValueID.Hex(),
		Drivers:         drivers,
		Status:          model.RideStatusAnnounced,
		ContractAddress: event.Address,
		BlockNumber:     event.BlockNumber,
		TxHash:          event.TxHash,
		LogIndex:        event.LogIndex,
		UpdatedAt:       t.cfg.Now().UTC(),
	}
	key := logKey(event.TxHash, event.LogIndex)

	t.mu.Lock()
	if prev, ok := t.rides[ride.RideID]; ok && prev.Status == model.RideStatusAnnounced && logKey(prev.TxHash, prev.LogIndex) == key {
		t.mu.Unlock()
		return nil
	}
	t.rides[ride.RideID] = &ride
	t.rideByLog[key] = ride.RideID
	active := t.countActiveLocked()
	t.mu.Unlock()
	activeRides.Set(float64(active))

	logger := t.logger.With(zap.String("ride_id", ride.RideID), zap.Uint64("block_number", ride.BlockNumber))
	logger.Info("ride announced", zap.Int("drivers", len(drivers)))
	if t.cfg.Driver != (common.Address{}) {
		if offset, ok := ann.AcceptWindow(t.cfg.Driver, t.cfg.AcceptWindow); ok {
			logger.Info("driver queued for ride",
				zap.String("driver", t.cfg.Driver.Hex()),
				zap.Int("position", ann.DriverPosition(t.cfg.Driver)),
				zap.Duration("window_opens_in", offset),
			)
		}
	}

	if t.cfg.Store == nil {
		return nil
	}
	return t.cfg.Store.UpsertRide(ctx, t.cfg.ChainID, ride)
}

func (t *Tracker) retractRide(ctx context.Context, event model.RideEvent) error {
	key := logKey(event.TxHash, event.LogIndex)

	t.mu.Lock()
	rideID, ok := t.rideByLog[key]
	var ride *model.Ride
	if ok {
		ride = t.rides[rideID]
	}
	if ride != nil && ride.Status != model.RideStatusRetracted {
		ride.Status = model.RideStatusRetracted
		ride.UpdatedAt = t.cfg.Now().UTC()
	} else {
		ride = nil
	}
	active := t.countActiveLocked()
	t.mu.Unlock()
	activeRides.Set(float64(active))

	if ride != nil {
		retractedLogs.WithLabelValues(event.Kind).Inc()
		t.logger.Warn("ride retracted by reorg", zap.String("ride_id", rideID), zap.String("tx_hash", event.TxHash))
	}

	if t.cfg.Store == nil {
		return nil
	}
	if _, err := t.cfg.Store.RetractRide(ctx, t.cfg.ChainID, event.TxHash, event.LogIndex); err != nil {
		return err
	}
	return nil
}

func (t *Tracker) recordLifecycle(ctx context.Context, event model.RideEvent) error {
	data := ""
	if event.Raw != nil {
		data = event.Raw.Data
	}
	ev := model.LifecycleEvent{
		Kind:        event.Kind,
		Address:     event.Address,
		BlockNumber: event.BlockNumber,
		BlockHash:   event.BlockHash,
		TxHash:      event.TxHash,
		LogIndex:    event.LogIndex,
		Data:        data,
		Removed:     event.Removed,
	}
	key := logKey(event.TxHash, event.LogIndex)

	t.mu.Lock()
	prev, seen := t.events[key]
	if seen && prev.Removed == ev.Removed && prev.BlockHash == ev.BlockHash {
		t.mu.Unlock()
		return nil
	}
	if !seen && ev.Removed {
		t.mu.Unlock()
		return nil
	}
	t.events[key] = ev
	t.mu.Unlock()

	if ev.Removed {
		retractedLogs.WithLabelValues(event.Kind).Inc()
		t.logger.Warn("ride event retracted by reorg", zap.String("kind", ev.Kind), zap.String("tx_hash", ev.TxHash))
	}

	if t.cfg.Store == nil {
		return nil
	}
	return t.cfg.Store.UpsertLifecycleEvents(ctx, t.cfg.ChainID, []model.LifecycleEvent{ev})
}

// Ride returns a copy of the journal entry for rideID.
func (t *Tracker) Ride(rideID string) (model.Ride, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ride, ok := t.rides[rideID]
	if !ok {
		return model.Ride{}, false
	}
	return *ride, true
}

// Rides returns every ride ordered by chain position.
func (t *Tracker) Rides() []model.Ride {
	t.mu.RLock()
	out := make([]model.Ride, 0, len(t.rides))
	for _, ride := range t.rides {
		out = append(out, *ride)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].BlockNumber != out[j].BlockNumber {
			return out[i].BlockNumber < out[j].BlockNumber
		}
		return out[i].LogIndex < out[j].LogIndex
	})
	return out
}

// Events returns every lifecycle event ordered by chain position.
func (t *Tracker) Events() []model.LifecycleEvent {
	t.mu.RLock()
	out := make([]model.LifecycleEvent, 0, len(t.events))
	for _, ev := range t.events {
		out = append(out, ev)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].BlockNumber != out[j].BlockNumber {
			return out[i].BlockNumber < out[j].BlockNumber
		}
		return out[i].LogIndex < out[j].LogIndex
	})
	return out
}

func (t *Tracker) countActiveLocked() int {
	active := 0
	for _, ride := range t.rides {
		if ride.Status == model.RideStatusAnnounced {
			active++
		}
	}
	return active
}

func logKey(txHash string, logIndex uint64) string {
	return fmt.Sprintf("%s:%d", strings.ToLower(txHash), logIndex)
}
