// Package postgres persists the ride journal with pgx.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"cryptoRide/internal/model"
)

//go:embed schema.sql
var schema string

// Store provides Postgres persistence for rides and their lifecycle events.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the journal tables when they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// UpsertRide inserts an announced ride or refreshes it when the same ride id
// is announced again, e.g. after a reorg moved it to another block.
func (s *Store) UpsertRide(ctx context.Context, chainID uint64, ride model.Ride) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rides (
			chain_id, ride_id, escrow_value_id, drivers, status, contract_address,
			block_number, tx_hash, log_index, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
		ON CONFLICT (chain_id, ride_id)
		DO UPDATE SET
			escrow_value_id = EXCLUDED.escrow_value_id,
			drivers = EXCLUDED.drivers,
			status = EXCLUDED.status,
			contract_address = EXCLUDED.contract_address,
			block_number = EXCLUDED.block_number,
			tx_hash = EXCLUDED.tx_hash,
			log_index = EXCLUDED.log_index,
			updated_at = now()
	`,
		int64(chainID),
		ride.RideID,
		ride.EscrowValueID,
		ride.Drivers,
		string(ride.Status),
		ride.ContractAddress,
		int64(ride.BlockNumber),
		ride.TxHash,
		int64(ride.LogIndex),
	)
	if err != nil {
		return fmt.Errorf("upsert ride %s: %w", ride.RideID, err)
	}
	return nil
}

// RetractRide marks the ride announced by the given log as retracted. It
// reports whether a ride matched.
func (s *Store) RetractRide(ctx context.Context, chainID uint64, txHash string, logIndex uint64) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE rides SET status = $4, updated_at = now()
		WHERE chain_id = $1 AND tx_hash = $2 AND log_index = $3
	`, int64(chainID), txHash, int64(logIndex), string(model.RideStatusRetracted))
	if err != nil {
		return false, fmt.Errorf("retract ride %s:%d: %w", txHash, logIndex, err)
	}
	return tag.RowsAffected() > 0, nil
}

// UpsertLifecycleEvents stores lifecycle events in one batch. A removed event
// overwrites the stored copy so retractions are kept.
func (s *Store) UpsertLifecycleEvents(ctx context.Context, chainID uint64, events []model.LifecycleEvent) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, ev := range events {
		batch.Queue(`
			INSERT INTO ride_events (
				chain_id, tx_hash, log_index, kind, contract_address, block_number, block_hash, data, removed, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
			ON CONFLICT (chain_id, tx_hash, log_index)
			DO UPDATE SET
				kind = EXCLUDED.kind,
				block_number = EXCLUDED.block_number,
				block_hash = EXCLUDED.block_hash,
				data = EXCLUDED.data,
				removed = EXCLUDED.removed,
				updated_at = now()
		`,
			int64(chainID),
			ev.TxHash,
			int64(ev.LogIndex),
			ev.Kind,
			ev.Address,
			int64(ev.BlockNumber),
			ev.BlockHash,
			ev.Data,
			ev.Removed,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range events {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("upsert ride event: %w", err)
		}
	}
	return nil
}

// LoadState returns last_processed_block for a name.
func (s *Store) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var block int64
	row := s.pool.QueryRow(ctx, `SELECT last_processed_block FROM indexer_state WHERE name=$1`, name)
	if err := row.Scan(&block); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint64(block), true, nil
}

// SaveState upserts last_processed_block for a name.
func (s *Store) SaveState(ctx context.Context, name string, block uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO indexer_state (name, last_processed_block, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_processed_block = EXCLUDED.last_processed_block, updated_at = now()
	`, name, int64(block))
	return err
}
