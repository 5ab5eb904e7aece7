package model

import "time"

// RideStatus is the journal status of an announced ride.
type RideStatus string

const (
	RideStatusAnnounced RideStatus = "announced"
	RideStatusRetracted RideStatus = "retracted"
)

// Ride represents an announced ride record for storage.
type Ride struct {
	RideID          string     `json:"ride_id"`
	EscrowValueID   string     `json:"escrow_value_id"`
	Drivers         []string   `json:"drivers"`
	Status          RideStatus `json:"status"`
	ContractAddress string     `json:"contract_address"`
	BlockNumber     uint64     `json:"block_number"`
	TxHash          string     `json:"tx_hash"`
	LogIndex        uint64     `json:"log_index"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// LifecycleEvent is a non-announcement ride event kept in the journal.
type LifecycleEvent struct {
	Kind        string `json:"kind"`
	Address     string `json:"address"`
	BlockNumber uint64 `json:"block_number"`
	BlockHash   string `json:"block_hash"`
	TxHash      string `json:"tx_hash"`
	LogIndex    uint64 `json:"log_index"`
	Data        string `json:"data"`
	Removed     bool   `json:"removed"`
}
