package model

import (
	"fmt"
	"strconv"
	"strings"
)

// LogEntry is a contract log as delivered inside an eth_subscription notification.
type LogEntry struct {
	Address          string   `json:"address"`
	Topics           []string `json:"topics"`
	Data             string   `json:"data"`
	BlockNumber      string   `json:"blockNumber"`
	TransactionHash  string   `json:"transactionHash"`
	TransactionIndex string   `json:"transactionIndex"`
	BlockHash        string   `json:"blockHash"`
	LogIndex         string   `json:"logIndex"`
	Removed          bool     `json:"removed"`
}

// Topic0 returns the first topic or an empty string.
func (e LogEntry) Topic0() string {
	if len(e.Topics) == 0 {
		return ""
	}
	return e.Topics[0]
}

// Record converts the wire entry into the storage representation.
// Quantity fields are hex encoded on the wire.
func (e LogEntry) Record(chainID uint64) (LogRecord, error) {
	blockNumber, err := parseQuantity(e.BlockNumber)
	if err != nil {
		return LogRecord{}, fmt.Errorf("block number: %w", err)
	}
	txIndex, err := parseQuantity(e.TransactionIndex)
	if err != nil {
		return LogRecord{}, fmt.Errorf("transaction index: %w", err)
	}
	logIndex, err := parseQuantity(e.LogIndex)
	if err != nil {
		return LogRecord{}, fmt.Errorf("log index: %w", err)
	}

	topics := make([]string, len(e.Topics))
	copy(topics, e.Topics)

	return LogRecord{
		ChainID:     chainID,
		BlockNumber: blockNumber,
		BlockHash:   e.BlockHash,
		TxHash:      e.TransactionHash,
		TxIndex:     txIndex,
		LogIndex:    logIndex,
		Address:     e.Address,
		Topics:      topics,
		Data:        e.Data,
		Removed:     e.Removed,
	}, nil
}

// Entry converts a stored record back into the wire shape.
func (lr LogRecord) Entry() LogEntry {
	topics := make([]string, len(lr.Topics))
	copy(topics, lr.Topics)

	return LogEntry{
		Address:          lr.Address,
		Topics:           topics,
		Data:             lr.Data,
		BlockNumber:      formatQuantity(lr.BlockNumber),
		TransactionHash:  lr.TxHash,
		TransactionIndex: formatQuantity(lr.TxIndex),
		BlockHash:        lr.BlockHash,
		LogIndex:         formatQuantity(lr.LogIndex),
		Removed:          lr.Removed,
	}
}

// parseQuantity accepts 0x-prefixed hex quantities; an empty value is zero
// since pending logs carry no block information.
func parseQuantity(input string) (uint64, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return 0, nil
	}
	digits := strings.TrimPrefix(strings.TrimPrefix(input, "0x"), "0X")
	if digits == input {
		return 0, fmt.Errorf("quantity %q missing 0x prefix", input)
	}
	if digits == "" {
		return 0, fmt.Errorf("empty quantity %q", input)
	}
	val, err := strconv.ParseUint(digits, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid quantity %q: %w", input, err)
	}
	return val, nil
}

func formatQuantity(val uint64) string {
	return "0x" + strconv.FormatUint(val, 16)
}
