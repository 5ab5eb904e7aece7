package model

// DecodeError is one line of the errors file: a log the pipeline could not
// turn into a ride event. Data keeps the raw payload so the line can be
// decoded again once the cause is fixed.
type DecodeError struct {
	ChainID     uint64 `json:"chain_id"`
	Kind        string `json:"kind,omitempty"`
	BlockNumber uint64 `json:"block_number"`
	TxHash      string `json:"tx_hash"`
	LogIndex    uint64 `json:"log_index"`
	Address     string `json:"address"`
	Topic0      string `json:"topic0"`
	Data        string `json:"data,omitempty"`
	Removed     bool   `json:"removed,omitempty"`
	Error       string `json:"error"`
}
