package model

// RideEvent is a routed contract log, decoded when its kind has a decoder.
type RideEvent struct {
	Kind         string            `json:"kind"`
	Address      string            `json:"address"`
	BlockNumber  uint64            `json:"block_number"`
	BlockHash    string            `json:"block_hash"`
	TxHash       string            `json:"tx_hash"`
	LogIndex     uint64            `json:"log_index"`
	Removed      bool              `json:"removed"`
	Announcement *RideAnnouncement `json:"announcement,omitempty"`
	DecodeError  string            `json:"decode_error,omitempty"`
	Raw          *RawLogRef        `json:"raw,omitempty"`

	Err error `json:"-"`
}

// RawLogRef keeps a minimal raw reference for traceability.
type RawLogRef struct {
	Topic0 string `json:"topic0"`
	Data   string `json:"data"`
}

// Decoded reports whether the event carries a successfully decoded payload.
func (e RideEvent) Decoded() bool {
	return e.Announcement != nil && e.Err == nil
}
