package ridemanager

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Kind is the semantic event type of a RideManager log.
type Kind int

const (
	KindUnknown Kind = iota
	KindAnnounceRide
	KindDriverAcceptsRide
	KindPassengerConfirmsPickup
	KindDriverConfirmsDropoff
	KindPassengerConfirmsDropoff
	KindCancelRide
)

var kindNames = map[Kind]string{
	KindUnknown:                  "Unknown",
	KindAnnounceRide:             "AnnounceRide",
	KindDriverAcceptsRide:        "DriverAcceptsRide",
	KindPassengerConfirmsPickup:  "PassengerConfirmsPickup",
	KindDriverConfirmsDropoff:    "DriverConfirmsDropoff",
	KindPassengerConfirmsDropoff: "PassengerConfirmsDropoff",
	KindCancelRide:               "CancelRide",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind normalizes an event name. Case, underscores, dashes and spaces
// are ignored, so "announce_ride" and "AnnounceRide" are the same kind.
func ParseKind(name string) (Kind, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	key = strings.NewReplacer("_", "", "-", "", " ", "").Replace(key)
	switch key {
	case "announceride":
		return KindAnnounceRide, true
	case "driveracceptsride":
		return KindDriverAcceptsRide, true
	case "passengerconfirmspickup":
		return KindPassengerConfirmsPickup, true
	case "driverconfirmsdropoff":
		return KindDriverConfirmsDropoff, true
	case "passengerconfirmsdropoff":
		return KindPassengerConfirmsDropoff, true
	case "cancelride":
		return KindCancelRide, true
	default:
		return KindUnknown, false
	}
}

// TopicTable maps topic0 hashes to event kinds.
type TopicTable struct {
	kinds map[common.Hash]Kind
}

// NewTopicTable builds a table from topic/kind pairs. Either side of a pair
// may hold the kind name, so "0xabc…=AnnounceRide" and
// "announce_ride=AnnounceRide(bytes32,bytes32,uint256)" are both accepted;
// config file loaders lower-case map keys, which makes the second form the
// only safe one for signatures there. A topic is a 32-byte hex hash or an
// event signature, which is hashed with keccak256.
func NewTopicTable(entries map[string]string) (*TopicTable, error) {
	table := &TopicTable{kinds: make(map[common.Hash]Kind, len(entries))}
	for key, value := range entries {
		topicKey := key
		kind, ok := ParseKind(value)
		if !ok {
			if kind, ok = ParseKind(key); ok {
				topicKey = value
			}
		}
		if !ok {
			return nil, fmt.Errorf("unsupported event name in topic0 map: %s=%s", key, value)
		}
		topic, err := parseTopicKey(topicKey)
		if err != nil {
			return nil, err
		}
		if existing, dup := table.kinds[topic]; dup && existing != kind {
			return nil, fmt.Errorf("topic %s mapped to both %s and %s", topic.Hex(), existing, kind)
		}
		table.kinds[topic] = kind
	}
	return table, nil
}

// Lookup returns the kind for topic0; unknown or unparsable topics map to KindUnknown.
func (t *TopicTable) Lookup(topic0 string) Kind {
	if t == nil {
		return KindUnknown
	}
	data, err := hexutil.Decode(strings.TrimSpace(topic0))
	if err != nil || len(data) != common.HashLength {
		return KindUnknown
	}
	return t.kinds[common.BytesToHash(data)]
}

// Topics returns the configured topic hashes in a stable order.
func (t *TopicTable) Topics() []common.Hash {
	if t == nil {
		return nil
	}
	out := make([]common.Hash, 0, len(t.kinds))
	for topic := range t.kinds {
		out = append(out, topic)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hex() < out[j].Hex() })
	return out
}

// Len returns the number of mapped topics.
func (t *TopicTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.kinds)
}

func parseTopicKey(key string) (common.Hash, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return common.Hash{}, fmt.Errorf("empty topic0 key")
	}
	if strings.Contains(key, "(") {
		if !strings.HasSuffix(key, ")") {
			return common.Hash{}, fmt.Errorf("invalid event signature: %s", key)
		}
		return crypto.Keccak256Hash([]byte(strings.ReplaceAll(key, " ", ""))), nil
	}
	data, err := hexutil.Decode(strings.ToLower(key))
	if err != nil {
		return common.Hash{}, fmt.Errorf("invalid topic0: %s", key)
	}
	if len(data) != common.HashLength {
		return common.Hash{}, fmt.Errorf("invalid topic0 length: %s", key)
	}
	return common.BytesToHash(data), nil
}
