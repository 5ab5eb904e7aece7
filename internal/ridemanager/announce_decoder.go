package ridemanager

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"cryptoRide/internal/model"
)

const (
	wordSize       = 32
	headerWords    = 3
	addressPadding = wordSize - common.AddressLength
)

var (
	// ErrMalformedLog is returned when the data blob violates the word layout.
	ErrMalformedLog = errors.New("malformed log")
	// ErrTruncatedLog is returned when the blob ends before the declared payload.
	ErrTruncatedLog = errors.New("truncated log")
	// ErrBadPosition is set on events whose block number or log index could
	// not be parsed. Such events cannot be deduplicated or ordered.
	ErrBadPosition = errors.New("bad log position")
)

// DecodeAnnounceRide decodes the data field of an AnnounceRide log.
//
// Layout: word 0 ride id, word 1 escrow value id, word 2 driver count,
// followed by one right-aligned address per word.
func DecodeAnnounceRide(data string) (model.RideAnnouncement, error) {
	raw, err := decodeWords(data)
	if err != nil {
		return model.RideAnnouncement{}, err
	}

	words := len(raw) / wordSize
	if words < headerWords {
		return model.RideAnnouncement{}, fmt.Errorf("%w: %d words, header needs %d", ErrTruncatedLog, words, headerWords)
	}

	rideID := common.BytesToHash(word(raw, 0))
	escrowValueID := common.BytesToHash(word(raw, 1))

	count := new(uint256.Int).SetBytes(word(raw, 2))
	if !count.IsUint64() {
		return model.RideAnnouncement{}, fmt.Errorf("%w: address count %s overflows uint64", ErrMalformedLog, count.Hex())
	}
	addressCount := count.Uint64()

	// compare in words so a huge count cannot overflow the byte arithmetic
	if available := uint64(words - headerWords); addressCount > available {
		return model.RideAnnouncement{}, fmt.Errorf("%w: %d addresses declared, %d words available", ErrTruncatedLog, addressCount, available)
	}

	drivers := make([]common.Address, 0, addressCount)
	for i := uint64(0); i < addressCount; i++ {
		w := word(raw, headerWords+int(i))
		if !isZero(w[:addressPadding]) {
			return model.RideAnnouncement{}, fmt.Errorf("%w: address word %d has non-zero padding", ErrMalformedLog, i)
		}
		drivers = append(drivers, common.BytesToAddress(w[addressPadding:]))
	}

	return model.RideAnnouncement{
		RideID:          rideID,
		EscrowValueID:   escrowValueID,
		AddressCount:    addressCount,
		DriverAddresses: drivers,
	}, nil
}

func decodeWords(data string) ([]byte, error) {
	if !strings.HasPrefix(data, "0x") && !strings.HasPrefix(data, "0X") {
		return nil, fmt.Errorf("%w: missing 0x prefix", ErrMalformedLog)
	}
	body := data[2:]
	if len(body) == 0 || len(body)%(wordSize*2) != 0 {
		return nil, fmt.Errorf("%w: %d hex chars is not a positive multiple of %d", ErrMalformedLog, len(body), wordSize*2)
	}
	raw, err := hexutil.Decode("0x" + body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedLog, err)
	}
	return raw, nil
}

func word(raw []byte, index int) []byte {
	return raw[index*wordSize : (index+1)*wordSize]
}

func isZero(b []byte) bool {
	return len(bytes.TrimLeft(b, "\x00")) == 0
}
