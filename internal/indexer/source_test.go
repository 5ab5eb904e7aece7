package indexer

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

type fakeSource struct {
	mu        sync.Mutex
	head      uint64
	logs      []types.Log
	failFirst int
	calls     []BlockRange
}

func (f *fakeSource) GetChainID(context.Context) (*big.Int, error) {
	return big.NewInt(31337), nil
}

func (f *fakeSource) LatestBlockNumber(context.Context) (uint64, error) {
	return f.head, nil
}

func (f *fakeSource) BlockTimestamp(_ context.Context, number uint64) (uint64, error) {
	return 1_700_000_000 + number, nil
}

func (f *fakeSource) FilterLogs(_ context.Context, from, to uint64, address common.Address, topic0 []common.Hash) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, BlockRange{From: from, To: to})
	if f.failFirst > 0 {
		f.failFirst--
		return nil, errors.New("rate limited")
	}

	var out []types.Log
	for _, log := range f.logs {
		if log.BlockNumber < from || log.BlockNumber > to || log.Address != address {
			continue
		}
		if len(topic0) > 0 && !containsHash(topic0, log.Topics[0]) {
			continue
		}
		out = append(out, log)
	}
	return out, nil
}

func containsHash(list []common.Hash, h common.Hash) bool {
	for _, item := range list {
		if item == h {
			return true
		}
	}
	return false
}

var (
	testContract = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	testTopic    = common.HexToHash("0xaaaa")
)

func testLog(block uint64, index uint, topic common.Hash) types.Log {
	return types.Log{
		Address:     testContract,
		Topics:      []common.Hash{topic},
		Data:        []byte{0x01, 0x02},
		BlockNumber: block,
		TxHash:      common.BigToHash(new(big.Int).SetUint64(block*100 + uint64(index))),
		Index:       index,
	}
}
