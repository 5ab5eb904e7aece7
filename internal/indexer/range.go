package indexer

import "fmt"

// BlockRange is an inclusive block range, the unit of one eth_getLogs query.
type BlockRange struct {
	From uint64
	To   uint64
}

// Blocks returns how many blocks the range covers.
func (r BlockRange) Blocks() uint64 {
	return r.To - r.From + 1
}

// SplitRange splits [from, to] into consecutive ranges of at most batchSize
// blocks. Providers cap eth_getLogs ranges, so every query goes through here.
func SplitRange(from, to, batchSize uint64) ([]BlockRange, error) {
	if batchSize == 0 {
		return nil, fmt.Errorf("batch size must be greater than zero")
	}
	if to < from {
		return nil, fmt.Errorf("invalid block range %d-%d", from, to)
	}

	ranges := make([]BlockRange, 0, (to-from)/batchSize+1)
	for start := from; ; {
		end := to
		if to-start >= batchSize {
			end = start + batchSize - 1
		}
		ranges = append(ranges, BlockRange{From: start, To: end})
		if end == to {
			return ranges, nil
		}
		start = end + 1
	}
}
