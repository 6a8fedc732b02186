package indexer

import "fmt"

// BlockRange is an inclusive block range.
type BlockRange struct {
	From uint64
	To   uint64
}

// Blocks returns the number of blocks in the range.
func (r BlockRange) Blocks() uint64 {
	if r.To < r.From {
		return 0
	}
	return r.To - r.From + 1
}

func (r BlockRange) String() string {
	return fmt.Sprintf("[%d, %d]", r.From, r.To)
}

// SplitRange cuts [from, to] into consecutive ranges of at most maxBlocks
// blocks. A zero maxBlocks keeps the range whole.
func SplitRange(from, to, maxBlocks uint64) ([]BlockRange, error) {
	if to < from {
		return nil, fmt.Errorf("to block %d is before from block %d", to, from)
	}
	if maxBlocks == 0 {
		return []BlockRange{{From: from, To: to}}, nil
	}

	ranges := make([]BlockRange, 0, (to-from)/maxBlocks+1)
	for start := from; ; {
		end := to
		if to-start >= maxBlocks {
			end = start + maxBlocks - 1
		}
		ranges = append(ranges, BlockRange{From: start, To: end})
		if end == to {
			break
		}
		start = end + 1
	}
	return ranges, nil
}
