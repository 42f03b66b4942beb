// Package flatfile orchestrates the chunked transformation: it partitions
// the UPRN domain into contiguous ranges, loads each range's relations,
// generates the address variants, and writes one parquet file per chunk.
package flatfile

import "fmt"

// Range is an inclusive UPRN interval. A range with Lo > Hi is empty (it
// still produces an output file so the chunk set stays complete).
type Range struct {
	Lo, Hi uint64
}

// Empty reports whether the range covers no UPRNs.
func (r Range) Empty() bool {
	return r.Lo > r.Hi
}

// Ranges splits [min, max] into n contiguous, non-overlapping ranges that
// jointly cover every UPRN exactly once. When the domain is smaller than n,
// the trailing ranges are empty.
func Ranges(min, max uint64, n int) ([]Range, error) {
	if n < 1 {
		return nil, fmt.Errorf("num_chunks must be >= 1, got %d", n)
	}
	if max < min {
		return nil, fmt.Errorf("invalid UPRN domain [%d, %d]", min, max)
	}

	span := max - min + 1
	width := span / uint64(n)
	rem := span % uint64(n)

	ranges := make([]Range, n)
	cur := min
	for i := 0; i < n; i++ {
		w := width
		if uint64(i) < rem {
			w++
		}
		if w == 0 {
			ranges[i] = Range{Lo: cur, Hi: cur - 1}
			continue
		}
		ranges[i] = Range{Lo: cur, Hi: cur + w - 1}
		cur += w
	}
	return ranges, nil
}
