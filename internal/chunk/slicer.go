// Package chunk splits a file into fixed-size, 1-indexed byte ranges.
//
// A zero-byte file yields a single empty chunk so that every upload, however
// small, has exactly one chunk to send and one chunk to reassemble.
package chunk

import "fmt"

// Range is the half-open byte span [Start, End) of chunk Index.
type Range struct {
	Index int
	Start int64
	End   int64
}

func (r Range) Len() int64 {
	return r.End - r.Start
}

// Count returns ceil(size / chunkSize), with a minimum of one chunk.
func Count(size, chunkSize int64) int {
	if chunkSize <= 0 {
		panic(fmt.Sprintf("chunk: non-positive chunk size %d", chunkSize))
	}
	if size <= 0 {
		return 1
	}
	return int((size + chunkSize - 1) / chunkSize)
}

// Slice returns the ordered ranges covering a file of the given size.
func Slice(size, chunkSize int64) []Range {
	total := Count(size, chunkSize)
	ranges := make([]Range, total)
	for i := 1; i <= total; i++ {
		ranges[i-1] = RangeOf(i, size, chunkSize)
	}
	return ranges
}

// RangeOf returns the range of the 1-based chunk index without materializing
// the full list.
func RangeOf(index int, size, chunkSize int64) Range {
	start := int64(index-1) * chunkSize
	end := min(size, int64(index)*chunkSize)
	if start > end {
		start = end
	}
	return Range{Index: index, Start: start, End: end}
}
