package chunk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCount(t *testing.T) {
	tests := []struct {
		name      string
		size      int64
		chunkSize int64
		want      int
	}{
		{"empty file", 0, 5, 1},
		{"smaller than chunk", 3, 5, 1},
		{"exact multiple", 10, 5, 2},
		{"fractional remainder", 11, 5, 3},
		{"one byte chunks", 4, 1, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Count(tt.size, tt.chunkSize))
		})
	}
}

func TestCount_PanicsOnZeroChunkSize(t *testing.T) {
	assert.Panics(t, func() { Count(10, 0) })
}

func TestSlice_TwoAndAHalfChunks(t *testing.T) {
	const chunkSize = 5 << 20
	size := int64(chunkSize*2 + chunkSize/2)

	ranges := Slice(size, chunkSize)

	require.Len(t, ranges, 3)
	assert.Equal(t, Range{Index: 1, Start: 0, End: chunkSize}, ranges[0])
	assert.Equal(t, Range{Index: 2, Start: chunkSize, End: 2 * chunkSize}, ranges[1])
	assert.Equal(t, Range{Index: 3, Start: 2 * chunkSize, End: size}, ranges[2])
	assert.Equal(t, int64(chunkSize/2), ranges[2].Len())
}

func TestSlice_CoversFileContiguously(t *testing.T) {
	for _, size := range []int64{1, 7, 64, 99, 100, 101, 1023} {
		for _, chunkSize := range []int64{1, 3, 10, 100, 4096} {
			ranges := Slice(size, chunkSize)

			var total int64
			var next int64
			for i, r := range ranges {
				assert.Equal(t, i+1, r.Index)
				assert.Equal(t, next, r.Start, "size=%d chunk=%d", size, chunkSize)
				assert.Positive(t, r.Len())
				total += r.Len()
				next = r.End
			}
			assert.Equal(t, size, total, "size=%d chunk=%d", size, chunkSize)
			assert.Equal(t, Count(size, chunkSize), len(ranges))
		}
	}
}

func TestSlice_EmptyFile(t *testing.T) {
	ranges := Slice(0, 1024)

	require.Len(t, ranges, 1)
	assert.Equal(t, Range{Index: 1}, ranges[0])
	assert.Zero(t, ranges[0].Len())
}

func TestPlan_MarksResumeSkips(t *testing.T) {
	src := BufferSource{Data: make([]byte, 25)}

	chunks := Plan("file-1", 25, 10, src, FirstIndices(2))

	require.Len(t, chunks, 3)
	assert.True(t, chunks[0].IsResumeSkip)
	assert.Equal(t, StatusUploaded, chunks[1].Status)
	assert.False(t, chunks[2].IsResumeSkip)
	assert.Equal(t, StatusPending, chunks[2].Status)
	assert.Equal(t, "file-1", chunks[2].FileID)
}

func TestFirstIndices(t *testing.T) {
	assert.Empty(t, FirstIndices(0))
	assert.Equal(t, map[int]struct{}{1: {}, 2: {}, 3: {}}, FirstIndices(3))
}
