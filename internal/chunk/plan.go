package chunk

type Status string

const (
	StatusPending   Status = "pending"
	StatusUploading Status = "uploading"
	StatusUploaded  Status = "uploaded"
	StatusFailed    Status = "failed"
)

// Chunk is the transient unit of work derived from a file each time its
// upload (re)starts. It is never persisted.
type Chunk struct {
	FileID       string
	Range        Range
	Source       Source
	Status       Status
	Retries      int
	IsResumeSkip bool
}

// Plan slices a file and marks every index in received as a resume skip.
func Plan(fileID string, size, chunkSize int64, src Source, received map[int]struct{}) []Chunk {
	ranges := Slice(size, chunkSize)
	chunks := make([]Chunk, len(ranges))
	for i, r := range ranges {
		_, skip := received[r.Index]
		status := StatusPending
		if skip {
			status = StatusUploaded
		}
		chunks[i] = Chunk{
			FileID:       fileID,
			Range:        r,
			Source:       src,
			Status:       status,
			IsResumeSkip: skip,
		}
	}
	return chunks
}

// FirstIndices returns the set {1..n}, the received set implied by a bare
// uploaded-chunks count.
func FirstIndices(n int) map[int]struct{} {
	set := make(map[int]struct{}, n)
	for i := 1; i <= n; i++ {
		set[i] = struct{}{}
	}
	return set
}
