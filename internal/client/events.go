package client

type EventKind string

const (
	EventStatus    EventKind = "status"
	EventProgress  EventKind = "progress"
	EventRetry     EventKind = "retry"
	EventCompleted EventKind = "completed"
)

type Event struct {
	Kind   EventKind
	FileID string
	Status Status
	// UploadedChunks and TotalChunks are set for progress events.
	UploadedChunks int
	TotalChunks    int
	// ChunkIndex and Attempt are set for retry events.
	ChunkIndex int
	Attempt    int
	Err        error
	Message    string
}
