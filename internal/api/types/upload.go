package types

// Result carries the success flag and message every RPC response starts
// with.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type InitiateUploadRequest struct {
	FileName string `json:"fileName"`
	FileSize *int64 `json:"fileSize"`
	MimeType string `json:"mimeType"`
	UserID   string `json:"userId"`
	// ChunkSize is optional; the server default applies when zero.
	ChunkSize int64 `json:"chunkSize,omitempty"`
}

type InitiateUploadResponse struct {
	Result
	UploadID    string `json:"uploadId"`
	ChunkSize   int64  `json:"chunkSize"`
	TotalChunks int    `json:"totalChunks"`
}

type ChunkUploadResponse struct {
	Result
	UploadID       string `json:"uploadId"`
	ChunkIndex     int    `json:"chunkIndex"`
	ChunksReceived int    `json:"chunksReceived"`
}

type UploadStatusResponse struct {
	Result
	UploadID       string `json:"uploadId"`
	ChunksReceived int    `json:"chunksReceived"`
	ChunkIndices   []int  `json:"chunkIndices"`
	TotalChunks    int    `json:"totalChunks"`
}

type FinalizeUploadRequest struct {
	UploadID    string `json:"uploadId"`
	TotalChunks int    `json:"totalChunks"`
	FileName    string `json:"fileName"`
	FileSize    *int64 `json:"fileSize,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
	// Checksum is an optional hex SHA-256 of the whole file.
	Checksum string `json:"checksum,omitempty"`
}

type FinalizeUploadResponse struct {
	Result
	FilePath    string `json:"filePath,omitempty"`
	Checksum    string `json:"checksum,omitempty"`
	FileSize    int64  `json:"fileSize,omitempty"`
	IsDuplicate bool   `json:"isDuplicate,omitempty"`
}

type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}
