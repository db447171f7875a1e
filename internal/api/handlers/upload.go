package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/ilkin0/chunkup/internal/api/types"
	"github.com/ilkin0/chunkup/internal/logger"
	"github.com/ilkin0/chunkup/internal/service"
	"github.com/ilkin0/chunkup/internal/utils"
)

// multipart framing on top of the chunk itself
const multipartOverhead = 1 << 20

type UploadHandler struct {
	sessions     *service.SessionService
	reassembler  *service.Reassembler
	maxChunkSize int64
}

func NewUploadHandler(sessions *service.SessionService, reassembler *service.Reassembler, maxChunkSize int64) *UploadHandler {
	return &UploadHandler{
		sessions:     sessions,
		reassembler:  reassembler,
		maxChunkSize: maxChunkSize,
	}
}

func (h *UploadHandler) InitiateUpload(w http.ResponseWriter, r *http.Request) {
	var req types.InitiateUploadRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.Error(w, http.StatusBadRequest, "Failed to parse request body")
		return
	}

	resp, err := h.sessions.Initiate(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	utils.Created(w, resp)
}

// UploadChunk expects multipart/form-data with the fields uploadId and
// chunkIndex and the chunk bytes in the file part "chunk".
func (h *UploadHandler) UploadChunk(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, h.maxChunkSize+multipartOverhead)
	if err := r.ParseMultipartForm(h.maxChunkSize + multipartOverhead); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			utils.Error(w, http.StatusRequestEntityTooLarge, "Chunk too large")
			return
		}
		utils.Error(w, http.StatusBadRequest, "Failed to parse form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	uploadID := strings.TrimSpace(r.FormValue("uploadId"))
	indexStr := strings.TrimSpace(r.FormValue("chunkIndex"))
	if uploadID == "" || indexStr == "" {
		utils.Error(w, http.StatusBadRequest, "uploadId and chunkIndex are required")
		return
	}

	chunkIndex, err := strconv.Atoi(indexStr)
	if err != nil {
		utils.Error(w, http.StatusBadRequest, "Invalid chunk index")
		return
	}

	file, _, err := r.FormFile("chunk")
	if err != nil {
		utils.Error(w, http.StatusBadRequest, "File chunk is missing")
		return
	}
	defer file.Close()

	resp, err := h.sessions.ReceiveChunk(r.Context(), uploadID, chunkIndex, file)
	if err != nil {
		log.Warn("chunk rejected",
			slog.String("upload_id", uploadID),
			slog.Int("chunk_index", chunkIndex),
			slog.String("error", err.Error()),
		)
		writeServiceError(w, r, err)
		return
	}

	utils.Ok(w, resp)
}

func (h *UploadHandler) UploadStatus(w http.ResponseWriter, r *http.Request) {
	uploadID := chi.URLParam(r, "uploadId")

	resp, err := h.sessions.Status(r.Context(), uploadID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	utils.Ok(w, resp)
}

func (h *UploadHandler) FinalizeUpload(w http.ResponseWriter, r *http.Request) {
	var req types.FinalizeUploadRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.Error(w, http.StatusBadRequest, "Failed to parse request body")
		return
	}

	resp, err := h.reassembler.Finalize(r.Context(), req)
	if err != nil {
		var dup *service.DuplicateError
		if errors.As(err, &dup) {
			utils.WriteJSON(w, http.StatusConflict, types.FinalizeUploadResponse{
				Result:      types.Result{Success: false, Message: "File already uploaded"},
				FilePath:    dup.Path,
				IsDuplicate: true,
			})
			return
		}
		writeServiceError(w, r, err)
		return
	}

	utils.Ok(w, resp)
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapServiceErrorToHTTP(err)
	if status == http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		utils.Error(w, status, "Internal server error")
		return
	}
	utils.Error(w, status, err.Error())
}

func mapServiceErrorToHTTP(err error) int {
	switch {
	case errors.Is(err, service.ErrValidation), errors.Is(err, service.ErrMissingChunk):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, service.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, service.ErrIntegrity):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
