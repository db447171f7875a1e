package routes

import (
	"github.com/go-chi/chi/v5"
	"github.com/ilkin0/chunkup/internal/api/handlers"
	"github.com/ilkin0/chunkup/internal/middleware"
)

func UploadRoutes(uploadHandler *handlers.UploadHandler, limiters middleware.Limiters) chi.Router {
	r := chi.NewRouter()

	r.With(limiters.Initiate()).Post("/initiate-upload", uploadHandler.InitiateUpload)
	r.With(limiters.Chunk()).Post("/upload-chunk", uploadHandler.UploadChunk)
	r.With(limiters.Status()).Get("/upload-status/{uploadId}", uploadHandler.UploadStatus)
	r.With(limiters.Finalize()).Post("/finalize-upload", uploadHandler.FinalizeUpload)
	return r
}

func HealthRoutes(healthHandler *handlers.HealthHandler) chi.Router {
	r := chi.NewRouter()

	r.Get("/", healthHandler.Live)
	r.Get("/ready", healthHandler.Ready)
	return r
}
