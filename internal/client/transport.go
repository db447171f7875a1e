package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ilkin0/chunkup/internal/api/types"
)

const apiPrefix = "/api/v1"

// Transport is the coordinator's view of the upload server.
type Transport interface {
	Initiate(ctx context.Context, req types.InitiateUploadRequest) (types.InitiateUploadResponse, error)
	UploadChunk(ctx context.Context, uploadID string, index int, body io.Reader) (types.ChunkUploadResponse, error)
	Status(ctx context.Context, uploadID string) (types.UploadStatusResponse, error)
	Finalize(ctx context.Context, req types.FinalizeUploadRequest) (types.FinalizeUploadResponse, error)
}

// HTTPTransport talks to the server's JSON and multipart endpoints.
type HTTPTransport struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPTransport(baseURL string, timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{
		baseURL:    strings.TrimRight(baseURL, "/") + apiPrefix,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (t *HTTPTransport) Initiate(ctx context.Context, req types.InitiateUploadRequest) (types.InitiateUploadResponse, error) {
	var resp types.InitiateUploadResponse
	err := t.doJSON(ctx, http.MethodPost, "/initiate-upload", req, &resp)
	return resp, err
}

// UploadChunk streams body as the "chunk" part of a multipart request.
func (t *HTTPTransport) UploadChunk(ctx context.Context, uploadID string, index int, body io.Reader) (types.ChunkUploadResponse, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		err := func() error {
			if err := mw.WriteField("uploadId", uploadID); err != nil {
				return err
			}
			if err := mw.WriteField("chunkIndex", strconv.Itoa(index)); err != nil {
				return err
			}
			part, err := mw.CreateFormFile("chunk", fmt.Sprintf("chunk_%d", index))
			if err != nil {
				return err
			}
			if _, err := io.Copy(part, body); err != nil {
				return err
			}
			return mw.Close()
		}()
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/upload-chunk", pr)
	if err != nil {
		pr.Close()
		return types.ChunkUploadResponse{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var resp types.ChunkUploadResponse
	err = t.do(req, &resp)
	// unblocks the writer if the request failed before draining the body
	pr.Close()
	return resp, err
}

func (t *HTTPTransport) Status(ctx context.Context, uploadID string) (types.UploadStatusResponse, error) {
	var resp types.UploadStatusResponse
	err := t.doJSON(ctx, http.MethodGet, "/upload-status/"+url.PathEscape(uploadID), nil, &resp)
	return resp, err
}

func (t *HTTPTransport) Finalize(ctx context.Context, req types.FinalizeUploadRequest) (types.FinalizeUploadResponse, error) {
	var resp types.FinalizeUploadResponse
	err := t.doJSON(ctx, http.MethodPost, "/finalize-upload", req, &resp)
	return resp, err
}

func (t *HTTPTransport) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return t.do(req, out)
}

// errorBody covers both the generic error envelope and the duplicate
// finalize response.
type errorBody struct {
	Message     string `json:"message"`
	IsDuplicate bool   `json:"isDuplicate"`
	FilePath    string `json:"filePath"`
}

func (t *HTTPTransport) do(req *http.Request, out any) error {
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var eb errorBody
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(raw, &eb) != nil {
			eb.Message = strings.TrimSpace(string(raw))
		}
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    eb.Message,
			Duplicate:  eb.IsDuplicate,
			FilePath:   eb.FilePath,
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
