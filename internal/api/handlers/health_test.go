package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ilkin0/chunkup/internal/api/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealth_Live(t *testing.T) {
	h := NewHealthHandler(nil)
	w := httptest.NewRecorder()

	h.Live(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestHealth_Ready(t *testing.T) {
	ok := pingFunc(func(context.Context) error { return nil })
	down := pingFunc(func(context.Context) error { return errors.New("connection refused") })

	tests := []struct {
		name       string
		checks     map[string]Pinger
		wantStatus int
		wantChecks map[string]string
	}{
		{
			name:       "all healthy",
			checks:     map[string]Pinger{"database": ok, "cache": ok},
			wantStatus: http.StatusOK,
			wantChecks: map[string]string{"database": "ok", "cache": "ok"},
		},
		{
			name:       "cache down",
			checks:     map[string]Pinger{"database": ok, "cache": down},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"database": "ok", "cache": "connection refused"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()

			NewHealthHandler(tt.checks).Ready(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			assert.Equal(t, tt.wantStatus, w.Code)
			var resp types.HealthResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantChecks, resp.Checks)
		})
	}
}
