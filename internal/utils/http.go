package utils

import (
	"encoding/json"
	"errors"
	"net/http"
)

var errTrailingData = errors.New("unexpected data after JSON body")

type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// WriteJSON encodes v as the response body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	json.NewEncoder(w).Encode(v)
}

func Ok(w http.ResponseWriter, v any) {
	WriteJSON(w, http.StatusOK, v)
}

func Created(w http.ResponseWriter, v any) {
	WriteJSON(w, http.StatusCreated, v)
}

func Error(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, APIResponse{
		Success: false,
		Message: msg,
	})
}

// DecodeJSON reads a JSON body into v, rejecting unknown trailing data.
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errTrailingData
	}
	return nil
}
