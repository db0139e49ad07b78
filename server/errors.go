package server

import (
	"encoding/json"
	"errors"
	"net/http"
)

var (
	// ErrBadRequest classifies invalid request bodies.
	ErrBadRequest = errors.New("bad request")
	// ErrBusy is returned when the concurrent run limit is reached.
	ErrBusy = errors.New("too many concurrent conversations")
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
