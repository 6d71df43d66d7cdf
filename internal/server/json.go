package server

import (
	"encoding/json"
	"errors"
	"net/http"
)

// maxDocumentBytes caps every request body the store accepts.
const maxDocumentBytes = 4 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// readJSON decodes a size-capped body into v.
func readJSON(w http.ResponseWriter, r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxDocumentBytes)).Decode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeStoreError maps a Store error to a response. what names the missing
// document in 404 bodies.
func writeStoreError(w http.ResponseWriter, err error, what string) {
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, what+" not found")
		return
	}
	writeError(w, http.StatusInternalServerError, "internal error")
}
