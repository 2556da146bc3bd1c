package web

// errors.go maps pipeline and store errors onto HTTP responses. The full
// technical error is logged with the request ID; clients get a concise
// message with the failed stage when one is known. Server-side faults
// never echo internal detail such as connection strings or key material.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/calyptra/etlvault/internal/cipher"
	"github.com/calyptra/etlvault/internal/codec"
	"github.com/calyptra/etlvault/internal/pipeline"
	"github.com/calyptra/etlvault/internal/schema"
	"github.com/calyptra/etlvault/internal/store"
)

// ErrorResponse is the JSON body for every error status.
type ErrorResponse struct {
	Error   string   `json:"error"`
	Stage   string   `json:"stage,omitempty"`
	Missing []string `json:"missing_columns,omitempty"`
	Extra   []string `json:"unexpected_columns,omitempty"`
}

// respondError classifies err, logs it, and writes the mapped response.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := classify(err)

	slog.Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"request_id", chimw.GetReqID(r.Context()),
	)

	resp := ErrorResponse{Error: msg}

	var stageErr *pipeline.StageError
	if errors.As(err, &stageErr) {
		resp.Stage = string(stageErr.Stage)
	}

	var mismatch *schema.MismatchError
	if errors.As(err, &mismatch) {
		resp.Missing = mismatch.Missing
		resp.Extra = mismatch.Extra
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// classify picks the status code and the client-safe message for err.
func classify(err error) (int, string) {
	var parseErr *codec.ParseError
	var mismatch *schema.MismatchError

	switch {
	case errors.Is(err, codec.ErrUnsupportedFormat):
		return http.StatusBadRequest, "unsupported file format, expected .csv or .xlsx"
	case errors.As(err, &parseErr):
		return http.StatusBadRequest, "file could not be parsed"
	case errors.As(err, &mismatch):
		return http.StatusBadRequest, "column headers do not match the expected schema"
	case errors.Is(err, store.ErrUnknownRole):
		return http.StatusBadRequest, "unknown role"
	case errors.Is(err, store.ErrDeleteNotPermitted):
		return http.StatusForbidden, "role is not permitted to delete"
	case errors.Is(err, store.ErrDuplicateKey):
		return http.StatusConflict, "duplicate id, batch rolled back"
	case errors.Is(err, store.ErrConnection):
		return http.StatusBadGateway, "database unavailable"
	case errors.Is(err, cipher.ErrDecryptionFailed):
		return http.StatusInternalServerError, "stored data could not be decrypted"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// writeError writes a bare JSON error without classification, for cases
// where the handler already knows the status and message.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message})
}
