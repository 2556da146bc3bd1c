package web

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/calyptra/etlvault/internal/codec"
	"github.com/calyptra/etlvault/internal/schema"
	"github.com/calyptra/etlvault/internal/store"
	"github.com/calyptra/etlvault/internal/validate"
)

// handleHealth reports service and database status. The probe runs under
// the requested role's login, defaulting to analyst, the least privileged
// of the three.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	role, err := store.ParseRole(r.URL.Query().Get("role"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	if err := s.service.Health(r.Context(), role); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":   "degraded",
			"database": "down",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"database": "up",
	})
}

// handleTestUpload is a dry run of the ingest path: parse, schema gate,
// and row validation, with nothing written or encrypted. It lets callers
// vet a file before spending an authenticated upload on it.
func (s *Server) handleTestUpload(w http.ResponseWriter, r *http.Request) {
	filename, data, err := s.readUploadFile(w, r)
	if err != nil {
		return // readUploadFile already responded
	}

	batch, err := codec.Parse(filename, data)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	if err := schema.Check(batch.Columns); err != nil {
		s.respondError(w, r, err)
		return
	}

	v := &validate.Validator{StrictIP: s.cfg.Validation.StrictIP}
	accepted, rejected := v.Partition(batch)

	writeJSON(w, http.StatusOK, map[string]any{
		"filename":   filename,
		"total_rows": len(batch.Rows),
		"valid":      len(accepted.Rows),
		"rejected":   len(rejected),
	})
}

// handleIngest accepts a multipart upload and runs it through the full
// write path under the caller's role.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	filename, data, err := s.readUploadFile(w, r)
	if err != nil {
		return
	}

	role, err := store.ParseRole(r.FormValue("role"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	result, err := s.service.Ingest(r.Context(), role, filename, data)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleDisplayRows returns stored rows under the caller's role. Analysts
// read the masked view; manager and admin read decrypted values.
func (s *Server) handleDisplayRows(w http.ResponseWriter, r *http.Request) {
	role, err := store.ParseRole(r.URL.Query().Get("role"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	limit := store.DefaultReadLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			writeError(w, http.StatusBadRequest, "limit must be an integer between 1 and 100")
			return
		}
		limit = n
	}

	rows, err := s.service.Display(r.Context(), role, limit)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"role":  string(role),
		"count": len(rows),
		"rows":  rows,
	})
}

// handleDeleteAll removes every stored row. Only the admin role passes the
// gateway's policy check.
func (s *Server) handleDeleteAll(w http.ResponseWriter, r *http.Request) {
	role, err := store.ParseRole(r.URL.Query().Get("role"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	if err := s.service.DeleteAll(r.Context(), role); err != nil {
		s.respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// readUploadFile extracts the uploaded file from a multipart request,
// enforcing the configured size cap. On failure it writes the error
// response itself and returns a non-nil error.
func (s *Server) readUploadFile(w http.ResponseWriter, r *http.Request) (string, []byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Upload.MaxFileSize)

	if err := r.ParseMultipartForm(s.cfg.Upload.MaxFileSize); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "file exceeds the maximum upload size")
			return "", nil, err
		}
		writeError(w, http.StatusBadRequest, "request is not valid multipart form data")
		return "", nil, err
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return "", nil, err
	}
	defer file.Close()

	if header.Filename == "" {
		writeError(w, http.StatusBadRequest, "uploaded file has no filename")
		return "", nil, errors.New("empty filename")
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read uploaded file")
		return "", nil, err
	}

	return header.Filename, data, nil
}
