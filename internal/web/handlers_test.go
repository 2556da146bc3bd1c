package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calyptra/etlvault/internal/config"
	"github.com/calyptra/etlvault/internal/pipeline"
	"github.com/calyptra/etlvault/internal/schema"
	"github.com/calyptra/etlvault/internal/store"
)

const (
	testUser = "svc"
	testPass = "svc-secret"
)

// fakeService satisfies Service with pluggable behavior per test.
type fakeService struct {
	ingestFn func(ctx context.Context, role store.Role, filename string, data []byte) (*pipeline.Result, error)
	readFn   func(ctx context.Context, role store.Role, limit int) ([]store.Row, error)
	deleteFn func(ctx context.Context, role store.Role) error
	pingFn   func(ctx context.Context, role store.Role) error
}

func (f *fakeService) Ingest(ctx context.Context, role store.Role, filename string, data []byte) (*pipeline.Result, error) {
	if f.ingestFn != nil {
		return f.ingestFn(ctx, role, filename, data)
	}
	return &pipeline.Result{Stage: pipeline.StageCommitted}, nil
}

func (f *fakeService) Display(ctx context.Context, role store.Role, limit int) ([]store.Row, error) {
	if f.readFn != nil {
		return f.readFn(ctx, role, limit)
	}
	return nil, nil
}

func (f *fakeService) DeleteAll(ctx context.Context, role store.Role) error {
	if f.deleteFn != nil {
		return f.deleteFn(ctx, role)
	}
	return nil
}

func (f *fakeService) Health(ctx context.Context, role store.Role) error {
	if f.pingFn != nil {
		return f.pingFn(ctx, role)
	}
	return nil
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Server.RequestTimeout = time.Minute
	cfg.Auth.Username = testUser
	cfg.Auth.Password = testPass
	cfg.Upload.MaxFileSize = 1 << 20
	return cfg
}

func newTestServer(svc Service) *Server {
	return NewServer(svc, testConfig())
}

// multipartBody builds a multipart form with one file part and optional
// extra form fields.
func multipartBody(t *testing.T, filename string, content []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if filename != "" {
		part, err := w.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func doRequest(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(&fakeService{})

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/etl"},
		{http.MethodGet, "/display-rows"},
		{http.MethodDelete, "/delete-all"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			rec := doRequest(s, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")
		})
	}
}

func TestAuthWrongCredentials(t *testing.T) {
	s := newTestServer(&fakeService{})

	req := httptest.NewRequest(http.MethodGet, "/display-rows", nil)
	req.SetBasicAuth(testUser, "wrong")
	rec := doRequest(s, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealth(t *testing.T) {
	t.Run("up", func(t *testing.T) {
		s := newTestServer(&fakeService{})

		rec := doRequest(s, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"ok"`)
	})

	t.Run("explicit role", func(t *testing.T) {
		var gotRole store.Role
		s := newTestServer(&fakeService{
			pingFn: func(_ context.Context, role store.Role) error {
				gotRole = role
				return nil
			},
		})

		rec := doRequest(s, httptest.NewRequest(http.MethodGet, "/health?role=admin", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, store.RoleAdmin, gotRole)
	})

	t.Run("unknown role", func(t *testing.T) {
		s := newTestServer(&fakeService{})

		rec := doRequest(s, httptest.NewRequest(http.MethodGet, "/health?role=root", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("database down", func(t *testing.T) {
		s := newTestServer(&fakeService{
			pingFn: func(context.Context, store.Role) error {
				return store.ErrConnection
			},
		})

		rec := doRequest(s, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), `"degraded"`)
	})
}

func TestIngestSuccess(t *testing.T) {
	var gotRole store.Role
	var gotFilename string
	s := newTestServer(&fakeService{
		ingestFn: func(_ context.Context, role store.Role, filename string, data []byte) (*pipeline.Result, error) {
			gotRole = role
			gotFilename = filename
			return &pipeline.Result{
				BatchID:   "batch-1",
				Stage:     pipeline.StageCommitted,
				TotalRows: 2,
				Inserted:  2,
			}, nil
		},
	})

	body, contentType := multipartBody(t, "people.csv", []byte("id,first_name\n"), map[string]string{"role": "manager"})
	req := httptest.NewRequest(http.MethodPost, "/etl", body)
	req.Header.Set("Content-Type", contentType)
	req.SetBasicAuth(testUser, testPass)

	rec := doRequest(s, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, store.RoleManager, gotRole)
	assert.Equal(t, "people.csv", gotFilename)

	var result pipeline.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "batch-1", result.BatchID)
	assert.Equal(t, 2, result.Inserted)
}

func TestIngestDefaultsToAnalyst(t *testing.T) {
	var gotRole store.Role
	s := newTestServer(&fakeService{
		ingestFn: func(_ context.Context, role store.Role, _ string, _ []byte) (*pipeline.Result, error) {
			gotRole = role
			return &pipeline.Result{Stage: pipeline.StageCommitted}, nil
		},
	})

	body, contentType := multipartBody(t, "people.csv", []byte("x"), nil)
	req := httptest.NewRequest(http.MethodPost, "/etl", body)
	req.Header.Set("Content-Type", contentType)
	req.SetBasicAuth(testUser, testPass)

	rec := doRequest(s, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, store.RoleAnalyst, gotRole)
}

func TestIngestMissingFile(t *testing.T) {
	s := newTestServer(&fakeService{})

	body, contentType := multipartBody(t, "", nil, map[string]string{"role": "manager"})
	req := httptest.NewRequest(http.MethodPost, "/etl", body)
	req.Header.Set("Content-Type", contentType)
	req.SetBasicAuth(testUser, testPass)

	rec := doRequest(s, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeError(t, rec).Error, "missing file")
}

func TestIngestUnknownRole(t *testing.T) {
	s := newTestServer(&fakeService{})

	body, contentType := multipartBody(t, "people.csv", []byte("x"), map[string]string{"role": "superuser"})
	req := httptest.NewRequest(http.MethodPost, "/etl", body)
	req.Header.Set("Content-Type", contentType)
	req.SetBasicAuth(testUser, testPass)

	rec := doRequest(s, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeError(t, rec).Error, "unknown role")
}

func TestIngestErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantStage  string
	}{
		{
			name:       "schema mismatch",
			err:        &pipeline.StageError{Stage: pipeline.StageSchemaChecked, Err: &schema.MismatchError{Missing: []string{"email"}, Extra: []string{"phone"}}},
			wantStatus: http.StatusBadRequest,
			wantStage:  "schema_checked",
		},
		{
			name:       "duplicate key",
			err:        &pipeline.StageError{Stage: pipeline.StageCommitted, Err: fmt.Errorf("wrapped: %w", store.ErrDuplicateKey)},
			wantStatus: http.StatusConflict,
			wantStage:  "committed",
		},
		{
			name:       "connection failure",
			err:        &pipeline.StageError{Stage: pipeline.StageCommitted, Err: store.ErrConnection},
			wantStatus: http.StatusBadGateway,
			wantStage:  "committed",
		},
		{
			name:       "unexpected failure",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(&fakeService{
				ingestFn: func(context.Context, store.Role, string, []byte) (*pipeline.Result, error) {
					return nil, tt.err
				},
			})

			body, contentType := multipartBody(t, "people.csv", []byte("x"), nil)
			req := httptest.NewRequest(http.MethodPost, "/etl", body)
			req.Header.Set("Content-Type", contentType)
			req.SetBasicAuth(testUser, testPass)

			rec := doRequest(s, req)
			assert.Equal(t, tt.wantStatus, rec.Code)

			resp := decodeError(t, rec)
			assert.Equal(t, tt.wantStage, resp.Stage)
			if tt.name == "schema mismatch" {
				assert.Equal(t, []string{"email"}, resp.Missing)
				assert.Equal(t, []string{"phone"}, resp.Extra)
			}
			if tt.name == "unexpected failure" {
				assert.NotContains(t, rec.Body.String(), "boom", "internal detail must not leak")
			}
		})
	}
}

func TestDisplayRows(t *testing.T) {
	s := newTestServer(&fakeService{
		readFn: func(_ context.Context, role store.Role, limit int) ([]store.Row, error) {
			assert.Equal(t, store.RoleManager, role)
			assert.Equal(t, 5, limit)
			return []store.Row{{"id": "1", "email": "ada@example.com"}}, nil
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/display-rows?role=manager", nil)
	req.SetBasicAuth(testUser, testPass)

	rec := doRequest(s, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Role  string      `json:"role"`
		Count int         `json:"count"`
		Rows  []store.Row `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "manager", resp.Role)
	assert.Equal(t, 1, resp.Count)
	require.Len(t, resp.Rows, 1)
	assert.Equal(t, "ada@example.com", resp.Rows[0]["email"])
}

func TestDisplayRowsBadLimit(t *testing.T) {
	s := newTestServer(&fakeService{})

	for _, limit := range []string{"0", "-3", "101", "lots"} {
		req := httptest.NewRequest(http.MethodGet, "/display-rows?limit="+limit, nil)
		req.SetBasicAuth(testUser, testPass)

		rec := doRequest(s, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "limit=%s", limit)
	}
}

func TestDeleteAll(t *testing.T) {
	t.Run("admin allowed", func(t *testing.T) {
		s := newTestServer(&fakeService{})

		req := httptest.NewRequest(http.MethodDelete, "/delete-all?role=admin", nil)
		req.SetBasicAuth(testUser, testPass)

		rec := doRequest(s, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"deleted"`)
	})

	t.Run("non-admin forbidden", func(t *testing.T) {
		s := newTestServer(&fakeService{
			deleteFn: func(context.Context, store.Role) error {
				return store.ErrDeleteNotPermitted
			},
		})

		req := httptest.NewRequest(http.MethodDelete, "/delete-all?role=manager", nil)
		req.SetBasicAuth(testUser, testPass)

		rec := doRequest(s, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("unknown role", func(t *testing.T) {
		s := newTestServer(&fakeService{})

		req := httptest.NewRequest(http.MethodDelete, "/delete-all?role=root", nil)
		req.SetBasicAuth(testUser, testPass)

		rec := doRequest(s, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestTestUploadDryRun(t *testing.T) {
	s := newTestServer(&fakeService{})

	csv := "id,first_name,last_name,email,gender,ip_address\n" +
		"1,Ada,Lovelace,ada@example.com,Female,10.0.0.1\n" +
		"2,Bad,Row,broken,Male,10.0.0.2\n"

	body, contentType := multipartBody(t, "people.csv", []byte(csv), nil)
	req := httptest.NewRequest(http.MethodPost, "/test-upload", body)
	req.Header.Set("Content-Type", contentType)

	rec := doRequest(s, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Filename  string `json:"filename"`
		TotalRows int    `json:"total_rows"`
		Valid     int    `json:"valid"`
		Rejected  int    `json:"rejected"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "people.csv", resp.Filename)
	assert.Equal(t, 2, resp.TotalRows)
	assert.Equal(t, 1, resp.Valid)
	assert.Equal(t, 1, resp.Rejected)
}

func TestTestUploadBadExtension(t *testing.T) {
	s := newTestServer(&fakeService{})

	body, contentType := multipartBody(t, "people.txt", []byte("x"), nil)
	req := httptest.NewRequest(http.MethodPost, "/test-upload", body)
	req.Header.Set("Content-Type", contentType)

	rec := doRequest(s, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadTooLarge(t *testing.T) {
	cfg := testConfig()
	cfg.Upload.MaxFileSize = 64
	s := NewServer(&fakeService{}, cfg)

	big := bytes.Repeat([]byte("a"), 1024)
	body, contentType := multipartBody(t, "people.csv", big, nil)
	req := httptest.NewRequest(http.MethodPost, "/etl", body)
	req.Header.Set("Content-Type", contentType)
	req.SetBasicAuth(testUser, testPass)

	rec := doRequest(s, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestSecurityHeaders(t *testing.T) {
	s := newTestServer(&fakeService{})

	rec := doRequest(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}
