package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tieubaoca/docrag/types"
	"github.com/tieubaoca/docrag/utils"
)

type fakeDocuments struct {
	err      error
	uploaded map[string]string
	queries  []types.QueryRequest
}

func newFakeDocuments() *fakeDocuments {
	return &fakeDocuments{uploaded: make(map[string]string)}
}

func (f *fakeDocuments) Upload(_ context.Context, r io.Reader, filename string) (*types.UploadResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	f.uploaded[filename] = string(body)
	return &types.UploadResult{
		DocumentID: "doc-1",
		Metadata:   types.DocumentMetadata{FileType: types.FileTypeTXT, Filename: filename, ChunkCount: 1},
	}, nil
}

func (f *fakeDocuments) Update(ctx context.Context, documentID string, r io.Reader, filename string) (*types.UploadResult, error) {
	res, err := f.Upload(ctx, r, filename)
	if err != nil {
		return nil, err
	}
	res.DocumentID = documentID
	return res, nil
}

func (f *fakeDocuments) Delete(_ context.Context, documentID string) error {
	return f.err
}

func (f *fakeDocuments) Query(_ context.Context, req types.QueryRequest) (*types.QueryResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.queries = append(f.queries, req)
	return &types.QueryResult{
		DocumentID: req.DocumentID,
		Matches:    []types.ChunkMatch{{ChunkID: "c-1", DocumentID: req.DocumentID, Content: "hit", Certainty: 0.9}},
	}, nil
}

func (f *fakeDocuments) CrossQuery(_ context.Context, req types.CrossQueryRequest) (*types.CrossQueryResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &types.CrossQueryResponse{Results: []types.DocumentMatches{{DocumentID: "doc-1"}}}, nil
}

func (f *fakeDocuments) ListDocuments(context.Context) ([]types.DocumentInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []types.DocumentInfo{{DocumentID: "doc-1", FileType: types.FileTypeTXT}}, nil
}

func (f *fakeDocuments) GetDocument(_ context.Context, documentID string) (*types.DocumentInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &types.DocumentInfo{DocumentID: documentID, FileType: types.FileTypeTXT}, nil
}

func (f *fakeDocuments) Aggregate(_ context.Context, req types.AggregationRequest) (*types.AggregationResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &types.AggregationResult{DocumentID: req.DocumentID, Field: req.Field, Operation: req.Operation, Result: 42, Source: types.AggregationSourcePrecomputed}, nil
}

func (f *fakeDocuments) History(_ context.Context, documentID string, limit int) ([]*types.IngestionRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []*types.IngestionRecord{{DocumentID: documentID, Operation: types.OperationUpload}}, nil
}

func newTestRouter(docs DocumentService, secret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return NewRouter(docs, nil, RouterConfig{JWTSecret: secret, RequestTimeout: time.Minute})
}

func multipartBody(t *testing.T, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) types.DataResponse {
	t.Helper()
	var res types.DataResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	return res
}

func TestHealth(t *testing.T) {
	router := newTestRouter(newFakeDocuments(), "")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, w.Body.String())
}

func TestUploadAndUpdate(t *testing.T) {
	docs := newFakeDocuments()
	router := newTestRouter(docs, "")

	body, contentType := multipartBody(t, "notes.txt", "hello world")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents/upload", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	res := decodeResponse(t, w)
	assert.True(t, res.Status)
	data := res.Data.(map[string]interface{})
	assert.Equal(t, "doc-1", data["document_id"])
	assert.Equal(t, "Document uploaded successfully", data["message"])
	assert.Equal(t, "hello world", docs.uploaded["notes.txt"])

	body, contentType = multipartBody(t, "notes.txt", "hello again")
	req = httptest.NewRequest(http.MethodPut, "/api/v1/documents/doc-9", body)
	req.Header.Set("Content-Type", contentType)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	data = decodeResponse(t, w).Data.(map[string]interface{})
	assert.Equal(t, "doc-9", data["document_id"])
}

func TestUploadWithoutFile(t *testing.T) {
	router := newTestRouter(newFakeDocuments(), "")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents/upload", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, decodeResponse(t, w).Status)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{types.NewUnsupportedFormatError("xlsx"), http.StatusBadRequest},
		{types.NewValidationError("limit must be between 1 and 20"), http.StatusBadRequest},
		{types.NewNotFoundError("doc-1"), http.StatusNotFound},
		{&types.ExtractionError{FileType: types.FileTypePDF, Err: io.ErrUnexpectedEOF}, http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: %w", types.ErrEmbedding, io.EOF), http.StatusBadGateway},
		{&types.StoreError{Op: "query", Err: io.EOF}, http.StatusServiceUnavailable},
		{io.EOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			docs := newFakeDocuments()
			docs.err = tt.err
			router := newTestRouter(docs, "")

			req := httptest.NewRequest(http.MethodPost, "/api/v1/query", strings.NewReader(`{"query":"q","document_id":"doc-1"}`))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			res := decodeResponse(t, w)
			assert.False(t, res.Status)
			assert.Equal(t, tt.err.Error(), res.Message)
		})
	}
}

func TestQueryRoutes(t *testing.T) {
	docs := newFakeDocuments()
	router := newTestRouter(docs, "")

	tests := []struct {
		method string
		path   string
		body   string
	}{
		{http.MethodPost, "/api/v1/query", `{"query":"q","document_id":"doc-1","limit":3}`},
		{http.MethodPost, "/api/v1/cross-query", `{"query":"q","file_type":"pdf"}`},
		{http.MethodPost, "/api/v1/json-aggregation", `{"document_id":"doc-1","field":"price","operation":"sum"}`},
		{http.MethodGet, "/api/v1/documents", ""},
		{http.MethodGet, "/api/v1/documents/doc-1", ""},
		{http.MethodGet, "/api/v1/documents/doc-1/history?limit=5", ""},
		{http.MethodDelete, "/api/v1/documents/doc-1", ""},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
			assert.True(t, decodeResponse(t, w).Status)
		})
	}

	require.Len(t, docs.queries, 1)
	assert.Equal(t, 3, docs.queries[0].Limit)
}

func TestMalformedBodies(t *testing.T) {
	router := newTestRouter(newFakeDocuments(), "")
	for _, path := range []string{"/api/v1/query", "/api/v1/cross-query", "/api/v1/json-aggregation"} {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{"query":`))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/documents/doc-1/history?limit=zero", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWriteRoutesRequireToken(t *testing.T) {
	router := newTestRouter(newFakeDocuments(), "secret")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/documents/doc-1", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token, err := utils.GenerateToken("secret", "ops", "write", time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/documents/doc-1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/documents", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCorsPreflight(t *testing.T) {
	router := newTestRouter(newFakeDocuments(), "")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/api/v1/query", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
