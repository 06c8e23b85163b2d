package webapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/materials-commons/mcload/pkg/chunkstore"
	"github.com/materials-commons/mcload/pkg/mcdb/mcmodel"
	"github.com/materials-commons/mcload/pkg/mcdb/stor"
	"github.com/materials-commons/mcload/pkg/merge"
	"github.com/materials-commons/mcload/pkg/sniff"
	"github.com/materials-commons/mcload/pkg/upload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupEchoContext creates a test Echo context with the given request
func setupEchoContext(t *testing.T, method, target string, body []byte, queryParams map[string]string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()

	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)

	q := req.URL.Query()
	for key, value := range queryParams {
		q.Add(key, value)
	}
	req.URL.RawQuery = q.Encode()

	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

type testServer struct {
	coordinator *upload.Coordinator
	service     *upload.Service
	merger      *merge.Reassembler
}

func newTestServer(t *testing.T) *testServer {
	root := t.TempDir()
	chunks := chunkstore.New(filepath.Join(root, "staging"))
	merger := merge.New(chunks, filepath.Join(root, "files"))
	s := stor.NewInMemoryFileMappingStor()

	return &testServer{
		coordinator: upload.NewCoordinator(chunks, merger, s),
		service:     upload.NewService(s, sniff.New()),
		merger:      merger,
	}
}

func chunkParams(key string, index, total int) map[string]string {
	return map[string]string{
		"upload_key": key,
		"conn_id":    "4",
		"name":       "people.csv",
		"index":      strconv.Itoa(index),
		"total":      strconv.Itoa(total),
	}
}

func decodeResult(t *testing.T, rec *httptest.ResponseRecorder) upload.UploadResult {
	var result upload.UploadResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	return result
}

func TestUploadChunk(t *testing.T) {
	ts := newTestServer(t)
	controller := NewUploadController(ts.coordinator)

	t.Run("ChunksMerge", func(t *testing.T) {
		ctx, rec := setupEchoContext(t, http.MethodPost, "/api/uploads/chunk", []byte("1,2\n"), chunkParams("k1", 1, 2))
		require.NoError(t, controller.UploadChunk(ctx))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, upload.StatusPending, decodeResult(t, rec).Status)

		ctx, rec = setupEchoContext(t, http.MethodPost, "/api/uploads/chunk", []byte("a,b\n"), chunkParams("k1", 0, 2))
		require.NoError(t, controller.UploadChunk(ctx))
		assert.Equal(t, http.StatusOK, rec.Code)

		result := decodeResult(t, rec)
		assert.Equal(t, upload.StatusSuccess, result.Status)
		assert.NotZero(t, result.ID)
		assert.Equal(t, int64(8), result.Size)

		data, err := os.ReadFile(ts.merger.FinalPath("k1"))
		require.NoError(t, err)
		assert.Equal(t, "a,b\n1,2\n", string(data))
	})

	t.Run("MissingParameters", func(t *testing.T) {
		params := chunkParams("k2", 0, 1)
		delete(params, "index")
		ctx, rec := setupEchoContext(t, http.MethodPost, "/api/uploads/chunk", []byte("x"), params)
		require.NoError(t, controller.UploadChunk(ctx))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "Invalid index")

		params = chunkParams("", 0, 1)
		ctx, rec = setupEchoContext(t, http.MethodPost, "/api/uploads/chunk", []byte("x"), params)
		require.NoError(t, controller.UploadChunk(ctx))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "upload_key is required")
	})

	t.Run("IndexOutOfRange", func(t *testing.T) {
		ctx, rec := setupEchoContext(t, http.MethodPost, "/api/uploads/chunk", []byte("x"), chunkParams("k3", 3, 3))
		require.NoError(t, controller.UploadChunk(ctx))
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		result := decodeResult(t, rec)
		assert.Equal(t, upload.StatusFailure, result.Status)
		assert.NotEmpty(t, result.Cause)
	})

	t.Run("ChunkTooLarge", func(t *testing.T) {
		limited := NewUploadController(ts.coordinator)
		limited.MaxChunkBytes = 4

		ctx, rec := setupEchoContext(t, http.MethodPost, "/api/uploads/chunk", []byte("0123456789"), chunkParams("k4", 0, 2))
		require.NoError(t, limited.UploadChunk(ctx))
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})
}

func TestGetUploadStatus(t *testing.T) {
	ts := newTestServer(t)
	controller := NewUploadController(ts.coordinator)

	ctx, _ := setupEchoContext(t, http.MethodPost, "/api/uploads/chunk", []byte("abc"), chunkParams("k1", 0, 3))
	require.NoError(t, controller.UploadChunk(ctx))

	ctx, rec := setupEchoContext(t, http.MethodGet, "/api/uploads/status", nil, map[string]string{"upload_key": "k1", "total": "3"})
	require.NoError(t, controller.GetUploadStatus(ctx))
	assert.Equal(t, http.StatusOK, rec.Code)

	result := decodeResult(t, rec)
	assert.Equal(t, upload.StatusPending, result.Status)
	assert.Equal(t, 1, result.ChunkCount)
	assert.Equal(t, int64(3), result.Size)

	ctx, rec = setupEchoContext(t, http.MethodGet, "/api/uploads/status", nil, map[string]string{"upload_key": "k1", "total": "x"})
	require.NoError(t, controller.GetUploadStatus(ctx))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	ctx, rec = setupEchoContext(t, http.MethodGet, "/api/uploads/pending", nil, nil)
	require.NoError(t, controller.ListPendingUploads(ctx))
	assert.Equal(t, http.StatusOK, rec.Code)

	var pending []chunkstore.PendingUpload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pending))
	require.Len(t, pending, 1)
	assert.Equal(t, chunkstore.PendingUpload{UploadKey: "k1", ChunkCount: 1, Bytes: 3}, pending[0])
}

func TestFileMappingController(t *testing.T) {
	ts := newTestServer(t)
	controller := NewFileMappingController(ts.service)

	result := ts.coordinator.UploadFile(context.Background(), 4, "people.csv", bytes.NewBufferString("name;age\nann;41\n"))
	require.Equal(t, upload.StatusSuccess, result.Status, result.Cause)
	id := strconv.Itoa(result.ID)

	t.Run("ExtractColumns", func(t *testing.T) {
		ctx, rec := setupEchoContext(t, http.MethodPost, "/api/files/"+id+"/columns", []byte(`{"delimiter":";"}`), nil)
		ctx.SetParamNames("id")
		ctx.SetParamValues(id)

		require.NoError(t, controller.ExtractColumns(ctx))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var fm mcmodel.FileMapping
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fm))
		assert.Equal(t, []string{"name", "age"}, fm.FileSetting.ColumnNames)
		assert.Equal(t, []string{"ann", "41"}, fm.FileSetting.ColumnValues)
		assert.True(t, fm.FileSetting.HasHeader)
		assert.NotContains(t, rec.Body.String(), ts.merger.FinalPath(result.UploadKey))
	})

	t.Run("ExtractColumnsWithoutHeader", func(t *testing.T) {
		ctx, rec := setupEchoContext(t, http.MethodPost, "/api/files/"+id+"/columns", []byte(`{"delimiter":";","has_header":false}`), nil)
		ctx.SetParamNames("id")
		ctx.SetParamValues(id)

		require.NoError(t, controller.ExtractColumns(ctx))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var fm mcmodel.FileMapping
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fm))
		assert.Equal(t, []string{"col-1", "col-2"}, fm.FileSetting.ColumnNames)
		assert.Equal(t, []string{"name", "age"}, fm.FileSetting.ColumnValues)
	})

	t.Run("ListFileMappings", func(t *testing.T) {
		ctx, rec := setupEchoContext(t, http.MethodGet, "/api/connections/4/files", nil, map[string]string{"page": "1"})
		ctx.SetParamNames("conn_id")
		ctx.SetParamValues("4")

		require.NoError(t, controller.ListFileMappings(ctx))
		require.Equal(t, http.StatusOK, rec.Code)

		var page mcmodel.FileMappingPage
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
		assert.Equal(t, int64(1), page.Total)
		assert.Equal(t, 10, page.PageSize)
	})

	t.Run("ListColumnsShortSampleRow", func(t *testing.T) {
		short := ts.coordinator.UploadFile(context.Background(), 9, "short.csv", bytes.NewBufferString("a;b;c\n1;2\n"))
		require.Equal(t, upload.StatusSuccess, short.Status, short.Cause)
		shortID := strconv.Itoa(short.ID)

		ctx, _ := setupEchoContext(t, http.MethodPost, "/api/files/"+shortID+"/columns", []byte(`{"delimiter":";"}`), nil)
		ctx.SetParamNames("id")
		ctx.SetParamValues(shortID)
		require.NoError(t, controller.ExtractColumns(ctx))

		ctx, rec := setupEchoContext(t, http.MethodGet, "/api/files/"+shortID+"/columns", nil, nil)
		ctx.SetParamNames("id")
		ctx.SetParamValues(shortID)
		require.NoError(t, controller.ListColumns(ctx))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.JSONEq(t, `[{"name":"a","value":"1"},{"name":"b","value":"2"},{"name":"c","value":null}]`, rec.Body.String())

		ctx, rec = setupEchoContext(t, http.MethodGet, "/api/files/999/columns", nil, nil)
		ctx.SetParamNames("id")
		ctx.SetParamValues("999")
		require.NoError(t, controller.ListColumns(ctx))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("GetMissing", func(t *testing.T) {
		ctx, rec := setupEchoContext(t, http.MethodGet, "/api/files/999", nil, nil)
		ctx.SetParamNames("id")
		ctx.SetParamValues("999")

		require.NoError(t, controller.GetFileMapping(ctx))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("Delete", func(t *testing.T) {
		ctx, rec := setupEchoContext(t, http.MethodDelete, "/api/files/"+id, nil, nil)
		ctx.SetParamNames("id")
		ctx.SetParamValues(id)

		require.NoError(t, controller.DeleteFileMapping(ctx))
		assert.Equal(t, http.StatusNoContent, rec.Code)

		_, err := os.Stat(ts.merger.FinalPath(result.UploadKey))
		assert.True(t, os.IsNotExist(err))

		ctx, rec = setupEchoContext(t, http.MethodGet, "/api/files/"+id, nil, nil)
		ctx.SetParamNames("id")
		ctx.SetParamValues(id)
		require.NoError(t, controller.GetFileMapping(ctx))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestRoutes(t *testing.T) {
	ts := newTestServer(t)
	e := echo.New()
	SetupRoutes(e, RouteOpts{Coordinator: ts.coordinator, Service: ts.service, DefaultDelimiter: "|"})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/uploads/start", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var start map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &start))
	key := start["upload_key"]
	require.NoError(t, chunkstore.ValidateKey(key))

	rec = httptest.NewRecorder()
	target := "/api/uploads/chunk?upload_key=" + key + "&conn_id=2&name=a.psv&index=0&total=1"
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, target, bytes.NewBufferString("x|y\n")))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decodeResult(t, rec)
	require.Equal(t, upload.StatusSuccess, result.Status)

	// No delimiter in the body falls back to the configured default.
	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/files/"+strconv.Itoa(result.ID)+"/columns", bytes.NewBufferString(`{"has_header":false}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var fm mcmodel.FileMapping
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fm))
	assert.Equal(t, []string{"x", "y"}, fm.FileSetting.ColumnValues)
	assert.Equal(t, "|", fm.FileSetting.Delimiter)
}
