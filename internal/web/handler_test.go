package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funnyzak/mocktap/internal/config"
	"github.com/funnyzak/mocktap/internal/storage"
	"github.com/funnyzak/mocktap/pkg/mock"
	"github.com/funnyzak/mocktap/pkg/request"
)

// noopLogger implements logger.Logger for tests
type noopLogger struct{}

func (noopLogger) Debug(string, ...interface{}) {}
func (noopLogger) Info(string, ...interface{})  {}
func (noopLogger) Warn(string, ...interface{})  {}
func (noopLogger) Error(string, ...interface{}) {}
func (noopLogger) Fatal(string, ...interface{}) {}

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
}

type testAPI struct {
	t       *testing.T
	router  *mux.Router
	service *Service
	store   storage.Store
}

func newTestAPI(t *testing.T, live bool) *testAPI {
	t.Helper()
	cfg := &config.Config{
		Server: config.ServerConfig{AdminPath: "/admin/api", MockPrefix: "/mock", MaxBodyBytes: 1024},
		Web:    config.WebConfig{LiveEnable: live},
	}
	store, err := storage.New(&config.StorageConfig{Driver: "memory"}, noopLogger{})
	require.NoError(t, err)

	svc := NewService(cfg, store, noopLogger{})
	router := mux.NewRouter()
	svc.RegisterRoutes(router)
	t.Cleanup(func() {
		svc.Close()
		store.Close()
	})
	return &testAPI{t: t, router: router, service: svc, store: store}
}

func (a *testAPI) do(method, path, contentType, body string) (int, apiResponse, *httptest.ResponseRecorder) {
	a.t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rr := httptest.NewRecorder()
	a.router.ServeHTTP(rr, req)

	var resp apiResponse
	if strings.HasPrefix(rr.Header().Get("Content-Type"), contentTypeJSON) {
		require.NoError(a.t, json.Unmarshal(rr.Body.Bytes(), &resp), rr.Body.String())
	}
	return rr.Code, resp, rr
}

type endpointDTO struct {
	ID              string            `json:"id"`
	Path            string            `json:"path"`
	Method          string            `json:"method"`
	StatusCode      int               `json:"status_code"`
	ResponseHeaders map[string]string `json:"response_headers"`
	ResponseBody    interface{}       `json:"response_body"`
	Delay           int               `json:"delay"`
	ContentType     string            `json:"content_type"`
}

func decodeEndpoint(t *testing.T, raw json.RawMessage) endpointDTO {
	t.Helper()
	var e endpointDTO
	require.NoError(t, json.Unmarshal(raw, &e))
	return e
}

func TestAdmin_CreateAndList(t *testing.T) {
	api := newTestAPI(t, false)

	code, resp, _ := api.do(http.MethodPost, "/admin/api/endpoints", contentTypeJSON,
		`{"path":"/users","method":"get","response_body":{"users":[]},"response_headers":{"X-Test":"1"}}`)
	require.Equal(t, http.StatusOK, code)
	require.True(t, resp.Success)
	created := decodeEndpoint(t, resp.Data)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "GET", created.Method)
	assert.Equal(t, 200, created.StatusCode)
	assert.Equal(t, map[string]interface{}{"users": []interface{}{}}, created.ResponseBody)
	assert.Equal(t, map[string]string{"X-Test": "1"}, created.ResponseHeaders)

	code, resp, _ = api.do(http.MethodGet, "/admin/api/endpoints", "", "")
	require.Equal(t, http.StatusOK, code)
	var list []endpointDTO
	require.NoError(t, json.Unmarshal(resp.Data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, created.ID, list[0].ID)

	code, resp, _ = api.do(http.MethodGet, "/admin/api/endpoints/"+created.ID, "", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "/users", decodeEndpoint(t, resp.Data).Path)
}

func TestAdmin_CreateErrors(t *testing.T) {
	api := newTestAPI(t, false)

	tests := []struct {
		name   string
		body   string
		status int
		errMsg string
	}{
		{"missing method", `{"path":"/a"}`, http.StatusBadRequest, "Path and method are required"},
		{"empty body", ``, http.StatusBadRequest, "Path and method are required"},
		{"malformed json", `{"path":`, http.StatusBadRequest, "Invalid JSON body"},
		{"bad status", `{"path":"/a","method":"GET","status_code":42}`, http.StatusBadRequest, "Status code"},
		{"bad headers", `{"path":"/a","method":"GET","response_headers":[1]}`, http.StatusBadRequest, ""},
		{"too large", `{"path":"/a","method":"GET","response_body":"` + strings.Repeat("x", 2048) + `"}`, http.StatusBadRequest, "exceeds"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp, _ := api.do(http.MethodPost, "/admin/api/endpoints", contentTypeJSON, tt.body)
			assert.Equal(t, tt.status, code)
			assert.False(t, resp.Success)
			assert.Contains(t, resp.Error, tt.errMsg)
		})
	}

	code, _, _ := api.do(http.MethodPost, "/admin/api/endpoints", contentTypeJSON, `{"path":"/a","method":"GET"}`)
	require.Equal(t, http.StatusOK, code)
	code, resp, _ := api.do(http.MethodPost, "/admin/api/endpoints", contentTypeJSON, `{"path":"/a","method":"get"}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "Endpoint already exists", resp.Error)
}

func TestAdmin_UpdateAndDelete(t *testing.T) {
	api := newTestAPI(t, false)

	_, resp, _ := api.do(http.MethodPost, "/admin/api/endpoints", contentTypeJSON, `{"path":"/a","method":"GET","response_body":"keep","content_type":"text/plain"}`)
	first := decodeEndpoint(t, resp.Data)
	_, resp, _ = api.do(http.MethodPost, "/admin/api/endpoints", contentTypeJSON, `{"path":"/a","method":"POST"}`)
	second := decodeEndpoint(t, resp.Data)

	code, resp, _ := api.do(http.MethodPut, "/admin/api/endpoints/"+first.ID, contentTypeJSON, `{"status_code":418}`)
	require.Equal(t, http.StatusOK, code)
	updated := decodeEndpoint(t, resp.Data)
	assert.Equal(t, 418, updated.StatusCode)
	assert.Equal(t, "keep", updated.ResponseBody)

	code, resp, _ = api.do(http.MethodPut, "/admin/api/endpoints/"+first.ID, contentTypeJSON, `{"response_body":""}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "", decodeEndpoint(t, resp.Data).ResponseBody)

	// update-induced collision is rejected
	code, resp, _ = api.do(http.MethodPut, "/admin/api/endpoints/"+second.ID, contentTypeJSON, `{"method":"GET"}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.False(t, resp.Success)

	code, _, _ = api.do(http.MethodPut, "/admin/api/endpoints/unknown", contentTypeJSON, `{"status_code":201}`)
	assert.Equal(t, http.StatusNotFound, code)

	code, resp, _ = api.do(http.MethodDelete, "/admin/api/endpoints/"+first.ID, "", "")
	require.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Success)

	code, resp, _ = api.do(http.MethodDelete, "/admin/api/endpoints/"+first.ID, "", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Endpoint not found", resp.Error)

	code, _, _ = api.do(http.MethodGet, "/admin/api/endpoints/"+first.ID, "", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestAdmin_Logs(t *testing.T) {
	api := newTestAPI(t, false)
	ctx := context.Background()

	for _, id := range []string{"ep-1", "ep-2", "ep-1"} {
		_, err := api.store.AccessLogs().Create(ctx, &request.AccessLog{EndpointID: id, Path: "/p", Method: "GET", QueryParams: "{}"})
		require.NoError(t, err)
	}

	code, resp, _ := api.do(http.MethodGet, "/admin/api/logs", "", "")
	require.Equal(t, http.StatusOK, code)
	var entries []request.AccessLog
	require.NoError(t, json.Unmarshal(resp.Data, &entries))
	assert.Len(t, entries, 3)

	_, resp, _ = api.do(http.MethodGet, "/admin/api/logs?endpoint_id=ep-1&limit=1", "", "")
	require.NoError(t, json.Unmarshal(resp.Data, &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "ep-1", entries[0].EndpointID)

	_, resp, _ = api.do(http.MethodGet, "/admin/api/logs?limit=bogus", "", "")
	require.NoError(t, json.Unmarshal(resp.Data, &entries))
	assert.Len(t, entries, 3)
}

func TestAdmin_ExportImport(t *testing.T) {
	api := newTestAPI(t, false)
	api.do(http.MethodPost, "/admin/api/endpoints", contentTypeJSON, `{"path":"/json","method":"GET","response_body":{"a":1}}`)
	api.do(http.MethodPost, "/admin/api/endpoints", contentTypeJSON, `{"path":"/text","method":"POST","response_body":"hi","content_type":"text/plain","delay":5}`)

	code, resp, _ := api.do(http.MethodGet, "/admin/api/export", "", "")
	require.Equal(t, http.StatusOK, code)
	var exported []endpointDTO
	require.NoError(t, json.Unmarshal(resp.Data, &exported))
	require.Len(t, exported, 2)

	// feed the export back in
	doc, err := json.Marshal(map[string]interface{}{"endpoints": json.RawMessage(resp.Data)})
	require.NoError(t, err)
	code, resp, _ = api.do(http.MethodPost, "/admin/api/import", contentTypeJSON, string(doc))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Imported 2 endpoints", resp.Message)

	_, resp, _ = api.do(http.MethodGet, "/admin/api/export", "", "")
	var again []endpointDTO
	require.NoError(t, json.Unmarshal(resp.Data, &again))
	assert.Equal(t, exported, again)

	code, resp, _ = api.do(http.MethodPost, "/admin/api/import", contentTypeJSON, `{"endpoints":{"path":"/x"}}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Endpoints must be an array", resp.Error)

	// a failed import leaves the previous set in place
	code, _, _ = api.do(http.MethodPost, "/admin/api/import", contentTypeJSON, `{"endpoints":[{"path":"/a","method":"GET"},{"path":"/a","method":"GET"}]}`)
	assert.Equal(t, http.StatusConflict, code)
	_, resp, _ = api.do(http.MethodGet, "/admin/api/endpoints", "", "")
	var list []endpointDTO
	require.NoError(t, json.Unmarshal(resp.Data, &list))
	assert.Len(t, list, 2)
}

func TestAdmin_YAMLExportImport(t *testing.T) {
	api := newTestAPI(t, false)
	api.do(http.MethodPost, "/admin/api/endpoints", contentTypeJSON, `{"path":"/json","method":"GET","response_body":{"a":1},"response_headers":{"X-B":"2","X-A":"1"}}`)

	code, _, rr := api.do(http.MethodGet, "/admin/api/export?format=yml", "", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, contentTypeYAML, rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Header().Get("Content-Disposition"), ".yaml")
	yamlDoc := rr.Body.String()
	assert.Contains(t, yamlDoc, "endpoints:")

	code, resp, _ := api.do(http.MethodPost, "/admin/api/import", contentTypeYAML, yamlDoc)
	require.Equal(t, http.StatusOK, code, resp.Error)

	_, resp, _ = api.do(http.MethodGet, "/admin/api/endpoints", "", "")
	var list []endpointDTO
	require.NoError(t, json.Unmarshal(resp.Data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, map[string]interface{}{"a": float64(1)}, list[0].ResponseBody)
	assert.Equal(t, map[string]string{"X-B": "2", "X-A": "1"}, list[0].ResponseHeaders)

	code, _, _ = api.do(http.MethodGet, "/admin/api/export?format=csv", "", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestExportEndpoints(t *testing.T) {
	data, contentType, ext, err := ExportEndpoints(nil, "json")
	require.NoError(t, err)
	assert.Equal(t, contentTypeJSON, contentType)
	assert.Equal(t, "json", ext)
	assert.True(t, bytes.Contains(data, []byte(`"endpoints": []`)), string(data))

	_, _, _, err = ExportEndpoints(nil, "xml")
	assert.Error(t, err)
}

func TestAdmin_RecoversFromPanic(t *testing.T) {
	api := newTestAPI(t, false)
	api.service.endpoints = panickingStore{api.service.endpoints}

	code, resp, _ := api.do(http.MethodGet, "/admin/api/endpoints", "", "")
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.False(t, resp.Success)
	assert.Equal(t, "Internal server error", resp.Error)
}

type panickingStore struct {
	storage.EndpointStore
}

func (panickingStore) FindAll(context.Context) ([]*mock.Endpoint, error) {
	panic("boom")
}
