package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

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

type recordingPrinter struct {
	mu   sync.Mutex
	hits []*request.Hit
}

func (p *recordingPrinter) PrintHit(hit *request.Hit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hits = append(p.hits, hit)
	return nil
}

func (p *recordingPrinter) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.hits)
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Host:         "127.0.0.1",
			Port:         3000,
			MockPrefix:   "/mock",
			AdminPath:    "/admin/api",
			MaxBodyBytes: 64,
		},
		Storage: config.StorageConfig{Driver: "memory", RetentionDays: 30},
	}
}

func newTestServer(t *testing.T) (*Server, storage.Store, *recordingPrinter) {
	t.Helper()
	cfg := testConfig()
	store, err := storage.New(&cfg.Storage, noopLogger{})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	p := &recordingPrinter{}
	return New(cfg, noopLogger{}, store, p), store, p
}

func serve(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func createEndpoint(t *testing.T, store storage.Store, raw string) *mock.Endpoint {
	t.Helper()
	var def mock.Definition
	require.NoError(t, json.Unmarshal([]byte(raw), &def))
	endpoint, err := store.Endpoints().Create(context.Background(), def)
	require.NoError(t, err)
	return endpoint
}

func TestDispatch_Miss(t *testing.T) {
	srv, store, p := newTestServer(t)
	router := srv.Router()

	rr := serve(t, router, http.MethodGet, "/mock/foo", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.JSONEq(t, `{"error":"Mock endpoint not found","message":"No mock configured for GET /foo"}`, rr.Body.String())

	entries, err := store.AccessLogs().FindRecent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, entries)

	srv.procWG.Wait()
	assert.Zero(t, p.count())
}

func TestDispatch_HitWithDelay(t *testing.T) {
	srv, store, p := newTestServer(t)
	router := srv.Router()
	endpoint := createEndpoint(t, store, `{"path":"/foo","method":"GET","status_code":201,"delay":50,"content_type":"text/plain","response_body":"hi"}`)

	start := time.Now()
	rr := serve(t, router, http.MethodGet, "/mock/foo?x=1", "")
	elapsed := time.Since(start)

	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, "hi", rr.Body.String())
	assert.Equal(t, "text/plain", rr.Header().Get("Content-Type"))
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)

	entries, err := store.AccessLogs().FindByEndpoint(context.Background(), endpoint.ID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "/foo", entries[0].Path)
	assert.Equal(t, "GET", entries[0].Method)
	assert.JSONEq(t, `{"x":"1"}`, entries[0].QueryParams)

	srv.procWG.Wait()
	require.Equal(t, 1, p.count())
	assert.Equal(t, 50, p.hits[0].DelayMs)
	assert.Equal(t, entries[0].ID, p.hits[0].Entry.ID)
}

func TestDispatch_MethodIsCaseInsensitive(t *testing.T) {
	srv, store, _ := newTestServer(t)
	createEndpoint(t, store, `{"path":"/items","method":"post","response_body":{"ok":true}}`)

	rr := serve(t, srv.Router(), "post", "/mock/items", `{"name":"x"}`)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, `{"ok":true}`, rr.Body.String())
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	entries, err := store.AccessLogs().FindRecent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].RequestBody)
	assert.Equal(t, "POST", entries[0].Method)
}

func TestDispatch_InvalidStoredJSON(t *testing.T) {
	srv, store, _ := newTestServer(t)
	createEndpoint(t, store, `{"path":"/broken","method":"GET","response_body":"not json"}`)

	rr := serve(t, srv.Router(), http.MethodGet, "/mock/broken", "")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)

	var payload errorPayload
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload))
	assert.Equal(t, "Internal server error", payload.Error)
}

func TestDispatch_Headers(t *testing.T) {
	srv, store, _ := newTestServer(t)
	createEndpoint(t, store, `{
		"path":"/h","method":"GET","content_type":"text/csv","response_body":"a,b",
		"response_headers":{"X-One":"1","x-one":"2","Content-Type":"text/html","X-Num":5}
	}`)

	rr := serve(t, srv.Router(), http.MethodGet, "/mock/h", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "2", rr.Header().Get("X-One"))
	assert.Equal(t, "5", rr.Header().Get("X-Num"))
	assert.Equal(t, "text/csv", rr.Header().Get("Content-Type"))
	assert.Equal(t, "a,b", rr.Body.String())
}

func TestDispatch_BodyTooLarge(t *testing.T) {
	srv, store, _ := newTestServer(t)
	createEndpoint(t, store, `{"path":"/upload","method":"POST"}`)

	rr := serve(t, srv.Router(), http.MethodPost, "/mock/upload", strings.Repeat("x", 65))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)

	entries, err := store.AccessLogs().FindRecent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDispatch_ClientGoneDuringDelay(t *testing.T) {
	srv, store, _ := newTestServer(t)
	createEndpoint(t, store, `{"path":"/slow","method":"GET","delay":5000}`)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/mock/slow", nil).WithContext(ctx)
	rr := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		srv.Router().ServeHTTP(rr, req)
		close(done)
	}()

	require.Eventually(t, func() bool {
		entries, _ := store.AccessLogs().FindRecent(context.Background(), 10)
		return len(entries) == 1
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler did not return after client went away")
	}
	assert.False(t, rr.Flushed)
	assert.Empty(t, rr.Body.String())
}

type failingLogs struct {
	storage.AccessLogStore
}

func (failingLogs) Create(context.Context, *request.AccessLog) (*request.AccessLog, error) {
	return nil, errors.New("disk full")
}

type panickingLogs struct {
	storage.AccessLogStore
}

func (panickingLogs) Create(context.Context, *request.AccessLog) (*request.AccessLog, error) {
	panic("boom")
}

func TestDispatch_LogFailuresDoNotChangeResponse(t *testing.T) {
	for name, logs := range map[string]storage.AccessLogStore{
		"error": failingLogs{},
		"panic": panickingLogs{},
	} {
		t.Run(name, func(t *testing.T) {
			srv, store, p := newTestServer(t)
			createEndpoint(t, store, `{"path":"/ok","method":"GET","status_code":202}`)
			srv.handler.logs = logs

			rr := serve(t, srv.Router(), http.MethodGet, "/mock/ok", "")
			assert.Equal(t, http.StatusAccepted, rr.Code)
			assert.Equal(t, "{}", rr.Body.String())

			srv.procWG.Wait()
			require.Equal(t, 1, p.count())
			assert.Equal(t, "/ok", p.hits[0].Entry.Path)
		})
	}
}

type panickingEndpoints struct {
	storage.EndpointStore
}

func (panickingEndpoints) FindByPathAndMethod(context.Context, string, string) (*mock.Endpoint, error) {
	panic("lookup exploded")
}

func TestDispatch_RecoversFromPanic(t *testing.T) {
	srv, _, _ := newTestServer(t)
	srv.handler.endpoints = panickingEndpoints{}

	rr := serve(t, srv.Router(), http.MethodGet, "/mock/anything", "")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.JSONEq(t, `{"error":"Internal server error","message":"lookup exploded"}`, rr.Body.String())
}

func TestDispatch_ConcurrentDelaysDoNotSerialize(t *testing.T) {
	srv, store, _ := newTestServer(t)
	createEndpoint(t, store, `{"path":"/slow","method":"GET","delay":100}`)
	router := srv.Router()

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			serve(t, router, http.MethodGet, "/mock/slow", "")
		}()
	}
	wg.Wait()
	assert.Less(t, time.Since(start), 400*time.Millisecond)
}

func TestMockPath(t *testing.T) {
	h := &Handler{config: &HandlerConfig{MockPrefix: "/mock"}}
	assert.Equal(t, "/foo", h.mockPath("/mock/foo"))
	assert.Equal(t, "/", h.mockPath("/mock/"))
	assert.Equal(t, "/a//b", h.mockPath("/mock/a//b"))
}

func TestDispatch_StringLiteralBodyAfterReimport(t *testing.T) {
	srv, store, _ := newTestServer(t)
	createEndpoint(t, store, `{"path":"/s","method":"GET","response_body":"\"hello\""}`)
	ctx := context.Background()

	for _, format := range []string{mock.FormatJSON, mock.FormatYAML} {
		exported, err := store.Endpoints().ExportAll(ctx)
		require.NoError(t, err)
		doc, err := mock.EncodeDocument(exported, format)
		require.NoError(t, err)
		defs, err := mock.ParseDefinitions(doc, format)
		require.NoError(t, err)
		_, err = store.Endpoints().ImportEndpoints(ctx, defs)
		require.NoError(t, err)

		rr := serve(t, srv.Router(), http.MethodGet, "/mock/s", "")
		assert.Equal(t, http.StatusOK, rr.Code, format)
		assert.Equal(t, `"hello"`, rr.Body.String(), format)
	}
	srv.procWG.Wait()
}
