package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dbchat/dbchat/internal/assistant"
	"github.com/dbchat/dbchat/internal/chat"
	"github.com/dbchat/dbchat/internal/config"
	"github.com/dbchat/dbchat/internal/export"
	"github.com/dbchat/dbchat/internal/llm"
	"github.com/dbchat/dbchat/internal/query"
	"github.com/dbchat/dbchat/internal/query/sqldb"
	"github.com/dbchat/dbchat/internal/schema"
	"github.com/dbchat/dbchat/internal/storage"
)

type scriptedLLM struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	calls     int
}

func (s *scriptedLLM) Complete(_ context.Context, _ llm.Request) (llm.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return llm.Response{}, s.errs[i]
	}
	if i < len(s.responses) {
		return llm.Response{Text: s.responses[i]}, nil
	}
	return llm.Response{}, errors.New("unexpected call")
}

type fakeExecutor struct {
	result query.Result
	closed bool
}

func (f *fakeExecutor) Execute(context.Context, query.Request) (query.Result, error) {
	return f.result, nil
}

func (f *fakeExecutor) Close() error {
	f.closed = true
	return nil
}

type fakeConnector struct {
	err      error
	executor *fakeExecutor
	settings []sqldb.Settings
}

func (f *fakeConnector) Connect(_ context.Context, settings sqldb.Settings) (*chat.Connection, error) {
	f.settings = append(f.settings, settings)
	if f.err != nil {
		return nil, f.err
	}
	if f.executor == nil {
		f.executor = &fakeExecutor{}
	}
	return &chat.Connection{
		Settings: settings,
		Executor: f.executor,
		Schema: schema.Descriptor{Dialect: settings.Dialect, Tables: []schema.Table{{
			Name:    "Artist",
			Columns: []schema.Column{{Name: "ArtistId", Type: "int"}, {Name: "Name", Type: "varchar(120)", Nullable: true}},
		}}},
		SchemaText: "CREATE TABLE Artist (\n\tArtistId int NOT NULL,\n\tName varchar(120)\n)",
	}, nil
}

type recordingStore struct {
	keys []string
	err  error
}

func (s *recordingStore) Put(_ context.Context, key string, body io.Reader, _ int64, _ storage.PutOptions) (storage.ObjectInfo, error) {
	if s.err != nil {
		return storage.ObjectInfo{}, s.err
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	s.keys = append(s.keys, key)
	return storage.ObjectInfo{Key: key, Size: int64(len(raw))}, nil
}

func (s *recordingStore) Ping(context.Context) error { return s.err }

func TestHealthEndpoint(t *testing.T) {
	h := NewHandler(testConfig(t), Dependencies{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if rr.Header().Get("X-Trace-ID") == "" {
		t.Fatal("expected X-Trace-ID header")
	}
}

func TestReadyEndpointReturns503WhenDependencyFails(t *testing.T) {
	h := NewHandler(testConfig(t), Dependencies{
		Readiness: func(rctx context.Context) error {
			return errors.New("dependency down")
		},
	})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/ready", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeMap(t, rr)
	if body["error_code"] != "NOT_READY" || body["retryable"] != true {
		t.Fatalf("body = %#v", body)
	}
}

func TestMetricsEndpointServesPrometheusText(t *testing.T) {
	h := NewHandler(testConfig(t), Dependencies{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "go_goroutines") {
		t.Fatalf("unexpected metrics body: %.200s", rr.Body.String())
	}
}

func TestCombineReadinessChecksStopsOnFirstFailure(t *testing.T) {
	order := make([]int, 0, 3)
	combined := CombineReadinessChecks(
		func(_ context.Context) error {
			order = append(order, 1)
			return nil
		},
		nil,
		func(_ context.Context) error {
			order = append(order, 2)
			return errors.New("boom")
		},
		func(_ context.Context) error {
			order = append(order, 3)
			return nil
		},
	)

	err := combined(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("execution order = %#v", order)
	}
}

func TestUIHandlerServesNonAPIRoutes(t *testing.T) {
	h := NewHandler(testConfig(t), Dependencies{
		UI: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = io.WriteString(w, "<html>ok</html>")
		}),
	})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/chat", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
}

func TestCreateSessionStartsWithGreeting(t *testing.T) {
	h := NewHandler(testConfig(t), Dependencies{Store: chat.NewStore()})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/sessions", nil))
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}

	var view sessionView
	if err := json.Unmarshal(rr.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if view.ID == "" || view.Connected {
		t.Fatalf("view = %#v", view)
	}
	if len(view.Messages) != 1 || view.Messages[0].Text != chat.Greeting {
		t.Fatalf("messages = %#v", view.Messages)
	}
}

func TestCreateSessionAutoConnectsDefaultDatabase(t *testing.T) {
	connector := &fakeConnector{}
	defaults := sqldb.Settings{Dialect: sqldb.MySQL, Host: "localhost", Port: 3306, User: "root", Database: "chinook"}
	h := NewHandler(testConfig(t), Dependencies{
		Store:           chat.NewStore(),
		Connector:       connector,
		DefaultDatabase: &defaults,
	})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/sessions", nil))
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
	var view sessionView
	if err := json.Unmarshal(rr.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !view.Connected || view.Connection == nil || view.Connection.Tables[0] != "Artist" {
		t.Fatalf("view = %#v", view)
	}
	if len(connector.settings) != 1 || connector.settings[0].Database != "chinook" {
		t.Fatalf("connect settings = %#v", connector.settings)
	}
}

func TestCreateSessionReportsDefaultConnectFailure(t *testing.T) {
	defaults := sqldb.Settings{Dialect: sqldb.MySQL, Host: "localhost", Database: "chinook"}
	h := NewHandler(testConfig(t), Dependencies{
		Store:           chat.NewStore(),
		Connector:       &fakeConnector{err: errors.New("dial tcp: connection refused")},
		DefaultDatabase: &defaults,
	})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/sessions", nil))
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d", rr.Code)
	}
	var view sessionView
	if err := json.Unmarshal(rr.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if view.Connected || !strings.Contains(view.ConnectError, "connection refused") {
		t.Fatalf("view = %#v", view)
	}
}

func TestListSessionsOrdersByCreation(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store := chat.NewStoreWithClock(func() time.Time {
		now = now.Add(time.Second)
		return now
	})
	first := store.Create()
	second := store.Create()
	if err := second.SetConnection(&chat.Connection{Executor: &fakeExecutor{}}); err != nil {
		t.Fatalf("SetConnection() error = %v", err)
	}
	h := NewHandler(testConfig(t), Dependencies{Store: store})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/sessions", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
	var body struct {
		Sessions []sessionSummary `json:"sessions"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Sessions) != 2 {
		t.Fatalf("sessions = %#v", body.Sessions)
	}
	if body.Sessions[0].ID != first.ID || body.Sessions[0].Connected {
		t.Fatalf("first = %#v", body.Sessions[0])
	}
	if body.Sessions[1].ID != second.ID || !body.Sessions[1].Connected || body.Sessions[1].Messages != 1 {
		t.Fatalf("second = %#v", body.Sessions[1])
	}
}

func TestUnknownSessionReturns404(t *testing.T) {
	h := NewHandler(testConfig(t), Dependencies{Store: chat.NewStore()})

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/v1/sessions/missing", nil),
		httptest.NewRequest(http.MethodDelete, "/v1/sessions/missing", nil),
		httptest.NewRequest(http.MethodPost, "/v1/sessions/missing/messages", strings.NewReader(`{"text":"hi"}`)),
	} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusNotFound {
			t.Fatalf("%s %s status = %d", req.Method, req.URL.Path, rr.Code)
		}
		if body := decodeMap(t, rr); body["error_code"] != "SESSION_NOT_FOUND" {
			t.Fatalf("body = %#v", body)
		}
	}
}

func TestConnectAttachesConnectionAndSchema(t *testing.T) {
	store := chat.NewStore()
	session := store.Create()
	connector := &fakeConnector{}
	h := NewHandler(testConfig(t), Dependencies{Store: store, Connector: connector})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/sessions/"+session.ID+"/connect",
		strings.NewReader(`{"host":"localhost","port":3306,"user":"root","password":"pw","database":"chinook"}`)))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
	if strings.Contains(rr.Body.String(), "pw") {
		t.Fatalf("response leaks password: %s", rr.Body.String())
	}
	if connector.settings[0].Dialect != sqldb.MySQL || connector.settings[0].Password != "pw" {
		t.Fatalf("settings = %#v", connector.settings[0])
	}
	if session.Connection() == nil {
		t.Fatal("expected session to be connected")
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/sessions/"+session.ID+"/schema", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("schema status = %d", rr.Code)
	}
	body := decodeMap(t, rr)
	if !strings.Contains(body["text"].(string), "CREATE TABLE Artist") {
		t.Fatalf("schema body = %#v", body)
	}
}

func TestConnectRejectsInvalidSettings(t *testing.T) {
	store := chat.NewStore()
	session := store.Create()
	connector := &fakeConnector{}
	h := NewHandler(testConfig(t), Dependencies{Store: store, Connector: connector})

	for _, payload := range []string{
		`{"dialect":"oracle","host":"db","database":"x"}`,
		`{"dialect":"mysql","host":"","database":""}`,
		`{"unknown":true}`,
		`not json`,
	} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/sessions/"+session.ID+"/connect", strings.NewReader(payload)))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("payload %s status = %d", payload, rr.Code)
		}
	}
	if len(connector.settings) != 0 {
		t.Fatalf("connector called with %#v", connector.settings)
	}
}

func TestConnectFailureReturns502(t *testing.T) {
	store := chat.NewStore()
	session := store.Create()
	h := NewHandler(testConfig(t), Dependencies{
		Store:     store,
		Connector: &fakeConnector{err: errors.New("access denied")},
	})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/sessions/"+session.ID+"/connect",
		strings.NewReader(`{"dsn":"root:pw@tcp(localhost:3306)/chinook"}`)))
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", rr.Code)
	}
	if body := decodeMap(t, rr); body["error_code"] != "CONNECT_FAILED" {
		t.Fatalf("body = %#v", body)
	}
}

func TestMessageWithoutConnectionReturns409AndKeepsTranscript(t *testing.T) {
	store := chat.NewStore()
	session := store.Create()
	h := NewHandler(testConfig(t), Dependencies{
		Store:     store,
		Assistant: assistant.New(&scriptedLLM{}, assistant.Config{}, nil, nil),
	})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/sessions/"+session.ID+"/messages", strings.NewReader(`{"text":"How many artists?"}`)))
	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeMap(t, rr)
	if body["error_code"] != "DB_NOT_CONNECTED" || body["message"] != assistant.NotConnectedMessage {
		t.Fatalf("body = %#v", body)
	}
	if len(session.Transcript()) != 1 {
		t.Fatalf("transcript = %#v", session.Transcript())
	}
}

func TestMessageRunsTurn(t *testing.T) {
	store := chat.NewStore()
	session := store.Create()
	connector := &fakeConnector{executor: &fakeExecutor{result: query.Result{Columns: []string{"n"}, Rows: [][]any{{int64(275)}}}}}
	conn, _ := connector.Connect(context.Background(), sqldb.Settings{Dialect: sqldb.MySQL})
	if err := session.SetConnection(conn); err != nil {
		t.Fatalf("SetConnection() error = %v", err)
	}
	model := &scriptedLLM{responses: []string{"SELECT COUNT(*) AS n FROM Artist;", "There are 275 artists."}}
	h := NewHandler(testConfig(t), Dependencies{
		Store:     store,
		Assistant: assistant.New(model, assistant.Config{}, nil, nil),
	})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/sessions/"+session.ID+"/messages", strings.NewReader(`{"text":"How many artists are there?"}`)))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
	var resp messageResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Turn != 1 || resp.Assistant != "There are 275 artists." || resp.SQL != "SELECT COUNT(*) AS n FROM Artist;" {
		t.Fatalf("response = %#v", resp)
	}
	if resp.Error != nil || resp.Result == nil || len(resp.Result.Rows) != 1 {
		t.Fatalf("response = %#v", resp)
	}
	if len(session.Transcript()) != 3 {
		t.Fatalf("transcript length = %d", len(session.Transcript()))
	}
}

func TestMessageQuotaFailureIsTurnNot5xx(t *testing.T) {
	store := chat.NewStore()
	session := store.Create()
	conn, _ := (&fakeConnector{}).Connect(context.Background(), sqldb.Settings{Dialect: sqldb.MySQL})
	_ = session.SetConnection(conn)
	model := &scriptedLLM{errs: []error{&llm.StatusError{Provider: "gemini", StatusCode: http.StatusTooManyRequests}}}
	h := NewHandler(testConfig(t), Dependencies{
		Store:     store,
		Assistant: assistant.New(model, assistant.Config{}, nil, nil),
	})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/sessions/"+session.ID+"/messages", strings.NewReader(`{"text":"How many artists are there?"}`)))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp messageResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Assistant != assistant.GenericErrorMessage {
		t.Fatalf("assistant = %q", resp.Assistant)
	}
	if resp.Error == nil || resp.Error.Code != assistant.CodeQuotaExceeded || !resp.Error.Retryable {
		t.Fatalf("error = %#v", resp.Error)
	}
}

func TestMessageRejectsEmptyText(t *testing.T) {
	store := chat.NewStore()
	session := store.Create()
	h := NewHandler(testConfig(t), Dependencies{
		Store:     store,
		Assistant: assistant.New(&scriptedLLM{}, assistant.Config{}, nil, nil),
	})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/sessions/"+session.ID+"/messages", strings.NewReader(`{"text":"   "}`)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestDeleteSessionClosesConnection(t *testing.T) {
	store := chat.NewStore()
	session := store.Create()
	connector := &fakeConnector{}
	conn, _ := connector.Connect(context.Background(), sqldb.Settings{Dialect: sqldb.MySQL})
	_ = session.SetConnection(conn)
	h := NewHandler(testConfig(t), Dependencies{Store: store})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/v1/sessions/"+session.ID, nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rr.Code)
	}
	if !connector.executor.closed {
		t.Fatal("expected executor to be closed")
	}
	if store.Len() != 0 {
		t.Fatalf("store.Len() = %d", store.Len())
	}
}

func TestExportDisabledAndEnabled(t *testing.T) {
	store := chat.NewStore()
	session := store.Create()

	h := NewHandler(testConfig(t), Dependencies{Store: store})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/sessions/"+session.ID+"/export", nil))
	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("disabled status = %d", rr.Code)
	}

	objects := &recordingStore{}
	h = NewHandler(testConfig(t), Dependencies{Store: store, Exporter: export.NewExporter(objects)})
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/sessions/"+session.ID+"/export", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("enabled status = %d, body=%s", rr.Code, rr.Body.String())
	}
	if len(objects.keys) != 1 || !strings.HasSuffix(objects.keys[0], "transcript.json") {
		t.Fatalf("keys = %#v", objects.keys)
	}

	h = NewHandler(testConfig(t), Dependencies{Store: store, Exporter: export.NewExporter(&recordingStore{err: errors.New("bucket gone")})})
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/sessions/"+session.ID+"/export", nil))
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("failing status = %d", rr.Code)
	}
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("dbchat-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	return cfg
}

func decodeMap(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	return body
}

func mapLookup(values map[string]string) config.LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
