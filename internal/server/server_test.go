package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/esnunes/tcgen/internal/backend"
	"github.com/esnunes/tcgen/internal/db"
	"github.com/esnunes/tcgen/internal/identity"
	"github.com/esnunes/tcgen/internal/models"
	"github.com/esnunes/tcgen/internal/notify"
	"github.com/esnunes/tcgen/internal/poller"
	"github.com/esnunes/tcgen/internal/registry"
	"github.com/esnunes/tcgen/internal/workflow"
)

// fakeBackend records every request and answers from a per-path table.
type fakeBackend struct {
	mu        sync.Mutex
	requests  []recorded
	responses map[string]fakeResponse
}

type recorded struct {
	Method string
	Path   string
	Body   []byte
	Header http.Header
}

type fakeResponse struct {
	status int
	body   string
	header map[string]string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{responses: map[string]fakeResponse{
		"GET /edge_functional_tests/edge_func_TC/latest_completed_job": {status: 200, body: `{"status":"idle"}`},
	}}
}

func (f *fakeBackend) on(method, path string, status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[method+" "+path] = fakeResponse{status: status, body: body}
}

func (f *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.requests = append(f.requests, recorded{Method: r.Method, Path: r.URL.Path, Body: body, Header: r.Header.Clone()})
	resp, ok := f.responses[r.Method+" "+r.URL.Path]
	f.mu.Unlock()

	if !ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, `{"status":"success","message":"ok"}`)
		return
	}
	for k, v := range resp.header {
		w.Header().Set(k, v)
	}
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(resp.status)
	io.WriteString(w, resp.body)
}

// last returns the most recent request to path.
func (f *fakeBackend) last(path string) (recorded, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.requests) - 1; i >= 0; i-- {
		if f.requests[i].Path == path {
			return f.requests[i], true
		}
	}
	return recorded{}, false
}

func (f *fakeBackend) count(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.requests {
		if r.Path == path {
			n++
		}
	}
	return n
}

type testEnv struct {
	srv     *Server
	queries *db.Queries
	fake    *fakeBackend
	board   *notify.Board
	poller  *poller.Poller
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	queries := db.NewQueries(database)

	fake := newFakeBackend()
	fakeSrv := httptest.NewServer(fake)
	t.Cleanup(fakeSrv.Close)

	client := backend.New(fakeSrv.URL, fakeSrv.URL, 5*time.Second)
	board := notify.NewBoard(queries)
	p := poller.New(client, board, poller.Options{Interval: time.Second, Location: time.UTC})
	t.Cleanup(p.Stop)

	srv, err := New(Deps{
		Queries:  queries,
		Registry: registry.Load(queries),
		Backend:  client,
		Board:    board,
		Poller:   p,
	}, Options{ListenAddr: "127.0.0.1:0", VisualizerURL: "http://viz.local/graphrag-visualizer"})
	require.NoError(t, err)

	return &testEnv{srv: srv, queries: queries, fake: fake, board: board, poller: p}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) get(path string) *httptest.ResponseRecorder {
	return e.do(httptest.NewRequest(http.MethodGet, path, nil))
}

func (e *testEnv) postForm(path string, values url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return e.do(req)
}

type upload struct {
	field, name, content string
}

func (e *testEnv) postMultipart(t *testing.T, path string, values map[string]string, files ...upload) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range values {
		require.NoError(t, mw.WriteField(k, v))
	}
	for _, f := range files {
		fw, err := mw.CreateFormFile(f.field, f.name)
		require.NoError(t, err)
		_, err = io.WriteString(fw, f.content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return e.do(req)
}

func TestPagesRender(t *testing.T) {
	env := newTestEnv(t)

	rec := env.get("/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "No Jira project yet")
	assert.Contains(t, rec.Body.String(), "/graphs/Business-Domain/create")

	rec = env.get("/tcgen")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), backend.FormatNaturalLanguage)
	assert.Contains(t, rec.Body.String(), "/static/app.js")

	rec = env.get("/static/app.js")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestConnectValidationSkipsBackend(t *testing.T) {
	env := newTestEnv(t)

	rec := env.postForm("/settings/connect", url.Values{"server_url": {"https://x.atlassian.net"}, "username": {"a@b.com"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Jira project is required.")
	assert.Contains(t, rec.Body.String(), "status-failed")
	assert.Zero(t, env.fake.count("/api/jira/upload-jira-credentials"))
}

func TestConnectRecordsConnection(t *testing.T) {
	env := newTestEnv(t)

	rec := env.postForm("/settings/connect", url.Values{
		"server_url":  {" https://x.atlassian.net "},
		"username":    {"a@b.com"},
		"project_key": {"proj"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Connected and saved!")
	assert.Equal(t, "projects-changed", rec.Header().Get("HX-Trigger"))

	req, ok := env.fake.last("/api/jira/upload-jira-credentials")
	require.True(t, ok)
	var body map[string]string
	require.NoError(t, json.Unmarshal(req.Body, &body))
	userID, err := identity.GetOrCreate(env.queries)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"jira_server_url":  "https://x.atlassian.net",
		"jira_username":    "a@b.com",
		"jira_project_key": "PROJ",
		"user_id":          userID,
	}, body)

	rec = env.get("/projects/options")
	assert.Contains(t, rec.Body.String(), `<option value="PROJ">PROJ</option>`)
	assert.NotContains(t, rec.Body.String(), "No Jira project yet")

	rec = env.get("/api/projects")
	assert.JSONEq(t, `{"projectKeys":["PROJ"]}`, rec.Body.String())

	// Persisted for the next start.
	assert.Equal(t, []string{"PROJ"}, registry.Load(env.queries).AllProjectKeys())
}

func TestConnectFailureShowsBackendDetail(t *testing.T) {
	env := newTestEnv(t)
	env.fake.on(http.MethodPost, "/api/jira/upload-jira-credentials", http.StatusUnauthorized, `{"detail":"Invalid Jira token"}`)

	rec := env.postForm("/settings/connect", url.Values{
		"server_url":  {"https://x.atlassian.net"},
		"username":    {"a@b.com"},
		"project_key": {"PROJ"},
	})
	assert.Contains(t, rec.Body.String(), "Invalid Jira token")
	assert.Empty(t, env.srv.registry.AllProjectKeys())
}

func TestRemoveConnection(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.srv.registry.AddOrUpdateConfig("https://x.atlassian.net", "a", "PROJ"))

	rec := env.postForm("/settings/remove", url.Values{"server_url": {"HTTPS://X.ATLASSIAN.NET"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "No saved connections.")
	assert.Empty(t, env.srv.registry.Configs())
}

func TestCombinedUpload(t *testing.T) {
	env := newTestEnv(t)
	env.fake.on(http.MethodPost, "/api/files/documents/upload", http.StatusOK, `{
		"status": "success",
		"results": {
			"spec_files": {"saved_files": ["a.pdf"], "errors": [], "total": 1, "successful": 1},
			"business_domain_files": {"saved_files": [], "errors": [{"filename": "b.exe", "reason": "unsupported type"}], "total": 1, "successful": 0}
		},
		"summary": {"total_files": 2, "total_successful": 1, "total_failed": 1, "categories_processed": 2}
	}`)

	rec := env.postMultipart(t, "/documents/upload", map[string]string{"project_key": "proj"},
		upload{"spec_files", "a.pdf", "spec"},
		upload{"business_domain_files", "b.exe", "bin"},
	)
	body := rec.Body.String()
	assert.Contains(t, body, "Successfully uploaded 1 of 2 file(s).")
	assert.Contains(t, body, "Specification: 1/1 saved")
	assert.Contains(t, body, "Business domain: b.exe rejected (unsupported type)")

	req, ok := env.fake.last("/api/files/documents/upload")
	require.True(t, ok)
	assert.Contains(t, string(req.Body), `name="jira_project_key"`)
	assert.Contains(t, string(req.Body), "PROJ")
	assert.Contains(t, string(req.Body), `filename="a.pdf"`)
}

func TestCombinedUploadRequiresFiles(t *testing.T) {
	env := newTestEnv(t)

	rec := env.postMultipart(t, "/documents/upload", map[string]string{"project_key": "PROJ"})
	assert.Contains(t, rec.Body.String(), "Please select at least one file to upload.")
	assert.Zero(t, env.fake.count("/api/files/documents/upload"))
}

func TestTestCaseHistoryNeedsFileOrProject(t *testing.T) {
	env := newTestEnv(t)

	rec := env.postMultipart(t, "/test-cases/upload", nil)
	assert.Contains(t, rec.Body.String(), "Please provide a file or select a Jira project.")

	rec = env.postMultipart(t, "/test-cases/upload", nil, upload{"file", "history.xlsx", "x"})
	assert.Contains(t, rec.Body.String(), "status-done")
	assert.Equal(t, 1, env.fake.count("/api/files/test-cases/upload"))
}

func TestGraphRoutes(t *testing.T) {
	env := newTestEnv(t)

	rec := env.postForm("/graphs/user-stories/create", url.Values{})
	assert.Contains(t, rec.Body.String(), "Jira project is required.")
	assert.Zero(t, env.fake.count("/api/graphs/user-stories/create"))

	rec = env.postForm("/graphs/spec/create", url.Values{"project_key": {"PROJ"}})
	assert.Contains(t, rec.Body.String(), "Graph created successfully!")
	assert.Equal(t, 1, env.fake.count("/api/graphs/spec/create/PROJ"))

	rec = env.get("/graphs/user-stories/visualize?project_key=proj")
	assert.Contains(t, rec.Body.String(), "graphId=us_graph")
	assert.Contains(t, rec.Body.String(), "projectId=PROJ")

	rec = env.postForm("/graphs/unknown/create", url.Values{})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.postForm("/graphs/spec/update", url.Values{})
	assert.Equal(t, http.StatusNotFound, rec.Code, "only user stories and test cases graphs update")

	rec = env.do(httptest.NewRequest(http.MethodDelete, "/graphs/spec", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, env.fake.count("/api/graphs/spec"))
}

func TestUserStoriesUpload(t *testing.T) {
	env := newTestEnv(t)

	rec := env.postMultipart(t, "/user-stories/upload", map[string]string{"project_key": "PROJ", "sprint": "S1"})
	assert.Contains(t, rec.Body.String(), "Please upload a file or fill in")
	assert.Zero(t, env.fake.count("/files/user-stories-to-generate/upload"))

	rec = env.postMultipart(t, "/user-stories/upload", map[string]string{
		"project_key":             "PROJ",
		"source_state_field_name": "To Do",
		"target_state_field_name": "Ready",
		"sprint":                  "S1",
		"assignee":                "alice",
	})
	assert.Contains(t, rec.Body.String(), "status-done")
	req, ok := env.fake.last("/files/user-stories-to-generate/upload")
	require.True(t, ok)
	assert.Contains(t, string(req.Body), "Ready")
}

func TestUserStoriesImport(t *testing.T) {
	env := newTestEnv(t)
	env.fake.on(http.MethodPost, "/files/user-stories-to-generate/import/PROJ/"+mustUserID(t, env), http.StatusOK,
		`{"total_user_stories": 12, "data_source": "jira"}`)

	rec := env.postForm("/user-stories/import", url.Values{"project_key": {"proj"}})
	assert.Contains(t, rec.Body.String(), "Imported 12 user stories from jira.")
}

func TestSelectFormat(t *testing.T) {
	env := newTestEnv(t)

	rec := env.postForm("/generation/format", url.Values{"format": {"Gherkin"}})
	assert.Contains(t, rec.Body.String(), "Please select a test case format.")

	rec = env.postForm("/generation/format", url.Values{"format": {backend.FormatGherkinPlain}})
	assert.Contains(t, rec.Body.String(), "Format sent successfully!")
	req, ok := env.fake.last("/files/selected-format/upload")
	require.True(t, ok)
	var body map[string]string
	require.NoError(t, json.Unmarshal(req.Body, &body))
	assert.Equal(t, backend.FormatGherkinPlain, body["format"])
}

func TestLaunchShowsAcknowledgement(t *testing.T) {
	env := newTestEnv(t)
	userID := mustUserID(t, env)
	env.fake.on(http.MethodPost, "/edge_functional_tests/edge_func_TC/generate/"+userID, http.StatusOK,
		`{"started_at": "2024-01-01T10:00:00Z", "status": "pending"}`)

	rec := env.postForm("/generation/launch", url.Values{})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Request launched at 10:00:00")
	assert.Contains(t, rec.Body.String(), "notification-info")

	history, err := env.queries.ListNotifications(10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.NotificationInfo, history[0].Kind)
}

func TestLaunchFailure(t *testing.T) {
	env := newTestEnv(t)
	env.fake.on(http.MethodPost, "/edge_functional_tests/edge_func_TC/generate/"+mustUserID(t, env), http.StatusInternalServerError, `{}`)

	rec := env.postForm("/generation/launch", url.Values{})
	assert.Contains(t, rec.Body.String(), "Failed to launch request")
	assert.Contains(t, rec.Body.String(), "notification-failure")
}

func TestDownload(t *testing.T) {
	env := newTestEnv(t)
	env.fake.on(http.MethodGet, "/files/edge-functional/download/"+mustUserID(t, env), http.StatusOK, "PK-workbook")

	rec := env.get("/generation/download")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="Generated_TC_file.xlsx"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "PK-workbook", rec.Body.String())
}

func TestClearIdentityIssuesNewToken(t *testing.T) {
	env := newTestEnv(t)
	before := mustUserID(t, env)

	rec := env.postForm("/settings/clear-identity", url.Values{})
	assert.Equal(t, http.StatusSeeOther, rec.Code)

	_, ok, err := identity.Get(env.queries)
	require.NoError(t, err)
	assert.False(t, ok)

	rec = env.get("/api/identity")
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body["userId"], 8)
	assert.NotEqual(t, before, body["userId"])
}

func TestNotificationHistory(t *testing.T) {
	env := newTestEnv(t)
	env.board.Show(models.NotificationSuccess, "first", time.Minute)
	env.board.Show(models.NotificationFailure, "second", time.Minute)

	rec := env.get("/notification")
	assert.Contains(t, rec.Body.String(), "second")
	assert.NotContains(t, rec.Body.String(), "first")

	rec = env.get("/notifications/history?limit=1")
	assert.Contains(t, rec.Body.String(), "second")
	assert.NotContains(t, rec.Body.String(), "first")

	rec = env.get("/notifications/history?limit=zero")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebSocketViewersDrivePoller(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.srv.Handler())
	defer ts.Close()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	first, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	second, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	assert.Eventually(t, env.poller.Running, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		env.srv.viewersMu.Lock()
		defer env.srv.viewersMu.Unlock()
		return env.srv.viewers == 2
	}, 2*time.Second, 10*time.Millisecond)

	env.board.Show(models.NotificationSuccess, "Request launched at 10:00:00 is finished!", time.Minute)
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg wsMessage
	require.NoError(t, first.ReadJSON(&msg))
	assert.Equal(t, "show", msg.Type)
	assert.Equal(t, "success", msg.Kind)
	assert.Equal(t, "Request launched at 10:00:00 is finished!", msg.Message)

	first.Close()
	time.Sleep(100 * time.Millisecond)
	assert.True(t, env.poller.Running(), "poller keeps running while a viewer remains")

	second.Close()
	assert.Eventually(t, func() bool { return !env.poller.Running() }, 2*time.Second, 10*time.Millisecond)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rec := env.get("/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","poller_running":false}`, rec.Body.String())

	env.fake.on(http.MethodGet, "/edge_functional_tests/edge_func_TC/latest_completed_job", http.StatusOK,
		`{"status":"completed","started_at":"2024-01-01T10:00:00Z"}`)
	require.True(t, env.poller.Poll(context.Background()))

	rec = env.get("/healthz")
	assert.JSONEq(t, `{"status":"ok","poller_running":false,"last_seen_job":"2024-01-01T10:00:00Z"}`, rec.Body.String())
}

func TestInvalidSubmitKeepsRunningActionBusy(t *testing.T) {
	env := newTestEnv(t)
	key := workflow.Key("settings", "connect")
	require.NoError(t, env.srv.tracker.Begin(key))

	rec := env.postForm("/settings/connect", url.Values{"server_url": {"https://x.atlassian.net"}, "username": {"a@b.com"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Already in progress, please wait.")
	assert.Contains(t, rec.Body.String(), `aria-busy="true"`)

	assert.True(t, env.srv.tracker.Get(key).Busy())
	assert.ErrorIs(t, env.srv.tracker.Begin(key), workflow.ErrInProgress)
	assert.Zero(t, env.fake.count("/api/jira/upload-jira-credentials"))
}

func TestInvalidSubmitDoesNotRecordState(t *testing.T) {
	env := newTestEnv(t)
	key := workflow.Key("settings", "connect")

	rec := env.postForm("/settings/connect", url.Values{"username": {"a@b.com"}})
	assert.Contains(t, rec.Body.String(), "status-failed")
	assert.Equal(t, workflow.Idle, env.srv.tracker.Get(key).Phase)
}

func mustUserID(t *testing.T, env *testEnv) string {
	t.Helper()
	id, err := identity.GetOrCreate(env.queries)
	require.NoError(t, err)
	return id
}
