package server

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"shaman/internal/config"
	"shaman/internal/db"
	"shaman/internal/domain"
	"shaman/internal/engine"
	"shaman/internal/identity"
	"shaman/internal/memstore"
	"shaman/internal/migrate"
	"shaman/internal/repo"
	"shaman/internal/store"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, st store.Store) *testServer {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	cfg := config.Default()
	e := engine.New(st, cfg, logger)
	ids := identity.NewProvider(st, cfg, logger)
	ids.Cost = bcrypt.MinCost
	handler, err := New(Config{Engine: e, Identity: ids, BasePath: "/v1", Logger: logger})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Close()
			ln.Close()
		},
	}
	t.Cleanup(testSrv.Close)
	return testSrv
}

func newSQLiteStore(t *testing.T) store.Store {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.New(conn)
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal %s: %v", string(data), err)
	}
	return out
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func expectError(t *testing.T, res *http.Response, data []byte, status int, code string) errorEnvelope {
	t.Helper()
	if res.StatusCode != status {
		t.Fatalf("expected status %d, got %d: %s", status, res.StatusCode, string(data))
	}
	env := decode[errorEnvelope](t, data)
	if env.Error.Code != code {
		t.Fatalf("expected code %s, got %s: %s", code, env.Error.Code, string(data))
	}
	return env
}

func signUp(t *testing.T, srv *testServer, email string) identity.Session {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/signup", map[string]any{
		"email":    email,
		"password": "secret1",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("sign up status %d: %s", res.StatusCode, string(data))
	}
	return decode[identity.Session](t, data)
}

func TestHealthIsPublicAndTasksRequireAuth(t *testing.T) {
	srv := newTestServer(t, memstore.New())
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), "ok") {
		t.Fatalf("health: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/tasks", nil, nil)
	expectError(t, res, data, http.StatusUnauthorized, "unauthorized")
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/tasks", nil, bearer("not-a-token"))
	expectError(t, res, data, http.StatusUnauthorized, "invalid_credentials")
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/tasks", nil, map[string]string{"Authorization": "Basic abc"})
	expectError(t, res, data, http.StatusUnauthorized, "invalid_credentials")
}

func TestAccountFlow(t *testing.T) {
	srv := newTestServer(t, memstore.New())
	client := srv.Client()
	session := signUp(t, srv, "Ada@Example.com")
	if session.Token == "" || session.User.Email != "ada@example.com" {
		t.Fatalf("unexpected session %+v", session)
	}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/auth/signup", map[string]any{
		"email": "ada@example.com", "password": "secret1",
	}, nil)
	env := expectError(t, res, data, http.StatusConflict, identity.CodeEmailInUse)
	if env.Error.Message != "This email is already registered. Please sign in instead." {
		t.Fatalf("unexpected message %q", env.Error.Message)
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/auth/signin", map[string]any{
		"email": "ada@example.com", "password": "wrong-one",
	}, nil)
	env = expectError(t, res, data, http.StatusUnauthorized, identity.CodeWrongPassword)
	if env.Error.Message != "Invalid email or password." {
		t.Fatalf("unexpected message %q", env.Error.Message)
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/auth/reset", map[string]any{"email": "nobody@example.com"}, nil)
	env = expectError(t, res, data, http.StatusNotFound, identity.CodeUserNotFound)
	if env.Error.Message != "No account found with this email address." {
		t.Fatalf("unexpected reset message %q", env.Error.Message)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/auth/signin", map[string]any{
		"email": "ada@example.com", "password": "secret1", "rememberMe": true,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("sign in status %d: %s", res.StatusCode, string(data))
	}
	signedIn := decode[identity.Session](t, data)
	if signedIn.Persistence != identity.PersistDurable {
		t.Fatalf("remember me should be durable, got %s", signedIn.Persistence)
	}

	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v1/me/email-consent", map[string]any{"emailConsent": true}, bearer(signedIn.Token))
	if res.StatusCode != http.StatusOK || !decode[domain.User](t, data).EmailConsent {
		t.Fatalf("consent: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/auth/signout", nil, bearer(signedIn.Token))
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("sign out status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/me", nil, bearer(signedIn.Token))
	expectError(t, res, data, http.StatusUnauthorized, "invalid_credentials")
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/me", nil, bearer(session.Token))
	if res.StatusCode != http.StatusOK || decode[domain.User](t, data).UID != session.User.UID {
		t.Fatalf("other session should stay valid: %d %s", res.StatusCode, string(data))
	}
}

func TestTaskLifecycle(t *testing.T) {
	srv := newTestServer(t, memstore.New())
	client := srv.Client()
	auth := bearer(signUp(t, srv, "ada@example.com").Token)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks", map[string]any{
		"text": "Please book a table for two at Luigi's tonight",
	}, auth)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create from text status %d: %s", res.StatusCode, string(data))
	}
	booking := decode[domain.Task](t, data)
	if booking.Status != domain.StatusPending || booking.Title != "Please book a table for two at Luigi's tonight" ||
		booking.EstimatedTime == nil || *booking.EstimatedTime != "5 mins" {
		t.Fatalf("unexpected text task %+v", booking)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks", map[string]any{
		"title":       "Sign rental agreement",
		"description": "Sign the rental agreement for the new flat",
		"priority":    "high",
		"category":    "document",
	}, auth)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create draft status %d: %s", res.StatusCode, string(data))
	}
	rental := decode[domain.Task](t, data)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks", map[string]any{"description": "no title"}, auth)
	expectError(t, res, data, http.StatusBadRequest, "bad_request")

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/tasks?sort=priority", nil, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(data))
	}
	list := decode[TaskListResponse](t, data)
	if list.Total != 2 || list.Items[0].ID != rental.ID || list.Counts[domain.StatusPending] != 2 {
		t.Fatalf("unexpected list %+v", list)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/tasks?q=luigi", nil, auth)
	if list = decode[TaskListResponse](t, data); list.Total != 1 || list.Items[0].ID != booking.ID {
		t.Fatalf("search: %d %s", res.StatusCode, string(data))
	}

	taskURL := srv.URL + "/v1/tasks/" + booking.ID
	res, data = doJSON(t, client, http.MethodPatch, taskURL, map[string]any{"status": "completed"}, auth)
	if res.StatusCode != http.StatusOK || decode[domain.Task](t, data).Status != domain.StatusCompleted {
		t.Fatalf("complete: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPatch, taskURL, map[string]any{"status": "need-input"}, auth)
	env := expectError(t, res, data, http.StatusConflict, "invalid_transition")
	if env.Error.Details["from"] != "completed" {
		t.Fatalf("expected transition details, got %+v", env.Error.Details)
	}
	res, data = doJSON(t, client, http.MethodPatch, taskURL+"?force=true", map[string]any{
		"status": "need-input", "neededData": "Preferred time",
	}, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("forced update status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPatch, taskURL, map[string]any{}, auth)
	expectError(t, res, data, http.StatusBadRequest, "bad_request")

	res, data = doJSON(t, client, http.MethodPost, taskURL+"/input", map[string]any{"data": "8pm"}, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("provide input status %d: %s", res.StatusCode, string(data))
	}
	answered := decode[domain.Task](t, data)
	if answered.Status != domain.StatusInProgress || answered.NeededData != nil ||
		!strings.HasSuffix(answered.Description, "Provided input: 8pm") {
		t.Fatalf("unexpected answered task %+v", answered)
	}
	res, data = doJSON(t, client, http.MethodPost, taskURL+"/input", map[string]any{"data": "again"}, auth)
	expectError(t, res, data, http.StatusConflict, "invalid_transition")

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/notifications", nil, auth)
	notes := decode[NotificationListResponse](t, data)
	if len(notes.Items) != 2 || notes.Unread != 2 {
		t.Fatalf("expected completion and input notifications, got %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, taskURL+"/restart", nil, auth)
	if res.StatusCode != http.StatusOK || decode[domain.Task](t, data).Status != domain.StatusPending {
		t.Fatalf("restart: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/tasks/stats", nil, auth)
	if stats := decode[map[string]any](t, data); stats["total"] != float64(2) {
		t.Fatalf("stats: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodDelete, taskURL, nil, auth)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, taskURL, nil, auth)
	expectError(t, res, data, http.StatusNotFound, "not_found")
}

func TestTasksAreScopedToOwner(t *testing.T) {
	srv := newTestServer(t, memstore.New())
	client := srv.Client()
	ada := bearer(signUp(t, srv, "ada@example.com").Token)
	bob := bearer(signUp(t, srv, "bob@example.com").Token)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks", map[string]any{"title": "Private"}, ada)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(data))
	}
	id := decode[domain.Task](t, data).ID
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/tasks/"+id, nil, bob)
	expectError(t, res, data, http.StatusNotFound, "not_found")
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/tasks", nil, bob)
	if list := decode[TaskListResponse](t, data); list.Total != 0 || len(list.Items) != 0 {
		t.Fatalf("bob should see nothing: %s", string(data))
	}
}

func TestNotificationEndpoints(t *testing.T) {
	srv := newTestServer(t, memstore.New())
	client := srv.Client()
	auth := bearer(signUp(t, srv, "ada@example.com").Token)
	base := srv.URL + "/v1/notifications"

	res, data := doJSON(t, client, http.MethodPost, base, map[string]any{"title": "Welcome", "actionable": true}, auth)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(data))
	}
	first := decode[domain.Notification](t, data)
	if first.Type != domain.NotifyInfo || first.Read {
		t.Fatalf("unexpected notification %+v", first)
	}
	doJSON(t, client, http.MethodPost, base, map[string]any{"title": "Second", "type": "success"}, auth)

	res, data = doJSON(t, client, http.MethodGet, base+"?filter=actionable", nil, auth)
	if list := decode[NotificationListResponse](t, data); len(list.Items) != 1 || list.Unread != 2 {
		t.Fatalf("actionable filter: %s", string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, base+"/"+first.ID+"/read", nil, auth)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("read status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, base+"/missing/read", nil, auth)
	expectError(t, res, data, http.StatusNotFound, "not_found")
	res, data = doJSON(t, client, http.MethodGet, base+"?filter=unread", nil, auth)
	if list := decode[NotificationListResponse](t, data); len(list.Items) != 1 || list.Unread != 1 {
		t.Fatalf("unread filter: %s", string(data))
	}
	res, _ = doJSON(t, client, http.MethodPost, base+"/read-all", nil, auth)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("read all status %d", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodDelete, base+"/"+first.ID, nil, auth)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status %d", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodDelete, base, nil, auth)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("clear status %d", res.StatusCode)
	}
	res, data = doJSON(t, client, http.MethodGet, base, nil, auth)
	if list := decode[NotificationListResponse](t, data); len(list.Items) != 0 || list.Unread != 0 {
		t.Fatalf("expected empty list: %s", string(data))
	}
}

func TestProfileEndpoints(t *testing.T) {
	srv := newTestServer(t, memstore.New())
	client := srv.Client()
	auth := bearer(signUp(t, srv, "ada@example.com").Token)

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/profile", nil, auth)
	expectError(t, res, data, http.StatusNotFound, "not_found")
	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v1/profile", map[string]any{
		"fullName": "John Doe",
		"address":  map[string]any{"city": "Springfield"},
	}, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("save status %d: %s", res.StatusCode, string(data))
	}
	saved := decode[domain.ProfileData](t, data)
	if saved.Address.Country != domain.DefaultCountry || saved.UpdatedAt == "" {
		t.Fatalf("unexpected profile %+v", saved)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/profile", nil, auth)
	if res.StatusCode != http.StatusOK || decode[domain.ProfileData](t, data).FullName != "John Doe" {
		t.Fatalf("get profile: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v1/profile", map[string]any{"fullName": "   "}, auth)
	expectError(t, res, data, http.StatusBadRequest, "bad_request")
}

func TestStoreOutageIsReportedGenerically(t *testing.T) {
	mem := memstore.New()
	srv := newTestServer(t, mem)
	auth := bearer(signUp(t, srv, "ada@example.com").Token)
	mem.Fail = errors.New("connection refused")

	// Sessions are checked against the store, so an outage surfaces there first.
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/tasks", nil, auth)
	env := expectError(t, res, data, http.StatusServiceUnavailable, "store_unavailable")
	if env.Error.Message != "failed to verify session, please try again" {
		t.Fatalf("unexpected message %q", env.Error.Message)
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/tasks", map[string]any{"title": "x"}, auth)
	expectError(t, res, data, http.StatusServiceUnavailable, "store_unavailable")
	if strings.Contains(string(data), "connection refused") {
		t.Fatalf("backend error leaked: %s", string(data))
	}
}

func TestSignOutHoldsAcrossServers(t *testing.T) {
	st := newSQLiteStore(t)
	first := newTestServer(t, st)
	session := signUp(t, first, "ada@example.com")
	res, data := doJSON(t, first.Client(), http.MethodPost, first.URL+"/v1/auth/signout", nil, bearer(session.Token))
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("sign out status %d: %s", res.StatusCode, string(data))
	}
	second := newTestServer(t, st)
	res, data = doJSON(t, second.Client(), http.MethodGet, second.URL+"/v1/me", nil, bearer(session.Token))
	expectError(t, res, data, http.StatusUnauthorized, "invalid_credentials")
}

func TestLongPasswordSignUp(t *testing.T) {
	srv := newTestServer(t, memstore.New())
	password := strings.Repeat("p", 100)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/signup", map[string]any{
		"email": "long@example.com", "password": password,
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("sign up status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/signin", map[string]any{
		"email": "long@example.com", "password": password,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("sign in status %d: %s", res.StatusCode, string(data))
	}
}

func TestEventsEndpoint(t *testing.T) {
	srv := newTestServer(t, newSQLiteStore(t))
	client := srv.Client()
	auth := bearer(signUp(t, srv, "ada@example.com").Token)
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks", map[string]any{"title": "Audit me"}, auth)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/events?limit=1", nil, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(data))
	}
	page := decode[paginatedEvents](t, data)
	if len(page.Items) != 1 || page.Items[0].Type != "task.created" || page.NextCursor == "" {
		t.Fatalf("unexpected first page %s", string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/events?cursor="+page.NextCursor, nil, auth)
	page = decode[paginatedEvents](t, data)
	if len(page.Items) != 1 || page.Items[0].Type != "user.created" {
		t.Fatalf("unexpected second page %s", string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/events?cursor=abc", nil, auth)
	expectError(t, res, data, http.StatusBadRequest, "bad_request")

	mem := newTestServer(t, memstore.New())
	memAuth := bearer(signUp(t, mem, "ada@example.com").Token)
	res, data = doJSON(t, mem.Client(), http.MethodGet, mem.URL+"/v1/events", nil, memAuth)
	expectError(t, res, data, http.StatusNotImplemented, "not_implemented")
}

func TestTaskStream(t *testing.T) {
	srv := newTestServer(t, memstore.New())
	session := signUp(t, srv, "ada@example.com")

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/v1/tasks/stream?access_token="+session.Token, nil)
	if err != nil {
		t.Fatal(err)
	}
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	if res.StatusCode != http.StatusOK {
		t.Fatalf("stream status %d", res.StatusCode)
	}
	lines := make(chan string, 16)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(res.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	next := func() TaskSnapshot {
		t.Helper()
		timeout := time.After(5 * time.Second)
		for {
			select {
			case line, ok := <-lines:
				if !ok {
					t.Fatalf("stream closed")
				}
				if data, found := strings.CutPrefix(line, "data: "); found {
					return decode[TaskSnapshot](t, []byte(data))
				}
			case <-timeout:
				t.Fatalf("no snapshot received")
			}
		}
	}

	if first := next(); len(first.Tasks) != 0 {
		t.Fatalf("expected empty first snapshot, got %d", len(first.Tasks))
	}
	r, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/tasks", map[string]any{"title": "Streamed"}, bearer(session.Token))
	if r.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", r.StatusCode, string(data))
	}
	if second := next(); len(second.Tasks) != 1 || second.Tasks[0].Title != "Streamed" {
		t.Fatalf("unexpected snapshot %+v", second)
	}

	res.Body.Close()
	deadline := time.Now().Add(5 * time.Second)
	for srv.Engine.Tasks.Count(session.User.UID) != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscription not released after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCreateTaskAcceptsFullDraft(t *testing.T) {
	srv := newTestServer(t, memstore.New())
	auth := bearer(signUp(t, srv, "ada@example.com").Token)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/tasks", map[string]any{
		"title":            "Renew passport",
		"status":           "need-input",
		"progress":         30,
		"agentId":          "agent-7",
		"agentLabel":       "Forms agent",
		"agentDescription": "Fills government forms",
		"is_error":         true,
		"errorMessage":     "portal timed out",
		"completedAt":      "2024-05-01T10:00:00+02:00",
		"completionProof":  map[string]any{"type": "screenshot", "summary": "form page"},
		"neededData":       "Passport number",
		"startTime":        1714550400000,
	}, auth)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(data))
	}
	task := decode[domain.Task](t, data)
	if task.Progress == nil || *task.Progress != 30 || task.AgentID == nil || *task.AgentID != "agent-7" ||
		!task.HasError() || task.ErrorMessage == nil || task.CompletionProof == nil ||
		task.NeededData == nil || task.StartTime == nil || *task.StartTime != 1714550400000 {
		t.Fatalf("draft fields dropped: %s", string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/tasks", map[string]any{
		"title": "x", "progress": 140,
	}, auth)
	expectError(t, res, data, http.StatusBadRequest, "bad_request")
}

func firstSnapshot(t *testing.T, srv *testServer, url string) TaskSnapshot {
	t.Helper()
	res, err := srv.Client().Get(url)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("stream status %d", res.StatusCode)
	}
	scanner := bufio.NewScanner(res.Body)
	for scanner.Scan() {
		if data, found := strings.CutPrefix(scanner.Text(), "data: "); found {
			return decode[TaskSnapshot](t, []byte(data))
		}
	}
	t.Fatalf("stream closed before a snapshot: %v", scanner.Err())
	return TaskSnapshot{}
}

func TestTaskErrorStream(t *testing.T) {
	srv := newTestServer(t, memstore.New())
	session := signUp(t, srv, "ada@example.com")
	for _, body := range []map[string]any{
		{"title": "Fine"},
		{"title": "Broken", "is_error": true, "errorMessage": "captcha"},
	} {
		if res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/tasks", body, bearer(session.Token)); res.StatusCode != http.StatusCreated {
			t.Fatalf("create status %d: %s", res.StatusCode, string(data))
		}
	}
	base := srv.URL + "/v1/tasks/stream?access_token=" + session.Token
	if all := firstSnapshot(t, srv, base); len(all.Tasks) != 2 {
		t.Fatalf("expected both tasks, got %+v", all.Tasks)
	}
	failed := firstSnapshot(t, srv, base+"&errors=true")
	if len(failed.Tasks) != 1 || failed.Tasks[0].Title != "Broken" {
		t.Fatalf("expected only the failed task, got %+v", failed.Tasks)
	}
}

func TestOpenAPIDocumentIsPublic(t *testing.T) {
	srv := newTestServer(t, memstore.New())
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("openapi status %d: %s", res.StatusCode, string(data))
	}
	doc := decode[map[string]any](t, data)
	paths, _ := doc["paths"].(map[string]any)
	if _, ok := paths["/v1/tasks/{task_id}"]; !ok {
		t.Fatalf("missing task route in %v", paths)
	}
}
