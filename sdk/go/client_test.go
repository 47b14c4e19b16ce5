package shamansdk

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"shaman/internal/config"
	"shaman/internal/domain"
	"shaman/internal/engine"
	"shaman/internal/identity"
	"shaman/internal/intake"
	"shaman/internal/memstore"
	"shaman/internal/server"
)

func newTestAPI(t *testing.T) *httptest.Server {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	st := memstore.New()
	cfg := config.Default()
	ids := identity.NewProvider(st, cfg, logger)
	ids.Cost = bcrypt.MinCost
	handler, err := server.New(server.Config{
		Engine:   engine.New(st, cfg, logger),
		Identity: ids,
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestClientSessionAndTasks(t *testing.T) {
	srv := newTestAPI(t)
	ctx := context.Background()
	c := New(srv.URL)

	var mu sync.Mutex
	var seen []string
	stop := c.WatchUser(func(u *domain.User, loading bool) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case loading:
			seen = append(seen, "loading")
		case u == nil:
			seen = append(seen, "signed-out")
		default:
			seen = append(seen, u.Email)
		}
	})
	defer stop()

	if _, err := c.SignUp(ctx, "ana@example.com", "longenough1"); err != nil {
		t.Fatalf("signup: %v", err)
	}
	if c.Token() == "" {
		t.Fatalf("expected a token after signup")
	}

	created, err := c.CreateTaskFromText(ctx, "Fill out the W-9 tax form for the new client", intake.DraftOptions{Priority: domain.PriorityHigh})
	if err != nil {
		t.Fatalf("create from text: %v", err)
	}
	if created.Status != domain.StatusPending || created.Priority != domain.PriorityHigh || created.Title == "" {
		t.Fatalf("unexpected task %+v", created)
	}
	if _, err := c.CreateTask(ctx, domain.TaskDraft{Title: "Book flights", Description: "Lisbon, May"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	list, err := c.ListTasks(ctx, ListOptions{Query: "flights"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if list.Total != 1 || len(list.Items) != 1 || list.Items[0].Title != "Book flights" {
		t.Fatalf("unexpected list %+v", list)
	}
	if list.Counts[domain.StatusPending] != 2 {
		t.Fatalf("expected two pending tasks in counts, got %+v", list.Counts)
	}

	status := domain.StatusInProgress
	updated, err := c.UpdateTask(ctx, created.ID, domain.TaskPatch{Status: &status}, false)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Status != domain.StatusInProgress {
		t.Fatalf("status not applied: %+v", updated)
	}
	back := domain.StatusScheduled
	_, err = c.UpdateTask(ctx, created.ID, domain.TaskPatch{Status: &back}, false)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusConflict || apiErr.Code != "invalid_transition" {
		t.Fatalf("expected invalid_transition, got %v", err)
	}
	if _, err := c.UpdateTask(ctx, created.ID, domain.TaskPatch{Status: &back}, true); err != nil {
		t.Fatalf("forced update: %v", err)
	}

	if err := c.DeleteTask(ctx, created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := c.GetTask(ctx, created.ID); !IsNotFound(err) {
		t.Fatalf("expected not found after delete, got %v", err)
	}

	if err := c.SignOut(ctx); err != nil {
		t.Fatalf("signout: %v", err)
	}
	if _, err := c.ListTasks(ctx, ListOptions{}); err == nil {
		t.Fatalf("expected signed-out client to be rejected")
	}

	mu.Lock()
	got := strings.Join(seen, ",")
	mu.Unlock()
	if got != "loading,ana@example.com,signed-out" {
		t.Fatalf("unexpected user transitions %q", got)
	}
}

func TestClientResume(t *testing.T) {
	srv := newTestAPI(t)
	ctx := context.Background()
	first := New(srv.URL)
	s, err := first.SignUp(ctx, "bo@example.com", "longenough1")
	if err != nil {
		t.Fatalf("signup: %v", err)
	}

	second := New(srv.URL)
	u, err := second.Resume(ctx, s.Token)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if u.Email != "bo@example.com" {
		t.Fatalf("unexpected user %+v", u)
	}

	third := New(srv.URL)
	if _, err := third.Resume(ctx, "garbage"); err == nil {
		t.Fatalf("expected bad token to fail")
	}
	if user, loading := third.state.Current(); loading || user != nil {
		t.Fatalf("rejected token should settle to signed out")
	}
}

func TestClientSubscribeTasks(t *testing.T) {
	srv := newTestAPI(t)
	ctx := context.Background()
	c := New(srv.URL)
	if _, err := c.SignUp(ctx, "cy@example.com", "longenough1"); err != nil {
		t.Fatalf("signup: %v", err)
	}

	snapshots := make(chan []domain.Task, 8)
	stop, err := c.SubscribeTasks(ctx, func(tasks []domain.Task) {
		snapshots <- tasks
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer stop()

	next := func() []domain.Task {
		t.Helper()
		select {
		case tasks := <-snapshots:
			return tasks
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for snapshot")
			return nil
		}
	}
	if initial := next(); len(initial) != 0 {
		t.Fatalf("expected empty initial snapshot, got %d", len(initial))
	}
	if _, err := c.CreateTask(ctx, domain.TaskDraft{Title: "Renew passport"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if tasks := next(); len(tasks) != 1 || tasks[0].Title != "Renew passport" {
		t.Fatalf("unexpected snapshot %+v", tasks)
	}

	stop()
	stop()
}

func TestSubscribeRequiresSession(t *testing.T) {
	srv := newTestAPI(t)
	c := New(srv.URL)
	_, err := c.SubscribeTasks(context.Background(), func([]domain.Task) {})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestReadEvents(t *testing.T) {
	stream := "event: snapshot\ndata: {\"a\":1}\n\n: keepalive\n\ndata: line1\ndata: line2\n\n"
	var got []string
	readEvents(strings.NewReader(stream), func(b []byte) error {
		got = append(got, string(b))
		return nil
	})
	if len(got) != 2 || got[0] != `{"a":1}` || got[1] != "line1\nline2" {
		t.Fatalf("unexpected events %q", got)
	}
}
