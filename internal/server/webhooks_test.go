package server

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"shaman/internal/config"
	"shaman/internal/domain"
	"shaman/internal/engine"
	"shaman/internal/memstore"
)

type receiver struct {
	mu       sync.Mutex
	failing  atomic.Bool
	received []webhookEvent
	secrets  []string
}

func (r *receiver) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if r.failing.Load() {
		http.Error(w, "worker busy", http.StatusServiceUnavailable)
		return
	}
	var evt webhookEvent
	if err := json.NewDecoder(req.Body).Decode(&evt); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	r.mu.Lock()
	r.received = append(r.received, evt)
	r.secrets = append(r.secrets, req.Header.Get("X-Shaman-Secret"))
	r.mu.Unlock()
	w.WriteHeader(http.StatusAccepted)
}

func (r *receiver) events() []webhookEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]webhookEvent(nil), r.received...)
}

func TestDispatcherDeliversNewTasks(t *testing.T) {
	recv := &receiver{}
	hook := httptest.NewServer(recv)
	defer hook.Close()

	cfg := config.Default()
	cfg.Webhooks = []config.Webhook{{URL: hook.URL, Secret: "s3cret"}}
	e := engine.New(newSQLiteStore(t), cfg, log.New(io.Discard, "", 0))
	ctx := context.Background()

	existing, err := e.CreateTask(ctx, "user-1", domain.TaskDraft{Title: "Created before start"})
	if err != nil {
		t.Fatal(err)
	}
	d := NewDispatcher(e, log.New(io.Discard, "", 0))
	if d == nil {
		t.Fatalf("expected a dispatcher")
	}
	d.DispatchAll(ctx)
	if got := recv.events(); len(got) != 0 {
		t.Fatalf("events before start must not be delivered, got %+v", got)
	}

	id, err := e.CreateTask(ctx, "user-1", domain.TaskDraft{Title: "Fill W-9 Tax Form"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.CreateNotification(ctx, "user-1", engine.NotificationDraft{Title: "unrelated"}); err != nil {
		t.Fatal(err)
	}
	d.DispatchAll(ctx)
	got := recv.events()
	if len(got) != 1 {
		t.Fatalf("expected one delivery, got %d", len(got))
	}
	if got[0].Type != "task.created" || got[0].EntityID != id || got[0].Task == nil || got[0].Task.Title != "Fill W-9 Tax Form" {
		t.Fatalf("unexpected delivery %+v", got[0])
	}
	if got[0].EntityID == existing {
		t.Fatalf("old task delivered")
	}
	if recv.secrets[0] != "s3cret" {
		t.Fatalf("secret header missing")
	}
}

func TestDispatcherRetriesFailedDelivery(t *testing.T) {
	recv := &receiver{}
	hook := httptest.NewServer(recv)
	defer hook.Close()

	cfg := config.Default()
	cfg.Webhooks = []config.Webhook{{URL: hook.URL}}
	e := engine.New(newSQLiteStore(t), cfg, log.New(io.Discard, "", 0))
	ctx := context.Background()
	d := NewDispatcher(e, log.New(io.Discard, "", 0))
	d.DispatchAll(ctx)

	recv.failing.Store(true)
	if _, err := e.CreateTask(ctx, "user-1", domain.TaskDraft{Title: "Book flights"}); err != nil {
		t.Fatal(err)
	}
	d.DispatchAll(ctx)
	if len(recv.events()) != 0 {
		t.Fatalf("failing receiver recorded events")
	}
	recv.failing.Store(false)
	d.DispatchAll(ctx)
	d.DispatchAll(ctx)
	if got := recv.events(); len(got) != 1 || got[0].Task == nil || got[0].Task.Title != "Book flights" {
		t.Fatalf("expected exactly one redelivery, got %+v", got)
	}
}

func TestNewDispatcherNeedsWebhooksAndEventLog(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	if d := NewDispatcher(engine.New(newSQLiteStore(t), config.Default(), logger), logger); d != nil {
		t.Fatalf("no webhooks should mean no dispatcher")
	}
	cfg := config.Default()
	cfg.Webhooks = []config.Webhook{{URL: "http://127.0.0.1:1"}}
	if d := NewDispatcher(engine.New(memstore.New(), cfg, logger), logger); d != nil {
		t.Fatalf("stores without an event log cannot dispatch")
	}
}

func TestEventFilter(t *testing.T) {
	def := newEventFilter(nil)
	if !def.match("task.created") || def.match("task.updated") {
		t.Fatalf("default filter should only match task.created")
	}
	all := newEventFilter([]string{"*"})
	if !all.match("notification.created") {
		t.Fatalf("wildcard should match everything")
	}
	some := newEventFilter([]string{" task.updated ", ""})
	if !some.match("task.updated") || some.match("task.created") {
		t.Fatalf("explicit filter mismatch")
	}
}
