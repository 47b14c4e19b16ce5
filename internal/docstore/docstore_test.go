package docstore

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"

	"shaman/internal/domain"
	"shaman/internal/store"
)

// These tests need the Firestore emulator (gcloud emulators firestore start).
func newEmulatorStore(t *testing.T) *Store {
	t.Helper()
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	s, err := Open(context.Background(), "shaman-test", log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTaskRoundTrip(t *testing.T) {
	s := newEmulatorStore(t)
	ctx := context.Background()
	user := "user-" + uuid.NewString()
	progress := 40
	task := domain.Task{
		ID:        uuid.NewString(),
		UserID:    user,
		Title:     "Fill W-9 Tax Form",
		Status:    domain.StatusPending,
		Priority:  domain.PriorityHigh,
		Category:  domain.CategoryForm,
		Model:     domain.ModelPro,
		CreatedAt: "2024-01-01T00:00:00Z",
		Progress:  &progress,
		Steps:     []domain.Step{{ID: "s1", Title: "Open form", Status: domain.StepPending, Order: 1}},
	}
	if err := s.InsertTask(ctx, task); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.InsertTask(ctx, task); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	got, err := s.GetTask(ctx, user, task.ID)
	if err != nil || got.Title != task.Title || got.Progress == nil || *got.Progress != 40 || len(got.Steps) != 1 {
		t.Fatalf("get: %+v %v", got, err)
	}
	status := domain.StatusInProgress
	updated, err := s.UpdateTask(ctx, user, task.ID, domain.TaskPatch{Status: &status})
	if err != nil || updated.Status != status || updated.Priority != domain.PriorityHigh {
		t.Fatalf("update: %+v %v", updated, err)
	}
	if err := s.DeleteTask(ctx, user, task.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetTask(ctx, user, task.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestWatchTasksSeesExternalWrites(t *testing.T) {
	s := newEmulatorStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	user := "user-" + uuid.NewString()
	snaps := make(chan []domain.Task, 8)
	if err := s.WatchTasks(ctx, user, func(tasks []domain.Task) { snaps <- tasks }); err != nil {
		t.Fatalf("watch: %v", err)
	}
	if first := <-snaps; len(first) != 0 {
		t.Fatalf("expected empty first snapshot, got %d", len(first))
	}
	task := domain.Task{ID: uuid.NewString(), UserID: user, Title: "Book flights", Status: domain.StatusPending,
		Priority: domain.PriorityLow, Category: domain.CategoryWebTask, Model: domain.ModelLight, CreatedAt: "2024-01-01T00:00:00Z"}
	if err := s.InsertTask(ctx, task); err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-snaps:
		if len(got) != 1 || got[0].ID != task.ID {
			t.Fatalf("unexpected snapshot %+v", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no snapshot after insert")
	}
}

func TestAccountsAndResets(t *testing.T) {
	s := newEmulatorStore(t)
	ctx := context.Background()
	email := uuid.NewString() + "@Example.com"
	acct := store.Account{User: domain.User{UID: uuid.NewString(), Email: email, Provider: "password", CreatedAt: "2024-01-01T00:00:00Z"}, PasswordHash: "hash"}
	if err := s.InsertUser(ctx, acct); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertUser(ctx, acct); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	got, err := s.GetUser(ctx, acct.User.UID)
	if err != nil || got.PasswordHash != "hash" {
		t.Fatalf("get user: %+v %v", got, err)
	}
	if err := s.SavePasswordReset(ctx, "token-hash-"+acct.User.UID, acct.User.UID, "2030-01-01T00:00:00Z"); err != nil {
		t.Fatal(err)
	}
	uid, err := s.ConsumePasswordReset(ctx, "token-hash-"+acct.User.UID, "2024-01-01T00:00:00Z")
	if err != nil || uid != acct.User.UID {
		t.Fatalf("consume: %q %v", uid, err)
	}
	if _, err := s.ConsumePasswordReset(ctx, "token-hash-"+acct.User.UID, "2024-01-01T00:00:00Z"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("reset must be single use, got %v", err)
	}
}

func TestRevokedSessions(t *testing.T) {
	s := newEmulatorStore(t)
	ctx := context.Background()
	id := uuid.NewString()
	if revoked, err := s.SessionRevoked(ctx, id); err != nil || revoked {
		t.Fatalf("fresh session: %v %v", revoked, err)
	}
	if err := s.RevokeSession(ctx, id, "2030-01-01T00:00:00Z", "2024-01-01T00:00:00Z"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if revoked, err := s.SessionRevoked(ctx, id); err != nil || !revoked {
		t.Fatalf("expected revoked: %v %v", revoked, err)
	}
}

type failingLister struct{ err error }

func (f failingLister) GetAll() ([]*firestore.DocumentSnapshot, error) { return nil, f.err }

func TestSnapshotReadErrorIsNotAnEmptyList(t *testing.T) {
	boom := errors.New("stream reset")
	tasks, err := snapshotTasks(failingLister{err: boom})
	if !errors.Is(err, boom) || tasks != nil {
		t.Fatalf("expected the read error, got %v %v", tasks, err)
	}
	tasks, err = snapshotTasks(failingLister{})
	if err != nil || len(tasks) != 0 {
		t.Fatalf("empty snapshot: %v %v", tasks, err)
	}
}
