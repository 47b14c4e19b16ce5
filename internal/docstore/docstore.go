// Package docstore is the Cloud Firestore implementation of store.Store.
//
// Layout:
//
//	users/{uid}/tasks/{taskId}
//	users/{uid}/notifications/{id}
//	users/{uid}/meta/profile
//	pendingTasks/{taskId}
//	accounts/{email}
//	passwordResets/{tokenHash}
//	revokedSessions/{sessionId}
//
// Task, notification and profile documents use the same field names as the
// JSON API so that other clients of the database see the familiar shape.
package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"shaman/internal/domain"
	"shaman/internal/store"
)

const (
	usersCol         = "users"
	tasksCol         = "tasks"
	notificationsCol = "notifications"
	metaCol          = "meta"
	profileDoc       = "profile"
	pendingCol       = "pendingTasks"
	accountsCol      = "accounts"
	resetsCol        = "passwordResets"
	revokedCol       = "revokedSessions"
)

type Store struct {
	Client *firestore.Client
	Logger *log.Logger
}

var (
	_ store.Store   = (*Store)(nil)
	_ store.Watcher = (*Store)(nil)
)

// Open connects to projectID. FIRESTORE_EMULATOR_HOST is honored by the
// client library.
func Open(ctx context.Context, projectID string, logger *log.Logger) (*Store, error) {
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("connect firestore: %w", err)
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Store{Client: client, Logger: logger}, nil
}

func (s *Store) Close() error { return s.Client.Close() }

func (s *Store) tasks(userID string) *firestore.CollectionRef {
	return s.Client.Collection(usersCol).Doc(userID).Collection(tasksCol)
}

func (s *Store) notifications(userID string) *firestore.CollectionRef {
	return s.Client.Collection(usersCol).Doc(userID).Collection(notificationsCol)
}

func (s *Store) profile(userID string) *firestore.DocumentRef {
	return s.Client.Collection(usersCol).Doc(userID).Collection(metaCol).Doc(profileDoc)
}

// wrap maps Firestore status codes onto store errors.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	switch status.Code(err) {
	case codes.NotFound:
		return store.ErrNotFound
	case codes.AlreadyExists:
		return store.ErrConflict
	}
	return store.Unavailable(op, err)
}

// toMap converts a record to document fields using its JSON names.
func toMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func fromSnapshot[T any](snap *firestore.DocumentSnapshot) (T, error) {
	var out T
	data, err := json.Marshal(snap.Data())
	if err != nil {
		return out, err
	}
	err = json.Unmarshal(data, &out)
	return out, err
}

func sortNewestFirst(tasks []domain.Task) {
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].CreatedAt != tasks[j].CreatedAt {
			return tasks[i].CreatedAt > tasks[j].CreatedAt
		}
		return tasks[i].ID > tasks[j].ID
	})
}

func decodeTasks(docs []*firestore.DocumentSnapshot) ([]domain.Task, error) {
	res := make([]domain.Task, 0, len(docs))
	for _, d := range docs {
		t, err := fromSnapshot[domain.Task](d)
		if err != nil {
			return nil, fmt.Errorf("decode task %s: %w", d.Ref.ID, err)
		}
		res = append(res, t)
	}
	sortNewestFirst(res)
	return res, nil
}

func (s *Store) InsertTask(ctx context.Context, t domain.Task) error {
	data, err := toMap(t)
	if err != nil {
		return err
	}
	_, err = s.tasks(t.UserID).Doc(t.ID).Create(ctx, data)
	return wrap("insert task", err)
}

func (s *Store) GetTask(ctx context.Context, userID, taskID string) (domain.Task, error) {
	snap, err := s.tasks(userID).Doc(taskID).Get(ctx)
	if err != nil {
		return domain.Task{}, wrap("get task", err)
	}
	return fromSnapshot[domain.Task](snap)
}

func (s *Store) ListTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	docs, err := s.tasks(userID).Documents(ctx).GetAll()
	if err != nil {
		return nil, wrap("list tasks", err)
	}
	return decodeTasks(docs)
}

// UpdateTask merges patch inside a transaction. There is no version check;
// the last write wins.
func (s *Store) UpdateTask(ctx context.Context, userID, taskID string, patch domain.TaskPatch) (domain.Task, error) {
	ref := s.tasks(userID).Doc(taskID)
	var updated domain.Task
	err := s.Client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		t, err := fromSnapshot[domain.Task](snap)
		if err != nil {
			return err
		}
		patch.Apply(&t)
		data, err := toMap(t)
		if err != nil {
			return err
		}
		updated = t
		return tx.Set(ref, data)
	})
	if err != nil {
		return domain.Task{}, wrap("update task", err)
	}
	return updated, nil
}

func (s *Store) DeleteTask(ctx context.Context, userID, taskID string) error {
	_, err := s.tasks(userID).Doc(taskID).Delete(ctx, firestore.Exists)
	return wrap("delete task", err)
}

func (s *Store) MirrorPendingTask(ctx context.Context, t domain.Task) error {
	data, err := toMap(t)
	if err != nil {
		return err
	}
	_, err = s.Client.Collection(pendingCol).Doc(t.ID).Set(ctx, data)
	return wrap("mirror pending task", err)
}

func (s *Store) DeletePendingTask(ctx context.Context, taskID string) error {
	_, err := s.Client.Collection(pendingCol).Doc(taskID).Delete(ctx, firestore.Exists)
	return wrap("delete pending task", err)
}

func (s *Store) ListPendingTasks(ctx context.Context, limit int) ([]domain.Task, error) {
	if limit <= 0 {
		limit = 100
	}
	docs, err := s.Client.Collection(pendingCol).OrderBy("createdAt", firestore.Asc).Limit(limit).Documents(ctx).GetAll()
	if err != nil {
		return nil, wrap("list pending tasks", err)
	}
	res := make([]domain.Task, 0, len(docs))
	for _, d := range docs {
		t, err := fromSnapshot[domain.Task](d)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, nil
}

// WatchTasks streams the user's tasks, including writes made by other
// processes. The first snapshot is delivered before it returns; later ones
// arrive from a goroutine until ctx is done.
func (s *Store) WatchTasks(ctx context.Context, userID string, fn func([]domain.Task)) error {
	it := s.tasks(userID).Snapshots(ctx)
	first, err := it.Next()
	if err != nil {
		it.Stop()
		return wrap("watch tasks", err)
	}
	tasks, err := snapshotTasks(first.Documents)
	if err != nil {
		it.Stop()
		return wrap("watch tasks", err)
	}
	fn(tasks)
	go func() {
		defer it.Stop()
		for {
			snap, err := it.Next()
			if err != nil {
				if ctx.Err() == nil && status.Code(err) != codes.Canceled {
					s.Logger.Printf("docstore: watch tasks for %s stopped: %v", userID, err)
				}
				return
			}
			tasks, err := snapshotTasks(snap.Documents)
			if err != nil {
				s.Logger.Printf("docstore: skip snapshot for %s: %v", userID, err)
				continue
			}
			fn(tasks)
		}
	}()
	return nil
}

type documentLister interface {
	GetAll() ([]*firestore.DocumentSnapshot, error)
}

// snapshotTasks fails rather than yield a partial list, which subscribers
// would read as deletions.
func snapshotTasks(it documentLister) ([]domain.Task, error) {
	docs, err := it.GetAll()
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return decodeTasks(docs)
}

func (s *Store) InsertNotification(ctx context.Context, n domain.Notification) error {
	data, err := toMap(n)
	if err != nil {
		return err
	}
	_, err = s.notifications(n.UserID).Doc(n.ID).Create(ctx, data)
	return wrap("insert notification", err)
}

func (s *Store) ListNotifications(ctx context.Context, userID string) ([]domain.Notification, error) {
	docs, err := s.notifications(userID).Documents(ctx).GetAll()
	if err != nil {
		return nil, wrap("list notifications", err)
	}
	res := make([]domain.Notification, 0, len(docs))
	for _, d := range docs {
		n, err := fromSnapshot[domain.Notification](d)
		if err != nil {
			return nil, err
		}
		res = append(res, n)
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].CreatedAt != res[j].CreatedAt {
			return res[i].CreatedAt > res[j].CreatedAt
		}
		return res[i].ID > res[j].ID
	})
	return res, nil
}

func (s *Store) MarkNotificationRead(ctx context.Context, userID, id string) error {
	_, err := s.notifications(userID).Doc(id).Update(ctx, []firestore.Update{{Path: "read", Value: true}})
	return wrap("mark notification read", err)
}

func (s *Store) MarkAllNotificationsRead(ctx context.Context, userID string) error {
	docs, err := s.notifications(userID).Where("read", "==", false).Documents(ctx).GetAll()
	if err != nil {
		return wrap("mark notifications read", err)
	}
	return s.bulk(ctx, "mark notifications read", docs, func(bw *firestore.BulkWriter, ref *firestore.DocumentRef) (*firestore.BulkWriterJob, error) {
		return bw.Update(ref, []firestore.Update{{Path: "read", Value: true}})
	})
}

func (s *Store) DeleteNotification(ctx context.Context, userID, id string) error {
	_, err := s.notifications(userID).Doc(id).Delete(ctx, firestore.Exists)
	return wrap("delete notification", err)
}

func (s *Store) DeleteAllNotifications(ctx context.Context, userID string) error {
	docs, err := s.notifications(userID).Documents(ctx).GetAll()
	if err != nil {
		return wrap("delete notifications", err)
	}
	return s.bulk(ctx, "delete notifications", docs, func(bw *firestore.BulkWriter, ref *firestore.DocumentRef) (*firestore.BulkWriterJob, error) {
		return bw.Delete(ref)
	})
}

func (s *Store) bulk(ctx context.Context, op string, docs []*firestore.DocumentSnapshot, write func(*firestore.BulkWriter, *firestore.DocumentRef) (*firestore.BulkWriterJob, error)) error {
	if len(docs) == 0 {
		return nil
	}
	bw := s.Client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(docs))
	for _, d := range docs {
		job, err := write(bw, d.Ref)
		if err != nil {
			bw.End()
			return wrap(op, err)
		}
		jobs = append(jobs, job)
	}
	bw.End()
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			return wrap(op, err)
		}
	}
	return nil
}

func (s *Store) SaveProfile(ctx context.Context, userID string, p domain.ProfileData) error {
	data, err := toMap(p)
	if err != nil {
		return err
	}
	_, err = s.profile(userID).Set(ctx, data)
	return wrap("save profile", err)
}

func (s *Store) GetProfile(ctx context.Context, userID string) (domain.ProfileData, error) {
	snap, err := s.profile(userID).Get(ctx)
	if err != nil {
		return domain.ProfileData{}, wrap("get profile", err)
	}
	return fromSnapshot[domain.ProfileData](snap)
}

type accountDoc struct {
	UID          string  `firestore:"uid"`
	Email        string  `firestore:"email"`
	DisplayName  *string `firestore:"displayName,omitempty"`
	PhotoURL     *string `firestore:"photoURL,omitempty"`
	Provider     string  `firestore:"provider"`
	EmailConsent bool    `firestore:"emailConsent"`
	CreatedAt    string  `firestore:"createdAt"`
	LastLoginAt  string  `firestore:"lastLoginAt,omitempty"`
	PasswordHash string  `firestore:"passwordHash,omitempty"`
}

func (d accountDoc) account() store.Account {
	return store.Account{
		User: domain.User{
			UID:          d.UID,
			Email:        d.Email,
			DisplayName:  d.DisplayName,
			PhotoURL:     d.PhotoURL,
			Provider:     d.Provider,
			EmailConsent: d.EmailConsent,
			CreatedAt:    d.CreatedAt,
			LastLoginAt:  d.LastLoginAt,
		},
		PasswordHash: d.PasswordHash,
	}
}

type revokedDoc struct {
	ExpiresAt string `firestore:"expiresAt"`
}

type resetDoc struct {
	UID       string `firestore:"uid"`
	ExpiresAt string `firestore:"expiresAt"`
}

func emailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Store) InsertUser(ctx context.Context, a store.Account) error {
	u := a.User
	doc := accountDoc{
		UID:          u.UID,
		Email:        emailKey(u.Email),
		DisplayName:  u.DisplayName,
		PhotoURL:     u.PhotoURL,
		Provider:     u.Provider,
		EmailConsent: u.EmailConsent,
		CreatedAt:    u.CreatedAt,
		LastLoginAt:  u.LastLoginAt,
		PasswordHash: a.PasswordHash,
	}
	_, err := s.Client.Collection(accountsCol).Doc(doc.Email).Create(ctx, doc)
	return wrap("insert user", err)
}

func (s *Store) accountByUID(ctx context.Context, uid string) (*firestore.DocumentSnapshot, error) {
	docs, err := s.Client.Collection(accountsCol).Where("uid", "==", uid).Limit(1).Documents(ctx).GetAll()
	if err != nil {
		return nil, wrap("get user", err)
	}
	if len(docs) == 0 {
		return nil, store.ErrNotFound
	}
	return docs[0], nil
}

func (s *Store) GetUser(ctx context.Context, uid string) (store.Account, error) {
	snap, err := s.accountByUID(ctx, uid)
	if err != nil {
		return store.Account{}, err
	}
	var doc accountDoc
	if err := snap.DataTo(&doc); err != nil {
		return store.Account{}, err
	}
	return doc.account(), nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (store.Account, error) {
	snap, err := s.Client.Collection(accountsCol).Doc(emailKey(email)).Get(ctx)
	if err != nil {
		return store.Account{}, wrap("get user", err)
	}
	var doc accountDoc
	if err := snap.DataTo(&doc); err != nil {
		return store.Account{}, err
	}
	return doc.account(), nil
}

func (s *Store) updateAccount(ctx context.Context, op, uid string, updates []firestore.Update) error {
	snap, err := s.accountByUID(ctx, uid)
	if err != nil {
		return err
	}
	_, err = snap.Ref.Update(ctx, updates)
	return wrap(op, err)
}

func (s *Store) TouchUserLogin(ctx context.Context, uid, ts string) error {
	return s.updateAccount(ctx, "touch user login", uid, []firestore.Update{{Path: "lastLoginAt", Value: ts}})
}

func (s *Store) SetPasswordHash(ctx context.Context, uid, hash string) error {
	return s.updateAccount(ctx, "set password", uid, []firestore.Update{{Path: "passwordHash", Value: hash}})
}

func (s *Store) SetEmailConsent(ctx context.Context, uid string, consent bool) error {
	return s.updateAccount(ctx, "set email consent", uid, []firestore.Update{{Path: "emailConsent", Value: consent}})
}

func (s *Store) SavePasswordReset(ctx context.Context, tokenHash, uid, expiresAt string) error {
	_, err := s.Client.Collection(resetsCol).Doc(tokenHash).Set(ctx, resetDoc{UID: uid, ExpiresAt: expiresAt})
	return wrap("save password reset", err)
}

// ConsumePasswordReset deletes the token in the same transaction that reads
// it, so a token can be used once.
func (s *Store) ConsumePasswordReset(ctx context.Context, tokenHash, now string) (string, error) {
	ref := s.Client.Collection(resetsCol).Doc(tokenHash)
	var uid string
	err := s.Client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc resetDoc
		if err := snap.DataTo(&doc); err != nil {
			return err
		}
		if err := tx.Delete(ref); err != nil {
			return err
		}
		uid = ""
		if doc.ExpiresAt >= now {
			uid = doc.UID
		}
		return nil
	})
	if err != nil {
		return "", wrap("consume password reset", err)
	}
	if uid == "" {
		return "", store.ErrNotFound
	}
	return uid, nil
}

func (s *Store) RevokeSession(ctx context.Context, sessionID, expiresAt, now string) error {
	col := s.Client.Collection(revokedCol)
	lapsed, err := col.Where("expiresAt", "<", now).Limit(100).Documents(ctx).GetAll()
	if err != nil {
		return wrap("prune revoked sessions", err)
	}
	for _, d := range lapsed {
		if _, err := d.Ref.Delete(ctx); err != nil {
			return wrap("prune revoked sessions", err)
		}
	}
	_, err = col.Doc(sessionID).Set(ctx, revokedDoc{ExpiresAt: expiresAt})
	return wrap("revoke session", err)
}

func (s *Store) SessionRevoked(ctx context.Context, sessionID string) (bool, error) {
	_, err := s.Client.Collection(revokedCol).Doc(sessionID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return false, nil
	}
	if err != nil {
		return false, wrap("session revoked", err)
	}
	return true, nil
}
