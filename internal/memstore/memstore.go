// Package memstore is an in-memory store.Store used for tests, demos and
// the --store memory mode.
package memstore

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"shaman/internal/domain"
	"shaman/internal/store"
)

type Store struct {
	mu            sync.RWMutex
	tasks         map[string]map[string]domain.Task
	pending       map[string]domain.Task
	notifications map[string]map[string]domain.Notification
	profiles      map[string]domain.ProfileData
	users         map[string]store.Account
	resets        map[string]reset
	revoked       map[string]string
	// Fail, when set, is returned by every call to simulate an unreachable backend.
	Fail error
}

type reset struct {
	uid       string
	expiresAt string
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		tasks:         map[string]map[string]domain.Task{},
		pending:       map[string]domain.Task{},
		notifications: map[string]map[string]domain.Notification{},
		profiles:      map[string]domain.ProfileData{},
		users:         map[string]store.Account{},
		resets:        map[string]reset{},
		revoked:       map[string]string{},
	}
}

func (s *Store) Close() error { return nil }

func (s *Store) check(op string) error {
	if s.Fail != nil {
		return store.Unavailable(op, s.Fail)
	}
	return nil
}

// clone deep-copies through JSON so callers never share slices or pointers
// with stored records.
func clone[T any](v T) T {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		panic(err)
	}
	return out
}

func (s *Store) InsertTask(_ context.Context, t domain.Task) error {
	if err := s.check("insert task"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket := s.tasks[t.UserID]
	if bucket == nil {
		bucket = map[string]domain.Task{}
		s.tasks[t.UserID] = bucket
	}
	bucket[t.ID] = clone(t)
	return nil
}

func (s *Store) GetTask(_ context.Context, userID, taskID string) (domain.Task, error) {
	if err := s.check("get task"); err != nil {
		return domain.Task{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[userID][taskID]
	if !ok {
		return domain.Task{}, store.ErrNotFound
	}
	return clone(t), nil
}

func (s *Store) ListTasks(_ context.Context, userID string) ([]domain.Task, error) {
	if err := s.check("list tasks"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]domain.Task, 0, len(s.tasks[userID]))
	for _, t := range s.tasks[userID] {
		res = append(res, clone(t))
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].CreatedAt != res[j].CreatedAt {
			return res[i].CreatedAt > res[j].CreatedAt
		}
		return res[i].ID > res[j].ID
	})
	return res, nil
}

func (s *Store) UpdateTask(_ context.Context, userID, taskID string, patch domain.TaskPatch) (domain.Task, error) {
	if err := s.check("update task"); err != nil {
		return domain.Task{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[userID][taskID]
	if !ok {
		return domain.Task{}, store.ErrNotFound
	}
	clone(patch).Apply(&t)
	s.tasks[userID][taskID] = t
	return clone(t), nil
}

func (s *Store) DeleteTask(_ context.Context, userID, taskID string) error {
	if err := s.check("delete task"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[userID][taskID]; !ok {
		return store.ErrNotFound
	}
	delete(s.tasks[userID], taskID)
	return nil
}

func (s *Store) MirrorPendingTask(_ context.Context, t domain.Task) error {
	if err := s.check("mirror pending task"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[t.ID] = clone(t)
	return nil
}

func (s *Store) DeletePendingTask(_ context.Context, taskID string) error {
	if err := s.check("delete pending task"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[taskID]; !ok {
		return store.ErrNotFound
	}
	delete(s.pending, taskID)
	return nil
}

func (s *Store) ListPendingTasks(_ context.Context, limit int) ([]domain.Task, error) {
	if err := s.check("list pending tasks"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]domain.Task, 0, len(s.pending))
	for _, t := range s.pending {
		res = append(res, clone(t))
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].CreatedAt != res[j].CreatedAt {
			return res[i].CreatedAt < res[j].CreatedAt
		}
		return res[i].ID < res[j].ID
	})
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (s *Store) InsertNotification(_ context.Context, n domain.Notification) error {
	if err := s.check("insert notification"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket := s.notifications[n.UserID]
	if bucket == nil {
		bucket = map[string]domain.Notification{}
		s.notifications[n.UserID] = bucket
	}
	bucket[n.ID] = clone(n)
	return nil
}

func (s *Store) ListNotifications(_ context.Context, userID string) ([]domain.Notification, error) {
	if err := s.check("list notifications"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]domain.Notification, 0, len(s.notifications[userID]))
	for _, n := range s.notifications[userID] {
		res = append(res, clone(n))
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].CreatedAt != res[j].CreatedAt {
			return res[i].CreatedAt > res[j].CreatedAt
		}
		return res[i].ID > res[j].ID
	})
	return res, nil
}

func (s *Store) MarkNotificationRead(_ context.Context, userID, id string) error {
	if err := s.check("mark notification read"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[userID][id]
	if !ok {
		return store.ErrNotFound
	}
	n.Read = true
	s.notifications[userID][id] = n
	return nil
}

func (s *Store) MarkAllNotificationsRead(_ context.Context, userID string) error {
	if err := s.check("mark notifications read"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, n := range s.notifications[userID] {
		n.Read = true
		s.notifications[userID][id] = n
	}
	return nil
}

func (s *Store) DeleteNotification(_ context.Context, userID, id string) error {
	if err := s.check("delete notification"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.notifications[userID][id]; !ok {
		return store.ErrNotFound
	}
	delete(s.notifications[userID], id)
	return nil
}

func (s *Store) DeleteAllNotifications(_ context.Context, userID string) error {
	if err := s.check("clear notifications"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.notifications, userID)
	return nil
}

func (s *Store) SaveProfile(_ context.Context, userID string, p domain.ProfileData) error {
	if err := s.check("save profile"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[userID] = clone(p)
	return nil
}

func (s *Store) GetProfile(_ context.Context, userID string) (domain.ProfileData, error) {
	if err := s.check("get profile"); err != nil {
		return domain.ProfileData{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return domain.ProfileData{}, store.ErrNotFound
	}
	return clone(p), nil
}

func (s *Store) InsertUser(_ context.Context, a store.Account) error {
	if err := s.check("insert user"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if strings.EqualFold(existing.User.Email, a.User.Email) {
			return store.ErrConflict
		}
	}
	s.users[a.User.UID] = clone(a)
	return nil
}

func (s *Store) GetUser(_ context.Context, uid string) (store.Account, error) {
	if err := s.check("get user"); err != nil {
		return store.Account{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.users[uid]
	if !ok {
		return store.Account{}, store.ErrNotFound
	}
	return clone(a), nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (store.Account, error) {
	if err := s.check("get user"); err != nil {
		return store.Account{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.users {
		if strings.EqualFold(a.User.Email, strings.TrimSpace(email)) {
			return clone(a), nil
		}
	}
	return store.Account{}, store.ErrNotFound
}

func (s *Store) updateUser(op, uid string, fn func(*store.Account)) error {
	if err := s.check(op); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.users[uid]
	if !ok {
		return store.ErrNotFound
	}
	fn(&a)
	s.users[uid] = a
	return nil
}

func (s *Store) TouchUserLogin(_ context.Context, uid, ts string) error {
	return s.updateUser("touch user login", uid, func(a *store.Account) { a.User.LastLoginAt = ts })
}

func (s *Store) SetPasswordHash(_ context.Context, uid, hash string) error {
	return s.updateUser("set password", uid, func(a *store.Account) { a.PasswordHash = hash })
}

func (s *Store) SetEmailConsent(_ context.Context, uid string, consent bool) error {
	return s.updateUser("set email consent", uid, func(a *store.Account) { a.User.EmailConsent = consent })
}

func (s *Store) SavePasswordReset(_ context.Context, tokenHash, uid, expiresAt string) error {
	if err := s.check("save password reset"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets[tokenHash] = reset{uid: uid, expiresAt: expiresAt}
	return nil
}

func (s *Store) ConsumePasswordReset(_ context.Context, tokenHash, now string) (string, error) {
	if err := s.check("consume password reset"); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.resets[tokenHash]
	if !ok {
		return "", store.ErrNotFound
	}
	delete(s.resets, tokenHash)
	if r.expiresAt < now {
		return "", store.ErrNotFound
	}
	return r.uid, nil
}

func (s *Store) RevokeSession(_ context.Context, sessionID, expiresAt, now string) error {
	if err := s.check("revoke session"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, until := range s.revoked {
		if until < now {
			delete(s.revoked, id)
		}
	}
	s.revoked[sessionID] = expiresAt
	return nil
}

func (s *Store) SessionRevoked(_ context.Context, sessionID string) (bool, error) {
	if err := s.check("session revoked"); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.revoked[sessionID]
	return ok, nil
}
