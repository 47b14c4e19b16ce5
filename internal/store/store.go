package store

import (
	"context"
	"errors"
	"fmt"

	"shaman/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a unique key (such as an email) is taken.
	ErrConflict = errors.New("already exists")
	// ErrUnavailable marks a backend failure; callers report it generically.
	ErrUnavailable = errors.New("store unavailable")
)

// Unavailable wraps a backend failure so errors.Is(err, ErrUnavailable) holds.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) || errors.Is(err, ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

// Tasks persists a user's task collection and the shared pending-work mirror.
type Tasks interface {
	InsertTask(ctx context.Context, t domain.Task) error
	GetTask(ctx context.Context, userID, taskID string) (domain.Task, error)
	ListTasks(ctx context.Context, userID string) ([]domain.Task, error)
	UpdateTask(ctx context.Context, userID, taskID string, patch domain.TaskPatch) (domain.Task, error)
	DeleteTask(ctx context.Context, userID, taskID string) error

	MirrorPendingTask(ctx context.Context, t domain.Task) error
	DeletePendingTask(ctx context.Context, taskID string) error
	ListPendingTasks(ctx context.Context, limit int) ([]domain.Task, error)
}

type Notifications interface {
	InsertNotification(ctx context.Context, n domain.Notification) error
	ListNotifications(ctx context.Context, userID string) ([]domain.Notification, error)
	MarkNotificationRead(ctx context.Context, userID, id string) error
	MarkAllNotificationsRead(ctx context.Context, userID string) error
	DeleteNotification(ctx context.Context, userID, id string) error
	DeleteAllNotifications(ctx context.Context, userID string) error
}

type Profiles interface {
	SaveProfile(ctx context.Context, userID string, p domain.ProfileData) error
	GetProfile(ctx context.Context, userID string) (domain.ProfileData, error)
}

// Account is a locally managed credential record.
type Account struct {
	User         domain.User
	PasswordHash string
}

type Users interface {
	InsertUser(ctx context.Context, a Account) error
	GetUser(ctx context.Context, uid string) (Account, error)
	GetUserByEmail(ctx context.Context, email string) (Account, error)
	TouchUserLogin(ctx context.Context, uid, ts string) error
	SetPasswordHash(ctx context.Context, uid, hash string) error
	SetEmailConsent(ctx context.Context, uid string, consent bool) error
	SavePasswordReset(ctx context.Context, tokenHash, uid, expiresAt string) error
	// ConsumePasswordReset deletes the reset token and returns its owner.
	ConsumePasswordReset(ctx context.Context, tokenHash, now string) (string, error)
	// RevokeSession records a signed-out session id until expiresAt and
	// drops revocations that lapsed before now.
	RevokeSession(ctx context.Context, sessionID, expiresAt, now string) error
	SessionRevoked(ctx context.Context, sessionID string) (bool, error)
}

// Store is the full data-access contract used by the engine.
type Store interface {
	Tasks
	Notifications
	Profiles
	Users
	Close() error
}

// EventLog is implemented by stores that keep an append-only audit log.
type EventLog interface {
	LatestEvents(ctx context.Context, limit int, cursor int64, userID, evtType string) ([]domain.Event, error)
	EventsAfter(ctx context.Context, limit int, cursor int64, evtType string) ([]domain.Event, error)
	LatestEventID(ctx context.Context) (int64, error)
}

// Watcher is implemented by stores that can push changes written by other
// processes, such as the external worker.
type Watcher interface {
	WatchTasks(ctx context.Context, userID string, fn func([]domain.Task)) error
}
