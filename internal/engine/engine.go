package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"shaman/internal/config"
	"shaman/internal/domain"
	"shaman/internal/feed"
	"shaman/internal/signature"
	"shaman/internal/store"
	"shaman/internal/validate"
)

// ErrUnauthenticated is returned when an operation runs without a user.
var ErrUnauthenticated = errors.New("user must be logged in")

type Engine struct {
	Store         store.Store
	Tasks         *feed.Hub[domain.Task]
	Notifications *feed.Hub[domain.Notification]
	Config        *config.Config
	Logger        *log.Logger
	Now           func() time.Time
}

func New(st store.Store, cfg *config.Config, logger *log.Logger) Engine {
	if logger == nil {
		logger = log.Default()
	}
	if cfg == nil {
		cfg = config.Default()
	}
	feedLog := log.New(logger.Writer(), "feed: ", logger.Flags())
	return Engine{
		Store:         st,
		Tasks:         feed.NewHub[domain.Task](st.ListTasks, feedLog),
		Notifications: feed.NewHub[domain.Notification](st.ListNotifications, feedLog),
		Config:        cfg,
		Logger:        logger,
		Now:           time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) logf(format string, args ...any) {
	if e.Logger != nil {
		e.Logger.Printf(format, args...)
	}
}

func (e Engine) mirrorPending() bool {
	return e.Config != nil && e.Config.Store.MirrorPending
}

// CreateTask stores a new task for userID and returns its id.
func (e Engine) CreateTask(ctx context.Context, userID string, draft domain.TaskDraft) (string, error) {
	if userID == "" {
		return "", ErrUnauthenticated
	}
	if err := validate.Draft(draft); err != nil {
		return "", err
	}
	if draft.Status == "" {
		draft.Status = domain.StatusPending
	}
	if draft.Priority == "" {
		draft.Priority = domain.PriorityMedium
	}
	if draft.Category == "" {
		draft.Category = domain.CategoryOther
	}
	if draft.Model == "" {
		draft.Model = domain.ModelLight
	}
	t := draft.Task(uuid.NewString(), userID, e.timestamp())
	if err := e.Store.InsertTask(ctx, t); err != nil {
		return "", err
	}
	if e.mirrorPending() {
		if err := e.Store.MirrorPendingTask(ctx, t); err != nil {
			e.logf("mirror pending task %s: %v", t.ID, err)
		}
	}
	e.Tasks.Publish(ctx, userID)
	return t.ID, nil
}

func (e Engine) GetTask(ctx context.Context, userID, taskID string) (domain.Task, error) {
	if userID == "" {
		return domain.Task{}, ErrUnauthenticated
	}
	return e.Store.GetTask(ctx, userID, taskID)
}

func (e Engine) ListTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}
	return e.Store.ListTasks(ctx, userID)
}

// SubscribeTasks delivers the user's full task list now and after every
// change. Stores that observe out-of-process writers push their own
// snapshots; otherwise changes made through this engine are published.
func (e Engine) SubscribeTasks(ctx context.Context, userID string, fn func([]domain.Task)) (func(), error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}
	w, ok := e.Store.(store.Watcher)
	if !ok {
		return e.Tasks.Subscribe(ctx, userID, fn)
	}
	wctx, cancel := context.WithCancel(ctx)
	var closed atomic.Bool
	err := w.WatchTasks(wctx, userID, func(tasks []domain.Task) {
		if !closed.Load() {
			fn(tasks)
		}
	})
	if err != nil {
		cancel()
		return nil, err
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			closed.Store(true)
			cancel()
		})
	}, nil
}

// SubscribeTaskErrors is SubscribeTasks narrowed to tasks flagged is_error.
func (e Engine) SubscribeTaskErrors(ctx context.Context, userID string, fn func([]domain.Task)) (func(), error) {
	return e.SubscribeTasks(ctx, userID, func(tasks []domain.Task) {
		failed := make([]domain.Task, 0, len(tasks))
		for _, t := range tasks {
			if t.HasError() {
				failed = append(failed, t)
			}
		}
		fn(failed)
	})
}

type UpdateOptions struct {
	// Force skips the status transition table.
	Force bool
}

// UpdateTask merges patch into the task. Concurrent updates are not
// reconciled; the last write wins.
func (e Engine) UpdateTask(ctx context.Context, userID, taskID string, patch domain.TaskPatch, opts UpdateOptions) (domain.Task, error) {
	if userID == "" {
		return domain.Task{}, ErrUnauthenticated
	}
	if err := validate.Patch(patch); err != nil {
		return domain.Task{}, err
	}
	current, err := e.Store.GetTask(ctx, userID, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if patch.Status != nil {
		if err := domain.EnsureTransition(current.Status, *patch.Status, opts.Force); err != nil {
			return domain.Task{}, err
		}
	}
	updated, err := e.Store.UpdateTask(ctx, userID, taskID, patch)
	if err != nil {
		return domain.Task{}, err
	}
	e.notifyTaskChange(ctx, current, updated)
	e.Tasks.Publish(ctx, userID)
	return updated, nil
}

// SetTaskStatus moves a task along the transition table.
func (e Engine) SetTaskStatus(ctx context.Context, userID, taskID string, status domain.Status) (domain.Task, error) {
	return e.UpdateTask(ctx, userID, taskID, domain.TaskPatch{Status: &status}, UpdateOptions{})
}

// RestartTask puts a task back in the queue and clears its error flag.
func (e Engine) RestartTask(ctx context.Context, userID, taskID string) (domain.Task, error) {
	status := domain.StatusPending
	noError := false
	progress := 0
	return e.UpdateTask(ctx, userID, taskID, domain.TaskPatch{
		Status:   &status,
		IsError:  &noError,
		Progress: &progress,
	}, UpdateOptions{})
}

// ProvideInput answers a need-input task: the data is appended to the
// description, the request is cleared and the task resumes.
func (e Engine) ProvideInput(ctx context.Context, userID, taskID, data string) (domain.Task, error) {
	if userID == "" {
		return domain.Task{}, ErrUnauthenticated
	}
	if data == "" {
		return domain.Task{}, validate.Errorf("data", "required", "input is required")
	}
	current, err := e.Store.GetTask(ctx, userID, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if current.Status != domain.StatusNeedInput {
		return domain.Task{}, domain.InvalidTransitionError{From: current.Status, To: domain.StatusInProgress}
	}
	status := domain.StatusInProgress
	description := current.Description + "\n\nProvided input: " + data
	cleared := ""
	return e.UpdateTask(ctx, userID, taskID, domain.TaskPatch{
		Status:      &status,
		Description: &description,
		NeededData:  &cleared,
	}, UpdateOptions{})
}

func (e Engine) DeleteTask(ctx context.Context, userID, taskID string) error {
	if userID == "" {
		return ErrUnauthenticated
	}
	if err := e.Store.DeleteTask(ctx, userID, taskID); err != nil {
		return err
	}
	if e.mirrorPending() {
		if err := e.Store.DeletePendingTask(ctx, taskID); err != nil && !errors.Is(err, store.ErrNotFound) {
			e.logf("delete pending task %s: %v", taskID, err)
		}
	}
	e.Tasks.Publish(ctx, userID)
	return nil
}

// notifyTaskChange raises a notification when a task finishes, fails or
// asks for input. Failures are logged only.
func (e Engine) notifyTaskChange(ctx context.Context, before, after domain.Task) {
	var d NotificationDraft
	switch {
	case after.HasError() && !before.HasError():
		msg := fmt.Sprintf("%q could not be completed.", after.Title)
		if after.ErrorMessage != nil && *after.ErrorMessage != "" {
			msg = fmt.Sprintf("%q failed: %s", after.Title, *after.ErrorMessage)
		}
		d = NotificationDraft{Type: domain.NotifyError, Title: "Task failed", Message: msg, Actionable: true}
	case after.Status == domain.StatusCompleted && before.Status != domain.StatusCompleted:
		d = NotificationDraft{Type: domain.NotifySuccess, Title: "Task completed", Message: fmt.Sprintf("%q has been completed.", after.Title)}
	case after.Status == domain.StatusNeedInput && before.Status != domain.StatusNeedInput:
		msg := fmt.Sprintf("%q needs more information.", after.Title)
		if after.NeededData != nil {
			msg = fmt.Sprintf("%q needs: %s", after.Title, *after.NeededData)
		}
		d = NotificationDraft{Type: domain.NotifyWarning, Title: "Input needed", Message: msg, Actionable: true}
	default:
		return
	}
	taskID := after.ID
	d.TaskID = &taskID
	if _, err := e.CreateNotification(ctx, after.UserID, d); err != nil {
		e.logf("notify task %s: %v", after.ID, err)
	}
}

// NotificationDraft is a notification before id and timestamp are assigned.
type NotificationDraft struct {
	Type         domain.NotificationType `json:"type,omitempty" enum:"info,success,warning,error" validate:"omitempty,notification_type"`
	Title        string                  `json:"title" validate:"required,max=200"`
	Message      string                  `json:"message" validate:"max=2000"`
	Actionable   bool                    `json:"actionable,omitempty"`
	DocumentName *string                 `json:"documentName,omitempty"`
	TaskID       *string                 `json:"taskId,omitempty"`
}

func (e Engine) CreateNotification(ctx context.Context, userID string, d NotificationDraft) (domain.Notification, error) {
	if userID == "" {
		return domain.Notification{}, ErrUnauthenticated
	}
	if err := validate.Struct(d); err != nil {
		return domain.Notification{}, err
	}
	if d.Type == "" {
		d.Type = domain.NotifyInfo
	}
	n := domain.Notification{
		ID:           uuid.NewString(),
		UserID:       userID,
		Type:         d.Type,
		Title:        d.Title,
		Message:      d.Message,
		CreatedAt:    e.timestamp(),
		Actionable:   d.Actionable,
		DocumentName: d.DocumentName,
		TaskID:       d.TaskID,
	}
	if err := e.Store.InsertNotification(ctx, n); err != nil {
		return domain.Notification{}, err
	}
	e.Notifications.Publish(ctx, userID)
	return n, nil
}

func (e Engine) ListNotifications(ctx context.Context, userID string) ([]domain.Notification, error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}
	return e.Store.ListNotifications(ctx, userID)
}

func (e Engine) SubscribeNotifications(ctx context.Context, userID string, fn func([]domain.Notification)) (func(), error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}
	return e.Notifications.Subscribe(ctx, userID, fn)
}

func (e Engine) MarkNotificationRead(ctx context.Context, userID, id string) error {
	return e.changeNotifications(ctx, userID, func() error { return e.Store.MarkNotificationRead(ctx, userID, id) })
}

func (e Engine) MarkAllNotificationsRead(ctx context.Context, userID string) error {
	return e.changeNotifications(ctx, userID, func() error { return e.Store.MarkAllNotificationsRead(ctx, userID) })
}

func (e Engine) DeleteNotification(ctx context.Context, userID, id string) error {
	return e.changeNotifications(ctx, userID, func() error { return e.Store.DeleteNotification(ctx, userID, id) })
}

func (e Engine) ClearNotifications(ctx context.Context, userID string) error {
	return e.changeNotifications(ctx, userID, func() error { return e.Store.DeleteAllNotifications(ctx, userID) })
}

func (e Engine) changeNotifications(ctx context.Context, userID string, fn func() error) error {
	if userID == "" {
		return ErrUnauthenticated
	}
	if err := fn(); err != nil {
		return err
	}
	e.Notifications.Publish(ctx, userID)
	return nil
}

// SaveProfile validates and stores the profile. A signature is normalized
// before it is written.
func (e Engine) SaveProfile(ctx context.Context, userID string, p domain.ProfileData) (domain.ProfileData, error) {
	if userID == "" {
		return domain.ProfileData{}, ErrUnauthenticated
	}
	if err := validate.Profile(p); err != nil {
		return domain.ProfileData{}, err
	}
	if p.Signature != nil {
		if *p.Signature == "" {
			p.Signature = nil
		} else {
			normalized, err := signature.Normalize(*p.Signature)
			if err != nil {
				return domain.ProfileData{}, err
			}
			p.Signature = &normalized
		}
	}
	if p.Address.Country == "" {
		p.Address.Country = domain.DefaultCountry
	}
	p.UpdatedAt = e.timestamp()
	if err := e.Store.SaveProfile(ctx, userID, p); err != nil {
		return domain.ProfileData{}, err
	}
	return p, nil
}

func (e Engine) GetProfile(ctx context.Context, userID string) (domain.ProfileData, error) {
	if userID == "" {
		return domain.ProfileData{}, ErrUnauthenticated
	}
	return e.Store.GetProfile(ctx, userID)
}
