package server

import (
	"context"
	"net/http"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"shaman/internal/domain"
	"shaman/internal/engine"
	"shaman/internal/views"
)

// TaskSnapshot is the full task list sent on every change.
type TaskSnapshot struct {
	Tasks []domain.Task `json:"tasks"`
}

type NotificationSnapshot struct {
	Notifications []domain.Notification `json:"notifications"`
	Unread        int                   `json:"unread"`
}

type TaskStreamInput struct {
	Errors bool `query:"errors" doc:"Only include tasks the worker flagged as failed"`
}

func registerStreams(api huma.API, e engine.Engine) {
	sse.Register(api, huma.Operation{
		OperationID: "stream-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks/stream",
		Summary:     "Stream task list snapshots",
		Description: "Sends a snapshot event with the full task list on connect and after every change.",
	}, map[string]any{
		"snapshot": TaskSnapshot{},
	}, func(ctx context.Context, input *TaskStreamInput, send sse.Sender) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return
		}
		subscribe := e.SubscribeTasks
		if input.Errors {
			subscribe = e.SubscribeTaskErrors
		}
		pump(ctx, func(fn func([]domain.Task)) (func(), error) {
			return subscribe(ctx, userID, fn)
		}, func(tasks []domain.Task) error {
			return send.Data(TaskSnapshot{Tasks: nonNilSlice(tasks)})
		})
	})

	sse.Register(api, huma.Operation{
		OperationID: "stream-notifications",
		Method:      http.MethodGet,
		Path:        "/notifications/stream",
		Summary:     "Stream notification snapshots",
	}, map[string]any{
		"snapshot": NotificationSnapshot{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return
		}
		pump(ctx, func(fn func([]domain.Notification)) (func(), error) {
			return e.SubscribeNotifications(ctx, userID, fn)
		}, func(items []domain.Notification) error {
			return send.Data(NotificationSnapshot{
				Notifications: nonNilSlice(items),
				Unread:        views.UnreadCount(items),
			})
		})
	})
}

// pump forwards snapshots from a subscription to emit until ctx ends or a
// write fails, then unsubscribes. Only the newest pending snapshot is kept,
// so a slow client skips intermediate states.
func pump[T any](ctx context.Context, subscribe func(func([]T)) (func(), error), emit func([]T) error) {
	latest := make(chan []T, 1)
	var mu sync.Mutex
	unsubscribe, err := subscribe(func(items []T) {
		mu.Lock()
		defer mu.Unlock()
		select {
		case <-latest:
		default:
		}
		latest <- items
	})
	if err != nil {
		return
	}
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case items := <-latest:
			if err := emit(items); err != nil {
				return
			}
		}
	}
}
