package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"shaman/internal/domain"
	"shaman/internal/engine"
	"shaman/internal/views"
)

type taskPath struct {
	TaskID string `path:"task_id"`
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		draft, err := input.Body.draft()
		if err != nil {
			return nil, handleError("create task", err)
		}
		id, err := e.CreateTask(ctx, userID, draft)
		if err != nil {
			return nil, handleError("create task", err)
		}
		t, err := e.GetTask(ctx, userID, id)
		if err != nil {
			return nil, handleError("load task", err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"all,pending,in-progress,scheduled,completed,need-input" default:"all"`
		Query  string `query:"q"`
		Sort   string `query:"sort" enum:"newest,oldest,priority,scheduled" default:"newest"`
		Limit  int    `query:"limit"`
	}) (*struct {
		Body TaskListResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		by, err := views.ParseSort(input.Sort)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"sort": input.Sort})
		}
		tasks, err := e.ListTasks(ctx, userID)
		if err != nil {
			return nil, handleError("load tasks", err)
		}
		visible := views.SortTasks(views.FilterTasks(tasks, views.Filter{Status: input.Status, Query: input.Query}), by)
		total := len(visible)
		if limit := normalizeLimit(e, input.Limit); len(visible) > limit {
			visible = visible[:limit]
		}
		return &struct {
			Body TaskListResponse `json:"body"`
		}{Body: TaskListResponse{
			Items:  nonNilSlice(visible),
			Counts: views.CountByStatus(tasks),
			Total:  total,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "task-stats",
		Method:      http.MethodGet,
		Path:        "/tasks/stats",
		Summary:     "Task overview numbers",
		Errors:      []int{http.StatusUnauthorized, http.StatusServiceUnavailable},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body views.Stats `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tasks, err := e.ListTasks(ctx, userID)
		if err != nil {
			return nil, handleError("load tasks", err)
		}
		return &struct {
			Body views.Stats `json:"body"`
		}{Body: views.Summarize(tasks)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *taskPath) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.GetTask(ctx, userID, input.TaskID)
		if err != nil {
			return nil, handleError("load task", err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{task_id}",
		Summary:     "Update task",
		Description: "Merges the given fields. Status changes follow the transition table unless force is set.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string           `path:"task_id"`
		Force  bool             `query:"force"`
		Body   domain.TaskPatch `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.Empty() {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "no fields to update", nil)
		}
		t, err := e.UpdateTask(ctx, userID, input.TaskID, input.Body, engine.UpdateOptions{Force: input.Force})
		if err != nil {
			return nil, handleError("update task", err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-task",
		Method:        http.MethodDelete,
		Path:          "/tasks/{task_id}",
		Summary:       "Delete task",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusUnauthorized, http.StatusNotFound, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *taskPath) (*struct{}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteTask(ctx, userID, input.TaskID); err != nil {
			return nil, handleError("delete task", err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "restart-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/restart",
		Summary:     "Queue a task again and clear its error",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound, http.StatusConflict, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *taskPath) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.RestartTask(ctx, userID, input.TaskID)
		if err != nil {
			return nil, handleError("restart task", err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "provide-task-input",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/input",
		Summary:     "Answer a task waiting for input",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string              `path:"task_id"`
		Body   ProvideInputRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.ProvideInput(ctx, userID, input.TaskID, input.Body.Data)
		if err != nil {
			return nil, handleError("update task", err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})
}

func registerNotifications(api huma.API, e engine.Engine) {
	type notificationPath struct {
		NotificationID string `path:"notification_id"`
	}

	huma.Register(api, huma.Operation{
		OperationID:   "create-notification",
		Method:        http.MethodPost,
		Path:          "/notifications",
		Summary:       "Create notification",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		Body CreateNotificationRequest `json:"body"`
	}) (*struct {
		Body domain.Notification `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, err := e.CreateNotification(ctx, userID, engine.NotificationDraft{
			Type:         input.Body.Type,
			Title:        input.Body.Title,
			Message:      input.Body.Message,
			Actionable:   input.Body.Actionable,
			DocumentName: input.Body.DocumentName,
			TaskID:       input.Body.TaskID,
		})
		if err != nil {
			return nil, handleError("create notification", err)
		}
		return &struct {
			Body domain.Notification `json:"body"`
		}{Body: n}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-notifications",
		Method:      http.MethodGet,
		Path:        "/notifications",
		Summary:     "List notifications",
		Errors:      []int{http.StatusUnauthorized, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		Filter string `query:"filter" enum:"all,unread,actionable" default:"all"`
	}) (*struct {
		Body NotificationListResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListNotifications(ctx, userID)
		if err != nil {
			return nil, handleError("load notifications", err)
		}
		return &struct {
			Body NotificationListResponse `json:"body"`
		}{Body: NotificationListResponse{
			Items:  views.FilterNotifications(items, views.NotificationFilter(input.Filter)),
			Unread: views.UnreadCount(items),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "read-all-notifications",
		Method:        http.MethodPost,
		Path:          "/notifications/read-all",
		Summary:       "Mark every notification read",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusUnauthorized, http.StatusServiceUnavailable},
	}, func(ctx context.Context, _ *struct{}) (*struct{}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.MarkAllNotificationsRead(ctx, userID); err != nil {
			return nil, handleError("update notifications", err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "read-notification",
		Method:        http.MethodPost,
		Path:          "/notifications/{notification_id}/read",
		Summary:       "Mark a notification read",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusUnauthorized, http.StatusNotFound, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *notificationPath) (*struct{}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.MarkNotificationRead(ctx, userID, input.NotificationID); err != nil {
			return nil, handleError("update notification", err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-notification",
		Method:        http.MethodDelete,
		Path:          "/notifications/{notification_id}",
		Summary:       "Delete a notification",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusUnauthorized, http.StatusNotFound, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *notificationPath) (*struct{}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteNotification(ctx, userID, input.NotificationID); err != nil {
			return nil, handleError("delete notification", err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "clear-notifications",
		Method:        http.MethodDelete,
		Path:          "/notifications",
		Summary:       "Delete every notification",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusUnauthorized, http.StatusServiceUnavailable},
	}, func(ctx context.Context, _ *struct{}) (*struct{}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.ClearNotifications(ctx, userID); err != nil {
			return nil, handleError("clear notifications", err)
		}
		return &struct{}{}, nil
	})
}
