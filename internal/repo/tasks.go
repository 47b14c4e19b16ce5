package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"shaman/internal/domain"
	"shaman/internal/events"
	"shaman/internal/store"
)

func (r Repo) InsertTask(ctx context.Context, t domain.Task) error {
	args, err := taskArgs(t)
	if err != nil {
		return err
	}
	return r.withTx(ctx, "insert task", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (`+placeholders(len(args))+`)`, args...); err != nil {
			return err
		}
		return r.Events.Append(ctx, tx, events.TaskCreated, t.UserID, "task", t.ID, events.EventPayload{
			"title":    t.Title,
			"status":   t.Status,
			"priority": t.Priority,
			"model":    t.Model,
		})
	})
}

func (r Repo) GetTask(ctx context.Context, userID, taskID string) (domain.Task, error) {
	t, err := scanTask(r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE user_id=? AND id=?`, userID, taskID))
	if err != nil {
		return t, store.Unavailable("get task", err)
	}
	return t, nil
}

func (r Repo) ListTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE user_id=? ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, store.Unavailable("list tasks", err)
	}
	defer rows.Close()
	res := []domain.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, store.Unavailable("list tasks", err)
		}
		res = append(res, t)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Unavailable("list tasks", err)
	}
	return res, nil
}

// UpdateTask merges patch into the stored task. There is no version check;
// the last write wins.
func (r Repo) UpdateTask(ctx context.Context, userID, taskID string, patch domain.TaskPatch) (domain.Task, error) {
	var updated domain.Task
	err := r.withTx(ctx, "update task", func(tx *sql.Tx) error {
		t, err := scanTask(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE user_id=? AND id=?`, userID, taskID))
		if err != nil {
			return err
		}
		from := t.Status
		patch.Apply(&t)
		args, err := taskArgs(t)
		if err != nil {
			return err
		}
		// Every column is rewritten; id and user_id come back unchanged from the stored row.
		_, err = tx.ExecContext(ctx, `UPDATE tasks SET (`+taskColumns+`) = (`+placeholders(len(args))+`) WHERE user_id=? AND id=?`,
			append(args, userID, taskID)...)
		if err != nil {
			return err
		}
		updated = t
		return r.Events.Append(ctx, tx, events.TaskUpdated, userID, "task", taskID, events.EventPayload{
			"from_status": from,
			"to_status":   t.Status,
		})
	})
	return updated, err
}

func (r Repo) DeleteTask(ctx context.Context, userID, taskID string) error {
	return r.withTx(ctx, "delete task", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE user_id=? AND id=?`, userID, taskID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return r.Events.Append(ctx, tx, events.TaskDeleted, userID, "task", taskID, nil)
	})
}

// MirrorPendingTask copies the task into the shared pending-work table that
// the external worker consumes.
func (r Repo) MirrorPendingTask(ctx context.Context, t domain.Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO pending_tasks(task_id,user_id,task_json,created_at) VALUES (?,?,?,?)
ON CONFLICT(task_id) DO UPDATE SET task_json=excluded.task_json`, t.ID, t.UserID, string(data), r.now())
	return store.Unavailable("mirror pending task", err)
}

func (r Repo) DeletePendingTask(ctx context.Context, taskID string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM pending_tasks WHERE task_id=?`, taskID)
	if err != nil {
		return store.Unavailable("delete pending task", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListPendingTasks(ctx context.Context, limit int) ([]domain.Task, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT task_json FROM pending_tasks ORDER BY created_at ASC, task_id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, store.Unavailable("list pending tasks", err)
	}
	defer rows.Close()
	res := []domain.Task{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, store.Unavailable("list pending tasks", err)
		}
		var t domain.Task
		if err := json.Unmarshal([]byte(payload), &t); err != nil {
			return nil, store.Unavailable("decode pending task", err)
		}
		res = append(res, t)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Unavailable("list pending tasks", err)
	}
	return res, nil
}
