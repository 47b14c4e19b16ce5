package repo

import (
	"context"
	"database/sql"

	"shaman/internal/domain"
	"shaman/internal/events"
	"shaman/internal/store"
)

func (r Repo) InsertNotification(ctx context.Context, n domain.Notification) error {
	return r.withTx(ctx, "insert notification", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO notifications(id,user_id,type,title,message,created_at,read,actionable,document_name,task_id) VALUES (?,?,?,?,?,?,?,?,?,?)`,
			n.ID, n.UserID, string(n.Type), n.Title, n.Message, n.CreatedAt, n.Read, n.Actionable, nullableStringPtr(n.DocumentName), nullableStringPtr(n.TaskID))
		if err != nil {
			return err
		}
		return r.Events.Append(ctx, tx, events.NotificationCreated, n.UserID, "notification", n.ID, events.EventPayload{"type": n.Type})
	})
}

func (r Repo) ListNotifications(ctx context.Context, userID string) ([]domain.Notification, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,user_id,type,title,message,created_at,read,actionable,document_name,task_id FROM notifications WHERE user_id=? ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, store.Unavailable("list notifications", err)
	}
	defer rows.Close()
	res := []domain.Notification{}
	for rows.Next() {
		var n domain.Notification
		var docName, taskID sql.NullString
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message, &n.CreatedAt, &n.Read, &n.Actionable, &docName, &taskID); err != nil {
			return nil, store.Unavailable("list notifications", err)
		}
		n.DocumentName = stringPtr(docName)
		n.TaskID = stringPtr(taskID)
		res = append(res, n)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Unavailable("list notifications", err)
	}
	return res, nil
}

func (r Repo) MarkNotificationRead(ctx context.Context, userID, id string) error {
	return r.withTx(ctx, "mark notification read", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE notifications SET read=1 WHERE user_id=? AND id=?`, userID, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return r.Events.Append(ctx, tx, events.NotificationRead, userID, "notification", id, nil)
	})
}

func (r Repo) MarkAllNotificationsRead(ctx context.Context, userID string) error {
	return r.withTx(ctx, "mark notifications read", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE notifications SET read=1 WHERE user_id=? AND read=0`, userID)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		return r.Events.Append(ctx, tx, events.NotificationRead, userID, "notification", "", events.EventPayload{"count": n})
	})
}

func (r Repo) DeleteNotification(ctx context.Context, userID, id string) error {
	return r.withTx(ctx, "delete notification", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM notifications WHERE user_id=? AND id=?`, userID, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return r.Events.Append(ctx, tx, events.NotificationDeleted, userID, "notification", id, nil)
	})
}

func (r Repo) DeleteAllNotifications(ctx context.Context, userID string) error {
	return r.withTx(ctx, "clear notifications", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM notifications WHERE user_id=?`, userID)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		return r.Events.Append(ctx, tx, events.NotificationsCleared, userID, "notification", "", events.EventPayload{"count": n})
	})
}
