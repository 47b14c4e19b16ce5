package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"shaman/internal/domain"
	"shaman/internal/events"
	"shaman/internal/store"
)

// Repo is the SQLite implementation of store.Store. Every mutation runs in
// a transaction that also appends an audit event.
type Repo struct {
	DB     *sql.DB
	Events events.Writer
	Now    func() time.Time
}

var ErrNotFound = store.ErrNotFound

var (
	_ store.Store    = Repo{}
	_ store.EventLog = Repo{}
)

func New(db *sql.DB) Repo {
	return Repo{DB: db, Events: events.Writer{}, Now: time.Now}
}

func (r Repo) Close() error {
	return r.DB.Close()
}

func (r Repo) now() string {
	now := r.Now
	if now == nil {
		now = time.Now
	}
	return now().UTC().Format(time.RFC3339)
}

// withTx runs fn in a transaction and commits when it returns nil.
func (r Repo) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return store.Unavailable(op, err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return store.Unavailable(op, err)
	}
	if err := tx.Commit(); err != nil {
		return store.Unavailable(op, err)
	}
	return nil
}

const taskColumns = `id,user_id,title,description,status,priority,category,model,created_at,scheduled_for,is_recurring,recurring_pattern,estimated_time,progress,agent_id,agent_label,agent_description,is_error,error_message,completed_at,needed_data,start_time,attachments_json,steps_json,completion_proof_json`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (domain.Task, error) {
	var (
		t                                          domain.Task
		scheduledFor, recurringPattern, estimated  sql.NullString
		agentID, agentLabel, agentDesc, errMessage sql.NullString
		completedAt, neededData                    sql.NullString
		attachments, steps, proof                  sql.NullString
		isRecurring, isError                       sql.NullBool
		progress, startTime                        sql.NullInt64
	)
	err := row.Scan(&t.ID, &t.UserID, &t.Title, &t.Description, &t.Status, &t.Priority, &t.Category, &t.Model, &t.CreatedAt,
		&scheduledFor, &isRecurring, &recurringPattern, &estimated, &progress, &agentID, &agentLabel, &agentDesc,
		&isError, &errMessage, &completedAt, &neededData, &startTime, &attachments, &steps, &proof)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.ScheduledFor = stringPtr(scheduledFor)
	t.IsRecurring = boolPtr(isRecurring)
	if recurringPattern.Valid {
		p := domain.RecurringPattern(recurringPattern.String)
		t.RecurringPattern = &p
	}
	t.EstimatedTime = stringPtr(estimated)
	if progress.Valid {
		v := int(progress.Int64)
		t.Progress = &v
	}
	t.AgentID = stringPtr(agentID)
	t.AgentLabel = stringPtr(agentLabel)
	t.AgentDescription = stringPtr(agentDesc)
	t.IsError = boolPtr(isError)
	t.ErrorMessage = stringPtr(errMessage)
	t.CompletedAt = stringPtr(completedAt)
	t.NeededData = stringPtr(neededData)
	if startTime.Valid {
		v := startTime.Int64
		t.StartTime = &v
	}
	if attachments.Valid {
		if err := json.Unmarshal([]byte(attachments.String), &t.Attachments); err != nil {
			return t, fmt.Errorf("decode attachments for task %s: %w", t.ID, err)
		}
	}
	if steps.Valid {
		if err := json.Unmarshal([]byte(steps.String), &t.Steps); err != nil {
			return t, fmt.Errorf("decode steps for task %s: %w", t.ID, err)
		}
	}
	if proof.Valid {
		var cp domain.CompletionProof
		if err := json.Unmarshal([]byte(proof.String), &cp); err != nil {
			return t, fmt.Errorf("decode completion proof for task %s: %w", t.ID, err)
		}
		t.CompletionProof = &cp
	}
	return t, nil
}

func taskArgs(t domain.Task) ([]any, error) {
	attachments, err := marshalSlice(t.Attachments)
	if err != nil {
		return nil, err
	}
	steps, err := marshalSlice(t.Steps)
	if err != nil {
		return nil, err
	}
	var proof any
	if t.CompletionProof != nil {
		b, err := json.Marshal(t.CompletionProof)
		if err != nil {
			return nil, err
		}
		proof = string(b)
	}
	var recurring any
	if t.RecurringPattern != nil {
		recurring = string(*t.RecurringPattern)
	}
	return []any{
		t.ID, t.UserID, t.Title, t.Description, string(t.Status), string(t.Priority), string(t.Category), string(t.Model), t.CreatedAt,
		nullableStringPtr(t.ScheduledFor), nullableBoolPtr(t.IsRecurring), recurring, nullableStringPtr(t.EstimatedTime),
		nullableIntPtr(t.Progress), nullableStringPtr(t.AgentID), nullableStringPtr(t.AgentLabel), nullableStringPtr(t.AgentDescription),
		nullableBoolPtr(t.IsError), nullableStringPtr(t.ErrorMessage), nullableStringPtr(t.CompletedAt), nullableStringPtr(t.NeededData),
		nullableInt64Ptr(t.StartTime), attachments, steps, proof,
	}, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func marshalSlice[T any](items []T) (any, error) {
	if len(items) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(items)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func boolPtr(v sql.NullBool) *bool {
	if !v.Valid {
		return nil
	}
	b := v.Bool
	return &b
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableBoolPtr(v *bool) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableInt64Ptr(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
