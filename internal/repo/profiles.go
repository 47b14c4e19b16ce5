package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"shaman/internal/domain"
	"shaman/internal/events"
	"shaman/internal/store"
)

func (r Repo) SaveProfile(ctx context.Context, userID string, p domain.ProfileData) error {
	if p.UpdatedAt == "" {
		p.UpdatedAt = r.now()
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return r.withTx(ctx, "save profile", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO profiles(user_id,data_json,updated_at) VALUES (?,?,?)
ON CONFLICT(user_id) DO UPDATE SET data_json=excluded.data_json, updated_at=excluded.updated_at`, userID, string(payload), p.UpdatedAt)
		if err != nil {
			return err
		}
		return r.Events.Append(ctx, tx, events.ProfileSaved, userID, "profile", userID, events.EventPayload{
			"has_signature": p.Signature != nil,
		})
	})
}

func (r Repo) GetProfile(ctx context.Context, userID string) (domain.ProfileData, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT data_json FROM profiles WHERE user_id=?`, userID).Scan(&payload)
	if err == sql.ErrNoRows {
		return domain.ProfileData{}, ErrNotFound
	}
	if err != nil {
		return domain.ProfileData{}, store.Unavailable("get profile", err)
	}
	var p domain.ProfileData
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return domain.ProfileData{}, store.Unavailable("decode profile", err)
	}
	return p, nil
}
