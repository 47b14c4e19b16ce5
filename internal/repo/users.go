package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"shaman/internal/events"
	"shaman/internal/store"
)

func (r Repo) InsertUser(ctx context.Context, a store.Account) error {
	u := a.User
	if u.UID == "" {
		return errors.New("uid required")
	}
	if u.Email == "" {
		return errors.New("email required")
	}
	return r.withTx(ctx, "insert user", func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM users WHERE email=?`, u.Email).Scan(&exists); err != nil {
			return err
		}
		if exists > 0 {
			return store.ErrConflict
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO users(uid,email,password_hash,display_name,photo_url,provider,email_consent,created_at,last_login_at) VALUES (?,?,?,?,?,?,?,?,?)`,
			u.UID, u.Email, nullable(a.PasswordHash), nullableStringPtr(u.DisplayName), nullableStringPtr(u.PhotoURL), u.Provider, u.EmailConsent, u.CreatedAt, nullable(u.LastLoginAt))
		if err != nil {
			return err
		}
		return r.Events.Append(ctx, tx, events.UserCreated, u.UID, "user", u.UID, events.EventPayload{"provider": u.Provider})
	})
}

const userColumns = `uid,email,COALESCE(password_hash,''),display_name,photo_url,provider,email_consent,created_at,COALESCE(last_login_at,'')`

func scanAccount(row rowScanner) (store.Account, error) {
	var a store.Account
	var displayName, photoURL sql.NullString
	err := row.Scan(&a.User.UID, &a.User.Email, &a.PasswordHash, &displayName, &photoURL, &a.User.Provider, &a.User.EmailConsent, &a.User.CreatedAt, &a.User.LastLoginAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, store.Unavailable("get user", err)
	}
	a.User.DisplayName = stringPtr(displayName)
	a.User.PhotoURL = stringPtr(photoURL)
	return a, nil
}

func (r Repo) GetUser(ctx context.Context, uid string) (store.Account, error) {
	return scanAccount(r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE uid=?`, uid))
}

func (r Repo) GetUserByEmail(ctx context.Context, email string) (store.Account, error) {
	return scanAccount(r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email=?`, strings.TrimSpace(email)))
}

func (r Repo) TouchUserLogin(ctx context.Context, uid, ts string) error {
	return r.execOne(ctx, "touch user login", `UPDATE users SET last_login_at=? WHERE uid=?`, ts, uid)
}

func (r Repo) SetEmailConsent(ctx context.Context, uid string, consent bool) error {
	return r.execOne(ctx, "set email consent", `UPDATE users SET email_consent=? WHERE uid=?`, consent, uid)
}

func (r Repo) SetPasswordHash(ctx context.Context, uid, hash string) error {
	return r.withTx(ctx, "set password", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE users SET password_hash=? WHERE uid=?`, hash, uid)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return r.Events.Append(ctx, tx, events.PasswordChanged, uid, "user", uid, nil)
	})
}

func (r Repo) SavePasswordReset(ctx context.Context, tokenHash, uid, expiresAt string) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO password_resets(token_hash,uid,expires_at) VALUES (?,?,?)`, tokenHash, uid, expiresAt)
	return store.Unavailable("save password reset", err)
}

// ConsumePasswordReset deletes the token and returns its owner. Expired tokens
// are deleted too and reported as not found.
func (r Repo) ConsumePasswordReset(ctx context.Context, tokenHash, now string) (string, error) {
	var uid string
	err := r.withTx(ctx, "consume password reset", func(tx *sql.Tx) error {
		var expiresAt string
		err := tx.QueryRowContext(ctx, `SELECT uid,expires_at FROM password_resets WHERE token_hash=?`, tokenHash).Scan(&uid, &expiresAt)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM password_resets WHERE token_hash=?`, tokenHash); err != nil {
			return err
		}
		if expiresAt < now {
			uid = ""
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if uid == "" {
		return "", ErrNotFound
	}
	return uid, nil
}

func (r Repo) RevokeSession(ctx context.Context, sessionID, expiresAt, now string) error {
	return r.withTx(ctx, "revoke session", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM revoked_sessions WHERE expires_at < ?`, now); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO revoked_sessions(session_id,expires_at) VALUES (?,?)
			ON CONFLICT(session_id) DO UPDATE SET expires_at=excluded.expires_at`, sessionID, expiresAt)
		return err
	})
}

func (r Repo) SessionRevoked(ctx context.Context, sessionID string) (bool, error) {
	var n int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(1) FROM revoked_sessions WHERE session_id=?`, sessionID).Scan(&n); err != nil {
		return false, store.Unavailable("session revoked", err)
	}
	return n > 0, nil
}

func (r Repo) execOne(ctx context.Context, op, query string, args ...any) error {
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return store.Unavailable(op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
