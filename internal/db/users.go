package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrUserNotFound is returned when a Telegram user has no registry row.
var ErrUserNotFound = errors.New("user not found")

// User maps a Telegram account to a Kitsu account.
type User struct {
	TelegramID int64
	KitsuID    int64
	KitsuToken string
	UpdatedAt  int64
}

// GetUser returns the registry row for a Telegram user.
func GetUser(ctx context.Context, db *sql.DB, telegramID int64) (User, error) {
	var u User
	err := db.QueryRowContext(ctx,
		`SELECT telegram_id, kitsu_id, kitsu_token, updated_at FROM users WHERE telegram_id = ?`,
		telegramID,
	).Scan(&u.TelegramID, &u.KitsuID, &u.KitsuToken, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user %d: %w", telegramID, err)
	}
	return u, nil
}

// ListUsers returns every registry row ordered by Telegram id.
func ListUsers(ctx context.Context, db *sql.DB) ([]User, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT telegram_id, kitsu_id, kitsu_token, updated_at FROM users ORDER BY telegram_id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.TelegramID, &u.KitsuID, &u.KitsuToken, &u.UpdatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UpsertUsers inserts or updates the given rows and leaves the others alone.
func UpsertUsers(ctx context.Context, db *sql.DB, users []User) error {
	return withTx(ctx, db, func(tx *sql.Tx) error {
		return upsert(ctx, tx, users)
	})
}

// ReplaceUsers makes users the complete registry in one transaction.
func ReplaceUsers(ctx context.Context, db *sql.DB, users []User) error {
	return withTx(ctx, db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM users`); err != nil {
			return fmt.Errorf("clear users: %w", err)
		}
		return upsert(ctx, tx, users)
	})
}

func upsert(ctx context.Context, tx *sql.Tx, users []User) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO users (telegram_id, kitsu_id, kitsu_token, updated_at)
		VALUES (?, ?, ?, unixepoch())
		ON CONFLICT(telegram_id) DO UPDATE SET
			kitsu_id = excluded.kitsu_id,
			kitsu_token = excluded.kitsu_token,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("prepare user upsert: %w", err)
	}
	defer stmt.Close()

	for _, u := range users {
		if _, err := stmt.ExecContext(ctx, u.TelegramID, u.KitsuID, u.KitsuToken); err != nil {
			return fmt.Errorf("upsert user %d: %w", u.TelegramID, err)
		}
	}
	return nil
}

func withTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
