package notification

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"attendance-portal/internal/store"
)

// Store is the notification persistence the workflow depends on.
type Store interface {
	Create(ctx context.Context, n Notification) error
	Get(ctx context.Context, id string) (Notification, error)
	ListForUser(ctx context.Context, userID string) ([]Notification, error)
	// Transition moves a notification to status `to` only while its current
	// status is one of `from`. It reports false when nothing changed.
	Transition(ctx context.Context, id string, from []Status, to Status) (bool, error)
	Delete(ctx context.Context, id string) error
	DeleteAllForUser(ctx context.Context, userID string) (int, error)
	CountUnread(ctx context.Context, userID string) (int, error)
}

// Repository persists notifications in Postgres.
type Repository struct {
	db store.Execer
}

// NewRepository creates a repo.
func NewRepository(db store.Execer) *Repository {
	return &Repository{db: db}
}

const columns = `id, to_user_id, from_user_id, from_user_name, type, status, data, ts`

func (r *Repository) Create(ctx context.Context, n Notification) error {
	raw, err := json.Marshal(n.Data)
	if err != nil {
		return fmt.Errorf("encode notification data: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO notifications (`+columns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, n.ID, n.ToUserID, n.FromUserID, n.FromUserName, string(n.Type), string(n.Status), raw, n.Timestamp)
	return store.MapError(err)
}

func (r *Repository) Get(ctx context.Context, id string) (Notification, error) {
	n, err := scan(r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM notifications WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Notification{}, ErrNotFound
	}
	return n, err
}

// ListForUser returns a user's inbox, newest first.
func (r *Repository) ListForUser(ctx context.Context, userID string) ([]Notification, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+columns+` FROM notifications WHERE to_user_id = $1 ORDER BY ts DESC, id`, userID)
	if err != nil {
		return nil, store.MapError(err)
	}
	defer rows.Close()
	var res []Notification
	for rows.Next() {
		n, err := scan(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, n)
	}
	return res, rows.Err()
}

func (r *Repository) Transition(ctx context.Context, id string, from []Status, to Status) (bool, error) {
	allowed := make([]string, 0, len(from))
	for _, s := range from {
		allowed = append(allowed, string(s))
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET status = $2 WHERE id = $1 AND status = ANY($3)`,
		id, string(to), allowed,
	)
	if err != nil {
		return false, store.MapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM notifications WHERE id = $1`, id)
	if err != nil {
		return store.MapError(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) DeleteAllForUser(ctx context.Context, userID string) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM notifications WHERE to_user_id = $1`, userID)
	if err != nil {
		return 0, store.MapError(err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// CountUnread counts notifications the user has not opened yet.
func (r *Repository) CountUnread(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM notifications WHERE to_user_id = $1 AND status = $2`,
		userID, string(StatusPending),
	).Scan(&n)
	return n, store.MapError(err)
}

func scan(row interface{ Scan(...any) error }) (Notification, error) {
	var (
		n       Notification
		typ, st string
		rawData []byte
	)
	if err := row.Scan(&n.ID, &n.ToUserID, &n.FromUserID, &n.FromUserName, &typ, &st, &rawData, &n.Timestamp); err != nil {
		return Notification{}, err
	}
	n.Type = Type(typ)
	n.Status = Status(st)
	if len(rawData) > 0 {
		if err := json.Unmarshal(rawData, &n.Data); err != nil {
			return Notification{}, fmt.Errorf("decode notification %s: %w", n.ID, err)
		}
	}
	return n, nil
}
