package repo

import (
	"context"

	"microtask/internal/domain"
)

func (r Repo) ListNotifications(ctx context.Context, email string, limit int) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,to_email,message,action_route,created_at,is_read FROM notifications WHERE to_email=? ORDER BY id DESC LIMIT ?`,
		NormalizeEmail(email), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Notification
	for rows.Next() {
		var n domain.Notification
		if err := rows.Scan(&n.ID, &n.ToEmail, &n.Message, &n.ActionRoute, &n.CreatedAt, &n.IsRead); err != nil {
			return nil, err
		}
		res = append(res, n)
	}
	return res, rows.Err()
}

// MarkNotificationRead flips the read flag on a notification owned by email.
func (r Repo) MarkNotificationRead(ctx context.Context, id int64, email string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE notifications SET is_read=1 WHERE id=? AND to_email=?`, id, NormalizeEmail(email))
	if err != nil {
		return err
	}
	if ok, err := affected(res); err != nil {
		return err
	} else if !ok {
		return ErrNotFound
	}
	return nil
}

func (r Repo) CountUnread(ctx context.Context, email string) (int64, error) {
	var n int64
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM notifications WHERE to_email=? AND is_read=0`, NormalizeEmail(email)).Scan(&n)
	return n, err
}
