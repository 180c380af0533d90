package engine

import (
	"context"
	"errors"

	"microtask/internal/domain"
	"microtask/internal/engine/auth"
	"microtask/internal/repo"
)

// ListNotifications returns the recipient's notifications, newest first.
// Only the recipient or an admin may read them.
func (e Engine) ListNotifications(ctx context.Context, email, requester string) ([]domain.Notification, error) {
	if err := e.requireSelfOrAdmin(ctx, email, requester); err != nil {
		return nil, err
	}
	return e.Repo.ListNotifications(ctx, email, 0)
}

// MarkRead flags one of the requester's notifications as read.
func (e Engine) MarkRead(ctx context.Context, id int64, requester string) error {
	return e.Repo.MarkNotificationRead(ctx, id, requester)
}

// UnreadCount returns how many of the recipient's notifications are unread.
func (e Engine) UnreadCount(ctx context.Context, email, requester string) (int64, error) {
	if err := e.requireSelfOrAdmin(ctx, email, requester); err != nil {
		return 0, err
	}
	return e.Repo.CountUnread(ctx, email)
}

// LedgerView is a balance with its most recent journal entries.
type LedgerView struct {
	Email   string               `json:"email"`
	Balance int64                `json:"balance"`
	Entries []domain.LedgerEntry `json:"entries"`
}

func (e Engine) LedgerView(ctx context.Context, email, requester string, limit int) (LedgerView, error) {
	if err := e.requireSelfOrAdmin(ctx, email, requester); err != nil {
		return LedgerView{}, err
	}
	store := e.Ledger()
	bal, err := store.Balance(ctx, email)
	if err != nil {
		return LedgerView{}, err
	}
	entries, err := store.Journal(ctx, email, limit)
	if err != nil {
		return LedgerView{}, err
	}
	return LedgerView{Email: repo.NormalizeEmail(email), Balance: bal, Entries: entries}, nil
}

func (e Engine) requireSelfOrAdmin(ctx context.Context, email, requester string) error {
	if repo.NormalizeEmail(email) == repo.NormalizeEmail(requester) {
		return nil
	}
	var forbidden auth.ForbiddenError
	if _, err := e.Auth.Require(ctx, nil, requester, auth.RoleAdmin); errors.As(err, &forbidden) {
		return auth.Forbidden("only the owner or an admin may read this")
	} else if err != nil {
		return err
	}
	return nil
}
