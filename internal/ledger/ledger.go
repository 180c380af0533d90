// Package ledger is the only writer of user coin balances. Every adjustment is
// a single conditional UPDATE, so the non-negative bound is checked atomically
// with the change, and each change is journaled in the same transaction.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"microtask/internal/domain"
	"microtask/internal/repo"
)

var ErrInsufficientFunds = errors.New("insufficient coins")

// Journal reasons.
const (
	ReasonTaskReserve      = "task.reserve"
	ReasonTaskRefund       = "task.refund"
	ReasonSubmissionPayout = "submission.payout"
	ReasonWithdrawalDebit  = "withdrawal.debit"
	ReasonPaymentCredit    = "payment.credit"
	ReasonSignupBonus      = "signup.bonus"
)

type Adjustment struct {
	Email   string
	Delta   int64
	Reason  string
	RefKind string
	RefID   string
}

type Store struct {
	DB  *sql.DB
	Now func() time.Time
}

func (s Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Adjust applies a in its own transaction and returns the new balance.
func (s Store) Adjust(ctx context.Context, a Adjustment) (int64, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	balance, err := s.AdjustTx(ctx, tx, a)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return balance, nil
}

// AdjustTx applies a inside tx. The change only becomes visible when the
// caller commits, together with whatever else the caller wrote.
func (s Store) AdjustTx(ctx context.Context, tx *sql.Tx, a Adjustment) (int64, error) {
	if a.Delta == 0 {
		return 0, errors.New("ledger delta must be non-zero")
	}
	if a.Reason == "" {
		return 0, errors.New("ledger reason required")
	}
	email := repo.NormalizeEmail(a.Email)
	var balance int64
	err := tx.QueryRowContext(ctx, `UPDATE users SET coins = coins + ? WHERE email=? AND coins + ? >= 0 RETURNING coins`,
		a.Delta, email, a.Delta).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		var exists int
		switch lookupErr := tx.QueryRowContext(ctx, `SELECT 1 FROM users WHERE email=?`, email).Scan(&exists); {
		case errors.Is(lookupErr, sql.ErrNoRows):
			return 0, fmt.Errorf("user %s: %w", email, repo.ErrNotFound)
		case lookupErr != nil:
			return 0, lookupErr
		}
		return 0, fmt.Errorf("adjust %s by %d: %w", email, a.Delta, ErrInsufficientFunds)
	}
	if err != nil {
		return 0, fmt.Errorf("adjust %s: %w", email, err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO ledger_entries(user_email,delta,balance_after,reason,ref_kind,ref_id,created_at) VALUES (?,?,?,?,?,?,?)`,
		email, a.Delta, balance, a.Reason, nullable(a.RefKind), nullable(a.RefID), s.now().UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("journal %s: %w", email, err)
	}
	return balance, nil
}

func (s Store) Balance(ctx context.Context, email string) (int64, error) {
	var coins int64
	err := s.DB.QueryRowContext(ctx, `SELECT coins FROM users WHERE email=?`, repo.NormalizeEmail(email)).Scan(&coins)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, repo.ErrNotFound
	}
	return coins, err
}

// Journal returns the most recent entries for email, newest first.
func (s Store) Journal(ctx context.Context, email string, limit int) ([]domain.LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT id,user_email,delta,balance_after,reason,COALESCE(ref_kind,''),COALESCE(ref_id,''),created_at
FROM ledger_entries WHERE user_email=? ORDER BY id DESC LIMIT ?`, repo.NormalizeEmail(email), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		if err := rows.Scan(&e.ID, &e.UserEmail, &e.Delta, &e.BalanceAfter, &e.Reason, &e.RefKind, &e.RefID, &e.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// JournalSum returns the sum of all journaled deltas for email.
func (s Store) JournalSum(ctx context.Context, email string) (int64, error) {
	var sum int64
	err := s.DB.QueryRowContext(ctx, `SELECT COALESCE(SUM(delta),0) FROM ledger_entries WHERE user_email=?`, repo.NormalizeEmail(email)).Scan(&sum)
	return sum, err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
