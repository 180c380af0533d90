package repo

import (
	"context"
	"database/sql"
	"strings"

	"microtask/internal/domain"
)

const withdrawalColumns = `id,worker_email,COALESCE(worker_name,''),coins,amount_usd,COALESCE(payment_system,''),COALESCE(account_number,''),status,created_at,settled_at,settled_by`

func scanWithdrawal(row scanner) (domain.Withdrawal, error) {
	var w domain.Withdrawal
	var settledAt, settledBy sql.NullString
	err := row.Scan(&w.ID, &w.WorkerEmail, &w.WorkerName, &w.Coins, &w.AmountUSD, &w.PaymentSystem, &w.AccountNumber,
		&w.Status, &w.CreatedAt, &settledAt, &settledBy)
	if err == sql.ErrNoRows {
		return w, ErrNotFound
	}
	w.SettledAt = stringPtr(settledAt)
	w.SettledBy = stringPtr(settledBy)
	return w, err
}

func (r Repo) InsertWithdrawal(ctx context.Context, tx *sql.Tx, w domain.Withdrawal) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO withdrawals(id,worker_email,worker_name,coins,amount_usd,payment_system,account_number,status,created_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
		w.ID, w.WorkerEmail, nullable(w.WorkerName), w.Coins, w.AmountUSD, nullable(w.PaymentSystem), nullable(w.AccountNumber),
		w.Status, w.CreatedAt)
	return err
}

func (r Repo) GetWithdrawal(ctx context.Context, id string) (domain.Withdrawal, error) {
	return r.GetWithdrawalTx(ctx, nil, id)
}

func (r Repo) GetWithdrawalTx(ctx context.Context, tx *sql.Tx, id string) (domain.Withdrawal, error) {
	return scanWithdrawal(r.q(tx).QueryRowContext(ctx, `SELECT `+withdrawalColumns+` FROM withdrawals WHERE id=?`, id))
}

// SettleWithdrawal moves a pending withdrawal to a terminal status. It reports
// false when the withdrawal is no longer pending.
func (r Repo) SettleWithdrawal(ctx context.Context, tx *sql.Tx, id, status, settledAt, settledBy string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE withdrawals SET status=?, settled_at=?, settled_by=? WHERE id=? AND status='pending'`,
		status, settledAt, settledBy, id)
	if err != nil {
		return false, err
	}
	return affected(res)
}

type WithdrawalFilters struct {
	WorkerEmail string
	Status      string
	// Newest lists the latest requests first.
	Newest bool
}

func (r Repo) ListWithdrawals(ctx context.Context, f WithdrawalFilters) ([]domain.Withdrawal, error) {
	var clauses []string
	var args []any
	if f.WorkerEmail != "" {
		clauses = append(clauses, "worker_email=?")
		args = append(args, NormalizeEmail(f.WorkerEmail))
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	order := "created_at ASC, rowid ASC"
	if f.Newest {
		order = "created_at DESC, rowid DESC"
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+withdrawalColumns+` FROM withdrawals `+where+` ORDER BY `+order, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Withdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, rows.Err()
}
