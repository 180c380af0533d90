package repo

import (
	"context"
	"database/sql"

	"microtask/internal/domain"
)

func (r Repo) InsertPayment(ctx context.Context, tx *sql.Tx, p domain.Payment) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO payments(id,email,coins,amount_cents,transaction_id,created_at) VALUES (?,?,?,?,?,?)`,
		p.ID, p.Email, p.Coins, p.AmountCents, p.TransactionID, p.CreatedAt)
	return err
}

// PaymentExists reports whether a gateway transaction was already recorded.
func (r Repo) PaymentExists(ctx context.Context, tx *sql.Tx, transactionID string) (bool, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT 1 FROM payments WHERE transaction_id=? LIMIT 1`, transactionID).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) ListPayments(ctx context.Context, email string) ([]domain.Payment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,email,coins,amount_cents,transaction_id,created_at FROM payments WHERE email=? ORDER BY created_at DESC, rowid DESC`,
		NormalizeEmail(email))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Payment
	for rows.Next() {
		var p domain.Payment
		if err := rows.Scan(&p.ID, &p.Email, &p.Coins, &p.AmountCents, &p.TransactionID, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}
