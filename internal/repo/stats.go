package repo

import (
	"context"

	"microtask/internal/domain"
)

func (r Repo) AdminStats(ctx context.Context) (domain.AdminStats, error) {
	var s domain.AdminStats
	err := r.DB.QueryRowContext(ctx, `SELECT
  (SELECT count(*) FROM users WHERE role='worker'),
  (SELECT count(*) FROM users WHERE role='buyer'),
  (SELECT COALESCE(SUM(coins),0) FROM users),
  (SELECT COALESCE(SUM(amount_usd),0) FROM withdrawals WHERE status='approved')`).
		Scan(&s.TotalWorkers, &s.TotalBuyers, &s.TotalAvailableCoin, &s.TotalPayments)
	return s, err
}

func (r Repo) BuyerStats(ctx context.Context, email string) (domain.BuyerStats, error) {
	email = NormalizeEmail(email)
	var s domain.BuyerStats
	err := r.DB.QueryRowContext(ctx, `SELECT
  (SELECT count(*) FROM tasks WHERE buyer_email=?),
  (SELECT COALESCE(SUM(required_workers),0) FROM tasks WHERE buyer_email=?),
  (SELECT COALESCE(SUM(payable_amount),0) FROM submissions WHERE buyer_email=? AND status='approved')`,
		email, email, email).
		Scan(&s.TotalTaskCount, &s.PendingTaskCount, &s.TotalPaymentPaid)
	return s, err
}

func (r Repo) WorkerStats(ctx context.Context, email string) (domain.WorkerStats, error) {
	email = NormalizeEmail(email)
	var s domain.WorkerStats
	err := r.DB.QueryRowContext(ctx, `SELECT
  (SELECT count(*) FROM submissions WHERE worker_email=?),
  (SELECT count(*) FROM submissions WHERE worker_email=? AND status='pending'),
  (SELECT COALESCE(SUM(payable_amount),0) FROM submissions WHERE worker_email=? AND status='approved')`,
		email, email, email).
		Scan(&s.TotalSubmission, &s.PendingSubmission, &s.TotalEarning)
	return s, err
}

// Holdings sums every user balance plus the coins reserved in open task slots
// and pending submissions.
func (r Repo) Holdings(ctx context.Context) (balances, reserved int64, err error) {
	err = r.DB.QueryRowContext(ctx, `SELECT
  (SELECT COALESCE(SUM(coins),0) FROM users),
  (SELECT COALESCE(SUM(required_workers*payable_amount),0) FROM tasks) +
  (SELECT COALESCE(SUM(payable_amount),0) FROM submissions WHERE status='pending')`).
		Scan(&balances, &reserved)
	return balances, reserved, err
}
