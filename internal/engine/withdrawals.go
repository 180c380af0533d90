package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"microtask/internal/domain"
	"microtask/internal/engine/auth"
	"microtask/internal/ledger"
	"microtask/internal/notify"
	"microtask/internal/repo"
)

// WithdrawalRequest are parameters for requesting a payout. WorkerEmail is
// the authenticated caller.
type WithdrawalRequest struct {
	WorkerEmail   string
	Coins         int64
	PaymentSystem string
	AccountNumber string
}

// RequestWithdrawal records a pending payout request. No coins move and the
// balance is not checked until an admin approves it.
func (e Engine) RequestWithdrawal(ctx context.Context, req WithdrawalRequest) (w domain.Withdrawal, err error) {
	ctx, span := e.start(ctx, "RequestWithdrawal", attribute.Int64("withdrawal.coins", req.Coins))
	defer func() { finish(span, err) }()

	cfg, err := e.config()
	if err != nil {
		return domain.Withdrawal{}, err
	}
	if req.Coins <= 0 {
		return domain.Withdrawal{}, invalid("coins", "must be positive")
	}
	if req.Coins < cfg.Withdrawals.MinCoins {
		return domain.Withdrawal{}, invalid("coins", "minimum withdrawal is %d coins", cfg.Withdrawals.MinCoins)
	}
	if _, err := e.Auth.Require(ctx, nil, req.WorkerEmail, auth.RoleWorker); err != nil {
		return domain.Withdrawal{}, err
	}
	worker, err := e.Repo.GetUserByEmail(ctx, req.WorkerEmail)
	if err != nil {
		return domain.Withdrawal{}, err
	}
	w = domain.Withdrawal{
		ID:            uuid.NewString(),
		WorkerEmail:   worker.Email,
		WorkerName:    worker.Name,
		Coins:         req.Coins,
		AmountUSD:     float64(req.Coins) / float64(cfg.Withdrawals.CoinsPerDollar),
		PaymentSystem: strings.TrimSpace(req.PaymentSystem),
		AccountNumber: strings.TrimSpace(req.AccountNumber),
		Status:        domain.StatusPending,
		CreatedAt:     e.timestamp(),
	}
	if err := e.Repo.InsertWithdrawal(ctx, nil, w); err != nil {
		return domain.Withdrawal{}, fmt.Errorf("insert withdrawal: %w", err)
	}
	return w, nil
}

// Settle approves or denies a pending withdrawal. Approval debits the worker;
// if the balance no longer covers the request nothing is written and the
// withdrawal stays pending.
func (e Engine) Settle(ctx context.Context, withdrawalID, decision, approver string) (w domain.Withdrawal, err error) {
	ctx, span := e.start(ctx, "Settle",
		attribute.String("withdrawal.id", withdrawalID),
		attribute.String("withdrawal.decision", decision))
	defer func() { finish(span, err) }()

	if decision != domain.StatusApproved && decision != domain.StatusDenied {
		return domain.Withdrawal{}, invalid("status", "decision must be approved or denied")
	}
	if _, err := e.Auth.Require(ctx, nil, approver, auth.RoleAdmin); err != nil {
		return domain.Withdrawal{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Withdrawal{}, err
	}
	defer tx.Rollback()

	w, err = e.Repo.GetWithdrawalTx(ctx, tx, withdrawalID)
	if err != nil {
		return domain.Withdrawal{}, err
	}
	if err := ensureWithdrawalTransition(w.Status, decision); err != nil {
		return domain.Withdrawal{}, err
	}
	settledAt := e.timestamp()
	settledBy := repo.NormalizeEmail(approver)
	ok, err := e.Repo.SettleWithdrawal(ctx, tx, w.ID, decision, settledAt, settledBy)
	if err != nil {
		return domain.Withdrawal{}, err
	}
	if !ok {
		return domain.Withdrawal{}, fmt.Errorf("withdrawal %s: %w", w.ID, ErrAlreadyReviewed)
	}
	w.Status = decision
	w.SettledAt = &settledAt
	w.SettledBy = &settledBy

	var msg string
	switch decision {
	case domain.StatusApproved:
		if _, err := e.Ledger().AdjustTx(ctx, tx, ledger.Adjustment{
			Email: w.WorkerEmail, Delta: -w.Coins, Reason: ledger.ReasonWithdrawalDebit, RefKind: "withdrawal", RefID: w.ID,
		}); err != nil {
			return domain.Withdrawal{}, fmt.Errorf("debit worker: %w", err)
		}
		msg = fmt.Sprintf("Admin approved your withdrawal request of %d coins", w.Coins)
	case domain.StatusDenied:
		msg = fmt.Sprintf("Admin denied your withdrawal request of %d coins", w.Coins)
	}
	if err := e.notifier().Append(ctx, tx, w.WorkerEmail, msg, notify.RouteWorkerHome); err != nil {
		return domain.Withdrawal{}, fmt.Errorf("notify worker: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Withdrawal{}, err
	}
	e.invalidate(ctx)
	return w, nil
}

// ListPendingWithdrawals returns requests awaiting settlement, oldest first.
func (e Engine) ListPendingWithdrawals(ctx context.Context, requester string) ([]domain.Withdrawal, error) {
	if _, err := e.Auth.Require(ctx, nil, requester, auth.RoleAdmin); err != nil {
		return nil, err
	}
	return e.Repo.ListWithdrawals(ctx, repo.WithdrawalFilters{Status: domain.StatusPending})
}

// ListWorkerWithdrawals returns a worker's requests, newest first.
func (e Engine) ListWorkerWithdrawals(ctx context.Context, workerEmail string) ([]domain.Withdrawal, error) {
	return e.Repo.ListWithdrawals(ctx, repo.WithdrawalFilters{WorkerEmail: workerEmail, Newest: true})
}
