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
)

// PaymentOptions describe a completed coin purchase reported by the payment
// gateway. Email is the authenticated buyer.
type PaymentOptions struct {
	Email         string
	Coins         int64
	AmountCents   int64
	TransactionID string
}

// RecordPayment credits purchased coins. A gateway transaction id is accepted
// once; replays fail with ErrDuplicatePayment.
func (e Engine) RecordPayment(ctx context.Context, opts PaymentOptions) (p domain.Payment, err error) {
	ctx, span := e.start(ctx, "RecordPayment", attribute.Int64("payment.coins", opts.Coins))
	defer func() { finish(span, err) }()

	opts.TransactionID = strings.TrimSpace(opts.TransactionID)
	if opts.TransactionID == "" {
		return domain.Payment{}, invalid("transaction_id", "transaction id is required")
	}
	if opts.Coins <= 0 {
		return domain.Payment{}, invalid("coins", "must be positive")
	}
	if opts.AmountCents < 0 {
		return domain.Payment{}, invalid("amount_cents", "must not be negative")
	}
	if _, err := e.Auth.Require(ctx, nil, opts.Email, auth.RoleBuyer); err != nil {
		return domain.Payment{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Payment{}, err
	}
	defer tx.Rollback()

	seen, err := e.Repo.PaymentExists(ctx, tx, opts.TransactionID)
	if err != nil {
		return domain.Payment{}, err
	}
	if seen {
		return domain.Payment{}, fmt.Errorf("transaction %s: %w", opts.TransactionID, ErrDuplicatePayment)
	}
	buyer, err := e.Repo.GetUserByEmailTx(ctx, tx, opts.Email)
	if err != nil {
		return domain.Payment{}, err
	}
	p = domain.Payment{
		ID:            uuid.NewString(),
		Email:         buyer.Email,
		Coins:         opts.Coins,
		AmountCents:   opts.AmountCents,
		TransactionID: opts.TransactionID,
		CreatedAt:     e.timestamp(),
	}
	if err := e.Repo.InsertPayment(ctx, tx, p); err != nil {
		return domain.Payment{}, fmt.Errorf("insert payment: %w", err)
	}
	if _, err := e.Ledger().AdjustTx(ctx, tx, ledger.Adjustment{
		Email: buyer.Email, Delta: p.Coins, Reason: ledger.ReasonPaymentCredit, RefKind: "payment", RefID: p.ID,
	}); err != nil {
		return domain.Payment{}, fmt.Errorf("credit payment: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Payment{}, err
	}
	e.invalidate(ctx)
	return p, nil
}

func (e Engine) ListPayments(ctx context.Context, email string) ([]domain.Payment, error) {
	return e.Repo.ListPayments(ctx, email)
}
