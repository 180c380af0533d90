package engine

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"microtask/internal/domain"
	"microtask/internal/engine/auth"
	"microtask/internal/ledger"
	"microtask/internal/repo"
)

// TaskCreateOptions are parameters for creating a task. BuyerEmail is the
// authenticated caller.
type TaskCreateOptions struct {
	BuyerEmail      string
	Title           string
	Detail          string
	ImageURL        string
	SubmissionInfo  string
	RequiredWorkers int64
	PayableAmount   int64
	CompletionDate  string
}

// CreateTask reserves RequiredWorkers*PayableAmount coins from the buyer and
// persists the task. The debit and the insert commit together.
func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (t domain.Task, err error) {
	ctx, span := e.start(ctx, "CreateTask",
		attribute.Int64("task.required_workers", opts.RequiredWorkers),
		attribute.Int64("task.payable_amount", opts.PayableAmount))
	defer func() { finish(span, err) }()

	opts.Title = strings.TrimSpace(opts.Title)
	if opts.Title == "" {
		return domain.Task{}, invalid("title", "title is required")
	}
	if opts.RequiredWorkers <= 0 {
		return domain.Task{}, invalid("required_workers", "must be positive")
	}
	if opts.PayableAmount <= 0 {
		return domain.Task{}, invalid("payable_amount", "must be positive")
	}
	if opts.RequiredWorkers > math.MaxInt64/opts.PayableAmount {
		return domain.Task{}, invalid("required_workers", "total reservation overflows")
	}
	completion, err := parseCompletionDate(opts.CompletionDate)
	if err != nil {
		return domain.Task{}, err
	}
	if _, err := e.Auth.Require(ctx, nil, opts.BuyerEmail, auth.RoleBuyer); err != nil {
		return domain.Task{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	buyer, err := e.Repo.GetUserByEmailTx(ctx, tx, opts.BuyerEmail)
	if err != nil {
		return domain.Task{}, err
	}
	t = domain.Task{
		ID:              uuid.NewString(),
		BuyerEmail:      buyer.Email,
		BuyerName:       buyer.Name,
		Title:           opts.Title,
		Detail:          opts.Detail,
		ImageURL:        opts.ImageURL,
		SubmissionInfo:  opts.SubmissionInfo,
		RequiredWorkers: opts.RequiredWorkers,
		PayableAmount:   opts.PayableAmount,
		CompletionDate:  completion,
		CreatedAt:       e.timestamp(),
	}
	if _, err := e.Ledger().AdjustTx(ctx, tx, ledger.Adjustment{
		Email: buyer.Email, Delta: -t.Reserved(), Reason: ledger.ReasonTaskReserve, RefKind: "task", RefID: t.ID,
	}); err != nil {
		return domain.Task{}, fmt.Errorf("reserve task coins: %w", err)
	}
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	e.invalidate(ctx)
	return t, nil
}

// DeleteTask removes a task and refunds its owner for every open slot and
// every submission still pending review. It returns the refunded amount.
func (e Engine) DeleteTask(ctx context.Context, taskID, requester string) (refund int64, err error) {
	ctx, span := e.start(ctx, "DeleteTask", attribute.String("task.id", taskID))
	defer func() { finish(span, err) }()

	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return 0, err
	}
	if repo.NormalizeEmail(requester) != t.BuyerEmail {
		return 0, auth.Forbidden("only the task owner may delete a task")
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	t, err = e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return 0, err
	}
	pending, err := e.Repo.CountPendingSubmissions(ctx, tx, taskID)
	if err != nil {
		return 0, err
	}
	refund = (t.RequiredWorkers + pending) * t.PayableAmount
	if refund > 0 {
		if _, err := e.Ledger().AdjustTx(ctx, tx, ledger.Adjustment{
			Email: t.BuyerEmail, Delta: refund, Reason: ledger.ReasonTaskRefund, RefKind: "task", RefID: t.ID,
		}); err != nil {
			return 0, fmt.Errorf("refund task coins: %w", err)
		}
	}
	if err := e.Repo.DeleteTask(ctx, tx, taskID); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	e.invalidate(ctx)
	return refund, nil
}

// ListOpenTasks returns tasks with at least one open slot, newest first.
func (e Engine) ListOpenTasks(ctx context.Context) ([]domain.Task, error) {
	return e.Repo.ListTasks(ctx, repo.TaskFilters{OpenOnly: true})
}

func (e Engine) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return e.Repo.GetTask(ctx, id)
}

// ListBuyerTasks returns every task of a buyer, latest completion date first.
func (e Engine) ListBuyerTasks(ctx context.Context, buyerEmail string) ([]domain.Task, error) {
	return e.Repo.ListTasks(ctx, repo.TaskFilters{BuyerEmail: buyerEmail, ByCompletion: true})
}

func parseCompletionDate(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", invalid("completion_date", "completion date is required")
	}
	if d, err := time.Parse(time.DateOnly, raw); err == nil {
		return d.Format(time.DateOnly), nil
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts.UTC().Format(time.DateOnly), nil
	}
	return "", invalid("completion_date", "expected YYYY-MM-DD, got %q", raw)
}
