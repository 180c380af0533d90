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

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// SubmitOptions are parameters for submitting work. WorkerEmail is the
// authenticated caller.
type SubmitOptions struct {
	TaskID      string
	WorkerEmail string
	Details     string
}

// Submit takes one open slot of the task and records a pending submission.
// The slot decrement is a conditional update, so concurrent submitters can
// never take more slots than the task offers.
func (e Engine) Submit(ctx context.Context, opts SubmitOptions) (s domain.Submission, err error) {
	ctx, span := e.start(ctx, "Submit", attribute.String("task.id", opts.TaskID))
	defer func() { finish(span, err) }()

	if opts.TaskID == "" {
		return domain.Submission{}, invalid("task_id", "task id is required")
	}
	if _, err := e.Auth.Require(ctx, nil, opts.WorkerEmail, auth.RoleWorker); err != nil {
		return domain.Submission{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Submission{}, err
	}
	defer tx.Rollback()

	took, err := e.Repo.TakeSlot(ctx, tx, opts.TaskID)
	if err != nil {
		return domain.Submission{}, err
	}
	t, err := e.Repo.GetTaskTx(ctx, tx, opts.TaskID)
	if err != nil {
		return domain.Submission{}, err
	}
	if !took {
		return domain.Submission{}, fmt.Errorf("task %s: %w", t.ID, ErrNoSlotsAvailable)
	}
	worker, err := e.Repo.GetUserByEmailTx(ctx, tx, opts.WorkerEmail)
	if err != nil {
		return domain.Submission{}, err
	}
	s = domain.Submission{
		ID:            uuid.NewString(),
		TaskID:        t.ID,
		TaskTitle:     t.Title,
		WorkerEmail:   worker.Email,
		WorkerName:    worker.Name,
		BuyerEmail:    t.BuyerEmail,
		BuyerName:     t.BuyerName,
		PayableAmount: t.PayableAmount,
		Details:       strings.TrimSpace(opts.Details),
		Status:        domain.StatusPending,
		CreatedAt:     e.timestamp(),
	}
	if err := e.Repo.InsertSubmission(ctx, tx, s); err != nil {
		return domain.Submission{}, fmt.Errorf("insert submission: %w", err)
	}
	msg := fmt.Sprintf("%s has submitted work for %s", displayName(worker.Name, worker.Email), t.Title)
	if err := e.notifier().Append(ctx, tx, t.BuyerEmail, msg, notify.RouteBuyerHome); err != nil {
		return domain.Submission{}, fmt.Errorf("notify buyer: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Submission{}, err
	}
	e.invalidate(ctx)
	return s, nil
}

// Review approves or rejects a pending submission. Approval pays the worker
// from the task's reservation; rejection reopens the slot. A submission can be
// decided exactly once.
func (e Engine) Review(ctx context.Context, submissionID, decision, reviewer string) (s domain.Submission, err error) {
	ctx, span := e.start(ctx, "Review",
		attribute.String("submission.id", submissionID),
		attribute.String("submission.decision", decision))
	defer func() { finish(span, err) }()

	if decision != domain.StatusApproved && decision != domain.StatusRejected {
		return domain.Submission{}, invalid("status", "decision must be approved or rejected")
	}
	s, err = e.Repo.GetSubmission(ctx, submissionID)
	if err != nil {
		return domain.Submission{}, err
	}
	if repo.NormalizeEmail(reviewer) != s.BuyerEmail {
		return domain.Submission{}, auth.Forbidden("only the task's buyer may review its submissions")
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Submission{}, err
	}
	defer tx.Rollback()

	s, err = e.Repo.GetSubmissionTx(ctx, tx, submissionID)
	if err != nil {
		return domain.Submission{}, err
	}
	if err := ensureSubmissionTransition(s.Status, decision); err != nil {
		return domain.Submission{}, err
	}
	reviewedAt := e.timestamp()
	ok, err := e.Repo.DecideSubmission(ctx, tx, s.ID, decision, reviewedAt)
	if err != nil {
		return domain.Submission{}, err
	}
	if !ok {
		return domain.Submission{}, fmt.Errorf("submission %s: %w", s.ID, ErrAlreadyReviewed)
	}
	s.Status = decision
	s.ReviewedAt = &reviewedAt

	buyer := displayName(s.BuyerName, s.BuyerEmail)
	var msg string
	switch decision {
	case domain.StatusApproved:
		if _, err := e.Ledger().AdjustTx(ctx, tx, ledger.Adjustment{
			Email: s.WorkerEmail, Delta: s.PayableAmount, Reason: ledger.ReasonSubmissionPayout, RefKind: "submission", RefID: s.ID,
		}); err != nil {
			return domain.Submission{}, fmt.Errorf("pay worker: %w", err)
		}
		msg = fmt.Sprintf("You have earned %d coins from %s for completing %s", s.PayableAmount, buyer, s.TaskTitle)
	case domain.StatusRejected:
		if _, err := e.Repo.ReleaseSlot(ctx, tx, s.TaskID); err != nil {
			return domain.Submission{}, fmt.Errorf("reopen slot: %w", err)
		}
		msg = fmt.Sprintf("Your submission for %s was rejected by %s", s.TaskTitle, buyer)
	}
	if err := e.notifier().Append(ctx, tx, s.WorkerEmail, msg, notify.RouteWorkerHome); err != nil {
		return domain.Submission{}, fmt.Errorf("notify worker: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Submission{}, err
	}
	e.invalidate(ctx)
	return s, nil
}

// Page is one page of a listing plus the unpaged total.
type Page[T any] struct {
	Total int64 `json:"total"`
	Items []T   `json:"result"`
}

// ListWorkerSubmissions pages through a worker's submissions, newest first.
// page is 1-based.
func (e Engine) ListWorkerSubmissions(ctx context.Context, workerEmail string, page, size int) (Page[domain.Submission], error) {
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	f := repo.SubmissionFilters{WorkerEmail: workerEmail}
	total, err := e.Repo.CountSubmissions(ctx, f)
	if err != nil {
		return Page[domain.Submission]{}, err
	}
	f.Limit = size
	f.Offset = (page - 1) * size
	items, err := e.Repo.ListSubmissions(ctx, f)
	if err != nil {
		return Page[domain.Submission]{}, err
	}
	return Page[domain.Submission]{Total: total, Items: items}, nil
}

// ListSubmissionsToReview returns the buyer's submissions awaiting a decision.
func (e Engine) ListSubmissionsToReview(ctx context.Context, buyerEmail string) ([]domain.Submission, error) {
	return e.Repo.ListSubmissions(ctx, repo.SubmissionFilters{BuyerEmail: buyerEmail, Status: domain.StatusPending})
}

func displayName(name, email string) string {
	if name != "" {
		return name
	}
	return email
}
