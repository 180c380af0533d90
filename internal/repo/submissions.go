package repo

import (
	"context"
	"database/sql"
	"strings"

	"microtask/internal/domain"
)

const submissionColumns = `id,task_id,task_title,worker_email,COALESCE(worker_name,''),buyer_email,COALESCE(buyer_name,''),payable_amount,COALESCE(details,''),status,created_at,reviewed_at`

func scanSubmission(row scanner) (domain.Submission, error) {
	var s domain.Submission
	var reviewedAt sql.NullString
	err := row.Scan(&s.ID, &s.TaskID, &s.TaskTitle, &s.WorkerEmail, &s.WorkerName, &s.BuyerEmail, &s.BuyerName,
		&s.PayableAmount, &s.Details, &s.Status, &s.CreatedAt, &reviewedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	s.ReviewedAt = stringPtr(reviewedAt)
	return s, err
}

func (r Repo) InsertSubmission(ctx context.Context, tx *sql.Tx, s domain.Submission) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO submissions(id,task_id,task_title,worker_email,worker_name,buyer_email,buyer_name,payable_amount,details,status,created_at,reviewed_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		s.ID, s.TaskID, s.TaskTitle, s.WorkerEmail, nullable(s.WorkerName), s.BuyerEmail, nullable(s.BuyerName),
		s.PayableAmount, nullable(s.Details), s.Status, s.CreatedAt, nullableStringPtr(s.ReviewedAt))
	return err
}

func (r Repo) GetSubmission(ctx context.Context, id string) (domain.Submission, error) {
	return r.GetSubmissionTx(ctx, nil, id)
}

func (r Repo) GetSubmissionTx(ctx context.Context, tx *sql.Tx, id string) (domain.Submission, error) {
	return scanSubmission(r.q(tx).QueryRowContext(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id=?`, id))
}

// DecideSubmission moves a pending submission to a terminal status. It reports
// false when the submission is no longer pending.
func (r Repo) DecideSubmission(ctx context.Context, tx *sql.Tx, id, status, reviewedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE submissions SET status=?, reviewed_at=? WHERE id=? AND status='pending'`, status, reviewedAt, id)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (r Repo) CountPendingSubmissions(ctx context.Context, tx *sql.Tx, taskID string) (int64, error) {
	var n int64
	err := r.q(tx).QueryRowContext(ctx, `SELECT count(*) FROM submissions WHERE task_id=? AND status='pending'`, taskID).Scan(&n)
	return n, err
}

type SubmissionFilters struct {
	TaskID      string
	WorkerEmail string
	BuyerEmail  string
	Status      string
	Limit       int
	Offset      int
}

func (f SubmissionFilters) where() (string, []any) {
	var clauses []string
	var args []any
	if f.TaskID != "" {
		clauses = append(clauses, "task_id=?")
		args = append(args, f.TaskID)
	}
	if f.WorkerEmail != "" {
		clauses = append(clauses, "worker_email=?")
		args = append(args, NormalizeEmail(f.WorkerEmail))
	}
	if f.BuyerEmail != "" {
		clauses = append(clauses, "buyer_email=?")
		args = append(args, NormalizeEmail(f.BuyerEmail))
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

func (r Repo) ListSubmissions(ctx context.Context, f SubmissionFilters) ([]domain.Submission, error) {
	where, args := f.where()
	query := `SELECT ` + submissionColumns + ` FROM submissions ` + where + ` ORDER BY created_at DESC, rowid DESC`
	if f.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Submission
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) CountSubmissions(ctx context.Context, f SubmissionFilters) (int64, error) {
	where, args := f.where()
	var n int64
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM submissions `+where, args...).Scan(&n)
	return n, err
}
