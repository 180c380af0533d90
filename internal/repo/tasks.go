package repo

import (
	"context"
	"database/sql"
	"strings"

	"microtask/internal/domain"
)

const taskColumns = `id,buyer_email,COALESCE(buyer_name,''),title,COALESCE(detail,''),COALESCE(image_url,''),COALESCE(submission_info,''),required_workers,payable_amount,completion_date,created_at`

func scanTask(row scanner) (domain.Task, error) {
	var t domain.Task
	err := row.Scan(&t.ID, &t.BuyerEmail, &t.BuyerName, &t.Title, &t.Detail, &t.ImageURL, &t.SubmissionInfo,
		&t.RequiredWorkers, &t.PayableAmount, &t.CompletionDate, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO tasks(id,buyer_email,buyer_name,title,detail,image_url,submission_info,required_workers,payable_amount,completion_date,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.BuyerEmail, nullable(t.BuyerName), t.Title, nullable(t.Detail), nullable(t.ImageURL), nullable(t.SubmissionInfo),
		t.RequiredWorkers, t.PayableAmount, t.CompletionDate, t.CreatedAt)
	return err
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return r.GetTaskTx(ctx, nil, id)
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	return scanTask(r.q(tx).QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

type TaskFilters struct {
	BuyerEmail string
	OpenOnly   bool
	// ByCompletion orders by completion date, latest first, instead of creation.
	ByCompletion bool
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.BuyerEmail != "" {
		clauses = append(clauses, "buyer_email=?")
		args = append(args, NormalizeEmail(f.BuyerEmail))
	}
	if f.OpenOnly {
		clauses = append(clauses, "required_workers > 0")
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	order := ` ORDER BY created_at DESC, rowid DESC`
	if f.ByCompletion {
		order = ` ORDER BY completion_date DESC, rowid DESC`
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks `+where+order, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// TakeSlot decrements required_workers only while it is positive. It reports
// false when no slot was available (or the task does not exist).
func (r Repo) TakeSlot(ctx context.Context, tx *sql.Tx, taskID string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET required_workers = required_workers - 1 WHERE id=? AND required_workers > 0`, taskID)
	if err != nil {
		return false, err
	}
	return affected(res)
}

// ReleaseSlot reopens one worker slot. It reports false when the task is gone.
func (r Repo) ReleaseSlot(ctx context.Context, tx *sql.Tx, taskID string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET required_workers = required_workers + 1 WHERE id=?`, taskID)
	if err != nil {
		return false, err
	}
	return affected(res)
}

// DeleteTask removes the task; its submissions go with it via ON DELETE CASCADE.
func (r Repo) DeleteTask(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if ok, err := affected(res); err != nil {
		return err
	} else if !ok {
		return ErrNotFound
	}
	return nil
}
