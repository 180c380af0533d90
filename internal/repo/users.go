package repo

import (
	"context"
	"database/sql"
	"strings"

	"microtask/internal/domain"
)

const userColumns = `id,email,COALESCE(name,''),COALESCE(photo_url,''),role,coins,created_at`

func scanUser(row scanner) (domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PhotoURL, &u.Role, &u.Coins, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	return u, err
}

// InsertUser stores a new user with a zero balance. Coins are only ever
// credited through the ledger.
func (r Repo) InsertUser(ctx context.Context, tx *sql.Tx, u domain.User) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO users(id,email,name,photo_url,role,coins,created_at) VALUES (?,?,?,?,?,0,?)`,
		u.ID, NormalizeEmail(u.Email), nullable(u.Name), nullable(u.PhotoURL), u.Role, u.CreatedAt)
	return err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=?`, id))
}

func (r Repo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	return r.GetUserByEmailTx(ctx, nil, email)
}

func (r Repo) GetUserByEmailTx(ctx context.Context, tx *sql.Tx, email string) (domain.User, error) {
	return scanUser(r.q(tx).QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email=?`, NormalizeEmail(email)))
}

type UserFilters struct {
	Role  string
	Order string // "created" (default) or "coins"
	Limit int
}

func (r Repo) ListUsers(ctx context.Context, f UserFilters) ([]domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users`
	var args []any
	if f.Role != "" {
		query += ` WHERE role=?`
		args = append(args, f.Role)
	}
	if f.Order == "coins" {
		query += ` ORDER BY coins DESC, created_at ASC`
	} else {
		query += ` ORDER BY created_at DESC, rowid DESC`
	}
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

func (r Repo) UpdateUserRole(ctx context.Context, id, role string) error {
	return r.UpdateUserRoleTx(ctx, nil, id, role)
}

func (r Repo) UpdateUserRoleTx(ctx context.Context, tx *sql.Tx, id, role string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE users SET role=? WHERE id=?`, role, id)
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

func (r Repo) DeleteUser(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM users WHERE id=?`, id)
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

// NormalizeEmail is the canonical form identities are stored and compared in.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
