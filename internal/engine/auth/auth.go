package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"microtask/internal/repo"
)

// Role is one of the closed set of marketplace roles.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleBuyer  Role = "buyer"
	RoleWorker Role = "worker"
)

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleAdmin, RoleBuyer, RoleWorker:
		return r, nil
	}
	return "", fmt.Errorf("invalid role %q", s)
}

// ForbiddenError indicates a role or ownership mismatch.
type ForbiddenError struct {
	Need   []Role
	Reason string
}

func (e ForbiddenError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	names := make([]string, len(e.Need))
	for i, r := range e.Need {
		names[i] = string(r)
	}
	return fmt.Sprintf("role %s required", strings.Join(names, " or "))
}

// Forbidden returns an ownership ForbiddenError.
func Forbidden(reason string) error {
	return ForbiddenError{Reason: reason}
}

// Service resolves roles from the user directory.
type Service struct {
	DB *sql.DB
}

// RoleOf returns the stored role of email, or repo.ErrNotFound.
func (s Service) RoleOf(ctx context.Context, tx *sql.Tx, email string) (Role, error) {
	var role string
	query := `SELECT role FROM users WHERE email=?`
	var err error
	if tx != nil {
		err = tx.QueryRowContext(ctx, query, repo.NormalizeEmail(email)).Scan(&role)
	} else {
		err = s.DB.QueryRowContext(ctx, query, repo.NormalizeEmail(email)).Scan(&role)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return "", repo.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return Role(role), nil
}

// Require fails with ForbiddenError unless email holds one of roles. Unknown
// users are forbidden too: a valid token for an unregistered identity carries
// no role.
func (s Service) Require(ctx context.Context, tx *sql.Tx, email string, roles ...Role) (Role, error) {
	role, err := s.RoleOf(ctx, tx, email)
	if errors.Is(err, repo.ErrNotFound) {
		return "", ForbiddenError{Need: roles}
	}
	if err != nil {
		return "", err
	}
	for _, r := range roles {
		if role == r {
			return role, nil
		}
	}
	return "", ForbiddenError{Need: roles}
}
