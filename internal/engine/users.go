package engine

import (
	"context"
	"errors"
	"fmt"
	"net/mail"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"microtask/internal/domain"
	"microtask/internal/engine/auth"
	"microtask/internal/ledger"
	"microtask/internal/repo"
)

// RegisterOptions are parameters for registering a user.
type RegisterOptions struct {
	Email    string
	Name     string
	PhotoURL string
	Role     string
}

// RegisterUser creates a buyer or worker and credits the configured signup
// bonus through the ledger. Registering an existing email returns the stored
// user unchanged with created=false.
func (e Engine) RegisterUser(ctx context.Context, opts RegisterOptions) (u domain.User, created bool, err error) {
	ctx, span := e.start(ctx, "RegisterUser", attribute.String("user.role", opts.Role))
	defer func() { finish(span, err) }()

	cfg, err := e.config()
	if err != nil {
		return domain.User{}, false, err
	}
	email, err := validEmail(opts.Email)
	if err != nil {
		return domain.User{}, false, err
	}
	role, err := auth.ParseRole(opts.Role)
	if err != nil || role == auth.RoleAdmin {
		return domain.User{}, false, invalid("role", "role must be buyer or worker")
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, false, err
	}
	defer tx.Rollback()

	existing, err := e.Repo.GetUserByEmailTx(ctx, tx, email)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, false, err
	}
	u = domain.User{
		ID:        uuid.NewString(),
		Email:     email,
		Name:      opts.Name,
		PhotoURL:  opts.PhotoURL,
		Role:      string(role),
		CreatedAt: e.timestamp(),
	}
	if err := e.Repo.InsertUser(ctx, tx, u); err != nil {
		return domain.User{}, false, fmt.Errorf("insert user: %w", err)
	}
	if bonus := cfg.SignupBonus(u.Role); bonus > 0 {
		u.Coins, err = e.Ledger().AdjustTx(ctx, tx, ledger.Adjustment{
			Email: email, Delta: bonus, Reason: ledger.ReasonSignupBonus, RefKind: "user", RefID: u.ID,
		})
		if err != nil {
			return domain.User{}, false, fmt.Errorf("credit signup bonus: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, false, err
	}
	e.invalidate(ctx)
	return u, true, nil
}

// CreateAdmin registers email as an admin, promoting an existing user.
func (e Engine) CreateAdmin(ctx context.Context, email, name string) (domain.User, error) {
	email, err := validEmail(email)
	if err != nil {
		return domain.User{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()

	u, err := e.Repo.GetUserByEmailTx(ctx, tx, email)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		u = domain.User{ID: uuid.NewString(), Email: email, Name: name, Role: domain.RoleAdmin, CreatedAt: e.timestamp()}
		if err := e.Repo.InsertUser(ctx, tx, u); err != nil {
			return domain.User{}, fmt.Errorf("insert admin: %w", err)
		}
	case err != nil:
		return domain.User{}, err
	case u.Role != domain.RoleAdmin:
		if err := e.Repo.UpdateUserRoleTx(ctx, tx, u.ID, domain.RoleAdmin); err != nil {
			return domain.User{}, err
		}
		u.Role = domain.RoleAdmin
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, err
	}
	e.invalidate(ctx)
	return u, nil
}

func (e Engine) GetUser(ctx context.Context, email string) (domain.User, error) {
	return e.Repo.GetUserByEmail(ctx, email)
}

func (e Engine) ListUsers(ctx context.Context, requester string) ([]domain.User, error) {
	if _, err := e.Auth.Require(ctx, nil, requester, auth.RoleAdmin); err != nil {
		return nil, err
	}
	return e.Repo.ListUsers(ctx, repo.UserFilters{})
}

// SetRole changes a user's role. Admins cannot demote themselves, so at least
// one admin always remains reachable.
func (e Engine) SetRole(ctx context.Context, userID, role, requester string) (domain.User, error) {
	r, err := auth.ParseRole(role)
	if err != nil {
		return domain.User{}, invalid("role", "%v", err)
	}
	if _, err := e.Auth.Require(ctx, nil, requester, auth.RoleAdmin); err != nil {
		return domain.User{}, err
	}
	u, err := e.Repo.GetUser(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	if u.Email == repo.NormalizeEmail(requester) && r != auth.RoleAdmin {
		return domain.User{}, invalid("role", "admins cannot demote themselves")
	}
	if err := e.Repo.UpdateUserRoleTx(ctx, nil, userID, string(r)); err != nil {
		return domain.User{}, err
	}
	u.Role = string(r)
	e.invalidate(ctx)
	return u, nil
}

// DeleteUser removes a user. Users that still own tasks are refused because
// their reservations would have no one to refund.
func (e Engine) DeleteUser(ctx context.Context, userID, requester string) error {
	if _, err := e.Auth.Require(ctx, nil, requester, auth.RoleAdmin); err != nil {
		return err
	}
	u, err := e.Repo.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if u.Email == repo.NormalizeEmail(requester) {
		return invalid("id", "admins cannot delete themselves")
	}
	tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{BuyerEmail: u.Email})
	if err != nil {
		return err
	}
	if len(tasks) > 0 {
		return invalid("id", "user %s still owns %d tasks", u.Email, len(tasks))
	}
	if err := e.Repo.DeleteUser(ctx, userID); err != nil {
		return err
	}
	e.invalidate(ctx)
	return nil
}

func validEmail(raw string) (string, error) {
	email := repo.NormalizeEmail(raw)
	if email == "" {
		return "", invalid("email", "email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", invalid("email", "invalid email %q", raw)
	}
	return email, nil
}
