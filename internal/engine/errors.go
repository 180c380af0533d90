package engine

import (
	"errors"
	"fmt"

	"microtask/internal/domain"
)

var (
	ErrNoSlotsAvailable = errors.New("no worker slots available")
	ErrAlreadyReviewed  = errors.New("already reviewed")
	ErrDuplicatePayment = errors.New("payment already recorded")
)

// ValidationError reports malformed input. It is always returned before any
// state is touched.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func invalid(field, format string, args ...any) error {
	return ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func ensureSubmissionTransition(oldStatus, newStatus string) error {
	if oldStatus != domain.StatusPending {
		return fmt.Errorf("submission is %s: %w", oldStatus, ErrAlreadyReviewed)
	}
	switch newStatus {
	case domain.StatusApproved, domain.StatusRejected:
		return nil
	}
	return invalid("status", "invalid submission transition %s -> %s", oldStatus, newStatus)
}

func ensureWithdrawalTransition(oldStatus, newStatus string) error {
	if oldStatus != domain.StatusPending {
		return fmt.Errorf("withdrawal is %s: %w", oldStatus, ErrAlreadyReviewed)
	}
	switch newStatus {
	case domain.StatusApproved, domain.StatusDenied:
		return nil
	}
	return invalid("status", "invalid withdrawal transition %s -> %s", oldStatus, newStatus)
}
