package server

import (
	"time"

	"microtask/internal/domain"
	"microtask/internal/engine"
)

// Request payloads

type TokenRequest struct {
	Email string `json:"email" format:"email"`
}

type RegisterUserRequest struct {
	Email    string `json:"email" format:"email"`
	Name     string `json:"name,omitempty"`
	PhotoURL string `json:"photo_url,omitempty"`
	Role     string `json:"role" enum:"buyer,worker"`
}

type SetRoleRequest struct {
	Role string `json:"role" enum:"admin,buyer,worker"`
}

type CreateTaskRequest struct {
	Title           string `json:"title" minLength:"1"`
	Detail          string `json:"detail,omitempty"`
	ImageURL        string `json:"image_url,omitempty"`
	SubmissionInfo  string `json:"submission_info,omitempty"`
	RequiredWorkers int64  `json:"required_workers" minimum:"1"`
	PayableAmount   int64  `json:"payable_amount" minimum:"1"`
	CompletionDate  string `json:"completion_date" example:"2024-12-31"`
}

type SubmitRequest struct {
	TaskID  string `json:"task_id" minLength:"1"`
	Details string `json:"details,omitempty"`
}

type ReviewRequest struct {
	Status string `json:"status" enum:"approved,rejected"`
}

type WithdrawalRequest struct {
	Coins         int64  `json:"coins" minimum:"1"`
	PaymentSystem string `json:"payment_system,omitempty"`
	AccountNumber string `json:"account_number,omitempty"`
}

type SettleRequest struct {
	Status string `json:"status" enum:"approved,denied"`
}

type PaymentRequest struct {
	Coins         int64  `json:"coins" minimum:"1"`
	AmountCents   int64  `json:"amount_cents" minimum:"0"`
	TransactionID string `json:"transaction_id" minLength:"1"`
}

// Responses

type out[T any] struct {
	Body T `json:"body"`
}

func reply[T any](v T) *out[T] {
	return &out[T]{Body: v}
}

type MessageResponse struct {
	Message string `json:"message"`
}

type HealthResponse struct {
	Status string `json:"status"`
	engine.Health
}

type UnreadResponse struct {
	Unread int64 `json:"unread"`
}

type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type RegisterUserResponse struct {
	User    domain.User `json:"user"`
	Created bool        `json:"created"`
}

type RoleResponse struct {
	Role  string `json:"role"`
	Coins int64  `json:"coins"`
}

type DeletedResponse struct {
	Deleted bool `json:"deleted"`
}

type DeleteTaskResponse struct {
	Deleted  bool  `json:"deleted"`
	Refunded int64 `json:"refunded"`
}

type SubmissionPage struct {
	Total  int64               `json:"total"`
	Result []domain.Submission `json:"result"`
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
