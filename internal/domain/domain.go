package domain

const (
	RoleAdmin  = "admin"
	RoleBuyer  = "buyer"
	RoleWorker = "worker"
)

const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
	StatusDenied   = "denied"
)

type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name,omitempty"`
	PhotoURL  string `json:"photo_url,omitempty"`
	Role      string `json:"role" enum:"admin,buyer,worker"`
	Coins     int64  `json:"coins"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Task struct {
	ID              string `json:"id"`
	BuyerEmail      string `json:"buyer_email"`
	BuyerName       string `json:"buyer_name,omitempty"`
	Title           string `json:"title"`
	Detail          string `json:"detail,omitempty"`
	ImageURL        string `json:"image_url,omitempty"`
	SubmissionInfo  string `json:"submission_info,omitempty"`
	RequiredWorkers int64  `json:"required_workers"`
	PayableAmount   int64  `json:"payable_amount"`
	CompletionDate  string `json:"completion_date" format:"date"`
	CreatedAt       string `json:"created_at" format:"date-time"`
}

// Reserved is the number of coins still held for open slots.
func (t Task) Reserved() int64 {
	return t.RequiredWorkers * t.PayableAmount
}

type Submission struct {
	ID            string  `json:"id"`
	TaskID        string  `json:"task_id"`
	TaskTitle     string  `json:"task_title"`
	WorkerEmail   string  `json:"worker_email"`
	WorkerName    string  `json:"worker_name,omitempty"`
	BuyerEmail    string  `json:"buyer_email"`
	BuyerName     string  `json:"buyer_name,omitempty"`
	PayableAmount int64   `json:"payable_amount"`
	Details       string  `json:"details,omitempty"`
	Status        string  `json:"status" enum:"pending,approved,rejected"`
	CreatedAt     string  `json:"created_at" format:"date-time"`
	ReviewedAt    *string `json:"reviewed_at,omitempty" format:"date-time"`
}

type Withdrawal struct {
	ID            string  `json:"id"`
	WorkerEmail   string  `json:"worker_email"`
	WorkerName    string  `json:"worker_name,omitempty"`
	Coins         int64   `json:"coins"`
	AmountUSD     float64 `json:"amount_usd"`
	PaymentSystem string  `json:"payment_system,omitempty"`
	AccountNumber string  `json:"account_number,omitempty"`
	Status        string  `json:"status" enum:"pending,approved,denied"`
	CreatedAt     string  `json:"created_at" format:"date-time"`
	SettledAt     *string `json:"settled_at,omitempty" format:"date-time"`
	SettledBy     *string `json:"settled_by,omitempty"`
}

type Notification struct {
	ID          int64  `json:"id"`
	ToEmail     string `json:"to_email"`
	Message     string `json:"message"`
	ActionRoute string `json:"action_route"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	IsRead      bool   `json:"is_read"`
}

type Payment struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	Coins         int64  `json:"coins"`
	AmountCents   int64  `json:"amount_cents"`
	TransactionID string `json:"transaction_id"`
	CreatedAt     string `json:"created_at" format:"date-time"`
}

type LedgerEntry struct {
	ID           int64  `json:"id"`
	UserEmail    string `json:"user_email"`
	Delta        int64  `json:"delta"`
	BalanceAfter int64  `json:"balance_after"`
	Reason       string `json:"reason"`
	RefKind      string `json:"ref_kind,omitempty"`
	RefID        string `json:"ref_id,omitempty"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

type AdminStats struct {
	TotalWorkers       int64 `json:"total_workers"`
	TotalBuyers        int64 `json:"total_buyers"`
	TotalAvailableCoin int64 `json:"total_available_coin"`
	// TotalPayments is the dollar amount paid out on approved withdrawals.
	TotalPayments float64 `json:"total_payments"`
}

type BuyerStats struct {
	TotalTaskCount   int64 `json:"total_task_count"`
	PendingTaskCount int64 `json:"pending_task_count"`
	TotalPaymentPaid int64 `json:"total_payment_paid"`
}

type WorkerStats struct {
	TotalSubmission   int64 `json:"total_submission"`
	PendingSubmission int64 `json:"pending_submission"`
	TotalEarning      int64 `json:"total_earning"`
}
