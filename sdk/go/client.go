package microtasksdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Microtask HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// User represents the API user model (partial).
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
	Coins int64  `json:"coins"`
}

// Task represents the API task model (partial).
type Task struct {
	ID              string `json:"id"`
	BuyerEmail      string `json:"buyer_email"`
	Title           string `json:"title"`
	RequiredWorkers int64  `json:"required_workers"`
	PayableAmount   int64  `json:"payable_amount"`
	CompletionDate  string `json:"completion_date"`
}

// NewTask carries the fields needed to post a task.
type NewTask struct {
	Title           string `json:"title"`
	Detail          string `json:"detail,omitempty"`
	ImageURL        string `json:"image_url,omitempty"`
	SubmissionInfo  string `json:"submission_info,omitempty"`
	RequiredWorkers int64  `json:"required_workers"`
	PayableAmount   int64  `json:"payable_amount"`
	CompletionDate  string `json:"completion_date"`
}

// Submission is a worker's claim on a task slot.
type Submission struct {
	ID            string `json:"id"`
	TaskID        string `json:"task_id"`
	WorkerEmail   string `json:"worker_email"`
	BuyerEmail    string `json:"buyer_email"`
	PayableAmount int64  `json:"payable_amount"`
	Status        string `json:"status"`
}

// Withdrawal is a payout request.
type Withdrawal struct {
	ID          string  `json:"id"`
	WorkerEmail string  `json:"worker_email"`
	Coins       int64   `json:"coins"`
	AmountUSD   float64 `json:"amount_usd"`
	Status      string  `json:"status"`
}

// Notification is an inbox message.
type Notification struct {
	ID          int64  `json:"id"`
	Message     string `json:"message"`
	ActionRoute string `json:"action_route"`
	IsRead      bool   `json:"is_read"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s", e.StatusCode, e.Code)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Token mints a bearer token for email and stores it on the client.
func (c *Client) Token(ctx context.Context, email string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "jwt", map[string]any{"email": email}, &resp); err != nil {
		return "", err
	}
	c.BearerToken = resp.Token
	return resp.Token, nil
}

// Register creates a buyer or worker. Registering twice returns the stored user.
func (c *Client) Register(ctx context.Context, email, name, role string) (User, error) {
	var resp struct {
		User User `json:"user"`
	}
	body := map[string]any{"email": email, "name": name, "role": role}
	err := c.do(ctx, http.MethodPost, "users", body, &resp)
	return resp.User, err
}

// Balance returns the role and coin balance of email.
func (c *Client) Balance(ctx context.Context, email string) (string, int64, error) {
	var resp struct {
		Role  string `json:"role"`
		Coins int64  `json:"coins"`
	}
	err := c.do(ctx, http.MethodGet, "users/role/"+url.PathEscape(email), nil, &resp)
	return resp.Role, resp.Coins, err
}

// SetRole changes the role of the user with userID. Admin only.
func (c *Client) SetRole(ctx context.Context, userID, role string) (User, error) {
	var resp User
	err := c.do(ctx, http.MethodPatch, "users/role/"+url.PathEscape(userID), map[string]any{"role": role}, &resp)
	return resp, err
}

// BuyCoins records a completed coin purchase for the token holder.
func (c *Client) BuyCoins(ctx context.Context, coins, amountCents int64, transactionID string) error {
	body := map[string]any{"coins": coins, "amount_cents": amountCents, "transaction_id": transactionID}
	return c.do(ctx, http.MethodPost, "payments", body, nil)
}

// CreateTask posts a task, reserving its coins.
func (c *Client) CreateTask(ctx context.Context, t NewTask) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks", t, &resp)
	return resp, err
}

// OpenTasks lists tasks that still accept submissions.
func (c *Client) OpenTasks(ctx context.Context) ([]Task, error) {
	var resp []Task
	err := c.do(ctx, http.MethodGet, "tasks", nil, &resp)
	return resp, err
}

// Submit claims a slot on taskID.
func (c *Client) Submit(ctx context.Context, taskID, details string) (Submission, error) {
	var resp Submission
	err := c.do(ctx, http.MethodPost, "submissions", map[string]any{"task_id": taskID, "details": details}, &resp)
	return resp, err
}

// Review approves or rejects a submission.
func (c *Client) Review(ctx context.Context, submissionID, status string) (Submission, error) {
	var resp Submission
	err := c.do(ctx, http.MethodPatch, "submissions/"+url.PathEscape(submissionID), map[string]any{"status": status}, &resp)
	return resp, err
}

// RequestWithdrawal asks for coins to be paid out.
func (c *Client) RequestWithdrawal(ctx context.Context, coins int64, paymentSystem, accountNumber string) (Withdrawal, error) {
	body := map[string]any{"coins": coins, "payment_system": paymentSystem, "account_number": accountNumber}
	var resp Withdrawal
	err := c.do(ctx, http.MethodPost, "withdrawals", body, &resp)
	return resp, err
}

// SettleWithdrawal approves or denies a pending withdrawal.
func (c *Client) SettleWithdrawal(ctx context.Context, id, status string) (Withdrawal, error) {
	var resp Withdrawal
	err := c.do(ctx, http.MethodPatch, "withdrawals/"+url.PathEscape(id), map[string]any{"status": status}, &resp)
	return resp, err
}

// Notifications returns the inbox of email.
func (c *Client) Notifications(ctx context.Context, email string) ([]Notification, error) {
	var resp []Notification
	err := c.do(ctx, http.MethodGet, "notifications/"+url.PathEscape(email), nil, &resp)
	return resp, err
}

// UnreadCount returns how many notifications of email are unread.
func (c *Client) UnreadCount(ctx context.Context, email string) (int64, error) {
	var resp struct {
		Unread int64 `json:"unread"`
	}
	err := c.do(ctx, http.MethodGet, "notifications/unread/"+url.PathEscape(email), nil, &resp)
	return resp.Unread, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
