package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"microtask/internal/config"
	"microtask/internal/db"
	"microtask/internal/domain"
	"microtask/internal/engine"
	"microtask/internal/migrate"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if _, err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	if _, err := e.CreateAdmin(context.Background(), "admin@example.com", "Admin"); err != nil {
		t.Fatalf("create admin: %v", err)
	}
	handler, err := New(Config{Engine: e, Auth: AuthConfig{JWTSecret: testSecret, TokenTTL: time.Hour}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func bearer(t *testing.T, email string) map[string]string {
	t.Helper()
	token, _, err := IssueToken(testSecret, email, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + token}
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("unmarshal %T: %v (%s)", v, err, string(data))
	}
	return v
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func expectError(t *testing.T, res *http.Response, data []byte, status int, code string) {
	t.Helper()
	if res.StatusCode != status {
		t.Fatalf("expected status %d, got %d: %s", status, res.StatusCode, string(data))
	}
	env := decode[errorEnvelope](t, data)
	if env.Error.Code != code {
		t.Fatalf("expected code %q, got %q: %s", code, env.Error.Code, string(data))
	}
}

func registerUser(t *testing.T, srv *testServer, email, role string) domain.User {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/users", map[string]any{
		"email": email,
		"name":  email,
		"role":  role,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("register %s status %d: %s", email, res.StatusCode, string(data))
	}
	out := decode[RegisterUserResponse](t, data)
	if !out.Created {
		t.Fatalf("expected %s to be created", email)
	}
	return out.User
}

func coinsOf(t *testing.T, srv *testServer, email string) int64 {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/users/role/"+email, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("role of %s status %d: %s", email, res.StatusCode, string(data))
	}
	return decode[RoleResponse](t, data).Coins
}

func createTask(t *testing.T, srv *testServer, buyer string, workers, pay int64) domain.Task {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/tasks", map[string]any{
		"title":            "Transcribe receipts",
		"required_workers": workers,
		"payable_amount":   pay,
		"completion_date":  "2024-12-31",
	}, bearer(t, buyer))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task status %d: %s", res.StatusCode, string(data))
	}
	return decode[domain.Task](t, data)
}

func TestMarketplaceFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	buyer, worker, admin := "buyer@example.com", "worker@example.com", "admin@example.com"

	if u := registerUser(t, srv, buyer, "buyer"); u.Coins != 50 {
		t.Fatalf("expected buyer signup bonus 50, got %d", u.Coins)
	}
	if u := registerUser(t, srv, worker, "worker"); u.Coins != 10 {
		t.Fatalf("expected worker signup bonus 10, got %d", u.Coins)
	}

	payment := map[string]any{"coins": 100, "amount_cents": 1000, "transaction_id": "pi_1"}
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/payments", payment, bearer(t, buyer))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("payment status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/payments", payment, bearer(t, buyer))
	expectError(t, res, data, http.StatusConflict, "conflict")
	if got := coinsOf(t, srv, buyer); got != 150 {
		t.Fatalf("expected 150 coins after purchase, got %d", got)
	}

	task := createTask(t, srv, buyer, 2, 10)
	if got := coinsOf(t, srv, buyer); got != 130 {
		t.Fatalf("expected reservation of 20, balance %d", got)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/submissions", map[string]any{
		"task_id": task.ID,
		"details": "done",
	}, bearer(t, worker))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("submit status %d: %s", res.StatusCode, string(data))
	}
	sub := decode[domain.Submission](t, data)
	if sub.Status != domain.StatusPending || sub.PayableAmount != 10 {
		t.Fatalf("unexpected submission %+v", sub)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/submissions/to-review/"+buyer, nil, bearer(t, buyer))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("to-review status %d: %s", res.StatusCode, string(data))
	}
	if pending := decode[[]domain.Submission](t, data); len(pending) != 1 {
		t.Fatalf("expected 1 pending submission, got %d", len(pending))
	}

	review := map[string]any{"status": "approved"}
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/submissions/"+sub.ID, review, bearer(t, worker))
	expectError(t, res, data, http.StatusForbidden, "forbidden")
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/submissions/"+sub.ID, review, bearer(t, buyer))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("approve status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/submissions/"+sub.ID, review, bearer(t, buyer))
	expectError(t, res, data, http.StatusConflict, "already_reviewed")
	if got := coinsOf(t, srv, worker); got != 20 {
		t.Fatalf("expected worker balance 20, got %d", got)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/my-submissions?email="+worker, nil, bearer(t, worker))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("my-submissions status %d: %s", res.StatusCode, string(data))
	}
	if page := decode[SubmissionPage](t, data); page.Total != 1 || len(page.Result) != 1 {
		t.Fatalf("unexpected page %+v", page)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/withdrawals", map[string]any{
		"coins":          20,
		"payment_system": "stripe",
		"account_number": "acct-1",
	}, bearer(t, worker))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("withdrawal status %d: %s", res.StatusCode, string(data))
	}
	wd := decode[domain.Withdrawal](t, data)
	if wd.AmountUSD != 1 {
		t.Fatalf("expected 1 USD for 20 coins, got %v", wd.AmountUSD)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/withdrawals/pending", nil, bearer(t, admin))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("pending withdrawals status %d: %s", res.StatusCode, string(data))
	}
	if pending := decode[[]domain.Withdrawal](t, data); len(pending) != 1 {
		t.Fatalf("expected 1 pending withdrawal, got %d", len(pending))
	}
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/withdrawals/"+wd.ID, map[string]any{"status": "approved"}, bearer(t, admin))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("settle status %d: %s", res.StatusCode, string(data))
	}
	if got := coinsOf(t, srv, worker); got != 0 {
		t.Fatalf("expected worker balance 0 after payout, got %d", got)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/notifications/"+worker, nil, bearer(t, worker))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("notifications status %d: %s", res.StatusCode, string(data))
	}
	notes := decode[[]domain.Notification](t, data)
	if len(notes) != 2 {
		t.Fatalf("expected 2 worker notifications, got %d: %s", len(notes), string(data))
	}
	res, data = doJSON(t, client, http.MethodPatch, fmt.Sprintf("%s/notifications/read/%d", srv.URL, notes[0].ID), nil, bearer(t, worker))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("mark read status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/notifications/unread/"+worker, nil, bearer(t, worker))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("unread status %d: %s", res.StatusCode, string(data))
	}
	if got := decode[UnreadResponse](t, data).Unread; got != 1 {
		t.Fatalf("expected 1 unread notification, got %d", got)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/notifications/unread/"+worker, nil, bearer(t, buyer))
	expectError(t, res, data, http.StatusForbidden, "forbidden")

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/my-withdrawals/"+worker, nil, bearer(t, worker))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("my-withdrawals status %d: %s", res.StatusCode, string(data))
	}
	if history := decode[[]domain.Withdrawal](t, data); len(history) != 1 || history[0].Status != domain.StatusApproved {
		t.Fatalf("unexpected withdrawal history %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/admin-stats", nil, bearer(t, admin))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("admin stats status %d: %s", res.StatusCode, string(data))
	}
	stats := decode[domain.AdminStats](t, data)
	if stats.TotalBuyers != 1 || stats.TotalWorkers != 1 || stats.TotalPayments != 1 {
		t.Fatalf("unexpected admin stats %+v", stats)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/ledger/"+buyer+"?limit=10", nil, bearer(t, buyer))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("ledger status %d: %s", res.StatusCode, string(data))
	}
	view := decode[engine.LedgerView](t, data)
	if view.Balance != 130 || len(view.Entries) != 3 {
		t.Fatalf("unexpected ledger view %+v", view)
	}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/tasks", nil, nil)
	expectError(t, res, data, http.StatusUnauthorized, "unauthorized")

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/tasks", nil, map[string]string{"Authorization": "Bearer nope"})
	expectError(t, res, data, http.StatusUnauthorized, "invalid_credentials")

	expired, _, err := IssueToken(testSecret, "buyer@example.com", time.Minute, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/tasks", nil, map[string]string{"Authorization": "Bearer " + expired})
	expectError(t, res, data, http.StatusUnauthorized, "invalid_credentials")

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
	if health := decode[HealthResponse](t, data); health.SchemaVersion < 1 || health.Cache != "disabled" {
		t.Fatalf("unexpected health %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/jwt", map[string]any{"email": "Buyer@Example.com"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("jwt status %d: %s", res.StatusCode, string(data))
	}
	token := decode[TokenResponse](t, data).Token
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/tasks", nil, map[string]string{"Authorization": "Bearer " + token})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("tasks with minted token status %d: %s", res.StatusCode, string(data))
	}
}

func TestRoleChecks(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	registerUser(t, srv, "buyer@example.com", "buyer")
	registerUser(t, srv, "worker@example.com", "worker")

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/admin-stats", nil, bearer(t, "worker@example.com"))
	expectError(t, res, data, http.StatusForbidden, "forbidden")

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/buyer-stats/other@example.com", nil, bearer(t, "buyer@example.com"))
	expectError(t, res, data, http.StatusForbidden, "forbidden")

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/tasks", map[string]any{
		"title":            "Not for workers",
		"required_workers": 1,
		"payable_amount":   1,
		"completion_date":  "2024-12-31",
	}, bearer(t, "worker@example.com"))
	expectError(t, res, data, http.StatusForbidden, "forbidden")

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/users", nil, bearer(t, "admin@example.com"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list users status %d: %s", res.StatusCode, string(data))
	}
	users := decode[[]domain.User](t, data)
	if len(users) != 3 {
		t.Fatalf("expected 3 users, got %d", len(users))
	}
	var workerID string
	for _, u := range users {
		if u.Email == "worker@example.com" {
			workerID = u.ID
		}
	}
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/users/role/"+workerID, map[string]any{"role": "buyer"}, bearer(t, "admin@example.com"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("set role status %d: %s", res.StatusCode, string(data))
	}
	if u := decode[domain.User](t, data); u.Role != domain.RoleBuyer {
		t.Fatalf("expected role buyer, got %q", u.Role)
	}
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/users/role/"+workerID, map[string]any{"role": "worker"}, bearer(t, "buyer@example.com"))
	expectError(t, res, data, http.StatusForbidden, "forbidden")
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/users/role/worker@example.com", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("role lookup status %d: %s", res.StatusCode, string(data))
	}
	if got := decode[RoleResponse](t, data).Role; got != domain.RoleBuyer {
		t.Fatalf("expected role lookup to see buyer, got %q", got)
	}
}

func TestConflictsAndValidation(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	buyer := "buyer@example.com"
	registerUser(t, srv, buyer, "buyer")
	registerUser(t, srv, "w1@example.com", "worker")
	registerUser(t, srv, "w2@example.com", "worker")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/tasks", map[string]any{
		"title":            "Too expensive",
		"required_workers": 10,
		"payable_amount":   10,
		"completion_date":  "2024-12-31",
	}, bearer(t, buyer))
	expectError(t, res, data, http.StatusConflict, "insufficient_funds")

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/tasks", map[string]any{
		"title":            "No workers",
		"required_workers": 0,
		"payable_amount":   10,
		"completion_date":  "2024-12-31",
	}, bearer(t, buyer))
	expectError(t, res, data, http.StatusBadRequest, "bad_request")

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/tasks", map[string]any{
		"title":            "Bad date",
		"required_workers": 1,
		"payable_amount":   10,
		"completion_date":  "soon",
	}, bearer(t, buyer))
	expectError(t, res, data, http.StatusBadRequest, "bad_request")

	task := createTask(t, srv, buyer, 1, 10)
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/submissions", map[string]any{"task_id": task.ID}, bearer(t, "w1@example.com"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("first submit status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/submissions", map[string]any{"task_id": task.ID}, bearer(t, "w2@example.com"))
	expectError(t, res, data, http.StatusConflict, "no_slots_available")

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/tasks/missing", nil, bearer(t, buyer))
	expectError(t, res, data, http.StatusNotFound, "not_found")

	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/tasks/"+task.ID, nil, bearer(t, buyer))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("delete task status %d: %s", res.StatusCode, string(data))
	}
	if out := decode[DeleteTaskResponse](t, data); out.Refunded != 10 {
		t.Fatalf("expected refund of the pending submission, got %d", out.Refunded)
	}
	if got := coinsOf(t, srv, buyer); got != 50 {
		t.Fatalf("expected full refund to 50, got %d", got)
	}
}

func TestOpenAPIMarksPublicRoutes(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("openapi status %d", res.StatusCode)
	}
	var doc struct {
		Paths map[string]map[string]struct {
			Security []map[string][]string `json:"security"`
		} `json:"paths"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal openapi: %v", err)
	}
	if sec := doc.Paths["/health"]["get"].Security; len(sec) != 0 {
		t.Fatalf("expected /health to be public, got %v", sec)
	}
	if sec := doc.Paths["/tasks"]["post"].Security; len(sec) != 1 {
		t.Fatalf("expected POST /tasks to require a bearer token, got %v", sec)
	}
}
