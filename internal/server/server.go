package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"microtask/internal/domain"
	"microtask/internal/engine"
	"microtask/internal/engine/auth"
	"microtask/internal/ledger"
	"microtask/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine engine.Engine
	Auth   AuthConfig
	Logger *slog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"insufficient_funds"`
	Message string         `json:"message" example:"insufficient coins"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the marketplace API.
func New(cfg Config) (http.Handler, error) {
	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		return nil, errors.New("jwt secret required")
	}
	if cfg.Auth.TokenTTL <= 0 && cfg.Engine.Config != nil {
		cfg.Auth.TokenTTL = cfg.Engine.Config.Auth.TokenTTL.Std()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(normalizeStatus(status, msg), "", msg, errorDetails(errs))
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(normalizeStatus(status, msg), "", msg, errorDetails(errs))
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(requestLogger(logger))
	router.Use(newAuthMiddleware(cfg.Auth))
	hcfg := huma.DefaultConfig("Microtask Marketplace API", "1.0.0")
	hcfg.OpenAPIPath = "" // served below with error and security decorations
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)

	h := handlers{e: cfg.Engine, auth: cfg.Auth, log: logger}
	registerDocs(router)
	h.registerMeta(api)
	h.registerUsers(api)
	h.registerTasks(api)
	h.registerSubmissions(api)
	h.registerWithdrawals(api)
	h.registerNotifications(api)
	h.registerPayments(api)
	h.registerStats(api)
	registerOpenAPI(router, api)

	return router, nil
}

type handlers struct {
	e    engine.Engine
	auth AuthConfig
	log  *slog.Logger
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// normalizeStatus reports request schema failures as 400.
func normalizeStatus(status int, msg string) int {
	if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
		return http.StatusBadRequest
	}
	return status
}

func errorDetails(errs []error) map[string]any {
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			msgs = append(msgs, err.Error())
		}
	}
	return map[string]any{"errors": msgs}
}

// handleError maps engine errors onto the API envelope. Unexpected errors are
// logged and reported without detail.
func (h handlers) handleError(ctx context.Context, err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", fe.Error(), nil)
	}
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		var details map[string]any
		if ve.Field != "" {
			details = map[string]any{"field": ve.Field}
		}
		return newAPIError(http.StatusBadRequest, "bad_request", ve.Error(), details)
	}
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", "not found", nil)
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return newAPIError(http.StatusConflict, "insufficient_funds", "insufficient coins", nil)
	case errors.Is(err, engine.ErrNoSlotsAvailable):
		return newAPIError(http.StatusConflict, "no_slots_available", "no worker slots available", nil)
	case errors.Is(err, engine.ErrAlreadyReviewed):
		return newAPIError(http.StatusConflict, "already_reviewed", err.Error(), nil)
	case errors.Is(err, engine.ErrDuplicatePayment):
		return newAPIError(http.StatusConflict, "conflict", "payment already recorded", nil)
	}
	h.log.ErrorContext(ctx, "request failed", "error", err, "request_id", middleware.GetReqID(ctx))
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil)
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// requireRole returns the caller once they hold one of roles.
func (h handlers) requireRole(ctx context.Context, roles ...auth.Role) (string, error) {
	email, authErr := emailFromContext(ctx)
	if authErr != nil {
		return "", authErr
	}
	if _, err := h.e.Auth.Require(ctx, nil, email, roles...); err != nil {
		return "", err
	}
	return email, nil
}

// requireSelf is requireRole plus a check that the caller is the addressed user.
func (h handlers) requireSelf(ctx context.Context, target string, roles ...auth.Role) (string, error) {
	email, err := h.requireRole(ctx, roles...)
	if err != nil {
		return "", err
	}
	if repo.NormalizeEmail(target) != email {
		return "", auth.Forbidden("cannot access another user's data")
	}
	return email, nil
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.InfoContext(r.Context(), "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

func registerDocs(r chi.Router) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML())
	})
}

func registerOpenAPI(r chi.Router, api huma.API) {
	var spec []byte
	r.Get("/openapi.json", func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil || oas.Components == nil || oas.Components.Schemas == nil {
		return
	}
	errSchema := oas.Components.Schemas.Schema(reflect.TypeOf(apiError{}), true, "ApiError")
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {Schema: errSchema},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	for route, item := range oas.Paths {
		for method, op := range map[string]*huma.Operation{
			http.MethodGet: item.Get, http.MethodPut: item.Put, http.MethodPost: item.Post,
			http.MethodDelete: item.Delete, http.MethodPatch: item.Patch,
		} {
			if op == nil {
				continue
			}
			if publicRoute(method, route) {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML() string {
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Microtask API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Mint a token with POST /jwt, then authenticate with Authorization: Bearer &lt;token&gt;.
    </p>
  </body>
</html>`, "/openapi.json")
}

var clientErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusInternalServerError,
}

func (h handlers) registerMeta(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "root",
		Method:      http.MethodGet,
		Path:        "/",
		Summary:     "Service banner",
	}, func(ctx context.Context, _ *struct{}) (*out[MessageResponse], error) {
		return reply(MessageResponse{Message: "microtask marketplace is running"}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*out[HealthResponse], error) {
		health, err := h.e.Health(ctx)
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		return reply(HealthResponse{Status: "ok", Health: health}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "issue-token",
		Method:      http.MethodPost,
		Path:        "/jwt",
		Summary:     "Issue a bearer token",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body TokenRequest `json:"body"`
	}) (*out[TokenResponse], error) {
		if strings.TrimSpace(input.Body.Email) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "email is required", nil)
		}
		token, exp, err := IssueToken(h.auth.JWTSecret, input.Body.Email, h.auth.TokenTTL, time.Now())
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		return reply(TokenResponse{Token: token, ExpiresAt: exp}), nil
	})
}

func (h handlers) registerUsers(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "register-user",
		Method:      http.MethodPost,
		Path:        "/users",
		Summary:     "Register a buyer or worker",
		Errors:      clientErrors,
	}, func(ctx context.Context, input *struct {
		Body RegisterUserRequest `json:"body"`
	}) (*out[RegisterUserResponse], error) {
		u, created, err := h.e.RegisterUser(ctx, engine.RegisterOptions{
			Email:    input.Body.Email,
			Name:     input.Body.Name,
			PhotoURL: input.Body.PhotoURL,
			Role:     input.Body.Role,
		})
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		return reply(RegisterUserResponse{User: u, Created: created}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-user-role",
		Method:      http.MethodGet,
		Path:        "/users/role/{email}",
		Summary:     "Role and balance of a user",
		Errors:      clientErrors,
	}, func(ctx context.Context, input *struct {
		Email string `path:"email"`
	}) (*out[RoleResponse], error) {
		u, err := h.e.GetUser(ctx, input.Email)
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		return reply(RoleResponse{Role: u.Role, Coins: u.Coins}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-users",
		Method:      http.MethodGet,
		Path:        "/users",
		Summary:     "List users (admin)",
		Errors:      clientErrors,
	}, func(ctx context.Context, _ *struct{}) (*out[[]domain.User], error) {
		email, authErr := emailFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		users, err := h.e.ListUsers(ctx, email)
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		return reply(nonNilSlice(users)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-user-role",
		Method:      http.MethodPatch,
		Path:        "/users/role/{id}",
		Summary:     "Change a user's role (admin)",
		Errors:      clientErrors,
	}, func(ctx context.Context, input *struct {
		ID   string         `path:"id"`
		Body SetRoleRequest `json:"body"`
	}) (*out[domain.User], error) {
		email, authErr := emailFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		u, err := h.e.SetRole(ctx, input.ID, input.Body.Role, email)
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		return reply(u), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-user",
		Method:      http.MethodDelete,
		Path:        "/users/{id}",
		Summary:     "Delete a user (admin)",
		Errors:      clientErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*out[DeletedResponse], error) {
		email, authErr := emailFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := h.e.DeleteUser(ctx, input.ID, email); err != nil {
			return nil, h.handleError(ctx, err)
		}
		return reply(DeletedResponse{Deleted: true}), nil
	})
}

func (h handlers) registerTasks(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-open-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "Tasks with open worker slots",
		Errors:      clientErrors,
	}, func(ctx context.Context, _ *struct{}) (*out[[]domain.Task], error) {
		tasks, err := h.e.ListOpenTasks(ctx)
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		return reply(nonNilSlice(tasks)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Get task",
		Errors:      clientErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*out[domain.Task], error) {
		t, err := h.e.GetTask(ctx, input.ID)
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		return reply(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-buyer-tasks",
		Method:      http.MethodGet,
		Path:        "/my-tasks/{email}",
		Summary:     "Tasks posted by the calling buyer",
		Errors:      clientErrors,
	}, func(ctx context.Context, input *struct {
		Email string `path:"email"`
	}) (*out[[]domain.Task], error) {
		if _, err := h.requireSelf(ctx, input.Email, auth.RoleBuyer); err != nil {
			return nil, h.handleError(ctx, err)
		}
		tasks, err := h.e.ListBuyerTasks(ctx, input.Email)
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		return reply(nonNilSlice(tasks)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task and reserve its coins",
		DefaultStatus: http.StatusCreated,
		Errors:        clientErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*out[domain.Task], error) {
		email, authErr := emailFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := h.e.CreateTask(ctx, engine.TaskCreateOptions{
			BuyerEmail:      email,
			Title:           input.Body.Title,
			Detail:          input.Body.Detail,
			ImageURL:        input.Body.ImageURL,
			SubmissionInfo:  input.Body.SubmissionInfo,
			RequiredWorkers: input.Body.RequiredWorkers,
			PayableAmount:   input.Body.PayableAmount,
			CompletionDate:  input.Body.CompletionDate,
		})
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		return reply(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-task",
		Method:      http.MethodDelete,
		Path:        "/tasks/{id}",
		Summary:     "Delete task and refund its reservation",
		Errors:      clientErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*out[DeleteTaskResponse], error) {
		email, authErr := emailFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		refund, err := h.e.DeleteTask(ctx, input.ID, email)
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		return reply(DeleteTaskResponse{Deleted: true, Refunded: refund}), nil
	})
}

func (h handlers) registerSubmissions(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-work",
		Method:        http.MethodPost,
		Path:          "/submissions",
		Summary:       "Submit work for a task",
		DefaultStatus: http.StatusCreated,
		Errors:        clientErrors,
	}, func(ctx context.Context, input *struct {
		Body SubmitRequest `json:"body"`
	}) (*out[domain.Submission], error) {
		email, authErr := emailFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := h.e.Submit(ctx, engine.SubmitOptions{TaskID: input.Body.TaskID, WorkerEmail: email, Details: input.Body.Details})
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		return reply(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-worker-submissions",
		Method:      http.MethodGet,
		Path:        "/my-submissions",
		Summary:     "Paged submissions of the calling worker",
		Errors:      clientErrors,
	}, func(ctx context.Context, input *struct {
		Email string `query:"email" required:"true"`
		Page  int    `query:"page" default:"1" minimum:"1"`
		Size  int    `query:"size" default:"10" minimum:"1" maximum:"100"`
	}) (*out[SubmissionPage], error) {
		if _, err := h.requireSelf(ctx, input.Email, auth.RoleWorker); err != nil {
			return nil, h.handleError(ctx, err)
		}
		page, err := h.e.ListWorkerSubmissions(ctx, input.Email, input.Page, input.Size)
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		return reply(SubmissionPage{Total: page.Total, Result: nonNilSlice(page.Items)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "review-submission",
		Method:      http.MethodPatch,
		Path:        "/submissions/{id}",
		Summary:     "Approve or reject a submission",
		Errors:      clientErrors,
	}, func(ctx context.Context, input *struct {
		ID   string        `path:"id"`
		Body ReviewRequest `json:"body"`
	}) (*out[domain.Submission], error) {
		email, authErr := emailFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := h.e.Review(ctx, input.ID, input.Body.Status, email)
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		return reply(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-submissions-to-review",
		Method:      http.MethodGet,
		Path:        "/submissions/to-review/{email}",
		Summary:     "Pending submissions awaiting the calling buyer",
		Errors:      clientErrors,
	}, func(ctx context.Context, input *struct {
		Email string `path:"email"`
	}) (*out[[]domain.Submission], error) {
		if _, err := h.requireSelf(ctx, input.Email, auth.RoleBuyer); err != nil {
			return nil, h.handleError(ctx, err)
		}
		subs, err := h.e.ListSubmissionsToReview(ctx, input.Email)
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		return reply(nonNilSlice(subs)), nil
	})
}

func (h handlers) registerWithdrawals(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "request-withdrawal",
		Method:        http.MethodPost,
		Path:          "/withdrawals",
		Summary:       "Request a coin withdrawal",
		DefaultStatus: http.StatusCreated,
		Errors:        clientErrors,
	}, func(ctx context.Context, input *struct {
		Body WithdrawalRequest `json:"body"`
	}) (*out[domain.Withdrawal], error) {
		email, authErr := emailFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		w, err := h.e.RequestWithdrawal(ctx, engine.WithdrawalRequest{
			WorkerEmail:   email,
			Coins:         input.Body.Coins,
			PaymentSystem: input.Body.PaymentSystem,
			AccountNumber: input.Body.AccountNumber,
		})
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		return reply(w), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-pending-withdrawals",
		Method:      http.MethodGet,
		Path:        "/withdrawals/pending",
		Summary:     "Withdrawals awaiting settlement (admin)",
		Errors:      clientErrors,
	}, func(ctx context.Context, _ *struct{}) (*out[[]domain.Withdrawal], error) {
		email, authErr := emailFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ws, err := h.e.ListPendingWithdrawals(ctx, email)
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		return reply(nonNilSlice(ws)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-worker-withdrawals",
		Method:      http.MethodGet,
		Path:        "/my-withdrawals/{email}",
		Summary:     "Withdrawals of the calling worker",
		Errors:      clientErrors,
	}, func(ctx context.Context, input *struct {
		Email string `path:"email"`
	}) (*out[[]domain.Withdrawal], error) {
		if _, err := h.requireSelf(ctx, input.Email, auth.RoleWorker); err != nil {
			return nil, h.handleError(ctx, err)
		}
		ws, err := h.e.ListWorkerWithdrawals(ctx, input.Email)
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		return reply(nonNilSlice(ws)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "settle-withdrawal",
		Method:      http.MethodPatch,
		Path:        "/withdrawals/{id}",
		Summary:     "Approve or deny a withdrawal (admin)",
		Errors:      clientErrors,
	}, func(ctx context.Context, input *struct {
		ID   string        `path:"id"`
		Body SettleRequest `json:"body"`
	}) (*out[domain.Withdrawal], error) {
		email, authErr := emailFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		w, err := h.e.Settle(ctx, input.ID, input.Body.Status, email)
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		return reply(w), nil
	})
}

func (h handlers) registerNotifications(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-notifications",
		Method:      http.MethodGet,
		Path:        "/notifications/{email}",
		Summary:     "Notifications of a user, newest first",
		Errors:      clientErrors,
	}, func(ctx context.Context, input *struct {
		Email string `path:"email"`
	}) (*out[[]domain.Notification], error) {
		email, authErr := emailFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ns, err := h.e.ListNotifications(ctx, input.Email, email)
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		return reply(nonNilSlice(ns)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "count-unread-notifications",
		Method:      http.MethodGet,
		Path:        "/notifications/unread/{email}",
		Summary:     "Number of unread notifications of a user",
		Errors:      clientErrors,
	}, func(ctx context.Context, input *struct {
		Email string `path:"email"`
	}) (*out[UnreadResponse], error) {
		email, authErr := emailFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, err := h.e.UnreadCount(ctx, input.Email, email)
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		return reply(UnreadResponse{Unread: n}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "mark-notification-read",
		Method:      http.MethodPatch,
		Path:        "/notifications/read/{id}",
		Summary:     "Mark one of the caller's notifications read",
		Errors:      clientErrors,
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*out[MessageResponse], error) {
		email, authErr := emailFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := h.e.MarkRead(ctx, input.ID, email); err != nil {
			return nil, h.handleError(ctx, err)
		}
		return reply(MessageResponse{Message: "read"}), nil
	})
}

func (h handlers) registerPayments(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "record-payment",
		Method:        http.MethodPost,
		Path:          "/payments",
		Summary:       "Record a completed coin purchase",
		DefaultStatus: http.StatusCreated,
		Errors:        clientErrors,
	}, func(ctx context.Context, input *struct {
		Body PaymentRequest `json:"body"`
	}) (*out[domain.Payment], error) {
		email, authErr := emailFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := h.e.RecordPayment(ctx, engine.PaymentOptions{
			Email:         email,
			Coins:         input.Body.Coins,
			AmountCents:   input.Body.AmountCents,
			TransactionID: input.Body.TransactionID,
		})
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-payments",
		Method:      http.MethodGet,
		Path:        "/payments/{email}",
		Summary:     "Coin purchases of the calling buyer",
		Errors:      clientErrors,
	}, func(ctx context.Context, input *struct {
		Email string `path:"email"`
	}) (*out[[]domain.Payment], error) {
		if _, err := h.requireSelf(ctx, input.Email, auth.RoleBuyer); err != nil {
			return nil, h.handleError(ctx, err)
		}
		ps, err := h.e.ListPayments(ctx, input.Email)
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		return reply(nonNilSlice(ps)), nil
	})
}

func (h handlers) registerStats(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "admin-stats",
		Method:      http.MethodGet,
		Path:        "/admin-stats",
		Summary:     "Marketplace totals (admin)",
		Errors:      clientErrors,
	}, func(ctx context.Context, _ *struct{}) (*out[domain.AdminStats], error) {
		if _, err := h.requireRole(ctx, auth.RoleAdmin); err != nil {
			return nil, h.handleError(ctx, err)
		}
		s, err := h.e.AdminStats(ctx)
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		return reply(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "buyer-stats",
		Method:      http.MethodGet,
		Path:        "/buyer-stats/{email}",
		Summary:     "Totals of the calling buyer",
		Errors:      clientErrors,
	}, func(ctx context.Context, input *struct {
		Email string `path:"email"`
	}) (*out[domain.BuyerStats], error) {
		if _, err := h.requireSelf(ctx, input.Email, auth.RoleBuyer); err != nil {
			return nil, h.handleError(ctx, err)
		}
		s, err := h.e.BuyerStats(ctx, input.Email)
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		return reply(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "worker-stats",
		Method:      http.MethodGet,
		Path:        "/worker-stats/{email}",
		Summary:     "Totals of the calling worker",
		Errors:      clientErrors,
	}, func(ctx context.Context, input *struct {
		Email string `path:"email"`
	}) (*out[domain.WorkerStats], error) {
		if _, err := h.requireSelf(ctx, input.Email, auth.RoleWorker); err != nil {
			return nil, h.handleError(ctx, err)
		}
		s, err := h.e.WorkerStats(ctx, input.Email)
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		return reply(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "top-workers",
		Method:      http.MethodGet,
		Path:        "/top-workers",
		Summary:     "Workers with the highest balances",
		Errors:      clientErrors,
	}, func(ctx context.Context, _ *struct{}) (*out[[]domain.User], error) {
		users, err := h.e.TopWorkers(ctx)
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		return reply(nonNilSlice(users)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "ledger",
		Method:      http.MethodGet,
		Path:        "/ledger/{email}",
		Summary:     "Balance and recent journal entries",
		Errors:      clientErrors,
	}, func(ctx context.Context, input *struct {
		Email string `path:"email"`
		Limit int    `query:"limit" default:"50" minimum:"1" maximum:"500"`
	}) (*out[engine.LedgerView], error) {
		email, authErr := emailFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		view, err := h.e.LedgerView(ctx, input.Email, email, input.Limit)
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		view.Entries = nonNilSlice(view.Entries)
		return reply(view), nil
	})
}
