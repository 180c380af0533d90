package notify

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// Dashboard routes notifications point the recipient to.
const (
	RouteBuyerHome  = "/dashboard/buyer-home"
	RouteWorkerHome = "/dashboard/worker-home"
)

// Writer appends notifications inside the caller's transaction, so a
// notification exists exactly when the state change it reports was committed.
type Writer struct {
	Now func() time.Time
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, toEmail, message, route string) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	toEmail = strings.ToLower(strings.TrimSpace(toEmail))
	if toEmail == "" {
		return errors.New("notification recipient required")
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	_, err := tx.ExecContext(ctx, `INSERT INTO notifications(to_email,message,action_route,created_at,is_read) VALUES (?,?,?,?,0)`,
		toEmail, message, route, ts)
	return err
}
