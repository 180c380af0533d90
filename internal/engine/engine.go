package engine

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"microtask/internal/cache"
	"microtask/internal/config"
	"microtask/internal/engine/auth"
	"microtask/internal/ledger"
	"microtask/internal/notify"
	"microtask/internal/repo"
	"microtask/internal/telemetry"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Auth   auth.Service
	Config *config.Config
	Cache  *cache.Cache
	Tracer trace.Tracer
	Now    func() time.Time

	flights *singleflight.Group
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		Auth:    auth.Service{DB: db},
		Config:  cfg,
		Tracer:  telemetry.Tracer(),
		Now:     time.Now,
		flights: &singleflight.Group{},
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

// Ledger returns the balance store sharing the engine's clock.
func (e Engine) Ledger() ledger.Store {
	return ledger.Store{DB: e.DB, Now: e.now}
}

func (e Engine) notifier() notify.Writer {
	return notify.Writer{Now: e.now}
}

func (e Engine) config() (*config.Config, error) {
	if e.Config == nil {
		return nil, errors.New("config not loaded")
	}
	return e.Config, nil
}

// start opens a span for an engine operation.
func (e Engine) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := e.Tracer
	if tracer == nil {
		tracer = telemetry.Tracer()
	}
	return tracer.Start(ctx, "engine."+name, trace.WithAttributes(attrs...))
}

// finish records err on span and ends it.
func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// invalidate drops cached aggregates after a committed change.
func (e Engine) invalidate(ctx context.Context) {
	_ = e.Cache.Flush(ctx)
}
