package engine

import (
	"context"
	"fmt"

	"microtask/internal/domain"
	"microtask/internal/repo"
)

// cached serves key from the cache, computing it at most once per process on
// concurrent misses.
func cached[T any](ctx context.Context, e Engine, key string, load func(context.Context) (T, error)) (T, error) {
	var out T
	if found, err := e.Cache.Get(ctx, key, &out); err == nil && found {
		return out, nil
	}
	if e.flights == nil {
		return load(ctx)
	}
	v, err, _ := e.flights.Do(key, func() (any, error) {
		res, err := load(ctx)
		if err != nil {
			return nil, err
		}
		_ = e.Cache.Set(ctx, key, res)
		return res, nil
	})
	if err != nil {
		return out, err
	}
	return v.(T), nil
}

func (e Engine) AdminStats(ctx context.Context) (domain.AdminStats, error) {
	return cached(ctx, e, "stats:admin", e.Repo.AdminStats)
}

func (e Engine) BuyerStats(ctx context.Context, email string) (domain.BuyerStats, error) {
	email = repo.NormalizeEmail(email)
	return cached(ctx, e, "stats:buyer:"+email, func(ctx context.Context) (domain.BuyerStats, error) {
		return e.Repo.BuyerStats(ctx, email)
	})
}

func (e Engine) WorkerStats(ctx context.Context, email string) (domain.WorkerStats, error) {
	email = repo.NormalizeEmail(email)
	return cached(ctx, e, "stats:worker:"+email, func(ctx context.Context) (domain.WorkerStats, error) {
		return e.Repo.WorkerStats(ctx, email)
	})
}

// TopWorkers returns the richest workers, count taken from config.
func (e Engine) TopWorkers(ctx context.Context) ([]domain.User, error) {
	cfg, err := e.config()
	if err != nil {
		return nil, err
	}
	n := cfg.Stats.TopWorkerCount
	return cached(ctx, e, fmt.Sprintf("top-workers:%d", n), func(ctx context.Context) ([]domain.User, error) {
		return e.Repo.ListUsers(ctx, repo.UserFilters{Role: domain.RoleWorker, Order: "coins", Limit: n})
	})
}
