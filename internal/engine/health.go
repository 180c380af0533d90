package engine

import (
	"context"
	"fmt"

	"microtask/internal/cache"
	"microtask/internal/migrate"
)

// Health describes the state of the engine's backing stores.
type Health struct {
	SchemaVersion int `json:"schema_version"`
	// Cache is "disabled" when no Redis address is configured.
	Cache      string          `json:"cache" enum:"ok,unavailable,disabled"`
	CacheStats *cache.Snapshot `json:"cache_stats,omitempty"`
}

// Health pings the database and reports the schema version. An unreachable
// cache degrades stats to direct queries, so it is reported but not an error.
func (e Engine) Health(ctx context.Context) (Health, error) {
	if err := e.DB.PingContext(ctx); err != nil {
		return Health{}, fmt.Errorf("ping database: %w", err)
	}
	v, err := migrate.Version(ctx, e.DB)
	if err != nil {
		return Health{}, err
	}
	h := Health{SchemaVersion: v, Cache: "disabled"}
	if e.Cache == nil {
		return h, nil
	}
	h.Cache = "ok"
	if err := e.Cache.Ping(ctx); err != nil {
		h.Cache = "unavailable"
	}
	snap := e.Cache.Snapshot()
	h.CacheStats = &snap
	return h, nil
}
