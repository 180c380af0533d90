package app

import (
	"context"
	"database/sql"
	"fmt"

	"microtask/internal/cache"
	"microtask/internal/config"
	"microtask/internal/db"
	"microtask/internal/engine"
	"microtask/internal/migrate"
)

// Workspace is an opened marketplace: database, config and engine.
type Workspace struct {
	Path   string
	DB     *sql.DB
	Config *config.Config
	Cache  *cache.Cache
	Engine engine.Engine
}

// Options tune Open beyond the workspace directory.
type Options struct {
	// RedisAddr enables the stats cache when set.
	RedisAddr string
}

// Open prepares the workspace directory, migrates the database, loads
// marketplace.yml (defaults when absent) and bootstraps the configured admin.
func Open(ctx context.Context, workspace string, opts Options) (*Workspace, error) {
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return nil, err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	c, err := cache.Connect(ctx, opts.RedisAddr, "microtask:", cfg.Stats.CacheTTL.Std())
	if err != nil {
		conn.Close()
		return nil, err
	}
	eng := engine.New(conn, cfg)
	eng.Cache = c
	if cfg.Admin.Email != "" {
		if _, err := eng.CreateAdmin(ctx, cfg.Admin.Email, cfg.Admin.Name); err != nil {
			c.Close()
			conn.Close()
			return nil, fmt.Errorf("bootstrap admin: %w", err)
		}
	}
	return &Workspace{Path: workspace, DB: conn, Config: cfg, Cache: c, Engine: eng}, nil
}

func (w *Workspace) Close() error {
	if err := w.Cache.Close(); err != nil {
		w.DB.Close()
		return err
	}
	return w.DB.Close()
}
