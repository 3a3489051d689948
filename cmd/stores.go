package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nextlevelbuilder/chatrelay/internal/config"
	"github.com/nextlevelbuilder/chatrelay/internal/store"
	"github.com/nextlevelbuilder/chatrelay/internal/store/file"
	"github.com/nextlevelbuilder/chatrelay/internal/store/sqlstore"
)

// openStore opens the checkpoint store selected by cfg.Sessions.Driver.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch driver := cfg.Sessions.Driver; driver {
	case "", "file":
		dir := config.ExpandHome(cfg.Sessions.Storage)
		st, err := file.NewSessionStore(dir)
		if err != nil {
			return nil, fmt.Errorf("open file store: %w", err)
		}
		slog.Info("session store ready", "driver", "file", "dir", dir)
		return st, nil
	case "sqlite", "postgres", sqlstore.DriverPostgres:
		dsn := cfg.Sessions.DSN
		if driver == "sqlite" {
			dsn = config.ExpandHome(dsn)
		}
		if dsn == "" {
			return nil, fmt.Errorf("sessions.dsn is required for driver %q", driver)
		}
		st, err := sqlstore.Open(ctx, driver, dsn)
		if err != nil {
			return nil, err
		}
		slog.Info("session store ready", "driver", driver)
		return st, nil
	default:
		return nil, fmt.Errorf("unknown sessions.driver %q", driver)
	}
}

// migrateLegacy imports the single-file legacy store, if configured.
func migrateLegacy(ctx context.Context, cfg *config.Config, st store.Store) int {
	if cfg.Sessions.LegacyFile == "" {
		return 0
	}
	return file.MigrateLegacy(ctx, config.ExpandHome(cfg.Sessions.LegacyFile), st)
}
