package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/Andival-Sei/pennora/backend/internal/config"
	"github.com/Andival-Sei/pennora/backend/internal/db"
	apperrors "github.com/Andival-Sei/pennora/backend/internal/errors"
	"github.com/Andival-Sei/pennora/backend/internal/logging"
	"github.com/Andival-Sei/pennora/backend/internal/remote"
	"github.com/Andival-Sei/pennora/backend/internal/remote/rest"
	"github.com/Andival-Sei/pennora/backend/internal/remote/sqlstore"
	"github.com/Andival-Sei/pennora/backend/internal/sync/queue"
)

// app holds the resources shared by the subcommands.
type app struct {
	config *config.Config
	db     *db.DB
	queue  *queue.Manager

	closers []func() error
}

// bootstrap loads configuration, initializes logging and opens the
// migrated queue database.
func bootstrap(flags *globalFlags) (*app, error) {
	cfg, err := config.Load(flags.configFile)
	if err != nil {
		return nil, err
	}
	if flags.dataDir != "" {
		cfg.DataDir = flags.dataDir
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}

	logging.InitFile(logging.FileConfig{
		Path:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	}, logging.ParseLevel(cfg.Log.Level))

	database, err := db.Open(cfg.DataDir)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to open queue database", err)
	}
	if err := database.Migrate(); err != nil {
		database.Close()
		return nil, apperrors.Wrap(apperrors.ErrMigration, "failed to migrate queue database", err)
	}

	a := &app{
		config: cfg,
		db:     database,
		queue:  queue.NewManager(db.NewOperationStore(database)),
	}
	a.closers = append(a.closers, database.Close)
	return a, nil
}

// remoteStore builds the configured remote store.
func (a *app) remoteStore() (remote.Store, error) {
	if !a.config.RemoteConfigured() {
		return nil, apperrors.New(apperrors.ErrSyncNotConfigured,
			"no remote store configured; set remote.url (rest) or remote.dsn (mysql)")
	}

	rc := a.config.Remote
	switch rc.Driver {
	case config.DriverMySQL:
		store, err := sqlstore.Open(sqlstore.Config{
			DSN:             rc.DSN,
			MaxOpenConns:    4,
			ConnMaxLifetime: rc.Timeout * 10,
		})
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrSyncNotConfigured, "failed to open remote database", err)
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	default:
		return rest.NewClient(rest.Config{
			BaseURL:     rc.URL,
			APIKey:      rc.APIKey,
			AccessToken: rc.AccessToken,
			Timeout:     rc.Timeout,
		}), nil
	}
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logging.Warn("Failed to release resource", map[string]interface{}{"error": err.Error()})
		}
	}
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}
