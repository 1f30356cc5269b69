// Package app wires the workspace together: database, migrations, config
// and the lifecycle engine, for both the CLI and the HTTP server.
package app

import (
	"fmt"
	"os"
	"path/filepath"

	"reqline/internal/config"
	"reqline/internal/db"
	"reqline/internal/engine"
	"reqline/internal/migrate"
	"reqline/internal/notify"
)

// App is an opened workspace.
type App struct {
	Workspace string
	Config    *config.Config
	Engine    engine.Engine
	Notifier  notify.Adapter

	closeDB func() error
}

// Open loads the workspace config, opens and migrates the database and
// builds the engine. The notify adapter is chosen from config: configured
// webhook destinations get the webhook adapter, anything else runs on the
// in-process one.
func Open(workspace string) (*App, error) {
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	var adapter notify.Adapter
	if webhooksConfigured(cfg) {
		adapter = notify.NewWebhook(cfg)
	} else {
		adapter = notify.NewMemory()
	}

	return &App{
		Workspace: workspace,
		Config:    cfg,
		Engine:    engine.New(conn, cfg, adapter),
		Notifier:  adapter,
		closeDB:   conn.Close,
	}, nil
}

func webhooksConfigured(cfg *config.Config) bool {
	for _, cat := range cfg.Categories.Catalog {
		if cat.Destination != "" {
			return true
		}
	}
	return cfg.Notify.PrivateURL != "" || cfg.Notify.OperatorURL != ""
}

func (a *App) Close() error {
	if a.closeDB == nil {
		return nil
	}
	return a.closeDB()
}

// Init seeds a fresh workspace: the .reqline directory, a default
// reqline.yml and an empty migrated database. It refuses to overwrite an
// existing config.
func Init(workspace, serviceName string) (string, error) {
	if serviceName == "" {
		abs, err := filepath.Abs(workspace)
		if err != nil {
			return "", err
		}
		serviceName = filepath.Base(abs)
	}
	cfgPath := config.Path(workspace)
	if _, err := os.Stat(cfgPath); err == nil {
		return "", fmt.Errorf("workspace already initialized: %s exists", cfgPath)
	}
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return "", err
	}
	if err := os.WriteFile(cfgPath, []byte(config.GenerateDefault(serviceName)), 0o644); err != nil {
		return "", err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return "", err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return "", fmt.Errorf("migrate: %w", err)
	}
	return cfgPath, nil
}
