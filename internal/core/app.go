package core

import (
	"database/sql"
	"fmt"

	"github.com/exatta/encerramento/internal/assets"
	"github.com/exatta/encerramento/internal/bots"
	"github.com/exatta/encerramento/internal/config"
	"github.com/exatta/encerramento/internal/db"
	"github.com/exatta/encerramento/internal/encerramento"
	"github.com/exatta/encerramento/internal/jobs"
	"github.com/exatta/encerramento/internal/log"
	"github.com/exatta/encerramento/internal/store"
	"github.com/exatta/encerramento/internal/util"
	"github.com/exatta/encerramento/internal/websocket"
)

// App holds the core components of the application that are shared
// between the server and the CLI.
type App struct {
	config        *config.Config
	db            *sql.DB
	wsHub         *websocket.Hub
	jobManager    *jobs.JobManager
	store         *store.Store
	bots          *bots.Registry
	encerramentos *encerramento.Service
	Version       string
}

// New sets up and returns a new App instance. It handles loading the
// configuration, initializing the database connection, and running migrations.
func New(version string) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	log.Setup(cfg.Log.Level, cfg.Log.Pretty)

	database, err := db.InitDB(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := db.RunMigrations(database, assets.MigrationsFS); err != nil {
		// We can't proceed without a valid database schema.
		database.Close()
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}

	app, err := Build(cfg, database, version)
	if err != nil {
		database.Close()
		return nil, err
	}
	log.Info().Str("version", version).Str("database", cfg.Database.Path).Msg("Core application setup complete")
	return app, nil
}

// Build wires the application around an already migrated database. Workers,
// the hub loop and the bots watcher are not started.
func Build(cfg *config.Config, database *sql.DB, version string) (*App, error) {
	if err := util.EnsureWritableDir(cfg.Bots.WorkDir); err != nil {
		return nil, fmt.Errorf("bots work directory: %w", err)
	}
	app := &App{
		config:  cfg,
		db:      database,
		wsHub:   websocket.NewHub(),
		store:   store.New(database),
		bots:    bots.NewRegistry(cfg.Bots, version),
		Version: version,
	}
	if err := app.bots.Load(); err != nil {
		return nil, fmt.Errorf("failed to load bots: %w", err)
	}
	app.encerramentos = encerramento.NewService(app.store, app.bots, app.wsHub, cfg.Bots)
	app.jobManager = jobs.NewManager(app)
	jobs.RegisterDefaults(app.jobManager)
	return app, nil
}

func (a *App) Config() *config.Config               { return a.config }
func (a *App) DB() *sql.DB                          { return a.db }
func (a *App) WsHub() *websocket.Hub                { return a.wsHub }
func (a *App) JobManager() *jobs.JobManager         { return a.jobManager }
func (a *App) Store() *store.Store                  { return a.store }
func (a *App) Bots() *bots.Registry                 { return a.bots }
func (a *App) Encerramentos() *encerramento.Service { return a.encerramentos }

// Close gracefully closes the application's resources, like the DB connection.
func (a *App) Close() {
	if a.bots != nil {
		a.bots.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}
