package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/exatta/encerramento/internal/api"
	"github.com/exatta/encerramento/internal/config"
	"github.com/exatta/encerramento/internal/core"
)

// TestConfig returns a configuration whose directories live under t.TempDir().
func TestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.Bots = config.BotsConfig{
		Path:         t.TempDir(),
		WorkDir:      t.TempDir(),
		MaxWorkers:   2,
		QueueSize:    10,
		Timeout:      10 * time.Second,
		Interpreters: map[string]string{"sh": "sh"},
	}
	cfg.Jobs.RetentionDays = 30
	return cfg
}

// SetupTestApp builds a core.App on an in-memory database with the hub
// running and workers started. mutate, if not nil, may adjust the config
// before the app is built.
func SetupTestApp(t *testing.T, mutate func(*config.Config)) *core.App {
	t.Helper()
	cfg := TestConfig(t)
	if mutate != nil {
		mutate(cfg)
	}

	app, err := core.Build(cfg, SetupTestDB(t), "test")
	if err != nil {
		t.Fatalf("Failed to build app: %v", err)
	}
	go app.WsHub().Run()
	app.Encerramentos().StartWorkers()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		app.Encerramentos().Shutdown(ctx)
	})
	return app
}

// SetupTestServer initializes a full core.App and api.Server for integration testing.
func SetupTestServer(t *testing.T) (*api.Server, *core.App) {
	t.Helper()
	app := SetupTestApp(t, nil)
	return api.NewServer(app), app
}
