package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/exatta/encerramento/internal/api"
	"github.com/exatta/encerramento/internal/core"
	"github.com/exatta/encerramento/internal/jobs"
	"github.com/exatta/encerramento/internal/log"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	app, err := core.New(version)
	if err != nil {
		log.Fatal().Err(err).Msg("Fatal error during application setup")
	}
	defer app.Close()

	go app.WsHub().Run()

	// Runs left em_processo by a previous process can never finish now.
	if n, err := app.Encerramentos().RecoverInterrupted(); err != nil {
		log.Error().Err(err).Msg("Failed to recover interrupted runs")
	} else if n > 0 {
		log.Warn().Int("count", n).Msg("Marked interrupted runs as failed")
	}
	app.Encerramentos().StartWorkers()

	if err := app.Bots().Watch(); err != nil {
		log.Warn().Err(err).Msg("Bots directory watcher disabled")
	}

	scheduler := jobs.StartJobs(app)

	server := api.NewServer(app)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", app.Config().Port),
		Handler:           server.Router(),
		ErrorLog:          log.StdErrorLogger(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// --- Graceful Shutdown ---
	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("Starting web server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Could not start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	scheduler.Stop()
	if err := app.Encerramentos().Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Closure workers did not stop in time")
	}

	log.Info().Msg("Server exiting.")
}
