// Package api exposes the closure service over HTTP: the JSON routes used by
// the page and by bots, the websocket endpoint and the embedded frontend.
package api

import (
	"database/sql"
	"io/fs"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/exatta/encerramento/internal/assets"
	"github.com/exatta/encerramento/internal/core"
	"github.com/exatta/encerramento/internal/log"
	"github.com/exatta/encerramento/internal/store"
)

// Server holds the dependencies for our API.
type Server struct {
	app   *core.App
	db    *sql.DB
	store *store.Store
}

// NewServer creates a new Server instance.
func NewServer(app *core.App) *Server {
	return &Server{
		app:   app,
		db:    app.DB(),
		store: app.Store(),
	}
}

// Router sets up and returns the main router for the application.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(log.RequestLogger)
	r.Use(middleware.Recoverer)

	// Routes used by the page and by bots.
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Post("/encerrar", s.handleEncerrar)
		r.Post("/encerramento_concluido", s.handleEncerramentoConcluido)
		r.Get("/status/{cnpj}", s.handleGetStatus)

		r.Route("/api", func(r chi.Router) {
			r.Get("/version", s.handleGetVersion)

			r.Get("/empresas", s.handleListEmpresas)
			r.Post("/empresas/import", s.handleImportEmpresas)

			r.Get("/bots", s.handleListBots)

			r.Get("/runs", s.handleListRuns)
			r.Get("/runs/{runID}", s.handleGetRun)
			r.Post("/runs/{runID}/cancel", s.handleCancelRun)
			r.Get("/runs/{runID}/artifacts", s.handleDownloadArtifacts)

			r.Route("/admin", func(r chi.Router) {
				r.Get("/jobs/status", s.handleGetAdminJobsStatus)
				r.Post("/jobs/run", s.handleRunAdminJob)
				r.Post("/bots/reload", s.handleReloadBots)
			})
		})
	})

	r.Get("/ws", s.app.WsHub().ServeWs)
	r.Get("/api/health", s.handleHealth)
	mountFrontend(r)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.PingContext(r.Context()); err != nil {
		RespondWithError(w, http.StatusServiceUnavailable, "Database connection failed")
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// mountFrontend serves the embedded page at / and its assets under /static.
func mountFrontend(r chi.Router) {
	web, err := fs.Sub(assets.WebFS, "web")
	if err != nil {
		log.Fatal().Err(err).Msg("Embedded web assets are missing")
	}
	r.Handle("/static/*", http.FileServerFS(web))
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFileFS(w, r, web, "index.html")
	})
}
