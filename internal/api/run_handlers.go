package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/exatta/encerramento/internal/cnpj"
	"github.com/exatta/encerramento/internal/encerramento"
	"github.com/exatta/encerramento/internal/log"
	"github.com/exatta/encerramento/internal/store"
)

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := s.store.ListRuns(cnpj.Normalize(r.URL.Query().Get("cnpj")), limit)
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}
	RespondWithJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(chi.URLParam(r, "runID"))
	if errors.Is(err, store.ErrNotFound) {
		RespondWithError(w, http.StatusNotFound, "Execução não encontrada")
		return
	}
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}
	RespondWithJSON(w, http.StatusOK, run)
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	err := s.app.Encerramentos().Cancel(chi.URLParam(r, "runID"))
	switch {
	case errors.Is(err, encerramento.ErrRunNotFound):
		RespondWithError(w, http.StatusNotFound, "Execução não encontrada")
	case errors.Is(err, encerramento.ErrRunFinished):
		RespondWithError(w, http.StatusConflict, "Execução já finalizada")
	case err != nil:
		RespondWithError(w, http.StatusInternalServerError, err.Error())
	default:
		RespondWithJSON(w, http.StatusAccepted, map[string]string{"message": "Cancelamento solicitado"})
	}
}

func (s *Server) handleDownloadArtifacts(w http.ResponseWriter, r *http.Request) {
	run, err := s.app.Encerramentos().Artifacts(chi.URLParam(r, "runID"))
	switch {
	case errors.Is(err, encerramento.ErrRunNotFound):
		RespondWithError(w, http.StatusNotFound, "Execução não encontrada")
		return
	case errors.Is(err, encerramento.ErrNoArtifacts):
		RespondWithError(w, http.StatusNotFound, "Execução sem arquivos")
		return
	case err != nil:
		RespondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", encerramento.ArtifactName(run)))
	if err := encerramento.WriteArtifacts(r.Context(), run, w); err != nil {
		// Headers are already out; all we can do is log.
		log.Error().Err(err).Str("run_id", run.ID).Msg("Failed to stream run artifacts")
	}
}
