package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/exatta/encerramento/internal/cnpj"
	"github.com/exatta/encerramento/internal/encerramento"
	"github.com/exatta/encerramento/internal/log"
	"github.com/exatta/encerramento/internal/models"
	"github.com/exatta/encerramento/internal/store"
)

// startErrors maps service errors to the status and message shown in the
// page's alert.
var startErrors = []struct {
	err     error
	status  int
	message string
}{
	{encerramento.ErrMissingParams, http.StatusBadRequest, "Parâmetros ausentes"},
	{encerramento.ErrInvalidCNPJ, http.StatusBadRequest, "CNPJ inválido"},
	{encerramento.ErrInvalidPeriod, http.StatusBadRequest, "Período inválido. Use MMAAAA"},
	{encerramento.ErrInvertedRange, http.StatusBadRequest, "Período inicial posterior ao final"},
	{encerramento.ErrInvalidBotPath, http.StatusBadRequest, "Caminho do bot inválido"},
	{encerramento.ErrBotNotFound, http.StatusBadRequest, "Bot selecionado não encontrado"},
	{encerramento.ErrEmpresaNotFound, http.StatusNotFound, "Empresa não encontrada"},
	{encerramento.ErrAlreadyRunning, http.StatusConflict, "Encerramento já em andamento"},
	{encerramento.ErrQueueFull, http.StatusServiceUnavailable, "Fila de encerramentos cheia, tente novamente mais tarde"},
	{encerramento.ErrShuttingDown, http.StatusServiceUnavailable, "Servidor em desligamento"},
}

func respondWithStartError(w http.ResponseWriter, err error) {
	for _, e := range startErrors {
		if errors.Is(err, e.err) {
			RespondWithError(w, e.status, e.message)
			return
		}
	}
	log.Error().Err(err).Msg("Failed to start closure")
	RespondWithError(w, http.StatusInternalServerError, err.Error())
}

func (s *Server) handleEncerrar(w http.ResponseWriter, r *http.Request) {
	var req encerramento.Request
	if err := decodeJSON(w, r, &req); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Parâmetros ausentes")
		return
	}

	run, err := s.app.Encerramentos().Start(r.Context(), req)
	if err != nil {
		respondWithStartError(w, err)
		return
	}

	RespondWithJSON(w, http.StatusAccepted, map[string]string{
		"message":  "Processo iniciado com sucesso",
		"cnpj":     run.CNPJ,
		"status":   run.Status,
		"bot_path": run.Bot,
		"run_id":   run.ID,
	})
}

// parseProgresso accepts the progress as a JSON number or a numeric string.
func parseProgresso(raw json.RawMessage) (*int, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err != nil {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return nil, err
		}
		if n, err = strconv.ParseFloat(strings.TrimSpace(str), 64); err != nil {
			return nil, err
		}
	}
	p := store.ClampProgressFloat(n)
	return &p, nil
}

func (s *Server) handleEncerramentoConcluido(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		CNPJ      string          `json:"cnpj"`
		Status    string          `json:"status"`
		Progresso json.RawMessage `json:"progresso"`
	}
	if err := decodeJSON(w, r, &payload); err != nil || strings.TrimSpace(payload.CNPJ) == "" {
		RespondWithError(w, http.StatusBadRequest, "Dados inválidos")
		return
	}
	progresso, err := parseProgresso(payload.Progresso)
	if err != nil {
		RespondWithError(w, http.StatusBadRequest, "Dados inválidos")
		return
	}

	err = s.app.Encerramentos().Complete(payload.CNPJ, payload.Status, progresso)
	switch {
	case errors.Is(err, encerramento.ErrMissingParams), errors.Is(err, encerramento.ErrInvalidStatus):
		RespondWithError(w, http.StatusBadRequest, "Dados inválidos")
		return
	case errors.Is(err, encerramento.ErrEmpresaNotFound):
		RespondWithError(w, http.StatusNotFound, "CNPJ não encontrado")
		return
	case err != nil:
		log.Error().Err(err).Str("cnpj", payload.CNPJ).Msg("Failed to record closure")
		RespondWithError(w, http.StatusInternalServerError, "Erro ao registrar encerramento")
		return
	}

	RespondWithJSON(w, http.StatusOK, map[string]string{"message": "Encerramento registrado com sucesso"})
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	doc := cnpj.Normalize(chi.URLParam(r, "cnpj"))
	empresa, err := s.store.GetEmpresa(doc)
	if errors.Is(err, store.ErrNotFound) {
		RespondWithError(w, http.StatusNotFound, "CNPJ não encontrado")
		return
	}
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}

	RespondWithJSON(w, http.StatusOK, struct {
		CNPJ              string    `json:"cnpj"`
		Status            string    `json:"status"`
		Progresso         int       `json:"progresso"`
		Etapa             string    `json:"etapa,omitempty"`
		UltimaAtualizacao time.Time `json:"ultima_atualizacao"`
		EmAndamento       bool      `json:"em_andamento"`
	}{
		CNPJ:              empresa.CNPJ,
		Status:            empresa.Status,
		Progresso:         empresa.Progresso,
		Etapa:             empresa.Etapa,
		UltimaAtualizacao: empresa.UltimaAtualizacao,
		EmAndamento:       empresa.Status == models.StatusEmProcesso,
	})
}
