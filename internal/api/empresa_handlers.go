package api

import (
	"io"
	"net/http"
	"strings"

	"github.com/exatta/encerramento/internal/carteira"
	"github.com/exatta/encerramento/internal/log"
	"github.com/exatta/encerramento/internal/models"
)

// maxImportSize bounds the uploaded portfolio page.
const maxImportSize = 10 << 20

func (s *Server) handleListEmpresas(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.EmpresaFilter{
		Nome:   q.Get("empresa"),
		Omisso: q.Get("omisso"),
		Debito: q.Get("debito"),
	}

	empresas, err := s.store.ListEmpresas(filter)
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}
	nomes, err := s.store.ListNomes()
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}

	RespondWithJSON(w, http.StatusOK, map[string]any{
		"empresas":       empresas,
		"lista_empresas": nomes,
	})
}

// handleImportEmpresas loads the saved "Carteira de Clientes" page, either
// as the raw request body or as the "arquivo" field of a multipart form.
func (s *Server) handleImportEmpresas(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImportSize)

	var src io.Reader = r.Body
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, _, err := r.FormFile("arquivo")
		if err != nil {
			RespondWithError(w, http.StatusBadRequest, "Arquivo da carteira ausente")
			return
		}
		defer file.Close()
		src = file
	}

	result, err := carteira.Parse(src)
	if err != nil {
		log.Warn().Err(err).Msg("Rejected portfolio import")
		RespondWithError(w, http.StatusBadRequest, "Nenhuma empresa encontrada na carteira")
		return
	}

	n, err := s.store.UpsertEmpresas(result.Empresas)
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}
	log.Info().Int("imported", n).Int("skipped", result.Skipped).Msg("Imported client portfolio")

	RespondWithJSON(w, http.StatusOK, map[string]int{
		"importadas": n,
		"ignoradas":  result.Skipped,
	})
}
