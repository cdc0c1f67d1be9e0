package api

import "net/http"

func (s *Server) handleListBots(w http.ResponseWriter, r *http.Request) {
	RespondWithJSON(w, http.StatusOK, s.app.Bots().List())
}

func (s *Server) handleReloadBots(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Bots().Load(); err != nil {
		RespondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}
	RespondWithJSON(w, http.StatusOK, s.app.Bots().List())
}
