package api

import (
	"net/http"

	"github.com/kjannette/coinflow/internal/store"
)

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	s.withStore(w, r, func(st store.Store) {
		rows, err := st.Latest(r.Context())
		if err != nil {
			s.log.WithError(err).Error("fetch latest observations")
			writeError(w, http.StatusInternalServerError, "failed to fetch observations")
			return
		}
		writeJSON(w, http.StatusOK, rows)
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	asset := r.PathValue("asset")
	if !validateAsset(asset) {
		writeError(w, http.StatusBadRequest, "invalid asset id")
		return
	}
	limit := parseLimit(r, 100)

	s.withStore(w, r, func(st store.Store) {
		rows, err := st.History(r.Context(), asset, limit)
		if err != nil {
			s.log.WithError(err).WithField("asset", asset).Error("fetch observation history")
			writeError(w, http.StatusInternalServerError, "failed to fetch observations")
			return
		}
		if len(rows) == 0 {
			writeError(w, http.StatusNotFound, "no observations for asset")
			return
		}
		writeJSON(w, http.StatusOK, rows)
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.withStore(w, r, func(st store.Store) {
		stats, err := st.Stats(r.Context())
		if err != nil {
			s.log.WithError(err).Error("fetch store stats")
			writeError(w, http.StatusInternalServerError, "failed to fetch stats")
			return
		}
		writeJSON(w, http.StatusOK, stats)
	})
}
