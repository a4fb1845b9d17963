package api

import (
	"errors"
	"net/http"

	"github.com/kjannette/coinflow/internal/pipeline"
	"github.com/kjannette/coinflow/internal/scheduler"
	"github.com/kjannette/coinflow/internal/store"
)

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 50)
	s.withStore(w, r, func(st store.Store) {
		runs, err := st.Runs(r.Context(), limit)
		if err != nil {
			s.log.WithError(err).Error("fetch runs")
			writeError(w, http.StatusInternalServerError, "failed to fetch runs")
			return
		}
		writeJSON(w, http.StatusOK, runs)
	})
}

func (s *Server) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	if s.trigger == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not available")
		return
	}
	err := s.trigger.Trigger("api")
	if errors.Is(err, scheduler.ErrRunInProgress) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if errors.Is(err, scheduler.ErrStopped) {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if err != nil {
		s.log.WithError(err).Error("trigger run")
		writeError(w, http.StatusInternalServerError, "failed to trigger run")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleStages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, pipeline.Graph)
}
