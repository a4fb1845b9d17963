package api

import (
	"net/http"
	"time"

	"github.com/kjannette/coinflow/internal/models"
)

type healthResponse struct {
	Status    string         `json:"status"`
	Timestamp string         `json:"timestamp"`
	Services  healthServices `json:"services"`
	LastRun   *models.Run    `json:"lastRun,omitempty"`
}

type healthServices struct {
	Database  string `json:"database"`
	Scheduler string `json:"scheduler"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbStatus := "connected"
	if st, err := s.stores.Acquire(r.Context()); err != nil {
		dbStatus = "disconnected"
	} else {
		if err := st.Ping(r.Context()); err != nil {
			dbStatus = "disconnected"
		}
		st.Close()
	}

	resp := healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Services:  healthServices{Database: dbStatus, Scheduler: "disabled"},
	}
	if s.trigger != nil {
		switch {
		case s.trigger.InFlight():
			resp.Services.Scheduler = "running_cycle"
		case s.trigger.Running():
			resp.Services.Scheduler = "idle"
		default:
			resp.Services.Scheduler = "stopped"
		}
		if last := s.trigger.LastReport(); last != nil {
			run := last.Run()
			resp.LastRun = &run
		}
	}
	if dbStatus != "connected" {
		resp.Status = "degraded"
	}
	writeJSON(w, http.StatusOK, resp)
}
