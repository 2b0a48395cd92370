package server

import (
	"net/http"

	"github.com/phuslu/log"

	"github.com/esnunes/tcgen/internal/identity"
)

type healthResponse struct {
	Status        string `json:"status"`
	PollerRunning bool   `json:"poller_running"`
	LastSeenJob   string `json:"last_seen_job,omitempty"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:        "ok",
		PollerRunning: s.poller.Running(),
		LastSeenJob:   s.poller.LastSeen(),
	}
	status := http.StatusOK
	if _, err := s.queries.ListKeys(); err != nil {
		resp.Status = "down"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleAPIProjects(w http.ResponseWriter, r *http.Request) {
	keys := s.registry.AllProjectKeys()
	if keys == nil {
		keys = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"projectKeys": keys})
}

func (s *Server) handleAPIConnections(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Configs())
}

func (s *Server) handleAPIIdentity(w http.ResponseWriter, r *http.Request) {
	userID, err := identity.GetOrCreate(s.queries)
	if err != nil {
		log.Error().Err(err).Msg("Loading user identity")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "identity unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"userId": userID})
}
