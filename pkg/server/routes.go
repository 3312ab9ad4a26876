package server

import (
	"net/http"
	"time"

	"github.com/wirehub/wirehub/pkg/version"
)

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.HandleWS)
	mux.HandleFunc("POST /poll", s.HandlePoll)
	mux.HandleFunc("GET /health", s.HandleHealth)
	mux.HandleFunc("GET /stats", s.HandleStats)
}

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Version:   version.APIVersion(),
	}

	s.writeJSON(w, http.StatusOK, health)
}

func (s *Server) HandleStats(w http.ResponseWriter, r *http.Request) {
	sessions := s.hub.Registry().All()
	connections := 0
	for _, session := range sessions {
		connections += len(session.Conns())
	}

	s.writeJSON(w, http.StatusOK, StatsResponse{
		Sessions:    len(sessions),
		Connections: connections,
	})
}
