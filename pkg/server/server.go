// Package server exposes the hub over HTTP: a websocket transport for
// realtime clients and a long-poll fallback for everything else.
package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"github.com/wirehub/wirehub/pkg/hub"
	"github.com/wirehub/wirehub/pkg/log"
)

var logger = log.For("server")

type Server struct {
	hub *hub.Hub

	cfgMu       sync.Mutex
	pollMaxWait time.Duration
}

func NewServer(h *hub.Hub, pollMaxWait time.Duration) *Server {
	if pollMaxWait == 0 {
		pollMaxWait = 25 * time.Second
	}
	return &Server{
		hub:         h,
		pollMaxWait: pollMaxWait,
	}
}

// SetPollMaxWait adjusts the long-poll hold time at runtime.
func (s *Server) SetPollMaxWait(d time.Duration) {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	s.pollMaxWait = d
}

func (s *Server) currentPollMaxWait() time.Duration {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	return s.pollMaxWait
}

// Handler returns the complete HTTP handler: routes, CORS, gzip.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return gzhttp.GzipHandler(CorsMiddleware(mux))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("encoding JSON response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, error, message string) {
	response := ErrorResponse{
		Error:   error,
		Message: message,
	}
	s.writeJSON(w, status, response)
}

// writeEvents serializes a reply batch with the contract key order preserved
// inside each event.
func (s *Server) writeEvents(w http.ResponseWriter, events []hub.Event) {
	parts := make([]json.RawMessage, 0, len(events))
	for _, event := range events {
		encoded, err := hub.MarshalOrdered(event)
		if err != nil {
			logger.Errorf("encoding event: %v", err)
			continue
		}
		parts = append(parts, encoded)
	}
	s.writeJSON(w, http.StatusOK, parts)
}

func CorsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
