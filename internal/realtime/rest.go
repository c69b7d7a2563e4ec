package realtime

import (
	"encoding/json"
	"errors"
	"net/http"

	"gdb-bridge/internal/session"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	info, ok := s.sessions.Active()
	if !ok {
		http.Error(w, `{"error":"no active session"}`, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(info)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Terminate(); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, session.ErrNoSession) {
			status = http.StatusNotFound
		}
		http.Error(w, `{"error":"`+err.Error()+`"}`, status)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"terminated"}`))
}
