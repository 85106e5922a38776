package api

import (
	"log/slog"
	"net/http"

	"github.com/BTreeMap/Secretario/internal/models"
)

// healthHandler reports live session count and configured transports.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	transports := make([]string, 0, len(s.services))
	for _, svc := range s.services {
		transports = append(transports, svc.Name())
	}
	status := models.HealthStatus{
		Sessions:   s.sessions.Count(),
		Transports: transports,
		StartedAt:  s.startedAt,
	}
	slog.Debug("Server.healthHandler: reporting", "sessions", status.Sessions, "transports", transports)
	writeJSONResponse(w, http.StatusOK, models.Success(status))
}

// notFoundHandler answers unknown paths with a JSON error.
func (s *Server) notFoundHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.notFoundHandler: unknown path", "method", r.Method, "path", r.URL.Path)
	writeJSONResponse(w, http.StatusNotFound, models.Error("Not found"))
}
