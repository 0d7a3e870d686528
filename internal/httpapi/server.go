// Package httpapi exposes the agent's read surface and the manual trigger.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/convomesh/sentinel/internal/domain"
	"github.com/convomesh/sentinel/internal/scheduler"
	"github.com/convomesh/sentinel/internal/status"
)

type Server struct {
	Logger    *zap.Logger
	Instances []domain.Instance
	Rollup    *status.Aggregator
	Sched     *scheduler.Scheduler
}

func NewServer(l *zap.Logger, instances []domain.Instance, agg *status.Aggregator, sched *scheduler.Scheduler) *Server {
	if l == nil {
		l = zap.NewNop()
	}
	return &Server{Logger: l, Instances: instances, Rollup: agg, Sched: sched}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.AllowAll().Handler)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/api/status", s.handleStatus)
	r.Get("/api/checks", s.handleListChecks)
	r.Post("/api/instances/{instanceID}/checks/{checkID}/run", s.handleRunCheck)

	return r
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	rollups, err := s.Rollup.Rollup(r.Context(), s.Instances)
	if err != nil {
		s.Logger.Warn("status_rollup_error", zap.Error(err))
		http.Error(w, "could not read results", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"instances": rollups})
}

func (s *Server) handleListChecks(w http.ResponseWriter, r *http.Request) {
	type row struct {
		Key string `json:"key"`
		domain.CheckDefinition
	}
	var rows []row
	for _, inst := range s.Instances {
		for _, def := range inst.Checks {
			rows = append(rows, row{Key: def.Key(), CheckDefinition: def})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"checks": rows})
}

func (s *Server) handleRunCheck(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "instanceID") + "/" + chi.URLParam(r, "checkID")

	rec, err := s.Sched.Trigger(r.Context(), key)
	switch {
	case errors.Is(err, domain.ErrAlreadyRunning):
		writeJSON(w, http.StatusConflict, map[string]any{"error": "already running"})
	case err != nil:
		writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
	default:
		s.Logger.Info("manual_trigger",
			zap.String("check", key),
			zap.Bool("ok", rec.OK),
		)
		writeJSON(w, http.StatusOK, map[string]any{"result": rec})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
