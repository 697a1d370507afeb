package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"photomatch/internal/artifacts"

	"github.com/gorilla/mux"
)

// Server exposes run history over HTTP for dashboards and scripting. It is
// read-only: runs are started from the CLI, never through this surface.
type Server struct {
	store   *artifacts.Store
	log     *slog.Logger
	started time.Time
	http    *http.Server
}

// NewServer builds the status server on the given listen address.
func NewServer(listen string, store *artifacts.Store, log *slog.Logger) *Server {
	s := &Server{store: store, log: log, started: time.Now()}

	r := mux.NewRouter()
	r.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/runs", s.handleRuns).Methods(http.MethodGet)
	r.HandleFunc("/api/runs/{id}", s.handleRun).Methods(http.MethodGet)

	s.http = &http.Server{
		Addr:         listen,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Handler returns the router, for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// ListenAndServe blocks serving requests until Shutdown.
func (s *Server) ListenAndServe() error {
	s.log.Info("status server listening", "addr", s.http.Addr)
	return s.http.ListenAndServe()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

type runResponse struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	ImageDir    string     `json:"image_dir"`
	OutputDir   string     `json:"output_dir"`
	Strategy    string     `json:"strategy"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type stageResponse struct {
	Stage      string `json:"stage"`
	DurationMS int64  `json:"duration_ms"`
	Items      int    `json:"items"`
	Skipped    int    `json:"skipped"`
}

func toRunResponse(rec artifacts.RunRecord) runResponse {
	return runResponse{
		ID:          rec.ID,
		Status:      rec.Status,
		ImageDir:    rec.ImageDir,
		OutputDir:   rec.OutputDir,
		Strategy:    rec.Strategy,
		Error:       rec.Error,
		CreatedAt:   rec.CreatedAt,
		CompletedAt: rec.CompletedAt,
	}
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.RecentRuns(50)
	if err != nil {
		s.log.Error("list runs failed", "error", err.Error())
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list runs"})
		return
	}
	out := make([]runResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toRunResponse(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	recs, err := s.store.RecentRuns(500)
	if err != nil {
		s.log.Error("load run failed", "run", id, "error", err.Error())
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load run"})
		return
	}
	var found *artifacts.RunRecord
	for i := range recs {
		if recs[i].ID == id {
			found = &recs[i]
			break
		}
	}
	if found == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
		return
	}

	stages, err := s.store.RunStages(id)
	if err != nil {
		s.log.Error("load run stages failed", "run", id, "error", err.Error())
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load run"})
		return
	}
	stageOut := make([]stageResponse, 0, len(stages))
	for _, st := range stages {
		stageOut = append(stageOut, stageResponse{
			Stage:      st.Stage,
			DurationMS: st.DurationMS,
			Items:      st.Items,
			Skipped:    st.Skipped,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"run":    toRunResponse(*found),
		"stages": stageOut,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
