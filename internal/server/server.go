// Package server exposes persisted verdicts, audit logs and queue state over
// a read-only HTTP API, next to /metrics and /healthz.
package server

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agentcheck/agentcheck/internal/health"
	"github.com/agentcheck/agentcheck/internal/store"
)

const defaultListLimit = 50

// NewRouter wires the inspection routes. db may be nil, in which case only
// /metrics and /healthz are served.
func NewRouter(db *store.DB, gatherer prometheus.Gatherer, checks *health.Registry) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")
	r.Handle("/healthz", health.Handler(checks)).Methods("GET")

	if db != nil {
		api := r.PathPrefix("/api/v1").Subrouter()
		api.HandleFunc("/verdicts", listVerdicts(db)).Methods("GET")
		api.HandleFunc("/verdicts/{session_id}", getVerdict(db)).Methods("GET")
		api.HandleFunc("/sessions/{session_id}/audit", getAuditLog(db)).Methods("GET")
		api.HandleFunc("/tasks", listTasks(db)).Methods("GET")
		api.HandleFunc("/tasks/{task_id}", getTask(db)).Methods("GET")
		api.HandleFunc("/logs", listLogs(db.Logs)).Methods("GET")
	}
	r.Use(loggingMiddleware)
	return r
}

// queryLimit reads ?limit=, falling back to def when absent.
func queryLimit(r *http.Request, def int) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, errors.New("limit must be a positive integer")
	}
	return n, nil
}

func listVerdicts(db *store.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := queryLimit(r, defaultListLimit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		verdicts, err := db.ListVerdicts(r.Context(), r.URL.Query().Get("status"), limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if verdicts == nil {
			verdicts = []store.VerdictRecord{}
		}
		writeJSON(w, verdicts)
	}
}

func getVerdict(db *store.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := db.GetVerdict(r.Context(), mux.Vars(r)["session_id"])
		if errors.Is(err, sql.ErrNoRows) {
			http.Error(w, "verdict not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, v)
	}
}

func getAuditLog(db *store.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, err := db.LoadAuditLog(r.Context(), mux.Vars(r)["session_id"])
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if len(records) == 0 {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		writeJSON(w, records)
	}
}

func listTasks(db *store.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tasks, err := db.ListTasks(r.Context(), store.TaskStatus(r.URL.Query().Get("status")))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if tasks == nil {
			tasks = []store.Task{}
		}
		writeJSON(w, tasks)
	}
}

func getTask(db *store.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := db.GetTask(r.Context(), mux.Vars(r)["task_id"])
		if errors.Is(err, sql.ErrNoRows) {
			http.Error(w, "task not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, t)
	}
}

func listLogs(logs *store.LogStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := queryLimit(r, store.DefaultLogLimit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		q := r.URL.Query()
		entries, err := logs.Recent(r.Context(), store.LogFilter{
			Level:     q.Get("level"),
			Component: q.Get("component"),
			Limit:     limit,
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if entries == nil {
			entries = []store.LogEntry{}
		}
		writeJSON(w, entries)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[SERVER] Failed to write response: %v", err)
	}
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("[SERVER] %s %s (%dms)", r.Method, r.URL.Path, time.Since(start).Milliseconds())
	})
}
