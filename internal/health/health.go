// Package health aggregates component checks into one report served at /healthz.
package health

import (
	"encoding/json"
	"log"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Component statuses, worst last.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusError    = "error"
)

// ComponentHealth represents the health status of a single component.
type ComponentHealth struct {
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	LastOK    time.Time `json:"last_ok,omitempty"`
	LastError time.Time `json:"last_error,omitempty"`
}

// Report aggregates health from all components.
type Report struct {
	Timestamp  time.Time                  `json:"timestamp"`
	Status     string                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
}

// Checker is implemented by components that can report their health.
type Checker interface {
	HealthCheck() ComponentHealth
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func() ComponentHealth

func (f CheckerFunc) HealthCheck() ComponentHealth { return f() }

// Registry holds health checkers for all components.
type Registry struct {
	mu       sync.RWMutex
	checkers map[string]Checker
	now      func() time.Time
}

// NewRegistry creates a new health registry.
func NewRegistry() *Registry {
	return &Registry{checkers: make(map[string]Checker), now: time.Now}
}

// Register adds a component health checker, replacing any with the same name.
func (r *Registry) Register(name string, checker Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers[name] = checker
}

// Names returns the registered component names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.checkers))
	for n := range r.checkers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Check runs all health checks. The overall status is the worst component status.
func (r *Registry) Check() Report {
	r.mu.RLock()
	defer r.mu.RUnlock()

	report := Report{
		Timestamp:  r.now(),
		Status:     StatusOK,
		Components: make(map[string]ComponentHealth, len(r.checkers)),
	}
	for name, checker := range r.checkers {
		h := checker.HealthCheck()
		if h.Name == "" {
			h.Name = name
		}
		report.Components[name] = h
		if rank(h.Status) > rank(report.Status) {
			report.Status = h.Status
		}
	}
	return report
}

func rank(status string) int {
	switch status {
	case StatusOK:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

// Handler serves the report as JSON; an error status answers 503.
func Handler(r *Registry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		report := r.Check()
		w.Header().Set("Content-Type", "application/json")
		if report.Status == StatusError {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(report); err != nil {
			log.Printf("[HEALTH] Failed to write report: %v", err)
		}
	})
}
