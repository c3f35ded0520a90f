// Package health serves the operator HTTP API: liveness, statistics, domain
// inspection and maintenance actions.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vietddude/egress/internal/routing/reputation"
)

// Status is the overall service status.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
)

// Backend is the routing controller as seen by the server.
type Backend interface {
	PoolSize() int
	ShouldProceed(target string) bool
	DomainHealth(name string) reputation.DomainHealth
	AnalyzePatterns(name string) reputation.PatternAnalysis
	ResetDomain(name string) bool
	PruneFailing(threshold float64) []string
}

// Server provides HTTP endpoints for health monitoring and administration.
type Server struct {
	backend        Backend
	stats          func() any
	pruneThreshold float64
	server         *http.Server
}

// NewServer creates a new health server. stats produces the /stats body.
func NewServer(backend Backend, stats func() any, port int, pruneThreshold float64) *Server {
	mux := http.NewServeMux()
	s := &Server{
		backend:        backend,
		stats:          stats,
		pruneThreshold: pruneThreshold,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
	}

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /domains/{domain}", s.handleDomain)
	mux.HandleFunc("POST /domains/{domain}/reset", s.handleReset)
	mux.HandleFunc("POST /proxies/prune", s.handlePrune)
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// Handler returns the router. Used by tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	proxies := s.backend.PoolSize()
	status := StatusHealthy
	if proxies == 0 {
		status = StatusDegraded
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"proxies": proxies,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.stats())
}

// DomainReport is the body of GET /domains/{domain}.
type DomainReport struct {
	Health        reputation.DomainHealth    `json:"health"`
	Patterns      reputation.PatternAnalysis `json:"patterns"`
	ShouldProceed bool                       `json:"should_proceed"`
}

func (s *Server) handleDomain(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("domain")
	writeJSON(w, http.StatusOK, DomainReport{
		Health:        s.backend.DomainHealth(name),
		Patterns:      s.backend.AnalyzePatterns(name),
		ShouldProceed: s.backend.ShouldProceed(name),
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("domain")
	found := s.backend.ResetDomain(name)
	writeJSON(w, http.StatusOK, map[string]any{
		"domain": name,
		"reset":  found,
	})
}

func (s *Server) handlePrune(w http.ResponseWriter, r *http.Request) {
	threshold := s.pruneThreshold
	if raw := r.URL.Query().Get("threshold"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 || v > 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "threshold must be a number between 0 and 1",
			})
			return
		}
		threshold = v
	}

	removed := s.backend.PruneFailing(threshold)
	if removed == nil {
		removed = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"threshold": threshold,
		"removed":   removed,
	})
}
