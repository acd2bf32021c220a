package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fentz26/conductor/internal/models"
	"github.com/fentz26/conductor/internal/supervisor"
)

// Version is reported by the health endpoint.
var Version = "dev"

// Server provides the HTTP API of the coordinator.
type Server struct {
	service *Service
	addr    string
	metrics http.Handler

	mu     sync.Mutex
	server *http.Server
}

// NewServer creates a new HTTP server. metrics may be nil.
func NewServer(service *Service, addr string, metrics http.Handler) *Server {
	return &Server{
		service: service,
		addr:    addr,
		metrics: metrics,
	}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Plan endpoints
	mux.HandleFunc("/plans", s.handlePlans)
	mux.HandleFunc("/plans/preview", s.handlePreview)

	// Run endpoints
	mux.HandleFunc("/runs", s.handleRuns)
	mux.HandleFunc("/runs/", s.handleRunByID)

	// Fleet endpoints
	mux.HandleFunc("/processes", s.handleProcesses)

	// Health check
	mux.HandleFunc("/health", s.handleHealth)

	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
	return mux
}

// Start starts the HTTP server on the configured address.
func (s *Server) Start() error {
	return s.listen(s.addr).ListenAndServe()
}

// listen prepares the http.Server for addr and makes it the shutdown target.
func (s *Server) listen(addr string) *http.Server {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Minute,
	}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	log.Printf("Starting coordinator API on %s", addr)
	return srv
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Run serves the API until ctx is cancelled. It is the body of the
// in-process coordinator: the launch config port, when set, overrides the
// configured address.
func (s *Server) Run(ctx context.Context, lc models.LaunchConfig) error {
	addr := s.addr
	if lc.Port > 0 {
		host, _, err := net.SplitHostPort(s.addr)
		if err != nil || host == "" {
			host = "127.0.0.1"
		}
		addr = net.JoinHostPort(host, strconv.Itoa(lc.Port))
	}

	srv := s.listen(addr)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Coordinator API shutdown error: %v", err)
	}
	<-errCh
	return nil
}

// --- Health ---

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	OK      bool   `json:"ok"`
	DB      string `json:"db"`
	Version string `json:"version"`
	Time    string `json:"time"`
	Live    int    `json:"live"`
	Failed  int    `json:"failed"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	health := HealthResponse{
		OK:      true,
		DB:      "ok",
		Version: Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	}
	for _, p := range s.service.Processes() {
		if p.State == models.ProcessFailed {
			health.Failed++
		} else {
			health.Live++
		}
	}

	status := http.StatusOK
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.service.Ping(ctx); err != nil {
		health.OK = false
		health.DB = fmt.Sprintf("error: %v", err)
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, health)
}

// --- Plan Handlers ---

type planRequest struct {
	Request string `json:"request"`
}

// handlePlans handles POST /plans
func (s *Server) handlePlans(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req planRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	run, err := s.service.Submit(r.Context(), req.Request)
	switch {
	case errors.Is(err, ErrEmptyRequest):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrPlanRejected):
		writeJSON(w, http.StatusUnprocessableEntity, run)
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusCreated, run)
	}
}

// handlePreview handles GET /plans/preview?q=
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	preview, err := s.service.Preview(r.URL.Query().Get("q"))
	switch {
	case errors.Is(err, ErrEmptyRequest):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrPlanRejected):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, preview)
	}
}

// --- Run Handlers ---

// handleRuns handles GET /runs
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	runs, err := s.service.ListRuns(limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []models.PlanRun{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// handleRunByID handles GET /runs/{id}
func (s *Server) handleRunByID(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/runs/"), "/")
	if id == "" {
		http.Error(w, "run id required", http.StatusBadRequest)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	run, err := s.service.GetRun(id)
	if errors.Is(err, ErrRunNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// --- Fleet Handlers ---

// handleProcesses handles GET /processes
func (s *Server) handleProcesses(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	procs := s.service.Processes()
	if procs == nil {
		procs = []supervisor.ProcessStatus{}
	}
	writeJSON(w, http.StatusOK, procs)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
