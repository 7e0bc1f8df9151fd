// Package api exposes the research agent over HTTP: one conversational
// endpoint plus plan readback and session management.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/planscout/research-agent/internal/research"
	"github.com/planscout/research-agent/internal/store"
)

// Agent is the conversational surface the server fronts.
type Agent interface {
	HandleMessage(ctx context.Context, sessionID, message string) (string, []research.Event, error)
	Clear(ctx context.Context, sessionID string) error
}

// PlanReader reads the accumulated plan document for a session.
type PlanReader interface {
	ReadPlan(ctx context.Context, sessionID string) (*store.Plan, error)
}

type Server struct {
	agent     Agent
	plans     PlanReader
	log       *slog.Logger
	startedAt time.Time
}

func NewServer(agent Agent, plans PlanReader, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		agent:     agent,
		plans:     plans,
		log:       log,
		startedAt: time.Now(),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Post("/api/research/message", s.handleMessage)
	r.Get("/api/plan/{session_id}", s.getPlan)
	r.Post("/api/sessions/{session_id}/clear", s.clearSession)
	r.Get("/health", s.health)

	return r
}

type messageRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type messageResponse struct {
	SessionID string           `json:"session_id"`
	Events    []research.Event `json:"events"`
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	sessionID, events, err := s.agent.HandleMessage(r.Context(), req.SessionID, req.Message)
	if err != nil {
		s.log.Error("handle message failed", "session_id", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if events == nil {
		events = []research.Event{}
	}

	writeJSON(w, http.StatusOK, messageResponse{SessionID: sessionID, Events: events})
}

func (s *Server) getPlan(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(chi.URLParam(r, "session_id"))
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "missing session id")
		return
	}

	plan, err := s.plans.ReadPlan(r.Context(), sessionID)
	if err != nil {
		s.log.Error("read plan failed", "session_id", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (s *Server) clearSession(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(chi.URLParam(r, "session_id"))
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "missing session id")
		return
	}

	if err := s.agent.Clear(r.Context(), sessionID); err != nil {
		s.log.Error("clear session failed", "session_id", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared", "session_id": sessionID})
}

type healthResponse struct {
	Status        string    `json:"status"`
	Platform      string    `json:"platform"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	Goroutines    int       `json:"goroutines"`
	CPUPercent    float64   `json:"cpu_percent,omitempty"`
	MemoryBytes   uint64    `json:"memory_bytes,omitempty"`
	LoadAverage   []float64 `json:"load_average,omitempty"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{
		Status:        "ok",
		Platform:      runtime.GOOS,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Goroutines:    runtime.NumGoroutine(),
	}

	if proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid())); err == nil {
		if cpuPercent, err := proc.CPUPercentWithContext(ctx); err == nil {
			resp.CPUPercent = cpuPercent
		}
		if memInfo, err := proc.MemoryInfoWithContext(ctx); err == nil && memInfo != nil {
			resp.MemoryBytes = memInfo.RSS
		}
	}
	if avg, err := load.AvgWithContext(ctx); err == nil && avg != nil {
		resp.LoadAverage = []float64{avg.Load1, avg.Load5, avg.Load15}
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, statusCode int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start runs the HTTP server until ctx is cancelled, then drains in-flight
// requests before returning.
func (s *Server) Start(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.log.Info("http server listening", "addr", addr)
	err := server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
