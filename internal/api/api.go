// Package api serves the real-time WebSocket channel and a small REST surface
// over the scanner, generator, runner and flow orchestrator.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/iagogaldino/auto-teste-angular-sub000/internal/events"
	"github.com/iagogaldino/auto-teste-angular-sub000/internal/flow"
	"github.com/iagogaldino/auto-teste-angular-sub000/internal/generator"
	"github.com/iagogaldino/auto-teste-angular-sub000/internal/models"
	"github.com/iagogaldino/auto-teste-angular-sub000/internal/project"
	"github.com/iagogaldino/auto-teste-angular-sub000/internal/runner"
	"github.com/iagogaldino/auto-teste-angular-sub000/internal/scanner"
	"github.com/iagogaldino/auto-teste-angular-sub000/internal/store"
)

// Deps are the services the server exposes. Store and Flow may be nil.
type Deps struct {
	Scanner     *scanner.Scanner
	Generator   *generator.Generator
	Runner      *runner.Runner
	Flow        *flow.Orchestrator
	Store       store.Store
	Layout      project.Layout
	Writer      project.Writer
	Bus         *events.Bus
	Concurrency int
	Logger      *slog.Logger
}

// Server provides the REST and WebSocket handlers.
type Server struct {
	Deps
	upgrader websocket.Upgrader
}

// NewServer creates a new API server.
func NewServer(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Writer == nil {
		d.Writer = project.FileWriter{}
	}
	if d.Concurrency <= 0 {
		d.Concurrency = generator.DefaultConcurrency
	}
	return &Server{
		Deps: d,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /ws", s.handleWebSocket)

	mux.HandleFunc("GET /api/v1/health", s.health)
	mux.HandleFunc("POST /api/v1/scan", s.scan)

	mux.HandleFunc("GET /api/v1/runs", s.listRuns)
	mux.HandleFunc("GET /api/v1/runs/active", s.activeRuns)
	mux.HandleFunc("DELETE /api/v1/runs/{key...}", s.cancelRun)

	mux.HandleFunc("GET /api/v1/flows", s.listFlows)
	mux.HandleFunc("POST /api/v1/flows", s.startFlow)
	mux.HandleFunc("POST /api/v1/flows/{id}/pause", s.pauseFlow)
	mux.HandleFunc("POST /api/v1/flows/{id}/resume", s.resumeFlow)
	mux.HandleFunc("DELETE /api/v1/flows/{id}", s.cancelFlow)

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// --- Health ---

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	if s.Runner != nil {
		resp["activeRuns"] = len(s.Runner.ActiveKeys())
	}
	if s.Flow != nil {
		resp["flows"] = len(s.Flow.Sessions())
	}
	if s.Bus != nil {
		resp["subscribers"] = s.Bus.SubscriberCount()
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Scan ---

// scanRequest is shared by POST /scan and the scan-directory event.
type scanRequest struct {
	DirectoryPath string          `json:"directoryPath"`
	Options       json.RawMessage `json:"options"`
}

func (req scanRequest) options() (scanner.Options, error) {
	opts := scanner.DefaultOptions()
	if len(req.Options) > 0 && string(req.Options) != "null" {
		if err := json.Unmarshal(req.Options, &opts); err != nil {
			return opts, err
		}
	}
	return opts, nil
}

func (s *Server) scan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.DirectoryPath == "" {
		writeError(w, http.StatusBadRequest, "directoryPath is required")
		return
	}
	opts, err := req.options()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid options: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.Scanner.Scan(r.Context(), req.DirectoryPath, opts))
}

// --- Runs ---

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if s.Store == nil {
		writeJSON(w, http.StatusOK, s.Runner.Records())
		return
	}
	recs, err := s.Store.ListExecutions(r.Context(), store.ExecutionFilter{
		Key:    r.URL.Query().Get("key"),
		Status: models.ExecutionStatus(r.URL.Query().Get("status")),
		Limit:  limit,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if recs == nil {
		recs = []*models.ExecutionRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) activeRuns(w http.ResponseWriter, r *http.Request) {
	keys := s.Runner.ActiveKeys()
	if keys == nil {
		keys = []string{}
	}
	writeJSON(w, http.StatusOK, keys)
}

// runKey maps a route remainder back to a registry key. Path keys lose their
// leading slash in the route.
func runKey(raw string) string {
	if raw == runner.AllKey || filepath.IsAbs(raw) {
		return raw
	}
	return "/" + strings.TrimPrefix(raw, "/")
}

func (s *Server) cancelRun(w http.ResponseWriter, r *http.Request) {
	key := runKey(r.PathValue("key"))
	if !s.Runner.Cancel(key) {
		writeError(w, http.StatusNotFound, "no active run for "+key)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled", "key": key})
}

// --- Flows ---

type flowRequest struct {
	Files     []string `json:"files"`
	SessionID string   `json:"sessionId"`
}

var errNoFlow = errors.New("flow orchestration is not configured")

func (s *Server) listFlows(w http.ResponseWriter, r *http.Request) {
	out := []flow.Summary{}
	if s.Flow != nil {
		for _, sess := range s.Flow.Sessions() {
			out = append(out, sess.Summary())
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) startFlow(w http.ResponseWriter, r *http.Request) {
	if s.Flow == nil {
		writeError(w, http.StatusServiceUnavailable, errNoFlow.Error())
		return
	}
	var req flowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	sess, err := s.Flow.Start(r.Context(), req.Files)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, sess.Summary())
}

// flowAction looks up the session named in the route and applies fn.
func (s *Server) flowAction(w http.ResponseWriter, r *http.Request, fn func(*flow.Session) bool) {
	if s.Flow == nil {
		writeError(w, http.StatusServiceUnavailable, errNoFlow.Error())
		return
	}
	sess, ok := s.Flow.Session(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "flow not found")
		return
	}
	if !fn(sess) {
		writeError(w, http.StatusConflict, "flow is "+string(sess.State()))
		return
	}
	writeJSON(w, http.StatusOK, sess.Summary())
}

func (s *Server) pauseFlow(w http.ResponseWriter, r *http.Request) {
	s.flowAction(w, r, (*flow.Session).Pause)
}

func (s *Server) resumeFlow(w http.ResponseWriter, r *http.Request) {
	s.flowAction(w, r, (*flow.Session).Resume)
}

func (s *Server) cancelFlow(w http.ResponseWriter, r *http.Request) {
	s.flowAction(w, r, (*flow.Session).Cancel)
}
