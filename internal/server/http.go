package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/adamj-ops/square-brain-sub000/internal/agent"
	"github.com/adamj-ops/square-brain-sub000/internal/tools"
	"github.com/adamj-ops/square-brain-sub000/pkg/models"
)

// Config configures the HTTP server.
type Config struct {
	Addr string `yaml:"addr"`

	// ReadTimeout and WriteTimeout bound request handling. WriteTimeout
	// must cover the longest expected stream; zero disables it.
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() Config {
	return Config{
		Addr:        ":8080",
		ReadTimeout: 30 * time.Second,
	}
}

// Server routes chat streaming and tool invocation requests.
type Server struct {
	config       Config
	orchestrator *agent.Orchestrator
	executor     *tools.Executor
	logger       *slog.Logger
	httpServer   *http.Server
}

// New creates a server. The prometheus gatherer backs /metrics; pass
// prometheus.DefaultGatherer in production.
func New(config Config, orchestrator *agent.Orchestrator, executor *tools.Executor, logger *slog.Logger, gatherer prometheus.Gatherer) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		config:       config,
		orchestrator: orchestrator,
		executor:     executor,
		logger:       logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat/stream", s.handleChatStream)
	mux.HandleFunc("POST /v1/tools/execute", s.handleToolExecute)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	s.httpServer = &http.Server{
		Addr:         config.Addr,
		Handler:      mux,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
	return s
}

// ListenAndServe starts serving until Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http server listening", "addr", s.config.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// chatRequest is the inbound payload for the streaming chat endpoint.
type chatRequest struct {
	Messages []models.Message   `json:"messages"`
	Context  models.ToolContext `json:"context"`
}

// handleChatStream runs the agent loop and relays its events as
// server-sent event frames. The client's disconnect cancels the request
// context, which the loop observes at every suspension point.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Messages) == 0 {
		writeJSONError(w, http.StatusBadRequest, "messages are required")
		return
	}
	if req.Context.OrgID == "" {
		writeJSONError(w, http.StatusBadRequest, "context.org_id is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, err := s.orchestrator.Run(r.Context(), req.Messages, req.Context)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	encoder := NewEncoder()
	for ev := range events {
		frame, ok := encoder.Encode(ev)
		if !ok {
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", frame); err != nil {
			// Client went away; the loop sees the context cancel and
			// closes the channel without a final.
			s.logger.Debug("stream write failed", "error", err)
			return
		}
		flusher.Flush()
	}
}

// toolExecuteRequest is the synchronous tool invocation payload.
type toolExecuteRequest struct {
	ToolName string             `json:"toolName"`
	Args     json.RawMessage    `json:"args"`
	Context  models.ToolContext `json:"context"`
}

// handleToolExecute invokes one tool directly, outside the agent loop.
func (s *Server) handleToolExecute(w http.ResponseWriter, r *http.Request) {
	var req toolExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ToolName == "" {
		writeJSONError(w, http.StatusBadRequest, "toolName is required")
		return
	}
	if req.Context.OrgID == "" {
		writeJSONError(w, http.StatusBadRequest, "context.org_id is required")
		return
	}

	result := s.executor.Execute(r.Context(), req.ToolName, req.Args, req.Context)

	w.Header().Set("Content-Type", "application/json")
	if result.OK() {
		json.NewEncoder(w).Encode(map[string]any{
			"ok":             true,
			"tool":           result.Tool,
			"data":           result.Response.Data,
			"explainability": result.Response.Explainability,
		})
		return
	}

	json.NewEncoder(w).Encode(map[string]any{
		"ok":   false,
		"tool": result.Tool,
		"error": map[string]any{
			"code":    string(result.Err.Code),
			"message": result.Err.Message,
			"details": result.Err.Details,
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
